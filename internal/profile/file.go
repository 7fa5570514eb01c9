package profile

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"

	tlerrors "termlink/internal/errors"
	"termlink/util"
)

// FileStore keeps one pretty-printed JSON document per profile in a
// directory: <dir>/<name>.json.
type FileStore struct {
	dir    string
	logger *util.Logger
}

// NewFileStore opens (creating if needed) a profile directory.
func NewFileStore(dir string, logger *util.Logger) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("profile dir %s: %w", dir, err)
	}
	return &FileStore{dir: dir, logger: logger}, nil
}

func (s *FileStore) fileFor(name string) string {
	return filepath.Join(s.dir, name+".json")
}

// List implements Store.
func (s *FileStore) List() ([]Profile, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("listing profiles: %w", err)
	}
	var out []Profile
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		path := filepath.Join(s.dir, e.Name())
		p, err := readProfile(path)
		if err != nil {
			s.logger.Warn("skipping %s: %v", path, err)
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func readProfile(path string) (Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, err
	}
	var p Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return Profile{}, err
	}
	if err := p.Validate(); err != nil {
		return Profile{}, err
	}
	return p, nil
}

// Get implements Store.
func (s *FileStore) Get(name string) (Profile, error) {
	if err := ValidName(name); err != nil {
		return Profile{}, err
	}
	p, err := readProfile(s.fileFor(name))
	if errors.Is(err, fs.ErrNotExist) {
		return Profile{}, fmt.Errorf("profile %q: %w", name, tlerrors.ErrProfileNotFound)
	}
	if err != nil {
		return Profile{}, fmt.Errorf("profile %q: %w", name, err)
	}
	return p, nil
}

// Save implements Store.  The file is replaced atomically and is only
// readable by its owner since it may hold a password.
func (s *FileStore) Save(p Profile) error {
	if err := p.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(p, jsontext.WithIndent("  "))
	if err != nil {
		return fmt.Errorf("encoding profile %q: %w", p.Name, err)
	}

	tmp, err := os.CreateTemp(s.dir, "."+p.Name+".*.tmp")
	if err != nil {
		return fmt.Errorf("saving profile %q: %w", p.Name, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("saving profile %q: %w", p.Name, err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("saving profile %q: %w", p.Name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("saving profile %q: %w", p.Name, err)
	}
	if err := os.Rename(tmp.Name(), s.fileFor(p.Name)); err != nil {
		return fmt.Errorf("saving profile %q: %w", p.Name, err)
	}
	return nil
}

// Delete implements Store.
func (s *FileStore) Delete(name string) (bool, error) {
	if err := ValidName(name); err != nil {
		return false, err
	}
	err := os.Remove(s.fileFor(name))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("deleting profile %q: %w", name, err)
	}
}

// Close implements Store.
func (s *FileStore) Close() error { return nil }
