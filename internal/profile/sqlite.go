package profile

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-json-experiment/json"
	_ "github.com/mattn/go-sqlite3"

	tlerrors "termlink/internal/errors"
	"termlink/util"
)

const schema = `
CREATE TABLE IF NOT EXISTS profiles (
	name       TEXT PRIMARY KEY,
	kind       TEXT NOT NULL,
	payload    TEXT NOT NULL,
	updated_at TEXT NOT NULL
)`

// SQLiteStore keeps profiles in a single SQLite database, one row per
// profile with the JSON document in payload.
type SQLiteStore struct {
	db     *sql.DB
	logger *util.Logger
}

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(path string, logger *util.Logger) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("profile db dir %s: %w", dir, err)
		}
	}
	db, err := sql.Open("sqlite3", "file:"+path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialising %s: %w", path, err)
	}
	return &SQLiteStore{db: db, logger: logger}, nil
}

// List implements Store.
func (s *SQLiteStore) List() ([]Profile, error) {
	rows, err := s.db.Query(`SELECT name, payload FROM profiles ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("listing profiles: %w", err)
	}
	defer rows.Close()

	var out []Profile
	for rows.Next() {
		var name, payload string
		if err := rows.Scan(&name, &payload); err != nil {
			return nil, fmt.Errorf("listing profiles: %w", err)
		}
		p, err := decodeRow(payload)
		if err != nil {
			s.logger.Warn("skipping profile %q: %v", name, err)
			continue
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing profiles: %w", err)
	}
	return out, nil
}

func decodeRow(payload string) (Profile, error) {
	var p Profile
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return Profile{}, err
	}
	if err := p.Validate(); err != nil {
		return Profile{}, err
	}
	return p, nil
}

// Get implements Store.
func (s *SQLiteStore) Get(name string) (Profile, error) {
	var payload string
	err := s.db.QueryRow(`SELECT payload FROM profiles WHERE name = ?`, name).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return Profile{}, fmt.Errorf("profile %q: %w", name, tlerrors.ErrProfileNotFound)
	}
	if err != nil {
		return Profile{}, fmt.Errorf("profile %q: %w", name, err)
	}
	p, err := decodeRow(payload)
	if err != nil {
		return Profile{}, fmt.Errorf("profile %q: %w", name, err)
	}
	return p, nil
}

// Save implements Store.
func (s *SQLiteStore) Save(p Profile) error {
	if err := p.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encoding profile %q: %w", p.Name, err)
	}
	_, err = s.db.Exec(`
		INSERT INTO profiles (name, kind, payload, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			kind = excluded.kind,
			payload = excluded.payload,
			updated_at = excluded.updated_at`,
		p.Name, p.Kind, string(data), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("saving profile %q: %w", p.Name, err)
	}
	return nil
}

// Delete implements Store.
func (s *SQLiteStore) Delete(name string) (bool, error) {
	res, err := s.db.Exec(`DELETE FROM profiles WHERE name = ?`, name)
	if err != nil {
		return false, fmt.Errorf("deleting profile %q: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("deleting profile %q: %w", name, err)
	}
	return n > 0, nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error { return s.db.Close() }
