package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// fileConfig is the on-disk shape of a config file.  Pointer fields
// distinguish "absent" from a zero value.
type fileConfig struct {
	Verbose *int `toml:"verbose" yaml:"verbose"`

	ProfileBackend string `toml:"profile_backend" yaml:"profile_backend"`
	ProfileDir     string `toml:"profile_dir" yaml:"profile_dir"`
	ProfileDB      string `toml:"profile_db" yaml:"profile_db"`

	Listen string `toml:"listen" yaml:"listen"`

	ControlQueue    int    `toml:"control_queue" yaml:"control_queue"`
	SubscriberQueue int    `toml:"subscriber_queue" yaml:"subscriber_queue"`
	ReadBuffer      int    `toml:"read_buffer" yaml:"read_buffer"`
	PollInterval    string `toml:"poll_interval" yaml:"poll_interval"`

	Timeout string `toml:"timeout" yaml:"timeout"`
	Retries *int   `toml:"retries" yaml:"retries"`

	SSH struct {
		Key           string `toml:"key" yaml:"key"`
		Agent         *bool  `toml:"agent" yaml:"agent"`
		StrictHostKey *bool  `toml:"strict_hostkey" yaml:"strict_hostkey"`
		KnownHosts    string `toml:"known_hosts" yaml:"known_hosts"`
		KeepAlive     string `toml:"keep_alive" yaml:"keep_alive"`
	} `toml:"ssh" yaml:"ssh"`
}

// LoadFile overlays the config file at path onto cfg.  The format is
// chosen by extension: .yaml/.yml is YAML, anything else TOML.  When
// optional is true a missing file is not an error.
func LoadFile(cfg *Config, path string, optional bool) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if optional && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("reading config %s: %w", path, err)
	}

	var fc fileConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&fc); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("parsing config %s: %w", path, err)
		}
	default:
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&fc); err != nil {
			return fmt.Errorf("parsing config %s: %w", path, err)
		}
	}
	return fc.apply(cfg)
}

func (fc *fileConfig) apply(cfg *Config) error {
	if fc.Verbose != nil {
		cfg.Verbose = *fc.Verbose
	}
	if fc.ProfileBackend != "" {
		cfg.ProfileBackend = strings.ToLower(fc.ProfileBackend)
	}
	if fc.ProfileDir != "" {
		cfg.ProfileDir = expandHome(fc.ProfileDir)
	}
	if fc.ProfileDB != "" {
		cfg.ProfileDB = expandHome(fc.ProfileDB)
	}
	if fc.Listen != "" {
		cfg.Listen = fc.Listen
	}
	if fc.ControlQueue != 0 {
		cfg.ControlQueue = fc.ControlQueue
	}
	if fc.SubscriberQueue != 0 {
		cfg.SubscriberQueue = fc.SubscriberQueue
	}
	if fc.ReadBuffer != 0 {
		cfg.ReadBufferSize = fc.ReadBuffer
	}
	if fc.PollInterval != "" {
		d := parseDuration(fc.PollInterval)
		if d <= 0 {
			return fmt.Errorf("config: poll_interval %q is not a duration", fc.PollInterval)
		}
		cfg.PollInterval = d
	}
	if fc.Timeout != "" {
		d := parseDuration(fc.Timeout)
		if d <= 0 {
			return fmt.Errorf("config: timeout %q is not a duration", fc.Timeout)
		}
		cfg.Timeout = d
	}
	if fc.Retries != nil {
		cfg.Retries = *fc.Retries
	}

	if fc.SSH.Key != "" {
		cfg.SSH.KeyPath = expandHome(fc.SSH.Key)
	}
	if fc.SSH.Agent != nil {
		cfg.SSH.UseAgent = *fc.SSH.Agent
	}
	if fc.SSH.StrictHostKey != nil {
		cfg.SSH.StrictHostKey = *fc.SSH.StrictHostKey
	}
	if fc.SSH.KnownHosts != "" {
		cfg.SSH.KnownHostsPath = expandHome(fc.SSH.KnownHosts)
	}
	if fc.SSH.KeepAlive != "" {
		if fc.SSH.KeepAlive == "0" || fc.SSH.KeepAlive == "off" {
			cfg.SSH.KeepAlive = 0
		} else {
			d := parseDuration(fc.SSH.KeepAlive)
			if d <= 0 {
				return fmt.Errorf("config: ssh.keep_alive %q is not a duration", fc.SSH.KeepAlive)
			}
			cfg.SSH.KeepAlive = d
		}
	}
	return nil
}

// expandHome replaces a leading "~/" with the user's home directory.
func expandHome(p string) string {
	if !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, p[2:])
}
