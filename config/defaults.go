package config

import (
	"os"
	"path/filepath"
	"time"
)

// ── Default values ───────────────────────────────────────────────────
//
// All tuneable defaults live here so they are easy to audit and reuse
// across CLI flags, config file parsing, and environment variable
// loading.

const (
	// DefaultVerbosity prints errors, warnings and info lines.
	DefaultVerbosity = 1

	// DefaultSSHPort is the standard SSH port.
	DefaultSSHPort = 22

	// DefaultListenAddress is where `termlink serve` binds.
	DefaultListenAddress = "127.0.0.1:50051"

	// DefaultControlQueue is the capacity of each session's command
	// queue.  Writers block once it is full.
	DefaultControlQueue = 32

	// DefaultSubscriberQueue is how many chunks a subscriber may lag
	// behind before the oldest are dropped.
	DefaultSubscriberQueue = 256

	// DefaultReadBufferSize is the size of a single transport read.
	DefaultReadBufferSize = 4 * 1024

	// DefaultPollInterval is the pause after a read that returned no
	// data.
	DefaultPollInterval = 10 * time.Millisecond

	// DefaultKeepAliveInterval is the SSH keepalive interval.
	DefaultKeepAliveInterval = 30 * time.Second

	// DefaultConnTimeout is the TCP/SSH connection timeout.
	DefaultConnTimeout = 30 * time.Second

	// DefaultGracePeriod is how long the service waits for in-flight
	// requests on shutdown.
	DefaultGracePeriod = 5 * time.Second
)

// appDir returns $XDG_CONFIG_HOME/termlink (or the platform
// equivalent), or "" when no home directory can be determined.
func appDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "termlink")
}

// DefaultConfigPath is the config file read when --config is absent.
func DefaultConfigPath() string {
	if d := appDir(); d != "" {
		return filepath.Join(d, "config.toml")
	}
	return ""
}

// DefaultProfileDir is where the file backend keeps one JSON document
// per profile.
func DefaultProfileDir() string {
	if d := appDir(); d != "" {
		return filepath.Join(d, "profiles")
	}
	return ""
}

// DefaultProfileDB is the sqlite backend's database file.
func DefaultProfileDB() string {
	if d := appDir(); d != "" {
		return filepath.Join(d, "profiles.db")
	}
	return ""
}

// DefaultKnownHostsPath is ~/.ssh/known_hosts, or "" without a home.
func DefaultKnownHostsPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".ssh", "known_hosts")
}
