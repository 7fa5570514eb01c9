// Package config defines the runtime configuration for termlink and
// provides helpers for parsing connection targets.
package config

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	tlerrors "termlink/internal/errors"
)

// Profile storage backends.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// Config holds every tuneable shared by the terminal client and the
// network service.
type Config struct {
	// ── Output ───────────────────────────────────────────────────────
	Verbose int

	// ── Profiles ─────────────────────────────────────────────────────
	ProfileBackend string // BackendFile or BackendSQLite
	ProfileDir     string // FileStore directory
	ProfileDB      string // SQLiteStore database path

	// ── Service ──────────────────────────────────────────────────────
	Listen string // host:port for `termlink serve`

	// ── Broker ───────────────────────────────────────────────────────
	ControlQueue    int           // per-session command queue capacity
	SubscriberQueue int           // per-subscriber chunk queue capacity
	ReadBufferSize  int           // bytes requested per transport read
	PollInterval    time.Duration // pause after a read that returned no data

	// ── Connect ──────────────────────────────────────────────────────
	Timeout time.Duration
	Retries int

	// ── SSH ──────────────────────────────────────────────────────────
	SSH SSHConfig
}

// SSHConfig carries the SSH settings that apply to every SSH session
// unless a profile or flag overrides them.
type SSHConfig struct {
	KeyPath        string
	UseAgent       bool
	StrictHostKey  bool
	KnownHostsPath string
	KeepAlive      time.Duration // 0 disables keepalive requests
}

// New returns a Config populated with defaults.
func New() *Config {
	return &Config{
		Verbose:         DefaultVerbosity,
		ProfileBackend:  BackendFile,
		ProfileDir:      DefaultProfileDir(),
		ProfileDB:       DefaultProfileDB(),
		Listen:          DefaultListenAddress,
		ControlQueue:    DefaultControlQueue,
		SubscriberQueue: DefaultSubscriberQueue,
		ReadBufferSize:  DefaultReadBufferSize,
		PollInterval:    DefaultPollInterval,
		Timeout:         DefaultConnTimeout,
		Retries:         0,
		SSH: SSHConfig{
			KeepAlive: DefaultKeepAliveInterval,
		},
	}
}

// ── SSH target parser ────────────────────────────────────────────────

// targetRe matches [user@]host[:port].
var targetRe = regexp.MustCompile(`^(?:([^@]+)@)?([^:@]+)(?::(\d+))?$`)

// ParseSSHTarget extracts user, host, and port from a string such as
// "admin@router.lan:2222".  Port defaults to 22.
func ParseSSHTarget(target string) (user, host string, port int, err error) {
	m := targetRe.FindStringSubmatch(target)
	if m == nil {
		return "", "", 0, fmt.Errorf("invalid ssh target %q: expected [user@]host[:port]", target)
	}
	user = m[1]
	host = m[2]
	port = DefaultSSHPort
	if m[3] != "" {
		port, err = strconv.Atoi(m[3])
		if err != nil || port < 1 || port > 65535 {
			return "", "", 0, fmt.Errorf("invalid ssh port %q", m[3])
		}
	}
	return user, host, port, nil
}

// ── Validation ───────────────────────────────────────────────────────

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.Verbose < 0 || c.Verbose > 3 {
		return &tlerrors.ConfigError{
			Field:   "verbose",
			Value:   c.Verbose,
			Message: "verbosity must be between 0 and 3",
		}
	}

	switch c.ProfileBackend {
	case BackendFile:
		if c.ProfileDir == "" {
			return &tlerrors.ConfigError{
				Field:   "profile-dir",
				Message: "required for the file profile backend",
				Hint:    "set TERMLINK_PROFILE_DIR or profile_dir in the config file",
			}
		}
	case BackendSQLite:
		if c.ProfileDB == "" {
			return &tlerrors.ConfigError{
				Field:   "profile-db",
				Message: "required for the sqlite profile backend",
				Hint:    "set TERMLINK_PROFILE_DB or profile_db in the config file",
			}
		}
	default:
		return &tlerrors.ConfigError{
			Field:   "profile-backend",
			Value:   c.ProfileBackend,
			Message: "unknown profile backend",
			Hint:    "use \"file\" or \"sqlite\"",
		}
	}

	if c.ControlQueue < 1 {
		return &tlerrors.ConfigError{
			Field:   "control-queue",
			Value:   c.ControlQueue,
			Message: "must be at least 1",
		}
	}
	if c.SubscriberQueue < 1 {
		return &tlerrors.ConfigError{
			Field:   "subscriber-queue",
			Value:   c.SubscriberQueue,
			Message: "must be at least 1",
		}
	}
	if c.ReadBufferSize < 1 {
		return &tlerrors.ConfigError{
			Field:   "read-buffer",
			Value:   c.ReadBufferSize,
			Message: "must be at least 1 byte",
		}
	}
	if c.PollInterval <= 0 {
		return &tlerrors.ConfigError{
			Field:   "poll-interval",
			Value:   c.PollInterval,
			Message: "must be positive",
			Hint:    "the default is " + DefaultPollInterval.String(),
		}
	}
	if c.Timeout <= 0 {
		return &tlerrors.ConfigError{
			Field:   "timeout",
			Value:   c.Timeout,
			Message: "must be positive",
		}
	}
	if c.Retries < 0 {
		return &tlerrors.ConfigError{
			Field:   "retries",
			Value:   c.Retries,
			Message: "must not be negative",
		}
	}
	if c.SSH.StrictHostKey && c.SSH.KnownHostsPath == "" && DefaultKnownHostsPath() == "" {
		return &tlerrors.ConfigError{
			Field:   "strict-hostkey",
			Message: "no known_hosts file available",
			Hint:    "pass --known-hosts <path>",
		}
	}
	return nil
}
