package config

// loader.go - configuration loading from environment variables.
//
// Precedence order (highest wins):
//   1. CLI flags  (handled by cmd/root.go)
//   2. Environment variables  (this file)
//   3. Config file  (file.go)
//   4. Defaults   (defaults.go)

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// ── Environment variable mapping ─────────────────────────────────────
//
// Every supported env var uses the TERMLINK_ prefix.  Boolean values
// accept "1", "true", "yes" (case-insensitive).  Durations accept Go
// syntax ("250ms", "1m") or a bare number of seconds.

// LoadFromEnv overlays environment variables onto cfg.  Only non-empty
// env vars override the existing value.  This should be called BEFORE
// CLI flag parsing so that flags take precedence.
func LoadFromEnv(cfg *Config) {
	if v := envInt("TERMLINK_VERBOSE"); v > 0 {
		cfg.Verbose = v
	}

	// Profiles
	if v := os.Getenv("TERMLINK_PROFILE_BACKEND"); v != "" {
		cfg.ProfileBackend = strings.ToLower(v)
	}
	if v := os.Getenv("TERMLINK_PROFILE_DIR"); v != "" {
		cfg.ProfileDir = v
	}
	if v := os.Getenv("TERMLINK_PROFILE_DB"); v != "" {
		cfg.ProfileDB = v
	}

	// Service
	if v := os.Getenv("TERMLINK_LISTEN"); v != "" {
		cfg.Listen = v
	}

	// Broker
	if v := envInt("TERMLINK_CONTROL_QUEUE"); v > 0 {
		cfg.ControlQueue = v
	}
	if v := envInt("TERMLINK_SUBSCRIBER_QUEUE"); v > 0 {
		cfg.SubscriberQueue = v
	}
	if v := envInt("TERMLINK_READ_BUFFER"); v > 0 {
		cfg.ReadBufferSize = v
	}
	if v := envDuration("TERMLINK_POLL_INTERVAL"); v > 0 {
		cfg.PollInterval = v
	}

	// Connect
	if v := envDuration("TERMLINK_TIMEOUT"); v > 0 {
		cfg.Timeout = v
	}
	if v := envInt("TERMLINK_RETRIES"); v > 0 {
		cfg.Retries = v
	}

	// SSH
	if v := os.Getenv("TERMLINK_SSH_KEY"); v != "" {
		cfg.SSH.KeyPath = v
	}
	if envBool("TERMLINK_SSH_AGENT") {
		cfg.SSH.UseAgent = true
	}
	if envBool("TERMLINK_STRICT_HOSTKEY") {
		cfg.SSH.StrictHostKey = true
	}
	if v := os.Getenv("TERMLINK_KNOWN_HOSTS"); v != "" {
		cfg.SSH.KnownHostsPath = v
	}
	if v := envDuration("TERMLINK_KEEP_ALIVE"); v > 0 {
		cfg.SSH.KeepAlive = v
	}
}

// ── helpers ──────────────────────────────────────────────────────────

func envInt(key string) int {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

func envBool(key string) bool {
	v := strings.ToLower(os.Getenv(key))
	return v == "1" || v == "true" || v == "yes"
}

func envDuration(key string) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	return parseDuration(v)
}

// parseDuration accepts "250ms"-style values or whole seconds.  Invalid
// input yields 0 so the caller keeps its current value.
func parseDuration(v string) time.Duration {
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return 0
}
