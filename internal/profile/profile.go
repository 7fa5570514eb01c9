// Package profile stores named connection presets.
package profile

import (
	"fmt"
	"regexp"

	tlerrors "termlink/internal/errors"
	"termlink/internal/transport"
)

// Profile is a user-named connection preset.  Exactly one of the
// parameter blocks is set, matching Kind.
type Profile struct {
	Name   string        `json:"name"`
	Kind   string        `json:"kind"`
	Serial *SerialParams `json:"serial,omitempty"`
	SSH    *SSHParams    `json:"ssh,omitempty"`
	TCP    *TCPParams    `json:"tcp,omitempty"`
	Shell  *ShellParams  `json:"shell,omitempty"`
}

// SerialParams selects a serial device.
type SerialParams struct {
	Port string `json:"port"`
	Baud int    `json:"baud"`
}

// SSHParams selects an SSH shell.  Password and KeyPath are
// alternatives; with neither set the agent and default keys are tried.
type SSHParams struct {
	Host       string `json:"host"`
	Port       int    `json:"port,omitzero"`
	Username   string `json:"username"`
	Password   string `json:"password,omitempty"`
	KeyPath    string `json:"key_path,omitempty"`
	Passphrase string `json:"passphrase,omitempty"`
}

// TCPParams selects a raw TCP endpoint.
type TCPParams struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// ShellParams selects a local command run on a PTY.
type ShellParams struct {
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
	Dir     string   `json:"dir,omitempty"`
}

var nameRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,63}$`)

// ValidName reports whether name is usable as a profile name.  Names
// become file names, so path separators and dot-files are rejected.
func ValidName(name string) error {
	if !nameRe.MatchString(name) {
		return &tlerrors.ConfigError{
			Field:   "name",
			Value:   name,
			Message: "invalid profile name",
			Hint:    "use 1-64 letters, digits, '.', '_' or '-', starting with a letter or digit",
		}
	}
	return nil
}

// Validate checks that p names a usable connection.
func (p *Profile) Validate() error {
	if err := ValidName(p.Name); err != nil {
		return err
	}
	blocks := 0
	for _, set := range []bool{p.Serial != nil, p.SSH != nil, p.TCP != nil, p.Shell != nil} {
		if set {
			blocks++
		}
	}
	if blocks != 1 {
		return fmt.Errorf("profile %q: exactly one of serial, ssh, tcp or shell must be set", p.Name)
	}

	switch p.Kind {
	case transport.KindSerial:
		if p.Serial == nil {
			return fmt.Errorf("profile %q: kind serial needs a serial block", p.Name)
		}
		if p.Serial.Port == "" {
			return fmt.Errorf("profile %q: serial port is required", p.Name)
		}
		if p.Serial.Baud <= 0 {
			return fmt.Errorf("profile %q: baud must be positive", p.Name)
		}
	case transport.KindSSH:
		if p.SSH == nil {
			return fmt.Errorf("profile %q: kind ssh needs an ssh block", p.Name)
		}
		if p.SSH.Host == "" || p.SSH.Username == "" {
			return fmt.Errorf("profile %q: ssh host and username are required", p.Name)
		}
		if err := checkPort(p.Name, p.SSH.Port, true); err != nil {
			return err
		}
	case transport.KindTCP:
		if p.TCP == nil {
			return fmt.Errorf("profile %q: kind tcp needs a tcp block", p.Name)
		}
		if p.TCP.Host == "" {
			return fmt.Errorf("profile %q: tcp host is required", p.Name)
		}
		if err := checkPort(p.Name, p.TCP.Port, false); err != nil {
			return err
		}
	case transport.KindShell:
		if p.Shell == nil {
			return fmt.Errorf("profile %q: kind shell needs a shell block", p.Name)
		}
		if p.Shell.Command == "" {
			return fmt.Errorf("profile %q: shell command is required", p.Name)
		}
	default:
		return fmt.Errorf("profile %q: unknown kind %q", p.Name, p.Kind)
	}
	return nil
}

func checkPort(name string, port int, optional bool) error {
	if optional && port == 0 {
		return nil
	}
	if port < 1 || port > 65535 {
		return fmt.Errorf("profile %q: port %d out of range 1-65535", name, port)
	}
	return nil
}

// Summary is a one-line description for listings.  Secrets are never
// included.
func (p *Profile) Summary() string {
	switch {
	case p.Serial != nil:
		return fmt.Sprintf("serial %s @ %d", p.Serial.Port, p.Serial.Baud)
	case p.SSH != nil:
		port := p.SSH.Port
		if port == 0 {
			port = 22
		}
		return fmt.Sprintf("ssh %s@%s:%d", p.SSH.Username, p.SSH.Host, port)
	case p.TCP != nil:
		return fmt.Sprintf("tcp %s:%d", p.TCP.Host, p.TCP.Port)
	case p.Shell != nil:
		return "shell " + p.Shell.Command
	default:
		return p.Kind
	}
}

// Store persists profiles keyed by name.
type Store interface {
	// List returns every readable profile sorted by name.  Malformed
	// entries are skipped with a warning.
	List() ([]Profile, error)
	// Get returns the named profile or errors.ErrProfileNotFound.
	Get(name string) (Profile, error)
	// Save creates or overwrites p.
	Save(p Profile) error
	// Delete removes the named profile and reports whether it existed.
	Delete(name string) (bool, error)
	Close() error
}
