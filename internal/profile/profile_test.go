package profile

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidName(t *testing.T) {
	tests := []struct {
		name  string
		valid bool
	}{
		{"router", true},
		{"lab-switch_01.mgmt", true},
		{"9600", true},
		{"", false},
		{".hidden", false},
		{"../etc/passwd", false},
		{"a/b", false},
		{"with space", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidName(tt.name)
			assert.Equal(t, tt.valid, err == nil, "ValidName(%q) = %v", tt.name, err)
		})
	}
}

func TestProfileValidate(t *testing.T) {
	tests := []struct {
		name    string
		p       Profile
		wantErr string
	}{
		{"serial", Profile{Name: "dbg", Kind: "serial", Serial: &SerialParams{Port: "/dev/ttyUSB0", Baud: 115200}}, ""},
		{"ssh default port", Profile{Name: "pi", Kind: "ssh", SSH: &SSHParams{Host: "pi.lan", Username: "pi"}}, ""},
		{"tcp", Profile{Name: "ser2net", Kind: "tcp", TCP: &TCPParams{Host: "10.0.0.2", Port: 3001}}, ""},
		{"shell", Profile{Name: "local", Kind: "shell", Shell: &ShellParams{Command: "/bin/bash"}}, ""},
		{"bad name", Profile{Name: "a/b", Kind: "shell", Shell: &ShellParams{Command: "sh"}}, "invalid profile name"},
		{"no block", Profile{Name: "x", Kind: "serial"}, "exactly one"},
		{"two blocks", Profile{Name: "x", Kind: "tcp", TCP: &TCPParams{Host: "h", Port: 1}, Shell: &ShellParams{Command: "sh"}}, "exactly one"},
		{"kind mismatch", Profile{Name: "x", Kind: "ssh", TCP: &TCPParams{Host: "h", Port: 1}}, "needs an ssh block"},
		{"unknown kind", Profile{Name: "x", Kind: "telnet", TCP: &TCPParams{Host: "h", Port: 1}}, "unknown kind"},
		{"serial no baud", Profile{Name: "x", Kind: "serial", Serial: &SerialParams{Port: "/dev/ttyS0"}}, "baud"},
		{"tcp no port", Profile{Name: "x", Kind: "tcp", TCP: &TCPParams{Host: "h"}}, "out of range"},
		{"ssh no user", Profile{Name: "x", Kind: "ssh", SSH: &SSHParams{Host: "h"}}, "username"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.p.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			if assert.Error(t, err) {
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestSummaryHidesSecrets(t *testing.T) {
	p := Profile{Name: "pi", Kind: "ssh", SSH: &SSHParams{Host: "pi.lan", Username: "pi", Password: "raspberry"}}
	assert.Equal(t, "ssh pi@pi.lan:22", p.Summary())
	assert.NotContains(t, p.Summary(), "raspberry")
}
