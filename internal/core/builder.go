package core

import (
	"termlink/config"
	"termlink/internal/profile"
	"termlink/internal/transport"
	"termlink/util"
)

// Builder constructs unconnected transport adapters from profiles.  It
// is the single dispatch point shared by the CLI and the server.
type Builder struct {
	Config *config.Config
	Logger *util.Logger

	// PromptPassword asks on the terminal for an SSH password when the
	// profile carries neither a password nor a key.  Only the CLI sets
	// it.
	PromptPassword bool
}

// Build validates p and returns the adapter for its kind.  The adapter
// is not connected; the broker connects it on Register.
func (b *Builder) Build(p profile.Profile) (transport.Connection, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	cfg := b.Config

	switch {
	case p.Serial != nil:
		return &transport.Serial{Port: p.Serial.Port, Baud: p.Serial.Baud}, nil

	case p.SSH != nil:
		keyPath := p.SSH.KeyPath
		if keyPath == "" && p.SSH.Password == "" {
			keyPath = cfg.SSH.KeyPath
		}
		sshCfg := &transport.SSHConfig{
			User:          p.SSH.Username,
			Host:          p.SSH.Host,
			Port:          p.SSH.Port,
			Password:      p.SSH.Password,
			KeyPath:       keyPath,
			Passphrase:    p.SSH.Passphrase,
			UseAgent:      cfg.SSH.UseAgent,
			StrictHostKey: cfg.SSH.StrictHostKey,
			KnownHosts:    cfg.SSH.KnownHostsPath,
			ConnTimeout:   cfg.Timeout,
			KeepAlive:     cfg.SSH.KeepAlive,
		}
		if b.PromptPassword && p.SSH.Password == "" && keyPath == "" {
			sshCfg.PromptPassword = true
		}
		return transport.NewSSH(sshCfg, b.Logger.Named("ssh")), nil

	case p.TCP != nil:
		return &transport.TCP{
			Address: util.FormatAddr(p.TCP.Host, p.TCP.Port),
			Timeout: cfg.Timeout,
		}, nil

	default:
		return &transport.PTY{
			Command: p.Shell.Command,
			Args:    p.Shell.Args,
			Dir:     p.Shell.Dir,
		}, nil
	}
}
