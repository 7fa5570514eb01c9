package cmd

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	flag "github.com/spf13/pflag"
	"golang.org/x/term"

	"termlink/config"
	"termlink/internal/broker"
	"termlink/internal/core"
	"termlink/internal/metrics"
	"termlink/internal/profile"
	"termlink/internal/transport"
	"termlink/util"
)

// connectFlags are the per-connection options shared by the connect
// commands, `profile save` and `profile use`.
type connectFlags struct {
	id string

	baud int

	identity       string
	agent          bool
	passwordPrompt bool
	strictHostKey  bool
	knownHosts     string
	keepAlive      time.Duration

	dir string

	timeout time.Duration
	retries int
}

func (c *connectFlags) register(fs *flag.FlagSet, kind string) {
	switch kind {
	case transport.KindSerial:
		fs.IntVarP(&c.baud, "baud", "b", 115200, "Baud rate")
	case transport.KindSSH:
		fs.StringVarP(&c.identity, "identity", "i", "", "SSH private key file")
		fs.BoolVar(&c.agent, "agent", false, "Use the SSH agent")
		fs.BoolVar(&c.passwordPrompt, "password-prompt", false, "Prompt for the SSH password")
		fs.BoolVar(&c.strictHostKey, "strict-hostkey", false, "Verify the host key against known_hosts")
		fs.StringVar(&c.knownHosts, "known-hosts", "", "Custom known_hosts path")
		fs.DurationVar(&c.keepAlive, "keepalive", 0, "Keepalive interval (0 keeps the configured value)")
	case transport.KindShell:
		fs.StringVar(&c.dir, "dir", "", "Working directory")
	}
}

// registerSession adds the flags that only matter when connecting.
func (c *connectFlags) registerSession(fs *flag.FlagSet) {
	fs.StringVar(&c.id, "id", "", "Session id (default: profile name)")
	fs.DurationVarP(&c.timeout, "timeout", "w", 0, "Connect timeout")
	fs.IntVarP(&c.retries, "retries", "r", 0, "Connect retries")
}

// apply copies the flags the user actually set onto cfg.
func (c *connectFlags) apply(fs *flag.FlagSet, cfg *config.Config) {
	if fs.Changed("timeout") {
		cfg.Timeout = c.timeout
	}
	if fs.Changed("retries") {
		cfg.Retries = c.retries
	}
	if fs.Changed("identity") {
		cfg.SSH.KeyPath = c.identity
	}
	if fs.Changed("agent") {
		cfg.SSH.UseAgent = c.agent
	}
	if fs.Changed("strict-hostkey") {
		cfg.SSH.StrictHostKey = c.strictHostKey
	}
	if fs.Changed("known-hosts") {
		cfg.SSH.KnownHostsPath = c.knownHosts
	}
	if fs.Changed("keepalive") {
		cfg.SSH.KeepAlive = c.keepAlive
	}
}

// ── targets ──────────────────────────────────────────────────────────

// parseTarget builds an unnamed profile from a connect command's
// positional arguments.
func parseTarget(kind string, args []string, c *connectFlags) (profile.Profile, error) {
	p := profile.Profile{Name: kind, Kind: kind}
	switch kind {
	case transport.KindSerial:
		if len(args) != 1 {
			return p, usageError("serial: expected exactly one port, e.g. /dev/ttyUSB0")
		}
		p.Serial = &profile.SerialParams{Port: args[0], Baud: c.baud}

	case transport.KindSSH:
		if len(args) != 1 {
			return p, usageError("ssh: expected exactly one [user@]host[:port]")
		}
		user, host, port, err := config.ParseSSHTarget(args[0])
		if err != nil {
			return p, err
		}
		if user == "" {
			user = os.Getenv("USER")
		}
		if user == "" {
			return p, usageError("ssh: no username in %q and $USER is unset", args[0])
		}
		p.SSH = &profile.SSHParams{Host: host, Port: port, Username: user, KeyPath: c.identity}

	case transport.KindTCP:
		var host string
		var port int
		var err error
		switch len(args) {
		case 1:
			host, port, err = util.SplitAddr(args[0], 0)
		case 2:
			host = args[0]
			port, err = strconv.Atoi(args[1])
			if err != nil {
				err = fmt.Errorf("port %q: not a number", args[1])
			}
		default:
			return p, usageError("tcp: expected host:port or host port")
		}
		if err != nil {
			return p, err
		}
		if port == 0 {
			return p, usageError("tcp: port required")
		}
		p.TCP = &profile.TCPParams{Host: host, Port: port}

	case transport.KindShell:
		command, rest := defaultShell(), []string(nil)
		if len(args) > 0 {
			command, rest = args[0], args[1:]
		}
		p.Shell = &profile.ShellParams{Command: command, Args: rest, Dir: c.dir}
	}
	return p, nil
}

func defaultShell() string {
	if sh := os.Getenv("SHELL"); sh != "" {
		return sh
	}
	return "/bin/sh"
}

// ── connect ──────────────────────────────────────────────────────────

func (a *app) runConnect(ctx context.Context, kind string, args []string) error {
	fs, g := a.subFlags(kind, targetUsage(kind))
	var c connectFlags
	c.register(fs, kind)
	c.registerSession(fs)
	if done, err := a.parseSub(fs, g, args); done {
		return err
	}

	p, err := parseTarget(kind, fs.Args(), &c)
	if err != nil {
		return err
	}
	return a.connect(ctx, fs, &c, p)
}

func targetUsage(kind string) string {
	switch kind {
	case transport.KindSerial:
		return "<port> [-b baud]"
	case transport.KindSSH:
		return "[user@]host[:port]"
	case transport.KindTCP:
		return "<host:port>"
	default:
		return "[command [args...]]"
	}
}

// connect runs the interactive client for p.
func (a *app) connect(ctx context.Context, fs *flag.FlagSet, c *connectFlags, p profile.Profile) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	c.apply(fs, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := p.Validate(); err != nil {
		return err
	}

	id := c.id
	if id == "" {
		id = p.Name
	}
	if a.g.dryRun {
		fmt.Fprintf(a.stdout, "dry run: would connect %s as %q\n", p.Summary(), id)
		return nil
	}

	logger := util.NewLogger(cfg.Verbose)
	mgr := newManager(cfg, logger)
	defer closeManager(mgr, logger)

	builder := &core.Builder{Config: cfg, Logger: logger, PromptPassword: c.passwordPrompt}
	mode := &core.ConnectMode{
		Manager: mgr,
		ID:      id,
		Build:   func() (transport.Connection, error) { return builder.Build(p) },
		Retries: cfg.Retries,
		Raw:     isTerminal(a.stdin),
		Logger:  logger,
		Stdin:   a.stdin,
		Stdout:  a.stdout,
	}
	logger.Verbose("connecting %s", p.Summary())
	return mode.Run(ctx)
}

func newManager(cfg *config.Config, logger *util.Logger) *broker.Manager {
	return broker.New(broker.Options{
		ControlQueue:    cfg.ControlQueue,
		SubscriberQueue: cfg.SubscriberQueue,
		ReadBufferSize:  cfg.ReadBufferSize,
		PollInterval:    cfg.PollInterval,
		Logger:          logger,
		Metrics:         metrics.New(),
	})
}

func closeManager(mgr *broker.Manager, logger *util.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), config.DefaultGracePeriod)
	defer cancel()
	if err := mgr.Close(ctx); err != nil {
		logger.Warn("%v", err)
	}
}

func isTerminal(r any) bool {
	f, ok := r.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// readPassword prompts on stderr without echo.
func (a *app) readPassword(prompt string) (string, error) {
	f, ok := a.stdin.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return "", fmt.Errorf("cannot prompt for a password: stdin is not a terminal")
	}
	fmt.Fprint(a.stderr, prompt)
	pw, err := term.ReadPassword(int(f.Fd()))
	fmt.Fprintln(a.stderr)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return string(pw), nil
}
