// Package cmd wires up the CLI flags and dispatches to the core modes.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	flag "github.com/spf13/pflag"

	"termlink/config"
)

// version is overridable at link time:
//
//	go build -ldflags "-X termlink/cmd.version=2.0.0"
var version = "1.0.0" //nolint:gochecknoglobals

// Execute parses args and runs the selected termlink command.
func Execute(ctx context.Context, args []string) error {
	a := &app{stdin: os.Stdin, stdout: os.Stdout, stderr: os.Stderr}
	return a.run(ctx, args)
}

// app carries the process I/O so tests can drive commands end to end.
type app struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	g globalFlags
}

// globalFlags are accepted before the command and again after it.
type globalFlags struct {
	configPath string
	verbose    int
	quiet      bool
	dryRun     bool
	help       bool
	version    bool
}

func (g *globalFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&g.configPath, "config", "", "Config file (TOML or YAML)")
	fs.CountVarP(&g.verbose, "verbose", "v", "Increase verbosity (repeatable)")
	fs.BoolVarP(&g.quiet, "quiet", "q", false, "Only print errors")
	fs.BoolVar(&g.dryRun, "dry-run", false, "Validate configuration and exit")
	fs.BoolVarP(&g.help, "help", "h", false, "Show this help")
}

// merge folds flags given after the command into the ones given
// before it.
func (g *globalFlags) merge(o globalFlags) {
	if o.configPath != "" {
		g.configPath = o.configPath
	}
	g.verbose += o.verbose
	g.quiet = g.quiet || o.quiet
	g.dryRun = g.dryRun || o.dryRun
	g.help = g.help || o.help
}

func (a *app) run(ctx context.Context, args []string) error {
	a.g = globalFlags{}
	fs := flag.NewFlagSet("termlink", flag.ContinueOnError)
	fs.SetInterspersed(false)
	fs.SetOutput(a.stderr)
	a.g.register(fs)
	fs.BoolVar(&a.g.version, "version", false, "Print version and exit")
	fs.Usage = func() { a.printUsage(fs) }

	// ── parse ────────────────────────────────────────────────────
	if err := fs.Parse(args); err != nil {
		return err
	}
	if a.g.version {
		fmt.Fprintf(a.stdout, "termlink %s\n", version)
		return nil
	}
	rest := fs.Args()
	if a.g.help || len(rest) == 0 {
		a.printUsage(fs)
		return nil
	}

	// ── dispatch ─────────────────────────────────────────────────
	command, rest := rest[0], rest[1:]
	switch command {
	case "serial", "ssh", "tcp", "shell":
		return a.runConnect(ctx, command, rest)
	case "profile":
		return a.runProfile(ctx, rest)
	case "serve":
		return a.runServe(ctx, rest)
	default:
		return fmt.Errorf("unknown command %q (use --help for usage)", command)
	}
}

// subFlags returns a flag set for a command that also accepts the
// global flags.
func (a *app) subFlags(name string, usage string) (*flag.FlagSet, *globalFlags) {
	fs := flag.NewFlagSet("termlink "+name, flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	var g globalFlags
	g.register(fs)
	fs.Usage = func() {
		fmt.Fprintf(a.stderr, "Usage:\n  termlink %s %s\n\nOptions:\n", name, usage)
		fs.PrintDefaults()
	}
	return fs, &g
}

// parseSub parses a command's flags.  It reports done when the command
// should not run (help was printed).
func (a *app) parseSub(fs *flag.FlagSet, g *globalFlags, args []string) (done bool, err error) {
	if err := fs.Parse(args); err != nil {
		return true, err
	}
	a.g.merge(*g)
	if a.g.help {
		fs.Usage()
		return true, nil
	}
	return false, nil
}

// loadConfig layers defaults, the config file, the environment and
// finally the global flags.
func (a *app) loadConfig() (*config.Config, error) {
	cfg := config.New()

	path, optional := a.g.configPath, false
	if path == "" {
		path, optional = config.DefaultConfigPath(), true
	}
	if path != "" {
		if err := config.LoadFile(cfg, path, optional); err != nil {
			return nil, err
		}
	}
	config.LoadFromEnv(cfg)

	switch {
	case a.g.quiet:
		cfg.Verbose = 0
	case a.g.verbose > 0:
		cfg.Verbose = min(config.DefaultVerbosity+a.g.verbose, 3)
	}
	return cfg, nil
}

func (a *app) printUsage(fs *flag.FlagSet) {
	fmt.Fprintf(a.stderr, `termlink – terminal connection broker v%s

Opens serial lines, SSH shells, raw TCP sockets and local shells, and
shares them between any number of readers and writers.

Usage:
  termlink [options] serial <port> [-b baud]          Serial console
  termlink [options] ssh [user@]host[:port]           SSH shell
  termlink [options] tcp <host:port>                  Raw TCP socket
  termlink [options] shell [command [args...]]        Local shell on a PTY
  termlink [options] profile list                     List saved profiles
  termlink [options] profile save <name> <kind> ...   Save a profile
  termlink [options] profile delete <name>            Delete a profile
  termlink [options] profile use <name>               Connect with a profile
  termlink [options] serve [--listen addr]            Serve the HTTP API

Options:
`, version)
	fs.PrintDefaults()
	fmt.Fprintf(a.stderr, `
Press Ctrl+A then 'x' to leave an interactive session.

Examples:
  termlink serial /dev/ttyUSB0 -b 9600              Router console
  termlink ssh -i ~/.ssh/id_ed25519 pi@raspberrypi  SSH with a key
  termlink profile save lab serial /dev/ttyACM0     Save a preset
  termlink -v profile use lab                       Use it
  termlink serve --listen 0.0.0.0:50051             Network service
`)
}

// errUsage marks argument errors.
var errUsage = errors.New("usage")

func usageError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errUsage, fmt.Sprintf(format, args...))
}
