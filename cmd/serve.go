package cmd

import (
	"context"
	"fmt"

	"termlink/config"
	"termlink/internal/core"
	"termlink/internal/profile"
	"termlink/internal/server"
	"termlink/internal/transport"
	"termlink/util"
)

func (a *app) runServe(ctx context.Context, args []string) error {
	fs, g := a.subFlags("serve", "[--listen host:port]")
	var listen string
	fs.StringVarP(&listen, "listen", "l", "", "Listen address (default "+config.DefaultListenAddress+")")
	var c connectFlags
	c.register(fs, transport.KindSSH)
	fs.DurationVarP(&c.timeout, "timeout", "w", 0, "Connect timeout")
	if done, err := a.parseSub(fs, g, args); done {
		return err
	}
	if fs.NArg() != 0 {
		return usageError("serve: unexpected argument %q", fs.Arg(0))
	}

	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	c.apply(fs, cfg)
	if fs.Changed("listen") {
		cfg.Listen = listen
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if a.g.dryRun {
		fmt.Fprintf(a.stdout, "dry run: would listen on %s (%s profiles)\n", cfg.Listen, cfg.ProfileBackend)
		return nil
	}

	logger := util.NewLogger(cfg.Verbose)
	store, err := profile.Open(cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	mgr := newManager(cfg, logger)
	builder := &core.Builder{Config: cfg, Logger: logger}
	mode := &core.ListenMode{
		Address: cfg.Listen,
		Server: server.New(server.Options{
			Manager:        mgr,
			Profiles:       store,
			Build:          builder.Build,
			ConnectTimeout: cfg.Timeout,
			Logger:         logger,
		}),
		Logger: logger,
	}
	return mode.Run(ctx)
}
