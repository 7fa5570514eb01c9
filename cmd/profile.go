package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"

	tlerrors "termlink/internal/errors"
	"termlink/internal/profile"
	"termlink/internal/transport"
	"termlink/util"
)

func (a *app) runProfile(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError("profile: expected list, save, delete or use")
	}
	switch sub, rest := args[0], args[1:]; sub {
	case "list":
		return a.profileList(rest)
	case "save":
		return a.profileSave(rest)
	case "delete":
		return a.profileDelete(rest)
	case "use":
		return a.profileUse(ctx, rest)
	default:
		return usageError("profile: unknown subcommand %q", sub)
	}
}

// openStore loads the config and opens the configured profile store.
func (a *app) openStore() (profile.Store, *util.Logger, error) {
	cfg, err := a.loadConfig()
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	logger := util.NewLogger(cfg.Verbose)
	store, err := profile.Open(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return store, logger, nil
}

func (a *app) profileList(args []string) error {
	fs, g := a.subFlags("profile list", "")
	if done, err := a.parseSub(fs, g, args); done {
		return err
	}
	store, _, err := a.openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	all, err := store.List()
	if err != nil {
		return err
	}
	if len(all) == 0 {
		fmt.Fprintln(a.stderr, "no profiles saved")
		return nil
	}
	tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tKIND\tTARGET")
	for _, p := range all {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", p.Name, p.Kind, p.Summary())
	}
	return tw.Flush()
}

// profileSave handles `profile save <name> <kind> <target...>`; the
// target takes the same form as the matching connect command.
func (a *app) profileSave(args []string) error {
	if len(args) < 2 {
		return usageError("profile save: expected <name> <kind> <target...>")
	}
	name, kind := args[0], args[1]
	switch kind {
	case transport.KindSerial, transport.KindSSH, transport.KindTCP, transport.KindShell:
	default:
		return usageError("profile save: unknown kind %q (serial, ssh, tcp or shell)", kind)
	}

	fs, g := a.subFlags("profile save "+name+" "+kind, targetUsage(kind))
	var c connectFlags
	c.register(fs, kind)
	if done, err := a.parseSub(fs, g, args[2:]); done {
		return err
	}
	p, err := parseTarget(kind, fs.Args(), &c)
	if err != nil {
		return err
	}
	p.Name = name
	if kind == transport.KindSSH && c.passwordPrompt {
		pw, err := a.readPassword(fmt.Sprintf("%s@%s's password: ", p.SSH.Username, p.SSH.Host))
		if err != nil {
			return err
		}
		p.SSH.Password = pw
	}
	if err := p.Validate(); err != nil {
		return err
	}
	if a.g.dryRun {
		fmt.Fprintf(a.stdout, "dry run: would save %s: %s\n", p.Name, p.Summary())
		return nil
	}

	store, _, err := a.openStore()
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.Save(p); err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "saved %s: %s\n", p.Name, p.Summary())
	return nil
}

func (a *app) profileDelete(args []string) error {
	fs, g := a.subFlags("profile delete", "<name>")
	if done, err := a.parseSub(fs, g, args); done {
		return err
	}
	if fs.NArg() != 1 {
		return usageError("profile delete: expected exactly one name")
	}
	name := fs.Arg(0)
	if err := profile.ValidName(name); err != nil {
		return err
	}
	if a.g.dryRun {
		fmt.Fprintf(a.stdout, "dry run: would delete %s\n", name)
		return nil
	}

	store, _, err := a.openStore()
	if err != nil {
		return err
	}
	defer store.Close()
	existed, err := store.Delete(name)
	if err != nil {
		return err
	}
	if !existed {
		return fmt.Errorf("profile %q: %w", name, tlerrors.ErrProfileNotFound)
	}
	fmt.Fprintf(a.stdout, "deleted %s\n", name)
	return nil
}

func (a *app) profileUse(ctx context.Context, args []string) error {
	fs, g := a.subFlags("profile use", "<name>")
	var c connectFlags
	c.register(fs, transport.KindSSH)
	c.registerSession(fs)
	if done, err := a.parseSub(fs, g, args); done {
		return err
	}
	if fs.NArg() != 1 {
		return usageError("profile use: expected exactly one name")
	}

	store, _, err := a.openStore()
	if err != nil {
		return err
	}
	p, err := store.Get(fs.Arg(0))
	store.Close()
	if err != nil {
		return err
	}
	return a.connect(ctx, fs, &c, p)
}
