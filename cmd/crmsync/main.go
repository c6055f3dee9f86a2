// Command crmsync synchronizes mailboxes into the CRM and streams the
// resulting events to connected users.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/nhle/crm-mailsync/internal/logging"
	"github.com/nhle/crm-mailsync/internal/model"
)

const usage = `Usage: crmsync <command> [flags]

Commands:
  serve              run the API, realtime gateway and scheduler
  sync <target-id>   run one sync and print the result
  target add         add a mailbox interactively
  target list        list a user's mailboxes
  token              issue a bearer token for a user
  watch              follow a user's live events in the terminal
  migrate            apply database migrations and exit
`

// command is one subcommand. It receives the parsed configuration, a logger
// and the positional arguments left after flag parsing.
type command struct {
	flags func(fs *pflag.FlagSet)
	run   func(ctx context.Context, env *environment, args []string) error
}

// environment is shared by all commands.
type environment struct {
	cfg    *model.AppConfig
	logger *zap.Logger
	flags  *pflag.FlagSet
}

var commands = map[string]command{
	"serve":       {run: runServe},
	"sync":        {run: runSync},
	"target add":  {flags: targetFlags, run: runTargetAdd},
	"target list": {flags: targetFlags, run: runTargetList},
	"token":       {flags: tokenFlags, run: runToken},
	"watch":       {flags: watchFlags, run: runWatch},
	"migrate":     {run: runMigrate},
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	name, rest, err := resolve(args)
	if err != nil {
		fmt.Fprint(os.Stderr, usage)
		return err
	}
	cmd := commands[name]

	fs := pflag.NewFlagSet("crmsync "+name, pflag.ContinueOnError)
	configPath := fs.String("config", model.DefaultConfigPath(), "path to the YAML config file")
	fs.String("addr", ":8080", "HTTP listen address")
	fs.String("db-driver", "sqlite", "database driver: sqlite or pgx")
	fs.String("db-dsn", "crmsync.db", "database data source name")
	fs.String("log-level", "info", "log level: debug, info, warn, error")
	fs.Bool("dev", false, "human-readable development logging")
	fs.Bool("no-schedule", false, "disable the built-in sync scheduler")
	if cmd.flags != nil {
		cmd.flags(fs)
	}
	if err := fs.Parse(rest); err != nil {
		return err
	}

	cfg, err := model.LoadConfig(*configPath, fs)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return cmd.run(ctx, &environment{cfg: cfg, logger: logger, flags: fs}, fs.Args())
}

// resolve finds the command named by the leading arguments.
func resolve(args []string) (string, []string, error) {
	if len(args) == 0 {
		return "", nil, errors.New("no command given")
	}
	if len(args) > 1 {
		if _, ok := commands[args[0]+" "+args[1]]; ok {
			return args[0] + " " + args[1], args[2:], nil
		}
	}
	if _, ok := commands[args[0]]; ok {
		return args[0], args[1:], nil
	}
	return "", nil, fmt.Errorf("unknown command %q", args[0])
}
