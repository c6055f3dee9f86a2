package main

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/nhle/crm-mailsync/internal/app"
	"github.com/nhle/crm-mailsync/internal/auth"
	"github.com/nhle/crm-mailsync/internal/credential"
	"github.com/nhle/crm-mailsync/internal/events"
	"github.com/nhle/crm-mailsync/internal/gateway"
	"github.com/nhle/crm-mailsync/internal/mailbox"
	"github.com/nhle/crm-mailsync/internal/store"
	crmsync "github.com/nhle/crm-mailsync/internal/sync"
	"github.com/nhle/crm-mailsync/internal/theme"
	"github.com/nhle/crm-mailsync/internal/ui/targetform"
)

func targetFlags(fs *pflag.FlagSet) {
	fs.String("user", "", "owner of the mailbox")
}

func tokenFlags(fs *pflag.FlagSet) {
	fs.String("user", "", "user the token is issued for")
	fs.String("name", "", "display name carried in the token")
	fs.Duration("ttl", 24*time.Hour, "token lifetime")
}

func watchFlags(fs *pflag.FlagSet) {
	fs.String("url", "", "event stream URL (defaults to the configured address)")
	fs.String("token", "", "bearer token; issued from the configured secret when empty")
	fs.String("user", "", "user to watch when issuing a token")
}

func requiredString(fs *pflag.FlagSet, name string) (string, error) {
	v, err := fs.GetString(name)
	if err != nil {
		return "", err
	}
	if v == "" {
		return "", fmt.Errorf("--%s is required", name)
	}
	return v, nil
}

func runSync(ctx context.Context, env *environment, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: crmsync sync <target-id>")
	}

	s, err := store.Open(ctx, env.cfg.Database.Driver, env.cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer s.Close()

	secrets, err := credential.Open(env.cfg.Keyring)
	if err != nil {
		return err
	}

	bus := events.NewLocalBus(env.logger)
	defer bus.Close()

	orch := crmsync.NewOrchestrator(
		s,
		mailbox.NewIMAPFetcher(env.cfg.Sync.DialTimeout, nil, env.logger),
		secrets,
		bus,
		crmsync.Options{RunTimeout: env.cfg.Sync.RunTimeout, MaxMessages: env.cfg.Sync.MaxMessages},
		env.logger,
	)

	run, err := orch.RunSync(ctx, args[0])
	if err != nil {
		return err
	}

	fmt.Printf("run %s: %s\n", run.ID, run.Status)
	fmt.Printf("  fetched %d, processed %d, skipped %d\n", run.Fetched, run.Processed, run.Skipped)
	if run.Error != "" {
		fmt.Printf("  error: %s\n", run.Error)
		return errors.New("sync failed")
	}
	return nil
}

func runTargetAdd(ctx context.Context, env *environment, _ []string) error {
	userID, err := requiredString(env.flags, "user")
	if err != nil {
		return err
	}

	b, err := targetform.Prompt()
	if err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return nil
		}
		return err
	}
	target, err := b.Target(userID)
	if err != nil {
		return err
	}

	s, err := store.Open(ctx, env.cfg.Database.Driver, env.cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer s.Close()

	secrets, err := credential.Open(env.cfg.Keyring)
	if err != nil {
		return err
	}

	if err := s.CreateTarget(ctx, target); err != nil {
		return err
	}
	if err := secrets.SetSecret(target.ID, b.Secret); err != nil {
		return fmt.Errorf("target %s was saved without its password: %w", target.ID, err)
	}

	env.logger.Info("target added", zap.String("target_id", target.ID), zap.String("address", target.Address))
	fmt.Println(target.ID)
	return nil
}

func runTargetList(ctx context.Context, env *environment, _ []string) error {
	userID, err := requiredString(env.flags, "user")
	if err != nil {
		return err
	}

	s, err := store.Open(ctx, env.cfg.Database.Driver, env.cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer s.Close()

	targets, err := s.ListTargets(ctx, userID)
	if err != nil {
		return err
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(theme.ColorBorder)).
		Headers("ID", "ADDRESS", "HOST", "ACTIVE", "LAST SYNC", "TOTAL", "LAST ERROR")
	for _, tg := range targets {
		last := "never"
		if tg.LastSyncAt != nil {
			last = tg.LastSyncAt.Local().Format(time.DateTime)
		}
		t.Row(
			tg.ID,
			tg.Address,
			tg.Host+":"+strconv.Itoa(tg.Port),
			strconv.FormatBool(tg.Active),
			last,
			strconv.Itoa(tg.TotalProcessed),
			tg.LastError,
		)
	}
	fmt.Println(t)
	return nil
}

func runToken(_ context.Context, env *environment, _ []string) error {
	userID, err := requiredString(env.flags, "user")
	if err != nil {
		return err
	}
	name, _ := env.flags.GetString("name")
	ttl, _ := env.flags.GetDuration("ttl")

	if env.cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is not configured")
	}
	token, err := auth.NewVerifier(env.cfg.Auth.JWTSecret).Issue(userID, name, ttl)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func runWatch(ctx context.Context, env *environment, _ []string) error {
	streamURL, _ := env.flags.GetString("url")
	if streamURL == "" {
		streamURL = "http://" + localAddr(env.cfg.HTTP.Addr) + "/api/events"
	}

	token, _ := env.flags.GetString("token")
	title := "crm-mailsync"
	if token == "" {
		userID, err := requiredString(env.flags, "user")
		if err != nil {
			return errors.New("--token or --user is required")
		}
		if env.cfg.Auth.JWTSecret == "" {
			return errors.New("auth.jwt_secret is not configured")
		}
		token, err = auth.NewVerifier(env.cfg.Auth.JWTSecret).Issue(userID, "", time.Hour)
		if err != nil {
			return err
		}
		title += " · " + userID
	}
	if u, err := url.Parse(streamURL); err != nil || u.Host == "" {
		return fmt.Errorf("invalid stream url %q", streamURL)
	}

	dialer := func(ctx context.Context) (app.Source, error) {
		stream, err := gateway.Dial(ctx, nil, streamURL, token)
		if err != nil {
			return nil, err
		}
		return stream, nil
	}

	p := tea.NewProgram(
		app.New(ctx, dialer, title),
		tea.WithAltScreen(),
		tea.WithContext(ctx),
		tea.WithOutput(os.Stdout),
	)
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return err
	}
	return nil
}

// localAddr turns a listen address such as ":8080" into a dialable one.
func localAddr(addr string) string {
	if len(addr) > 0 && addr[0] == ':' {
		return "localhost" + addr
	}
	return addr
}

func runMigrate(ctx context.Context, env *environment, _ []string) error {
	s, err := store.Open(ctx, env.cfg.Database.Driver, env.cfg.Database.DSN)
	if err != nil {
		return err
	}
	env.logger.Info("migrations applied", zap.String("driver", env.cfg.Database.Driver))
	return s.Close()
}
