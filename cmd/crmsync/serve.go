package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nhle/crm-mailsync/internal/api"
	"github.com/nhle/crm-mailsync/internal/auth"
	"github.com/nhle/crm-mailsync/internal/credential"
	"github.com/nhle/crm-mailsync/internal/events"
	"github.com/nhle/crm-mailsync/internal/gateway"
	"github.com/nhle/crm-mailsync/internal/mailbox"
	"github.com/nhle/crm-mailsync/internal/store"
	crmsync "github.com/nhle/crm-mailsync/internal/sync"
)

func runServe(ctx context.Context, env *environment, _ []string) error {
	cfg, logger := env.cfg, env.logger
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	s, err := store.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer s.Close()

	// Runs left open by a previous process can never finish.
	if n, err := s.FailStaleRuns(ctx, "interrupted by restart"); err != nil {
		return err
	} else if n > 0 {
		logger.Warn("failed stale runs", zap.Int64("count", n))
	}

	secrets, err := credential.Open(cfg.Keyring)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	local := events.NewLocalBus(logger)
	defer local.Close()
	var bus events.Bus = local

	if cfg.PubSub.Enabled {
		client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return fmt.Errorf("creating pubsub client: %w", err)
		}
		defer client.Close()

		bridge, err := events.NewPubSubBus(ctx, client, cfg.PubSub.Topic, cfg.PubSub.Subscription, local, logger)
		if err != nil {
			return err
		}
		defer bridge.Stop()
		bus = bridge
		g.Go(func() error { return bridge.Run(ctx) })
	}

	overflow, err := events.ParseOverflow(cfg.Gateway.Overflow)
	if err != nil {
		return err
	}
	gw := gateway.New(bus, gateway.Options{
		QueueSize: cfg.Gateway.QueueSize,
		Overflow:  overflow,
		Heartbeat: cfg.Gateway.Heartbeat,
		Retry:     cfg.Gateway.Retry,
	}, logger)

	orch := crmsync.NewOrchestrator(
		s,
		mailbox.NewIMAPFetcher(cfg.Sync.DialTimeout, nil, logger),
		secrets,
		bus,
		crmsync.Options{RunTimeout: cfg.Sync.RunTimeout, MaxMessages: cfg.Sync.MaxMessages},
		logger,
	)

	router, handler := api.NewRouter(api.Deps{
		Store:    s,
		Syncer:   orch,
		Bus:      bus,
		Gateway:  gw,
		Verifier: auth.NewVerifier(cfg.Auth.JWTSecret),
		CSRF:     auth.NewCSRF(cfg.Auth.CSRFSecret),
		Logger:   logger,
	})

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		logger.Info("listening", zap.String("addr", cfg.HTTP.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serving http: %w", err)
		}
		return nil
	})

	if cfg.Sync.Enabled {
		sched := crmsync.NewScheduler(s, orch, cfg.Sync.Tick, cfg.Sync.Concurrency, logger)
		g.Go(func() error { return sched.Run(ctx) })
	}

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")

		// Streams never finish on their own, so close them before draining.
		gw.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		handler.Wait()
		return err
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
