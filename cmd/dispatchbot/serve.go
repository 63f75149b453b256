package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/MikeSquared-Agency/dispatchbot/internal/account"
	"github.com/MikeSquared-Agency/dispatchbot/internal/api"
	"github.com/MikeSquared-Agency/dispatchbot/internal/backend"
	"github.com/MikeSquared-Agency/dispatchbot/internal/config"
	"github.com/MikeSquared-Agency/dispatchbot/internal/hermes"
	"github.com/MikeSquared-Agency/dispatchbot/internal/kv"
	"github.com/MikeSquared-Agency/dispatchbot/internal/locale"
	"github.com/MikeSquared-Agency/dispatchbot/internal/notify"
	"github.com/MikeSquared-Agency/dispatchbot/internal/session"
	"github.com/MikeSquared-Agency/dispatchbot/internal/typing"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the local dispatch API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), config.Load())
		},
	}
}

func runServe(ctx context.Context, cfg config.Config) error {
	logger := setupLogging(os.Stdout, cfg.LogLevel)
	logger.Info("dispatchbot starting", "port", cfg.Port, "backend", cfg.BackendURL)

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := kv.OpenFileStore(cfg.StatePath)
	if err != nil {
		return fmt.Errorf("open state: %w", err)
	}

	events, closeEvents := connectEvents(ctx, cfg, logger)
	defer closeEvents()

	client := backend.NewClient(cfg.BackendURL, cfg.HTTPTimeout)
	notices := notify.NewCenter(cfg.NotifyTTL, logger)
	ctrl := session.New(client, store, typing.New(cfg.TypingInterval, nil), notices, events, logger)
	defer ctrl.Close()

	srv := api.NewServer(cfg.Port, cfg.AllowedOrigin, ctrl,
		account.NewService(client, store, notices, logger),
		locale.NewPreferences(store),
		notices, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gctx)
	})
	g.Go(func() error {
		// A failed load leaves the form usable; the API retries on demand.
		if err := ctrl.LoadCities(gctx); err != nil {
			logger.Warn("initial city load failed", "error", err)
		}
		return nil
	})

	logger.Info("dispatchbot ready", "port", cfg.Port, "session_id", ctrl.ID())
	err = g.Wait()
	logger.Info("dispatchbot stopped")
	return err
}

// connectEvents returns a NATS publisher when NATS_URL is set, otherwise a
// no-op. A connection failure is logged and the bot runs without events.
func connectEvents(ctx context.Context, cfg config.Config, logger *slog.Logger) (hermes.Publisher, func()) {
	if cfg.NatsURL == "" {
		logger.Info("NATS not configured, session events disabled")
		return hermes.Nop{}, func() {}
	}
	client, err := hermes.NewClient(ctx, cfg.NatsURL, cfg.NatsToken, logger)
	if err != nil {
		logger.Warn("failed to connect to NATS, session events disabled", "error", err)
		return hermes.Nop{}, func() {}
	}
	logger.Info("NATS connected", "url", cfg.NatsURL)
	return client, client.Close
}
