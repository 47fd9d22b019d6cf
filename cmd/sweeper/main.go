// Command sweeper runs the inactivity sweep as its own process against a
// shared store. Chat servers using the same store should set
// SWEEPER_ENABLED=false.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/whisper/chatroom/internal/chat"
	"github.com/whisper/chatroom/internal/config"
	"github.com/whisper/chatroom/internal/messaging"
	"github.com/whisper/chatroom/internal/store"
	"github.com/whisper/chatroom/internal/sweeper"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger := cfg.NewLogger(os.Stderr)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("sweeper exited", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	opts := cfg.StoreOptions()
	if !opts.Shared() {
		return fmt.Errorf("store backend %q is private to one process; use redis or postgres", opts.Backend)
	}

	st, err := store.Open(ctx, opts, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	// Without NATS the leave events reach nobody, but the notices are still
	// written to the log.
	var events chat.Publisher
	if cfg.NATSURL != "" {
		natsConfig := messaging.DefaultNATSConfig()
		natsConfig.URL = cfg.NATSURL
		natsConfig.Name = "chatroom-sweeper"
		nc, err := messaging.NewNATSClient(natsConfig, logger)
		if err != nil {
			return fmt.Errorf("connect to NATS: %w", err)
		}
		defer nc.Close()
		events = messaging.NewEventPublisher(nc)
	} else {
		logger.Warn("NATS_URL not set, leave events will not be published")
	}

	log := chat.NewLog(st, events, logger)
	dir := chat.NewDirectory(st, log, events, logger)

	sw := sweeper.New(dir, sweeper.Config{Interval: cfg.SweepInterval, Threshold: cfg.InactivityThreshold}, logger)
	logger.Info("sweeping shared store", "store", opts.Backend)
	sw.Run(ctx)
	return nil
}
