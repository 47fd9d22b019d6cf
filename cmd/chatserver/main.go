package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/whisper/chatroom/internal/chat"
	"github.com/whisper/chatroom/internal/config"
	"github.com/whisper/chatroom/internal/httpapi"
	"github.com/whisper/chatroom/internal/messaging"
	"github.com/whisper/chatroom/internal/ratelimit"
	"github.com/whisper/chatroom/internal/store"
	"github.com/whisper/chatroom/internal/store/redisstore"
	"github.com/whisper/chatroom/internal/sweeper"
	"github.com/whisper/chatroom/internal/ws"
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
		logger.Error("chatserver exited", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	logger.Info("chatroom starting",
		"listen_addr", cfg.ListenAddr,
		"store", cfg.StoreBackend,
		"nats_url", cfg.NATSURL,
		"sweeper", cfg.SweeperEnabled,
		"sweep_interval", cfg.SweepInterval,
		"inactivity_threshold", cfg.InactivityThreshold,
		"rate_limit", cfg.RateLimitEnabled,
	)

	// --- Store ---
	st, err := store.Open(ctx, cfg.StoreOptions(), logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Warn("store close error", "err", err)
		}
	}()

	// --- Events ---
	var bus messaging.Bus
	if cfg.NATSURL != "" {
		natsConfig := messaging.DefaultNATSConfig()
		natsConfig.URL = cfg.NATSURL
		nc, err := messaging.NewNATSClient(natsConfig, logger)
		if err != nil {
			return fmt.Errorf("connect to NATS: %w", err)
		}
		bus = nc
	} else {
		bus = messaging.NewLocalBus()
	}
	defer bus.Close()
	events := messaging.NewEventPublisher(bus)

	log := chat.NewLog(st, events, logger)
	dir := chat.NewDirectory(st, log, events, logger)

	// --- Push stream ---
	wsConfig := ws.DefaultServerConfig()
	wsConfig.Heartbeat = ws.HeartbeatConfig{Interval: cfg.WSPingInterval, Timeout: cfg.WSPingTimeout}
	stream := ws.NewServer(wsConfig, dir, logger)
	if err := stream.Start(); err != nil {
		return err
	}
	defer stream.Shutdown()

	if err := messaging.SubscribeEvents(bus, "ws", logger, stream.Deliver); err != nil {
		return fmt.Errorf("subscribe to events: %w", err)
	}

	// --- Rate limiting ---
	opts := httpapi.Options{
		CORSOrigins:    cfg.CORSOrigins,
		RequestTimeout: cfg.RequestTimeout,
		StoreBackend:   cfg.StoreBackend,
		Stream:         http.HandlerFunc(stream.HandleUpgrade),
	}
	if cfg.RateLimitEnabled {
		client, closeClient, err := limiterClient(ctx, st, cfg.RedisAddr)
		if err != nil {
			return err
		}
		defer closeClient()
		rule := ratelimit.Rule{Key: ratelimit.RuleMessage.Key, Limit: cfg.RateLimitMessages, Window: cfg.RateLimitWindow}
		opts.Limiter = ratelimit.NewLimiter(client, rule, logger)
	}

	// --- Sweeper ---
	// Stopped before the store is closed, so no pass outlives it.
	if cfg.SweeperEnabled {
		sw := sweeper.New(dir, sweeper.Config{Interval: cfg.SweepInterval, Threshold: cfg.InactivityThreshold}, logger)
		stopSweeper := startBackground(ctx, sw.Run)
		defer stopSweeper()
	}

	// --- HTTP ---
	api := httpapi.New(dir, log, st, opts, logger)
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listening", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		logger.Info("received shutdown signal, draining")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown error", "err", err)
	}
	return nil
}

// startBackground runs fn on a child of ctx. The returned stop cancels fn and
// blocks until it has returned.
func startBackground(ctx context.Context, fn func(context.Context)) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn(ctx)
	}()
	return func() {
		cancel()
		<-done
	}
}

// limiterClient reuses the store's Redis client when the store is Redis and
// dials REDIS_ADDR otherwise.
func limiterClient(ctx context.Context, st chat.Store, addr string) (redis.Cmdable, func(), error) {
	if rs, ok := st.(*redisstore.Store); ok {
		return rs.Client(), func() {}, nil
	}
	client := redisstore.NewClient(addr)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("connect to Redis for rate limiting: %w", err)
	}
	return client, func() { _ = client.Close() }, nil
}
