// Package config loads the process configuration from the environment. A
// .env file in the working directory is read first when present; variables
// already set in the environment win.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/whisper/chatroom/internal/store"
)

// Config holds every setting of the chat server and the standalone sweeper.
type Config struct {
	ListenAddr string `envconfig:"LISTEN_ADDR" default:":8080"`
	LogLevel   string `envconfig:"LOG_LEVEL" default:"info"`

	// STORE_BACKEND is one of memory, redis, postgres, badger.
	StoreBackend string `envconfig:"STORE_BACKEND" default:"memory"`
	RedisAddr    string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	DatabaseURL  string `envconfig:"DATABASE_URL"`
	BadgerPath   string `envconfig:"BADGER_PATH" default:"data/badger"`

	// NATS_URL enables cross-process events; empty keeps them in process.
	NATSURL string `envconfig:"NATS_URL"`

	SweepInterval       time.Duration `envconfig:"SWEEP_INTERVAL" default:"15s"`
	InactivityThreshold time.Duration `envconfig:"INACTIVITY_THRESHOLD" default:"10s"`
	SweeperEnabled      bool          `envconfig:"SWEEPER_ENABLED" default:"true"`

	// Rate limiting needs Redis at REDIS_ADDR.
	RateLimitEnabled  bool          `envconfig:"RATE_LIMIT_ENABLED" default:"false"`
	RateLimitMessages int           `envconfig:"RATE_LIMIT_MESSAGES" default:"5"`
	RateLimitWindow   time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"10s"`

	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"5s"`
	CORSOrigins    []string      `envconfig:"CORS_ORIGINS" default:"*"`

	WSPingInterval time.Duration `envconfig:"WS_PING_INTERVAL" default:"30s"`
	WSPingTimeout  time.Duration `envconfig:"WS_PING_TIMEOUT" default:"10s"`
}

// Load reads .env (if any) and the environment into a validated Config.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("config: load .env: %w", err)
	}
	return FromEnv()
}

// FromEnv reads the environment only.
func FromEnv() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks value ranges and the settings each backend requires.
func (c Config) Validate() error {
	var errs []error
	switch c.StoreBackend {
	case store.Memory, store.Badger:
	case store.Redis:
		if c.RedisAddr == "" {
			errs = append(errs, errors.New("REDIS_ADDR is required for the redis backend"))
		}
	case store.Postgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORE_BACKEND %q is not one of memory, redis, postgres, badger", c.StoreBackend))
	}
	if c.StoreBackend == store.Badger && c.BadgerPath == "" {
		errs = append(errs, errors.New("BADGER_PATH is required for the badger backend"))
	}
	if c.SweepInterval <= 0 {
		errs = append(errs, errors.New("SWEEP_INTERVAL must be positive"))
	}
	if c.InactivityThreshold <= 0 {
		errs = append(errs, errors.New("INACTIVITY_THRESHOLD must be positive"))
	}
	if c.RateLimitEnabled {
		if c.RateLimitMessages <= 0 {
			errs = append(errs, errors.New("RATE_LIMIT_MESSAGES must be positive"))
		}
		if c.RateLimitWindow <= 0 {
			errs = append(errs, errors.New("RATE_LIMIT_WINDOW must be positive"))
		}
		if c.RedisAddr == "" {
			errs = append(errs, errors.New("REDIS_ADDR is required when rate limiting is enabled"))
		}
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, errors.New("REQUEST_TIMEOUT must be positive"))
	}
	if c.WSPingInterval <= 0 || c.WSPingTimeout <= 0 {
		errs = append(errs, errors.New("WS_PING_INTERVAL and WS_PING_TIMEOUT must be positive"))
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// StoreOptions returns the settings store.Open needs.
func (c Config) StoreOptions() store.Options {
	return store.Options{
		Backend:     c.StoreBackend,
		RedisAddr:   c.RedisAddr,
		DatabaseURL: c.DatabaseURL,
		BadgerPath:  c.BadgerPath,
	}
}

// ParseLevel maps debug, info, warn and error to slog levels.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("LOG_LEVEL %q: %w", s, err)
	}
	return level, nil
}

// NewLogger returns a JSON logger writing to w at the configured level.
func (c Config) NewLogger(w io.Writer) *slog.Logger {
	level, err := ParseLevel(c.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}
