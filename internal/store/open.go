// Package store selects and opens the chat.Store backend.
package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/whisper/chatroom/internal/chat"
	"github.com/whisper/chatroom/internal/store/badgerstore"
	"github.com/whisper/chatroom/internal/store/memstore"
	"github.com/whisper/chatroom/internal/store/pgstore"
	"github.com/whisper/chatroom/internal/store/redisstore"
)

// Backend names accepted by Open.
const (
	Memory   = "memory"
	Redis    = "redis"
	Postgres = "postgres"
	Badger   = "badger"
)

// Options selects a backend and carries its connection settings.
type Options struct {
	Backend     string
	RedisAddr   string
	DatabaseURL string
	BadgerPath  string
}

// Shared reports whether the backend can be used by more than one process.
func (o Options) Shared() bool {
	return o.Backend == Redis || o.Backend == Postgres
}

// Open connects to the configured backend. Postgres migrations run here.
func Open(ctx context.Context, opts Options, logger *slog.Logger) (chat.Store, error) {
	switch opts.Backend {
	case Memory, "":
		logger.Info("using in-memory store")
		return memstore.New(), nil
	case Redis:
		s, err := redisstore.Open(ctx, opts.RedisAddr)
		if err != nil {
			return nil, err
		}
		logger.Info("connected to redis", "addr", opts.RedisAddr)
		return s, nil
	case Postgres:
		s, err := pgstore.Open(ctx, opts.DatabaseURL)
		if err != nil {
			return nil, err
		}
		logger.Info("connected to postgres")
		return s, nil
	case Badger:
		s, err := badgerstore.Open(opts.BadgerPath)
		if err != nil {
			return nil, err
		}
		logger.Info("opened badger store", "path", opts.BadgerPath)
		return s, nil
	default:
		return nil, fmt.Errorf("store: unknown backend %q", opts.Backend)
	}
}
