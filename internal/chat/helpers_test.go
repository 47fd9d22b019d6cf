package chat_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/whisper/chatroom/internal/chat"
	"github.com/whisper/chatroom/internal/store/memstore"
)

// recorder collects published events.
type recorder struct {
	mu     sync.Mutex
	events []chat.Event
}

func (r *recorder) Publish(_ context.Context, ev chat.Event) error {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	return nil
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

// faultyStore fails message inserts on demand so rollback paths can be
// exercised.
type faultyStore struct {
	*memstore.Store
	mu             sync.Mutex
	failInsertMsgs error
}

func (f *faultyStore) InsertMessage(ctx context.Context, m *chat.Message) error {
	f.mu.Lock()
	err := f.failInsertMsgs
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.Store.InsertMessage(ctx, m)
}

func (f *faultyStore) setFailure(err error) {
	f.mu.Lock()
	f.failInsertMsgs = err
	f.mu.Unlock()
}

type room struct {
	store  chat.Store
	dir    *chat.Directory
	log    *chat.Log
	events *recorder
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newRoom(t *testing.T, store chat.Store) *room {
	t.Helper()
	if store == nil {
		store = memstore.New()
	}
	events := &recorder{}
	logger := discardLogger()
	log := chat.NewLog(store, events, logger)
	return &room{
		store:  store,
		dir:    chat.NewDirectory(store, log, events, logger),
		log:    log,
		events: events,
	}
}

func newMem() *memstore.Store { return memstore.New() }
