// Package storetest holds the behaviour every chat.Store backend must share.
// Backend tests call Run with a constructor for a fresh, empty store.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/whisper/chatroom/internal/chat"
)

// Run exercises newStore against the chat.Store contract.
func Run(t *testing.T, newStore func(t *testing.T) chat.Store) {
	t.Helper()

	t.Run("InsertParticipant", func(t *testing.T) { testInsertParticipant(t, newStore(t)) })
	t.Run("InsertParticipantConcurrent", func(t *testing.T) { testInsertParticipantConcurrent(t, newStore(t)) })
	t.Run("TouchParticipant", func(t *testing.T) { testTouchParticipant(t, newStore(t)) })
	t.Run("DeleteParticipant", func(t *testing.T) { testDeleteParticipant(t, newStore(t)) })
	t.Run("DeleteIdleParticipant", func(t *testing.T) { testDeleteIdleParticipant(t, newStore(t)) })
	t.Run("InsertMessage", func(t *testing.T) { testInsertMessage(t, newStore(t)) })
	t.Run("UpdateMessage", func(t *testing.T) { testUpdateMessage(t, newStore(t)) })
	t.Run("DeleteMessage", func(t *testing.T) { testDeleteMessage(t, newStore(t)) })
	t.Run("Ping", func(t *testing.T) { require.NoError(t, newStore(t).Ping(context.Background())) })
}

// at returns a UTC time truncated to milliseconds, the coarsest precision any
// backend keeps.
func at(offset time.Duration) time.Time {
	return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC).Add(offset).Truncate(time.Millisecond)
}

func testInsertParticipant(t *testing.T, s chat.Store) {
	req := require.New(t)
	ctx := context.Background()

	ann := chat.Participant{Name: "Ann", LastHeartbeat: at(0)}
	req.NoError(s.InsertParticipant(ctx, ann))
	req.ErrorIs(s.InsertParticipant(ctx, chat.Participant{Name: "Ann", LastHeartbeat: at(time.Second)}), chat.ErrConflict)
	req.NoError(s.InsertParticipant(ctx, chat.Participant{Name: "ann", LastHeartbeat: at(0)}))

	got, err := s.GetParticipant(ctx, "Ann")
	req.NoError(err)
	req.Equal("Ann", got.Name)
	req.True(ann.LastHeartbeat.Equal(got.LastHeartbeat))

	_, err = s.GetParticipant(ctx, "Bob")
	req.ErrorIs(err, chat.ErrNotFound)

	all, err := s.ListParticipants(ctx)
	req.NoError(err)
	req.Len(all, 2)
}

func testInsertParticipantConcurrent(t *testing.T, s chat.Store) {
	req := require.New(t)
	ctx := context.Background()

	const workers = 20
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		won       int
		conflicts int
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.InsertParticipant(ctx, chat.Participant{Name: "Ann", LastHeartbeat: at(0)})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				won++
			} else if errors.Is(err, chat.ErrConflict) {
				conflicts++
			}
		}()
	}
	wg.Wait()

	req.Equal(1, won)
	req.Equal(workers-1, conflicts)
}

func testTouchParticipant(t *testing.T, s chat.Store) {
	req := require.New(t)
	ctx := context.Background()

	req.NoError(s.InsertParticipant(ctx, chat.Participant{Name: "Ann", LastHeartbeat: at(0)}))
	req.NoError(s.TouchParticipant(ctx, "Ann", at(5*time.Second)))

	got, err := s.GetParticipant(ctx, "Ann")
	req.NoError(err)
	req.True(at(5 * time.Second).Equal(got.LastHeartbeat))

	req.ErrorIs(s.TouchParticipant(ctx, "Bob", at(0)), chat.ErrNotFound)
}

func testDeleteParticipant(t *testing.T, s chat.Store) {
	req := require.New(t)
	ctx := context.Background()

	req.NoError(s.InsertParticipant(ctx, chat.Participant{Name: "Ann", LastHeartbeat: at(0)}))

	p, err := s.DeleteParticipant(ctx, "Ann")
	req.NoError(err)
	req.Equal("Ann", p.Name)
	req.True(at(0).Equal(p.LastHeartbeat))

	_, err = s.DeleteParticipant(ctx, "Ann")
	req.ErrorIs(err, chat.ErrNotFound)

	all, err := s.ListParticipants(ctx)
	req.NoError(err)
	req.Empty(all)

	// The name is free again.
	req.NoError(s.InsertParticipant(ctx, chat.Participant{Name: "Ann", LastHeartbeat: at(time.Minute)}))
}

func testDeleteIdleParticipant(t *testing.T, s chat.Store) {
	req := require.New(t)
	ctx := context.Background()

	req.NoError(s.InsertParticipant(ctx, chat.Participant{Name: "Idle", LastHeartbeat: at(0)}))
	req.NoError(s.InsertParticipant(ctx, chat.Participant{Name: "Fresh", LastHeartbeat: at(20 * time.Second)}))
	cutoff := at(10 * time.Second)

	p, err := s.DeleteIdleParticipant(ctx, "Idle", cutoff)
	req.NoError(err)
	req.Equal("Idle", p.Name)

	_, err = s.DeleteIdleParticipant(ctx, "Fresh", cutoff)
	req.ErrorIs(err, chat.ErrConflict)
	_, err = s.GetParticipant(ctx, "Fresh")
	req.NoError(err)

	// A heartbeat exactly at the cutoff is not idle.
	req.NoError(s.TouchParticipant(ctx, "Fresh", cutoff))
	_, err = s.DeleteIdleParticipant(ctx, "Fresh", cutoff)
	req.ErrorIs(err, chat.ErrConflict)

	_, err = s.DeleteIdleParticipant(ctx, "Nobody", cutoff)
	req.ErrorIs(err, chat.ErrNotFound)
}

func newMessage(from, to, text, kind string, offset time.Duration) *chat.Message {
	return &chat.Message{
		ID:   uuid.New().String(),
		From: from,
		To:   to,
		Text: text,
		Kind: kind,
		Time: at(offset),
	}
}

func testInsertMessage(t *testing.T, s chat.Store) {
	req := require.New(t)
	ctx := context.Background()

	var inserted []*chat.Message
	for i, text := range []string{"one", "two", "three"} {
		m := newMessage("Ann", chat.Broadcast, text, chat.KindMessage, time.Duration(i)*time.Second)
		req.NoError(s.InsertMessage(ctx, m))
		req.Positive(m.Seq)
		if len(inserted) > 0 {
			req.Greater(m.Seq, inserted[len(inserted)-1].Seq)
		}
		inserted = append(inserted, m)
	}

	got, err := s.GetMessage(ctx, inserted[1].ID)
	req.NoError(err)
	req.Equal(inserted[1].ID, got.ID)
	req.Equal(inserted[1].Seq, got.Seq)
	req.Equal("Ann", got.From)
	req.Equal(chat.Broadcast, got.To)
	req.Equal("two", got.Text)
	req.Equal(chat.KindMessage, got.Kind)
	req.True(inserted[1].Time.Equal(got.Time))

	_, err = s.GetMessage(ctx, uuid.New().String())
	req.ErrorIs(err, chat.ErrNotFound)

	dup := *inserted[0]
	req.ErrorIs(s.InsertMessage(ctx, &dup), chat.ErrConflict)

	all, err := s.ListMessages(ctx)
	req.NoError(err)
	req.Len(all, 3)
	for i, m := range all {
		req.Equal(inserted[i].ID, m.ID)
	}
}

func testUpdateMessage(t *testing.T, s chat.Store) {
	req := require.New(t)
	ctx := context.Background()

	m := newMessage("Ann", chat.Broadcast, "hello", chat.KindMessage, 0)
	req.NoError(s.InsertMessage(ctx, m))

	changed := *m
	changed.To, changed.Text, changed.Kind = "Bob", "psst", chat.KindPrivate
	changed.From = "Mallory"
	req.NoError(s.UpdateMessage(ctx, changed))

	got, err := s.GetMessage(ctx, m.ID)
	req.NoError(err)
	req.Equal("Bob", got.To)
	req.Equal("psst", got.Text)
	req.Equal(chat.KindPrivate, got.Kind)
	req.Equal("Ann", got.From, "sender is immutable")
	req.Equal(m.Seq, got.Seq)

	missing := *m
	missing.ID = uuid.New().String()
	req.ErrorIs(s.UpdateMessage(ctx, missing), chat.ErrNotFound)
}

func testDeleteMessage(t *testing.T, s chat.Store) {
	req := require.New(t)
	ctx := context.Background()

	a := newMessage("Ann", chat.Broadcast, "a", chat.KindMessage, 0)
	b := newMessage("Ann", chat.Broadcast, "b", chat.KindMessage, time.Second)
	req.NoError(s.InsertMessage(ctx, a))
	req.NoError(s.InsertMessage(ctx, b))

	req.NoError(s.DeleteMessage(ctx, a.ID))
	req.ErrorIs(s.DeleteMessage(ctx, a.ID), chat.ErrNotFound)

	_, err := s.GetMessage(ctx, a.ID)
	req.ErrorIs(err, chat.ErrNotFound)

	all, err := s.ListMessages(ctx)
	req.NoError(err)
	req.Len(all, 1)
	req.Equal(b.ID, all[0].ID)

	// Sequence numbers are not reused.
	c := newMessage("Ann", chat.Broadcast, "c", chat.KindMessage, 2*time.Second)
	req.NoError(s.InsertMessage(ctx, c))
	req.Greater(c.Seq, b.Seq)
}
