package chat_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/whisper/chatroom/internal/chat"
	"github.com/whisper/chatroom/internal/store/memstore"
)

func TestRegister_ThenListShowsOneEntry(t *testing.T) {
	req := require.New(t)
	r := newRoom(t, nil)
	ctx := context.Background()

	p, err := r.dir.Register(ctx, "Ann")
	req.NoError(err)
	req.Equal("Ann", p.Name)
	req.False(p.LastHeartbeat.IsZero())

	ps, err := r.dir.ListAll(ctx)
	req.NoError(err)
	req.Len(ps, 1)
	req.Equal("Ann", ps[0].Name)
}

func TestRegister_DuplicateNameConflicts(t *testing.T) {
	req := require.New(t)
	r := newRoom(t, nil)
	ctx := context.Background()

	_, err := r.dir.Register(ctx, "Ann")
	req.NoError(err)

	_, err = r.dir.Register(ctx, "Ann")
	req.ErrorIs(err, chat.ErrConflict)

	ps, err := r.dir.ListAll(ctx)
	req.NoError(err)
	req.Len(ps, 1)
}

func TestRegister_NamesAreCaseSensitive(t *testing.T) {
	req := require.New(t)
	r := newRoom(t, nil)
	ctx := context.Background()

	_, err := r.dir.Register(ctx, "ann")
	req.NoError(err)
	_, err = r.dir.Register(ctx, "Ann")
	req.NoError(err)

	ps, err := r.dir.ListAll(ctx)
	req.NoError(err)
	req.Len(ps, 2)
}

func TestRegister_InvalidNames(t *testing.T) {
	r := newRoom(t, nil)
	ctx := context.Background()

	cases := map[string]string{
		"empty":       "",
		"whitespace":  "   \t ",
		"markup only": "<b></b>",
		"script":      "<script>alert(1)</script>",
		"too long":    strings.Repeat("a", chat.MaxNameChars+1),
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := r.dir.Register(ctx, input)
			require.ErrorIs(t, err, chat.ErrInvalidInput)
		})
	}
}

func TestRegister_StripsMarkup(t *testing.T) {
	req := require.New(t)
	r := newRoom(t, nil)

	p, err := r.dir.Register(context.Background(), "  <b>Ann</b> ")
	req.NoError(err)
	req.Equal("Ann", p.Name)
}

func TestRegister_AppendsJoinNotice(t *testing.T) {
	req := require.New(t)
	r := newRoom(t, nil)
	ctx := context.Background()

	_, err := r.dir.Register(ctx, "Ann")
	req.NoError(err)

	msgs, err := r.log.ListFor(ctx, "Bob", 0)
	req.NoError(err)
	req.Len(msgs, 1)
	req.Equal(chat.KindStatus, msgs[0].Kind)
	req.Equal("Ann", msgs[0].From)
	req.Equal(chat.Broadcast, msgs[0].To)
	req.Equal(chat.NoticeJoined, msgs[0].Text)

	req.Equal([]string{chat.EventMessageCreated, chat.EventParticipantJoined}, r.events.types())
}

func TestRegister_RollsBackWhenNoticeFails(t *testing.T) {
	req := require.New(t)
	store := &faultyStore{Store: memstore.New()}
	r := newRoom(t, store)
	ctx := context.Background()

	store.setFailure(fmt.Errorf("boom: %w", chat.ErrUnavailable))
	_, err := r.dir.Register(ctx, "Ann")
	req.ErrorIs(err, chat.ErrUnavailable)

	online, err := r.dir.IsOnline(ctx, "Ann")
	req.NoError(err)
	req.False(online, "participant must not survive a failed registration")

	store.setFailure(nil)
	_, err = r.dir.Register(ctx, "Ann")
	req.NoError(err)
}

func TestRegister_ConcurrentSameNameOnlyOneWins(t *testing.T) {
	req := require.New(t)
	r := newRoom(t, nil)
	ctx := context.Background()

	const goroutines = 50
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		conflicts int
	)
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			_, err := r.dir.Register(ctx, "Ann")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, chat.ErrConflict):
				conflicts++
			}
		}()
	}
	wg.Wait()

	req.Equal(1, succeeded)
	req.Equal(goroutines-1, conflicts)

	ps, err := r.dir.ListAll(ctx)
	req.NoError(err)
	req.Len(ps, 1)
}

func TestTouch(t *testing.T) {
	req := require.New(t)
	r := newRoom(t, nil)
	ctx := context.Background()

	req.ErrorIs(r.dir.Touch(ctx, "Ghost"), chat.ErrNotFound)
	req.ErrorIs(r.dir.Touch(ctx, " "), chat.ErrInvalidInput)

	before := time.Now().UTC().Add(-time.Hour)
	req.NoError(r.store.InsertParticipant(ctx, chat.Participant{Name: "Ann", LastHeartbeat: before}))
	req.NoError(r.dir.Touch(ctx, "Ann"))

	p, err := r.store.GetParticipant(ctx, "Ann")
	req.NoError(err)
	req.True(p.LastHeartbeat.After(before))
}

func TestRemove(t *testing.T) {
	req := require.New(t)
	r := newRoom(t, nil)
	ctx := context.Background()

	_, err := r.dir.Register(ctx, "Ann")
	req.NoError(err)

	p, err := r.dir.Remove(ctx, "Ann")
	req.NoError(err)
	req.Equal("Ann", p.Name)

	online, err := r.dir.IsOnline(ctx, "Ann")
	req.NoError(err)
	req.False(online)

	msgs, err := r.log.ListFor(ctx, "Bob", 0)
	req.NoError(err)
	req.Len(msgs, 2)
	req.Equal(chat.NoticeLeft, msgs[1].Text)

	_, err = r.dir.Remove(ctx, "Ann")
	req.ErrorIs(err, chat.ErrNotFound)
}

func TestRemove_RestoresParticipantWhenNoticeFails(t *testing.T) {
	req := require.New(t)
	store := &faultyStore{Store: memstore.New()}
	r := newRoom(t, store)
	ctx := context.Background()

	_, err := r.dir.Register(ctx, "Ann")
	req.NoError(err)

	store.setFailure(fmt.Errorf("boom: %w", chat.ErrUnavailable))
	_, err = r.dir.Remove(ctx, "Ann")
	req.ErrorIs(err, chat.ErrUnavailable)

	online, err := r.dir.IsOnline(ctx, "Ann")
	req.NoError(err)
	req.True(online)
}

func TestExpire(t *testing.T) {
	req := require.New(t)
	r := newRoom(t, nil)
	ctx := context.Background()
	now := time.Now().UTC()

	req.NoError(r.store.InsertParticipant(ctx, chat.Participant{Name: "Idle", LastHeartbeat: now.Add(-time.Minute)}))
	req.NoError(r.store.InsertParticipant(ctx, chat.Participant{Name: "Fresh", LastHeartbeat: now}))

	cutoff := now.Add(-10 * time.Second)

	p, err := r.dir.Expire(ctx, "Idle", cutoff)
	req.NoError(err)
	req.Equal("Idle", p.Name)

	_, err = r.dir.Expire(ctx, "Fresh", cutoff)
	req.ErrorIs(err, chat.ErrConflict)

	_, err = r.dir.Expire(ctx, "Idle", cutoff)
	req.ErrorIs(err, chat.ErrNotFound)

	ps, err := r.dir.ListAll(ctx)
	req.NoError(err)
	req.Len(ps, 1)
	req.Equal("Fresh", ps[0].Name)
}

func TestListAll_SortedByName(t *testing.T) {
	req := require.New(t)
	r := newRoom(t, nil)
	ctx := context.Background()

	for _, n := range []string{"Carl", "Ann", "Bob"} {
		_, err := r.dir.Register(ctx, n)
		req.NoError(err)
	}
	ps, err := r.dir.ListAll(ctx)
	req.NoError(err)
	req.Equal("Ann", ps[0].Name)
	req.Equal("Bob", ps[1].Name)
	req.Equal("Carl", ps[2].Name)
}
