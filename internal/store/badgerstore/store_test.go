package badgerstore

import (
	"context"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/whisper/chatroom/internal/chat"
	"github.com/whisper/chatroom/internal/store/storetest"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) chat.Store { return newTestStore(t) })
}

func TestStore_InMemory(t *testing.T) {
	req := require.New(t)
	s, err := Open("")
	req.NoError(err)
	defer s.Close()

	req.NoError(s.InsertParticipant(context.Background(), chat.Participant{Name: "Ann", LastHeartbeat: time.Now().UTC()}))
	_, err = s.GetParticipant(context.Background(), "Ann")
	req.NoError(err)
}

func TestStore_SurvivesReopen(t *testing.T) {
	req := require.New(t)
	dir := t.TempDir()
	ctx := context.Background()

	s, err := Open(dir)
	req.NoError(err)
	first := &chat.Message{ID: uuid.New().String(), From: "Ann", To: chat.Broadcast, Text: "before", Kind: chat.KindMessage, Time: time.Now().UTC()}
	req.NoError(s.InsertMessage(ctx, first))
	req.NoError(s.Close())

	s, err = Open(dir)
	req.NoError(err)
	defer s.Close()

	second := &chat.Message{ID: uuid.New().String(), From: "Ann", To: chat.Broadcast, Text: "after", Kind: chat.KindMessage, Time: time.Now().UTC()}
	req.NoError(s.InsertMessage(ctx, second))
	req.Greater(second.Seq, first.Seq)

	all, err := s.ListMessages(ctx)
	req.NoError(err)
	req.Len(all, 2)
	req.Equal("before", all[0].Text)
	req.Equal("after", all[1].Text)
}

func TestOrderKey_SortsNumerically(t *testing.T) {
	req := require.New(t)
	req.Less(string(orderKey(9)), string(orderKey(10)))
	req.Less(string(orderKey(99)), string(orderKey(1000)))
}

func TestStore_ClosedIsUnavailable(t *testing.T) {
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	require.NoError(t, err)
	s, err := New(db)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	require.ErrorIs(t, s.Ping(context.Background()), chat.ErrUnavailable)
}
