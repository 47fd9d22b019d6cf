package sweeper

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/whisper/chatroom/internal/chat"
	"github.com/whisper/chatroom/internal/metrics"
	"github.com/whisper/chatroom/internal/store/memstore"
	"github.com/whisper/chatroom/internal/sweeper/mocks"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestSweeper(dir Directory) *Sweeper {
	s := New(dir, Config{Interval: time.Second, Threshold: 10 * time.Second}, discardLogger())
	s.now = func() time.Time { return base }
	return s
}

func participant(name string, age time.Duration) chat.Participant {
	return chat.Participant{Name: name, LastHeartbeat: base.Add(-age)}
}

func TestSweep(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	cutoff := base.Add(-10 * time.Second)

	t.Run("should expire only participants older than the threshold", func(t *testing.T) {
		req := require.New(t)
		dir := mocks.NewMockDirectory(ctrl)
		dir.EXPECT().ListAll(gomock.Any()).Return([]chat.Participant{
			participant("Idle", 11*time.Second),
			participant("Fresh", 2*time.Second),
			participant("Edge", 10*time.Second),
		}, nil)
		dir.EXPECT().Expire(gomock.Any(), "Idle", cutoff).Return(participant("Idle", 11*time.Second), nil).Times(1)

		res, err := newTestSweeper(dir).Sweep(context.Background())
		req.NoError(err)
		req.Equal(Result{Checked: 3, Evicted: 1}, res)
	})

	t.Run("should skip participants that vanished or refreshed", func(t *testing.T) {
		req := require.New(t)
		dir := mocks.NewMockDirectory(ctrl)
		dir.EXPECT().ListAll(gomock.Any()).Return([]chat.Participant{
			participant("Gone", time.Minute),
			participant("Back", time.Minute),
			participant("Idle", time.Minute),
		}, nil)
		gomock.InOrder(
			dir.EXPECT().Expire(gomock.Any(), "Gone", cutoff).Return(chat.Participant{}, fmt.Errorf("gone: %w", chat.ErrNotFound)),
			dir.EXPECT().Expire(gomock.Any(), "Back", cutoff).Return(chat.Participant{}, fmt.Errorf("active: %w", chat.ErrConflict)),
			dir.EXPECT().Expire(gomock.Any(), "Idle", cutoff).Return(participant("Idle", time.Minute), nil),
		)

		res, err := newTestSweeper(dir).Sweep(context.Background())
		req.NoError(err)
		req.Equal(Result{Checked: 3, Evicted: 1, Skipped: 2}, res)
	})

	t.Run("should abort the pass when the store is unavailable", func(t *testing.T) {
		req := require.New(t)
		dir := mocks.NewMockDirectory(ctrl)
		dir.EXPECT().ListAll(gomock.Any()).Return([]chat.Participant{
			participant("A", time.Minute),
			participant("B", time.Minute),
		}, nil)
		dir.EXPECT().Expire(gomock.Any(), "A", cutoff).Return(chat.Participant{}, fmt.Errorf("down: %w", chat.ErrUnavailable))
		dir.EXPECT().Expire(gomock.Any(), "B", gomock.Any()).Times(0)

		_, err := newTestSweeper(dir).Sweep(context.Background())
		req.ErrorIs(err, chat.ErrUnavailable)
	})

	t.Run("should fail when the snapshot cannot be taken", func(t *testing.T) {
		req := require.New(t)
		dir := mocks.NewMockDirectory(ctrl)
		dir.EXPECT().ListAll(gomock.Any()).Return(nil, fmt.Errorf("down: %w", chat.ErrUnavailable))

		_, err := newTestSweeper(dir).Sweep(context.Background())
		req.ErrorIs(err, chat.ErrUnavailable)
	})

	t.Run("should stop when the context is cancelled", func(t *testing.T) {
		req := require.New(t)
		dir := mocks.NewMockDirectory(ctrl)
		dir.EXPECT().ListAll(gomock.Any()).Return([]chat.Participant{participant("A", time.Minute)}, nil)
		dir.EXPECT().Expire(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := newTestSweeper(dir).Sweep(ctx)
		req.ErrorIs(err, context.Canceled)
	})
}

func TestRun_StopsOnCancel(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	dir := mocks.NewMockDirectory(ctrl)
	swept := make(chan struct{}, 1)
	dir.EXPECT().ListAll(gomock.Any()).DoAndReturn(func(context.Context) ([]chat.Participant, error) {
		select {
		case swept <- struct{}{}:
		default:
		}
		return nil, nil
	}).MinTimes(1)

	s := New(dir, Config{Interval: 5 * time.Millisecond, Threshold: time.Second}, discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	select {
	case <-swept:
	case <-time.After(2 * time.Second):
		t.Fatal("no sweep ran")
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

// TestSweep_Directory runs a pass against a real directory.
func TestSweep_Directory(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	store := memstore.New()
	log := chat.NewLog(store, nil, discardLogger())
	dir := chat.NewDirectory(store, log, nil, discardLogger())

	req.NoError(store.InsertParticipant(ctx, chat.Participant{Name: "Ann", LastHeartbeat: time.Now().UTC().Add(-time.Minute)}))
	_, err := dir.Register(ctx, "Bob")
	req.NoError(err)

	s := New(dir, DefaultConfig(), discardLogger())
	res, err := s.Sweep(ctx)
	req.NoError(err)
	req.Equal(1, res.Evicted)

	ps, err := dir.ListAll(ctx)
	req.NoError(err)
	req.Len(ps, 1)
	req.Equal("Bob", ps[0].Name)

	msgs, err := log.ListFor(ctx, "Bob", 0)
	req.NoError(err)
	var leaves int
	for _, m := range msgs {
		if m.Kind == chat.KindStatus && m.From == "Ann" && m.Text == chat.NoticeLeft {
			leaves++
		}
	}
	req.Equal(1, leaves)

	// A second pass finds nothing left to do.
	res, err = s.Sweep(ctx)
	req.NoError(err)
	req.Zero(res.Evicted)
}

func TestSweep_SetsOnlineGauge(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	req := require.New(t)

	metrics.ParticipantsOnline.Set(42)
	dir := mocks.NewMockDirectory(ctrl)
	dir.EXPECT().ListAll(gomock.Any()).Return([]chat.Participant{
		participant("Idle", time.Minute),
		participant("Ann", time.Second),
		participant("Bob", time.Second),
	}, nil)
	dir.EXPECT().Expire(gomock.Any(), "Idle", gomock.Any()).Return(participant("Idle", time.Minute), nil)

	_, err := newTestSweeper(dir).Sweep(context.Background())
	req.NoError(err)
	req.Equal(float64(2), testutil.ToFloat64(metrics.ParticipantsOnline))
}
