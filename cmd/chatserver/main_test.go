package main

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/whisper/chatroom/internal/config"
)

func TestStartBackground_StopWaitsForReturn(t *testing.T) {
	req := require.New(t)
	var finished atomic.Bool
	started := make(chan struct{})

	stop := startBackground(context.Background(), func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		// A pass still in flight when the stop arrives.
		time.Sleep(50 * time.Millisecond)
		finished.Store(true)
	})
	<-started

	stop()
	req.True(finished.Load(), "stop returned before the task finished")
}

func TestStartBackground_ParentCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	stop := startBackground(ctx, func(ctx context.Context) {
		<-ctx.Done()
		close(done)
	})

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task did not observe parent cancellation")
	}
	stop()
}

func TestRun_ShutsDownOnCancel(t *testing.T) {
	t.Setenv("LISTEN_ADDR", "127.0.0.1:0")
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("SWEEP_INTERVAL", "5ms")

	cfg, err := config.FromEnv()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- run(ctx, cfg, slog.New(slog.NewTextHandler(io.Discard, nil))) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("run did not return after cancel")
	}
}
