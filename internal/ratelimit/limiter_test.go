package ratelimit

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(t *testing.T, rule Rule) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewLimiter(client, rule, slog.New(slog.NewTextHandler(io.Discard, nil))), srv
}

func TestAllow_WithinAndOverLimit(t *testing.T) {
	req := require.New(t)
	rule := Rule{Key: "rl:test:", Limit: 3, Window: 10 * time.Second}
	l, _ := newTestLimiter(t, rule)
	ctx := context.Background()

	for i := range rule.Limit {
		ok, err := l.Allow(ctx, "Ann")
		req.NoError(err)
		req.True(ok, "request %d should be allowed", i+1)
	}
	ok, err := l.Allow(ctx, "Ann")
	req.NoError(err)
	req.False(ok)

	// Other identifiers have their own window.
	ok, err = l.Allow(ctx, "Bob")
	req.NoError(err)
	req.True(ok)
}

func TestAllow_WindowExpires(t *testing.T) {
	req := require.New(t)
	rule := Rule{Key: "rl:test:", Limit: 1, Window: 10 * time.Second}
	l, srv := newTestLimiter(t, rule)
	ctx := context.Background()

	ok, _ := l.Allow(ctx, "Ann")
	req.True(ok)
	ok, _ = l.Allow(ctx, "Ann")
	req.False(ok)

	req.Equal(10*time.Second, l.RetryAfter(ctx, "Ann"))
	srv.FastForward(11 * time.Second)

	ok, err := l.Allow(ctx, "Ann")
	req.NoError(err)
	req.True(ok)
}

func TestRemaining(t *testing.T) {
	req := require.New(t)
	rule := Rule{Key: "rl:test:", Limit: 2, Window: time.Minute}
	l, _ := newTestLimiter(t, rule)
	ctx := context.Background()

	n, err := l.Remaining(ctx, "Ann")
	req.NoError(err)
	req.Equal(2, n)

	for range 3 {
		_, _ = l.Allow(ctx, "Ann")
	}
	n, err = l.Remaining(ctx, "Ann")
	req.NoError(err)
	req.Zero(n)
}

func TestAllow_FailsOpen(t *testing.T) {
	l, srv := newTestLimiter(t, RuleMessage)
	srv.Close()

	ok, err := l.Allow(context.Background(), "Ann")
	require.Error(t, err)
	require.True(t, ok)
}
