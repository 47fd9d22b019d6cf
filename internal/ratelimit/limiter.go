// Package ratelimit provides Redis-backed rate limiting using the INCR + EXPIRE
// fixed window algorithm. It throttles message posts per participant so the
// limit holds across every server sharing the Redis instance.
package ratelimit

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Rule defines a rate limiting policy: the Redis key prefix, maximum number of
// requests allowed in the window, and the window duration.
type Rule struct {
	Key    string        // Redis key prefix, e.g. "rl:msg:"
	Limit  int           // max count in the window
	Window time.Duration // time window
}

// RuleMessage allows 5 messages per 10 seconds per participant.
var RuleMessage = Rule{Key: "rl:msg:", Limit: 5, Window: 10 * time.Second}

// Limiter performs rate limiting checks against Redis for a single rule.
type Limiter struct {
	client redis.Cmdable
	rule   Rule
	logger *slog.Logger
}

// NewLimiter creates a Limiter enforcing rule against client.
func NewLimiter(client redis.Cmdable, rule Rule, logger *slog.Logger) *Limiter {
	return &Limiter{client: client, rule: rule, logger: logger.With("component", "ratelimit")}
}

// Allow checks whether identifier is within the limit. It increments the
// counter in Redis and sets the expiry on first access.
//
// Returns true if the request is allowed, false if rate limited. On Redis
// errors the method fails open (returns true) so that a Redis outage does not
// block legitimate traffic.
func (l *Limiter) Allow(ctx context.Context, identifier string) (bool, error) {
	key := l.rule.Key + identifier

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		l.logger.Warn("redis INCR failed, failing open", "key", key, "err", err)
		return true, err
	}

	// On the first increment, set the expiry to define the window boundary.
	if count == 1 {
		if err := l.client.Expire(ctx, key, l.rule.Window).Err(); err != nil {
			l.logger.Warn("redis EXPIRE failed, failing open", "key", key, "err", err)
			// The key has no TTL and would persist; drop it.
			l.client.Del(ctx, key)
			return true, err
		}
	}

	return int(count) <= l.rule.Limit, nil
}

// Remaining returns the number of requests identifier has left in the
// current window. Returns the full limit if the key does not exist yet or
// Redis fails.
func (l *Limiter) Remaining(ctx context.Context, identifier string) (int, error) {
	key := l.rule.Key + identifier

	count, err := l.client.Get(ctx, key).Int()
	if err == redis.Nil {
		return l.rule.Limit, nil
	}
	if err != nil {
		l.logger.Warn("redis GET failed, failing open", "key", key, "err", err)
		return l.rule.Limit, err
	}

	return max(l.rule.Limit-count, 0), nil
}

// RetryAfter returns how long until the identifier's window resets.
func (l *Limiter) RetryAfter(ctx context.Context, identifier string) time.Duration {
	ttl, err := l.client.TTL(ctx, l.rule.Key+identifier).Result()
	if err != nil || ttl < 0 {
		return l.rule.Window
	}
	return ttl
}
