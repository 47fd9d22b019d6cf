//go:generate go run go.uber.org/mock/mockgen -source=sweeper.go -destination=mocks/mock_sweeper.go -package=mocks

// Package sweeper evicts participants whose heartbeat is older than the
// inactivity threshold. Each pass snapshots the directory and then expires
// stale entries one by one with a compare-and-delete, so a participant that
// refreshes mid-sweep is kept.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/whisper/chatroom/internal/chat"
	"github.com/whisper/chatroom/internal/metrics"
)

// Directory is the part of chat.Directory the sweeper needs.
type Directory interface {
	ListAll(ctx context.Context) ([]chat.Participant, error)
	Expire(ctx context.Context, name string, cutoff time.Time) (chat.Participant, error)
}

// Config sets the sweep period and the inactivity threshold.
type Config struct {
	Interval  time.Duration
	Threshold time.Duration
}

// DefaultConfig sweeps every 15s and evicts after 10s of silence.
func DefaultConfig() Config {
	return Config{Interval: 15 * time.Second, Threshold: 10 * time.Second}
}

// Result summarizes one sweep pass.
type Result struct {
	Checked int // participants in the snapshot
	Evicted int // participants removed
	Skipped int // stale participants that were gone or refreshed before removal
}

// Sweeper runs the inactivity sweep.
type Sweeper struct {
	dir    Directory
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Sweeper over dir.
func New(dir Directory, cfg Config, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		dir:    dir,
		cfg:    cfg,
		logger: logger.With("component", "sweeper"),
		now:    time.Now,
	}
}

// Run sweeps every Interval until ctx is cancelled. A failed pass is logged
// and retried on the next tick.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.logger.Info("sweeper started", "interval", s.cfg.Interval, "threshold", s.cfg.Threshold)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweeper stopped")
			return
		case <-ticker.C:
			res, err := s.Sweep(ctx)
			if err != nil {
				if ctx.Err() != nil {
					continue
				}
				s.logger.Error("sweep aborted", "evicted", res.Evicted, "err", err)
				continue
			}
			if res.Evicted > 0 {
				s.logger.Info("sweep complete", "checked", res.Checked, "evicted", res.Evicted, "skipped", res.Skipped)
			}
		}
	}
}

// Sweep performs a single pass. Participants that vanished or refreshed
// after the snapshot are skipped; any other failure aborts the pass.
func (s *Sweeper) Sweep(ctx context.Context) (Result, error) {
	start := time.Now()
	defer func() { metrics.SweepDuration.Observe(time.Since(start).Seconds()) }()

	var res Result
	ps, err := s.dir.ListAll(ctx)
	if err != nil {
		metrics.SweepsTotal.WithLabelValues("aborted").Inc()
		return res, fmt.Errorf("sweeper: list participants: %w", err)
	}
	res.Checked = len(ps)

	cutoff := s.now().UTC().Add(-s.cfg.Threshold)
	for _, p := range ps {
		if !p.IdleSince(cutoff) {
			continue
		}
		if err := ctx.Err(); err != nil {
			metrics.SweepsTotal.WithLabelValues("aborted").Inc()
			return res, err
		}

		_, err := s.dir.Expire(ctx, p.Name, cutoff)
		switch {
		case err == nil:
			res.Evicted++
			metrics.EvictionsTotal.Inc()
			s.logger.Info("evicted inactive participant", "participant", p.Name, "last_heartbeat", p.LastHeartbeat)
		case errors.Is(err, chat.ErrNotFound), errors.Is(err, chat.ErrConflict):
			res.Skipped++
			s.logger.Debug("skipped participant", "participant", p.Name, "err", err)
		default:
			metrics.SweepsTotal.WithLabelValues("aborted").Inc()
			return res, fmt.Errorf("sweeper: expire %q: %w", p.Name, err)
		}
	}

	metrics.SweepsTotal.WithLabelValues("ok").Inc()
	metrics.ParticipantsOnline.Set(float64(res.Checked - res.Evicted))
	return res, nil
}
