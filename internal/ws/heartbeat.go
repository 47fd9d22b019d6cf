package ws

import (
	"time"
)

// HeartbeatConfig holds heartbeat tuning parameters.
type HeartbeatConfig struct {
	Interval time.Duration // how often to ping (default: 30s)
	Timeout  time.Duration // max time to wait for activity after ping (default: 10s)
}

// DefaultHeartbeatConfig returns the default ping cadence.
func DefaultHeartbeatConfig() HeartbeatConfig {
	return HeartbeatConfig{
		Interval: 30 * time.Second,
		Timeout:  10 * time.Second,
	}
}

// startHeartbeat periodically pings every connection and closes those that
// have gone stale (no frame read within Interval + Timeout). The goroutine
// exits when the server's done channel is closed.
func (s *Server) startHeartbeat() {
	cfg := s.config.Heartbeat
	if cfg.Interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(cfg.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-s.done:
				return
			case <-ticker.C:
				s.checkConnections(time.Now())
			}
		}
	}()
}

// checkConnections evicts connections idle for longer than Interval + Timeout
// and sends a protocol ping to the rest, which clients answer with a pong.
// Stream liveness is separate from participant liveness: only client pings
// and posts refresh the heartbeat the sweeper looks at.
func (s *Server) checkConnections(now time.Time) {
	deadline := s.config.Heartbeat.Interval + s.config.Heartbeat.Timeout

	for _, c := range s.conns.All() {
		if idle := now.Sub(c.LastSeen()); idle > deadline {
			s.logger.Info("heartbeat timeout", "conn", c.ID, "user", c.User, "idle", idle.Round(time.Second))
			s.RemoveConnection(c)
			continue
		}

		if err := c.WritePing(s.config.WriteTimeout); err != nil {
			s.logger.Info("heartbeat ping failed", "conn", c.ID, "user", c.User, "err", err)
			s.RemoveConnection(c)
		}
	}
}
