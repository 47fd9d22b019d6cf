// Package ws serves the push stream: a WebSocket per online participant that
// relays room events visible to that participant. Reads are multiplexed with
// epoll on Linux and dispatched to a bounded worker pool.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"

	"github.com/whisper/chatroom/internal/chat"
	"github.com/whisper/chatroom/internal/metrics"
	"github.com/whisper/chatroom/internal/protocol"
)

// Presence answers whether a participant is online and records heartbeats.
// *chat.Directory implements it.
type Presence interface {
	IsOnline(ctx context.Context, name string) (bool, error)
	Touch(ctx context.Context, name string) error
}

// ServerConfig holds tunable parameters for the push stream.
type ServerConfig struct {
	WorkerPoolSize int           // max concurrent read-worker goroutines
	MaxConnections int           // hard cap on total connections
	ReadTimeout    time.Duration // timeout for WebSocket read operations
	WriteTimeout   time.Duration // timeout for WebSocket write operations
	QueueSize      int           // events buffered for fan-out
	Heartbeat      HeartbeatConfig
}

// DefaultServerConfig returns a ServerConfig with production defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		WorkerPoolSize: 256,
		MaxConnections: 10000,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		QueueSize:      1024,
		Heartbeat:      DefaultHeartbeatConfig(),
	}
}

// Server upgrades HTTP requests to WebSocket, registers the connections with
// epoll and fans room events out to them.
type Server struct {
	config     ServerConfig
	presence   Presence
	logger     *slog.Logger
	epoll      *Epoll
	conns      *ConnectionManager
	workerPool chan struct{} // semaphore limiting concurrent read workers
	events     chan chat.Event
	done       chan struct{}
	started    atomic.Bool
	stopOnce   sync.Once
}

// NewServer creates a Server. Start must be called before connections are
// accepted.
func NewServer(config ServerConfig, presence Presence, logger *slog.Logger) *Server {
	if config.WorkerPoolSize <= 0 {
		config.WorkerPoolSize = 1
	}
	if config.QueueSize <= 0 {
		config.QueueSize = 1
	}
	return &Server{
		config:     config,
		presence:   presence,
		logger:     logger.With("component", "ws"),
		conns:      NewConnectionManager(),
		workerPool: make(chan struct{}, config.WorkerPoolSize),
		events:     make(chan chat.Event, config.QueueSize),
		done:       make(chan struct{}),
	}
}

// Start creates the epoll instance and starts the read loop, the event
// fan-out and the heartbeat monitor in background goroutines.
func (s *Server) Start() error {
	ep, err := NewEpoll()
	if err != nil {
		return fmt.Errorf("ws: failed to create epoll: %w", err)
	}
	s.epoll = ep
	s.started.Store(true)

	go s.startEventLoop()
	go s.fanOut()
	s.startHeartbeat()

	s.logger.Info("push stream started",
		"workers", s.config.WorkerPoolSize, "max_conns", s.config.MaxConnections)
	return nil
}

// HandleUpgrade upgrades the request to a WebSocket stream for the
// participant named by the "user" query parameter or the User header. The
// participant must be online.
func (s *Server) HandleUpgrade(w http.ResponseWriter, r *http.Request) {
	if !s.started.Load() || s.stopped() {
		httpError(w, http.StatusServiceUnavailable, "unavailable", "stream not running")
		return
	}
	user := strings.TrimSpace(r.URL.Query().Get("user"))
	if user == "" {
		user = strings.TrimSpace(r.Header.Get("User"))
	}
	if user == "" {
		httpError(w, http.StatusUnprocessableEntity, "invalid_input", "user is required")
		return
	}
	if s.conns.Count() >= s.config.MaxConnections {
		httpError(w, http.StatusServiceUnavailable, "unavailable", "too many connections")
		return
	}

	online, err := s.presence.IsOnline(r.Context(), user)
	if err != nil {
		s.logger.Warn("presence lookup failed", "user", user, "err", err)
		httpError(w, http.StatusServiceUnavailable, "unavailable", "participant lookup failed")
		return
	}
	if !online {
		httpError(w, http.StatusNotFound, "not_found", "participant is not in the room")
		return
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		s.logger.Debug("upgrade failed", "user", user, "err", err)
		return
	}

	c := newConnection(uuid.New().String(), user, conn)
	s.conns.Add(c)
	if err := s.epoll.Add(conn); err != nil {
		s.logger.Warn("epoll add failed", "conn", c.ID, "err", err)
		s.conns.Remove(c.ID)
		return
	}
	metrics.StreamConnections.Inc()

	hello, err := protocol.NewServerMessage(protocol.TypeConnected, protocol.ConnectedMsg{User: user})
	if err != nil {
		s.logger.Error("failed to build connected message", "conn", c.ID, "err", err)
	} else if err := c.WriteMessage(hello, s.config.WriteTimeout); err != nil {
		s.logger.Debug("failed to send connected message", "conn", c.ID, "err", err)
	}

	s.logger.Info("stream opened", "conn", c.ID, "user", user, "total", s.conns.Count())
}

// Deliver queues ev for relay to every connection allowed to see it. It
// never blocks; when the queue is full the event is dropped.
func (s *Server) Deliver(ev chat.Event) {
	if s.stopped() {
		return
	}
	select {
	case s.events <- ev:
	default:
		s.logger.Warn("event queue full, dropping event", "type", ev.Type)
	}
}

func (s *Server) fanOut() {
	for {
		select {
		case <-s.done:
			return
		case ev := <-s.events:
			s.relay(ev)
		}
	}
}

// relay writes ev to the connections it is visible to. A participant that
// left has its streams closed after the final frame.
func (s *Server) relay(ev chat.Event) {
	data, err := protocol.FromEvent(ev)
	if err != nil {
		s.logger.Error("failed to encode event", "type", ev.Type, "err", err)
		return
	}

	for _, c := range s.conns.All() {
		if !ev.VisibleTo(c.User) {
			continue
		}
		if err := c.WriteMessage(data, s.config.WriteTimeout); err != nil {
			s.logger.Debug("write failed", "conn", c.ID, "err", err)
			s.RemoveConnection(c)
			continue
		}
		metrics.StreamFramesTotal.Inc()
	}

	if ev.Type == chat.EventParticipantLeft && ev.Participant != nil {
		for _, c := range s.conns.ForUser(ev.Participant.Name) {
			s.RemoveConnection(c)
		}
	}
}

// startEventLoop runs the epoll wait loop. For each batch of ready
// connections, it dispatches each to a worker goroutine (bounded by the
// worker pool semaphore) that reads and processes the WebSocket frame.
func (s *Server) startEventLoop() {
	for {
		select {
		case <-s.done:
			return
		default:
		}

		conns, err := s.epoll.Wait()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			if isEINTR(err) {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("epoll wait error", "err", err)
			continue
		}

		for _, conn := range conns {
			s.workerPool <- struct{}{}

			go func() {
				defer func() { <-s.workerPool }()
				s.handleConn(conn)
			}()
		}
	}
}

// handleConn reads a single WebSocket frame from a ready connection using
// wsutil.NextReader so that control frames are handled without blocking on
// a data frame that may never arrive.
func (s *Server) handleConn(netConn net.Conn) {
	c := s.conns.GetByConn(netConn)
	if c == nil {
		return
	}

	// One reader per stream until Rearm.
	if !atomic.CompareAndSwapInt32(&c.processing, 0, 1) {
		return
	}
	defer func() {
		atomic.StoreInt32(&c.processing, 0)
		s.epoll.Rearm(netConn)
	}()

	if s.config.ReadTimeout > 0 {
		_ = netConn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
	}

	header, reader, err := wsutil.NextReader(netConn, ws.StateServerSide)
	if err != nil {
		// A timeout means the readiness was stale; the heartbeat handles
		// dead connections.
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return
		}
		s.RemoveConnection(c)
		return
	}

	_ = netConn.SetReadDeadline(time.Time{})
	c.MarkSeen()

	if header.OpCode.IsControl() {
		switch header.OpCode {
		case ws.OpClose:
			s.RemoveConnection(c)
		case ws.OpPing:
			c.writeMu.Lock()
			_ = ws.WriteFrame(c.Conn, ws.NewPongFrame(nil))
			c.writeMu.Unlock()
		}
		return
	}

	data := make([]byte, header.Length)
	if header.Length > 0 {
		if _, err := io.ReadFull(reader, data); err != nil {
			s.RemoveConnection(c)
			return
		}
	}
	if len(data) == 0 {
		return
	}

	s.dispatch(c, data)
}

// RemoveConnection removes a connection from both epoll and the connection
// manager, and closes the underlying network connection. Concurrent removals
// of the same connection are harmless.
func (s *Server) RemoveConnection(c *Connection) {
	if s.epoll != nil {
		_ = s.epoll.Remove(c.Conn)
	}
	if !s.conns.Remove(c.ID) {
		return
	}
	metrics.StreamConnections.Dec()
	s.logger.Info("stream closed", "conn", c.ID, "user", c.User, "total", s.conns.Count())
}

// Connections returns the ConnectionManager.
func (s *Server) Connections() *ConnectionManager {
	return s.conns
}

// Shutdown stops the loops, closes all active connections and releases the
// epoll instance. It is safe to call more than once.
func (s *Server) Shutdown() {
	s.stopOnce.Do(func() {
		s.logger.Info("shutting down push stream")
		close(s.done)

		for _, c := range s.conns.All() {
			s.RemoveConnection(c)
		}
		if s.epoll != nil {
			_ = s.epoll.Close()
		}
	})
}

func (s *Server) stopped() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// isEINTR checks if the error is a syscall interrupted error (EINTR),
// which is expected during signal handling and should be retried.
func isEINTR(err error) bool {
	if err == nil {
		return false
	}
	return err.Error() == "interrupted system call" ||
		err.Error() == "errno 4"
}

func httpError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}{code, message})
}
