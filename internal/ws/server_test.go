package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/stretchr/testify/require"

	"github.com/whisper/chatroom/internal/chat"
	"github.com/whisper/chatroom/internal/protocol"
)

type fakePresence struct {
	mu       sync.Mutex
	online   map[string]bool
	touched  []string
	touchErr error
}

func newFakePresence(names ...string) *fakePresence {
	p := &fakePresence{online: make(map[string]bool)}
	for _, n := range names {
		p.online[n] = true
	}
	return p
}

func (p *fakePresence) IsOnline(_ context.Context, name string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.online[name], nil
}

func (p *fakePresence) Touch(_ context.Context, name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.touchErr != nil {
		return p.touchErr
	}
	p.touched = append(p.touched, name)
	return nil
}

func (p *fakePresence) touches() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.touched...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() ServerConfig {
	cfg := DefaultServerConfig()
	cfg.Heartbeat.Interval = 0 // driven manually
	cfg.WriteTimeout = time.Second
	return cfg
}

func startServer(t *testing.T, presence Presence) (*Server, *httptest.Server) {
	t.Helper()
	srv := NewServer(testConfig(), presence, testLogger())
	require.NoError(t, srv.Start())
	ts := httptest.NewServer(http.HandlerFunc(srv.HandleUpgrade))
	t.Cleanup(func() {
		srv.Shutdown()
		ts.Close()
	})
	return srv, ts
}

// client is a test stream client.
type client struct {
	conn net.Conn
	rw   io.ReadWriter
}

func dial(t *testing.T, ts *httptest.Server, user string) *client {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/?user=" + user
	conn, br, _, err := ws.Dial(context.Background(), url)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	var r io.Reader = conn
	if br != nil {
		r = br
	}
	return &client{conn: conn, rw: struct {
		io.Reader
		io.Writer
	}{r, conn}}
}

func (c *client) read(t *testing.T) map[string]any {
	t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	data, err := wsutil.ReadServerText(c.rw)
	require.NoError(t, err)
	var frame map[string]any
	require.NoError(t, json.Unmarshal(data, &frame))
	return frame
}

func (c *client) send(t *testing.T, text string) {
	t.Helper()
	require.NoError(t, wsutil.WriteClientText(c.conn, []byte(text)))
}

func TestHandleUpgrade_Rejects(t *testing.T) {
	srv := NewServer(testConfig(), newFakePresence("Ann"), testLogger())
	require.NoError(t, srv.Start())
	defer srv.Shutdown()

	cases := []struct {
		name   string
		target string
		want   int
	}{
		{"missing user", "/ws", http.StatusUnprocessableEntity},
		{"offline user", "/ws?user=Bob", http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			srv.HandleUpgrade(rec, httptest.NewRequest(http.MethodGet, tc.target, nil))
			require.Equal(t, tc.want, rec.Code)
		})
	}
}

func TestHandleUpgrade_NotStarted(t *testing.T) {
	srv := NewServer(testConfig(), newFakePresence("Ann"), testLogger())
	rec := httptest.NewRecorder()
	srv.HandleUpgrade(rec, httptest.NewRequest(http.MethodGet, "/ws?user=Ann", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStream_RelaysVisibleEvents(t *testing.T) {
	req := require.New(t)
	srv, ts := startServer(t, newFakePresence("Ann", "Bob"))

	ann := dial(t, ts, "Ann")
	hello := ann.read(t)
	req.Equal(protocol.TypeConnected, hello["type"])
	req.Equal("Ann", hello["user"])

	now := time.Now().UTC()
	srv.Deliver(chat.Event{Type: chat.EventMessageCreated, At: now, Message: &chat.Message{
		ID: "private", From: "Carl", To: "Bob", Text: "secret", Kind: chat.KindPrivate, Time: now,
	}})
	srv.Deliver(chat.Event{Type: chat.EventMessageCreated, At: now, Message: &chat.Message{
		ID: "public", From: "Bob", To: chat.Broadcast, Text: "hello", Kind: chat.KindMessage, Time: now,
	}})

	frame := ann.read(t)
	req.Equal(protocol.TypeMessageCreated, frame["type"])
	msg, ok := frame["message"].(map[string]any)
	req.True(ok)
	req.Equal("public", msg["id"])
}

func TestStream_PingTouchesParticipant(t *testing.T) {
	req := require.New(t)
	presence := newFakePresence("Ann")
	_, ts := startServer(t, presence)

	ann := dial(t, ts, "Ann")
	ann.read(t) // connected

	ann.send(t, `{"type":"ping"}`)
	req.Equal(protocol.TypePong, ann.read(t)["type"])
	req.Equal([]string{"Ann"}, presence.touches())

	ann.send(t, `{"type":"message","text":"hi"}`)
	frame := ann.read(t)
	req.Equal(protocol.TypeError, frame["type"])
	req.Equal("unsupported_type", frame["code"])
}

func TestStream_PingAfterLogoffClosesStream(t *testing.T) {
	req := require.New(t)
	presence := newFakePresence("Ann")
	presence.touchErr = fmt.Errorf("touch %q: %w", "Ann", chat.ErrNotFound)
	_, ts := startServer(t, presence)

	ann := dial(t, ts, "Ann")
	ann.read(t)

	ann.send(t, `{"type":"ping"}`)
	frame := ann.read(t)
	req.Equal("not_online", frame["code"])

	_ = ann.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, err := wsutil.ReadServerText(ann.rw)
	req.Error(err)
}

func TestStream_LeaveClosesParticipantStreams(t *testing.T) {
	req := require.New(t)
	srv, ts := startServer(t, newFakePresence("Ann", "Bob"))

	ann := dial(t, ts, "Ann")
	ann.read(t)
	bob := dial(t, ts, "Bob")
	bob.read(t)
	req.Eventually(func() bool { return srv.Connections().Count() == 2 }, 2*time.Second, 10*time.Millisecond)

	srv.Deliver(chat.Event{Type: chat.EventParticipantLeft, At: time.Now().UTC(), Participant: &chat.Participant{Name: "Ann"}})

	req.Equal(protocol.TypeParticipantLeft, ann.read(t)["type"])
	req.Equal(protocol.TypeParticipantLeft, bob.read(t)["type"])
	req.Eventually(func() bool { return srv.Connections().Count() == 1 }, 2*time.Second, 10*time.Millisecond)
	req.Len(srv.Connections().ForUser("Bob"), 1)
}

func TestCheckConnections_EvictsStale(t *testing.T) {
	req := require.New(t)
	cfg := testConfig()
	cfg.Heartbeat = HeartbeatConfig{Interval: time.Second, Timeout: time.Second}
	cfg.WriteTimeout = 200 * time.Millisecond
	srv := NewServer(cfg, newFakePresence(), testLogger())

	freshConn, freshPeer := net.Pipe()
	staleConn, stalePeer := net.Pipe()
	defer freshPeer.Close()
	defer stalePeer.Close()
	go io.Copy(io.Discard, freshPeer)

	fresh := newConnection("fresh", "Ann", freshConn)
	stale := newConnection("stale", "Bob", staleConn)
	stale.lastSeen.Store(time.Now().Add(-time.Minute).UnixNano())
	srv.conns.Add(fresh)
	srv.conns.Add(stale)

	srv.checkConnections(time.Now())
	req.Nil(srv.conns.Get("stale"))
	req.NotNil(srv.conns.Get("fresh"))
}
