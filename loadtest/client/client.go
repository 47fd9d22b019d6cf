// Package client simulates one chat room participant against a running
// server: it joins and posts over the HTTP API and follows the push stream
// with gobwas/ws, the same library the server uses.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Stream frame types (local equivalents of internal/protocol constants).
const (
	TypePing              = "ping"
	TypeConnected         = "connected"
	TypeParticipantJoined = "participant_joined"
	TypeParticipantLeft   = "participant_left"
	TypeMessageCreated    = "message_created"
	TypeMessageUpdated    = "message_updated"
	TypeMessageDeleted    = "message_deleted"
	TypeError             = "error"
	TypePong              = "pong"
)

// Message kinds accepted by POST /messages.
const (
	KindMessage = "message"
	KindPrivate = "private_message"
	Broadcast   = "all"
)

// Message is the wire form of a log entry.
type Message struct {
	ID   string `json:"id"`
	From string `json:"from"`
	To   string `json:"to"`
	Text string `json:"text"`
	Type string `json:"type"`
	Time string `json:"time"`
}

// Frame is a decoded stream frame. Message is set on message events.
type Frame struct {
	Type        string   `json:"type"`
	Message     *Message `json:"message,omitempty"`
	Participant *struct {
		Name string `json:"name"`
	} `json:"participant,omitempty"`
	Code string `json:"code,omitempty"`
}

// StatusError is returned for non-2xx API responses.
type StatusError struct {
	Status int
	Code   string
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status %d (%s): %s", e.Status, e.Code, e.Body)
}

// Metrics tracks per-participant performance data.
type Metrics struct {
	ConnectLatency time.Duration
	FramesReceived int
	Posts          int
	Errors         int
}

// Client is one simulated participant.
type Client struct {
	api  string
	name string
	http *http.Client

	mu        sync.Mutex
	conn      net.Conn
	metrics   Metrics
	handlers  map[string]func(Frame)
	connected chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a participant named name against the API at apiBase, e.g.
// http://localhost:8080. Nothing is sent until Join.
func New(apiBase, name string) *Client {
	return &Client{
		api:       apiBase,
		name:      name,
		http:      &http.Client{Timeout: 10 * time.Second},
		handlers:  make(map[string]func(Frame)),
		connected: make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Name returns the participant name.
func (c *Client) Name() string { return c.name }

// Join registers the participant.
func (c *Client) Join(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/participants", map[string]string{"name": c.name}, nil)
}

// Leave logs the participant off.
func (c *Client) Leave(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/participants", nil, nil)
}

// Heartbeat refreshes the participant over HTTP.
func (c *Client) Heartbeat(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/status", nil, nil)
}

// Post appends a message of the given kind addressed to to.
func (c *Client) Post(ctx context.Context, to, text, kind string) (Message, error) {
	var m Message
	err := c.do(ctx, http.MethodPost, "/messages", map[string]string{"to": to, "text": text, "type": kind}, &m)
	if err == nil {
		c.mu.Lock()
		c.metrics.Posts++
		c.mu.Unlock()
	}
	return m, err
}

// Edit replaces the text of one of the participant's messages.
func (c *Client) Edit(ctx context.Context, id, text string) (Message, error) {
	var m Message
	err := c.do(ctx, http.MethodPut, "/messages/"+url.PathEscape(id), map[string]string{"text": text}, &m)
	return m, err
}

// Delete removes one of the participant's messages.
func (c *Client) Delete(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/messages/"+url.PathEscape(id), nil, nil)
}

// Messages lists the messages visible to the participant.
func (c *Client) Messages(ctx context.Context, limit int) ([]Message, error) {
	path := "/messages"
	if limit > 0 {
		path += fmt.Sprintf("?limit=%d", limit)
	}
	var out []Message
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// Participants returns the names of everyone in the room.
func (c *Client) Participants(ctx context.Context) ([]string, error) {
	var out []struct {
		Name string `json:"name"`
	}
	if err := c.do(ctx, http.MethodGet, "/participants", nil, &out); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(out))
	for _, p := range out {
		names = append(names, p.Name)
	}
	return names, nil
}

// Get fetches a single message by id.
func (c *Client) Get(ctx context.Context, id string) (Message, error) {
	var m Message
	err := c.do(ctx, http.MethodGet, "/messages/"+url.PathEscape(id), nil, &m)
	return m, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal: %w", err)
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.api+path, rd)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User", c.name)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.addError()
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		var e struct {
			Code string `json:"code"`
		}
		_ = json.Unmarshal(raw, &e)
		return &StatusError{Status: resp.StatusCode, Code: e.Code, Body: string(bytes.TrimSpace(raw))}
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode %s %s: %w", method, path, err)
		}
	}
	return nil
}

// Connect opens the push stream at wsURL (e.g. ws://localhost:8080/ws) and
// starts the read loop. It returns once the connected frame arrives.
func (c *Client) Connect(ctx context.Context, wsURL string) error {
	start := time.Now()
	conn, br, _, err := ws.Dial(ctx, wsURL+"?user="+url.QueryEscape(c.name))
	if err != nil {
		c.addError()
		return fmt.Errorf("dial: %w", err)
	}
	// The connected frame may have arrived together with the handshake.
	var r io.Reader = conn
	if br != nil {
		r = br
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	go c.readLoop(r)

	select {
	case <-c.connected:
		c.mu.Lock()
		c.metrics.ConnectLatency = time.Since(start)
		c.mu.Unlock()
		return nil
	case <-c.done:
		return fmt.Errorf("stream closed before connected frame")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ping sends a stream-level ping frame, which also counts as a heartbeat.
func (c *Client) Ping() error {
	return c.send(map[string]string{"type": TypePing})
}

func (c *Client) send(msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("stream not connected")
	}
	return wsutil.WriteClientMessage(c.conn, ws.OpText, data)
}

// On registers the handler for a frame type, replacing any previous one.
// Handlers run on the read loop goroutine.
func (c *Client) On(frameType string, handler func(Frame)) {
	c.mu.Lock()
	c.handlers[frameType] = handler
	c.mu.Unlock()
}

// Done is closed when the stream ends.
func (c *Client) Done() <-chan struct{} { return c.done }

// Close closes the stream. It is safe to call multiple times.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.mu.Lock()
		if c.conn != nil {
			err = c.conn.Close()
		}
		c.mu.Unlock()
	})
	return err
}

// GetMetrics returns a copy of the client's metrics.
func (c *Client) GetMetrics() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metrics
}

func (c *Client) addError() {
	c.mu.Lock()
	c.metrics.Errors++
	c.mu.Unlock()
}

func (c *Client) readLoop(r io.Reader) {
	defer c.Close()
	// Control frame replies share the write lock with send.
	rw := struct {
		io.Reader
		io.Writer
	}{r, lockedWriter{c}}
	var once sync.Once
	for {
		data, err := wsutil.ReadServerText(rw)
		if err != nil {
			select {
			case <-c.done:
			default:
				c.addError()
			}
			return
		}

		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			continue
		}

		c.mu.Lock()
		c.metrics.FramesReceived++
		handler := c.handlers[f.Type]
		c.mu.Unlock()

		if f.Type == TypeConnected {
			once.Do(func() { close(c.connected) })
		}
		if handler != nil {
			handler(f)
		}
	}
}

type lockedWriter struct{ c *Client }

func (w lockedWriter) Write(p []byte) (int, error) {
	w.c.mu.Lock()
	defer w.c.mu.Unlock()
	return w.c.conn.Write(p)
}
