// Package protocol defines the JSON frames exchanged on the push stream and
// the wire views of participants and messages shared with the HTTP API. Every
// frame follows an envelope with a "type" discriminator.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/whisper/chatroom/internal/chat"
)

// ClockLayout is the display precision of a message time.
const ClockLayout = "15:04:05"

// Client -> Server message types.
const (
	TypePing = "ping"
)

// Server -> Client message types. Event frames reuse the chat event type names.
const (
	TypeConnected         = "connected"
	TypeParticipantJoined = chat.EventParticipantJoined
	TypeParticipantLeft   = chat.EventParticipantLeft
	TypeMessageCreated    = chat.EventMessageCreated
	TypeMessageUpdated    = chat.EventMessageUpdated
	TypeMessageDeleted    = chat.EventMessageDeleted
	TypeError             = "error"
	TypePong              = "pong"
)

// Envelope holds the message type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON captures the full raw bytes and extracts only the "type"
// field so the rest of the payload can be decoded later.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// PingMsg is a client-initiated keepalive ping. It also counts as a heartbeat.
type PingMsg struct {
	Type string `json:"type"`
}

// MessageView is the wire form of a chat.Message.
type MessageView struct {
	ID        string    `json:"id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Text      string    `json:"text"`
	Type      string    `json:"type"`
	Time      string    `json:"time"`
	CreatedAt time.Time `json:"created_at"`
}

// NewMessageView converts m to its wire form.
func NewMessageView(m chat.Message) MessageView {
	return MessageView{
		ID:        m.ID,
		From:      m.From,
		To:        m.To,
		Text:      m.Text,
		Type:      m.Kind,
		Time:      m.Time.UTC().Format(ClockLayout),
		CreatedAt: m.Time.UTC(),
	}
}

// NewMessageViews converts a slice of messages, never returning nil.
func NewMessageViews(msgs []chat.Message) []MessageView {
	out := make([]MessageView, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, NewMessageView(m))
	}
	return out
}

// ParticipantView is the wire form of a chat.Participant. LastStatus is the
// last heartbeat in unix milliseconds.
type ParticipantView struct {
	Name       string `json:"name"`
	LastStatus int64  `json:"last_status"`
}

// NewParticipantView converts p to its wire form.
func NewParticipantView(p chat.Participant) ParticipantView {
	return ParticipantView{Name: p.Name, LastStatus: p.LastHeartbeat.UnixMilli()}
}

// NewParticipantViews converts a slice of participants, never returning nil.
func NewParticipantViews(ps []chat.Participant) []ParticipantView {
	out := make([]ParticipantView, 0, len(ps))
	for _, p := range ps {
		out = append(out, NewParticipantView(p))
	}
	return out
}

// ConnectedMsg is sent once the stream is established.
type ConnectedMsg struct {
	Type string `json:"type"`
	User string `json:"user"`
}

// EventMsg relays a room event. Exactly one of Participant or Message is set.
type EventMsg struct {
	Type        string           `json:"type"`
	Participant *ParticipantView `json:"participant,omitempty"`
	Message     *MessageView     `json:"message,omitempty"`
	At          int64            `json:"at"`
}

// ErrorMsg is sent by the server to communicate an error condition.
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PongMsg is the server's response to a client ping.
type PongMsg struct {
	Type string `json:"type"`
}

// ParseClientMessage parses raw WebSocket bytes into a typed client message.
// It returns the message type string, the decoded struct, and any error
// encountered during parsing. An error is returned for unknown or
// server-only message types.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	switch env.Type {
	case TypePing:
		var m PingMsg
		if err := json.Unmarshal(env.Raw, &m); err != nil {
			return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
		}
		return env.Type, m, nil
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client message type: %q", env.Type)
	}
}

// NewServerMessage creates a JSON-encoded byte slice for a server message.
// The msgType is injected into the payload under the "type" key.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["type"] = msgType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}

// FromEvent encodes a room event as a server frame.
func FromEvent(ev chat.Event) ([]byte, error) {
	msg := EventMsg{At: ev.At.UnixMilli()}
	if ev.Participant != nil {
		v := NewParticipantView(*ev.Participant)
		msg.Participant = &v
	}
	if ev.Message != nil {
		v := NewMessageView(*ev.Message)
		msg.Message = &v
	}
	return NewServerMessage(ev.Type, msg)
}
