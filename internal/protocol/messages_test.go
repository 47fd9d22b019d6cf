package protocol

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/whisper/chatroom/internal/chat"
)

func TestParseClientMessage_Ping(t *testing.T) {
	msgType, msg, err := ParseClientMessage([]byte(`{"type":"ping"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypePing {
		t.Fatalf("expected type %q, got %q", TypePing, msgType)
	}
	if _, ok := msg.(PingMsg); !ok {
		t.Fatalf("expected PingMsg, got %T", msg)
	}
}

func TestParseClientMessage_UnknownType(t *testing.T) {
	input := []byte(`{"type":"message","text":"posting goes through the HTTP API"}`)

	msgType, msg, err := ParseClientMessage(input)
	if err == nil {
		t.Fatal("expected an error for unknown message type, got nil")
	}
	if msg != nil {
		t.Errorf("expected nil message for unknown type, got %v", msg)
	}
	if msgType != "message" {
		t.Errorf("expected returned type %q, got %q", "message", msgType)
	}
}

func TestEnvelope_MissingType(t *testing.T) {
	input := []byte(`{"data":"no type field"}`)
	var env Envelope
	if err := json.Unmarshal(input, &env); err == nil {
		t.Fatal("expected error for missing type field, got nil")
	}
}

func TestEnvelope_InvalidJSON(t *testing.T) {
	input := []byte(`{invalid json}`)
	var env Envelope
	if err := json.Unmarshal(input, &env); err == nil {
		t.Fatal("expected error for invalid JSON, got nil")
	}
}

func TestNewServerMessage_InjectsType(t *testing.T) {
	data, err := NewServerMessage(TypeError, ErrorMsg{Code: "not_found", Message: "gone"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result map[string]interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}
	if result["type"] != TypeError {
		t.Errorf("expected type %q, got %v", TypeError, result["type"])
	}
	if result["code"] != "not_found" {
		t.Errorf("expected code %q, got %v", "not_found", result["code"])
	}
}

func TestNewMessageView(t *testing.T) {
	at := time.Date(2026, 3, 1, 9, 5, 7, 250_000_000, time.UTC)
	v := NewMessageView(chat.Message{ID: "m1", From: "Ann", To: "Bob", Text: "hi", Kind: chat.KindPrivate, Time: at})

	if v.Time != "09:05:07" {
		t.Errorf("expected time %q, got %q", "09:05:07", v.Time)
	}
	if v.Type != chat.KindPrivate {
		t.Errorf("expected type %q, got %q", chat.KindPrivate, v.Type)
	}
	if !v.CreatedAt.Equal(at) {
		t.Errorf("expected created_at %v, got %v", at, v.CreatedAt)
	}
}

func TestNewViews_NeverNil(t *testing.T) {
	if NewMessageViews(nil) == nil {
		t.Error("NewMessageViews(nil) returned nil")
	}
	if NewParticipantViews(nil) == nil {
		t.Error("NewParticipantViews(nil) returned nil")
	}
}

func TestFromEvent(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name            string
		ev              chat.Event
		wantParticipant bool
		wantMessage     bool
	}{
		{
			name:            "participant joined",
			ev:              chat.Event{Type: chat.EventParticipantJoined, Participant: &chat.Participant{Name: "Ann", LastHeartbeat: at}, At: at},
			wantParticipant: true,
		},
		{
			name:        "message created",
			ev:          chat.Event{Type: chat.EventMessageCreated, Message: &chat.Message{ID: "m1", From: "Ann", To: chat.Broadcast, Text: "hi", Kind: chat.KindMessage, Time: at}, At: at},
			wantMessage: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			data, err := FromEvent(tc.ev)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			var decoded EventMsg
			if err := json.Unmarshal(data, &decoded); err != nil {
				t.Fatalf("failed to unmarshal: %v", err)
			}
			if decoded.Type != tc.ev.Type {
				t.Errorf("expected type %q, got %q", tc.ev.Type, decoded.Type)
			}
			if decoded.At != at.UnixMilli() {
				t.Errorf("expected at %d, got %d", at.UnixMilli(), decoded.At)
			}
			if (decoded.Participant != nil) != tc.wantParticipant {
				t.Errorf("participant present = %v, want %v", decoded.Participant != nil, tc.wantParticipant)
			}
			if (decoded.Message != nil) != tc.wantMessage {
				t.Errorf("message present = %v, want %v", decoded.Message != nil, tc.wantMessage)
			}
		})
	}
}
