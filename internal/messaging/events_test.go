package messaging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/whisper/chatroom/internal/chat"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestEventPublisher_RoundTrip(t *testing.T) {
	req := require.New(t)
	bus := NewLocalBus()
	pub := NewEventPublisher(bus)

	var got []chat.Event
	req.NoError(SubscribeEvents(bus, "test", discardLogger(), func(ev chat.Event) {
		got = append(got, ev)
	}))

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	msg := &chat.Message{ID: "m1", Seq: 3, From: "Ann", To: chat.Broadcast, Text: "hi", Kind: chat.KindMessage, Time: at}
	req.NoError(pub.Publish(context.Background(), chat.Event{Type: chat.EventMessageCreated, Message: msg, At: at}))
	req.NoError(pub.Publish(context.Background(), chat.Event{
		Type:        chat.EventParticipantJoined,
		Participant: &chat.Participant{Name: "Bob", LastHeartbeat: at},
		At:          at,
	}))

	req.Len(got, 2)
	req.Equal(chat.EventMessageCreated, got[0].Type)
	req.Equal(*msg, *got[0].Message)
	req.Nil(got[0].Participant)
	req.Equal("Bob", got[1].Participant.Name)
}

func TestEventPublisher_Subject(t *testing.T) {
	req := require.New(t)
	bus := NewLocalBus()

	var subjects int
	req.NoError(bus.Subscribe("only-deletes", EventSubject(chat.EventMessageDeleted), func([]byte) { subjects++ }))

	pub := NewEventPublisher(bus)
	req.NoError(pub.Publish(context.Background(), chat.Event{Type: chat.EventMessageCreated}))
	req.NoError(pub.Publish(context.Background(), chat.Event{Type: chat.EventMessageDeleted}))
	req.Equal(1, subjects)
}

func TestSubscribeEvents_SkipsMalformed(t *testing.T) {
	req := require.New(t)
	bus := NewLocalBus()

	calls := 0
	req.NoError(SubscribeEvents(bus, "test", discardLogger(), func(chat.Event) { calls++ }))
	req.NoError(bus.Publish(EventSubject("junk"), []byte("{not json")))
	req.Zero(calls)
}

// TestNATSClient runs against a live server named by NATS_URL.
func TestNATSClient(t *testing.T) {
	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("NATS_URL not set")
	}
	req := require.New(t)

	cfg := DefaultNATSConfig()
	cfg.URL = url
	client, err := NewNATSClient(cfg, discardLogger())
	req.NoError(err)
	defer client.Close()

	got := make(chan chat.Event, 1)
	req.NoError(SubscribeEvents(client, "test", discardLogger(), func(ev chat.Event) { got <- ev }))
	req.NoError(client.conn.Flush())

	req.NoError(NewEventPublisher(client).Publish(context.Background(), chat.Event{Type: chat.EventParticipantLeft}))

	select {
	case ev := <-got:
		req.Equal(chat.EventParticipantLeft, ev.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
	req.NoError(client.Unsubscribe("test"))
}
