package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/whisper/chatroom/internal/chat"
)

// SubjectEvents prefixes every room event subject: chat.events.<type>.
const SubjectEvents = "chat.events"

// EventSubject returns the subject an event of the given type is published on.
func EventSubject(eventType string) string {
	return SubjectEvents + "." + eventType
}

// EventPublisher publishes chat events as JSON on a Bus.
type EventPublisher struct {
	bus Bus
}

// NewEventPublisher returns a chat.Publisher over bus.
func NewEventPublisher(bus Bus) *EventPublisher {
	return &EventPublisher{bus: bus}
}

func (p *EventPublisher) Publish(_ context.Context, ev chat.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("messaging: marshal event: %w", err)
	}
	return p.bus.Publish(EventSubject(ev.Type), data)
}

// SubscribeEvents delivers every room event published on bus to handler.
// Payloads that cannot be decoded are logged and skipped.
func SubscribeEvents(bus Bus, key string, logger *slog.Logger, handler func(chat.Event)) error {
	return bus.Subscribe(key, SubjectEvents+".>", func(data []byte) {
		var ev chat.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			logger.Warn("dropping malformed event", "err", err)
			return
		}
		handler(ev)
	})
}
