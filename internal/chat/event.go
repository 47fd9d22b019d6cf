package chat

import (
	"context"
	"time"
)

// Event types published after a successful mutation.
const (
	EventParticipantJoined = "participant_joined"
	EventParticipantLeft   = "participant_left"
	EventMessageCreated    = "message_created"
	EventMessageUpdated    = "message_updated"
	EventMessageDeleted    = "message_deleted"
)

// Event describes a state change of the room.
type Event struct {
	Type        string       `json:"type"`
	Participant *Participant `json:"participant,omitempty"`
	Message     *Message     `json:"message,omitempty"`
	At          time.Time    `json:"at"`
}

// VisibleTo reports whether the event may be relayed to name. Participant
// events are public; message events follow the message visibility rule.
func (e Event) VisibleTo(name string) bool {
	if e.Message == nil {
		return true
	}
	return e.Message.VisibleTo(name)
}

// Publisher receives events once the mutation they describe is durable.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, Event) error { return nil }
