package chat

import (
	"context"
	"time"
)

// Store is the record store backing the Directory and the Log. Every method is
// atomic for the single record it touches. Implementations report ErrNotFound
// for missing keys, ErrConflict for uniqueness or compare-and-swap failures,
// and ErrUnavailable when the backend cannot be reached.
type Store interface {
	// InsertParticipant adds p, failing with ErrConflict if the name exists.
	InsertParticipant(ctx context.Context, p Participant) error
	GetParticipant(ctx context.Context, name string) (Participant, error)
	ListParticipants(ctx context.Context) ([]Participant, error)
	// TouchParticipant sets the last heartbeat of an existing participant.
	TouchParticipant(ctx context.Context, name string, at time.Time) error
	DeleteParticipant(ctx context.Context, name string) (Participant, error)
	// DeleteIdleParticipant removes the participant only if its last heartbeat
	// is before cutoff. A participant that refreshed since yields ErrConflict.
	DeleteIdleParticipant(ctx context.Context, name string, cutoff time.Time) (Participant, error)

	// InsertMessage stores m and assigns m.Seq.
	InsertMessage(ctx context.Context, m *Message) error
	GetMessage(ctx context.Context, id string) (Message, error)
	// ListMessages returns all messages in ascending Seq order.
	ListMessages(ctx context.Context) ([]Message, error)
	// UpdateMessage replaces To, Text and Kind of an existing message.
	UpdateMessage(ctx context.Context, m Message) error
	DeleteMessage(ctx context.Context, id string) error

	Ping(ctx context.Context) error
	Close() error
}
