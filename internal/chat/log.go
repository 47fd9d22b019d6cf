package chat

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
)

// Log is the message log of the room.
type Log struct {
	store  Store
	events Publisher
	logger *slog.Logger
	now    func() time.Time
}

// NewLog creates a Log over store. A nil publisher disables event delivery.
func NewLog(store Store, events Publisher, logger *slog.Logger) *Log {
	if events == nil {
		events = nopPublisher{}
	}
	return &Log{
		store:  store,
		events: events,
		logger: logger.With("component", "log"),
		now:    time.Now,
	}
}

// Append posts a participant message. The sender must be in the room; its
// heartbeat is refreshed once the message is stored.
func (l *Log) Append(ctx context.Context, d Draft) (Message, error) {
	from, err := identity(d.From)
	if err != nil {
		return Message{}, err
	}
	if !IsClientKind(d.Kind) {
		return Message{}, fmt.Errorf("%w: unknown message type %q", ErrInvalidInput, d.Kind)
	}
	to, err := recipient(d.To, d.Kind)
	if err != nil {
		return Message{}, err
	}
	text, err := SanitizeText(d.Text)
	if err != nil {
		return Message{}, err
	}

	if _, err := l.store.GetParticipant(ctx, from); err != nil {
		if errors.Is(err, ErrNotFound) {
			return Message{}, fmt.Errorf("%w: sender %q is not in the room", ErrInvalidInput, from)
		}
		return Message{}, fmt.Errorf("chat: append: %w", err)
	}

	now := l.now().UTC()
	m := Message{
		ID:   uuid.New().String(),
		From: from,
		To:   to,
		Text: text,
		Kind: d.Kind,
		Time: now,
	}
	if err := l.store.InsertMessage(ctx, &m); err != nil {
		return Message{}, fmt.Errorf("chat: append: %w", err)
	}

	// Sending counts as activity. A concurrent logoff may have removed the
	// sender already, which is fine.
	if err := l.store.TouchParticipant(ctx, from, now); err != nil && !errors.Is(err, ErrNotFound) {
		l.logger.Warn("failed to refresh sender heartbeat", "participant", from, "err", err)
	}

	l.publish(ctx, EventMessageCreated, m)
	return m, nil
}

// appendNotice records a system status notice for name.
func (l *Log) appendNotice(ctx context.Context, name, text string) (Message, error) {
	m := Message{
		ID:   uuid.New().String(),
		From: name,
		To:   Broadcast,
		Text: text,
		Kind: KindStatus,
		Time: l.now().UTC(),
	}
	if err := l.store.InsertMessage(ctx, &m); err != nil {
		return Message{}, fmt.Errorf("chat: notice: %w", err)
	}
	l.publish(ctx, EventMessageCreated, m)
	return m, nil
}

// Get returns the message with the given id.
func (l *Log) Get(ctx context.Context, id string) (Message, error) {
	m, err := l.store.GetMessage(ctx, id)
	if err != nil {
		return Message{}, fmt.Errorf("chat: get message %q: %w", id, err)
	}
	return m, nil
}

// Edit replaces the text of a message owned by editor. Empty To or Kind in d
// keep the current values.
func (l *Log) Edit(ctx context.Context, id, editor string, d Draft) (Message, error) {
	editor, err := identity(editor)
	if err != nil {
		return Message{}, err
	}
	m, err := l.owned(ctx, id, editor, "edit")
	if err != nil {
		return Message{}, err
	}

	kind := m.Kind
	if d.Kind != "" {
		if !IsClientKind(d.Kind) {
			return Message{}, fmt.Errorf("%w: unknown message type %q", ErrInvalidInput, d.Kind)
		}
		kind = d.Kind
	}
	to := m.To
	if d.To != "" {
		to = d.To
	}
	if to, err = recipient(to, kind); err != nil {
		return Message{}, err
	}
	text, err := SanitizeText(d.Text)
	if err != nil {
		return Message{}, err
	}

	m.To, m.Text, m.Kind = to, text, kind
	if err := l.store.UpdateMessage(ctx, m); err != nil {
		return Message{}, fmt.Errorf("chat: edit message %q: %w", id, err)
	}
	l.publish(ctx, EventMessageUpdated, m)
	return m, nil
}

// Delete removes a message owned by requester. Deleting an already deleted
// message fails with ErrNotFound.
func (l *Log) Delete(ctx context.Context, id, requester string) error {
	requester, err := identity(requester)
	if err != nil {
		return err
	}
	m, err := l.owned(ctx, id, requester, "delete")
	if err != nil {
		return err
	}
	if err := l.store.DeleteMessage(ctx, id); err != nil {
		return fmt.Errorf("chat: delete message %q: %w", id, err)
	}
	l.publish(ctx, EventMessageDeleted, m)
	return nil
}

// ListFor returns the messages visible to name in insertion order. A positive
// limit keeps only the most recent limit messages.
func (l *Log) ListFor(ctx context.Context, name string, limit int) ([]Message, error) {
	name, err := identity(name)
	if err != nil {
		return nil, err
	}
	all, err := l.store.ListMessages(ctx)
	if err != nil {
		return nil, fmt.Errorf("chat: list messages: %w", err)
	}
	slices.SortStableFunc(all, func(a, b Message) int {
		return cmp.Compare(a.Seq, b.Seq)
	})
	return Visible(all, name, limit), nil
}

// owned loads message id and checks that who may change it. Status notices
// belong to the system and are never owned by a participant.
func (l *Log) owned(ctx context.Context, id, who, op string) (Message, error) {
	m, err := l.store.GetMessage(ctx, id)
	if err != nil {
		return Message{}, fmt.Errorf("chat: %s message %q: %w", op, id, err)
	}
	if m.Kind == KindStatus {
		return Message{}, fmt.Errorf("%w: status notices cannot be changed", ErrForbidden)
	}
	if m.From != who {
		return Message{}, fmt.Errorf("%w: %q is not the sender of message %q", ErrForbidden, who, id)
	}
	return m, nil
}

func (l *Log) publish(ctx context.Context, typ string, m Message) {
	ev := Event{Type: typ, Message: &m, At: l.now().UTC()}
	if err := l.events.Publish(ctx, ev); err != nil {
		l.logger.Warn("failed to publish event", "type", typ, "message_id", m.ID, "err", err)
	}
}

// recipient validates the to field for a message of the given kind.
func recipient(to, kind string) (string, error) {
	clean := Sanitize(to)
	if clean == "" {
		return "", fmt.Errorf("%w: recipient is required", ErrInvalidInput)
	}
	if kind == KindPrivate && clean == Broadcast {
		return "", fmt.Errorf("%w: private messages need a single recipient", ErrInvalidInput)
	}
	return clean, nil
}
