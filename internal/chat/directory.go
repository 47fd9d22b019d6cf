package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"
)

// Directory tracks the participants currently in the room. Joins and leaves
// are announced in the Log as status notices.
type Directory struct {
	store  Store
	log    *Log
	events Publisher
	logger *slog.Logger
	now    func() time.Time
}

// NewDirectory creates a Directory over store that writes its notices to log.
func NewDirectory(store Store, log *Log, events Publisher, logger *slog.Logger) *Directory {
	if events == nil {
		events = nopPublisher{}
	}
	return &Directory{
		store:  store,
		log:    log,
		events: events,
		logger: logger.With("component", "directory"),
		now:    time.Now,
	}
}

// Register adds a participant and announces it. The insert is checked for
// uniqueness by the store; a failed announcement rolls the insert back.
func (d *Directory) Register(ctx context.Context, name string) (Participant, error) {
	clean, err := SanitizeName(name)
	if err != nil {
		return Participant{}, err
	}

	p := Participant{Name: clean, LastHeartbeat: d.now().UTC()}
	if err := d.store.InsertParticipant(ctx, p); err != nil {
		return Participant{}, fmt.Errorf("chat: register %q: %w", clean, err)
	}

	if _, err := d.log.appendNotice(ctx, clean, NoticeJoined); err != nil {
		if _, rbErr := d.store.DeleteParticipant(context.WithoutCancel(ctx), clean); rbErr != nil {
			d.logger.Error("failed to roll back registration", "participant", clean, "err", rbErr)
		}
		return Participant{}, fmt.Errorf("chat: register %q: %w", clean, err)
	}

	d.publish(ctx, EventParticipantJoined, p)
	d.logger.Info("participant joined", "participant", clean)
	return p, nil
}

// Touch refreshes the heartbeat of name.
func (d *Directory) Touch(ctx context.Context, name string) error {
	name, err := identity(name)
	if err != nil {
		return err
	}
	if err := d.store.TouchParticipant(ctx, name, d.now().UTC()); err != nil {
		return fmt.Errorf("chat: touch %q: %w", name, err)
	}
	return nil
}

// Remove logs name off and announces its departure.
func (d *Directory) Remove(ctx context.Context, name string) (Participant, error) {
	name, err := identity(name)
	if err != nil {
		return Participant{}, err
	}
	p, err := d.store.DeleteParticipant(ctx, name)
	if err != nil {
		return Participant{}, fmt.Errorf("chat: remove %q: %w", name, err)
	}
	if err := d.announceLeave(ctx, p); err != nil {
		return Participant{}, fmt.Errorf("chat: remove %q: %w", name, err)
	}
	return p, nil
}

// Expire removes name only if it has been idle since cutoff. It fails with
// ErrConflict when the participant sent a heartbeat after cutoff.
func (d *Directory) Expire(ctx context.Context, name string, cutoff time.Time) (Participant, error) {
	p, err := d.store.DeleteIdleParticipant(ctx, name, cutoff)
	if err != nil {
		return Participant{}, fmt.Errorf("chat: expire %q: %w", name, err)
	}
	if err := d.announceLeave(ctx, p); err != nil {
		return Participant{}, fmt.Errorf("chat: expire %q: %w", name, err)
	}
	return p, nil
}

// ListAll returns every participant, sorted by name.
func (d *Directory) ListAll(ctx context.Context) ([]Participant, error) {
	ps, err := d.store.ListParticipants(ctx)
	if err != nil {
		return nil, fmt.Errorf("chat: list participants: %w", err)
	}
	slices.SortFunc(ps, func(a, b Participant) int {
		return strings.Compare(a.Name, b.Name)
	})
	return ps, nil
}

// IsOnline reports whether name is currently registered.
func (d *Directory) IsOnline(ctx context.Context, name string) (bool, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return false, nil
	}
	_, err := d.store.GetParticipant(ctx, name)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNotFound):
		return false, nil
	default:
		return false, fmt.Errorf("chat: is online %q: %w", name, err)
	}
}

// announceLeave appends the departure notice for a participant that was just
// deleted. If the notice cannot be stored the participant is put back.
func (d *Directory) announceLeave(ctx context.Context, p Participant) error {
	if _, err := d.log.appendNotice(ctx, p.Name, NoticeLeft); err != nil {
		if rbErr := d.store.InsertParticipant(context.WithoutCancel(ctx), p); rbErr != nil && !errors.Is(rbErr, ErrConflict) {
			d.logger.Error("failed to restore participant", "participant", p.Name, "err", rbErr)
		}
		return err
	}
	d.publish(ctx, EventParticipantLeft, p)
	d.logger.Info("participant left", "participant", p.Name)
	return nil
}

func (d *Directory) publish(ctx context.Context, typ string, p Participant) {
	ev := Event{Type: typ, Participant: &p, At: d.now().UTC()}
	if err := d.events.Publish(ctx, ev); err != nil {
		d.logger.Warn("failed to publish event", "type", typ, "participant", p.Name, "err", err)
	}
}
