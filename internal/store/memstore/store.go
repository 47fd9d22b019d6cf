// Package memstore is an in-process chat.Store. State lives for the lifetime
// of the process and is not shared between instances.
package memstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/whisper/chatroom/internal/chat"
)

// Store holds participants and messages in maps guarded by a single mutex.
type Store struct {
	mu           sync.RWMutex
	participants map[string]chat.Participant
	messages     map[string]chat.Message
	order        []string // message ids in insertion order
	seq          int64
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		participants: make(map[string]chat.Participant),
		messages:     make(map[string]chat.Message),
	}
}

func (s *Store) InsertParticipant(_ context.Context, p chat.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.participants[p.Name]; ok {
		return fmt.Errorf("memstore: participant %q: %w", p.Name, chat.ErrConflict)
	}
	s.participants[p.Name] = p
	return nil
}

func (s *Store) GetParticipant(_ context.Context, name string) (chat.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.participants[name]
	if !ok {
		return chat.Participant{}, fmt.Errorf("memstore: participant %q: %w", name, chat.ErrNotFound)
	}
	return p, nil
}

func (s *Store) ListParticipants(_ context.Context) ([]chat.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ps := make([]chat.Participant, 0, len(s.participants))
	for _, p := range s.participants {
		ps = append(ps, p)
	}
	return ps, nil
}

func (s *Store) TouchParticipant(_ context.Context, name string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.participants[name]
	if !ok {
		return fmt.Errorf("memstore: participant %q: %w", name, chat.ErrNotFound)
	}
	p.LastHeartbeat = at
	s.participants[name] = p
	return nil
}

func (s *Store) DeleteParticipant(_ context.Context, name string) (chat.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.participants[name]
	if !ok {
		return chat.Participant{}, fmt.Errorf("memstore: participant %q: %w", name, chat.ErrNotFound)
	}
	delete(s.participants, name)
	return p, nil
}

func (s *Store) DeleteIdleParticipant(_ context.Context, name string, cutoff time.Time) (chat.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.participants[name]
	if !ok {
		return chat.Participant{}, fmt.Errorf("memstore: participant %q: %w", name, chat.ErrNotFound)
	}
	if !p.IdleSince(cutoff) {
		return chat.Participant{}, fmt.Errorf("memstore: participant %q is active: %w", name, chat.ErrConflict)
	}
	delete(s.participants, name)
	return p, nil
}

func (s *Store) InsertMessage(_ context.Context, m *chat.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[m.ID]; ok {
		return fmt.Errorf("memstore: message %q: %w", m.ID, chat.ErrConflict)
	}
	s.seq++
	m.Seq = s.seq
	s.messages[m.ID] = *m
	s.order = append(s.order, m.ID)
	return nil
}

func (s *Store) GetMessage(_ context.Context, id string) (chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[id]
	if !ok {
		return chat.Message{}, fmt.Errorf("memstore: message %q: %w", id, chat.ErrNotFound)
	}
	return m, nil
}

func (s *Store) ListMessages(_ context.Context) ([]chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := make([]chat.Message, 0, len(s.messages))
	for _, id := range s.order {
		if m, ok := s.messages[id]; ok {
			msgs = append(msgs, m)
		}
	}
	return msgs, nil
}

func (s *Store) UpdateMessage(_ context.Context, m chat.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.messages[m.ID]
	if !ok {
		return fmt.Errorf("memstore: message %q: %w", m.ID, chat.ErrNotFound)
	}
	cur.To, cur.Text, cur.Kind = m.To, m.Text, m.Kind
	s.messages[m.ID] = cur
	return nil
}

func (s *Store) DeleteMessage(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[id]; !ok {
		return fmt.Errorf("memstore: message %q: %w", id, chat.ErrNotFound)
	}
	delete(s.messages, id)
	// Compact the order index once deletions dominate it.
	if len(s.order) > 2*len(s.messages)+64 {
		order := make([]string, 0, len(s.messages))
		for _, id := range s.order {
			if _, ok := s.messages[id]; ok {
				order = append(order, id)
			}
		}
		s.order = order
	}
	return nil
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() error { return nil }
