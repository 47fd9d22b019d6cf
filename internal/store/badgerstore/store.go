// Package badgerstore implements chat.Store on an embedded BadgerDB. Keys:
//
//	p:<name>      participant record
//	m:<id>        message record
//	s:<seq>       message id, seq zero padded so keys sort in insertion order
//
// Values are JSON.
package badgerstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/whisper/chatroom/internal/chat"
)

const (
	participantPrefix = "p:"
	messagePrefix     = "m:"
	seqPrefix         = "s:"
	seqKey            = "!seq"

	// maxRetries bounds how often a transaction is retried after a write
	// conflict with a concurrent transaction.
	maxRetries = 16
)

// Store is a chat.Store over a *badger.DB.
type Store struct {
	db  *badger.DB
	seq *badger.Sequence
}

// Open opens (or creates) the database in dir. An empty dir opens an
// in-memory database.
func Open(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir).WithLoggingLevel(badger.ERROR)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badgerstore: open %q: %w", dir, err)
	}
	s, err := New(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an open database. Close releases the sequence and the database.
func New(db *badger.DB) (*Store, error) {
	seq, err := db.GetSequence([]byte(seqKey), 128)
	if err != nil {
		return nil, fmt.Errorf("badgerstore: sequence: %w", err)
	}
	return &Store{db: db, seq: seq}, nil
}

func participantKey(name string) []byte { return []byte(participantPrefix + name) }
func messageKey(id string) []byte       { return []byte(messagePrefix + id) }
func orderKey(seq int64) []byte         { return []byte(fmt.Sprintf("%s%019d", seqPrefix, seq)) }

func (s *Store) InsertParticipant(ctx context.Context, p chat.Participant) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("badgerstore: marshal participant: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(participantKey(p.Name)); err == nil {
			return chat.ErrConflict
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(participantKey(p.Name), data)
	})
	// A write conflict here means another transaction inserted the same name.
	if errors.Is(err, chat.ErrConflict) || errors.Is(err, badger.ErrConflict) {
		return fmt.Errorf("badgerstore: participant %q: %w", p.Name, chat.ErrConflict)
	}
	if err != nil {
		return unavailable("insert participant", err)
	}
	return nil
}

func (s *Store) GetParticipant(ctx context.Context, name string) (chat.Participant, error) {
	var p chat.Participant
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, participantKey(name), &p)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return chat.Participant{}, fmt.Errorf("badgerstore: participant %q: %w", name, chat.ErrNotFound)
	}
	if err != nil {
		return chat.Participant{}, unavailable("get participant", err)
	}
	return p, nil
}

func (s *Store) ListParticipants(ctx context.Context) ([]chat.Participant, error) {
	ps := []chat.Participant{}
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(participantPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var p chat.Participant
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &p)
			}); err != nil {
				return err
			}
			ps = append(ps, p)
		}
		return nil
	})
	if err != nil {
		return nil, unavailable("list participants", err)
	}
	return ps, nil
}

func (s *Store) TouchParticipant(ctx context.Context, name string, at time.Time) error {
	err := s.update(ctx, func(txn *badger.Txn) error {
		var p chat.Participant
		if err := getJSON(txn, participantKey(name), &p); err != nil {
			return err
		}
		p.LastHeartbeat = at
		return setJSON(txn, participantKey(name), p)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("badgerstore: participant %q: %w", name, chat.ErrNotFound)
	}
	if err != nil {
		return unavailable("touch participant", err)
	}
	return nil
}

func (s *Store) DeleteParticipant(ctx context.Context, name string) (chat.Participant, error) {
	return s.deleteParticipant(ctx, name, nil)
}

func (s *Store) DeleteIdleParticipant(ctx context.Context, name string, cutoff time.Time) (chat.Participant, error) {
	return s.deleteParticipant(ctx, name, &cutoff)
}

func (s *Store) deleteParticipant(ctx context.Context, name string, cutoff *time.Time) (chat.Participant, error) {
	var p chat.Participant
	err := s.update(ctx, func(txn *badger.Txn) error {
		if err := getJSON(txn, participantKey(name), &p); err != nil {
			return err
		}
		if cutoff != nil && !p.IdleSince(*cutoff) {
			return chat.ErrConflict
		}
		return txn.Delete(participantKey(name))
	})
	switch {
	case err == nil:
		return p, nil
	case errors.Is(err, badger.ErrKeyNotFound):
		return chat.Participant{}, fmt.Errorf("badgerstore: participant %q: %w", name, chat.ErrNotFound)
	case errors.Is(err, chat.ErrConflict):
		return chat.Participant{}, fmt.Errorf("badgerstore: participant %q is active: %w", name, chat.ErrConflict)
	default:
		return chat.Participant{}, unavailable("delete participant", err)
	}
}

func (s *Store) InsertMessage(ctx context.Context, m *chat.Message) error {
	next, err := s.seq.Next()
	if err != nil {
		return unavailable("insert message: sequence", err)
	}
	m.Seq = int64(next) + 1

	err = s.update(ctx, func(txn *badger.Txn) error {
		if _, err := txn.Get(messageKey(m.ID)); err == nil {
			return chat.ErrConflict
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := setJSON(txn, messageKey(m.ID), m); err != nil {
			return err
		}
		return txn.Set(orderKey(m.Seq), []byte(m.ID))
	})
	if errors.Is(err, chat.ErrConflict) {
		return fmt.Errorf("badgerstore: message %q: %w", m.ID, chat.ErrConflict)
	}
	if err != nil {
		return unavailable("insert message", err)
	}
	return nil
}

func (s *Store) GetMessage(ctx context.Context, id string) (chat.Message, error) {
	var m chat.Message
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, messageKey(id), &m)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return chat.Message{}, fmt.Errorf("badgerstore: message %q: %w", id, chat.ErrNotFound)
	}
	if err != nil {
		return chat.Message{}, unavailable("get message", err)
	}
	return m, nil
}

// ListMessages walks the seq index, which iterates in key order.
func (s *Store) ListMessages(ctx context.Context) ([]chat.Message, error) {
	msgs := []chat.Message{}
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(seqPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			id, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			var m chat.Message
			if err := getJSON(txn, messageKey(string(id)), &m); err != nil {
				if errors.Is(err, badger.ErrKeyNotFound) {
					continue
				}
				return err
			}
			msgs = append(msgs, m)
		}
		return nil
	})
	if err != nil {
		return nil, unavailable("list messages", err)
	}
	return msgs, nil
}

func (s *Store) UpdateMessage(ctx context.Context, m chat.Message) error {
	err := s.update(ctx, func(txn *badger.Txn) error {
		var cur chat.Message
		if err := getJSON(txn, messageKey(m.ID), &cur); err != nil {
			return err
		}
		cur.To, cur.Text, cur.Kind = m.To, m.Text, m.Kind
		return setJSON(txn, messageKey(m.ID), cur)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("badgerstore: message %q: %w", m.ID, chat.ErrNotFound)
	}
	if err != nil {
		return unavailable("update message", err)
	}
	return nil
}

func (s *Store) DeleteMessage(ctx context.Context, id string) error {
	err := s.update(ctx, func(txn *badger.Txn) error {
		var m chat.Message
		if err := getJSON(txn, messageKey(id), &m); err != nil {
			return err
		}
		if err := txn.Delete(messageKey(id)); err != nil {
			return err
		}
		return txn.Delete(orderKey(m.Seq))
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("badgerstore: message %q: %w", id, chat.ErrNotFound)
	}
	if err != nil {
		return unavailable("delete message", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	if s.db.IsClosed() {
		return unavailable("ping", errors.New("database closed"))
	}
	return nil
}

// Close releases the sequence lease and closes the database.
func (s *Store) Close() error {
	if err := s.seq.Release(); err != nil {
		s.db.Close()
		return fmt.Errorf("badgerstore: release sequence: %w", err)
	}
	return s.db.Close()
}

// update runs fn in a read-write transaction, retrying on write conflicts.
func (s *Store) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	var err error
	for range maxRetries {
		if err = ctx.Err(); err != nil {
			return err
		}
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

func getJSON(txn *badger.Txn, key []byte, v any) error {
	item, err := txn.Get(key)
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func setJSON(txn *badger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set(key, data)
}

func unavailable(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("badgerstore: %s: %w", op, err)
	}
	return fmt.Errorf("badgerstore: %s: %w: %w", op, chat.ErrUnavailable, err)
}
