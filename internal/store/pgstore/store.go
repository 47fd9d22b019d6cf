// Package pgstore implements chat.Store on PostgreSQL. Message order is the
// BIGSERIAL seq column, so insertion order survives restarts.
package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/whisper/chatroom/internal/chat"
)

// uniqueViolation is the SQLSTATE for a unique or primary key conflict.
const uniqueViolation = "23505"

// Store is a chat.Store backed by a *sql.DB using the lib/pq driver.
type Store struct {
	db *sql.DB
}

// Open connects to dsn, applies migrations and verifies the connection.
func Open(ctx context.Context, dsn string) (*Store, error) {
	if err := Migrate(dsn); err != nil {
		return nil, err
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("pgstore: open: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pgstore: postgres connection failed: %w", err)
	}
	return New(db), nil
}

// New wraps an open database handle. The schema must already be migrated.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) InsertParticipant(ctx context.Context, p chat.Participant) error {
	const query = `INSERT INTO participants (name, last_heartbeat) VALUES ($1, $2)`
	if _, err := s.db.ExecContext(ctx, query, p.Name, p.LastHeartbeat.UTC()); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("pgstore: participant %q: %w", p.Name, chat.ErrConflict)
		}
		return unavailable("insert participant", err)
	}
	return nil
}

func (s *Store) GetParticipant(ctx context.Context, name string) (chat.Participant, error) {
	const query = `SELECT name, last_heartbeat FROM participants WHERE name = $1`
	var p chat.Participant
	err := s.db.QueryRowContext(ctx, query, name).Scan(&p.Name, &p.LastHeartbeat)
	if errors.Is(err, sql.ErrNoRows) {
		return chat.Participant{}, fmt.Errorf("pgstore: participant %q: %w", name, chat.ErrNotFound)
	}
	if err != nil {
		return chat.Participant{}, unavailable("get participant", err)
	}
	p.LastHeartbeat = p.LastHeartbeat.UTC()
	return p, nil
}

func (s *Store) ListParticipants(ctx context.Context) ([]chat.Participant, error) {
	const query = `SELECT name, last_heartbeat FROM participants ORDER BY name`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, unavailable("list participants", err)
	}
	defer rows.Close()

	ps := []chat.Participant{}
	for rows.Next() {
		var p chat.Participant
		if err := rows.Scan(&p.Name, &p.LastHeartbeat); err != nil {
			return nil, unavailable("list participants: scan", err)
		}
		p.LastHeartbeat = p.LastHeartbeat.UTC()
		ps = append(ps, p)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list participants", err)
	}
	return ps, nil
}

func (s *Store) TouchParticipant(ctx context.Context, name string, at time.Time) error {
	const query = `UPDATE participants SET last_heartbeat = $2 WHERE name = $1`
	res, err := s.db.ExecContext(ctx, query, name, at.UTC())
	if err != nil {
		return unavailable("touch participant", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("pgstore: participant %q: %w", name, chat.ErrNotFound)
	}
	return nil
}

func (s *Store) DeleteParticipant(ctx context.Context, name string) (chat.Participant, error) {
	const query = `DELETE FROM participants WHERE name = $1 RETURNING name, last_heartbeat`
	var p chat.Participant
	err := s.db.QueryRowContext(ctx, query, name).Scan(&p.Name, &p.LastHeartbeat)
	if errors.Is(err, sql.ErrNoRows) {
		return chat.Participant{}, fmt.Errorf("pgstore: participant %q: %w", name, chat.ErrNotFound)
	}
	if err != nil {
		return chat.Participant{}, unavailable("delete participant", err)
	}
	p.LastHeartbeat = p.LastHeartbeat.UTC()
	return p, nil
}

// DeleteIdleParticipant deletes name only while its heartbeat is older than
// cutoff. When nothing is deleted a second lookup tells a missing participant
// apart from an active one.
func (s *Store) DeleteIdleParticipant(ctx context.Context, name string, cutoff time.Time) (chat.Participant, error) {
	const query = `
		DELETE FROM participants
		WHERE name = $1 AND last_heartbeat < $2
		RETURNING name, last_heartbeat`
	var p chat.Participant
	err := s.db.QueryRowContext(ctx, query, name, cutoff.UTC()).Scan(&p.Name, &p.LastHeartbeat)
	if err == nil {
		p.LastHeartbeat = p.LastHeartbeat.UTC()
		return p, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return chat.Participant{}, unavailable("delete idle participant", err)
	}
	if _, err := s.GetParticipant(ctx, name); err != nil {
		return chat.Participant{}, err
	}
	return chat.Participant{}, fmt.Errorf("pgstore: participant %q is active: %w", name, chat.ErrConflict)
}

func (s *Store) InsertMessage(ctx context.Context, m *chat.Message) error {
	const query = `
		INSERT INTO messages (id, sender, recipient, text, kind, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING seq`
	err := s.db.QueryRowContext(ctx, query, m.ID, m.From, m.To, m.Text, m.Kind, m.Time.UTC()).Scan(&m.Seq)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("pgstore: message %q: %w", m.ID, chat.ErrConflict)
		}
		return unavailable("insert message", err)
	}
	return nil
}

const messageColumns = `id, seq, sender, recipient, text, kind, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(row scanner) (chat.Message, error) {
	var m chat.Message
	if err := row.Scan(&m.ID, &m.Seq, &m.From, &m.To, &m.Text, &m.Kind, &m.Time); err != nil {
		return chat.Message{}, err
	}
	m.Time = m.Time.UTC()
	return m, nil
}

func (s *Store) GetMessage(ctx context.Context, id string) (chat.Message, error) {
	if !validUUID(id) {
		return chat.Message{}, fmt.Errorf("pgstore: message %q: %w", id, chat.ErrNotFound)
	}
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id = $1`
	m, err := scanMessage(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return chat.Message{}, fmt.Errorf("pgstore: message %q: %w", id, chat.ErrNotFound)
	}
	if err != nil {
		return chat.Message{}, unavailable("get message", err)
	}
	return m, nil
}

func (s *Store) ListMessages(ctx context.Context) ([]chat.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages ORDER BY seq`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, unavailable("list messages", err)
	}
	defer rows.Close()

	msgs := []chat.Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, unavailable("list messages: scan", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list messages", err)
	}
	return msgs, nil
}

func (s *Store) UpdateMessage(ctx context.Context, m chat.Message) error {
	if !validUUID(m.ID) {
		return fmt.Errorf("pgstore: message %q: %w", m.ID, chat.ErrNotFound)
	}
	const query = `UPDATE messages SET recipient = $2, text = $3, kind = $4 WHERE id = $1`
	res, err := s.db.ExecContext(ctx, query, m.ID, m.To, m.Text, m.Kind)
	if err != nil {
		return unavailable("update message", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("pgstore: message %q: %w", m.ID, chat.ErrNotFound)
	}
	return nil
}

func (s *Store) DeleteMessage(ctx context.Context, id string) error {
	if !validUUID(id) {
		return fmt.Errorf("pgstore: message %q: %w", id, chat.ErrNotFound)
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE id = $1`, id)
	if err != nil {
		return unavailable("delete message", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("pgstore: message %q: %w", id, chat.ErrNotFound)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

// Close closes the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

func unavailable(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("pgstore: %s: %w", op, err)
	}
	return fmt.Errorf("pgstore: %s: %w: %w", op, chat.ErrUnavailable, err)
}
