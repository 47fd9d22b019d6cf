// Package redisstore implements chat.Store on Redis. Records are hashes:
//
//	participant:<name>  name, last_heartbeat (unix ms)
//	participants        set of names
//	message:<id>        id, seq, from, to, text, kind, time (unix ms)
//	messages            sorted set of ids scored by seq
//	messages:seq        insertion counter
//
// Conditional writes run as Lua scripts so each one is atomic.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/whisper/chatroom/internal/chat"
)

const (
	ParticipantPrefix = "participant:"
	ParticipantsKey   = "participants"
	MessagePrefix     = "message:"
	MessagesKey       = "messages"
	MessageSeqKey     = "messages:seq"
)

// Store is a chat.Store backed by a Redis client.
type Store struct {
	rdb          *redis.Client
	insertScript *redis.Script
	touchScript  *redis.Script
	deleteScript *redis.Script
	updateScript *redis.Script
	delMsgScript *redis.Script
}

// NewClient returns a client for addr whose dial and retry budget is short,
// so an unreachable server fails a call before the caller's deadline.
func NewClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		MaxRetries:   1,
	})
}

// Open connects to Redis at addr and verifies the connection.
func Open(ctx context.Context, addr string) (*Store, error) {
	client := NewClient(addr)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redisstore: redis connection failed: %w", err)
	}
	return New(client), nil
}

// New wraps an existing client.
func New(rdb *redis.Client) *Store {
	return &Store{
		rdb:          rdb,
		insertScript: redis.NewScript(insertParticipantLua),
		touchScript:  redis.NewScript(touchParticipantLua),
		deleteScript: redis.NewScript(deleteParticipantLua),
		updateScript: redis.NewScript(updateMessageLua),
		delMsgScript: redis.NewScript(deleteMessageLua),
	}
}

// Client returns the underlying Redis client for use by other packages.
func (s *Store) Client() *redis.Client {
	return s.rdb
}

func (s *Store) InsertParticipant(ctx context.Context, p chat.Participant) error {
	ok, err := s.insertScript.Run(ctx, s.rdb,
		[]string{ParticipantPrefix + p.Name, ParticipantsKey},
		p.Name, p.LastHeartbeat.UnixMilli(),
	).Int()
	if err != nil {
		return unavailable("insert participant", err)
	}
	if ok == 0 {
		return fmt.Errorf("redisstore: participant %q: %w", p.Name, chat.ErrConflict)
	}
	return nil
}

func (s *Store) GetParticipant(ctx context.Context, name string) (chat.Participant, error) {
	fields, err := s.rdb.HGetAll(ctx, ParticipantPrefix+name).Result()
	if err != nil {
		return chat.Participant{}, unavailable("get participant", err)
	}
	if len(fields) == 0 {
		return chat.Participant{}, fmt.Errorf("redisstore: participant %q: %w", name, chat.ErrNotFound)
	}
	return parseParticipant(fields), nil
}

func (s *Store) ListParticipants(ctx context.Context) ([]chat.Participant, error) {
	names, err := s.rdb.SMembers(ctx, ParticipantsKey).Result()
	if err != nil {
		return nil, unavailable("list participants", err)
	}
	if len(names) == 0 {
		return []chat.Participant{}, nil
	}

	pipe := s.rdb.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(names))
	for i, name := range names {
		cmds[i] = pipe.HGetAll(ctx, ParticipantPrefix+name)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, unavailable("list participants", err)
	}

	ps := make([]chat.Participant, 0, len(names))
	for _, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue // removed between SMEMBERS and HGETALL
		}
		ps = append(ps, parseParticipant(fields))
	}
	return ps, nil
}

func (s *Store) TouchParticipant(ctx context.Context, name string, at time.Time) error {
	ok, err := s.touchScript.Run(ctx, s.rdb, []string{ParticipantPrefix + name}, at.UnixMilli()).Int()
	if err != nil {
		return unavailable("touch participant", err)
	}
	if ok == 0 {
		return fmt.Errorf("redisstore: participant %q: %w", name, chat.ErrNotFound)
	}
	return nil
}

func (s *Store) DeleteParticipant(ctx context.Context, name string) (chat.Participant, error) {
	return s.deleteParticipant(ctx, name, -1)
}

func (s *Store) DeleteIdleParticipant(ctx context.Context, name string, cutoff time.Time) (chat.Participant, error) {
	return s.deleteParticipant(ctx, name, cutoff.UnixMilli())
}

// deleteParticipant removes name. A non-negative cutoff makes the delete
// conditional on the stored heartbeat being older than cutoff.
func (s *Store) deleteParticipant(ctx context.Context, name string, cutoff int64) (chat.Participant, error) {
	res, err := s.deleteScript.Run(ctx, s.rdb,
		[]string{ParticipantPrefix + name, ParticipantsKey},
		name, cutoff,
	).Int64Slice()
	if err != nil {
		return chat.Participant{}, unavailable("delete participant", err)
	}
	switch res[0] {
	case 0:
		return chat.Participant{}, fmt.Errorf("redisstore: participant %q: %w", name, chat.ErrNotFound)
	case -1:
		return chat.Participant{}, fmt.Errorf("redisstore: participant %q is active: %w", name, chat.ErrConflict)
	}
	return chat.Participant{Name: name, LastHeartbeat: time.UnixMilli(res[1]).UTC()}, nil
}

func (s *Store) InsertMessage(ctx context.Context, m *chat.Message) error {
	seq, err := s.rdb.Incr(ctx, MessageSeqKey).Result()
	if err != nil {
		return unavailable("insert message", err)
	}
	m.Seq = seq

	key := MessagePrefix + m.ID
	created, err := s.rdb.HSetNX(ctx, key, "id", m.ID).Result()
	if err != nil {
		return unavailable("insert message", err)
	}
	if !created {
		return fmt.Errorf("redisstore: message %q: %w", m.ID, chat.ErrConflict)
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, map[string]interface{}{
			"seq":  m.Seq,
			"from": m.From,
			"to":   m.To,
			"text": m.Text,
			"kind": m.Kind,
			"time": m.Time.UnixMilli(),
		})
		pipe.ZAdd(ctx, MessagesKey, redis.Z{Score: float64(m.Seq), Member: m.ID})
		return nil
	})
	if err != nil {
		s.rdb.Del(context.WithoutCancel(ctx), key)
		return unavailable("insert message", err)
	}
	return nil
}

func (s *Store) GetMessage(ctx context.Context, id string) (chat.Message, error) {
	fields, err := s.rdb.HGetAll(ctx, MessagePrefix+id).Result()
	if err != nil {
		return chat.Message{}, unavailable("get message", err)
	}
	if len(fields) == 0 || fields["seq"] == "" {
		return chat.Message{}, fmt.Errorf("redisstore: message %q: %w", id, chat.ErrNotFound)
	}
	return parseMessage(fields), nil
}

func (s *Store) ListMessages(ctx context.Context) ([]chat.Message, error) {
	ids, err := s.rdb.ZRange(ctx, MessagesKey, 0, -1).Result()
	if err != nil {
		return nil, unavailable("list messages", err)
	}
	if len(ids) == 0 {
		return []chat.Message{}, nil
	}

	pipe := s.rdb.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, MessagePrefix+id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, unavailable("list messages", err)
	}

	msgs := make([]chat.Message, 0, len(ids))
	for _, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 || fields["seq"] == "" {
			continue
		}
		msgs = append(msgs, parseMessage(fields))
	}
	return msgs, nil
}

func (s *Store) UpdateMessage(ctx context.Context, m chat.Message) error {
	ok, err := s.updateScript.Run(ctx, s.rdb, []string{MessagePrefix + m.ID}, m.To, m.Text, m.Kind).Int()
	if err != nil {
		return unavailable("update message", err)
	}
	if ok == 0 {
		return fmt.Errorf("redisstore: message %q: %w", m.ID, chat.ErrNotFound)
	}
	return nil
}

func (s *Store) DeleteMessage(ctx context.Context, id string) error {
	ok, err := s.delMsgScript.Run(ctx, s.rdb, []string{MessagePrefix + id, MessagesKey}, id).Int()
	if err != nil {
		return unavailable("delete message", err)
	}
	if ok == 0 {
		return fmt.Errorf("redisstore: message %q: %w", id, chat.ErrNotFound)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.rdb.Close()
}

// unavailable marks err as a store outage. Only a cancelled caller keeps the
// bare context error; a deadline spent waiting on Redis is an outage.
func unavailable(op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("redisstore: %s: %w", op, err)
	}
	return fmt.Errorf("redisstore: %s: %w: %w", op, chat.ErrUnavailable, err)
}

func parseParticipant(fields map[string]string) chat.Participant {
	hb, _ := strconv.ParseInt(fields["last_heartbeat"], 10, 64)
	return chat.Participant{
		Name:          fields["name"],
		LastHeartbeat: time.UnixMilli(hb).UTC(),
	}
}

func parseMessage(fields map[string]string) chat.Message {
	seq, _ := strconv.ParseInt(fields["seq"], 10, 64)
	at, _ := strconv.ParseInt(fields["time"], 10, 64)
	return chat.Message{
		ID:   fields["id"],
		Seq:  seq,
		From: fields["from"],
		To:   fields["to"],
		Text: fields["text"],
		Kind: fields["kind"],
		Time: time.UnixMilli(at).UTC(),
	}
}

// insertParticipantLua creates the participant hash only if it does not exist.
const insertParticipantLua = `
if redis.call('EXISTS', KEYS[1]) == 1 then return 0 end
redis.call('HSET', KEYS[1], 'name', ARGV[1], 'last_heartbeat', ARGV[2])
redis.call('SADD', KEYS[2], ARGV[1])
return 1
`

const touchParticipantLua = `
if redis.call('EXISTS', KEYS[1]) == 0 then return 0 end
redis.call('HSET', KEYS[1], 'last_heartbeat', ARGV[1])
return 1
`

// deleteParticipantLua returns {1, heartbeat} on delete, {0} when missing and
// {-1, heartbeat} when a cutoff is given and the participant is not idle.
const deleteParticipantLua = `
local hb = redis.call('HGET', KEYS[1], 'last_heartbeat')
if not hb then return {0} end
local cutoff = tonumber(ARGV[2])
if cutoff >= 0 and tonumber(hb) >= cutoff then return {-1, tonumber(hb)} end
redis.call('DEL', KEYS[1])
redis.call('SREM', KEYS[2], ARGV[1])
return {1, tonumber(hb)}
`

const updateMessageLua = `
if redis.call('HEXISTS', KEYS[1], 'seq') == 0 then return 0 end
redis.call('HSET', KEYS[1], 'to', ARGV[1], 'text', ARGV[2], 'kind', ARGV[3])
return 1
`

const deleteMessageLua = `
if redis.call('HEXISTS', KEYS[1], 'seq') == 0 then return 0 end
redis.call('DEL', KEYS[1])
redis.call('ZREM', KEYS[2], ARGV[1])
return 1
`
