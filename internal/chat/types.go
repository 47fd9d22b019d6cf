package chat

import "time"

// Broadcast is the reserved recipient matched by every requester.
const Broadcast = "all"

// Message kinds.
const (
	KindMessage = "message"         // broadcast message from a participant
	KindPrivate = "private_message" // addressed to a single participant
	KindStatus  = "status"          // system join/leave notice
)

// Status notice texts.
const (
	NoticeJoined = "joined the room"
	NoticeLeft   = "left the room"
)

// Participant is an online user and the time of its last confirmed activity.
type Participant struct {
	Name          string    `json:"name"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
}

// IdleSince reports whether the participant's last heartbeat is older than
// cutoff.
func (p Participant) IdleSince(cutoff time.Time) bool {
	return p.LastHeartbeat.Before(cutoff)
}

// Message is a single entry of the message log. Seq is assigned by the store
// on insert and defines insertion order.
type Message struct {
	ID   string    `json:"id"`
	Seq  int64     `json:"seq"`
	From string    `json:"from"`
	To   string    `json:"to"`
	Text string    `json:"text"`
	Kind string    `json:"kind"`
	Time time.Time `json:"time"`
}

// Draft carries the client-supplied fields of a message to post or edit.
type Draft struct {
	From string
	To   string
	Text string
	Kind string
}

// IsClientKind reports whether kind may be submitted by a participant.
func IsClientKind(kind string) bool {
	return kind == KindMessage || kind == KindPrivate
}
