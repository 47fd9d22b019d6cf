// Package chat implements the room model: the participant directory with its
// heartbeat-based presence, the message log, and the per-requester visibility
// filter. Persistence is delegated to a Store supplied at construction.
package chat
