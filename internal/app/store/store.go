/*
Package store defines the persistence contracts for the chat server: an
append-only message log queryable by scope, and a presence registry of known
identities.

Two implementations are provided: Postgres (pgx connection pool, production)
and Memory (mutex-guarded, for development runs and tests).
*/
package store

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable indicates that the backing store could not complete the
// operation (connection failure, write failure). Callers are expected to
// treat it as transient: log, notify the affected client, and keep serving.
var ErrUnavailable = errors.New("store unavailable")

// Message is a single chat message record. Messages are append-only and
// immutable once written.
type Message struct {
	// ID is the store-assigned sequence number. Insertion order follows ID order.
	ID int64 `json:"id"`

	// Sender is the identity that produced the message.
	Sender string `json:"sender"`

	// Receiver is the target identity for private messages; empty iff the
	// message is public.
	Receiver string `json:"receiver,omitempty"`

	// Content is the message body. May be empty (degraded malformed payloads).
	Content string `json:"content"`

	// SentAt is the wall-clock time the router accepted the message,
	// truncated to second precision.
	SentAt time.Time `json:"sentAt"`

	// Private reports the message scope.
	Private bool `json:"private"`
}

// PresenceEntry records the last known connection of an identity.
// There is at most one entry per identity; reconnects overwrite it.
type PresenceEntry struct {
	Identity string    `json:"identity"`
	Label    string    `json:"label"`
	LastSeen time.Time `json:"lastSeen"`
}

// MessageStore is the append-only message log.
type MessageStore interface {
	// Append durably persists a message and returns its assigned ID. The
	// write is atomic and visible to subsequent queries immediately.
	Append(ctx context.Context, msg Message) (int64, error)

	// PublicHistory returns public messages in insertion order, oldest
	// first. Implementations may cap the result to the most recent N.
	PublicHistory(ctx context.Context) ([]Message, error)

	// PrivateHistory returns the private messages exchanged between the two
	// identities, in insertion order. The pair match is symmetric:
	// PrivateHistory(a, b) and PrivateHistory(b, a) return the same result.
	PrivateHistory(ctx context.Context, a, b string) ([]Message, error)
}

// PresenceStore is the registry of identities that have connected.
type PresenceStore interface {
	// Upsert inserts or overwrites the single entry for identity.
	// Idempotent; last-write-wins on reconnect.
	Upsert(ctx context.Context, identity, label string, seenAt time.Time) error

	// ListActive returns a snapshot of all known entries. Entries are never
	// expired; disconnects leave them in place with a stale LastSeen.
	ListActive(ctx context.Context) ([]PresenceEntry, error)
}
