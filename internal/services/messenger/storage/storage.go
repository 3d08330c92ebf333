// Package storage defines the message ledger contract. The delivery
// coordinator and history paginator depend only on this interface; the
// SQLite implementation lives in the sqlite subpackage.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound indicates a requested message record is missing.
var ErrNotFound = errors.New("record not found")

// MessageRecord stores one direct message row.
type MessageRecord struct {
	ID         string
	SenderID   string
	ReceiverID string
	Content    string
	ReplyTo    string
	Status     string
	Deleted    bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// ReactionCount is one per-emoji aggregate over a message's reaction set.
type ReactionCount struct {
	Emoji string
	Count int
}

// UnreadCount is one per-sender unread aggregate for a receiver.
type UnreadCount struct {
	SenderID string
	Count    int
}

// MessageStore persists messages, reactions, and presence bookkeeping.
//
// Writes rely on SQLite's own serialization; callers add no extra lock.
type MessageStore interface {
	PutMessage(ctx context.Context, record MessageRecord) error
	GetMessage(ctx context.Context, id string) (MessageRecord, error)

	// ListMessagesBetween returns up to limit non-deleted messages between
	// the pair, newest first, restricted to createdAt < before when before
	// is non-zero.
	ListMessagesBetween(ctx context.Context, userID, peerID string, limit int, before time.Time) ([]MessageRecord, error)

	// MarkSeen transitions every non-deleted sender→receiver message with
	// status != seen into seen, returning the number of rows changed.
	MarkSeen(ctx context.Context, senderID, receiverID string) (int, error)

	// Tombstone soft-deletes: replaces content, flags the row, keeps it.
	Tombstone(ctx context.Context, id, content string, at time.Time) error
	// PurgeMessage hard-deletes the row and its reactions atomically.
	PurgeMessage(ctx context.Context, id string) error

	// UpsertReaction stores exactly one reaction row per (message, user),
	// replacing any prior emoji from the same user.
	UpsertReaction(ctx context.Context, messageID, userID, emoji string, at time.Time) error
	// ReactionCounts returns per-emoji aggregates ordered by emoji.
	ReactionCounts(ctx context.Context, messageID string) ([]ReactionCount, error)

	UnreadCounts(ctx context.Context, receiverID string) ([]UnreadCount, error)
	// LatestMessages returns the newest non-deleted message per peer for
	// the conversation list, most recent conversation first.
	LatestMessages(ctx context.Context, userID string) ([]MessageRecord, error)

	SetLastSeen(ctx context.Context, userID string, at time.Time) error
}
