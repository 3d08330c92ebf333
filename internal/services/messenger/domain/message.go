// Package domain holds the message entity and the rules the delivery
// coordinator enforces: content bounds, the two-step delete state
// machine, and per-user reaction uniqueness.
package domain

import (
	"strings"
	"time"
	"unicode/utf8"

	apperrors "github.com/paircast/paircast/internal/platform/errors"
)

// TombstoneContent replaces the body of a soft-deleted message for all
// viewers while the row itself persists.
const TombstoneContent = "This message was deleted"

// MaxContentRunes bounds a message body.
const MaxContentRunes = 2000

// Status is the read-receipt lifecycle of a message.
type Status string

const (
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusSeen      Status = "seen"
)

// DeleteState is the explicit two-state delete machine. A message moves
// active → tombstoned on the first sender delete, and is purged on the
// second; the tombstone window is the undo opportunity.
type DeleteState string

const (
	// DeleteStateActive is a normal, visible message.
	DeleteStateActive DeleteState = "active"
	// DeleteStateTombstoned is a retained row with placeholder content.
	DeleteStateTombstoned DeleteState = "tombstoned"
)

// DeleteAction is the outcome of a delete request against the current state.
type DeleteAction int

const (
	// DeleteActionNone means the request must be ignored.
	DeleteActionNone DeleteAction = iota
	// DeleteActionTombstone soft-deletes: content replaced, row kept.
	DeleteActionTombstone
	// DeleteActionPurge hard-deletes: row and reactions removed.
	DeleteActionPurge
)

// Message is the conversation entity between two identified users.
type Message struct {
	ID         string
	SenderID   string
	ReceiverID string
	Content    string
	ReplyTo    string
	Status     Status
	Deleted    DeleteState
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// NewMessage validates input and builds a message ready to persist.
func NewMessage(senderID, receiverID, content, replyTo string, at time.Time) (Message, error) {
	senderID = strings.TrimSpace(senderID)
	receiverID = strings.TrimSpace(receiverID)
	if senderID == "" {
		return Message{}, apperrors.New(apperrors.CodeInvalidArgument, "sender id is required")
	}
	if receiverID == "" {
		return Message{}, apperrors.New(apperrors.CodeInvalidArgument, "receiver id is required")
	}
	if senderID == receiverID {
		return Message{}, apperrors.New(apperrors.CodeInvalidArgument, "receiver must differ from sender")
	}
	if strings.TrimSpace(content) == "" {
		return Message{}, apperrors.New(apperrors.CodeInvalidArgument, "content is required")
	}
	if utf8.RuneCountInString(content) > MaxContentRunes {
		return Message{}, apperrors.New(apperrors.CodeInvalidArgument, "content exceeds maximum length")
	}

	id, err := NewID()
	if err != nil {
		return Message{}, err
	}
	return Message{
		ID:         id,
		SenderID:   senderID,
		ReceiverID: receiverID,
		Content:    content,
		ReplyTo:    strings.TrimSpace(replyTo),
		Status:     StatusSent,
		Deleted:    DeleteStateActive,
		CreatedAt:  at.UTC(),
		UpdatedAt:  at.UTC(),
	}, nil
}

// DeleteTransition resolves a delete request against the current state.
// Only the original sender may act; everyone else gets DeleteActionNone.
func (m Message) DeleteTransition(requesterID string) DeleteAction {
	if strings.TrimSpace(requesterID) == "" || requesterID != m.SenderID {
		return DeleteActionNone
	}
	switch m.Deleted {
	case DeleteStateActive:
		return DeleteActionTombstone
	case DeleteStateTombstoned:
		return DeleteActionPurge
	default:
		return DeleteActionNone
	}
}

// ApplyTombstone performs the soft-delete mutation on the entity.
func (m *Message) ApplyTombstone(at time.Time) {
	m.Deleted = DeleteStateTombstoned
	m.Content = TombstoneContent
	m.UpdatedAt = at.UTC()
}
