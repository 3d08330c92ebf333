package domain

import (
	"errors"
	"strings"
	"testing"
	"time"

	apperrors "github.com/paircast/paircast/internal/platform/errors"
)

func TestNewMessageValidation(t *testing.T) {
	now := time.Date(2026, time.March, 1, 9, 0, 0, 0, time.UTC)

	cases := []struct {
		name     string
		sender   string
		receiver string
		content  string
	}{
		{"empty sender", "", "user-2", "hello"},
		{"empty receiver", "user-1", "", "hello"},
		{"self message", "user-1", "user-1", "hello"},
		{"blank content", "user-1", "user-2", "   "},
		{"oversized content", "user-1", "user-2", strings.Repeat("x", MaxContentRunes+1)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewMessage(tc.sender, tc.receiver, tc.content, "", now)
			if !errors.Is(err, apperrors.New(apperrors.CodeInvalidArgument, "")) {
				t.Fatalf("expected invalid argument, got %v", err)
			}
		})
	}
}

func TestNewMessageDefaults(t *testing.T) {
	now := time.Date(2026, time.March, 1, 9, 0, 0, 0, time.UTC)
	msg, err := NewMessage(" user-1 ", "user-2", "hello", " reply-1 ", now)
	if err != nil {
		t.Fatalf("new message: %v", err)
	}
	if msg.ID == "" {
		t.Fatal("expected generated id")
	}
	if msg.Status != StatusSent {
		t.Fatalf("status = %q, want %q", msg.Status, StatusSent)
	}
	if msg.Deleted != DeleteStateActive {
		t.Fatalf("deleted = %q, want %q", msg.Deleted, DeleteStateActive)
	}
	if msg.SenderID != "user-1" || msg.ReplyTo != "reply-1" {
		t.Fatalf("expected trimmed ids, got sender %q reply %q", msg.SenderID, msg.ReplyTo)
	}
	if !msg.CreatedAt.Equal(now) {
		t.Fatalf("created at = %v, want %v", msg.CreatedAt, now)
	}
}

func TestDeleteTransition(t *testing.T) {
	msg := Message{ID: "m1", SenderID: "user-1", Deleted: DeleteStateActive}

	if got := msg.DeleteTransition("user-2"); got != DeleteActionNone {
		t.Fatalf("non-sender delete = %v, want none", got)
	}
	if got := msg.DeleteTransition(""); got != DeleteActionNone {
		t.Fatalf("anonymous delete = %v, want none", got)
	}
	if got := msg.DeleteTransition("user-1"); got != DeleteActionTombstone {
		t.Fatalf("first sender delete = %v, want tombstone", got)
	}

	msg.ApplyTombstone(time.Date(2026, time.March, 1, 10, 0, 0, 0, time.UTC))
	if msg.Content != TombstoneContent {
		t.Fatalf("content = %q, want tombstone placeholder", msg.Content)
	}
	if got := msg.DeleteTransition("user-1"); got != DeleteActionPurge {
		t.Fatalf("second sender delete = %v, want purge", got)
	}
	if got := msg.DeleteTransition("user-2"); got != DeleteActionNone {
		t.Fatalf("non-sender delete on tombstone = %v, want none", got)
	}
}

func TestNewIDShape(t *testing.T) {
	seen := make(map[string]struct{})
	for range 32 {
		id, err := NewID()
		if err != nil {
			t.Fatalf("new id: %v", err)
		}
		if len(id) != 26 {
			t.Fatalf("id length = %d, want 26", len(id))
		}
		if id != strings.ToLower(id) {
			t.Fatalf("id %q is not lowercase", id)
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = struct{}{}
	}
}
