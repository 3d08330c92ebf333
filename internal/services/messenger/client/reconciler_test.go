package client

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/paircast/paircast/internal/services/messenger/domain"
	"github.com/paircast/paircast/internal/services/messenger/wire"
)

func newTestReconciler(t *testing.T) (*Reconciler, *SQLiteSeenStore) {
	t.Helper()
	store, err := OpenSeenStore(filepath.Join(t.TempDir(), "client.db"))
	if err != nil {
		t.Fatalf("open seen store: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return NewReconciler("user-1", "user-2", store), store
}

func envelopeAt(id, sender, content string, at time.Time) wire.Envelope {
	receiver := "user-2"
	if sender == "user-2" {
		receiver = "user-1"
	}
	return wire.Envelope{
		ID:         id,
		SenderID:   sender,
		ReceiverID: receiver,
		Content:    content,
		Status:     "sent",
		Reactions:  []wire.ReactionCount{},
		CreatedAt:  at,
	}
}

func TestSendEchoAdoptsServerID(t *testing.T) {
	rec, _ := newTestReconciler(t)
	ctx := context.Background()

	optimistic, err := rec.Send(ctx, "hello", "")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if got := rec.Messages(); len(got) != 1 || got[0].ID != optimistic.ID {
		t.Fatalf("optimistic view = %+v", got)
	}

	echo := envelopeAt("srv-1", "user-1", "hello", optimistic.CreatedAt)
	if result := rec.ApplyPush(ctx, echo); result != PushCompleted {
		t.Fatalf("echo result = %v, want PushCompleted", result)
	}
	got := rec.Messages()
	if len(got) != 1 {
		t.Fatalf("view size = %d, want 1", len(got))
	}
	if got[0].ID != "srv-1" {
		t.Fatalf("entry id = %q, want srv-1", got[0].ID)
	}
	if rec.PendingCount() != 0 {
		t.Fatalf("pending = %d, want 0", rec.PendingCount())
	}

	// The echo arriving again is a plain duplicate.
	if result := rec.ApplyPush(ctx, echo); result != PushDuplicate {
		t.Fatalf("re-echo result = %v, want PushDuplicate", result)
	}
}

func TestPushCarryingTokenIDCompletes(t *testing.T) {
	rec, _ := newTestReconciler(t)
	ctx := context.Background()

	optimistic, err := rec.Send(ctx, "hello", "")
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	// A push reusing the token as id completes the send in place.
	if result := rec.ApplyPush(ctx, envelopeAt(optimistic.ID, "user-1", "hello", optimistic.CreatedAt)); result != PushCompleted {
		t.Fatalf("result = %v, want PushCompleted", result)
	}
	if rec.PendingCount() != 0 {
		t.Fatalf("pending = %d, want 0", rec.PendingCount())
	}
	if got := rec.Messages(); len(got) != 1 || got[0].ID != optimistic.ID {
		t.Fatalf("view = %+v", got)
	}
}

func TestEchoConsumesOldestPendingFirst(t *testing.T) {
	rec, _ := newTestReconciler(t)
	ctx := context.Background()

	first, err := rec.Send(ctx, "same words", "")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if _, err := rec.Send(ctx, "same words", ""); err != nil {
		t.Fatalf("send: %v", err)
	}

	echo := envelopeAt("srv-1", "user-1", "same words", first.CreatedAt)
	if result := rec.ApplyPush(ctx, echo); result != PushCompleted {
		t.Fatalf("echo result = %v, want PushCompleted", result)
	}
	got := rec.Messages()
	if len(got) != 2 {
		t.Fatalf("view size = %d, want 2", len(got))
	}
	if got[0].ID != "srv-1" {
		t.Fatalf("oldest entry id = %q, want srv-1", got[0].ID)
	}
	if rec.PendingCount() != 1 {
		t.Fatalf("pending = %d, want 1", rec.PendingCount())
	}
}

func TestPeerPushAppendsOnce(t *testing.T) {
	rec, _ := newTestReconciler(t)
	ctx := context.Background()
	at := time.Date(2026, time.March, 4, 9, 0, 0, 0, time.UTC)

	push := envelopeAt("srv-9", "user-2", "hi", at)
	if result := rec.ApplyPush(ctx, push); result != PushAppended {
		t.Fatalf("push result = %v, want PushAppended", result)
	}
	if result := rec.ApplyPush(ctx, push); result != PushDuplicate {
		t.Fatalf("repeat result = %v, want PushDuplicate", result)
	}
	if got := rec.Messages(); len(got) != 1 {
		t.Fatalf("view size = %d, want 1", len(got))
	}
}

func TestPageOverlapWithPushes(t *testing.T) {
	rec, _ := newTestReconciler(t)
	ctx := context.Background()
	base := time.Date(2026, time.March, 4, 9, 0, 0, 0, time.UTC)

	// Live pushes land first.
	rec.ApplyPush(ctx, envelopeAt("srv-3", "user-2", "three", base.Add(3*time.Minute)))
	rec.ApplyPush(ctx, envelopeAt("srv-4", "user-2", "four", base.Add(4*time.Minute)))

	// The history page overlaps them and adds older messages.
	page := []wire.Envelope{
		envelopeAt("srv-1", "user-1", "one", base.Add(1*time.Minute)),
		envelopeAt("srv-2", "user-2", "two", base.Add(2*time.Minute)),
		envelopeAt("srv-3", "user-2", "three", base.Add(3*time.Minute)),
		envelopeAt("srv-4", "user-2", "four", base.Add(4*time.Minute)),
	}
	if added := rec.ApplyPage(ctx, page); added != 2 {
		t.Fatalf("added = %d, want 2", added)
	}

	got := rec.Messages()
	if len(got) != 4 {
		t.Fatalf("view size = %d, want 4", len(got))
	}
	for i, want := range []string{"srv-1", "srv-2", "srv-3", "srv-4"} {
		if got[i].ID != want {
			t.Fatalf("entry %d = %q, want %q", i, got[i].ID, want)
		}
	}

	// Re-applying the same page changes nothing.
	if added := rec.ApplyPage(ctx, page); added != 0 {
		t.Fatalf("re-applied page added %d, want 0", added)
	}
}

func TestReloadRecovery(t *testing.T) {
	rec, store := newTestReconciler(t)
	ctx := context.Background()
	at := time.Date(2026, time.March, 4, 9, 0, 0, 0, time.UTC)

	rec.ApplyPush(ctx, envelopeAt("srv-1", "user-2", "before reload", at))

	// A fresh view over the same store knows the id without rendering it.
	reloaded := NewReconciler("user-1", "user-2", store)
	if err := reloaded.Restore(ctx); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if result := reloaded.ApplyPush(ctx, envelopeAt("srv-1", "user-2", "before reload", at)); result != PushDuplicate {
		t.Fatalf("recovered push result = %v, want PushDuplicate", result)
	}
	if added := reloaded.ApplyPage(ctx, []wire.Envelope{envelopeAt("srv-1", "user-2", "before reload", at)}); added != 0 {
		t.Fatalf("recovered page added %d, want 0", added)
	}
}

func TestContentTimeFallback(t *testing.T) {
	rec, _ := newTestReconciler(t)
	ctx := context.Background()
	at := time.Date(2026, time.March, 4, 9, 0, 0, 0, time.UTC)

	// An own message from history with no pending token and no known id
	// still dedups against a near-simultaneous rendition.
	rec.ApplyPush(ctx, envelopeAt("srv-1", "user-1", "ambiguous", at))
	if result := rec.ApplyPush(ctx, envelopeAt("srv-1b", "user-1", "ambiguous", at.Add(500*time.Millisecond))); result != PushDuplicate {
		t.Fatalf("near-duplicate result = %v, want PushDuplicate", result)
	}

	// Outside the window it is a distinct message.
	if result := rec.ApplyPush(ctx, envelopeAt("srv-2", "user-1", "ambiguous", at.Add(2*time.Second))); result != PushAppended {
		t.Fatalf("distant result = %v, want PushAppended", result)
	}

	// Peer messages dedup through the same fallback.
	rec.ApplyPush(ctx, envelopeAt("peer-1", "user-2", "from the peer", at))
	if result := rec.ApplyPush(ctx, envelopeAt("peer-1b", "user-2", "from the peer", at.Add(300*time.Millisecond))); result != PushDuplicate {
		t.Fatalf("peer near-duplicate result = %v, want PushDuplicate", result)
	}
	if result := rec.ApplyPush(ctx, envelopeAt("peer-2", "user-2", "from the peer", at.Add(3*time.Second))); result != PushAppended {
		t.Fatalf("peer distant result = %v, want PushAppended", result)
	}
}

func TestSeenReactionTombstoneRemoval(t *testing.T) {
	rec, _ := newTestReconciler(t)
	ctx := context.Background()
	at := time.Date(2026, time.March, 4, 9, 0, 0, 0, time.UTC)

	rec.ApplyPush(ctx, envelopeAt("mine", "user-1", "ours", at))
	rec.ApplyPush(ctx, envelopeAt("theirs", "user-2", "reply", at.Add(time.Minute)))

	rec.ApplySeen()
	got := rec.Messages()
	if got[0].Status != string(domain.StatusSeen) {
		t.Fatalf("own status = %q, want seen", got[0].Status)
	}
	if got[1].Status == string(domain.StatusSeen) {
		t.Fatal("peer message must not flip to seen")
	}

	rec.ApplyReactionUpdate(wire.ReactionUpdatePayload{
		MessageID: "theirs",
		Reactions: []wire.ReactionCount{{Emoji: "👍", Count: 1}},
	})
	got = rec.Messages()
	if len(got[1].Reactions) != 1 || got[1].Reactions[0].Emoji != "👍" {
		t.Fatalf("reactions = %+v", got[1].Reactions)
	}

	rec.ApplyTombstone("mine")
	got = rec.Messages()
	if !got[0].Deleted || got[0].Content != domain.TombstoneContent {
		t.Fatalf("tombstone entry = %+v", got[0])
	}

	rec.ApplyRemoval("mine")
	got = rec.Messages()
	if len(got) != 1 || got[0].ID != "theirs" {
		t.Fatalf("view after removal = %+v", got)
	}
}

func TestSwitchPeerResetsState(t *testing.T) {
	rec, store := newTestReconciler(t)
	ctx := context.Background()
	at := time.Date(2026, time.March, 4, 9, 0, 0, 0, time.UTC)

	rec.ApplyPush(ctx, envelopeAt("srv-1", "user-2", "first thread", at))
	if err := rec.SwitchPeer(ctx, "user-3"); err != nil {
		t.Fatalf("switch peer: %v", err)
	}
	if got := rec.Messages(); len(got) != 0 {
		t.Fatalf("view after switch = %+v", got)
	}

	// The old conversation's recovery state is gone.
	ids, err := store.Load(ctx, "user-1", "user-2")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("stale recovery ids = %v", ids)
	}
}
