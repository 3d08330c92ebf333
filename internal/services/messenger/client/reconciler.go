package client

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/paircast/paircast/internal/services/messenger/domain"
	"github.com/paircast/paircast/internal/services/messenger/wire"
)

// nearDuplicateWindow bounds the content-plus-time fallback used when no
// id or token can correlate two renditions of the same message.
const nearDuplicateWindow = time.Second

// PushResult classifies what a live push did to the view.
type PushResult int

const (
	// PushAppended means the message was new and is now rendered.
	PushAppended PushResult = iota
	// PushCompleted means the push matched an optimistic entry, which
	// adopted the server id.
	PushCompleted
	// PushDuplicate means the message was already rendered.
	PushDuplicate
)

type pendingSend struct {
	token   string
	content string
	sentAt  time.Time
}

// Reconciler maintains one conversation view. Messages arrive through
// live pushes, sender echoes, history pages, and reload recovery; every
// message renders exactly once regardless of how many paths carry it.
type Reconciler struct {
	mu      sync.Mutex
	selfID  string
	peerID  string
	store   SeenStore
	now     func() time.Time
	entries []wire.Envelope
	index   map[string]int
	pending []pendingSend
	seen    map[string]struct{}
}

// NewReconciler builds the view for one conversation.
func NewReconciler(selfID, peerID string, store SeenStore) *Reconciler {
	return &Reconciler{
		selfID: strings.TrimSpace(selfID),
		peerID: strings.TrimSpace(peerID),
		store:  store,
		now:    time.Now,
		index:  make(map[string]int),
		seen:   make(map[string]struct{}),
	}
}

// Restore loads the persisted rendered-id set so messages already shown
// before a reload are not appended again.
func (r *Reconciler) Restore(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	ids, err := r.store.Load(ctx, r.selfID, r.peerID)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		r.seen[id] = struct{}{}
	}
	return nil
}

// Send renders an outbound message optimistically and registers its
// correlation token. The returned envelope carries the token as a
// provisional id until the server echo arrives.
func (r *Reconciler) Send(ctx context.Context, content, replyTo string) (wire.Envelope, error) {
	token, err := domain.NewID()
	if err != nil {
		return wire.Envelope{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	envelope := wire.Envelope{
		ID:         token,
		SenderID:   r.selfID,
		ReceiverID: r.peerID,
		Content:    content,
		Status:     string(domain.StatusSent),
		Reactions:  []wire.ReactionCount{},
		CreatedAt:  r.now().UTC(),
	}
	if replyTo = strings.TrimSpace(replyTo); replyTo != "" {
		if i, ok := r.index[replyTo]; ok {
			target := r.entries[i]
			envelope.ReplyTo = &wire.ReplyPreview{ID: target.ID, SenderID: target.SenderID, Content: target.Content}
		}
	}
	r.append(envelope)
	r.pending = append(r.pending, pendingSend{token: token, content: content, sentAt: envelope.CreatedAt})
	return envelope, nil
}

// ApplyPush merges one live delivery or sender echo.
//
// An echo of an own message consumes the oldest pending send with the
// same content: the optimistic entry adopts the server id and no new
// entry appears. Anything already rendered is dropped.
func (r *Reconciler) ApplyPush(ctx context.Context, envelope wire.Envelope) PushResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	// A push carrying a pending token as its id completes that send
	// directly; the optimistic entry is already rendered under it.
	for p, pend := range r.pending {
		if pend.token == envelope.ID {
			r.pending = append(r.pending[:p], r.pending[p+1:]...)
			r.record(ctx, envelope.ID)
			return PushCompleted
		}
	}

	if _, ok := r.index[envelope.ID]; ok {
		return PushDuplicate
	}
	if _, ok := r.seen[envelope.ID]; ok {
		return PushDuplicate
	}

	if envelope.SenderID == r.selfID {
		if i, consumed := r.consumePending(envelope.Content); consumed {
			token := r.entries[i].ID
			delete(r.index, token)
			r.entries[i] = envelope
			r.index[envelope.ID] = i
			r.record(ctx, envelope.ID)
			return PushCompleted
		}
	}

	// No id or token matched; fall back to content and arrival time,
	// whoever the sender is.
	if r.hasNearDuplicate(envelope) {
		r.record(ctx, envelope.ID)
		return PushDuplicate
	}

	r.append(envelope)
	r.record(ctx, envelope.ID)
	return PushAppended
}

// ApplyPage merges one history page and reports how many messages were
// actually new. Pages may overlap pushes, echoes, and earlier pages.
func (r *Reconciler) ApplyPage(ctx context.Context, page []wire.Envelope) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	added := 0
	for _, envelope := range page {
		if _, ok := r.index[envelope.ID]; ok {
			continue
		}
		if _, ok := r.seen[envelope.ID]; ok {
			continue
		}
		if r.hasNearDuplicate(envelope) {
			r.record(ctx, envelope.ID)
			continue
		}
		r.append(envelope)
		r.record(ctx, envelope.ID)
		added++
	}
	if added > 0 {
		r.sortEntries()
	}
	return added
}

// ApplySeen marks every own message in the view as seen.
func (r *Reconciler) ApplySeen() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.entries {
		if r.entries[i].SenderID == r.selfID {
			r.entries[i].Status = string(domain.StatusSeen)
		}
	}
}

// ApplyReactionUpdate replaces the reaction aggregate for one message.
func (r *Reconciler) ApplyReactionUpdate(update wire.ReactionUpdatePayload) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i, ok := r.index[update.MessageID]; ok {
		r.entries[i].Reactions = update.Reactions
	}
}

// ApplyTombstone replaces a message's content with the placeholder while
// keeping its position in the view.
func (r *Reconciler) ApplyTombstone(messageID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i, ok := r.index[messageID]; ok {
		r.entries[i].Deleted = true
		r.entries[i].Content = domain.TombstoneContent
		r.entries[i].Reactions = []wire.ReactionCount{}
	}
}

// ApplyRemoval drops a purged message from the view entirely.
func (r *Reconciler) ApplyRemoval(messageID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.index[messageID]
	if !ok {
		return
	}
	r.entries = append(r.entries[:i], r.entries[i+1:]...)
	delete(r.index, messageID)
	for j := i; j < len(r.entries); j++ {
		r.index[r.entries[j].ID] = j
	}
}

// SwitchPeer resets the view for a different conversation, dropping the
// persisted recovery state of the previous one.
func (r *Reconciler) SwitchPeer(ctx context.Context, peerID string) error {
	r.mu.Lock()
	previous := r.peerID
	r.peerID = strings.TrimSpace(peerID)
	r.entries = nil
	r.index = make(map[string]int)
	r.pending = nil
	r.seen = make(map[string]struct{})
	r.mu.Unlock()

	if r.store == nil || previous == "" {
		return nil
	}
	return r.store.Clear(ctx, r.selfID, previous)
}

// Messages returns the rendered conversation, oldest first.
func (r *Reconciler) Messages() []wire.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]wire.Envelope, len(r.entries))
	copy(out, r.entries)
	return out
}

// PendingCount reports how many optimistic sends still await an echo.
func (r *Reconciler) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

func (r *Reconciler) append(envelope wire.Envelope) {
	r.index[envelope.ID] = len(r.entries)
	r.entries = append(r.entries, envelope)
}

func (r *Reconciler) record(ctx context.Context, messageID string) {
	r.seen[messageID] = struct{}{}
	if r.store != nil {
		// Recovery state is best effort; a failed write only risks a
		// duplicate render after reload.
		_ = r.store.Add(ctx, r.selfID, r.peerID, messageID)
	}
}

// consumePending removes the oldest pending send with matching content
// and returns the entry index of its optimistic rendition.
func (r *Reconciler) consumePending(content string) (int, bool) {
	for p, pend := range r.pending {
		if pend.content != content {
			continue
		}
		i, ok := r.index[pend.token]
		r.pending = append(r.pending[:p], r.pending[p+1:]...)
		if !ok {
			return 0, false
		}
		return i, true
	}
	return 0, false
}

// hasNearDuplicate reports whether an entry with the same sender and
// content exists within the fallback window.
func (r *Reconciler) hasNearDuplicate(envelope wire.Envelope) bool {
	for _, entry := range r.entries {
		if entry.SenderID != envelope.SenderID || entry.Content != envelope.Content {
			continue
		}
		delta := entry.CreatedAt.Sub(envelope.CreatedAt)
		if delta < 0 {
			delta = -delta
		}
		if delta < nearDuplicateWindow {
			return true
		}
	}
	return false
}

func (r *Reconciler) sortEntries() {
	sort.SliceStable(r.entries, func(i, j int) bool {
		return r.entries[i].CreatedAt.Before(r.entries[j].CreatedAt)
	})
	for i := range r.entries {
		r.index[r.entries[i].ID] = i
	}
}
