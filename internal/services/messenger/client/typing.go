package client

import (
	"sync"
	"time"
)

// typingExpiry is how long a typing indicator stays active without a
// refresh before the view drops it.
const typingExpiry = 800 * time.Millisecond

// TypingTracker holds the per-user typing indicator state. Indicators
// expire on read; no timer goroutine runs.
type TypingTracker struct {
	mu   sync.Mutex
	now  func() time.Time
	last map[string]time.Time
}

// NewTypingTracker builds an empty tracker.
func NewTypingTracker() *TypingTracker {
	return &TypingTracker{
		now:  time.Now,
		last: make(map[string]time.Time),
	}
}

// Touch refreshes the indicator for a user.
func (t *TypingTracker) Touch(userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.last[userID] = t.now()
}

// Stop clears the indicator for a user immediately.
func (t *TypingTracker) Stop(userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.last, userID)
}

// Active reports whether the user's indicator is still fresh.
func (t *TypingTracker) Active(userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	at, ok := t.last[userID]
	if !ok {
		return false
	}
	if t.now().Sub(at) >= typingExpiry {
		delete(t.last, userID)
		return false
	}
	return true
}
