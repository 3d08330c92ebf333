package app

import (
	"encoding/json"
	"sort"
	"sync"

	"github.com/paircast/paircast/internal/services/messenger/wire"
)

// wsPeer serializes frame writes onto one WebSocket connection.
type wsPeer struct {
	mu      sync.Mutex
	encoder *json.Encoder
}

func newWSPeer(encoder *json.Encoder) *wsPeer {
	return &wsPeer{encoder: encoder}
}

func (p *wsPeer) writeFrame(frame wire.Frame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.encoder.Encode(frame)
}

// registry tracks the single active session per user. A reconnect
// supersedes the previous session; the superseded connection's teardown
// must not evict its replacement.
type registry struct {
	mu       sync.Mutex
	sessions map[string]*wsPeer
}

func newRegistry() *registry {
	return &registry{sessions: make(map[string]*wsPeer)}
}

// setOnline installs peer as the user's active session. It reports
// whether the user transitioned from offline to online.
func (r *registry) setOnline(userID string, peer *wsPeer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, existed := r.sessions[userID]
	r.sessions[userID] = peer
	return !existed
}

// release removes the session only if peer is still the active one. It
// reports whether the user is now offline.
func (r *registry) release(userID string, peer *wsPeer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.sessions[userID]
	if !ok || current != peer {
		return false
	}
	delete(r.sessions, userID)
	return true
}

// lookup returns the user's active session, if any.
func (r *registry) lookup(userID string) (*wsPeer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	peer, ok := r.sessions[userID]
	return peer, ok
}

// online returns the sorted ids of every connected user.
func (r *registry) online() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// peers returns every active session for fan-out broadcasts.
func (r *registry) peers() []*wsPeer {
	r.mu.Lock()
	defer r.mu.Unlock()
	peers := make([]*wsPeer, 0, len(r.sessions))
	for _, peer := range r.sessions {
		peers = append(peers, peer)
	}
	return peers
}
