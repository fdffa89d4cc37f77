package discovery

import (
	"sort"
	"sync"
	"time"

	"lanchat/models"
)

// DefaultFreshnessWindow is how long a peer stays visible after its last announcement.
const DefaultFreshnessWindow = 30 * time.Second

// Registry stores the last announcement seen from every peer id.
//
// Entries are never removed. Staleness is decided by the reader through Snapshot.
type Registry struct {
	mu    sync.RWMutex
	peers map[string]models.Peer
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{peers: make(map[string]models.Peer)}
}

// Upsert replaces the whole record for peer.ID and returns the record it replaced.
func (r *Registry) Upsert(peer models.Peer) (models.Peer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	previous, existed := r.peers[peer.ID]
	r.peers[peer.ID] = peer
	return previous, existed
}

// Lookup returns the stored record for id regardless of freshness.
func (r *Registry) Lookup(id string) (models.Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	peer, ok := r.peers[id]
	return peer, ok
}

// Snapshot returns the peers seen less than window before now.
func (r *Registry) Snapshot(window time.Duration, now time.Time) []models.Peer {
	r.mu.RLock()
	out := make([]models.Peer, 0, len(r.peers))
	for _, peer := range r.peers {
		if peer.FreshAt(window, now) {
			out = append(out, peer)
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Name == out[j].Name {
			return out[i].ID < out[j].ID
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// count returns the number of stored records, stale ones included.
func (r *Registry) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}
