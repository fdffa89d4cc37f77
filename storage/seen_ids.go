package storage

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultSeenIDCapacity bounds the number of remembered message IDs.
const DefaultSeenIDCapacity = 4096

// SeenIDs remembers recently received message IDs so a re-delivered envelope
// is not logged twice. The oldest IDs are evicted first.
type SeenIDs struct {
	cache *lru.Cache[string, struct{}]
}

// NewSeenIDs creates a cache holding up to capacity IDs.
func NewSeenIDs(capacity int) *SeenIDs {
	if capacity <= 0 {
		capacity = DefaultSeenIDCapacity
	}
	// lru.New only fails for a non-positive size.
	cache, _ := lru.New[string, struct{}](capacity)
	return &SeenIDs{cache: cache}
}

// MarkSeen records messageID and reports whether it had been seen before.
func (s *SeenIDs) MarkSeen(messageID string) bool {
	if messageID == "" {
		return false
	}
	seen, _ := s.cache.ContainsOrAdd(messageID, struct{}{})
	return seen
}

// Forget drops messageID so a later delivery of it is accepted again.
func (s *SeenIDs) Forget(messageID string) {
	s.cache.Remove(messageID)
}

// Len returns the number of remembered IDs.
func (s *SeenIDs) Len() int {
	return s.cache.Len()
}
