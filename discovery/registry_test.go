package discovery

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lanchat/models"
)

func TestRegistryUpsertDistinctPeersRegardlessOfOrder(t *testing.T) {
	now := time.Unix(1_706_000_000, 0)
	p1 := models.Peer{ID: "peer-1", Name: "Bob", IP: "10.0.0.2", Port: 9001, LastSeen: now}
	p2 := models.Peer{ID: "peer-2", Name: "Carol", IP: "10.0.0.3", Port: 9002, LastSeen: now}

	forward := NewRegistry()
	forward.Upsert(p1)
	forward.Upsert(p2)

	reverse := NewRegistry()
	reverse.Upsert(p2)
	reverse.Upsert(p1)

	require.ElementsMatch(t, []models.Peer{p1, p2}, forward.Snapshot(DefaultFreshnessWindow, now))
	require.ElementsMatch(t, []models.Peer{p1, p2}, reverse.Snapshot(DefaultFreshnessWindow, now))
}

func TestRegistryLastWriteWins(t *testing.T) {
	now := time.Unix(1_706_000_000, 0)
	registry := NewRegistry()

	first := models.Peer{ID: "peer-1", Name: "Bob", IP: "10.0.0.2", Port: 9001, LastSeen: now.Add(-time.Second)}
	second := models.Peer{ID: "peer-1", Name: "Robert", IP: "10.0.0.9", Port: 9100, LastSeen: now}

	_, existed := registry.Upsert(first)
	require.False(t, existed)

	previous, existed := registry.Upsert(second)
	require.True(t, existed)
	require.Equal(t, first, previous)

	require.Equal(t, []models.Peer{second}, registry.Snapshot(DefaultFreshnessWindow, now))
	require.Equal(t, 1, registry.count())
}

func TestRegistrySnapshotFreshnessBoundary(t *testing.T) {
	now := time.Unix(1_706_000_000, 0)
	registry := NewRegistry()
	registry.Upsert(models.Peer{ID: "fresh", Name: "a", LastSeen: now.Add(-29 * time.Second)})
	registry.Upsert(models.Peer{ID: "boundary", Name: "b", LastSeen: now.Add(-30 * time.Second)})
	registry.Upsert(models.Peer{ID: "stale", Name: "c", LastSeen: now.Add(-31 * time.Second)})

	snapshot := registry.Snapshot(30*time.Second, now)
	require.Len(t, snapshot, 1)
	require.Equal(t, "fresh", snapshot[0].ID)

	// Stale entries stay stored and reappear once refreshed.
	_, ok := registry.Lookup("stale")
	require.True(t, ok)
	registry.Upsert(models.Peer{ID: "stale", Name: "c", LastSeen: now})
	require.Len(t, registry.Snapshot(30*time.Second, now), 2)
}

func TestRegistryConcurrentUpsertAndSnapshot(t *testing.T) {
	registry := NewRegistry()
	now := time.Now()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(2)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				registry.Upsert(models.Peer{
					ID:       fmt.Sprintf("peer-%d", i%16),
					Name:     fmt.Sprintf("writer-%d", w),
					IP:       "10.0.0.1",
					Port:     9000 + w,
					LastSeen: now,
				})
			}
		}(w)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				for _, peer := range registry.Snapshot(DefaultFreshnessWindow, now) {
					// A record is always written as a whole.
					assert.Equal(t, fmt.Sprintf("writer-%d", peer.Port-9000), peer.Name)
				}
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 16, registry.count())
}
