package storage

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSeenIDsMarkSeen(t *testing.T) {
	seen := NewSeenIDs(8)

	require.False(t, seen.MarkSeen("m1"))
	require.True(t, seen.MarkSeen("m1"))
	require.False(t, seen.MarkSeen(""))
	require.Equal(t, 1, seen.Len())
}

func TestSeenIDsForget(t *testing.T) {
	seen := NewSeenIDs(8)

	require.False(t, seen.MarkSeen("m1"))
	seen.Forget("m1")
	require.Zero(t, seen.Len())
	require.False(t, seen.MarkSeen("m1"))

	seen.Forget("never-seen")
	require.Equal(t, 1, seen.Len())
}

func TestSeenIDsEvictsOldest(t *testing.T) {
	seen := NewSeenIDs(2)

	seen.MarkSeen("m1")
	seen.MarkSeen("m2")
	seen.MarkSeen("m3")

	require.Equal(t, 2, seen.Len())
	require.True(t, seen.MarkSeen("m3"))
	require.True(t, seen.MarkSeen("m2"))
	require.False(t, seen.MarkSeen("m1"))
}

func TestSeenIDsDefaultCapacity(t *testing.T) {
	seen := NewSeenIDs(0)
	for i := 0; i < DefaultSeenIDCapacity+10; i++ {
		seen.MarkSeen(strconv.Itoa(i))
	}
	require.Equal(t, DefaultSeenIDCapacity, seen.Len())
}
