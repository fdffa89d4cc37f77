package discovery

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"lanchat/metrics"
)

func readAnnouncement(t *testing.T, conn *net.UDPConn) Announcement {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, MaxAnnouncementSize)
	n, _, err := conn.ReadFromUDP(buf)
	require.NoError(t, err)

	announcement, err := DecodeAnnouncement(buf[:n])
	require.NoError(t, err)
	return announcement
}

func TestBroadcasterAnnouncesEveryIntervalWithCurrentName(t *testing.T) {
	receiver := newSenderSocket(t)
	mock := clock.NewMock()
	m := metrics.New("")

	var mu sync.Mutex
	name := "Alice"

	broadcaster, err := NewBroadcaster(BroadcasterConfig{
		Announce: func() Announcement {
			mu.Lock()
			defer mu.Unlock()
			return Announcement{ID: "node-a", Name: name, Port: 45678}
		},
		Target:   receiver.LocalAddr().String(),
		Interval: 3 * time.Second,
		Clock:    mock,
		Logger:   zaptest.NewLogger(t),
		Metrics:  m,
	})
	require.NoError(t, err)
	require.NoError(t, broadcaster.Start(context.Background()))
	defer broadcaster.Stop()

	first := readAnnouncement(t, receiver)
	require.Equal(t, Announcement{ID: "node-a", Name: "Alice", Port: 45678}, first)

	mu.Lock()
	name = "Alice Renamed"
	mu.Unlock()

	mock.Add(3 * time.Second)
	second := readAnnouncement(t, receiver)
	require.Equal(t, "Alice Renamed", second.Name)

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.AnnouncementsSent) == 2
	}, time.Second, 10*time.Millisecond)
}

func TestBroadcasterRequiresAnnounceFunc(t *testing.T) {
	_, err := NewBroadcaster(BroadcasterConfig{})
	require.Error(t, err)
}

func TestBroadcasterStopBeforeStartIsSafe(t *testing.T) {
	broadcaster, err := NewBroadcaster(BroadcasterConfig{
		Announce: func() Announcement { return Announcement{ID: "a", Port: 1} },
	})
	require.NoError(t, err)
	broadcaster.Stop()
	broadcaster.Stop()
}
