package discovery

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func startTestListener(t *testing.T, registry *Registry, clk clock.Clock) *Listener {
	t.Helper()

	listener, err := NewListener(ListenerConfig{
		Address:  "127.0.0.1:0",
		SelfID:   "self-node",
		Registry: registry,
		Clock:    clk,
		Logger:   zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	require.NoError(t, listener.Start(context.Background()))
	t.Cleanup(listener.Stop)
	return listener
}

func sendDatagram(t *testing.T, from *net.UDPConn, to net.Addr, payload []byte) {
	t.Helper()
	_, err := from.WriteTo(payload, to)
	require.NoError(t, err)
}

func newSenderSocket(t *testing.T) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestListenerUpsertsFromSourceAddress(t *testing.T) {
	mock := clock.NewMock()
	mock.Set(time.Unix(1_706_000_000, 0))
	registry := NewRegistry()
	listener := startTestListener(t, registry, mock)

	sender := newSenderSocket(t)
	payload, err := EncodeAnnouncement(Announcement{ID: "peer-1", Name: "Bob", Port: 9001})
	require.NoError(t, err)
	sendDatagram(t, sender, listener.Addr(), payload)

	require.Eventually(t, func() bool {
		_, ok := registry.Lookup("peer-1")
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	peer, _ := registry.Lookup("peer-1")
	require.Equal(t, "Bob", peer.Name)
	require.Equal(t, "127.0.0.1", peer.IP)
	require.Equal(t, 9001, peer.Port)
	require.True(t, peer.LastSeen.Equal(mock.Now()))

	select {
	case event := <-listener.Events():
		require.Equal(t, EventPeerUpserted, event.Type)
		require.Equal(t, "peer-1", event.Peer.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("expected peer upsert event")
	}
}

func TestListenerIgnoresSelfAndMalformedDatagrams(t *testing.T) {
	registry := NewRegistry()
	listener := startTestListener(t, registry, clock.New())
	sender := newSenderSocket(t)

	self, err := EncodeAnnouncement(Announcement{ID: "self-node", Name: "Me", Port: 9000})
	require.NoError(t, err)
	sendDatagram(t, sender, listener.Addr(), self)
	sendDatagram(t, sender, listener.Addr(), []byte("definitely not json"))
	sendDatagram(t, sender, listener.Addr(), []byte(`{"id":"x","name":"y","port":-1}`))

	// A valid announcement sent last proves the earlier datagrams were processed.
	valid, err := EncodeAnnouncement(Announcement{ID: "peer-1", Name: "Bob", Port: 9001})
	require.NoError(t, err)
	sendDatagram(t, sender, listener.Addr(), valid)

	require.Eventually(t, func() bool {
		_, ok := registry.Lookup("peer-1")
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	_, selfStored := registry.Lookup("self-node")
	require.False(t, selfStored)
	require.Equal(t, 1, registry.count())
}

func TestListenerLastProcessedAnnouncementWins(t *testing.T) {
	registry := NewRegistry()
	listener := startTestListener(t, registry, clock.New())

	first := newSenderSocket(t)
	second := newSenderSocket(t)
	require.NotEqual(t, first.LocalAddr().String(), second.LocalAddr().String())

	one, err := EncodeAnnouncement(Announcement{ID: "peer-1", Name: "first", Port: 9001})
	require.NoError(t, err)
	sendDatagram(t, first, listener.Addr(), one)
	require.Eventually(t, func() bool {
		peer, ok := registry.Lookup("peer-1")
		return ok && peer.Name == "first"
	}, 2*time.Second, 10*time.Millisecond)

	two, err := EncodeAnnouncement(Announcement{ID: "peer-1", Name: "second", Port: 9002})
	require.NoError(t, err)
	sendDatagram(t, second, listener.Addr(), two)
	require.Eventually(t, func() bool {
		peer, ok := registry.Lookup("peer-1")
		return ok && peer.Name == "second" && peer.Port == 9002
	}, 2*time.Second, 10*time.Millisecond)

	require.Equal(t, 1, registry.count())
}

func TestListenerStartFailsWhenPortTaken(t *testing.T) {
	taken := newSenderSocket(t)

	listener, err := NewListener(ListenerConfig{
		Address:  taken.LocalAddr().String(),
		SelfID:   "self-node",
		Registry: NewRegistry(),
	})
	require.NoError(t, err)
	require.Error(t, listener.Start(context.Background()))
	listener.Stop()
}

func TestNewListenerValidatesConfig(t *testing.T) {
	_, err := NewListener(ListenerConfig{Registry: NewRegistry()})
	require.Error(t, err)

	_, err = NewListener(ListenerConfig{SelfID: "self"})
	require.Error(t, err)
}
