package session

import (
	"errors"
	"net"
	"strconv"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"lanchat/discovery"
	"lanchat/metrics"
	"lanchat/models"
	"lanchat/network"
	"lanchat/storage"
)

// Options wires a Session. Only Identity is required.
type Options struct {
	Identity *Identity

	// ListenAddress is the TCP bind address. Defaults to ":<identity port>".
	ListenAddress string
	// DiscoveryAddress is the UDP bind address for announcements.
	DiscoveryAddress string
	// BroadcastTarget is the UDP destination of announcements.
	BroadcastTarget   string
	BroadcastInterval time.Duration
	FreshnessWindow   time.Duration

	TextTimeout time.Duration
	FileTimeout time.Duration

	MaxEnvelopeSize           int64
	MaxConcurrentConnections  int64
	ConnectionRateLimitPerIP  int
	ConnectionRateLimitWindow time.Duration

	// DisableDiscovery skips the broadcaster and listener. Peers must then be
	// added through mDNS or not at all.
	DisableDiscovery bool
	EnableMDNS       bool

	// MessageLog defaults to a new in-memory log owned by the session.
	MessageLog      storage.MessageLog
	SeenIDCacheSize int

	Clock   clock.Clock
	Logger  *zap.Logger
	Metrics *metrics.Metrics

	OnMessageReceived func(models.Message)
	OnMessageSent     func(models.Message)
	OnNotification    func(models.Notification)
	OnPeerDiscovered  func(models.Peer)
}

func (o Options) validate() error {
	if o.Identity == nil {
		return errors.New("identity is required")
	}
	if o.Identity.Port() < 0 || o.Identity.Port() > 65535 {
		return errors.New("identity port must be within 0-65535")
	}
	return nil
}

func (o Options) withDefaults() Options {
	out := o
	if out.ListenAddress == "" {
		out.ListenAddress = net.JoinHostPort("", strconv.Itoa(out.Identity.Port()))
	}
	if out.DiscoveryAddress == "" {
		out.DiscoveryAddress = discovery.DefaultListenAddress
	}
	if out.BroadcastTarget == "" {
		out.BroadcastTarget = discovery.DefaultBroadcastTarget
	}
	if out.BroadcastInterval <= 0 {
		out.BroadcastInterval = discovery.DefaultBroadcastInterval
	}
	if out.FreshnessWindow <= 0 {
		out.FreshnessWindow = discovery.DefaultFreshnessWindow
	}
	if out.TextTimeout <= 0 {
		out.TextTimeout = network.DefaultTextTimeout
	}
	if out.FileTimeout <= 0 {
		out.FileTimeout = network.DefaultFileTimeout
	}
	if out.MaxEnvelopeSize <= 0 {
		out.MaxEnvelopeSize = network.DefaultMaxEnvelopeSize
	}
	if out.SeenIDCacheSize <= 0 {
		out.SeenIDCacheSize = storage.DefaultSeenIDCapacity
	}
	if out.Clock == nil {
		out.Clock = clock.New()
	}
	if out.Logger == nil {
		out.Logger = zap.NewNop()
	}
	out.Metrics = metrics.OrNew(out.Metrics)
	return out
}
