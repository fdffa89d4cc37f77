package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"lanchat/metrics"
)

// DefaultBroadcastInterval is the delay between two announcements.
const DefaultBroadcastInterval = 3 * time.Second

// DefaultBroadcastTarget is the subnet-wide broadcast destination.
var DefaultBroadcastTarget = net.JoinHostPort("255.255.255.255", strconv.Itoa(DefaultDiscoveryPort))

// BroadcasterConfig controls periodic presence announcements.
type BroadcasterConfig struct {
	// Announce builds the announcement for each tick, so identity changes apply
	// to the next broadcast.
	Announce func() Announcement
	Target   string
	Interval time.Duration

	Clock   clock.Clock
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

func (c BroadcasterConfig) withDefaults() BroadcasterConfig {
	out := c
	if out.Target == "" {
		out.Target = DefaultBroadcastTarget
	}
	if out.Interval <= 0 {
		out.Interval = DefaultBroadcastInterval
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

// Broadcaster sends the local announcement to the discovery port at a fixed interval.
type Broadcaster struct {
	cfg    BroadcasterConfig
	log    *zap.Logger
	target *net.UDPAddr

	mu     sync.Mutex
	conn   *net.UDPConn
	cancel context.CancelFunc
	wg     sync.WaitGroup

	stopOnce sync.Once
}

// NewBroadcaster validates config and resolves the broadcast target.
func NewBroadcaster(config BroadcasterConfig) (*Broadcaster, error) {
	cfg := config.withDefaults()
	if cfg.Announce == nil {
		return nil, errors.New("announce func is required")
	}

	target, err := net.ResolveUDPAddr("udp4", cfg.Target)
	if err != nil {
		return nil, fmt.Errorf("resolve broadcast target %q: %w", cfg.Target, err)
	}

	return &Broadcaster{
		cfg:    cfg,
		log:    cfg.Logger.Named("broadcaster"),
		target: target,
	}, nil
}

// Start binds an ephemeral UDP socket and begins broadcasting in the background.
//
// A bind failure is returned and nothing is started.
func (b *Broadcaster) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn != nil {
		return errors.New("broadcaster already started")
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		return fmt.Errorf("bind broadcast socket: %w", err)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	b.conn = conn
	b.cancel = cancel

	b.wg.Add(1)
	go b.loop(loopCtx, conn)

	b.log.Info("broadcasting presence",
		zap.Stringer("target", b.target),
		zap.Duration("interval", b.cfg.Interval))
	return nil
}

// Stop ends the broadcast loop and releases the socket.
func (b *Broadcaster) Stop() {
	b.stopOnce.Do(func() {
		b.mu.Lock()
		cancel, conn := b.cancel, b.conn
		b.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		if conn != nil {
			_ = conn.Close()
		}
		b.wg.Wait()
	})
}

func (b *Broadcaster) loop(ctx context.Context, conn *net.UDPConn) {
	defer b.wg.Done()

	ticker := b.cfg.Clock.Ticker(b.cfg.Interval)
	defer ticker.Stop()

	for {
		b.broadcastOnce(conn)

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

func (b *Broadcaster) broadcastOnce(conn *net.UDPConn) {
	payload, err := EncodeAnnouncement(b.cfg.Announce())
	if err != nil {
		b.cfg.Metrics.AnnouncementFailures.Inc()
		b.log.Warn("encode announcement", zap.Error(err))
		return
	}

	// Send failures are expected while the interface is down; the next tick retries.
	if _, err := conn.WriteToUDP(payload, b.target); err != nil {
		b.cfg.Metrics.AnnouncementFailures.Inc()
		b.log.Debug("send announcement", zap.Error(err))
		return
	}
	b.cfg.Metrics.AnnouncementsSent.Inc()
}
