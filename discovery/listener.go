package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"lanchat/metrics"
	"lanchat/models"
)

// DefaultListenAddress binds the discovery port on every interface.
var DefaultListenAddress = ":" + strconv.Itoa(DefaultDiscoveryPort)

// ListenerConfig controls announcement reception.
type ListenerConfig struct {
	Address  string
	SelfID   string
	Registry *Registry

	Clock   clock.Clock
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

func (c ListenerConfig) withDefaults() ListenerConfig {
	out := c
	if out.Address == "" {
		out.Address = DefaultListenAddress
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

// Listener receives announcements and records the senders in a Registry.
type Listener struct {
	cfg ListenerConfig
	log *zap.Logger

	events chan Event

	mu     sync.Mutex
	conn   *net.UDPConn
	cancel context.CancelFunc
	wg     sync.WaitGroup

	stopOnce sync.Once
}

// NewListener validates config.
func NewListener(config ListenerConfig) (*Listener, error) {
	cfg := config.withDefaults()
	if cfg.SelfID == "" {
		return nil, errors.New("self ID is required")
	}
	if cfg.Registry == nil {
		return nil, errors.New("registry is required")
	}

	return &Listener{
		cfg:    cfg,
		log:    cfg.Logger.Named("listener"),
		events: make(chan Event, 128),
	}, nil
}

// Start binds the discovery port and begins receiving in the background.
//
// A bind failure is returned and nothing is started.
func (l *Listener) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn != nil {
		return errors.New("listener already started")
	}

	addr, err := net.ResolveUDPAddr("udp4", l.cfg.Address)
	if err != nil {
		return fmt.Errorf("resolve discovery address %q: %w", l.cfg.Address, err)
	}
	conn, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return fmt.Errorf("bind discovery socket: %w", err)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	l.conn = conn
	l.cancel = cancel

	l.wg.Add(1)
	go l.loop(loopCtx, conn)

	l.log.Info("listening for announcements", zap.Stringer("addr", conn.LocalAddr()))
	return nil
}

// Addr returns the bound address, or nil before Start.
func (l *Listener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return nil
	}
	return l.conn.LocalAddr()
}

// Events provides peer change notifications. Events are dropped when nobody reads.
func (l *Listener) Events() <-chan Event {
	return l.events
}

// Stop ends the receive loop and releases the socket.
func (l *Listener) Stop() {
	l.stopOnce.Do(func() {
		l.mu.Lock()
		cancel, conn := l.cancel, l.conn
		l.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		if conn != nil {
			_ = conn.Close()
		}
		l.wg.Wait()
		close(l.events)
	})
}

func (l *Listener) loop(ctx context.Context, conn *net.UDPConn) {
	defer l.wg.Done()

	buf := make([]byte, MaxAnnouncementSize)
	for {
		n, src, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			l.log.Warn("receive announcement", zap.Error(err))
			continue
		}
		l.cfg.Metrics.AnnouncementsReceived.Inc()
		l.handleDatagram(buf[:n], src)
	}
}

func (l *Listener) handleDatagram(payload []byte, src *net.UDPAddr) {
	announcement, err := DecodeAnnouncement(payload)
	if err != nil {
		l.cfg.Metrics.AnnouncementsDropped.WithLabelValues("malformed").Inc()
		return
	}
	if announcement.ID == l.cfg.SelfID {
		l.cfg.Metrics.AnnouncementsDropped.WithLabelValues("self").Inc()
		return
	}

	// The source address is authoritative for the IP; the datagram only
	// carries the port.
	peer := models.Peer{
		ID:       announcement.ID,
		Name:     announcement.Name,
		IP:       src.IP.String(),
		Port:     announcement.Port,
		LastSeen: l.cfg.Clock.Now(),
	}

	previous, existed := l.cfg.Registry.Upsert(peer)
	l.cfg.Metrics.PeersUpserted.Inc()
	if !existed || !peersEqual(previous, peer) {
		l.log.Debug("peer available",
			zap.String("id", peer.ID),
			zap.String("name", peer.Name),
			zap.String("addr", peer.Addr()))
		emitEvent(l.events, Event{Type: EventPeerUpserted, Peer: peer})
	}
}
