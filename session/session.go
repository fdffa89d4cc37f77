// Package session ties discovery, the message transport and the message log
// to one local identity and exposes the chat command surface.
package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"lanchat/discovery"
	"lanchat/metrics"
	"lanchat/network"
	"lanchat/storage"
)

var (
	// ErrUnknownPeer indicates a send to an ID absent from the peer registry.
	ErrUnknownPeer = errors.New("session: unknown peer")
	// ErrReadFile indicates the file to send could not be read.
	ErrReadFile = errors.New("session: read file")
	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("session: already started")
)

// Session is one running chat node.
type Session struct {
	opts     Options
	identity *Identity
	clock    clock.Clock
	log      *zap.Logger
	metrics  *metrics.Metrics

	registry *discovery.Registry
	messages storage.MessageLog
	ownsLog  bool
	seen     *storage.SeenIDs
	client   *network.Client

	mu          sync.Mutex
	started     bool
	stopped     bool
	cancel      context.CancelFunc
	server      *network.Server
	listener    *discovery.Listener
	broadcaster *discovery.Broadcaster
	mdns        *discovery.MDNS
	wg          sync.WaitGroup
}

// New validates options and builds an unstarted session.
func New(options Options) (*Session, error) {
	if err := options.validate(); err != nil {
		return nil, err
	}
	opts := options.withDefaults()

	messages := opts.MessageLog
	ownsLog := false
	if messages == nil {
		messages = storage.NewMemoryLog()
		ownsLog = true
	}

	logger := opts.Logger.Named("session")
	return &Session{
		opts:     opts,
		identity: opts.Identity,
		clock:    opts.Clock,
		log:      logger,
		metrics:  opts.Metrics,
		registry: discovery.NewRegistry(),
		messages: messages,
		ownsLog:  ownsLog,
		seen:     storage.NewSeenIDs(opts.SeenIDCacheSize),
		client: network.NewClient(network.ClientOptions{
			TextTimeout: opts.TextTimeout,
			FileTimeout: opts.FileTimeout,
			Logger:      opts.Logger,
			Metrics:     opts.Metrics,
		}),
	}, nil
}

// Start launches the inbound transport, the listener, the broadcaster and,
// when enabled, mDNS. A component that fails to bind is logged and left out;
// the rest keep running.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrAlreadyStarted
	}
	s.started = true

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.startServer()
	if !s.opts.DisableDiscovery {
		s.startListener(ctx)
		s.startBroadcaster(ctx)
	}
	if s.opts.EnableMDNS {
		s.startMDNS(ctx)
	}

	s.log.Info("session started",
		zap.String("id", s.identity.ID()),
		zap.String("name", s.identity.Name()),
		zap.Int("port", s.identity.Port()))
	return nil
}

func (s *Session) startServer() {
	server, err := network.Listen(s.opts.ListenAddress, network.ServerOptions{
		Handler:                   s.handleEnvelope,
		MaxEnvelopeSize:           s.opts.MaxEnvelopeSize,
		MaxConcurrentConnections:  s.opts.MaxConcurrentConnections,
		ConnectionRateLimitPerIP:  s.opts.ConnectionRateLimitPerIP,
		ConnectionRateLimitWindow: s.opts.ConnectionRateLimitWindow,
		Logger:                    s.opts.Logger,
		Metrics:                   s.metrics,
	})
	if err != nil {
		s.log.Error("inbound transport unavailable", zap.Error(err))
		return
	}
	s.server = server

	// Announce the port actually bound so ":0" works.
	if tcpAddr, ok := server.Addr().(*net.TCPAddr); ok && tcpAddr.Port != s.identity.Port() {
		s.identity.setPort(tcpAddr.Port)
	}
}

func (s *Session) startListener(ctx context.Context) {
	listener, err := discovery.NewListener(discovery.ListenerConfig{
		Address:  s.opts.DiscoveryAddress,
		SelfID:   s.identity.ID(),
		Registry: s.registry,
		Clock:    s.clock,
		Logger:   s.opts.Logger,
		Metrics:  s.metrics,
	})
	if err == nil {
		err = listener.Start(ctx)
	}
	if err != nil {
		s.log.Error("discovery listener unavailable", zap.Error(err))
		return
	}
	s.listener = listener

	s.wg.Add(1)
	go s.forwardPeerEvents(listener.Events())
}

func (s *Session) startBroadcaster(ctx context.Context) {
	broadcaster, err := discovery.NewBroadcaster(discovery.BroadcasterConfig{
		Announce: s.announcement,
		Target:   s.opts.BroadcastTarget,
		Interval: s.opts.BroadcastInterval,
		Clock:    s.clock,
		Logger:   s.opts.Logger,
		Metrics:  s.metrics,
	})
	if err == nil {
		err = broadcaster.Start(ctx)
	}
	if err != nil {
		s.log.Error("discovery broadcaster unavailable", zap.Error(err))
		return
	}
	s.broadcaster = broadcaster
}

func (s *Session) startMDNS(ctx context.Context) {
	mdns, err := discovery.StartMDNS(ctx, discovery.MDNSConfig{
		SelfID:   s.identity.ID(),
		Name:     s.identity.Name(),
		Port:     s.identity.Port(),
		Registry: s.registry,
		Clock:    s.clock,
		Logger:   s.opts.Logger,
	})
	if err != nil {
		s.log.Warn("mDNS unavailable", zap.Error(err))
		return
	}
	s.mdns = mdns
}

func (s *Session) announcement() discovery.Announcement {
	return discovery.Announcement{
		ID:   s.identity.ID(),
		Name: s.identity.Name(),
		Port: s.identity.Port(),
	}
}

func (s *Session) forwardPeerEvents(events <-chan discovery.Event) {
	defer s.wg.Done()
	for event := range events {
		if s.opts.OnPeerDiscovered != nil {
			s.opts.OnPeerDiscovered(event.Peer)
		}
	}
}

// Stop shuts every component down. It is safe to call more than once.
func (s *Session) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	cancel := s.cancel
	server, listener, broadcaster, mdns := s.server, s.listener, s.broadcaster, s.mdns
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	var err error
	if broadcaster != nil {
		broadcaster.Stop()
	}
	if listener != nil {
		listener.Stop()
	}
	mdns.Stop()
	if server != nil {
		err = multierr.Append(err, server.Close())
	}
	s.wg.Wait()

	if s.ownsLog {
		err = multierr.Append(err, s.messages.Close())
	}
	if err != nil {
		return fmt.Errorf("stop session: %w", err)
	}
	s.log.Info("session stopped")
	return nil
}

// Addr returns the bound inbound address, or nil when the transport is not running.
func (s *Session) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server == nil {
		return nil
	}
	return s.server.Addr()
}

// Registry exposes the peer registry.
func (s *Session) Registry() *discovery.Registry {
	return s.registry
}
