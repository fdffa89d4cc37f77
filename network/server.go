package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"lanchat/metrics"
)

const rateLimiterCacheSize = 1024

// Handler receives every successfully decoded envelope with the remote address.
type Handler func(envelope Envelope, remote net.Addr)

// ServerOptions configures the inbound transport.
type ServerOptions struct {
	Handler Handler

	MaxEnvelopeSize int64
	ReadTimeout     time.Duration

	// MaxConcurrentConnections caps connections being read at once. Zero means
	// no cap. When the cap is reached the accept loop waits for a free slot.
	MaxConcurrentConnections int64

	// ConnectionRateLimitPerIP allows this many connections per IP within
	// ConnectionRateLimitWindow. Zero disables limiting.
	ConnectionRateLimitPerIP  int
	ConnectionRateLimitWindow time.Duration

	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

func (o ServerOptions) withDefaults() ServerOptions {
	out := o
	if out.MaxEnvelopeSize <= 0 {
		out.MaxEnvelopeSize = DefaultMaxEnvelopeSize
	}
	if out.ReadTimeout <= 0 {
		out.ReadTimeout = DefaultReadTimeout
	}
	if out.ConnectionRateLimitPerIP > 0 && out.ConnectionRateLimitWindow <= 0 {
		out.ConnectionRateLimitWindow = time.Second
	}
	if out.Logger == nil {
		out.Logger = zap.NewNop()
	}
	out.Metrics = metrics.OrNew(out.Metrics)
	return out
}

// Server accepts inbound TCP connections and reads one envelope from each.
type Server struct {
	listener net.Listener
	options  ServerOptions
	log      *zap.Logger

	slots    *semaphore.Weighted
	limiters *lru.Cache[string, *rate.Limiter]
	limitMu  sync.Mutex

	connMu  sync.Mutex
	conns   map[net.Conn]struct{}
	closing bool

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Listen binds address and starts the accept loop.
func Listen(address string, options ServerOptions) (*Server, error) {
	opts := options.withDefaults()
	if opts.Handler == nil {
		return nil, errors.New("handler is required")
	}

	if address == "" {
		address = ":0"
	}

	var limiters *lru.Cache[string, *rate.Limiter]
	if opts.ConnectionRateLimitPerIP > 0 {
		cache, err := lru.New[string, *rate.Limiter](rateLimiterCacheSize)
		if err != nil {
			return nil, fmt.Errorf("create rate limiter cache: %w", err)
		}
		limiters = cache
	}

	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("listen on %q: %w", address, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	server := &Server{
		listener: listener,
		options:  opts,
		log:      opts.Logger.Named("server"),
		limiters: limiters,
		conns:    make(map[net.Conn]struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
	if opts.MaxConcurrentConnections > 0 {
		server.slots = semaphore.NewWeighted(opts.MaxConcurrentConnections)
	}

	server.wg.Add(1)
	go server.acceptLoop()

	server.log.Info("accepting messages", zap.Stringer("addr", listener.Addr()))
	return server, nil
}

// Addr returns the listening address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Close stops accepting, aborts connections still being read and waits for
// their handlers to return. Partially received envelopes are discarded.
func (s *Server) Close() error {
	var closeErr error
	s.closeOnce.Do(func() {
		s.cancel()
		closeErr = s.listener.Close()

		s.connMu.Lock()
		s.closing = true
		for conn := range s.conns {
			_ = conn.Close()
		}
		s.connMu.Unlock()

		s.wg.Wait()
	})
	return closeErr
}

// trackConn registers conn so Close can abort it. It reports false once the
// server is closing.
func (s *Server) trackConn(conn net.Conn) bool {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.closing {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrackConn(conn net.Conn) {
	s.connMu.Lock()
	delete(s.conns, conn)
	s.connMu.Unlock()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		if s.slots != nil {
			if err := s.slots.Acquire(s.ctx, 1); err != nil {
				return
			}
		}

		conn, err := s.listener.Accept()
		if err != nil {
			s.releaseSlot()
			if s.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Warn("accept connection", zap.Error(err))
			continue
		}

		if !s.allowConnection(conn.RemoteAddr()) {
			s.releaseSlot()
			s.options.Metrics.ConnectionsRejected.WithLabelValues("rate_limited").Inc()
			s.log.Debug("connection rate limited", zap.Stringer("remote", conn.RemoteAddr()))
			_ = conn.Close()
			continue
		}

		if !s.trackConn(conn) {
			s.releaseSlot()
			_ = conn.Close()
			return
		}

		s.options.Metrics.ConnectionsAccepted.Inc()
		s.wg.Add(1)
		go s.handleInboundConn(conn)
	}
}

func (s *Server) handleInboundConn(conn net.Conn) {
	defer s.wg.Done()
	defer s.releaseSlot()
	defer func() {
		s.untrackConn(conn)
		_ = conn.Close()
	}()

	s.options.Metrics.ActiveConnections.Inc()
	defer s.options.Metrics.ActiveConnections.Dec()

	remote := conn.RemoteAddr()
	envelope, size, err := ReadEnvelopeWithTimeout(conn, s.options.ReadTimeout, s.options.MaxEnvelopeSize)
	s.options.Metrics.EnvelopeBytesReceived.Observe(float64(size))
	if err != nil {
		s.options.Metrics.EnvelopesDropped.WithLabelValues(dropReason(err)).Inc()
		s.log.Debug("discarding inbound transfer",
			zap.Stringer("remote", remote),
			zap.Int("bytes", size),
			zap.Error(err))
		return
	}

	if s.ctx.Err() != nil {
		return
	}

	s.options.Metrics.EnvelopesReceived.WithLabelValues(envelope.Kind).Inc()
	s.options.Handler(envelope, remote)
}

func (s *Server) releaseSlot() {
	if s.slots != nil {
		s.slots.Release(1)
	}
}

func (s *Server) allowConnection(addr net.Addr) bool {
	if s.limiters == nil {
		return true
	}

	ip := addr.String()
	if tcpAddr, ok := addr.(*net.TCPAddr); ok {
		ip = tcpAddr.IP.String()
	}

	s.limitMu.Lock()
	limiter, ok := s.limiters.Get(ip)
	if !ok {
		every := s.options.ConnectionRateLimitWindow / time.Duration(s.options.ConnectionRateLimitPerIP)
		limiter = rate.NewLimiter(rate.Every(every), s.options.ConnectionRateLimitPerIP)
		s.limiters.Add(ip, limiter)
	}
	s.limitMu.Unlock()

	return limiter.Allow()
}

func dropReason(err error) string {
	var netErr net.Error
	switch {
	case errors.Is(err, ErrEnvelopeTooLarge):
		return "too_large"
	case errors.As(err, &netErr) && netErr.Timeout():
		return "timeout"
	case errors.Is(err, ErrInvalidKind), errors.Is(err, ErrKindMismatch):
		return "invalid_kind"
	default:
		return "decode"
	}
}
