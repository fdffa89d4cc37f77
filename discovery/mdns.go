package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/grandcat/zeroconf"
	"go.uber.org/zap"

	"lanchat/models"
)

const (
	// DefaultMDNSService is the mDNS service name without domain suffix.
	DefaultMDNSService = "_lanchat._tcp"
	// DefaultMDNSDomain is the mDNS domain.
	DefaultMDNSDomain = "local."
	// DefaultMDNSScanInterval is the background browse interval.
	DefaultMDNSScanInterval = 10 * time.Second
	// DefaultMDNSScanTimeout bounds each browse.
	DefaultMDNSScanTimeout = 3 * time.Second
)

type registerFunc func(instance, service, domain string, port int, text []string, ifaces []net.Interface) (*zeroconf.Server, error)
type browseFunc func(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error

// MDNSConfig controls the optional mDNS advertiser and browser.
type MDNSConfig struct {
	Service      string
	Domain       string
	ScanInterval time.Duration
	ScanTimeout  time.Duration

	SelfID   string
	Name     string
	Port     int
	Registry *Registry

	Clock  clock.Clock
	Logger *zap.Logger

	registerFn registerFunc
	browseFn   browseFunc
}

func (c MDNSConfig) withDefaults() MDNSConfig {
	out := c
	if out.Service == "" {
		out.Service = DefaultMDNSService
	}
	if out.Domain == "" {
		out.Domain = DefaultMDNSDomain
	}
	if out.ScanInterval <= 0 {
		out.ScanInterval = DefaultMDNSScanInterval
	}
	if out.ScanTimeout <= 0 {
		out.ScanTimeout = DefaultMDNSScanTimeout
	}
	if out.Clock == nil {
		out.Clock = clock.New()
	}
	if out.Logger == nil {
		out.Logger = zap.NewNop()
	}
	if out.registerFn == nil {
		out.registerFn = zeroconf.Register
	}
	if out.browseFn == nil {
		out.browseFn = browseWithFreshResolver
	}
	return out
}

func (c MDNSConfig) validate() error {
	if strings.TrimSpace(c.SelfID) == "" {
		return errors.New("self ID is required")
	}
	if c.Port <= 0 {
		return errors.New("port must be > 0")
	}
	if c.Registry == nil {
		return errors.New("registry is required")
	}
	return nil
}

// MDNS advertises the local node over mDNS and feeds browsed peers into the
// same Registry as the broadcast listener.
type MDNS struct {
	cfg MDNSConfig
	log *zap.Logger

	server *zeroconf.Server

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// StartMDNS registers the service and starts periodic browsing.
func StartMDNS(ctx context.Context, config MDNSConfig) (*MDNS, error) {
	cfg := config.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	instance := cfg.Name
	if strings.TrimSpace(instance) == "" {
		instance = cfg.SelfID
	}
	server, err := cfg.registerFn(instance, cfg.Service, cfg.Domain, cfg.Port, mdnsText(cfg.SelfID, cfg.Name), nil)
	if err != nil {
		return nil, fmt.Errorf("register mDNS service: %w", err)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	m := &MDNS{
		cfg:    cfg,
		log:    cfg.Logger.Named("mdns"),
		server: server,
		cancel: cancel,
	}

	m.wg.Add(1)
	go m.loop(loopCtx)
	return m, nil
}

// SetName republishes the TXT record with a new display name.
func (m *MDNS) SetName(name string) {
	if m == nil || m.server == nil {
		return
	}
	m.server.SetText(mdnsText(m.cfg.SelfID, name))
}

// Stop stops browsing and withdraws the service.
func (m *MDNS) Stop() {
	if m == nil {
		return
	}
	m.stopOnce.Do(func() {
		m.cancel()
		m.wg.Wait()
		if m.server != nil {
			m.server.Shutdown()
		}
	})
}

func (m *MDNS) loop(ctx context.Context) {
	defer m.wg.Done()

	ticker := m.cfg.Clock.Ticker(m.cfg.ScanInterval)
	defer ticker.Stop()

	for {
		if err := m.scan(ctx); err != nil {
			m.log.Debug("mDNS browse", zap.Error(err))
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

func (m *MDNS) scan(ctx context.Context) error {
	scanCtx, cancel := context.WithTimeout(ctx, m.cfg.ScanTimeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry, 32)
	collectorDone := make(chan struct{})
	go func() {
		defer close(collectorDone)
		for {
			select {
			case <-scanCtx.Done():
				return
			case entry, ok := <-entries:
				if !ok {
					return
				}
				if peer, ok := parseEntry(entry, m.cfg.SelfID); ok {
					peer.LastSeen = m.cfg.Clock.Now()
					m.cfg.Registry.Upsert(peer)
				}
			}
		}
	}()

	if err := m.cfg.browseFn(scanCtx, m.cfg.Service, m.cfg.Domain, entries); err != nil {
		cancel()
		<-collectorDone
		return err
	}

	<-scanCtx.Done()
	<-collectorDone
	return nil
}

// A zeroconf resolver shuts its sockets down when a browse ends, so every
// scan needs its own.
func browseWithFreshResolver(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return fmt.Errorf("create mDNS resolver: %w", err)
	}
	return resolver.Browse(ctx, service, domain, entries)
}

func mdnsText(id, name string) []string {
	return []string{"id=" + id, "name=" + name}
}

func parseEntry(entry *zeroconf.ServiceEntry, selfID string) (models.Peer, bool) {
	if entry == nil {
		return models.Peer{}, false
	}
	txt := txtToMap(entry.Text)

	id := txt["id"]
	if id == "" || id == selfID {
		return models.Peer{}, false
	}
	if entry.Port <= 0 || len(entry.AddrIPv4) == 0 || entry.AddrIPv4[0] == nil {
		return models.Peer{}, false
	}

	name := txt["name"]
	if name == "" {
		name = strings.TrimSpace(entry.Instance)
	}
	if name == "" {
		name = id
	}

	return models.Peer{
		ID:   id,
		Name: name,
		IP:   entry.AddrIPv4[0].String(),
		Port: entry.Port,
	}, true
}

func txtToMap(text []string) map[string]string {
	out := make(map[string]string, len(text))
	for _, entry := range text {
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		if key == "" {
			continue
		}
		out[key] = strings.TrimSpace(parts[1])
	}
	return out
}
