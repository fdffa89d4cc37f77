// Package metrics provides Prometheus collectors for discovery and message transport.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "lanchat"

// Metrics holds all collectors used by the node.
type Metrics struct {
	registry *prometheus.Registry

	// Discovery metrics
	AnnouncementsSent     prometheus.Counter
	AnnouncementFailures  prometheus.Counter
	AnnouncementsReceived prometheus.Counter
	AnnouncementsDropped  *prometheus.CounterVec
	PeersUpserted         prometheus.Counter

	// Transport metrics
	ConnectionsAccepted    prometheus.Counter
	ConnectionsRejected    *prometheus.CounterVec
	ActiveConnections      prometheus.Gauge
	EnvelopesReceived      *prometheus.CounterVec
	EnvelopesDropped       *prometheus.CounterVec
	EnvelopeBytesReceived  prometheus.Histogram
	SendsTotal             *prometheus.CounterVec
	SendFailures           *prometheus.CounterVec
	SendDuration           prometheus.Histogram
	MessagesLogged         prometheus.Counter
	NotificationsDelivered prometheus.Counter
}

// New creates collectors registered on a fresh registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,

		AnnouncementsSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "discovery",
			Name:      "announcements_sent_total",
			Help:      "Total number of presence announcements broadcast",
		}),
		AnnouncementFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "discovery",
			Name:      "announcement_failures_total",
			Help:      "Total number of announcement sends that failed",
		}),
		AnnouncementsReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "discovery",
			Name:      "announcements_received_total",
			Help:      "Total number of datagrams received on the discovery port",
		}),
		AnnouncementsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "discovery",
			Name:      "announcements_dropped_total",
			Help:      "Total number of discovery datagrams discarded",
		}, []string{"reason"}),
		PeersUpserted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "discovery",
			Name:      "peers_upserted_total",
			Help:      "Total number of registry upserts from announcements",
		}),

		ConnectionsAccepted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "connections_accepted_total",
			Help:      "Total number of inbound connections accepted",
		}),
		ConnectionsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "connections_rejected_total",
			Help:      "Total number of inbound connections closed before reading",
		}, []string{"reason"}),
		ActiveConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "active_connections",
			Help:      "Number of inbound connections currently being read",
		}),
		EnvelopesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "envelopes_received_total",
			Help:      "Total number of envelopes decoded from inbound connections",
		}, []string{"kind"}),
		EnvelopesDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "envelopes_dropped_total",
			Help:      "Total number of inbound transfers discarded",
		}, []string{"reason"}),
		EnvelopeBytesReceived: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "envelope_bytes",
			Help:      "Size of inbound transfers in bytes",
			Buckets:   prometheus.ExponentialBuckets(256, 4, 10),
		}),
		SendsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "sends_total",
			Help:      "Total number of envelopes written to peers",
		}, []string{"kind"}),
		SendFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "send_failures_total",
			Help:      "Total number of outbound sends that failed",
		}, []string{"stage"}),
		SendDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "send_duration_seconds",
			Help:      "Outbound send latency from dial to close",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5, 10, 30},
		}),
		MessagesLogged: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "messages_logged_total",
			Help:      "Total number of messages appended to the message log",
		}),
		NotificationsDelivered: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "notifications_total",
			Help:      "Total number of arrival notifications emitted",
		}),
	}
}

// Registry returns the registry holding every collector.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler serving the collectors in text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// OrNew returns m, or fresh collectors when m is nil.
func OrNew(m *Metrics) *Metrics {
	if m != nil {
		return m
	}
	return New(DefaultNamespace)
}
