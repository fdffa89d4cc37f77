package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestCollectorsAreIsolatedPerInstance(t *testing.T) {
	first := New("")
	second := New("")

	first.AnnouncementsSent.Inc()
	first.AnnouncementsSent.Inc()
	second.AnnouncementsSent.Inc()

	require.Equal(t, 2.0, testutil.ToFloat64(first.AnnouncementsSent))
	require.Equal(t, 1.0, testutil.ToFloat64(second.AnnouncementsSent))
}

func TestHandlerExposesNamespacedMetrics(t *testing.T) {
	m := New("testns")
	m.EnvelopesDropped.WithLabelValues("decode").Inc()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)
	require.True(t, strings.Contains(string(body), `testns_transport_envelopes_dropped_total{reason="decode"} 1`))
}

func TestOrNewKeepsExisting(t *testing.T) {
	m := New("")
	require.Same(t, m, OrNew(m))
	require.NotNil(t, OrNew(nil))
}
