package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gatherFamily(t *testing.T, m *Metrics, name string) *dto.MetricFamily {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func TestRecordRequest(t *testing.T) {
	t.Parallel()

	m := New()
	m.RecordRequest("bolt", TransportQUIC, 200, 25*time.Millisecond)
	m.RecordRequest("bolt", TransportQUIC, 200, 30*time.Millisecond)
	m.RecordRequest("agent", TransportHTTP, 502, 5*time.Millisecond)

	mf := gatherFamily(t, m, "gpanel_proxy_requests_total")
	require.NotNil(t, mf)

	var total float64
	for _, metric := range mf.GetMetric() {
		total += metric.GetCounter().GetValue()
	}
	assert.Equal(t, 3.0, total)
}

func TestRecordBytesIgnoresNonPositive(t *testing.T) {
	t.Parallel()

	m := New()
	m.RecordBytes(DirectionIn, 100)
	m.RecordBytes(DirectionIn, 0)
	m.RecordBytes(DirectionOut, -5)

	mf := gatherFamily(t, m, "gpanel_proxy_bytes_transferred_total")
	require.NotNil(t, mf)
	require.Len(t, mf.GetMetric(), 1)
	assert.Equal(t, 100.0, mf.GetMetric()[0].GetCounter().GetValue())
}

func TestConnectionGauge(t *testing.T) {
	t.Parallel()

	m := New()
	m.ConnectionOpened(TransportQUIC)
	m.ConnectionOpened(TransportQUIC)
	m.ConnectionOpened(TransportHTTP)
	m.ConnectionClosed(TransportQUIC)

	snap := m.Snapshot()
	assert.EqualValues(t, 2, snap.ActiveConnections)
}

func TestSnapshot(t *testing.T) {
	t.Parallel()

	m := New()
	m.RecordRequest("bolt", TransportQUIC, 200, time.Millisecond)
	m.RecordRequest("bolt", TransportQUIC, 404, time.Millisecond)
	m.RecordRequest("bolt", TransportHTTP, 200, time.Millisecond)
	m.RecordBytes(DirectionIn, 1024)
	m.RecordBytes(DirectionOut, 2048)

	snap := m.Snapshot()
	assert.EqualValues(t, 3, snap.TotalRequests)
	assert.EqualValues(t, 2, snap.QUICRequests)
	assert.EqualValues(t, 1, snap.HTTPRequests)
	assert.EqualValues(t, 3072, snap.BytesTransferred)
}

func TestSnapshotUptime(t *testing.T) {
	t.Parallel()

	m := New()
	m.startTime = time.Now().Add(-90 * time.Second)

	snap := m.Snapshot()
	assert.GreaterOrEqual(t, snap.UptimeSeconds, uint64(90))
}

func TestHandlerServesScrapeFormat(t *testing.T) {
	t.Parallel()

	m := New()
	m.SetBuildInfo("1.0.0", "go1.25")
	m.RecordError("bad_gateway")
	m.RecordRateLimitRejection()
	m.RecordAuthFailure("invalid_token")
	m.RecordRetry("bolt")
	m.SetPoolHealthyInstances("bolt", 2)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "gpanel_proxy_errors_total")
	assert.Contains(t, body, "gpanel_proxy_rate_limit_rejections_total")
	assert.Contains(t, body, "gpanel_proxy_auth_failures_total")
	assert.Contains(t, body, "gpanel_proxy_retries_total")
	assert.Contains(t, body, "gpanel_proxy_pool_healthy_instances")
	assert.Contains(t, body, "gpanel_proxy_build_info")
	assert.Contains(t, body, "go_goroutines")
}

func TestDefaultIsSingleton(t *testing.T) {
	t.Parallel()

	assert.Same(t, Default(), Default())
}
