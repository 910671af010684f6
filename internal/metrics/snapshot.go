package metrics

import (
	"time"

	dto "github.com/prometheus/client_model/go"
)

// Snapshot is the read-only statistics view served as JSON at
// /api/stats. The field set mirrors what the gpanel dashboard expects.
type Snapshot struct {
	ActiveConnections int64  `json:"active_connections"`
	TotalRequests     uint64 `json:"total_requests"`
	QUICRequests      uint64 `json:"quic_requests"`
	HTTPRequests      uint64 `json:"http_requests"`
	BytesTransferred  uint64 `json:"bytes_transferred"`
	UptimeSeconds     uint64 `json:"uptime_seconds"`
}

// Snapshot computes the current statistics view by gathering the
// registry. It is called on demand, never on the hot path.
func (m *Metrics) Snapshot() Snapshot {
	snap := Snapshot{
		UptimeSeconds: uint64(time.Since(m.startTime).Seconds()),
	}

	families, err := m.registry.Gather()
	if err != nil {
		return snap
	}

	for _, mf := range families {
		switch mf.GetName() {
		case namespace + "_requests_total":
			for _, metric := range mf.GetMetric() {
				v := uint64(metric.GetCounter().GetValue())
				snap.TotalRequests += v
				switch labelValue(metric, "transport") {
				case TransportQUIC:
					snap.QUICRequests += v
				case TransportHTTP:
					snap.HTTPRequests += v
				}
			}
		case namespace + "_bytes_transferred_total":
			for _, metric := range mf.GetMetric() {
				snap.BytesTransferred += uint64(metric.GetCounter().GetValue())
			}
		case namespace + "_active_connections":
			for _, metric := range mf.GetMetric() {
				snap.ActiveConnections += int64(metric.GetGauge().GetValue())
			}
		}
	}

	return snap
}

// labelValue returns the value of the named label, or "".
func labelValue(m *dto.Metric, name string) string {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}
