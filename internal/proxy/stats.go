package proxy

import (
	"encoding/json"
	"net/http"

	"github.com/CK-Technology/ghostpanel/internal/metrics"
)

// StatsHandler serves the proxy statistics snapshot for routes that
// target the internal "@stats" pool.
type StatsHandler struct {
	metrics *metrics.Metrics
}

// NewStatsHandler creates the stats handler.
func NewStatsHandler(m *metrics.Metrics) *StatsHandler {
	return &StatsHandler{metrics: m}
}

// ServeHTTP implements http.Handler.
func (h *StatsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")

	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}

	_ = json.NewEncoder(w).Encode(h.metrics.Snapshot())
}
