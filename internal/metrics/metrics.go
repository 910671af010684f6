// Package metrics provides Prometheus instrumentation and the
// on-demand statistics snapshot served at /api/stats.
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gpanel_proxy"

// Transport label values.
const (
	TransportQUIC = "quic"
	TransportHTTP = "http"
)

// Direction label values for byte counters.
const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

// Metrics holds all Prometheus collectors for the proxy, registered
// on a private registry so the admin endpoint exposes only proxy
// metrics plus process/go runtime collectors.
type Metrics struct {
	registry  *prometheus.Registry
	startTime time.Time

	requestsTotal        *prometheus.CounterVec
	errorsTotal          *prometheus.CounterVec
	bytesTransferred     *prometheus.CounterVec
	rateLimitRejections  prometheus.Counter
	authFailuresTotal    *prometheus.CounterVec
	retriesTotal         *prometheus.CounterVec
	requestDuration      *prometheus.HistogramVec
	activeConnections    *prometheus.GaugeVec
	poolHealthyInstances *prometheus.GaugeVec
	buildInfo            *prometheus.GaugeVec
	startTimeGauge       prometheus.Gauge
}

var (
	defaultInstance *Metrics
	defaultOnce     sync.Once
)

// Default returns the process-wide metrics instance.
func Default() *Metrics {
	defaultOnce.Do(func() {
		defaultInstance = New()
	})
	return defaultInstance
}

// New creates a Metrics instance with its own registry.
func New() *Metrics {
	m := &Metrics{
		registry:  prometheus.NewRegistry(),
		startTime: time.Now(),
	}

	m.requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total number of proxied requests",
		},
		[]string{"pool", "transport", "code"},
	)

	m.errorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Total number of request failures by error class",
		},
		[]string{"class"},
	)

	m.bytesTransferred = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_transferred_total",
			Help:      "Total bytes relayed between clients and backends",
		},
		[]string{"direction"},
	)

	m.rateLimitRejections = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_rejections_total",
			Help:      "Total number of requests rejected by the rate limiter",
		},
	)

	m.authFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_failures_total",
			Help:      "Total number of rejected credentials by reason",
		},
		[]string{"reason"},
	)

	m.retriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_total",
			Help:      "Total number of forward retries by pool",
		},
		[]string{"pool"},
	)

	m.requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "End-to-end request duration",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"pool", "transport"},
	)

	m.activeConnections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_connections",
			Help:      "Currently tracked client connections",
		},
		[]string{"transport"},
	)

	m.poolHealthyInstances = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_healthy_instances",
			Help:      "Healthy instances per backend pool",
		},
		[]string{"pool"},
	)

	m.buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "build_info",
			Help:      "Build information",
		},
		[]string{"version", "go_version"},
	)

	m.startTimeGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "start_time_seconds",
			Help:      "Unix time the proxy started",
		},
	)
	m.startTimeGauge.Set(float64(m.startTime.Unix()))

	m.register()

	return m
}

// register registers all collectors, tolerating duplicates that occur
// when an instance is rebuilt on reload.
func (m *Metrics) register() {
	cs := []prometheus.Collector{
		m.requestsTotal,
		m.errorsTotal,
		m.bytesTransferred,
		m.rateLimitRejections,
		m.authFailuresTotal,
		m.retriesTotal,
		m.requestDuration,
		m.activeConnections,
		m.poolHealthyInstances,
		m.buildInfo,
		m.startTimeGauge,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	}

	for _, c := range cs {
		if err := m.registry.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				panic(err)
			}
		}
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an http.Handler serving the scrape endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// SetBuildInfo records the build version labels.
func (m *Metrics) SetBuildInfo(version, goVersion string) {
	m.buildInfo.WithLabelValues(version, goVersion).Set(1)
}

// RecordRequest records a completed request.
func (m *Metrics) RecordRequest(pool, transport string, code int, duration time.Duration) {
	m.requestsTotal.WithLabelValues(pool, transport, strconv.Itoa(code)).Inc()
	m.requestDuration.WithLabelValues(pool, transport).Observe(duration.Seconds())
}

// RecordError records a request failure by error class.
func (m *Metrics) RecordError(class string) {
	m.errorsTotal.WithLabelValues(class).Inc()
}

// RecordBytes adds relayed byte counts.
func (m *Metrics) RecordBytes(direction string, n int64) {
	if n <= 0 {
		return
	}
	m.bytesTransferred.WithLabelValues(direction).Add(float64(n))
}

// RecordRateLimitRejection counts a rate limiter rejection.
func (m *Metrics) RecordRateLimitRejection() {
	m.rateLimitRejections.Inc()
}

// RecordAuthFailure counts a rejected credential by reason.
func (m *Metrics) RecordAuthFailure(reason string) {
	m.authFailuresTotal.WithLabelValues(reason).Inc()
}

// RecordRetry counts a forward retry against a pool.
func (m *Metrics) RecordRetry(pool string) {
	m.retriesTotal.WithLabelValues(pool).Inc()
}

// ConnectionOpened increments the active connection gauge.
func (m *Metrics) ConnectionOpened(transport string) {
	m.activeConnections.WithLabelValues(transport).Inc()
}

// ConnectionClosed decrements the active connection gauge.
func (m *Metrics) ConnectionClosed(transport string) {
	m.activeConnections.WithLabelValues(transport).Dec()
}

// SetPoolHealthyInstances records the healthy instance count for a pool.
func (m *Metrics) SetPoolHealthyInstances(pool string, n int) {
	m.poolHealthyInstances.WithLabelValues(pool).Set(float64(n))
}
