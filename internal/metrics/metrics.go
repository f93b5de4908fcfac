// Package metrics provides Prometheus metrics for the time machine service
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the time machine
type Metrics struct {
	// gRPC request metrics
	GrpcRequestsTotal    *prometheus.CounterVec
	GrpcRequestDuration  *prometheus.HistogramVec
	GrpcRequestsInFlight prometheus.Gauge

	// Web request metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Resolver metrics
	ResolutionsTotal   *prometheus.CounterVec
	ResolutionDuration *prometheus.HistogramVec

	// Cache metrics
	CacheRequestsTotal *prometheus.CounterVec
	CacheErrorsTotal   *prometheus.CounterVec

	// Interception and listing metrics
	ViewDecisionsTotal  *prometheus.CounterVec
	FilteredItemsTotal  *prometheus.CounterVec
	RenamesRecorded     prometheus.Counter
	PresetWarningsTotal prometheus.Counter

	// Server metrics
	ServerUptimeSeconds prometheus.Gauge
	ServerStartTime     time.Time
}

// NewMetrics creates and registers all metrics on reg. A nil reg uses the
// default Prometheus registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	m := &Metrics{
		ServerStartTime: time.Now(),
	}

	m.GrpcRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "timemachine_grpc_requests_total",
			Help: "Total number of gRPC requests",
		},
		[]string{"method", "status"},
	)

	m.GrpcRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "timemachine_grpc_request_duration_seconds",
			Help:    "Duration of gRPC requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	m.GrpcRequestsInFlight = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "timemachine_grpc_requests_in_flight",
			Help: "Number of gRPC requests currently being processed",
		},
	)

	m.HTTPRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "timemachine_http_requests_total",
			Help: "Total number of web requests",
		},
		[]string{"route", "code", "time_travel"},
	)

	m.HTTPRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "timemachine_http_request_duration_seconds",
			Help:    "Duration of web requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	m.ResolutionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "timemachine_resolutions_total",
			Help: "Total number of temporal resolutions by query kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	m.ResolutionDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "timemachine_resolution_duration_seconds",
			Help:    "Duration of temporal resolutions in seconds, cache included",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"kind"},
	)

	m.CacheRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "timemachine_cache_requests_total",
			Help: "Result cache lookups by query kind and result",
		},
		[]string{"kind", "result"},
	)

	m.CacheErrorsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "timemachine_cache_errors_total",
			Help: "Result cache backend failures by operation",
		},
		[]string{"kind", "op"},
	)

	m.ViewDecisionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "timemachine_view_decisions_total",
			Help: "Page view interception outcomes",
		},
		[]string{"state", "served_by_move"},
	)

	m.FilteredItemsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "timemachine_filtered_items_total",
			Help: "Listing entries kept or dropped by the time travel filter",
		},
		[]string{"source", "result"},
	)

	m.RenamesRecorded = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "timemachine_renames_recorded_total",
			Help: "Total number of rename events appended to the rename log",
		},
	)

	m.PresetWarningsTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "timemachine_preset_warnings_total",
			Help: "Malformed preset lines skipped while parsing",
		},
	)

	m.ServerUptimeSeconds = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "timemachine_server_uptime_seconds",
			Help: "Server uptime in seconds",
		},
	)

	return m
}

// RunUptime updates the uptime gauge until stop is closed
func (m *Metrics) RunUptime(stop <-chan struct{}) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.ServerUptimeSeconds.Set(time.Since(m.ServerStartTime).Seconds())
		}
	}
}

// RecordGrpcRequest records a gRPC request with its status
func (m *Metrics) RecordGrpcRequest(method string, status string, duration time.Duration) {
	m.GrpcRequestsTotal.WithLabelValues(method, status).Inc()
	m.GrpcRequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordHTTPRequest records a web request
func (m *Metrics) RecordHTTPRequest(route string, code int, travelling bool, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(route, codeClass(code), boolLabel(travelling)).Inc()
	m.HTTPRequestDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// ObserveResolution records one resolver query
func (m *Metrics) ObserveResolution(kind, outcome string, duration time.Duration) {
	m.ResolutionsTotal.WithLabelValues(kind, outcome).Inc()
	m.ResolutionDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// CacheHit records a cache hit
func (m *Metrics) CacheHit(kind string) {
	m.CacheRequestsTotal.WithLabelValues(kind, "hit").Inc()
}

// CacheMiss records a cache miss
func (m *Metrics) CacheMiss(kind string) {
	m.CacheRequestsTotal.WithLabelValues(kind, "miss").Inc()
}

// CacheError records a cache backend failure
func (m *Metrics) CacheError(kind, op string) {
	m.CacheErrorsTotal.WithLabelValues(kind, op).Inc()
}

// ViewDecided records an interception outcome
func (m *Metrics) ViewDecided(state string, servedByMove bool) {
	m.ViewDecisionsTotal.WithLabelValues(state, boolLabel(servedByMove)).Inc()
}

// ItemsFiltered records how many listing entries were kept and dropped
func (m *Metrics) ItemsFiltered(source string, kept, dropped int) {
	m.FilteredItemsTotal.WithLabelValues(source, "kept").Add(float64(kept))
	m.FilteredItemsTotal.WithLabelValues(source, "dropped").Add(float64(dropped))
}

// RenameRecorded counts an appended rename event
func (m *Metrics) RenameRecorded() {
	m.RenamesRecorded.Inc()
}

// PresetWarnings counts skipped preset lines
func (m *Metrics) PresetWarnings(n int) {
	m.PresetWarningsTotal.Add(float64(n))
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func codeClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	}
	return "2xx"
}
