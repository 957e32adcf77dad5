package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Sample outcomes.
const (
	OutcomeOK     = "ok"
	OutcomeNoData = "nodata"
	OutcomeError  = "error"
)

// latencyBuckets covers sub-millisecond raster reads up to slow remote calls.
var latencyBuckets = []float64{0.5, 1, 2.5, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000} //nolint:gochecknoglobals // bucket table

// Manager manages all Prometheus metrics for the elevation service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	customLabels     map[string]string
	registry         prometheus.Registerer

	// HTTP Performance Metrics
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Sampling Metrics
	samplesTotal  *prometheus.CounterVec
	sourceLatency *prometheus.HistogramVec

	// Remote Metrics
	remoteRequests *prometheus.CounterVec

	// Raster Registry Metrics
	rasterOpens       *prometheus.CounterVec
	rasterCacheHits   prometheus.Counter
	rasterOpenHandles prometheus.Gauge

	// Configuration Metrics
	configReloads     *prometheus.CounterVec
	tenantsConfigured prometheus.Gauge

	// Error Metrics
	errorRateByComponent *prometheus.CounterVec
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

// Initialize global metrics.
func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "elevation",
		subsystem:        "service",
		histogramBuckets: latencyBuckets,
		customLabels:     make(map[string]string),
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // long function required for comprehensive metrics initialization
	auto := promauto.With(m.registry)
	labels := prometheus.Labels(m.customLabels)

	m.httpRequests = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   m.namespace,
			Subsystem:   m.subsystem,
			Name:        "http_requests_total",
			Help:        "Total number of HTTP requests by endpoint and method",
			ConstLabels: labels,
		},
		[]string{"endpoint", "method", "status_code"},
	)

	m.httpRequestDuration = auto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   m.namespace,
			Subsystem:   m.subsystem,
			Name:        "http_request_duration_milliseconds",
			Help:        "HTTP request duration in milliseconds",
			Buckets:     m.histogramBuckets,
			ConstLabels: labels,
		},
		[]string{"endpoint", "method", "status_code"},
	)

	m.samplesTotal = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   m.namespace,
			Subsystem:   m.subsystem,
			Name:        "samples_total",
			Help:        "Elevation lookups by request kind, source kind and outcome",
			ConstLabels: labels,
		},
		[]string{"request", "source_kind", "outcome"},
	)

	m.sourceLatency = auto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   m.namespace,
			Subsystem:   m.subsystem,
			Name:        "source_latency_milliseconds",
			Help:        "Time spent answering one source for one request",
			Buckets:     m.histogramBuckets,
			ConstLabels: labels,
		},
		[]string{"request", "source_kind"},
	)

	m.remoteRequests = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   m.namespace,
			Subsystem:   m.subsystem,
			Name:        "remote_requests_total",
			Help:        "Outbound elevation API calls by operation and outcome",
			ConstLabels: labels,
		},
		[]string{"operation", "outcome"},
	)

	m.rasterOpens = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   m.namespace,
			Subsystem:   m.subsystem,
			Name:        "raster_opens_total",
			Help:        "Raster dataset opens by outcome",
			ConstLabels: labels,
		},
		[]string{"outcome"},
	)

	m.rasterCacheHits = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "raster_cache_hits_total",
		Help:        "Raster acquisitions served by an already open handle",
		ConstLabels: labels,
	})

	m.rasterOpenHandles = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "raster_open_handles",
		Help:        "Raster datasets currently held open by the registry",
		ConstLabels: labels,
	})

	m.configReloads = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   m.namespace,
			Subsystem:   m.subsystem,
			Name:        "config_reloads_total",
			Help:        "Configuration reloads by outcome",
			ConstLabels: labels,
		},
		[]string{"outcome"},
	)

	m.tenantsConfigured = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "tenants_configured",
		Help:        "Number of tenants in the active configuration",
		ConstLabels: labels,
	})

	m.errorRateByComponent = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   m.namespace,
			Subsystem:   m.subsystem,
			Name:        "errors_by_component_total",
			Help:        "Total number of errors by component and error type",
			ConstLabels: labels,
		},
		[]string{"component", "error_type"},
	)
}

// HTTP Metrics Functions.

// RecordHTTPRequest increments the HTTP request counter.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration in milliseconds.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// Sampling Metrics Functions.

// RecordSample counts one lookup; request is "point" or "profile".
func RecordSample(request, sourceKind, outcome string) {
	globalManager.samplesTotal.WithLabelValues(request, sourceKind, outcome).Inc()
}

// RecordSourceLatency records how long one source took for one request.
func RecordSourceLatency(request, sourceKind string, latencyMs float64) {
	globalManager.sourceLatency.WithLabelValues(request, sourceKind).Observe(latencyMs)
}

// RecordRemoteRequest counts one outbound API call.
func RecordRemoteRequest(operation, outcome string) {
	globalManager.remoteRequests.WithLabelValues(operation, outcome).Inc()
}

// Raster Registry Functions.

// RecordRasterOpen counts a dataset open attempt.
func RecordRasterOpen(outcome string) {
	globalManager.rasterOpens.WithLabelValues(outcome).Inc()
}

// RecordRasterCacheHit counts an acquisition served without opening.
func RecordRasterCacheHit() {
	globalManager.rasterCacheHits.Inc()
}

// UpdateRasterOpenHandles sets the number of open datasets.
func UpdateRasterOpenHandles(count int) {
	globalManager.rasterOpenHandles.Set(float64(count))
}

// Configuration Functions.

// RecordConfigReload counts a reload attempt.
func RecordConfigReload(outcome string) {
	globalManager.configReloads.WithLabelValues(outcome).Inc()
}

// UpdateTenantsConfigured sets the number of configured tenants.
func UpdateTenantsConfigured(count int) {
	globalManager.tenantsConfigured.Set(float64(count))
}

// Error Metrics Functions.

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorRateByComponent.WithLabelValues(component, errorType).Inc()
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}

// Handler serves the custom registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(customRegistry, promhttp.HandlerOpts{})
}
