// Package system provides system-level services for monitoring and maintenance.
package system

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"norelock.dev/listenify/providerhost/internal/utils"
)

const namespace = "providerhost"

// MetricsService collects application metrics on its own registry.
// It is the metrics sink of both the provider registry and the host.
type MetricsService struct {
	logger   *utils.Logger
	registry *prometheus.Registry

	// HTTP metrics
	httpRequestsTotal      *prometheus.CounterVec
	httpRequestDuration    *prometheus.HistogramVec
	httpRequestsInProgress *prometheus.GaugeVec

	// WebSocket metrics
	wsConnectionsTotal   prometheus.Counter
	wsConnectionsActive  prometheus.Gauge
	wsEventsSent         prometheus.Counter
	wsConnectionDuration prometheus.Histogram

	// Provider metrics
	providerCallsTotal   *prometheus.CounterVec
	providerCallDuration *prometheus.HistogramVec
	fanOutDuration       *prometheus.HistogramVec
	fanOutProviders      *prometheus.HistogramVec
	installsTotal        *prometheus.CounterVec
	providersInstalled   prometheus.Gauge
	providersEnabled     prometheus.Gauge
	searchSessionsActive prometheus.Gauge
	maintenanceRunsTotal *prometheus.CounterVec
}

// NewMetricsService creates a metrics service with Go and process collectors registered.
func NewMetricsService(logger *utils.Logger) *MetricsService {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &MetricsService{
		logger:   logger.Named("metrics_service"),
		registry: reg,
	}

	factory := promauto.With(reg)
	m.initHTTPMetrics(factory)
	m.initWebSocketMetrics(factory)
	m.initProviderMetrics(factory)

	return m
}

// Handler returns an HTTP handler for exposing metrics.
func (m *MetricsService) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying Prometheus registry.
func (m *MetricsService) Registry() *prometheus.Registry {
	return m.registry
}

// initHTTPMetrics initializes HTTP-related metrics.
func (m *MetricsService) initHTTPMetrics(f promauto.Factory) {
	m.httpRequestsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	m.httpRequestDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	m.httpRequestsInProgress = f.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_requests_in_progress",
			Help:      "Number of HTTP requests currently in progress",
		},
		[]string{"method"},
	)
}

// initWebSocketMetrics initializes metrics for the event stream.
func (m *MetricsService) initWebSocketMetrics(f promauto.Factory) {
	m.wsConnectionsTotal = f.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ws_connections_total",
		Help:      "Total number of event stream connections",
	})

	m.wsConnectionsActive = f.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "ws_connections_active",
		Help:      "Number of open event stream connections",
	})

	m.wsEventsSent = f.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ws_events_sent_total",
		Help:      "Registry events written to event stream clients",
	})

	m.wsConnectionDuration = f.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "ws_connection_duration_seconds",
		Help:      "Lifetime of event stream connections",
		Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
	})
}

// initProviderMetrics initializes provider call, install and session metrics.
func (m *MetricsService) initProviderMetrics(f promauto.Factory) {
	m.providerCallsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_calls_total",
			Help:      "Provider method calls by outcome",
		},
		[]string{"platform", "method", "outcome"},
	)

	m.providerCallDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_call_duration_seconds",
			Help:      "Duration of provider method calls",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"platform", "method"},
	)

	m.fanOutDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fan_out_duration_seconds",
			Help:      "Duration of calls spread across every enabled provider",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	m.fanOutProviders = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fan_out_providers",
			Help:      "Providers asked per fan-out",
			Buckets:   prometheus.LinearBuckets(0, 2, 10),
		},
		[]string{"method"},
	)

	m.installsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_installs_total",
			Help:      "Provider installs by outcome",
		},
		[]string{"outcome"},
	)

	m.providersInstalled = f.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "providers_installed",
		Help:      "Installed providers, built-ins excluded",
	})

	m.providersEnabled = f.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "providers_enabled",
		Help:      "Enabled and mounted providers, built-ins included",
	})

	m.searchSessionsActive = f.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "search_sessions_active",
		Help:      "Live aggregated search sessions",
	})

	m.maintenanceRunsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "maintenance_runs_total",
			Help:      "Maintenance task runs by result",
		},
		[]string{"task", "result"},
	)
}

// ObserveHTTPRequest records metrics for an HTTP request.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// IncHTTPRequestsInProgress increments the in-progress HTTP requests gauge.
func (m *MetricsService) IncHTTPRequestsInProgress(method string) {
	m.httpRequestsInProgress.WithLabelValues(method).Inc()
}

// DecHTTPRequestsInProgress decrements the in-progress HTTP requests gauge.
func (m *MetricsService) DecHTTPRequestsInProgress(method string) {
	m.httpRequestsInProgress.WithLabelValues(method).Dec()
}

// ObserveWSConnection records a closed event stream connection.
func (m *MetricsService) ObserveWSConnection(duration time.Duration) {
	m.wsConnectionsTotal.Inc()
	m.wsConnectionDuration.Observe(duration.Seconds())
}

// IncWSConnectionsActive increments the open connections gauge.
func (m *MetricsService) IncWSConnectionsActive() {
	m.wsConnectionsActive.Inc()
}

// DecWSConnectionsActive decrements the open connections gauge.
func (m *MetricsService) DecWSConnectionsActive() {
	m.wsConnectionsActive.Dec()
}

// IncWSEventsSent counts one event written to a client.
func (m *MetricsService) IncWSEventsSent() {
	m.wsEventsSent.Inc()
}

// ObserveCall records one provider call.
func (m *MetricsService) ObserveCall(platform, method, outcome string, d time.Duration) {
	m.providerCallsTotal.WithLabelValues(platform, method, outcome).Inc()
	m.providerCallDuration.WithLabelValues(platform, method).Observe(d.Seconds())
}

// ObserveFanOut records one multi-provider call.
func (m *MetricsService) ObserveFanOut(method string, providers int, d time.Duration) {
	m.fanOutDuration.WithLabelValues(method).Observe(d.Seconds())
	m.fanOutProviders.WithLabelValues(method).Observe(float64(providers))
}

// RecordInstall counts one install attempt.
func (m *MetricsService) RecordInstall(outcome string) {
	m.installsTotal.WithLabelValues(outcome).Inc()
}

// SetProviderCounts updates the provider gauges.
func (m *MetricsService) SetProviderCounts(installed, enabled int) {
	m.providersInstalled.Set(float64(installed))
	m.providersEnabled.Set(float64(enabled))
}

// SetSearchSessions sets the live search sessions gauge.
func (m *MetricsService) SetSearchSessions(count int) {
	m.searchSessionsActive.Set(float64(count))
}

// RecordMaintenanceRun counts one maintenance task run.
func (m *MetricsService) RecordMaintenanceRun(task string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.maintenanceRunsTotal.WithLabelValues(task, result).Inc()
}
