package monitoring

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector manages Prometheus metrics for a service. Each collector
// owns its registry so several can coexist in one process (tests).
type MetricsCollector struct {
	serviceName string
	registry    *prometheus.Registry

	// Standard HTTP metrics
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	activeConnections   prometheus.Gauge
	serviceInfo         *prometheus.GaugeVec

	// Custom metrics registry
	customMetrics map[string]prometheus.Collector
}

// GraphQLMetrics are the adapter and engine counters.
type GraphQLMetrics struct {
	Operations   *prometheus.CounterVec   // kind, status
	Duration     *prometheus.HistogramVec // kind
	Chunks       prometheus.Counter
	StreamAborts *prometheus.CounterVec // reason
	APQLookups   *prometheus.CounterVec // result
	WSSessions   prometheus.Gauge
}

// NewMetricsCollector creates a new metrics collector for a service
func NewMetricsCollector(serviceName, version, commit string) *MetricsCollector {
	// Sanitize service name for Prometheus (replace hyphens with underscores)
	sanitizedServiceName := strings.ReplaceAll(serviceName, "-", "_")

	mc := &MetricsCollector{
		serviceName:   sanitizedServiceName,
		registry:      prometheus.NewRegistry(),
		customMetrics: make(map[string]prometheus.Collector),
	}

	mc.httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: mc.serviceName + "_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	mc.httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    mc.serviceName + "_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	mc.activeConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: mc.serviceName + "_active_connections",
			Help: "Number of active connections",
		},
	)

	mc.serviceInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: mc.serviceName + "_service_info",
			Help: "Service information",
		},
		[]string{"version", "commit"},
	)

	mc.registry.MustRegister(
		mc.httpRequestsTotal,
		mc.httpRequestDuration,
		mc.activeConnections,
		mc.serviceInfo,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	mc.serviceInfo.WithLabelValues(version, commit).Set(1)

	return mc
}

// RegisterCustomMetric registers a custom Prometheus metric
func (mc *MetricsCollector) RegisterCustomMetric(name string, metric prometheus.Collector) {
	mc.customMetrics[name] = metric
	mc.registry.MustRegister(metric)
}

// MetricsMiddleware returns middleware that collects HTTP metrics
func (mc *MetricsCollector) MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		mc.activeConnections.Inc()
		defer mc.activeConnections.Dec()

		c.Next()

		duration := time.Since(start).Seconds()
		method := c.Request.Method
		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unknown"
		}
		status := strconv.Itoa(c.Writer.Status())

		mc.httpRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
		mc.httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration)
	}
}

// Handler returns the Prometheus metrics HTTP handler
func (mc *MetricsCollector) Handler() gin.HandlerFunc {
	handler := promhttp.HandlerFor(mc.registry, promhttp.HandlerOpts{})
	return func(c *gin.Context) {
		handler.ServeHTTP(c.Writer, c.Request)
	}
}

// Service-specific metric helpers

// NewCounter creates a new counter metric for the service
func (mc *MetricsCollector) NewCounter(name, help string, labels []string) *prometheus.CounterVec {
	counter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: mc.serviceName + "_" + name,
			Help: help,
		},
		labels,
	)
	mc.RegisterCustomMetric(name, counter)
	return counter
}

// NewGauge creates a new gauge metric for the service
func (mc *MetricsCollector) NewGauge(name, help string, labels []string) *prometheus.GaugeVec {
	gauge := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: mc.serviceName + "_" + name,
			Help: help,
		},
		labels,
	)
	mc.RegisterCustomMetric(name, gauge)
	return gauge
}

// NewHistogram creates a new histogram metric for the service
func (mc *MetricsCollector) NewHistogram(name, help string, labels []string, buckets []float64) *prometheus.HistogramVec {
	if buckets == nil {
		buckets = prometheus.DefBuckets
	}

	histogram := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    mc.serviceName + "_" + name,
			Help:    help,
			Buckets: buckets,
		},
		labels,
	)
	mc.RegisterCustomMetric(name, histogram)
	return histogram
}

// CreateGraphQLMetrics registers the GraphQL endpoint metrics.
func (mc *MetricsCollector) CreateGraphQLMetrics() *GraphQLMetrics {
	chunks := prometheus.NewCounter(prometheus.CounterOpts{
		Name: mc.serviceName + "_graphql_chunks_total",
		Help: "Chunked response fragments written",
	})
	mc.RegisterCustomMetric("graphql_chunks_total", chunks)

	sessions := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: mc.serviceName + "_graphql_ws_sessions_active",
		Help: "Open GraphQL websocket sessions",
	})
	mc.RegisterCustomMetric("graphql_ws_sessions_active", sessions)

	return &GraphQLMetrics{
		Operations:   mc.NewCounter("graphql_operations_total", "Total GraphQL operations", []string{"kind", "status"}),
		Duration:     mc.NewHistogram("graphql_operation_duration_seconds", "GraphQL operation duration", []string{"kind"}, nil),
		Chunks:       chunks,
		StreamAborts: mc.NewCounter("graphql_stream_aborts_total", "Chunked responses aborted mid-stream", []string{"reason"}),
		APQLookups:   mc.NewCounter("apq_lookups_total", "Automatic persisted query lookups", []string{"result"}),
		WSSessions:   sessions,
	}
}

// The helpers below are nil-safe so callers can run without metrics.

// ObserveOperation records one finished GraphQL operation.
func (m *GraphQLMetrics) ObserveOperation(kind, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Operations.WithLabelValues(kind, status).Inc()
	m.Duration.WithLabelValues(kind).Observe(elapsed.Seconds())
}

// IncChunk counts one streamed fragment.
func (m *GraphQLMetrics) IncChunk() {
	if m == nil {
		return
	}
	m.Chunks.Inc()
}

// IncAbort counts a stream that ended without reaching its last fragment.
func (m *GraphQLMetrics) IncAbort(reason string) {
	if m == nil {
		return
	}
	m.StreamAborts.WithLabelValues(reason).Inc()
}

// IncAPQ counts a persisted query event ("hit", "miss", "stored", "evicted", "error").
func (m *GraphQLMetrics) IncAPQ(result string) {
	if m == nil {
		return
	}
	m.APQLookups.WithLabelValues(result).Inc()
}

// SessionOpened tracks a websocket session start.
func (m *GraphQLMetrics) SessionOpened() {
	if m == nil {
		return
	}
	m.WSSessions.Inc()
}

// SessionClosed tracks a websocket session end.
func (m *GraphQLMetrics) SessionClosed() {
	if m == nil {
		return
	}
	m.WSSessions.Dec()
}
