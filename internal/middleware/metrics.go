package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Message metrics
	messagesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gymbot_messages_received_total",
		Help: "Total number of inbound messages received",
	})

	messagesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gymbot_messages_processed_total",
		Help: "Total number of messages processed",
	}, []string{"status"})

	intentsClassified = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gymbot_intents_classified_total",
		Help: "Total number of messages per classified intent",
	}, []string{"intent"})

	commandsExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gymbot_commands_executed_total",
		Help: "Total number of slash commands executed",
	}, []string{"command"})

	// Backend metrics
	backendRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gymbot_backend_request_duration_seconds",
		Help:    "Duration of backend request attempts",
		Buckets: prometheus.DefBuckets,
	}, []string{"path", "status"})

	backendRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gymbot_backend_retries_total",
		Help: "Total number of backend request retries",
	}, []string{"path"})

	// Session cache metrics
	cacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gymbot_session_cache_hits_total",
		Help: "Total number of active-session cache hits",
	})

	cacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gymbot_session_cache_misses_total",
		Help: "Total number of active-session cache misses",
	})

	rateLimitExceeded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gymbot_rate_limit_exceeded_total",
		Help: "Total number of rejected admissions",
	})

	activeContexts = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gymbot_active_contexts",
		Help: "Number of live conversation contexts",
	})
)

// Metrics provides methods to record metrics
type Metrics struct{}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	return &Metrics{}
}

// RecordMessageReceived records a received message
func (m *Metrics) RecordMessageReceived() {
	messagesReceived.Inc()
}

// RecordMessageProcessed records a processed message
func (m *Metrics) RecordMessageProcessed(status string) {
	messagesProcessed.WithLabelValues(status).Inc()
}

// RecordIntent records a classification result
func (m *Metrics) RecordIntent(intent string) {
	intentsClassified.WithLabelValues(intent).Inc()
}

// RecordCommandExecuted records an executed command
func (m *Metrics) RecordCommandExecuted(command string) {
	commandsExecuted.WithLabelValues(command).Inc()
}

// RecordBackendRequest records one backend attempt
func (m *Metrics) RecordBackendRequest(path, status string, duration time.Duration) {
	backendRequestDuration.WithLabelValues(path, status).Observe(duration.Seconds())
}

// RecordBackendRetry records a retry of a backend call
func (m *Metrics) RecordBackendRetry(path string) {
	backendRetries.WithLabelValues(path).Inc()
}

// RecordCacheHit records a cache hit
func (m *Metrics) RecordCacheHit() {
	cacheHits.Inc()
}

// RecordCacheMiss records a cache miss
func (m *Metrics) RecordCacheMiss() {
	cacheMisses.Inc()
}

// RecordRateLimitExceeded records a rate limit exceeded event
func (m *Metrics) RecordRateLimitExceeded() {
	rateLimitExceeded.Inc()
}

// SetActiveContexts sets the number of live conversation contexts
func (m *Metrics) SetActiveContexts(count int) {
	activeContexts.Set(float64(count))
}

// NewMetricsRouter builds the metrics and health routes
func NewMetricsRouter(path string) *mux.Router {
	router := mux.NewRouter()
	router.Handle(path, promhttp.Handler())

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods(http.MethodGet)

	return router
}

// NewMetricsServer creates the metrics HTTP server
func NewMetricsServer(port int, path string) *http.Server {
	return &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      NewMetricsRouter(path),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}
