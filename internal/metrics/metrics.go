// Package metrics exposes the service's prometheus instrumentation.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles every collector the service records into.
type Metrics struct {
	deliveries      *prometheus.CounterVec
	buildsCreated   prometheus.Counter
	providerLatency *prometheus.HistogramVec
	httpRequests    *prometheus.CounterVec
	httpLatency     *prometheus.HistogramVec
}

// New registers all collectors with the given registerer. Tests pass a fresh
// registry to avoid duplicate-registration panics.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		deliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "trigger_webhook_deliveries_total",
			Help: "Webhook deliveries by event type and outcome.",
		}, []string{"event", "result"}),
		buildsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "trigger_builds_created_total",
			Help: "Builds created from webhook deliveries.",
		}),
		providerLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "trigger_provider_request_duration_seconds",
			Help:    "Provider API request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation", "status"}),
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "trigger_http_requests_total",
			Help: "HTTP requests by method, path, and status code.",
		}, []string{"method", "path", "status_code"}),
		httpLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "trigger_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}
}

// CountDelivery records one webhook delivery outcome.
func (m *Metrics) CountDelivery(event, result string) {
	m.deliveries.WithLabelValues(event, result).Inc()
}

// CountBuildCreated records a successfully created build.
func (m *Metrics) CountBuildCreated() {
	m.buildsCreated.Inc()
}

// ObserveProviderRequest records one provider API call.
func (m *Metrics) ObserveProviderRequest(operation string, elapsed time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.providerLatency.WithLabelValues(operation, status).Observe(elapsed.Seconds())
}

// Middleware instruments every HTTP request with count and duration.
func (m *Metrics) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &statusWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			m.httpRequests.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(wrapped.statusCode)).Inc()
			m.httpLatency.WithLabelValues(r.Method, r.URL.Path).Observe(time.Since(start).Seconds())
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}
