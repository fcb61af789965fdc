package obs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP metrics shared by every handler.
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	readyGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "service_ready",
		Help: "1 when the readiness probe passes, 0 otherwise.",
	})
)

// Governance metrics.
var (
	transitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "governance_transitions_total",
			Help: "Entity status transitions by target status and outcome.",
		},
		[]string{"target", "outcome"},
	)

	authorizeDenialsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "governance_authorize_denials_total",
			Help: "Authorization denials by stable reason code.",
		},
		[]string{"reason"},
	)

	slaEscalationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "governance_sla_escalations_total",
			Help: "Communication thread SLA status changes by new status.",
		},
		[]string{"status"},
	)

	remindersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "governance_reminders_total",
			Help: "Reminder dispatch attempts by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)
)

// Init registers all metrics in the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration, readyGauge,
		transitionsTotal, authorizeDenialsTotal, slaEscalationsTotal, remindersTotal,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetReady records the readiness probe outcome.
func SetReady(ready bool) {
	if ready {
		readyGauge.Set(1)
		return
	}
	readyGauge.Set(0)
}

// ObserveTransition counts a transition attempt outcome ("committed",
// "invalid", "unauthorized", "not_ready", "conflict").
func ObserveTransition(target, outcome string) {
	transitionsTotal.WithLabelValues(target, outcome).Inc()
}

// ObserveAuthorizeDenial counts a denial by its stable reason code.
func ObserveAuthorizeDenial(reason string) {
	authorizeDenialsTotal.WithLabelValues(reason).Inc()
}

// ObserveSlaEscalation counts a thread SLA status change.
func ObserveSlaEscalation(status string) {
	slaEscalationsTotal.WithLabelValues(status).Inc()
}

// ObserveReminder counts a reminder dispatch outcome ("sent", "failed", "bounced").
func ObserveReminder(kind, outcome string) {
	remindersTotal.WithLabelValues(kind, outcome).Inc()
}

// Instrument measures RPS, latency and in-flight requests for a handler tree.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// CanonicalPath collapses resource identifiers so metric label cardinality
// stays bounded.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	for _, prefix := range []string{"/v1/entities/", "/v1/threads/", "/v1/grants/", "/v1/reminders/"} {
		rest, ok := strings.CutPrefix(path, prefix)
		if !ok {
			continue
		}
		parts := strings.SplitN(rest, "/", 2)
		if parts[0] == "" {
			return path
		}
		if len(parts) == 1 {
			return prefix + ":id"
		}
		return prefix + ":id/" + parts[1]
	}
	return path
}

// statusWriter captures the response code for metric labels.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
