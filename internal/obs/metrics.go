package obs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

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
		Name: "worklane_ready",
		Help: "1 when the service considers itself ready to serve traffic.",
	})

	sessionsStarted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "worklane_sessions_started_total",
		Help: "Work sessions started.",
	})

	sessionsCompleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worklane_sessions_completed_total",
			Help: "Work sessions completed, by reason.",
		},
		[]string{"reason"}, // manual | inactivity
	)

	offlineSynced = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worklane_offline_sessions_synced_total",
			Help: "Offline session entries processed, by result.",
		},
		[]string{"result"}, // ok | failed
	)
)

// Init registers all service metrics with the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight,
		httpRequestsTotal,
		httpRequestDuration,
		readyGauge,
		sessionsStarted,
		sessionsCompleted,
		offlineSynced,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetReady flips the readiness gauge.
func SetReady(ready bool) {
	if ready {
		readyGauge.Set(1)
		return
	}
	readyGauge.Set(0)
}

// SessionStarted increments the started-sessions counter.
func SessionStarted() { sessionsStarted.Inc() }

// SessionCompleted increments the completed-sessions counter for a reason.
func SessionCompleted(reason string) { sessionsCompleted.WithLabelValues(reason).Inc() }

// OfflineEntrySynced increments the offline-sync counter for a result.
func OfflineEntrySynced(result string) { offlineSynced.WithLabelValues(result).Inc() }

// CanonicalPath collapses resource identifiers so metric label cardinality
// stays bounded. Unknown shapes pass through unchanged.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	parts := strings.Split(strings.Trim(path, "/"), "/")
	canon := func(tail ...string) string {
		return "/" + strings.Join(append([]string{parts[0]}, tail...), "/")
	}
	if len(parts) >= 3 && parts[0] == "v1" {
		switch parts[1] {
		case "sessions":
			if len(parts) == 4 && (parts[3] == "heartbeat" || parts[3] == "end") {
				return canon("sessions", ":id", parts[3])
			}
		case "roles", "modules", "users":
			if len(parts) == 3 {
				return canon(parts[1], ":id")
			}
		case "companies":
			if len(parts) == 5 && parts[3] == "modules" {
				return canon("companies", ":id", "modules", ":module_id")
			}
			if len(parts) == 3 {
				return canon("companies", ":id")
			}
		}
	}
	return path
}

// Instrument wraps a handler with RPS/latency/in-flight measurements.
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

// statusWriter captures the response code written by downstream handlers.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
