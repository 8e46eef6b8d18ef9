package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Общие HTTP-метрики
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
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)

// Authorization metrics
var (
	authzDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authz_decisions_total",
			Help: "Authorization gate decisions by gate and outcome.",
		},
		[]string{"gate", "outcome"},
	)

	roleCacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authz_role_cache_lookups_total",
			Help: "Role cache lookups by result (hit, miss).",
		},
		[]string{"result"},
	)

	otpEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "otp_events_total",
			Help: "OTP protocol steps by stage and outcome.",
		},
		[]string{"stage", "outcome"},
	)
)

var registerOnce sync.Once

// Init registers all collectors in the default registry. Safe to call more
// than once.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			authzDecisions, roleCacheLookups, otpEvents,
		)
	})
}

// Handler serves the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordDecision counts a gate decision. Errors are counted separately from
// denials so that infrastructure failures are visible.
func RecordDecision(gate string, allowed bool, err error) {
	outcome := "deny"
	switch {
	case err != nil:
		outcome = "error"
	case allowed:
		outcome = "allow"
	}
	authzDecisions.WithLabelValues(gate, outcome).Inc()
}

// RecordRoleCache counts a role cache hit or miss.
func RecordRoleCache(hit bool) {
	if hit {
		roleCacheLookups.WithLabelValues("hit").Inc()
		return
	}
	roleCacheLookups.WithLabelValues("miss").Inc()
}

// RecordOTP counts one OTP protocol step.
func RecordOTP(stage, outcome string) {
	otpEvents.WithLabelValues(stage, outcome).Inc()
}

// Instrument measures latency, throughput and in-flight requests.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := CanonicalPath(r.URL.Path)
		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		status := strconv.Itoa(sw.code)
		httpRequestDuration.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(r.Method, route, status).Inc()
	})
}

// CanonicalPath collapses identifier segments to ":id" so that label
// cardinality stays bounded.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	parts := strings.Split(path, "/")
	for i, part := range parts {
		if looksLikeID(part) {
			parts[i] = ":id"
		}
	}
	return strings.Join(parts, "/")
}

// looksLikeID matches ULIDs (26 chars, Crockford base32).
func looksLikeID(s string) bool {
	if len(s) != 26 {
		return false
	}
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z':
		default:
			return false
		}
	}
	return true
}

// statusWriter: локальная копия, чтобы знать код ответа.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
