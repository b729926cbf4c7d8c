package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

// HTTP API Prometheus metrics. Labels use the chi route pattern, never the raw path.
var (
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "listsync",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			// Reindex requests run for minutes.
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120, 600},
		},
		[]string{"method", "route", "code"},
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "listsync",
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and response class",
		},
		[]string{"method", "route", "class"}, // class: "2xx" / "4xx" / "5xx"
	)

	HTTPInFlight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "listsync",
			Name:      "http_requests_in_flight",
			Help:      "Requests being served; a stuck admin reindex shows here",
		},
		[]string{"route"},
	)

	HTTPRequestBytes = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "listsync",
			Name:      "http_request_body_bytes",
			Help:      "Declared request body size of accepted requests",
			Buckets:   prometheus.ExponentialBuckets(256, 4, 7),
		},
	)
)

var httpMetricsRegistered bool

// RegisterHTTPMetrics registers the HTTP API metrics. Must be called once from main.
func RegisterHTTPMetrics() {
	if httpMetricsRegistered {
		return
	}
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPInFlight)
	prometheus.MustRegister(HTTPRequestBytes)
	httpMetricsRegistered = true
}

// Middleware records HTTP metrics. Requests to skip paths (scrapes, probes) are not recorded.
// The route is only known after chi has matched it, so in-flight requests are tracked by path prefix.
func Middleware(skip ...string) func(next http.Handler) http.Handler {
	skipped := make(map[string]bool, len(skip))
	for _, p := range skip {
		skipped[p] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skipped[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}
			start := time.Now()
			group := routeGroup(r.URL.Path)
			HTTPInFlight.WithLabelValues(group).Inc()
			defer HTTPInFlight.WithLabelValues(group).Dec()

			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			route := "unknown"
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}

			HTTPRequestDuration.WithLabelValues(r.Method, route, strconv.Itoa(status)).Observe(time.Since(start).Seconds())
			HTTPRequestsTotal.WithLabelValues(r.Method, route, statusClass(status)).Inc()
			if status < http.StatusBadRequest && r.ContentLength > 0 {
				HTTPRequestBytes.Observe(float64(r.ContentLength))
			}
		})
	}
}

func statusClass(status int) string {
	return strconv.Itoa(status/100) + "xx"
}

func routeGroup(path string) string {
	switch {
	case path == "/events":
		return "events"
	case len(path) >= len("/admin") && path[:len("/admin")] == "/admin":
		return "admin"
	}
	return "other"
}
