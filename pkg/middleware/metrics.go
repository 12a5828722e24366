package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/faqdesk/pkg/metrics"
)

// routeOther labels every path the API does not serve.
const routeOther = "other"

var knownRoutes = map[string]bool{
	"/ask":                      true,
	"/ask_by_ticket":            true,
	"/data":                     true,
	"/ticket":                   true,
	"/api/v1/cache/stats":       true,
	"/api/v1/cache/invalidate":  true,
	"/api/v1/analytics":         true,
	"/api/v1/analytics/history": true,
	"/health/live":              true,
	"/health/ready":             true,
}

// Metrics records request count, latency and the in-flight gauge, labelled
// by method, route template and status.
func Metrics(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			m.HTTPRequestsInFlight.Inc()
			defer m.HTTPRequestsInFlight.Dec()

			rec := &statusRecorder{ResponseWriter: w}
			next.ServeHTTP(rec, r)

			route := routeLabel(r.URL.Path)
			m.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rec.Status())).Inc()
			m.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// statusRecorder remembers the first status written. A handler that only
// calls Write implicitly answers 200.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(code int) {
	if rec.status == 0 {
		rec.status = code
	}
	rec.ResponseWriter.WriteHeader(code)
}

func (rec *statusRecorder) Write(b []byte) (int, error) {
	if rec.status == 0 {
		rec.status = http.StatusOK
	}
	return rec.ResponseWriter.Write(b)
}

func (rec *statusRecorder) Status() int {
	if rec.status == 0 {
		return http.StatusOK
	}
	return rec.status
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (rec *statusRecorder) Unwrap() http.ResponseWriter {
	return rec.ResponseWriter
}

// routeLabel maps a request path onto its route template.
func routeLabel(path string) string {
	if rest, ok := strings.CutPrefix(path, "/ticket/"); ok && rest != "" {
		number, tail, _ := strings.Cut(rest, "/")
		switch {
		case number == "":
			return routeOther
		case tail == "":
			return "/ticket/{ticket_number}"
		case tail == "response":
			return "/ticket/{ticket_number}/response"
		}
		return routeOther
	}
	if knownRoutes[path] {
		return path
	}
	return routeOther
}
