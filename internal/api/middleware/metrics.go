package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ezifydevelopers/trainingportal-chat/internal/metrics"
)

// statusWriter wraps http.ResponseWriter to capture status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

// Metrics returns middleware that records Prometheus metrics.
func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Wrap response writer to capture status
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start).Seconds()
		path := normalizePath(r.URL.Path)

		metrics.HTTPRequestsTotal.WithLabelValues(
			r.Method, path, strconv.Itoa(wrapped.status),
		).Inc()

		metrics.HTTPRequestDuration.WithLabelValues(
			r.Method, path,
		).Observe(duration)
	})
}

// normalizePath collapses id segments to avoid high cardinality in metrics.
func normalizePath(path string) string {
	if path == "/chat/messages/delete-multiple" {
		return path
	}
	patterns := []struct{ prefix, suffix, normalized string }{
		{"/chat/rooms/", "/messages", "/chat/rooms/:id/messages"},
		{"/chat/rooms/", "/read", "/chat/rooms/:id/read"},
		{"/chat/rooms/", "", "/chat/rooms/:id"},
		{"/chat/messages/", "", "/chat/messages/:id"},
		{"/chat/direct/", "", "/chat/direct/:id"},
	}
	for _, p := range patterns {
		if strings.HasPrefix(path, p.prefix) && len(path) > len(p.prefix) {
			if p.suffix == "" || strings.HasSuffix(path, p.suffix) {
				return p.normalized
			}
		}
	}
	return path
}
