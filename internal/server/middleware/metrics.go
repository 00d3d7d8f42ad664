package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/keygate/keygate/internal/observability"
	"go.uber.org/zap"
)

// HTTP metric names
const (
	HTTPRequestsTotal     = "http_requests_total"
	HTTPRequestDuration   = "http_request_duration_ms"
	HTTPRequestSizeBytes  = "http_request_size_bytes"
	HTTPResponseSizeBytes = "http_response_size_bytes"
	HTTPErrorsTotal       = "http_errors_total"
)

// responseWriter captures status and size. It passes Flush through so
// streamed upstream bodies reach the client as they arrive.
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int64
	wroteHeader  bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.statusCode = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += int64(n)
	return n, err
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// EndpointPattern returns a low-cardinality label for r: the chi route
// pattern when routing has happened, otherwise a fixed bucket by path.
func EndpointPattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}

	path := r.URL.Path
	switch {
	case path == "/health" || strings.HasPrefix(path, "/health/"):
		return "/health/*"
	case path == "/proxy" || strings.HasPrefix(path, "/proxy/"):
		return "/proxy/*"
	case path == "/version", path == "/metrics", path == "/pool", path == "/":
		return path
	default:
		return "/unknown"
	}
}

// RequestMetrics emits per-request HTTP metrics and logs request completion.
func RequestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if observability.TelemetrySystem == nil {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		requestSize := r.ContentLength
		if requestSize < 0 {
			requestSize = 0
		}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)
		endpoint := EndpointPattern(r)
		status := strconv.Itoa(wrapped.statusCode)

		labels := map[string]string{
			"method":   r.Method,
			"endpoint": endpoint,
			"status":   status,
		}
		sizeLabels := map[string]string{
			"method":   r.Method,
			"endpoint": endpoint,
		}

		_ = observability.TelemetrySystem.Counter(HTTPRequestsTotal, 1, labels)
		_ = observability.TelemetrySystem.Histogram(HTTPRequestDuration, duration, labels)
		_ = observability.TelemetrySystem.Gauge(HTTPRequestSizeBytes, float64(requestSize), sizeLabels)
		_ = observability.TelemetrySystem.Gauge(HTTPResponseSizeBytes, float64(wrapped.bytesWritten), sizeLabels)

		if wrapped.statusCode >= 400 {
			errorType := "client_error"
			if wrapped.statusCode >= 500 {
				errorType = "server_error"
			}
			_ = observability.TelemetrySystem.Counter(HTTPErrorsTotal, 1, map[string]string{
				"method":     r.Method,
				"endpoint":   endpoint,
				"status":     status,
				"error_type": errorType,
			})
		}

		// Request IDs go to logs only, never metric labels.
		if observability.ServerLogger != nil {
			observability.ServerLogger.Info("HTTP request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("endpoint", endpoint),
				zap.Int("status", wrapped.statusCode),
				zap.Duration("duration", duration),
				zap.Int64("request_size", requestSize),
				zap.Int64("response_size", wrapped.bytesWritten),
				zap.String("requestID", GetRequestID(r.Context())),
			)
		}
	})
}
