package logging

import (
	"net/http"
	"time"
)

// responseWrapper wraps http.ResponseWriter to capture the status code for
// logging, identical in shape to the teacher's internal/logging/middleware.go.
type responseWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWrapper) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// CorrelationMiddleware assigns (or propagates) a correlation ID for every
// request and logs its completion with status-based severity.
func CorrelationMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		correlationID := r.Header.Get("X-Correlation-ID")
		if correlationID == "" {
			correlationID = NewCorrelationID()
		}
		ctx := WithCorrelationID(r.Context(), correlationID)
		r = r.WithContext(ctx)
		w.Header().Set("X-Correlation-ID", correlationID)

		start := time.Now()
		wrapper := &responseWrapper{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapper, r)
		duration := time.Since(start)

		level := INFO
		if wrapper.statusCode >= 500 {
			level = ERROR
		} else if wrapper.statusCode >= 400 {
			level = WARN
		}
		if l := Global(); l != nil {
			l.log(ctx, level, ComponentHTTP, "request", "request completed", map[string]interface{}{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status_code": wrapper.statusCode,
				"duration_ms": duration.Milliseconds(),
			}, nil)
		}
	})
}
