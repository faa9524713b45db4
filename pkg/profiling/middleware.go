package profiling

import (
	"net/http"
	"strconv"
	"time"
)

// Middleware instruments the decomposition endpoints with per-request
// profiling headers.
type Middleware struct {
	enableProfiling bool
}

// NewMiddleware creates a new profiling middleware.
func NewMiddleware(enableProfiling bool) *Middleware {
	return &Middleware{
		enableProfiling: enableProfiling,
	}
}

// ProfiledHandler wraps a handler so every response reports how long the
// decomposition request took and what it cost. A disabled middleware passes
// requests through untouched.
func (m *Middleware) ProfiledHandler(name string, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.enableProfiling {
			handler.ServeHTTP(w, r)
			return
		}

		profiler := NewRequestProfiler(name)
		w.Header().Set("X-Profiling-Enabled", "true")
		w.Header().Set("X-Handler-Name", name)
		w.Header().Set("X-Start-Time", profiler.StartTime.Format(time.RFC3339Nano))

		wrapped := &responseWriter{
			ResponseWriter: w,
			statusCode:     200,
		}
		handler.ServeHTTP(wrapped, r)

		metrics := profiler.Finish()
		wrapped.Header().Set("X-Duration-Ms", strconv.FormatFloat(float64(metrics.Duration.Nanoseconds())/1000000.0, 'f', 3, 64))
		wrapped.Header().Set("X-Memory-Delta-Bytes", strconv.FormatUint(metrics.MemoryAllocated, 10))
		wrapped.Header().Set("X-Goroutines", strconv.Itoa(metrics.Goroutines))
		wrapped.Header().Set("X-Status-Code", strconv.Itoa(wrapped.statusCode))
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	return rw.ResponseWriter.Write(b)
}
