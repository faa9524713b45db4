package profiling

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestProfiledHandlerAddsMetricsHeaders(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})

	m := NewMiddleware(true)
	rec := httptest.NewRecorder()
	m.ProfiledHandler("decompose", handler).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/decompose", nil))

	h := rec.Header()
	require.Equal(t, "true", h.Get("X-Profiling-Enabled"))
	require.Equal(t, "decompose", h.Get("X-Handler-Name"))
	require.NotEmpty(t, h.Get("X-Start-Time"))
	require.NotEmpty(t, h.Get("X-Duration-Ms"))
	require.NotEmpty(t, h.Get("X-Goroutines"))
	require.Equal(t, "202", h.Get("X-Status-Code"))
}

func TestProfiledHandlerDisabledPassesThrough(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

	m := NewMiddleware(false)
	rec := httptest.NewRecorder()
	m.ProfiledHandler("decompose", handler).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Empty(t, rec.Header().Get("X-Profiling-Enabled"))
	require.Empty(t, rec.Header().Get("X-Duration-Ms"))
}

func TestRequestProfilerMeasuresWork(t *testing.T) {
	p := NewRequestProfiler("job-1")
	buf := make([]byte, 1<<16)
	for i := range buf {
		buf[i] = byte(i)
	}
	time.Sleep(time.Millisecond)

	metrics := p.Finish()
	require.Equal(t, "job-1", metrics.Name)
	require.Greater(t, metrics.Duration, time.Duration(0))
	require.Greater(t, metrics.Goroutines, 0)
	_ = buf
}
