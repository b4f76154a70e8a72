package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestHTTPMetricsMiddleware(t *testing.T) {
	// Setup
	m := NewMetrics(prometheus.NewRegistry())
	ok := HTTPMetricsMiddleware(m, "GET /api/v1/wallets")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	missing := HTTPMetricsMiddleware(m, "GET /api/v1/wallets/{blockchain}/{address}")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	}))

	// Act
	ok.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/wallets", nil))
	ok.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/wallets", nil))
	missing.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/wallets/xrp/r1", nil))

	// Assert
	assert.Equal(t, 2.0, testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues("GET /api/v1/wallets", "GET", "2xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues("GET /api/v1/wallets/{blockchain}/{address}", "GET", "4xx")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.httpRequestDuration))
}

func TestHTTPMetricsMiddleware_StreamNotTimed(t *testing.T) {
	// Setup
	m := NewMetrics(prometheus.NewRegistry())
	h := HTTPMetricsMiddleware(m, "GET /api/v1/stream")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		_, isFlusher := w.(http.Flusher)
		assert.True(t, isFlusher)
	}))

	// Act
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/stream", nil))

	// Assert
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues("GET /api/v1/stream", "GET", "2xx")))
	assert.Equal(t, 0, testutil.CollectAndCount(m.httpRequestDuration))
}

func TestHTTPMetricsMiddleware_NilMetrics(t *testing.T) {
	called := false
	h := HTTPMetricsMiddleware(nil, "GET /health")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.True(t, called)
}
