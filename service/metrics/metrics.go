package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the application.
// It is constructed once per process and passed to every component that
// records metrics; components treat a nil *Metrics as "metrics disabled".
type Metrics struct {
	// Provider metrics
	providerCallsTotal   *prometheus.CounterVec
	providerCallDuration *prometheus.HistogramVec
	providerRotations    *prometheus.CounterVec
	feeSamplesTotal      *prometheus.CounterVec

	// Wallet metrics
	walletRefreshTotal    *prometheus.CounterVec
	walletRefreshDuration *prometheus.HistogramVec
	transactionsSent      *prometheus.CounterVec
	pendingTransactions   *prometheus.GaugeVec

	// Workflow metrics
	refreshWorkflowDuration *prometheus.HistogramVec
	refreshWorkflowTotal    *prometheus.CounterVec

	// HTTP metrics
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsTotal    *prometheus.CounterVec
	sseActiveConnections *prometheus.GaugeVec
	sseEventsSent        *prometheus.CounterVec

	// NATS metrics
	natsMessagesPublished *prometheus.CounterVec
	natsPublishDuration   *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		providerCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "provider_calls_total",
				Help: "Total number of provider calls by blockchain, provider, operation and status",
			},
			[]string{"blockchain", "provider", "operation", "status"},
		),
		providerCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "provider_call_duration_seconds",
				Help:    "Duration of provider calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"blockchain", "provider", "operation"},
		),
		providerRotations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "provider_rotations_total",
				Help: "Total number of times the selected provider was advanced",
			},
			[]string{"blockchain", "operation", "reason"},
		),
		feeSamplesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fee_samples_total",
				Help: "Fee samples collected during fan-out, by outcome",
			},
			[]string{"blockchain", "provider", "status"},
		),

		walletRefreshTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wallet_refresh_total",
				Help: "Total number of wallet refresh cycles by resulting state",
			},
			[]string{"blockchain", "state"},
		),
		walletRefreshDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "wallet_refresh_duration_seconds",
				Help:    "Duration of wallet refresh cycles in seconds",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"blockchain"},
		),
		transactionsSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transactions_sent_total",
				Help: "Total number of transactions submitted to the network",
			},
			[]string{"blockchain", "status"},
		),
		pendingTransactions: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pending_transactions",
				Help: "Number of locally tracked pending transactions",
			},
			[]string{"blockchain"},
		),

		refreshWorkflowDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "refresh_workflow_duration_seconds",
				Help:    "Duration of refresh workflow execution in seconds",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"blockchain", "status"},
		),
		refreshWorkflowTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "refresh_workflow_executions_total",
				Help: "Total number of refresh workflow executions",
			},
			[]string{"blockchain", "status"},
		),

		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
			},
			[]string{"handler", "method", "status"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"handler", "method", "status"},
		),
		sseActiveConnections: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "sse_active_connections",
				Help: "Number of active SSE connections",
			},
			[]string{"blockchain"},
		),
		sseEventsSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sse_events_sent_total",
				Help: "Total number of SSE events sent",
			},
			[]string{"blockchain", "event_type"},
		),

		natsMessagesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nats_messages_published_total",
				Help: "Total number of NATS messages published",
			},
			[]string{"subject", "status"},
		),
		natsPublishDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nats_publish_duration_seconds",
				Help:    "Duration of NATS publish operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
			[]string{"subject"},
		),
	}
}

// Provider metric helpers

// RecordProviderCall records one call against one provider.
func (m *Metrics) RecordProviderCall(blockchain, provider, operation string, err error, duration float64) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.providerCallsTotal.WithLabelValues(blockchain, provider, operation, status).Inc()
	m.providerCallDuration.WithLabelValues(blockchain, provider, operation).Observe(duration)
}

// RecordProviderRotation records the selection pointer moving past a failed provider.
func (m *Metrics) RecordProviderRotation(blockchain, operation, reason string) {
	m.providerRotations.WithLabelValues(blockchain, operation, reason).Inc()
}

// RecordFeeSample records whether one provider's fee sample was usable.
func (m *Metrics) RecordFeeSample(blockchain, provider, status string) {
	m.feeSamplesTotal.WithLabelValues(blockchain, provider, status).Inc()
}

// Wallet metric helpers

// RecordWalletRefresh records a refresh cycle and the state it ended in.
func (m *Metrics) RecordWalletRefresh(blockchain, state string, duration float64) {
	m.walletRefreshTotal.WithLabelValues(blockchain, state).Inc()
	m.walletRefreshDuration.WithLabelValues(blockchain).Observe(duration)
}

// RecordTransactionSent records a broadcast attempt.
func (m *Metrics) RecordTransactionSent(blockchain string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.transactionsSent.WithLabelValues(blockchain, status).Inc()
}

// RecordPendingTransactions adjusts the pending transaction gauge.
func (m *Metrics) RecordPendingTransactions(blockchain string, delta float64) {
	m.pendingTransactions.WithLabelValues(blockchain).Add(delta)
}

// Workflow metric helpers

// RecordWorkflowDuration records workflow execution duration.
func (m *Metrics) RecordWorkflowDuration(blockchain, status string, duration float64) {
	m.refreshWorkflowDuration.WithLabelValues(blockchain, status).Observe(duration)
	m.refreshWorkflowTotal.WithLabelValues(blockchain, status).Inc()
}

// HTTP metric helpers

// RecordHTTPRequest records an HTTP request with duration.
func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, duration float64) {
	status := statusCodeToString(statusCode)
	m.httpRequestDuration.WithLabelValues(handler, method, status).Observe(duration)
	m.httpRequestsTotal.WithLabelValues(handler, method, status).Inc()
}

// RecordHTTPStream counts a long-lived streaming request without timing it.
func (m *Metrics) RecordHTTPStream(handler, method string, statusCode int) {
	m.httpRequestsTotal.WithLabelValues(handler, method, statusCodeToString(statusCode)).Inc()
}

// RecordSSEConnectionChange records a change in SSE connection count.
func (m *Metrics) RecordSSEConnectionChange(blockchain string, delta float64) {
	m.sseActiveConnections.WithLabelValues(blockchain).Add(delta)
}

// RecordSSEEventSent records an SSE event being sent.
func (m *Metrics) RecordSSEEventSent(blockchain, eventType string) {
	m.sseEventsSent.WithLabelValues(blockchain, eventType).Inc()
}

// NATS metric helpers

// RecordNATSPublish records a NATS publish operation.
func (m *Metrics) RecordNATSPublish(subject, status string, duration float64) {
	m.natsMessagesPublished.WithLabelValues(subject, status).Inc()
	m.natsPublishDuration.WithLabelValues(subject).Observe(duration)
}

func statusCodeToString(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return "unknown"
	}
}
