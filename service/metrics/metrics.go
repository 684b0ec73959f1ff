package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the application.
// Following the explicit dependency injection pattern, this struct
// is passed to all components that need to record metrics.
// All Record methods are safe to call on a nil *Metrics.
type Metrics struct {
	// Chain RPC Metrics
	chainRPCCallsTotal   *prometheus.CounterVec
	chainRPCCallDuration *prometheus.HistogramVec
	chainRPCRetries      *prometheus.CounterVec

	// Ingestion Metrics
	blocksScannedTotal prometheus.Counter
	blocksSkippedTotal prometheus.Counter
	ingestCursor       prometheus.Gauge
	chainHeight        prometheus.Gauge
	logsFetchedTotal   prometheus.Counter
	logsSkippedTotal   *prometheus.CounterVec
	roundDuration      prometheus.Histogram
	transfersWritten   prometheus.Counter
	transfersSkipped   *prometheus.CounterVec
	aggregateUpdates   *prometheus.CounterVec
	aggregateFailures  prometheus.Counter

	// Database Metrics
	dbQueryDuration   *prometheus.HistogramVec
	dbOperationsTotal *prometheus.CounterVec

	// HTTP Metrics
	httpRequestDuration *prometheus.HistogramVec
	httpRequestsTotal   *prometheus.CounterVec

	// NATS Metrics
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
		// Chain RPC Metrics
		chainRPCCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chain_rpc_calls_total",
				Help: "Total number of chain RPC calls by method and status",
			},
			[]string{"method", "status"},
		),
		chainRPCCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chain_rpc_call_duration_seconds",
				Help:    "Duration of chain RPC calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"method"},
		),
		chainRPCRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chain_rpc_retries_total",
				Help: "Total number of chain RPC retry attempts",
			},
			[]string{"method", "reason"},
		),

		// Ingestion Metrics
		blocksScannedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "blocks_scanned_total",
				Help: "Total number of blocks scanned for transfer logs",
			},
		),
		blocksSkippedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "blocks_skipped_total",
				Help: "Total number of blocks abandoned after exhausting log fetch retries",
			},
		),
		ingestCursor: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "ingest_cursor_block",
				Help: "Next block number the ingester will scan",
			},
		),
		chainHeight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "chain_height_block",
				Help: "Most recently observed chain height",
			},
		),
		logsFetchedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "logs_fetched_total",
				Help: "Total number of transfer logs fetched from the chain",
			},
		),
		logsSkippedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "logs_skipped_total",
				Help: "Total number of logs skipped before persistence",
			},
			[]string{"reason"},
		),
		roundDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ingest_round_duration_seconds",
				Help:    "Duration of one polling round in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300},
			},
		),
		transfersWritten: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "transfers_written_total",
				Help: "Total number of raw transfers written to the ledger",
			},
		),
		transfersSkipped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transfers_skipped_total",
				Help: "Total number of decoded transfers not written to the ledger",
			},
			[]string{"reason"},
		),
		aggregateUpdates: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aggregate_updates_total",
				Help: "Total number of net flow aggregate updates by direction",
			},
			[]string{"direction"},
		),
		aggregateFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "aggregate_update_failures_total",
				Help: "Total number of failed net flow aggregate updates",
			},
		),

		// Database Metrics
		dbQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "db_query_duration_seconds",
				Help:    "Duration of database queries in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
			[]string{"operation", "table"},
		),
		dbOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "db_operations_total",
				Help: "Total number of database operations",
			},
			[]string{"operation", "status"},
		),

		// HTTP Metrics
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

		// NATS Metrics
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

// Chain RPC metric helpers

// RecordRPCCall records a chain RPC call with duration.
func (m *Metrics) RecordRPCCall(method, status string, duration float64) {
	if m == nil {
		return
	}
	m.chainRPCCallsTotal.WithLabelValues(method, status).Inc()
	m.chainRPCCallDuration.WithLabelValues(method).Observe(duration)
}

// RecordRPCRetry records a retry attempt.
func (m *Metrics) RecordRPCRetry(method, reason string) {
	if m == nil {
		return
	}
	m.chainRPCRetries.WithLabelValues(method, reason).Inc()
}

// Ingestion metric helpers

// RecordBlockScanned records one block scanned and the number of logs it yielded.
func (m *Metrics) RecordBlockScanned(logs int) {
	if m == nil {
		return
	}
	m.blocksScannedTotal.Inc()
	m.logsFetchedTotal.Add(float64(logs))
}

// RecordBlockSkipped records a block abandoned by the retry policy.
func (m *Metrics) RecordBlockSkipped() {
	if m == nil {
		return
	}
	m.blocksSkippedTotal.Inc()
}

// SetCursor records the next block to scan.
func (m *Metrics) SetCursor(block uint64) {
	if m == nil {
		return
	}
	m.ingestCursor.Set(float64(block))
}

// SetChainHeight records the latest observed chain height.
func (m *Metrics) SetChainHeight(block uint64) {
	if m == nil {
		return
	}
	m.chainHeight.Set(float64(block))
}

// RecordLogSkipped records a log dropped before persistence.
func (m *Metrics) RecordLogSkipped(reason string) {
	if m == nil {
		return
	}
	m.logsSkippedTotal.WithLabelValues(reason).Inc()
}

// RecordRoundDuration records the duration of one polling round.
func (m *Metrics) RecordRoundDuration(duration float64) {
	if m == nil {
		return
	}
	m.roundDuration.Observe(duration)
}

// RecordTransferWritten records a raw transfer written to the ledger.
func (m *Metrics) RecordTransferWritten() {
	if m == nil {
		return
	}
	m.transfersWritten.Inc()
}

// RecordTransferSkipped records a transfer that was not written.
func (m *Metrics) RecordTransferSkipped(reason string) {
	if m == nil {
		return
	}
	m.transfersSkipped.WithLabelValues(reason).Inc()
}

// RecordAggregateUpdate records an aggregate update. direction is "in", "out" or "both".
func (m *Metrics) RecordAggregateUpdate(direction string) {
	if m == nil {
		return
	}
	m.aggregateUpdates.WithLabelValues(direction).Inc()
}

// RecordAggregateFailure records a failed aggregate update.
func (m *Metrics) RecordAggregateFailure() {
	if m == nil {
		return
	}
	m.aggregateFailures.Inc()
}

// Database metric helpers

// RecordDBQuery records a database query with duration.
func (m *Metrics) RecordDBQuery(operation, table string, duration float64, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.dbQueryDuration.WithLabelValues(operation, table).Observe(duration)
	m.dbOperationsTotal.WithLabelValues(operation, status).Inc()
}

// HTTP metric helpers

// RecordHTTPRequest records an HTTP request with duration.
func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, duration float64) {
	if m == nil {
		return
	}
	status := statusCodeToString(statusCode)
	m.httpRequestDuration.WithLabelValues(handler, method, status).Observe(duration)
	m.httpRequestsTotal.WithLabelValues(handler, method, status).Inc()
}

// NATS metric helpers

// RecordNATSPublish records a NATS publish operation.
func (m *Metrics) RecordNATSPublish(subject, status string, duration float64) {
	if m == nil {
		return
	}
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
