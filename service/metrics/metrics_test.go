package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.RecordRPCCall("eth_getLogs", "error", 0.1)
		m.RecordRPCRetry("eth_getLogs", "transport_error")
		m.RecordBlockScanned(3)
		m.RecordBlockSkipped()
		m.SetCursor(10)
		m.SetChainHeight(12)
		m.RecordLogSkipped("decode_error")
		m.RecordRoundDuration(1)
		m.RecordTransferWritten()
		m.RecordTransferSkipped("already_exists")
		m.RecordAggregateUpdate("in")
		m.RecordAggregateFailure()
		m.RecordDBQuery("insert", "raw_transfers", 0.01, errors.New("boom"))
		m.RecordHTTPRequest("/health", "GET", 200, 0.01)
		m.RecordNATSPublish("transfers.x", "success", 0.01)
	})
}

func TestIngestionCounters(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordBlockScanned(2)
	m.RecordBlockScanned(0)
	m.RecordBlockSkipped()
	m.SetCursor(104)
	m.RecordTransferSkipped("already_exists")
	m.RecordTransferSkipped("already_exists")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.blocksScannedTotal))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.logsFetchedTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.blocksSkippedTotal))
	assert.Equal(t, 104.0, testutil.ToFloat64(m.ingestCursor))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.transfersSkipped.WithLabelValues("already_exists")))
}

func TestHTTPMetricsMiddleware(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	handler := HTTPMetricsMiddleware(m, "/api/v1/netflow")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/netflow", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues("/api/v1/netflow", "GET", "4xx")))
}

func TestHTTPMetricsMiddleware_NilMetrics(t *testing.T) {
	handler := HTTPMetricsMiddleware(nil, "/health")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	assert.NotPanics(t, func() {
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	})
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestStatusCodeToString(t *testing.T) {
	assert.Equal(t, "2xx", statusCodeToString(204))
	assert.Equal(t, "3xx", statusCodeToString(301))
	assert.Equal(t, "4xx", statusCodeToString(404))
	assert.Equal(t, "5xx", statusCodeToString(503))
	assert.Equal(t, "unknown", statusCodeToString(99))
}
