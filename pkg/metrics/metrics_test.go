package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.CacheLookup("ranges", true)
	m.CacheLookup("ranges", false)
	m.CacheLookup("ranges", false)
	m.CacheFill("pools")
	m.RangeFallback()
	m.BalanceChecked("insufficient")
	m.OperationFinished("create", "Confirmed", 2*time.Second)
	m.TransactionFinished(true)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheLookups.WithLabelValues("ranges", "hit")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CacheLookups.WithLabelValues("ranges", "miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheFills.WithLabelValues("pools")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RangeFallbacks))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BalanceChecks.WithLabelValues("insufficient")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Operations.WithLabelValues("create", "Confirmed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TransactionsOut.WithLabelValues("confirmed")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.CacheLookup("pools", true)
		m.CacheFill("pools")
		m.RangeResolved("moderate", "ok")
		m.RangeFallback()
		m.BalanceChecked("valid")
		m.OperationFinished("close", "Failed", time.Second)
		m.TransactionFinished(false)
	})
}

func TestHandlerServesRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.RangeResolved("aggressive", "ok")

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "dlmmpilot_ranges_resolved_total"))
}
