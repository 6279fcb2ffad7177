package metrics

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecorders(t *testing.T) {
	m := New()
	m.RecordOracleCall(false, time.Second)
	m.RecordOracleCall(true, 2*time.Second)
	m.RecordGroup("complete")
	m.RecordMerge()
	m.AttachmentStarted()
	m.AttachmentFinished("success")
	m.RecordGatewayFailure("storage")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.OracleCallsTotal.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OracleCallsTotal.WithLabelValues("fallback")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.WindowsEvaluated))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.GroupsEmittedTotal.WithLabelValues("complete")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MergesTotal))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.AttachmentsInFlight))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AttachmentsTotal.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.GatewayFailures.WithLabelValues("storage")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordOracleCall(true, time.Millisecond)
		m.RecordGroup("forced")
		m.RecordMerge()
		m.AttachmentStarted()
		m.AttachmentFinished("failed")
		m.RecordGatewayFailure("records")
	})
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.RecordMerge()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "invoice_split_merges_total 1")
}
