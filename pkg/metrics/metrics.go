// Package metrics provides Prometheus metrics for the invoice splitter
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. A nil *Metrics records nothing, so
// components can be built without one in tests.
type Metrics struct {
	registry *prometheus.Registry

	OracleCallsTotal    *prometheus.CounterVec
	OracleCallDuration  prometheus.Histogram
	WindowsEvaluated    prometheus.Counter
	GroupsEmittedTotal  *prometheus.CounterVec
	MergesTotal         prometheus.Counter
	AttachmentsTotal    *prometheus.CounterVec
	AttachmentsInFlight prometheus.Gauge
	GatewayFailures     *prometheus.CounterVec
}

// New creates all metrics on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := &Metrics{registry: reg}

	m.OracleCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invoice_split_oracle_calls_total",
			Help: "Classifier calls by outcome (ok, fallback)",
		},
		[]string{"outcome"},
	)
	m.OracleCallDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "invoice_split_oracle_call_duration_seconds",
			Help:    "Latency of classifier calls in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		},
	)
	m.WindowsEvaluated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "invoice_split_windows_evaluated_total",
			Help: "Candidate windows evaluated by the segmentation engine",
		},
	)
	m.GroupsEmittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invoice_split_groups_emitted_total",
			Help: "Invoice groups emitted by how the window was accepted",
		},
		[]string{"reason"},
	)
	m.MergesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "invoice_split_merges_total",
			Help: "Groups merged into an earlier group with the same invoice number",
		},
	)
	m.AttachmentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invoice_split_attachments_total",
			Help: "Attachments processed by terminal status",
		},
		[]string{"status"},
	)
	m.AttachmentsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "invoice_split_attachments_in_flight",
			Help: "Attachments currently being processed",
		},
	)
	m.GatewayFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invoice_split_gateway_failures_total",
			Help: "Non-fatal gateway failures by gateway",
		},
		[]string{"gateway"},
	)

	reg.MustRegister(
		m.OracleCallsTotal,
		m.OracleCallDuration,
		m.WindowsEvaluated,
		m.GroupsEmittedTotal,
		m.MergesTotal,
		m.AttachmentsTotal,
		m.AttachmentsInFlight,
		m.GatewayFailures,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordOracleCall records one classifier call.
func (m *Metrics) RecordOracleCall(fallback bool, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if fallback {
		outcome = "fallback"
	}
	m.OracleCallsTotal.WithLabelValues(outcome).Inc()
	m.OracleCallDuration.Observe(d.Seconds())
	m.WindowsEvaluated.Inc()
}

// RecordGroup records an emitted group and why its window was accepted.
func (m *Metrics) RecordGroup(reason string) {
	if m == nil {
		return
	}
	m.GroupsEmittedTotal.WithLabelValues(reason).Inc()
}

// RecordMerge records one consolidation merge.
func (m *Metrics) RecordMerge() {
	if m == nil {
		return
	}
	m.MergesTotal.Inc()
}

// AttachmentStarted marks an attachment run as in flight.
func (m *Metrics) AttachmentStarted() {
	if m == nil {
		return
	}
	m.AttachmentsInFlight.Inc()
}

// AttachmentFinished records the terminal status of a run.
func (m *Metrics) AttachmentFinished(status string) {
	if m == nil {
		return
	}
	m.AttachmentsInFlight.Dec()
	m.AttachmentsTotal.WithLabelValues(status).Inc()
}

// RecordGatewayFailure records a non-fatal gateway failure.
func (m *Metrics) RecordGatewayFailure(gateway string) {
	if m == nil {
		return
	}
	m.GatewayFailures.WithLabelValues(gateway).Inc()
}
