package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alertdesk_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "alertdesk_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint", "status"},
	)

	// Alert lifecycle metrics
	AlertsCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alertdesk_alerts_created_total",
			Help: "Total number of alerts created",
		},
		[]string{"source_type", "severity"},
	)

	AlertsEscalatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alertdesk_alerts_escalated_total",
			Help: "Total number of alerts escalated by rule evaluation",
		},
		[]string{"source_type", "rule_id"},
	)

	AlertsResolvedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "alertdesk_alerts_resolved_total",
			Help: "Total number of alerts manually resolved",
		},
	)

	// Sweep metrics
	SweepRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alertdesk_sweep_runs_total",
			Help: "Total number of auto-close sweep runs",
		},
		[]string{"status"}, // status: completed, skipped, failed
	)

	SweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "alertdesk_sweep_duration_seconds",
			Help:    "Time taken by one auto-close sweep pass",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
	)

	SweepAlertsClosed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "alertdesk_sweep_alerts_closed_total",
			Help: "Total number of alerts closed by sweeps",
		},
	)

	SweepAlertErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "alertdesk_sweep_alert_errors_total",
			Help: "Total number of per-alert failures during sweeps",
		},
	)

	// Ingest metrics
	IngestReportsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alertdesk_ingest_reports_total",
			Help: "Total number of alert reports received over NATS",
		},
		[]string{"status"}, // status: accepted, rejected, failed
	)
)
