// Package metrics defines the Prometheus metrics exported on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"
)

// Metrics holds all Prometheus metrics for escrowbot. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	// --- Operations ---
	Operations        *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec

	// --- Ledger ---
	FundsMoved    *prometheus.CounterVec
	LedgerEntries *prometheus.CounterVec

	// --- Delivery ---
	Notifications *prometheus.CounterVec
	EventsDropped prometheus.Counter

	// --- HTTP ---
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	// --- Archive ---
	ArchivedRows *prometheus.CounterVec
}

// New creates all metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	opBuckets := []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1}

	return &Metrics{
		Operations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "escrow_operations_total",
			Help: "Escrow operations by name and outcome",
		}, []string{"op", "outcome"}),

		OperationDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "escrow_operation_duration_seconds",
			Help:    "Unit of work duration per operation",
			Buckets: opBuckets,
		}, []string{"op"}),

		FundsMoved: f.NewCounterVec(prometheus.CounterOpts{
			Name: "escrow_funds_moved_total",
			Help: "Absolute currency units moved per transaction kind",
		}, []string{"kind"}),

		LedgerEntries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "escrow_ledger_entries_total",
			Help: "Journal entries appended per transaction kind",
		}, []string{"kind"}),

		Notifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "escrow_notifications_total",
			Help: "Notification deliveries by audience and outcome",
		}, []string{"audience", "outcome"}),

		EventsDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "escrow_events_publish_failed_total",
			Help: "Post-commit events that could not be published on the signal bus",
		}),

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "escrow_http_requests_total",
			Help: "HTTP requests by method and status code",
		}, []string{"method", "code"}),

		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "escrow_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),

		ArchivedRows: f.NewCounterVec(prometheus.CounterOpts{
			Name: "escrow_archived_rows_total",
			Help: "Rows written to cold storage per kind",
		}, []string{"kind"}),
	}
}

// ObserveOp records the outcome and duration of one service operation.
func (m *Metrics) ObserveOp(op, outcome string, started time.Time) {
	if m == nil {
		return
	}
	m.Operations.WithLabelValues(op, outcome).Inc()
	m.OperationDuration.WithLabelValues(op).Observe(time.Since(started).Seconds())
}

// ObserveEntry records one journal entry.
func (m *Metrics) ObserveEntry(kind string, amount decimal.Decimal) {
	if m == nil {
		return
	}
	m.LedgerEntries.WithLabelValues(kind).Inc()
	m.FundsMoved.WithLabelValues(kind).Add(amount.Abs().InexactFloat64())
}

// ObserveNotification records one notification attempt.
func (m *Metrics) ObserveNotification(audience string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.Notifications.WithLabelValues(audience, outcome).Inc()
}

// ObservePublishFailure counts an event the signal bus rejected.
func (m *Metrics) ObservePublishFailure() {
	if m == nil {
		return
	}
	m.EventsDropped.Inc()
}

// ObserveArchive counts rows written to cold storage.
func (m *Metrics) ObserveArchive(kind string, n int64) {
	if m == nil {
		return
	}
	m.ArchivedRows.WithLabelValues(kind).Add(float64(n))
}
