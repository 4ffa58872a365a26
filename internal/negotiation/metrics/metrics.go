// Package metrics holds the negotiation feature's Prometheus metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks negotiation lifecycle activity: creations, per-rate
// decisions, bulk/batch outcomes, expiry sweeps, and the per-negotiation
// critical section.
type Metrics struct {
	NegotiationsCreated prometheus.Counter
	Decisions           *prometheus.CounterVec
	BulkRows            *prometheus.CounterVec
	BatchCommits        prometheus.Counter
	Expired             prometheus.Counter
	DecideDuration      prometheus.Histogram
	LockTimeouts        prometheus.Counter
}

// New creates and registers the negotiation metrics with the default registry.
func New() *Metrics {
	return &Metrics{
		NegotiationsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ratedesk_negotiations_created_total",
			Help: "Total negotiations requested.",
		}),
		Decisions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ratedesk_rate_decisions_total",
			Help: "Accepted per-rate actions by action and delivery mode.",
		}, []string{"action", "mode"}),
		BulkRows: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ratedesk_bulk_rows_total",
			Help: "Bulk action and batch commit rows by outcome.",
		}, []string{"outcome"}),
		BatchCommits: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ratedesk_batch_commits_total",
			Help: "Staged decision batches committed.",
		}),
		Expired: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ratedesk_negotiations_expired_total",
			Help: "Negotiations moved to EXPIRED by the deadline sweep.",
		}),
		DecideDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "ratedesk_decision_duration_seconds",
			Help:    "Duration of a single-rate decision including the critical section.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		LockTimeouts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ratedesk_negotiation_lock_timeouts_total",
			Help: "Operations that could not acquire the per-negotiation lock in time.",
		}),
	}
}

// IncrementCreated records a new negotiation.
func (m *Metrics) IncrementCreated() {
	if m != nil {
		m.NegotiationsCreated.Inc()
	}
}

// ObserveDecision records one accepted per-rate action.
// mode is "real_time" or "staged".
func (m *Metrics) ObserveDecision(action, mode string) {
	if m != nil {
		m.Decisions.WithLabelValues(action, mode).Inc()
	}
}

// ObserveBulkRow records one bulk or batch-commit result row.
func (m *Metrics) ObserveBulkRow(outcome string) {
	if m != nil {
		m.BulkRows.WithLabelValues(outcome).Inc()
	}
}

// IncrementBatchCommits records a committed batch.
func (m *Metrics) IncrementBatchCommits() {
	if m != nil {
		m.BatchCommits.Inc()
	}
}

// IncrementExpired records one negotiation expired by the sweep.
func (m *Metrics) IncrementExpired() {
	if m != nil {
		m.Expired.Inc()
	}
}

// ObserveDecide records the duration of a single-rate decision.
func (m *Metrics) ObserveDecide(start time.Time) {
	if m != nil {
		m.DecideDuration.Observe(time.Since(start).Seconds())
	}
}

// IncrementLockTimeouts records a lost race for the negotiation lock.
func (m *Metrics) IncrementLockTimeouts() {
	if m != nil {
		m.LockTimeouts.Inc()
	}
}
