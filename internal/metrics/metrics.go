// Package metrics holds the prometheus collectors of the purchase orchestrator.
// All methods are safe on a nil *Metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "purchases"

type Metrics struct {
	purchases          *prometheus.CounterVec
	restores           *prometheus.CounterVec
	transactions       *prometheus.CounterVec
	duplicates         prometheus.Counter
	verifications      *prometheus.CounterVec
	verifyDuration     prometheus.Histogram
	pendingPurchases   prometheus.Gauge
	acknowledgeFailure prometheus.Counter
}

// New registers the collectors with reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		purchases: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "purchase_completions_total",
			Help:      "Purchase completions by outcome.",
		}, []string{"outcome"}),
		restores: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "restore_completions_total",
			Help:      "Restore completions by outcome.",
		}, []string{"outcome"}),
		transactions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transactions_observed_total",
			Help:      "Transactions delivered by the billing queue, by state.",
		}, []string{"state"}),
		duplicates: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transactions_redelivered_total",
			Help:      "Terminal transactions delivered again after they were already handled.",
		}),
		verifications: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verifications_total",
			Help:      "Receipt verifications by trigger and result.",
		}, []string{"trigger", "result"}),
		verifyDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "verification_duration_seconds",
			Help:      "Duration of receipt verification calls.",
			Buckets:   prometheus.DefBuckets,
		}),
		pendingPurchases: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_purchases",
			Help:      "Purchases waiting for a transaction update.",
		}),
		acknowledgeFailure: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "acknowledge_failures_total",
			Help:      "Failed acknowledge or finish calls.",
		}),
	}
}

func (m *Metrics) PurchaseCompleted(outcome string) {
	if m == nil {
		return
	}
	m.purchases.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RestoreCompleted(outcome string) {
	if m == nil {
		return
	}
	m.restores.WithLabelValues(outcome).Inc()
}

func (m *Metrics) TransactionObserved(state string) {
	if m == nil {
		return
	}
	m.transactions.WithLabelValues(state).Inc()
}

func (m *Metrics) TransactionRedelivered() {
	if m == nil {
		return
	}
	m.duplicates.Inc()
}

func (m *Metrics) Verified(trigger string, err error, d time.Duration) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	m.verifications.WithLabelValues(trigger, result).Inc()
	m.verifyDuration.Observe(d.Seconds())
}

func (m *Metrics) PendingPurchases(n int) {
	if m == nil {
		return
	}
	m.pendingPurchases.Set(float64(n))
}

func (m *Metrics) AcknowledgeFailed() {
	if m == nil {
		return
	}
	m.acknowledgeFailure.Inc()
}
