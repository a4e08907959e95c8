// Package metrics exposes Prometheus instruments for AI analysis billing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "qbank"

// otherModel labels generation metrics when no labeler is configured.
const otherModel = "other"

// ModelLabeler maps a requested model id onto a bounded set of label values.
type ModelLabeler func(modelID string) string

// Metrics is safe to use through a nil pointer; every method becomes a no-op.
type Metrics struct {
	analysisRequests   *prometheus.CounterVec
	analysisFailures   *prometheus.CounterVec
	walletDeductions   *prometheus.CounterVec
	walletCredits      prometheus.Counter
	generationDuration *prometheus.HistogramVec
	generationErrors   *prometheus.CounterVec
	settlementRaces    prometheus.Counter
	modelLabel         ModelLabeler
}

// New registers the instruments on reg. Model ids come from request bodies,
// so generation metrics are labelled through modelLabel; a nil labeler folds
// every model into "other".
func New(reg prometheus.Registerer, modelLabel ModelLabeler) *Metrics {
	m := &Metrics{
		modelLabel: modelLabel,
		analysisRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analysis_requests_total",
			Help:      "AI analysis requests served, by result source.",
		}, []string{"source"}),
		analysisFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analysis_failures_total",
			Help:      "AI analysis requests that failed, by error type.",
		}, []string{"type"}),
		walletDeductions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wallet_deductions_credits_total",
			Help:      "Credits deducted from wallets, by tier.",
		}, []string{"tier"}),
		walletCredits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wallet_topups_credits_total",
			Help:      "Credits added to wallets by top-ups.",
		}),
		generationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_duration_seconds",
			Help:      "Latency of generation backend calls.",
			Buckets:   []float64{1, 2.5, 5, 10, 20, 30, 60, 120},
		}, []string{"model"}),
		generationErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_errors_total",
			Help:      "Failed generation backend calls.",
		}, []string{"model"}),
		settlementRaces: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlement_conflicts_total",
			Help:      "Settlements skipped because the entitlement already existed.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.analysisRequests,
			m.analysisFailures,
			m.walletDeductions,
			m.walletCredits,
			m.generationDuration,
			m.generationErrors,
			m.settlementRaces,
		)
	}
	return m
}

func (m *Metrics) RecordAnalysis(source string) {
	if m == nil {
		return
	}
	m.analysisRequests.WithLabelValues(source).Inc()
}

func (m *Metrics) RecordFailure(errType string) {
	if m == nil {
		return
	}
	m.analysisFailures.WithLabelValues(errType).Inc()
}

func (m *Metrics) RecordDeduction(tier string, amount float64) {
	if m == nil || amount <= 0 {
		return
	}
	m.walletDeductions.WithLabelValues(tier).Add(amount)
}

func (m *Metrics) RecordTopUp(amount float64) {
	if m == nil || amount <= 0 {
		return
	}
	m.walletCredits.Add(amount)
}

func (m *Metrics) RecordSettlementConflict() {
	if m == nil {
		return
	}
	m.settlementRaces.Inc()
}

func (m *Metrics) ObserveGeneration(modelID string, d time.Duration, err error) {
	if m == nil {
		return
	}
	label := otherModel
	if m.modelLabel != nil {
		label = m.modelLabel(modelID)
	}
	m.generationDuration.WithLabelValues(label).Observe(d.Seconds())
	if err != nil {
		m.generationErrors.WithLabelValues(label).Inc()
	}
}
