package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Registry struct {
	reg *prometheus.Registry

	Decisions        *prometheus.CounterVec
	GuardRejections  *prometheus.CounterVec
	BudgetGateFired  prometheus.Counter
	RecordedCostEUR  *prometheus.CounterVec
	ProbeLatency     *prometheus.HistogramVec
	Redactions       *prometheus.CounterVec
	LedgerResetTotal prometheus.Counter
	RateLimited      *prometheus.CounterVec
}

func New() *Registry {
	reg := prometheus.NewRegistry()
	m := &Registry{
		reg: reg,
		Decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "edgegate_routing_decisions_total",
			Help: "Routing decisions by chosen provider and matching rule",
		}, []string{"provider", "rule"}),
		GuardRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "edgegate_guard_rejections_total",
			Help: "Requests refused before dispatch",
		}, []string{"reason"}),
		BudgetGateFired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "edgegate_budget_gate_total",
			Help: "Requests kept on the edge because a paid provider would exceed the budget",
		}),
		RecordedCostEUR: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "edgegate_recorded_cost_eur_total",
			Help: "EUR cost recorded into the ledger",
		}, []string{"provider"}),
		ProbeLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "edgegate_health_probe_seconds",
			Help:    "Edge health probe latency",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 10),
		}, []string{"result"}),
		Redactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "edgegate_redactions_total",
			Help: "Sensitive substrings replaced by tokens",
		}, []string{"pattern"}),
		LedgerResetTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "edgegate_ledger_resets_total",
			Help: "Billing-period ledger resets",
		}),
		RateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "edgegate_rate_limited_total",
			Help: "Requests rejected by the per-organization rate limiter",
		}, []string{"kind"}),
	}
	reg.MustRegister(
		m.Decisions,
		m.GuardRejections,
		m.BudgetGateFired,
		m.RecordedCostEUR,
		m.ProbeLatency,
		m.Redactions,
		m.LedgerResetTotal,
		m.RateLimited,
	)
	return m
}

func (m *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
