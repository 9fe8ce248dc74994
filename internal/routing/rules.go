package routing

import (
	"context"
	"log/slog"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/jordanhubbard/edgegate/internal/events"
	"github.com/jordanhubbard/edgegate/internal/pricing"
)

// Rule names, in evaluation order.
const (
	RuleSensitivity = "sensitivity"
	RuleBudget      = "budget"
	RuleCapability  = "capability"
	RuleHealth      = "health"
	RuleFallback    = "fallback"
	RuleLastResort  = "last_resort"
)

const (
	lastResortRetries = 1
	lastResortTimeout = 10 * time.Second
)

// evaluation carries everything the rules need for one decision. The edge
// probe is memoized so it runs at most once.
type evaluation struct {
	ctx        context.Context
	engine     *Engine
	req        Request
	budgetCap  float64
	spentEUR   float64
	cloud      []pricing.Provider
	needsCloud bool
	capable    *pricing.Provider
	// dispatch is the cloud slot a paid decision would use: the capable slot
	// when the request needs one, otherwise the first candidate.
	dispatch *pricing.Provider
	cloudEst float64

	probed  bool
	healthy bool
}

func (ev *evaluation) edgeHealthy() bool {
	if !ev.probed {
		ev.probed = true
		ev.healthy = ev.engine.probeEdge(ev.ctx)
	}
	return ev.healthy
}

type rule struct {
	name  string
	match func(*evaluation) bool
	build func(*evaluation) Decision
}

func defaultRules() []rule {
	return []rule{
		{
			name:  RuleSensitivity,
			match: func(ev *evaluation) bool { return ev.req.Sensitivity.Restricted() },
			build: func(ev *evaluation) Decision { return ev.engine.edgeDecision(ev, RuleSensitivity) },
		},
		{
			name:  RuleBudget,
			match: matchBudget,
			build: buildBudget,
		},
		{
			name:  RuleCapability,
			match: func(ev *evaluation) bool { return ev.needsCloud && ev.capable != nil },
			build: func(ev *evaluation) Decision { return ev.engine.cloudDecision(ev, *ev.capable, RuleCapability) },
		},
		{
			name:  RuleHealth,
			match: func(ev *evaluation) bool { return ev.edgeHealthy() },
			build: func(ev *evaluation) Decision { return ev.engine.edgeDecision(ev, RuleHealth) },
		},
		{
			name:  RuleFallback,
			match: func(ev *evaluation) bool { return len(ev.cloud) > 0 },
			build: buildFallback,
		},
		{
			name:  RuleLastResort,
			match: func(*evaluation) bool { return true },
			build: buildLastResort,
		},
	}
}

// matchBudget fires when sending the request to a paid provider would take
// the organization past its remaining budget.
func matchBudget(ev *evaluation) bool {
	if !ev.engine.cfg.EnforceCostLimits || ev.dispatch == nil || ev.budgetCap <= 0 {
		return false
	}
	return ev.spentEUR+ev.cloudEst > ev.budgetCap
}

func buildBudget(ev *evaluation) Decision {
	e := ev.engine
	if e.metrics != nil {
		e.metrics.BudgetGateFired.Inc()
	}
	e.publish(events.Event{
		Type:             events.EventCostGovernance,
		OrgID:            ev.req.OrgID,
		RequestID:        ev.req.ID,
		Provider:         string(pricing.Edge),
		Rule:             RuleBudget,
		Reason:           "cloud dispatch would exceed remaining budget",
		CurrentCostEUR:   ev.spentEUR,
		BudgetCapEUR:     ev.budgetCap,
		EstimatedCostEUR: ev.cloudEst,
	})
	slog.Info("budget gate kept request on edge",
		slog.String("org_id", ev.req.OrgID),
		slog.String("request_id", ev.req.ID),
		slog.Float64("current_eur", ev.spentEUR),
		slog.Float64("budget_cap_eur", ev.budgetCap),
		slog.Float64("estimated_eur", ev.cloudEst),
	)
	return e.edgeDecision(ev, RuleBudget)
}

func buildFallback(ev *evaluation) Decision {
	e := ev.engine
	p := ev.cloud[0]
	slog.Warn("edge unhealthy, falling back to cloud provider",
		slog.String("provider", string(p.ID)),
		slog.String("vendor", p.Vendor),
		slog.String("org_id", ev.req.OrgID),
		slog.String("request_id", ev.req.ID),
	)
	e.publish(events.Event{
		Type:      events.EventEdgeDegraded,
		OrgID:     ev.req.OrgID,
		RequestID: ev.req.ID,
		Provider:  string(p.ID),
		Rule:      RuleFallback,
		Reason:    "edge health probe failed",
	})
	return e.cloudDecision(ev, p, RuleFallback)
}

func buildLastResort(ev *evaluation) Decision {
	e := ev.engine
	slog.Error("no viable provider, returning degraded edge decision",
		slog.String("org_id", ev.req.OrgID),
		slog.String("request_id", ev.req.ID),
	)
	e.publish(events.Event{
		Type:      events.EventEdgeDegraded,
		OrgID:     ev.req.OrgID,
		RequestID: ev.req.ID,
		Provider:  string(pricing.Edge),
		Rule:      RuleLastResort,
		Reason:    "edge unhealthy and no cloud credential available",
	})
	d := e.edgeDecision(ev, RuleLastResort)
	d.MaxRetries = lastResortRetries
	d.Timeout = lastResortTimeout
	d.Degraded = true
	return d
}

// remainingBudget is the smallest positive cap among the request budget and
// the monthly limit; 0 means unlimited.
func remainingBudget(req Request, monthlyEUR float64) float64 {
	budgetCap := math.Inf(1)
	if b := req.BudgetEUR(); b > 0 {
		budgetCap = b
	}
	if monthlyEUR > 0 && monthlyEUR < budgetCap {
		budgetCap = monthlyEUR
	}
	if math.IsInf(budgetCap, 1) {
		return 0
	}
	return budgetCap
}

// needsCloud reports whether the request asks for a cloud-only tool or a
// language the edge model does not serve.
func needsCloud(tools, languages []string) bool {
	for _, t := range tools {
		if pricing.IsCloudOnlyTool(t) {
			return true
		}
	}
	edge := pricing.EdgeLanguages()
	for _, l := range languages {
		if !slices.Contains(edge, l) {
			return true
		}
	}
	return false
}

func normalize(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v != "" && !slices.Contains(out, v) {
			out = append(out, v)
		}
	}
	return out
}
