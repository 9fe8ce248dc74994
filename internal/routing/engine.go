// Package routing decides which provider handles an inference request and
// whether its content must be redacted first.
package routing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jordanhubbard/edgegate/internal/budget"
	"github.com/jordanhubbard/edgegate/internal/events"
	"github.com/jordanhubbard/edgegate/internal/health"
	"github.com/jordanhubbard/edgegate/internal/ledger"
	"github.com/jordanhubbard/edgegate/internal/metrics"
	"github.com/jordanhubbard/edgegate/internal/pricing"
)

const tracerName = "github.com/jordanhubbard/edgegate/internal/routing"

// EngineConfig is read once at construction.
type EngineConfig struct {
	Edge              pricing.Provider
	Cloud             []pricing.Provider
	DefaultProvider   pricing.ProviderID
	ProbeTimeout      time.Duration
	EnforceCostLimits bool
}

// Engine evaluates an ordered rule list; the first matching rule produces the
// decision. It holds no goroutines and is safe for concurrent use.
type Engine struct {
	cfg     EngineConfig
	creds   CredentialSource
	ledger  *ledger.Ledger
	guard   *budget.Guard
	checker health.Checker
	pub     events.Publisher
	metrics *metrics.Registry
	tracer  trace.Tracer
	rules   []rule
}

// NewEngine wires the engine to its collaborators. A nil ledger falls back to
// an in-memory one and a nil checker to an HTTP prober.
func NewEngine(cfg EngineConfig, l *ledger.Ledger, creds CredentialSource, checker health.Checker) *Engine {
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = health.DefaultProbeTimeout
	}
	if cfg.Edge.ID == "" {
		cfg.Edge = pricing.EdgeProvider(cfg.Edge.BaseURL)
	}
	if cfg.Edge.MaxRetries == 0 {
		cfg.Edge.MaxRetries = 2
	}
	if cfg.Edge.Timeout == 0 {
		cfg.Edge.Timeout = 30 * time.Second
	}
	if l == nil {
		l = ledger.New(nil)
	}
	if creds == nil {
		creds = StaticCredentials{}
	}
	if checker == nil {
		checker = health.NewHTTPProber(nil)
	}
	return &Engine{
		cfg:     cfg,
		creds:   creds,
		ledger:  l,
		guard:   budget.NewGuard(l),
		checker: checker,
		tracer:  otel.Tracer(tracerName),
		rules:   defaultRules(),
	}
}

// SetEventPublisher attaches the telemetry side channel.
func (e *Engine) SetEventPublisher(p events.Publisher) {
	e.pub = p
}

// SetMetrics attaches Prometheus collectors.
func (e *Engine) SetMetrics(m *metrics.Registry) {
	e.metrics = m
}

// Rules lists rule names in evaluation order.
func (e *Engine) Rules() []string {
	names := make([]string, len(e.rules))
	for i, r := range e.rules {
		names[i] = r.name
	}
	return names
}

// Ledger returns the ledger the engine reads spend from.
func (e *Engine) Ledger() *ledger.Ledger { return e.ledger }

// Edge returns the configured edge provider.
func (e *Engine) Edge() pricing.Provider { return e.cfg.Edge }

// Cloud returns the configured cloud slots in configuration order.
func (e *Engine) Cloud() []pricing.Provider { return slices.Clone(e.cfg.Cloud) }

// Route produces a decision for req. Errors are limited to validation
// (*ValidationError), cost refusals (*budget.BudgetExceededError,
// *budget.EmergencyStopError) and ledger failures; probe failures never
// surface here.
func (e *Engine) Route(ctx context.Context, req Request, limits budget.Limits) (Decision, error) {
	ctx, span := e.tracer.Start(ctx, "routing.Route")
	defer span.End()

	if err := Validate(req); err != nil {
		return Decision{}, spanError(span, err)
	}
	if err := Validate(limits); err != nil {
		return Decision{}, spanError(span, err)
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.Sensitivity == "" {
		req.Sensitivity = SensitivityNone
	}
	req.RequiredTools = normalize(req.RequiredTools)
	req.RequiredLanguages = normalize(req.RequiredLanguages)

	span.SetAttributes(
		attribute.String("edgegate.org_id", req.OrgID),
		attribute.String("edgegate.request_id", req.ID),
		attribute.String("edgegate.sensitivity", string(req.Sensitivity)),
	)

	ev := &evaluation{ctx: ctx, engine: e, req: req}
	ev.cloud = FilterProviders(e.cloudCandidates(), req.LastFailedProvider)
	ev.needsCloud = needsCloud(req.RequiredTools, req.RequiredLanguages)
	if ev.needsCloud {
		for i := range ev.cloud {
			if ev.cloud[i].Supports(req.RequiredTools, req.RequiredLanguages) {
				ev.capable = &ev.cloud[i]
				break
			}
		}
	}
	// Cost gates price the slot the request would actually be sent to.
	switch {
	case ev.capable != nil:
		ev.dispatch = ev.capable
	case len(ev.cloud) > 0:
		ev.dispatch = &ev.cloud[0]
	}
	if ev.dispatch != nil {
		ev.cloudEst = ev.dispatch.Estimate(req.TokensIn, req.TokensOutEstimate)
	}

	if e.cfg.EnforceCostLimits {
		if err := e.preflight(ctx, ev, limits); err != nil {
			return Decision{}, spanError(span, err)
		}
		spent, err := e.ledger.Total(ctx, req.OrgID)
		if err != nil {
			return Decision{}, spanError(span, fmt.Errorf("routing: read ledger: %w", err))
		}
		ev.spentEUR = spent
		ev.budgetCap = remainingBudget(req, limits.MonthlyEUR)
	}

	for _, r := range e.rules {
		if r.match(ev) {
			d := r.build(ev)
			e.observe(span, d, ev.probed)
			return d, nil
		}
	}
	d := buildLastResort(ev)
	e.observe(span, d, ev.probed)
	return d, nil
}

// preflight applies the hard cost gates. The emergency stop covers every
// request; the per-request guard only applies to requests that may leave the
// edge and is priced at the cloud slot they would be dispatched to.
func (e *Engine) preflight(ctx context.Context, ev *evaluation, limits budget.Limits) error {
	var err error
	if ev.req.Sensitivity.Restricted() {
		err = e.guard.CheckEmergencyStop(ctx, ev.req.OrgID, limits)
	} else {
		var price pricing.Price
		if ev.dispatch != nil {
			price = ev.dispatch.Price
		}
		_, err = e.guard.Check(ctx, budget.Preflight{
			OrgID:     ev.req.OrgID,
			TokensIn:  ev.req.TokensIn,
			TokensOut: ev.req.TokensOutEstimate,
			Price:     price,
		}, limits)
	}
	if err == nil {
		return nil
	}

	var stop *budget.EmergencyStopError
	var over *budget.BudgetExceededError
	switch {
	case errors.As(err, &stop):
		e.reject("emergency_stop")
		slog.Warn("emergency stop refused request",
			slog.String("org_id", stop.OrgID),
			slog.String("request_id", ev.req.ID),
			slog.Float64("current_eur", stop.CurrentEUR),
			slog.Float64("threshold_eur", stop.ThresholdEUR),
		)
		e.publish(events.Event{
			Type:             events.EventEmergencyStop,
			OrgID:            stop.OrgID,
			RequestID:        ev.req.ID,
			Reason:           "emergency stop threshold exceeded",
			CurrentCostEUR:   stop.CurrentEUR,
			BudgetCapEUR:     stop.ThresholdEUR,
			EstimatedCostEUR: stop.EstimatedEUR,
		})
	case errors.As(err, &over):
		e.reject("budget_exceeded")
		slog.Warn("budget guard refused request",
			slog.String("org_id", over.OrgID),
			slog.String("request_id", ev.req.ID),
			slog.String("limit", over.Limit),
			slog.Float64("estimated_eur", over.EstimatedEUR),
			slog.Float64("limit_eur", over.LimitEUR),
		)
		e.publish(events.Event{
			Type:             events.EventBudgetRejected,
			OrgID:            over.OrgID,
			RequestID:        ev.req.ID,
			Reason:           over.Limit,
			BudgetCapEUR:     over.LimitEUR,
			EstimatedCostEUR: over.EstimatedEUR,
		})
	}
	return err
}

// cloudCandidates returns the configured cloud slots that hold a credential,
// in preference order.
func (e *Engine) cloudCandidates() []pricing.Provider {
	order := []pricing.ProviderID{pricing.CloudPrimary, pricing.CloudSecondary}
	if e.cfg.DefaultProvider == pricing.CloudSecondary {
		order[0], order[1] = order[1], order[0]
	}
	var out []pricing.Provider
	for _, id := range order {
		for _, p := range e.cfg.Cloud {
			if p.ID != id {
				continue
			}
			if _, ok := e.creds.Credential(id); ok {
				out = append(out, p)
			}
			break
		}
	}
	return out
}

func (e *Engine) probeEdge(ctx context.Context) bool {
	url := e.cfg.Edge.HealthURL()
	if url == "" {
		return false
	}
	healthy := e.checker.Probe(ctx, url, e.cfg.ProbeTimeout)
	trace.SpanFromContext(ctx).AddEvent("edge probe", trace.WithAttributes(
		attribute.Bool("edgegate.edge_healthy", healthy),
	))
	return healthy
}

func (e *Engine) edgeDecision(ev *evaluation, ruleName string) Decision {
	edge := e.cfg.Edge
	return Decision{
		RequestID:  ev.req.ID,
		Provider:   pricing.Edge,
		Vendor:     edge.Vendor,
		Endpoint:   edge.BaseURL,
		Headers:    baseHeaders(ev.req),
		MaxRetries: edge.MaxRetries,
		Timeout:    edge.Timeout,
		Rule:       ruleName,
	}
}

func (e *Engine) cloudDecision(ev *evaluation, p pricing.Provider, ruleName string) Decision {
	headers := baseHeaders(ev.req)
	maps.Copy(headers, p.Headers)
	if key, ok := e.creds.Credential(p.ID); ok {
		setAuthHeader(headers, p.Vendor, key)
	}
	return Decision{
		RequestID:        ev.req.ID,
		Provider:         p.ID,
		Vendor:           p.Vendor,
		Endpoint:         p.BaseURL,
		Headers:          headers,
		ShouldRedact:     true,
		MaxRetries:       p.MaxRetries,
		Timeout:          p.Timeout,
		Rule:             ruleName,
		EstimatedCostEUR: p.Estimate(ev.req.TokensIn, ev.req.TokensOutEstimate),
	}
}

func baseHeaders(req Request) map[string]string {
	return map[string]string{
		"Content-Type":      "application/json",
		"X-Request-ID":      req.ID,
		"X-Organization-ID": req.OrgID,
	}
}

func setAuthHeader(h map[string]string, vendor, key string) {
	switch vendor {
	case "anthropic":
		h["x-api-key"] = key
	case "azure-openai":
		h["api-key"] = key
	default:
		h["Authorization"] = "Bearer " + key
	}
}

func (e *Engine) observe(span trace.Span, d Decision, probed bool) {
	if e.metrics != nil {
		e.metrics.Decisions.WithLabelValues(string(d.Provider), d.Rule).Inc()
	}
	span.SetAttributes(
		attribute.String("edgegate.provider", string(d.Provider)),
		attribute.String("edgegate.rule", d.Rule),
		attribute.Bool("edgegate.should_redact", d.ShouldRedact),
		attribute.Bool("edgegate.degraded", d.Degraded),
	)
	slog.Debug("routing decision",
		slog.String("request_id", d.RequestID),
		slog.String("provider", string(d.Provider)),
		slog.String("rule", d.Rule),
		slog.Bool("should_redact", d.ShouldRedact),
		slog.Bool("edge_probed", probed),
	)
}

func (e *Engine) reject(reason string) {
	if e.metrics != nil {
		e.metrics.GuardRejections.WithLabelValues(reason).Inc()
	}
}

func (e *Engine) publish(ev events.Event) {
	if e.pub != nil {
		e.pub.Publish(ev)
	}
}

func spanError(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
