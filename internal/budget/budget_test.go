package budget

import (
	"context"
	"errors"
	"testing"

	"github.com/jordanhubbard/edgegate/internal/ledger"
	"github.com/jordanhubbard/edgegate/internal/pricing"
)

var unitPrice = pricing.Price{InputPer1K: 1, OutputPer1K: 1}

func TestCheck_UnderPerRequestCap(t *testing.T) {
	g := NewGuard(ledger.New(nil))

	est, err := g.Check(context.Background(), Preflight{
		OrgID: "org", TokensIn: 500, TokensOut: 500, Price: unitPrice,
	}, Limits{PerRequestEUR: 2})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if est != 1.0 {
		t.Errorf("expected estimate 1.0, got %v", est)
	}
}

func TestCheck_ExceedsPerRequestCap(t *testing.T) {
	g := NewGuard(ledger.New(nil))

	est, err := g.Check(context.Background(), Preflight{
		OrgID: "org-42", TokensIn: 2000, TokensOut: 2000, Price: unitPrice,
	}, Limits{PerRequestEUR: 2})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !errors.Is(err, ErrBudgetExceeded) {
		t.Fatalf("expected ErrBudgetExceeded, got %v", err)
	}
	var be *BudgetExceededError
	if !errors.As(err, &be) {
		t.Fatalf("expected *BudgetExceededError, got %T", err)
	}
	if be.OrgID != "org-42" || be.EstimatedEUR != 4.0 || be.LimitEUR != 2 || be.Limit != LimitPerRequest {
		t.Errorf("unexpected error fields: %+v", be)
	}
	if est != 4.0 {
		t.Errorf("expected estimate 4.0, got %v", est)
	}
}

func TestCheck_ZeroCapsAreUnlimited(t *testing.T) {
	g := NewGuard(ledger.New(nil))
	if _, err := g.Check(context.Background(), Preflight{
		OrgID: "org", TokensIn: 1_000_000, TokensOut: 1_000_000, Price: unitPrice,
	}, Limits{}); err != nil {
		t.Errorf("expected nil error with no caps, got %v", err)
	}
}

func TestCheck_SingleRequestOverPeriodCaps(t *testing.T) {
	g := NewGuard(ledger.New(nil))
	ctx := context.Background()
	pf := Preflight{OrgID: "org", TokensIn: 3000, TokensOut: 0, Price: unitPrice}

	tests := []struct {
		limits Limits
		want   string
	}{
		{Limits{DailyEUR: 2}, LimitDaily},
		{Limits{MonthlyEUR: 2.5}, LimitMonthly},
		{Limits{PerRequestEUR: 1, DailyEUR: 1}, LimitPerRequest},
	}
	for _, tt := range tests {
		_, err := g.Check(ctx, pf, tt.limits)
		var be *BudgetExceededError
		if !errors.As(err, &be) {
			t.Fatalf("limits %+v: expected *BudgetExceededError, got %v", tt.limits, err)
		}
		if be.Limit != tt.want {
			t.Errorf("limits %+v: expected limit %s, got %s", tt.limits, tt.want, be.Limit)
		}
	}
}

func TestEmergencyStop(t *testing.T) {
	l := ledger.New(nil)
	g := NewGuard(l)
	ctx := context.Background()
	limits := Limits{EmergencyStopEnabled: true, EmergencyStopThresholdEUR: 100}

	if err := g.CheckEmergencyStop(ctx, "org", limits); err != nil {
		t.Fatalf("fresh org should pass, got %v", err)
	}

	_, _ = l.Add(ctx, "org", 100)
	if err := g.CheckEmergencyStop(ctx, "org", limits); err != nil {
		t.Fatalf("spend equal to threshold should pass, got %v", err)
	}

	_, _ = l.Add(ctx, "org", 0.01)
	_, err := g.Check(ctx, Preflight{OrgID: "org", TokensIn: 1000, Price: unitPrice}, limits)
	if !errors.Is(err, ErrEmergencyStop) {
		t.Fatalf("expected ErrEmergencyStop, got %v", err)
	}
	var stop *EmergencyStopError
	if !errors.As(err, &stop) {
		t.Fatalf("expected *EmergencyStopError, got %T", err)
	}
	if stop.OrgID != "org" || stop.ThresholdEUR != 100 || stop.EstimatedEUR != 1 {
		t.Errorf("unexpected error fields: %+v", stop)
	}

	// Disabled flag ignores the threshold.
	limits.EmergencyStopEnabled = false
	if err := g.CheckEmergencyStop(ctx, "org", limits); err != nil {
		t.Errorf("disabled emergency stop should pass, got %v", err)
	}

	// Other organizations are unaffected.
	limits.EmergencyStopEnabled = true
	if err := g.CheckEmergencyStop(ctx, "other", limits); err != nil {
		t.Errorf("other org should pass, got %v", err)
	}

	// Manual reset lifts the stop.
	_ = l.Reset(ctx)
	if err := g.CheckEmergencyStop(ctx, "org", limits); err != nil {
		t.Errorf("reset should lift the stop, got %v", err)
	}
}
