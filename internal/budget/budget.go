// Package budget implements the synchronous, fail-closed cost preflight that
// runs before any provider is contacted.
package budget

import (
	"context"
	"errors"
	"fmt"

	"github.com/jordanhubbard/edgegate/internal/ledger"
	"github.com/jordanhubbard/edgegate/internal/pricing"
)

// Sentinel errors matched via errors.Is.
var (
	ErrBudgetExceeded = errors.New("budget exceeded")
	ErrEmergencyStop  = errors.New("emergency stop")
)

// Limit names reported on BudgetExceededError.
const (
	LimitPerRequest = "per_request"
	LimitDaily      = "daily"
	LimitMonthly    = "monthly"
)

// Limits are the caller-supplied cost caps, all in EUR. A zero cap is unlimited.
type Limits struct {
	PerRequestEUR             float64 `json:"per_request_eur" validate:"gte=0"`
	DailyEUR                  float64 `json:"daily_eur" validate:"gte=0"`
	MonthlyEUR                float64 `json:"monthly_eur" validate:"gte=0"`
	EmergencyStopEnabled      bool    `json:"emergency_stop_enabled"`
	EmergencyStopThresholdEUR float64 `json:"emergency_stop_threshold_eur" validate:"gte=0"`
}

// BudgetExceededError is returned when a request's estimated cost exceeds a cap.
type BudgetExceededError struct {
	OrgID        string
	EstimatedEUR float64
	LimitEUR     float64
	Limit        string
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("%s budget exceeded for org %s: estimated=€%.4f, limit=€%.4f",
		e.Limit, e.OrgID, e.EstimatedEUR, e.LimitEUR)
}

func (e *BudgetExceededError) Is(target error) bool { return target == ErrBudgetExceeded }

// EmergencyStopError is returned while an organization is over its emergency
// threshold. Requests stay refused until the ledger is reset.
type EmergencyStopError struct {
	OrgID        string
	CurrentEUR   float64
	EstimatedEUR float64
	ThresholdEUR float64
}

func (e *EmergencyStopError) Error() string {
	return fmt.Sprintf("emergency stop for org %s: spent=€%.4f, threshold=€%.4f",
		e.OrgID, e.CurrentEUR, e.ThresholdEUR)
}

func (e *EmergencyStopError) Is(target error) bool { return target == ErrEmergencyStop }

// Preflight describes the request being priced.
type Preflight struct {
	OrgID     string
	TokensIn  int
	TokensOut int
	Price     pricing.Price
}

// Guard compares estimated cost against Limits.
type Guard struct {
	ledger *ledger.Ledger
}

// NewGuard creates a Guard reading cumulative spend from l.
func NewGuard(l *ledger.Ledger) *Guard {
	return &Guard{ledger: l}
}

// CheckEmergencyStop fails when the emergency stop is enabled and the
// organization's cumulative cost already exceeds the threshold.
func (g *Guard) CheckEmergencyStop(ctx context.Context, orgID string, limits Limits) error {
	if !limits.EmergencyStopEnabled {
		return nil
	}
	spent, err := g.ledger.Total(ctx, orgID)
	if err != nil {
		return fmt.Errorf("emergency stop check: %w", err)
	}
	if spent > limits.EmergencyStopThresholdEUR {
		return &EmergencyStopError{
			OrgID:        orgID,
			CurrentEUR:   spent,
			ThresholdEUR: limits.EmergencyStopThresholdEUR,
		}
	}
	return nil
}

// Check runs the emergency stop, then prices the request and compares the
// estimate against the per-request cap. A single request larger than the whole
// daily or monthly cap is refused as well. It returns the estimate.
func (g *Guard) Check(ctx context.Context, p Preflight, limits Limits) (float64, error) {
	est := pricing.Estimate(p.TokensIn, p.TokensOut, p.Price.InputPer1K, p.Price.OutputPer1K)

	if err := g.CheckEmergencyStop(ctx, p.OrgID, limits); err != nil {
		var stop *EmergencyStopError
		if errors.As(err, &stop) {
			stop.EstimatedEUR = est
		}
		return est, err
	}

	caps := []struct {
		name  string
		value float64
	}{
		{LimitPerRequest, limits.PerRequestEUR},
		{LimitDaily, limits.DailyEUR},
		{LimitMonthly, limits.MonthlyEUR},
	}
	for _, c := range caps {
		if c.value > 0 && est > c.value {
			return est, &BudgetExceededError{
				OrgID:        p.OrgID,
				EstimatedEUR: est,
				LimitEUR:     c.value,
				Limit:        c.name,
			}
		}
	}
	return est, nil
}
