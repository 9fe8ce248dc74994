// Package ledger tracks cumulative EUR spend per organization for the current
// billing period. Values only grow until Reset, which is driven by an external
// monthly-rollover trigger.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
)

// ErrInvalidAmount is returned for negative, NaN or infinite cost updates.
var ErrInvalidAmount = errors.New("ledger: cost must be a finite, non-negative amount")

// Store is the backing key-value store: organization id -> cumulative EUR.
type Store interface {
	// Add increments the organization's total by eur and returns the new total.
	Add(ctx context.Context, orgID string, eur float64) (float64, error)
	// Total returns the organization's total, 0 for unknown organizations.
	Total(ctx context.Context, orgID string) (float64, error)
	// All returns every organization with a recorded total.
	All(ctx context.Context) (map[string]float64, error)
	// Reset zeroes every organization.
	Reset(ctx context.Context) error
	Close() error
}

// Ledger enforces the ledger invariants on top of a Store.
type Ledger struct {
	store Store
}

// New wraps a Store. A nil store gets an in-memory one.
func New(s Store) *Ledger {
	if s == nil {
		s = NewMemoryStore()
	}
	return &Ledger{store: s}
}

// Add records cost for an organization and returns the new cumulative total.
func (l *Ledger) Add(ctx context.Context, orgID string, eur float64) (float64, error) {
	if orgID == "" {
		return 0, errors.New("ledger: organization id is required")
	}
	if eur < 0 || math.IsNaN(eur) || math.IsInf(eur, 0) {
		return 0, fmt.Errorf("%w: got %v", ErrInvalidAmount, eur)
	}
	total, err := l.store.Add(ctx, orgID, eur)
	if err != nil {
		return 0, fmt.Errorf("ledger add %s: %w", orgID, err)
	}
	return total, nil
}

// Total returns the current cumulative cost for an organization.
func (l *Ledger) Total(ctx context.Context, orgID string) (float64, error) {
	total, err := l.store.Total(ctx, orgID)
	if err != nil {
		return 0, fmt.Errorf("ledger total %s: %w", orgID, err)
	}
	return total, nil
}

// WithinBudget reports whether the organization's total is at or below budget.
// A budget <= 0 means unlimited.
func (l *Ledger) WithinBudget(ctx context.Context, orgID string, budgetEUR float64) (bool, error) {
	if budgetEUR <= 0 {
		return true, nil
	}
	total, err := l.Total(ctx, orgID)
	if err != nil {
		return false, err
	}
	return total <= budgetEUR, nil
}

// Utilization returns the share of budget consumed, in percent. It is 0 for
// an unlimited budget and may exceed 100.
func (l *Ledger) Utilization(ctx context.Context, orgID string, budgetEUR float64) (float64, error) {
	if budgetEUR <= 0 {
		return 0, nil
	}
	total, err := l.Total(ctx, orgID)
	if err != nil {
		return 0, err
	}
	return total / budgetEUR * 100, nil
}

// Snapshot returns a copy of every organization's total.
func (l *Ledger) Snapshot(ctx context.Context) (map[string]float64, error) {
	all, err := l.store.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("ledger snapshot: %w", err)
	}
	return all, nil
}

// Reset zeroes all organizations. Only the billing-period rollover calls this.
func (l *Ledger) Reset(ctx context.Context) error {
	if err := l.store.Reset(ctx); err != nil {
		return fmt.Errorf("ledger reset: %w", err)
	}
	return nil
}

// Close releases the backing store.
func (l *Ledger) Close() error {
	return l.store.Close()
}
