package ledger

import (
	"context"
	"maps"
	"sync"
)

// MemoryStore keeps totals for the process lifetime.
type MemoryStore struct {
	mu     sync.Mutex
	totals map[string]float64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{totals: make(map[string]float64)}
}

func (m *MemoryStore) Add(_ context.Context, orgID string, eur float64) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totals[orgID] += eur
	return m.totals[orgID], nil
}

func (m *MemoryStore) Total(_ context.Context, orgID string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totals[orgID], nil
}

func (m *MemoryStore) All(_ context.Context) (map[string]float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return maps.Clone(m.totals), nil
}

func (m *MemoryStore) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.totals)
	return nil
}

func (m *MemoryStore) Close() error { return nil }
