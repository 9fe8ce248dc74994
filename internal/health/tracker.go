package health

import (
	"sort"
	"sync"
	"time"

	"github.com/jordanhubbard/edgegate/internal/events"
)

// State represents the observed liveness of a probe target.
type State string

const (
	StateUnknown  State = "unknown"
	StateHealthy  State = "healthy"
	StateDegraded State = "degraded"
	StateDown     State = "down"
)

// Stats captures probe history for a single target.
type Stats struct {
	Target        string    `json:"target"`
	State         State     `json:"state"`
	TotalProbes   int64     `json:"total_probes"`
	TotalFailures int64     `json:"total_failures"`
	ConsecFails   int       `json:"consec_failures"`
	AvgLatencyMs  float64   `json:"avg_latency_ms"`
	LastProbeAt   time.Time `json:"last_probe_at"`
	LastSuccessAt time.Time `json:"last_success_at,omitempty"`
}

// TrackerConfig configures state thresholds.
type TrackerConfig struct {
	// ConsecFailsForDegraded: consecutive failed probes before degraded.
	ConsecFailsForDegraded int
	// ConsecFailsForDown: consecutive failed probes before down.
	ConsecFailsForDown int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() TrackerConfig {
	return TrackerConfig{
		ConsecFailsForDegraded: 1,
		ConsecFailsForDown:     3,
	}
}

// Tracker aggregates probe outcomes per target. It is informational only:
// routing always uses the result of a fresh probe.
type Tracker struct {
	cfg TrackerConfig
	pub events.Publisher

	mu    sync.RWMutex
	stats map[string]*Stats
}

// TrackerOption configures optional Tracker behaviour.
type TrackerOption func(*Tracker)

// WithPublisher publishes state transitions as health_change events.
func WithPublisher(p events.Publisher) TrackerOption {
	return func(t *Tracker) {
		t.pub = p
	}
}

// NewTracker creates a health tracker with the given config.
func NewTracker(cfg TrackerConfig, opts ...TrackerOption) *Tracker {
	if cfg.ConsecFailsForDegraded <= 0 {
		cfg.ConsecFailsForDegraded = 1
	}
	if cfg.ConsecFailsForDown < cfg.ConsecFailsForDegraded {
		cfg.ConsecFailsForDown = cfg.ConsecFailsForDegraded
	}
	t := &Tracker{
		cfg:   cfg,
		stats: make(map[string]*Stats),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Record stores the outcome of one probe against target.
func (t *Tracker) Record(target string, healthy bool, latency time.Duration) {
	now := time.Now()
	latencyMs := float64(latency) / float64(time.Millisecond)

	t.mu.Lock()
	s, ok := t.stats[target]
	if !ok {
		s = &Stats{Target: target, State: StateUnknown}
		t.stats[target] = s
	}
	oldState := s.State

	s.TotalProbes++
	s.LastProbeAt = now
	if s.TotalProbes == 1 {
		s.AvgLatencyMs = latencyMs
	} else {
		s.AvgLatencyMs = s.AvgLatencyMs*0.9 + latencyMs*0.1
	}

	if healthy {
		s.ConsecFails = 0
		s.LastSuccessAt = now
		s.State = StateHealthy
	} else {
		s.TotalFailures++
		s.ConsecFails++
		switch {
		case s.ConsecFails >= t.cfg.ConsecFailsForDown:
			s.State = StateDown
		case s.ConsecFails >= t.cfg.ConsecFailsForDegraded:
			s.State = StateDegraded
		}
	}
	newState := s.State
	t.mu.Unlock()

	if oldState != newState && t.pub != nil {
		t.pub.Publish(events.Event{
			Type:     events.EventHealthChange,
			Provider: target,
			OldState: string(oldState),
			NewState: string(newState),
		})
	}
}

// Get returns a copy of the stats for target.
func (t *Tracker) Get(target string) Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if s, ok := t.stats[target]; ok {
		return *s
	}
	return Stats{Target: target, State: StateUnknown}
}

// All returns a copy of the stats for every target, sorted by target.
func (t *Tracker) All() []Stats {
	t.mu.RLock()
	result := make([]Stats, 0, len(t.stats))
	for _, s := range t.stats {
		result = append(result, *s)
	}
	t.mu.RUnlock()
	sort.Slice(result, func(i, j int) bool { return result[i].Target < result[j].Target })
	return result
}
