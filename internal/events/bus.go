// Package events carries cost-governance and routing telemetry to external
// observers. Publishing never blocks the routing path.
package events

import (
	"encoding/json"
	"sync"
	"time"
)

// EventType identifies the kind of event.
type EventType string

const (
	// EventCostGovernance fires whenever a budget rule changes a routing outcome.
	EventCostGovernance EventType = "cost_governance"
	EventBudgetRejected EventType = "budget_rejected"
	EventEmergencyStop  EventType = "emergency_stop"
	EventEdgeDegraded   EventType = "edge_degraded"
	EventHealthChange   EventType = "health_change"
	EventLedgerReset    EventType = "ledger_reset"
)

// Event is a single telemetry record published on the bus.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`

	OrgID     string `json:"org_id,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	Provider  string `json:"provider,omitempty"`
	Rule      string `json:"rule,omitempty"`
	Reason    string `json:"reason,omitempty"`

	// Cost fields (populated for cost_governance and budget events).
	CurrentCostEUR   float64 `json:"current_cost_eur,omitempty"`
	BudgetCapEUR     float64 `json:"budget_cap_eur,omitempty"`
	EstimatedCostEUR float64 `json:"estimated_cost_eur,omitempty"`

	// Health fields (populated for health_change events).
	OldState string `json:"old_state,omitempty"`
	NewState string `json:"new_state,omitempty"`
}

// JSON returns the event as a JSON byte slice.
func (e *Event) JSON() []byte {
	b, _ := json.Marshal(e)
	return b
}

// Publisher is what producers depend on; *Bus implements it.
type Publisher interface {
	Publish(e Event)
}

// Subscriber receives events on a channel.
type Subscriber struct {
	C    chan Event
	done chan struct{}
}

// Bus is an in-memory pub/sub event bus.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[*Subscriber]struct{}
}

// NewBus creates a new event bus.
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[*Subscriber]struct{}),
	}
}

// Subscribe creates a new subscriber with a buffered channel.
func (b *Bus) Subscribe(bufSize int) *Subscriber {
	if bufSize <= 0 {
		bufSize = 64
	}
	s := &Subscriber{
		C:    make(chan Event, bufSize),
		done: make(chan struct{}),
	}
	b.mu.Lock()
	b.subscribers[s] = struct{}{}
	b.mu.Unlock()
	return s
}

// Unsubscribe removes a subscriber. Its channel is left open so a concurrent
// Publish cannot panic on a closed channel.
func (b *Bus) Unsubscribe(s *Subscriber) {
	b.mu.Lock()
	_, ok := b.subscribers[s]
	delete(b.subscribers, s)
	b.mu.Unlock()
	if ok {
		close(s.done)
	}
}

// Done is closed once the subscriber has been removed from the bus.
func (s *Subscriber) Done() <-chan struct{} { return s.done }

// Publish sends an event to all subscribers (non-blocking).
func (b *Bus) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subscribers {
		select {
		case s.C <- e:
		default:
			// Drop event if subscriber is slow (back-pressure).
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
