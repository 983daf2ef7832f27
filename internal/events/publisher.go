package events

import (
	"context"
	"sync"
	"time"
)

// StatusEvent is emitted after a trip, delivery request, or payment
// completes a state transition.
type StatusEvent struct {
	EntityType string    `json:"entity_type"`
	EntityID   int64     `json:"entity_id"`
	FromStatus string    `json:"from_status"`
	ToStatus   string    `json:"to_status"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Publisher delivers status events to interested consumers. Publishing is
// best-effort: a delivery failure never rolls back the transition itself.
type Publisher interface {
	Publish(ctx context.Context, event StatusEvent)
}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, StatusEvent) {}

// NewNoopPublisher returns a publisher that discards every event.
func NewNoopPublisher() Publisher {
	return noopPublisher{}
}

// Recorder collects events in memory for tests.
type Recorder struct {
	mu     sync.Mutex
	events []StatusEvent
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Publish(_ context.Context, event StatusEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *Recorder) Events() []StatusEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]StatusEvent, len(r.events))
	copy(out, r.events)
	return out
}
