// Package events publishes task lifecycle notifications.
//
// Events are fire-and-forget: a publish failure is logged by the caller and
// never changes the outcome of the task it describes.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// Type identifies a lifecycle event.
type Type string

const (
	TaskClaimed   Type = "task.claimed"
	TaskCompleted Type = "task.completed"
	TaskFailed    Type = "task.failed"
	PlannerDone   Type = "planner.completed"
	PlannerFailed Type = "planner.failed"
	WorkerDone    Type = "worker.finished"
)

// Event is a single lifecycle notification.
type Event struct {
	Type       Type      `json:"type"`
	TaskID     string    `json:"task_id,omitempty"`
	EntityType string    `json:"entity_type,omitempty"`
	EntityID   string    `json:"entity_id,omitempty"`
	Function   string    `json:"function,omitempty"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Publisher publishes lifecycle events.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Nop discards every event.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(context.Context, Event) error { return nil }

// Close implements Publisher.
func (Nop) Close() error { return nil }

// NATSPublisher publishes events as JSON on "<prefix>.<type>" subjects.
type NATSPublisher struct {
	nc     *nats.Conn
	prefix string

	mu     sync.Mutex
	closed bool
}

// NewNATSPublisher connects to the NATS server at url.
func NewNATSPublisher(url, prefix string) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("taskloom"),
		nats.MaxReconnects(5),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	if prefix == "" {
		prefix = "taskloom"
	}
	return &NATSPublisher{nc: nc, prefix: prefix}, nil
}

// Subject returns the subject an event type is published on.
func (p *NATSPublisher) Subject(t Type) string {
	return p.prefix + "." + string(t)
}

// Publish implements Publisher. NATS publish does not take a context, so the
// context is only checked before sending.
func (p *NATSPublisher) Publish(ctx context.Context, e Event) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled before publish: %w", err)
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return p.nc.Publish(p.Subject(e.Type), data)
}

// Close drains and closes the connection.
func (p *NATSPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	return p.nc.Drain()
}

// Recorder keeps published events in memory. Tests use it to assert on the
// lifecycle notifications a component emits.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Publish implements Publisher.
func (r *Recorder) Publish(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

// Close implements Publisher.
func (r *Recorder) Close() error { return nil }

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Count returns how many recorded events have the given type.
func (r *Recorder) Count(t Type) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == t {
			n++
		}
	}
	return n
}
