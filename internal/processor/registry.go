package processor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ShayCichocki/taskloom/pkg/models"
)

// HandlerID names a registered task handler. It is stored on every task
// row as the function name.
type HandlerID string

// Handler identifiers known to the planner, worker and router.
const (
	InitialPlanning      HandlerID = "initial_planning"
	TaskCreation         HandlerID = "task_creation"
	Synthesis            HandlerID = "synthesis"
	WorkerInitialisation HandlerID = "worker_initialisation"
	RouteMessage         HandlerID = "route_message"
)

// AllHandlers lists every handler a complete process must register.
var AllHandlers = []HandlerID{
	InitialPlanning,
	TaskCreation,
	Synthesis,
	WorkerInitialisation,
	RouteMessage,
}

// Handler executes one claimed task. A returned error or a panic marks the
// task FAILED; nil marks it COMPLETED.
type Handler func(ctx context.Context, task models.Task) error

// ErrRegistryFrozen is returned by Register after Freeze.
var ErrRegistryFrozen = errors.New("handler registry is frozen")

// Registry maps handler identifiers to handlers. It is populated at startup
// and frozen before the processor starts; lookups never mutate it.
type Registry struct {
	mu       sync.RWMutex
	handlers map[HandlerID]Handler
	frozen   bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[HandlerID]Handler)}
}

// Register adds a handler. Empty ids, nil handlers and duplicate ids are
// rejected.
func (r *Registry) Register(id HandlerID, h Handler) error {
	if id == "" {
		return errors.New("register handler: empty id")
	}
	if h == nil {
		return fmt.Errorf("register handler %s: nil handler", id)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return fmt.Errorf("register handler %s: %w", id, ErrRegistryFrozen)
	}
	if _, exists := r.handlers[id]; exists {
		return fmt.Errorf("register handler %s: already registered", id)
	}
	r.handlers[id] = h
	return nil
}

// Freeze prevents further registration.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Frozen reports whether Freeze has been called.
func (r *Registry) Frozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frozen
}

// Validate returns an error naming every required id that has no handler.
func (r *Registry) Validate(required ...HandlerID) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var missing []string
	for _, id := range required {
		if _, ok := r.handlers[id]; !ok {
			missing = append(missing, string(id))
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing handlers: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Lookup returns the handler registered for a function name.
func (r *Registry) Lookup(functionName string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[HandlerID(functionName)]
	return h, ok
}

// IDs returns the registered ids in sorted order.
func (r *Registry) IDs() []HandlerID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]HandlerID, 0, len(r.handlers))
	for id := range r.handlers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
