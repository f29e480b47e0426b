package task

import (
	"context"
	"fmt"
	"sync"

	"github.com/watchdogai/report-engine/internal/domain"
)

// Handler executes jobs for one task ID. Handlers must be safe for
// concurrent use: the runner invokes the same handler from every worker.
type Handler interface {
	// TaskID returns the task type this handler executes.
	TaskID() string

	// Handle runs one claimed job. A returned error is retried within the
	// job's attempt budget unless it is terminal.
	Handle(ctx context.Context, job *domain.Job) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc struct {
	ID string
	Fn func(ctx context.Context, job *domain.Job) error
}

// TaskID implements Handler.
func (h HandlerFunc) TaskID() string { return h.ID }

// Handle implements Handler.
func (h HandlerFunc) Handle(ctx context.Context, job *domain.Job) error { return h.Fn(ctx, job) }

// Registry maps task IDs to their handlers. Registration happens at
// startup, before the runner starts claiming jobs.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds a handler. Registering a duplicate task ID is an error.
func (r *Registry) Register(h Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[h.TaskID()]; exists {
		return fmt.Errorf("handler already registered for task %q", h.TaskID())
	}
	r.handlers[h.TaskID()] = h
	return nil
}

// Get returns the handler for a task ID.
func (r *Registry) Get(taskID string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[taskID]
	return h, ok
}
