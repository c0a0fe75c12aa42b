// Package worker runs the consumer side of the engine: a pool of
// goroutines draining the durable queue and dispatching jobs to their
// registered handlers.
package worker

import (
	"context"
	"fmt"

	"github.com/sundialhq/sundial/internal/job"
)

// HandlerFunc is a function that processes a job
type HandlerFunc func(context.Context, *job.Job) error

// Registry manages job handlers by kind
type Registry struct {
	handlers map[string]HandlerFunc
}

// NewRegistry creates a new handler registry
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]HandlerFunc),
	}
}

// Register adds a handler for a specific job kind
func (r *Registry) Register(kind string, handler HandlerFunc) {
	r.handlers[kind] = handler
}

// Get retrieves a handler by job kind. Returns the handler and a boolean indicating if it exists.
func (r *Registry) Get(kind string) (HandlerFunc, bool) {
	handler, exists := r.handlers[kind]
	return handler, exists
}

// Count returns the number of registered handlers
func (r *Registry) Count() int {
	return len(r.handlers)
}

// Execute runs the appropriate handler for a job
func (r *Registry) Execute(ctx context.Context, j *job.Job) error {
	handler, exists := r.Get(j.Kind)
	if !exists {
		return fmt.Errorf("no handler registered for job kind: %s", j.Kind)
	}
	return handler(ctx, j)
}
