package job

import (
	"context"
	"sync"
)

// Emitter receives the (metadata, frame) pairs a running job produces.
type Emitter interface {
	Emit(ctx context.Context, meta Meta, frame []byte) error
}

// Handler executes one job, pushing every produced result through the
// emitter. The handler must observe ctx cancellation at its iteration
// boundaries; the terminal result is published by the runner, not the
// handler.
type Handler func(ctx context.Context, j *Job, emit Emitter) error

// Registry maps job names to handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds a handler for the given job name, replacing any existing
// registration.
func (r *Registry) Register(name string, h Handler) {
	r.mu.Lock()
	r.handlers[name] = h
	r.mu.Unlock()
}

// Get returns the handler for the given job name.
func (r *Registry) Get(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

// Names returns all registered job names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		out = append(out, name)
	}
	return out
}
