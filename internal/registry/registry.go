// Package registry implements the Handler Registry: a process-lifetime
// immutable mapping from job type to handler capability.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
)

// Handler processes a job payload. It may block on I/O; the registry does
// not interpret the returned error beyond success/failure.
type Handler func(ctx context.Context, payload json.RawMessage) error

// Registry is a static type → Handler map, built once at startup and never
// mutated after Build returns.
type Registry struct {
	handlers map[string]Handler
}

// Builder accumulates handler registrations before the registry is frozen.
type Builder struct {
	handlers map[string]Handler
}

// NewBuilder starts a fresh registration set.
func NewBuilder() *Builder {
	return &Builder{handlers: make(map[string]Handler)}
}

// Register adds a handler for the given job type. Panics on duplicate
// registration — a programming error caught at startup, not at runtime.
func (b *Builder) Register(jobType string, h Handler) *Builder {
	if _, exists := b.handlers[jobType]; exists {
		panic(fmt.Sprintf("registry: duplicate handler for job type %q", jobType))
	}
	b.handlers[jobType] = h
	return b
}

// Build freezes the registration set into an immutable Registry.
func (b *Builder) Build() *Registry {
	frozen := make(map[string]Handler, len(b.handlers))
	for k, v := range b.handlers {
		frozen[k] = v
	}
	return &Registry{handlers: frozen}
}

// Lookup returns the handler for a job type, or ok=false if unknown.
func (r *Registry) Lookup(jobType string) (Handler, bool) {
	h, ok := r.handlers[jobType]
	return h, ok
}
