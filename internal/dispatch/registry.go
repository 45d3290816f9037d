package dispatch

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/mangaflow/mangaflow/internal/job"
)

// Handler executes one job's side effect. A returned error is recorded as the
// job's lastError; wrap it with job.Permanent to skip remaining attempts.
type Handler interface {
	Handle(ctx context.Context, j *job.Job) error
}

type HandlerFunc func(ctx context.Context, j *job.Job) error

func (f HandlerFunc) Handle(ctx context.Context, j *job.Job) error { return f(ctx, j) }

// Registry maps each job type to its handler. It is filled at startup.
type Registry struct {
	mu       sync.RWMutex
	handlers map[job.Type]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[job.Type]Handler)}
}

// Register adds the handler for t. Unknown types and duplicate registrations are errors.
func (r *Registry) Register(t job.Type, h Handler) error {
	if !t.Valid() {
		return fmt.Errorf("register handler: %w: %q", job.ErrUnknownType, t)
	}
	if h == nil {
		return fmt.Errorf("register handler for %s: nil handler", t)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[t]; exists {
		return fmt.Errorf("handler for %s already registered", t)
	}
	r.handlers[t] = h
	return nil
}

// Lookup returns the handler for t, or an error wrapping job.ErrUnknownType.
func (r *Registry) Lookup(t job.Type) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handlers[t]
	if !ok {
		return nil, fmt.Errorf("%w: %q", job.ErrUnknownType, t)
	}
	return h, nil
}

// Complete reports an error naming every job type without a handler.
func (r *Registry) Complete() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var missing []job.Type
	for _, t := range job.Types {
		if _, ok := r.handlers[t]; !ok {
			missing = append(missing, t)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("no handler registered for job types %v", missing)
	}
	return nil
}

func (r *Registry) Types() []job.Type {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]job.Type, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	slices.Sort(types)
	return types
}
