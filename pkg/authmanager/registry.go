package authmanager

import (
	"context"
	"sync"
)

// GlobalOptions configures the Manager a Registry creates.
type GlobalOptions[P any] struct {
	Options[P]

	// RefreshOnInit runs Restore right after the Manager is created, resuming
	// a persisted session.
	RefreshOnInit bool
}

// Registry lazily owns at most one Manager built from global options. It is
// for applications that want a process-wide session; everything else should
// pass a *Manager around explicitly.
type Registry[P any] struct {
	mu       sync.Mutex
	opts     *GlobalOptions[P]
	instance *Manager[P]
}

// NewRegistry returns an empty registry.
func NewRegistry[P any]() *Registry[P] {
	return &Registry[P]{}
}

// SetGlobalOptions sets the options used by the next Get that has to create
// a Manager. nil clears them. An existing Manager is not affected.
func (r *Registry[P]) SetGlobalOptions(opts *GlobalOptions[P]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if opts == nil {
		r.opts = nil
		return
	}
	cp := *opts
	r.opts = &cp
}

func (r *Registry[P]) HasGlobalOptions() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.opts != nil
}

func (r *Registry[P]) IsInitialized() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.instance != nil
}

// TryGet returns the current Manager without creating one.
func (r *Registry[P]) TryGet() (*Manager[P], error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.instance == nil {
		return nil, ErrNotInitialized
	}
	return r.instance, nil
}

// Get returns the current Manager, creating it from the global options if
// needed. When RefreshOnInit is set the creating call also waits for Restore;
// concurrent callers get the same Manager while it is still pending.
func (r *Registry[P]) Get(ctx context.Context) (*Manager[P], error) {
	r.mu.Lock()
	if r.instance != nil {
		m := r.instance
		r.mu.Unlock()
		return m, nil
	}
	if r.opts == nil {
		r.mu.Unlock()
		return nil, ErrNoGlobalOptions
	}
	opts := *r.opts
	m, err := New(opts.Options)
	if err != nil {
		r.mu.Unlock()
		return nil, err
	}
	r.instance = m
	r.mu.Unlock()

	if opts.RefreshOnInit {
		if err := m.Restore(ctx); err != nil {
			return m, err
		}
	}
	return m, nil
}

// Dispose disposes the current Manager, if any. The next Get creates a new one.
func (r *Registry[P]) Dispose() {
	r.mu.Lock()
	m := r.instance
	r.instance = nil
	r.mu.Unlock()

	if m != nil {
		m.Dispose()
	}
}
