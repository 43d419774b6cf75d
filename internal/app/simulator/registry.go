package simulator

import (
	"context"
	"sync"
)

// unit is one truck's running workflow: a cancellable goroutine.
type unit struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Registry tracks the active workflow unit per truck. Starting a second
// unit for a truck already present is a no-op, which is what makes
// replayed truck.assigned messages harmless. Units remove themselves on
// exit whether they finish, fail, or get cancelled.
type Registry struct {
	mu    sync.Mutex
	units map[int64]*unit
	wg    sync.WaitGroup
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{units: make(map[int64]*unit)}
}

// Start launches fn as the truck's workflow unit unless one is already
// active. The unit's context is cancelled either individually (Cancel)
// or collectively when parent is cancelled.
func (r *Registry) Start(parent context.Context, truckID int64, fn func(ctx context.Context)) bool {
	r.mu.Lock()
	if _, exists := r.units[truckID]; exists {
		r.mu.Unlock()
		return false
	}

	ctx, cancel := context.WithCancel(parent)
	u := &unit{cancel: cancel, done: make(chan struct{})}
	r.units[truckID] = u
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer func() {
			cancel()
			close(u.done)
			r.mu.Lock()
			delete(r.units, truckID)
			r.mu.Unlock()
			r.wg.Done()
		}()
		fn(ctx)
	}()

	return true
}

// Active reports whether the truck has a running unit.
func (r *Registry) Active(truckID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.units[truckID]
	return ok
}

// Cancel stops the truck's unit if one is active and returns a channel
// that closes once the unit has fully exited. The second return is
// false when no unit was running.
func (r *Registry) Cancel(truckID int64) (<-chan struct{}, bool) {
	r.mu.Lock()
	u, ok := r.units[truckID]
	r.mu.Unlock()
	if !ok {
		return nil, false
	}
	u.cancel()
	return u.done, true
}

// Shutdown cancels every active unit and waits for all of them to exit.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	for _, u := range r.units {
		u.cancel()
	}
	r.mu.Unlock()
	r.wg.Wait()
}
