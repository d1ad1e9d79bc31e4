// Package resolver implements a single-assignment settleable value with
// observable status, used by the engine to turn action completions into
// awaitable signals.
package resolver

import (
	"context"
	"sync"
)

// Resolver is a one-shot settleable container. Settle is idempotent: only
// the first call has any effect. Await blocks until Settle has been called
// or ctx is done.
type Resolver[T any] struct {
	mu      sync.Mutex
	once    sync.Once
	done    chan struct{}
	value   T
	settled bool
}

// New creates an unsettled Resolver.
func New[T any]() *Resolver[T] {
	return &Resolver[T]{done: make(chan struct{})}
}

// Settle assigns the resolver's value. Subsequent calls are no-ops.
func (r *Resolver[T]) Settle(v T) {
	r.once.Do(func() {
		r.mu.Lock()
		r.value = v
		r.settled = true
		r.mu.Unlock()
		close(r.done)
	})
}

// SettleDefault settles with the zero value of T, used where the caller
// does not care about the observed value (e.g. a bare wakeup signal).
func (r *Resolver[T]) SettleDefault() {
	var zero T
	r.Settle(zero)
}

// IsSettled reports whether Settle has been called.
func (r *Resolver[T]) IsSettled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.settled
}

// Done returns a channel closed exactly once, the moment Settle is first called.
func (r *Resolver[T]) Done() <-chan struct{} {
	return r.done
}

// Value returns the settled value, or the zero value if not yet settled.
func (r *Resolver[T]) Value() T {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.value
}

// Await blocks until settled or ctx is done.
func (r *Resolver[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-r.done:
		return r.Value(), nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
