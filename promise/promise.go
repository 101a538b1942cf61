package promise

import (
	"context"
	"sync"
)

// Deferred is a single-assignment result slot completed from outside the
// code awaiting it. The first Resolve or Reject wins; every later
// completion attempt is a no-op. Any number of goroutines may Wait.
type Deferred[V any] struct {
	done chan struct{}
	once sync.Once
	val  V
	err  error
}

func NewDeferred[V any]() *Deferred[V] {
	return &Deferred[V]{
		done: make(chan struct{}),
	}
}

// Resolve completes the deferred successfully. Returns true if this call
// was the completing one.
func (d *Deferred[V]) Resolve(val V) bool {
	completed := false
	d.once.Do(func() {
		d.val = val
		completed = true
		close(d.done)
	})
	return completed
}

// Reject completes the deferred with a failure. Returns true if this call
// was the completing one.
func (d *Deferred[V]) Reject(err error) bool {
	completed := false
	d.once.Do(func() {
		d.err = err
		completed = true
		close(d.done)
	})
	return completed
}

// Wait parks until the deferred is completed or ctx is done. Waiting after
// completion returns immediately. A ctx error does not complete the
// deferred; other waiters are unaffected.
func (d *Deferred[V]) Wait(ctx context.Context) (V, error) {
	select {
	case <-d.done:
		return d.val, d.err
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	}
}

// Completed reports whether the deferred has been resolved or rejected,
// without waiting.
func (d *Deferred[V]) Completed() bool {
	select {
	case <-d.done:
		return true
	default:
		return false
	}
}

// All waits on every deferred and returns the values and errors in input
// order. It honors ctx the same way Wait does: positions still pending when
// ctx is done carry the ctx error.
func All[V any](ctx context.Context, deferreds ...*Deferred[V]) ([]V, []error) {
	var (
		wg      = sync.WaitGroup{}
		results = make([]V, len(deferreds))
		errors  = make([]error, len(deferreds))
	)
	wg.Add(len(deferreds))
	for i, d := range deferreds {
		go func(i int, d *Deferred[V]) {
			defer wg.Done()
			results[i], errors[i] = d.Wait(ctx)
		}(i, d)
	}
	wg.Wait()
	return results, errors
}
