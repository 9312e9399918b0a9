package tombflow

import (
	"context"
	"sync"
)

// Future is the acknowledgement of an asynchronous stream operation.
type Future struct {
	once sync.Once
	done chan struct{}
	err  error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// failedFuture returns a future that is already settled with err.
func failedFuture(err error) *Future {
	f := newFuture()
	f.settle(err)
	return f
}

func (f *Future) settle(err error) {
	if f == nil {
		return
	}
	f.once.Do(func() {
		f.err = err
		close(f.done)
	})
}

// Done is closed once the operation settled.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Err returns the outcome. It is nil until Done is closed.
func (f *Future) Err() error {
	select {
	case <-f.done:
		return f.err
	default:
		return nil
	}
}

// Wait blocks until the operation settled or ctx is done.
func (f *Future) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
