package transfer

import (
	"context"
	"errors"

	"gopkg.in/tomb.v2"

	"github.com/artificial-james/tombflow"
	"github.com/artificial-james/tombflow/log"
)

// ErrTerminated is the reason a worker stopped by Terminate is killed with.
var ErrTerminated = errors.New("transfer: worker terminated")

// WorkerFunc is the body of a worker. It reaches its parent only through
// control and must return once ctx is done.
type WorkerFunc func(ctx context.Context, control Port) error

// Worker runs a WorkerFunc in its own tomb and context. Nothing but
// messages on the control channel crosses between it and its parent.
type Worker struct {
	t      *tomb.Tomb
	parent Port
	child  Port
	log    *log.Logger
}

// Spawn starts fn on a new goroutine. Canceling ctx terminates it like
// Terminate does.
func Spawn(ctx context.Context, fn WorkerFunc, opts ...tombflow.Option) *Worker {
	parent, child := NewChannel()
	t, wctx := tomb.WithContext(ctx)
	w := &Worker{
		t:      t,
		parent: parent,
		child:  child,
		log:    tombflow.LoggerFrom(opts...).Named("worker").With(map[string]any{"channel": parent.ID()}),
	}

	t.Go(func() error {
		defer child.Close()
		err := fn(wctx, child)
		if err != nil {
			w.log.Debug("worker exited", map[string]any{"error": err.Error()})
		}
		return err
	})
	return w
}

// Port is the parent's end of the control channel.
func (w *Worker) Port() Port {
	return w.parent
}

// Dead is closed once the worker's body returned.
func (w *Worker) Dead() <-chan struct{} {
	return w.t.Dead()
}

// Terminate cancels the worker, waits for it and closes its control
// channel. It returns the worker's own error, if it failed before.
func (w *Worker) Terminate() error {
	w.t.Kill(ErrTerminated)
	return w.Wait()
}

// Wait blocks until the worker returns.
func (w *Worker) Wait() error {
	err := w.t.Wait()
	w.parent.Close()
	if errors.Is(err, ErrTerminated) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
