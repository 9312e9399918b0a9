package tombflow

import (
	"context"
	"io"

	"go.uber.org/multierr"
)

type pipeOptions struct {
	preventClose  bool
	preventAbort  bool
	preventCancel bool
}

// PipeOption adjusts how PipeTo propagates the end of either stream.
type PipeOption func(*pipeOptions)

// PreventClose leaves dst open when src closes. PipeTo still waits for the
// piped writes to finish.
func PreventClose() PipeOption {
	return func(o *pipeOptions) { o.preventClose = true }
}

// PreventAbort leaves dst untouched when src errors.
func PreventAbort() PipeOption {
	return func(o *pipeOptions) { o.preventAbort = true }
}

// PreventCancel leaves src untouched when dst errors or closes.
func PreventCancel() PipeOption {
	return func(o *pipeOptions) { o.preventCancel = true }
}

// PipeTo streams every chunk from src to dst until one side finishes, then
// propagates the outcome:
//
//   - src closes: dst is closed after the queued writes (PreventClose)
//   - src errors: dst is aborted with the error (PreventAbort)
//   - dst errors: src is canceled with the error (PreventCancel)
//   - dst closes: src is canceled with ErrClosed (PreventCancel)
//   - ctx is done: dst is aborted and src canceled with its cause
//
// Both streams are locked while it runs and released afterwards.
func PipeTo(ctx context.Context, src Outlet, dst Inlet, opts ...PipeOption) error {
	r, err := src.Readable().GetReader()
	if err != nil {
		return err
	}
	defer r.Release()

	w, err := dst.Writable().GetWriter()
	if err != nil {
		return err
	}
	defer w.Release()

	return Pipe(ctx, r, w, opts...)
}

// Pipe is PipeTo over locks the caller already holds. The locks stay held
// when it returns.
func Pipe(ctx context.Context, r *Reader, w *Writer, opts ...PipeOption) error {
	var o pipeOptions
	for _, opt := range opts {
		opt(&o)
	}

	rs, ws := r.Stream(), w.Stream()
	pctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go watchPipe(pctx, cancel, rs, ws)

	var (
		readErr error
		last    *Future
	)
	for {
		if err := w.Ready(pctx); err != nil {
			break
		}
		c, err := r.Read(pctx)
		if err != nil {
			readErr = err
			break
		}
		last = w.WriteAsync(c)
	}

	return settlePipe(ctx, r, w, readErr, last, o)
}

// watchPipe cancels the pipe's context as soon as either stream fails, so
// a pipe blocked on the other side wakes up.
func watchPipe(ctx context.Context, cancel context.CancelFunc, rs *ReadableStream, ws *WritableStream) {
	rsDone, wsDone := rs.queue.Done(), ws.queue.Done()
	for rsDone != nil || wsDone != nil {
		select {
		case <-rsDone:
			if !rs.closedCleanly() {
				cancel()
				return
			}
			rsDone = nil
		case <-wsDone:
			if ws.State() == "errored" {
				cancel()
				return
			}
			wsDone = nil
		case <-ctx.Done():
			return
		}
	}
}

func settlePipe(ctx context.Context, r *Reader, w *Writer, readErr error, last *Future, o pipeOptions) error {
	rs, ws := r.Stream(), w.Stream()
	bg := context.Background()
	logger := rs.log.With(map[string]any{"source": rs.name, "dest": ws.name})

	var reason, teardown error
	switch {
	case ctx.Err() != nil:
		reason = context.Cause(ctx)
		if !o.preventAbort {
			teardown = multierr.Append(teardown, w.Abort(bg, reason))
		}
		if !o.preventCancel {
			teardown = multierr.Append(teardown, r.Cancel(bg, reason))
		}
	case rs.State() == "errored":
		reason = rs.Err()
		if !o.preventAbort {
			teardown = w.Abort(bg, reason)
		}
	case ws.State() == "errored":
		reason = ws.Err()
		if !o.preventCancel {
			teardown = r.Cancel(bg, reason)
		}
	case readErr == io.EOF || rs.State() == "closed":
		if o.preventClose {
			if last == nil {
				return nil
			}
			return last.Wait(ctx)
		}
		if err := w.Close(ctx); err != nil {
			if stored := ws.Err(); stored != nil {
				return stored
			}
			return err
		}
		return nil
	default:
		reason = ErrClosed
		if !o.preventCancel {
			teardown = r.Cancel(bg, reason)
		}
	}

	if teardown != nil {
		logger.Warn("pipe teardown failed", map[string]any{"error": teardown.Error()})
	}
	logger.Debug("pipe finished", map[string]any{"reason": reason.Error()})
	return reason
}
