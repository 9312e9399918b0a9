package tombflow

import (
	"context"
	"io"
	"iter"
	"sync"

	"gopkg.in/tomb.v2"

	"github.com/artificial-james/tombflow/log"
)

// ReadableStream buffers chunks produced by an UnderlyingSource and hands
// them to one consumer at a time.
//
//	source --Pull--> [queue] --Read--> consumer
//
// Pull is called from the stream's own goroutine while the buffered weight
// is below the high-water mark or more reads are waiting than chunks are
// buffered.
type ReadableStream struct {
	name   string
	source UnderlyingSource
	ctrl   *ReadableController
	queue  *Queue
	log    *log.Logger
	obs    Observer

	t   *tomb.Tomb
	ctx context.Context

	mu           sync.Mutex
	locked       bool
	canceled     bool
	cancelReason error
	cancelOnce   sync.Once

	wake chan struct{}
}

// NewReadableStream starts a stream over source. Canceling ctx errors the
// stream with ctx.Err(). A nil source never produces data on its own; use
// the controller handed to a ReadableStarter to push chunks instead.
func NewReadableStream(ctx context.Context, source UnderlyingSource, opts ...Option) *ReadableStream {
	o := buildOptions(opts)
	return newReadable(ctx, source, o, o.hwm)
}

func newReadable(ctx context.Context, source UnderlyingSource, o options, hwm int) *ReadableStream {
	if source == nil {
		source = PullFunc(func(context.Context, *ReadableController) error { return nil })
	}
	rs := &ReadableStream{
		name:   o.name,
		source: source,
		queue:  NewQueue(hwm, o.sizeOf),
		log:    o.logger.Named("readable"),
		obs:    o.observer,
		wake:   make(chan struct{}, 1),
	}
	rs.ctrl = &ReadableController{stream: rs}
	rs.t, rs.ctx = tomb.WithContext(ctx)

	if s, ok := source.(ReadableStarter); ok {
		if err := s.Start(ctx, rs.ctrl); err != nil {
			rs.fail(err)
		}
	}
	rs.nudge()
	rs.t.Go(rs.run)
	return rs
}

func (rs *ReadableStream) run() error {
	defer rs.report()
	for {
		select {
		case <-rs.wake:
		case <-rs.queue.Done():
			return nil
		case <-rs.t.Dying():
			rs.fail(rs.t.Err())
			return nil
		}
		if !rs.shouldPull() {
			continue
		}
		if err := rs.source.Pull(rs.ctx, rs.ctrl); err != nil {
			rs.fail(reasonFor(rs.t, err))
			return nil
		}
	}
}

// report emits the terminal observer event once the driver exits.
func (rs *ReadableStream) report() {
	rs.mu.Lock()
	canceled, reason := rs.canceled, rs.cancelReason
	rs.mu.Unlock()

	switch {
	case canceled:
		rs.obs.Errored(rs.name, reason)
	case rs.queue.State() == queueErrored.String():
		rs.obs.Errored(rs.name, rs.queue.Err())
	default:
		rs.obs.Closed(rs.name)
	}
}

func (rs *ReadableStream) nudge() {
	select {
	case rs.wake <- struct{}{}:
	default:
	}
}

func (rs *ReadableStream) shouldPull() bool {
	s := rs.queue.snapshot()
	if s.state != queueOpen {
		return false
	}
	return rs.queue.HighWaterMark()-s.size > 0 || s.readers > s.len
}

// hasBackpressure reports whether the stream would decline to pull now.
func (rs *ReadableStream) hasBackpressure() bool {
	s := rs.queue.snapshot()
	return rs.queue.HighWaterMark()-s.size <= 0 && s.readers <= s.len
}

func (rs *ReadableStream) fail(err error) {
	if err == nil {
		err = ErrCanceled
	}
	if rs.queue.SignalError(err) {
		rs.log.Debug("stream errored", map[string]any{"stream": rs.name, "error": err.Error()})
		rs.t.Kill(err)
	}
}

// Readable returns rs, so a ReadableStream is an Outlet.
func (rs *ReadableStream) Readable() *ReadableStream {
	return rs
}

// Name returns the label set with WithName.
func (rs *ReadableStream) Name() string {
	return rs.name
}

// Locked reports whether a Reader or a pipe holds the stream.
func (rs *ReadableStream) Locked() bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.locked
}

// State returns "readable", "closed" or "errored".
func (rs *ReadableStream) State() string {
	switch rs.queue.State() {
	case "closed":
		return "closed"
	case "errored":
		return "errored"
	}
	return "readable"
}

// Err returns the error the stream failed with, if any.
func (rs *ReadableStream) Err() error {
	return rs.queue.Err()
}

// terminalErr is the reason a finished stream stopped accepting chunks.
func (rs *ReadableStream) terminalErr() error {
	if err := rs.queue.Err(); err != nil {
		return err
	}
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.canceled {
		return rs.cancelReason
	}
	return ErrClosed
}

// closedCleanly reports a stream that closed and drained without being
// canceled.
func (rs *ReadableStream) closedCleanly() bool {
	if rs.queue.State() != "closed" {
		return false
	}
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return !rs.canceled
}

// DesiredSize is the room left below the high-water mark.
func (rs *ReadableStream) DesiredSize() int {
	return rs.queue.DesiredSize()
}

// Done is closed once the stream finished and its goroutine exited.
func (rs *ReadableStream) Done() <-chan struct{} {
	return rs.t.Dead()
}

// Read returns the next chunk, waiting for the source if needed. It returns
// io.EOF once the stream closed and drained.
func (rs *ReadableStream) Read(ctx context.Context) (Chunk, error) {
	if rs.Locked() {
		return Chunk{}, ErrLocked
	}
	return rs.read(ctx)
}

func (rs *ReadableStream) read(ctx context.Context) (Chunk, error) {
	if rs.queue.State() == "errored" {
		return Chunk{}, erroredError(rs.queue.Err())
	}

	rs.queue.addReader()
	rs.nudge()

	c, size, err := rs.queue.take(ctx)
	if err != nil {
		return Chunk{}, err
	}
	rs.obs.Dequeued(rs.name, size)
	rs.nudge()
	return c, nil
}

// Cancel abandons the stream: buffered chunks are discarded, pending reads
// return io.EOF and the source's Cancel runs once with reason. Canceling a
// closed stream is a no-op; canceling an errored one returns its error.
func (rs *ReadableStream) Cancel(ctx context.Context, reason error) error {
	if rs.Locked() {
		return ErrLocked
	}
	return rs.cancel(ctx, reason)
}

func (rs *ReadableStream) cancel(ctx context.Context, reason error) error {
	if reason == nil {
		reason = ErrCanceled
	}

	rs.mu.Lock()
	if !rs.queue.Reset() {
		rs.mu.Unlock()
		return rs.queue.Err()
	}
	rs.canceled = true
	rs.cancelReason = reason
	rs.mu.Unlock()

	rs.t.Kill(reason)
	select {
	case <-rs.t.Dead():
	case <-ctx.Done():
		return ctx.Err()
	}

	rs.cancelOnce.Do(func() {
		if err := rs.source.Cancel(ctx, reason); err != nil {
			rs.log.Warn("source cancel failed", map[string]any{"stream": rs.name, "error": err.Error()})
		}
	})
	return nil
}

// GetReader locks the stream to the returned Reader.
func (rs *ReadableStream) GetReader() (*Reader, error) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.locked {
		return nil, ErrLocked
	}
	rs.locked = true
	return &Reader{stream: rs}, nil
}

// Values locks rs and iterates over its chunks until the stream closes. A
// failed read is yielded once, ending the iteration. Stopping early cancels
// the stream. The lock is released when the iteration ends.
func (rs *ReadableStream) Values(ctx context.Context) iter.Seq2[Chunk, error] {
	return func(yield func(Chunk, error) bool) {
		r, err := rs.GetReader()
		if err != nil {
			yield(Chunk{}, err)
			return
		}
		defer r.Release()

		for {
			c, err := r.Read(ctx)
			if err == io.EOF {
				return
			}
			if err != nil {
				yield(Chunk{}, err)
				return
			}
			if !yield(c, nil) {
				_ = r.Cancel(context.Background(), nil)
				return
			}
		}
	}
}

// Reader is the exclusive consumer handle of a ReadableStream.
type Reader struct {
	stream *ReadableStream

	mu       sync.Mutex
	released bool
}

var errReleased = NewError(CodeLocked, "reader was released", nil)

func (r *Reader) active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.released
}

// Stream returns the locked stream.
func (r *Reader) Stream() *ReadableStream {
	return r.stream
}

// Read is ReadableStream.Read through the lock.
func (r *Reader) Read(ctx context.Context) (Chunk, error) {
	if !r.active() {
		return Chunk{}, errReleased
	}
	return r.stream.read(ctx)
}

// Cancel is ReadableStream.Cancel through the lock.
func (r *Reader) Cancel(ctx context.Context, reason error) error {
	if !r.active() {
		return errReleased
	}
	return r.stream.cancel(ctx, reason)
}

// Release unlocks the stream. Further calls on r fail.
func (r *Reader) Release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released {
		return
	}
	r.released = true

	r.stream.mu.Lock()
	r.stream.locked = false
	r.stream.mu.Unlock()
}

// ReadableController is handed to the source to feed its stream.
type ReadableController struct {
	stream *ReadableStream
}

// Enqueue buffers c. It fails with ErrClosed once the stream stopped
// accepting chunks.
func (c *ReadableController) Enqueue(chunk Chunk) error {
	rs := c.stream
	size, err := rs.queue.enqueue(chunk)
	if err != nil {
		return err
	}
	rs.obs.Enqueued(rs.name, size)
	rs.nudge()
	return nil
}

// Close ends the stream after the buffered chunks are read.
func (c *ReadableController) Close() error {
	err := c.stream.queue.Close()
	c.stream.nudge()
	return err
}

// Error fails the stream with err, discarding buffered chunks.
func (c *ReadableController) Error(err error) {
	c.stream.fail(err)
}

// DesiredSize is the room left below the high-water mark.
func (c *ReadableController) DesiredSize() int {
	return c.stream.queue.DesiredSize()
}

// reasonFor prefers the tomb's kill reason over an error that is only a
// consequence of the tomb's context being canceled.
func reasonFor(t *tomb.Tomb, err error) error {
	select {
	case <-t.Dying():
		if reason := t.Err(); reason != nil {
			return reason
		}
	default:
	}
	return err
}
