package tombflow

import (
	"context"
	"io"
	"sync"

	"gopkg.in/tomb.v2"

	"github.com/artificial-james/tombflow/log"
)

type writableState int

const (
	writable writableState = iota
	writableClosing
	writableClosed
	writableErrored
)

func (s writableState) String() string {
	switch s {
	case writable:
		return "writable"
	case writableClosing:
		return "closing"
	case writableClosed:
		return "closed"
	default:
		return "errored"
	}
}

// WritableStream queues chunks for an UnderlyingSink and writes them one at
// a time, in order.
//
//	producer --Write--> [queue] --Write--> sink
//
// Every write is acknowledged by a Future that settles after the sink
// consumed the chunk.
type WritableStream struct {
	name  string
	sink  UnderlyingSink
	ctrl  *WritableController
	queue *Queue
	log   *log.Logger
	obs   Observer

	t   *tomb.Tomb
	ctx context.Context

	mu            sync.Mutex
	locked        bool
	state         writableState
	err           error
	acks          []*Future
	inflight      bool
	closeAck      *Future
	closeInflight bool

	finalize sync.Once
}

// NewWritableStream starts a stream over sink. Canceling ctx errors the
// stream with ctx.Err(). A nil sink discards chunks.
func NewWritableStream(ctx context.Context, sink UnderlyingSink, opts ...Option) *WritableStream {
	o := buildOptions(opts)
	return newWritable(ctx, sink, o, o.hwm)
}

func newWritable(ctx context.Context, sink UnderlyingSink, o options, hwm int) *WritableStream {
	if sink == nil {
		sink = IgnoreSink{}
	}
	ws := &WritableStream{
		name:  o.name,
		sink:  sink,
		queue: NewQueue(hwm, o.sizeOf),
		log:   o.logger.Named("writable"),
		obs:   o.observer,
	}
	ws.ctrl = &WritableController{stream: ws}
	ws.t, ws.ctx = tomb.WithContext(ctx)

	if s, ok := sink.(WritableStarter); ok {
		if err := s.Start(ctx, ws.ctrl); err != nil {
			ws.fail(err)
		}
	}
	ws.t.Go(ws.run)
	return ws
}

func (ws *WritableStream) run() error {
	for {
		c, err := ws.queue.Peek(ws.ctx)
		if err == io.EOF {
			ws.finishClose()
			return nil
		}
		if err != nil {
			ws.fail(reasonFor(ws.t, err))
			return nil
		}

		ws.mu.Lock()
		if ws.state == writableErrored {
			ws.mu.Unlock()
			return nil
		}
		ws.inflight = true
		ws.mu.Unlock()

		werr := ws.sink.Write(ws.ctx, c)

		ws.mu.Lock()
		ws.inflight = false
		var ack *Future
		if len(ws.acks) > 0 {
			ack = ws.acks[0]
			ws.acks = ws.acks[1:]
		}
		if ws.state == writableErrored {
			stored := ws.err
			ws.mu.Unlock()
			ack.settle(stored)
			return nil
		}
		ws.mu.Unlock()

		if werr != nil {
			werr = reasonFor(ws.t, werr)
			ws.fail(werr)
			ack.settle(werr)
			return nil
		}
		if _, size, ok := ws.queue.shift(); ok {
			ws.obs.Dequeued(ws.name, size)
		}
		ack.settle(nil)
	}
}

func (ws *WritableStream) finishClose() {
	ws.mu.Lock()
	if ws.state != writableClosing {
		ws.mu.Unlock()
		return
	}
	ws.closeInflight = true
	ws.mu.Unlock()

	var err error
	ws.finalize.Do(func() {
		err = ws.sink.Close(ws.ctx)
	})

	ws.mu.Lock()
	ws.closeInflight = false
	ack := ws.closeAck
	if ws.state == writableErrored {
		stored := ws.err
		ws.mu.Unlock()
		ack.settle(stored)
		return
	}
	if err != nil {
		ws.mu.Unlock()
		ws.fail(err)
		ack.settle(err)
		return
	}
	ws.state = writableClosed
	ws.mu.Unlock()

	ws.obs.Closed(ws.name)
	ack.settle(nil)
}

// fail moves the stream to errored, rejecting every queued write except the
// one the sink is handling. It reports false if the stream had finished.
func (ws *WritableStream) fail(err error) bool {
	if err == nil {
		err = ErrCanceled
	}

	ws.mu.Lock()
	if ws.state == writableClosed || ws.state == writableErrored {
		ws.mu.Unlock()
		return false
	}
	ws.state = writableErrored
	ws.err = err
	keep := 0
	if ws.inflight && len(ws.acks) > 0 {
		keep = 1
	}
	rejected := append([]*Future(nil), ws.acks[keep:]...)
	ws.acks = ws.acks[:keep]
	if ws.closeAck != nil && !ws.closeInflight {
		rejected = append(rejected, ws.closeAck)
	}
	ws.mu.Unlock()

	for _, f := range rejected {
		f.settle(err)
	}
	ws.queue.SignalError(err)
	ws.t.Kill(err)
	ws.obs.Errored(ws.name, err)
	ws.log.Debug("stream errored", map[string]any{"stream": ws.name, "error": err.Error()})
	return true
}

// Writable returns ws, so a WritableStream is an Inlet.
func (ws *WritableStream) Writable() *WritableStream {
	return ws
}

// Name returns the label set with WithName.
func (ws *WritableStream) Name() string {
	return ws.name
}

// Locked reports whether a Writer or a pipe holds the stream.
func (ws *WritableStream) Locked() bool {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws.locked
}

// State returns "writable", "closing", "closed" or "errored".
func (ws *WritableStream) State() string {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws.state.String()
}

// Err returns the error the stream failed with, if any.
func (ws *WritableStream) Err() error {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws.err
}

// DesiredSize is the room left below the high-water mark.
func (ws *WritableStream) DesiredSize() int {
	return ws.queue.DesiredSize()
}

// Done is closed once the stream finished and its goroutine exited.
func (ws *WritableStream) Done() <-chan struct{} {
	return ws.t.Dead()
}

// Ready blocks until the queued weight drops below the high-water mark.
// It fails once the stream is closing or errored.
func (ws *WritableStream) Ready(ctx context.Context) error {
	return ws.queue.WaitReady(ctx)
}

// WriteAsync queues c and returns its acknowledgement.
func (ws *WritableStream) WriteAsync(c Chunk) *Future {
	if ws.Locked() {
		return failedFuture(ErrLocked)
	}
	return ws.write(c)
}

// Write queues c and waits for the sink to consume it.
func (ws *WritableStream) Write(ctx context.Context, c Chunk) error {
	return ws.WriteAsync(c).Wait(ctx)
}

func (ws *WritableStream) write(c Chunk) *Future {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	switch ws.state {
	case writableErrored:
		return failedFuture(erroredError(ws.err))
	case writableClosing, writableClosed:
		return failedFuture(ErrClosed)
	}
	size, err := ws.queue.enqueue(c)
	if err != nil {
		return failedFuture(err)
	}
	ack := newFuture()
	ws.acks = append(ws.acks, ack)
	ws.obs.Enqueued(ws.name, size)
	return ack
}

// Close waits for queued writes, then closes the sink. Closing twice fails
// with ErrClosed; the sink is finalized at most once.
func (ws *WritableStream) Close(ctx context.Context) error {
	if ws.Locked() {
		return ErrLocked
	}
	return ws.close(ctx)
}

func (ws *WritableStream) close(ctx context.Context) error {
	ws.mu.Lock()
	switch ws.state {
	case writableErrored:
		err := erroredError(ws.err)
		ws.mu.Unlock()
		return err
	case writableClosing, writableClosed:
		ws.mu.Unlock()
		return ErrClosed
	}
	ws.state = writableClosing
	ack := newFuture()
	ws.closeAck = ack
	ws.queue.Close()
	ws.mu.Unlock()

	return ack.Wait(ctx)
}

// Abort tears the stream down: queued writes are rejected with reason and
// the sink's Abort runs once, after any in-flight write returned. Aborting
// a closed or errored stream is a no-op.
func (ws *WritableStream) Abort(ctx context.Context, reason error) error {
	if ws.Locked() {
		return ErrLocked
	}
	return ws.abort(ctx, reason)
}

func (ws *WritableStream) abort(ctx context.Context, reason error) error {
	if reason == nil {
		reason = ErrCanceled
	}
	if !ws.fail(reason) {
		return nil
	}

	select {
	case <-ws.t.Dead():
	case <-ctx.Done():
		return ctx.Err()
	}

	ws.finalize.Do(func() {
		if err := ws.sink.Abort(ctx, reason); err != nil {
			ws.log.Warn("sink abort failed", map[string]any{"stream": ws.name, "error": err.Error()})
		}
	})
	return nil
}

// GetWriter locks the stream to the returned Writer.
func (ws *WritableStream) GetWriter() (*Writer, error) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if ws.locked {
		return nil, ErrLocked
	}
	ws.locked = true
	return &Writer{stream: ws}, nil
}

// Writer is the exclusive producer handle of a WritableStream.
type Writer struct {
	stream *WritableStream

	mu       sync.Mutex
	released bool
}

func (w *Writer) active() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return !w.released
}

// Stream returns the locked stream.
func (w *Writer) Stream() *WritableStream {
	return w.stream
}

// Ready is WritableStream.Ready.
func (w *Writer) Ready(ctx context.Context) error {
	return w.stream.Ready(ctx)
}

// DesiredSize is WritableStream.DesiredSize.
func (w *Writer) DesiredSize() int {
	return w.stream.DesiredSize()
}

// WriteAsync is WritableStream.WriteAsync through the lock.
func (w *Writer) WriteAsync(c Chunk) *Future {
	if !w.active() {
		return failedFuture(errReleased)
	}
	return w.stream.write(c)
}

// Write is WritableStream.Write through the lock.
func (w *Writer) Write(ctx context.Context, c Chunk) error {
	return w.WriteAsync(c).Wait(ctx)
}

// Close is WritableStream.Close through the lock.
func (w *Writer) Close(ctx context.Context) error {
	if !w.active() {
		return errReleased
	}
	return w.stream.close(ctx)
}

// Abort is WritableStream.Abort through the lock.
func (w *Writer) Abort(ctx context.Context, reason error) error {
	if !w.active() {
		return errReleased
	}
	return w.stream.abort(ctx, reason)
}

// Release unlocks the stream. Further calls on w fail.
func (w *Writer) Release() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.released {
		return
	}
	w.released = true

	w.stream.mu.Lock()
	w.stream.locked = false
	w.stream.mu.Unlock()
}

// WritableController is handed to the sink to fail its stream.
type WritableController struct {
	stream *WritableStream
}

// Error fails the stream with err. Queued writes are rejected; the sink's
// Abort is not called.
func (c *WritableController) Error(err error) {
	c.stream.fail(err)
}

// DesiredSize is the room left below the high-water mark.
func (c *WritableController) DesiredSize() int {
	return c.stream.queue.DesiredSize()
}
