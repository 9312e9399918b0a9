package tombflow

import (
	"context"
	"sync"
)

var errTerminated = NewError(CodeClosed, "transform stream terminated", nil)

// TransformStream couples a WritableStream to a ReadableStream through a
// Transformer.
//
//	Write --> [writable queue] --Transform--> [readable queue] --> Read
//
// Transform is not called while the readable side has backpressure: by
// default the readable high-water mark is 0, so each input chunk waits for
// a pending read downstream.
type TransformStream struct {
	name        string
	transformer Transformer
	readable    *ReadableStream
	writable    *WritableStream
	ctrl        *TransformController

	mu           sync.Mutex
	backpressure bool
	bpChanged    chan struct{}
}

// Verify TransformStream satisfies the Flow interface.
var _ Flow = (*TransformStream)(nil)

// NewTransformStream starts both halves. A nil transformer passes chunks
// through unchanged. WithHighWaterMark sizes the writable side and
// WithReadableHighWaterMark the readable side.
func NewTransformStream(ctx context.Context, transformer Transformer, opts ...Option) *TransformStream {
	o := buildOptions(opts)
	if transformer == nil {
		transformer = PassThrough{}
	}
	ts := &TransformStream{
		name:         o.name,
		transformer:  transformer,
		backpressure: true,
		bpChanged:    make(chan struct{}),
	}
	ts.ctrl = &TransformController{stream: ts}

	readableHWM := 0
	if o.readableSet {
		readableHWM = o.readableHWM
	}
	ts.readable = newReadable(ctx, &transformSource{ts}, o, readableHWM)
	ts.writable = newWritable(ctx, &transformSink{ts}, o, o.hwm)
	return ts
}

// Readable returns the output side.
func (ts *TransformStream) Readable() *ReadableStream {
	return ts.readable
}

// Writable returns the input side.
func (ts *TransformStream) Writable() *WritableStream {
	return ts.writable
}

// Name returns the label set with WithName.
func (ts *TransformStream) Name() string {
	return ts.name
}

func (ts *TransformStream) setBackpressureLocked(bp bool) {
	if ts.backpressure == bp {
		return
	}
	ts.backpressure = bp
	close(ts.bpChanged)
	ts.bpChanged = make(chan struct{})
}

func (ts *TransformStream) setBackpressure(bp bool) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.setBackpressureLocked(bp)
}

func (ts *TransformStream) waitBackpressure(ctx context.Context) error {
	for {
		ts.mu.Lock()
		if !ts.backpressure {
			ts.mu.Unlock()
			return nil
		}
		ch := ts.bpChanged
		ts.mu.Unlock()

		select {
		case <-ch:
		case <-ts.readable.queue.Done():
			return ts.readable.terminalErr()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// fail errors both halves.
func (ts *TransformStream) fail(err error) {
	ts.readable.fail(err)
	ts.writable.fail(err)
}

type transformSource struct {
	ts *TransformStream
}

func (s *transformSource) Pull(context.Context, *ReadableController) error {
	s.ts.setBackpressure(false)
	return nil
}

func (s *transformSource) Cancel(_ context.Context, reason error) error {
	s.ts.writable.fail(reason)
	s.ts.setBackpressure(false)
	return nil
}

type transformSink struct {
	ts *TransformStream
}

func (s *transformSink) Write(ctx context.Context, c Chunk) error {
	ts := s.ts
	if err := ts.waitBackpressure(ctx); err != nil {
		return err
	}
	if err := ts.transformer.Transform(ctx, c, ts.ctrl); err != nil {
		ts.fail(err)
		return err
	}
	return nil
}

func (s *transformSink) Close(ctx context.Context) error {
	ts := s.ts
	if err := ts.transformer.Flush(ctx, ts.ctrl); err != nil {
		ts.fail(err)
		return err
	}
	if err := ts.readable.ctrl.Close(); err != nil {
		return ts.readable.terminalErr()
	}
	return nil
}

func (s *transformSink) Abort(_ context.Context, reason error) error {
	s.ts.readable.fail(reason)
	return nil
}

// TransformController is handed to the Transformer to emit output.
type TransformController struct {
	stream *TransformStream
}

// Enqueue emits chunk on the readable side. Enqueueing after the readable
// side closed or errored fails and errors the writable side.
func (c *TransformController) Enqueue(chunk Chunk) error {
	ts := c.stream
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if err := ts.readable.ctrl.Enqueue(chunk); err != nil {
		err = ts.readable.terminalErr()
		ts.writable.fail(err)
		return err
	}
	ts.setBackpressureLocked(ts.readable.hasBackpressure())
	return nil
}

// Error fails both sides with err.
func (c *TransformController) Error(err error) {
	c.stream.fail(err)
}

// Terminate closes the readable side and fails further writes.
func (c *TransformController) Terminate() {
	ts := c.stream
	ts.readable.ctrl.Close()
	ts.writable.fail(errTerminated)
	ts.setBackpressure(false)
}

// DesiredSize is the room left on the readable side.
func (c *TransformController) DesiredSize() int {
	return c.stream.readable.DesiredSize()
}
