// Package tombflow is a streaming pipeline engine with backpressure.
//
// Each stream half is driven by a single goroutine managed by a tomb, so
// the underlying source, sink or transformer never sees two calls at once.
// Stages are joined with PipeTo or a Pipeline:
//
//	err := tombflow.From(source).Via(upper).To(sink).Run(ctx)
package tombflow

import "context"

// UnderlyingSource produces chunks for a ReadableStream.
type UnderlyingSource interface {
	// Pull is called when the stream wants more data. It may enqueue zero
	// or more chunks, close or error the stream through c. Returning
	// without doing any of that is legal; Pull runs again on the next
	// readiness signal.
	Pull(ctx context.Context, c *ReadableController) error
	// Cancel releases resources after the consumer abandoned the stream.
	// Its error is logged, never propagated.
	Cancel(ctx context.Context, reason error) error
}

// ReadableStarter is implemented by sources that need the controller
// before the first pull, e.g. push-based sources. The context lives as
// long as the context the stream was created with.
type ReadableStarter interface {
	Start(ctx context.Context, c *ReadableController) error
}

// UnderlyingSink consumes chunks for a WritableStream.
type UnderlyingSink interface {
	// Write consumes one chunk; returning acknowledges it.
	Write(ctx context.Context, c Chunk) error
	// Close finalizes after the last write.
	Close(ctx context.Context) error
	// Abort is called instead of Close when the stream is torn down.
	// Its error is logged, never propagated.
	Abort(ctx context.Context, reason error) error
}

// WritableStarter is implemented by sinks that need the controller before
// the first write.
type WritableStarter interface {
	Start(ctx context.Context, c *WritableController) error
}

// Transformer maps input chunks to output chunks inside a TransformStream.
type Transformer interface {
	// Transform handles one input chunk; every output chunk must be
	// enqueued through c before it returns.
	Transform(ctx context.Context, chunk Chunk, c *TransformController) error
	// Flush is called once when the input closes cleanly.
	Flush(ctx context.Context, c *TransformController) error
}

// Inlet is a type that exposes one open input.
// Implemented by the WritableStream and TransformStream.
type Inlet interface {
	Writable() *WritableStream
}

// Outlet is a type that exposes one open output.
// Implemented by the ReadableStream and TransformStream.
type Outlet interface {
	Readable() *ReadableStream
}

// Flow is a set of stream processing steps that has one open input and one
// open output.
type Flow interface {
	Inlet
	Outlet
}

// PullFunc adapts a function to an UnderlyingSource with a no-op Cancel.
type PullFunc func(ctx context.Context, c *ReadableController) error

// Pull calls f.
func (f PullFunc) Pull(ctx context.Context, c *ReadableController) error {
	return f(ctx, c)
}

// Cancel does nothing.
func (f PullFunc) Cancel(context.Context, error) error {
	return nil
}

// TransformFunc adapts a function to a Transformer with a no-op Flush.
type TransformFunc func(ctx context.Context, chunk Chunk, c *TransformController) error

// Transform calls f.
func (f TransformFunc) Transform(ctx context.Context, chunk Chunk, c *TransformController) error {
	return f(ctx, chunk, c)
}

// Flush does nothing.
func (f TransformFunc) Flush(context.Context, *TransformController) error {
	return nil
}
