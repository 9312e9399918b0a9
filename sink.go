package tombflow

import (
	"context"
	"fmt"
	"io"
	"os"
)

// ChanSink sends payloads to the output channel. The channel is closed
// when the stream closes or aborts.
type ChanSink struct {
	Out chan interface{}
}

// NewChanSink returns a WritableStream feeding out.
func NewChanSink(ctx context.Context, out chan interface{}, opts ...Option) *WritableStream {
	return NewWritableStream(ctx, &ChanSink{Out: out}, opts...)
}

func (ch *ChanSink) Write(ctx context.Context, c Chunk) error {
	select {
	case ch.Out <- c.Payload:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (ch *ChanSink) Close(context.Context) error {
	close(ch.Out)
	return nil
}

func (ch *ChanSink) Abort(context.Context, error) error {
	close(ch.Out)
	return nil
}

// WriterSink writes byte payloads to an io.Writer; other payloads are
// written in their default format followed by a newline.
type WriterSink struct {
	w io.Writer
}

// NewWriterSink returns a WritableStream over w. If w is an io.Closer it
// is closed when the stream finishes.
func NewWriterSink(ctx context.Context, w io.Writer, opts ...Option) *WritableStream {
	return NewWritableStream(ctx, &WriterSink{w: w}, opts...)
}

func (ws *WriterSink) Write(_ context.Context, c Chunk) error {
	if b, ok := c.Payload.([]byte); ok {
		_, err := ws.w.Write(b)
		return err
	}
	_, err := fmt.Fprintln(ws.w, c.Payload)
	return err
}

func (ws *WriterSink) Close(context.Context) error {
	if cl, ok := ws.w.(io.Closer); ok {
		return cl.Close()
	}
	return nil
}

func (ws *WriterSink) Abort(ctx context.Context, _ error) error {
	return ws.Close(ctx)
}

// StdoutSink sends items to stdout, one per line.
type StdoutSink struct{}

// NewStdoutSink returns a WritableStream printing every payload.
func NewStdoutSink(ctx context.Context, opts ...Option) *WritableStream {
	return NewWritableStream(ctx, StdoutSink{}, opts...)
}

func (StdoutSink) Write(_ context.Context, c Chunk) error {
	if b, ok := c.Payload.([]byte); ok {
		_, err := fmt.Fprintln(os.Stdout, string(b))
		return err
	}
	_, err := fmt.Fprintln(os.Stdout, c.Payload)
	return err
}

func (StdoutSink) Close(context.Context) error        { return nil }
func (StdoutSink) Abort(context.Context, error) error { return nil }

// IgnoreSink sends items to /dev/null.
type IgnoreSink struct{}

// NewIgnoreSink returns a WritableStream discarding every chunk.
func NewIgnoreSink(ctx context.Context, opts ...Option) *WritableStream {
	return NewWritableStream(ctx, IgnoreSink{}, opts...)
}

func (IgnoreSink) Write(context.Context, Chunk) error { return nil }
func (IgnoreSink) Close(context.Context) error        { return nil }
func (IgnoreSink) Abort(context.Context, error) error { return nil }

// FuncSink calls a function for every chunk.
type FuncSink func(ctx context.Context, c Chunk) error

// NewFuncSink returns a WritableStream calling f for every chunk.
func NewFuncSink(ctx context.Context, f func(ctx context.Context, c Chunk) error, opts ...Option) *WritableStream {
	return NewWritableStream(ctx, FuncSink(f), opts...)
}

func (f FuncSink) Write(ctx context.Context, c Chunk) error { return f(ctx, c) }
func (f FuncSink) Close(context.Context) error              { return nil }
func (f FuncSink) Abort(context.Context, error) error       { return nil }
