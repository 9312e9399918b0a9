package tombflow

import (
	"context"
	"io"
	"sync"
)

// ChanSource streams data from the input channel. Values that already are
// Chunks are enqueued as is.
type ChanSource struct {
	in <-chan interface{}
}

// NewChanSource returns a ReadableStream fed by in. The stream closes when
// in is closed.
func NewChanSource(ctx context.Context, in <-chan interface{}, opts ...Option) *ReadableStream {
	return NewReadableStream(ctx, &ChanSource{in: in}, opts...)
}

func (cs *ChanSource) Pull(ctx context.Context, c *ReadableController) error {
	select {
	case elem, ok := <-cs.in:
		if !ok {
			return c.Close()
		}
		return c.Enqueue(asChunk(elem))
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (cs *ChanSource) Cancel(context.Context, error) error {
	return nil
}

// SliceSource streams the given items in order, then closes.
type SliceSource struct {
	items []interface{}
	next  int
}

// NewSliceSource returns a ReadableStream over items.
func NewSliceSource(ctx context.Context, items []interface{}, opts ...Option) *ReadableStream {
	return NewReadableStream(ctx, &SliceSource{items: items}, opts...)
}

func (s *SliceSource) Pull(_ context.Context, c *ReadableController) error {
	if s.next >= len(s.items) {
		return c.Close()
	}
	item := s.items[s.next]
	s.next++
	return c.Enqueue(asChunk(item))
}

func (s *SliceSource) Cancel(context.Context, error) error {
	s.next = len(s.items)
	return nil
}

// DefaultChunkSize is the read size of a ReaderSource.
const DefaultChunkSize = 32 * 1024

// ReaderSource streams []byte chunks read from an io.Reader. If the reader
// is an io.Closer it is closed on cancel.
type ReaderSource struct {
	r    io.Reader
	size int
}

// NewReaderSource returns a ReadableStream over r reading up to chunkSize
// bytes per chunk. A chunkSize of zero or less uses DefaultChunkSize.
func NewReaderSource(ctx context.Context, r io.Reader, chunkSize int, opts ...Option) *ReadableStream {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return NewReadableStream(ctx, &ReaderSource{r: r, size: chunkSize}, opts...)
}

func (rs *ReaderSource) Pull(_ context.Context, c *ReadableController) error {
	buf := make([]byte, rs.size)
	n, err := rs.r.Read(buf)
	if n > 0 {
		if qerr := c.Enqueue(NewChunk(buf[:n])); qerr != nil {
			return qerr
		}
	}
	switch {
	case err == io.EOF:
		return c.Close()
	case err != nil:
		return err
	}
	return nil
}

func (rs *ReaderSource) Cancel(context.Context, error) error {
	if cl, ok := rs.r.(io.Closer); ok {
		return cl.Close()
	}
	return nil
}

// PushSource lets a producer outside the stream enqueue chunks directly.
// Push never blocks; producers that honor backpressure check DesiredSize.
type PushSource struct {
	mu   sync.Mutex
	ctrl *ReadableController
}

// NewPushSource returns the source together with its stream.
func NewPushSource(ctx context.Context, opts ...Option) (*PushSource, *ReadableStream) {
	ps := &PushSource{}
	return ps, NewReadableStream(ctx, ps, opts...)
}

func (ps *PushSource) Start(_ context.Context, c *ReadableController) error {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.ctrl = c
	return nil
}

func (ps *PushSource) Pull(context.Context, *ReadableController) error {
	return nil
}

func (ps *PushSource) Cancel(context.Context, error) error {
	return nil
}

func (ps *PushSource) controller() *ReadableController {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.ctrl
}

// Push enqueues payload.
func (ps *PushSource) Push(payload interface{}) error {
	return ps.controller().Enqueue(asChunk(payload))
}

// Close ends the stream after the buffered chunks are read.
func (ps *PushSource) Close() error {
	return ps.controller().Close()
}

// Error fails the stream.
func (ps *PushSource) Error(err error) {
	ps.controller().Error(err)
}

// DesiredSize is the room left in the stream's queue.
func (ps *PushSource) DesiredSize() int {
	return ps.controller().DesiredSize()
}

func asChunk(v interface{}) Chunk {
	if c, ok := v.(Chunk); ok {
		return c
	}
	return NewChunk(v)
}
