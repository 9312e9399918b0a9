package tombflow

import (
	"context"
	"fmt"
	"io"
	"sync"

	"go.uber.org/multierr"
)

// Tee locks rs and splits it into two branches that each see every chunk.
// A chunk is read from rs only when a branch wants one, and is then
// enqueued to both branches; payloads are shared, not copied. A source
// error or close reaches both branches. rs is canceled once both branches
// were canceled, with both reasons combined.
//
// Branches default to a high-water mark of one chunk.
func (rs *ReadableStream) Tee(ctx context.Context, opts ...Option) (*ReadableStream, *ReadableStream, error) {
	r, err := rs.GetReader()
	if err != nil {
		return nil, nil, err
	}

	o := buildOptions(append([]Option{WithHighWaterMark(1), WithSizeFunc(CountChunks)}, opts...))
	base := o.name
	if base == "" {
		base = rs.name
	}

	t := &tee{
		reader: r,
		sem:    make(chan struct{}, 1),
		ready:  make(chan struct{}),
	}
	var out [2]*ReadableStream
	for i := range t.branches {
		b := &teeBranch{tee: t, idx: i}
		t.branches[i] = b
		bo := o
		bo.name = fmt.Sprintf("%s/tee%d", base, i+1)
		out[i] = newReadable(ctx, b, bo, o.hwm)
	}
	close(t.ready)
	go t.watch(ctx, rs)
	return out[0], out[1], nil
}

type tee struct {
	reader   *Reader
	branches [2]*teeBranch
	sem      chan struct{}
	ready    chan struct{}

	mu       sync.Mutex
	canceled [2]bool
	reasons  [2]error
}

// watch errors both branches when the source fails while neither of them
// is reading.
func (t *tee) watch(ctx context.Context, rs *ReadableStream) {
	select {
	case <-rs.queue.Done():
		if rs.State() == "errored" {
			t.fail(rs.Err())
		}
	case <-ctx.Done():
	}
}

func (t *tee) pull(ctx context.Context, b *teeBranch) error {
	select {
	case <-t.ready:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case t.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-t.sem }()

	// The other branch may have filled this one while we waited.
	if !b.ctrl.stream.shouldPull() {
		return nil
	}

	c, err := t.reader.Read(ctx)
	switch {
	case err == io.EOF:
		for _, br := range t.branches {
			_ = br.ctrl.Close()
		}
	case err != nil:
		if ctx.Err() != nil {
			return err
		}
		t.fail(err)
	default:
		for _, br := range t.branches {
			_ = br.ctrl.Enqueue(c)
		}
	}
	return nil
}

func (t *tee) fail(err error) {
	for _, br := range t.branches {
		br.ctrl.Error(err)
	}
}

func (t *tee) cancel(ctx context.Context, idx int, reason error) error {
	t.mu.Lock()
	t.canceled[idx] = true
	t.reasons[idx] = reason
	both := t.canceled[0] && t.canceled[1]
	reasons := t.reasons
	t.mu.Unlock()

	if !both {
		return nil
	}
	return t.reader.Cancel(ctx, multierr.Combine(reasons[0], reasons[1]))
}

type teeBranch struct {
	tee  *tee
	idx  int
	ctrl *ReadableController
}

func (b *teeBranch) Start(_ context.Context, c *ReadableController) error {
	b.ctrl = c
	return nil
}

func (b *teeBranch) Pull(ctx context.Context, _ *ReadableController) error {
	return b.tee.pull(ctx, b)
}

func (b *teeBranch) Cancel(ctx context.Context, reason error) error {
	return b.tee.cancel(ctx, b.idx, reason)
}
