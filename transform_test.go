package tombflow_test

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/artificial-james/tombflow"
)

func upper(in interface{}) (interface{}, error) {
	return strings.ToUpper(in.(string)), nil
}

// jitterTransformer delays at random, then emits the chunk and a copy.
type jitterTransformer struct {
	calls   gauge
	flushes atomic.Int32
}

func (j *jitterTransformer) Transform(_ context.Context, c tombflow.Chunk, ctrl *tombflow.TransformController) error {
	j.calls.enter()
	defer j.calls.leave()
	jitter()
	if err := ctrl.Enqueue(c); err != nil {
		return err
	}
	return ctrl.Enqueue(tombflow.NewChunk(c.Payload.(int) * 10))
}

func (j *jitterTransformer) Flush(_ context.Context, ctrl *tombflow.TransformController) error {
	j.flushes.Inc()
	return ctrl.Enqueue(tombflow.NewChunk(-1))
}

// failingFlush passes chunks through and fails when flushed.
type failingFlush struct {
	tombflow.PassThrough
}

func (failingFlush) Flush(context.Context, *tombflow.TransformController) error {
	return errBoom
}

func TestTransformStream(t *testing.T) {
	t.Run("Normal", func(t *testing.T) {
		ctx := context.Background()
		ts := tombflow.NewMap(ctx, upper)

		go func() {
			for _, s := range []string{"a", "b", "c"} {
				ts.Writable().Write(ctx, tombflow.NewChunk(s))
			}
			ts.Writable().Close(ctx)
		}()

		got, err := tombflow.ReadAll(ctx, ts.Readable())
		require.NoError(t, err)
		assert.Equal(t, []interface{}{"A", "B", "C"}, got)
	})
	t.Run("Ordering", func(t *testing.T) {
		ctx := context.Background()
		tr := &jitterTransformer{}
		ts := tombflow.NewTransformStream(ctx, tr)
		sink := &recordSink{delay: true}
		ws := tombflow.NewWritableStream(ctx, sink)

		src := tombflow.NewSliceSource(ctx, ints(30))
		require.NoError(t, tombflow.From(src).Via(ts).To(ws).Run(ctx))

		want := []interface{}{}
		for i := 0; i < 30; i++ {
			want = append(want, i, i*10)
		}
		want = append(want, -1)
		assert.Equal(t, want, sink.payloads())
		assert.Equal(t, int32(1), tr.calls.max.Load(), "one transform in flight")
		assert.Equal(t, int32(1), sink.writes.max.Load(), "one write in flight")
		assert.Equal(t, int32(1), tr.flushes.Load())
		assert.Equal(t, int32(1), sink.closes.Load())
	})
	t.Run("Backpressure", func(t *testing.T) {
		ctx := context.Background()
		tr := &jitterTransformer{}
		ts := tombflow.NewTransformStream(ctx, tr)

		ack := ts.Writable().WriteAsync(tombflow.NewChunk(1))
		time.Sleep(10 * time.Millisecond)
		assert.Equal(t, int32(0), tr.calls.calls.Load(), "no transform without a pending read")

		c, err := ts.Readable().Read(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, c.Payload)
		require.NoError(t, ack.Wait(ctx))
		assert.Equal(t, int32(1), tr.calls.calls.Load())
	})
	t.Run("Error", func(t *testing.T) {
		ctx := context.Background()
		ts := tombflow.NewMap(ctx, func(interface{}) (interface{}, error) {
			return nil, errBoom
		})

		read := make(chan error, 1)
		go func() {
			_, err := ts.Readable().Read(ctx)
			read <- err
		}()

		assert.Equal(t, errBoom, ts.Writable().Write(ctx, tombflow.NewChunk("a")))
		assert.Equal(t, errBoom, <-read)

		err := ts.Writable().Write(ctx, tombflow.NewChunk("b"))
		assert.Equal(t, tombflow.CodeErrored, tombflow.CodeOf(err))
		_, err = ts.Readable().Read(ctx)
		assert.ErrorIs(t, err, errBoom)
	})
	t.Run("Flush Error", func(t *testing.T) {
		ctx := context.Background()
		ts := tombflow.NewTransformStream(ctx, failingFlush{})

		ack := ts.Writable().WriteAsync(tombflow.NewChunk("a"))
		c, err := ts.Readable().Read(ctx)
		require.NoError(t, err)
		assert.Equal(t, "a", c.Payload)
		require.NoError(t, ack.Wait(ctx))

		read := make(chan error, 1)
		go func() {
			_, err := ts.Readable().Read(ctx)
			read <- err
		}()
		time.Sleep(5 * time.Millisecond)

		assert.Equal(t, errBoom, ts.Writable().Close(ctx))
		assert.ErrorIs(t, <-read, errBoom)
		assert.Equal(t, "errored", ts.Writable().State())
		assert.Equal(t, "errored", ts.Readable().State())
	})
	t.Run("Cancel Readable", func(t *testing.T) {
		ctx := context.Background()
		ts := tombflow.NewPassThrough(ctx)

		require.NoError(t, ts.Readable().Cancel(ctx, errBoom))
		err := ts.Writable().Write(ctx, tombflow.NewChunk("a"))
		assert.ErrorIs(t, err, errBoom)
		assert.Equal(t, "errored", ts.Writable().State())
	})
	t.Run("Abort Writable", func(t *testing.T) {
		ctx := context.Background()
		ts := tombflow.NewPassThrough(ctx)

		read := make(chan error, 1)
		go func() {
			_, err := ts.Readable().Read(ctx)
			read <- err
		}()
		time.Sleep(5 * time.Millisecond)

		require.NoError(t, ts.Writable().Abort(ctx, errBoom))
		assert.Equal(t, errBoom, <-read)
		assert.Equal(t, "errored", ts.Readable().State())
	})
	t.Run("Terminate", func(t *testing.T) {
		ctx := context.Background()
		first := tombflow.TransformFunc(func(_ context.Context, c tombflow.Chunk, ctrl *tombflow.TransformController) error {
			if err := ctrl.Enqueue(c); err != nil {
				return err
			}
			ctrl.Terminate()
			return nil
		})
		ts := tombflow.NewTransformStream(ctx, first, tombflow.WithReadableHighWaterMark(4))

		ts.Writable().WriteAsync(tombflow.NewChunk("a"))
		c, err := ts.Readable().Read(ctx)
		require.NoError(t, err)
		assert.Equal(t, "a", c.Payload)
		_, err = ts.Readable().Read(ctx)
		assert.Equal(t, io.EOF, err)

		err = ts.Writable().Write(ctx, tombflow.NewChunk("b"))
		assert.ErrorIs(t, err, tombflow.ErrClosed)
	})
}

func TestThrottle(t *testing.T) {
	t.Run("Normal", func(t *testing.T) {
		ctx := context.Background()
		th := tombflow.NewThrottle(ctx, 1000, 1)
		sink := &recordSink{}
		ws := tombflow.NewWritableStream(ctx, sink)

		start := time.Now()
		require.NoError(t, tombflow.From(tombflow.NewSliceSource(ctx, ints(5))).Via(th).To(ws).Run(ctx))

		assert.Equal(t, ints(5), sink.payloads())
		assert.GreaterOrEqual(t, time.Since(start), 3*time.Millisecond)
	})
	t.Run("Deadline", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		th := tombflow.NewThrottle(ctx, 1, 1)
		sink := &recordSink{}
		ws := tombflow.NewWritableStream(ctx, sink)

		err := tombflow.From(tombflow.NewSliceSource(ctx, ints(5))).Via(th).To(ws).Run(ctx)
		assert.Error(t, err)
		assert.Less(t, len(sink.payloads()), 5)
		assert.Equal(t, "errored", ws.State())
	})
}
