package tombflow_test

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artificial-james/tombflow"
)

func TestQueue(t *testing.T) {
	t.Run("Normal", func(t *testing.T) {
		ctx := context.Background()
		q := tombflow.NewQueue(10, nil)

		for _, s := range []string{"a", "bb", "ccc"} {
			require.NoError(t, q.Enqueue(tombflow.NewChunk(s)))
		}
		assert.Equal(t, 3, q.Len())
		assert.Equal(t, 6, q.Size())
		assert.Equal(t, 4, q.DesiredSize())

		for _, want := range []string{"a", "bb", "ccc"} {
			c, err := q.Dequeue(ctx)
			require.NoError(t, err)
			assert.Equal(t, want, c.Payload)
		}
		assert.Equal(t, 0, q.Size())
	})
	t.Run("Backpressure", func(t *testing.T) {
		q := tombflow.NewQueue(4, nil)

		require.NoError(t, q.Enqueue(tombflow.NewChunk("ab")))
		assert.True(t, q.Ready())
		require.NoError(t, q.Enqueue(tombflow.NewChunk("cd")))
		assert.False(t, q.Ready(), "at capacity")
		require.NoError(t, q.Enqueue(tombflow.NewChunk("ef")), "past the mark is accepted")
		assert.Equal(t, -2, q.DesiredSize())

		ready := make(chan error, 1)
		go func() {
			ready <- q.WaitReady(context.Background())
		}()

		q.Shift()
		select {
		case <-ready:
			t.Fatal("ready while still at capacity")
		case <-time.After(10 * time.Millisecond):
		}

		q.Shift()
		select {
		case err := <-ready:
			assert.NoError(t, err)
		case <-time.After(time.Second):
			t.Fatal("never became ready")
		}
	})
	t.Run("Peek", func(t *testing.T) {
		q := tombflow.NewQueue(1, tombflow.CountChunks)

		require.NoError(t, q.Enqueue(tombflow.NewChunk(1)))
		c, err := q.Peek(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, c.Payload)
		assert.Equal(t, 1, q.Len(), "peeked chunk still counts")
		assert.False(t, q.Ready())

		_, ok := q.Shift()
		assert.True(t, ok)
		assert.True(t, q.Ready())
	})
	t.Run("Close", func(t *testing.T) {
		ctx := context.Background()
		q := tombflow.NewQueue(10, nil)

		require.NoError(t, q.Enqueue(tombflow.NewChunk("a")))
		require.NoError(t, q.Close())
		assert.Equal(t, "closing", q.State())
		assert.ErrorIs(t, q.Enqueue(tombflow.NewChunk("b")), tombflow.ErrClosed)
		assert.ErrorIs(t, q.Close(), tombflow.ErrClosed)
		assert.ErrorIs(t, q.WaitReady(ctx), tombflow.ErrClosed)

		c, err := q.Dequeue(ctx)
		require.NoError(t, err)
		assert.Equal(t, "a", c.Payload)

		_, err = q.Dequeue(ctx)
		assert.Equal(t, io.EOF, err)
		assert.Equal(t, "closed", q.State())
		select {
		case <-q.Done():
		default:
			t.Fatal("done not closed")
		}
	})
	t.Run("Error", func(t *testing.T) {
		q := tombflow.NewQueue(10, nil)
		boom := errors.New("boom")

		pending := make(chan error, 1)
		go func() {
			_, err := q.Dequeue(context.Background())
			pending <- err
		}()
		time.Sleep(5 * time.Millisecond)

		assert.True(t, q.SignalError(boom))
		assert.False(t, q.SignalError(errors.New("again")))
		assert.Equal(t, boom, <-pending)
		assert.Equal(t, boom, q.Err())
		assert.Equal(t, boom, q.WaitReady(context.Background()))
		assert.Equal(t, "errored", q.State())
	})
	t.Run("Invalid Size", func(t *testing.T) {
		q := tombflow.NewQueue(10, func(tombflow.Chunk) int { return -1 })

		err := q.Enqueue(tombflow.NewChunk("a"))
		assert.True(t, tombflow.HasCode(err, tombflow.CodeInvalidSize))
		assert.Equal(t, 0, q.Len())
	})
	t.Run("Context Canceled", func(t *testing.T) {
		q := tombflow.NewQueue(10, nil)
		ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
		defer cancel()

		_, err := q.Dequeue(ctx)
		assert.Equal(t, context.DeadlineExceeded, err)
	})
	t.Run("Reset", func(t *testing.T) {
		ctx := context.Background()
		q := tombflow.NewQueue(10, nil)
		require.NoError(t, q.Enqueue(tombflow.NewChunk("a")))

		assert.True(t, q.Reset())
		assert.False(t, q.Reset())
		_, err := q.Dequeue(ctx)
		assert.Equal(t, io.EOF, err)
	})
}
