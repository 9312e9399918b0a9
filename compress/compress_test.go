package compress_test

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artificial-james/tombflow"
	"github.com/artificial-james/tombflow/compress"
)

func payloadChunks(t *testing.T) ([]interface{}, []byte) {
	t.Helper()
	var all []byte
	var items []interface{}
	for i := 0; i < 20; i++ {
		p := []byte(strings.Repeat(string(rune('a'+i)), 1000+i))
		all = append(all, p...)
		items = append(items, p)
	}
	return items, all
}

func joined(t *testing.T, got []interface{}) []byte {
	t.Helper()
	var out []byte
	for _, v := range got {
		b, ok := v.([]byte)
		require.True(t, ok, "payload %T is not bytes", v)
		out = append(out, b...)
	}
	return out
}

func TestRoundTrip(t *testing.T) {
	for _, format := range []compress.Format{compress.Gzip, compress.Zstd} {
		t.Run(string(format), func(t *testing.T) {
			ctx := context.Background()
			items, want := payloadChunks(t)

			enc, err := compress.NewCompress(ctx, format)
			require.NoError(t, err)
			dec, err := compress.NewDecompress(ctx, format)
			require.NoError(t, err)

			var compressed int
			counter := tombflow.NewMap(ctx, func(v interface{}) (interface{}, error) {
				compressed += len(v.([]byte))
				return v, nil
			})

			out := make(chan interface{}, 1024)
			err = tombflow.From(tombflow.NewSliceSource(ctx, items)).
				Via(enc).
				Via(counter).
				Via(dec).
				To(tombflow.NewChanSink(ctx, out)).
				Run(ctx)
			require.NoError(t, err)

			var got []interface{}
			for v := range out {
				got = append(got, v)
			}
			assert.Equal(t, want, joined(t, got))
			assert.Less(t, compressed, len(want)/10)
		})
	}
}

func TestEncoder(t *testing.T) {
	t.Run("Flush", func(t *testing.T) {
		ctx := context.Background()
		ts, err := compress.NewCompress(ctx, compress.Gzip)
		require.NoError(t, err)

		go ts.Writable().Write(ctx, tombflow.FlushChunk([]byte("hello")))
		c, err := ts.Readable().Read(ctx)
		require.NoError(t, err)
		assert.True(t, c.Flush)

		b, ok := c.Bytes()
		require.True(t, ok)
		gr, err := gzip.NewReader(bytes.NewReader(b))
		require.NoError(t, err)
		buf := make([]byte, 5)
		_, err = io.ReadFull(gr, buf)
		require.NoError(t, err, "flushed output decodes without the trailer")
		assert.Equal(t, "hello", string(buf))
	})
	t.Run("Not Bytes", func(t *testing.T) {
		ctx := context.Background()
		ts, err := compress.NewCompress(ctx, compress.Zstd)
		require.NoError(t, err)

		err = tombflow.From(tombflow.NewSliceSource(ctx, []interface{}{42})).
			Via(ts).
			To(tombflow.NewIgnoreSink(ctx)).
			Run(ctx)
		assert.ErrorContains(t, err, "not bytes")
	})
	t.Run("Unknown Format", func(t *testing.T) {
		_, err := compress.NewEncoder("lz4")
		assert.Error(t, err)
		_, err = compress.NewDecoder("lz4")
		assert.Error(t, err)
		_, err = compress.ParseFormat("brotli")
		assert.Error(t, err)

		f, err := compress.ParseFormat("gz")
		require.NoError(t, err)
		assert.Equal(t, compress.Gzip, f)
	})
}

func TestDecoder(t *testing.T) {
	t.Run("Corrupt", func(t *testing.T) {
		ctx := context.Background()
		dec, err := compress.NewDecompress(ctx, compress.Gzip)
		require.NoError(t, err)

		err = tombflow.From(tombflow.NewSliceSource(ctx, []interface{}{[]byte("definitely not gzip")})).
			Via(dec).
			To(tombflow.NewIgnoreSink(ctx)).
			Run(ctx)
		assert.ErrorIs(t, err, gzip.ErrHeader)
	})
	t.Run("Empty", func(t *testing.T) {
		ctx := context.Background()
		dec, err := compress.NewDecompress(ctx, compress.Gzip)
		require.NoError(t, err)

		err = tombflow.From(tombflow.NewSliceSource(ctx, nil)).
			Via(dec).
			To(tombflow.NewIgnoreSink(ctx)).
			Run(ctx)
		assert.NoError(t, err)
	})
}
