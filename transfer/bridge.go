package transfer

import (
	"context"

	"github.com/artificial-james/tombflow"
)

// Bridge is a pipeline stage that sends every chunk through a fresh
// in-memory channel. What comes out is a serialized copy of what went in:
// integers arrive as int64, structs as maps.
type Bridge struct {
	readable *tombflow.ReadableStream
	writable *tombflow.WritableStream
}

// Verify Bridge satisfies the Flow interface.
var _ tombflow.Flow = (*Bridge)(nil)

// NewBridge returns both ends joined by a new channel.
func NewBridge(ctx context.Context, opts ...tombflow.Option) *Bridge {
	logger := tombflow.LoggerFrom(opts...)
	in, out := NewChannel()
	return &Bridge{
		writable: tombflow.NewWritableStream(ctx, newPortSink(in, logger), withProxy(opts, DefaultWritableHighWaterMark)...),
		readable: tombflow.NewReadableStream(ctx, newPortSource(out, logger), withProxy(opts, 0)...),
	}
}

func (b *Bridge) Readable() *tombflow.ReadableStream { return b.readable }
func (b *Bridge) Writable() *tombflow.WritableStream { return b.writable }
