package tombflow

import "context"

// MapFunc is a Map transformation function.
type MapFunc func(interface{}) (interface{}, error)

// Map takes one element and produces one element.
//
// in  -- 1 -- 2 ---- 3 -- 4 ------ 5 --
//        |    |      |    |        |
//    [----------- MapFunc -------------]
//        |    |      |    |        |
// out -- 1' - 2' --- 3' - 4' ----- 5' -
type Map struct {
	MapF MapFunc
}

// Verify Map satisfies the Transformer interface.
var _ Transformer = (*Map)(nil)

// NewMap returns a TransformStream applying mapFunc to every payload.
// A mapFunc error fails both sides of the stream.
func NewMap(ctx context.Context, mapFunc MapFunc, opts ...Option) *TransformStream {
	return NewTransformStream(ctx, &Map{MapF: mapFunc}, opts...)
}

func (m *Map) Transform(_ context.Context, chunk Chunk, c *TransformController) error {
	out, err := m.MapF(chunk.Payload)
	if err != nil {
		return err
	}
	return c.Enqueue(Chunk{Payload: out, Flush: chunk.Flush})
}

func (m *Map) Flush(context.Context, *TransformController) error {
	return nil
}
