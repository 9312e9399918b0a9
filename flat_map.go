package tombflow

import "context"

// FlatMapFunc is a FlatMap transformation function.
type FlatMapFunc func(interface{}) ([]interface{}, error)

// FlatMap takes one element and produces zero, one, or more elements.
//
// in  -- 1 -- 2 ---- 3 -- 4 ------ 5 --
//        |    |      |    |        |
//    [---------- FlatMapFunc ----------]
//        |    |           |   |    |
// out -- 1' - 2' -------- 4'- 4''- 5' -
type FlatMap struct {
	FlatMapF FlatMapFunc
}

// Verify FlatMap satisfies the Transformer interface.
var _ Transformer = (*FlatMap)(nil)

// NewFlatMap returns a TransformStream expanding every payload with
// flatMapFunc.
func NewFlatMap(ctx context.Context, flatMapFunc FlatMapFunc, opts ...Option) *TransformStream {
	return NewTransformStream(ctx, &FlatMap{FlatMapF: flatMapFunc}, opts...)
}

func (fm *FlatMap) Transform(_ context.Context, chunk Chunk, c *TransformController) error {
	items, err := fm.FlatMapF(chunk.Payload)
	if err != nil {
		return err
	}
	for i, item := range items {
		// the flush mark travels with the last element
		out := Chunk{Payload: item, Flush: chunk.Flush && i == len(items)-1}
		if err := c.Enqueue(out); err != nil {
			return err
		}
	}
	return nil
}

func (fm *FlatMap) Flush(context.Context, *TransformController) error {
	return nil
}
