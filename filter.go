package tombflow

import "context"

// FilterFunc is a filter predicate function.
type FilterFunc func(interface{}) (bool, error)

// Filter filters the incoming elements using a predicate.
// If the predicate returns true the element is passed downstream,
// if it returns false the element is discarded.
//
// in  -- 1 -- 2 ---- 3 -- 4 ------ 5 --
//        |    |      |    |        |
//    [---------- FilterFunc -----------]
//        |    |                    |
// out -- 1 -- 2 ------------------ 5 --
type Filter struct {
	FilterF FilterFunc
}

// Verify Filter satisfies the Transformer interface.
var _ Transformer = (*Filter)(nil)

// NewFilter returns a TransformStream keeping the chunks filterFunc accepts.
func NewFilter(ctx context.Context, filterFunc FilterFunc, opts ...Option) *TransformStream {
	return NewTransformStream(ctx, &Filter{FilterF: filterFunc}, opts...)
}

func (f *Filter) Transform(_ context.Context, chunk Chunk, c *TransformController) error {
	keep, err := f.FilterF(chunk.Payload)
	if err != nil || !keep {
		return err
	}
	return c.Enqueue(chunk)
}

func (f *Filter) Flush(context.Context, *TransformController) error {
	return nil
}
