package tombflow

import "context"

// PassThrough produces the received element as is.
//
// in  -- 1 -- 2 ---- 3 -- 4 ------ 5 --
//        |    |      |    |        |
// out -- 1 -- 2 ---- 3 -- 4 ------ 5 --
type PassThrough struct{}

// Verify PassThrough satisfies the Transformer interface.
var _ Transformer = PassThrough{}

// NewPassThrough returns a TransformStream that forwards every chunk.
func NewPassThrough(ctx context.Context, opts ...Option) *TransformStream {
	return NewTransformStream(ctx, PassThrough{}, opts...)
}

func (PassThrough) Transform(_ context.Context, chunk Chunk, c *TransformController) error {
	return c.Enqueue(chunk)
}

func (PassThrough) Flush(context.Context, *TransformController) error {
	return nil
}
