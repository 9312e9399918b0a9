package tombflow

import (
	"context"

	"golang.org/x/time/rate"
)

// Throttle limits the rate at which elements pass through.
//
// in  -- 1 2 3 4 5 ---------------------
//        | | | | |
//    [--------- rate.Limiter ----------]
//        |     |     |     |     |
// out -- 1 --- 2 --- 3 --- 4 --- 5 -----
type Throttle struct {
	Limiter *rate.Limiter
	// Cost weighs a chunk in tokens; nil costs one token per chunk.
	Cost SizeFunc
}

// Verify Throttle satisfies the Transformer interface.
var _ Transformer = (*Throttle)(nil)

// NewThrottle returns a TransformStream passing at most limit tokens per
// second with the given burst.
func NewThrottle(ctx context.Context, limit rate.Limit, burst int, opts ...Option) *TransformStream {
	return NewTransformStream(ctx, &Throttle{Limiter: rate.NewLimiter(limit, burst)}, opts...)
}

func (th *Throttle) Transform(ctx context.Context, chunk Chunk, c *TransformController) error {
	n := 1
	if th.Cost != nil {
		n = th.Cost(chunk)
	}
	if b := th.Limiter.Burst(); n > b {
		n = b
	}
	if n > 0 {
		if err := th.Limiter.WaitN(ctx, n); err != nil {
			return err
		}
	}
	return c.Enqueue(chunk)
}

func (th *Throttle) Flush(context.Context, *TransformController) error {
	return nil
}
