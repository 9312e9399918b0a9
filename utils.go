package tombflow

import (
	"context"
	"io"
)

// Generate emits items on the returned channel until done or ctx ends.
func Generate(ctx context.Context, items ...interface{}) <-chan interface{} {
	out := make(chan interface{})

	go func() {
		defer close(out)
		for _, item := range items {
			select {
			case out <- item:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}

// ReadAll reads rs to the end and returns the payloads in order.
func ReadAll(ctx context.Context, rs *ReadableStream) ([]interface{}, error) {
	r, err := rs.GetReader()
	if err != nil {
		return nil, err
	}
	defer r.Release()

	var out []interface{}
	for {
		c, err := r.Read(ctx)
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, c.Payload)
	}
}
