package tombflow

// Chunk is the unit of data moving through a stream.
// Ownership passes to the queue on enqueue; a chunk must not be mutated
// afterwards.
type Chunk struct {
	Payload interface{}
	// Flush asks codec-style stages to emit buffered output now.
	Flush bool
}

// NewChunk wraps a payload.
func NewChunk(payload interface{}) Chunk {
	return Chunk{Payload: payload}
}

// FlushChunk wraps a payload and marks it as a flush point.
func FlushChunk(payload interface{}) Chunk {
	return Chunk{Payload: payload, Flush: true}
}

// Bytes returns the payload as a byte slice when it is one (or a string).
func (c Chunk) Bytes() ([]byte, bool) {
	switch p := c.Payload.(type) {
	case []byte:
		return p, true
	case string:
		return []byte(p), true
	}
	return nil, false
}

// SizeFunc reports the backpressure weight of a chunk.
type SizeFunc func(Chunk) int

// ByteLength weighs byte and string payloads by length and anything else
// as one unit.
func ByteLength(c Chunk) int {
	switch p := c.Payload.(type) {
	case []byte:
		return len(p)
	case string:
		return len(p)
	}
	return 1
}

// CountChunks weighs every chunk as one unit.
func CountChunks(Chunk) int {
	return 1
}
