package tombflow

// Observer receives stream lifecycle events. Implementations must be safe
// for concurrent use and must not block.
type Observer interface {
	// Enqueued is called after a chunk of the given weight was buffered.
	Enqueued(stream string, size int)
	// Dequeued is called after a buffered chunk was consumed.
	Dequeued(stream string, size int)
	// Closed is called once when a stream closes cleanly.
	Closed(stream string)
	// Errored is called once when a stream errors or is canceled.
	Errored(stream string, err error)
}

type nopObserver struct{}

func (nopObserver) Enqueued(string, int) {}
func (nopObserver) Dequeued(string, int) {}
func (nopObserver) Closed(string)        {}
func (nopObserver) Errored(string, error) {}
