package tombflow

import (
	"context"
	"io"
	"sync"
)

type queueState int

const (
	queueOpen queueState = iota
	queueClosing
	queueClosed
	queueErrored
)

func (s queueState) String() string {
	switch s {
	case queueOpen:
		return "open"
	case queueClosing:
		return "closing"
	case queueClosed:
		return "closed"
	default:
		return "errored"
	}
}

type queued struct {
	chunk Chunk
	size  int
}

// Queue is a FIFO of chunks with size accounting against a high-water mark.
// Waiters block on a broadcast channel that is replaced on every change.
type Queue struct {
	mu      sync.Mutex
	items   []queued
	size    int
	hwm     int
	sizeOf  SizeFunc
	readers int
	state   queueState
	err     error
	changed chan struct{}
	done    chan struct{}
}

// NewQueue returns an open queue. A nil sizeOf weighs chunks by ByteLength.
func NewQueue(highWaterMark int, sizeOf SizeFunc) *Queue {
	if highWaterMark < 0 {
		highWaterMark = 0
	}
	if sizeOf == nil {
		sizeOf = ByteLength
	}
	return &Queue{
		hwm:     highWaterMark,
		sizeOf:  sizeOf,
		changed: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (q *Queue) broadcastLocked() {
	close(q.changed)
	q.changed = make(chan struct{})
}

func (q *Queue) finishLocked(s queueState) {
	q.state = s
	close(q.done)
}

// Enqueue appends c. It fails with ErrClosed once Close or SignalError was
// called. Enqueueing past the high-water mark is allowed.
func (q *Queue) Enqueue(c Chunk) error {
	_, err := q.enqueue(c)
	return err
}

func (q *Queue) enqueue(c Chunk) (int, error) {
	n := q.sizeOf(c)
	if n < 0 {
		return 0, NewError(CodeInvalidSize, "chunk size must not be negative", nil)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.state != queueOpen {
		return 0, ErrClosed
	}
	q.items = append(q.items, queued{chunk: c, size: n})
	q.size += n
	q.broadcastLocked()
	return n, nil
}

// Dequeue pops the oldest chunk, waiting for one if the queue is empty.
// It returns io.EOF once the queue is closed and drained.
func (q *Queue) Dequeue(ctx context.Context) (Chunk, error) {
	q.addReader()
	c, _, err := q.take(ctx)
	return c, err
}

// Peek waits for the oldest chunk like Dequeue but leaves it queued, so it
// keeps counting against the high-water mark until Shift.
func (q *Queue) Peek(ctx context.Context) (Chunk, error) {
	c, _, err := q.wait(ctx, false)
	return c, err
}

// addReader registers a pending reader, released by the next take.
func (q *Queue) addReader() {
	q.mu.Lock()
	q.readers++
	q.mu.Unlock()
}

func (q *Queue) take(ctx context.Context) (Chunk, int, error) {
	return q.wait(ctx, true)
}

func (q *Queue) wait(ctx context.Context, pop bool) (Chunk, int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		if len(q.items) > 0 {
			e := q.items[0]
			if pop {
				q.readers--
				q.shiftLocked()
			}
			return e.chunk, e.size, nil
		}

		var err error
		switch q.state {
		case queueClosing, queueClosed:
			err = io.EOF
		case queueErrored:
			err = q.err
		default:
			ch := q.changed
			q.mu.Unlock()
			select {
			case <-ch:
			case <-ctx.Done():
				err = ctx.Err()
			}
			q.mu.Lock()
		}
		if err != nil {
			if pop {
				q.readers--
			}
			return Chunk{}, 0, err
		}
	}
}

// Shift pops the oldest chunk without waiting.
func (q *Queue) Shift() (Chunk, bool) {
	c, _, ok := q.shift()
	return c, ok
}

func (q *Queue) shift() (Chunk, int, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return Chunk{}, 0, false
	}
	e := q.items[0]
	q.shiftLocked()
	return e.chunk, e.size, true
}

func (q *Queue) shiftLocked() {
	q.size -= q.items[0].size
	q.items[0] = queued{}
	q.items = q.items[1:]
	if q.state == queueClosing && len(q.items) == 0 {
		q.finishLocked(queueClosed)
	}
	q.broadcastLocked()
}

// Close stops accepting chunks. The queue reports closed once drained.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.state != queueOpen {
		return ErrClosed
	}
	if len(q.items) == 0 {
		q.finishLocked(queueClosed)
	} else {
		q.state = queueClosing
	}
	q.broadcastLocked()
	return nil
}

// Reset discards buffered chunks and closes the queue. It reports false if
// the queue had already finished.
func (q *Queue) Reset() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.state == queueClosed || q.state == queueErrored {
		return false
	}
	q.items = nil
	q.size = 0
	q.finishLocked(queueClosed)
	q.broadcastLocked()
	return true
}

// SignalError discards buffered chunks and fails pending and future
// dequeues with err. It reports false if the queue had already finished.
func (q *Queue) SignalError(err error) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.state == queueClosed || q.state == queueErrored {
		return false
	}
	q.items = nil
	q.size = 0
	q.err = err
	q.finishLocked(queueErrored)
	q.broadcastLocked()
	return true
}

// Ready reports whether producers may continue: the queue is open and
// strictly below its high-water mark.
func (q *Queue) Ready() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state == queueOpen && q.size < q.hwm
}

// WaitReady blocks until Ready would return true. It fails with ErrClosed
// once the queue stops accepting chunks and with the stored error once it
// errored.
func (q *Queue) WaitReady(ctx context.Context) error {
	for {
		q.mu.Lock()
		switch q.state {
		case queueErrored:
			err := q.err
			q.mu.Unlock()
			return err
		case queueClosing, queueClosed:
			q.mu.Unlock()
			return ErrClosed
		}
		if q.size < q.hwm {
			q.mu.Unlock()
			return nil
		}
		ch := q.changed
		q.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// DesiredSize is the room left below the high-water mark. It is negative
// when producers overfilled the queue.
func (q *Queue) DesiredSize() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.hwm - q.size
}

// HighWaterMark returns the configured mark.
func (q *Queue) HighWaterMark() int {
	return q.hwm
}

// Len returns the number of buffered chunks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Size returns the summed weight of buffered chunks.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// State returns "open", "closing", "closed" or "errored".
func (q *Queue) State() string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state.String()
}

// Err returns the error passed to SignalError.
func (q *Queue) Err() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.err
}

// Done is closed when the queue is closed and drained, or errored.
func (q *Queue) Done() <-chan struct{} {
	return q.done
}

type queueSnapshot struct {
	state   queueState
	size    int
	len     int
	readers int
}

func (q *Queue) snapshot() queueSnapshot {
	q.mu.Lock()
	defer q.mu.Unlock()
	return queueSnapshot{state: q.state, size: q.size, len: len(q.items), readers: q.readers}
}

// Changed returns a channel closed on the next state change.
func (q *Queue) Changed() <-chan struct{} {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.changed
}
