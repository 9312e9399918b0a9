package transfer

import (
	"context"
	"sync"

	"go.uber.org/atomic"

	"github.com/artificial-james/tombflow"
)

// Port is one end of a bidirectional message channel. Messages arrive in
// the order they were posted. Once either end closes, Post fails and
// Receive fails after the already posted messages were drained, both with
// ERR_CHANNEL_CLOSED.
type Port interface {
	// ID is shared by both ends of a channel.
	ID() string
	Post(m Message) error
	Receive(ctx context.Context) (Message, error)
	Close() error
}

func channelClosed(cause error) error {
	return tombflow.NewError(tombflow.CodeChannelClosed, "channel closed", cause)
}

type delivery struct {
	payload []byte
	ports   []Port
}

// mailbox is an unbounded FIFO of serialized messages.
type mailbox struct {
	mu      sync.Mutex
	items   []delivery
	closed  bool
	changed chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{changed: make(chan struct{})}
}

func (mb *mailbox) push(d delivery) error {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	if mb.closed {
		return channelClosed(nil)
	}
	mb.items = append(mb.items, d)
	close(mb.changed)
	mb.changed = make(chan struct{})
	return nil
}

func (mb *mailbox) pop(ctx context.Context) (delivery, error) {
	for {
		mb.mu.Lock()
		if len(mb.items) > 0 {
			d := mb.items[0]
			mb.items[0] = delivery{}
			mb.items = mb.items[1:]
			mb.mu.Unlock()
			return d, nil
		}
		if mb.closed {
			mb.mu.Unlock()
			return delivery{}, channelClosed(nil)
		}
		ch := mb.changed
		mb.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return delivery{}, ctx.Err()
		}
	}
}

func (mb *mailbox) close() {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	if mb.closed {
		return
	}
	mb.closed = true
	close(mb.changed)
	mb.changed = make(chan struct{})
}

// binding lets a port back at most one received stream.
type binding struct {
	bound atomic.Bool
}

func (b *binding) bind() bool {
	return b.bound.CompareAndSwap(false, true)
}

type binder interface {
	bind() bool
}

func receive(ctx context.Context, inbox *mailbox) (Message, error) {
	d, err := inbox.pop(ctx)
	if err != nil {
		return Message{}, err
	}
	m, err := decodeMessage(d.payload)
	if err != nil {
		return Message{}, err
	}
	m.Ports = d.ports
	return m, nil
}
