package transfer

import (
	"context"

	"github.com/google/uuid"
)

// memPort is one end of an in-memory channel.
type memPort struct {
	binding
	id  string
	in  *mailbox
	out *mailbox
}

// NewChannel returns two connected in-memory ports. Values are serialized
// on Post, so the receiving side never shares memory with the sender;
// ports listed in Message.Ports move to the receiver as they are.
func NewChannel() (Port, Port) {
	id := uuid.NewString()
	a, b := newMailbox(), newMailbox()
	return &memPort{id: id, in: a, out: b}, &memPort{id: id, in: b, out: a}
}

func (p *memPort) ID() string {
	return p.id
}

func (p *memPort) Post(m Message) error {
	b, err := encodeMessage(m)
	if err != nil {
		return err
	}
	return p.out.push(delivery{payload: b, ports: m.Ports})
}

func (p *memPort) Receive(ctx context.Context) (Message, error) {
	return receive(ctx, p.in)
}

// Close shuts both directions. The peer still drains what was posted to it.
func (p *memPort) Close() error {
	p.in.close()
	p.out.close()
	return nil
}
