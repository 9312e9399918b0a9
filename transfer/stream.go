package transfer

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/artificial-james/tombflow"
)

const (
	// MaxFrameSize is the maximum frame size (16 MiB), including length prefix.
	MaxFrameSize = 16 * 1024 * 1024
	// LengthPrefixSize is the size of the length prefix in bytes.
	LengthPrefixSize = 4
	// MaxPayloadSize is the maximum payload size of one frame.
	MaxPayloadSize = MaxFrameSize - LengthPrefixSize
)

// StreamPort carries messages over a byte stream such as a socket or a
// child process's stdio, one length-prefixed msgpack frame per message.
// Ports cannot be transferred through it.
type StreamPort struct {
	binding
	id    string
	rwc   io.ReadWriteCloser
	wmu   sync.Mutex
	inbox *mailbox
	once  sync.Once
}

// NewStreamPort starts reading frames from rwc. Both ends must use the
// same id.
func NewStreamPort(id string, rwc io.ReadWriteCloser) *StreamPort {
	p := &StreamPort{id: id, rwc: rwc, inbox: newMailbox()}
	go p.readLoop()
	return p
}

func (p *StreamPort) readLoop() {
	defer p.inbox.close()
	for {
		payload, err := readFrame(p.rwc)
		if err != nil {
			return
		}
		if p.inbox.push(delivery{payload: payload}) != nil {
			return
		}
	}
}

// readFrame reads a 4-byte big-endian length prefix followed by the payload.
func readFrame(r io.Reader) ([]byte, error) {
	var lengthBuf [LengthPrefixSize]byte
	if _, err := io.ReadFull(r, lengthBuf[:]); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint32(lengthBuf[:])
	if size > MaxPayloadSize {
		return nil, fmt.Errorf("payload size %d exceeds maximum %d", size, MaxPayloadSize)
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("failed to read payload: %w", err)
	}
	return payload, nil
}

func (p *StreamPort) ID() string {
	return p.id
}

func (p *StreamPort) Post(m Message) error {
	if len(m.Ports) > 0 {
		return tombflow.NewError(tombflow.CodeDataClone, "ports cannot cross a stream boundary", nil)
	}
	b, err := encodeMessage(m)
	if err != nil {
		return err
	}
	if len(b) > MaxPayloadSize {
		return tombflow.NewError(tombflow.CodeDataClone,
			fmt.Sprintf("payload size %d exceeds maximum %d", len(b), MaxPayloadSize), nil)
	}

	frame := make([]byte, LengthPrefixSize+len(b))
	binary.BigEndian.PutUint32(frame, uint32(len(b)))
	copy(frame[LengthPrefixSize:], b)

	p.wmu.Lock()
	defer p.wmu.Unlock()
	if _, err := p.rwc.Write(frame); err != nil {
		return channelClosed(err)
	}
	return nil
}

func (p *StreamPort) Receive(ctx context.Context) (Message, error) {
	return receive(ctx, p.inbox)
}

func (p *StreamPort) Close() error {
	var err error
	p.once.Do(func() {
		err = p.rwc.Close()
		p.inbox.close()
	})
	return err
}
