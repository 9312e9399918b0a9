package transfer

import (
	"context"

	"github.com/artificial-james/tombflow"
)

// SendReadable transfers rs over a fresh channel and posts its envelope,
// with the channel's far end attached, on control.
func SendReadable(ctx context.Context, control Port, rs *tombflow.ReadableStream, opts ...tombflow.Option) error {
	local, remote := NewChannel()
	env, err := TransferReadable(ctx, rs, local, opts...)
	if err != nil {
		local.Close()
		return err
	}
	return postEnvelope(control, env, remote)
}

// SendWritable is SendReadable for a writable stream.
func SendWritable(ctx context.Context, control Port, ws *tombflow.WritableStream, opts ...tombflow.Option) error {
	local, remote := NewChannel()
	env, err := TransferWritable(ctx, ws, local, opts...)
	if err != nil {
		local.Close()
		return err
	}
	return postEnvelope(control, env, remote)
}

// AcceptReadable waits on control for a readable sent with SendReadable.
func AcceptReadable(ctx context.Context, control Port, opts ...tombflow.Option) (*tombflow.ReadableStream, error) {
	env, port, err := receiveEnvelope(ctx, control)
	if err != nil {
		return nil, err
	}
	rs, err := ReceiveReadable(ctx, port, env, opts...)
	if err != nil {
		port.Close()
		return nil, err
	}
	return rs, nil
}

// AcceptWritable waits on control for a writable sent with SendWritable.
func AcceptWritable(ctx context.Context, control Port, opts ...tombflow.Option) (*tombflow.WritableStream, error) {
	env, port, err := receiveEnvelope(ctx, control)
	if err != nil {
		return nil, err
	}
	ws, err := ReceiveWritable(ctx, port, env, opts...)
	if err != nil {
		port.Close()
		return nil, err
	}
	return ws, nil
}

func postEnvelope(control Port, env *Envelope, remote Port) error {
	b, err := env.MarshalBinary()
	if err != nil {
		remote.Close()
		return tombflow.NewError(tombflow.CodeDataClone, "envelope could not be cloned", err)
	}
	if err := control.Post(Message{Type: TypeStream, Value: b, Ports: []Port{remote}}); err != nil {
		remote.Close()
		return err
	}
	return nil
}

func receiveEnvelope(ctx context.Context, control Port) (*Envelope, Port, error) {
	m, err := control.Receive(ctx)
	if err != nil {
		return nil, nil, err
	}
	if m.Type != TypeStream || len(m.Ports) != 1 {
		closePorts(m.Ports)
		return nil, nil, tombflow.NewError(tombflow.CodeInvalidEnvelope, "expected a stream message, got "+string(m.Type), nil)
	}
	b, ok := m.Value.([]byte)
	if !ok {
		closePorts(m.Ports)
		return nil, nil, tombflow.NewError(tombflow.CodeInvalidEnvelope, "stream message carries no envelope", nil)
	}

	env := new(Envelope)
	if err := env.UnmarshalBinary(b); err != nil {
		closePorts(m.Ports)
		return nil, nil, err
	}
	return env, m.Ports[0], nil
}

func closePorts(ports []Port) {
	for _, p := range ports {
		p.Close()
	}
}
