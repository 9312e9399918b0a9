// Package transfer moves streams across a boundary that shares no memory:
// another goroutine-isolated worker, a process or a network peer. A
// transferred stream is locked on the sending side and piped into a proxy
// that speaks a small pull protocol over a Port; the receiving side rebuilds
// a stream half from the Envelope.
package transfer

import (
	"context"

	"github.com/google/uuid"

	"github.com/artificial-james/tombflow"
	"github.com/artificial-james/tombflow/log"
)

// DefaultWritableHighWaterMark is the chunk count a received writable
// buffers before applying backpressure.
const DefaultWritableHighWaterMark = 1

// TransferReadable locks rs and streams it to the peer of port. Locking is
// the commit point: a stream that is already locked fails with
// ERR_STREAM_LOCKED before anything is set up.
func TransferReadable(ctx context.Context, rs *tombflow.ReadableStream, port Port, opts ...tombflow.Option) (*Envelope, error) {
	r, err := rs.GetReader()
	if err != nil {
		return nil, err
	}
	logger := tombflow.LoggerFrom(opts...)

	proxy := tombflow.NewWritableStream(ctx, newPortSink(port, logger),
		withProxy(opts, DefaultWritableHighWaterMark)...)
	w, err := proxy.GetWriter()
	if err != nil {
		r.Release()
		return nil, err
	}
	go pipe(ctx, r, w, logger)

	return &Envelope{
		ID:      uuid.NewString(),
		Channel: port.ID(),
		Kind:    KindReadable,
		State:   rs.State(),
	}, nil
}

// TransferWritable locks ws and feeds it with what the peer of port writes.
func TransferWritable(ctx context.Context, ws *tombflow.WritableStream, port Port, opts ...tombflow.Option) (*Envelope, error) {
	env, _, err := transferWritable(ctx, ws, port, opts...)
	return env, err
}

// transferWritable is TransferWritable that also returns a rollback. The
// rollback aborts ws with its reason, closes port and returns once ws is
// released.
func transferWritable(ctx context.Context, ws *tombflow.WritableStream, port Port, opts ...tombflow.Option) (*Envelope, func(error), error) {
	w, err := ws.GetWriter()
	if err != nil {
		return nil, nil, err
	}
	logger := tombflow.LoggerFrom(opts...)

	proxy := tombflow.NewReadableStream(ctx, newPortSource(port, logger),
		withProxy(opts, 0)...)
	r, err := proxy.GetReader()
	if err != nil {
		w.Release()
		return nil, nil, err
	}

	pctx, stop := context.WithCancelCause(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer stop(nil)
		pipe(pctx, r, w, logger)
	}()
	rollback := func(reason error) {
		stop(reason)
		<-done
		port.Close()
	}

	return &Envelope{
		ID:            uuid.NewString(),
		Channel:       port.ID(),
		Kind:          KindWritable,
		HighWaterMark: DefaultWritableHighWaterMark,
		State:         ws.State(),
	}, rollback, nil
}

// TransferTransform transfers both halves of flow: its writable side over
// wport and its readable side over rport. Neither half is touched if
// either is locked. A readable side locked after the check fails the
// transfer and aborts the already transferred writable side.
func TransferTransform(ctx context.Context, flow tombflow.Flow, wport, rport Port, opts ...tombflow.Option) (writable, readable *Envelope, err error) {
	if flow.Writable().Locked() || flow.Readable().Locked() {
		return nil, nil, tombflow.ErrLocked
	}
	return transferHalves(ctx, flow, wport, rport, opts...)
}

func transferHalves(ctx context.Context, flow tombflow.Flow, wport, rport Port, opts ...tombflow.Option) (writable, readable *Envelope, err error) {
	writable, rollback, err := transferWritable(ctx, flow.Writable(), wport, opts...)
	if err != nil {
		return nil, nil, err
	}
	readable, err = TransferReadable(ctx, flow.Readable(), rport, opts...)
	if err != nil {
		rollback(err)
		return nil, nil, err
	}
	return writable, readable, nil
}

// ReceiveReadable rebuilds the readable side of env from port. The stream
// buffers nothing: each read pulls one chunk across the channel.
func ReceiveReadable(ctx context.Context, port Port, env *Envelope, opts ...tombflow.Option) (*tombflow.ReadableStream, error) {
	if err := accept(port, env, KindReadable); err != nil {
		return nil, err
	}
	source := newPortSource(port, tombflow.LoggerFrom(opts...))
	return tombflow.NewReadableStream(ctx, source, withProxy(opts, 0)...), nil
}

// ReceiveWritable rebuilds the writable side of env from port.
func ReceiveWritable(ctx context.Context, port Port, env *Envelope, opts ...tombflow.Option) (*tombflow.WritableStream, error) {
	if err := accept(port, env, KindWritable); err != nil {
		return nil, err
	}
	hwm := env.HighWaterMark
	if hwm <= 0 {
		hwm = DefaultWritableHighWaterMark
	}
	sink := newPortSink(port, tombflow.LoggerFrom(opts...))
	return tombflow.NewWritableStream(ctx, sink, withProxy(opts, hwm)...), nil
}

// RemoteFlow is a transform whose halves were received from a peer.
type RemoteFlow struct {
	readable *tombflow.ReadableStream
	writable *tombflow.WritableStream
}

// Verify RemoteFlow satisfies the Flow interface.
var _ tombflow.Flow = (*RemoteFlow)(nil)

func (f *RemoteFlow) Readable() *tombflow.ReadableStream { return f.readable }
func (f *RemoteFlow) Writable() *tombflow.WritableStream { return f.writable }

// ReceiveTransform is the receiving end of TransferTransform.
func ReceiveTransform(ctx context.Context, wport, rport Port, writable, readable *Envelope, opts ...tombflow.Option) (*RemoteFlow, error) {
	ws, err := ReceiveWritable(ctx, wport, writable, opts...)
	if err != nil {
		return nil, err
	}
	rs, err := ReceiveReadable(ctx, rport, readable, opts...)
	if err != nil {
		ws.Abort(ctx, err)
		return nil, err
	}
	return &RemoteFlow{readable: rs, writable: ws}, nil
}

func accept(port Port, env *Envelope, kind Kind) error {
	if env == nil {
		return tombflow.NewError(tombflow.CodeInvalidEnvelope, "missing envelope", nil)
	}
	if err := env.validate(); err != nil {
		return err
	}
	if env.Kind != kind {
		return tombflow.NewError(tombflow.CodeInvalidEnvelope, "envelope describes a "+string(env.Kind)+" stream", nil)
	}
	if env.Channel != port.ID() {
		return tombflow.NewError(tombflow.CodeInvalidEnvelope, "envelope belongs to channel "+env.Channel, nil)
	}
	if b, ok := port.(binder); ok && !b.bind() {
		return tombflow.NewError(tombflow.CodeInvalidEnvelope, "port already backs a stream", nil)
	}
	return nil
}

// withProxy sizes a proxy stream in chunks, after the caller's options.
func withProxy(opts []tombflow.Option, hwm int) []tombflow.Option {
	out := append([]tombflow.Option(nil), opts...)
	return append(out, tombflow.WithHighWaterMark(hwm), tombflow.WithSizeFunc(tombflow.CountChunks))
}

func pipe(ctx context.Context, r *tombflow.Reader, w *tombflow.Writer, logger *log.Logger) {
	defer r.Release()
	defer w.Release()
	if err := tombflow.Pipe(ctx, r, w); err != nil {
		logger.Debug("transfer pipe finished", map[string]any{"error": err.Error()})
	}
}
