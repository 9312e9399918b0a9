package transfer

import (
	"context"
	"sync"

	"go.uber.org/atomic"

	"github.com/artificial-james/tombflow"
	"github.com/artificial-james/tombflow/log"
)

// portSource feeds a ReadableStream from a port. Each Pull grants the peer
// one chunk of credit.
type portSource struct {
	port Port
	log  *log.Logger
	ctrl *tombflow.ReadableController

	arrived  chan struct{}
	done     chan struct{}
	finished atomic.Bool
}

func newPortSource(port Port, logger *log.Logger) *portSource {
	return &portSource{
		port:    port,
		log:     logger.Named("transfer").With(map[string]any{"channel": port.ID(), "side": "source"}),
		arrived: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

func (s *portSource) Start(ctx context.Context, c *tombflow.ReadableController) error {
	s.ctrl = c
	go s.dispatch(ctx)
	return nil
}

func (s *portSource) signal() {
	select {
	case s.arrived <- struct{}{}:
	default:
	}
}

func (s *portSource) dispatch(ctx context.Context) {
	defer close(s.done)
	for {
		m, err := s.port.Receive(ctx)
		if err != nil {
			s.receiveFailed(ctx, err)
			return
		}

		switch m.Type {
		case TypeChunk:
			if err := s.ctrl.Enqueue(tombflow.Chunk{Payload: m.Value, Flush: m.Flush}); err != nil {
				s.log.Debug("chunk after close dropped", map[string]any{"error": err.Error()})
			}
			s.signal()
		case TypeClose:
			s.finished.Store(true)
			s.ctrl.Close()
			s.port.Close()
			return
		case TypeError, TypeAbort:
			s.finished.Store(true)
			s.ctrl.Error(remoteErr(m))
			s.port.Close()
			return
		default:
			s.log.Warn("unexpected message", map[string]any{"type": string(m.Type)})
		}
	}
}

func (s *portSource) receiveFailed(ctx context.Context, err error) {
	switch {
	case ctx.Err() != nil:
		s.port.Close()
	case tombflow.HasCode(err, tombflow.CodeDataClone):
		s.finished.Store(true)
		s.port.Post(Message{Type: TypeError, Err: err})
		s.ctrl.Error(err)
		s.port.Close()
	case !s.finished.Load():
		s.log.Debug("channel lost", map[string]any{"error": err.Error()})
		s.ctrl.Error(err)
	}
}

func (s *portSource) Pull(ctx context.Context, _ *tombflow.ReadableController) error {
	if err := s.port.Post(Message{Type: TypePull}); err != nil {
		return err
	}
	select {
	case <-s.arrived:
	case <-s.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (s *portSource) Cancel(_ context.Context, reason error) error {
	s.finished.Store(true)
	err := s.port.Post(Message{Type: TypeCancel, Err: reason})
	s.port.Close()
	if tombflow.HasCode(err, tombflow.CodeChannelClosed) {
		return nil
	}
	return err
}

// portSink writes a WritableStream's chunks to a port, one per credit.
type portSink struct {
	port Port
	log  *log.Logger
	ctrl *tombflow.WritableController

	mu       sync.Mutex
	credits  int
	failed   error
	changed  chan struct{}
	finished atomic.Bool
}

func newPortSink(port Port, logger *log.Logger) *portSink {
	return &portSink{
		port:    port,
		log:     logger.Named("transfer").With(map[string]any{"channel": port.ID(), "side": "sink"}),
		changed: make(chan struct{}),
	}
}

func (s *portSink) Start(ctx context.Context, c *tombflow.WritableController) error {
	s.ctrl = c
	go s.dispatch(ctx)
	return nil
}

func (s *portSink) dispatch(ctx context.Context) {
	for {
		m, err := s.port.Receive(ctx)
		if err != nil {
			s.receiveFailed(ctx, err)
			return
		}

		switch m.Type {
		case TypePull:
			s.update(func() { s.credits++ })
		case TypeCancel, TypeError:
			err := remoteErr(m)
			s.finished.Store(true)
			s.fail(err)
			s.ctrl.Error(err)
			s.port.Close()
			return
		default:
			s.log.Warn("unexpected message", map[string]any{"type": string(m.Type)})
		}
	}
}

func (s *portSink) receiveFailed(ctx context.Context, err error) {
	switch {
	case ctx.Err() != nil:
		s.fail(ctx.Err())
		s.port.Close()
	case tombflow.HasCode(err, tombflow.CodeDataClone):
		s.finished.Store(true)
		s.port.Post(Message{Type: TypeError, Err: err})
		s.fail(err)
		s.ctrl.Error(err)
		s.port.Close()
	case !s.finished.Load():
		s.log.Debug("channel lost", map[string]any{"error": err.Error()})
		s.fail(err)
		s.ctrl.Error(err)
	}
}

func (s *portSink) update(f func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f()
	close(s.changed)
	s.changed = make(chan struct{})
}

func (s *portSink) fail(err error) {
	s.update(func() {
		if s.failed == nil {
			s.failed = err
		}
	})
}

func (s *portSink) takeCredit(ctx context.Context) error {
	for {
		s.mu.Lock()
		if s.failed != nil {
			err := s.failed
			s.mu.Unlock()
			return err
		}
		if s.credits > 0 {
			s.credits--
			s.mu.Unlock()
			return nil
		}
		ch := s.changed
		s.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *portSink) Write(ctx context.Context, c tombflow.Chunk) error {
	if err := s.takeCredit(ctx); err != nil {
		return err
	}
	err := s.port.Post(Message{Type: TypeChunk, Value: c.Payload, Flush: c.Flush})
	if tombflow.HasCode(err, tombflow.CodeDataClone) {
		s.finished.Store(true)
		s.port.Post(Message{Type: TypeError, Err: err})
		s.port.Close()
	}
	return err
}

func (s *portSink) Close(context.Context) error {
	s.finished.Store(true)
	err := s.port.Post(Message{Type: TypeClose})
	s.port.Close()
	return err
}

func (s *portSink) Abort(_ context.Context, reason error) error {
	s.finished.Store(true)
	err := s.port.Post(Message{Type: TypeAbort, Err: reason})
	s.port.Close()
	if tombflow.HasCode(err, tombflow.CodeChannelClosed) {
		return nil
	}
	return err
}

func remoteErr(m Message) error {
	if m.Err != nil {
		return m.Err
	}
	return tombflow.ErrCanceled
}
