package transfer_test

import (
	"context"
	"errors"
	"strings"
	"sync"

	"go.uber.org/atomic"

	"github.com/artificial-james/tombflow"
)

var errBoom = errors.New("boom")

// collectSink records payloads and its close and abort calls.
type collectSink struct {
	mu     sync.Mutex
	got    []interface{}
	reason error

	closes atomic.Int32
	aborts atomic.Int32
}

func (s *collectSink) Write(_ context.Context, c tombflow.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, c.Payload)
	return nil
}

func (s *collectSink) Close(context.Context) error {
	s.closes.Inc()
	return nil
}

func (s *collectSink) Abort(_ context.Context, reason error) error {
	s.mu.Lock()
	s.reason = reason
	s.mu.Unlock()
	s.aborts.Inc()
	return nil
}

func (s *collectSink) payloads() []interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]interface{}(nil), s.got...)
}

func (s *collectSink) abortReason() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// idleSource never produces data and reports its cancel reason.
type idleSource struct {
	canceled chan error
}

func newIdleSource() *idleSource {
	return &idleSource{canceled: make(chan error, 1)}
}

func (s *idleSource) Pull(context.Context, *tombflow.ReadableController) error {
	return nil
}

func (s *idleSource) Cancel(_ context.Context, reason error) error {
	s.canceled <- reason
	return nil
}

func upper(v interface{}) (interface{}, error) {
	s, ok := v.(string)
	if !ok {
		return nil, errors.New("not a string")
	}
	return strings.ToUpper(s), nil
}

func strs(items ...string) []interface{} {
	out := make([]interface{}, len(items))
	for i, s := range items {
		out[i] = s
	}
	return out
}
