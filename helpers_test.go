package tombflow_test

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/artificial-james/tombflow"
)

var errBoom = errors.New("boom")

// gauge tracks concurrent calls and the highest concurrency seen.
type gauge struct {
	cur   atomic.Int32
	max   atomic.Int32
	calls atomic.Int32
}

func (g *gauge) enter() {
	g.calls.Inc()
	n := g.cur.Inc()
	for {
		m := g.max.Load()
		if n <= m || g.max.CompareAndSwap(m, n) {
			return
		}
	}
}

func (g *gauge) leave() {
	g.cur.Dec()
}

func jitter() {
	time.Sleep(time.Duration(rand.Intn(500)) * time.Microsecond)
}

// countSource enqueues 0..n-1 and then closes, recording its calls.
type countSource struct {
	n      int
	next   int
	pulls  gauge
	cancel struct {
		sync.Mutex
		calls   int
		reasons []error
	}
}

func (s *countSource) Pull(_ context.Context, c *tombflow.ReadableController) error {
	s.pulls.enter()
	defer s.pulls.leave()
	jitter()
	if s.next >= s.n {
		return c.Close()
	}
	s.next++
	return c.Enqueue(tombflow.NewChunk(s.next - 1))
}

func (s *countSource) Cancel(_ context.Context, reason error) error {
	s.cancel.Lock()
	defer s.cancel.Unlock()
	s.cancel.calls++
	s.cancel.reasons = append(s.cancel.reasons, reason)
	return nil
}

func (s *countSource) cancels() (int, []error) {
	s.cancel.Lock()
	defer s.cancel.Unlock()
	return s.cancel.calls, append([]error(nil), s.cancel.reasons...)
}

// recordSink collects payloads and counts its lifecycle calls.
type recordSink struct {
	writes   gauge
	delay    bool
	failOn   interface{}
	closes   atomic.Int32
	aborts   atomic.Int32
	mu       sync.Mutex
	got      []interface{}
	reason   error
	closeErr error
}

func (s *recordSink) Write(_ context.Context, c tombflow.Chunk) error {
	s.writes.enter()
	defer s.writes.leave()
	if s.delay {
		jitter()
	}
	if s.failOn != nil && c.Payload == s.failOn {
		return errBoom
	}
	s.mu.Lock()
	s.got = append(s.got, c.Payload)
	s.mu.Unlock()
	return nil
}

func (s *recordSink) Close(context.Context) error {
	s.closes.Inc()
	return s.closeErr
}

func (s *recordSink) Abort(_ context.Context, reason error) error {
	s.aborts.Inc()
	s.mu.Lock()
	s.reason = reason
	s.mu.Unlock()
	return nil
}

func (s *recordSink) payloads() []interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]interface{}(nil), s.got...)
}

func (s *recordSink) abortReason() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

func ints(n int) []interface{} {
	out := make([]interface{}, n)
	for i := range out {
		out[i] = i
	}
	return out
}
