package tombflow

import (
	"context"
	"errors"

	"gopkg.in/tomb.v2"
)

var errNoSink = errors.New("tombflow: pipeline has no sink")

// Pipeline links an Outlet through zero or more Flows into an Inlet. Each
// hop runs PipeTo on its own goroutine, so close and error propagate from
// stage to stage.
type Pipeline struct {
	source Outlet
	flows  []Flow
	sink   Inlet
}

// From starts a pipeline at src.
func From(src Outlet) *Pipeline {
	return &Pipeline{source: src}
}

// Via streams data through the given flow.
func (p *Pipeline) Via(flow Flow) *Pipeline {
	p.flows = append(p.flows, flow)
	return p
}

// To streams data to the given sink.
func (p *Pipeline) To(sink Inlet) *Pipeline {
	p.sink = sink
	return p
}

// Run pipes every hop and waits for all of them. It returns the first hop
// error, which after propagation is the error that failed the pipeline.
func (p *Pipeline) Run(ctx context.Context) error {
	if p.sink == nil {
		return errNoSink
	}

	outlets := append([]Outlet{p.source}, flowOutlets(p.flows)...)
	inlets := append(flowInlets(p.flows), p.sink)

	var t tomb.Tomb
	t.Go(func() error {
		for i := range outlets {
			out, in := outlets[i], inlets[i]
			t.Go(func() error {
				return PipeTo(ctx, out, in)
			})
		}
		return nil
	})
	return t.Wait()
}

func flowOutlets(flows []Flow) []Outlet {
	out := make([]Outlet, len(flows))
	for i, f := range flows {
		out[i] = f
	}
	return out
}

func flowInlets(flows []Flow) []Inlet {
	in := make([]Inlet, len(flows))
	for i, f := range flows {
		in[i] = f
	}
	return in
}
