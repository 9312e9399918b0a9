// Package metrics exports stream activity to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/artificial-james/tombflow"
)

// Metrics holds the stream collectors. It is a tombflow.Observer.
type Metrics struct {
	ChunksEnqueued *prometheus.CounterVec
	ChunksDequeued *prometheus.CounterVec
	BytesEnqueued  *prometheus.CounterVec
	Buffered       *prometheus.GaugeVec
	StreamsClosed  *prometheus.CounterVec
	StreamsErrored *prometheus.CounterVec

	registry *prometheus.Registry
}

// Verify Metrics satisfies the Observer interface.
var _ tombflow.Observer = (*Metrics)(nil)

// New registers the collectors on a fresh registry under namespace.
func New(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,

		ChunksEnqueued: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "chunks_enqueued_total",
				Help:      "Chunks accepted into a stream queue",
			},
			[]string{"stream"},
		),
		ChunksDequeued: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "chunks_dequeued_total",
				Help:      "Chunks handed to a reader or sink",
			},
			[]string{"stream"},
		),
		BytesEnqueued: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "enqueued_size_total",
				Help:      "Summed chunk weight accepted into a stream queue",
			},
			[]string{"stream"},
		),
		Buffered: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "buffered_size",
				Help:      "Chunk weight currently queued",
			},
			[]string{"stream"},
		),
		StreamsClosed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "streams_closed_total",
				Help:      "Streams that finished cleanly",
			},
			[]string{"stream"},
		),
		StreamsErrored: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "streams_errored_total",
				Help:      "Streams that errored, canceled or aborted, by error code",
			},
			[]string{"stream", "code"},
		),
	}
}

func label(stream string) string {
	if stream == "" {
		return "unnamed"
	}
	return stream
}

func (m *Metrics) Enqueued(stream string, size int) {
	stream = label(stream)
	m.ChunksEnqueued.WithLabelValues(stream).Inc()
	m.BytesEnqueued.WithLabelValues(stream).Add(float64(size))
	m.Buffered.WithLabelValues(stream).Add(float64(size))
}

func (m *Metrics) Dequeued(stream string, size int) {
	stream = label(stream)
	m.ChunksDequeued.WithLabelValues(stream).Inc()
	m.Buffered.WithLabelValues(stream).Sub(float64(size))
}

func (m *Metrics) Closed(stream string) {
	stream = label(stream)
	m.StreamsClosed.WithLabelValues(stream).Inc()
	m.Buffered.WithLabelValues(stream).Set(0)
}

func (m *Metrics) Errored(stream string, err error) {
	stream = label(stream)
	code := string(tombflow.CodeOf(err))
	if code == "" {
		code = "none"
	}
	m.StreamsErrored.WithLabelValues(stream, code).Inc()
	m.Buffered.WithLabelValues(stream).Set(0)
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
