package tombflow

import (
	"github.com/artificial-james/tombflow/log"
)

// DefaultHighWaterMark is the buffered weight (bytes under ByteLength) at
// which streams start applying backpressure.
const DefaultHighWaterMark = 16 * 1024

type options struct {
	name        string
	hwm         int
	hwmSet      bool
	readableHWM int
	readableSet bool
	sizeOf      SizeFunc
	logger      *log.Logger
	observer    Observer
}

// Option configures a stream.
type Option func(*options)

func buildOptions(opts []Option) options {
	o := options{
		hwm:    DefaultHighWaterMark,
		sizeOf: ByteLength,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = log.Nop()
	}
	if o.observer == nil {
		o.observer = nopObserver{}
	}
	return o
}

// WithName labels the stream in logs and metrics.
func WithName(name string) Option {
	return func(o *options) {
		o.name = name
	}
}

// WithHighWaterMark sets the backpressure threshold. On a TransformStream
// it applies to the writable side.
func WithHighWaterMark(n int) Option {
	return func(o *options) {
		o.hwm = n
		o.hwmSet = true
	}
}

// WithReadableHighWaterMark sets the readable side's threshold of a
// TransformStream (default 0: transform only when a read is waiting).
func WithReadableHighWaterMark(n int) Option {
	return func(o *options) {
		o.readableHWM = n
		o.readableSet = true
	}
}

// WithSizeFunc sets how chunks are weighed.
func WithSizeFunc(f SizeFunc) Option {
	return func(o *options) {
		if f != nil {
			o.sizeOf = f
		}
	}
}

// WithLogger sets the logger used for swallowed hook errors and teardown.
func WithLogger(l *log.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithObserver attaches an Observer, e.g. a metrics collector.
func WithObserver(obs Observer) Option {
	return func(o *options) {
		o.observer = obs
	}
}

// LoggerFrom returns the logger opts configure, or a no-op logger.
func LoggerFrom(opts ...Option) *log.Logger {
	return buildOptions(opts).logger
}
