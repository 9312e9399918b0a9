// Package config loads tombflow.yaml. Values from the file are applied over
// the defaults, then TOMBFLOW_* environment variables override both.
package config

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
)

// EnvPrefix prefixes every environment override, e.g.
// TOMBFLOW_STREAM_HIGH_WATER_MARK.
const EnvPrefix = "TOMBFLOW"

// Config represents a tombflow.yaml configuration file.
// CLI flags always override config values.
type Config struct {
	Log     LogConfig     `yaml:"log"`
	Stream  StreamConfig  `yaml:"stream"`
	Stages  []StageConfig `yaml:"stages" ignored:"true"`
	Worker  WorkerConfig  `yaml:"worker"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level string `yaml:"level"`
}

// StreamConfig sizes the streams of a run.
type StreamConfig struct {
	HighWaterMark int      `yaml:"high_water_mark" split_words:"true"`
	ChunkSize     int      `yaml:"chunk_size" split_words:"true"`
	Timeout       Duration `yaml:"timeout"`
}

// StageConfig is one transform stage of a run, in order.
type StageConfig struct {
	Name  string  `yaml:"name"`
	Rate  float64 `yaml:"rate,omitempty"`
	Burst int     `yaml:"burst,omitempty"`
}

// WorkerConfig moves the stages into an isolated worker.
type WorkerConfig struct {
	Enabled bool `yaml:"enabled"`
}

// MetricsConfig enables the Prometheus endpoint when Addr is set.
type MetricsConfig struct {
	Addr      string `yaml:"addr"`
	Namespace string `yaml:"namespace"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	return d.Decode(s)
}

// Decode implements envconfig.Decoder.
func (d *Duration) Decode(s string) error {
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level: "info",
		},
		Stream: StreamConfig{
			HighWaterMark: 16 * 1024,
			ChunkSize:     32 * 1024,
		},
		Metrics: MetricsConfig{
			Namespace: "tombflow",
		},
	}
}

// Validate reports every invalid field.
func (c *Config) Validate() error {
	var err error
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		err = multierr.Append(err, fmt.Errorf("log.level: unknown level %q", c.Log.Level))
	}
	if c.Stream.HighWaterMark < 0 {
		err = multierr.Append(err, errors.New("stream.high_water_mark: must not be negative"))
	}
	if c.Stream.ChunkSize <= 0 {
		err = multierr.Append(err, errors.New("stream.chunk_size: must be positive"))
	}
	if c.Stream.Timeout.Duration < 0 {
		err = multierr.Append(err, errors.New("stream.timeout: must not be negative"))
	}
	for i, s := range c.Stages {
		if s.Name == "" {
			err = multierr.Append(err, fmt.Errorf("stages[%d]: missing name", i))
		}
		if s.Rate < 0 || s.Burst < 0 {
			err = multierr.Append(err, fmt.Errorf("stages[%d]: rate and burst must not be negative", i))
		}
	}
	return err
}
