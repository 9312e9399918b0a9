// Package cmd provides CLI commands for the tombflow binary.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"

	"github.com/artificial-james/tombflow"
	"github.com/artificial-james/tombflow/config"
	"github.com/artificial-james/tombflow/log"
	"github.com/artificial-james/tombflow/metrics"
	"github.com/artificial-james/tombflow/transfer"
)

// RunCommand returns the run command.
func RunCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Stream a file through a chain of stages",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to tombflow.yaml",
			},
			&cli.StringFlag{
				Name:  "in",
				Usage: "Input file, - for stdin",
				Value: "-",
			},
			&cli.StringFlag{
				Name:  "out",
				Usage: "Output file, - for stdout",
				Value: "-",
			},
			&cli.StringSliceFlag{
				Name:    "stage",
				Aliases: []string{"s"},
				Usage:   "Stage to apply, in order: name[:rate[:burst]] (replaces the config's stages)",
			},
			&cli.BoolFlag{
				Name:  "worker",
				Usage: "Run the stages in an isolated worker",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level: debug, info, warn, error",
			},
			&cli.StringFlag{
				Name:  "metrics-addr",
				Usage: "Serve Prometheus metrics on this address",
			},
			&cli.IntFlag{
				Name:  "high-water-mark",
				Usage: "Bytes buffered per stream before backpressure",
			},
			&cli.IntFlag{
				Name:  "chunk-size",
				Usage: "Bytes per input chunk",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Abort the run after this long",
			},
		},
		Action: runAction,
	}
}

// loadConfig applies the run flags over the config file and environment.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	if c.IsSet("stage") {
		cfg.Stages = nil
		for _, s := range c.StringSlice("stage") {
			sc, err := ParseStage(s)
			if err != nil {
				return nil, err
			}
			cfg.Stages = append(cfg.Stages, sc)
		}
	}
	if c.IsSet("worker") {
		cfg.Worker.Enabled = c.Bool("worker")
	}
	if c.IsSet("log-level") {
		cfg.Log.Level = c.String("log-level")
	}
	if c.IsSet("metrics-addr") {
		cfg.Metrics.Addr = c.String("metrics-addr")
	}
	if c.IsSet("high-water-mark") {
		cfg.Stream.HighWaterMark = c.Int("high-water-mark")
	}
	if c.IsSet("chunk-size") {
		cfg.Stream.ChunkSize = c.Int("chunk-size")
	}
	if c.IsSet("timeout") {
		cfg.Stream.Timeout = config.Duration{Duration: c.Duration("timeout")}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}
	logger, err := log.New(c.App.ErrWriter, cfg.Log.Level)
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if cfg.Stream.Timeout.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Stream.Timeout.Duration)
		defer cancel()
	}

	opts := []tombflow.Option{
		tombflow.WithLogger(logger),
		tombflow.WithHighWaterMark(cfg.Stream.HighWaterMark),
	}
	if cfg.Metrics.Addr != "" {
		m := metrics.New(cfg.Metrics.Namespace)
		srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: m.Handler()}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Warn("metrics server failed", map[string]any{"error": err.Error()})
			}
		}()
		defer srv.Close()
		opts = append(opts, tombflow.WithObserver(m))
	}

	in, out, err := openFiles(c, c.String("in"), c.String("out"))
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}

	start := time.Now()
	err = Run(ctx, cfg, in, out, opts...)
	if err != nil {
		logger.Error("run failed", map[string]any{"error": err.Error()})
		return cli.Exit(fmt.Sprintf("run failed: %v", err), 1)
	}
	logger.Info("run finished", map[string]any{
		"stages":   len(cfg.Stages),
		"worker":   cfg.Worker.Enabled,
		"duration": time.Since(start).String(),
	})
	return nil
}

// Run streams in through the configured stages into out. Both are closed
// when the run ends.
func Run(ctx context.Context, cfg *config.Config, in io.ReadCloser, out io.WriteCloser, opts ...tombflow.Option) error {
	defer in.Close()
	src := tombflow.NewReaderSource(ctx, in, cfg.Stream.ChunkSize, withName(opts, "input")...)
	sink := tombflow.NewWriterSink(ctx, out, withName(opts, "output")...)

	if cfg.Worker.Enabled {
		return runInWorker(ctx, cfg.Stages, src, sink, opts)
	}

	flows, err := BuildStages(ctx, cfg.Stages, opts...)
	if err != nil {
		abortAll(src, sink, err)
		return err
	}
	p := tombflow.From(src)
	for _, f := range flows {
		p = p.Via(f)
	}
	return p.To(sink).Run(ctx)
}

// runInWorker hands the input to a worker that applies the stages and
// sends their output back.
func runInWorker(ctx context.Context, stages []config.StageConfig, src *tombflow.ReadableStream, sink *tombflow.WritableStream, opts []tombflow.Option) error {
	w := transfer.Spawn(ctx, func(ctx context.Context, control transfer.Port) error {
		in, err := transfer.AcceptReadable(ctx, control, opts...)
		if err != nil {
			return err
		}
		flows, err := BuildStages(ctx, stages, opts...)
		if err != nil {
			in.Cancel(ctx, err)
			return err
		}
		if len(flows) == 0 {
			flows = append(flows, tombflow.NewPassThrough(ctx, opts...))
		}

		last := flows[len(flows)-1]
		if err := transfer.SendReadable(ctx, control, last.Readable(), opts...); err != nil {
			return err
		}
		p := tombflow.From(in)
		for _, f := range flows[:len(flows)-1] {
			p = p.Via(f)
		}
		if err := p.To(last).Run(ctx); err != nil {
			return err
		}
		<-ctx.Done()
		return nil
	}, opts...)

	if err := transfer.SendReadable(ctx, w.Port(), src, opts...); err != nil {
		sink.Abort(ctx, err)
		return multierr.Append(err, w.Terminate())
	}
	result, err := transfer.AcceptReadable(ctx, w.Port(), opts...)
	if err != nil {
		sink.Abort(ctx, err)
		if werr := w.Terminate(); werr != nil {
			return werr
		}
		return err
	}
	err = tombflow.PipeTo(ctx, result, sink)
	return multierr.Append(err, w.Terminate())
}

func abortAll(src *tombflow.ReadableStream, sink *tombflow.WritableStream, reason error) {
	bg := context.Background()
	src.Cancel(bg, reason)
	sink.Abort(bg, reason)
}

func withName(opts []tombflow.Option, name string) []tombflow.Option {
	return append(append([]tombflow.Option(nil), opts...), tombflow.WithName(name))
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

func openFiles(c *cli.Context, inPath, outPath string) (io.ReadCloser, io.WriteCloser, error) {
	var in io.ReadCloser = io.NopCloser(c.App.Reader)
	if inPath != "-" {
		f, err := os.Open(inPath)
		if err != nil {
			return nil, nil, fmt.Errorf("cannot open input: %w", err)
		}
		in = f
	}

	var out io.WriteCloser = nopWriteCloser{c.App.Writer}
	if outPath != "-" {
		f, err := os.Create(outPath)
		if err != nil {
			in.Close()
			return nil, nil, fmt.Errorf("cannot create output: %w", err)
		}
		out = f
	}
	return in, out, nil
}
