package cmd

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/urfave/cli/v2"
	"golang.org/x/time/rate"

	"github.com/artificial-james/tombflow"
	"github.com/artificial-james/tombflow/compress"
	"github.com/artificial-james/tombflow/config"
	"github.com/artificial-james/tombflow/transfer"
)

type stageFactory func(ctx context.Context, sc config.StageConfig, opts []tombflow.Option) (tombflow.Flow, error)

type stageDef struct {
	usage string
	build stageFactory
}

var registry = map[string]stageDef{
	"passthrough": {"forward chunks unchanged", passThroughStage},
	"upper":       {"uppercase text", caseStage(bytes.ToUpper)},
	"lower":       {"lowercase text", caseStage(bytes.ToLower)},
	"gzip":        {"gzip compress", compressStage(compress.Gzip)},
	"zstd":        {"zstd compress", compressStage(compress.Zstd)},
	"gunzip":      {"gzip decompress", decompressStage(compress.Gzip)},
	"unzstd":      {"zstd decompress", decompressStage(compress.Zstd)},
	"throttle":    {"limit to rate bytes per second (throttle:rate[:burst])", throttleStage},
	"bridge":      {"send chunks through a serializing channel", bridgeStage},
}

func passThroughStage(ctx context.Context, _ config.StageConfig, opts []tombflow.Option) (tombflow.Flow, error) {
	return tombflow.NewPassThrough(ctx, opts...), nil
}

func bridgeStage(ctx context.Context, _ config.StageConfig, opts []tombflow.Option) (tombflow.Flow, error) {
	return transfer.NewBridge(ctx, opts...), nil
}

func caseStage(f func([]byte) []byte) stageFactory {
	return func(ctx context.Context, _ config.StageConfig, opts []tombflow.Option) (tombflow.Flow, error) {
		return tombflow.NewMap(ctx, func(v interface{}) (interface{}, error) {
			b, ok := tombflow.NewChunk(v).Bytes()
			if !ok {
				return nil, fmt.Errorf("cannot change the case of %T", v)
			}
			return f(b), nil
		}, opts...), nil
	}
}

func compressStage(format compress.Format) stageFactory {
	return func(ctx context.Context, _ config.StageConfig, opts []tombflow.Option) (tombflow.Flow, error) {
		return compress.NewCompress(ctx, format, opts...)
	}
}

func decompressStage(format compress.Format) stageFactory {
	return func(ctx context.Context, _ config.StageConfig, opts []tombflow.Option) (tombflow.Flow, error) {
		return compress.NewDecompress(ctx, format, opts...)
	}
}

func throttleStage(ctx context.Context, sc config.StageConfig, opts []tombflow.Option) (tombflow.Flow, error) {
	if sc.Rate <= 0 {
		return nil, fmt.Errorf("throttle: rate must be positive")
	}
	burst := sc.Burst
	if burst <= 0 {
		burst = int(sc.Rate)
		if burst < 1 {
			burst = 1
		}
	}
	th := &tombflow.Throttle{
		Limiter: rate.NewLimiter(rate.Limit(sc.Rate), burst),
		Cost:    tombflow.ByteLength,
	}
	return tombflow.NewTransformStream(ctx, th, opts...), nil
}

// ParseStage parses a --stage value: name[:rate[:burst]].
func ParseStage(s string) (config.StageConfig, error) {
	parts := strings.Split(s, ":")
	sc := config.StageConfig{Name: parts[0]}
	if len(parts) > 3 {
		return sc, fmt.Errorf("invalid stage %q", s)
	}
	if len(parts) > 1 {
		r, err := strconv.ParseFloat(parts[1], 64)
		if err != nil {
			return sc, fmt.Errorf("invalid rate in stage %q: %w", s, err)
		}
		sc.Rate = r
	}
	if len(parts) > 2 {
		b, err := strconv.Atoi(parts[2])
		if err != nil {
			return sc, fmt.Errorf("invalid burst in stage %q: %w", s, err)
		}
		sc.Burst = b
	}
	return sc, nil
}

// BuildStages starts one flow per stage, in order. Each flow is named
// after its stage and position.
func BuildStages(ctx context.Context, stages []config.StageConfig, opts ...tombflow.Option) ([]tombflow.Flow, error) {
	flows := make([]tombflow.Flow, 0, len(stages))
	for i, sc := range stages {
		def, ok := registry[sc.Name]
		if !ok {
			return nil, fmt.Errorf("unknown stage %q", sc.Name)
		}
		stageOpts := append(append([]tombflow.Option(nil), opts...), tombflow.WithName(fmt.Sprintf("%d-%s", i, sc.Name)))
		f, err := def.build(ctx, sc, stageOpts)
		if err != nil {
			return nil, fmt.Errorf("stage %d (%s): %w", i, sc.Name, err)
		}
		flows = append(flows, f)
	}
	return flows, nil
}

// StageNames lists the registered stages, sorted.
func StageNames() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// StagesCommand returns the stages command.
func StagesCommand() *cli.Command {
	return &cli.Command{
		Name:  "stages",
		Usage: "List the available transform stages",
		Action: func(c *cli.Context) error {
			for _, name := range StageNames() {
				fmt.Fprintf(c.App.Writer, "%-12s %s\n", name, registry[name].usage)
			}
			return nil
		},
	}
}
