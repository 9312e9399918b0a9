// Package main provides the tombflow CLI entrypoint.
//
// Usage:
//
//	tombflow run --in data.txt --stage upper --stage gzip --out data.txt.gz
//	tombflow stages
//	tombflow version
//
// Exit codes for `run`:
//   - 0: success
//   - 1: the pipeline failed
//   - 2: invalid configuration or files
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/artificial-james/tombflow/internal/cmd"
)

// Commit is set via ldflags at build time.
var commit = "unknown"

func main() {
	app := &cli.App{
		Name:           "tombflow",
		Usage:          "Backpressured streaming pipelines",
		Version:        fmt.Sprintf("%s (commit: %s)", cmd.Version, commit),
		ExitErrHandler: exitErrHandler,
		Commands: []*cli.Command{
			cmd.RunCommand(),
			cmd.StagesCommand(),
			cmd.VersionCommand(commit),
		},
	}

	if err := app.Run(os.Args); err != nil {
		os.Exit(1)
	}
}

// exitErrHandler prints the error and exits with its code, 1 by default.
func exitErrHandler(_ *cli.Context, err error) {
	if err == nil {
		return
	}

	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		code := exitCoder.ExitCode()
		if msg := exitCoder.Error(); msg != "" && msg != fmt.Sprintf("exit status %d", code) {
			fmt.Fprintln(os.Stderr, msg)
		}
		os.Exit(code)
	}

	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
