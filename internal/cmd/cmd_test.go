package cmd_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/artificial-james/tombflow/config"
	"github.com/artificial-james/tombflow/internal/cmd"
)

func newApp(in io.Reader, out io.Writer) *cli.App {
	return &cli.App{
		Name:           "tombflow",
		Reader:         in,
		Writer:         out,
		ErrWriter:      io.Discard,
		ExitErrHandler: func(*cli.Context, error) {},
		Commands: []*cli.Command{
			cmd.RunCommand(),
			cmd.StagesCommand(),
			cmd.VersionCommand("test"),
		},
	}
}

func exitCode(t *testing.T, err error) int {
	t.Helper()
	var ec cli.ExitCoder
	require.True(t, errors.As(err, &ec), "error %v has no exit code", err)
	return ec.ExitCode()
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestRun(t *testing.T) {
	text := strings.Repeat("the quick brown fox jumps over the lazy dog\n", 500)

	t.Run("Normal", func(t *testing.T) {
		in := writeFile(t, "in.txt", text)
		out := filepath.Join(t.TempDir(), "out.txt")

		err := newApp(nil, io.Discard).Run([]string{"tombflow", "run",
			"--in", in, "--out", out, "--chunk-size", "100",
			"--stage", "upper", "--stage", "gzip", "--stage", "gunzip"})
		require.NoError(t, err)

		got, err := os.ReadFile(out)
		require.NoError(t, err)
		assert.Equal(t, strings.ToUpper(text), string(got))
	})
	t.Run("Stdio", func(t *testing.T) {
		var out bytes.Buffer
		err := newApp(strings.NewReader("Hello"), &out).Run([]string{"tombflow", "run", "-s", "lower", "-s", "bridge"})
		require.NoError(t, err)
		assert.Equal(t, "hello", out.String())
	})
	t.Run("Worker", func(t *testing.T) {
		var out bytes.Buffer
		err := newApp(strings.NewReader(text), &out).Run([]string{"tombflow", "run", "--worker",
			"--chunk-size", "64", "--stage", "upper", "--stage", "zstd", "--stage", "unzstd"})
		require.NoError(t, err)
		assert.Equal(t, strings.ToUpper(text), out.String())
	})
	t.Run("Worker Without Stages", func(t *testing.T) {
		var out bytes.Buffer
		err := newApp(strings.NewReader("as is"), &out).Run([]string{"tombflow", "run", "--worker"})
		require.NoError(t, err)
		assert.Equal(t, "as is", out.String())
	})
	t.Run("Config", func(t *testing.T) {
		path := writeFile(t, "tombflow.yaml", "stages:\n  - name: lower\n  - name: throttle\n    rate: 1000000\n")
		var out bytes.Buffer
		err := newApp(strings.NewReader("QUIET"), &out).Run([]string{"tombflow", "run", "--config", path})
		require.NoError(t, err)
		assert.Equal(t, "quiet", out.String())
	})
	t.Run("Unknown Stage", func(t *testing.T) {
		err := newApp(strings.NewReader("x"), io.Discard).Run([]string{"tombflow", "run", "--stage", "sparkle"})
		require.Error(t, err)
		assert.Equal(t, 1, exitCode(t, err))
		assert.Contains(t, err.Error(), `unknown stage "sparkle"`)
	})
	t.Run("Stage Error", func(t *testing.T) {
		err := newApp(strings.NewReader("not compressed"), io.Discard).Run([]string{"tombflow", "run", "--stage", "gunzip"})
		require.Error(t, err)
		assert.Equal(t, 1, exitCode(t, err))
	})
	t.Run("Invalid Config", func(t *testing.T) {
		err := newApp(strings.NewReader("x"), io.Discard).Run([]string{"tombflow", "run", "--log-level", "loud"})
		require.Error(t, err)
		assert.Equal(t, 2, exitCode(t, err))

		err = newApp(nil, io.Discard).Run([]string{"tombflow", "run", "--in", filepath.Join(t.TempDir(), "missing")})
		require.Error(t, err)
		assert.Equal(t, 2, exitCode(t, err))
	})
}

func TestRunFunc(t *testing.T) {
	cfg := config.Default()
	cfg.Stages = []config.StageConfig{{Name: "upper"}}
	var out bytes.Buffer
	err := cmd.Run(context.Background(), cfg, io.NopCloser(strings.NewReader("abc")), nopCloser{&out})
	require.NoError(t, err)
	assert.Equal(t, "ABC", out.String())
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }

func TestParseStage(t *testing.T) {
	t.Run("Normal", func(t *testing.T) {
		sc, err := cmd.ParseStage("gzip")
		require.NoError(t, err)
		assert.Equal(t, config.StageConfig{Name: "gzip"}, sc)

		sc, err = cmd.ParseStage("throttle:512.5:1024")
		require.NoError(t, err)
		assert.Equal(t, config.StageConfig{Name: "throttle", Rate: 512.5, Burst: 1024}, sc)
	})
	t.Run("Error", func(t *testing.T) {
		_, err := cmd.ParseStage("throttle:fast")
		assert.Error(t, err)
		_, err = cmd.ParseStage("throttle:1:many")
		assert.Error(t, err)
		_, err = cmd.ParseStage("a:1:2:3")
		assert.Error(t, err)
	})
	t.Run("Throttle Needs Rate", func(t *testing.T) {
		_, err := cmd.BuildStages(context.Background(), []config.StageConfig{{Name: "throttle"}})
		assert.ErrorContains(t, err, "rate must be positive")
	})
}

func TestStagesCommand(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, newApp(nil, &out).Run([]string{"tombflow", "stages"}))
	for _, name := range cmd.StageNames() {
		assert.Contains(t, out.String(), name)
	}
	assert.Contains(t, cmd.StageNames(), "unzstd")
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, newApp(nil, &out).Run([]string{"tombflow", "version"}))
	assert.Equal(t, "tombflow "+cmd.Version+" (commit: test)\n", out.String())
}
