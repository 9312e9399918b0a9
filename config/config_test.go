package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artificial-james/tombflow/config"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tombflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		cfg, err := config.Load("")
		require.NoError(t, err)
		assert.Equal(t, config.Default(), cfg)
	})
	t.Run("Normal", func(t *testing.T) {
		t.Setenv("TF_TEST_ADDR", ":9100")
		path := writeConfig(t, `
log:
  level: debug
stream:
  high_water_mark: 4
  timeout: 1m30s
stages:
  - name: upper
  - name: throttle
    rate: 10
    burst: 2
worker:
  enabled: true
metrics:
  addr: ${TF_TEST_ADDR}
  namespace: ${TF_TEST_UNSET:-flow}
`)
		cfg, err := config.Load(path)
		require.NoError(t, err)

		assert.Equal(t, "debug", cfg.Log.Level)
		assert.Equal(t, 4, cfg.Stream.HighWaterMark)
		assert.Equal(t, 32*1024, cfg.Stream.ChunkSize, "unset fields keep their defaults")
		assert.Equal(t, 90*time.Second, cfg.Stream.Timeout.Duration)
		assert.Equal(t, []config.StageConfig{{Name: "upper"}, {Name: "throttle", Rate: 10, Burst: 2}}, cfg.Stages)
		assert.True(t, cfg.Worker.Enabled)
		assert.Equal(t, ":9100", cfg.Metrics.Addr)
		assert.Equal(t, "flow", cfg.Metrics.Namespace)
	})
	t.Run("Environment", func(t *testing.T) {
		t.Setenv("TOMBFLOW_LOG_LEVEL", "warn")
		t.Setenv("TOMBFLOW_STREAM_CHUNK_SIZE", "512")
		t.Setenv("TOMBFLOW_STREAM_TIMEOUT", "5s")
		path := writeConfig(t, "log:\n  level: debug\nstream:\n  chunk_size: 64\n")

		cfg, err := config.Load(path)
		require.NoError(t, err)
		assert.Equal(t, "warn", cfg.Log.Level)
		assert.Equal(t, 512, cfg.Stream.ChunkSize)
		assert.Equal(t, 5*time.Second, cfg.Stream.Timeout.Duration)
	})
	t.Run("Error", func(t *testing.T) {
		_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
		assert.ErrorContains(t, err, "config file not found")

		_, err = config.Load(writeConfig(t, "log: [unterminated"))
		assert.ErrorContains(t, err, "invalid YAML")

		_, err = config.Load(writeConfig(t, "stream:\n  timeout: soon\n"))
		assert.ErrorContains(t, err, "invalid duration")

		_, err = config.Load(writeConfig(t, "log:\n  level: loud\nstream:\n  chunk_size: 0\nstages:\n  - rate: 1\n"))
		require.Error(t, err)
		assert.ErrorContains(t, err, "log.level")
		assert.ErrorContains(t, err, "stream.chunk_size")
		assert.ErrorContains(t, err, "stages[0]: missing name")
	})
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("TF_SET", "value")
	t.Setenv("TF_EMPTY", "")
	assert.Equal(t, "value", config.ExpandEnv("${TF_SET}"))
	assert.Equal(t, "fallback", config.ExpandEnv("${TF_EMPTY:-fallback}"))
	assert.Equal(t, "", config.ExpandEnv("${TF_DEFINITELY_UNSET}"))
	assert.Equal(t, "a-value-b", config.ExpandEnv("a-${TF_SET}-b"))
	assert.Equal(t, "$TF_SET", config.ExpandEnv("$TF_SET"), "only braced references expand")
}
