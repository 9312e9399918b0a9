package log

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		out = append(out, entry)
	}
	return out
}

func TestLogger(t *testing.T) {
	t.Run("Fields", func(t *testing.T) {
		var buf bytes.Buffer
		l, err := New(&buf, "debug")
		require.NoError(t, err)

		l.With(map[string]any{"stream": "readable"}).Info("pulled", map[string]any{"size": 3})

		entries := decodeLines(t, &buf)
		require.Len(t, entries, 1)
		assert.Equal(t, "info", entries[0]["level"])
		assert.Equal(t, "pulled", entries[0]["message"])
		assert.Equal(t, "readable", entries[0]["stream"])
		fields, ok := entries[0]["fields"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, float64(3), fields["size"])
	})
	t.Run("Level", func(t *testing.T) {
		var buf bytes.Buffer
		l, err := New(&buf, "warn")
		require.NoError(t, err)

		l.Debug("hidden", nil)
		l.Info("hidden", nil)
		l.Warn("shown", nil)

		entries := decodeLines(t, &buf)
		require.Len(t, entries, 1)
		assert.Equal(t, "shown", entries[0]["message"])
	})
	t.Run("Unknown Level", func(t *testing.T) {
		_, err := New(&bytes.Buffer{}, "loud")
		assert.Error(t, err)
	})
	t.Run("Nil Logger", func(t *testing.T) {
		var l *Logger
		assert.NotPanics(t, func() {
			l.Error("dropped", map[string]any{"k": "v"})
			l.Named("x").Sugar().Infof("dropped %d", 1)
		})
	})
}
