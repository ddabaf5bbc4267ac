package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		" error ": slog.LevelError,
		"loud":    slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Writer: &buf, Format: FormatJSON, Level: slog.LevelInfo})

	log.Debug("hidden")
	log.Info("fetched", "count", 3)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "fetched", rec["msg"])
	assert.Equal(t, float64(3), rec["count"])
	assert.Equal(t, "catalog", rec["app"])
}

func TestNew_TextByDefault(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Writer: &buf, Level: slog.LevelDebug})

	log.Debug("retrying request", "attempt", 2)

	assert.Contains(t, buf.String(), "msg=\"retrying request\"")
	assert.Contains(t, buf.String(), "attempt=2")
}
