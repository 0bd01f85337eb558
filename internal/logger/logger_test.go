package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.in))
		})
	}
}

func TestConsoleHandler(t *testing.T) {
	color.NoColor = true
	var buf bytes.Buffer
	New(Config{Level: "info", Format: "console"}, &buf)

	Get("Scheduler").Info("job admitted", "job", "abc", "active", 1)
	Get("Sweeper").Debug("hidden")
	Get("Sweeper").Warn("reclaimed", "count", 2)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "[Scheduler] (I) job admitted job=abc active=1", lines[0])
	assert.Equal(t, "[Sweeper]   (!) reclaimed count=2", lines[1])
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	New(Config{Level: "debug", Format: "json"}, &buf)

	Get("Runner").Debug("process started", "pid", 42)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "Runner", rec[ComponentKey])
	assert.Equal(t, "process started", rec["msg"])
	assert.EqualValues(t, 42, rec["pid"])
}
