package logutil

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTraceLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf, LevelTrace)
	Trace(l, "batch", "step", 3)
	assert.Contains(t, buf.String(), "level=TRACE")
	assert.Contains(t, buf.String(), "step=3")
	assert.Contains(t, buf.String(), "source=logutil_test.go:")
}

func TestLevelFilters(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf, slog.LevelInfo)
	Trace(l, "hidden")
	l.Debug("hidden")
	assert.Empty(t, buf.String())

	l.Info("shown")
	assert.Contains(t, buf.String(), "level=INFO")
	assert.NotContains(t, buf.String(), "source=")
}
