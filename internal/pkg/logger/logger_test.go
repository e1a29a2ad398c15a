package logger

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLogger(t *testing.T) {
	ctx := context.Background()
	Initialize()

	t.Run("Info", func(t *testing.T) {
		Info("Test info message", "component", "test")
	})

	t.Run("InfoContext", func(t *testing.T) {
		InfoContext(ctx, "Test info message", "key", "value", "number", 42)
	})

	t.Run("Warn", func(t *testing.T) {
		Warn("Test warning message", "component", "test")
	})

	t.Run("Error", func(t *testing.T) {
		Error("Test error message", "error", "sample error")
	})

	t.Run("Debug", func(t *testing.T) {
		Debug("Test debug message", "debug", true)
	})
}

func TestLoggerInitialization(t *testing.T) {
	l := Get()
	assert.NotNil(t, l)
	assert.Same(t, l, Get(), "expected same logger instance on multiple calls")
}

func TestSetLevel(t *testing.T) {
	defer SetLevel("info")

	assert.True(t, SetLevel("debug"))
	assert.True(t, SetLevel("WARN"))
	assert.True(t, SetLevel(""))
	assert.False(t, SetLevel("verbose"))
}

func TestNewTrace(t *testing.T) {
	var buf bytes.Buffer
	tr := NewTrace(&buf)
	tr.Debug("segment", "seq", 42)

	assert.Contains(t, buf.String(), "segment")
	assert.Contains(t, buf.String(), "seq=42")

	// nil writer must not panic
	NewTrace(nil).Debug("dropped")
}

func TestWith(t *testing.T) {
	assert.NotNil(t, With("component", "test"))
}
