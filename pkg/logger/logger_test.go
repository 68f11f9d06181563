package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"subtrack/pkg/config"
	"subtrack/pkg/trace"
)

func TestNewLogger_Level(t *testing.T) {
	l := NewLogger(config.LogConfig{Level: "warn"})
	assert.False(t, l.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, l.Core().Enabled(zapcore.WarnLevel))
	assert.Same(t, l, Log)

	l = NewLogger(config.LogConfig{Level: "nonsense"})
	assert.True(t, l.Core().Enabled(zapcore.InfoLevel))
	assert.False(t, l.Core().Enabled(zapcore.DebugLevel))
}

func TestWithTrace(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	base := zap.New(core)

	WithTrace(context.Background(), base).Info("plain")

	ctx := trace.WithContext(context.Background(), "abc123")
	sc := oteltrace.NewSpanContext(oteltrace.SpanContextConfig{
		TraceID: oteltrace.TraceID{1},
		SpanID:  oteltrace.SpanID{2},
	})
	ctx = oteltrace.ContextWithSpanContext(ctx, sc)
	WithTrace(ctx, base).Info("traced")

	entries := logs.All()
	if assert.Len(t, entries, 2) {
		assert.Empty(t, entries[0].ContextMap())
		assert.Equal(t, "abc123", entries[1].ContextMap()["trace_id"])
		assert.Equal(t, sc.SpanID().String(), entries[1].ContextMap()["span_id"])
	}
}
