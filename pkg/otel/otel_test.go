package otel

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"subtrack/pkg/config"
)

func TestFromConfig(t *testing.T) {
	c := FromConfig(config.OtelConfig{Enabled: true, Endpoint: "collector:4317", ServiceName: "subtrack", SampleRatio: 0.5}, "worker")
	assert.Equal(t, "subtrack-worker", c.ServiceName)
	assert.Equal(t, "collector:4317", c.Endpoint)
	assert.Equal(t, 0.5, c.SampleRatio)
	assert.Equal(t, ServiceVersion, c.ServiceVersion)

	assert.Equal(t, "subtrack-api", FromConfig(config.OtelConfig{}, "api").ServiceName)
}

func TestSampler(t *testing.T) {
	assert.Contains(t, sampler(0).Description(), "TraceIDRatioBased{0.2}")
	assert.Contains(t, sampler(1.5).Description(), "TraceIDRatioBased{0.2}")
	assert.Contains(t, sampler(0.05).Description(), "TraceIDRatioBased{0.05}")
	assert.Contains(t, sampler(1).Description(), "AlwaysOnSampler")
}

func TestInitDisabledAndNoopSpans(t *testing.T) {
	shutdown, err := Init(Config{Enabled: false}, zap.NewNop())
	require.NoError(t, err)
	shutdown()

	ctx, span := StartSpan(context.Background(), "test")
	assert.NotNil(t, ctx)
	EndSpan(span, errors.New("boom"))

	assert.ErrorIs(t, WithDBSpan(context.Background(), "select", "t", func(context.Context) error {
		return errBoom
	}), errBoom)
}

var errBoom = errors.New("boom")
