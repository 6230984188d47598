package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/camlearnd/internal/config"
)

func TestNew(t *testing.T) {
	t.Run("disabled telemetry is a no-op instance", func(t *testing.T) {
		cfg := config.DefaultConfig().Telemetry

		tel, err := New(context.Background(), cfg, "test", zap.NewNop())
		require.NoError(t, err)
		require.NotNil(t, tel)

		assert.NotNil(t, tel.Tracer("test"))
		assert.NotNil(t, tel.Meter("test"))
		assert.Nil(t, tel.LoggerProvider())
		assert.False(t, tel.IsEnabled())

		health := tel.Health()
		assert.True(t, health.Healthy)
		assert.False(t, health.Degraded)
	})

	t.Run("invalid config is rejected", func(t *testing.T) {
		cfg := config.TelemetryConfig{Enabled: true}

		tel, err := New(context.Background(), cfg, "test", nil)
		require.Error(t, err)
		assert.Nil(t, tel)
		assert.Contains(t, err.Error(), "invalid telemetry config")
	})

	t.Run("enabled config builds real providers without a collector", func(t *testing.T) {
		// OTLP exporters connect lazily, so construction succeeds even
		// when nothing listens on the endpoint.
		cfg := config.DefaultConfig().Telemetry
		cfg.Enabled = true
		cfg.Insecure = true

		tel, err := New(context.Background(), cfg, "test", zap.NewNop())
		require.NoError(t, err)

		assert.True(t, tel.IsEnabled())
		assert.NotNil(t, tel.LoggerProvider())
		assert.False(t, tel.Health().Degraded)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_ = tel.Shutdown(ctx)
		assert.False(t, tel.IsEnabled())
	})

	t.Run("http protobuf protocol is accepted", func(t *testing.T) {
		cfg := config.DefaultConfig().Telemetry
		cfg.Enabled = true
		cfg.Insecure = true
		cfg.Protocol = "http/protobuf"
		cfg.Endpoint = "localhost:4318"

		tel, err := New(context.Background(), cfg, "test", zap.NewNop())
		require.NoError(t, err)
		assert.False(t, tel.Health().Degraded)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_ = tel.Shutdown(ctx)
	})
}

func TestTelemetryNilSafe(t *testing.T) {
	var tel *Telemetry

	assert.NotPanics(t, func() {
		_ = tel.Tracer("test")
		_ = tel.Meter("test")
		_ = tel.LoggerProvider()
		_ = tel.Health()
		_ = tel.IsEnabled()
		_ = tel.Shutdown(context.Background())
		_ = tel.ForceFlush(context.Background())
	})

	health := tel.Health()
	assert.False(t, health.Healthy)
	assert.True(t, health.Degraded)
}

func TestTestTelemetry(t *testing.T) {
	tt := NewTestTelemetry()
	ctx := context.Background()

	_, span := tt.Tracer("test").Start(ctx, "test-span")
	span.SetAttributes(attribute.String("material", "aluminum"))
	span.End()

	tt.AssertSpanExists(t, "test-span")
	tt.AssertSpanAttribute(t, "test-span", "material", "aluminum")
	assert.Nil(t, tt.SpanByName("never-started"))

	counter, err := tt.Meter("test").Int64Counter("test.calls",
		metric.WithDescription("calls seen"))
	require.NoError(t, err)
	counter.Add(ctx, 2)
	counter.Add(ctx, 1)

	assert.Equal(t, int64(3), tt.CounterValue(t, "test.calls"))
	assert.Equal(t, int64(0), tt.CounterValue(t, "test.other"))
}
