package metrics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Disabled(t *testing.T) {
	t.Run("nil 配置返回 noop", func(t *testing.T) {
		meter, err := New(nil)
		require.NoError(t, err)

		counter, err := meter.Counter("x", "y")
		require.NoError(t, err)
		counter.Inc(context.Background())
		assert.NoError(t, meter.Shutdown(context.Background()))
	})

	t.Run("Enabled=false 返回 noop", func(t *testing.T) {
		meter, err := New(&Config{Enabled: false})
		require.NoError(t, err)
		assert.NoError(t, meter.Shutdown(context.Background()))
	})
}

func TestNew_Enabled(t *testing.T) {
	meter, err := New(&Config{
		Enabled:     true,
		ServiceName: "aegis-test",
		// Port=0 不启动内置 HTTP 服务器
	})
	require.NoError(t, err)
	defer func() { _ = meter.Shutdown(context.Background()) }()

	ctx := context.Background()

	counter, err := meter.Counter("test_requests_total", "test counter")
	require.NoError(t, err)
	counter.Inc(ctx, L("service", "a"))
	counter.Add(ctx, 3, L("service", "b"))

	gauge, err := meter.Gauge("test_value", "test gauge")
	require.NoError(t, err)
	gauge.Set(ctx, 42)

	histogram, err := meter.Histogram("test_duration_seconds", "test histogram")
	require.NoError(t, err)
	histogram.Record(ctx, 0.123, L("service", "a"))
}

func TestL(t *testing.T) {
	l := L("service", "order-service")
	assert.Equal(t, "service", l.Key)
	assert.Equal(t, "order-service", l.Value)
}
