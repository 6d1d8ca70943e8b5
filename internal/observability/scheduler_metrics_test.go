package observability_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/Sumatoshi-tech/octofang/internal/observability"
)

func TestSchedulerMetricsReportsGoroutines(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	meter := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)).Meter("test")

	_, err := observability.NewSchedulerMetrics(meter)
	require.NoError(t, err)

	metrics := collectMetrics(t, reader)

	goroutines, ok := metrics["octofang.runtime.goroutines"]
	require.True(t, ok)

	gauge, ok := goroutines.Data.(metricdata.Gauge[int64])
	require.True(t, ok)
	require.Len(t, gauge.DataPoints, 1)
	assert.Positive(t, gauge.DataPoints[0].Value)
}
