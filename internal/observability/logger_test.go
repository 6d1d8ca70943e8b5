package observability_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/Sumatoshi-tech/octofang/internal/observability"
)

func newTestLogger(t *testing.T) (*slog.Logger, *bytes.Buffer) {
	t.Helper()

	var buf bytes.Buffer

	inner := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	handler := observability.NewTracingHandler(inner, "octofang", "test", observability.ModeConsume)

	return slog.New(handler), &buf
}

func logLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()

	var line map[string]any

	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))

	return line
}

func TestTracingHandler_ServiceMetadata(t *testing.T) {
	t.Parallel()

	logger, buf := newTestLogger(t)

	logger.Info("batch processed", "events", 50)

	line := logLine(t, buf)
	assert.Equal(t, "octofang", line["service"])
	assert.Equal(t, "consume", line["mode"])
	assert.Equal(t, "test", line["env"])
	assert.Equal(t, float64(50), line["events"])
}

func TestTracingHandler_InjectsTraceContext(t *testing.T) {
	t.Parallel()

	logger, buf := newTestLogger(t)

	tp := sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.AlwaysSample()))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	ctx, span := tp.Tracer("octofang").Start(context.Background(), "octofang.batch.process")
	defer span.End()

	logger.InfoContext(ctx, "scoring complete")

	line := logLine(t, buf)
	assert.Equal(t, span.SpanContext().TraceID().String(), line["trace_id"])
	assert.Equal(t, span.SpanContext().SpanID().String(), line["span_id"])
}

func TestTracingHandler_NoSpanNoTraceFields(t *testing.T) {
	t.Parallel()

	logger, buf := newTestLogger(t)

	logger.Info("startup")

	line := logLine(t, buf)
	assert.NotContains(t, line, "trace_id")
	assert.NotContains(t, line, "span_id")
}

func TestTracingHandler_WithGroupKeepsServiceAttrs(t *testing.T) {
	t.Parallel()

	logger, buf := newTestLogger(t)

	logger.WithGroup("queue").Info("enqueued", "band", "high")

	line := logLine(t, buf)
	assert.Equal(t, "octofang", line["service"], "service attrs stay top-level under groups")

	group, ok := line["queue"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "high", group["band"])
}
