package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	metricEventsTotal      = "octofang.pipeline.events.total"
	metricAnomaliesTotal   = "octofang.pipeline.anomalies.total"
	metricDetectorDuration = "octofang.detector.duration.seconds"
	metricSummariesTotal   = "octofang.summaries.total"
	metricQueueDepth       = "octofang.queue.depth"

	attrBand     = "band"
	attrDetector = "detector"
	attrTier     = "tier"
	attrCacheHit = "cache_hit"
)

// PipelineMetrics holds OTel instruments for the detection pipeline.
type PipelineMetrics struct {
	eventsTotal      metric.Int64Counter
	anomaliesTotal   metric.Int64Counter
	detectorDuration metric.Float64Histogram
	summariesTotal   metric.Int64Counter
	queueDepth       metric.Int64ObservableGauge
}

// QueueDepthFunc reports the current per-band queue sizes on each metric
// collection cycle.
type QueueDepthFunc func(ctx context.Context) map[string]int64

// NewPipelineMetrics creates pipeline metric instruments from the given
// meter. depth may be nil; the queue gauge is then never observed.
func NewPipelineMetrics(mt metric.Meter, depth QueueDepthFunc) (*PipelineMetrics, error) {
	b := newMetricBuilder(mt)

	pm := &PipelineMetrics{
		eventsTotal:      b.counter(metricEventsTotal, "Total events processed", "{event}"),
		anomaliesTotal:   b.counter(metricAnomaliesTotal, "Total anomalies detected by severity band", "{anomaly}"),
		detectorDuration: b.histogram(metricDetectorDuration, "Per-detector run duration in seconds", "s", durationBucketBoundaries...),
		summariesTotal:   b.counter(metricSummariesTotal, "AI summaries generated by tier", "{summary}"),
		queueDepth:       b.gauge(metricQueueDepth, "Queued anomalies by severity band", "{anomaly}"),
	}

	if b.err != nil {
		return nil, b.err
	}

	if depth != nil {
		_, err := mt.RegisterCallback(func(ctx context.Context, obs metric.Observer) error {
			for band, n := range depth(ctx) {
				obs.ObserveInt64(pm.queueDepth, n, metric.WithAttributes(attribute.String(attrBand, band)))
			}

			return nil
		}, pm.queueDepth)
		if err != nil {
			return nil, err
		}
	}

	return pm, nil
}

// RecordBatch records the outcome of one processed batch.
func (pm *PipelineMetrics) RecordBatch(ctx context.Context, events int, anomaliesByBand map[string]int) {
	pm.eventsTotal.Add(ctx, int64(events))

	for band, n := range anomaliesByBand {
		pm.anomaliesTotal.Add(ctx, int64(n), metric.WithAttributes(attribute.String(attrBand, band)))
	}
}

// RecordDetector records one detector run duration.
func (pm *PipelineMetrics) RecordDetector(ctx context.Context, detector string, duration time.Duration) {
	pm.detectorDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.String(attrDetector, detector)))
}

// RecordSummary records one summary generation.
func (pm *PipelineMetrics) RecordSummary(ctx context.Context, tier string, cacheHit bool) {
	pm.summariesTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String(attrTier, tier),
		attribute.Bool(attrCacheHit, cacheHit),
	))
}
