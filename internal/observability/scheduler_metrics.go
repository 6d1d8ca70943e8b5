package observability

import (
	"context"
	"fmt"
	"math"
	runtimemetrics "runtime/metrics"

	"go.opentelemetry.io/otel/metric"
)

const (
	metricGoroutines = "octofang.runtime.goroutines"

	// runtime/metrics sample name.
	sampleGoroutines = "/sched/goroutines:goroutines"
)

// SchedulerMetrics exposes the live goroutine count from runtime/metrics as
// an OTel gauge, tracking the processor's detached profile-update goroutines.
type SchedulerMetrics struct {
	goroutines metric.Int64ObservableGauge
}

// NewSchedulerMetrics creates the goroutine gauge on the given meter. The
// meter's reader invokes the callback on each collection cycle; no manual
// polling is needed.
func NewSchedulerMetrics(mt metric.Meter) (*SchedulerMetrics, error) {
	goroutines, err := mt.Int64ObservableGauge(metricGoroutines,
		metric.WithDescription("Current number of live goroutines"),
		metric.WithUnit("{goroutine}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricGoroutines, err)
	}

	sm := &SchedulerMetrics{goroutines: goroutines}

	_, err = mt.RegisterCallback(sm.observe, goroutines)
	if err != nil {
		return nil, fmt.Errorf("register scheduler metrics callback: %w", err)
	}

	return sm, nil
}

// observe reads the goroutine sample and reports it to the OTel observer.
func (sm *SchedulerMetrics) observe(_ context.Context, obs metric.Observer) error {
	samples := []runtimemetrics.Sample{{Name: sampleGoroutines}}

	runtimemetrics.Read(samples)

	if samples[0].Value.Kind() != runtimemetrics.KindUint64 {
		return nil
	}

	val := samples[0].Value.Uint64()
	if val > uint64(math.MaxInt64) {
		val = math.MaxInt64
	}

	obs.ObserveInt64(sm.goroutines, int64(val))

	return nil
}
