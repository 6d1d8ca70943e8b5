package temporal_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/octofang/internal/detect"
	"github.com/Sumatoshi-tech/octofang/internal/detect/temporal"
	"github.com/Sumatoshi-tech/octofang/internal/event"
)

// base sits at noon GMT on a Wednesday, outside the off-hours windows.
var base = time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)

func timedEvent(actor string, at time.Time) *event.Event {
	return &event.Event{
		ID:        fmt.Sprintf("%s-%d", actor, at.UnixNano()),
		Type:      "PushEvent",
		Actor:     event.Actor{Login: actor},
		Repo:      event.Repo{Name: "acme/api"},
		CreatedAt: at,
	}
}

func spacedEvents(actor string, n int, gap time.Duration) []*event.Event {
	events := make([]*event.Event, 0, n)
	for i := range n {
		events = append(events, timedEvent(actor, base.Add(time.Duration(i)*gap)))
	}

	return events
}

func TestDetectEmptyBatch(t *testing.T) {
	t.Parallel()

	d := temporal.NewDetector(nil)

	res := d.Detect(context.Background(), nil)
	assert.Equal(t, temporal.AnalysisInsufficientData, res.AnalysisType)
	assert.Zero(t, res.Score)
}

func TestDetectSingleEvent(t *testing.T) {
	t.Parallel()

	d := temporal.NewDetector(nil)

	res := d.Detect(context.Background(), []*event.Event{timedEvent("octocat", base)})
	assert.Equal(t, temporal.AnalysisInsufficientTimestamps, res.AnalysisType)
	assert.Zero(t, res.Score)
}

func TestDetectTagsMissingBaseline(t *testing.T) {
	t.Parallel()

	d := temporal.NewDetector(nil)

	res := d.Detect(context.Background(), spacedEvents("octocat", 4, 10*time.Minute))
	assert.Contains(t, res.Tags, temporal.TagNoBaseline)
	assert.Equal(t, detect.AnalysisStatistical, res.AnalysisType)
}

func TestDetectBurst(t *testing.T) {
	t.Parallel()

	d := temporal.NewDetector(nil)

	// Five events inside five minutes trips the burst window.
	res := d.Detect(context.Background(), spacedEvents("octocat", 5, time.Minute))
	require.True(t, res.HasAnomaly(temporal.PatternActivityBurst))

	// Four does not.
	quiet := d.Detect(context.Background(), spacedEvents("octocat", 4, time.Minute))
	assert.False(t, quiet.HasAnomaly(temporal.PatternActivityBurst))
}

func TestDetectCoordinationNeedsThreeActors(t *testing.T) {
	t.Parallel()

	d := temporal.NewDetector(nil)

	two := []*event.Event{
		timedEvent("alpha", base),
		timedEvent("beta", base.Add(time.Minute)),
		timedEvent("alpha", base.Add(2*time.Minute)),
	}
	res := d.Detect(context.Background(), two)
	assert.False(t, res.HasAnomaly(temporal.PatternCoordinated))

	three := append(two, timedEvent("gamma", base.Add(3*time.Minute)))
	res = d.Detect(context.Background(), three)
	assert.True(t, res.HasAnomaly(temporal.PatternCoordinated))
}

func TestDetectSustainedHighActivity(t *testing.T) {
	t.Parallel()

	d := temporal.NewDetector(nil)

	// 30 events inside one hour, spaced to dodge the 5-in-5-minutes burst.
	res := d.Detect(context.Background(), spacedEvents("octocat", 30, 2*time.Minute))
	assert.True(t, res.HasAnomaly(temporal.PatternSustainedHigh))
}

func TestDetectUnusualTimingConcentratedHours(t *testing.T) {
	t.Parallel()

	d := temporal.NewDetector(nil)

	// Twelve events packed into a single hour bucket is a sharp departure
	// from the uniform 24-hour expectation.
	res := d.Detect(context.Background(), spacedEvents("octocat", 12, 30*time.Second))
	assert.True(t, res.HasAnomaly(temporal.PatternUnusualTiming))
}

func TestConfidenceScalesWithBatchSize(t *testing.T) {
	t.Parallel()

	d := temporal.NewDetector(nil)

	small := d.Detect(context.Background(), spacedEvents("octocat", 2, 30*time.Minute))
	assert.Equal(t, 0.3, small.Confidence, "floor")

	mid := d.Detect(context.Background(), spacedEvents("octocat", 10, 10*time.Minute))
	assert.InDelta(t, 0.5, mid.Confidence, 1e-9)

	large := d.Detect(context.Background(), spacedEvents("octocat", 40, 10*time.Minute))
	assert.Equal(t, 1.0, large.Confidence, "ceiling")
}

func TestScoreHigherForBurstyBatch(t *testing.T) {
	t.Parallel()

	d := temporal.NewDetector(nil)

	calm := d.Detect(context.Background(), spacedEvents("octocat", 6, 30*time.Minute))
	bursty := d.Detect(context.Background(), spacedEvents("octocat", 6, 20*time.Second))

	assert.Greater(t, bursty.Score, calm.Score)
	assert.LessOrEqual(t, bursty.Score, 1.0)
}

func TestDetectSortsUnorderedInput(t *testing.T) {
	t.Parallel()

	d := temporal.NewDetector(nil)

	events := spacedEvents("octocat", 5, time.Minute)
	events[0], events[4] = events[4], events[0]

	res := d.Detect(context.Background(), events)
	assert.True(t, res.HasAnomaly(temporal.PatternActivityBurst))
}
