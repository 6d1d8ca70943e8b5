package behavioral_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/octofang/internal/detect"
	"github.com/Sumatoshi-tech/octofang/internal/detect/behavioral"
	"github.com/Sumatoshi-tech/octofang/internal/event"
	"github.com/Sumatoshi-tech/octofang/internal/feature"
	"github.com/Sumatoshi-tech/octofang/internal/profile"
)

// noon GMT on a Wednesday, outside the off-hours windows.
var noon = time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)

func pushEvent(at time.Time, push *event.PushPayload) *event.Event {
	return &event.Event{
		ID:        fmt.Sprintf("ev-%d", at.UnixNano()),
		Type:      "PushEvent",
		Actor:     event.Actor{Login: "octocat"},
		Repo:      event.Repo{Name: "acme/api"},
		CreatedAt: at,
		Push:      push,
	}
}

func quietBatch(n int) []*event.Event {
	events := make([]*event.Event, 0, n)
	for i := range n {
		events = append(events, pushEvent(noon.Add(time.Duration(i)*30*time.Minute), &event.PushPayload{
			Ref:  "refs/heads/dev",
			Size: 1, DistinctSize: 1,
			Commits: []event.Commit{{SHA: fmt.Sprintf("%d", i), Message: "routine maintenance commit"}},
		}))
	}

	return events
}

// reliableBaseline seeds a baseline with enough identical observations that
// the means settle and the event count clears the reliability gate.
func reliableBaseline(t *testing.T, events []*event.Event) *profile.UserBaseline {
	t.Helper()

	baseline := &profile.UserBaseline{}
	feat := behavioral.ExtractFeatures(events)

	for range profile.UserReliableEvents {
		baseline.Observe(feat, noon)
	}

	require.True(t, baseline.Reliable())

	return baseline
}

func TestDetectEmptyBatchIsNeutral(t *testing.T) {
	t.Parallel()

	d := behavioral.NewDetector()

	res := d.Detect(nil, nil)
	assert.Equal(t, detect.Neutral(), res)
}

func TestDetectColdStartWithoutBaseline(t *testing.T) {
	t.Parallel()

	d := behavioral.NewDetector()

	res := d.Detect(quietBatch(4), nil)

	assert.Equal(t, detect.AnalysisColdStart, res.AnalysisType)
	assert.Equal(t, 0.3, res.Confidence)
}

func TestDetectColdStartFlagsHighRate(t *testing.T) {
	t.Parallel()

	d := behavioral.NewDetector()

	// 15 events in under an hour: events_per_hour crosses the deepest tier.
	events := make([]*event.Event, 0, 15)
	for i := range 15 {
		events = append(events, pushEvent(noon.Add(time.Duration(i)*3*time.Minute), nil))
	}

	res := d.Detect(events, nil)

	require.True(t, res.HasAnomaly(behavioral.AnomalyColdStart))

	var deepest float64

	for _, a := range res.Anomalies {
		if a.Type == behavioral.AnomalyColdStart && a.Details["signal"] == "events_per_hour" {
			deepest = a.Severity
		}
	}

	assert.Equal(t, 0.8, deepest, "rate above 10/h is the deepest tier")
}

func TestDetectStatisticalDeviation(t *testing.T) {
	t.Parallel()

	d := behavioral.NewDetector()

	baseline := reliableBaseline(t, quietBatch(4))

	// Same actor, now pushing every 30 seconds.
	burst := make([]*event.Event, 0, 20)
	for i := range 20 {
		burst = append(burst, pushEvent(noon.Add(time.Duration(i)*30*time.Second), &event.PushPayload{
			Ref: "refs/heads/dev", Size: 1, DistinctSize: 1,
			Commits: []event.Commit{{SHA: fmt.Sprintf("%d", i), Message: "x"}},
		}))
	}

	res := d.Detect(burst, baseline)

	assert.Equal(t, detect.AnalysisStatistical, res.AnalysisType)
	require.True(t, res.HasAnomaly(behavioral.AnomalyStatisticalDeviation))
	assert.Positive(t, res.Score)
}

func TestDetectQuietBatchAgainstOwnBaseline(t *testing.T) {
	t.Parallel()

	d := behavioral.NewDetector()

	events := quietBatch(4)
	baseline := reliableBaseline(t, events)

	res := d.Detect(events, baseline)

	assert.Equal(t, detect.AnalysisStatistical, res.AnalysisType)
	assert.False(t, res.HasAnomaly(behavioral.AnomalyStatisticalDeviation))
	assert.Zero(t, res.Score)
}

func TestConfidenceGrowsWithHistory(t *testing.T) {
	t.Parallel()

	d := behavioral.NewDetector()

	events := quietBatch(4)
	baseline := reliableBaseline(t, events)

	res := d.Detect(events, baseline)
	assert.InDelta(t, float64(len(baseline.History))/30, res.Confidence, 1e-9)
}

func TestDetectForcePush(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		push     *event.PushPayload
		severity float64
	}{
		{
			name:     "forced flag",
			push:     &event.PushPayload{Ref: "refs/heads/main", Forced: true},
			severity: 0.9,
		},
		{
			name: "message marker",
			push: &event.PushPayload{
				Ref:     "refs/heads/main",
				Commits: []event.Commit{{SHA: "a", Message: "rebase and --force push cleanup"}},
			},
			severity: 0.7,
		},
		{
			name:     "history replay",
			push:     &event.PushPayload{Ref: "refs/heads/main", Size: 5, DistinctSize: 1},
			severity: 0.6,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			d := behavioral.NewDetector()

			res := d.Detect([]*event.Event{pushEvent(noon, tc.push)}, nil)

			require.True(t, res.HasAnomaly(behavioral.AnomalyForcePush))

			for _, a := range res.Anomalies {
				if a.Type == behavioral.AnomalyForcePush {
					assert.Equal(t, tc.severity, a.Severity)
				}
			}
		})
	}
}

func TestExtractFeaturesShape(t *testing.T) {
	t.Parallel()

	events := quietBatch(4)
	feat := behavioral.ExtractFeatures(events)

	require.Len(t, feat, feature.BehavioralDim)

	// 4 events over 1.5h.
	assert.InDelta(t, 4.0/1.5, feat[feature.BehavioralEventsPerHour], 1e-9)
	// One repo across four events.
	assert.InDelta(t, 0.25, feat[feature.BehavioralRepoDiversity], 1e-9)
	// 30-minute spacing.
	assert.InDelta(t, 30, feat[feature.BehavioralAvgIntervalMin], 1e-9)
	// Single event type.
	assert.Zero(t, feat[feature.BehavioralTypeEntropy])
	// Wednesday noon is neither weekend nor off-hours.
	assert.Zero(t, feat[feature.BehavioralWeekendRatio])
	assert.Zero(t, feat[feature.BehavioralOffHoursRatio])
}

func TestIsOffHoursGMT(t *testing.T) {
	t.Parallel()

	tests := []struct {
		hour int
		want bool
	}{
		{hour: 1, want: false},
		{hour: 2, want: true},
		{hour: 9, want: true},
		{hour: 10, want: true},
		{hour: 11, want: false},
		{hour: 13, want: false},
		{hour: 14, want: true},
		{hour: 17, want: true},
		{hour: 18, want: true},
		{hour: 19, want: false},
	}

	for _, tc := range tests {
		at := time.Date(2026, 3, 4, tc.hour, 30, 0, 0, time.UTC)
		assert.Equal(t, tc.want, behavioral.IsOffHoursGMT(at), "hour %d", tc.hour)
	}
}
