package profile_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/octofang/internal/feature"
	"github.com/Sumatoshi-tech/octofang/internal/profile"
)

var observedAt = time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)

func vector(values ...float64) feature.Vector {
	v := feature.NewVector(feature.BehavioralDim)
	copy(v, values)

	return v
}

func TestUserBaselineFirstObservationSeeds(t *testing.T) {
	t.Parallel()

	b := &profile.UserBaseline{Login: "octocat"}

	v := vector(2.5, 0.4, 30)
	b.Observe(v, observedAt)

	assert.Equal(t, 1, b.EventCount)
	assert.Equal(t, observedAt, b.FirstSeen)
	assert.Equal(t, v, b.Means)
	require.Len(t, b.History, 1)

	for _, variance := range b.Variances {
		assert.Equal(t, 0.1, variance, "first observation seeds the variance")
	}
}

func TestUserBaselineEWMAUpdate(t *testing.T) {
	t.Parallel()

	b := &profile.UserBaseline{Login: "octocat"}

	b.Observe(vector(10), observedAt)
	b.Observe(vector(20), observedAt.Add(time.Hour))

	// Fast mean: 0.3·20 + 0.7·10.
	assert.InDelta(t, 13, b.Means[0], 1e-9)

	// Slow variance: 0.1·(20−13)² + 0.9·0.1.
	assert.InDelta(t, 0.1*49+0.09, b.Variances[0], 1e-9)

	assert.Equal(t, 2, b.EventCount)
	assert.Len(t, b.History, 2)
}

func TestUserBaselineReliableThreshold(t *testing.T) {
	t.Parallel()

	var nilBaseline *profile.UserBaseline

	assert.False(t, nilBaseline.Reliable())

	b := &profile.UserBaseline{}
	for range profile.UserReliableEvents - 1 {
		b.Observe(vector(1), observedAt)
	}

	assert.False(t, b.Reliable())

	b.Observe(vector(1), observedAt)
	assert.True(t, b.Reliable())
}

func TestUserBaselineStabilitySettles(t *testing.T) {
	t.Parallel()

	steady := &profile.UserBaseline{}
	for range 10 {
		steady.Observe(vector(5, 5, 5), observedAt)
	}

	erratic := &profile.UserBaseline{}
	for i := range 10 {
		erratic.Observe(vector(float64(i*i), 5, 5), observedAt)
	}

	assert.Equal(t, 1.0, steady.Stability())
	assert.Less(t, erratic.Stability(), steady.Stability())
}

func TestObserveDistributionsDecaysAndFloors(t *testing.T) {
	t.Parallel()

	b := &profile.UserBaseline{}

	b.ObserveDistributions(map[string]float64{"PushEvent": 3, "IssuesEvent": 1}, map[string]float64{"acme/api": 4}, nil)

	assert.InDelta(t, 0.3*0.75, b.EventTypeDist["PushEvent"], 1e-9)
	assert.InDelta(t, 0.3*0.25, b.EventTypeDist["IssuesEvent"], 1e-9)
	assert.InDelta(t, 0.3, b.TopRepos["acme/api"], 1e-9)

	// Decay an entry out: thirteen pure-push batches shrink the issues share
	// below the floor.
	for range 13 {
		b.ObserveDistributions(map[string]float64{"PushEvent": 1}, nil, nil)
	}

	assert.NotContains(t, b.EventTypeDist, "IssuesEvent")
	assert.Contains(t, b.EventTypeDist, "PushEvent")
}

func hourCounts(pairs map[int]float64) []float64 {
	counts := make([]float64, 24)
	for h, c := range pairs {
		counts[h] = c
	}

	return counts
}

func assertSumsToOne(t *testing.T, dist []float64) {
	t.Helper()

	var sum float64
	for _, p := range dist {
		sum += p
	}

	assert.InDelta(t, 1.0, sum, 1e-9)
}

func TestUserBaselineHourDistribution(t *testing.T) {
	t.Parallel()

	b := &profile.UserBaseline{}

	// The first batch seeds the distribution directly.
	b.ObserveDistributions(nil, nil, hourCounts(map[int]float64{3: 2, 14: 2}))

	require.Len(t, b.HourDist, 24)
	assert.InDelta(t, 0.5, b.HourDist[3], 1e-9)
	assert.InDelta(t, 0.5, b.HourDist[14], 1e-9)

	b.ObserveDistributions(nil, nil, hourCounts(map[int]float64{9: 4}))

	// 0.3 toward the all-hour-9 batch.
	assert.InDelta(t, 0.35, b.HourDist[3], 1e-9)
	assert.InDelta(t, 0.3, b.HourDist[9], 1e-9)
	assertSumsToOne(t, b.HourDist)

	// An empty batch leaves the distribution untouched.
	b.ObserveDistributions(nil, nil, nil)
	assertSumsToOne(t, b.HourDist)
}

func TestRepoBaselineObserve(t *testing.T) {
	t.Parallel()

	b := &profile.RepoBaseline{Name: "acme/api"}

	b.Observe(profile.RepoObservation{
		Sample:     profile.ActivitySample{At: observedAt, EventsPerHour: 4, Actors: 2, Failures: 1},
		Actors:     map[string]float64{"alpha": 3, "beta": 1},
		EventCount: 5,
	})

	assert.Equal(t, 4.0, b.EventsPerHour, "first sample seeds the rate")
	assert.Equal(t, 2.0, b.ContributorRate)
	assert.Equal(t, 1, b.FailureStreak)
	assert.Equal(t, 5, b.EventCount)

	b.Observe(profile.RepoObservation{
		Sample:     profile.ActivitySample{At: observedAt.Add(time.Hour), EventsPerHour: 10, Actors: 4},
		Actors:     map[string]float64{"alpha": 2},
		EventCount: 3,
	})

	// 0.4·10 + 0.6·4 and 0.2·4 + 0.8·2.
	assert.InDelta(t, 6.4, b.EventsPerHour, 1e-9)
	assert.InDelta(t, 2.4, b.ContributorRate, 1e-9)
	assert.Zero(t, b.FailureStreak, "a clean sample resets the streak")
	assert.Equal(t, 8, b.EventCount)
	assert.Len(t, b.ActivityHistory, 2)
}

func TestRepoBaselineRatesAndHourDistribution(t *testing.T) {
	t.Parallel()

	b := &profile.RepoBaseline{Name: "acme/api"}

	b.Observe(profile.RepoObservation{
		Sample:              profile.ActivitySample{At: observedAt, EventsPerHour: 4, Actors: 2},
		Actors:              map[string]float64{"alpha": 1, "beta": 1},
		EventCount:          4,
		HourCounts:          hourCounts(map[int]float64{9: 3, 15: 1}),
		WeekendRatio:        0.25,
		CommitsPerPush:      3,
		Pushes:              2,
		BuildSuccessRate:    1,
		WorkflowRuns:        1,
		IssueResolutionRate: 0.5,
		IssueEvents:         2,
	})

	assert.InDelta(t, 3.0, b.CommitsPerPush, 1e-9)
	assert.InDelta(t, 0.25, b.WeekendRatio, 1e-9)
	assert.InDelta(t, 1.0, b.BuildSuccessRate, 1e-9)
	assert.InDelta(t, 0.5, b.IssueResolutionRate, 1e-9)
	assert.InDelta(t, 1.0, b.ContributorDiversity, 1e-9, "two equal actors maximize entropy")
	assert.Equal(t, 9, b.PeakHour)
	assert.InDelta(t, 1.0, b.ActivityRegularity, 1e-9, "a single sample has no variation")
	assertSumsToOne(t, b.HourDist)

	b.Observe(profile.RepoObservation{
		Sample:         profile.ActivitySample{At: observedAt.Add(time.Hour), EventsPerHour: 4, Actors: 1},
		Actors:         map[string]float64{"alpha": 2},
		EventCount:     2,
		HourCounts:     hourCounts(map[int]float64{15: 2}),
		CommitsPerPush: 5,
		Pushes:         1,
	})

	// 0.4·5 + 0.6·3.
	assert.InDelta(t, 3.8, b.CommitsPerPush, 1e-9)
	assert.InDelta(t, 1.0, b.BuildSuccessRate, 1e-9, "a batch without workflow runs leaves the rate")
	assert.Equal(t, 15, b.PeakHour)
	assert.InDelta(t, 1.0, b.ActivityRegularity, 1e-9, "identical rates have zero variation")
	assertSumsToOne(t, b.HourDist)
}

func TestRepoBaselineReliableThreshold(t *testing.T) {
	t.Parallel()

	b := &profile.RepoBaseline{EventCount: profile.RepoReliableEvents - 1}
	assert.False(t, b.Reliable())

	b.EventCount = profile.RepoReliableEvents
	assert.True(t, b.Reliable())
}

func TestRepoKey(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "acme:api", profile.RepoKey("acme/api"))
	assert.Equal(t, "solo", profile.RepoKey("solo"))
}
