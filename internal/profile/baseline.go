// Package profile maintains per-user and per-repository activity baselines in
// Redis. Baselines track exponentially weighted running statistics over the
// behavioral feature schema plus bounded history for multivariate checks.
// A fast mean tracks current behavior while a slow variance resists
// manipulation by gradual drift.
package profile

import (
	"math"
	"strings"
	"time"

	"github.com/Sumatoshi-tech/octofang/internal/feature"
	"github.com/Sumatoshi-tech/octofang/pkg/alg/stats"
)

// Smoothing factors. The mean follows recent behavior quickly; the variance
// adapts slowly so an attacker cannot widen their own tolerance band fast.
const (
	AlphaFast = 0.3
	AlphaSlow = 0.1

	// Repo-side smoothing.
	AlphaActivity    = 0.4
	AlphaContributor = 0.2
)

// initialVariance seeds per-feature variance on the first observation.
const initialVariance = 0.1

// distributionFloor drops EWMA distribution entries decayed below this share.
const distributionFloor = 0.01

// hourBins sizes the hour-of-day distributions.
const hourBins = 24

// Bounded collection sizes.
const (
	maxHistoryRows     = 100
	maxTopRepos        = 20
	maxTopContributors = 50
	maxActivityHistory = 50
)

// Reliability thresholds: baselines with fewer observed events are advisory.
const (
	UserReliableEvents = 20
	RepoReliableEvents = 10
)

// Persistence TTLs.
const (
	UserTTL = 30 * 24 * time.Hour
	RepoTTL = 7 * 24 * time.Hour
)

// Update rate limits: a baseline is rewritten at most this often per entity.
const (
	UserUpdateInterval = time.Hour
	RepoUpdateInterval = 30 * time.Minute
)

// UserBaseline is the persisted profile of one user's behavior.
type UserBaseline struct {
	Login      string    `json:"login"`
	EventCount int       `json:"event_count"`
	FirstSeen  time.Time `json:"first_seen"`
	UpdatedAt  time.Time `json:"updated_at"`

	// Means and Variances are per-index running statistics over the
	// behavioral feature schema.
	Means     feature.Vector `json:"means"`
	Variances feature.Vector `json:"variances"`

	// History holds recent raw feature vectors, newest last, capped at
	// maxHistoryRows. Feeds the multivariate covariance estimate.
	History []feature.Vector `json:"history"`

	// EventTypeDist is the EWMA share of each event type.
	EventTypeDist map[string]float64 `json:"event_type_dist"`

	// TopRepos is the EWMA share of activity per repository.
	TopRepos map[string]float64 `json:"top_repos"`

	// HourDist is the 24-bin hour-of-day probability distribution,
	// EWMA-decayed toward each batch's hour counts. Sums to ~1.
	HourDist []float64 `json:"hour_dist"`
}

// Reliable reports whether the baseline has seen enough events to be used
// for statistical detection rather than cold-start heuristics.
func (b *UserBaseline) Reliable() bool {
	return b != nil && b.EventCount >= UserReliableEvents
}

// StdDevs returns the per-feature standard deviations.
func (b *UserBaseline) StdDevs() feature.Vector {
	out := feature.NewVector(len(b.Variances))

	for i, v := range b.Variances {
		if v > 0 {
			out[i] = math.Sqrt(v)
		}
	}

	return out
}

// Observe folds one feature vector into the running statistics.
// The first observation seeds the mean directly and the variance at
// initialVariance.
func (b *UserBaseline) Observe(v feature.Vector, now time.Time) {
	if len(b.Means) != len(v) {
		b.Means = feature.NewVector(len(v))
		b.Variances = feature.NewVector(len(v))
		b.EventCount = 0
	}

	if b.EventCount == 0 {
		copy(b.Means, v)

		for i := range b.Variances {
			b.Variances[i] = initialVariance
		}

		if b.FirstSeen.IsZero() {
			b.FirstSeen = now
		}
	} else {
		for i := range v {
			b.Means[i] = AlphaFast*v[i] + (1-AlphaFast)*b.Means[i]

			diff := v[i] - b.Means[i]
			b.Variances[i] = AlphaSlow*diff*diff + (1-AlphaSlow)*b.Variances[i]
		}
	}

	b.History = append(b.History, v.Clone())
	if len(b.History) > maxHistoryRows {
		b.History = b.History[len(b.History)-maxHistoryRows:]
	}

	b.EventCount++
	b.UpdatedAt = now
}

// ObserveDistributions decays the event-type, repo and hour-of-day shares
// toward the given one-batch distributions. Map entries decayed below
// distributionFloor are dropped; hourCounts is a 24-bin count vector.
func (b *UserBaseline) ObserveDistributions(types, repos map[string]float64, hourCounts []float64) {
	b.EventTypeDist = ewmaDistribution(b.EventTypeDist, types, AlphaFast)
	b.TopRepos = trimTop(ewmaDistribution(b.TopRepos, repos, AlphaFast), maxTopRepos)
	b.HourDist = ewmaHourDist(b.HourDist, hourCounts, AlphaFast)
}

// Stability scores how settled the profile is, from the coefficient of
// variation of the most recent history rows. 1 means perfectly stable.
func (b *UserBaseline) Stability() float64 {
	const window = 10

	if len(b.History) < 2 {
		return 0
	}

	rows := b.History
	if len(rows) > window {
		rows = rows[len(rows)-window:]
	}

	dim := len(rows[0])
	cvs := make([]float64, 0, dim)

	for j := range dim {
		column := make([]float64, len(rows))
		for i, row := range rows {
			column[i] = row[j]
		}

		mean, stddev := stats.MeanStdDev(column)
		if mean != 0 {
			cvs = append(cvs, stddev/math.Abs(mean))
		}
	}

	if len(cvs) == 0 {
		return 1
	}

	return 1 / (1 + stats.Mean(cvs))
}

// RepoBaseline is the persisted activity profile of one repository.
type RepoBaseline struct {
	Name       string    `json:"name"`
	EventCount int       `json:"event_count"`
	FirstSeen  time.Time `json:"first_seen"`
	UpdatedAt  time.Time `json:"updated_at"`

	// EventsPerHour is the EWMA activity rate.
	EventsPerHour float64 `json:"events_per_hour"`

	// ContributorRate is the EWMA distinct-actors-per-batch rate.
	ContributorRate float64 `json:"contributor_rate"`

	// CommitsPerPush is the EWMA commit count per push event.
	CommitsPerPush float64 `json:"commits_per_push"`

	// ContributorDiversity is the EWMA normalized Shannon entropy of the
	// per-actor activity shares.
	ContributorDiversity float64 `json:"contributor_diversity"`

	// ActivityRegularity is 1/(1+CV) over the recent activity rates.
	ActivityRegularity float64 `json:"activity_regularity"`

	// WeekendRatio is the EWMA share of weekend activity.
	WeekendRatio float64 `json:"weekend_ratio"`

	// BuildSuccessRate is the EWMA share of concluded workflow runs that
	// succeeded.
	BuildSuccessRate float64 `json:"build_success_rate"`

	// IssueResolutionRate is the EWMA share of issue events that closed one.
	IssueResolutionRate float64 `json:"issue_resolution_rate"`

	// HourDist is the 24-bin hour-of-day probability distribution.
	HourDist []float64 `json:"hour_dist"`

	// PeakHour is the most active UTC hour per HourDist.
	PeakHour int `json:"peak_hour"`

	// FailureStreak counts consecutive failed workflow runs.
	FailureStreak int `json:"failure_streak"`

	// TopContributors is the EWMA share of activity per actor.
	TopContributors map[string]float64 `json:"top_contributors"`

	// ActivityHistory holds recent (rate, actors, hour-of-day) samples,
	// newest last, capped at maxActivityHistory.
	ActivityHistory []ActivitySample `json:"activity_history"`
}

// ActivitySample is one observed activity window for a repository.
type ActivitySample struct {
	At            time.Time `json:"at"`
	EventsPerHour float64   `json:"events_per_hour"`
	Actors        int       `json:"actors"`
	Failures      int       `json:"failures"`
}

// RepoObservation is one batch reduced to the aggregates the baseline tracks.
// Pushes, WorkflowRuns and IssueEvents gate their per-kind rates: a batch
// carrying none of a kind leaves that rate untouched.
type RepoObservation struct {
	Sample     ActivitySample
	Actors     map[string]float64
	EventCount int

	HourCounts   []float64
	WeekendRatio float64

	CommitsPerPush float64
	Pushes         int

	BuildSuccessRate float64
	WorkflowRuns     int

	IssueResolutionRate float64
	IssueEvents         int
}

// Reliable reports whether the repo baseline has enough history to trust.
func (b *RepoBaseline) Reliable() bool {
	return b != nil && b.EventCount >= RepoReliableEvents
}

// Observe folds one batch observation into the running statistics.
func (b *RepoBaseline) Observe(obs RepoObservation) {
	sample := obs.Sample
	diversity := stats.NormalizedEntropy(mapValues(obs.Actors))

	if b.EventCount == 0 {
		b.EventsPerHour = sample.EventsPerHour
		b.ContributorRate = float64(sample.Actors)
		b.ContributorDiversity = diversity
		b.WeekendRatio = obs.WeekendRatio

		if b.FirstSeen.IsZero() {
			b.FirstSeen = sample.At
		}
	} else {
		b.EventsPerHour = AlphaActivity*sample.EventsPerHour + (1-AlphaActivity)*b.EventsPerHour
		b.ContributorRate = AlphaContributor*float64(sample.Actors) + (1-AlphaContributor)*b.ContributorRate
		b.ContributorDiversity = AlphaContributor*diversity + (1-AlphaContributor)*b.ContributorDiversity
		b.WeekendRatio = AlphaActivity*obs.WeekendRatio + (1-AlphaActivity)*b.WeekendRatio
	}

	b.CommitsPerPush = ewmaGated(b.CommitsPerPush, obs.CommitsPerPush, AlphaActivity, obs.Pushes)
	b.BuildSuccessRate = ewmaGated(b.BuildSuccessRate, obs.BuildSuccessRate, AlphaContributor, obs.WorkflowRuns)
	b.IssueResolutionRate = ewmaGated(b.IssueResolutionRate, obs.IssueResolutionRate, AlphaContributor, obs.IssueEvents)

	b.HourDist = ewmaHourDist(b.HourDist, obs.HourCounts, AlphaActivity)
	b.PeakHour = peakBin(b.HourDist)

	if sample.Failures > 0 {
		b.FailureStreak += sample.Failures
	} else {
		b.FailureStreak = 0
	}

	b.TopContributors = trimTop(ewmaDistribution(b.TopContributors, obs.Actors, AlphaContributor), maxTopContributors)

	b.ActivityHistory = append(b.ActivityHistory, sample)
	if len(b.ActivityHistory) > maxActivityHistory {
		b.ActivityHistory = b.ActivityHistory[len(b.ActivityHistory)-maxActivityHistory:]
	}

	b.ActivityRegularity = regularity(b.ActivityHistory)

	b.EventCount += obs.EventCount
	b.UpdatedAt = sample.At
}

// ewmaDistribution decays prior shares toward the observed batch shares and
// drops entries below distributionFloor.
func ewmaDistribution(prior, observed map[string]float64, alpha float64) map[string]float64 {
	next := make(map[string]float64, len(prior)+len(observed))

	for k, v := range prior {
		next[k] = (1 - alpha) * v
	}

	var total float64
	for _, v := range observed {
		total += v
	}

	if total > 0 {
		for k, v := range observed {
			next[k] += alpha * v / total
		}
	}

	for k, v := range next {
		if v < distributionFloor {
			delete(next, k)
		}
	}

	return next
}

// ewmaHourDist decays the 24-bin hour-of-day distribution toward the batch's
// normalized hour counts. The first batch seeds the distribution directly so
// it sums to one from the start.
func ewmaHourDist(prior, counts []float64, alpha float64) []float64 {
	if len(counts) != hourBins {
		return prior
	}

	var total float64
	for _, c := range counts {
		total += c
	}

	if total == 0 {
		return prior
	}

	if len(prior) != hourBins {
		prior = make([]float64, hourBins)
		alpha = 1
	}

	next := make([]float64, hourBins)
	for h := range next {
		next[h] = (1-alpha)*prior[h] + alpha*counts[h]/total
	}

	return next
}

// ewmaGated folds an observed per-kind rate only when the batch carried that
// kind of event. A zero prior counts as unseeded and takes the observed value
// directly.
func ewmaGated(prior, observed, alpha float64, samples int) float64 {
	if samples == 0 {
		return prior
	}

	if prior == 0 {
		return observed
	}

	return alpha*observed + (1-alpha)*prior
}

// regularity scores how even the activity rate history is, as 1/(1+CV).
func regularity(history []ActivitySample) float64 {
	if len(history) == 0 {
		return 0
	}

	rates := make([]float64, len(history))
	for i, s := range history {
		rates[i] = s.EventsPerHour
	}

	mean, stddev := stats.MeanStdDev(rates)
	if mean == 0 {
		return 0
	}

	return 1 / (1 + stddev/mean)
}

// peakBin returns the index of the largest bin, 0 for an empty distribution.
func peakBin(dist []float64) int {
	best := 0

	for h, v := range dist {
		if v > dist[best] {
			best = h
		}
	}

	return best
}

func mapValues(m map[string]float64) []float64 {
	out := make([]float64, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}

	return out
}

// trimTop keeps only the n largest entries of the distribution.
func trimTop(dist map[string]float64, n int) map[string]float64 {
	if len(dist) <= n {
		return dist
	}

	type kv struct {
		k string
		v float64
	}

	entries := make([]kv, 0, len(dist))
	for k, v := range dist {
		entries = append(entries, kv{k, v})
	}

	// Selection by repeated max keeps this simple; n is small.
	out := make(map[string]float64, n)

	for range n {
		best := -1
		for i, e := range entries {
			if _, taken := out[e.k]; taken {
				continue
			}

			if best < 0 || e.v > entries[best].v {
				best = i
			}
		}

		if best < 0 {
			break
		}

		out[entries[best].k] = entries[best].v
	}

	return out
}

// RepoKey converts "owner/name" into the colon form used in Redis keys.
func RepoKey(name string) string {
	return strings.ReplaceAll(name, "/", ":")
}
