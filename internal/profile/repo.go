package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Sumatoshi-tech/octofang/internal/event"
	"github.com/Sumatoshi-tech/octofang/internal/store"
	"github.com/Sumatoshi-tech/octofang/pkg/alg/stats"
)

// repoKeyPrefix namespaces repo baselines; repo names use the colon form.
const repoKeyPrefix = "repo_profile_v2:"

// Activity anomaly thresholds for AnalyzeActivity.
const (
	// activityBurstFactor flags rates this many times the baseline.
	activityBurstFactor = 3.0

	// contributorSurgeFactor flags distinct-actor counts this many times
	// the baseline contributor rate.
	contributorSurgeFactor = 2.0

	// failureCascadeStreak flags this many consecutive workflow failures.
	failureCascadeStreak = 3

	// timeShiftZ flags hour-of-day drift beyond this many stddevs.
	timeShiftZ = 2.0
)

// RepoAnomaly is one irregularity reported by AnalyzeActivity.
type RepoAnomaly struct {
	Type        string  `json:"type"`
	Severity    float64 `json:"severity"`
	Description string  `json:"description"`
}

// RepoManager loads and updates repository baselines.
type RepoManager struct {
	store  *store.Store
	logger *slog.Logger
	clock  func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	lastUpdate sync.Map // repo name -> time.Time
}

// NewRepoManager builds a repo profile manager.
func NewRepoManager(st *store.Store, logger *slog.Logger) *RepoManager {
	if logger == nil {
		logger = slog.Default()
	}

	return &RepoManager{
		store:  st,
		logger: logger,
		clock:  time.Now,
		locks:  map[string]*sync.Mutex{},
	}
}

// Get loads a repository's baseline. Returns (nil, nil) when absent.
func (m *RepoManager) Get(ctx context.Context, name string) (*RepoBaseline, error) {
	var baseline RepoBaseline

	err := m.store.GetJSON(ctx, repoKeyPrefix+RepoKey(name), &baseline)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	return &baseline, nil
}

// Update folds a batch of a repository's events into its baseline.
// Rate-limited to once per RepoUpdateInterval per repo.
func (m *RepoManager) Update(ctx context.Context, name string, events []*event.Event) error {
	if len(events) == 0 {
		return nil
	}

	now := m.clock()

	if last, ok := m.lastUpdate.Load(name); ok {
		if now.Sub(last.(time.Time)) < RepoUpdateInterval {
			return nil
		}
	}

	lock := m.lockFor(name)
	lock.Lock()
	defer lock.Unlock()

	obs := summarizeBatch(events, now)

	err := m.store.UpdateJSON(ctx, repoKeyPrefix+RepoKey(name), RepoTTL, func(current []byte) (any, error) {
		baseline := &RepoBaseline{Name: name}

		if current != nil {
			err := json.Unmarshal(current, baseline)
			if err != nil {
				return nil, fmt.Errorf("profile: decode repo %s: %w", name, err)
			}
		}

		baseline.Observe(obs)

		return baseline, nil
	})
	if err != nil {
		return fmt.Errorf("profile: update repo %s: %w", name, err)
	}

	m.lastUpdate.Store(name, now)

	return nil
}

// AnalyzeActivity compares a batch against the baseline and reports activity
// anomalies: rate bursts, contributor surges, failure cascades and shifts in
// the usual active hours. Returns nil when the baseline is unreliable.
func (m *RepoManager) AnalyzeActivity(baseline *RepoBaseline, events []*event.Event) []RepoAnomaly {
	if !baseline.Reliable() || len(events) == 0 {
		return nil
	}

	sample := summarizeBatch(events, m.clock()).Sample

	var anomalies []RepoAnomaly

	if baseline.EventsPerHour > 0 && sample.EventsPerHour > baseline.EventsPerHour*activityBurstFactor {
		ratio := sample.EventsPerHour / baseline.EventsPerHour
		anomalies = append(anomalies, RepoAnomaly{
			Type:        "activity_burst",
			Severity:    stats.Clamp(ratio/10, 0, 1),
			Description: fmt.Sprintf("activity at %.1fx the usual rate", ratio),
		})
	}

	if baseline.ContributorRate > 0 && float64(sample.Actors) > baseline.ContributorRate*contributorSurgeFactor {
		ratio := float64(sample.Actors) / baseline.ContributorRate
		anomalies = append(anomalies, RepoAnomaly{
			Type:        "contributor_surge",
			Severity:    stats.Clamp(ratio/5, 0, 1),
			Description: fmt.Sprintf("%d distinct actors against a baseline of %.1f", sample.Actors, baseline.ContributorRate),
		})
	}

	if baseline.FailureStreak+sample.Failures >= failureCascadeStreak {
		streak := baseline.FailureStreak + sample.Failures
		anomalies = append(anomalies, RepoAnomaly{
			Type:        "build_failure_cascade",
			Severity:    stats.Clamp(float64(streak)/10, 0, 1),
			Description: fmt.Sprintf("%d consecutive workflow failures", streak),
		})
	}

	if shift := m.hourShift(baseline, events); shift > timeShiftZ {
		anomalies = append(anomalies, RepoAnomaly{
			Type:        "time_shift",
			Severity:    stats.Clamp(shift/10, 0, 1),
			Description: "activity outside the repository's usual hours",
		})
	}

	return anomalies
}

// hourShift standardizes the batch's mean hour-of-day against history.
func (m *RepoManager) hourShift(baseline *RepoBaseline, events []*event.Event) float64 {
	if len(baseline.ActivityHistory) < 5 {
		return 0
	}

	hours := make([]float64, len(baseline.ActivityHistory))
	for i, s := range baseline.ActivityHistory {
		hours[i] = float64(s.At.UTC().Hour())
	}

	mean, stddev := stats.MeanStdDev(hours)
	if stddev == 0 {
		return 0
	}

	var batchMean float64
	for _, ev := range events {
		batchMean += float64(ev.CreatedAt.UTC().Hour())
	}

	batchMean /= float64(len(events))

	diff := batchMean - mean
	if diff < 0 {
		diff = -diff
	}

	return diff / stddev
}

func (m *RepoManager) lockFor(name string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()

	lock, ok := m.locks[name]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[name] = lock
	}

	return lock
}

// summarizeBatch reduces a batch to the aggregates Observe folds in.
func summarizeBatch(events []*event.Event, now time.Time) RepoObservation {
	obs := RepoObservation{
		Actors:     map[string]float64{},
		EventCount: len(events),
		HourCounts: make([]float64, hourBins),
	}

	var (
		failures, runs, successes int
		pushes, commits           int
		issues, resolved          int
		weekend                   float64
	)

	first, last := events[0].CreatedAt, events[0].CreatedAt

	for _, ev := range events {
		obs.Actors[ev.Actor.Login]++
		obs.HourCounts[ev.CreatedAt.UTC().Hour()]++

		day := ev.CreatedAt.UTC().Weekday()
		if day == time.Saturday || day == time.Sunday {
			weekend++
		}

		if ev.CreatedAt.Before(first) {
			first = ev.CreatedAt
		}

		if ev.CreatedAt.After(last) {
			last = ev.CreatedAt
		}

		if ev.Push != nil {
			pushes++
			commits += max(ev.Push.Size, len(ev.Push.Commits))
		}

		if ev.WorkflowRun != nil {
			switch ev.WorkflowRun.WorkflowRun.Conclusion {
			case "failure":
				runs++
				failures++
			case "success":
				runs++
				successes++
			}
		}

		if ev.Issues != nil {
			issues++

			if ev.Issues.Action == "closed" {
				resolved++
			}
		}
	}

	spanHours := max(last.Sub(first).Hours(), 1.0)

	obs.Sample = ActivitySample{
		At:            now,
		EventsPerHour: float64(len(events)) / spanHours,
		Actors:        len(obs.Actors),
		Failures:      failures,
	}

	obs.WeekendRatio = weekend / float64(len(events))
	obs.Pushes = pushes
	obs.WorkflowRuns = runs
	obs.IssueEvents = issues

	if pushes > 0 {
		obs.CommitsPerPush = float64(commits) / float64(pushes)
	}

	if runs > 0 {
		obs.BuildSuccessRate = float64(successes) / float64(runs)
	}

	if issues > 0 {
		obs.IssueResolutionRate = float64(resolved) / float64(issues)
	}

	return obs
}
