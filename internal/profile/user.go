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
	"github.com/Sumatoshi-tech/octofang/internal/feature"
	"github.com/Sumatoshi-tech/octofang/internal/store"
	"github.com/Sumatoshi-tech/octofang/pkg/alg/stats"
)

// Key namespaces. userKeyPrefix is the canonical profile store; the legacy
// prefix is read once per user and migrated forward, never written.
const (
	userKeyPrefix       = "user_profile_v2:"
	legacyUserKeyPrefix = "user_baseline_numpy:"
)

// changeZThreshold flags per-feature drift in AnalyzeChange.
const changeZThreshold = 2.0

// changeScoreDivisor normalizes the mean |z| into a [0, 1] change score.
const changeScoreDivisor = 5.0

// UserManager loads and updates user baselines. A per-login mutex serializes
// in-process updates; the store's optimistic transaction guards against
// concurrent writers in other instances.
type UserManager struct {
	store  *store.Store
	logger *slog.Logger
	clock  func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	lastUpdate sync.Map // login -> time.Time
}

// NewUserManager builds a user profile manager.
func NewUserManager(st *store.Store, logger *slog.Logger) *UserManager {
	if logger == nil {
		logger = slog.Default()
	}

	return &UserManager{
		store:  st,
		logger: logger,
		clock:  time.Now,
		locks:  map[string]*sync.Mutex{},
	}
}

// Get loads a user's baseline. Absent profiles fall back to the legacy
// namespace; a legacy hit is re-persisted under the canonical key.
// Returns (nil, nil) when the user has no profile at all.
func (m *UserManager) Get(ctx context.Context, login string) (*UserBaseline, error) {
	var baseline UserBaseline

	err := m.store.GetJSON(ctx, userKeyPrefix+login, &baseline)
	if err == nil {
		return &baseline, nil
	}

	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	err = m.store.GetJSON(ctx, legacyUserKeyPrefix+login, &baseline)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	// One-way migration: rewrite under the canonical key, leave the legacy
	// key to its own TTL.
	err = m.store.SetJSON(ctx, userKeyPrefix+login, &baseline, UserTTL)
	if err != nil {
		m.logger.Warn("legacy profile migration failed", "login", login, "error", err)
	}

	return &baseline, nil
}

// Update folds one observed feature vector and its source events into the
// user's baseline and persists it. Updates are rate-limited to once per
// UserUpdateInterval per login; a skipped update is not an error.
func (m *UserManager) Update(ctx context.Context, login string, feat feature.Vector, events []*event.Event) error {
	if len(events) == 0 || len(feat) == 0 {
		return nil
	}

	now := m.clock()

	if last, ok := m.lastUpdate.Load(login); ok {
		if now.Sub(last.(time.Time)) < UserUpdateInterval {
			return nil
		}
	}

	lock := m.lockFor(login)
	lock.Lock()
	defer lock.Unlock()

	types, repos, hours := batchDistributions(events)

	err := m.store.UpdateJSON(ctx, userKeyPrefix+login, UserTTL, func(current []byte) (any, error) {
		baseline := &UserBaseline{Login: login}

		if current != nil {
			err := json.Unmarshal(current, baseline)
			if err != nil {
				return nil, fmt.Errorf("profile: decode user %s: %w", login, err)
			}
		}

		baseline.Observe(feat, now)
		baseline.ObserveDistributions(types, repos, hours)

		return baseline, nil
	})
	if err != nil {
		return fmt.Errorf("profile: update user %s: %w", login, err)
	}

	m.lastUpdate.Store(login, now)

	return nil
}

// ChangeReport describes how a new observation deviates from the baseline.
type ChangeReport struct {
	// ZScores is the per-feature standardized deviation.
	ZScores feature.Vector `json:"z_scores"`

	// Drifted lists feature indices with |z| above changeZThreshold.
	Drifted []int `json:"drifted"`

	// Score is the normalized overall change magnitude in [0, 1].
	Score float64 `json:"score"`
}

// AnalyzeChange standardizes the observation against the baseline and
// reports which features drifted. Returns nil when the baseline is missing
// or unreliable.
func (m *UserManager) AnalyzeChange(baseline *UserBaseline, observed feature.Vector) *ChangeReport {
	if !baseline.Reliable() || len(baseline.Means) != len(observed) {
		return nil
	}

	stddevs := baseline.StdDevs()
	report := &ChangeReport{ZScores: feature.NewVector(len(observed))}

	var sumAbs float64

	for i := range observed {
		diff := observed[i] - baseline.Means[i]

		var z float64

		if stddevs[i] == 0 {
			if diff != 0 {
				z = stats.ZScoreMaxSentinel
			}
		} else {
			z = diff / stddevs[i]
		}

		report.ZScores[i] = z

		if z < 0 {
			z = -z
		}

		sumAbs += z

		if z > changeZThreshold {
			report.Drifted = append(report.Drifted, i)
		}
	}

	report.Score = stats.Clamp(sumAbs/float64(len(observed))/changeScoreDivisor, 0, 1)

	return report
}

func (m *UserManager) lockFor(login string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()

	lock, ok := m.locks[login]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[login] = lock
	}

	return lock
}

// batchDistributions computes the event-type, repo and hour-of-day counts of
// one batch.
func batchDistributions(events []*event.Event) (types, repos map[string]float64, hours []float64) {
	types = map[string]float64{}
	repos = map[string]float64{}
	hours = make([]float64, hourBins)

	for _, ev := range events {
		types[ev.Type]++
		repos[ev.Repo.Name]++
		hours[ev.CreatedAt.UTC().Hour()]++
	}

	return types, repos, hours
}
