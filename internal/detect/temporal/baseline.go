// Package temporal detects timing irregularities: bursts, coordinated
// activity, off-pattern hours and accelerating velocity. Event rates are
// judged against a baseline estimated from recent public activity of the
// actor and the repository, cached in Redis.
package temporal

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/Sumatoshi-tech/octofang/internal/github"
	"github.com/Sumatoshi-tech/octofang/internal/profile"
	"github.com/Sumatoshi-tech/octofang/internal/store"
	"github.com/Sumatoshi-tech/octofang/pkg/alg/stats"
)

// Baseline cache keys and TTL.
const (
	userBaselineKeyPrefix = "user_baseline_temporal:"
	repoBaselineKeyPrefix = "repo_baseline_temporal:"
	baselineTTL           = time.Hour
)

// Sample limits for baseline estimation.
const (
	maxUserSamples = 5
	maxRepoSamples = 3
	eventsPerFetch = 30
)

// cachedBaseline is the persisted baseline estimate.
type cachedBaseline struct {
	Rate      float64   `json:"rate"`
	Samples   int       `json:"samples"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BaselineProvider estimates expected event rates from public activity.
type BaselineProvider struct {
	store  *store.Store
	client *github.Client
	logger *slog.Logger
}

// NewBaselineProvider builds a provider. client may be nil, in which case
// only cached baselines are served.
func NewBaselineProvider(st *store.Store, client *github.Client, logger *slog.Logger) *BaselineProvider {
	if logger == nil {
		logger = slog.Default()
	}

	return &BaselineProvider{store: st, client: client, logger: logger}
}

// Rate returns the baseline events-per-hour estimate for the actor/repo pair
// and whether a baseline was available at all. The estimate is the median of
// up to maxUserSamples user-rate samples and maxRepoSamples repo-rate
// samples; per-entity results are cached for baselineTTL.
func (p *BaselineProvider) Rate(ctx context.Context, login, repoName string) (float64, bool) {
	samples := make([]float64, 0, maxUserSamples+maxRepoSamples)

	userRates := p.cachedRates(ctx, userBaselineKeyPrefix+login, func(fetchCtx context.Context) []float64 {
		events, err := p.client.ListUserEvents(fetchCtx, login, eventsPerFetch)
		if err != nil {
			p.logger.Debug("user baseline fetch failed", "login", login, "error", err)

			return nil
		}

		return rateSamples(events, maxUserSamples)
	})
	samples = append(samples, userRates...)

	repoKey := repoBaselineKeyPrefix + profile.RepoKey(repoName)
	repoRates := p.cachedRates(ctx, repoKey, func(fetchCtx context.Context) []float64 {
		owner, name, ok := splitRepo(repoName)
		if !ok {
			return nil
		}

		events, err := p.client.ListRepoEvents(fetchCtx, owner, name, eventsPerFetch)
		if err != nil {
			p.logger.Debug("repo baseline fetch failed", "repo", repoName, "error", err)

			return nil
		}

		return rateSamples(events, maxRepoSamples)
	})
	samples = append(samples, repoRates...)

	if len(samples) == 0 {
		return 0, false
	}

	return stats.Median(samples), true
}

// cachedRates serves the baseline from cache, fetching and caching on miss.
func (p *BaselineProvider) cachedRates(ctx context.Context, key string, fetch func(context.Context) []float64) []float64 {
	var cached cachedBaseline

	err := p.store.GetJSON(ctx, key, &cached)
	if err == nil && cached.Samples > 0 {
		return []float64{cached.Rate}
	}

	if err != nil && !errors.Is(err, store.ErrNotFound) {
		p.logger.Debug("baseline cache read failed", "key", key, "error", err)
	}

	if p.client == nil {
		return nil
	}

	rates := fetch(ctx)
	if len(rates) == 0 {
		return nil
	}

	cached = cachedBaseline{
		Rate:      stats.Median(rates),
		Samples:   len(rates),
		UpdatedAt: time.Now(),
	}

	err = p.store.SetJSON(ctx, key, &cached, baselineTTL)
	if err != nil {
		p.logger.Debug("baseline cache write failed", "key", key, "error", err)
	}

	return []float64{cached.Rate}
}

// rateSamples splits the fetched events into up to n consecutive chunks and
// returns the events-per-hour rate of each chunk.
func rateSamples(events []github.PublicEvent, n int) []float64 {
	if len(events) < 2 {
		return nil
	}

	chunkSize := max(len(events)/n, 2)

	var rates []float64

	for start := 0; start+1 < len(events) && len(rates) < n; start += chunkSize {
		end := min(start+chunkSize, len(events))
		if end-start < 2 {
			break
		}

		chunk := events[start:end]

		first, last := chunk[0].CreatedAt, chunk[0].CreatedAt
		for _, ev := range chunk {
			if ev.CreatedAt.Before(first) {
				first = ev.CreatedAt
			}

			if ev.CreatedAt.After(last) {
				last = ev.CreatedAt
			}
		}

		spanHours := max(last.Sub(first).Hours(), 0.1)
		rates = append(rates, float64(len(chunk))/spanHours)
	}

	return rates
}

func splitRepo(name string) (owner, repo string, ok bool) {
	for i, r := range name {
		if r == '/' {
			return name[:i], name[i+1:], true
		}
	}

	return "", "", false
}
