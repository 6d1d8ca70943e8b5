package repocontext_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/octofang/internal/detect"
	"github.com/Sumatoshi-tech/octofang/internal/detect/repocontext"
	"github.com/Sumatoshi-tech/octofang/internal/feature"
	"github.com/Sumatoshi-tech/octofang/internal/github"
	"github.com/Sumatoshi-tech/octofang/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return store.New(client)
}

// fakeGitHub serves repo metadata and counts /repos hits.
func fakeGitHub(t *testing.T, repo map[string]any, hits *atomic.Int64) *github.Client {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/repos/google/prod-api", func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_ = json.NewEncoder(w).Encode(repo)
	})
	mux.HandleFunc("/repos/google/prod-api/community/profile", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"health_percentage":90,"files":{"security":{}}}`))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return github.NewClient("", srv.URL, nil)
}

func popularRepo() map[string]any {
	return map[string]any{
		"full_name":        "google/prod-api",
		"language":         "Go",
		"topics":           []string{"api", "infrastructure"},
		"stargazers_count": 20000,
		"forks_count":      3000,
		"size":             50000,
		"created_at":       time.Now().AddDate(-3, 0, 0).Format(time.RFC3339),
		"updated_at":       time.Now().Add(-2 * time.Hour).Format(time.RFC3339),
		"owner":            map[string]string{"login": "google", "type": "Organization"},
	}
}

func TestScorePopularOrgRepo(t *testing.T) {
	t.Parallel()

	var hits atomic.Int64

	scorer := repocontext.NewScorer(newTestStore(t), fakeGitHub(t, popularRepo(), &hits), nil)

	assessment := scorer.Score(context.Background(), "google/prod-api", 5)

	assert.Equal(t, detect.AnalysisStatistical, assessment.AnalysisType)
	require.NotNil(t, assessment.Context)
	assert.True(t, assessment.Context.HasSecurityPolicy)

	// A starred org repo in a high-value language with "prod" and "api" in
	// the name lands in the top multiplier tier.
	assert.GreaterOrEqual(t, assessment.Criticality, 0.8)
	assert.Equal(t, 1.5, assessment.Multiplier)
	assert.Equal(t, assessment.Criticality, assessment.Features[feature.ContextCriticality])
}

func TestScoreFallbackWhenFetchFails(t *testing.T) {
	t.Parallel()

	scorer := repocontext.NewScorer(newTestStore(t), nil, nil)

	assessment := scorer.Score(context.Background(), "ghost/unknown", 0)

	assert.Equal(t, 0.5, assessment.Criticality)
	assert.Equal(t, 1.1, assessment.Multiplier)
	assert.Equal(t, detect.AnalysisFallback, assessment.AnalysisType)
	assert.Nil(t, assessment.Context)
}

func TestScoreCachesMetadata(t *testing.T) {
	t.Parallel()

	var hits atomic.Int64

	scorer := repocontext.NewScorer(newTestStore(t), fakeGitHub(t, popularRepo(), &hits), nil)

	first := scorer.Score(context.Background(), "google/prod-api", 0)
	second := scorer.Score(context.Background(), "google/prod-api", 0)

	assert.Equal(t, first.Criticality, second.Criticality)
	assert.Equal(t, int64(1), hits.Load(), "second score must hit the cache")
}

func TestMultiplierTiers(t *testing.T) {
	t.Parallel()

	tests := []struct {
		criticality float64
		want        float64
	}{
		{criticality: 0.9, want: 1.5},
		{criticality: 0.8, want: 1.5},
		{criticality: 0.7, want: 1.3},
		{criticality: 0.5, want: 1.1},
		{criticality: 0.2, want: 1.0},
	}

	for _, tc := range tests {
		assert.Equal(t, tc.want, repocontext.Multiplier(tc.criticality), "criticality %.2f", tc.criticality)
	}
}

func TestContributors(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/api/contributors", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[{"login":"alpha","contributions":80},{"login":"beta","contributions":20}]`))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	scorer := repocontext.NewScorer(newTestStore(t), github.NewClient("", srv.URL, nil), nil)

	cs, err := scorer.Contributors(context.Background(), "acme/api")
	require.NoError(t, err)
	assert.Equal(t, 2, cs.Count)
	assert.InDelta(t, 0.8, cs.TopShare, 1e-9)
}
