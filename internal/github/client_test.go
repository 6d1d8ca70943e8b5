package github_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/octofang/internal/github"
)

func TestGetRepo(t *testing.T) {
	t.Parallel()

	var gotAuth, gotAgent string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/repos/acme/api", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		gotAgent = r.Header.Get("User-Agent")

		_, _ = w.Write([]byte(`{
			"full_name": "acme/api",
			"language": "Go",
			"stargazers_count": 42,
			"forks_count": 7,
			"owner": {"login": "acme", "type": "Organization"}
		}`))
	}))
	t.Cleanup(srv.Close)

	client := github.NewClient("token123", srv.URL, nil)

	repo, err := client.GetRepo(context.Background(), "acme", "api")
	require.NoError(t, err)

	assert.Equal(t, "acme/api", repo.FullName)
	assert.Equal(t, 42, repo.Stars)
	assert.Equal(t, "Organization", repo.Owner.Type)
	assert.Equal(t, "Bearer token123", gotAuth)
	assert.Equal(t, "octofang-anomaly-engine", gotAgent)
}

func TestGetRepoNotFound(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	client := github.NewClient("", srv.URL, nil)

	_, err := client.GetRepo(context.Background(), "ghost", "gone")
	assert.ErrorIs(t, err, github.ErrNotFound)
}

func TestGetRepoRateLimited(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("X-RateLimit-Remaining", "0")
		w.WriteHeader(http.StatusForbidden)
	}))
	t.Cleanup(srv.Close)

	client := github.NewClient("", srv.URL, nil)

	_, err := client.GetRepo(context.Background(), "acme", "api")
	assert.ErrorIs(t, err, github.ErrRateLimited)
}

func TestGetRepoRetriesTransientFailures(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)

			return
		}

		_, _ = w.Write([]byte(`{"full_name":"acme/api"}`))
	}))
	t.Cleanup(srv.Close)

	client := github.NewClient("", srv.URL, nil)

	repo, err := client.GetRepo(context.Background(), "acme", "api")
	require.NoError(t, err)
	assert.Equal(t, "acme/api", repo.FullName)
	assert.Equal(t, int64(3), calls.Load())
}

func TestGetCommit(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/repos/acme/api/commits/abc123", r.URL.Path)

		_, _ = w.Write([]byte(`{
			"sha": "abc123",
			"commit": {"message": "drop auth checks"},
			"files": [{"filename": "auth.go", "additions": 1, "deletions": 50, "patch": "@@ ..."}]
		}`))
	}))
	t.Cleanup(srv.Close)

	client := github.NewClient("", srv.URL, nil)

	detail, err := client.GetCommit(context.Background(), "acme", "api", "abc123")
	require.NoError(t, err)

	assert.Equal(t, "drop auth checks", detail.Commit.Message)
	require.Len(t, detail.Files, 1)
	assert.Equal(t, 50, detail.Files[0].Deletions)
}

func TestListUserEvents(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/users/octocat/events/public", r.URL.Path)
		require.Equal(t, "30", r.URL.Query().Get("per_page"))

		_, _ = w.Write([]byte(`[{"id":"1","type":"PushEvent","created_at":"2026-03-04T12:00:00Z","actor":{"login":"octocat"}}]`))
	}))
	t.Cleanup(srv.Close)

	client := github.NewClient("", srv.URL, nil)

	events, err := client.ListUserEvents(context.Background(), "octocat", 30)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "PushEvent", events[0].Type)
}
