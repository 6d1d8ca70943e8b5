package event_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/octofang/internal/event"
)

func TestDecodePushEvent(t *testing.T) {
	t.Parallel()

	raw := `{
		"id": "44217715489",
		"type": "PushEvent",
		"actor": {"login": "octocat", "id": 583231},
		"repo": {"name": "acme/api", "id": 1296269},
		"created_at": "2026-03-04T12:00:00Z",
		"public": true,
		"payload": {
			"ref": "refs/heads/main",
			"forced": true,
			"size": 2,
			"distinct_size": 2,
			"commits": [
				{"sha": "abc123", "message": "fix races", "distinct": true},
				{"sha": "def456", "message": "bump deps", "distinct": true}
			]
		}
	}`

	ev, err := event.Decode([]byte(raw))
	require.NoError(t, err)

	assert.Equal(t, "44217715489", ev.ID)
	assert.Equal(t, "PushEvent", ev.Type)
	assert.Equal(t, "octocat", ev.Actor.Login)
	assert.Equal(t, "acme/api", ev.Repo.Name)
	assert.Equal(t, time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC), ev.CreatedAt)
	assert.True(t, ev.Public)

	require.NotNil(t, ev.Push)
	assert.True(t, ev.Push.Forced)
	require.Len(t, ev.Push.Commits, 2)
	assert.Equal(t, "fix races", ev.Push.Commits[0].Message)
	assert.NoError(t, ev.Validate())
}

func TestDecodeMissingFields(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
		want error
	}{
		{
			name: "missing type",
			raw:  `{"actor":{"login":"octocat"},"repo":{"name":"acme/api"},"created_at":"2026-03-04T12:00:00Z"}`,
			want: event.ErrMissingType,
		},
		{
			name: "missing actor",
			raw:  `{"type":"PushEvent","repo":{"name":"acme/api"},"created_at":"2026-03-04T12:00:00Z"}`,
			want: event.ErrMissingActor,
		},
		{
			name: "missing repo",
			raw:  `{"type":"PushEvent","actor":{"login":"octocat"},"created_at":"2026-03-04T12:00:00Z"}`,
			want: event.ErrMissingRepo,
		},
		{
			name: "bad timestamp",
			raw:  `{"type":"PushEvent","actor":{"login":"octocat"},"repo":{"name":"acme/api"},"created_at":"yesterday"}`,
			want: event.ErrInvalidTimestamp,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, err := event.Decode([]byte(tc.raw))
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestDecodeMalformedJSON(t *testing.T) {
	t.Parallel()

	_, err := event.Decode([]byte(`{not json`))
	assert.Error(t, err)
}

func TestDecodePayloadVariants(t *testing.T) {
	t.Parallel()

	base := func(typ, payload string) string {
		return `{"id":"1","type":"` + typ + `","actor":{"login":"octocat"},"repo":{"name":"acme/api"},"created_at":"2026-03-04T12:00:00Z","payload":` + payload + `}`
	}

	t.Run("workflow run", func(t *testing.T) {
		t.Parallel()

		ev, err := event.Decode([]byte(base("WorkflowRunEvent",
			`{"action":"completed","workflow_run":{"name":"ci","conclusion":"failure"}}`)))
		require.NoError(t, err)
		require.NotNil(t, ev.WorkflowRun)
		assert.Equal(t, "failure", ev.WorkflowRun.WorkflowRun.Conclusion)
	})

	t.Run("delete", func(t *testing.T) {
		t.Parallel()

		ev, err := event.Decode([]byte(base("DeleteEvent", `{"ref":"old-branch","ref_type":"branch"}`)))
		require.NoError(t, err)
		require.NotNil(t, ev.Delete)
		assert.Equal(t, "branch", ev.Delete.RefType)
	})

	t.Run("unknown type keeps generic payload", func(t *testing.T) {
		t.Parallel()

		ev, err := event.Decode([]byte(base("GollumEvent", `{"pages":[]}`)))
		require.NoError(t, err)
		assert.Contains(t, ev.Other, "pages")
		assert.Nil(t, ev.Push)
	})
}

func TestDecodeEmptyPayload(t *testing.T) {
	t.Parallel()

	raw := `{"id":"1","type":"PushEvent","actor":{"login":"octocat"},"repo":{"name":"acme/api"},"created_at":"2026-03-04T12:00:00Z"}`

	ev, err := event.Decode([]byte(raw))
	require.NoError(t, err)

	// Push events always carry a payload struct, even when the wire form
	// omitted it, so detectors never nil-check per commit batch.
	require.NotNil(t, ev.Push)
	assert.Empty(t, ev.Push.Commits)
}

func TestGroupKey(t *testing.T) {
	t.Parallel()

	ev := &event.Event{Actor: event.Actor{Login: "octocat"}, Repo: event.Repo{Name: "acme/api"}}
	assert.Equal(t, "octocat|acme/api", ev.GroupKey())
}

func TestRepoOwner(t *testing.T) {
	t.Parallel()

	ev := &event.Event{Repo: event.Repo{Name: "acme/api"}}
	assert.Equal(t, "acme", ev.RepoOwner())

	bare := &event.Event{Repo: event.Repo{Name: "justname"}}
	assert.Equal(t, "justname", bare.RepoOwner())
}
