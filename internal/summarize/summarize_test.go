package summarize

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/octofang/internal/detect"
	"github.com/Sumatoshi-tech/octofang/internal/severity"
	"github.com/Sumatoshi-tech/octofang/internal/store"
)

// fakeChat records requests and plays back a canned completion.
type fakeChat struct {
	requests []openai.ChatCompletionRequest
	content  string
	err      error
}

func (f *fakeChat) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.requests = append(f.requests, req)

	if f.err != nil {
		return openai.ChatCompletionResponse{}, f.err
	}

	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{
			Message: openai.ChatCompletionMessage{Content: f.content},
		}},
	}, nil
}

func newTestSummarizer(t *testing.T, chat chatClient) *Summarizer {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	s := New(store.New(client), "", nil)
	s.client = chat

	return s
}

func highEvent() severity.ScoredEvent {
	return severity.ScoredEvent{
		EventID:    "ev-1",
		Actor:      "octocat",
		Repo:       "acme/api",
		EventType:  "PushEvent",
		Band:       severity.BandHigh,
		FinalScore: 0.72,
	}
}

func TestTierFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		band      severity.Band
		name      string
		maxTokens int
		useAI     bool
		cacheTTL  time.Duration
	}{
		{band: severity.BandCritical, name: "tier_1", maxTokens: 500, useAI: true, cacheTTL: time.Hour},
		{band: severity.BandHigh, name: "tier_1", maxTokens: 500, useAI: true, cacheTTL: time.Hour},
		{band: severity.BandMedium, name: "tier_2", maxTokens: 200, useAI: true, cacheTTL: 2 * time.Hour},
		{band: severity.BandLow, name: "tier_3", maxTokens: 50, useAI: true, cacheTTL: 4 * time.Hour},
		{band: severity.BandInfo, name: "tier_4", maxTokens: 0, useAI: false, cacheTTL: 24 * time.Hour},
	}

	for _, tc := range tests {
		tier := tierFor(tc.band)

		assert.Equal(t, tc.name, tier.Name, "band %s", tc.band)
		assert.Equal(t, tc.maxTokens, tier.MaxTokens, "band %s", tc.band)
		assert.Equal(t, tc.useAI, tier.UseAI, "band %s", tc.band)
		assert.Equal(t, tc.cacheTTL, tier.CacheTTL, "band %s", tc.band)
	}
}

func TestIncidentType(t *testing.T) {
	t.Parallel()

	ev := highEvent()
	assert.Equal(t, IncidentAnomalous, IncidentType(ev))

	ev.UrgencyFlags = []string{severity.UrgencySecretsExposed}
	assert.Equal(t, IncidentSecretExposure, IncidentType(ev))

	ev.UrgencyFlags = []string{severity.UrgencyForcePushMain}
	assert.Equal(t, IncidentForcePush, IncidentType(ev))

	ev.UrgencyFlags = nil
	ev.Analyses = map[string]detect.Result{
		"temporal": {Anomalies: []detect.Anomaly{{Type: "activity_burst"}}},
	}
	assert.Equal(t, IncidentBurstyActivity, IncidentType(ev))
}

func TestSummarizeRuleBasedWithoutClient(t *testing.T) {
	t.Parallel()

	s := newTestSummarizer(t, nil)

	ev := highEvent()
	ev.UrgencyFlags = []string{severity.UrgencyForcePushMain}

	summary, err := s.Summarize(context.Background(), ev)
	require.NoError(t, err)

	assert.Equal(t, "Force push detected on acme/api", summary.Title)
	assert.Equal(t, "tier_1", summary.Tier)
	assert.Equal(t, "HIGH - Review within 1 hour", summary.Urgency)
	assert.False(t, summary.CacheHit)
	assert.NotEmpty(t, summary.NextSteps)
}

func TestSummarizeUsesModelAndSelectsByBudget(t *testing.T) {
	t.Parallel()

	chat := &fakeChat{content: `{"title":"Suspicious push to acme/api","root_cause":["r"],"impact":["i"],"next_steps":["n"]}`}
	s := newTestSummarizer(t, chat)

	summary, err := s.Summarize(context.Background(), highEvent())
	require.NoError(t, err)
	assert.Equal(t, "Suspicious push to acme/api", summary.Title)
	assert.Equal(t, "tier_1", summary.Tier)

	require.Len(t, chat.requests, 1)
	assert.Equal(t, openai.GPT4o, chat.requests[0].Model)
	assert.Equal(t, 500, chat.requests[0].MaxTokens)

	// Medium tier fits the small model's budget.
	medium := highEvent()
	medium.Band = severity.BandMedium
	medium.Repo = "acme/web"

	_, err = s.Summarize(context.Background(), medium)
	require.NoError(t, err)

	require.Len(t, chat.requests, 2)
	assert.Equal(t, openai.GPT4oMini, chat.requests[1].Model)
	assert.Equal(t, 200, chat.requests[1].MaxTokens)
}

func TestSummarizeInfoSkipsModel(t *testing.T) {
	t.Parallel()

	chat := &fakeChat{content: `{"title":"unused"}`}
	s := newTestSummarizer(t, chat)

	ev := highEvent()
	ev.Band = severity.BandInfo

	summary, err := s.Summarize(context.Background(), ev)
	require.NoError(t, err)
	assert.Empty(t, chat.requests, "info tier never calls the model")
	assert.Equal(t, "tier_4", summary.Tier)
}

func TestSummarizeFallsBackOnModelFailure(t *testing.T) {
	t.Parallel()

	chat := &fakeChat{err: errors.New("rate limited")}
	s := newTestSummarizer(t, chat)

	ev := highEvent()
	ev.UrgencyFlags = []string{severity.UrgencyMassDeletion}

	summary, err := s.Summarize(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, "Mass deletion event in acme/api", summary.Title)
}

func TestSummarizeCachesByIncidentShape(t *testing.T) {
	t.Parallel()

	chat := &fakeChat{content: `{"title":"cached","root_cause":["r"],"impact":["i"],"next_steps":["n"]}`}
	s := newTestSummarizer(t, chat)

	first, err := s.Summarize(context.Background(), highEvent())
	require.NoError(t, err)
	assert.False(t, first.CacheHit)

	// Same incident shape, different event identity.
	repeat := highEvent()
	repeat.EventID = "ev-2"
	repeat.Actor = "hubot"

	second, err := s.Summarize(context.Background(), repeat)
	require.NoError(t, err)
	assert.True(t, second.CacheHit)
	assert.Equal(t, "cached", second.Title)
	assert.Len(t, chat.requests, 1, "second summary served from cache")
}

func TestSummarizeHonorsCancelledContext(t *testing.T) {
	t.Parallel()

	s := newTestSummarizer(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Summarize(ctx, highEvent())
	assert.ErrorIs(t, err, context.Canceled)
}
