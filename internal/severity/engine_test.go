package severity_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/octofang/internal/severity"
)

// businessHour is a GMT timestamp outside every off-hours window.
var businessHour = time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)

func newEngine(t *testing.T) *severity.Engine {
	t.Helper()

	engine, err := severity.NewEngine(severity.DefaultWeights())
	require.NoError(t, err)

	return engine
}

func TestWeightsValidate(t *testing.T) {
	t.Parallel()

	assert.NoError(t, severity.DefaultWeights().Validate())

	bad := severity.Weights{Behavioral: 0.5, Content: 0.5, Temporal: 0.5, Repository: 0.5}
	assert.Error(t, bad.Validate())

	// Within the ±0.01 tolerance.
	near := severity.Weights{Behavioral: 0.25, Content: 0.35, Temporal: 0.20, Repository: 0.205}
	assert.NoError(t, near.Validate())
}

func TestNewEngineRejectsBadWeights(t *testing.T) {
	t.Parallel()

	_, err := severity.NewEngine(severity.Weights{Behavioral: 1, Content: 1})
	require.Error(t, err)
}

func TestScoreBaseIsWeightedSum(t *testing.T) {
	t.Parallel()

	engine := newEngine(t)

	sub := severity.SubScores{Behavioral: 0.4, Content: 0.8, Temporal: 0.2, Repository: 0.5}
	scored := engine.Score(sub, severity.Context{Timestamp: businessHour}, 0.7)

	want := 0.25*0.4 + 0.35*0.8 + 0.20*0.2 + 0.20*0.5
	assert.InDelta(t, want, scored.BaseScore, 1e-9)
	assert.Equal(t, 1.0, scored.ContextMult)
	assert.Equal(t, 1.0, scored.UrgencyFactor)
	assert.InDelta(t, want, scored.FinalScore, 1e-9)
	assert.Equal(t, 0.7, scored.Confidence)
}

func TestScoreClampsSubScores(t *testing.T) {
	t.Parallel()

	engine := newEngine(t)

	scored := engine.Score(severity.SubScores{Behavioral: 7, Content: -2}, severity.Context{Timestamp: businessHour}, 1)

	assert.Equal(t, 1.0, scored.SubScores.Behavioral)
	assert.Equal(t, 0.0, scored.SubScores.Content)
	assert.LessOrEqual(t, scored.FinalScore, 1.0)
}

func TestScoreContextFactors(t *testing.T) {
	t.Parallel()

	engine := newEngine(t)

	scored := engine.Score(severity.SubScores{Content: 1}, severity.Context{
		Ref:        "refs/heads/main",
		RepoName:   "acme/prod-api",
		PublicRepo: true,
		Timestamp:  businessHour,
	}, 1)

	assert.Contains(t, scored.ContextFactors, severity.FactorProtectedBranch)
	assert.Contains(t, scored.ContextFactors, severity.FactorProductionRepo)
	assert.Contains(t, scored.ContextFactors, severity.FactorPublicRepo)
	assert.NotContains(t, scored.ContextFactors, severity.FactorOffHoursLikely)

	// protected 1.5 × production 1.3 × public 1.1
	assert.InDelta(t, 1.5*1.3*1.1, scored.ContextMult, 1e-9)
}

func TestScoreOffHours(t *testing.T) {
	t.Parallel()

	engine := newEngine(t)

	night := time.Date(2026, 3, 4, 3, 0, 0, 0, time.UTC)
	scored := engine.Score(severity.SubScores{}, severity.Context{Timestamp: night}, 1)

	assert.Contains(t, scored.ContextFactors, severity.FactorOffHoursLikely)
	assert.InDelta(t, 1.1, scored.ContextMult, 1e-9)
}

func TestScoreUrgencyIndicators(t *testing.T) {
	t.Parallel()

	engine := newEngine(t)

	scored := engine.Score(severity.SubScores{}, severity.Context{
		Timestamp:       businessHour,
		ContainsSecrets: true,
		DeletionCount:   3,
		Forced:          true,
		Ref:             "refs/heads/main",
	}, 1)

	assert.Contains(t, scored.UrgencyFlags, severity.UrgencySecretsExposed)
	assert.Contains(t, scored.UrgencyFlags, severity.UrgencyMassDeletion)
	assert.Contains(t, scored.UrgencyFlags, severity.UrgencyForcePushMain)
	// main in the ref also triggers the protected-branch context factor.
	assert.Contains(t, scored.ContextFactors, severity.FactorProtectedBranch)

	assert.InDelta(t, 1.8*1.5*1.3, scored.UrgencyFactor, 1e-9)
}

func TestScoreCoordinatedAttackRequiresActorsAndRate(t *testing.T) {
	t.Parallel()

	engine := newEngine(t)

	quiet := engine.Score(severity.SubScores{}, severity.Context{
		Timestamp:       businessHour,
		UniqueActors:    3,
		EventsPerMinute: 5, // not strictly above the rate gate
	}, 1)
	assert.NotContains(t, quiet.UrgencyFlags, severity.UrgencyCoordinatedAttack)

	hot := engine.Score(severity.SubScores{}, severity.Context{
		Timestamp:       businessHour,
		UniqueActors:    3,
		EventsPerMinute: 5.1,
	}, 1)
	assert.Contains(t, hot.UrgencyFlags, severity.UrgencyCoordinatedAttack)
}

func TestScoreFinalIsCapped(t *testing.T) {
	t.Parallel()

	engine := newEngine(t)

	scored := engine.Score(severity.SubScores{Behavioral: 1, Content: 1, Temporal: 1, Repository: 1}, severity.Context{
		Ref:             "refs/heads/production",
		RepoName:        "acme/prod-live",
		PublicRepo:      true,
		Timestamp:       time.Date(2026, 3, 4, 3, 0, 0, 0, time.UTC),
		ContainsSecrets: true,
		DeletionCount:   10,
		Forced:          true,
	}, 1)

	assert.Equal(t, 1.0, scored.FinalScore)
	assert.Equal(t, severity.BandCritical, scored.Band)
}

func TestUpdateWeights(t *testing.T) {
	t.Parallel()

	engine := newEngine(t)

	err := engine.UpdateWeights(severity.Weights{Behavioral: 0.4, Content: 0.3, Temporal: 0.2, Repository: 0.1})
	require.NoError(t, err)
	assert.Equal(t, 0.4, engine.Weights().Behavioral)

	err = engine.UpdateWeights(severity.Weights{Behavioral: 0.9})
	require.Error(t, err)
	// Failed update leaves the previous weights in place.
	assert.Equal(t, 0.4, engine.Weights().Behavioral)
}

func TestIsLikelyOffHours(t *testing.T) {
	t.Parallel()

	tests := []struct {
		hour int
		want bool
	}{
		{hour: 1, want: false},
		{hour: 2, want: true},
		{hour: 10, want: true},
		{hour: 11, want: false},
		{hour: 14, want: true},
		{hour: 18, want: true},
		{hour: 19, want: false},
	}

	for _, tc := range tests {
		at := time.Date(2026, 3, 4, tc.hour, 30, 0, 0, time.UTC)
		assert.Equal(t, tc.want, severity.IsLikelyOffHours(at), "hour %d", tc.hour)
	}
}
