package severity_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Sumatoshi-tech/octofang/internal/severity"
)

func TestBandFromScore(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		score float64
		want  severity.Band
	}{
		{name: "critical floor", score: 0.85, want: severity.BandCritical},
		{name: "above critical", score: 0.99, want: severity.BandCritical},
		{name: "just below critical", score: 0.8499, want: severity.BandHigh},
		{name: "high floor", score: 0.65, want: severity.BandHigh},
		{name: "medium floor", score: 0.45, want: severity.BandMedium},
		{name: "low floor", score: 0.20, want: severity.BandLow},
		{name: "just below low", score: 0.1999, want: severity.BandInfo},
		{name: "zero", score: 0, want: severity.BandInfo},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tc.want, severity.BandFromScore(tc.score))
		})
	}
}

func TestBandRankOrdering(t *testing.T) {
	t.Parallel()

	bands := severity.Bands()

	for i := 1; i < len(bands); i++ {
		assert.Greater(t, bands[i-1].Rank(), bands[i].Rank(),
			"band %s must outrank %s", bands[i-1], bands[i])
	}
}

func TestBandTTLOrdering(t *testing.T) {
	t.Parallel()

	assert.Equal(t, time.Hour, severity.BandCritical.TTL())
	assert.Equal(t, 24*time.Hour, severity.BandInfo.TTL())

	bands := severity.Bands()
	for i := 1; i < len(bands); i++ {
		assert.Less(t, bands[i-1].TTL(), bands[i].TTL(),
			"more severe bands expire sooner")
	}
}

func TestBandValid(t *testing.T) {
	t.Parallel()

	for _, band := range severity.Bands() {
		assert.True(t, band.Valid())
	}

	assert.False(t, severity.Band("urgent").Valid())
}
