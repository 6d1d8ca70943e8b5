// Package severity composes per-detector sub-scores into a final severity,
// applies context and urgency multipliers, and classifies the result into a
// band. Every intermediate value is retained on the ScoredEvent so a triager
// can audit how a score came to be.
package severity

import "time"

// Band is a severity classification.
type Band string

// Severity bands, highest first.
const (
	BandCritical Band = "critical"
	BandHigh     Band = "high"
	BandMedium   Band = "medium"
	BandLow      Band = "low"
	BandInfo     Band = "info"
)

// Band lower bounds. Bands are closed on the lower end: a score exactly at
// the boundary classifies into the upper band.
const (
	criticalFloor = 0.85
	highFloor     = 0.65
	mediumFloor   = 0.45
	lowFloor      = 0.20
)

// Bands returns all bands ordered highest to lowest.
func Bands() []Band {
	return []Band{BandCritical, BandHigh, BandMedium, BandLow, BandInfo}
}

// BandFromScore classifies a final score in [0, 1].
func BandFromScore(score float64) Band {
	switch {
	case score >= criticalFloor:
		return BandCritical
	case score >= highFloor:
		return BandHigh
	case score >= mediumFloor:
		return BandMedium
	case score >= lowFloor:
		return BandLow
	default:
		return BandInfo
	}
}

// Rank is the band's priority exponent: queue priorities start at 10^Rank,
// which keeps bands totally ordered regardless of within-band score.
func (b Band) Rank() int {
	switch b {
	case BandCritical:
		return 6
	case BandHigh:
		return 5
	case BandMedium:
		return 4
	case BandLow:
		return 3
	default:
		return 2
	}
}

// TTL is how long items of this band stay actionable.
func (b Band) TTL() time.Duration {
	switch b {
	case BandCritical:
		return time.Hour
	case BandHigh:
		return 2 * time.Hour
	case BandMedium:
		return 4 * time.Hour
	case BandLow:
		return 8 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// Valid reports whether b is one of the defined bands.
func (b Band) Valid() bool {
	switch b {
	case BandCritical, BandHigh, BandMedium, BandLow, BandInfo:
		return true
	default:
		return false
	}
}

func (b Band) String() string {
	return string(b)
}
