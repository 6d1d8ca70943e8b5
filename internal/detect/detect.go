// Package detect defines the result types shared by the anomaly detectors.
// Each detector consumes an event (plus recent history for the same actor or
// repo) and returns a [Result] with a score in [0, 1], a confidence, and the
// individual anomalies that contributed to the score.
package detect

import "github.com/Sumatoshi-tech/octofang/internal/feature"

// Analysis types reported in [Result.AnalysisType].
const (
	AnalysisStatistical = "statistical"
	AnalysisColdStart   = "cold_start"
	AnalysisFallback    = "fallback"
)

// Anomaly is a single detected irregularity.
type Anomaly struct {
	// Type names the detection rule that fired, e.g. "statistical_deviation".
	Type string `json:"type"`

	// Severity is the rule's own severity estimate in [0, 1].
	Severity float64 `json:"severity"`

	Description string         `json:"description,omitempty"`
	Details     map[string]any `json:"details,omitempty"`
}

// Result is the outcome of one detector run.
type Result struct {
	// Score is the detector's aggregate anomaly score in [0, 1].
	Score float64 `json:"score"`

	// Confidence reflects how much history backed the score.
	Confidence float64 `json:"confidence"`

	// AnalysisType records which code path produced the score.
	AnalysisType string `json:"analysis_type"`

	Anomalies []Anomaly      `json:"anomalies,omitempty"`
	Features  feature.Vector `json:"features,omitempty"`
	Tags      []string       `json:"tags,omitempty"`
}

// Neutral is the zero-signal result substituted when a detector fails.
// A failed detector never blocks scoring of the remaining dimensions.
func Neutral() Result {
	return Result{Score: 0, Confidence: 0, AnalysisType: AnalysisFallback}
}

// MaxSeverity returns the largest anomaly severity in the result, or 0.
func (r Result) MaxSeverity() float64 {
	var maxSev float64

	for _, a := range r.Anomalies {
		if a.Severity > maxSev {
			maxSev = a.Severity
		}
	}

	return maxSev
}

// HasAnomaly reports whether an anomaly of the given type fired.
func (r Result) HasAnomaly(anomalyType string) bool {
	for _, a := range r.Anomalies {
		if a.Type == anomalyType {
			return true
		}
	}

	return false
}
