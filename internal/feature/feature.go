// Package feature defines the fixed feature-vector schemas shared by the
// detectors and the profile managers. Index order is part of each schema's
// contract: baselines persist per-index running statistics, so reordering a
// schema invalidates every stored profile.
package feature

import "errors"

// ErrSchemaMismatch is returned when a vector's length disagrees with its schema.
var ErrSchemaMismatch = errors.New("feature: vector length does not match schema")

// Behavioral feature indices (10 dimensions).
const (
	BehavioralEventsPerHour = iota
	BehavioralRepoDiversity
	BehavioralAvgIntervalMin
	BehavioralAvgCommitMsgLen
	BehavioralAvgFilesPerCommit
	BehavioralBurstScore
	BehavioralTimeSpanHours
	BehavioralTypeEntropy
	BehavioralWeekendRatio
	BehavioralOffHoursRatio

	BehavioralDim = 10
)

// BehavioralNames lists the behavioral feature names in index order.
var BehavioralNames = [BehavioralDim]string{
	"events_per_hour",
	"repo_diversity",
	"avg_interval_min",
	"avg_commit_msg_len",
	"avg_files_per_commit",
	"burst_score",
	"time_span_hours",
	"type_entropy",
	"weekend_ratio",
	"off_hours_ratio",
}

// Content feature indices (9 dimensions). Counts rather than ratios: the
// sigmoid normalization downstream expects raw magnitudes.
const (
	ContentSecretCount = iota
	ContentHighSeveritySecrets
	ContentSuspiciousFiles
	ContentCredentialFiles
	ContentKeyFiles
	ContentLargeFileChanges
	ContentBinaryFiles
	ContentDeletionRatio
	ContentMeanSecretSeverity

	ContentDim = 9
)

// ContentNames lists the content feature names in index order.
var ContentNames = [ContentDim]string{
	"secret_count",
	"high_severity_secrets",
	"suspicious_files",
	"credential_files",
	"key_files",
	"large_file_changes",
	"binary_files",
	"deletion_ratio",
	"mean_secret_severity",
}

// Temporal feature indices (9 dimensions).
const (
	TemporalEventsPerMinute = iota
	TemporalBaselineRatio
	TemporalBurstIntensity
	TemporalRegularity
	TemporalCoordination
	TemporalOffHoursIntensity
	TemporalWeekendExcess
	TemporalTimeConcentration
	TemporalVelocityAccel

	TemporalDim = 9
)

// TemporalNames lists the temporal feature names in index order.
var TemporalNames = [TemporalDim]string{
	"events_per_minute",
	"baseline_ratio",
	"burst_intensity",
	"regularity",
	"coordination",
	"off_hours_intensity",
	"weekend_excess",
	"time_concentration",
	"velocity_acceleration",
}

// Context feature indices (9 dimensions). Index 0 holds the computed
// criticality and is excluded from the weighted combination producing it.
const (
	ContextCriticality = iota
	ContextStars
	ContextForks
	ContextContributors
	ContextRecentActivity
	ContextSecurityPosture
	ContextBranchProtection
	ContextDependencyRisk
	ContextMomentum

	ContextDim = 9
)

// Vector is an ordered feature vector. It marshals as a plain JSON array so
// stored baselines stay schema-agnostic on the wire.
type Vector []float64

// NewVector returns a zero vector of the given dimension.
func NewVector(dim int) Vector {
	return make(Vector, dim)
}

// CheckDim returns [ErrSchemaMismatch] unless the vector has exactly dim entries.
func (v Vector) CheckDim(dim int) error {
	if len(v) != dim {
		return ErrSchemaMismatch
	}

	return nil
}

// Clone returns an independent copy of the vector.
func (v Vector) Clone() Vector {
	out := make(Vector, len(v))
	copy(out, v)

	return out
}
