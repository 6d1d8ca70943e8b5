package behavioral

import (
	"fmt"
	"math"
	"strings"

	"github.com/Sumatoshi-tech/octofang/internal/detect"
	"github.com/Sumatoshi-tech/octofang/internal/event"
	"github.com/Sumatoshi-tech/octofang/internal/feature"
	"github.com/Sumatoshi-tech/octofang/internal/profile"
	"github.com/Sumatoshi-tech/octofang/pkg/alg/stats"
)

// Anomaly type names emitted by this detector.
const (
	AnomalyStatisticalDeviation = "statistical_deviation"
	AnomalyMultivariate         = "multivariate_deviation"
	AnomalyForcePush            = "force_push"
	AnomalyColdStart            = "cold_start_heuristic"
)

// zThreshold flags a single feature as deviant.
const zThreshold = 2.5

// zSeverityDivisor maps a z-score onto a [0, 1] severity.
const zSeverityDivisor = 5.0

// minHistoryForMultivariate gates the Mahalanobis check.
const minHistoryForMultivariate = 10

// covarianceEpsilon regularizes the covariance diagonal before inversion.
const covarianceEpsilon = 1e-6

// stddevEpsilon keeps z-scores finite when a baseline feature has collapsed
// to zero variance.
const stddevEpsilon = 1e-10

// confidenceFullHistory is the history length at which confidence reaches 1.
const confidenceFullHistory = 30

// coldStartConfidence is the fixed confidence of heuristic-only results.
const coldStartConfidence = 0.3

// Force-push severities by evidence strength.
const (
	forcePushFlagSeverity    = 0.9
	forcePushMarkerSeverity  = 0.7
	forcePushHistorySeverity = 0.6
)

// Per-anomaly-type weights for the aggregate score.
var typeWeights = map[string]float64{
	AnomalyStatisticalDeviation: 0.6,
	AnomalyMultivariate:         0.4,
}

// defaultTypeWeight applies to anomaly types without an explicit weight.
const defaultTypeWeight = 0.3

// forcePushMarkers are commit message fragments that indicate history rewrites.
var forcePushMarkers = []string{"force push", "--force", "rewrite", "amend"}

// Detector scores a user's event batch against their baseline.
type Detector struct{}

// NewDetector builds a behavioral detector.
func NewDetector() *Detector {
	return &Detector{}
}

// Detect extracts features from the batch and scores them. With a reliable
// baseline it runs statistical checks; otherwise it falls back to cold-start
// heuristics with reduced confidence.
func (d *Detector) Detect(events []*event.Event, baseline *profile.UserBaseline) detect.Result {
	if len(events) == 0 {
		return detect.Neutral()
	}

	feat := ExtractFeatures(events)

	anomalies := detectForcePush(events)

	if baseline.Reliable() {
		anomalies = append(anomalies, d.statisticalAnomalies(feat, baseline)...)
		anomalies = append(anomalies, d.multivariateAnomalies(feat, baseline)...)

		return detect.Result{
			Score:        aggregateScore(anomalies),
			Confidence:   stats.Clamp(float64(len(baseline.History))/confidenceFullHistory, 0, 1),
			AnalysisType: detect.AnalysisStatistical,
			Anomalies:    anomalies,
			Features:     feat,
		}
	}

	anomalies = append(anomalies, coldStartAnomalies(feat)...)

	return detect.Result{
		Score:        aggregateScore(anomalies),
		Confidence:   coldStartConfidence,
		AnalysisType: detect.AnalysisColdStart,
		Anomalies:    anomalies,
		Features:     feat,
	}
}

// statisticalAnomalies flags individual features beyond zThreshold stddevs.
func (d *Detector) statisticalAnomalies(feat feature.Vector, baseline *profile.UserBaseline) []detect.Anomaly {
	stddevs := baseline.StdDevs()

	var anomalies []detect.Anomaly

	for i := range feat {
		z := math.Abs(feat[i]-baseline.Means[i]) / (stddevs[i] + stddevEpsilon)
		if z <= zThreshold {
			continue
		}

		anomalies = append(anomalies, detect.Anomaly{
			Type:        AnomalyStatisticalDeviation,
			Severity:    stats.Clamp(z/zSeverityDivisor, 0, 1),
			Description: fmt.Sprintf("%s deviates %.1f stddevs from baseline", feature.BehavioralNames[i], z),
			Details: map[string]any{
				"feature":  feature.BehavioralNames[i],
				"value":    feat[i],
				"mean":     baseline.Means[i],
				"z_score":  z,
				"baseline": baseline.EventCount,
			},
		})
	}

	return anomalies
}

// multivariateAnomalies runs the Mahalanobis check against the feature
// history. A singular covariance matrix skips the check rather than failing
// the whole detection.
func (d *Detector) multivariateAnomalies(feat feature.Vector, baseline *profile.UserBaseline) []detect.Anomaly {
	if len(baseline.History) <= minHistoryForMultivariate {
		return nil
	}

	rows := make([][]float64, len(baseline.History))
	for i, h := range baseline.History {
		rows[i] = h
	}

	cov := stats.CovarianceMatrix(rows)
	if cov == nil {
		return nil
	}

	stats.Regularize(cov, covarianceEpsilon)

	dist, err := stats.MahalanobisDistance(feat, baseline.Means, cov)
	if err != nil {
		return nil
	}

	threshold := stats.ChiSquareCritical(0.95, feature.BehavioralDim)
	if dist <= threshold {
		return nil
	}

	return []detect.Anomaly{{
		Type:        AnomalyMultivariate,
		Severity:    stats.Clamp(dist/(2*threshold), 0, 1),
		Description: fmt.Sprintf("feature vector at Mahalanobis distance %.2f (threshold %.2f)", dist, threshold),
		Details: map[string]any{
			"distance":     dist,
			"threshold":    threshold,
			"history_rows": len(baseline.History),
		},
	}}
}

// detectForcePush inspects push payloads for history rewrites. The forced
// flag is strongest evidence; message markers and non-distinct commit sets
// are weaker signals.
func detectForcePush(events []*event.Event) []detect.Anomaly {
	var anomalies []detect.Anomaly

	for _, ev := range events {
		if ev.Push == nil {
			continue
		}

		severity, reason := forcePushEvidence(ev.Push)
		if severity == 0 {
			continue
		}

		anomalies = append(anomalies, detect.Anomaly{
			Type:        AnomalyForcePush,
			Severity:    severity,
			Description: reason,
			Details: map[string]any{
				"ref":    ev.Push.Ref,
				"repo":   ev.Repo.Name,
				"forced": ev.Push.Forced,
			},
		})
	}

	return anomalies
}

func forcePushEvidence(push *event.PushPayload) (float64, string) {
	if push.Forced {
		return forcePushFlagSeverity, "push flagged as forced"
	}

	for _, c := range push.Commits {
		msg := strings.ToLower(c.Message)
		for _, marker := range forcePushMarkers {
			if strings.Contains(msg, marker) {
				return forcePushMarkerSeverity, "commit message indicates history rewrite"
			}
		}
	}

	if push.Size > 1 && push.DistinctSize == 1 {
		return forcePushHistorySeverity, "push replays existing commits with one distinct"
	}

	return 0, ""
}

// coldStartTier is one heuristic check with escalating thresholds.
// For inverted checks, lower values are more suspicious.
type coldStartTier struct {
	index    int
	name     string
	tiers    [3]float64
	inverted bool
}

var coldStartTiers = []coldStartTier{
	{index: feature.BehavioralEventsPerHour, name: "events_per_hour", tiers: [3]float64{2, 5, 10}},
	{index: feature.BehavioralBurstScore, name: "burst_score", tiers: [3]float64{0.2, 0.4, 0.7}},
	{index: feature.BehavioralTypeEntropy, name: "type_entropy", tiers: [3]float64{0.3, 0.2, 0.1}, inverted: true},
	{index: feature.BehavioralOffHoursRatio, name: "off_hours_ratio", tiers: [3]float64{0.4, 0.6, 0.8}},
	{index: feature.BehavioralRepoDiversity, name: "repo_diversity", tiers: [3]float64{0.15, 0.1, 0.05}, inverted: true},
}

// tierSeverities maps the deepest crossed tier to a severity.
var tierSeverities = [3]float64{0.3, 0.5, 0.8}

// coldStartAnomalies applies threshold heuristics when no baseline exists.
func coldStartAnomalies(feat feature.Vector) []detect.Anomaly {
	var anomalies []detect.Anomaly

	for _, check := range coldStartTiers {
		value := feat[check.index]
		level := -1

		for i, threshold := range check.tiers {
			crossed := value > threshold
			if check.inverted {
				crossed = value < threshold
			}

			if crossed {
				level = i
			}
		}

		if level < 0 {
			continue
		}

		anomalies = append(anomalies, detect.Anomaly{
			Type:        AnomalyColdStart,
			Severity:    tierSeverities[level],
			Description: fmt.Sprintf("%s outside expected range for a new user", check.name),
			Details: map[string]any{
				"signal": check.name,
				"value":  value,
				"tier":   level + 1,
			},
		})
	}

	return anomalies
}

// aggregateScore computes the type-weighted mean severity.
func aggregateScore(anomalies []detect.Anomaly) float64 {
	if len(anomalies) == 0 {
		return 0
	}

	var weighted, weights float64

	for _, a := range anomalies {
		w, ok := typeWeights[a.Type]
		if !ok {
			w = defaultTypeWeight
		}

		weighted += a.Severity * w
		weights += w
	}

	if weights == 0 {
		return 0
	}

	return stats.Clamp(weighted/weights, 0, 1)
}
