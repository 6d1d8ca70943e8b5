package temporal

import (
	"context"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/Sumatoshi-tech/octofang/internal/detect"
	"github.com/Sumatoshi-tech/octofang/internal/event"
	"github.com/Sumatoshi-tech/octofang/internal/feature"
	"github.com/Sumatoshi-tech/octofang/pkg/alg/stats"
)

// Pattern type names emitted by this detector.
const (
	PatternActivityBurst = "activity_burst"
	PatternCoordinated   = "coordinated_activity"
	PatternUnusualTiming = "unusual_timing_distribution"
	PatternSustainedHigh = "sustained_high_activity"
)

// TagNoBaseline marks results scored without any rate baseline.
const TagNoBaseline = "no_baseline"

// Analysis types for batches too small to score.
const (
	AnalysisInsufficientData       = "insufficient_data"
	AnalysisInsufficientTimestamps = "insufficient_timestamps"
)

// Sliding-window thresholds.
const (
	burstWindow        = 5 * time.Minute
	burstMinEvents     = 5
	coordWindow        = 15 * time.Minute
	coordMinActors     = 3
	coordMinEvents     = 3
	timingMinEvents    = 10
	timingPValue       = 0.05
	sustainedWindow    = time.Hour
	sustainedMinRate   = 30
	sustainedMinEvents = 20
)

// Score shaping.
const (
	sigmoidSlope       = 2.0
	patternBoostFactor = 0.3
	patternBoostCap    = 0.4
)

// Expected background shares for the intensity features.
const (
	expectedOffHoursRatio = 0.25
	expectedWeekendRatio  = 2.0 / 7.0
)

// intervalEpsilon keeps the regularity ratio finite for zero-gap batches.
const intervalEpsilon = 1e-10

// Velocity-trend gates.
const (
	velocityMinEvents = 6
	velocityMinRates  = 3
	velocityQuarters  = 4
)

// scoreWeights weights the sigmoid-normalized feature vector.
var scoreWeights = [feature.TemporalDim]float64{
	0.20, // events_per_minute
	0.25, // baseline_ratio
	0.30, // burst_intensity
	0.10, // regularity
	0.25, // coordination
	0.15, // off_hours_intensity
	0.10, // weekend_excess
	0.15, // time_concentration
	0.20, // velocity_acceleration
}

// Detector scores event timing against expected activity patterns.
type Detector struct {
	baselines *BaselineProvider
}

// NewDetector builds a temporal detector. baselines may be nil; all events
// are then scored as if no baseline existed.
func NewDetector(baselines *BaselineProvider) *Detector {
	return &Detector{baselines: baselines}
}

// Detect scores the timing shape of a batch of events for one actor/repo.
// Batches with fewer than two usable timestamps carry no timing signal and
// score zero.
func (d *Detector) Detect(ctx context.Context, events []*event.Event) detect.Result {
	if len(events) == 0 {
		result := detect.Neutral()
		result.AnalysisType = AnalysisInsufficientData

		return result
	}

	sorted := make([]*event.Event, len(events))
	copy(sorted, events)
	slices.SortFunc(sorted, func(a, b *event.Event) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})

	if len(sorted) < 2 {
		result := detect.Neutral()
		result.AnalysisType = AnalysisInsufficientTimestamps
		result.Features = feature.NewVector(feature.TemporalDim)

		return result
	}

	baselineRate, haveBaseline := 0.0, false
	if d.baselines != nil {
		baselineRate, haveBaseline = d.baselines.Rate(ctx, sorted[0].Actor.Login, sorted[0].Repo.Name)
	}

	feat := extractFeatures(sorted, baselineRate, haveBaseline)
	patterns := detectPatterns(sorted)

	var tags []string
	if !haveBaseline {
		tags = append(tags, TagNoBaseline)
	}

	return detect.Result{
		Score:        score(feat, patterns),
		Confidence:   stats.Clamp(float64(len(sorted))/20, 0.3, 1),
		AnalysisType: detect.AnalysisStatistical,
		Anomalies:    patterns,
		Features:     feat,
		Tags:         tags,
	}
}

func extractFeatures(sorted []*event.Event, baselineRate float64, haveBaseline bool) feature.Vector {
	v := feature.NewVector(feature.TemporalDim)

	spanMinutes := max(sorted[len(sorted)-1].CreatedAt.Sub(sorted[0].CreatedAt).Minutes(), 1.0)
	perMinute := float64(len(sorted)) / spanMinutes

	v[feature.TemporalEventsPerMinute] = perMinute

	if haveBaseline && baselineRate > 0 {
		perHour := perMinute * 60
		v[feature.TemporalBaselineRatio] = perHour / baselineRate
	} else {
		// No baseline: the ratio carries no signal, so it is pinned neutral
		// and the result is tagged no_baseline.
		v[feature.TemporalBaselineRatio] = 1.0
	}

	intervals := intervalsMinutes(sorted)

	v[feature.TemporalBurstIntensity] = burstIntensity(sorted)
	v[feature.TemporalRegularity] = regularity(intervals)
	v[feature.TemporalCoordination] = coordination(sorted)
	v[feature.TemporalOffHoursIntensity] = offHoursIntensity(sorted)
	v[feature.TemporalWeekendExcess] = weekendExcess(sorted)
	v[feature.TemporalTimeConcentration] = timeConcentration(sorted, intervals)
	v[feature.TemporalVelocityAccel] = velocityAcceleration(sorted)

	return v
}

func intervalsMinutes(sorted []*event.Event) []float64 {
	if len(sorted) < 2 {
		return nil
	}

	out := make([]float64, 0, len(sorted)-1)
	for i := 1; i < len(sorted); i++ {
		out = append(out, sorted[i].CreatedAt.Sub(sorted[i-1].CreatedAt).Minutes())
	}

	return out
}

// windowCount returns the number of events within the window starting at
// index i, inclusive of the start event.
func windowCount(sorted []*event.Event, i int, window time.Duration) int {
	count := 1

	for j := i + 1; j < len(sorted); j++ {
		if sorted[j].CreatedAt.Sub(sorted[i].CreatedAt) > window {
			break
		}

		count++
	}

	return count
}

// burstIntensity slides a 5-minute window and keeps the strongest burst:
// intensity is the window rate over the 5-event threshold, halved and
// capped at 2, then clamped to [0, 1] as a feature.
func burstIntensity(sorted []*event.Event) float64 {
	var maxIntensity float64

	for i := range sorted {
		count := windowCount(sorted, i, burstWindow)
		if count < burstMinEvents {
			continue
		}

		perMinute := float64(count) / burstWindow.Minutes()

		intensity := min(perMinute/2, 2.0)
		if intensity > maxIntensity {
			maxIntensity = intensity
		}
	}

	return min(maxIntensity, 1)
}

// regularity is the coefficient of variation of inter-event gaps. Low values
// mean machine-like regular timing; high values mean erratic spacing.
func regularity(intervals []float64) float64 {
	if len(intervals) < 2 {
		return 0
	}

	mean, stddev := stats.MeanStdDev(intervals)

	return stddev / (mean + intervalEpsilon)
}

// coordination slides a 15-minute window and scores windows holding at least
// three events from at least three distinct actors. Batches with fewer than
// two unique actors cannot be coordinated.
func coordination(sorted []*event.Event) float64 {
	unique := map[string]struct{}{}
	for _, ev := range sorted {
		unique[ev.Actor.Login] = struct{}{}
	}

	if len(unique) < 2 {
		return 0
	}

	var best float64

	for i := range sorted {
		actors := map[string]struct{}{sorted[i].Actor.Login: {}}
		count := 1

		for j := i + 1; j < len(sorted); j++ {
			if sorted[j].CreatedAt.Sub(sorted[i].CreatedAt) > coordWindow {
				break
			}

			actors[sorted[j].Actor.Login] = struct{}{}
			count++
		}

		if count < coordMinEvents || len(actors) < coordMinActors {
			continue
		}

		score := min(float64(len(actors))/10*float64(count)/20, 1)
		if score > best {
			best = score
		}
	}

	return best
}

// offHoursWindow matches GMT hours 02:00-08:00 and 14:00-16:00 inclusive,
// the quiet bands observed across the public event firehose.
func offHoursWindow(t time.Time) bool {
	h := t.UTC().Hour()

	return (h >= 2 && h <= 8) || (h >= 14 && h <= 16)
}

// offHoursIntensity measures how far the batch's off-hours share exceeds the
// expected background share, capped at one full excess.
func offHoursIntensity(sorted []*event.Event) float64 {
	var off float64

	for _, ev := range sorted {
		if offHoursWindow(ev.CreatedAt) {
			off++
		}
	}

	ratio := off / float64(len(sorted))
	if ratio <= expectedOffHoursRatio {
		return 0
	}

	return min(ratio/expectedOffHoursRatio, 2.0) - 1
}

// weekendExcess measures weekend share above the 2-in-7 background rate,
// normalized by that rate.
func weekendExcess(sorted []*event.Event) float64 {
	var weekend float64

	for _, ev := range sorted {
		day := ev.CreatedAt.UTC().Weekday()
		if day == time.Saturday || day == time.Sunday {
			weekend++
		}
	}

	ratio := weekend / float64(len(sorted))

	return max(ratio-expectedWeekendRatio, 0) / expectedWeekendRatio
}

// timeConcentration maps the gap CV onto (0, 1]: tightly clustered events
// approach 1, evenly spread events approach 0.
func timeConcentration(sorted []*event.Event, intervals []float64) float64 {
	if len(sorted) < 3 {
		return 0
	}

	mean, stddev := stats.MeanStdDev(intervals)
	cv := stddev / (mean + intervalEpsilon)

	return 1 / (1 + cv)
}

// velocityAcceleration splits the batch into four equal quarters, fits a
// linear trend over the per-quarter rates and returns the normalized slope
// weighted by fit quality.
func velocityAcceleration(sorted []*event.Event) float64 {
	if len(sorted) < velocityMinEvents {
		return 0
	}

	quarterSize := len(sorted) / velocityQuarters

	xs := make([]float64, 0, velocityQuarters)
	ys := make([]float64, 0, velocityQuarters)

	for q := range velocityQuarters {
		start := q * quarterSize
		end := start + quarterSize

		if q == velocityQuarters-1 {
			end = len(sorted)
		}

		quarter := sorted[start:end]
		if len(quarter) < 2 {
			continue
		}

		spanMinutes := max(quarter[len(quarter)-1].CreatedAt.Sub(quarter[0].CreatedAt).Minutes(), 1.0)

		xs = append(xs, float64(q))
		ys = append(ys, float64(len(quarter))/spanMinutes)
	}

	if len(ys) < velocityMinRates {
		return 0
	}

	_, stddev := stats.MeanStdDev(ys)
	if stddev == 0 {
		return 0
	}

	slope, _, r := stats.LinearRegression(xs, ys)

	mean := stats.Mean(ys)
	if mean == 0 {
		return 0
	}

	return stats.Clamp(slope/mean*math.Abs(r), 0, 1)
}

// detectPatterns runs the sliding-window and distribution checks.
func detectPatterns(sorted []*event.Event) []detect.Anomaly {
	var patterns []detect.Anomaly

	if a := detectBurst(sorted); a != nil {
		patterns = append(patterns, *a)
	}

	if a := detectCoordination(sorted); a != nil {
		patterns = append(patterns, *a)
	}

	if a := detectUnusualTiming(sorted); a != nil {
		patterns = append(patterns, *a)
	}

	if a := detectSustained(sorted); a != nil {
		patterns = append(patterns, *a)
	}

	return patterns
}

// detectBurst reports the first 5-minute window holding burstMinEvents or
// more events.
func detectBurst(sorted []*event.Event) *detect.Anomaly {
	for i := range sorted {
		count := windowCount(sorted, i, burstWindow)
		if count < burstMinEvents {
			continue
		}

		perMinute := float64(count) / burstWindow.Minutes()

		return &detect.Anomaly{
			Type:        PatternActivityBurst,
			Severity:    min(perMinute/2, 1),
			Description: fmt.Sprintf("%d events within %s", count, burstWindow),
			Details: map[string]any{
				"event_count":       count,
				"events_per_minute": perMinute,
			},
		}
	}

	return nil
}

// detectCoordination reports the first 15-minute window with coordMinActors
// distinct actors across at least coordMinEvents events.
func detectCoordination(sorted []*event.Event) *detect.Anomaly {
	for i := range sorted {
		actors := map[string]struct{}{sorted[i].Actor.Login: {}}
		count := 1

		for j := i + 1; j < len(sorted); j++ {
			if sorted[j].CreatedAt.Sub(sorted[i].CreatedAt) > coordWindow {
				break
			}

			actors[sorted[j].Actor.Login] = struct{}{}
			count++
		}

		if count < coordMinEvents || len(actors) < coordMinActors {
			continue
		}

		return &detect.Anomaly{
			Type:        PatternCoordinated,
			Severity:    min(float64(len(actors))/10, 1),
			Description: fmt.Sprintf("%d distinct actors within %s", len(actors), coordWindow),
			Details: map[string]any{
				"actors":      len(actors),
				"event_count": count,
			},
		}
	}

	return nil
}

// detectUnusualTiming runs a chi-square test of the hour histogram against
// the uniform distribution.
func detectUnusualTiming(sorted []*event.Event) *detect.Anomaly {
	if len(sorted) < timingMinEvents {
		return nil
	}

	observed := make([]float64, 24)
	for _, ev := range sorted {
		observed[ev.CreatedAt.UTC().Hour()]++
	}

	expected := make([]float64, 24)
	for i := range expected {
		expected[i] = float64(len(sorted)) / 24
	}

	statistic, p := stats.ChiSquareGoodnessOfFit(observed, expected)
	if p >= timingPValue {
		return nil
	}

	return &detect.Anomaly{
		Type:        PatternUnusualTiming,
		Severity:    min(1-p, 1),
		Description: "hour-of-day distribution departs from expectation",
		Details:     map[string]any{"chi_square": statistic, "p_value": p},
	}
}

// detectSustained reports the first one-hour window holding sustainedMinRate
// or more events. Small batches cannot sustain and are skipped outright.
func detectSustained(sorted []*event.Event) *detect.Anomaly {
	if len(sorted) < sustainedMinEvents {
		return nil
	}

	for i := range sorted {
		count := windowCount(sorted, i, sustainedWindow)
		if count < sustainedMinRate {
			continue
		}

		return &detect.Anomaly{
			Type:        PatternSustainedHigh,
			Severity:    min(float64(count)/60, 1),
			Description: fmt.Sprintf("%d events sustained within one hour", count),
			Details:     map[string]any{"event_count": count},
		}
	}

	return nil
}

// score sigmoid-normalizes each feature, takes the weighted dot product and
// adds the capped mean pattern severity.
func score(feat feature.Vector, patterns []detect.Anomaly) float64 {
	var base float64
	for i, w := range scoreWeights {
		base += w * stats.Sigmoid(sigmoidSlope*feat[i])
	}

	var boost float64

	if len(patterns) > 0 {
		var total float64
		for _, p := range patterns {
			total += p.Severity
		}

		boost = min(patternBoostFactor*total/float64(len(patterns)), patternBoostCap)
	}

	return stats.Clamp(base+boost, 0, 1)
}
