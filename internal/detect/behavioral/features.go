// Package behavioral detects deviations from a user's established activity
// patterns. With enough profiled history it runs per-feature z-score checks
// and a multivariate Mahalanobis check; for new users it falls back to
// threshold heuristics over the raw feature vector.
package behavioral

import (
	"slices"
	"time"

	"github.com/Sumatoshi-tech/octofang/internal/event"
	"github.com/Sumatoshi-tech/octofang/internal/feature"
	"github.com/Sumatoshi-tech/octofang/pkg/alg/stats"
)

// minTimeSpanHours floors the observation window so rate features stay finite.
const minTimeSpanHours = 1.0

// burstIntervalMinutes is the gap below which consecutive events count
// toward a burst run.
const burstIntervalMinutes = 5.0

// burstRunLength is the minimum run of short gaps that counts as one burst.
const burstRunLength = 3

// IsOffHoursGMT reports whether t falls in the low-activity GMT windows
// observed across the public event firehose. Both windows are inclusive:
// hours 2 through 10 and 14 through 18.
func IsOffHoursGMT(t time.Time) bool {
	h := t.UTC().Hour()

	return (h >= 2 && h <= 10) || (h >= 14 && h <= 18)
}

// ExtractFeatures computes the 10-dimension behavioral feature vector from a
// user's recent events. The slice must be non-empty; events are sorted by
// timestamp internally.
func ExtractFeatures(events []*event.Event) feature.Vector {
	v := feature.NewVector(feature.BehavioralDim)
	if len(events) == 0 {
		return v
	}

	sorted := make([]*event.Event, len(events))
	copy(sorted, events)
	slices.SortFunc(sorted, func(a, b *event.Event) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})

	spanHours := sorted[len(sorted)-1].CreatedAt.Sub(sorted[0].CreatedAt).Hours()
	spanHours = max(spanHours, minTimeSpanHours)

	intervals := intervalsMinutes(sorted)

	v[feature.BehavioralEventsPerHour] = float64(len(sorted)) / spanHours
	v[feature.BehavioralRepoDiversity] = repoDiversity(sorted)
	v[feature.BehavioralAvgIntervalMin] = stats.Mean(intervals)
	v[feature.BehavioralAvgCommitMsgLen] = avgCommitMessageLen(sorted)
	v[feature.BehavioralAvgFilesPerCommit] = avgFilesPerCommit(sorted)
	v[feature.BehavioralBurstScore] = burstScore(intervals)
	v[feature.BehavioralTimeSpanHours] = spanHours
	v[feature.BehavioralTypeEntropy] = typeEntropy(sorted)
	v[feature.BehavioralWeekendRatio] = weekendRatio(sorted)
	v[feature.BehavioralOffHoursRatio] = offHoursRatio(sorted)

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

func repoDiversity(events []*event.Event) float64 {
	repos := make(map[string]struct{}, len(events))

	for _, ev := range events {
		repos[ev.Repo.Name] = struct{}{}
	}

	return float64(len(repos)) / float64(len(events))
}

func avgCommitMessageLen(events []*event.Event) float64 {
	var total, count float64

	for _, ev := range events {
		if ev.Push == nil {
			continue
		}

		for _, c := range ev.Push.Commits {
			total += float64(len(c.Message))
			count++
		}
	}

	if count == 0 {
		return 0
	}

	return total / count
}

// avgFilesPerCommit averages push sizes; the events API does not carry
// per-commit file lists, so payload size is the closest proxy.
func avgFilesPerCommit(events []*event.Event) float64 {
	var total, count float64

	for _, ev := range events {
		if ev.Push == nil {
			continue
		}

		total += float64(ev.Push.Size)
		count++
	}

	if count == 0 {
		return 0
	}

	return total / count
}

// burstScore counts runs of burstRunLength or more sub-5-minute gaps and
// normalizes by the number of such runs the interval sequence could hold.
func burstScore(intervals []float64) float64 {
	if len(intervals) == 0 {
		return 0
	}

	bursts := 0
	run := 0

	for _, gap := range intervals {
		if gap < burstIntervalMinutes {
			run++

			continue
		}

		if run >= burstRunLength {
			bursts++
		}

		run = 0
	}

	if run >= burstRunLength {
		bursts++
	}

	capacity := max(len(intervals)/burstRunLength, 1)

	return float64(bursts) / float64(capacity)
}

func typeEntropy(events []*event.Event) float64 {
	counts := map[string]float64{}

	for _, ev := range events {
		counts[ev.Type]++
	}

	values := make([]float64, 0, len(counts))
	for _, c := range counts {
		values = append(values, c)
	}

	return stats.NormalizedEntropy(values)
}

func weekendRatio(events []*event.Event) float64 {
	var weekend float64

	for _, ev := range events {
		day := ev.CreatedAt.UTC().Weekday()
		if day == time.Saturday || day == time.Sunday {
			weekend++
		}
	}

	return weekend / float64(len(events))
}

func offHoursRatio(events []*event.Event) float64 {
	var offHours float64

	for _, ev := range events {
		if IsOffHoursGMT(ev.CreatedAt) {
			offHours++
		}
	}

	return offHours / float64(len(events))
}
