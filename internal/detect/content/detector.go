package content

import (
	"fmt"

	"github.com/Sumatoshi-tech/octofang/internal/detect"
	"github.com/Sumatoshi-tech/octofang/internal/event"
	"github.com/Sumatoshi-tech/octofang/internal/feature"
	"github.com/Sumatoshi-tech/octofang/pkg/alg/stats"
)

// Anomaly type names emitted by this detector.
const (
	AnomalySecretExposure = "secret_exposure"
	AnomalySuspiciousFile = "suspicious_file"
	AnomalyMassDeletion   = "mass_deletion_content"
)

// maxDiffSize skips patch scanning for oversized diffs.
const maxDiffSize = 50000

// largeFileThreshold marks a single file change as unusually large.
const largeFileThreshold = 10000

// Risk shaping constants.
const (
	sigmoidSlope        = 0.5
	severityBoostFactor = 0.3
	diversityBoostUnit  = 0.1
	diversityBoostCap   = 0.3
)

// riskWeights weights the content feature vector inside the sigmoid.
var riskWeights = [feature.ContentDim]float64{
	0.25, // secret_count
	0.35, // high_severity_secrets
	0.08, // suspicious_files
	0.18, // credential_files
	0.25, // key_files
	0.20, // large_file_changes
	0.05, // binary_files
	0.12, // deletion_ratio
	0.30, // mean_secret_severity
}

// FileChange is one changed file provided by commit enrichment.
type FileChange struct {
	Name      string
	Status    string
	Additions int
	Deletions int
	Patch     string
}

// CommitContent is the enrichment payload for one commit.
type CommitContent struct {
	SHA     string
	Message string
	Files   []FileChange
}

// Detector scans event content for exposed secrets and destructive shapes.
type Detector struct{}

// NewDetector builds a content detector.
func NewDetector() *Detector {
	return &Detector{}
}

// Detect scans commit messages from the events plus any enrichment commits
// (keyed by SHA). Enrichment is optional: without it only message-level and
// payload-level signals fire.
func (d *Detector) Detect(events []*event.Event, commits map[string]*CommitContent) detect.Result {
	if len(events) == 0 {
		return detect.Neutral()
	}

	scan := d.scan(events, commits)
	feat := scan.features()
	anomalies := scan.anomalies()

	return detect.Result{
		Score:        riskScore(feat, scan),
		Confidence:   scanConfidence(commits),
		AnalysisType: detect.AnalysisStatistical,
		Anomalies:    anomalies,
		Features:     feat,
	}
}

// scanState accumulates evidence across the batch.
type scanState struct {
	hits            []SecretHit
	patternTypes    map[string]struct{}
	suspiciousFiles []string
	maxSuspicion    float64
	credentialFiles int
	keyFiles        int
	totalFiles      int
	binaryFiles     int
	largeFiles      int
	additions       int
	deletions       int
}

func (d *Detector) scan(events []*event.Event, commits map[string]*CommitContent) *scanState {
	st := &scanState{patternTypes: map[string]struct{}{}}

	for _, ev := range events {
		if ev.Push == nil {
			continue
		}

		for _, c := range ev.Push.Commits {
			st.addHits(ScanText(c.Message, "commit_message", c.SHA))

			enriched, ok := commits[c.SHA]
			if !ok {
				continue
			}

			d.scanCommit(st, enriched)
		}
	}

	return st
}

func (d *Detector) scanCommit(st *scanState, commit *CommitContent) {
	for _, file := range commit.Files {
		st.totalFiles++
		st.additions += file.Additions
		st.deletions += file.Deletions

		if file.Additions+file.Deletions > largeFileThreshold {
			st.largeFiles++
		}

		if IsBinaryFile(file.Name) {
			st.binaryFiles++
		}

		if category, suspicion := ClassifyFile(file.Name); suspicion > 0 {
			st.suspiciousFiles = append(st.suspiciousFiles, file.Name+" ("+category+")")

			switch category {
			case "credentials":
				st.credentialFiles++
			case "keys":
				st.keyFiles++
			}

			if suspicion > st.maxSuspicion {
				st.maxSuspicion = suspicion
			}
		}

		// Oversized diffs are skipped, not scanned partially.
		if file.Patch != "" && len(file.Patch) < maxDiffSize {
			st.addHits(ScanText(file.Patch, file.Name, commit.SHA))
		}
	}
}

func (st *scanState) addHits(hits []SecretHit) {
	st.hits = append(st.hits, hits...)

	for _, h := range hits {
		st.patternTypes[h.Pattern] = struct{}{}
	}
}

func (st *scanState) maxSeverity() float64 {
	var maxSev float64

	for _, h := range st.hits {
		if h.Severity > maxSev {
			maxSev = h.Severity
		}
	}

	return maxSev
}

// highSeverityHitThreshold marks a secret hit as high severity.
const highSeverityHitThreshold = 0.8

func (st *scanState) highSeverityHits() int {
	var n int

	for _, h := range st.hits {
		if h.Severity >= highSeverityHitThreshold {
			n++
		}
	}

	return n
}

func (st *scanState) meanSeverity() float64 {
	if len(st.hits) == 0 {
		return 0
	}

	var total float64
	for _, h := range st.hits {
		total += h.Severity
	}

	return total / float64(len(st.hits))
}

func (st *scanState) features() feature.Vector {
	v := feature.NewVector(feature.ContentDim)

	v[feature.ContentSecretCount] = float64(len(st.hits))
	v[feature.ContentHighSeveritySecrets] = float64(st.highSeverityHits())
	v[feature.ContentSuspiciousFiles] = float64(len(st.suspiciousFiles))
	v[feature.ContentCredentialFiles] = float64(st.credentialFiles)
	v[feature.ContentKeyFiles] = float64(st.keyFiles)
	v[feature.ContentLargeFileChanges] = float64(st.largeFiles)
	v[feature.ContentBinaryFiles] = float64(st.binaryFiles)
	v[feature.ContentMeanSecretSeverity] = st.meanSeverity()

	switch {
	case st.additions > 0:
		v[feature.ContentDeletionRatio] = float64(st.deletions) / float64(st.additions)
	case st.deletions > 0:
		v[feature.ContentDeletionRatio] = 1.0
	}

	return v
}

func (st *scanState) anomalies() []detect.Anomaly {
	var anomalies []detect.Anomaly

	for _, hit := range st.hits {
		anomalies = append(anomalies, detect.Anomaly{
			Type:        AnomalySecretExposure,
			Severity:    hit.Severity,
			Description: fmt.Sprintf("%s detected in %s", hit.Pattern, hit.Location),
			Details: map[string]any{
				"pattern": hit.Pattern,
				"preview": hit.Preview,
				"span":    []int{hit.Start, hit.End},
				"commit":  hit.CommitSHA,
			},
		})
	}

	for _, name := range st.suspiciousFiles {
		anomalies = append(anomalies, detect.Anomaly{
			Type:        AnomalySuspiciousFile,
			Severity:    st.maxSuspicion,
			Description: "sensitive file in change set: " + name,
		})
	}

	if st.additions+st.deletions > 0 {
		ratio := float64(st.deletions) / float64(st.additions+st.deletions)
		if ratio > 0.8 && st.deletions > 100 {
			anomalies = append(anomalies, detect.Anomaly{
				Type:        AnomalyMassDeletion,
				Severity:    stats.Clamp(ratio, 0, 1),
				Description: fmt.Sprintf("change set removes %d lines (%.0f%% deletions)", st.deletions, ratio*100),
			})
		}
	}

	return anomalies
}

// riskScore sigmoid-normalizes each feature, takes the weighted dot product
// and adds the max-severity and pattern-diversity boosts.
func riskScore(feat feature.Vector, st *scanState) float64 {
	var base float64
	for i, w := range riskWeights {
		base += w * stats.Sigmoid(sigmoidSlope*feat[i])
	}

	boost := severityBoostFactor * st.maxSeverity()
	boost += min(diversityBoostUnit*float64(len(st.patternTypes)), diversityBoostCap)

	return stats.Clamp(base+boost, 0, 1)
}

// scanConfidence is higher when commit enrichment was available.
func scanConfidence(commits map[string]*CommitContent) float64 {
	if len(commits) > 0 {
		return 0.9
	}

	return 0.6
}
