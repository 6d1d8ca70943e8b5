package severity

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/Sumatoshi-tech/octofang/internal/detect"
	"github.com/Sumatoshi-tech/octofang/pkg/alg/stats"
)

// weightTolerance is the allowed deviation of the component weight sum from 1.
const weightTolerance = 0.01

// Context multiplier factors.
const (
	FactorProtectedBranch   = "protected_branch"
	FactorProductionRepo    = "production_repo"
	FactorHighPrivilegeUser = "high_privilege_user"
	FactorOffHoursLikely    = "off_hours_likely"
	FactorPublicRepo        = "public_repo"
)

// Urgency indicators.
const (
	UrgencySecretsExposed      = "secrets_exposed"
	UrgencyMassDeletion        = "mass_deletion"
	UrgencyCoordinatedAttack   = "coordinated_attack"
	UrgencyPrivilegeEscalation = "privilege_escalation"
	UrgencyForcePushMain       = "force_push_main"
	UrgencyBuildFailureCascade = "build_failure_cascade"
)

// defaultContextMultipliers maps present context factors to multipliers.
var defaultContextMultipliers = map[string]float64{
	FactorProtectedBranch:   1.5,
	FactorProductionRepo:    1.3,
	FactorHighPrivilegeUser: 1.2,
	FactorOffHoursLikely:    1.1,
	FactorPublicRepo:        1.1,
}

// defaultUrgencyFactors maps present urgency indicators to multipliers.
var defaultUrgencyFactors = map[string]float64{
	UrgencySecretsExposed:      1.8,
	UrgencyMassDeletion:        1.5,
	UrgencyCoordinatedAttack:   1.4,
	UrgencyPrivilegeEscalation: 1.3,
	UrgencyForcePushMain:       1.3,
	UrgencyBuildFailureCascade: 1.2,
}

// protectedRefMarkers trigger the protected_branch factor when present in
// the event ref.
var protectedRefMarkers = []string{"main", "master", "production", "prod"}

// productionRepoMarkers trigger the production_repo factor when present in
// the repository name.
var productionRepoMarkers = []string{"prod", "production", "live", "release"}

// mainBranchMarkers gate the force_push_main urgency indicator.
var mainBranchMarkers = []string{"main", "master"}

// Thresholds for volume-driven urgency indicators.
const (
	massDeletionCount       = 3
	coordinatedMinActors    = 3
	coordinatedMinRate      = 5.0
	buildFailureCascadeRuns = 3
)

// Weights are the per-detector contributions to the base score. They must
// sum to 1 within weightTolerance.
type Weights struct {
	Behavioral float64 `json:"behavioral" mapstructure:"behavioral"`
	Content    float64 `json:"content" mapstructure:"content"`
	Temporal   float64 `json:"temporal" mapstructure:"temporal"`
	Repository float64 `json:"repository" mapstructure:"repository"`
}

// DefaultWeights returns the standard detector weighting.
func DefaultWeights() Weights {
	return Weights{
		Behavioral: 0.25,
		Content:    0.35,
		Temporal:   0.20,
		Repository: 0.20,
	}
}

// Validate checks the weight-sum invariant.
func (w Weights) Validate() error {
	sum := w.Behavioral + w.Content + w.Temporal + w.Repository
	if math.Abs(sum-1) > weightTolerance {
		return fmt.Errorf("severity: component weights sum to %.4f, want 1.0 ± %.2f", sum, weightTolerance)
	}

	return nil
}

// SubScores are the four detector scores, each in [0, 1].
type SubScores struct {
	Behavioral float64 `json:"behavioral"`
	Content    float64 `json:"content"`
	Temporal   float64 `json:"temporal"`
	Repository float64 `json:"repository"`
}

// Context carries the event-level facts the engine inspects for context
// factors and urgency indicators.
type Context struct {
	Ref                 string
	RepoName            string
	PublicRepo          bool
	HighPrivilegeUser   bool
	Timestamp           time.Time
	IncidentType        string
	ContainsSecrets     bool
	DeletionCount       int
	UniqueActors        int
	EventsPerMinute     float64
	Coordinated         bool
	PermissionChanges   bool
	Forced              bool
	ConsecutiveFailures int
}

// ScoredEvent is the engine's output for one event, with every intermediate
// retained for auditability.
type ScoredEvent struct {
	EventID   string    `json:"event_id"`
	Actor     string    `json:"actor"`
	Repo      string    `json:"repo"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`

	SubScores       SubScores `json:"sub_scores"`
	Weights         Weights   `json:"weights"`
	BaseScore       float64   `json:"base_score"`
	ContextFactors  []string  `json:"context_factors,omitempty"`
	ContextMult     float64   `json:"context_multiplier"`
	UrgencyFlags    []string  `json:"urgency_indicators,omitempty"`
	UrgencyFactor   float64   `json:"urgency_factor"`
	FinalScore      float64   `json:"final_score"`
	Band            Band      `json:"band"`
	Confidence      float64   `json:"confidence"`
	RepoCriticality float64   `json:"repo_criticality"`

	Analyses map[string]detect.Result `json:"analyses,omitempty"`
	Summary  string                   `json:"summary,omitempty"`

	ProcessedAt time.Time `json:"processed_at"`
}

// Engine composes sub-scores into severities. Multiplier tables are fixed at
// construction; weight updates go through UpdateWeights so the sum invariant
// can never break at scoring time.
type Engine struct {
	weights            Weights
	contextMultipliers map[string]float64
	urgencyFactors     map[string]float64
	now                func() time.Time
}

// NewEngine builds an engine, rejecting invalid weights up front.
func NewEngine(weights Weights) (*Engine, error) {
	err := weights.Validate()
	if err != nil {
		return nil, err
	}

	return &Engine{
		weights:            weights,
		contextMultipliers: defaultContextMultipliers,
		urgencyFactors:     defaultUrgencyFactors,
		now:                time.Now,
	}, nil
}

// Weights returns the engine's current component weights.
func (e *Engine) Weights() Weights {
	return e.weights
}

// UpdateWeights replaces the component weights, validating the sum invariant.
func (e *Engine) UpdateWeights(weights Weights) error {
	err := weights.Validate()
	if err != nil {
		return err
	}

	e.weights = weights

	return nil
}

// Score produces a ScoredEvent skeleton from sub-scores and context. The
// caller fills in event identity and analysis payloads.
func (e *Engine) Score(sub SubScores, evCtx Context, confidence float64) ScoredEvent {
	sub = clampSubScores(sub)

	base := e.weights.Behavioral*sub.Behavioral +
		e.weights.Content*sub.Content +
		e.weights.Temporal*sub.Temporal +
		e.weights.Repository*sub.Repository

	factors := contextFactors(evCtx)
	contextMult := e.multiplierProduct(factors, e.contextMultipliers)

	indicators := urgencyIndicators(evCtx)
	urgencyFactor := e.multiplierProduct(indicators, e.urgencyFactors)

	final := min(base*contextMult*urgencyFactor, 1)

	return ScoredEvent{
		SubScores:      sub,
		Weights:        e.weights,
		BaseScore:      base,
		ContextFactors: factors,
		ContextMult:    contextMult,
		UrgencyFlags:   indicators,
		UrgencyFactor:  urgencyFactor,
		FinalScore:     final,
		Band:           BandFromScore(final),
		Confidence:     confidence,
		ProcessedAt:    e.now(),
	}
}

func clampSubScores(sub SubScores) SubScores {
	return SubScores{
		Behavioral: stats.Clamp(sub.Behavioral, 0, 1),
		Content:    stats.Clamp(sub.Content, 0, 1),
		Temporal:   stats.Clamp(sub.Temporal, 0, 1),
		Repository: stats.Clamp(sub.Repository, 0, 1),
	}
}

// multiplierProduct multiplies the values of the present factors. Each
// factor contributes once regardless of how often its evidence occurred.
func (e *Engine) multiplierProduct(present []string, table map[string]float64) float64 {
	product := 1.0

	for _, name := range present {
		if m, ok := table[name]; ok {
			product *= m
		}
	}

	return product
}

// contextFactors derives the present context factors from the event facts.
func contextFactors(evCtx Context) []string {
	var factors []string

	if containsAnyFold(evCtx.Ref, protectedRefMarkers) {
		factors = append(factors, FactorProtectedBranch)
	}

	if containsAnyFold(evCtx.RepoName, productionRepoMarkers) {
		factors = append(factors, FactorProductionRepo)
	}

	if evCtx.HighPrivilegeUser {
		factors = append(factors, FactorHighPrivilegeUser)
	}

	if IsLikelyOffHours(evCtx.Timestamp) {
		factors = append(factors, FactorOffHoursLikely)
	}

	if evCtx.PublicRepo {
		factors = append(factors, FactorPublicRepo)
	}

	sort.Strings(factors)

	return factors
}

// urgencyIndicators derives the present urgency indicators.
func urgencyIndicators(evCtx Context) []string {
	var indicators []string

	if evCtx.ContainsSecrets || evCtx.IncidentType == "secret_exposure" {
		indicators = append(indicators, UrgencySecretsExposed)
	}

	if evCtx.DeletionCount >= massDeletionCount || evCtx.IncidentType == "mass_deletion" {
		indicators = append(indicators, UrgencyMassDeletion)
	}

	coordinated := evCtx.UniqueActors >= coordinatedMinActors && evCtx.EventsPerMinute > coordinatedMinRate
	if coordinated || evCtx.Coordinated {
		indicators = append(indicators, UrgencyCoordinatedAttack)
	}

	if evCtx.PermissionChanges || strings.Contains(strings.ToLower(evCtx.IncidentType), "privilege") {
		indicators = append(indicators, UrgencyPrivilegeEscalation)
	}

	if evCtx.Forced && containsAnyFold(evCtx.Ref, mainBranchMarkers) {
		indicators = append(indicators, UrgencyForcePushMain)
	}

	if evCtx.ConsecutiveFailures >= buildFailureCascadeRuns {
		indicators = append(indicators, UrgencyBuildFailureCascade)
	}

	sort.Strings(indicators)

	return indicators
}

// Off-hours GMT windows: quiet bands across the major development regions.
const (
	offHoursStart1 = 2
	offHoursEnd1   = 10
	offHoursStart2 = 14
	offHoursEnd2   = 18
)

// IsLikelyOffHours reports whether the GMT hour falls in a window that is
// off-hours for the bulk of US, European and Asian developers.
func IsLikelyOffHours(t time.Time) bool {
	h := t.UTC().Hour()

	return (h >= offHoursStart1 && h <= offHoursEnd1) || (h >= offHoursStart2 && h <= offHoursEnd2)
}

func containsAnyFold(s string, markers []string) bool {
	lower := strings.ToLower(s)

	for _, m := range markers {
		if strings.Contains(lower, m) {
			return true
		}
	}

	return false
}
