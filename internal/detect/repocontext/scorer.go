// Package repocontext scores how critical a repository is as a target. The
// score feeds the severity engine as a multiplier: the same anomaly on a
// popular production repository ranks far above one on a throwaway fork.
// Metadata is fetched through the budgeted GitHub client and cached twice:
// an in-process LRU absorbs hot-path hits, Redis shares the result across
// processors.
package repocontext

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/Sumatoshi-tech/octofang/internal/detect"
	"github.com/Sumatoshi-tech/octofang/internal/feature"
	"github.com/Sumatoshi-tech/octofang/internal/github"
	"github.com/Sumatoshi-tech/octofang/internal/store"
	"github.com/Sumatoshi-tech/octofang/pkg/alg/lru"
	"github.com/Sumatoshi-tech/octofang/pkg/alg/stats"
)

// Cache key prefixes and TTLs. Keys use the owner:repo form (slash replaced).
const (
	contextKeyPrefix      = "repo_context_info:"
	contributorsKeyPrefix = "repo_contributors:"
	contextTTL            = 2 * time.Hour
	contributorsTTL       = time.Hour
)

// localCacheEntries bounds the in-process metadata cache.
const localCacheEntries = 2048

// contributorsPerFetch caps the contributors listing.
const contributorsPerFetch = 30

// fallbackCriticality is returned when metadata cannot be fetched.
const fallbackCriticality = 0.5

// Criticality multiplier tiers.
const (
	multiplierHighThreshold   = 0.8
	multiplierMediumThreshold = 0.6
	multiplierLowThreshold    = 0.4
)

// criticalityWeights weights the context feature vector; index 0 holds the
// computed criticality itself and carries no weight.
var criticalityWeights = [feature.ContextDim]float64{
	0, 0.25, 0.20, 0.15, 0.15, 0.10, 0.05, 0.05, 0.05,
}

// Qualitative boost values.
const (
	boostLanguage  = 0.1
	boostTopic     = 0.05
	boostOrg       = 0.1
	boostFamousOrg = 0.2
	boostRepoName  = 0.05
)

// High-value indicator sets.
var (
	highValueLanguages = map[string]struct{}{
		"python": {}, "javascript": {}, "typescript": {}, "java": {},
		"go": {}, "rust": {}, "c++": {},
	}
	highValueTopics = map[string]struct{}{
		"security": {}, "crypto": {}, "blockchain": {}, "api": {},
		"framework": {}, "library": {},
	}
	highValueNames = []string{"production", "prod", "api", "core", "main", "master", "infra"}
	famousOrgs     = map[string]struct{}{
		"microsoft": {}, "google": {}, "facebook": {}, "amazon": {},
		"apple": {}, "netflix": {},
	}
)

// Security feature weights for the posture score.
const (
	weightSecurityPolicy  = 0.3
	weightVulnAlerts      = 0.2
	weightBranchProtected = 0.3
	weightDepScanning     = 0.1
)

// scannedLanguages are ecosystems where dependency scanning is assumed.
var scannedLanguages = map[string]struct{}{
	"javascript": {}, "python": {}, "java": {}, "ruby": {}, "go": {},
}

// RepoContext is the cached repository metadata snapshot.
type RepoContext struct {
	FullName          string    `json:"full_name"`
	Stars             int       `json:"stars"`
	Forks             int       `json:"forks"`
	SizeKB            int       `json:"size_kb"`
	Language          string    `json:"language"`
	Topics            []string  `json:"topics"`
	OwnerLogin        string    `json:"owner_login"`
	OwnerType         string    `json:"owner_type"`
	Private           bool      `json:"private"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
	HasSecurityPolicy bool      `json:"has_security_policy"`
	FetchedAt         time.Time `json:"fetched_at"`
}

// ContributorStats is the cached contributors summary.
type ContributorStats struct {
	Count    int     `json:"count"`
	TopShare float64 `json:"top_share"`
}

// Assessment is the scorer's output for one repository.
type Assessment struct {
	Criticality  float64        `json:"criticality"`
	Multiplier   float64        `json:"multiplier"`
	AnalysisType string         `json:"analysis_type"`
	Features     feature.Vector `json:"features"`
	Context      *RepoContext   `json:"context,omitempty"`
}

// Scorer computes repository criticality with layered caching.
type Scorer struct {
	store  *store.Store
	client *github.Client
	logger *slog.Logger
	local  *lru.Cache[string, *RepoContext]
	now    func() time.Time
}

// NewScorer builds a scorer. client may be nil; every score then takes the
// fallback path.
func NewScorer(st *store.Store, client *github.Client, logger *slog.Logger) *Scorer {
	if logger == nil {
		logger = slog.Default()
	}

	return &Scorer{
		store:  st,
		client: client,
		logger: logger,
		local: lru.New(
			lru.WithMaxEntries[string, *RepoContext](localCacheEntries),
		),
		now: time.Now,
	}
}

// Score assesses one repository. recentEvents is the number of events for
// the repo in the current batch; it feeds the recent-activity feature.
// Fetch failures degrade to the fallback criticality rather than erroring.
func (s *Scorer) Score(ctx context.Context, repoName string, recentEvents int) Assessment {
	info, err := s.contextFor(ctx, repoName)
	if err != nil {
		s.logger.Warn("repo context unavailable, using fallback criticality",
			"repo", repoName, "error", err)

		return Assessment{
			Criticality:  fallbackCriticality,
			Multiplier:   Multiplier(fallbackCriticality),
			AnalysisType: detect.AnalysisFallback,
			Features:     feature.NewVector(feature.ContextDim),
		}
	}

	feat := s.extractFeatures(info, recentEvents)
	criticality := s.criticality(info, feat)
	feat[feature.ContextCriticality] = criticality

	return Assessment{
		Criticality:  criticality,
		Multiplier:   Multiplier(criticality),
		AnalysisType: detect.AnalysisStatistical,
		Features:     feat,
		Context:      info,
	}
}

// Multiplier maps a criticality score onto the severity multiplier tiers.
func Multiplier(criticality float64) float64 {
	switch {
	case criticality >= multiplierHighThreshold:
		return 1.5
	case criticality >= multiplierMediumThreshold:
		return 1.3
	case criticality >= multiplierLowThreshold:
		return 1.1
	default:
		return 1.0
	}
}

// contextFor resolves metadata through the cache layers: local LRU, then
// Redis, then the API.
func (s *Scorer) contextFor(ctx context.Context, repoName string) (*RepoContext, error) {
	if cached, ok := s.local.Get(repoName); ok {
		if s.now().Sub(cached.FetchedAt) < contextTTL {
			return cached, nil
		}
	}

	key := contextKeyPrefix + cacheKey(repoName)

	var cached RepoContext

	err := s.store.GetJSON(ctx, key, &cached)
	if err == nil {
		s.local.Put(repoName, &cached)

		return &cached, nil
	}

	if !errors.Is(err, store.ErrNotFound) {
		s.logger.Debug("repo context cache read failed", "repo", repoName, "error", err)
	}

	info, err := s.fetch(ctx, repoName)
	if err != nil {
		return nil, err
	}

	err = s.store.SetJSON(ctx, key, info, contextTTL)
	if err != nil {
		s.logger.Debug("repo context cache write failed", "repo", repoName, "error", err)
	}

	s.local.Put(repoName, info)

	return info, nil
}

func (s *Scorer) fetch(ctx context.Context, repoName string) (*RepoContext, error) {
	if s.client == nil {
		return nil, fmt.Errorf("repocontext: no client for %s", repoName)
	}

	owner, name, ok := strings.Cut(repoName, "/")
	if !ok {
		return nil, fmt.Errorf("repocontext: malformed repo name %q", repoName)
	}

	repo, err := s.client.GetRepo(ctx, owner, name)
	if err != nil {
		return nil, fmt.Errorf("repocontext: fetch %s: %w", repoName, err)
	}

	info := &RepoContext{
		FullName:   repo.FullName,
		Stars:      repo.Stars,
		Forks:      repo.Forks,
		SizeKB:     repo.SizeKB,
		Language:   repo.Language,
		Topics:     repo.Topics,
		OwnerLogin: repo.Owner.Login,
		OwnerType:  repo.Owner.Type,
		Private:    repo.Private,
		CreatedAt:  repo.CreatedAt,
		UpdatedAt:  repo.UpdatedAt,
		FetchedAt:  s.now(),
	}

	// Community profile is best-effort; many repos simply do not expose one.
	profile, err := s.client.GetCommunityProfile(ctx, owner, name)
	if err == nil {
		info.HasSecurityPolicy = profile.Files.Security != nil
	}

	return info, nil
}

// Contributors resolves the cached contributors summary, fetching on miss.
func (s *Scorer) Contributors(ctx context.Context, repoName string) (*ContributorStats, error) {
	key := contributorsKeyPrefix + cacheKey(repoName)

	var cached ContributorStats

	err := s.store.GetJSON(ctx, key, &cached)
	if err == nil {
		return &cached, nil
	}

	if s.client == nil {
		return nil, fmt.Errorf("repocontext: no client for %s contributors", repoName)
	}

	owner, name, ok := strings.Cut(repoName, "/")
	if !ok {
		return nil, fmt.Errorf("repocontext: malformed repo name %q", repoName)
	}

	contributors, err := s.client.ListContributors(ctx, owner, name, contributorsPerFetch)
	if err != nil {
		return nil, fmt.Errorf("repocontext: fetch %s contributors: %w", repoName, err)
	}

	statsOut := summarizeContributors(contributors)

	err = s.store.SetJSON(ctx, key, statsOut, contributorsTTL)
	if err != nil {
		s.logger.Debug("contributors cache write failed", "repo", repoName, "error", err)
	}

	return statsOut, nil
}

func summarizeContributors(contributors []github.Contributor) *ContributorStats {
	out := &ContributorStats{Count: len(contributors)}

	var total, top int

	for _, c := range contributors {
		total += c.Contributions
		if c.Contributions > top {
			top = c.Contributions
		}
	}

	if total > 0 {
		out.TopShare = float64(top) / float64(total)
	}

	return out
}

// extractFeatures builds the 9-D context vector; index 0 is filled with the
// criticality after the fact.
func (s *Scorer) extractFeatures(info *RepoContext, recentEvents int) feature.Vector {
	v := feature.NewVector(feature.ContextDim)

	v[feature.ContextStars] = min(math.Log10(float64(info.Stars)+1)/6, 1)
	v[feature.ContextForks] = min(math.Log10(float64(info.Forks)+1)/5, 1)

	// Contributor count is estimated from popularity; an exact count would
	// cost an extra API call per repo.
	estimated := min(float64(info.Forks)*0.1+float64(info.Stars)*0.01, 1000)
	v[feature.ContextContributors] = min(math.Log10(estimated+1)/3, 1)

	v[feature.ContextRecentActivity] = s.recentActivity(info, recentEvents)
	v[feature.ContextSecurityPosture] = securityPosture(info)
	v[feature.ContextBranchProtection] = branchProtectionEstimate(info)
	v[feature.ContextDependencyRisk] = dependencyRisk(info.SizeKB)
	v[feature.ContextMomentum] = s.momentum(info)

	return v
}

// recentActivity scores update recency in tiers, boosted by batch volume.
func (s *Scorer) recentActivity(info *RepoContext, recentEvents int) float64 {
	timeScore := 0.5

	if !info.UpdatedAt.IsZero() {
		days := s.now().Sub(info.UpdatedAt).Hours() / 24

		switch {
		case days <= 1:
			timeScore = 1.0
		case days <= 7:
			timeScore = 0.8
		case days <= 30:
			timeScore = 0.6
		case days <= 90:
			timeScore = 0.4
		default:
			timeScore = 0.2
		}
	}

	boost := min(float64(recentEvents)/10, 0.3)

	return min(timeScore+boost, 1)
}

func securityPosture(info *RepoContext) float64 {
	var score float64

	if info.HasSecurityPolicy {
		score += weightSecurityPolicy + weightVulnAlerts
	}

	if _, ok := scannedLanguages[strings.ToLower(info.Language)]; ok {
		score += weightDepScanning
	}

	return min(score, 1)
}

// branchProtectionEstimate infers protection likelihood from popularity and
// ownership; the API does not expose it without elevated scopes.
func branchProtectionEstimate(info *RepoContext) float64 {
	var score float64

	if info.Stars > 100 || info.Forks > 20 {
		score += 0.3
	}

	if info.Stars > 1000 || info.Forks > 100 {
		score += 0.3
	}

	if info.Stars > 10000 || info.Forks > 1000 {
		score += 0.4
	}

	if info.OwnerType == "Organization" {
		score += 0.2
	}

	return min(score, 1)
}

// dependencyRisk tiers repository size in KB: bigger trees carry bigger
// dependency surfaces.
func dependencyRisk(sizeKB int) float64 {
	switch {
	case sizeKB > 100_000:
		return 0.8
	case sizeKB > 10_000:
		return 0.6
	case sizeKB > 1_000:
		return 0.4
	default:
		return 0.2
	}
}

// momentum measures popularity accrual per year of repository age.
func (s *Scorer) momentum(info *RepoContext) float64 {
	if info.CreatedAt.IsZero() {
		return 0
	}

	ageYears := s.now().Sub(info.CreatedAt).Hours() / (24 * 365.25)
	if ageYears <= 0 {
		return 0
	}

	starsPerYear := float64(info.Stars) / ageYears
	forksPerYear := float64(info.Forks) / ageYears

	return min(starsPerYear/1000+forksPerYear/100, 1)
}

// criticality combines the weighted features with qualitative boosts.
func (s *Scorer) criticality(info *RepoContext, feat feature.Vector) float64 {
	var base float64
	for i, w := range criticalityWeights {
		base += w * feat[i]
	}

	var boost float64

	if _, ok := highValueLanguages[strings.ToLower(info.Language)]; ok {
		boost += boostLanguage
	}

	for _, topic := range info.Topics {
		if _, ok := highValueTopics[strings.ToLower(topic)]; ok {
			boost += boostTopic

			break
		}
	}

	if info.OwnerType == "Organization" {
		boost += boostOrg
	}

	if _, ok := famousOrgs[strings.ToLower(info.OwnerLogin)]; ok {
		boost += boostFamousOrg
	}

	_, name, _ := strings.Cut(info.FullName, "/")

	lowerName := strings.ToLower(name)
	for _, indicator := range highValueNames {
		if strings.Contains(lowerName, indicator) {
			boost += boostRepoName

			break
		}
	}

	return stats.Clamp(base+boost, 0, 1)
}

// cacheKey converts owner/repo to the owner:repo key form.
func cacheKey(repoName string) string {
	return strings.ReplaceAll(repoName, "/", ":")
}
