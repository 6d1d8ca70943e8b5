// Package summarize produces incident summaries for scored events with
// tiered cost control: high-severity incidents get a full model pass, lower
// tiers get smaller token budgets, and INFO never touches the API. Summaries
// are cached in Redis keyed by incident shape, so repeated incidents of the
// same kind reuse one generation.
package summarize

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/Sumatoshi-tech/octofang/internal/severity"
	"github.com/Sumatoshi-tech/octofang/internal/store"
)

// cacheKeyPrefix namespaces cached summaries.
const cacheKeyPrefix = "ai_summary:"

// modelTemperature keeps generations stable across retries.
const modelTemperature = 0.3

// smallModelTokenCeiling selects the small model for low-budget tiers.
const smallModelTokenCeiling = 200

// Tier is one processing level of the cost ladder.
type Tier struct {
	Name        string
	MaxTokens   int
	CacheTTL    time.Duration
	UseAI       bool
	FullContext bool
}

// tierFor maps a band to its processing tier.
func tierFor(band severity.Band) Tier {
	switch band {
	case severity.BandCritical, severity.BandHigh:
		return Tier{Name: "tier_1", MaxTokens: 500, CacheTTL: time.Hour, UseAI: true, FullContext: true}
	case severity.BandMedium:
		return Tier{Name: "tier_2", MaxTokens: 200, CacheTTL: 2 * time.Hour, UseAI: true}
	case severity.BandLow:
		return Tier{Name: "tier_3", MaxTokens: 50, CacheTTL: 4 * time.Hour, UseAI: true}
	default:
		return Tier{Name: "tier_4", CacheTTL: 24 * time.Hour}
	}
}

// Incident types used for template selection and cache grouping.
const (
	IncidentSecretExposure  = "secret_exposure"
	IncidentMassDeletion    = "mass_deletion"
	IncidentForcePush       = "force_push"
	IncidentWorkflowFailure = "workflow_failure"
	IncidentBurstyActivity  = "bursty_activity"
	IncidentAnomalous       = "anomalous_activity"
)

// Summary is the structured incident writeup.
type Summary struct {
	Title       string    `json:"title"`
	RootCause   []string  `json:"root_cause"`
	Impact      []string  `json:"impact"`
	NextSteps   []string  `json:"next_steps"`
	Urgency     string    `json:"urgency,omitempty"`
	Tier        string    `json:"tier"`
	CacheHit    bool      `json:"cache_hit"`
	GeneratedAt time.Time `json:"generated_at"`
}

// chatClient is the slice of the OpenAI client the summarizer uses,
// substitutable in tests.
type chatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Summarizer generates tiered summaries with Redis caching.
type Summarizer struct {
	store  *store.Store
	client chatClient
	logger *slog.Logger
	now    func() time.Time
}

// New builds a summarizer. An empty apiKey disables the model entirely;
// every tier then takes the rule-based path.
func New(st *store.Store, apiKey string, logger *slog.Logger) *Summarizer {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Summarizer{store: st, logger: logger, now: time.Now}

	if apiKey != "" {
		s.client = openai.NewClient(apiKey)
	}

	return s
}

// Summarize produces a summary for the scored event. Model failures degrade
// to the rule-based template; the method only errors on context
// cancellation.
func (s *Summarizer) Summarize(ctx context.Context, ev severity.ScoredEvent) (*Summary, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("summarize: %w", err)
	}

	tier := tierFor(ev.Band)
	incident := IncidentType(ev)
	key := s.cacheKey(ev, incident)

	if cached := s.cached(ctx, key); cached != nil {
		cached.CacheHit = true

		return cached, nil
	}

	var summary *Summary

	if tier.UseAI && s.client != nil {
		generated, err := s.modelSummary(ctx, ev, incident, tier)
		if err != nil {
			s.logger.Warn("model summary failed, falling back to rule-based",
				"incident", incident, "tier", tier.Name, "error", err)
		} else {
			summary = generated
		}
	}

	if summary == nil {
		summary = s.ruleBasedSummary(ev, incident)
	}

	summary.Tier = tier.Name
	summary.GeneratedAt = s.now()

	s.cache(ctx, key, summary, tier.CacheTTL)

	return summary, nil
}

// IncidentType classifies the scored event for template and cache grouping.
func IncidentType(ev severity.ScoredEvent) string {
	for _, flag := range ev.UrgencyFlags {
		switch flag {
		case severity.UrgencySecretsExposed:
			return IncidentSecretExposure
		case severity.UrgencyMassDeletion:
			return IncidentMassDeletion
		case severity.UrgencyForcePushMain:
			return IncidentForcePush
		case severity.UrgencyBuildFailureCascade:
			return IncidentWorkflowFailure
		case severity.UrgencyCoordinatedAttack:
			return IncidentBurstyActivity
		}
	}

	for _, result := range ev.Analyses {
		for _, anomaly := range result.Anomalies {
			switch anomaly.Type {
			case "force_push":
				return IncidentForcePush
			case "secret_exposure":
				return IncidentSecretExposure
			case "activity_burst", "sustained_high_activity":
				return IncidentBurstyActivity
			}
		}
	}

	return IncidentAnomalous
}

// cacheKey groups similar incidents: exact event identity is deliberately
// excluded so recurring incident shapes share one summary.
func (s *Summarizer) cacheKey(ev severity.ScoredEvent, incident string) string {
	branchType := "feature"
	if strings.Contains(strings.ToLower(ev.Repo), "main") || strings.Contains(strings.ToLower(ev.Repo), "master") {
		branchType = "main"
	}

	shape := fmt.Sprintf("%s|%s|%s|%s", incident, ev.Band, ev.Repo, branchType)
	digest := sha256.Sum256([]byte(shape))

	return cacheKeyPrefix + incident + ":" + string(ev.Band) + ":" + hex.EncodeToString(digest[:4])
}

func (s *Summarizer) cached(ctx context.Context, key string) *Summary {
	var summary Summary

	err := s.store.GetJSON(ctx, key, &summary)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.logger.Debug("summary cache read failed", "key", key, "error", err)
		}

		return nil
	}

	return &summary
}

func (s *Summarizer) cache(ctx context.Context, key string, summary *Summary, ttl time.Duration) {
	err := s.store.SetJSON(ctx, key, summary, ttl)
	if err != nil {
		s.logger.Debug("summary cache write failed", "key", key, "error", err)
	}
}

// modelSummary calls the chat API with a tier-scaled prompt and token budget.
func (s *Summarizer) modelSummary(ctx context.Context, ev severity.ScoredEvent, incident string, tier Tier) (*Summary, error) {
	model := openai.GPT4o
	if tier.MaxTokens <= smallModelTokenCeiling {
		model = openai.GPT4oMini
	}

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Temperature: modelTemperature,
		MaxTokens:   tier.MaxTokens,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{{
			Role:    openai.ChatMessageRoleUser,
			Content: buildPrompt(ev, incident, tier),
		}},
	})
	if err != nil {
		return nil, fmt.Errorf("summarize: chat completion: %w", err)
	}

	if len(resp.Choices) == 0 {
		return nil, errors.New("summarize: empty completion response")
	}

	var summary Summary

	err = json.Unmarshal([]byte(resp.Choices[0].Message.Content), &summary)
	if err != nil {
		return nil, fmt.Errorf("summarize: decode completion: %w", err)
	}

	return &summary, nil
}

// buildPrompt scales prompt detail with the tier's token budget.
func buildPrompt(ev severity.ScoredEvent, incident string, tier Tier) string {
	context := promptContext(ev, tier.FullContext)

	if tier.MaxTokens >= 400 {
		return fmt.Sprintf(`Analyze this GitHub security incident comprehensively.

Incident: %s
Severity: %.2f (%s)
Context: %s

Provide detailed JSON with:
- "title": Descriptive incident title (max 120 chars)
- "root_cause": Array of 4-6 detailed root cause points
- "impact": Array of 4-6 impact assessment points
- "next_steps": Array of 5-7 specific actionable steps

Focus on security implications, technical details, and response strategy.`,
			incident, ev.FinalScore, strings.ToUpper(string(ev.Band)), context)
	}

	if tier.MaxTokens >= 150 {
		return fmt.Sprintf(`Analyze this GitHub security incident.

Type: %s
Severity: %.2f
Key Context: %s

Provide JSON with:
- "title": Incident title (max 100 chars)
- "root_cause": Array of 3 key root causes
- "impact": Array of 3 main impacts
- "next_steps": Array of 4 immediate actions

Focus on essential security concerns and immediate response needs.`,
			incident, ev.FinalScore, context)
	}

	return fmt.Sprintf(`Briefly analyze: %s (severity: %.2f)

Context: %s

Provide concise JSON:
- "title": Brief title (max 80 chars)
- "root_cause": Array of 1-2 causes
- "next_steps": Array of 2 immediate actions`,
		incident, ev.FinalScore, truncate(context, 200))
}

// promptContext compresses the scored event into prompt material. The full
// variant includes anomaly details; the filtered variant keeps only the
// headline facts.
func promptContext(ev severity.ScoredEvent, full bool) string {
	fields := map[string]any{
		"repo":            ev.Repo,
		"actor":           ev.Actor,
		"event_type":      ev.EventType,
		"context_factors": ev.ContextFactors,
		"urgency":         ev.UrgencyFlags,
	}

	if full {
		fields["sub_scores"] = ev.SubScores

		var anomalies []string

		for name, result := range ev.Analyses {
			for _, a := range result.Anomalies {
				anomalies = append(anomalies, name+": "+a.Type)
			}
		}

		fields["anomalies"] = anomalies
	}

	encoded, err := json.Marshal(fields)
	if err != nil {
		return ev.Repo
	}

	return string(encoded)
}

// ruleBasedSummary fills a template per incident type; always available.
func (s *Summarizer) ruleBasedSummary(ev severity.ScoredEvent, incident string) *Summary {
	sev := ev.FinalScore
	repo := ev.Repo

	templates := map[string]*Summary{
		IncidentForcePush: {
			Title:     fmt.Sprintf("Force push detected on %s", repo),
			RootCause: []string{"Force push operation detected", fmt.Sprintf("Severity: %.2f", sev), "Potential history rewrite"},
			Impact:    []string{"Git history compromised", "Team sync issues", "CI/CD disruption"},
			NextSteps: []string{"Review forced commits", "Check backups", "Notify team", "Add branch protection"},
		},
		IncidentWorkflowFailure: {
			Title:     fmt.Sprintf("Multiple workflow failures in %s", repo),
			RootCause: []string{"CI/CD failures detected", fmt.Sprintf("Severity: %.2f", sev), "Systematic build issues"},
			Impact:    []string{"Deployment blocked", "Quality checks bypassed", "Security gaps"},
			NextSteps: []string{"Check failure logs", "Review recent commits", "Verify config", "Run security scans"},
		},
		IncidentSecretExposure: {
			Title:     fmt.Sprintf("Potential secret exposure in %s", repo),
			RootCause: []string{"Secret patterns detected", fmt.Sprintf("Severity: %.2f", sev), "Credential leak risk"},
			Impact:    []string{"Credential compromise", "Unauthorized access", "Data breach risk"},
			NextSteps: []string{"Rotate credentials", "Remove secrets", "Audit access", "Implement secret scanning"},
		},
		IncidentMassDeletion: {
			Title:     fmt.Sprintf("Mass deletion event in %s", repo),
			RootCause: []string{"Multiple deletions detected", fmt.Sprintf("Severity: %.2f", sev), "Data loss risk"},
			Impact:    []string{"Code/docs lost", "Project disruption", "Recovery needed"},
			NextSteps: []string{"Check deletions", "Verify backups", "Review actor", "Consider access revocation"},
		},
		IncidentBurstyActivity: {
			Title:     fmt.Sprintf("Anomalous activity burst in %s", repo),
			RootCause: []string{"Activity spike detected", fmt.Sprintf("Severity: %.2f", sev), "Automated/coordinated pattern"},
			Impact:    []string{"Potential attack", "Operations disrupted", "Audit trail flooded"},
			NextSteps: []string{"Review actor patterns", "Check API tokens", "Implement rate limits", "Audit changes"},
		},
	}

	summary, ok := templates[incident]
	if !ok {
		summary = &Summary{
			Title:     fmt.Sprintf("High entropy anomaly in %s", repo),
			RootCause: []string{"Unusual activity pattern", fmt.Sprintf("Severity: %.2f", sev), "Unknown threat type"},
			Impact:    []string{"Unknown impact", "Integrity unclear"},
			NextSteps: []string{"Manual analysis", "Pattern investigation", "Close monitoring", "Access restrictions"},
		}
	}

	summary.Urgency = urgencyLine(ev.Band)

	return summary
}

func urgencyLine(band severity.Band) string {
	switch band {
	case severity.BandCritical:
		return "CRITICAL - Immediate action required"
	case severity.BandHigh:
		return "HIGH - Review within 1 hour"
	case severity.BandMedium:
		return "MEDIUM - Review within 4 hours"
	default:
		return "LOW - Review within 24 hours"
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}

	return s[:n]
}
