// Package stream orchestrates the detection pipeline. ProcessBatch fans a
// batch of events out into (actor, repo) groups, runs the four detectors in
// parallel per group, composes severities per event, then hands the scored
// events to the queue and the publisher. Profile updates are detached from
// the response path entirely.
package stream

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Sumatoshi-tech/octofang/internal/detect"
	"github.com/Sumatoshi-tech/octofang/internal/detect/behavioral"
	"github.com/Sumatoshi-tech/octofang/internal/detect/content"
	"github.com/Sumatoshi-tech/octofang/internal/detect/repocontext"
	"github.com/Sumatoshi-tech/octofang/internal/detect/temporal"
	"github.com/Sumatoshi-tech/octofang/internal/event"
	"github.com/Sumatoshi-tech/octofang/internal/feature"
	"github.com/Sumatoshi-tech/octofang/internal/observability"
	"github.com/Sumatoshi-tech/octofang/internal/profile"
	"github.com/Sumatoshi-tech/octofang/internal/publish"
	"github.com/Sumatoshi-tech/octofang/internal/queue"
	"github.com/Sumatoshi-tech/octofang/internal/severity"
	"github.com/Sumatoshi-tech/octofang/internal/summarize"
)

// Detector result keys on the ScoredEvent analyses map.
const (
	AnalysisBehavioral = "behavioral"
	AnalysisContent    = "content"
	AnalysisTemporal   = "temporal"
	AnalysisRepository = "repository"
)

// Defaults for the processor configuration.
const (
	DefaultBatchSize = 50
	DefaultDeadline  = 2 * time.Second
	DefaultWorkers   = 4
)

// statsResetInterval rolls the processing counters daily.
const statsResetInterval = 24 * time.Hour

// Config tunes the processor.
type Config struct {
	// BatchSize caps how many events one ingest cycle dequeues.
	BatchSize int

	// Deadline is the soft per-batch budget; overshooting detectors are
	// cancelled and contribute their neutral default.
	Deadline time.Duration

	// Workers bounds concurrent group processing within one batch.
	Workers int
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}

	if c.Deadline <= 0 {
		c.Deadline = DefaultDeadline
	}

	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}

	return c
}

// Processor wires the detectors, scorers and sinks together.
type Processor struct {
	cfg        Config
	behavioral *behavioral.Detector
	content    *content.Detector
	temporal   *temporal.Detector
	contextual *repocontext.Scorer
	engine     *severity.Engine
	users      *profile.UserManager
	repos      *profile.RepoManager
	queue      *queue.Queue
	publisher  *publish.Publisher
	summarizer *summarize.Summarizer
	metrics    *observability.PipelineMetrics
	logger     *slog.Logger

	stats      Stats
	statsMu    sync.Mutex
	background sync.WaitGroup
	now        func() time.Time
}

// Deps bundles the processor's collaborators. Queue, publisher, summarizer
// and metrics are optional; absent sinks are skipped.
type Deps struct {
	Behavioral *behavioral.Detector
	Content    *content.Detector
	Temporal   *temporal.Detector
	Contextual *repocontext.Scorer
	Engine     *severity.Engine
	Users      *profile.UserManager
	Repos      *profile.RepoManager
	Queue      *queue.Queue
	Publisher  *publish.Publisher
	Summarizer *summarize.Summarizer
	Metrics    *observability.PipelineMetrics
	Logger     *slog.Logger
}

// New builds a processor.
func New(cfg Config, deps Deps) (*Processor, error) {
	if deps.Engine == nil {
		return nil, errors.New("stream: severity engine is required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Processor{
		cfg:        cfg.withDefaults(),
		behavioral: deps.Behavioral,
		content:    deps.Content,
		temporal:   deps.Temporal,
		contextual: deps.Contextual,
		engine:     deps.Engine,
		users:      deps.Users,
		repos:      deps.Repos,
		queue:      deps.Queue,
		publisher:  deps.Publisher,
		summarizer: deps.Summarizer,
		metrics:    deps.Metrics,
		logger:     logger,
		now:        time.Now,
		stats:      Stats{LastReset: time.Now()},
	}, nil
}

// groupResults carries the fan-in of one group's detector runs.
type groupResults struct {
	behavioral detect.Result
	content    detect.Result
	temporal   detect.Result
	contexts   map[string]repocontext.Assessment
	baseline   *profile.UserBaseline
}

// ProcessBatch scores a batch of events. Malformed events are dropped with
// a warning; detector failures degrade to neutral defaults. The returned
// slice carries no ordering guarantee.
func (p *Processor) ProcessBatch(ctx context.Context, events []*event.Event) []severity.ScoredEvent {
	started := p.now()

	events = p.dropMalformed(events)
	if len(events) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Deadline)
	defer cancel()

	groups := groupEvents(events)

	var (
		mu     sync.Mutex
		scored []severity.ScoredEvent
	)

	g, groupCtx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Workers)

	for _, group := range groups {
		g.Go(func() error {
			results := p.processGroup(groupCtx, group)

			mu.Lock()
			scored = append(scored, results...)
			mu.Unlock()

			return nil
		})
	}

	// Group goroutines never return errors; failures degrade per-detector.
	_ = g.Wait()

	p.recordBatch(ctx, len(events), scored, p.now().Sub(started))

	return scored
}

func (p *Processor) dropMalformed(events []*event.Event) []*event.Event {
	valid := events[:0:len(events)]

	for _, ev := range events {
		err := ev.Validate()
		if err != nil {
			p.logger.Warn("dropping malformed event", "event", ev.ID, "error", err)

			continue
		}

		valid = append(valid, ev)
	}

	return valid
}

// groupEvents partitions the batch by (actor, repo), preserving intra-group
// order.
func groupEvents(events []*event.Event) [][]*event.Event {
	index := map[string]int{}

	var groups [][]*event.Event

	for _, ev := range events {
		key := ev.GroupKey()

		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i

			groups = append(groups, nil)
		}

		groups[i] = append(groups[i], ev)
	}

	return groups
}

// processGroup runs the detector fan-out for one group and scores each of
// its events.
func (p *Processor) processGroup(ctx context.Context, group []*event.Event) []severity.ScoredEvent {
	results := p.runDetectors(ctx, group)

	p.dispatchProfileUpdates(group)

	scored := make([]severity.ScoredEvent, len(group))

	g, evCtx := errgroup.WithContext(ctx)

	for i, ev := range group {
		g.Go(func() error {
			scored[i] = p.scoreEvent(evCtx, ev, group, results)

			return nil
		})
	}

	_ = g.Wait()

	return scored
}

// runDetectors fans the four detectors out in parallel and joins them. A
// failed or overrun detector contributes its neutral default.
func (p *Processor) runDetectors(ctx context.Context, group []*event.Event) *groupResults {
	results := &groupResults{
		behavioral: detect.Neutral(),
		content:    detect.Neutral(),
		temporal:   detect.Neutral(),
		contexts:   map[string]repocontext.Assessment{},
	}

	login := group[0].Actor.Login

	var g errgroup.Group

	g.Go(func() error {
		if p.behavioral == nil || p.users == nil {
			return nil
		}

		defer p.recordDetector(ctx, AnalysisBehavioral, p.now())

		baseline, err := p.users.Get(ctx, login)
		if err != nil {
			p.logger.Warn("user baseline unavailable", "login", login, "error", err)

			return nil
		}

		results.baseline = baseline
		results.behavioral = p.behavioral.Detect(group, baseline)

		return nil
	})

	g.Go(func() error {
		if p.content == nil {
			return nil
		}

		defer p.recordDetector(ctx, AnalysisContent, p.now())

		results.content = p.content.Detect(group, nil)

		return nil
	})

	g.Go(func() error {
		if p.temporal == nil {
			return nil
		}

		defer p.recordDetector(ctx, AnalysisTemporal, p.now())

		results.temporal = p.temporal.Detect(ctx, group)

		return nil
	})

	g.Go(func() error {
		if p.contextual == nil {
			return nil
		}

		defer p.recordDetector(ctx, AnalysisRepository, p.now())

		counts := map[string]int{}
		for _, ev := range group {
			counts[ev.Repo.Name]++
		}

		for repoName, n := range counts {
			results.contexts[repoName] = p.contextual.Score(ctx, repoName, n)
		}

		return nil
	})

	_ = g.Wait()

	return results
}

// recordDetector reports one detector run's duration, measured from started.
func (p *Processor) recordDetector(ctx context.Context, name string, started time.Time) {
	if p.metrics != nil {
		p.metrics.RecordDetector(ctx, name, p.now().Sub(started))
	}
}

// dispatchProfileUpdates starts detached updates for the group's user and
// repos. Their failures never reach the response path.
func (p *Processor) dispatchProfileUpdates(group []*event.Event) {
	login := group[0].Actor.Login
	feat := behavioral.ExtractFeatures(group)

	repoGroups := map[string][]*event.Event{}
	for _, ev := range group {
		repoGroups[ev.Repo.Name] = append(repoGroups[ev.Repo.Name], ev)
	}

	p.background.Add(1)

	go func() {
		defer p.background.Done()

		ctx, cancel := context.WithTimeout(context.Background(), p.cfg.Deadline)
		defer cancel()

		if p.users != nil {
			err := p.users.Update(ctx, login, feat, group)
			if err != nil {
				p.logger.Warn("user profile update failed", "login", login, "error", err)
			}
		}

		if p.repos == nil {
			return
		}

		for repoName, repoEvents := range repoGroups {
			err := p.repos.Update(ctx, repoName, repoEvents)
			if err != nil {
				p.logger.Warn("repo profile update failed", "repo", repoName, "error", err)
			}
		}
	}()
}

// Wait blocks until detached profile updates have drained. Intended for
// shutdown and tests.
func (p *Processor) Wait() {
	p.background.Wait()
}

// scoreEvent composes one event's severity from the group-level results and
// runs the enrichment/fan-out sinks.
func (p *Processor) scoreEvent(ctx context.Context, ev *event.Event, group []*event.Event, results *groupResults) severity.ScoredEvent {
	assessment, ok := results.contexts[ev.Repo.Name]
	if !ok {
		assessment = repocontext.Assessment{
			Criticality:  0.5,
			Multiplier:   repocontext.Multiplier(0.5),
			AnalysisType: detect.AnalysisFallback,
			Features:     feature.NewVector(feature.ContextDim),
		}
	}

	scored := p.engine.Score(severity.SubScores{
		Behavioral: results.behavioral.Score,
		Content:    results.content.Score,
		Temporal:   results.temporal.Score,
		Repository: assessment.Criticality,
	}, buildContext(ev, group, results), meanConfidence(results))

	scored.EventID = ev.ID
	scored.Actor = ev.Actor.Login
	scored.Repo = ev.Repo.Name
	scored.EventType = ev.Type
	scored.Timestamp = ev.CreatedAt
	scored.RepoCriticality = assessment.Criticality
	scored.Analyses = map[string]detect.Result{
		AnalysisBehavioral: results.behavioral,
		AnalysisContent:    results.content,
		AnalysisTemporal:   results.temporal,
		AnalysisRepository: {
			Score:        assessment.Criticality,
			AnalysisType: assessment.AnalysisType,
			Features:     assessment.Features,
		},
	}

	if p.summarizer != nil && (scored.Band == severity.BandCritical || scored.Band == severity.BandHigh) {
		summary, err := p.summarizer.Summarize(ctx, scored)
		if err != nil {
			p.logger.Warn("summary generation failed", "event", ev.ID, "error", err)
		} else if summary != nil {
			scored.Summary = summary.Title

			if p.metrics != nil {
				p.metrics.RecordSummary(ctx, summary.Tier, summary.CacheHit)
			}
		}
	}

	p.sink(ctx, scored)

	return scored
}

// sink enqueues and publishes the scored event; sink failures are logged
// and never fail scoring.
func (p *Processor) sink(ctx context.Context, scored severity.ScoredEvent) {
	if p.queue != nil {
		_, err := p.queue.Enqueue(ctx, scored, 0)
		if err != nil {
			p.logger.Warn("enqueue failed", "event", scored.EventID, "error", err)
		}
	}

	if p.publisher != nil {
		err := p.publisher.Publish(ctx, scored)
		if err != nil {
			p.logger.Warn("publish failed", "event", scored.EventID, "error", err)
		}
	}
}

// buildContext assembles the severity context from the event and its group.
func buildContext(ev *event.Event, group []*event.Event, results *groupResults) severity.Context {
	evCtx := severity.Context{
		RepoName:   ev.Repo.Name,
		PublicRepo: ev.Public,
		Timestamp:  ev.CreatedAt,
	}

	switch {
	case ev.Push != nil:
		evCtx.Ref = ev.Push.Ref
		evCtx.Forced = ev.Push.Forced
	case ev.Delete != nil:
		evCtx.Ref = ev.Delete.Ref
	case ev.Create != nil:
		evCtx.Ref = ev.Create.Ref
	}

	actors := map[string]struct{}{}

	var deletions, failures int

	for _, e := range group {
		actors[e.Actor.Login] = struct{}{}

		if e.Delete != nil {
			deletions++
		}

		if e.WorkflowRun != nil && e.WorkflowRun.WorkflowRun.Conclusion == "failure" {
			failures++
		}
	}

	evCtx.DeletionCount = deletions
	evCtx.ConsecutiveFailures = failures
	evCtx.UniqueActors = len(actors)

	if results.content.HasAnomaly(content.AnomalySecretExposure) {
		evCtx.ContainsSecrets = true
	}

	if results.temporal.HasAnomaly(temporal.PatternCoordinated) {
		evCtx.Coordinated = true
	}

	if feat := results.temporal.Features; len(feat) == feature.TemporalDim {
		evCtx.EventsPerMinute = feat[feature.TemporalEventsPerMinute]
	}

	return evCtx
}

// meanConfidence averages the detector confidences that actually ran.
func meanConfidence(results *groupResults) float64 {
	confidences := []float64{
		results.behavioral.Confidence,
		results.content.Confidence,
		results.temporal.Confidence,
	}

	var total float64

	count := 0

	for _, c := range confidences {
		if c > 0 {
			total += c
			count++
		}
	}

	if count == 0 {
		return 0
	}

	return total / float64(count)
}

// Stats are the rolling processing counters, reset daily.
type Stats struct {
	EventsProcessed   int64         `json:"events_processed"`
	AnomaliesDetected int64         `json:"anomalies_detected"`
	AvgProcessingTime time.Duration `json:"avg_processing_time"`
	LastReset         time.Time     `json:"last_reset"`
}

func (p *Processor) recordBatch(ctx context.Context, eventCount int, scored []severity.ScoredEvent, elapsed time.Duration) {
	anomaliesByBand := map[string]int{}

	for _, s := range scored {
		if s.Band != severity.BandInfo {
			anomaliesByBand[string(s.Band)]++
		}
	}

	p.statsMu.Lock()

	now := p.now()
	if now.Sub(p.stats.LastReset) >= statsResetInterval {
		p.stats = Stats{LastReset: now}
	}

	p.stats.EventsProcessed += int64(eventCount)

	for _, n := range anomaliesByBand {
		p.stats.AnomaliesDetected += int64(n)
	}

	if p.stats.AvgProcessingTime == 0 {
		p.stats.AvgProcessingTime = elapsed
	} else {
		p.stats.AvgProcessingTime = (p.stats.AvgProcessingTime + elapsed) / 2
	}

	p.statsMu.Unlock()

	if p.metrics != nil {
		p.metrics.RecordBatch(ctx, eventCount, anomaliesByBand)
	}
}

// Stats returns a snapshot of the rolling counters.
func (p *Processor) Stats() Stats {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()

	return p.stats
}
