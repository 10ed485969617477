// Package loop wires the pipeline stages into one service: cache-checked
// segmentation, deck generation, session simulation and evaluation. The CLI
// commands and the optimizer's metric function both run through it.
package loop

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"stagehand/internal/cache"
	"stagehand/internal/cards"
	"stagehand/internal/dialogue"
	"stagehand/internal/evaluate"
	"stagehand/internal/observe"
	"stagehand/internal/persona"
	"stagehand/internal/segment"
)

// analysisSchemaVersion marks the cached analysis payload layout.
const analysisSchemaVersion = 1

// analysisEnvelope is the JSON blob stored in the content cache per script.
type analysisEnvelope struct {
	Version  int              `json:"version"`
	Analysis segment.Analysis `json:"analysis"`
}

// Deps carries everything a Service needs. All fields are required unless
// noted.
type Deps struct {
	Cache     *cache.Cache
	Segmenter *segment.Segmenter
	Registry  *cards.Registry
	Personas  *persona.Manager
	Engine    *dialogue.Engine
	Evaluator *evaluate.Evaluator

	// LogsDir, when set, receives JSON and markdown session logs.
	LogsDir string

	// Metrics defaults to observe.DefaultMetrics().
	Metrics *observe.Metrics
}

// Service is the closed-loop pipeline facade.
type Service struct {
	deps Deps
	log  *slog.Logger
	mu   sync.Mutex
}

// New builds a Service from deps.
func New(deps Deps) *Service {
	if deps.Metrics == nil {
		deps.Metrics = observe.DefaultMetrics()
	}
	return &Service{
		deps: deps,
		log:  slog.Default().With("component", "loop"),
	}
}

// Analyze returns the stage analysis for script, reusing the content cache
// unless bypass is set. The cached payload is a versioned envelope; an
// incompatible version forces recomputation.
func (s *Service) Analyze(ctx context.Context, script string, bypass bool) (*segment.Analysis, error) {
	if !bypass {
		_, hit := s.deps.Cache.Lookup(script)
		s.deps.Metrics.RecordCacheLookup(ctx, hit)
	}

	var opts []cache.Option
	if bypass {
		opts = append(opts, cache.WithBypass())
	}

	payload, err := s.deps.Cache.GetOrCompute(ctx, script, func(ctx context.Context) ([]byte, error) {
		a, err := s.deps.Segmenter.Analyze(ctx, script)
		if err != nil {
			return nil, err
		}
		return json.Marshal(analysisEnvelope{Version: analysisSchemaVersion, Analysis: *a})
	}, opts...)
	if err != nil {
		return nil, err
	}

	var env analysisEnvelope
	if err := json.Unmarshal(payload, &env); err != nil || env.Version != analysisSchemaVersion {
		s.log.Warn("cached analysis unusable, recomputing", "err", err, "version", env.Version)
		return s.Analyze(ctx, script, true)
	}
	return &env.Analysis, nil
}

// GenerateCards builds a deck for the analysis with the given strategy.
func (s *Service) GenerateCards(ctx context.Context, frameworkID string, analysis *segment.Analysis, script string, progress cards.Progress) ([]cards.Card, error) {
	g, err := s.deps.Registry.Get(frameworkID)
	if err != nil {
		return nil, err
	}

	deck, err := g.GenerateAll(ctx, analysis.Stages, script, progress)
	if err != nil {
		s.deps.Metrics.RecordDeck(ctx, frameworkID, "failed")
		return nil, err
	}
	s.deps.Metrics.RecordDeck(ctx, frameworkID, "ok")
	return deck, nil
}

// SimulateAndEvaluate runs one session of deck with the given persona and
// scores it. The session log is persisted when LogsDir is configured.
func (s *Service) SimulateAndEvaluate(ctx context.Context, deck []cards.Card, personaID string) (*dialogue.SessionLog, *evaluate.Report, error) {
	p, err := s.deps.Personas.Get(personaID)
	if err != nil {
		return nil, nil, err
	}

	log, err := s.deps.Engine.Run(ctx, deck, p)
	if err != nil {
		return nil, nil, err
	}

	if s.deps.LogsDir != "" {
		if _, err := log.Save(s.deps.LogsDir); err != nil {
			s.log.Warn("could not persist session log", "session", log.ID, "err", err)
		}
	}

	report, err := s.deps.Evaluator.Evaluate(ctx, log)
	if err != nil {
		return log, nil, err
	}
	return log, report, nil
}

// PanelResult is the outcome of scoring one deck against a persona panel.
type PanelResult struct {
	// Scores maps persona id to that session's aggregate score.
	Scores map[string]float64

	// Reports maps persona id to the full evaluation report.
	Reports map[string]*evaluate.Report

	// Mean is the arithmetic mean of Scores.
	Mean float64
}

// PanelScore simulates and evaluates deck once per persona, in parallel, and
// returns the per-persona scores plus their mean. Any persona failing fails
// the whole panel; partial panels would skew optimizer comparisons.
func (s *Service) PanelScore(ctx context.Context, deck []cards.Card, personaIDs []string) (*PanelResult, error) {
	if len(personaIDs) == 0 {
		return nil, fmt.Errorf("loop: persona panel must not be empty")
	}

	// Resolve up front so configuration errors fail before any session runs.
	for _, id := range personaIDs {
		if _, err := s.deps.Personas.Get(id); err != nil {
			return nil, err
		}
	}

	result := &PanelResult{
		Scores:  make(map[string]float64, len(personaIDs)),
		Reports: make(map[string]*evaluate.Report, len(personaIDs)),
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, id := range personaIDs {
		g.Go(func() error {
			_, report, err := s.SimulateAndEvaluate(gctx, deck, id)
			if err != nil {
				return fmt.Errorf("loop: persona %s: %w", id, err)
			}
			s.mu.Lock()
			result.Scores[id] = report.Aggregate
			result.Reports[id] = report
			s.mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sum := 0.0
	ids := make([]string, 0, len(result.Scores))
	for id, score := range result.Scores {
		sum += score
		ids = append(ids, id)
	}
	sort.Strings(ids)
	result.Mean = sum / float64(len(result.Scores))

	s.log.Info("panel scored", "personas", ids, "mean", result.Mean)
	return result, nil
}
