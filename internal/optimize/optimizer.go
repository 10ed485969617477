package optimize

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"stagehand/internal/cards"
	"stagehand/internal/loop"
	"stagehand/internal/observe"
	"stagehand/internal/trainset"
)

// RoundError wraps a failure of a single optimization round. Rounds are
// independent, so a failed round is recorded and the run continues.
type RoundError struct {
	Round int
	Err   error
}

func (e *RoundError) Error() string {
	return fmt.Sprintf("optimize: round %d: %v", e.Round, e.Err)
}

func (e *RoundError) Unwrap() error { return e.Err }

// Transient reports whether retrying the round could help. Round failures
// come from model calls, so they always might.
func (e *RoundError) Transient() bool { return true }

// Config controls an optimization run.
type Config struct {
	// MaxRounds bounds the run. Defaults to 3.
	MaxRounds int

	// MaxDemos caps how many adopted demonstrations condition a round.
	// Defaults to 2.
	MaxDemos int

	// EarlyStop ends the run once the best mean score reaches this value.
	// Zero disables early stopping.
	EarlyStop float64

	// PersonaIDs is the evaluation panel. Must not be empty.
	PersonaIDs []string

	// OutDir, when set, receives the best deck markdown and the run history.
	OutDir string
}

// Round records one optimization round's outcome. Failed rounds carry Err and
// are excluded from best-score comparison.
type Round struct {
	Number      int                `json:"number"`
	DemoCount   int                `json:"demo_count"`
	Mean        float64            `json:"mean,omitempty"`
	Scores      map[string]float64 `json:"scores,omitempty"`
	Adopted     bool               `json:"adopted"`
	Err         string             `json:"error,omitempty"`
	FinalizedAt time.Time          `json:"finalized_at"`
}

// Result is the outcome of a full optimization run.
type Result struct {
	Rounds    []Round      `json:"rounds"`
	BestRound int          `json:"best_round"`
	BestScore float64      `json:"best_score"`
	BestDeck  []cards.Card `json:"-"`
}

// Progress is called after every round with the round just finished and the
// best mean score so far.
type Progress func(round Round, bestScore float64)

// Optimizer runs bootstrap-style rounds over the structured strategy: each
// round reconfigures the program's demo set from the best decks found so far,
// generates a candidate deck, and scores it against the persona panel. Demo
// mutation and generation are serialised through a single worker funnel so a
// reconfiguration can never race a generation.
type Optimizer struct {
	svc    *loop.Service
	gen    *cards.StructuredGenerator
	funnel *Funnel
	log    *slog.Logger

	cfg     Config
	metrics *observe.Metrics

	// Progress, when set, observes every finished round.
	Progress Progress
}

// New builds an Optimizer. Close must be called when done with it.
func New(svc *loop.Service, gen *cards.StructuredGenerator, cfg Config) *Optimizer {
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = 3
	}
	if cfg.MaxDemos <= 0 {
		cfg.MaxDemos = 2
	}
	return &Optimizer{
		svc:     svc,
		gen:     gen,
		funnel:  NewFunnel(),
		log:     slog.Default().With("component", "optimize"),
		cfg:     cfg,
		metrics: observe.DefaultMetrics(),
	}
}

// Close releases the worker funnel.
func (o *Optimizer) Close() { o.funnel.Close() }

// Run optimizes the demo set against one training example. At least one round
// must succeed; otherwise the last round's error is returned.
func (o *Optimizer) Run(ctx context.Context, ex trainset.Example) (*Result, error) {
	if len(o.cfg.PersonaIDs) == 0 {
		return nil, fmt.Errorf("optimize: persona panel must not be empty")
	}
	if len(ex.Stages) == 0 {
		return nil, fmt.Errorf("optimize: example %s has no stage analysis", ex.SourceID)
	}

	result := &Result{BestRound: 0}
	var demos []cards.Demo

	for n := 1; n <= o.cfg.MaxRounds; n++ {
		round := Round{Number: n, DemoCount: len(demos)}

		deck, panel, err := o.round(ctx, ex, demos)
		if err != nil {
			if ctx.Err() != nil {
				return result, fmt.Errorf("optimize: run aborted in round %d: %w", n, ctx.Err())
			}
			re := &RoundError{Round: n, Err: err}
			round.Err = re.Error()
			round.FinalizedAt = time.Now().UTC()
			result.Rounds = append(result.Rounds, round)
			o.metrics.RecordOptimizerRound(ctx, "failed")
			o.log.Warn("round failed", "round", n, "err", err)
			o.report(round, result.BestScore)
			continue
		}

		round.Mean = panel.Mean
		round.Scores = panel.Scores

		// Strictly greater: ties keep the earlier best.
		if result.BestRound == 0 || panel.Mean > result.BestScore {
			round.Adopted = true
			result.BestRound = n
			result.BestScore = panel.Mean
			result.BestDeck = deck
			demos = appendDemo(demos, cards.Demo{
				Script:       ex.FullScript,
				DeckMarkdown: cards.RenderDeck(deck),
				Score:        panel.Mean,
			}, o.cfg.MaxDemos)
			o.metrics.RecordOptimizerRound(ctx, "adopted")
			o.metrics.OptimizerBestScore.Record(ctx, result.BestScore)
		} else {
			o.metrics.RecordOptimizerRound(ctx, "kept")
		}

		round.FinalizedAt = time.Now().UTC()
		result.Rounds = append(result.Rounds, round)
		o.log.Info("round finished", "round", n, "mean", panel.Mean, "adopted", round.Adopted, "best", result.BestScore)
		o.report(round, result.BestScore)

		if o.cfg.EarlyStop > 0 && result.BestScore >= o.cfg.EarlyStop {
			o.log.Info("early stop threshold reached", "best", result.BestScore, "threshold", o.cfg.EarlyStop)
			break
		}
	}

	if result.BestRound == 0 {
		return result, fmt.Errorf("optimize: no round produced a scorable deck for %s", ex.SourceID)
	}

	if o.cfg.OutDir != "" {
		if err := o.persist(result); err != nil {
			return result, err
		}
	}
	return result, nil
}

// round runs one candidate: demo reconfiguration plus generation on the
// funnel, then the persona panel.
func (o *Optimizer) round(ctx context.Context, ex trainset.Example, demos []cards.Demo) ([]cards.Card, *loop.PanelResult, error) {
	var deck []cards.Card
	err := o.funnel.Do(ctx, func() error {
		if err := o.gen.Program().SetDemos(demos); err != nil {
			return err
		}
		var err error
		deck, err = o.gen.GenerateAll(ctx, ex.Stages, ex.FullScript, nil)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	panel, err := o.svc.PanelScore(ctx, deck, o.cfg.PersonaIDs)
	if err != nil {
		return nil, nil, err
	}
	return deck, panel, nil
}

func (o *Optimizer) report(round Round, best float64) {
	if o.Progress != nil {
		o.Progress(round, best)
	}
}

// appendDemo keeps the newest demos, capped at max.
func appendDemo(demos []cards.Demo, d cards.Demo, max int) []cards.Demo {
	demos = append(demos, d)
	if len(demos) > max {
		demos = demos[len(demos)-max:]
	}
	return demos
}

// persist writes the best deck markdown and the run history into OutDir.
func (o *Optimizer) persist(result *Result) error {
	if err := os.MkdirAll(o.cfg.OutDir, 0o755); err != nil {
		return fmt.Errorf("optimize: mkdir %s: %w", o.cfg.OutDir, err)
	}

	if err := writeAtomic(filepath.Join(o.cfg.OutDir, "best_deck.md"), []byte(cards.RenderDeck(result.BestDeck))); err != nil {
		return err
	}

	history, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("optimize: marshal history: %w", err)
	}
	return writeAtomic(filepath.Join(o.cfg.OutDir, "history.json"), history)
}

// writeAtomic replaces path via a temp file and rename.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-*")
	if err != nil {
		return fmt.Errorf("optimize: temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("optimize: write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("optimize: close %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("optimize: rename %s: %w", path, err)
	}
	return nil
}
