package evaluate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"stagehand/internal/dialogue"
	"stagehand/internal/jsonblock"
	"stagehand/pkg/provider/llm"
)

// EvaluationError reports a scoring call whose output could not be turned
// into a complete report. There is no fallback score; a session that cannot
// be scored is not scored.
type EvaluationError struct {
	SessionID string
	Err       error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("evaluate: session %s: %v", e.SessionID, e.Err)
}

func (e *EvaluationError) Unwrap() error { return e.Err }

// Transient reports true; scoring failures come from model output.
func (e *EvaluationError) Transient() bool { return true }

const scoringPrompt = `You are a strict evaluator of simulated teaching sessions.

Score the transcript on every rubric dimension from 0 to 100. Judge only what is in the transcript. Be specific in each rationale.

Answer with ONLY a JSON object:
{
  "dimensions": [
    {"name": "<exact dimension name>", "score": 0-100, "rationale": "..."}
  ],
  "suggestions": ["...", "..."]
}

Include every rubric dimension exactly once, with its name copied verbatim.`

// Evaluator scores session logs with one structured LLM call per session.
type Evaluator struct {
	provider llm.Provider
	rubric   Rubric
	log      *slog.Logger

	// Temperature for the scoring call. Low so repeated evaluations of the
	// same transcript stay close.
	Temperature float64
}

// NewEvaluator builds an Evaluator. The rubric must already be validated.
func NewEvaluator(provider llm.Provider, rubric Rubric) *Evaluator {
	return &Evaluator{
		provider:    provider,
		rubric:      rubric,
		log:         slog.Default().With("component", "evaluate"),
		Temperature: 0.2,
	}
}

// Rubric returns the evaluator's rubric.
func (e *Evaluator) Rubric() Rubric { return e.rubric }

// Evaluate scores one session. Sub-scores outside [0, 100] are clamped, with
// the clamping recorded in that dimension's rationale; the aggregate is
// recomputed locally as the weighted sum. A response missing dimensions or
// unparseable as JSON yields an *EvaluationError and no report.
func (e *Evaluator) Evaluate(ctx context.Context, log *dialogue.SessionLog) (*Report, error) {
	if len(log.Turns) == 0 {
		return nil, &EvaluationError{SessionID: log.ID, Err: fmt.Errorf("empty transcript")}
	}

	rubricJSON, _ := json.MarshalIndent(e.rubric, "", "  ")
	var req strings.Builder
	fmt.Fprintf(&req, "Rubric:\n%s\n\nTranscript:\n%s", rubricJSON, log.Transcript())

	resp, err := e.provider.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: scoringPrompt,
		Messages:     []llm.Message{{Role: "user", Content: req.String()}},
		Temperature:  e.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("evaluate: scoring call: %w", err)
	}

	var out struct {
		Dimensions []struct {
			Name      string  `json:"name"`
			Score     float64 `json:"score"`
			Rationale string  `json:"rationale"`
		} `json:"dimensions"`
		Suggestions []string `json:"suggestions"`
	}
	if err := jsonblock.Unmarshal(resp.Content, &out); err != nil {
		return nil, &EvaluationError{SessionID: log.ID, Err: err}
	}

	scored := map[string]struct {
		score     float64
		rationale string
	}{}
	for _, d := range out.Dimensions {
		scored[d.Name] = struct {
			score     float64
			rationale string
		}{d.Score, d.Rationale}
	}

	report := &Report{
		SessionID:   log.ID,
		PersonaID:   log.PersonaID,
		EvaluatedAt: time.Now().UTC(),
		Suggestions: out.Suggestions,
	}

	for _, dim := range e.rubric {
		got, ok := scored[dim.Name]
		if !ok {
			return nil, &EvaluationError{
				SessionID: log.ID,
				Err:       fmt.Errorf("dimension %q missing from scoring output", dim.Name),
			}
		}

		ds := DimensionScore{
			Name:      dim.Name,
			Weight:    dim.Weight,
			Score:     got.score,
			Rationale: got.rationale,
		}
		if clamped, orig := clamp(&ds.Score); clamped {
			ds.Clamped = true
			ds.Rationale = strings.TrimSpace(fmt.Sprintf("%s (raw score %g clamped to %g)", ds.Rationale, orig, ds.Score))
			e.log.Warn("clamped out-of-range score",
				"session", log.ID, "dimension", dim.Name, "raw", orig, "clamped", ds.Score)
		}
		report.Dimensions = append(report.Dimensions, ds)
	}

	report.Aggregate = report.Recompute()
	e.log.Info("session scored", "session", log.ID, "aggregate", report.Aggregate)
	return report, nil
}

// clamp pulls *v into [0, 100] and reports whether it moved.
func clamp(v *float64) (bool, float64) {
	orig := *v
	if *v < 0 {
		*v = 0
	}
	if *v > 100 {
		*v = 100
	}
	return *v != orig, orig
}
