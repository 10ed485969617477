package evaluate

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
)

// DimensionScore is one scored rubric axis.
type DimensionScore struct {
	Name      string  `json:"name"`
	Weight    float64 `json:"weight"`
	Score     float64 `json:"score"`
	Rationale string  `json:"rationale"`

	// Clamped reports that the model's raw score fell outside [0, 100] and
	// was clamped. The clamping is also noted in Rationale.
	Clamped bool `json:"clamped,omitempty"`
}

// Report is the evaluation result for one session.
type Report struct {
	SessionID   string           `json:"session_id"`
	PersonaID   string           `json:"persona_id"`
	EvaluatedAt time.Time        `json:"evaluated_at"`
	Dimensions  []DimensionScore `json:"dimensions"`

	// Aggregate is the locally recomputed weighted sum of the dimension
	// scores. Model-claimed totals are discarded.
	Aggregate float64 `json:"aggregate"`

	// Suggestions are optional improvement notes from the scoring model.
	Suggestions []string `json:"suggestions,omitempty"`
}

// Recompute returns the weighted sum of the dimension scores. The stored
// Aggregate always equals Recompute().
func (r *Report) Recompute() float64 {
	sum := 0.0
	for _, d := range r.Dimensions {
		sum += d.Weight * d.Score
	}
	return sum
}

// Markdown renders the report as a readable document.
func (r *Report) Markdown() string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Evaluation of session %s\n\n", r.SessionID)
	fmt.Fprintf(&b, "- Persona: %s\n", r.PersonaID)
	fmt.Fprintf(&b, "- Evaluated: %s\n", r.EvaluatedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "- **Aggregate: %.1f / 100**\n\n", r.Aggregate)

	b.WriteString("| Dimension | Weight | Score |\n|---|---|---|\n")
	for _, d := range r.Dimensions {
		fmt.Fprintf(&b, "| %s | %.0f%% | %.1f |\n", d.Name, d.Weight*100, d.Score)
	}
	b.WriteString("\n")

	for _, d := range r.Dimensions {
		fmt.Fprintf(&b, "## %s — %.1f\n\n%s\n\n", d.Name, d.Score, d.Rationale)
	}

	if len(r.Suggestions) > 0 {
		b.WriteString("## Suggestions\n\n")
		for _, s := range r.Suggestions {
			fmt.Fprintf(&b, "- %s\n", s)
		}
	}
	return b.String()
}

// Save writes the report as JSON to path.
func (r *Report) Save(path string) error {
	raw, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("evaluate: marshal report: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("evaluate: write report: %w", err)
	}
	return nil
}
