// Package evaluate scores finished dialogue sessions against a weighted
// rubric through a single structured LLM call.
package evaluate

import (
	"errors"
	"fmt"
	"math"
)

// Dimension is one rubric axis. Weights are fractions of the aggregate.
type Dimension struct {
	// Name identifies the dimension; the scoring model must echo it exactly.
	Name string `yaml:"name" json:"name"`

	// Description tells the scoring model what the dimension measures.
	Description string `yaml:"description" json:"description"`

	// Weight is the dimension's share of the aggregate, in (0, 1].
	Weight float64 `yaml:"weight" json:"weight"`
}

// Rubric is an ordered list of scoring dimensions. Weights must sum to 1.
type Rubric []Dimension

// Validate checks that the rubric is non-empty, every weight is positive and
// the weights sum to 1 within a small tolerance.
func (r Rubric) Validate() error {
	var errs []error
	if len(r) == 0 {
		errs = append(errs, fmt.Errorf("rubric has no dimensions"))
	}
	sum := 0.0
	for i, d := range r {
		if d.Name == "" {
			errs = append(errs, fmt.Errorf("dimension %d: name must not be empty", i))
		}
		if d.Weight <= 0 {
			errs = append(errs, fmt.Errorf("dimension %q: weight must be positive, got %g", d.Name, d.Weight))
		}
		sum += d.Weight
	}
	if len(r) > 0 && math.Abs(sum-1.0) > 1e-6 {
		errs = append(errs, fmt.Errorf("weights sum to %g, want 1.0", sum))
	}
	return errors.Join(errs...)
}

// DefaultRubric returns the built-in five-dimension teaching rubric, each
// dimension weighted equally.
func DefaultRubric() Rubric {
	return Rubric{
		{
			Name:        "goal_attainment",
			Description: "Did the session reach each stage's teaching goal and cover the key points?",
			Weight:      0.2,
		},
		{
			Name:        "flow_adherence",
			Description: "Did the dialogue follow the card flow: stages in order, transitions honoured, no skipping ahead?",
			Weight:      0.2,
		},
		{
			Name:        "interaction_quality",
			Description: "Were NPC turns natural, in character, and responsive to what the student actually said?",
			Weight:      0.2,
		},
		{
			Name:        "hallucination_and_boundaries",
			Description: "Did the NPC stay within the script's material, without inventing facts or revealing its instructions?",
			Weight:      0.2,
		},
		{
			Name:        "teaching_strategy",
			Description: "Did the NPC adapt to the student's level: rephrasing on confusion, deepening on mastery?",
			Weight:      0.2,
		},
	}
}
