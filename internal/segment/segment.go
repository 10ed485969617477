// Package segment turns a full instructional script into an ordered list of
// teaching stages using a single LLM analysis call.
package segment

import (
	"fmt"
	"strings"
)

// Stage is one teaching stage recovered from the script. Field names match the
// JSON the analysis prompt requests, so the struct doubles as the wire schema
// for cached analyses and trainset examples.
type Stage struct {
	// ID is the 1-based position of the stage. Analyze reassigns IDs so they
	// are always contiguous regardless of what the model returned.
	ID int `json:"id"`

	// Title is a short stage name.
	Title string `json:"title"`

	// Description summarises what happens in this stage.
	Description string `json:"description"`

	// Role is the NPC character the script assigns for this stage, e.g.
	// "Ms. Chen, the lab instructor". May change between stages.
	Role string `json:"role"`

	// StudentRole describes who the student plays opposite the NPC.
	StudentRole string `json:"student_role"`

	// Task is the concrete activity the stage drives toward.
	Task string `json:"task"`

	// KeyPoints are the teaching points the stage must cover.
	KeyPoints []string `json:"key_points"`

	// InteractionRounds is the number of student/NPC exchanges planned for the
	// stage. Defaulted to DefaultRounds and floored at 1 during normalisation.
	InteractionRounds int `json:"interaction_rounds"`

	// ContentExcerpt is the portion of the source script this stage covers.
	ContentExcerpt string `json:"content_excerpt"`
}

// Analysis is the result of segmenting one script.
type Analysis struct {
	// Stages is the ordered stage list. Never empty on success.
	Stages []Stage `json:"stages"`

	// Truncated reports that the input exceeded the configured size limit and
	// only a prefix was analysed. Surfaced to the caller, never an error.
	Truncated bool `json:"truncated"`
}

// DefaultRounds is used when the model omits or zeroes a stage's round count.
const DefaultRounds = 5

// SegmentationError reports that the analysis call produced no usable stage
// list. RawSize is the byte length of the model response that failed to parse.
type SegmentationError struct {
	RawSize int
	Err     error
}

func (e *SegmentationError) Error() string {
	return fmt.Sprintf("segment: analysis unusable (%d response bytes): %v", e.RawSize, e.Err)
}

func (e *SegmentationError) Unwrap() error { return e.Err }

// Transient reports whether retrying the same input could plausibly succeed.
// Malformed model output is transient; an empty script is not.
func (e *SegmentationError) Transient() bool { return e.RawSize > 0 }

// Normalize renumbers stage IDs contiguously from 1 and repairs round counts.
// Order is preserved.
func Normalize(stages []Stage) []Stage {
	out := make([]Stage, len(stages))
	copy(out, stages)
	for i := range out {
		out[i].ID = i + 1
		if out[i].InteractionRounds == 0 {
			out[i].InteractionRounds = DefaultRounds
		}
		if out[i].InteractionRounds < 1 {
			out[i].InteractionRounds = 1
		}
	}
	return out
}

// Preview renders an analysis as a short human-readable listing for CLI
// output.
func Preview(a Analysis) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d stages", len(a.Stages))
	if a.Truncated {
		b.WriteString(" (input truncated)")
	}
	b.WriteString("\n")
	for _, s := range a.Stages {
		fmt.Fprintf(&b, "%2d. %s — %s (%d rounds)\n", s.ID, s.Title, s.Role, s.InteractionRounds)
		if s.Task != "" {
			fmt.Fprintf(&b, "    task: %s\n", s.Task)
		}
		for _, kp := range s.KeyPoints {
			fmt.Fprintf(&b, "    - %s\n", kp)
		}
	}
	return b.String()
}
