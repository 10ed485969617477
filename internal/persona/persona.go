// Package persona defines the simulated students that drive dialogue
// sessions: three built-in presets plus user-defined personas loaded from
// YAML files.
package persona

import (
	"fmt"
	"strings"
)

// Persona describes a simulated student. Presets are read-only; custom
// personas come from YAML files and are namespaced "custom/<name>".
type Persona struct {
	// ID identifies the persona ("excellent", "average", "struggling" or
	// "custom/<name>").
	ID string `yaml:"-"`

	// Name is a display name for transcripts and reports.
	Name string `yaml:"name"`

	// Background is a one-paragraph description of who the student is.
	Background string `yaml:"background"`

	// ComprehensionLevel describes how quickly the student absorbs material
	// ("high", "medium", "low").
	ComprehensionLevel string `yaml:"comprehension_level"`

	// EngagementLevel describes how actively the student participates.
	EngagementLevel string `yaml:"engagement_level"`

	// ResponseLength hints at typical answer length ("short", "medium",
	// "long").
	ResponseLength string `yaml:"response_length"`

	// QuestionFrequency describes how often the student asks questions back.
	QuestionFrequency string `yaml:"question_frequency"`

	// Strengths lists things this student does well.
	Strengths []string `yaml:"strengths"`

	// Weaknesses lists things this student struggles with.
	Weaknesses []string `yaml:"weaknesses"`

	// Behaviors lists concrete behaviours to exhibit in conversation.
	Behaviors []string `yaml:"behaviors"`
}

// SystemPrompt renders the persona as the student model's system prompt. The
// student always stays in character and never breaks into meta commentary.
func (p Persona) SystemPrompt(studentRole string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are role-playing a student in a teaching simulation.\n\n")
	fmt.Fprintf(&b, "Student profile: %s\n", p.Name)
	if studentRole != "" {
		fmt.Fprintf(&b, "In this scenario you play: %s\n", studentRole)
	}
	if p.Background != "" {
		fmt.Fprintf(&b, "Background: %s\n", p.Background)
	}
	fmt.Fprintf(&b, "\nTraits:\n")
	if p.ComprehensionLevel != "" {
		fmt.Fprintf(&b, "- Comprehension: %s\n", p.ComprehensionLevel)
	}
	if p.EngagementLevel != "" {
		fmt.Fprintf(&b, "- Engagement: %s\n", p.EngagementLevel)
	}
	if p.ResponseLength != "" {
		fmt.Fprintf(&b, "- Typical response length: %s\n", p.ResponseLength)
	}
	if p.QuestionFrequency != "" {
		fmt.Fprintf(&b, "- Asks questions: %s\n", p.QuestionFrequency)
	}
	writeList(&b, "Strengths", p.Strengths)
	writeList(&b, "Weaknesses", p.Weaknesses)
	writeList(&b, "Behaviours to exhibit", p.Behaviors)
	b.WriteString("\nRules:\n")
	b.WriteString("- Reply only as the student, one conversational turn at a time.\n")
	b.WriteString("- Stay in character for the whole session.\n")
	b.WriteString("- Never mention that this is a simulation or that you are an AI.\n")
	return b.String()
}

func writeList(b *strings.Builder, heading string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "%s:\n", heading)
	for _, it := range items {
		fmt.Fprintf(b, "- %s\n", it)
	}
}

// Presets returns the built-in personas in panel order. The returned slice is
// a fresh copy on every call.
func Presets() []Persona {
	return []Persona{
		{
			ID:                 "excellent",
			Name:               "Excellent student",
			Background:         "A well-prepared student who read the material in advance and connects new ideas to prior knowledge.",
			ComprehensionLevel: "high",
			EngagementLevel:    "high",
			ResponseLength:     "long",
			QuestionFrequency:  "often",
			Strengths:          []string{"grasps new concepts on first explanation", "asks probing follow-up questions"},
			Behaviors: []string{
				"answers correctly and elaborates with examples of their own",
				"occasionally challenges the teacher with an edge case",
			},
		},
		{
			ID:                 "average",
			Name:               "Average student",
			Background:         "A typical student who follows along but needs key points repeated or rephrased.",
			ComprehensionLevel: "medium",
			EngagementLevel:    "medium",
			ResponseLength:     "medium",
			QuestionFrequency:  "sometimes",
			Weaknesses:         []string{"loses the thread when several new terms arrive at once"},
			Behaviors: []string{
				"answers correctly about two times out of three",
				"asks for clarification when a term is unfamiliar",
			},
		},
		{
			ID:                 "struggling",
			Name:               "Struggling student",
			Background:         "A student with gaps in the prerequisites who is easily discouraged.",
			ComprehensionLevel: "low",
			EngagementLevel:    "low",
			ResponseLength:     "short",
			QuestionFrequency:  "rarely",
			Weaknesses:         []string{"misses prerequisites", "gives up quickly when confused"},
			Behaviors: []string{
				"frequently misunderstands or answers off the point",
				"gives minimal answers unless actively drawn out",
				"admits confusion only when asked directly",
			},
		},
	}
}
