package cards

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"stagehand/internal/jsonblock"
	"stagehand/internal/segment"
	"stagehand/pkg/provider/llm"
)

// StructuredID is the registry id of the whole-deck structured strategy.
const StructuredID = "structured"

const structuredPrompt = `You design complete card decks for an interactive teaching simulation.

Given a segmented teaching script, produce the WHOLE deck in one answer. For N stages the deck has exactly N interaction cards and N-1 transition cards, strictly alternating, starting and ending with an interaction card.

Each interaction card body must contain the markdown sections "### Role", "### Context", "### Interaction" and "### Constraints". Only the FIRST interaction card has an opening_line; every other card's opening_line is the empty string. A transition card is spoken by the narrator when the NPC role changes across it, otherwise in character.

Answer with ONLY a JSON object:
{
  "cards": [
    {"type": "interaction", "stage": 1, "title": "...", "role": "...", "opening_line": "...", "body": "..."},
    {"type": "transition", "after_stage": 1, "narrator": false, "bridge": "..."}
  ]
}`

// structuredCard is the wire shape of one card in the model's answer.
type structuredCard struct {
	Type        string `json:"type"`
	Stage       int    `json:"stage"`
	AfterStage  int    `json:"after_stage"`
	Title       string `json:"title"`
	Role        string `json:"role"`
	OpeningLine string `json:"opening_line"`
	Body        string `json:"body"`
	Narrator    bool   `json:"narrator"`
	Bridge      string `json:"bridge"`
}

// maxDemoScript bounds how much demo script text is replayed into the prompt.
const maxDemoScript = 4000

// StructuredGenerator is the whole-deck strategy: a single program call over
// the full stage list, conditioned on the program's few-shot demos. On an
// invalid answer it retries once with a reduced prompt (no demos, truncated
// script) and then fails the batch.
type StructuredGenerator struct {
	provider llm.Provider
	program  *Program
	log      *slog.Logger

	// Temperature for generation calls.
	Temperature float64
}

// NewStructuredGenerator builds the structured strategy on provider,
// conditioned on program. program must not be nil.
func NewStructuredGenerator(provider llm.Provider, program *Program) *StructuredGenerator {
	return &StructuredGenerator{
		provider:    provider,
		program:     program,
		log:         slog.Default().With("component", "cards", "framework", StructuredID),
		Temperature: 0.7,
	}
}

// ID implements Generator.
func (g *StructuredGenerator) ID() string { return StructuredID }

// Program exposes the generator's mutable configuration for the optimizer.
func (g *StructuredGenerator) Program() *Program { return g.program }

// GenerateAll implements Generator.
func (g *StructuredGenerator) GenerateAll(ctx context.Context, stages []segment.Stage, fullScript string, progress Progress) ([]Card, error) {
	if len(stages) == 0 {
		return nil, &GenerationError{FrameworkID: StructuredID, Err: fmt.Errorf("no stages")}
	}

	demos := g.program.acquire()
	defer g.program.release()

	deck, err := g.attempt(ctx, stages, fullScript, demos)
	if err != nil {
		g.log.Warn("structured generation failed, retrying reduced", "err", err)
		deck, err = g.attempt(ctx, stages, truncate(fullScript, maxDemoScript), nil)
		if err != nil {
			return nil, &GenerationError{FrameworkID: StructuredID, Err: err}
		}
	}

	if progress != nil {
		progress(len(stages), len(stages))
	}
	return deck, nil
}

func (g *StructuredGenerator) attempt(ctx context.Context, stages []segment.Stage, script string, demos []Demo) ([]Card, error) {
	resp, err := g.provider.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: structuredPrompt,
		Messages:     []llm.Message{{Role: "user", Content: buildRequest(stages, script, demos)}},
		Temperature:  g.Temperature,
	})
	if err != nil {
		return nil, err
	}
	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		return nil, fmt.Errorf("empty response")
	}

	var out struct {
		Cards []structuredCard `json:"cards"`
	}
	if err := jsonblock.Unmarshal(resp.Content, &out); err != nil {
		return nil, err
	}

	deck, err := assemble(out.Cards, stages)
	if err != nil {
		return nil, err
	}
	return deck, nil
}

func buildRequest(stages []segment.Stage, script string, demos []Demo) string {
	var b strings.Builder

	for i, d := range demos {
		fmt.Fprintf(&b, "Example %d script:\n%s\n\nExample %d deck:\n%s\n\n", i+1, truncate(d.Script, maxDemoScript), i+1, d.DeckMarkdown)
	}

	stagesJSON, _ := json.MarshalIndent(stages, "", "  ")
	fmt.Fprintf(&b, "Stages:\n%s\n", stagesJSON)
	if script != "" {
		fmt.Fprintf(&b, "\nFull script:\n%s\n", script)
	}
	return b.String()
}

// assemble converts the wire cards into a validated deck. Stage-derived
// fields (rounds, metadata) come from the analysis, not the model, so the
// deck invariants cannot be talked out of.
func assemble(wire []structuredCard, stages []segment.Stage) ([]Card, error) {
	byID := map[int]segment.Stage{}
	for _, st := range stages {
		byID[st.ID] = st
	}

	deck := make([]Card, 0, len(wire))
	for _, w := range wire {
		switch w.Type {
		case "interaction":
			st, ok := byID[w.Stage]
			if !ok {
				return nil, fmt.Errorf("interaction card references unknown stage %d", w.Stage)
			}
			c := Card{
				Kind:        KindInteraction,
				Stage:       st.ID,
				Title:       strings.TrimSpace(firstNonEmpty(w.Title, st.Title)),
				Role:        strings.TrimSpace(firstNonEmpty(w.Role, st.Role)),
				Rounds:      st.InteractionRounds,
				OpeningLine: strings.TrimSpace(w.OpeningLine),
				Body:        strings.TrimSpace(w.Body),
				Meta: StageMeta{
					StageName:         st.Title,
					Description:       st.Description,
					InteractionRounds: st.InteractionRounds,
				},
			}
			if c.Body == "" {
				return nil, fmt.Errorf("interaction card for stage %d has an empty body", st.ID)
			}
			if len(deck) > 0 {
				c.OpeningLine = ""
			}
			deck = append(deck, c)

		case "transition":
			c := Card{
				Kind:     KindTransition,
				Stage:    w.AfterStage,
				Narrator: w.Narrator,
				Body:     strings.TrimSpace(w.Bridge),
			}
			if c.Stage == 0 && len(deck) > 0 {
				c.Stage = deck[len(deck)-1].Stage
			}
			if c.Body == "" {
				return nil, fmt.Errorf("transition card after stage %d has an empty bridge", c.Stage)
			}
			deck = append(deck, c)

		default:
			return nil, fmt.Errorf("unknown card type %q", w.Type)
		}
	}

	if len(Interactions(deck)) != len(stages) {
		return nil, fmt.Errorf("deck has %d interaction cards for %d stages", len(Interactions(deck)), len(stages))
	}
	if err := Validate(deck); err != nil {
		return nil, err
	}
	return deck, nil
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return a
	}
	return b
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
