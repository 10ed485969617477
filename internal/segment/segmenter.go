package segment

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"stagehand/internal/jsonblock"
	"stagehand/pkg/provider/llm"
)

// splitPrompt instructs the model to partition a script into stages and answer
// with a bare JSON object. The schema mirrors the Stage struct tags.
const splitPrompt = `You are an instructional designer. Split the teaching script below into sequential teaching stages.

Rules:
- Each stage covers a contiguous portion of the script and has exactly one NPC role.
- Stages follow the script's own order. Do not invent content that is not in the script.
- interaction_rounds is how many student/NPC exchanges the stage needs (1-10).

Answer with ONLY a JSON object of this exact shape, no commentary:

{
  "stages": [
    {
      "id": 1,
      "title": "...",
      "description": "...",
      "role": "...",
      "student_role": "...",
      "task": "...",
      "key_points": ["..."],
      "interaction_rounds": 5,
      "content_excerpt": "..."
    }
  ]
}`

// Segmenter performs stage analysis through an LLM provider.
type Segmenter struct {
	provider llm.Provider
	log      *slog.Logger

	// MaxInputBytes bounds how much of the script is sent to the model. Zero
	// means no limit.
	MaxInputBytes int

	// Temperature for the analysis call. Low by default so repeated runs over
	// the same script stay close.
	Temperature float64
}

// NewSegmenter builds a Segmenter on the given provider. maxInputBytes <= 0
// disables input truncation.
func NewSegmenter(provider llm.Provider, maxInputBytes int) *Segmenter {
	return &Segmenter{
		provider:      provider,
		log:           slog.Default().With("component", "segmenter"),
		MaxInputBytes: maxInputBytes,
		Temperature:   0.2,
	}
}

// Analyze segments fullText into teaching stages.
//
// Input longer than MaxInputBytes is truncated at a rune boundary and the
// analysis is marked Truncated; truncation is never an error. A model response
// from which no stage list can be recovered yields a *SegmentationError.
func (s *Segmenter) Analyze(ctx context.Context, fullText string) (*Analysis, error) {
	text := strings.TrimSpace(fullText)
	if text == "" {
		return nil, &SegmentationError{Err: fmt.Errorf("empty script")}
	}

	text, truncated := truncateRunes(text, s.MaxInputBytes)
	if truncated {
		s.log.Warn("script exceeds input limit, analysing prefix only",
			"limit_bytes", s.MaxInputBytes, "script_bytes", len(fullText))
	}

	resp, err := s.provider.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: splitPrompt,
		Messages: []llm.Message{
			{Role: "user", Content: text},
		},
		Temperature: s.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("segment: analysis call: %w", err)
	}

	var parsed struct {
		Stages []Stage `json:"stages"`
	}
	if err := jsonblock.Unmarshal(resp.Content, &parsed); err != nil {
		return nil, &SegmentationError{RawSize: len(resp.Content), Err: err}
	}
	if len(parsed.Stages) == 0 {
		return nil, &SegmentationError{RawSize: len(resp.Content), Err: fmt.Errorf("no stages in analysis")}
	}

	a := &Analysis{
		Stages:    Normalize(parsed.Stages),
		Truncated: truncated,
	}
	s.log.Info("script segmented", "stages", len(a.Stages), "truncated", a.Truncated)
	return a, nil
}

// truncateRunes cuts s to at most limit bytes without splitting a rune.
// limit <= 0 disables truncation.
func truncateRunes(s string, limit int) (string, bool) {
	if limit <= 0 || len(s) <= limit {
		return s, false
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut], true
}
