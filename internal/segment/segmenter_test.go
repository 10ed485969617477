package segment

import (
	"context"
	"errors"
	"strings"
	"testing"

	"stagehand/pkg/provider/llm"
	llmmock "stagehand/pkg/provider/llm/mock"
)

const stagesJSON = `{
  "stages": [
    {"id": 7, "title": "Greeting", "role": "Receptionist", "interaction_rounds": 3},
    {"id": 9, "title": "Check-in", "role": "Receptionist", "interaction_rounds": 0}
  ]
}`

func TestSegmenter_Analyze(t *testing.T) {
	t.Run("parses stages and normalises ids and rounds", func(t *testing.T) {
		p := &llmmock.Provider{
			CompleteResponse: &llm.CompletionResponse{Content: stagesJSON},
		}
		s := NewSegmenter(p, 0)

		a, err := s.Analyze(context.Background(), "Welcome the guest, then check them in.")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(a.Stages) != 2 {
			t.Fatalf("expected 2 stages, got %d", len(a.Stages))
		}
		if a.Stages[0].ID != 1 || a.Stages[1].ID != 2 {
			t.Errorf("expected contiguous ids, got %d and %d", a.Stages[0].ID, a.Stages[1].ID)
		}
		if a.Stages[0].InteractionRounds != 3 {
			t.Errorf("expected rounds preserved, got %d", a.Stages[0].InteractionRounds)
		}
		if a.Stages[1].InteractionRounds != DefaultRounds {
			t.Errorf("expected zero rounds defaulted to %d, got %d", DefaultRounds, a.Stages[1].InteractionRounds)
		}
		if a.Truncated {
			t.Error("did not expect truncation")
		}
	})

	t.Run("recovers stages from fenced response", func(t *testing.T) {
		p := &llmmock.Provider{
			CompleteResponse: &llm.CompletionResponse{
				Content: "Here is the analysis:\n```json\n" + stagesJSON + "\n```",
			},
		}
		s := NewSegmenter(p, 0)

		a, err := s.Analyze(context.Background(), "some script")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(a.Stages) != 2 {
			t.Errorf("expected 2 stages, got %d", len(a.Stages))
		}
	})

	t.Run("oversized input is truncated and flagged, not an error", func(t *testing.T) {
		p := &llmmock.Provider{
			CompleteResponse: &llm.CompletionResponse{Content: stagesJSON},
		}
		s := NewSegmenter(p, 64)

		long := strings.Repeat("课堂内容。", 100)
		a, err := s.Analyze(context.Background(), long)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !a.Truncated {
			t.Error("expected Truncated to be set")
		}

		sent := p.CompleteCalls[0].Req.Messages[0].Content
		if len(sent) > 64 {
			t.Errorf("expected at most 64 bytes sent, got %d", len(sent))
		}
		// The cut must land on a rune boundary.
		for _, r := range sent {
			if r == '�' {
				t.Fatal("truncation split a rune")
			}
		}
	})

	t.Run("non-JSON response yields SegmentationError", func(t *testing.T) {
		p := &llmmock.Provider{
			CompleteResponse: &llm.CompletionResponse{Content: "I cannot split this script."},
		}
		s := NewSegmenter(p, 0)

		_, err := s.Analyze(context.Background(), "some script")
		var se *SegmentationError
		if !errors.As(err, &se) {
			t.Fatalf("expected *SegmentationError, got %T: %v", err, err)
		}
		if se.RawSize == 0 {
			t.Error("expected RawSize to record the response size")
		}
		if !se.Transient() {
			t.Error("malformed output should be classified transient")
		}
	})

	t.Run("empty stage list yields SegmentationError", func(t *testing.T) {
		p := &llmmock.Provider{
			CompleteResponse: &llm.CompletionResponse{Content: `{"stages": []}`},
		}
		s := NewSegmenter(p, 0)

		_, err := s.Analyze(context.Background(), "some script")
		var se *SegmentationError
		if !errors.As(err, &se) {
			t.Fatalf("expected *SegmentationError, got %T: %v", err, err)
		}
	})

	t.Run("empty script is rejected without an LLM call", func(t *testing.T) {
		p := &llmmock.Provider{}
		s := NewSegmenter(p, 0)

		_, err := s.Analyze(context.Background(), "   \n  ")
		var se *SegmentationError
		if !errors.As(err, &se) {
			t.Fatalf("expected *SegmentationError, got %T: %v", err, err)
		}
		if se.Transient() {
			t.Error("empty script should not be transient")
		}
		if len(p.CompleteCalls) != 0 {
			t.Errorf("expected no LLM calls, got %d", len(p.CompleteCalls))
		}
	})

	t.Run("provider errors are wrapped", func(t *testing.T) {
		p := &llmmock.Provider{CompleteErr: errors.New("rate limited")}
		s := NewSegmenter(p, 0)

		_, err := s.Analyze(context.Background(), "some script")
		if err == nil || !strings.Contains(err.Error(), "rate limited") {
			t.Fatalf("expected wrapped provider error, got %v", err)
		}
	})
}
