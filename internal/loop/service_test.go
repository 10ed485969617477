package loop

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"

	"stagehand/internal/cache"
	"stagehand/internal/cards"
	"stagehand/internal/dialogue"
	"stagehand/internal/evaluate"
	"stagehand/internal/persona"
	"stagehand/internal/segment"
	"stagehand/pkg/provider/llm"
	llmmock "stagehand/pkg/provider/llm/mock"
)

const analysisJSON = `{"stages": [
	{"id": 1, "title": "Greeting", "role": "Receptionist", "interaction_rounds": 1},
	{"id": 2, "title": "Check-in", "role": "Receptionist", "interaction_rounds": 1}
]}`

const scoresJSON = `{"dimensions": [
	{"name": "goal_attainment", "score": 80, "rationale": "r"},
	{"name": "flow_adherence", "score": 60, "rationale": "r"}
]}`

type testRig struct {
	svc       *Service
	segLLM    *llmmock.Provider
	npcLLM    *llmmock.Provider
	evalLLM   *llmmock.Provider
	cardsLLM  *llmmock.Provider
}

func newRig(t *testing.T) *testRig {
	t.Helper()

	rig := &testRig{
		segLLM:   &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: analysisJSON}},
		npcLLM:   &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "npc line"}},
		evalLLM:  &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: scoresJSON}},
		cardsLLM: &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: `{"opening_line": "hi", "body": "b"}`}},
	}

	student := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "student line"}}

	registry := cards.NewRegistry()
	if err := registry.Register(cards.NewTemplateGenerator(rig.cardsLLM)); err != nil {
		t.Fatal(err)
	}

	personas, err := persona.NewManager("")
	if err != nil {
		t.Fatal(err)
	}

	engine := dialogue.NewEngine(rig.npcLLM, student)
	engine.RetryBackoff = 0

	rubric := evaluate.Rubric{
		{Name: "goal_attainment", Weight: 0.6},
		{Name: "flow_adherence", Weight: 0.4},
	}

	rig.svc = New(Deps{
		Cache:     cache.New(""),
		Segmenter: segment.NewSegmenter(rig.segLLM, 0),
		Registry:  registry,
		Personas:  personas,
		Engine:    engine,
		Evaluator: evaluate.NewEvaluator(rig.evalLLM, rubric),
		LogsDir:   filepath.Join(t.TempDir(), "logs"),
	})
	return rig
}

func TestService_Analyze(t *testing.T) {
	ctx := context.Background()

	t.Run("repeat analysis of the same script hits the cache", func(t *testing.T) {
		rig := newRig(t)

		a1, err := rig.svc.Analyze(ctx, "the script", false)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		a2, err := rig.svc.Analyze(ctx, "the script", false)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if len(rig.segLLM.CompleteCalls) != 1 {
			t.Errorf("expected exactly 1 segmentation call, got %d", len(rig.segLLM.CompleteCalls))
		}
		if len(a1.Stages) != 2 || len(a2.Stages) != 2 {
			t.Errorf("unexpected stage counts: %d and %d", len(a1.Stages), len(a2.Stages))
		}
	})

	t.Run("bypass forces recomputation", func(t *testing.T) {
		rig := newRig(t)

		if _, err := rig.svc.Analyze(ctx, "the script", false); err != nil {
			t.Fatal(err)
		}
		if _, err := rig.svc.Analyze(ctx, "the script", true); err != nil {
			t.Fatal(err)
		}
		if len(rig.segLLM.CompleteCalls) != 2 {
			t.Errorf("expected 2 segmentation calls with bypass, got %d", len(rig.segLLM.CompleteCalls))
		}
	})

	t.Run("segmentation errors pass through uncached", func(t *testing.T) {
		rig := newRig(t)
		rig.segLLM.CompleteResponse = &llm.CompletionResponse{Content: "not json"}

		_, err := rig.svc.Analyze(ctx, "the script", false)
		var se *segment.SegmentationError
		if !errors.As(err, &se) {
			t.Fatalf("expected *SegmentationError, got %T: %v", err, err)
		}

		// A later fix must not be masked by a cached failure.
		rig.segLLM.CompleteResponse = &llm.CompletionResponse{Content: analysisJSON}
		if _, err := rig.svc.Analyze(ctx, "the script", false); err != nil {
			t.Errorf("expected recovery after fixed output: %v", err)
		}
	})
}

func TestService_GenerateCards(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown framework surfaces the typed error", func(t *testing.T) {
		rig := newRig(t)
		_, err := rig.svc.GenerateCards(ctx, "fancy", &segment.Analysis{Stages: []segment.Stage{{ID: 1, InteractionRounds: 1}}}, "", nil)
		var ue *cards.UnknownFrameworkError
		if !errors.As(err, &ue) {
			t.Fatalf("expected *UnknownFrameworkError, got %T: %v", err, err)
		}
	})

	t.Run("generates a deck through the registry", func(t *testing.T) {
		rig := newRig(t)
		a, err := rig.svc.Analyze(ctx, "the script", false)
		if err != nil {
			t.Fatal(err)
		}
		deck, err := rig.svc.GenerateCards(ctx, cards.TemplateID, a, "the script", nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(deck) != 3 {
			t.Errorf("expected 3 cards for 2 stages, got %d", len(deck))
		}
	})
}

func TestService_PanelScore(t *testing.T) {
	ctx := context.Background()

	deck := []cards.Card{
		{Kind: cards.KindInteraction, Stage: 1, Title: "Greeting", Role: "R", Rounds: 1, OpeningLine: "Hi", Body: "b"},
	}

	t.Run("scores every persona and averages", func(t *testing.T) {
		rig := newRig(t)

		res, err := rig.svc.PanelScore(ctx, deck, []string{"excellent", "average", "struggling"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(res.Scores) != 3 {
			t.Fatalf("expected 3 scores, got %d", len(res.Scores))
		}
		// Every persona scores 0.6*80 + 0.4*60 = 72 with the stubbed judge.
		for id, score := range res.Scores {
			if math.Abs(score-72.0) > 1e-9 {
				t.Errorf("persona %s: expected 72, got %g", id, score)
			}
		}
		if math.Abs(res.Mean-72.0) > 1e-9 {
			t.Errorf("expected mean 72, got %g", res.Mean)
		}
	})

	t.Run("unknown persona fails before any session runs", func(t *testing.T) {
		rig := newRig(t)

		_, err := rig.svc.PanelScore(ctx, deck, []string{"average", "genius"})
		var ue *persona.UnknownPersonaError
		if !errors.As(err, &ue) {
			t.Fatalf("expected *UnknownPersonaError, got %T: %v", err, err)
		}
		if len(rig.npcLLM.CompleteCalls) != 0 {
			t.Errorf("expected no NPC calls, got %d", len(rig.npcLLM.CompleteCalls))
		}
	})

	t.Run("empty panel is rejected", func(t *testing.T) {
		rig := newRig(t)
		if _, err := rig.svc.PanelScore(ctx, deck, nil); err == nil {
			t.Fatal("expected error")
		}
	})
}
