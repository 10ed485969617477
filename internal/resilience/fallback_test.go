package resilience

import (
	"context"
	"errors"
	"testing"

	"stagehand/pkg/provider/llm"
	llmmock "stagehand/pkg/provider/llm/mock"
)

func TestFallback_PrimarySuccess(t *testing.T) {
	primary := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "primary"}}
	secondary := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "secondary"}}

	f := NewFallback(primary, "primary", FallbackConfig{})
	f.AddFallback("secondary", secondary)

	resp, err := f.Complete(context.Background(), llm.CompletionRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "primary" {
		t.Errorf("expected the primary's response, got %q", resp.Content)
	}
	if len(secondary.CompleteCalls) != 0 {
		t.Errorf("expected no fallback calls, got %d", len(secondary.CompleteCalls))
	}
}

func TestFallback_PrimaryFailure(t *testing.T) {
	primary := &llmmock.Provider{CompleteErr: errors.New("boom")}
	secondary := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "secondary"}}

	f := NewFallback(primary, "primary", FallbackConfig{})
	f.AddFallback("secondary", secondary)

	resp, err := f.Complete(context.Background(), llm.CompletionRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "secondary" {
		t.Errorf("expected the fallback's response, got %q", resp.Content)
	}
}

func TestFallback_AllFail(t *testing.T) {
	primary := &llmmock.Provider{CompleteErr: errors.New("boom")}
	secondary := &llmmock.Provider{CompleteErr: errors.New("also boom")}

	f := NewFallback(primary, "primary", FallbackConfig{})
	f.AddFallback("secondary", secondary)

	_, err := f.Complete(context.Background(), llm.CompletionRequest{})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("expected ErrAllFailed, got %v", err)
	}
}

func TestFallback_OpenBreakerSkipsPrimary(t *testing.T) {
	primary := &llmmock.Provider{CompleteErr: errors.New("boom")}
	secondary := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "secondary"}}

	f := NewFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 2},
	})
	f.AddFallback("secondary", secondary)

	ctx := context.Background()
	for range 3 {
		if _, err := f.Complete(ctx, llm.CompletionRequest{}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	// Two failures trip the primary's breaker; the third round must not have
	// touched it.
	if len(primary.CompleteCalls) != 2 {
		t.Errorf("expected 2 primary attempts before the breaker opened, got %d", len(primary.CompleteCalls))
	}
	if len(secondary.CompleteCalls) != 3 {
		t.Errorf("expected 3 fallback calls, got %d", len(secondary.CompleteCalls))
	}
}

func TestFallback_Capabilities(t *testing.T) {
	primary := &llmmock.Provider{ModelCapabilities: llm.ModelCapabilities{ContextWindow: 42}}
	f := NewFallback(primary, "primary", FallbackConfig{})
	if f.Capabilities().ContextWindow != 42 {
		t.Errorf("expected the primary's capabilities")
	}
}
