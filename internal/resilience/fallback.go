package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"stagehand/pkg/provider/llm"
)

// ErrAllFailed is returned when every backend in a [Fallback] fails or has an
// open circuit breaker.
var ErrAllFailed = errors.New("all providers failed")

// FallbackConfig configures the per-backend circuit breaker created for each
// provider in a [Fallback].
type FallbackConfig struct {
	CircuitBreaker CircuitBreakerConfig
}

// entry pairs a backend with its dedicated circuit breaker.
type entry struct {
	name     string
	provider llm.Provider
	breaker  *CircuitBreaker
}

// Fallback implements [llm.Provider] with automatic failover across multiple
// backends. Each backend has its own circuit breaker; when the primary fails
// or its breaker is open, the next healthy fallback is tried in registration
// order.
//
// Register all backends before first use; AddFallback is not safe to call
// concurrently with requests.
type Fallback struct {
	entries []entry
	cfg     FallbackConfig
}

var _ llm.Provider = (*Fallback)(nil)

// NewFallback creates a [Fallback] with primary as the preferred backend.
func NewFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *Fallback {
	f := &Fallback{cfg: cfg}
	f.add(primaryName, primary)
	return f
}

// AddFallback registers an additional backend. Fallbacks are tried in the
// order they are added, after the primary.
func (f *Fallback) AddFallback(name string, provider llm.Provider) {
	f.add(name, provider)
}

func (f *Fallback) add(name string, provider llm.Provider) {
	cbCfg := f.cfg.CircuitBreaker
	cbCfg.Name = name
	f.entries = append(f.entries, entry{
		name:     name,
		provider: provider,
		breaker:  NewCircuitBreaker(cbCfg),
	})
}

// Complete sends the request to the first healthy backend and returns its
// response.
func (f *Fallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return execute(f, func(p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

// CountTokens delegates to the first healthy backend's token counter.
func (f *Fallback) CountTokens(messages []llm.Message) (int, error) {
	return execute(f, func(p llm.Provider) (int, error) {
		return p.CountTokens(messages)
	})
}

// Capabilities returns the capabilities of the primary. This does not
// participate in failover because capabilities are static metadata.
func (f *Fallback) Capabilities() llm.ModelCapabilities {
	if len(f.entries) > 0 {
		return f.entries[0].provider.Capabilities()
	}
	return llm.ModelCapabilities{}
}

// execute tries fn against each backend in order until one succeeds. Backends
// with an open breaker are skipped. Returns [ErrAllFailed] wrapped with the
// last error when every backend fails.
func execute[R any](f *Fallback, fn func(llm.Provider) (R, error)) (R, error) {
	var (
		lastErr error
		zero    R
	)
	for i := range f.entries {
		e := &f.entries[i]
		var result R
		err := e.breaker.Execute(func() error {
			var innerErr error
			result, innerErr = fn(e.provider)
			return innerErr
		})
		if err == nil {
			return result, nil
		}
		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("skipping provider (circuit open)", "provider", e.name)
		} else {
			slog.Warn("provider failed, trying next", "provider", e.name, "error", err)
		}
	}
	return zero, fmt.Errorf("%w: %v", ErrAllFailed, lastErr)
}
