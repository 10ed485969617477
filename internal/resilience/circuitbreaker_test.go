package resilience

import (
	"errors"
	"testing"
	"time"
)

var errBackend = errors.New("backend unavailable")

// fail runs n failing calls through cb.
func fail(cb *CircuitBreaker, n int) {
	for range n {
		_ = cb.Execute(func() error { return errBackend })
	}
}

func TestCircuitBreaker_ConfigDefaults(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "llm"})

	if cb.maxFailures != 5 || cb.resetTimeout != 30*time.Second || cb.halfOpenMax != 3 {
		t.Errorf("defaults = (%d, %v, %d), want (5, 30s, 3)",
			cb.maxFailures, cb.resetTimeout, cb.halfOpenMax)
	}
	if got := cb.State(); got != StateClosed {
		t.Errorf("initial state = %v, want closed", got)
	}
}

func TestCircuitBreaker_PassesThroughWhileClosed(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "llm", MaxFailures: 3})

	calls := 0
	for range 5 {
		if err := cb.Execute(func() error { calls++; return nil }); err != nil {
			t.Fatalf("Execute() = %v, want nil", err)
		}
	}
	if calls != 5 {
		t.Errorf("calls = %d, want 5", calls)
	}
}

func TestCircuitBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:         "llm",
		MaxFailures:  3,
		ResetTimeout: time.Hour,
	})

	fail(cb, 2)
	if got := cb.State(); got != StateClosed {
		t.Fatalf("state after 2 failures = %v, want closed", got)
	}

	fail(cb, 1)
	if got := cb.State(); got != StateOpen {
		t.Fatalf("state after 3 failures = %v, want open", got)
	}

	// Open breaker rejects without running fn.
	ran := false
	err := cb.Execute(func() error { ran = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("Execute() = %v, want ErrCircuitOpen", err)
	}
	if ran {
		t.Error("fn ran while the breaker was open")
	}
}

func TestCircuitBreaker_SuccessClearsFailureStreak(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "llm", MaxFailures: 3, ResetTimeout: time.Hour})

	fail(cb, 2)
	_ = cb.Execute(func() error { return nil })
	fail(cb, 2)

	if got := cb.State(); got != StateClosed {
		t.Errorf("state = %v, want closed; the streak should restart after a success", got)
	}

	fail(cb, 1)
	if got := cb.State(); got != StateOpen {
		t.Errorf("state = %v, want open after a fresh streak of 3", got)
	}
}

func TestCircuitBreaker_HalfOpenAfterResetTimeout(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:         "llm",
		MaxFailures:  1,
		ResetTimeout: 10 * time.Millisecond,
	})

	fail(cb, 1)
	if got := cb.State(); got != StateOpen {
		t.Fatalf("state = %v, want open", got)
	}

	time.Sleep(20 * time.Millisecond)
	if got := cb.State(); got != StateHalfOpen {
		t.Fatalf("state after reset timeout = %v, want half-open", got)
	}

	// Probe calls run again.
	ran := false
	if err := cb.Execute(func() error { ran = true; return nil }); err != nil {
		t.Fatalf("probe Execute() = %v, want nil", err)
	}
	if !ran {
		t.Error("probe fn did not run in half-open state")
	}
}

func TestCircuitBreaker_ClosesAfterSuccessfulProbes(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:         "llm",
		MaxFailures:  1,
		ResetTimeout: 5 * time.Millisecond,
		HalfOpenMax:  2,
	})

	fail(cb, 1)
	time.Sleep(10 * time.Millisecond)

	for range 2 {
		if err := cb.Execute(func() error { return nil }); err != nil {
			t.Fatalf("probe Execute() = %v, want nil", err)
		}
	}
	if got := cb.State(); got != StateClosed {
		t.Errorf("state after successful probes = %v, want closed", got)
	}
}

func TestCircuitBreaker_ReopensOnProbeFailure(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:         "llm",
		MaxFailures:  1,
		ResetTimeout: 5 * time.Millisecond,
		HalfOpenMax:  3,
	})

	fail(cb, 1)
	time.Sleep(10 * time.Millisecond)

	fail(cb, 1) // failing probe

	// Read the raw state: State() reports half-open again once the fresh
	// reset timeout elapses, which can race the assertion on a slow machine.
	cb.mu.Lock()
	got := cb.state
	cb.mu.Unlock()
	if got != StateOpen {
		t.Errorf("state after failed probe = %v, want open", got)
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "llm", MaxFailures: 1, ResetTimeout: time.Hour})

	fail(cb, 1)
	cb.Reset()

	if got := cb.State(); got != StateClosed {
		t.Errorf("state after Reset = %v, want closed", got)
	}
	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Errorf("Execute() after Reset = %v, want nil", err)
	}
}

func TestState_String(t *testing.T) {
	cases := []struct {
		state State
		want  string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{State(42), "unknown"},
	}
	for _, tc := range cases {
		if got := tc.state.String(); got != tc.want {
			t.Errorf("State(%d).String() = %q, want %q", tc.state, got, tc.want)
		}
	}
}
