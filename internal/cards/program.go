package cards

import (
	"errors"
	"sync"
)

// Demo is one few-shot demonstration conditioning the structured strategy: a
// script excerpt together with the deck it should have produced.
type Demo struct {
	// Script is the (possibly truncated) source script of the demonstration.
	Script string `json:"script"`

	// DeckMarkdown is the rendered deck held up as the target output.
	DeckMarkdown string `json:"deck_markdown"`

	// Score is the panel score the deck earned, for bookkeeping.
	Score float64 `json:"score"`
}

// ErrProgramBusy is returned by SetDemos while a generation conditioned on
// the program is in flight.
var ErrProgramBusy = errors.New("cards: program configuration is in use")

// Program is the structured strategy's mutable configuration: the current
// few-shot demo set. It is not safe to reconfigure while a generation is
// running; the optimizer serialises all access through its worker funnel, and
// Program enforces the exclusion as a backstop.
type Program struct {
	mu       sync.Mutex
	demos    []Demo
	inFlight int
}

// NewProgram returns an empty program (no demonstrations).
func NewProgram() *Program {
	return &Program{}
}

// Demos returns a copy of the current demo set.
func (p *Program) Demos() []Demo {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Demo, len(p.demos))
	copy(out, p.demos)
	return out
}

// SetDemos replaces the demo set. It fails with ErrProgramBusy if a
// generation is currently conditioned on the program.
func (p *Program) SetDemos(demos []Demo) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inFlight > 0 {
		return ErrProgramBusy
	}
	p.demos = make([]Demo, len(demos))
	copy(p.demos, demos)
	return nil
}

// acquire marks a generation in flight and returns the demo set it runs
// with. Paired with release.
func (p *Program) acquire() []Demo {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inFlight++
	out := make([]Demo, len(p.demos))
	copy(out, p.demos)
	return out
}

func (p *Program) release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inFlight--
}
