package cards

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"stagehand/internal/segment"
)

// Progress reports generation progress as "stage done of total". Callbacks
// must be fast; they run on the generating goroutine.
type Progress func(done, total int)

// Generator produces a full deck from a segmented script.
type Generator interface {
	// ID is the registry identifier of the strategy.
	ID() string

	// GenerateAll builds the deck for stages. fullScript is the original
	// source text, available for context. progress may be nil.
	//
	// The returned deck always satisfies Validate.
	GenerateAll(ctx context.Context, stages []segment.Stage, fullScript string, progress Progress) ([]Card, error)
}

// GenerationError reports that a strategy could not produce a valid deck.
type GenerationError struct {
	FrameworkID string
	Err         error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("cards: %s generation failed: %v", e.FrameworkID, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// Transient reports true: deck generation failures come from model output and
// a retry with the same input may succeed.
func (e *GenerationError) Transient() bool { return true }

// UnknownFrameworkError reports a lookup for an unregistered strategy id.
type UnknownFrameworkError struct {
	ID    string
	Known []string
}

func (e *UnknownFrameworkError) Error() string {
	return fmt.Sprintf("cards: unknown framework %q (known: %s)", e.ID, strings.Join(e.Known, ", "))
}

// Transient always reports false.
func (e *UnknownFrameworkError) Transient() bool { return false }

// Registry maps strategy ids to generators.
type Registry struct {
	generators map[string]Generator
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{generators: map[string]Generator{}}
}

// Register adds g under its ID. Registering the same id twice is a
// programming error and returns an error.
func (r *Registry) Register(g Generator) error {
	id := g.ID()
	if _, ok := r.generators[id]; ok {
		return fmt.Errorf("cards: framework %q already registered", id)
	}
	r.generators[id] = g
	return nil
}

// Get returns the generator for id or an *UnknownFrameworkError listing the
// registered ids.
func (r *Registry) Get(id string) (Generator, error) {
	if g, ok := r.generators[id]; ok {
		return g, nil
	}
	return nil, &UnknownFrameworkError{ID: id, Known: r.IDs()}
}

// IDs returns the registered strategy ids, sorted.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.generators))
	for id := range r.generators {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
