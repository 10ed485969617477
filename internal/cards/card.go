// Package cards models dialogue cards and the generator strategies that
// produce them from a segmented script.
//
// A deck for N stages always holds N interaction cards and N-1 transition
// cards, strictly alternating, opening and closing with an interaction card.
package cards

import (
	"fmt"
	"strings"
)

// Kind distinguishes the two card types in a deck.
type Kind string

const (
	// KindInteraction is a playable stage card: the NPC's system prompt for
	// one teaching stage.
	KindInteraction Kind = "interaction"

	// KindTransition bridges two adjacent interaction cards with a short
	// spoken line.
	KindTransition Kind = "transition"
)

// StageMeta is the machine-readable stage summary embedded in each
// interaction card's markdown as a structured comment, so a deck can be
// replayed without re-running analysis.
type StageMeta struct {
	StageName         string `json:"stage_name"`
	Description       string `json:"description"`
	InteractionRounds int    `json:"interaction_rounds"`
}

// Card is one element of a deck. Interaction and transition cards share the
// struct; Kind says which fields are meaningful.
type Card struct {
	// Kind is KindInteraction or KindTransition.
	Kind Kind

	// Stage is the 1-based stage the card belongs to. For transitions it is
	// the stage the card follows.
	Stage int

	// Title is the stage title (interaction only).
	Title string

	// Role is the NPC character for the stage (interaction only).
	Role string

	// Rounds is the planned number of student/NPC exchanges (interaction
	// only, always >= 1).
	Rounds int

	// OpeningLine is the NPC's scripted first message. Set only on the first
	// interaction card of a deck.
	OpeningLine string

	// Body is the card's prompt text. For interaction cards it becomes the
	// NPC system prompt; for transition cards it is the bridging line (or the
	// narrator text).
	Body string

	// Narrator marks a transition spoken by an off-stage narrator rather than
	// in character. Used when the NPC role changes across the transition.
	Narrator bool

	// Meta is the embedded stage summary (interaction only).
	Meta StageMeta

	// Placeholder marks an interaction card that stands in for a failed
	// generation. Placeholder cards are valid deck members but clearly marked
	// in their Body.
	Placeholder bool
}

// Label returns the card's deck label, e.g. "Card 2A" for the second
// interaction card or "Card 2B" for the transition that follows it.
func (c Card) Label() string {
	switch c.Kind {
	case KindTransition:
		return fmt.Sprintf("Card %dB", c.Stage)
	default:
		return fmt.Sprintf("Card %dA", c.Stage)
	}
}

// Validate checks the deck shape: for N stages there must be exactly 2N-1
// cards, strictly alternating interaction/transition, starting and ending
// with an interaction card, every interaction card with Rounds >= 1.
func Validate(deck []Card) error {
	if len(deck) == 0 {
		return fmt.Errorf("cards: empty deck")
	}
	if len(deck)%2 == 0 {
		return fmt.Errorf("cards: deck has %d cards, want an odd count (N interaction + N-1 transition)", len(deck))
	}

	for i, c := range deck {
		wantInteraction := i%2 == 0
		if wantInteraction && c.Kind != KindInteraction {
			return fmt.Errorf("cards: position %d: want interaction card, got %s", i, c.Kind)
		}
		if !wantInteraction && c.Kind != KindTransition {
			return fmt.Errorf("cards: position %d: want transition card, got %s", i, c.Kind)
		}
		if c.Kind == KindInteraction {
			if c.Rounds < 1 {
				return fmt.Errorf("cards: %s: rounds must be >= 1, got %d", c.Label(), c.Rounds)
			}
			wantStage := i/2 + 1
			if c.Stage != wantStage {
				return fmt.Errorf("cards: position %d: want stage %d, got %d", i, wantStage, c.Stage)
			}
		}
		if c.Kind == KindInteraction && i > 0 && c.OpeningLine != "" {
			return fmt.Errorf("cards: %s: opening line is only allowed on the first card", c.Label())
		}
	}
	return nil
}

// Interactions returns only the interaction cards of deck, in order.
func Interactions(deck []Card) []Card {
	out := make([]Card, 0, (len(deck)+1)/2)
	for _, c := range deck {
		if c.Kind == KindInteraction {
			out = append(out, c)
		}
	}
	return out
}

// SameRole reports whether two NPC role strings describe the same character.
// Only the part before the first comma is compared (roles are often written
// "Name, the title"), case-insensitively. A missing role on either side
// counts as the same character, so sparse analyses default to the quieter
// in-character transition.
func SameRole(a, b string) bool {
	if strings.TrimSpace(a) == "" || strings.TrimSpace(b) == "" {
		return true
	}
	return roleKey(a) == roleKey(b)
}

func roleKey(role string) string {
	if i := strings.Index(role, ","); i >= 0 {
		role = role[:i]
	}
	return strings.ToLower(strings.TrimSpace(role))
}
