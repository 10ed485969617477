package cards

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Deck markdown layout. Cards are separated by a horizontal rule; each card
// opens with a "# Card <n><A|B>" heading. Interaction cards carry their stage
// summary as a STAGE_META comment so decks are replayable without the source
// analysis.

const cardSeparator = "\n\n---\n\n"

var (
	headingRe   = regexp.MustCompile(`(?m)^#\s+Card\s+(\d+)([AB])\s*$`)
	stageMetaRe = regexp.MustCompile(`<!--\s*STAGE_META:\s*(\{.*?\})\s*-->`)
)

// RenderDeck serialises a deck to markdown. The deck should already pass
// Validate; RenderDeck does not re-check it.
func RenderDeck(deck []Card) string {
	parts := make([]string, 0, len(deck))
	for _, c := range deck {
		parts = append(parts, renderCard(c))
	}
	return strings.Join(parts, cardSeparator) + "\n"
}

func renderCard(c Card) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", c.Label())

	switch c.Kind {
	case KindInteraction:
		meta, _ := json.Marshal(c.Meta)
		fmt.Fprintf(&b, "<!-- STAGE_META: %s -->\n\n", meta)
		fmt.Fprintf(&b, "Title: %s\n", c.Title)
		fmt.Fprintf(&b, "Role: %s\n", c.Role)
		fmt.Fprintf(&b, "Rounds: %d\n", c.Rounds)
		if c.Placeholder {
			b.WriteString("Placeholder: true\n")
		}
		if c.OpeningLine != "" {
			fmt.Fprintf(&b, "\n## Opening\n\n%s\n", strings.TrimSpace(c.OpeningLine))
		}
		fmt.Fprintf(&b, "\n## Prompt\n\n%s", strings.TrimSpace(c.Body))

	case KindTransition:
		mode := "in-character"
		if c.Narrator {
			mode = "narrator"
		}
		fmt.Fprintf(&b, "Mode: %s\n", mode)
		fmt.Fprintf(&b, "\n## Bridge\n\n%s", strings.TrimSpace(c.Body))
	}

	return b.String()
}

// ParseDeck reads a deck back from its markdown rendering. It tolerates
// surrounding whitespace but requires the heading and field layout RenderDeck
// produces. The parsed deck is validated before being returned.
func ParseDeck(text string) ([]Card, error) {
	locs := headingRe.FindAllStringSubmatchIndex(text, -1)
	if len(locs) == 0 {
		return nil, fmt.Errorf("cards: no card headings found")
	}

	var deck []Card
	for i, loc := range locs {
		end := len(text)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		block := strings.TrimSpace(text[loc[0]:end])
		block = strings.TrimSpace(strings.TrimSuffix(block, "---"))

		stage, err := strconv.Atoi(text[loc[2]:loc[3]])
		if err != nil {
			return nil, fmt.Errorf("cards: bad stage number in heading: %w", err)
		}
		side := text[loc[4]:loc[5]]

		var c Card
		if side == "A" {
			c, err = parseInteraction(block)
		} else {
			c, err = parseTransition(block)
		}
		if err != nil {
			return nil, fmt.Errorf("cards: card %d%s: %w", stage, side, err)
		}
		c.Stage = stage
		deck = append(deck, c)
	}

	if err := Validate(deck); err != nil {
		return nil, err
	}
	return deck, nil
}

func parseInteraction(block string) (Card, error) {
	c := Card{Kind: KindInteraction}

	if m := stageMetaRe.FindStringSubmatch(block); m != nil {
		if err := json.Unmarshal([]byte(m[1]), &c.Meta); err != nil {
			return Card{}, fmt.Errorf("bad STAGE_META: %w", err)
		}
	}

	c.Title = fieldValue(block, "Title")
	c.Role = fieldValue(block, "Role")
	c.Placeholder = fieldValue(block, "Placeholder") == "true"
	if r := fieldValue(block, "Rounds"); r != "" {
		n, err := strconv.Atoi(r)
		if err != nil {
			return Card{}, fmt.Errorf("bad rounds %q: %w", r, err)
		}
		c.Rounds = n
	}

	c.OpeningLine = section(block, "Opening")
	c.Body = section(block, "Prompt")
	if c.Body == "" {
		return Card{}, fmt.Errorf("missing Prompt section")
	}
	return c, nil
}

func parseTransition(block string) (Card, error) {
	c := Card{Kind: KindTransition}
	c.Narrator = fieldValue(block, "Mode") == "narrator"
	c.Body = section(block, "Bridge")
	if c.Body == "" {
		return Card{}, fmt.Errorf("missing Bridge section")
	}
	return c, nil
}

// fieldValue returns the value of a "Key: value" line in block, or "".
func fieldValue(block, key string) string {
	re := regexp.MustCompile(`(?m)^` + regexp.QuoteMeta(key) + `:\s*(.*)$`)
	if m := re.FindStringSubmatch(block); m != nil {
		return strings.TrimSpace(m[1])
	}
	return ""
}

// section returns the text of a "## <name>" section in block, up to the next
// "## " heading or the end of the block.
func section(block, name string) string {
	re := regexp.MustCompile(`(?ms)^##\s+` + regexp.QuoteMeta(name) + `\s*$\n(.*?)(?:^##\s|\z)`)
	if m := re.FindStringSubmatch(block); m != nil {
		return strings.TrimSpace(m[1])
	}
	return ""
}
