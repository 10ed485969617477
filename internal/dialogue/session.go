// Package dialogue runs simulated student/NPC sessions over a card deck and
// records them as session logs.
package dialogue

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Speaker identifies who produced a turn.
type Speaker string

const (
	SpeakerNPC     Speaker = "npc"
	SpeakerStudent Speaker = "student"
)

// Turn is one utterance in a session. Turns are strictly sequential; Seq
// starts at 1.
type Turn struct {
	Seq     int       `json:"seq"`
	Card    string    `json:"card"`
	Speaker Speaker   `json:"speaker"`
	Text    string    `json:"text"`
	At      time.Time `json:"at"`
}

// SessionLog is the full record of one simulated session. Once a session
// finishes the log is immutable; persist it with Save.
type SessionLog struct {
	// ID is a fresh UUID per session.
	ID string `json:"id"`

	// PersonaID identifies the simulated student.
	PersonaID string `json:"persona_id"`

	// Stages is the number of interaction cards played.
	Stages int `json:"stages"`

	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`

	// Truncated reports that the total turn cap ended the session before the
	// deck was fully played.
	Truncated bool `json:"truncated,omitempty"`

	Turns []Turn `json:"turns"`
}

// Markdown renders the log as a readable transcript.
func (l *SessionLog) Markdown() string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Session %s\n\n", l.ID)
	fmt.Fprintf(&b, "- Persona: %s\n", l.PersonaID)
	fmt.Fprintf(&b, "- Stages: %d\n", l.Stages)
	fmt.Fprintf(&b, "- Started: %s\n", l.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "- Ended: %s\n", l.EndedAt.Format(time.RFC3339))
	if l.Truncated {
		b.WriteString("- Truncated: session hit the turn cap\n")
	}
	b.WriteString("\n## Transcript\n\n")
	for _, t := range l.Turns {
		who := "NPC"
		if t.Speaker == SpeakerStudent {
			who = "Student"
		}
		fmt.Fprintf(&b, "**%d. %s** (%s)\n\n%s\n\n", t.Seq, who, t.Card, t.Text)
	}
	return b.String()
}

// Transcript renders the turns as plain dialogue text for prompts and
// evaluation.
func (l *SessionLog) Transcript() string {
	var b strings.Builder
	for _, t := range l.Turns {
		who := "NPC"
		if t.Speaker == SpeakerStudent {
			who = "Student"
		}
		fmt.Fprintf(&b, "%s: %s\n", who, t.Text)
	}
	return b.String()
}

// Save writes the log as JSON plus a markdown transcript under dir, creating
// it if needed. Returns the JSON path.
func (l *SessionLog) Save(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("dialogue: mkdir: %w", err)
	}

	base := fmt.Sprintf("session-%s-%s", l.StartedAt.Format("20060102-150405"), l.ID[:8])
	jsonPath := filepath.Join(dir, base+".json")

	raw, err := json.MarshalIndent(l, "", "  ")
	if err != nil {
		return "", fmt.Errorf("dialogue: marshal session: %w", err)
	}
	if err := os.WriteFile(jsonPath, raw, 0o644); err != nil {
		return "", fmt.Errorf("dialogue: write session: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, base+".md"), []byte(l.Markdown()), 0o644); err != nil {
		return "", fmt.Errorf("dialogue: write transcript: %w", err)
	}
	return jsonPath, nil
}

// LoadSession reads a session log previously written by Save.
func LoadSession(path string) (*SessionLog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("dialogue: read session: %w", err)
	}
	var l SessionLog
	if err := json.Unmarshal(raw, &l); err != nil {
		return nil, fmt.Errorf("dialogue: parse session: %w", err)
	}
	return &l, nil
}
