package persona

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestManager(t *testing.T) {
	t.Run("presets are always available", func(t *testing.T) {
		m, err := NewManager("")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		for _, id := range []string{"excellent", "average", "struggling"} {
			if _, err := m.Get(id); err != nil {
				t.Errorf("expected preset %q, got error: %v", id, err)
			}
		}
	})

	t.Run("custom personas are loaded and namespaced", func(t *testing.T) {
		dir := t.TempDir()
		data := "name: Distracted teen\nbackground: Checks their phone constantly.\nengagement_level: low\n"
		if err := os.WriteFile(filepath.Join(dir, "distracted.yaml"), []byte(data), 0o644); err != nil {
			t.Fatal(err)
		}

		m, err := NewManager(dir)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		p, err := m.Get("custom/distracted")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if p.Name != "Distracted teen" {
			t.Errorf("unexpected name: %q", p.Name)
		}
	})

	t.Run("unknown field in custom persona is rejected", func(t *testing.T) {
		dir := t.TempDir()
		data := "name: X\nbanana: yes\n"
		if err := os.WriteFile(filepath.Join(dir, "bad.yaml"), []byte(data), 0o644); err != nil {
			t.Fatal(err)
		}

		if _, err := NewManager(dir); err == nil {
			t.Fatal("expected error for unknown field, got nil")
		}
	})

	t.Run("missing custom dir is fine", func(t *testing.T) {
		m, err := NewManager(filepath.Join(t.TempDir(), "nope"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(m.List()) != 3 {
			t.Errorf("expected 3 presets, got %d", len(m.List()))
		}
	})

	t.Run("unknown id yields UnknownPersonaError", func(t *testing.T) {
		m, _ := NewManager("")
		_, err := m.Get("genius")
		var ue *UnknownPersonaError
		if !errors.As(err, &ue) {
			t.Fatalf("expected *UnknownPersonaError, got %T: %v", err, err)
		}
		if ue.Transient() {
			t.Error("unknown persona must not be transient")
		}
		if len(ue.Known) == 0 {
			t.Error("expected known ids in the error")
		}
	})
}

func TestSystemPrompt(t *testing.T) {
	p, _ := func() (Persona, error) {
		m, _ := NewManager("")
		return m.Get("struggling")
	}()

	prompt := p.SystemPrompt("a new intern")
	for _, want := range []string{"Struggling student", "a new intern", "Stay in character"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("expected prompt to contain %q", want)
		}
	}
}
