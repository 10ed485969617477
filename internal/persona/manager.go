package persona

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// CustomPrefix namespaces user-defined personas so they can never shadow a
// preset.
const CustomPrefix = "custom/"

// UnknownPersonaError reports a lookup for a persona id that is neither a
// preset nor a loaded custom persona. This is a configuration problem, not a
// transient failure.
type UnknownPersonaError struct {
	ID    string
	Known []string
}

func (e *UnknownPersonaError) Error() string {
	return fmt.Sprintf("persona: unknown persona %q (known: %s)", e.ID, strings.Join(e.Known, ", "))
}

// Transient always reports false; an unknown persona id never fixes itself.
func (e *UnknownPersonaError) Transient() bool { return false }

// Manager resolves persona ids to definitions. Construct with NewManager;
// the zero value knows only the presets.
type Manager struct {
	personas map[string]Persona
	order    []string
}

// NewManager builds a Manager holding the presets plus any custom personas
// found in customDir. customDir may be empty or missing; *.yaml and *.yml
// files are loaded, one persona per file, id "custom/<basename>".
func NewManager(customDir string) (*Manager, error) {
	m := &Manager{personas: map[string]Persona{}}
	for _, p := range Presets() {
		m.personas[p.ID] = p
		m.order = append(m.order, p.ID)
	}

	if customDir == "" {
		return m, nil
	}
	entries, err := os.ReadDir(customDir)
	if os.IsNotExist(err) {
		return m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("persona: read custom dir: %w", err)
	}

	var customIDs []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		p, err := loadFile(filepath.Join(customDir, e.Name()))
		if err != nil {
			return nil, err
		}
		p.ID = CustomPrefix + strings.TrimSuffix(e.Name(), ext)
		m.personas[p.ID] = p
		customIDs = append(customIDs, p.ID)
	}

	sort.Strings(customIDs)
	m.order = append(m.order, customIDs...)
	return m, nil
}

func loadFile(path string) (Persona, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Persona{}, fmt.Errorf("persona: read %s: %w", path, err)
	}

	var p Persona
	dec := yaml.NewDecoder(strings.NewReader(string(raw)))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		return Persona{}, fmt.Errorf("persona: parse %s: %w", path, err)
	}
	if p.Name == "" {
		return Persona{}, fmt.Errorf("persona: %s: name must not be empty", path)
	}
	return p, nil
}

// Get returns the persona for id or an *UnknownPersonaError.
func (m *Manager) Get(id string) (Persona, error) {
	if p, ok := m.personas[id]; ok {
		return p, nil
	}
	return Persona{}, &UnknownPersonaError{ID: id, Known: m.IDs()}
}

// List returns all personas, presets first, custom personas sorted by id.
func (m *Manager) List() []Persona {
	out := make([]Persona, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.personas[id])
	}
	return out
}

// IDs returns the ids of all known personas in List order.
func (m *Manager) IDs() []string {
	out := make([]string, len(m.order))
	copy(out, m.order)
	return out
}
