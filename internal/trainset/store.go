// Package trainset persists segmented example scripts for the optimizer: a
// JSON file of examples keyed by source identity, replaced atomically on
// every write.
package trainset

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"stagehand/internal/cache"
	"stagehand/internal/segment"
)

// fileSchemaVersion marks the trainset file layout.
const fileSchemaVersion = 1

// Example is one training example: a source script plus its stage analysis.
type Example struct {
	// SourceID identifies where the script came from, typically a file path
	// or logical name. Putting an example with an existing SourceID replaces
	// the stored one.
	SourceID string `json:"source_id"`

	// SourceHash is the content hash of the script at the time it was added.
	SourceHash string `json:"source_hash"`

	// FullScript is the complete source text.
	FullScript string `json:"full_script"`

	// Stages is the script's stage analysis.
	Stages []segment.Stage `json:"stages"`

	// AddedAt is when this example (version) was stored.
	AddedAt time.Time `json:"added_at"`
}

// file is the on-disk envelope.
type file struct {
	Version  int       `json:"version"`
	Examples []Example `json:"examples"`
}

// Store is a file-backed trainset. Safe for concurrent use within one
// process; the file is replaced atomically on every mutation.
type Store struct {
	mu   sync.Mutex
	path string
}

// NewStore opens (or will create on first write) the trainset file at path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Put adds an example, replacing any stored example with the same SourceID.
// The example's SourceHash and AddedAt are filled in here.
func (s *Store) Put(ex Example) error {
	if ex.SourceID == "" {
		return fmt.Errorf("trainset: source id must not be empty")
	}
	if ex.FullScript == "" {
		return fmt.Errorf("trainset: full script must not be empty")
	}
	ex.SourceHash = cache.Key(ex.FullScript)
	ex.AddedAt = time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.read()
	if err != nil {
		return err
	}

	replaced := false
	for i := range f.Examples {
		if f.Examples[i].SourceID == ex.SourceID {
			f.Examples[i] = ex
			replaced = true
			break
		}
	}
	if !replaced {
		f.Examples = append(f.Examples, ex)
	}

	return s.write(f)
}

// List returns all examples sorted by SourceID.
func (s *Store) List() ([]Example, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.read()
	if err != nil {
		return nil, err
	}
	sort.Slice(f.Examples, func(i, j int) bool {
		return f.Examples[i].SourceID < f.Examples[j].SourceID
	})
	return f.Examples, nil
}

// Get returns the example for sourceID.
func (s *Store) Get(sourceID string) (Example, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.read()
	if err != nil {
		return Example{}, false, err
	}
	for _, ex := range f.Examples {
		if ex.SourceID == sourceID {
			return ex, true, nil
		}
	}
	return Example{}, false, nil
}

// Latest returns the most recently added example.
func (s *Store) Latest() (Example, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.read()
	if err != nil {
		return Example{}, false, err
	}
	var (
		best  Example
		found bool
	)
	for _, ex := range f.Examples {
		// Ties go to the later entry so same-instant adds resolve stably.
		if !found || !ex.AddedAt.Before(best.AddedAt) {
			best = ex
			found = true
		}
	}
	return best, found, nil
}

func (s *Store) read() (*file, error) {
	raw, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return &file{Version: fileSchemaVersion}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("trainset: read %s: %w", s.path, err)
	}

	var f file
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("trainset: parse %s: %w", s.path, err)
	}
	if f.Version != fileSchemaVersion {
		return nil, fmt.Errorf("trainset: %s has schema version %d, want %d", s.path, f.Version, fileSchemaVersion)
	}
	return &f, nil
}

// write replaces the trainset file atomically (temp + rename).
func (s *Store) write(f *file) error {
	raw, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("trainset: marshal: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("trainset: mkdir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".trainset-*")
	if err != nil {
		return fmt.Errorf("trainset: temp file: %w", err)
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("trainset: write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("trainset: close temp: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("trainset: rename: %w", err)
	}
	return nil
}
