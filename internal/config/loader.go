package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known LLM provider names. Used by [Validate] to
// warn about unrecognised names.
var ValidProviderNames = []string{
	"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile",
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. Useful in tests where configs are constructed from string
// literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills in the workspace layout fields that derive from
// Workspace.Dir.
func ApplyDefaults(cfg *Config) {
	if cfg.Workspace.Dir == "" {
		cfg.Workspace.Dir = ".stagehand"
	}
	if cfg.Workspace.CacheDir == "" {
		cfg.Workspace.CacheDir = filepath.Join(cfg.Workspace.Dir, "cache")
	}
	if cfg.Workspace.LogsDir == "" {
		cfg.Workspace.LogsDir = filepath.Join(cfg.Workspace.Dir, "sessions")
	}
	if cfg.Workspace.LogLevel == "" {
		cfg.Workspace.LogLevel = LogInfo
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Workspace.LogLevel != "" && !cfg.Workspace.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("workspace.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Workspace.LogLevel))
	}

	for _, role := range []struct {
		name  string
		entry ProviderEntry
	}{
		{"generator", cfg.Providers.Generator},
		{"npc", cfg.Providers.NPC},
		{"student", cfg.Providers.Student},
		{"evaluator", cfg.Providers.Evaluator},
	} {
		validateProviderName(role.name, role.entry.Name)
		if role.entry.Name != "" && role.entry.Model == "" {
			errs = append(errs, fmt.Errorf("providers.%s.model is required when providers.%s.name is set", role.name, role.name))
		}
		for i, fb := range role.entry.Fallbacks {
			validateProviderName(role.name, fb.Name)
			if fb.Name == "" || fb.Model == "" {
				errs = append(errs, fmt.Errorf("providers.%s.fallbacks[%d] needs both name and model", role.name, i))
			}
		}
	}

	if cfg.Providers.Generator.Name == "" {
		slog.Warn("no generator provider configured; analysis and card generation will not be available")
	}
	if cfg.Providers.NPC.Name == "" || cfg.Providers.Student.Name == "" {
		slog.Warn("npc or student provider missing; simulation will not be available")
	}

	if cfg.Segmenter.MaxInputBytes < 0 {
		errs = append(errs, fmt.Errorf("segmenter.max_input_bytes must not be negative, got %d", cfg.Segmenter.MaxInputBytes))
	}

	if cfg.Dialogue.MaxTotalTurns < 0 {
		errs = append(errs, fmt.Errorf("dialogue.max_total_turns must not be negative, got %d", cfg.Dialogue.MaxTotalTurns))
	}
	if cfg.Dialogue.RetryBackoff < 0 {
		errs = append(errs, fmt.Errorf("dialogue.retry_backoff must not be negative, got %s", cfg.Dialogue.RetryBackoff))
	}

	if len(cfg.Evaluation.Rubric) > 0 {
		if err := cfg.Evaluation.Rubric.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("evaluation.rubric: %w", err))
		}
	}

	if cfg.Optimizer.MaxRounds < 0 {
		errs = append(errs, fmt.Errorf("optimizer.max_rounds must not be negative, got %d", cfg.Optimizer.MaxRounds))
	}
	if cfg.Optimizer.MaxDemos < 0 {
		errs = append(errs, fmt.Errorf("optimizer.max_demos must not be negative, got %d", cfg.Optimizer.MaxDemos))
	}
	if cfg.Optimizer.EarlyStop < 0 || cfg.Optimizer.EarlyStop > 100 {
		errs = append(errs, fmt.Errorf("optimizer.early_stop %.2f is out of range [0, 100]", cfg.Optimizer.EarlyStop))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// [ValidProviderNames].
func validateProviderName(role, name string) {
	if name == "" || slices.Contains(ValidProviderNames, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"role", role,
		"name", name,
		"known", ValidProviderNames,
	)
}
