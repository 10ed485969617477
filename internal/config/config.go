// Package config provides the configuration schema, loader, and provider
// registry for the stagehand pipeline.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"stagehand/internal/evaluate"
)

// Duration wraps time.Duration so YAML values like "3s" parse.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(dur)
	return nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for stagehand.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Workspace  WorkspaceConfig  `yaml:"workspace"`
	Monitor    MonitorConfig    `yaml:"monitor"`
	Providers  ProvidersConfig  `yaml:"providers"`
	Segmenter  SegmenterConfig  `yaml:"segmenter"`
	Dialogue   DialogueConfig   `yaml:"dialogue"`
	Evaluation EvaluationConfig `yaml:"evaluation"`
	Optimizer  OptimizerConfig  `yaml:"optimizer"`
	Personas   PersonasConfig   `yaml:"personas"`
}

// WorkspaceConfig holds filesystem layout and logging settings.
type WorkspaceConfig struct {
	// Dir is the root working directory for generated artifacts. Defaults to
	// ".stagehand" under the current directory.
	Dir string `yaml:"dir"`

	// CacheDir overrides the analysis cache location. Defaults to
	// "<dir>/cache".
	CacheDir string `yaml:"cache_dir"`

	// LogsDir overrides where session logs are written. Defaults to
	// "<dir>/sessions".
	LogsDir string `yaml:"logs_dir"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// MonitorConfig controls the optional HTTP endpoint serving health probes and
// Prometheus metrics during long-running commands.
type MonitorConfig struct {
	// ListenAddr is the address to serve /healthz, /readyz and /metrics on
	// (e.g. "127.0.0.1:9090"). Empty disables the endpoint.
	ListenAddr string `yaml:"listen_addr"`
}

// ProvidersConfig declares which LLM backend each pipeline role uses. Each
// field selects a named provider registered in the [Registry].
type ProvidersConfig struct {
	// Generator drives segmentation and card generation.
	Generator ProviderEntry `yaml:"generator"`

	// NPC plays the teaching characters during simulation.
	NPC ProviderEntry `yaml:"npc"`

	// Student plays the simulated learner.
	Student ProviderEntry `yaml:"student"`

	// Evaluator scores finished sessions.
	Evaluator ProviderEntry `yaml:"evaluator"`
}

// ProviderEntry is the common configuration block shared by all pipeline
// roles. The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g. "openai",
	// "anthropic", "ollama").
	Name string `yaml:"name"`

	// Model selects a specific model within the provider (e.g. "gpt-4o").
	Model string `yaml:"model"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint. Leave empty to
	// use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above.
	Options map[string]any `yaml:"options"`

	// Fallbacks lists backends tried in order when this one fails or its
	// circuit breaker is open. Nested fallbacks are ignored.
	Fallbacks []ProviderEntry `yaml:"fallbacks"`
}

// SegmenterConfig tunes script analysis.
type SegmenterConfig struct {
	// MaxInputBytes truncates scripts before segmentation. Zero means no
	// truncation.
	MaxInputBytes int `yaml:"max_input_bytes"`
}

// DialogueConfig tunes the simulation engine.
type DialogueConfig struct {
	// MaxTotalTurns caps a session. Zero keeps the engine default.
	MaxTotalTurns int `yaml:"max_total_turns"`

	// Retries is the per-call retry budget. Negative disables retries; zero
	// keeps the engine default.
	Retries int `yaml:"retries"`

	// RetryBackoff is the base delay between retries.
	RetryBackoff Duration `yaml:"retry_backoff"`
}

// EvaluationConfig carries the scoring rubric. An empty rubric falls back to
// [evaluate.DefaultRubric].
type EvaluationConfig struct {
	Rubric evaluate.Rubric `yaml:"rubric"`
}

// EffectiveRubric returns the configured rubric, or the default when none is
// set.
func (e EvaluationConfig) EffectiveRubric() evaluate.Rubric {
	if len(e.Rubric) == 0 {
		return evaluate.DefaultRubric()
	}
	return e.Rubric
}

// OptimizerConfig tunes optimization runs.
type OptimizerConfig struct {
	// MaxRounds bounds a run. Zero keeps the optimizer default.
	MaxRounds int `yaml:"max_rounds"`

	// MaxDemos caps the few-shot demo set. Zero keeps the optimizer default.
	MaxDemos int `yaml:"max_demos"`

	// EarlyStop ends a run once the best panel score reaches this value.
	// Zero disables early stopping.
	EarlyStop float64 `yaml:"early_stop"`

	// Personas is the evaluation panel. Defaults to the built-in presets.
	Personas []string `yaml:"personas"`
}

// PersonasConfig locates user-defined student personas.
type PersonasConfig struct {
	// CustomDir is a directory of persona YAML files, addressed with the
	// "custom/" id prefix. Empty disables custom personas.
	CustomDir string `yaml:"custom_dir"`
}
