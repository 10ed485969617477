package config_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"stagehand/internal/config"
	"stagehand/pkg/provider/llm"
	llmmock "stagehand/pkg/provider/llm/mock"
)

const sampleYAML = `
workspace:
  dir: /tmp/stagehand
  log_level: debug

providers:
  generator:
    name: openai
    api_key: sk-test
    model: gpt-4o
  npc:
    name: openai
    api_key: sk-test
    model: gpt-4o
  student:
    name: ollama
    model: llama3
    base_url: http://localhost:11434
  evaluator:
    name: deepseek
    api_key: ds-test
    model: deepseek-chat

segmenter:
  max_input_bytes: 200000

dialogue:
  max_total_turns: 40
  retries: 2
  retry_backoff: 3s

optimizer:
  max_rounds: 4
  max_demos: 2
  early_stop: 85
  personas: [excellent, average, struggling]

personas:
  custom_dir: ./personas
`

func TestLoadFromReader_Sample(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Workspace.LogLevel != config.LogDebug {
		t.Errorf("unexpected log level: %s", cfg.Workspace.LogLevel)
	}
	if cfg.Providers.Student.BaseURL != "http://localhost:11434" {
		t.Errorf("unexpected student base url: %s", cfg.Providers.Student.BaseURL)
	}
	if cfg.Dialogue.RetryBackoff.Std() != 3*time.Second {
		t.Errorf("unexpected retry backoff: %s", cfg.Dialogue.RetryBackoff)
	}
	if cfg.Optimizer.EarlyStop != 85 {
		t.Errorf("unexpected early stop: %g", cfg.Optimizer.EarlyStop)
	}
	if len(cfg.Optimizer.Personas) != 3 {
		t.Errorf("unexpected panel size: %d", len(cfg.Optimizer.Personas))
	}
}

func TestApplyDefaults_WorkspaceLayout(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader("workspace:\n  dir: /data/sh\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Workspace.CacheDir != "/data/sh/cache" {
		t.Errorf("unexpected cache dir: %s", cfg.Workspace.CacheDir)
	}
	if cfg.Workspace.LogsDir != "/data/sh/sessions" {
		t.Errorf("unexpected logs dir: %s", cfg.Workspace.LogsDir)
	}
	if cfg.Workspace.LogLevel != config.LogInfo {
		t.Errorf("expected default log level info, got %s", cfg.Workspace.LogLevel)
	}
}

func TestEffectiveRubric_DefaultsWhenEmpty(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rubric := cfg.Evaluation.EffectiveRubric()
	if len(rubric) == 0 {
		t.Fatal("expected the default rubric")
	}
	if err := rubric.Validate(); err != nil {
		t.Errorf("default rubric must validate: %v", err)
	}
}

func TestRegistry_CreateAndMissing(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	reg.Register("mock", func(entry config.ProviderEntry) (llm.Provider, error) {
		return &llmmock.Provider{}, nil
	})

	if _, err := reg.Create(config.ProviderEntry{Name: "mock"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err := reg.Create(config.ProviderEntry{Name: "nope"})
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("expected ErrProviderNotRegistered, got %v", err)
	}
}
