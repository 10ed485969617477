package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"stagehand/internal/config"
)

func TestValidate_InvalidLogLevel(t *testing.T) {
	t.Parallel()
	yaml := `
workspace:
  log_level: loud
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for invalid log level, got nil")
	}
	if !strings.Contains(err.Error(), "log_level") {
		t.Errorf("error should mention log_level, got: %v", err)
	}
}

func TestValidate_ModelRequiredWithName(t *testing.T) {
	t.Parallel()
	yaml := `
providers:
  generator:
    name: openai
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for missing model, got nil")
	}
	if !strings.Contains(err.Error(), "providers.generator.model") {
		t.Errorf("error should mention providers.generator.model, got: %v", err)
	}
}

func TestValidate_RubricWeights(t *testing.T) {
	t.Parallel()
	yaml := `
evaluation:
  rubric:
    - name: goal_attainment
      weight: 0.5
    - name: flow_adherence
      weight: 0.3
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for weights not summing to 1, got nil")
	}
	if !strings.Contains(err.Error(), "evaluation.rubric") {
		t.Errorf("error should mention evaluation.rubric, got: %v", err)
	}
}

func TestValidate_JoinsMultipleErrors(t *testing.T) {
	t.Parallel()
	yaml := `
workspace:
  log_level: loud
optimizer:
  max_rounds: -1
  early_stop: 150
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected errors, got nil")
	}
	for _, want := range []string{"log_level", "max_rounds", "early_stop"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should mention %s, got: %v", want, err)
		}
	}
}

func TestLoadFromReader_UnknownFieldsRejected(t *testing.T) {
	t.Parallel()
	yaml := `
workspase:
  dir: /tmp
`
	if _, err := config.LoadFromReader(strings.NewReader(yaml)); err == nil {
		t.Fatal("expected error for unknown top-level field, got nil")
	}
}

func TestLoad_File(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("workspace:\n  dir: /tmp/sh\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Workspace.Dir != "/tmp/sh" {
		t.Errorf("unexpected dir: %s", cfg.Workspace.Dir)
	}

	if _, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
