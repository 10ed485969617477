package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"stagehand/internal/cache"
	"stagehand/internal/cards"
	"stagehand/internal/config"
	"stagehand/internal/dialogue"
	"stagehand/internal/evaluate"
	"stagehand/internal/health"
	"stagehand/internal/loop"
	"stagehand/internal/observe"
	"stagehand/internal/persona"
	"stagehand/internal/resilience"
	"stagehand/internal/segment"
	"stagehand/pkg/provider/llm"
	"stagehand/pkg/provider/llm/anyllm"
	"stagehand/pkg/provider/llm/openai"
)

// runtime holds everything a command needs, built once per invocation from the
// loaded configuration. Roles without a configured provider leave the
// corresponding fields nil; commands guard with the require* helpers.
type runtime struct {
	cfg      *config.Config
	personas *persona.Manager
	svc      *loop.Service

	structured *cards.StructuredGenerator
	engine     *dialogue.Engine
	evaluator  *evaluate.Evaluator

	shutdown func(context.Context) error
}

func newRuntime(ctx context.Context) (*runtime, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config file %q not found, copy configs/example.yaml to get started", configPath)
		}
		return nil, err
	}

	slog.SetDefault(newLogger(cfg.Workspace.LogLevel))

	shutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	generator, err := buildProvider(reg, "generator", cfg.Providers.Generator)
	if err != nil {
		return nil, err
	}
	npc, err := buildProvider(reg, "npc", cfg.Providers.NPC)
	if err != nil {
		return nil, err
	}
	student, err := buildProvider(reg, "student", cfg.Providers.Student)
	if err != nil {
		return nil, err
	}
	judge, err := buildProvider(reg, "evaluator", cfg.Providers.Evaluator)
	if err != nil {
		return nil, err
	}

	personas, err := persona.NewManager(cfg.Personas.CustomDir)
	if err != nil {
		return nil, err
	}

	rt := &runtime{cfg: cfg, personas: personas, shutdown: shutdown}

	registry := cards.NewRegistry()
	var segmenter *segment.Segmenter
	if generator != nil {
		segmenter = segment.NewSegmenter(generator, cfg.Segmenter.MaxInputBytes)
		if err := registry.Register(cards.NewTemplateGenerator(generator)); err != nil {
			return nil, err
		}
		rt.structured = cards.NewStructuredGenerator(generator, cards.NewProgram())
		if err := registry.Register(rt.structured); err != nil {
			return nil, err
		}
	}

	if npc != nil && student != nil {
		rt.engine = dialogue.NewEngine(npc, student)
		if cfg.Dialogue.MaxTotalTurns > 0 {
			rt.engine.MaxTotalTurns = cfg.Dialogue.MaxTotalTurns
		}
		switch {
		case cfg.Dialogue.Retries < 0:
			rt.engine.Retries = 0
		case cfg.Dialogue.Retries > 0:
			rt.engine.Retries = cfg.Dialogue.Retries
		}
		if cfg.Dialogue.RetryBackoff > 0 {
			rt.engine.RetryBackoff = cfg.Dialogue.RetryBackoff.Std()
		}
	}

	if judge != nil {
		rt.evaluator = evaluate.NewEvaluator(judge, cfg.Evaluation.EffectiveRubric())
	}

	if cfg.Monitor.ListenAddr != "" {
		anyProvider := generator != nil || npc != nil || student != nil || judge != nil
		if err := startMonitor(ctx, cfg, anyProvider); err != nil {
			return nil, err
		}
	}

	rt.svc = loop.New(loop.Deps{
		Cache:     cache.New(cfg.Workspace.CacheDir),
		Segmenter: segmenter,
		Registry:  registry,
		Personas:  personas,
		Engine:    rt.engine,
		Evaluator: rt.evaluator,
		LogsDir:   cfg.Workspace.LogsDir,
	})
	return rt, nil
}

// startMonitor serves health probes and Prometheus metrics on the configured
// address for the lifetime of the command. Useful when an optimization run is
// supervised by an orchestrator that polls readiness.
func startMonitor(ctx context.Context, cfg *config.Config, anyProvider bool) error {
	if err := os.MkdirAll(cfg.Workspace.Dir, 0o755); err != nil {
		return fmt.Errorf("create workspace dir: %w", err)
	}
	l, err := net.Listen("tcp", cfg.Monitor.ListenAddr)
	if err != nil {
		return fmt.Errorf("monitor: listen on %s: %w", cfg.Monitor.ListenAddr, err)
	}

	probes := health.New(
		health.DirWritable("workspace", cfg.Workspace.Dir),
		health.Checker{Name: "providers", Check: func(context.Context) error {
			if !anyProvider {
				return errors.New("no providers configured")
			}
			return nil
		}},
	)
	slog.Info("monitor listening", "addr", l.Addr().String())
	go func() {
		extra := map[string]http.Handler{"GET /metrics": promhttp.Handler()}
		if err := probes.Serve(ctx, l, extra); err != nil {
			slog.Warn("monitor server error", "err", err)
		}
	}()
	return nil
}

func (r *runtime) Close(ctx context.Context) {
	if r.shutdown != nil {
		if err := r.shutdown(ctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}
}

func (r *runtime) requireGenerator() error {
	if r.structured == nil {
		return fmt.Errorf("providers.generator is not configured")
	}
	return nil
}

func (r *runtime) requireSimulation() error {
	if r.engine == nil {
		return fmt.Errorf("providers.npc and providers.student must both be configured")
	}
	return nil
}

func (r *runtime) requireEvaluator() error {
	if r.evaluator == nil {
		return fmt.Errorf("providers.evaluator is not configured")
	}
	return nil
}

// registerBuiltinProviders wires the built-in LLM backends into reg. The
// "openai" name uses the native client so base_url overrides cover
// OpenAI-compatible endpoints; the rest go through any-llm.
func registerBuiltinProviders(reg *config.Registry) {
	reg.Register("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []openai.Option
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, openai.WithOrganization(org))
		}
		return openai.New(entry.APIKey, entry.Model, opts...)
	})

	for _, providerName := range []string{
		"anthropic", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile",
	} {
		reg.Register(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.Register("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("ollama", entry.Model, opts...)
	})
}

// buildProvider instantiates the provider for one pipeline role. An empty
// entry yields nil so unconfigured roles stay disabled. Entries with
// fallbacks are wrapped in a failover chain with per-backend breakers.
func buildProvider(reg *config.Registry, role string, entry config.ProviderEntry) (llm.Provider, error) {
	if entry.Name == "" {
		return nil, nil
	}
	p, err := reg.Create(entry)
	if err != nil {
		return nil, fmt.Errorf("create %s provider %q: %w", role, entry.Name, err)
	}
	slog.Info("provider created", "role", role, "name", entry.Name, "model", entry.Model)

	if len(entry.Fallbacks) == 0 {
		return p, nil
	}
	chain := resilience.NewFallback(p, entry.Name, resilience.FallbackConfig{})
	for _, fe := range entry.Fallbacks {
		fp, err := reg.Create(fe)
		if err != nil {
			return nil, fmt.Errorf("create %s fallback %q: %w", role, fe.Name, err)
		}
		chain.AddFallback(fe.Name, fp)
		slog.Info("fallback registered", "role", role, "name", fe.Name, "model", fe.Model)
	}
	return chain, nil
}

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// optString extracts a string value from a provider Options map.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	s, _ := opts[key].(string)
	return s
}
