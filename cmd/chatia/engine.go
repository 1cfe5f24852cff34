package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/helenomaffra-crypto/Chat-IA2-Independente-sub000/internal/agent"
	"github.com/helenomaffra-crypto/Chat-IA2-Independente-sub000/internal/agent/providers"
	"github.com/helenomaffra-crypto/Chat-IA2-Independente-sub000/internal/agent/routing"
	"github.com/helenomaffra-crypto/Chat-IA2-Independente-sub000/internal/config"
	"github.com/helenomaffra-crypto/Chat-IA2-Independente-sub000/internal/conversation"
	"github.com/helenomaffra-crypto/Chat-IA2-Independente-sub000/internal/observability"
	"github.com/helenomaffra-crypto/Chat-IA2-Independente-sub000/internal/policy"
	"github.com/helenomaffra-crypto/Chat-IA2-Independente-sub000/internal/sessions"
	"github.com/helenomaffra-crypto/Chat-IA2-Independente-sub000/internal/tools"
	"github.com/helenomaffra-crypto/Chat-IA2-Independente-sub000/internal/tools/backend"
)

// providerKeyEnv names the environment variable consulted when a provider has
// no api_key in the config.
var providerKeyEnv = map[string]string{
	"anthropic": "ANTHROPIC_API_KEY",
	"openai":    "OPENAI_API_KEY",
	"google":    "GEMINI_API_KEY",
}

// engine is the wired conversation stack.
type engine struct {
	cfg        *config.Config
	logger     *observability.Logger
	metrics    *observability.Metrics
	registry   *prometheus.Registry
	store      sessions.Store
	backend    *backend.MemoryBackend
	janitor    *sessions.Janitor
	controller *conversation.Controller

	closers []func(context.Context) error
}

type engineOptions struct {
	toolEvents agent.EventCallback
	model      conversation.Model
}

func buildEngine(ctx context.Context, cfg *config.Config, opts engineOptions) (_ *engine, err error) {
	e := &engine{cfg: cfg}
	defer func() {
		if err != nil {
			e.Close(context.Background())
		}
	}()

	e.logger = observability.NewLogger(observability.LogConfig{
		Level:          cfg.Logging.Level,
		Format:         cfg.Logging.Format,
		AddSource:      cfg.Logging.AddSource,
		RedactPatterns: cfg.Logging.RedactPatterns,
	})

	e.registry = prometheus.NewRegistry()
	e.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	e.metrics = observability.NewMetrics(e.registry)

	var tracer *observability.Tracer
	if cfg.Observability.Tracing.Enabled {
		var shutdown func(context.Context) error
		tracer, shutdown = observability.NewTracer(observability.TraceConfig{
			ServiceName:    cfg.Observability.Tracing.ServiceName,
			ServiceVersion: firstNonEmpty(cfg.Observability.Tracing.ServiceVersion, version),
			Environment:    cfg.Observability.Tracing.Environment,
			Endpoint:       cfg.Observability.Tracing.Endpoint,
			SamplingRate:   cfg.Observability.Tracing.SamplingRate,
			Insecure:       cfg.Observability.Tracing.Insecure,
		})
		e.closers = append(e.closers, shutdown)
	}

	toolRegistry := agent.NewToolRegistry(agent.WithMaxCatalog(cfg.Tools.MaxCatalog))
	e.backend = backend.NewMemoryBackend(backend.DemoStatuses(time.Now())...)
	if err := tools.RegisterAll(toolRegistry, e.backend, cfg.Tools.IntentTTL); err != nil {
		return nil, fmt.Errorf("register tools: %w", err)
	}
	orchestrator := agent.NewOrchestrator(toolRegistry,
		agent.ToolExecConfig{PerToolTimeout: cfg.Tools.Timeout, Overrides: cfg.Tools.Timeouts},
		agent.WithExecLogger(e.logger),
		agent.WithExecMetrics(e.metrics),
		agent.WithExecTracer(tracer),
	)

	rules := policy.NewEngine(policy.DefaultRules(policy.Config{
		ClearPhrases:   cfg.Policy.ClearPhrases,
		CancelPhrases:  cfg.Policy.CancelPhrases,
		RefineWords:    cfg.Policy.RefineWords,
		ModeTriggers:   cfg.Policy.ModeTriggers,
		ModeExclusions: cfg.Policy.ModeExclusions,
		ModeWindowTTL:  cfg.Policy.ModeWindowTTL,
	}), policy.WithLogger(e.logger))

	model := opts.model
	if model == nil {
		providerSet, err := buildProviders(ctx, cfg.LLM, e.logger)
		if err != nil {
			return nil, err
		}
		model = routing.NewRouter(routerConfig(cfg), providerSet,
			routing.WithLogger(e.logger.Slog()),
			routing.WithMetrics(e.metrics),
			routing.WithTracer(tracer),
		)
	}

	if e.store, err = buildStore(ctx, cfg.Session, e.logger, e.metrics); err != nil {
		return nil, err
	}
	e.closers = append(e.closers, func(context.Context) error { return e.store.Close() })

	locker, err := buildLocker(ctx, cfg.Session.Locker, e)
	if err != nil {
		return nil, err
	}

	if cfg.Session.Janitor.Enabled {
		e.janitor, err = sessions.NewJanitor(e.store, cfg.Session.Janitor.Schedule, cfg.Session.Janitor.Retention, e.logger)
		if err != nil {
			return nil, err
		}
		e.janitor.Start()
		e.closers = append(e.closers, e.janitor.Stop)
	}

	convCfg := conversation.Config{
		SystemPrompt:         cfg.Conversation.SystemPrompt,
		FallbackText:         cfg.Conversation.FallbackText,
		NothingToConfirmText: cfg.Conversation.NothingToConfirmText,
		RateLimitedText:      cfg.Conversation.RateLimitedText,
		MaxHistory:           cfg.Conversation.MaxHistory,
		IntentTTL:            cfg.Tools.IntentTTL,
		RateLimit:            cfg.Conversation.RateLimit,
		RateBurst:            cfg.Conversation.RateBurst,
	}
	convOpts := []conversation.Option{
		conversation.WithLogger(e.logger),
		conversation.WithMetrics(e.metrics),
		conversation.WithTracer(tracer),
	}
	if opts.toolEvents != nil {
		convOpts = append(convOpts, conversation.WithToolEvents(opts.toolEvents))
	}
	e.controller, err = conversation.New(conversation.Deps{
		Policy:       rules,
		Store:        e.store,
		Orchestrator: orchestrator,
		Model:        model,
		Locker:       locker,
	}, convCfg, convOpts...)
	if err != nil {
		return nil, err
	}
	return e, nil
}

// Close releases resources in reverse order of acquisition.
func (e *engine) Close(ctx context.Context) error {
	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	e.closers = nil
	return errors.Join(errs...)
}

func buildProviders(ctx context.Context, cfg config.LLMConfig, logger *observability.Logger) (map[string]agent.LLMProvider, error) {
	configured := cfg.Providers
	if len(configured) == 0 {
		configured = map[string]config.LLMProviderConfig{cfg.DefaultProvider: {}}
	}

	names := make([]string, 0, len(configured))
	for name := range configured {
		names = append(names, name)
	}
	sort.Strings(names)

	set := make(map[string]agent.LLMProvider, len(names))
	for _, name := range names {
		pc := configured[name]
		key := pc.APIKey
		if key == "" {
			key = os.Getenv(providerKeyEnv[name])
		}
		if key == "" {
			logger.Warn(ctx, "provider has no API key, skipping", "provider", name, "env", providerKeyEnv[name])
			continue
		}

		var (
			p   agent.LLMProvider
			err error
		)
		switch name {
		case "anthropic":
			p, err = providers.NewAnthropicProvider(providers.AnthropicConfig{APIKey: key, BaseURL: pc.BaseURL, DefaultModel: pc.DefaultModel})
		case "openai":
			p, err = providers.NewOpenAIProvider(providers.OpenAIConfig{APIKey: key, BaseURL: pc.BaseURL, DefaultModel: pc.DefaultModel})
		case "google":
			p, err = providers.NewGoogleProvider(providers.GoogleConfig{APIKey: key, DefaultModel: pc.DefaultModel})
		default:
			err = fmt.Errorf("unknown provider %q", name)
		}
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", name, err)
		}
		set[name] = p
	}
	if len(set) == 0 {
		logger.Warn(ctx, "no LLM provider available; free-text turns will use the fallback reply")
	}
	return set, nil
}

func routerConfig(cfg *config.Config) routing.Config {
	profiles := make(map[routing.Profile]routing.ProfileConfig, len(cfg.LLM.Profiles))
	for name, p := range cfg.LLM.Profiles {
		profiles[routing.Profile(name)] = routing.ProfileConfig{
			Provider:    p.Provider,
			Model:       p.Model,
			Temperature: p.Temperature,
			Timeout:     p.Timeout,
			MaxTokens:   p.MaxTokens,
		}
	}
	return routing.Config{
		DefaultProvider: cfg.LLM.DefaultProvider,
		Profiles:        profiles,
		MaxCatalog:      cfg.Tools.MaxCatalog,
		Classifier:      routing.NewClassifier(),
	}
}

func sessionDBConfig(cfg config.SessionConfig) sessions.DBConfig {
	db := sessions.DefaultDBConfig()
	db.Driver = cfg.Driver
	db.DSN = cfg.DSN
	if cfg.MaxOpenConns > 0 {
		db.MaxOpenConns = cfg.MaxOpenConns
	}
	if cfg.MaxIdleConns > 0 {
		db.MaxIdleConns = cfg.MaxIdleConns
	}
	if cfg.ConnMaxLifetime > 0 {
		db.ConnMaxLifetime = cfg.ConnMaxLifetime
	}
	db.AutoMigrate = cfg.Migrate == "auto"
	return db
}

func buildStore(ctx context.Context, cfg config.SessionConfig, logger *observability.Logger, metrics *observability.Metrics) (sessions.Store, error) {
	var store sessions.Store
	if cfg.Driver == "memory" {
		store = sessions.NewMemoryStore()
	} else {
		sqlStore, err := sessions.Open(ctx, sessionDBConfig(cfg),
			sessions.WithLogger(logger),
			sessions.WithMetrics(metrics),
		)
		if err != nil {
			return nil, fmt.Errorf("open session store: %w", err)
		}
		store = sqlStore
	}
	if cfg.CacheTTL > 0 {
		store = sessions.NewCachedStore(store, cfg.CacheTTL, time.Now)
	}
	return store, nil
}

func buildLocker(ctx context.Context, cfg config.LockerConfig, e *engine) (sessions.Locker, error) {
	if cfg.Backend != "redis" {
		return sessions.NewLocalLocker(cfg.Timeout), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	e.closers = append(e.closers, func(context.Context) error { return client.Close() })
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Redis.Addr, err)
	}

	lc := sessions.DefaultRedisLockerConfig()
	lc.Prefix = cfg.Redis.Prefix
	if cfg.Redis.LeaseTTL > 0 {
		lc.TTL = cfg.Redis.LeaseTTL
	}
	if cfg.Timeout > 0 {
		lc.AcquireTimeout = cfg.Timeout
	}
	locker, err := sessions.NewRedisLocker(client, lc)
	if err != nil {
		return nil, err
	}
	return locker, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
