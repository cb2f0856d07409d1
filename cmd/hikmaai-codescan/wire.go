// ABOUTME: Builds the orchestrator and its collaborators from configuration
// ABOUTME: Shared by the analyze, chat, daemon, and cache commands

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/hikmaai-io/hikmaai-codescan/internal/cache"
	"github.com/hikmaai-io/hikmaai-codescan/internal/chat"
	"github.com/hikmaai-io/hikmaai-codescan/internal/config"
	"github.com/hikmaai-io/hikmaai-codescan/internal/generative"
	"github.com/hikmaai-io/hikmaai-codescan/internal/observability"
	"github.com/hikmaai-io/hikmaai-codescan/internal/orchestrator"
	"github.com/hikmaai-io/hikmaai-codescan/internal/providers"
	"github.com/hikmaai-io/hikmaai-codescan/internal/resilience"
	"github.com/hikmaai-io/hikmaai-codescan/internal/types"
)

// loadConfig reads the config file and applies the global flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}
	return cfg, nil
}

func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	return observability.NewLogger(observability.LoggingConfig{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		ServiceName: "hikmaai-codescan",
		Version:     version,
	}, w)
}

// app holds everything built from configuration.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	metrics  *observability.Metrics
	audit    *observability.AuditLogger
	breakers *resilience.Registry
	cache    cache.Cache
	backend  generative.Backend
	analyzer *generative.Analyzer
	orch     *orchestrator.Orchestrator
}

// buildApp validates cfg for the analyses in opts and wires the orchestrator.
// Missing credentials fail here, before any file is analyzed.
func buildApp(ctx context.Context, cfg *config.Config, opts types.AnalysisOptions, logger *slog.Logger) (*app, error) {
	if err := cfg.Validate(opts); err != nil {
		var ce *config.ConfigurationError
		if errors.As(err, &ce) {
			logger.ErrorContext(ctx, "configuration rejected", slog.Any("error", ce.ErrorContext()))
		}
		return nil, err
	}

	a := &app{
		cfg:     cfg,
		logger:  logger,
		metrics: observability.NewMetrics(),
		audit:   observability.NewAuditLogger(logger),
		breakers: resilience.NewRegistry(resilience.CircuitBreakerConfig{
			MaxFailures:  cfg.Breaker.MaxFailures,
			ResetTimeout: cfg.Breaker.ResetTimeout,
			Logger:       logger,
		}),
	}

	var analyzer orchestrator.GenerativeAnalyzer
	if cfg.Generative.APIKey() != "" {
		backend, err := buildBackend(ctx, cfg.Generative)
		if err != nil {
			return nil, err
		}
		ga, err := generative.NewAnalyzer(generative.AnalyzerConfig{
			Backend:       backend,
			ExcerptLength: cfg.Generative.ExcerptLength,
			Logger:        logger,
		})
		if err != nil {
			return nil, err
		}
		a.backend = backend
		a.analyzer = ga
		analyzer = ga
	}

	c, err := openCache(cfg, logger)
	if err != nil {
		return nil, err
	}
	a.cache = c

	var reportCache orchestrator.ReportCache
	if c != nil {
		reportCache = c
	}

	a.orch = orchestrator.New(orchestrator.Config{
		Adapters:         buildAdapters(cfg.Providers, logger),
		Generative:       analyzer,
		Cache:            reportCache,
		Breakers:         a.breakers,
		ProviderRetry:    cfg.Providers.GetRetry().Backoff(),
		BatchConcurrency: cfg.Batch.Concurrency,
		ExcerptLength:    cfg.Generative.ExcerptLength,
		Metrics:          a.metrics,
		Audit:            a.audit,
		Logger:           logger,
	})
	return a, nil
}

// Close releases the cache.
func (a *app) Close() error {
	if a.cache != nil {
		return a.cache.Close()
	}
	return nil
}

// sessionConfig is the template for chat sessions.
func (a *app) sessionConfig() chat.SessionConfig {
	return chat.SessionConfig{
		Backend:   a.backend,
		Retry:     a.cfg.Chat.Retry.Backoff(),
		MaxTurns:  a.cfg.Chat.MaxTurns,
		BusyDelay: a.cfg.Chat.BusyDelay,
		Metrics:   a.metrics,
		Audit:     a.audit,
		Logger:    a.logger,
	}
}

// buildAdapters creates an adapter for every provider with a key.
func buildAdapters(cfg config.ProvidersConfig, logger *slog.Logger) []providers.Adapter {
	client := &http.Client{Timeout: cfg.Timeout}

	var adapters []providers.Adapter
	if vt := cfg.VirusTotal; vt.APIKey != "" {
		adapters = append(adapters, providers.NewVirusTotal(providers.VirusTotalConfig{
			APIKey:          vt.APIKey,
			BaseURL:         vt.BaseURL,
			PollInterval:    vt.PollInterval,
			MaxPollAttempts: vt.MaxPollAttempts,
			HTTPClient:      client,
			Logger:          logger,
		}))
	}
	if ms := cfg.MalShare; ms.APIKey != "" {
		adapters = append(adapters, providers.NewMalShare(providers.MalShareConfig{
			APIKey:     ms.APIKey,
			URL:        ms.BaseURL,
			HTTPClient: client,
			Logger:     logger,
		}))
	}
	if ha := cfg.HybridAnalysis; ha.APIKey != "" {
		adapters = append(adapters, providers.NewHybridAnalysis(providers.HybridAnalysisConfig{
			APIKey:          ha.APIKey,
			BaseURL:         ha.BaseURL,
			EnvironmentID:   ha.EnvironmentID,
			PollInterval:    ha.PollInterval,
			MaxPollAttempts: ha.MaxPollAttempts,
			HTTPClient:      client,
			Logger:          logger,
		}))
	}
	return adapters
}

func buildBackend(ctx context.Context, cfg config.GenerativeConfig) (generative.Backend, error) {
	switch cfg.Backend {
	case config.BackendOpenAI:
		return generative.NewOpenAIBackend(generative.OpenAIConfig{
			APIKey:    cfg.OpenAI.APIKey,
			Model:     cfg.OpenAI.Model,
			BaseURL:   cfg.OpenAI.BaseURL,
			MaxTokens: cfg.OpenAI.MaxTokens,
		})
	case config.BackendGemini:
		return generative.NewGeminiBackend(ctx, generative.GeminiConfig{
			APIKey:  cfg.Gemini.APIKey,
			Model:   cfg.Gemini.Model,
			BaseURL: cfg.Gemini.BaseURL,
		})
	default:
		return nil, fmt.Errorf("unknown generative backend %q", cfg.Backend)
	}
}

// openCache opens the configured report cache; "none" returns nil.
func openCache(cfg *config.Config, logger *slog.Logger) (cache.Cache, error) {
	switch cfg.Cache.Backend {
	case config.CacheNone:
		return nil, nil
	case config.CacheRedis:
		c, err := cache.NewRedisCache(cache.RedisConfig{
			Addr:     cfg.Cache.Redis.Addr,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
			Prefix:   cfg.Cache.Redis.Prefix,
			TTL:      cfg.Cache.TTL,
		})
		if err != nil {
			return nil, fmt.Errorf("opening redis cache: %w", err)
		}
		return c, nil
	default:
		dir := filepath.Join(cfg.DataDir, "cache")
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating cache directory: %w", err)
		}
		c, err := cache.NewBadgerCache(cache.BadgerConfig{
			Path:   dir,
			TTL:    cfg.Cache.TTL,
			Logger: logger,
		})
		if err != nil {
			return nil, fmt.Errorf("opening badger cache: %w", err)
		}
		return c, nil
	}
}

// setupTracing installs the tracer provider described by cfg.
func setupTracing(ctx context.Context, cfg *config.Config) (*observability.TracerProvider, error) {
	return observability.NewTracerProvider(ctx, observability.TracingConfig{
		Enabled:       cfg.Tracing.Enabled,
		ServiceName:   "hikmaai-codescan",
		Version:       version,
		Endpoint:      cfg.Tracing.Endpoint,
		Insecure:      cfg.Tracing.Insecure,
		SamplingRatio: cfg.Tracing.SamplingRatio,
	})
}
