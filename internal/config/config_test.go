// ABOUTME: Tests for configuration loading, environment overrides, and validation
// ABOUTME: Validates defaults, YAML parsing, and credential checks per enabled analysis

package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/hikmaai-io/hikmaai-codescan/internal/backoff"
	"github.com/hikmaai-io/hikmaai-codescan/internal/observability"
	"github.com/hikmaai-io/hikmaai-codescan/internal/types"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()

	if cfg.HTTP.Addr != "" {
		t.Errorf("HTTP.Addr = %q, want disabled", cfg.HTTP.Addr)
	}
	if cfg.HTTP.MaxContentBytes != 5<<20 {
		t.Errorf("HTTP.MaxContentBytes = %d, want 5 MiB", cfg.HTTP.MaxContentBytes)
	}
	if cfg.NATS.URL != "" || cfg.NATS.Subject != "hikma.codescan.analyze" {
		t.Errorf("NATS = %+v", cfg.NATS)
	}
	if cfg.Cache.Backend != CacheBadger || cfg.Cache.TTL != 24*time.Hour {
		t.Errorf("Cache = %+v", cfg.Cache)
	}
	if cfg.Chat.MaxTurns != 50 || cfg.Chat.BusyDelay != time.Second {
		t.Errorf("Chat = %+v", cfg.Chat)
	}
	want := backoff.Config{MaxAttempts: 5, InitialDelay: time.Second, MaxDelay: 10 * time.Second, Multiplier: 2}
	if diff := cmp.Diff(want, cfg.Chat.Retry.Backoff()); diff != "" {
		t.Errorf("chat backoff mismatch (-want +got):\n%s", diff)
	}
	if cfg.Providers.HybridAnalysis.EnvironmentID != 160 {
		t.Errorf("HybridAnalysis.EnvironmentID = %d", cfg.Providers.HybridAnalysis.EnvironmentID)
	}
}

func TestProvidersConfig_GetRetry(t *testing.T) {
	t.Parallel()

	t.Run("uses_default_retry", func(t *testing.T) {
		t.Parallel()

		cfg := DefaultProvidersConfig()
		if got := cfg.GetRetry().MaxAttempts; got != 2 {
			t.Errorf("GetRetry().MaxAttempts = %d, want 2", got)
		}
	})

	t.Run("uses_custom_retry", func(t *testing.T) {
		t.Parallel()

		cfg := DefaultProvidersConfig()
		cfg.Retry = &RetryConfig{MaxAttempts: 4, InitialDelay: time.Minute}
		got := cfg.GetRetry()
		if got.MaxAttempts != 4 || got.InitialDelay != time.Minute {
			t.Errorf("GetRetry() = %+v", got)
		}
	})
}

func TestLoad(t *testing.T) {
	// Not parallel: t.Setenv.
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yml := `
log:
  level: debug
http:
  addr: ":9090"
providers:
  virustotal:
    api_key: from-file
    poll_interval: 2s
  hybrid_analysis:
    max_poll_attempts: 3
generative:
  backend: openai
  openai:
    model: llama3
cache:
  backend: redis
  ttl: 1h
chat:
  retry:
    max_attempts: 3
`
	if err := os.WriteFile(path, []byte(yml), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	t.Setenv(EnvVirusTotalKey, "from-env")
	t.Setenv(EnvOpenAIKey, "sk-env")
	t.Setenv(EnvMalShareKey, "")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	checks := []struct {
		name string
		got  any
		want any
	}{
		{"log level", cfg.Log.Level, "debug"},
		{"http addr", cfg.HTTP.Addr, ":9090"},
		{"env beats file", cfg.Providers.VirusTotal.APIKey, "from-env"},
		{"poll interval", cfg.Providers.VirusTotal.PollInterval, 2 * time.Second},
		{"hybrid attempts", cfg.Providers.HybridAnalysis.MaxPollAttempts, 3},
		{"hybrid env kept", cfg.Providers.HybridAnalysis.EnvironmentID, 160},
		{"backend", cfg.Generative.Backend, BackendOpenAI},
		{"openai model", cfg.Generative.OpenAI.Model, "llama3"},
		{"openai key", cfg.Generative.APIKey(), "sk-env"},
		{"cache ttl", cfg.Cache.TTL, time.Hour},
		{"chat attempts", cfg.Chat.Retry.MaxAttempts, 3},
		{"empty env ignored", cfg.Providers.MalShare.APIKey, ""},
	}
	for _, c := range checks {
		if !cmp.Equal(c.got, c.want) {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
}

func TestLoad_Errors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	if _, err := Load(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("Load() with a missing explicit path should fail")
	}

	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("log: [unclosed"), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	if _, err := Load(bad); err == nil {
		t.Error("Load() with invalid YAML should fail")
	}
}

func TestApplyEnv(t *testing.T) {
	t.Parallel()

	env := map[string]string{
		EnvVirusTotalKey:     "vt",
		EnvHybridAnalysisKey: "ha",
		EnvMalShareKey:       "  ms  ",
		EnvGeminiKey:         "gm",
		EnvRedisAddr:         "redis:6379",
		EnvNATSURL:           "nats://nats:4222",
	}
	cfg := DefaultConfig()
	cfg.ApplyEnv(func(k string) string { return env[k] })

	got := []string{
		cfg.Providers.VirusTotal.APIKey,
		cfg.Providers.HybridAnalysis.APIKey,
		cfg.Providers.MalShare.APIKey,
		cfg.Generative.Gemini.APIKey,
		cfg.Cache.Redis.Addr,
		cfg.NATS.URL,
	}
	want := []string{"vt", "ha", "ms", "gm", "redis:6379", "nats://nats:4222"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ApplyEnv mismatch (-want +got):\n%s", diff)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	full := func() *Config {
		cfg := DefaultConfig()
		cfg.Providers.VirusTotal.APIKey = "vt"
		cfg.Providers.HybridAnalysis.APIKey = "ha"
		cfg.Providers.MalShare.APIKey = "ms"
		cfg.Generative.Gemini.APIKey = "gm"
		return cfg
	}

	tests := []struct {
		name         string
		mutate       func(*Config)
		opts         types.AnalysisOptions
		wantMissing  []string
		wantProblems int
	}{
		{name: "all set", mutate: func(*Config) {}, opts: types.AllOptions()},
		{
			name:        "malware keys missing",
			mutate:      func(c *Config) { c.Providers.VirusTotal.APIKey = ""; c.Providers.MalShare.APIKey = "" },
			opts:        types.AnalysisOptions{Malware: true},
			wantMissing: []string{EnvVirusTotalKey, EnvMalShareKey},
		},
		{
			name:   "malware keys not needed",
			mutate: func(c *Config) { c.Providers = DefaultProvidersConfig() },
			opts:   types.AnalysisOptions{Security: true},
		},
		{
			name:        "gemini key missing",
			mutate:      func(c *Config) { c.Generative.Gemini.APIKey = "" },
			opts:        types.AnalysisOptions{PromptInjection: true},
			wantMissing: []string{EnvGeminiKey},
		},
		{
			name:        "openai key missing",
			mutate:      func(c *Config) { c.Generative.Backend = BackendOpenAI },
			opts:        types.AnalysisOptions{Generative: true},
			wantMissing: []string{EnvOpenAIKey},
		},
		{
			name:         "unknown backends",
			mutate:       func(c *Config) { c.Generative.Backend = "claude"; c.Cache.Backend = "memcached" },
			opts:         types.AllOptions(),
			wantProblems: 2,
		},
		{
			name:         "bad log level",
			mutate:       func(c *Config) { c.Log.Level = "loud" },
			opts:         types.AnalysisOptions{},
			wantProblems: 1,
		},
		{
			name:        "redis without address",
			mutate:      func(c *Config) { c.Cache.Backend = CacheRedis; c.Cache.Redis.Addr = "" },
			opts:        types.AnalysisOptions{},
			wantMissing: []string{"cache.redis.addr"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := full()
			tt.mutate(cfg)
			err := cfg.Validate(tt.opts)

			if len(tt.wantMissing) == 0 && tt.wantProblems == 0 {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}

			var ce *ConfigurationError
			if !errors.As(err, &ce) {
				t.Fatalf("Validate() error = %v, want *ConfigurationError", err)
			}
			if diff := cmp.Diff(tt.wantMissing, ce.Missing); diff != "" {
				t.Errorf("Missing mismatch (-want +got):\n%s", diff)
			}
			if len(ce.Problems) != tt.wantProblems {
				t.Errorf("Problems = %v, want %d", ce.Problems, tt.wantProblems)
			}
			if ec := ce.ErrorContext(); ec.Code != observability.CodeConfiguration {
				t.Errorf("ErrorContext().Code = %q", ec.Code)
			}
		})
	}
}
