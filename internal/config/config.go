// ABOUTME: Configuration loading and defaults for hikmaai-codescan
// ABOUTME: YAML file, then environment overrides, then validation against the enabled analyses

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hikmaai-io/hikmaai-codescan/internal/observability"
	"github.com/hikmaai-io/hikmaai-codescan/internal/types"
)

// Config holds the complete configuration for hikmaai-codescan.
type Config struct {
	// Data directory for the badger report cache.
	DataDir string `yaml:"data_dir"`

	// HTTP server configuration.
	HTTP HTTPConfig `yaml:"http"`

	// NATS configuration.
	NATS NATSConfig `yaml:"nats"`

	// Logging configuration.
	Log LogConfig `yaml:"log"`

	// Tracing configuration.
	Tracing TracingConfig `yaml:"tracing"`

	// Malware-scan provider configuration.
	Providers ProvidersConfig `yaml:"providers"`

	// Generative backend configuration.
	Generative GenerativeConfig `yaml:"generative"`

	// Chat configuration.
	Chat ChatConfig `yaml:"chat"`

	// Report cache configuration.
	Cache CacheConfig `yaml:"cache"`

	// Circuit breaker configuration shared by every provider.
	Breaker BreakerConfig `yaml:"breaker"`

	// Batch analysis configuration.
	Batch BatchConfig `yaml:"batch"`

	// GCS source loader configuration.
	GCS GCSConfig `yaml:"gcs"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Addr            string   `yaml:"addr"`
	MaxContentBytes int      `yaml:"max_content_bytes"`
	AllowedOrigins  []string `yaml:"allowed_origins"`
}

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
	Queue   string `yaml:"queue"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TracingConfig holds tracing settings.
type TracingConfig struct {
	Enabled       bool    `yaml:"enabled"`
	Endpoint      string  `yaml:"endpoint"`
	Insecure      bool    `yaml:"insecure"`
	SamplingRatio float64 `yaml:"sampling_ratio"`
}

// Generative backend names.
const (
	BackendGemini = "gemini"
	BackendOpenAI = "openai"
)

// GenerativeConfig selects and configures the generative backend.
type GenerativeConfig struct {
	// Backend is gemini or openai.
	Backend string       `yaml:"backend"`
	Gemini  GeminiConfig `yaml:"gemini"`
	OpenAI  OpenAIConfig `yaml:"openai"`

	// ExcerptLength is how much of each sibling file a batch prompt carries.
	ExcerptLength int `yaml:"excerpt_length"`
}

// GeminiConfig holds Gemini settings.
type GeminiConfig struct {
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
}

// OpenAIConfig holds settings for OpenAI or a compatible endpoint.
type OpenAIConfig struct {
	APIKey    string `yaml:"api_key"`
	Model     string `yaml:"model"`
	BaseURL   string `yaml:"base_url"`
	MaxTokens int    `yaml:"max_tokens"`
}

// APIKey returns the key of the selected backend.
func (g GenerativeConfig) APIKey() string {
	if g.Backend == BackendOpenAI {
		return g.OpenAI.APIKey
	}
	return g.Gemini.APIKey
}

// ChatConfig holds chat session settings.
type ChatConfig struct {
	Retry      RetryConfig   `yaml:"retry"`
	MaxTurns   int           `yaml:"max_turns"`
	SessionTTL time.Duration `yaml:"session_ttl"`
	BusyDelay  time.Duration `yaml:"busy_delay"`
}

// Cache backend names.
const (
	CacheBadger = "badger"
	CacheRedis  = "redis"
	CacheNone   = "none"
)

// CacheConfig selects and configures the report cache.
type CacheConfig struct {
	// Backend is badger, redis, or none.
	Backend string        `yaml:"backend"`
	TTL     time.Duration `yaml:"ttl"`
	Redis   RedisConfig   `yaml:"redis"`
}

// RedisConfig holds Redis settings for the shared cache.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// BreakerConfig holds circuit breaker thresholds.
type BreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// BatchConfig holds batch analysis settings.
type BatchConfig struct {
	// Concurrency bounds files analyzed at once; zero means unbounded.
	Concurrency int `yaml:"concurrency"`
}

// GCSConfig holds settings for loading source files from a bucket.
type GCSConfig struct {
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	CredentialsFile string `yaml:"credentials_file"`
	// Endpoint overrides the storage API endpoint, e.g. for an emulator.
	Endpoint string `yaml:"endpoint"`
}

// DefaultConfig returns a Config with default values.
// External services (NATS, tracing, HTTP) are disabled by default.
func DefaultConfig() *Config {
	return &Config{
		DataDir: DefaultDataDir(),
		HTTP: HTTPConfig{
			// Disabled by default; set Addr to enable (e.g., ":8080").
			Addr:            "",
			MaxContentBytes: 5 << 20,
		},
		NATS: NATSConfig{
			// Disabled by default; set URL to enable.
			URL:     "",
			Subject: "hikma.codescan.analyze",
			Queue:   "codescan-workers",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Tracing: TracingConfig{
			Enabled:       false,
			Endpoint:      "localhost:4317",
			Insecure:      true,
			SamplingRatio: 1.0,
		},
		Providers: DefaultProvidersConfig(),
		Generative: GenerativeConfig{
			Backend:       BackendGemini,
			Gemini:        GeminiConfig{Model: "gemini-1.5-pro"},
			OpenAI:        OpenAIConfig{Model: "gpt-4o-mini"},
			ExcerptLength: 200,
		},
		Chat: ChatConfig{
			Retry:      ChatRetryConfig(),
			MaxTurns:   50,
			SessionTTL: 30 * time.Minute,
			BusyDelay:  1 * time.Second,
		},
		Cache: CacheConfig{
			Backend: CacheBadger,
			TTL:     24 * time.Hour,
			Redis: RedisConfig{
				Addr:   "localhost:6379",
				Prefix: "codescan:",
			},
		},
		Breaker: BreakerConfig{
			MaxFailures:  5,
			ResetTimeout: 60 * time.Second,
		},
	}
}

// DefaultDataDir returns the default data directory.
func DefaultDataDir() string {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "hikmaai-codescan")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "/var/lib/hikmaai-codescan"
	}
	return filepath.Join(home, ".local", "share", "hikmaai-codescan")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "hikmaai-codescan", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "/etc/hikmaai-codescan/config.yaml"
	}
	return filepath.Join(home, ".config", "hikmaai-codescan", "config.yaml")
}

// Load reads the YAML file at path over the defaults and applies environment
// overrides. A missing file at the default path is not an error; a missing
// explicit path is.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	explicit := path != ""
	if !explicit {
		path = DefaultConfigPath()
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg.ApplyEnv(os.Getenv)
	return cfg, nil
}

// Environment variables holding credentials and endpoints.
const (
	EnvVirusTotalKey     = "VIRUSTOTAL_API_KEY"
	EnvHybridAnalysisKey = "HYBRID_ANALYSIS_API_KEY"
	EnvMalShareKey       = "MALSHARE_API_KEY"
	EnvGeminiKey         = "GEMINI_API_KEY"
	EnvOpenAIKey         = "OPENAI_API_KEY"
	EnvOpenAIBaseURL     = "OPENAI_BASE_URL"
	EnvRedisAddr         = "REDIS_ADDR"
	EnvNATSURL           = "NATS_URL"
)

// ApplyEnv overrides fields with non-empty environment values.
func (c *Config) ApplyEnv(getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	set(&c.Providers.VirusTotal.APIKey, EnvVirusTotalKey)
	set(&c.Providers.HybridAnalysis.APIKey, EnvHybridAnalysisKey)
	set(&c.Providers.MalShare.APIKey, EnvMalShareKey)
	set(&c.Generative.Gemini.APIKey, EnvGeminiKey)
	set(&c.Generative.OpenAI.APIKey, EnvOpenAIKey)
	set(&c.Generative.OpenAI.BaseURL, EnvOpenAIBaseURL)
	set(&c.Cache.Redis.Addr, EnvRedisAddr)
	set(&c.NATS.URL, EnvNATSURL)
}

// Validate checks settings and that every credential the enabled analyses
// need is present. All problems are reported at once.
func (c *Config) Validate(opts types.AnalysisOptions) error {
	var problems, missing []string

	if err := observability.ValidateLogLevel(c.Log.Level); err != nil {
		problems = append(problems, err.Error())
	}

	switch c.Cache.Backend {
	case CacheBadger, CacheRedis, CacheNone:
	default:
		problems = append(problems, fmt.Sprintf("unknown cache backend %q", c.Cache.Backend))
	}
	if c.Cache.Backend == CacheRedis && c.Cache.Redis.Addr == "" {
		missing = append(missing, "cache.redis.addr")
	}

	if c.HTTP.MaxContentBytes < 0 {
		problems = append(problems, "http.max_content_bytes must not be negative")
	}
	if c.Batch.Concurrency < 0 {
		problems = append(problems, "batch.concurrency must not be negative")
	}

	if opts.Malware {
		if c.Providers.VirusTotal.APIKey == "" {
			missing = append(missing, EnvVirusTotalKey)
		}
		if c.Providers.HybridAnalysis.APIKey == "" {
			missing = append(missing, EnvHybridAnalysisKey)
		}
		if c.Providers.MalShare.APIKey == "" {
			missing = append(missing, EnvMalShareKey)
		}
	}

	if opts.NeedsGenerative() {
		switch c.Generative.Backend {
		case BackendGemini:
			if c.Generative.Gemini.APIKey == "" {
				missing = append(missing, EnvGeminiKey)
			}
		case BackendOpenAI:
			if c.Generative.OpenAI.APIKey == "" {
				missing = append(missing, EnvOpenAIKey)
			}
		default:
			problems = append(problems, fmt.Sprintf("unknown generative backend %q", c.Generative.Backend))
		}
	}

	if len(problems) == 0 && len(missing) == 0 {
		return nil
	}
	return &ConfigurationError{Missing: missing, Problems: problems}
}
