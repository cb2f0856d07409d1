// ABOUTME: Per-provider configuration: credentials, endpoints, polling budgets, and retry
// ABOUTME: Retry settings convert into the backoff executor's configuration

package config

import (
	"time"

	"github.com/hikmaai-io/hikmaai-codescan/internal/backoff"
)

// ProvidersConfig configures the malware-scan providers.
type ProvidersConfig struct {
	VirusTotal     PollingProviderConfig `yaml:"virustotal"`
	HybridAnalysis PollingProviderConfig `yaml:"hybrid_analysis"`
	MalShare       ProviderConfig        `yaml:"malshare"`

	// Retry wraps every provider call. If nil, uses ProviderRetryConfig().
	Retry *RetryConfig `yaml:"retry,omitempty"`

	// Timeout bounds a single HTTP request to any provider.
	Timeout time.Duration `yaml:"timeout"`
}

// ProviderConfig holds a lookup-only provider's credentials and endpoint.
type ProviderConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// PollingProviderConfig adds the polling budget of a lookup-submit-poll provider.
type PollingProviderConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`

	// PollInterval is the wait between status checks.
	PollInterval time.Duration `yaml:"poll_interval"`

	// MaxPollAttempts bounds status checks before the call times out.
	MaxPollAttempts int `yaml:"max_poll_attempts"`

	// EnvironmentID selects the sandbox environment (Hybrid Analysis only).
	EnvironmentID int `yaml:"environment_id,omitempty"`
}

// GetRetry returns the provider retry configuration, using defaults if not set.
func (c *ProvidersConfig) GetRetry() RetryConfig {
	if c.Retry != nil {
		return *c.Retry
	}
	return ProviderRetryConfig()
}

// RetryConfig configures retry behavior with exponential backoff.
type RetryConfig struct {
	// MaxAttempts is the total number of tries, the first one included.
	MaxAttempts int `yaml:"max_attempts"`

	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration `yaml:"initial_delay"`

	// MaxDelay is the maximum delay between retries.
	MaxDelay time.Duration `yaml:"max_delay"`

	// Multiplier is the exponential backoff multiplier.
	Multiplier float64 `yaml:"multiplier"`

	// JitterFraction is the fraction of delay to randomize (0-1).
	JitterFraction float64 `yaml:"jitter_fraction"`
}

// Backoff converts the settings for the backoff executor.
func (r RetryConfig) Backoff() backoff.Config {
	return backoff.Config{
		MaxAttempts:    r.MaxAttempts,
		InitialDelay:   r.InitialDelay,
		MaxDelay:       r.MaxDelay,
		Multiplier:     r.Multiplier,
		JitterFraction: r.JitterFraction,
	}
}

// DefaultProvidersConfig returns provider defaults matching the upstream APIs.
func DefaultProvidersConfig() ProvidersConfig {
	return ProvidersConfig{
		VirusTotal: PollingProviderConfig{
			BaseURL:         "https://www.virustotal.com/api/v3",
			PollInterval:    15 * time.Second,
			MaxPollAttempts: 10,
		},
		HybridAnalysis: PollingProviderConfig{
			BaseURL:         "https://www.hybrid-analysis.com/api/v2",
			PollInterval:    5 * time.Second,
			MaxPollAttempts: 10,
			EnvironmentID:   160,
		},
		MalShare: ProviderConfig{
			BaseURL: "https://malshare.com/api.php",
		},
		Retry:   nil,
		Timeout: 30 * time.Second,
	}
}

// ProviderRetryConfig returns the default provider retry: one retry on
// transient transport errors.
func ProviderRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    2,
		InitialDelay:   1 * time.Second,
		MaxDelay:       10 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.2,
	}
}

// ChatRetryConfig returns the chat backoff: 5 attempts, 1s initial, 10s cap.
func ChatRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  backoff.DefaultMaxAttempts,
		InitialDelay: backoff.DefaultInitialDelay,
		MaxDelay:     backoff.DefaultMaxDelay,
		Multiplier:   backoff.DefaultMultiplier,
	}
}
