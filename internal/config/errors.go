// ABOUTME: Configuration error listing every missing credential and invalid setting
// ABOUTME: Raised at startup so a misconfigured provider never fails on first use

package config

import (
	"strings"

	"github.com/hikmaai-io/hikmaai-codescan/internal/observability"
)

// ConfigurationError reports missing credentials and invalid settings.
type ConfigurationError struct {
	// Missing names required settings that are empty, e.g. VIRUSTOTAL_API_KEY.
	Missing []string

	// Problems describes settings that are present but invalid.
	Problems []string
}

// Error implements the error interface.
func (e *ConfigurationError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing "+strings.Join(e.Missing, ", "))
	}
	parts = append(parts, e.Problems...)
	return "invalid configuration: " + strings.Join(parts, "; ")
}

// ErrorContext returns the operator-facing error context.
func (e *ConfigurationError) ErrorContext() *observability.ErrorContext {
	return observability.NewErrorContext(observability.CodeConfiguration, observability.CategoryPermanent, "config.validate").
		WithDetail("missing", e.Missing).
		WithDetail("problems", e.Problems).
		WithError(e)
}
