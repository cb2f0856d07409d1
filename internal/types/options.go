// ABOUTME: Analysis option toggles selecting which providers run for a file
// ABOUTME: Independent booleans parsed from CLI flags, HTTP bodies, and queue messages

package types

import (
	"fmt"
	"strings"
)

// AnalysisOptions selects which analyses run for a file.
// Toggles are orthogonal; the zero value selects nothing.
type AnalysisOptions struct {
	Malware         bool `json:"malware"`
	Security        bool `json:"security"`
	Generative      bool `json:"generative"`
	PromptInjection bool `json:"prompt_injection"`
}

// Option names accepted by ParseOptions.
const (
	OptionMalware         = "malware"
	OptionSecurity        = "security"
	OptionGenerative      = "generative"
	OptionPromptInjection = "prompt-injection"
)

// AllOptions enables every analysis.
func AllOptions() AnalysisOptions {
	return AnalysisOptions{Malware: true, Security: true, Generative: true, PromptInjection: true}
}

// Empty reports whether no analysis is selected.
func (o AnalysisOptions) Empty() bool {
	return !o.Malware && !o.NeedsGenerative()
}

// NeedsGenerative reports whether the generative backend must be consulted.
// Any of security, generative, or prompt-injection needs exactly one generative call.
func (o AnalysisOptions) NeedsGenerative() bool {
	return o.Security || o.Generative || o.PromptInjection
}

// Names returns the enabled option names in a stable order.
func (o AnalysisOptions) Names() []string {
	var names []string
	if o.Malware {
		names = append(names, OptionMalware)
	}
	if o.Security {
		names = append(names, OptionSecurity)
	}
	if o.Generative {
		names = append(names, OptionGenerative)
	}
	if o.PromptInjection {
		names = append(names, OptionPromptInjection)
	}
	return names
}

// String returns a comma-separated list of enabled options.
func (o AnalysisOptions) String() string {
	names := o.Names()
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, ",")
}

// ParseOptions builds options from a list of names such as "malware,security".
// "all" enables everything. Underscores and hyphens are interchangeable.
func ParseOptions(names []string) (AnalysisOptions, error) {
	var opts AnalysisOptions
	for _, raw := range names {
		for _, part := range strings.Split(raw, ",") {
			name := strings.ToLower(strings.TrimSpace(part))
			name = strings.ReplaceAll(name, "_", "-")
			switch name {
			case "":
			case "all":
				opts = AllOptions()
			case OptionMalware:
				opts.Malware = true
			case OptionSecurity:
				opts.Security = true
			case OptionGenerative, "gemini":
				opts.Generative = true
			case OptionPromptInjection:
				opts.PromptInjection = true
			default:
				return AnalysisOptions{}, fmt.Errorf("unknown analysis option %q", part)
			}
		}
	}
	return opts, nil
}
