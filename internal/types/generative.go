// ABOUTME: Typed result of the generative code analysis with constrained risk levels
// ABOUTME: Risk and severity values decode case-insensitively into Low, Medium, or High

package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// RiskLevel is a three-value severity scale shared by findings and overall risk.
type RiskLevel string

const (
	// RiskLow is the lowest severity.
	RiskLow RiskLevel = "Low"
	// RiskMedium is the middle severity.
	RiskMedium RiskLevel = "Medium"
	// RiskHigh is the highest severity.
	RiskHigh RiskLevel = "High"
)

// ParseRiskLevel accepts Low, Medium, or High in any letter case.
func ParseRiskLevel(s string) (RiskLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return RiskLow, nil
	case "medium":
		return RiskMedium, nil
	case "high":
		return RiskHigh, nil
	default:
		return "", fmt.Errorf("invalid risk level %q: must be Low, Medium, or High", s)
	}
}

// Rank orders risk levels; unknown values rank zero.
func (r RiskLevel) Rank() int {
	switch r {
	case RiskLow:
		return 1
	case RiskMedium:
		return 2
	case RiskHigh:
		return 3
	default:
		return 0
	}
}

// UnmarshalJSON rejects anything outside the three canonical levels.
func (r *RiskLevel) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("risk level must be a string: %w", err)
	}
	level, err := ParseRiskLevel(s)
	if err != nil {
		return err
	}
	*r = level
	return nil
}

// Vulnerability is one finding reported by the generative backend.
type Vulnerability struct {
	Type           string    `json:"type"`
	Description    string    `json:"description"`
	Severity       RiskLevel `json:"severity"`
	Recommendation string    `json:"recommendation"`
}

// GenerativeAnalysisResult is the structured payload decoded from a generative response.
// Field names follow the JSON schema embedded in the analysis prompt.
type GenerativeAnalysisResult struct {
	Summary              string          `json:"summary"`
	Vulnerabilities      []Vulnerability `json:"vulnerabilities"`
	SecurityRisks        []string        `json:"securityRisks"`
	PromptInjectionRisks []string        `json:"promptInjectionRisks"`
	OverallRiskLevel     RiskLevel       `json:"overallRiskLevel"`
}

// ErrMissingRiskLevel indicates a payload without an overall risk level.
var ErrMissingRiskLevel = errors.New("missing overallRiskLevel")

// Validate checks the enum fields after decoding.
// Decoding already rejects bad values; this catches omitted ones.
func (r GenerativeAnalysisResult) Validate() error {
	if r.OverallRiskLevel.Rank() == 0 {
		return ErrMissingRiskLevel
	}
	for i, v := range r.Vulnerabilities {
		if v.Severity.Rank() == 0 {
			return fmt.Errorf("vulnerability %d: missing severity", i)
		}
	}
	return nil
}
