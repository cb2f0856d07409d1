// ABOUTME: Normalized provider reports produced by the malware-scan adapters
// ABOUTME: One typed sub-report per provider behind a common envelope keyed by role

package types

import (
	"fmt"
	"time"
)

// ProviderRole identifies a malware-scan provider slot in an aggregated result.
type ProviderRole string

const (
	// RoleVirusTotal is the VirusTotal lookup-submit-poll provider.
	RoleVirusTotal ProviderRole = "virustotal"
	// RoleHybridAnalysis is the Hybrid Analysis lookup-submit-poll provider.
	RoleHybridAnalysis ProviderRole = "hybrid_analysis"
	// RoleMalShare is the MalShare lookup-only provider.
	RoleMalShare ProviderRole = "malshare"
)

// MalwareRoles returns every malware-scan role in slot order.
func MalwareRoles() []ProviderRole {
	return []ProviderRole{RoleVirusTotal, RoleMalShare, RoleHybridAnalysis}
}

// ParseProviderRole validates a role name.
func ParseProviderRole(s string) (ProviderRole, error) {
	switch r := ProviderRole(s); r {
	case RoleVirusTotal, RoleHybridAnalysis, RoleMalShare:
		return r, nil
	default:
		return "", fmt.Errorf("unknown provider role %q", s)
	}
}

// String returns the role name.
func (r ProviderRole) String() string {
	return string(r)
}

// Verdict values summarizing a provider report.
const (
	VerdictMalicious = "malicious"
	VerdictClean     = "clean"
	VerdictNotFound  = "not_found"
)

// ProviderReport is the normalized output of one provider for one fingerprint.
// Exactly one of the provider-specific sub-reports is set, matching Role.
// Reports are treated as immutable once an adapter returns them.
type ProviderReport struct {
	Role        ProviderRole `json:"role"`
	Fingerprint string       `json:"fingerprint"`
	Found       bool         `json:"found"`
	RetrievedAt time.Time    `json:"retrieved_at"`
	// Cached is true when the report was served from the local report cache.
	Cached bool `json:"cached,omitempty"`

	VirusTotal     *VirusTotalReport     `json:"virustotal,omitempty"`
	HybridAnalysis *HybridAnalysisReport `json:"hybrid_analysis,omitempty"`
	MalShare       *MalShareReport       `json:"malshare,omitempty"`
}

// Verdict collapses the provider-specific detail into malicious, clean, or not_found.
func (r ProviderReport) Verdict() string {
	if !r.Found {
		return VerdictNotFound
	}
	switch {
	case r.VirusTotal != nil && r.VirusTotal.Positives > 0:
		return VerdictMalicious
	case r.HybridAnalysis != nil && r.HybridAnalysis.IsMalicious():
		return VerdictMalicious
	case r.MalShare != nil:
		// MalShare only indexes known samples.
		return VerdictMalicious
	}
	return VerdictClean
}

// WithCached returns a copy of the report flagged as served from cache.
func (r ProviderReport) WithCached() ProviderReport {
	r.Cached = true
	return r
}

// VirusTotalReport is the normalized VirusTotal file report.
type VirusTotalReport struct {
	ID           string `json:"id"`
	Status       string `json:"status,omitempty"`
	TotalEngines int    `json:"total_engines"`
	Positives    int    `json:"positives"`
	Suspicious   int    `json:"suspicious"`
	// Detections maps engine name to its category (malicious, undetected, ...).
	Detections map[string]string `json:"detections,omitempty"`
	ScanDate   time.Time         `json:"scan_date,omitzero"`
	Permalink  string            `json:"permalink"`
}

// HybridAnalysisReport is the normalized Hybrid Analysis sandbox report.
type HybridAnalysisReport struct {
	ThreatScore        int               `json:"threat_score"`
	Verdict            string            `json:"verdict,omitempty"`
	MalwareFamily      string            `json:"malware_family,omitempty"`
	Tags               []string          `json:"tags,omitempty"`
	Processes          int               `json:"processes"`
	NetworkConnections int               `json:"network_connections"`
	Signatures         []HybridSignature `json:"signatures,omitempty"`
	SubmitID           string            `json:"submit_id,omitempty"`
}

// IsMalicious reports whether the sandbox verdict marks the sample malicious.
func (r HybridAnalysisReport) IsMalicious() bool {
	return r.Verdict == "malicious"
}

// HybridSignature is one behavioral signature matched in the sandbox.
type HybridSignature struct {
	Name        string `json:"name"`
	Severity    int    `json:"severity"`
	Description string `json:"description,omitempty"`
}

// MalShareReport is the normalized MalShare hash lookup.
// Matches is always non-nil so absent samples serialize as an empty list.
type MalShareReport struct {
	Matches []MalShareMatch `json:"matches"`
}

// MalShareMatch is a known sample record returned by MalShare.
type MalShareMatch struct {
	MD5      string   `json:"md5"`
	SHA1     string   `json:"sha1,omitempty"`
	SHA256   string   `json:"sha256,omitempty"`
	FileType string   `json:"type,omitempty"`
	SSDeep   string   `json:"ssdeep,omitempty"`
	Sources  []string `json:"sources,omitempty"`
}

// NewNotFoundReport returns a report for a fingerprint the provider does not know.
func NewNotFoundReport(role ProviderRole, fingerprint string, now time.Time) ProviderReport {
	r := ProviderReport{
		Role:        role,
		Fingerprint: fingerprint,
		Found:       false,
		RetrievedAt: now,
	}
	if role == RoleMalShare {
		r.MalShare = &MalShareReport{Matches: []MalShareMatch{}}
	}
	return r
}
