// ABOUTME: Redaction of provider API keys and other secrets before they reach logs
// ABOUTME: Pattern-based masking for query strings and headers plus literal secret masking

package observability

import (
	"net/http"
	"regexp"
	"strings"
)

// RedactionPlaceholder replaces redacted values.
const RedactionPlaceholder = "[REDACTED]"

// Values stop at whitespace, '&', or a quote so query strings and JSON stay readable.
var sensitivePatterns = []struct {
	re   *regexp.Regexp
	repl string
}{
	{regexp.MustCompile(`(?i)(api[_-]?key|apikey|x-apikey)=[^\s&"']+`), "${1}=" + RedactionPlaceholder},
	{regexp.MustCompile(`(?i)(api[_-]?key|x-apikey|x-goog-api-key)(:\s*)[^\s&"']+`), "${1}${2}" + RedactionPlaceholder},
	{regexp.MustCompile(`(?i)(token|access_token|secret|password)=[^\s&"']+`), "${1}=" + RedactionPlaceholder},
	{regexp.MustCompile(`(?i)Bearer\s+[^\s"']+`), "Bearer " + RedactionPlaceholder},
}

var sensitiveHeaderParts = []string{
	"apikey",
	"api-key",
	"api_key",
	"authorization",
	"token",
	"secret",
	"cookie",
}

// RedactSensitive masks credentials embedded in s.
func RedactSensitive(s string) string {
	for _, p := range sensitivePatterns {
		s = p.re.ReplaceAllString(s, p.repl)
	}
	return s
}

// RedactValues masks every literal occurrence of the given secrets, then applies
// RedactSensitive. Secrets shorter than four characters are ignored.
func RedactValues(s string, secrets ...string) string {
	for _, secret := range secrets {
		if len(secret) < 4 {
			continue
		}
		s = strings.ReplaceAll(s, secret, RedactionPlaceholder)
	}
	return RedactSensitive(s)
}

// IsSensitiveHeader reports whether a header name likely carries a credential.
func IsSensitiveHeader(name string) bool {
	lower := strings.ToLower(name)
	for _, part := range sensitiveHeaderParts {
		if strings.Contains(lower, part) {
			return true
		}
	}
	return false
}

// RedactHeaders returns a loggable copy of h with credential headers masked.
func RedactHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for name, values := range h {
		if IsSensitiveHeader(name) {
			out[name] = RedactionPlaceholder
			continue
		}
		out[name] = strings.Join(values, ", ")
	}
	return out
}
