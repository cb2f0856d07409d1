// ABOUTME: Locates the first balanced JSON object embedded in free-form model text
// ABOUTME: Brace matching skips braces inside string literals and escaped quotes

package generative

import "errors"

// Extraction failures.
var (
	ErrNoPayload         = errors.New("no JSON object found in response")
	ErrUnbalancedPayload = errors.New("JSON object in response is not closed")
)

// ExtractPayload returns the first balanced {...} span of text.
// Braces inside JSON string literals do not count toward nesting.
func ExtractPayload(text string) (string, error) {
	start := -1
	depth := 0
	inString := false
	escaped := false

	for i := 0; i < len(text); i++ {
		c := text[i]

		if start < 0 {
			if c == '{' {
				start = i
				depth = 1
			}
			continue
		}

		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], nil
			}
		}
	}

	if start < 0 {
		return "", ErrNoPayload
	}
	return "", ErrUnbalancedPayload
}
