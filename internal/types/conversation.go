// ABOUTME: Conversation turns, file inputs, and context passed into analyses and chat
// ABOUTME: Renders role-tagged history lines for generative prompts

package types

import (
	"errors"
	"fmt"
	"strings"
)

// TurnRole tags who produced a conversation turn.
type TurnRole string

const (
	// TurnUser is a message written by the user.
	TurnUser TurnRole = "user"
	// TurnModel is a message produced by the generative backend.
	TurnModel TurnRole = "model"
)

// Turn is one role-tagged message in a conversation.
type Turn struct {
	Role TurnRole `json:"role"`
	Text string   `json:"text"`
}

// ConversationContext carries prior turns, referenced files, and recent results.
type ConversationContext struct {
	History []Turn             `json:"history,omitempty"`
	Files   []string           `json:"files,omitempty"`
	Results []AggregatedResult `json:"results,omitempty"`
}

// HistoryLines renders the history as "role: text" lines.
func (c *ConversationContext) HistoryLines() []string {
	if c == nil {
		return nil
	}
	lines := make([]string, 0, len(c.History))
	for _, t := range c.History {
		if t.Role == "" {
			lines = append(lines, t.Text)
			continue
		}
		lines = append(lines, string(t.Role)+": "+t.Text)
	}
	return lines
}

// FileNames returns the referenced file names.
func (c *ConversationContext) FileNames() []string {
	if c == nil {
		return nil
	}
	return c.Files
}

// ResultLines renders one "file: verdict" line per prior result.
func (c *ConversationContext) ResultLines() []string {
	if c == nil {
		return nil
	}
	lines := make([]string, 0, len(c.Results))
	for _, r := range c.Results {
		line := r.FileName + ": no malicious verdict"
		if r.Detected() {
			line = r.FileName + ": malicious verdict"
		}
		if r.HasErrors() {
			line += ", some analyses failed"
		}
		if r.Summary != "" {
			line += "; " + r.Summary
		}
		lines = append(lines, line)
	}
	return lines
}

// TurnsFromLines parses "role: text" history lines into turns. Lines
// without a known role prefix are taken as user turns.
func TurnsFromLines(lines []string) []Turn {
	turns := make([]Turn, 0, len(lines))
	for _, l := range lines {
		if strings.TrimSpace(l) == "" {
			continue
		}
		turns = append(turns, parseTurn(l))
	}
	return turns
}

func parseTurn(line string) Turn {
	prefix, text, ok := strings.Cut(line, ":")
	if ok {
		switch role := TurnRole(strings.ToLower(strings.TrimSpace(prefix))); role {
		case TurnUser, TurnModel:
			return Turn{Role: role, Text: strings.TrimSpace(text)}
		}
	}
	return Turn{Role: TurnUser, Text: line}
}

// FileInput is one file handed over by the upload collaborator.
type FileInput struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

// ErrEmptyFileName indicates a file without a name.
var ErrEmptyFileName = errors.New("file name is required")

// Validate checks the name and, when maxBytes is positive, the content size.
func (f FileInput) Validate(maxBytes int) error {
	if strings.TrimSpace(f.Name) == "" {
		return ErrEmptyFileName
	}
	if maxBytes > 0 && len(f.Content) > maxBytes {
		return fmt.Errorf("file %q is %d bytes, limit is %d", f.Name, len(f.Content), maxBytes)
	}
	return nil
}

// Excerpt returns the first n characters of the content.
func (f FileInput) Excerpt(n int) string {
	r := []rune(f.Content)
	if len(r) <= n {
		return f.Content
	}
	return string(r[:n])
}
