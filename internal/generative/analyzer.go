// ABOUTME: Generative code analysis: prompt construction, payload decoding, batch context
// ABOUTME: Any extraction or decode failure fails the whole call with a DecodeError

package generative

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hikmaai-io/hikmaai-codescan/internal/types"
)

// DefaultExcerptLength is how much of each sibling file a batch prompt carries.
const DefaultExcerptLength = 200

const analysisInstructions = `Analyze the following code for security vulnerabilities, potential risks, and prompt injection vulnerabilities.
Consider the following aspects:
1. Security vulnerabilities and weaknesses
2. Potential prompt injection risks
3. Code quality and best practices
4. Specific security concerns based on the file type and content`

const analysisSchema = `Provide a detailed analysis in the following JSON format:
{
  "summary": "Brief overview of findings",
  "vulnerabilities": [
    {
      "type": "vulnerability type",
      "description": "detailed description",
      "severity": "Low|Medium|High",
      "recommendation": "how to fix"
    }
  ],
  "securityRisks": ["list of security risks"],
  "promptInjectionRisks": ["list of potential prompt injection vulnerabilities"],
  "overallRiskLevel": "Low|Medium|High"
}`

// AnalysisContext is optional context folded into an analysis prompt.
type AnalysisContext struct {
	// RelatedFiles are "name: excerpt..." lines describing sibling files.
	RelatedFiles []string
	// History are prior conversation lines.
	History []string
	// Files are file names the conversation refers to.
	Files []string
	// PriorResults are one-line renderings of the latest analysis results.
	PriorResults []string
}

// NewAnalysisContext folds a conversation into prompt context.
func NewAnalysisContext(convo *types.ConversationContext) AnalysisContext {
	return AnalysisContext{
		History:      convo.HistoryLines(),
		Files:        convo.FileNames(),
		PriorResults: convo.ResultLines(),
	}
}

// AnalyzerConfig configures an Analyzer.
type AnalyzerConfig struct {
	Backend       Backend
	ExcerptLength int
	Logger        *slog.Logger
}

// Analyzer runs structured code analysis against a generative backend.
type Analyzer struct {
	backend Backend
	excerpt int
	logger  *slog.Logger
}

// NewAnalyzer creates an Analyzer. Backend is required.
func NewAnalyzer(cfg AnalyzerConfig) (*Analyzer, error) {
	if cfg.Backend == nil {
		return nil, fmt.Errorf("generative analyzer: backend is required")
	}
	if cfg.ExcerptLength <= 0 {
		cfg.ExcerptLength = DefaultExcerptLength
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Analyzer{
		backend: cfg.Backend,
		excerpt: cfg.ExcerptLength,
		logger:  cfg.Logger.With(slog.String("backend", cfg.Backend.Name())),
	}, nil
}

// Backend returns the underlying backend.
func (a *Analyzer) Backend() Backend {
	return a.backend
}

// Analyze sends one file to the backend and decodes the structured result.
// Transport errors are returned as-is; payload problems are *DecodeError.
func (a *Analyzer) Analyze(ctx context.Context, content string, actx *AnalysisContext) (*types.GenerativeAnalysisResult, error) {
	start := time.Now()
	prompt := BuildPrompt(content, actx)

	text, err := a.backend.Generate(ctx, []types.Turn{{Role: types.TurnUser, Text: prompt}})
	if err != nil {
		return nil, &BackendError{Backend: a.backend.Name(), Err: err}
	}

	result, err := DecodeResult(text)
	if err != nil {
		a.logger.WarnContext(ctx, "generative response not decodable",
			slog.String("error", err.Error()),
			slog.Int("response_len", len(text)),
		)
		return nil, err
	}

	a.logger.DebugContext(ctx, "generative analysis complete",
		slog.Int("vulnerabilities", len(result.Vulnerabilities)),
		slog.String("risk", string(result.OverallRiskLevel)),
		slog.Duration("duration", time.Since(start)),
	)
	return result, nil
}

// BatchItem is one file's outcome within AnalyzeBatch.
type BatchItem struct {
	Name   string
	Result *types.GenerativeAnalysisResult
	Err    error
}

// AnalyzeBatch analyzes files one after another. Each prompt carries base
// plus an excerpt of every other file in the batch. A failing file does not
// stop the rest; its error is kept in its item.
func (a *Analyzer) AnalyzeBatch(ctx context.Context, files []types.FileInput, base *AnalysisContext) []BatchItem {
	items := make([]BatchItem, len(files))
	for i, f := range files {
		items[i].Name = f.Name
		if err := ctx.Err(); err != nil {
			items[i].Err = err
			continue
		}
		actx := AnalysisContext{}
		if base != nil {
			actx = *base
		}
		actx.RelatedFiles = RelatedFiles(files, i, a.excerpt)
		items[i].Result, items[i].Err = a.Analyze(ctx, f.Content, &actx)
	}
	return items
}

// RelatedFiles renders "name: excerpt..." for every file except files[self].
func RelatedFiles(files []types.FileInput, self, excerptLen int) []string {
	if len(files) < 2 {
		return nil
	}
	out := make([]string, 0, len(files)-1)
	for i, f := range files {
		if i == self {
			continue
		}
		out = append(out, f.Name+": "+f.Excerpt(excerptLen)+"...")
	}
	return out
}

// BuildPrompt assembles the analysis prompt for one file.
func BuildPrompt(content string, actx *AnalysisContext) string {
	var b strings.Builder
	b.WriteString(analysisInstructions)
	b.WriteString("\n")

	if actx != nil && len(actx.RelatedFiles) > 0 {
		b.WriteString("\nRelated files context:\n")
		b.WriteString(strings.Join(actx.RelatedFiles, "\n"))
		b.WriteString("\n")
	}
	if actx != nil && len(actx.History) > 0 {
		b.WriteString("\nConversation history:\n")
		b.WriteString(strings.Join(actx.History, "\n"))
		b.WriteString("\n")
	}
	if actx != nil && len(actx.Files) > 0 {
		b.WriteString("\nReferenced files: ")
		b.WriteString(strings.Join(actx.Files, ", "))
		b.WriteString("\n")
	}
	if actx != nil && len(actx.PriorResults) > 0 {
		b.WriteString("\nPrevious analysis results:\n")
		b.WriteString(strings.Join(actx.PriorResults, "\n"))
		b.WriteString("\n")
	}

	b.WriteString("\nCode to analyze:\n")
	b.WriteString(content)
	b.WriteString("\n\n")
	b.WriteString(analysisSchema)
	return b.String()
}

// DecodeResult extracts and decodes the payload embedded in a model reply.
func DecodeResult(text string) (*types.GenerativeAnalysisResult, error) {
	payload, err := ExtractPayload(text)
	if err != nil {
		return nil, &DecodeError{Reason: "locating payload", Snippet: snippet(text), Err: err}
	}

	var result types.GenerativeAnalysisResult
	if err := json.Unmarshal([]byte(payload), &result); err != nil {
		return nil, &DecodeError{Reason: "parsing payload", Snippet: snippet(payload), Err: err}
	}
	if err := result.Validate(); err != nil {
		return nil, &DecodeError{Reason: "validating payload", Snippet: snippet(payload), Err: err}
	}
	return &result, nil
}
