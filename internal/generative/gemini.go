// ABOUTME: Gemini backend built on the Google GenAI SDK
// ABOUTME: Maps conversation turns to genai contents and classifies 429/503 as overload

package generative

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/genai"

	"github.com/hikmaai-io/hikmaai-codescan/internal/types"
)

// DefaultGeminiModel is used when no model is configured.
const DefaultGeminiModel = "gemini-1.5-pro"

// GeminiConfig configures the Gemini backend.
type GeminiConfig struct {
	APIKey string
	Model  string

	// BaseURL overrides the API endpoint, mainly for tests.
	BaseURL    string
	HTTPClient *http.Client

	Temperature     *float32
	MaxOutputTokens int32
}

// GeminiBackend generates text with a Gemini model.
type GeminiBackend struct {
	client *genai.Client
	model  string
	config *genai.GenerateContentConfig
}

// NewGeminiBackend creates a Gemini backend.
func NewGeminiBackend(ctx context.Context, cfg GeminiConfig) (*GeminiBackend, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini: API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultGeminiModel
	}

	cc := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: cfg.HTTPClient,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("gemini: creating client: %w", err)
	}

	gen := &genai.GenerateContentConfig{Temperature: cfg.Temperature}
	if cfg.MaxOutputTokens > 0 {
		gen.MaxOutputTokens = cfg.MaxOutputTokens
	}

	return &GeminiBackend{client: client, model: cfg.Model, config: gen}, nil
}

// Name identifies the backend in logs.
func (g *GeminiBackend) Name() string {
	return "gemini"
}

// Generate sends the turns as a multi-turn conversation.
func (g *GeminiBackend) Generate(ctx context.Context, turns []types.Turn) (string, error) {
	contents := make([]*genai.Content, 0, len(turns))
	for _, t := range turns {
		var role genai.Role = genai.RoleUser
		if t.Role == types.TurnModel {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(t.Text, role))
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, g.config)
	if err != nil {
		return "", classifyGeminiError(err)
	}

	text := resp.Text()
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

func classifyGeminiError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) && isOverloadStatus(apiErr.Code) {
		return overloaded("gemini", err)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && isOverloadStatus(apiErrPtr.Code) {
		return overloaded("gemini", err)
	}
	return fmt.Errorf("gemini: %w", err)
}

func isOverloadStatus(code int) bool {
	return code == http.StatusServiceUnavailable || code == http.StatusTooManyRequests
}
