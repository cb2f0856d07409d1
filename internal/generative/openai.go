// ABOUTME: OpenAI-compatible chat completion backend
// ABOUTME: Model turns map to assistant messages; 429/503 responses classify as overload

package generative

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/hikmaai-io/hikmaai-codescan/internal/types"
)

// OpenAI defaults.
const (
	DefaultOpenAIModel     = "gpt-4o-mini"
	defaultOpenAIMaxTokens = 2048
)

// OpenAIConfig configures the OpenAI backend.
type OpenAIConfig struct {
	APIKey string
	Model  string

	// BaseURL points at any OpenAI-compatible endpoint, e.g. "http://localhost:8080/v1".
	BaseURL    string
	HTTPClient *http.Client

	MaxTokens int
}

// OpenAIBackend generates text through the chat completions API.
type OpenAIBackend struct {
	client    *openai.Client
	model     string
	maxTokens int
}

// NewOpenAIBackend creates an OpenAI backend.
func NewOpenAIBackend(cfg OpenAIConfig) (*OpenAIBackend, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai: API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultOpenAIMaxTokens
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	if cfg.HTTPClient != nil {
		oc.HTTPClient = cfg.HTTPClient
	}

	return &OpenAIBackend{
		client:    openai.NewClientWithConfig(oc),
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
	}, nil
}

// Name identifies the backend in logs.
func (o *OpenAIBackend) Name() string {
	return "openai"
}

// Generate sends the turns as chat messages.
func (o *OpenAIBackend) Generate(ctx context.Context, turns []types.Turn) (string, error) {
	msgs := make([]openai.ChatCompletionMessage, 0, len(turns))
	for _, t := range turns {
		role := openai.ChatMessageRoleUser
		if t.Role == types.TurnModel {
			role = openai.ChatMessageRoleAssistant
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: t.Text})
	}

	req := openai.ChatCompletionRequest{
		Model:    o.model,
		Messages: msgs,
	}
	// Reasoning models reject max_tokens.
	if isReasoningModel(o.model) {
		req.MaxCompletionTokens = o.maxTokens
	} else {
		req.MaxTokens = o.maxTokens
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", classifyOpenAIError(err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", ErrEmptyResponse
	}
	return resp.Choices[0].Message.Content, nil
}

func isReasoningModel(model string) bool {
	for _, p := range []string{"o1", "o3", "o4", "gpt-5"} {
		if strings.HasPrefix(model, p) {
			return true
		}
	}
	return false
}

func classifyOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && isOverloadStatus(apiErr.HTTPStatusCode) {
		return overloaded("openai", err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && isOverloadStatus(reqErr.HTTPStatusCode) {
		return overloaded("openai", err)
	}
	return fmt.Errorf("openai: %w", err)
}
