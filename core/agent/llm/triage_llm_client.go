// Package llm wraps the OpenAI API as the inference and embedding collaborator.
package llm

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"triage_server/core/port/out"
)

const (
	DefaultModel       = "gpt-4o-mini"
	defaultMaxTokens   = 1024
	defaultTemperature = 0.2
	defaultTimeout     = 60 * time.Second
	providerName       = "openai"
)

type ClientConfig struct {
	APIKey         string
	BaseURL        string
	Model          string
	EmbeddingModel string
	MaxTokens      int
	Temperature    float64
	Timeout        time.Duration
}

type Client struct {
	client         *openai.Client
	model          string
	embeddingModel openai.EmbeddingModel
	maxTokens      int
	temperature    float32
	costs          *CostTracker
}

func NewClient(apiKey string) *Client {
	return NewClientWithConfig(ClientConfig{APIKey: apiKey})
}

func NewClientWithConfig(cfg ClientConfig) *Client {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = defaultTemperature
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	oc.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	return &Client{
		client:         openai.NewClientWithConfig(oc),
		model:          cfg.Model,
		embeddingModel: parseEmbeddingModel(cfg.EmbeddingModel),
		maxTokens:      cfg.MaxTokens,
		temperature:    float32(cfg.Temperature),
		costs:          NewCostTracker(),
	}
}

// Complete runs one system+user chat turn and returns the first choice.
func (c *Client) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if systemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: systemPrompt,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: userPrompt,
	})

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
	})
	if err != nil {
		return "", wrapError(err, "chat completion failed")
	}
	c.costs.Track(c.model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)

	if len(resp.Choices) == 0 {
		return "", out.NewProviderError(providerName, out.ProviderErrServer, "no choices returned", nil, true)
	}
	return resp.Choices[0].Message.Content, nil
}

// Embed returns the embedding vector for text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: c.embeddingModel,
		Input: []string{text},
	})
	if err != nil {
		return nil, wrapError(err, "embedding failed")
	}
	c.costs.Track(c.embeddingModel.String(), resp.Usage.PromptTokens, 0)

	if len(resp.Data) == 0 {
		return nil, out.NewProviderError(providerName, out.ProviderErrServer, "no embedding returned", nil, true)
	}
	return resp.Data[0].Embedding, nil
}

// EmbeddingModel is the model name sent with embedding requests.
func (c *Client) EmbeddingModel() string {
	return c.embeddingModel.String()
}

// parseEmbeddingModel maps a model name onto the library enum. Names the
// library does not know fall back to ada-002.
func parseEmbeddingModel(name string) openai.EmbeddingModel {
	model := openai.AdaEmbeddingV2
	if name == "" {
		return model
	}
	var parsed openai.EmbeddingModel
	if err := parsed.UnmarshalText([]byte(name)); err != nil || parsed == openai.Unknown {
		return model
	}
	return parsed
}

// Costs is the running usage of this client.
func (c *Client) Costs() CostStats {
	return c.costs.GetStats()
}

func wrapError(err error, msg string) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == http.StatusUnauthorized:
			return out.NewProviderError(providerName, out.ProviderErrAuth, msg, err, false)
		case apiErr.HTTPStatusCode == http.StatusTooManyRequests:
			return out.NewProviderError(providerName, out.ProviderErrRateLimit, msg, err, true)
		case apiErr.HTTPStatusCode >= 500:
			return out.NewProviderError(providerName, out.ProviderErrServer, msg, err, true)
		case apiErr.HTTPStatusCode >= 400:
			return out.NewProviderError(providerName, out.ProviderErrInvalidInput, msg, err, false)
		}
	}
	return out.NewProviderError(providerName, out.ProviderErrNetwork, msg, err, true)
}

var (
	_ out.InferenceService  = (*Client)(nil)
	_ out.EmbeddingProvider = (*Client)(nil)
)
