package llm

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
)

// DefaultOpenAIEndpoint is used when Config.Endpoint is empty.
const DefaultOpenAIEndpoint = "https://api.openai.com/v1"

// OpenAIClient talks to any OpenAI-compatible chat completions endpoint.
type OpenAIClient struct {
	cfg    Config
	logger *slog.Logger
}

// NewOpenAIClient creates a client. The underlying HTTP client is built per
// call because the API key may differ between calls.
func NewOpenAIClient(cfg Config, logger *slog.Logger) *OpenAIClient {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultOpenAIEndpoint
	}
	return &OpenAIClient{cfg: cfg, logger: logger.With("provider", ProviderOpenAI)}
}

// Model returns the configured model name.
func (c *OpenAIClient) Model() string {
	return c.cfg.Model
}

// Complete sends a system and a user message and returns the first choice.
func (c *OpenAIClient) Complete(ctx context.Context, req Request) (*Response, error) {
	key, err := resolveKey(req, c.cfg)
	if err != nil {
		return nil, err
	}

	clientConfig := openai.DefaultConfig(key)
	clientConfig.BaseURL = strings.TrimSuffix(c.cfg.Endpoint, "/")
	client := openai.NewClientWithConfig(clientConfig)

	var messages []openai.ChatCompletionMessage
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Prompt})

	c.logger.Debug("LLM request",
		"model", c.cfg.Model,
		"prompt_len", len(req.Prompt),
		"max_tokens", req.MaxTokens,
		"temperature", req.Temperature)

	ctx, cancel := withTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	start := time.Now()
	resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.cfg.Model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: float32(req.Temperature),
	})
	if err != nil {
		c.logger.Error("LLM request failed", "elapsed", time.Since(start), "error", err)
		llmErr := ClassifyError(err)
		llmErr.Model = c.cfg.Model
		llmErr.Endpoint = c.cfg.Endpoint
		return nil, llmErr
	}

	if len(resp.Choices) == 0 {
		return nil, NewErrorWithContext(ErrorTypeUnknown, "no choices in response", false, nil, c.cfg.Model, c.cfg.Endpoint, 0)
	}

	out := &Response{
		Content: resp.Choices[0].Message.Content,
		Model:   resp.Model,
	}
	if out.Model == "" {
		out.Model = c.cfg.Model
	}
	if resp.Usage.TotalTokens > 0 {
		out.Usage = &Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}

	c.logger.Debug("LLM request completed",
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
		"elapsed", time.Since(start))

	return out, nil
}

var _ Completer = (*OpenAIClient)(nil)

