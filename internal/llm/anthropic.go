package llm

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/liushuangls/go-anthropic/v2"
)

// AnthropicClient talks to the Anthropic Messages API.
type AnthropicClient struct {
	cfg    Config
	logger *slog.Logger
}

// NewAnthropicClient creates a client. The SDK client is built per call
// because the API key may differ between calls.
func NewAnthropicClient(cfg Config, logger *slog.Logger) *AnthropicClient {
	return &AnthropicClient{cfg: cfg, logger: logger.With("provider", ProviderAnthropic)}
}

// Model returns the configured model name.
func (c *AnthropicClient) Model() string {
	return c.cfg.Model
}

// Complete sends the prompt as a single user message with the system
// instruction alongside.
func (c *AnthropicClient) Complete(ctx context.Context, req Request) (*Response, error) {
	key, err := resolveKey(req, c.cfg)
	if err != nil {
		return nil, err
	}

	var opts []anthropic.ClientOption
	if c.cfg.Endpoint != "" {
		opts = append(opts, anthropic.WithBaseURL(strings.TrimSuffix(c.cfg.Endpoint, "/")))
	}
	client := anthropic.NewClient(key, opts...)

	temperature := float32(req.Temperature)
	prompt := req.Prompt

	c.logger.Debug("LLM request",
		"model", c.cfg.Model,
		"prompt_len", len(req.Prompt),
		"max_tokens", req.MaxTokens,
		"temperature", req.Temperature)

	ctx, cancel := withTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	start := time.Now()
	resp, err := client.CreateMessages(ctx, anthropic.MessagesRequest{
		Model:       anthropic.Model(c.cfg.Model),
		MaxTokens:   req.MaxTokens,
		System:      req.System,
		Temperature: &temperature,
		Messages: []anthropic.Message{
			{Role: anthropic.RoleUser, Content: []anthropic.MessageContent{
				{Type: "text", Text: &prompt},
			}},
		},
	})
	if err != nil {
		c.logger.Error("LLM request failed", "elapsed", time.Since(start), "error", err)
		llmErr := ClassifyError(err)
		llmErr.Model = c.cfg.Model
		llmErr.Endpoint = c.cfg.Endpoint
		return nil, llmErr
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" && block.Text != nil {
			text.WriteString(*block.Text)
		}
	}

	out := &Response{Content: text.String(), Model: string(resp.Model)}
	if out.Model == "" {
		out.Model = c.cfg.Model
	}
	if resp.Usage.InputTokens > 0 || resp.Usage.OutputTokens > 0 {
		out.Usage = &Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		}
	}

	c.logger.Debug("LLM request completed",
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens,
		"elapsed", time.Since(start))

	return out, nil
}

var _ Completer = (*AnthropicClient)(nil)
