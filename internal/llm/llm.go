// Package llm provides the language-model completion service used to
// write and repair SQL. OpenAI-compatible endpoints and Anthropic are
// supported behind the Completer interface.
package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Provider names accepted by New.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// Request is one completion call. APIKey overrides the configured key for
// this call only.
type Request struct {
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
	APIKey      string
}

// Usage is the token accounting reported by the provider.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is the raw text of a completion. Usage is nil when the provider
// reported none.
type Response struct {
	Content string
	Model   string
	Usage   *Usage
}

// Completer produces a single completion for a prompt.
type Completer interface {
	Complete(ctx context.Context, req Request) (*Response, error)

	// Model returns the configured model name.
	Model() string
}

// Config holds configuration for creating a Completer.
type Config struct {
	Provider string        // "openai" (default) or "anthropic"
	Endpoint string        // Base URL; empty uses the provider default
	Model    string        // Model name, e.g. "gpt-3.5-turbo"
	APIKey   string        // Default key; requests may override it
	Timeout  time.Duration // Per-call timeout; zero means none
}

// New creates the Completer for cfg.Provider.
func New(cfg Config, logger *slog.Logger) (Completer, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	switch cfg.Provider {
	case "", ProviderOpenAI:
		return NewOpenAIClient(cfg, logger), nil
	case ProviderAnthropic:
		return NewAnthropicClient(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q (expected %q or %q)", cfg.Provider, ProviderOpenAI, ProviderAnthropic)
	}
}

// resolveKey picks the per-request key over the configured one.
func resolveKey(req Request, cfg Config) (string, error) {
	key := req.APIKey
	if key == "" {
		key = cfg.APIKey
	}
	if key == "" {
		return "", NewError(ErrorTypeAuth, "no API key provided", false, nil)
	}
	return key, nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}
