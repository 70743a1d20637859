package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/leapstack-labs/queryx/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name     string
		cfg      Config
		wantType any
		wantErr  string
	}{
		{name: "default provider", cfg: Config{Model: "gpt-3.5-turbo"}, wantType: &OpenAIClient{}},
		{name: "openai", cfg: Config{Provider: "openai", Model: "gpt-4o"}, wantType: &OpenAIClient{}},
		{name: "anthropic", cfg: Config{Provider: "anthropic", Model: "claude-3-5-haiku-latest"}, wantType: &AnthropicClient{}},
		{name: "missing model", cfg: Config{}, wantErr: "model is required"},
		{name: "unknown provider", cfg: Config{Provider: "palm", Model: "x"}, wantErr: "unknown llm provider"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(tt.cfg, nil)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.IsType(t, tt.wantType, c)
			assert.Equal(t, tt.cfg.Model, c.Model())
		})
	}
}

func TestOpenAIClient_Complete(t *testing.T) {
	var got struct {
		Model       string  `json:"model"`
		MaxTokens   int     `json:"max_tokens"`
		Temperature float64 `json:"temperature"`
		Messages    []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	var auth string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		auth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"model": "gpt-3.5-turbo-0125",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "SELECT 1"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 3, "total_tokens": 15}
		}`)
	}))
	defer server.Close()

	c := NewOpenAIClient(Config{Endpoint: server.URL + "/v1/", Model: "gpt-3.5-turbo", APIKey: "default-key"}, testutil.NewTestLogger(t))

	resp, err := c.Complete(context.Background(), Request{
		System:      "be brief",
		Prompt:      "write sql",
		MaxTokens:   512,
		Temperature: 0.1,
		APIKey:      "request-key",
	})
	require.NoError(t, err)

	assert.Equal(t, "SELECT 1", resp.Content)
	assert.Equal(t, "gpt-3.5-turbo-0125", resp.Model)
	require.NotNil(t, resp.Usage)
	assert.Equal(t, Usage{PromptTokens: 12, CompletionTokens: 3, TotalTokens: 15}, *resp.Usage)

	assert.Equal(t, "Bearer request-key", auth, "per-request key wins")
	assert.Equal(t, "gpt-3.5-turbo", got.Model)
	assert.Equal(t, 512, got.MaxTokens)
	assert.InDelta(t, 0.1, got.Temperature, 0.0001)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "be brief", got.Messages[0].Content)
	assert.Equal(t, "user", got.Messages[1].Role)
	assert.Equal(t, "write sql", got.Messages[1].Content)
}

func TestOpenAIClient_NoUsage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"choices": [{"index": 0, "message": {"role": "assistant", "content": "SELECT 2"}}]}`)
	}))
	defer server.Close()

	c := NewOpenAIClient(Config{Endpoint: server.URL, Model: "local-model", APIKey: "k"}, testutil.NewTestLogger(t))
	resp, err := c.Complete(context.Background(), Request{Prompt: "x"})
	require.NoError(t, err)
	assert.Nil(t, resp.Usage)
	assert.Equal(t, "local-model", resp.Model)
}

func TestOpenAIClient_AuthError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error": {"message": "Incorrect API key provided", "type": "invalid_request_error", "code": "invalid_api_key"}}`)
	}))
	defer server.Close()

	c := NewOpenAIClient(Config{Endpoint: server.URL, Model: "gpt-3.5-turbo", APIKey: "bad"}, testutil.NewTestLogger(t))
	_, err := c.Complete(context.Background(), Request{Prompt: "x"})

	var llmErr *Error
	require.ErrorAs(t, err, &llmErr)
	assert.Equal(t, ErrorTypeAuth, llmErr.Type)
	assert.False(t, llmErr.Retryable)
	assert.Equal(t, "gpt-3.5-turbo", llmErr.Model)
}

func TestOpenAIClient_MissingKey(t *testing.T) {
	c := NewOpenAIClient(Config{Model: "gpt-3.5-turbo"}, testutil.NewTestLogger(t))
	_, err := c.Complete(context.Background(), Request{Prompt: "x"})
	assert.Equal(t, ErrorTypeAuth, GetErrorType(err))
}

func TestOpenAIClient_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	c := NewOpenAIClient(Config{Endpoint: server.URL, Model: "m", APIKey: "k", Timeout: 50 * time.Millisecond}, testutil.NewTestLogger(t))
	_, err := c.Complete(context.Background(), Request{Prompt: "x"})
	require.Error(t, err)
	assert.True(t, IsRetryable(err))
	assert.Equal(t, ErrorTypeEndpoint, GetErrorType(err))
}

func TestAnthropicClient_Complete(t *testing.T) {
	var got struct {
		Model     string `json:"model"`
		MaxTokens int    `json:"max_tokens"`
		System    string `json:"system"`
		Messages  []struct {
			Role    string `json:"role"`
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
		} `json:"messages"`
	}
	var key string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		key = r.Header.Get("X-Api-Key")
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "msg_1",
			"type": "message",
			"role": "assistant",
			"model": "claude-3-5-haiku-latest",
			"content": [{"type": "text", "text": "SELECT 3"}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 20, "output_tokens": 4}
		}`)
	}))
	defer server.Close()

	c := NewAnthropicClient(Config{Endpoint: server.URL + "/v1", Model: "claude-3-5-haiku-latest", APIKey: "cfg-key"}, testutil.NewTestLogger(t))
	resp, err := c.Complete(context.Background(), Request{System: "sys", Prompt: "write sql", MaxTokens: 512, Temperature: 0.1})
	require.NoError(t, err)

	assert.Equal(t, "SELECT 3", resp.Content)
	require.NotNil(t, resp.Usage)
	assert.Equal(t, 24, resp.Usage.TotalTokens)

	assert.Equal(t, "cfg-key", key)
	assert.Equal(t, "claude-3-5-haiku-latest", got.Model)
	assert.Equal(t, 512, got.MaxTokens)
	assert.Equal(t, "sys", got.System)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "user", got.Messages[0].Role)
	assert.Equal(t, "write sql", got.Messages[0].Content[0].Text)
}

func TestAnthropicClient_RateLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"type": "error", "error": {"type": "rate_limit_error", "message": "Rate limit exceeded"}}`)
	}))
	defer server.Close()

	c := NewAnthropicClient(Config{Endpoint: server.URL, Model: "claude", APIKey: "k"}, testutil.NewTestLogger(t))
	_, err := c.Complete(context.Background(), Request{Prompt: "x", MaxTokens: 10})

	var llmErr *Error
	require.ErrorAs(t, err, &llmErr)
	assert.Equal(t, ErrorTypeRateLimit, llmErr.Type)
	assert.True(t, llmErr.Retryable)
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantType  ErrorType
		retryable bool
	}{
		{"unauthorized", errors.New("error, status code: 401, message: Unauthorized"), ErrorTypeAuth, false},
		{"invalid key", errors.New("invalid api key"), ErrorTypeAuth, false},
		{"model missing", errors.New("The model `gpt-9` does not exist"), ErrorTypeModel, false},
		{"endpoint 404", errors.New("status code: 404"), ErrorTypeEndpoint, false},
		{"refused", errors.New("dial tcp: connection refused"), ErrorTypeEndpoint, true},
		{"deadline", context.DeadlineExceeded, ErrorTypeEndpoint, true},
		{"rate limit", errors.New("status code: 429"), ErrorTypeRateLimit, true},
		{"server", errors.New("status code: 503 Service Unavailable"), ErrorTypeEndpoint, true},
		{"other", errors.New("something odd"), ErrorTypeUnknown, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := ClassifyError(tt.err)
			require.NotNil(t, e)
			assert.Equal(t, tt.wantType, e.Type)
			assert.Equal(t, tt.retryable, e.Retryable)
			assert.ErrorIs(t, e, tt.err)
		})
	}

	assert.Nil(t, ClassifyError(nil))

	already := NewError(ErrorTypeModel, "x", false, nil)
	assert.Same(t, already, ClassifyError(already))
}

func TestError_Message(t *testing.T) {
	e := NewErrorWithContext(ErrorTypeAuth, "authentication failed", false, errors.New("boom"), "gpt-4o", "https://api.openai.com/v1", 401)
	assert.Equal(t, "auth HTTP 401 model=gpt-4o authentication failed: boom", e.Error())
}

func TestMockCompleter(t *testing.T) {
	m := NewMockCompleter("SELECT 1")
	resp, err := m.Complete(context.Background(), Request{Prompt: "p"})
	require.NoError(t, err)
	assert.Equal(t, "SELECT 1", resp.Content)
	assert.Equal(t, 1, m.Calls())

	last, ok := m.LastRequest()
	require.True(t, ok)
	assert.Equal(t, "p", last.Prompt)
}
