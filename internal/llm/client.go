// Package llm provides the chat-completion gateway client used for chunk
// extraction, query rewriting and answer generation. It speaks the
// OpenAI-compatible /chat/completions protocol (OpenAI, OpenRouter) via plain
// HTTP and normalises the provider's response shapes into a single content
// string at this boundary.
//
// Failure handling follows a fixed taxonomy: authorization failures abort
// immediately, rate-limit and server errors are retried with exponential
// backoff, and a model that rejects the "max_tokens" parameter is retried
// once with "max_completion_tokens" instead.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"
)

// ErrUnauthorized is returned when the provider rejects the API key.
// It is never retried; callers should abort the whole operation.
var ErrUnauthorized = errors.New("llm: unauthorized")

// Default endpoints for auto-detection.
const (
	OpenAIBaseURL     = "https://api.openai.com/v1"
	OpenRouterBaseURL = "https://openrouter.ai/api/v1"
)

// Message is one turn of a chat conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request describes one completion call. Either Messages is set, or System
// (optional) and Prompt are combined into a conversation.
type Request struct {
	// System is the system prompt. Ignored when Messages is non-empty.
	System string

	// Prompt is the user message. Ignored when Messages is non-empty.
	Prompt string

	// Messages is the full conversation, overriding System/Prompt.
	Messages []Message

	// Temperature controls randomness. Negative means "omit" — some
	// models reject the parameter entirely.
	Temperature float32

	// MaxTokens caps the response length. Defaults to 1024 if zero.
	MaxTokens int
}

// Config holds the settings for constructing a Client.
type Config struct {
	// BaseURL is the API base (default: OpenAIBaseURL).
	BaseURL string

	// APIKey is the Bearer token.
	APIKey string

	// Model is the chat model name.
	Model string

	// MaxRetries bounds attempts for transient failures. Defaults to 3.
	MaxRetries int

	// Timeout is the per-request HTTP timeout. Defaults to 60s.
	Timeout time.Duration

	// RequestsPerSecond paces outbound calls. Zero disables pacing.
	RequestsPerSecond float64

	// OnRetry, when non-nil, is invoked once per retried attempt.
	// Used for metrics; must not block.
	OnRetry func()
}

// Client is an OpenAI-compatible chat-completion client.
// It is safe for concurrent use.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	maxRetries int
	onRetry    func()
	limiter    *rate.Limiter
	client     *http.Client
}

// NewClient constructs a Client from the given config.
func NewClient(cfg *Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llm: API key must not be empty")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("llm: model must not be empty")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = OpenAIBaseURL
	}
	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = 3
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		maxRetries: retries,
		onRetry:    cfg.OnRetry,
		limiter:    limiter,
		client:     &http.Client{Timeout: timeout},
	}, nil
}

// chatRequest is the JSON body sent to /chat/completions. Exactly one of
// MaxTokens / MaxCompletionTokens is set per attempt.
type chatRequest struct {
	Model               string    `json:"model"`
	Messages            []Message `json:"messages"`
	Temperature         *float32  `json:"temperature,omitempty"`
	MaxTokens           int       `json:"max_tokens,omitempty"`
	MaxCompletionTokens int       `json:"max_completion_tokens,omitempty"`
}

// chatResponse covers the response shapes seen across providers. Newer
// providers populate choices[].message.content; older ones choices[].text.
// extractContent normalises both into one string.
type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		Text string `json:"text"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// extractContent returns the assistant text from a decoded response.
func extractContent(data *chatResponse) (string, error) {
	if len(data.Choices) == 0 {
		return "", fmt.Errorf("llm: response contains no choices")
	}
	first := data.Choices[0]
	if c := strings.TrimSpace(first.Message.Content); c != "" {
		return c, nil
	}
	return strings.TrimSpace(first.Text), nil
}

// Complete sends a chat completion request and returns the assistant text.
//
// Transient failures (429/502/503/504, network errors) are retried up to
// MaxRetries with exponential backoff. A 401 returns ErrUnauthorized at
// once. A 400 mentioning "max_tokens" switches the token-limit parameter to
// "max_completion_tokens" and retries immediately, once.
func (c *Client) Complete(ctx context.Context, req Request) (string, error) {
	messages := req.Messages
	if len(messages) == 0 {
		if req.Prompt == "" {
			return "", fmt.Errorf("llm: either Messages or Prompt must be set")
		}
		if req.System != "" {
			messages = append(messages, Message{Role: "system", Content: req.System})
		}
		messages = append(messages, Message{Role: "user", Content: req.Prompt})
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	var temperature *float32
	if req.Temperature >= 0 {
		t := req.Temperature
		temperature = &t
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 2 * time.Second
	bo.RandomizationFactor = 0
	bo.Reset()

	useCompletionTokens := false
	var lastErr error

	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return "", fmt.Errorf("llm: rate limiter: %w", err)
			}
		}

		body := chatRequest{
			Model:       c.model,
			Messages:    messages,
			Temperature: temperature,
		}
		if useCompletionTokens {
			body.MaxCompletionTokens = maxTokens
		} else {
			body.MaxTokens = maxTokens
		}

		content, retryable, err := c.attempt(ctx, &body)
		if err == nil {
			return content, nil
		}

		// Parameter-name fallback: retry immediately with the alternate
		// token-limit parameter, one switch only.
		if errors.Is(err, errBadTokenParam) && !useCompletionTokens {
			slog.Default().Warn("llm: model rejected max_tokens, switching to max_completion_tokens")
			useCompletionTokens = true
			attempt--
			continue
		}

		if !retryable {
			return "", err
		}

		lastErr = err
		if attempt < c.maxRetries {
			if c.onRetry != nil {
				c.onRetry()
			}
			wait := bo.NextBackOff()
			slog.Default().Warn("llm: transient failure, retrying",
				slog.Int("attempt", attempt),
				slog.Duration("backoff", wait),
				slog.String("error", err.Error()),
			)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
	}

	return "", fmt.Errorf("llm: exhausted %d attempts: %w", c.maxRetries, lastErr)
}

// errBadTokenParam signals that the provider rejected the "max_tokens"
// parameter name for the selected model.
var errBadTokenParam = errors.New("llm: unsupported max_tokens parameter")

// attempt performs a single HTTP round trip. The second return value reports
// whether the failure is transient and worth retrying.
func (c *Client) attempt(ctx context.Context, body *chatRequest) (string, bool, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return "", false, fmt.Errorf("llm: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", false, fmt.Errorf("llm: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		// Network-level failures are transient unless the context is done.
		if ctx.Err() != nil {
			return "", false, ctx.Err()
		}
		return "", true, fmt.Errorf("llm: request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", true, fmt.Errorf("llm: read response: %w", err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var data chatResponse
		if err := json.Unmarshal(raw, &data); err != nil {
			return "", false, fmt.Errorf("llm: decode response: %w", err)
		}
		content, err := extractContent(&data)
		if err != nil {
			return "", false, err
		}
		return content, false, nil

	case resp.StatusCode == http.StatusUnauthorized:
		return "", false, fmt.Errorf("%w: %s", ErrUnauthorized, apiErrorMessage(raw, resp.StatusCode))

	case resp.StatusCode == http.StatusBadRequest &&
		(strings.Contains(string(raw), "max_tokens") || strings.Contains(string(raw), "unsupported_parameter")):
		return "", false, errBadTokenParam

	case resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode == http.StatusBadGateway,
		resp.StatusCode == http.StatusServiceUnavailable,
		resp.StatusCode == http.StatusGatewayTimeout:
		return "", true, fmt.Errorf("llm: %s", apiErrorMessage(raw, resp.StatusCode))

	default:
		return "", false, fmt.Errorf("llm: %s", apiErrorMessage(raw, resp.StatusCode))
	}
}

// apiErrorMessage extracts the provider error message from a failed response
// body, falling back to the HTTP status.
func apiErrorMessage(raw []byte, status int) string {
	var data chatResponse
	if err := json.Unmarshal(raw, &data); err == nil && data.Error != nil && data.Error.Message != "" {
		return fmt.Sprintf("HTTP %d: %s", status, data.Error.Message)
	}
	return fmt.Sprintf("HTTP %d", status)
}
