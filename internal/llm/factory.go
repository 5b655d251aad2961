package llm

import (
	"fmt"
	"os"
	"strconv"
)

// defaultModel is used when MODEL_NAME is unset.
const defaultModel = "gpt-4o-mini"

// NewFromEnv constructs a Client from environment variables.
//
// Resolution order:
//
//  1. MODEL_BASE_URL — API base; OPENROUTER_API_KEY implies the OpenRouter
//     base when unset (default: OpenAI)
//  2. OPENAI_API_KEY / OPENROUTER_API_KEY — credential
//  3. MODEL_NAME — chat model (default: gpt-4o-mini)
//  4. MODEL_MAX_RETRIES, MODEL_RPS — retry bound and request pacing
func NewFromEnv(onRetry func()) (*Client, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	baseURL := os.Getenv("MODEL_BASE_URL")

	if apiKey == "" {
		if orKey := os.Getenv("OPENROUTER_API_KEY"); orKey != "" {
			apiKey = orKey
			if baseURL == "" {
				baseURL = OpenRouterBaseURL
			}
		}
	}
	if apiKey == "" {
		return nil, fmt.Errorf("llm: OPENAI_API_KEY or OPENROUTER_API_KEY must be set")
	}

	model := os.Getenv("MODEL_NAME")
	if model == "" {
		model = defaultModel
	}

	return NewClient(&Config{
		BaseURL:           baseURL,
		APIKey:            apiKey,
		Model:             model,
		MaxRetries:        envInt("MODEL_MAX_RETRIES", 0),
		RequestsPerSecond: envFloat("MODEL_RPS", 0),
		OnRetry:           onRetry,
	})
}

// envInt returns the integer value of the named env var, or fallback.
func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

// envFloat returns the float value of the named env var, or fallback.
func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
