package llm

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
)

// Options selects and configures a provider client.
type Options struct {
	Provider string
	APIKey   string
	Model    string
	BaseURL  string

	// HTTPClient is used by the OpenAI-compatible providers; nil falls
	// back to the library default.
	HTTPClient *http.Client
}

// New builds the provider client named by opts.Provider. Ollama routes
// through the OpenAI-compatible client against its /v1 endpoint.
func New(ctx context.Context, opts Options) (Client, error) {
	switch strings.ToLower(opts.Provider) {
	case "anthropic":
		return NewAnthropicClient(opts.APIKey, opts.Model), nil

	case "openai":
		return NewOpenAIClient(opts.APIKey, opts.Model, opts.BaseURL, opts.HTTPClient), nil

	case "gemini":
		return NewGeminiClient(ctx, opts.APIKey, opts.Model)

	case "ollama":
		baseURL := strings.TrimRight(opts.BaseURL, "/")
		if !strings.HasSuffix(baseURL, "/v1") {
			baseURL += "/v1"
		}
		apiKey := opts.APIKey
		if apiKey == "" {
			// Ollama ignores the key but the client requires one.
			apiKey = "ollama"
		}
		log.Printf("llm ollama via openai-compatible api base=%s model=%s", baseURL, opts.Model)
		return NewOpenAIClient(apiKey, opts.Model, baseURL, opts.HTTPClient), nil

	default:
		return nil, fmt.Errorf("unsupported llm provider: %s", opts.Provider)
	}
}
