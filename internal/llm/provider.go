package llm

import (
	"context"
	"errors"
	"fmt"
	"io"

	"novelverse/internal/logging"
)

// ErrNotConfigured is returned by every call on the disabled provider. The
// AI features are optional infrastructure; callers translate this into a
// degraded response instead of failing hard.
var ErrNotConfigured = errors.New("llm: provider not configured")

// EmbedMode selects the embedding task type. Models may produce different
// vectors for documents being indexed and for search queries; the two modes
// must not be mixed up or retrieval quality silently degrades.
type EmbedMode string

const (
	EmbedDocument EmbedMode = "document"
	EmbedQuery    EmbedMode = "query"
)

// Provider defines the interface for LLM services
type Provider interface {
	// Embed generates an embedding vector for the given text
	Embed(ctx context.Context, text string, mode EmbedMode) ([]float32, error)

	// Stream generates a completion for the prompt, writing each token to w
	// as it arrives, and returns the full concatenated response
	Stream(ctx context.Context, prompt string, w io.Writer) (string, error)

	// Generate produces a completion in one batch call
	Generate(ctx context.Context, prompt string) (string, error)

	// Name returns the provider name (e.g., "gemini", "openai", "ollama")
	Name() string

	// Configured reports whether real model calls can be made
	Configured() bool
}

// Config holds provider configuration
type Config struct {
	Type             string // "gemini", "openai", "ollama" or "" for disabled
	GeminiKey        string
	GeminiEmbedModel string
	GeminiChatModel  string
	OpenAIKey        string
	OpenAIEmbedModel string
	OpenAIChatModel  string
	OllamaEndpoint   string
	OllamaEmbedModel string
	OllamaChatModel  string
}

// NewProvider creates a provider based on config. An empty type yields the
// disabled provider rather than an error: a deployment without AI credentials
// is a supported production state.
func NewProvider(cfg Config, logger *logging.Logger) (Provider, error) {
	switch cfg.Type {
	case "":
		return NewDisabledProvider(), nil
	case "gemini":
		if cfg.GeminiKey == "" {
			return nil, fmt.Errorf("gemini API key is required")
		}
		return NewGeminiProvider(cfg.GeminiKey, cfg.GeminiEmbedModel, cfg.GeminiChatModel, logger), nil
	case "openai":
		if cfg.OpenAIKey == "" {
			return nil, fmt.Errorf("openai API key is required")
		}
		return NewOpenAIProvider(cfg.OpenAIKey, cfg.OpenAIEmbedModel, cfg.OpenAIChatModel, logger), nil
	case "ollama":
		return NewOllamaProvider(cfg.OllamaEndpoint, cfg.OllamaEmbedModel, cfg.OllamaChatModel, logger), nil
	default:
		return nil, fmt.Errorf("unknown provider type: %s", cfg.Type)
	}
}
