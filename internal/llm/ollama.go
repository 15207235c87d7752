package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"novelverse/internal/logging"
)

// OllamaProvider implements the Provider interface for a local Ollama server
type OllamaProvider struct {
	endpoint   string
	embedModel string
	chatModel  string
	client     *http.Client
	logger     *logging.Logger
}

// NewOllamaProvider creates a new Ollama provider
func NewOllamaProvider(endpoint, embedModel, chatModel string, logger *logging.Logger) *OllamaProvider {
	return &OllamaProvider{
		endpoint:   endpoint,
		embedModel: embedModel,
		chatModel:  chatModel,
		client:     &http.Client{Timeout: 60 * time.Second},
		logger:     logger,
	}
}

// Embed generates an embedding vector for the given text. Ollama embedding
// models have no document/query task distinction; mode is ignored.
func (p *OllamaProvider) Embed(ctx context.Context, text string, mode EmbedMode) ([]float32, error) {
	reqBody := map[string]interface{}{
		"model":  p.embedModel,
		"prompt": text,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("ollama: failed to marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", p.endpoint+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ollama: failed to create embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama: embed request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama: embed returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var result struct {
		Embedding []float32 `json:"embedding"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("ollama: failed to decode embed response: %w", err)
	}
	if len(result.Embedding) == 0 {
		return nil, fmt.Errorf("ollama: returned empty embedding")
	}
	return result.Embedding, nil
}

// Stream generates a chat completion and writes tokens to w as they arrive
func (p *OllamaProvider) Stream(ctx context.Context, prompt string, w io.Writer) (string, error) {
	logger := p.logger.WithFields(map[string]interface{}{
		"provider":  "ollama",
		"model":     p.chatModel,
		"operation": "stream",
	})
	logger.Debug("starting chat stream request")

	reqBody := map[string]interface{}{
		"model": p.chatModel,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
		"stream": true,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("ollama: failed to marshal stream request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", p.endpoint+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("ollama: failed to create stream request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("ollama: stream request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("ollama: stream returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	// Ollama streams newline-delimited JSON chunks rather than SSE
	var fullResponse strings.Builder
	decoder := json.NewDecoder(resp.Body)

	for {
		var chunk struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
			Done bool `json:"done"`
		}

		if err := decoder.Decode(&chunk); err != nil {
			if err == io.EOF {
				break
			}
			return fullResponse.String(), fmt.Errorf("ollama: failed to decode stream chunk: %w", err)
		}

		if chunk.Message.Content != "" {
			fullResponse.WriteString(chunk.Message.Content)
			if _, err := w.Write([]byte(chunk.Message.Content)); err != nil {
				return fullResponse.String(), fmt.Errorf("ollama: failed to write stream content: %w", err)
			}
		}

		if chunk.Done {
			break
		}
	}

	logger.WithContext("response_length", fullResponse.Len()).Debug("chat stream completed")
	return fullResponse.String(), nil
}

// Generate produces a completion in one batch call
func (p *OllamaProvider) Generate(ctx context.Context, prompt string) (string, error) {
	reqBody := map[string]interface{}{
		"model": p.chatModel,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
		"stream": false,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("ollama: failed to marshal generate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", p.endpoint+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("ollama: failed to create generate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("ollama: generate request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("ollama: generate returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var result struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("ollama: failed to decode generate response: %w", err)
	}
	return result.Message.Content, nil
}

// Name returns the provider name
func (p *OllamaProvider) Name() string {
	return "ollama"
}

// Configured always reports true for a constructed Ollama provider
func (p *OllamaProvider) Configured() bool {
	return true
}
