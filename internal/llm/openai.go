package llm

import (
	"bufio"
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

const openaiBaseURL = "https://api.openai.com/v1"

// OpenAIProvider implements the Provider interface for OpenAI
type OpenAIProvider struct {
	apiKey     string
	embedModel string
	chatModel  string
	baseURL    string
	client     *http.Client
	logger     *logging.Logger
}

// NewOpenAIProvider creates a new OpenAI provider
func NewOpenAIProvider(apiKey, embedModel, chatModel string, logger *logging.Logger) *OpenAIProvider {
	return &OpenAIProvider{
		apiKey:     apiKey,
		embedModel: embedModel,
		chatModel:  chatModel,
		baseURL:    openaiBaseURL,
		client:     &http.Client{Timeout: 60 * time.Second},
		logger:     logger,
	}
}

// Embed generates an embedding vector for the given text. OpenAI's embedding
// API has no document/query task distinction, so mode is accepted for
// interface compatibility and ignored.
func (p *OpenAIProvider) Embed(ctx context.Context, text string, mode EmbedMode) ([]float32, error) {
	logger := p.logger.WithFields(map[string]interface{}{
		"provider":  "openai",
		"model":     p.embedModel,
		"operation": "embed",
	})
	logger.Debug("starting embedding request")

	start := time.Now()
	reqBody := map[string]interface{}{
		"model": p.embedModel,
		"input": text,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("openai: failed to marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("openai: failed to create embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"error":      err.Error(),
			"latency_ms": time.Since(start).Milliseconds(),
		}).Error("embed request failed")
		return nil, fmt.Errorf("openai: embed request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		logger.WithFields(map[string]interface{}{
			"status":     resp.StatusCode,
			"error":      string(bodyBytes),
			"latency_ms": time.Since(start).Milliseconds(),
		}).Error("embed returned non-OK status")
		return nil, fmt.Errorf("openai: embed returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var result struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("openai: failed to decode embed response: %w", err)
	}
	if len(result.Data) == 0 {
		return nil, fmt.Errorf("openai: returned no embeddings")
	}

	logger.WithFields(map[string]interface{}{
		"latency_ms":  time.Since(start).Milliseconds(),
		"vector_size": len(result.Data[0].Embedding),
	}).Debug("embedding request completed")

	return result.Data[0].Embedding, nil
}

// Stream generates a chat completion and writes tokens to w as they arrive
func (p *OpenAIProvider) Stream(ctx context.Context, prompt string, w io.Writer) (string, error) {
	logger := p.logger.WithFields(map[string]interface{}{
		"provider":  "openai",
		"model":     p.chatModel,
		"operation": "stream",
	})
	logger.Debug("starting chat stream request")

	start := time.Now()
	reqBody := map[string]interface{}{
		"model": p.chatModel,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
		"stream": true,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("openai: failed to marshal stream request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("openai: failed to create stream request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"error":      err.Error(),
			"latency_ms": time.Since(start).Milliseconds(),
		}).Error("stream request failed")
		return "", fmt.Errorf("openai: stream request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		logger.WithFields(map[string]interface{}{
			"status":     resp.StatusCode,
			"error":      string(bodyBytes),
			"latency_ms": time.Since(start).Milliseconds(),
		}).Error("stream returned non-OK status")
		return "", fmt.Errorf("openai: stream returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var fullResponse strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	tokenCount := 0

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}

		var chunk struct {
			Choices []struct {
				Delta struct {
					Content string `json:"content"`
				} `json:"delta"`
			} `json:"choices"`
		}
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
			continue
		}

		content := chunk.Choices[0].Delta.Content
		fullResponse.WriteString(content)
		tokenCount++
		if _, err := w.Write([]byte(content)); err != nil {
			return fullResponse.String(), fmt.Errorf("openai: failed to write stream content: %w", err)
		}
	}

	if err := scanner.Err(); err != nil {
		logger.WithFields(map[string]interface{}{
			"error":      err.Error(),
			"latency_ms": time.Since(start).Milliseconds(),
		}).Error("failed to read stream")
		return fullResponse.String(), fmt.Errorf("openai: failed to read stream: %w", err)
	}

	logger.WithFields(map[string]interface{}{
		"latency_ms":      time.Since(start).Milliseconds(),
		"tokens":          tokenCount,
		"response_length": fullResponse.Len(),
	}).Debug("chat stream completed")

	return fullResponse.String(), nil
}

// Generate produces a completion in one batch call
func (p *OpenAIProvider) Generate(ctx context.Context, prompt string) (string, error) {
	reqBody := map[string]interface{}{
		"model": p.chatModel,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("openai: failed to marshal generate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("openai: failed to create generate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("openai: generate request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("openai: generate returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("openai: failed to decode generate response: %w", err)
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("openai: generate returned no choices")
	}
	return result.Choices[0].Message.Content, nil
}

// Name returns the provider name
func (p *OpenAIProvider) Name() string {
	return "openai"
}

// Configured always reports true for a constructed OpenAI provider
func (p *OpenAIProvider) Configured() bool {
	return true
}
