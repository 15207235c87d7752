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

const geminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// GeminiProvider implements the Provider interface for Google Gemini
type GeminiProvider struct {
	apiKey     string
	embedModel string
	chatModel  string
	baseURL    string
	client     *http.Client
	logger     *logging.Logger
}

// NewGeminiProvider creates a new Gemini provider
func NewGeminiProvider(apiKey, embedModel, chatModel string, logger *logging.Logger) *GeminiProvider {
	return &GeminiProvider{
		apiKey:     apiKey,
		embedModel: embedModel,
		chatModel:  chatModel,
		baseURL:    geminiBaseURL,
		client:     &http.Client{Timeout: 60 * time.Second},
		logger:     logger,
	}
}

// taskType maps the abstract embed mode onto Gemini's task types. Document
// and query vectors are intentionally asymmetric; indexing must use
// RETRIEVAL_DOCUMENT and search RETRIEVAL_QUERY.
func taskType(mode EmbedMode) string {
	if mode == EmbedQuery {
		return "RETRIEVAL_QUERY"
	}
	return "RETRIEVAL_DOCUMENT"
}

// Embed generates an embedding vector for the given text
func (p *GeminiProvider) Embed(ctx context.Context, text string, mode EmbedMode) ([]float32, error) {
	logger := p.logger.WithFields(map[string]interface{}{
		"provider":  "gemini",
		"model":     p.embedModel,
		"operation": "embed",
		"mode":      string(mode),
	})
	logger.Debug("starting embedding request")

	start := time.Now()
	reqBody := map[string]interface{}{
		"model": "models/" + p.embedModel,
		"content": map[string]interface{}{
			"parts": []map[string]string{{"text": text}},
		},
		"taskType": taskType(mode),
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("gemini: failed to marshal embed request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:embedContent?key=%s", p.baseURL, p.embedModel, p.apiKey)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("gemini: failed to create embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"error":      err.Error(),
			"latency_ms": time.Since(start).Milliseconds(),
		}).Error("embed request failed")
		return nil, fmt.Errorf("gemini: embed request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		logger.WithFields(map[string]interface{}{
			"status":     resp.StatusCode,
			"error":      string(bodyBytes),
			"latency_ms": time.Since(start).Milliseconds(),
		}).Error("embed returned non-OK status")
		return nil, fmt.Errorf("gemini: embed returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var result struct {
		Embedding struct {
			Values []float32 `json:"values"`
		} `json:"embedding"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("gemini: failed to decode embed response: %w", err)
	}
	if len(result.Embedding.Values) == 0 {
		return nil, fmt.Errorf("gemini: returned empty embedding")
	}

	logger.WithFields(map[string]interface{}{
		"latency_ms":  time.Since(start).Milliseconds(),
		"vector_size": len(result.Embedding.Values),
	}).Debug("embedding request completed")

	return result.Embedding.Values, nil
}

// Stream generates a completion and writes tokens to w as they arrive
func (p *GeminiProvider) Stream(ctx context.Context, prompt string, w io.Writer) (string, error) {
	logger := p.logger.WithFields(map[string]interface{}{
		"provider":  "gemini",
		"model":     p.chatModel,
		"operation": "stream",
	})
	logger.Debug("starting chat stream request")

	start := time.Now()
	body, err := json.Marshal(generateRequest(prompt))
	if err != nil {
		return "", fmt.Errorf("gemini: failed to marshal stream request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse&key=%s", p.baseURL, p.chatModel, p.apiKey)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("gemini: failed to create stream request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"error":      err.Error(),
			"latency_ms": time.Since(start).Milliseconds(),
		}).Error("stream request failed")
		return "", fmt.Errorf("gemini: stream request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		logger.WithFields(map[string]interface{}{
			"status":     resp.StatusCode,
			"error":      string(bodyBytes),
			"latency_ms": time.Since(start).Milliseconds(),
		}).Error("stream returned non-OK status")
		return "", fmt.Errorf("gemini: stream returned status %d: %s", resp.StatusCode, string(bodyBytes))
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

		token := extractCandidateText([]byte(data))
		if token == "" {
			continue
		}
		fullResponse.WriteString(token)
		tokenCount++
		if _, err := w.Write([]byte(token)); err != nil {
			return fullResponse.String(), fmt.Errorf("gemini: failed to write stream content: %w", err)
		}
	}

	if err := scanner.Err(); err != nil {
		logger.WithFields(map[string]interface{}{
			"error":      err.Error(),
			"latency_ms": time.Since(start).Milliseconds(),
		}).Error("failed to read stream")
		return fullResponse.String(), fmt.Errorf("gemini: failed to read stream: %w", err)
	}

	logger.WithFields(map[string]interface{}{
		"latency_ms":      time.Since(start).Milliseconds(),
		"tokens":          tokenCount,
		"response_length": fullResponse.Len(),
	}).Debug("chat stream completed")

	return fullResponse.String(), nil
}

// Generate produces a completion in one batch call
func (p *GeminiProvider) Generate(ctx context.Context, prompt string) (string, error) {
	logger := p.logger.WithFields(map[string]interface{}{
		"provider":  "gemini",
		"model":     p.chatModel,
		"operation": "generate",
	})

	start := time.Now()
	body, err := json.Marshal(generateRequest(prompt))
	if err != nil {
		return "", fmt.Errorf("gemini: failed to marshal generate request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", p.baseURL, p.chatModel, p.apiKey)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("gemini: failed to create generate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("gemini: generate request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		logger.WithFields(map[string]interface{}{
			"status":     resp.StatusCode,
			"error":      string(bodyBytes),
			"latency_ms": time.Since(start).Milliseconds(),
		}).Error("generate returned non-OK status")
		return "", fmt.Errorf("gemini: generate returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("gemini: failed to read generate response: %w", err)
	}
	text := extractCandidateText(raw)
	if text == "" {
		return "", fmt.Errorf("gemini: generate returned no candidates")
	}

	logger.WithFields(map[string]interface{}{
		"latency_ms":      time.Since(start).Milliseconds(),
		"response_length": len(text),
	}).Debug("generate completed")

	return text, nil
}

// Name returns the provider name
func (p *GeminiProvider) Name() string {
	return "gemini"
}

// Configured always reports true for a constructed Gemini provider
func (p *GeminiProvider) Configured() bool {
	return true
}

func generateRequest(prompt string) map[string]interface{} {
	return map[string]interface{}{
		"contents": []map[string]interface{}{
			{"parts": []map[string]string{{"text": prompt}}},
		},
	}
}

// extractCandidateText pulls the text of the first candidate part out of a
// generateContent response chunk. Malformed chunks yield "".
func extractCandidateText(data []byte) string {
	var chunk struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
	}
	if err := json.Unmarshal(data, &chunk); err != nil {
		return ""
	}
	var sb strings.Builder
	if len(chunk.Candidates) > 0 {
		for _, part := range chunk.Candidates[0].Content.Parts {
			sb.WriteString(part.Text)
		}
	}
	return sb.String()
}
