package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"novelverse/internal/logging"
)

// Payload is the metadata stored alongside each vector. chapter_number is
// what the spoiler filter ranges over at query time.
type Payload struct {
	NovelID       string `json:"novel_id"`
	ChapterID     string `json:"chapter_id"`
	ChapterNumber int    `json:"chapter_number"`
	ChunkIndex    int    `json:"chunk_index"`
}

// Point is one vector-index entry
type Point struct {
	ID      string
	Vector  []float32
	Payload Payload
}

// Config holds Qdrant connection settings
type Config struct {
	URL       string
	APIKey    string
	Dimension int
	Timeout   time.Duration
}

// Qdrant is a minimal REST client to a Qdrant server. Each novel gets its
// own collection, created lazily when its first chapter is indexed.
type Qdrant struct {
	url       string
	apiKey    string
	dimension int
	client    *http.Client
	logger    *logging.Logger
}

// New creates a Qdrant client. An empty URL yields an unconfigured client;
// callers must check Configured() and degrade instead of calling through.
func New(cfg Config, logger *logging.Logger) *Qdrant {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Qdrant{
		url:       cfg.URL,
		apiKey:    cfg.APIKey,
		dimension: cfg.Dimension,
		client:    &http.Client{Timeout: timeout},
		logger:    logger,
	}
}

// Configured reports whether a Qdrant endpoint is set
func (q *Qdrant) Configured() bool {
	return q.url != ""
}

// CollectionName derives the per-novel collection name
func CollectionName(novelID string) string {
	return "novel_" + novelID
}

// EnsureCollection creates the novel's collection if it does not exist yet.
// A collection that already exists is success; two racing creators both
// succeed because Qdrant answers 200 for a matching existing schema.
func (q *Qdrant) EnsureCollection(ctx context.Context, novelID string) error {
	name := CollectionName(novelID)

	status, _, err := q.do(ctx, http.MethodGet, "/collections/"+name, nil)
	if err != nil {
		return fmt.Errorf("qdrant: collection check failed: %w", err)
	}
	if status == http.StatusOK {
		return nil
	}

	body := map[string]interface{}{
		"vectors": map[string]interface{}{
			"size":     q.dimension,
			"distance": "Cosine",
		},
	}
	status, respBody, err := q.do(ctx, http.MethodPut, "/collections/"+name, body)
	if err != nil {
		return fmt.Errorf("qdrant: collection create failed: %w", err)
	}
	// 409 means another writer created it between our check and create
	if status >= 300 && status != http.StatusConflict {
		return fmt.Errorf("qdrant: collection create returned status %d: %s", status, respBody)
	}

	q.logger.WithContext("collection", name).Info("created vector collection")
	return nil
}

// Upsert writes points into the novel's collection. Point ids are the upsert
// key; re-sending an id replaces that entry.
func (q *Qdrant) Upsert(ctx context.Context, novelID string, points []Point) error {
	if len(points) == 0 {
		return nil
	}

	payload := make([]map[string]interface{}, len(points))
	for i, p := range points {
		payload[i] = map[string]interface{}{
			"id":     p.ID,
			"vector": p.Vector,
			"payload": map[string]interface{}{
				"novel_id":       p.Payload.NovelID,
				"chapter_id":     p.Payload.ChapterID,
				"chapter_number": p.Payload.ChapterNumber,
				"chunk_index":    p.Payload.ChunkIndex,
			},
		}
	}

	name := CollectionName(novelID)
	path := "/collections/" + name + "/points?wait=true"
	status, respBody, err := q.do(ctx, http.MethodPut, path, map[string]interface{}{"points": payload})
	if err != nil {
		return fmt.Errorf("qdrant: upsert failed: %w", err)
	}
	if status >= 300 {
		return fmt.Errorf("qdrant: upsert returned status %d: %s", status, respBody)
	}

	q.logger.WithFields(map[string]interface{}{
		"collection": name,
		"points":     len(points),
	}).Debug("upserted vectors")
	return nil
}

// Search returns the ids of the topK nearest entries in the novel's
// collection, ranked by similarity. A non-nil maxChapter constrains results
// to payload chapter_number <= *maxChapter.
func (q *Qdrant) Search(ctx context.Context, novelID string, vector []float32, topK int, maxChapter *int) ([]string, error) {
	if topK <= 0 {
		topK = 5
	}

	req := map[string]interface{}{
		"vector": vector,
		"limit":  topK,
	}
	if maxChapter != nil {
		req["filter"] = map[string]interface{}{
			"must": []map[string]interface{}{
				{
					"key":   "chapter_number",
					"range": map[string]interface{}{"lte": *maxChapter},
				},
			},
		}
	}

	name := CollectionName(novelID)
	status, respBody, err := q.do(ctx, http.MethodPost, "/collections/"+name+"/points/search", req)
	if err != nil {
		return nil, fmt.Errorf("qdrant: search failed: %w", err)
	}
	if status >= 300 {
		return nil, fmt.Errorf("qdrant: search returned status %d: %s", status, respBody)
	}

	var resp struct {
		Result []struct {
			ID    interface{} `json:"id"`
			Score float64     `json:"score"`
		} `json:"result"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("qdrant: failed to decode search response: %w", err)
	}

	ids := make([]string, 0, len(resp.Result))
	for _, hit := range resp.Result {
		// Qdrant ids can be uuid strings or integers
		switch v := hit.ID.(type) {
		case string:
			ids = append(ids, v)
		case float64:
			ids = append(ids, fmt.Sprintf("%.0f", v))
		}
	}
	return ids, nil
}

// do executes one JSON request and returns status plus raw body
func (q *Qdrant) do(ctx context.Context, method, path string, body interface{}) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, nil, err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, q.url+path, reader)
	if err != nil {
		return 0, nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if q.apiKey != "" {
		req.Header.Set("api-key", q.apiKey)
	}

	resp, err := q.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, respBody, nil
}
