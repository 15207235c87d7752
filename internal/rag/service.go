package rag

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"novelverse/internal/llm"
	"novelverse/internal/logging"
	"novelverse/internal/store"
	"novelverse/internal/vectorstore"
)

// DefaultTopK is the number of nearest chunks pulled into the context
// section of a prompt.
const DefaultTopK = 5

// DefaultPreviewChars bounds the excerpt stored in the relational preview
// row for each indexed chunk.
const DefaultPreviewChars = 200

// Config tunes the retrieval pipeline. Zero values fall back to defaults.
type Config struct {
	MaxChunkChars int
	PreviewChars  int
	TopK          int
}

// Service ties the chunker, embedding provider, vector store and relational
// store into the indexing and retrieval pipeline.
type Service struct {
	store    *store.Store
	provider llm.Provider
	vectors  *vectorstore.Qdrant
	logger   *logging.Logger

	maxChunkChars int
	previewChars  int
	topK          int
}

func NewService(st *store.Store, provider llm.Provider, vectors *vectorstore.Qdrant, cfg Config, logger *logging.Logger) *Service {
	if cfg.MaxChunkChars <= 0 {
		cfg.MaxChunkChars = DefaultMaxChunkChars
	}
	if cfg.PreviewChars <= 0 {
		cfg.PreviewChars = DefaultPreviewChars
	}
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	return &Service{
		store:         st,
		provider:      provider,
		vectors:       vectors,
		logger:        logger,
		maxChunkChars: cfg.MaxChunkChars,
		previewChars:  cfg.PreviewChars,
		topK:          cfg.TopK,
	}
}

// Boundary returns the highest chapter number the user has read in the
// novel, 0 when no progress is recorded. Errors are treated as no progress
// so a storage hiccup narrows the context instead of leaking spoilers.
func (s *Service) Boundary(ctx context.Context, userID, novelID string) int {
	last, err := s.store.GetProgress(ctx, userID, novelID)
	if err != nil {
		s.logger.WithFields(map[string]interface{}{
			"user_id":  userID,
			"novel_id": novelID,
		}).Warn("Failed to read progress, assuming no progress: %v", err)
		return 0
	}
	return last
}

// Retrieve embeds the query and returns up to topK chunk previews from the
// novel's collection. A non-nil boundary restricts results to chapters the
// caller has read. Retrieval is best-effort: any failure, or an
// unconfigured embedder or vector store, yields an empty slice.
func (s *Service) Retrieve(ctx context.Context, novelID, query string, boundary *int) []string {
	if !s.provider.Configured() || !s.vectors.Configured() {
		return nil
	}

	log := s.logger.WithContext("novel_id", novelID)

	vector, err := s.provider.Embed(ctx, query, llm.EmbedQuery)
	if err != nil {
		log.Warn("Query embedding failed, continuing without context: %v", err)
		return nil
	}

	ids, err := s.vectors.Search(ctx, novelID, vector, s.topK, boundary)
	if err != nil {
		log.Warn("Vector search failed, continuing without context: %v", err)
		return nil
	}
	if len(ids) == 0 {
		return nil
	}

	previews, err := s.store.GetPreviewsByVectorIDs(ctx, ids)
	if err != nil {
		log.Warn("Preview lookup failed, continuing without context: %v", err)
		return nil
	}

	// Keep similarity rank order; drop hits with no preview row.
	var chunks []string
	for _, id := range ids {
		if p, ok := previews[id]; ok && p.ContentPreview != "" {
			chunks = append(chunks, p.ContentPreview)
		}
	}
	return chunks
}

// IndexChapter runs the full indexing pipeline for one chapter. It is meant
// to be spawned as a background goroutine at publish time and never
// propagates failure: everything is logged and swallowed.
func (s *Service) IndexChapter(ctx context.Context, chapterID, novelID string) {
	if err := s.indexChapter(ctx, chapterID, novelID); err != nil {
		s.logger.WithFields(map[string]interface{}{
			"chapter_id": chapterID,
			"novel_id":   novelID,
		}).Error("Chapter indexing failed: %v", err)
	}
}

// Reindex runs the same pipeline synchronously and reports failure. Used by
// the admin endpoint to recover chapters whose background indexing run was
// lost.
func (s *Service) Reindex(ctx context.Context, chapterID, novelID string) error {
	return s.indexChapter(ctx, chapterID, novelID)
}

func (s *Service) indexChapter(ctx context.Context, chapterID, novelID string) error {
	log := s.logger.WithFields(map[string]interface{}{
		"chapter_id": chapterID,
		"novel_id":   novelID,
	})

	if !s.provider.Configured() || !s.vectors.Configured() {
		log.Info("Embedding or vector store not configured, skipping indexing")
		return nil
	}

	chapter, err := s.store.GetChapter(ctx, chapterID)
	if err != nil {
		return fmt.Errorf("failed to load chapter: %w", err)
	}
	if chapter.Content == "" {
		log.Info("Chapter has no content, nothing to index")
		return nil
	}

	chunks := Chunk(chapter.Content, s.maxChunkChars)
	if len(chunks) == 0 {
		return nil
	}

	start := time.Now()

	points := make([]vectorstore.Point, 0, len(chunks))
	for i, chunk := range chunks {
		vector, err := s.provider.Embed(ctx, chunk, llm.EmbedDocument)
		if err != nil {
			if errors.Is(err, llm.ErrNotConfigured) {
				log.Info("Embedding provider disabled, skipping indexing")
				return nil
			}
			return fmt.Errorf("failed to embed chunk %d: %w", i, err)
		}
		points = append(points, vectorstore.Point{
			ID:     uuid.NewString(),
			Vector: vector,
			Payload: vectorstore.Payload{
				NovelID:       novelID,
				ChapterID:     chapterID,
				ChapterNumber: chapter.ChapterNumber,
				ChunkIndex:    i,
			},
		})
	}

	if err := s.vectors.EnsureCollection(ctx, novelID); err != nil {
		return fmt.Errorf("failed to ensure collection: %w", err)
	}
	if err := s.vectors.Upsert(ctx, novelID, points); err != nil {
		return fmt.Errorf("failed to upsert vectors: %w", err)
	}

	for i, chunk := range chunks {
		preview := chunk
		if len(preview) > s.previewChars {
			preview = preview[:runeBoundary(preview, s.previewChars)]
		}
		err := s.store.UpsertChunkPreview(ctx, &store.ChunkPreview{
			ChapterID:      chapterID,
			ChunkIndex:     i,
			ContentPreview: preview,
			VectorID:       points[i].ID,
		})
		if err != nil {
			return fmt.Errorf("failed to store preview for chunk %d: %w", i, err)
		}
	}

	log.WithFields(map[string]interface{}{
		"chunks":     len(chunks),
		"latency_ms": time.Since(start).Milliseconds(),
	}).Info("Chapter indexed")
	return nil
}
