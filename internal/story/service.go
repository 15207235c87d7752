// Package story hosts the full-context intelligence features: novel-wide
// question answering and cached arc summaries. Unlike character chat these
// run without a spoiler boundary.
package story

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"novelverse/internal/chat"
	"novelverse/internal/llm"
	"novelverse/internal/logging"
	"novelverse/internal/rag"
	"novelverse/internal/store"
)

// maxCombinedChars caps the chapter text fed into one summarization call.
const maxCombinedChars = 30000

// ErrNoChapters is returned when an arc range contains no published chapters.
var ErrNoChapters = errors.New("story: no chapters in range")

type Service struct {
	store     *store.Store
	provider  llm.Provider
	retriever *rag.Service
	logger    *logging.Logger
}

func NewService(st *store.Store, provider llm.Provider, retriever *rag.Service, logger *logging.Logger) *Service {
	return &Service{
		store:     st,
		provider:  provider,
		retriever: retriever,
		logger:    logger,
	}
}

// StreamQA answers a question about the whole novel. Retrieval runs with no
// chapter boundary, so callers must hold the elevated entitlement checked at
// the API layer.
func (s *Service) StreamQA(ctx context.Context, novelID, question string, sink chat.EventSink) {
	log := s.logger.WithContext("novel_id", novelID)

	if _, err := s.store.GetNovel(ctx, novelID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			sink.Error("Novel not found")
			return
		}
		log.Error("Failed to load novel: %v", err)
		sink.Error("Novel lookup failed")
		return
	}

	if !s.provider.Configured() {
		sink.Error("AI service not configured")
		return
	}

	contextChunks := s.retriever.Retrieve(ctx, novelID, question, nil)
	prompt := rag.ComposeQA(contextChunks, question)

	start := time.Now()
	if _, err := s.provider.Stream(ctx, prompt, qaWriter{sink}); err != nil {
		if ctx.Err() != nil {
			log.Info("Q&A turn cancelled by client")
			return
		}
		log.Error("Q&A generation failed: %v", err)
		sink.Error("AI generation failed")
		return
	}

	if err := sink.Done(); err != nil {
		log.Warn("Failed to deliver terminal event: %v", err)
	}

	log.WithFields(map[string]interface{}{
		"context_chunks": len(contextChunks),
		"latency_ms":     time.Since(start).Milliseconds(),
	}).Info("Q&A turn completed")
}

type qaWriter struct {
	sink chat.EventSink
}

func (w qaWriter) Write(p []byte) (int, error) {
	if err := w.sink.Token(string(p)); err != nil {
		return 0, err
	}
	return len(p), nil
}

// ArcSummary returns a summary of the chapter range, computing and caching
// it on first request. The combined chapter text is capped so one very long
// arc cannot blow the model's input limit.
func (s *Service) ArcSummary(ctx context.Context, novelID string, startChapter, endChapter int) (*store.ArcSummary, error) {
	if cached, err := s.store.GetArcSummary(ctx, novelID, startChapter, endChapter); err == nil {
		return cached, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	if !s.provider.Configured() {
		return nil, llm.ErrNotConfigured
	}

	chapters, err := s.store.ListChaptersInRange(ctx, novelID, startChapter, endChapter)
	if err != nil {
		return nil, err
	}
	if len(chapters) == 0 {
		return nil, fmt.Errorf("%w: %d-%d", ErrNoChapters, startChapter, endChapter)
	}

	var combined strings.Builder
	for _, ch := range chapters {
		part := fmt.Sprintf("=== Chương %d ===\n%s\n\n", ch.ChapterNumber, ch.Content)
		if combined.Len()+len(part) > maxCombinedChars {
			break
		}
		combined.WriteString(part)
	}

	prompt := rag.ComposeArcSummary(startChapter, endChapter, combined.String())
	summary, err := s.provider.Generate(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize arc: %w", err)
	}

	result := &store.ArcSummary{
		NovelID:      novelID,
		StartChapter: startChapter,
		EndChapter:   endChapter,
		Summary:      strings.TrimSpace(summary),
	}
	if err := s.store.PutArcSummary(ctx, result); err != nil {
		// The summary was computed; a cold cache just means recomputing.
		s.logger.WithContext("novel_id", novelID).Warn("Failed to cache arc summary: %v", err)
	}
	return result, nil
}
