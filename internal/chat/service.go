// Package chat owns chat session lifecycle and the interactive streaming
// turn: ownership checks, persona loading, spoiler-bounded retrieval, token
// relay and transcript persistence.
package chat

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"novelverse/internal/llm"
	"novelverse/internal/logging"
	"novelverse/internal/rag"
	"novelverse/internal/store"
)

// EventSink receives the events of one streaming turn. Exactly one of Done
// or Error terminates every turn; no Token call follows either.
type EventSink interface {
	Token(tok string) error
	Done() error
	Error(msg string) error
}

// Service implements session management and the chat turn pipeline.
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

// CreateSession starts a chat session after validating that the novel exists
// and the character belongs to it.
func (s *Service) CreateSession(ctx context.Context, userID, novelID, characterID string) (*store.ChatSession, error) {
	if _, err := s.store.GetNovel(ctx, novelID); err != nil {
		return nil, err
	}
	character, err := s.store.GetCharacter(ctx, characterID)
	if err != nil {
		return nil, err
	}
	if character.NovelID != novelID {
		return nil, store.ErrNotFound
	}

	session := &store.ChatSession{
		ID:          uuid.NewString(),
		UserID:      userID,
		NovelID:     novelID,
		CharacterID: characterID,
		Messages:    []store.Message{},
	}
	if err := s.store.CreateSession(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// GetSession returns the session only when userID owns it. Sessions owned
// by others look identical to missing ones.
func (s *Service) GetSession(ctx context.Context, sessionID, userID string) (*store.ChatSession, error) {
	return s.store.GetSession(ctx, sessionID, userID)
}

// ListSessions returns the user's sessions for a novel, newest first.
func (s *Service) ListSessions(ctx context.Context, userID, novelID string) ([]store.ChatSession, error) {
	return s.store.ListSessions(ctx, userID, novelID)
}

// sinkWriter adapts an EventSink to the io.Writer the provider streams into.
type sinkWriter struct {
	sink EventSink
}

func (w sinkWriter) Write(p []byte) (int, error) {
	if err := w.sink.Token(string(p)); err != nil {
		return 0, err
	}
	return len(p), nil
}

// StreamMessage runs one chat turn: ownership check, persona load, spoiler
// boundary, retrieval, prompt composition, token streaming and transcript
// persistence. Every failure before or during generation surfaces as a
// single Error event; persistence failures after Done are logged only.
func (s *Service) StreamMessage(ctx context.Context, sessionID, userID, content string, sink EventSink) {
	log := s.logger.WithContext("session_id", sessionID)

	session, err := s.store.GetSession(ctx, sessionID, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			sink.Error("Session not found")
			return
		}
		log.Error("Failed to load session: %v", err)
		sink.Error("Session lookup failed")
		return
	}

	character, err := s.store.GetCharacter(ctx, session.CharacterID)
	if err != nil {
		log.Error("Failed to load character %s: %v", session.CharacterID, err)
		sink.Error("Character not found")
		return
	}

	if !s.provider.Configured() {
		sink.Error("AI service not configured")
		return
	}

	boundary := s.retriever.Boundary(ctx, userID, session.NovelID)
	contextChunks := s.retriever.Retrieve(ctx, session.NovelID, content, &boundary)

	persona := rag.Persona{
		Name:        character.Name,
		Description: character.Description,
		Traits:      character.Traits,
	}
	prompt := rag.ComposeChat(persona, contextChunks, session.Messages, content)

	start := time.Now()
	full, err := s.provider.Stream(ctx, prompt, sinkWriter{sink})
	if err != nil {
		if ctx.Err() != nil {
			// Client went away mid-stream. Nothing to persist, nobody to
			// deliver a sentinel to.
			log.Info("Chat turn cancelled by client")
			return
		}
		log.Error("Generation failed: %v", err)
		sink.Error("AI generation failed")
		return
	}

	if err := sink.Done(); err != nil {
		log.Warn("Failed to deliver terminal event: %v", err)
	}

	now := time.Now().UTC()
	messages := append(session.Messages,
		store.Message{Role: "user", Content: content, CreatedAt: now},
		store.Message{Role: "assistant", Content: full, CreatedAt: now},
	)
	if err := s.store.ReplaceMessages(ctx, sessionID, messages); err != nil {
		// The client already saw the full answer. History may lag.
		log.Error("Failed to persist chat turn: %v", err)
		return
	}

	log.WithFields(map[string]interface{}{
		"context_chunks": len(contextChunks),
		"latency_ms":     time.Since(start).Milliseconds(),
	}).Info("Chat turn completed")
}
