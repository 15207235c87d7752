// Package api exposes the HTTP surface: character listings, chat session
// lifecycle, SSE streaming for chat and Q&A, arc summaries, admin chapter
// operations and the operator activity feed.
package api

import (
	"context"
	"net/http"

	"novelverse/internal/chat"
	"novelverse/internal/logging"
	"novelverse/internal/store"
)

// ChatService runs chat sessions and streaming turns.
type ChatService interface {
	CreateSession(ctx context.Context, userID, novelID, characterID string) (*store.ChatSession, error)
	GetSession(ctx context.Context, sessionID, userID string) (*store.ChatSession, error)
	ListSessions(ctx context.Context, userID, novelID string) ([]store.ChatSession, error)
	StreamMessage(ctx context.Context, sessionID, userID, content string, sink chat.EventSink)
}

// StoryService runs novel-wide Q&A and arc summaries.
type StoryService interface {
	StreamQA(ctx context.Context, novelID, question string, sink chat.EventSink)
	ArcSummary(ctx context.Context, novelID string, startChapter, endChapter int) (*store.ArcSummary, error)
}

// Store is the relational surface the handlers read and write directly.
type Store interface {
	GetNovel(ctx context.Context, id string) (*store.Novel, error)
	ListCharacters(ctx context.Context, novelID string, maxChapter int) ([]store.Character, error)
	GetChapter(ctx context.Context, id string) (*store.Chapter, error)
	PublishChapter(ctx context.Context, id string) (*store.Chapter, error)
}

// Indexer dispatches chapter indexing runs.
type Indexer interface {
	IndexChapter(ctx context.Context, chapterID, novelID string)
	Reindex(ctx context.Context, chapterID, novelID string) error
}

// Config holds the API-level settings.
type Config struct {
	AdminTokenHash string
}

// Server wires handlers to their dependencies.
type Server struct {
	store   Store
	chat    ChatService
	story   StoryService
	indexer Indexer
	hub     *ActivityHub
	config  Config
	logger  *logging.Logger
}

func NewServer(st Store, chatSvc ChatService, storySvc StoryService, indexer Indexer, cfg Config, logger *logging.Logger) *Server {
	srv := &Server{
		store:   st,
		chat:    chatSvc,
		story:   storySvc,
		indexer: indexer,
		hub:     NewActivityHub(),
		config:  cfg,
		logger:  logger,
	}
	go srv.hub.Run()
	return srv
}

// Hub exposes the activity feed so other components (importer, publisher)
// can report events.
func (s *Server) Hub() *ActivityHub {
	return s.hub
}

// RegisterRoutes sets up all HTTP routes.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/novels/{id}/characters", s.handleListCharacters)

	mux.HandleFunc("POST /api/chat/sessions", s.handleCreateSession)
	mux.HandleFunc("GET /api/chat/sessions", s.handleListSessions)
	mux.HandleFunc("GET /api/chat/sessions/{id}", s.handleGetSession)
	mux.HandleFunc("POST /api/chat/sessions/{id}/message", s.handleChatMessage)

	mux.HandleFunc("POST /api/novels/{id}/qa", s.handleQA)
	mux.HandleFunc("GET /api/novels/{id}/arcs", s.handleArcSummary)

	mux.HandleFunc("POST /api/chapters/{id}/publish", s.requireOperator(s.handlePublishChapter))
	mux.HandleFunc("POST /api/chapters/{id}/reindex", s.requireOperator(s.handleReindexChapter))

	mux.HandleFunc("GET /ws/activity", s.requireOperator(s.handleActivityFeed))
}
