package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"novelverse/internal/auth"
	"novelverse/internal/llm"
	"novelverse/internal/store"
	"novelverse/internal/story"
)

// indexingTimeout bounds one background indexing run.
const indexingTimeout = 5 * time.Minute

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// identity returns the gateway-authenticated user id, writing a 401 when
// the request carries none.
func (s *Server) identity(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := auth.UserID(r)
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "Missing user identity")
		return "", false
	}
	return userID, true
}

// requireOperator guards admin endpoints with the operator bearer token.
func (s *Server) requireOperator(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := auth.BearerToken(r)
		if !auth.VerifyOperatorToken(token, s.config.AdminTokenHash) {
			writeError(w, http.StatusUnauthorized, "Invalid operator token")
			return
		}
		next(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListCharacters(w http.ResponseWriter, r *http.Request) {
	novelID := r.PathValue("id")
	if _, err := s.store.GetNovel(r.Context(), novelID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Novel not found")
			return
		}
		s.logger.Error("Failed to load novel %s: %v", novelID, err)
		writeError(w, http.StatusInternalServerError, "Failed to load novel")
		return
	}

	// Optional spoiler cap for reader-facing listings.
	maxChapter := -1
	if raw := r.URL.Query().Get("max_chapter"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "Invalid max_chapter")
			return
		}
		maxChapter = n
	}

	characters, err := s.store.ListCharacters(r.Context(), novelID, maxChapter)
	if err != nil {
		s.logger.Error("Failed to list characters for %s: %v", novelID, err)
		writeError(w, http.StatusInternalServerError, "Failed to list characters")
		return
	}
	if characters == nil {
		characters = []store.Character{}
	}
	writeJSON(w, http.StatusOK, characters)
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.identity(w, r)
	if !ok {
		return
	}

	var req struct {
		NovelID     string `json:"novel_id"`
		CharacterID string `json:"character_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.NovelID == "" || req.CharacterID == "" {
		writeError(w, http.StatusBadRequest, "novel_id and character_id are required")
		return
	}

	session, err := s.chat.CreateSession(r.Context(), userID, req.NovelID, req.CharacterID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Novel or character not found")
			return
		}
		s.logger.Error("Failed to create session: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to create session")
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.identity(w, r)
	if !ok {
		return
	}
	novelID := r.URL.Query().Get("novel_id")
	if novelID == "" {
		writeError(w, http.StatusBadRequest, "novel_id is required")
		return
	}

	sessions, err := s.chat.ListSessions(r.Context(), userID, novelID)
	if err != nil {
		s.logger.Error("Failed to list sessions: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to list sessions")
		return
	}
	if sessions == nil {
		sessions = []store.ChatSession{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.identity(w, r)
	if !ok {
		return
	}

	session, err := s.chat.GetSession(r.Context(), r.PathValue("id"), userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Session not found")
			return
		}
		s.logger.Error("Failed to load session: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to load session")
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleChatMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.identity(w, r)
	if !ok {
		return
	}

	var req struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Content == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}

	sink, ok := newSSESink(w)
	if !ok {
		writeError(w, http.StatusInternalServerError, "Streaming unsupported")
		return
	}
	s.chat.StreamMessage(r.Context(), r.PathValue("id"), userID, req.Content, sink)
}

func (s *Server) handleQA(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.identity(w, r); !ok {
		return
	}

	var req struct {
		Question string `json:"question"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Question == "" {
		writeError(w, http.StatusBadRequest, "question is required")
		return
	}

	sink, ok := newSSESink(w)
	if !ok {
		writeError(w, http.StatusInternalServerError, "Streaming unsupported")
		return
	}
	s.story.StreamQA(r.Context(), r.PathValue("id"), req.Question, sink)
}

func (s *Server) handleArcSummary(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.identity(w, r); !ok {
		return
	}

	start, err1 := strconv.Atoi(r.URL.Query().Get("start"))
	end, err2 := strconv.Atoi(r.URL.Query().Get("end"))
	if err1 != nil || err2 != nil || start <= 0 || end < start {
		writeError(w, http.StatusBadRequest, "start and end must be a valid chapter range")
		return
	}

	summary, err := s.story.ArcSummary(r.Context(), r.PathValue("id"), start, end)
	if err != nil {
		switch {
		case errors.Is(err, story.ErrNoChapters), errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, "No chapters in range")
		case errors.Is(err, llm.ErrNotConfigured):
			writeError(w, http.StatusServiceUnavailable, "AI service not configured")
		default:
			s.logger.Error("Arc summary failed: %v", err)
			writeError(w, http.StatusInternalServerError, "Arc summary failed")
		}
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handlePublishChapter(w http.ResponseWriter, r *http.Request) {
	chapterID := r.PathValue("id")

	chapter, err := s.store.PublishChapter(r.Context(), chapterID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Chapter not found")
			return
		}
		s.logger.Error("Failed to publish chapter %s: %v", chapterID, err)
		writeError(w, http.StatusInternalServerError, "Failed to publish chapter")
		return
	}

	s.hub.Publish("chapter_published", "Chapter "+strconv.Itoa(chapter.ChapterNumber)+" of novel "+chapter.NovelID+" published")
	s.dispatchIndexing(chapter)

	writeJSON(w, http.StatusOK, chapter)
}

// dispatchIndexing spawns the fire-and-forget indexing run. The request
// context is about to die, so the run gets its own deadline. A panic in the
// pipeline must never take the process down.
func (s *Server) dispatchIndexing(chapter *store.Chapter) {
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("Indexing panicked for chapter %s: %v", chapter.ID, rec)
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), indexingTimeout)
		defer cancel()
		s.indexer.IndexChapter(ctx, chapter.ID, chapter.NovelID)
	}()
}

func (s *Server) handleReindexChapter(w http.ResponseWriter, r *http.Request) {
	chapterID := r.PathValue("id")

	chapter, err := s.store.GetChapter(r.Context(), chapterID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Chapter not found")
			return
		}
		s.logger.Error("Failed to load chapter %s: %v", chapterID, err)
		writeError(w, http.StatusInternalServerError, "Failed to load chapter")
		return
	}

	if err := s.indexer.Reindex(r.Context(), chapterID, chapter.NovelID); err != nil {
		s.logger.Error("Reindex failed for chapter %s: %v", chapterID, err)
		writeError(w, http.StatusInternalServerError, "Reindex failed")
		return
	}

	s.hub.Publish("chapter_reindexed", "Chapter "+strconv.Itoa(chapter.ChapterNumber)+" of novel "+chapter.NovelID+" reindexed")
	writeJSON(w, http.StatusOK, map[string]string{"status": "reindexed"})
}
