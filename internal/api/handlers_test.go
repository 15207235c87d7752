package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"novelverse/internal/auth"
	"novelverse/internal/chat"
	"novelverse/internal/llm"
	"novelverse/internal/logging"
	"novelverse/internal/store"
	"novelverse/internal/story"
)

type fakeStore struct {
	novels     map[string]*store.Novel
	characters []store.Character
	chapters   map[string]*store.Chapter
}

func (f *fakeStore) GetNovel(ctx context.Context, id string) (*store.Novel, error) {
	if n, ok := f.novels[id]; ok {
		return n, nil
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) ListCharacters(ctx context.Context, novelID string, maxChapter int) ([]store.Character, error) {
	var out []store.Character
	for _, c := range f.characters {
		if c.NovelID != novelID {
			continue
		}
		if maxChapter >= 0 && c.FirstChapter > maxChapter {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (f *fakeStore) GetChapter(ctx context.Context, id string) (*store.Chapter, error) {
	if c, ok := f.chapters[id]; ok {
		return c, nil
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) PublishChapter(ctx context.Context, id string) (*store.Chapter, error) {
	c, err := f.GetChapter(ctx, id)
	if err != nil {
		return nil, err
	}
	c.Status = store.StatusPublished
	return c, nil
}

type fakeChat struct {
	session *store.ChatSession
	err     error
	tokens  []string
}

func (f *fakeChat) CreateSession(ctx context.Context, userID, novelID, characterID string) (*store.ChatSession, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.session, nil
}

func (f *fakeChat) GetSession(ctx context.Context, sessionID, userID string) (*store.ChatSession, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.session, nil
}

func (f *fakeChat) ListSessions(ctx context.Context, userID, novelID string) ([]store.ChatSession, error) {
	if f.session == nil {
		return nil, nil
	}
	return []store.ChatSession{*f.session}, nil
}

func (f *fakeChat) StreamMessage(ctx context.Context, sessionID, userID, content string, sink chat.EventSink) {
	if f.err != nil {
		sink.Error("Session not found")
		return
	}
	for _, tok := range f.tokens {
		sink.Token(tok)
	}
	sink.Done()
}

type fakeStory struct {
	summary *store.ArcSummary
	err     error
	qaErr   string
	tokens  []string
}

func (f *fakeStory) StreamQA(ctx context.Context, novelID, question string, sink chat.EventSink) {
	if f.qaErr != "" {
		sink.Error(f.qaErr)
		return
	}
	for _, tok := range f.tokens {
		sink.Token(tok)
	}
	sink.Done()
}

func (f *fakeStory) ArcSummary(ctx context.Context, novelID string, startChapter, endChapter int) (*store.ArcSummary, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.summary, nil
}

type fakeIndexer struct {
	indexed   chan string
	reindexed []string
	err       error
}

func (f *fakeIndexer) IndexChapter(ctx context.Context, chapterID, novelID string) {
	if f.indexed != nil {
		f.indexed <- chapterID
	}
}

func (f *fakeIndexer) Reindex(ctx context.Context, chapterID, novelID string) error {
	if f.err != nil {
		return f.err
	}
	f.reindexed = append(f.reindexed, chapterID)
	return nil
}

const testOperatorToken = "op-token"

func newTestMux(t *testing.T, st Store, chatSvc ChatService, storySvc StoryService, indexer Indexer) *http.ServeMux {
	t.Helper()
	hash, err := auth.HashOperatorToken(testOperatorToken)
	if err != nil {
		t.Fatalf("HashOperatorToken() error = %v", err)
	}
	logger := logging.NewLogger("api-test", logging.ERROR, io.Discard)
	srv := NewServer(st, chatSvc, storySvc, indexer, Config{AdminTokenHash: hash}, logger)

	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)
	return mux
}

func emptyStore() *fakeStore {
	return &fakeStore{novels: map[string]*store.Novel{}, chapters: map[string]*store.Chapter{}}
}

func TestHealth(t *testing.T) {
	mux := newTestMux(t, emptyStore(), &fakeChat{}, &fakeStory{}, &fakeIndexer{})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/api/health", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestListCharacters(t *testing.T) {
	st := emptyStore()
	st.novels["n1"] = &store.Novel{ID: "n1", Title: "A"}
	st.characters = []store.Character{
		{ID: "p1", NovelID: "n1", Name: "Bình An", FirstChapter: 1},
		{ID: "p2", NovelID: "n1", Name: "Ninh Diêu", FirstChapter: 9},
	}
	mux := newTestMux(t, st, &fakeChat{}, &fakeStory{}, &fakeIndexer{})

	t.Run("all", func(t *testing.T) {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest("GET", "/api/novels/n1/characters", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		if !strings.Contains(rec.Body.String(), "Ninh Diêu") {
			t.Errorf("body missing character: %s", rec.Body.String())
		}
	})

	t.Run("spoiler capped", func(t *testing.T) {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest("GET", "/api/novels/n1/characters?max_chapter=5", nil))
		if strings.Contains(rec.Body.String(), "Ninh Diêu") {
			t.Errorf("chapter-9 character leaked past cap: %s", rec.Body.String())
		}
	})

	t.Run("missing novel", func(t *testing.T) {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest("GET", "/api/novels/ghost/characters", nil))
		if rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", rec.Code)
		}
	})

	t.Run("bad max_chapter", func(t *testing.T) {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest("GET", "/api/novels/n1/characters?max_chapter=x", nil))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})
}

func TestSessionEndpointsRequireIdentity(t *testing.T) {
	mux := newTestMux(t, emptyStore(), &fakeChat{}, &fakeStory{}, &fakeIndexer{})

	for _, tc := range []struct {
		method, path string
	}{
		{"POST", "/api/chat/sessions"},
		{"GET", "/api/chat/sessions?novel_id=n1"},
		{"GET", "/api/chat/sessions/s1"},
		{"POST", "/api/chat/sessions/s1/message"},
		{"POST", "/api/novels/n1/qa"},
		{"GET", "/api/novels/n1/arcs?start=1&end=2"},
	} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(tc.method, tc.path, strings.NewReader("{}")))
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s %s status = %d, want 401", tc.method, tc.path, rec.Code)
		}
	}
}

func TestCreateSession(t *testing.T) {
	session := &store.ChatSession{ID: "s1", UserID: "alice", NovelID: "n1", CharacterID: "p1"}

	t.Run("created", func(t *testing.T) {
		mux := newTestMux(t, emptyStore(), &fakeChat{session: session}, &fakeStory{}, &fakeIndexer{})
		req := httptest.NewRequest("POST", "/api/chat/sessions", strings.NewReader(`{"novel_id":"n1","character_id":"p1"}`))
		req.Header.Set("X-User-ID", "alice")
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		if rec.Code != http.StatusCreated {
			t.Fatalf("status = %d, want 201, body %s", rec.Code, rec.Body.String())
		}
	})

	t.Run("not found", func(t *testing.T) {
		mux := newTestMux(t, emptyStore(), &fakeChat{err: store.ErrNotFound}, &fakeStory{}, &fakeIndexer{})
		req := httptest.NewRequest("POST", "/api/chat/sessions", strings.NewReader(`{"novel_id":"x","character_id":"y"}`))
		req.Header.Set("X-User-ID", "alice")
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		if rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", rec.Code)
		}
	})

	t.Run("missing fields", func(t *testing.T) {
		mux := newTestMux(t, emptyStore(), &fakeChat{session: session}, &fakeStory{}, &fakeIndexer{})
		req := httptest.NewRequest("POST", "/api/chat/sessions", strings.NewReader(`{"novel_id":"n1"}`))
		req.Header.Set("X-User-ID", "alice")
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})
}

func TestChatMessageSSE(t *testing.T) {
	chatSvc := &fakeChat{tokens: []string{"Tôi ", "là\nX."}}
	mux := newTestMux(t, emptyStore(), chatSvc, &fakeStory{}, &fakeIndexer{})

	req := httptest.NewRequest("POST", "/api/chat/sessions/s1/message", strings.NewReader(`{"content":"hỏi"}`))
	req.Header.Set("X-User-ID", "alice")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}
	if cc := rec.Header().Get("Cache-Control"); cc != "no-cache" {
		t.Errorf("Cache-Control = %q, want no-cache", cc)
	}
	if ab := rec.Header().Get("X-Accel-Buffering"); ab != "no" {
		t.Errorf("X-Accel-Buffering = %q, want no", ab)
	}

	want := "data: Tôi \n\ndata: là\\nX.\n\ndata: [DONE]\n\n"
	if rec.Body.String() != want {
		t.Errorf("body = %q, want %q", rec.Body.String(), want)
	}
}

func TestChatMessageSSEError(t *testing.T) {
	chatSvc := &fakeChat{err: store.ErrNotFound}
	mux := newTestMux(t, emptyStore(), chatSvc, &fakeStory{}, &fakeIndexer{})

	req := httptest.NewRequest("POST", "/api/chat/sessions/ghost/message", strings.NewReader(`{"content":"hỏi"}`))
	req.Header.Set("X-User-ID", "alice")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	want := "data: [ERROR] Session not found\n\n"
	if rec.Body.String() != want {
		t.Errorf("body = %q, want %q", rec.Body.String(), want)
	}
	if strings.Contains(rec.Body.String(), "[DONE]") {
		t.Error("error stream must not carry [DONE]")
	}
}

func TestQASSE(t *testing.T) {
	storySvc := &fakeStory{tokens: []string{"Đáp án."}}
	mux := newTestMux(t, emptyStore(), &fakeChat{}, storySvc, &fakeIndexer{})

	req := httptest.NewRequest("POST", "/api/novels/n1/qa", strings.NewReader(`{"question":"Ai?"}`))
	req.Header.Set("X-User-ID", "alice")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	want := "data: Đáp án.\n\ndata: [DONE]\n\n"
	if rec.Body.String() != want {
		t.Errorf("body = %q, want %q", rec.Body.String(), want)
	}
}

func TestArcSummary(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		storySvc := &fakeStory{summary: &store.ArcSummary{NovelID: "n1", StartChapter: 1, EndChapter: 5, Summary: "Tóm tắt."}}
		mux := newTestMux(t, emptyStore(), &fakeChat{}, storySvc, &fakeIndexer{})
		req := httptest.NewRequest("GET", "/api/novels/n1/arcs?start=1&end=5", nil)
		req.Header.Set("X-User-ID", "alice")
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "Tóm tắt.") {
			t.Errorf("status = %d body = %s", rec.Code, rec.Body.String())
		}
	})

	t.Run("bad range", func(t *testing.T) {
		mux := newTestMux(t, emptyStore(), &fakeChat{}, &fakeStory{}, &fakeIndexer{})
		req := httptest.NewRequest("GET", "/api/novels/n1/arcs?start=5&end=1", nil)
		req.Header.Set("X-User-ID", "alice")
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("empty range", func(t *testing.T) {
		storySvc := &fakeStory{err: story.ErrNoChapters}
		mux := newTestMux(t, emptyStore(), &fakeChat{}, storySvc, &fakeIndexer{})
		req := httptest.NewRequest("GET", "/api/novels/n1/arcs?start=1&end=2", nil)
		req.Header.Set("X-User-ID", "alice")
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		if rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", rec.Code)
		}
	})

	t.Run("unconfigured", func(t *testing.T) {
		storySvc := &fakeStory{err: llm.ErrNotConfigured}
		mux := newTestMux(t, emptyStore(), &fakeChat{}, storySvc, &fakeIndexer{})
		req := httptest.NewRequest("GET", "/api/novels/n1/arcs?start=1&end=2", nil)
		req.Header.Set("X-User-ID", "alice")
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("status = %d, want 503", rec.Code)
		}
	})
}

func TestPublishChapterDispatchesIndexing(t *testing.T) {
	st := emptyStore()
	st.chapters["c1"] = &store.Chapter{ID: "c1", NovelID: "n1", ChapterNumber: 3, Status: store.StatusDraft}
	indexer := &fakeIndexer{indexed: make(chan string, 1)}
	mux := newTestMux(t, st, &fakeChat{}, &fakeStory{}, indexer)

	req := httptest.NewRequest("POST", "/api/chapters/c1/publish", nil)
	req.Header.Set("Authorization", "Bearer "+testOperatorToken)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if st.chapters["c1"].Status != store.StatusPublished {
		t.Errorf("status = %q, want published", st.chapters["c1"].Status)
	}

	select {
	case id := <-indexer.indexed:
		if id != "c1" {
			t.Errorf("indexed chapter = %q, want c1", id)
		}
	case <-time.After(2 * time.Second):
		t.Error("publish did not dispatch background indexing")
	}
}

func TestAdminEndpointsRequireOperatorToken(t *testing.T) {
	st := emptyStore()
	st.chapters["c1"] = &store.Chapter{ID: "c1", NovelID: "n1", ChapterNumber: 1}
	mux := newTestMux(t, st, &fakeChat{}, &fakeStory{}, &fakeIndexer{})

	for _, tc := range []struct {
		name, header string
	}{
		{"no token", ""},
		{"wrong token", "Bearer nope"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/api/chapters/c1/publish", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", rec.Code)
			}
		})
	}
}

func TestReindexChapter(t *testing.T) {
	st := emptyStore()
	st.chapters["c1"] = &store.Chapter{ID: "c1", NovelID: "n1", ChapterNumber: 1}

	t.Run("ok", func(t *testing.T) {
		indexer := &fakeIndexer{}
		mux := newTestMux(t, st, &fakeChat{}, &fakeStory{}, indexer)
		req := httptest.NewRequest("POST", "/api/chapters/c1/reindex", nil)
		req.Header.Set("Authorization", "Bearer "+testOperatorToken)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
		}
		if len(indexer.reindexed) != 1 || indexer.reindexed[0] != "c1" {
			t.Errorf("reindexed = %v", indexer.reindexed)
		}
	})

	t.Run("missing chapter", func(t *testing.T) {
		mux := newTestMux(t, st, &fakeChat{}, &fakeStory{}, &fakeIndexer{})
		req := httptest.NewRequest("POST", "/api/chapters/ghost/reindex", nil)
		req.Header.Set("Authorization", "Bearer "+testOperatorToken)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		if rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", rec.Code)
		}
	})

	t.Run("pipeline failure", func(t *testing.T) {
		indexer := &fakeIndexer{err: errors.New("qdrant down")}
		mux := newTestMux(t, st, &fakeChat{}, &fakeStory{}, indexer)
		req := httptest.NewRequest("POST", "/api/chapters/c1/reindex", nil)
		req.Header.Set("Authorization", "Bearer "+testOperatorToken)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		if rec.Code != http.StatusInternalServerError {
			t.Errorf("status = %d, want 500", rec.Code)
		}
	})
}
