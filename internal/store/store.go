// Package store provides SQLite-backed persistence for novels, chapters,
// characters, chat sessions, reading progress and the chunk preview rows
// that mirror the vector index.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when the requested row does not exist or is not
// visible to the requesting user.
var ErrNotFound = errors.New("not found")

type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the database at path and applies migrations.
func NewStore(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{db: db}
	if err := s.runMigrations(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// --- novels ---

func (s *Store) GetNovel(ctx context.Context, id string) (*Novel, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, title, created_at FROM novels WHERE id = ? AND is_deleted = 0`, id)
	var n Novel
	if err := row.Scan(&n.ID, &n.Title, &n.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get novel: %w", err)
	}
	return &n, nil
}

func (s *Store) CreateNovel(ctx context.Context, n *Novel) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO novels (id, title) VALUES (?, ?)`, n.ID, n.Title)
	if err != nil {
		return fmt.Errorf("failed to create novel: %w", err)
	}
	return nil
}

func (s *Store) ListNovels(ctx context.Context) ([]Novel, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, created_at FROM novels WHERE is_deleted = 0 ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list novels: %w", err)
	}
	defer rows.Close()

	var novels []Novel
	for rows.Next() {
		var n Novel
		if err := rows.Scan(&n.ID, &n.Title, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan novel: %w", err)
		}
		novels = append(novels, n)
	}
	return novels, rows.Err()
}

// --- chapters ---

func (s *Store) GetChapter(ctx context.Context, id string) (*Chapter, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, novel_id, chapter_number, title, content, status, created_at
		 FROM chapters WHERE id = ?`, id)
	var c Chapter
	if err := row.Scan(&c.ID, &c.NovelID, &c.ChapterNumber, &c.Title, &c.Content, &c.Status, &c.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get chapter: %w", err)
	}
	return &c, nil
}

func (s *Store) CreateChapter(ctx context.Context, c *Chapter) error {
	if c.Status == "" {
		c.Status = StatusDraft
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chapters (id, novel_id, chapter_number, title, content, status)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, c.NovelID, c.ChapterNumber, c.Title, c.Content, c.Status)
	if err != nil {
		return fmt.Errorf("failed to create chapter: %w", err)
	}
	return nil
}

// UpsertChapter inserts a chapter or replaces the content of an existing one
// at the same (novel_id, chapter_number) slot. Used by the import pipeline so
// that re-dropping a file updates the draft instead of failing.
func (s *Store) UpsertChapter(ctx context.Context, c *Chapter) error {
	if c.Status == "" {
		c.Status = StatusDraft
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chapters (id, novel_id, chapter_number, title, content, status)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(novel_id, chapter_number)
		 DO UPDATE SET title = excluded.title, content = excluded.content`,
		c.ID, c.NovelID, c.ChapterNumber, c.Title, c.Content, c.Status)
	if err != nil {
		return fmt.Errorf("failed to upsert chapter: %w", err)
	}
	return nil
}

// PublishChapter moves a chapter to published status. Only draft and
// scheduled chapters can transition.
func (s *Store) PublishChapter(ctx context.Context, id string) (*Chapter, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE chapters SET status = ? WHERE id = ? AND status IN (?, ?)`,
		StatusPublished, id, StatusDraft, StatusScheduled)
	if err != nil {
		return nil, fmt.Errorf("failed to publish chapter: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to check publish result: %w", err)
	}
	if affected == 0 {
		// Either the chapter does not exist or it is already published.
		ch, err := s.GetChapter(ctx, id)
		if err != nil {
			return nil, err
		}
		return ch, nil
	}
	return s.GetChapter(ctx, id)
}

func (s *Store) ListChapters(ctx context.Context, novelID string) ([]Chapter, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, novel_id, chapter_number, title, content, status, created_at
		 FROM chapters WHERE novel_id = ? ORDER BY chapter_number`, novelID)
	if err != nil {
		return nil, fmt.Errorf("failed to list chapters: %w", err)
	}
	defer rows.Close()

	var chapters []Chapter
	for rows.Next() {
		var c Chapter
		if err := rows.Scan(&c.ID, &c.NovelID, &c.ChapterNumber, &c.Title, &c.Content, &c.Status, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan chapter: %w", err)
		}
		chapters = append(chapters, c)
	}
	return chapters, rows.Err()
}

// ListChaptersInRange returns published chapters of a novel whose number
// falls within [start, end], ordered by chapter number.
func (s *Store) ListChaptersInRange(ctx context.Context, novelID string, start, end int) ([]Chapter, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, novel_id, chapter_number, title, content, status, created_at
		 FROM chapters
		 WHERE novel_id = ? AND chapter_number >= ? AND chapter_number <= ? AND status = ?
		 ORDER BY chapter_number`, novelID, start, end, StatusPublished)
	if err != nil {
		return nil, fmt.Errorf("failed to list chapters in range: %w", err)
	}
	defer rows.Close()

	var chapters []Chapter
	for rows.Next() {
		var c Chapter
		if err := rows.Scan(&c.ID, &c.NovelID, &c.ChapterNumber, &c.Title, &c.Content, &c.Status, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan chapter: %w", err)
		}
		chapters = append(chapters, c)
	}
	return chapters, rows.Err()
}

// --- characters ---

func (s *Store) GetCharacter(ctx context.Context, id string) (*Character, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, novel_id, name, description, traits, first_chapter, created_at
		 FROM characters WHERE id = ?`, id)
	c, err := scanCharacter(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get character: %w", err)
	}
	return c, nil
}

func (s *Store) CreateCharacter(ctx context.Context, c *Character) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO characters (id, novel_id, name, description, traits, first_chapter)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, c.NovelID, c.Name, c.Description, strings.Join(c.Traits, ","), c.FirstChapter)
	if err != nil {
		return fmt.Errorf("failed to create character: %w", err)
	}
	return nil
}

// ListCharacters returns the characters of a novel whose first appearance is
// at or before maxChapter. A negative maxChapter disables the cutoff.
func (s *Store) ListCharacters(ctx context.Context, novelID string, maxChapter int) ([]Character, error) {
	query := `SELECT id, novel_id, name, description, traits, first_chapter, created_at
		 FROM characters WHERE novel_id = ?`
	args := []any{novelID}
	if maxChapter >= 0 {
		query += ` AND first_chapter <= ?`
		args = append(args, maxChapter)
	}
	query += ` ORDER BY first_chapter, name`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list characters: %w", err)
	}
	defer rows.Close()

	var chars []Character
	for rows.Next() {
		c, err := scanCharacter(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan character: %w", err)
		}
		chars = append(chars, *c)
	}
	return chars, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCharacter(row rowScanner) (*Character, error) {
	var c Character
	var traits string
	if err := row.Scan(&c.ID, &c.NovelID, &c.Name, &c.Description, &traits, &c.FirstChapter, &c.CreatedAt); err != nil {
		return nil, err
	}
	if traits != "" {
		c.Traits = strings.Split(traits, ",")
	}
	return &c, nil
}

// --- chunks ---

// UpsertChunkPreview records the preview row for a chunk. The
// (chapter_id, chunk_index) key makes repeated indexing of the same chapter
// idempotent: the preview and vector id are replaced in place.
func (s *Store) UpsertChunkPreview(ctx context.Context, p *ChunkPreview) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chunks (chapter_id, chunk_index, content_preview, vector_id)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(chapter_id, chunk_index)
		 DO UPDATE SET content_preview = excluded.content_preview, vector_id = excluded.vector_id`,
		p.ChapterID, p.ChunkIndex, p.ContentPreview, p.VectorID)
	if err != nil {
		return fmt.Errorf("failed to upsert chunk preview: %w", err)
	}
	return nil
}

// GetPreviewsByVectorIDs resolves vector ids returned by a similarity search
// back to their preview text. Results are keyed by vector id; missing ids are
// simply absent from the map.
func (s *Store) GetPreviewsByVectorIDs(ctx context.Context, vectorIDs []string) (map[string]ChunkPreview, error) {
	previews := make(map[string]ChunkPreview, len(vectorIDs))
	if len(vectorIDs) == 0 {
		return previews, nil
	}

	placeholders := strings.Repeat("?,", len(vectorIDs))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(vectorIDs))
	for i, id := range vectorIDs {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT chapter_id, chunk_index, content_preview, vector_id
		 FROM chunks WHERE vector_id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get chunk previews: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p ChunkPreview
		if err := rows.Scan(&p.ChapterID, &p.ChunkIndex, &p.ContentPreview, &p.VectorID); err != nil {
			return nil, fmt.Errorf("failed to scan chunk preview: %w", err)
		}
		previews[p.VectorID] = p
	}
	return previews, rows.Err()
}

func (s *Store) CountChunks(ctx context.Context, chapterID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM chunks WHERE chapter_id = ?`, chapterID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return count, nil
}

// --- chat sessions ---

func (s *Store) CreateSession(ctx context.Context, sess *ChatSession) error {
	data, err := json.Marshal(sess.Messages)
	if err != nil {
		return fmt.Errorf("failed to encode messages: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO chat_sessions (id, user_id, novel_id, character_id, messages)
		 VALUES (?, ?, ?, ?, ?)`,
		sess.ID, sess.UserID, sess.NovelID, sess.CharacterID, string(data))
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// GetSession loads a session only when it belongs to userID. A session owned
// by someone else is indistinguishable from a missing one.
func (s *Store) GetSession(ctx context.Context, id, userID string) (*ChatSession, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, novel_id, character_id, messages, created_at
		 FROM chat_sessions WHERE id = ? AND user_id = ?`, id, userID)
	sess, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return sess, nil
}

// ListSessions returns the caller's sessions for a novel, newest first.
func (s *Store) ListSessions(ctx context.Context, userID, novelID string) ([]ChatSession, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, novel_id, character_id, messages, created_at
		 FROM chat_sessions WHERE user_id = ? AND novel_id = ?
		 ORDER BY created_at DESC, id DESC`, userID, novelID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []ChatSession
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, *sess)
	}
	return sessions, rows.Err()
}

// ReplaceMessages overwrites the full transcript of a session. The write is
// last-writer-wins: two concurrent appends based on the same snapshot will
// leave only one of them visible.
func (s *Store) ReplaceMessages(ctx context.Context, sessionID string, messages []Message) error {
	data, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("failed to encode messages: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE chat_sessions SET messages = ? WHERE id = ?`, string(data), sessionID)
	if err != nil {
		return fmt.Errorf("failed to update session messages: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func scanSession(row rowScanner) (*ChatSession, error) {
	var sess ChatSession
	var messages string
	if err := row.Scan(&sess.ID, &sess.UserID, &sess.NovelID, &sess.CharacterID, &messages, &sess.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(messages), &sess.Messages); err != nil {
		return nil, fmt.Errorf("failed to decode messages: %w", err)
	}
	return &sess, nil
}

// --- reading progress ---

// GetProgress returns the last chapter the user has read in a novel, or 0
// when no progress has been recorded.
func (s *Store) GetProgress(ctx context.Context, userID, novelID string) (int, error) {
	var last int
	err := s.db.QueryRowContext(ctx,
		`SELECT last_chapter_read FROM reading_progress WHERE user_id = ? AND novel_id = ?`,
		userID, novelID).Scan(&last)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get reading progress: %w", err)
	}
	return last, nil
}

func (s *Store) SetProgress(ctx context.Context, userID, novelID string, lastChapter int) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO reading_progress (user_id, novel_id, last_chapter_read)
		 VALUES (?, ?, ?)
		 ON CONFLICT(user_id, novel_id)
		 DO UPDATE SET last_chapter_read = excluded.last_chapter_read`,
		userID, novelID, lastChapter)
	if err != nil {
		return fmt.Errorf("failed to set reading progress: %w", err)
	}
	return nil
}

// --- arc summaries ---

func (s *Store) GetArcSummary(ctx context.Context, novelID string, start, end int) (*ArcSummary, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT novel_id, start_chapter, end_chapter, summary, created_at
		 FROM arc_summaries WHERE novel_id = ? AND start_chapter = ? AND end_chapter = ?`,
		novelID, start, end)
	var a ArcSummary
	if err := row.Scan(&a.NovelID, &a.StartChapter, &a.EndChapter, &a.Summary, &a.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get arc summary: %w", err)
	}
	return &a, nil
}

func (s *Store) PutArcSummary(ctx context.Context, a *ArcSummary) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO arc_summaries (novel_id, start_chapter, end_chapter, summary, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(novel_id, start_chapter, end_chapter)
		 DO UPDATE SET summary = excluded.summary, created_at = excluded.created_at`,
		a.NovelID, a.StartChapter, a.EndChapter, a.Summary, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to store arc summary: %w", err)
	}
	return nil
}
