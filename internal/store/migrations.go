package store

import (
	"context"
	"database/sql"
	"fmt"
)

// runMigrations executes all schema migrations in one transaction
func (s *Store) runMigrations(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin migration transaction: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	steps := []struct {
		name string
		fn   func(context.Context, *sql.Tx) error
	}{
		{"novels", createNovelsTable},
		{"chapters", createChaptersTable},
		{"characters", createCharactersTable},
		{"chunks", createChunksTable},
		{"chat_sessions", createChatSessionsTable},
		{"reading_progress", createReadingProgressTable},
		{"arc_summaries", createArcSummariesTable},
		{"indexes", createIndexes},
	}
	for _, step := range steps {
		if err = step.fn(ctx, tx); err != nil {
			return fmt.Errorf("migration %s failed: %w", step.name, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migrations: %w", err)
	}
	return nil
}

func createNovelsTable(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS novels (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			is_deleted INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`)
	return err
}

func createChaptersTable(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS chapters (
			id TEXT PRIMARY KEY,
			novel_id TEXT NOT NULL,
			chapter_number INTEGER NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'draft',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(novel_id, chapter_number)
		)`)
	return err
}

func createCharactersTable(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS characters (
			id TEXT PRIMARY KEY,
			novel_id TEXT NOT NULL,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			traits TEXT NOT NULL DEFAULT '',
			first_chapter INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`)
	return err
}

// chunks holds the relational half of the vector index: one preview row per
// embedded chunk. (chapter_id, chunk_index) is the upsert key that keeps
// re-indexing idempotent.
func createChunksTable(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS chunks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			chapter_id TEXT NOT NULL,
			chunk_index INTEGER NOT NULL,
			content_preview TEXT NOT NULL,
			vector_id TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(chapter_id, chunk_index)
		)`)
	return err
}

func createChatSessionsTable(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS chat_sessions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			novel_id TEXT NOT NULL,
			character_id TEXT NOT NULL,
			messages TEXT NOT NULL DEFAULT '[]',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`)
	return err
}

func createReadingProgressTable(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS reading_progress (
			user_id TEXT NOT NULL,
			novel_id TEXT NOT NULL,
			last_chapter_read INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (user_id, novel_id)
		)`)
	return err
}

func createArcSummariesTable(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS arc_summaries (
			novel_id TEXT NOT NULL,
			start_chapter INTEGER NOT NULL,
			end_chapter INTEGER NOT NULL,
			summary TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (novel_id, start_chapter, end_chapter)
		)`)
	return err
}

func createIndexes(ctx context.Context, tx *sql.Tx) error {
	stmts := []string{
		`CREATE INDEX IF NOT EXISTS idx_chapters_novel ON chapters(novel_id, chapter_number)`,
		`CREATE INDEX IF NOT EXISTS idx_characters_novel ON characters(novel_id, first_chapter)`,
		`CREATE INDEX IF NOT EXISTS idx_chunks_vector ON chunks(vector_id)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_user_novel ON chat_sessions(user_id, novel_id, created_at)`,
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
