package store

import "time"

// Chapter statuses. Indexing is triggered only on the transition into
// StatusPublished.
const (
	StatusDraft     = "draft"
	StatusScheduled = "scheduled"
	StatusPublished = "published"
)

// Novel represents a web novel
type Novel struct {
	ID        string
	Title     string
	IsDeleted bool
	CreatedAt time.Time
}

// Chapter represents one chapter of a novel
type Chapter struct {
	ID            string
	NovelID       string
	ChapterNumber int
	Title         string
	Content       string
	Status        string
	CreatedAt     time.Time
}

// Character is a persona source for character chat
type Character struct {
	ID           string
	NovelID      string
	Name         string
	Description  string
	Traits       []string
	FirstChapter int
	CreatedAt    time.Time
}

// ChunkPreview is the relational side of one vector-index entry: a short
// excerpt used to build prompt context without round-tripping to the vector
// store, keyed by (chapter_id, chunk_index) and correlated via VectorID.
type ChunkPreview struct {
	ID             int64
	ChapterID      string
	ChunkIndex     int
	ContentPreview string
	VectorID       string
	CreatedAt      time.Time
}

// Message is one entry in a chat session transcript
type Message struct {
	Role      string    `json:"role"` // "user" or "assistant"
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// ChatSession binds a user, a novel and a character to a message history.
// Messages are append-only: each completed turn rewrites the full list with
// the two new entries added.
type ChatSession struct {
	ID          string
	UserID      string
	NovelID     string
	CharacterID string
	Messages    []Message
	CreatedAt   time.Time
}

// ReadingProgress records how far a user has read into a novel. It is the
// sole input to the spoiler boundary.
type ReadingProgress struct {
	UserID          string
	NovelID         string
	LastChapterRead int
}

// ArcSummary is a cached chapter-range summary
type ArcSummary struct {
	NovelID      string
	StartChapter int
	EndChapter   int
	Summary      string
	CreatedAt    time.Time
}
