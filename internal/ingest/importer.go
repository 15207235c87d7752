// Package ingest turns dropped chapter files into draft chapters. Files are
// named <novel_id>_<chapter_number>_<title> and may be plain text, markdown
// or HTML (readability-extracted).
package ingest

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-shiori/go-readability"
	"github.com/google/uuid"

	"novelverse/internal/logging"
	"novelverse/internal/store"
)

// MaxFileSize bounds a single chapter file.
const MaxFileSize = 10 * 1024 * 1024

// Store is the persistence surface the importer needs.
type Store interface {
	GetNovel(ctx context.Context, id string) (*store.Novel, error)
	UpsertChapter(ctx context.Context, c *store.Chapter) error
}

// Activity receives import events for the operator feed. May be nil.
type Activity interface {
	Publish(kind, message string)
}

// Importer converts chapter files into draft chapter rows.
type Importer struct {
	store    Store
	activity Activity
	logger   *logging.Logger
}

func NewImporter(st Store, activity Activity, logger *logging.Logger) *Importer {
	return &Importer{store: st, activity: activity, logger: logger}
}

// AllowedExtension reports whether the importer handles files with ext.
func AllowedExtension(ext string) bool {
	switch strings.ToLower(ext) {
	case ".txt", ".md", ".html":
		return true
	}
	return false
}

// ParseFilename splits <novel_id>_<chapter_number>_<title> out of a file
// name. The extension is stripped first; the title keeps any further
// underscores.
func ParseFilename(name string) (novelID string, chapterNumber int, title string, err error) {
	base := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	parts := strings.SplitN(base, "_", 3)
	if len(parts) != 3 {
		return "", 0, "", fmt.Errorf("ingest: filename %q does not match <novel_id>_<chapter_number>_<title>", name)
	}
	chapterNumber, err = strconv.Atoi(parts[1])
	if err != nil || chapterNumber <= 0 {
		return "", 0, "", fmt.Errorf("ingest: invalid chapter number in filename %q", name)
	}
	if parts[0] == "" || parts[2] == "" {
		return "", 0, "", fmt.Errorf("ingest: empty novel id or title in filename %q", name)
	}
	return parts[0], chapterNumber, parts[2], nil
}

// ImportFile reads one dropped file and upserts the corresponding draft
// chapter. Re-dropping the same file updates the draft in place.
func (imp *Importer) ImportFile(ctx context.Context, path string) (*store.Chapter, error) {
	log := imp.logger.WithContext("file_path", path)

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("ingest: failed to stat file: %w", err)
	}
	if info.Size() > MaxFileSize {
		return nil, fmt.Errorf("ingest: file size %d exceeds limit %d", info.Size(), MaxFileSize)
	}

	ext := strings.ToLower(filepath.Ext(path))
	if !AllowedExtension(ext) {
		return nil, fmt.Errorf("ingest: extension %s is not allowed", ext)
	}

	novelID, chapterNumber, title, err := ParseFilename(path)
	if err != nil {
		return nil, err
	}
	if _, err := imp.store.GetNovel(ctx, novelID); err != nil {
		return nil, fmt.Errorf("ingest: novel %s: %w", novelID, err)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("ingest: failed to open file: %w", err)
	}
	defer f.Close()

	var content string
	switch ext {
	case ".txt", ".md":
		content, err = readText(f)
	case ".html":
		content, err = extractHTML(f)
	}
	if err != nil {
		return nil, fmt.Errorf("ingest: failed to read file: %w", err)
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fmt.Errorf("ingest: file %s has no usable content", path)
	}

	chapter := &store.Chapter{
		ID:            uuid.NewString(),
		NovelID:       novelID,
		ChapterNumber: chapterNumber,
		Title:         strings.ReplaceAll(title, "-", " "),
		Content:       content,
		Status:        store.StatusDraft,
	}
	if err := imp.store.UpsertChapter(ctx, chapter); err != nil {
		return nil, fmt.Errorf("ingest: failed to save chapter: %w", err)
	}

	log.WithFields(map[string]interface{}{
		"novel_id":       novelID,
		"chapter_number": chapterNumber,
		"content_size":   len(content),
	}).Info("Chapter imported as draft")

	if imp.activity != nil {
		imp.activity.Publish("chapter_imported",
			fmt.Sprintf("Chapter %d of novel %s imported from %s", chapterNumber, novelID, filepath.Base(path)))
	}
	return chapter, nil
}

func readText(r io.Reader) (string, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func extractHTML(r io.Reader) (string, error) {
	article, err := readability.FromReader(r, nil)
	if err != nil {
		return "", fmt.Errorf("readability extraction failed: %w", err)
	}
	return article.TextContent, nil
}
