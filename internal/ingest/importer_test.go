package ingest

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"novelverse/internal/logging"
	"novelverse/internal/store"
)

type activityLog struct {
	events []string
}

func (a *activityLog) Publish(kind, message string) {
	a.events = append(a.events, kind)
}

func newTestImporter(t *testing.T) (*Importer, *store.Store, *activityLog) {
	t.Helper()
	st, err := store.NewStore(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	t.Cleanup(func() { st.Close() })

	activity := &activityLog{}
	logger := logging.NewLogger("ingest-test", logging.ERROR, io.Discard)
	return NewImporter(st, activity, logger), st, activity
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile(%s) error = %v", name, err)
	}
	return path
}

func TestParseFilename(t *testing.T) {
	tests := []struct {
		name        string
		wantNovel   string
		wantChapter int
		wantTitle   string
		wantErr     bool
	}{
		{"n1_3_mo-dau.txt", "n1", 3, "mo-dau", false},
		{"n1_12_ten_co_gach_duoi.md", "n1", 12, "ten_co_gach_duoi", false},
		{"n1_3.txt", "", 0, "", true},
		{"n1_abc_title.txt", "", 0, "", true},
		{"n1_0_title.txt", "", 0, "", true},
		{"_3_title.txt", "", 0, "", true},
		{"n1_3_.txt", "", 0, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			novelID, num, title, err := ParseFilename(tt.name)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseFilename(%q) succeeded, want error", tt.name)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseFilename(%q) error = %v", tt.name, err)
			}
			if novelID != tt.wantNovel || num != tt.wantChapter || title != tt.wantTitle {
				t.Errorf("ParseFilename(%q) = (%q, %d, %q), want (%q, %d, %q)",
					tt.name, novelID, num, title, tt.wantNovel, tt.wantChapter, tt.wantTitle)
			}
		})
	}
}

func TestImportTextFile(t *testing.T) {
	imp, st, activity := newTestImporter(t)
	ctx := context.Background()

	if err := st.CreateNovel(ctx, &store.Novel{ID: "n1", Title: "Kiếm Lai"}); err != nil {
		t.Fatalf("CreateNovel() error = %v", err)
	}

	path := writeFile(t, t.TempDir(), "n1_1_mo-dau.txt", "Nội dung chương một.\n")

	chapter, err := imp.ImportFile(ctx, path)
	if err != nil {
		t.Fatalf("ImportFile() error = %v", err)
	}
	if chapter.Status != store.StatusDraft {
		t.Errorf("Status = %q, want draft", chapter.Status)
	}
	if chapter.ChapterNumber != 1 || chapter.NovelID != "n1" {
		t.Errorf("chapter = %+v", chapter)
	}
	if chapter.Content != "Nội dung chương một." {
		t.Errorf("Content = %q", chapter.Content)
	}
	if chapter.Title != "mo dau" {
		t.Errorf("Title = %q, want %q", chapter.Title, "mo dau")
	}

	if len(activity.events) != 1 || activity.events[0] != "chapter_imported" {
		t.Errorf("activity events = %v", activity.events)
	}
}

func TestImportReplacesExistingDraft(t *testing.T) {
	imp, st, _ := newTestImporter(t)
	ctx := context.Background()

	if err := st.CreateNovel(ctx, &store.Novel{ID: "n1", Title: "A"}); err != nil {
		t.Fatalf("CreateNovel() error = %v", err)
	}
	dir := t.TempDir()

	first := writeFile(t, dir, "n1_2_draft.txt", "phiên bản một")
	if _, err := imp.ImportFile(ctx, first); err != nil {
		t.Fatalf("ImportFile() first error = %v", err)
	}
	second := writeFile(t, dir, "n1_2_draft-v2.txt", "phiên bản hai")
	if _, err := imp.ImportFile(ctx, second); err != nil {
		t.Fatalf("ImportFile() second error = %v", err)
	}

	chapters, err := st.ListChapters(ctx, "n1")
	if err != nil {
		t.Fatalf("ListChapters() error = %v", err)
	}
	if len(chapters) != 1 {
		t.Fatalf("len(chapters) = %d, want 1", len(chapters))
	}
	if chapters[0].Content != "phiên bản hai" {
		t.Errorf("Content = %q, want replacement", chapters[0].Content)
	}
}

func TestImportHTMLExtractsText(t *testing.T) {
	imp, st, _ := newTestImporter(t)
	ctx := context.Background()

	if err := st.CreateNovel(ctx, &store.Novel{ID: "n1", Title: "A"}); err != nil {
		t.Fatalf("CreateNovel() error = %v", err)
	}

	html := `<html><head><title>Ch</title></head><body>
		<article><p>Đoạn văn thứ nhất của chương.</p><p>Đoạn văn thứ hai dài hơn một chút để trích xuất.</p></article>
		</body></html>`
	path := writeFile(t, t.TempDir(), "n1_1_html-chap.html", html)

	chapter, err := imp.ImportFile(ctx, path)
	if err != nil {
		t.Fatalf("ImportFile() error = %v", err)
	}
	if strings.Contains(chapter.Content, "<p>") {
		t.Errorf("Content still contains markup: %q", chapter.Content)
	}
	if !strings.Contains(chapter.Content, "Đoạn văn thứ nhất") {
		t.Errorf("Content missing extracted text: %q", chapter.Content)
	}
}

func TestImportRejections(t *testing.T) {
	imp, st, _ := newTestImporter(t)
	ctx := context.Background()

	if err := st.CreateNovel(ctx, &store.Novel{ID: "n1", Title: "A"}); err != nil {
		t.Fatalf("CreateNovel() error = %v", err)
	}
	dir := t.TempDir()

	t.Run("unknown novel", func(t *testing.T) {
		path := writeFile(t, dir, "ghost_1_ch.txt", "text")
		if _, err := imp.ImportFile(ctx, path); err == nil {
			t.Error("ImportFile() succeeded for unknown novel")
		}
	})

	t.Run("disallowed extension", func(t *testing.T) {
		path := writeFile(t, dir, "n1_1_ch.exe", "text")
		if _, err := imp.ImportFile(ctx, path); err == nil {
			t.Error("ImportFile() accepted .exe")
		}
	})

	t.Run("empty content", func(t *testing.T) {
		path := writeFile(t, dir, "n1_1_empty.txt", "   \n  ")
		if _, err := imp.ImportFile(ctx, path); err == nil {
			t.Error("ImportFile() accepted empty file")
		}
	})

	t.Run("bad filename", func(t *testing.T) {
		path := writeFile(t, dir, "chapter.txt", "text")
		if _, err := imp.ImportFile(ctx, path); err == nil {
			t.Error("ImportFile() accepted unparseable filename")
		}
	})
}
