package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestMultiWriterRouting(t *testing.T) {
	line := func(level, msg string) []byte {
		return []byte("[2026-01-02 10:00:00] " + level + " [test] file.go:1 fn " + msg + "\n")
	}

	t.Run("console only when no file writer is set", func(t *testing.T) {
		var console bytes.Buffer
		mw := NewMultiWriter(&console, nil)

		mw.Write(line("DEBUG", "hello"))

		if !strings.Contains(console.String(), "hello") {
			t.Errorf("Expected console output, got: %s", console.String())
		}
	})

	t.Run("debug and info go to file only", func(t *testing.T) {
		var console, file bytes.Buffer
		mw := NewMultiWriter(&console, &file)

		mw.Write(line("DEBUG", "quiet"))
		mw.Write(line("INFO", "also quiet"))

		if console.Len() != 0 {
			t.Errorf("Expected silent console, got: %s", console.String())
		}
		if !strings.Contains(file.String(), "quiet") || !strings.Contains(file.String(), "also quiet") {
			t.Errorf("Expected file to receive all lines, got: %s", file.String())
		}
	})

	t.Run("warn and error are duplicated to console", func(t *testing.T) {
		var console, file bytes.Buffer
		mw := NewMultiWriter(&console, &file)

		mw.Write(line("WARN", "watch out"))
		mw.Write(line("ERROR", "broken"))

		for _, msg := range []string{"watch out", "broken"} {
			if !strings.Contains(console.String(), msg) {
				t.Errorf("Expected %q on console, got: %s", msg, console.String())
			}
			if !strings.Contains(file.String(), msg) {
				t.Errorf("Expected %q in file, got: %s", msg, file.String())
			}
		}
	})
}

func TestRotator(t *testing.T) {
	t.Run("ShouldRotate honors the MB threshold", func(t *testing.T) {
		r := NewRotator("x.log", 1, 3)
		if r.ShouldRotate(512 * 1024) {
			t.Error("Half a MB should not trigger rotation")
		}
		if !r.ShouldRotate(1024 * 1024) {
			t.Error("Exactly 1MB should trigger rotation")
		}
	})

	t.Run("Rotate shifts backups and archives the live file", func(t *testing.T) {
		dir := t.TempDir()
		base := filepath.Join(dir, "debug.log")

		os.WriteFile(base, []byte("live"), 0o644)
		os.WriteFile(base+".1", []byte("old1"), 0o644)

		r := NewRotator(base, 1, 2)
		if err := r.Rotate(); err != nil {
			t.Fatalf("Rotate failed: %v", err)
		}

		if _, err := os.Stat(base); !os.IsNotExist(err) {
			t.Error("Expected live file to be archived")
		}
		got, _ := os.ReadFile(base + ".1")
		if string(got) != "live" {
			t.Errorf("Expected .1 to hold previous live content, got %q", got)
		}
		got2, _ := os.ReadFile(base + ".2")
		if string(got2) != "old1" {
			t.Errorf("Expected .2 to hold shifted backup, got %q", got2)
		}
	})

	t.Run("zero backups removes the live file", func(t *testing.T) {
		dir := t.TempDir()
		base := filepath.Join(dir, "debug.log")
		os.WriteFile(base, []byte("live"), 0o644)

		r := NewRotator(base, 1, 0)
		if err := r.Rotate(); err != nil {
			t.Fatalf("Rotate failed: %v", err)
		}
		if _, err := os.Stat(base); !os.IsNotExist(err) {
			t.Error("Expected live file removed with zero backups")
		}
	})
}
