// Package watcher monitors the chapter import folder and feeds dropped
// files to the importer.
package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"novelverse/internal/ingest"
	"novelverse/internal/logging"
	"novelverse/internal/store"
)

// debounceDelay lets editors and file copies settle before a file is read.
// A burst of write events for one path collapses into a single import.
const debounceDelay = 500 * time.Millisecond

// Importer is the processing surface the watcher drives. Satisfied by
// ingest.Importer.
type Importer interface {
	ImportFile(ctx context.Context, path string) (*store.Chapter, error)
}

// Watcher turns filesystem events in the import folder into import runs.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	importer  Importer
	folder    string
	logger    *logging.Logger

	mu       sync.Mutex
	pending  map[string]*time.Timer
	debounce time.Duration
}

// New creates a watcher over the given folder. The folder must exist and be
// a directory.
func New(folder string, imp Importer, logger *logging.Logger) (*Watcher, error) {
	if err := validateFolder(folder); err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watcher: failed to create fsnotify watcher: %w", err)
	}

	return &Watcher{
		fsWatcher: fsw,
		importer:  imp,
		folder:    folder,
		logger:    logger,
		pending:   make(map[string]*time.Timer),
		debounce:  debounceDelay,
	}, nil
}

// Start registers the folder and runs the event loop until ctx is done.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.fsWatcher.Add(w.folder); err != nil {
		return fmt.Errorf("watcher: failed to watch %s: %w", w.folder, err)
	}

	go w.eventLoop(ctx)

	w.logger.WithContext("folder", w.folder).Info("Import folder watcher started")
	return nil
}

func (w *Watcher) eventLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			w.fsWatcher.Close()
			w.cancelPending()
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			w.handleEvent(ctx, event)

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("Watcher error: %v", err)
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, event fsnotify.Event) {
	if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
		return
	}
	if !ingest.AllowedExtension(filepath.Ext(event.Name)) {
		return
	}
	// Ignore editor temp files.
	base := filepath.Base(event.Name)
	if strings.HasPrefix(base, ".") || strings.HasSuffix(base, "~") {
		return
	}

	w.schedule(ctx, event.Name)
}

// schedule arms (or re-arms) the debounce timer for a path.
func (w *Watcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if timer, ok := w.pending[path]; ok {
		timer.Stop()
	}
	w.pending[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()

		if ctx.Err() != nil {
			return
		}
		if _, err := w.importer.ImportFile(ctx, path); err != nil {
			w.logger.WithContext("file_path", path).Error("Import failed: %v", err)
		}
	})
}

func (w *Watcher) cancelPending() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, timer := range w.pending {
		timer.Stop()
		delete(w.pending, path)
	}
}

func validateFolder(path string) error {
	for _, sysDir := range []string{"/etc", "/sys", "/proc"} {
		if strings.HasPrefix(path, sysDir) {
			return fmt.Errorf("watcher: refusing to watch system directory %s", path)
		}
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("watcher: folder does not exist: %s", path)
	}
	if !info.IsDir() {
		return fmt.Errorf("watcher: %s is not a directory", path)
	}
	return nil
}
