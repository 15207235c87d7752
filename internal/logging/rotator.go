package logging

import (
	"fmt"
	"os"
)

// Rotator implements size-based log rotation with numbered backups:
// app.log -> app.log.1 -> app.log.2 ... up to maxBackups.
type Rotator struct {
	basePath   string
	maxSizeMB  int
	maxBackups int
}

// NewRotator creates a rotator for the given base log path
func NewRotator(basePath string, maxSizeMB, maxBackups int) *Rotator {
	return &Rotator{basePath: basePath, maxSizeMB: maxSizeMB, maxBackups: maxBackups}
}

// ShouldRotate reports whether size has reached the configured threshold
func (r *Rotator) ShouldRotate(size int64) bool {
	return size >= int64(r.maxSizeMB)*1024*1024
}

// Rotate shifts backups up by one and moves the live file to .1.
// With maxBackups == 0 the live file is simply removed.
func (r *Rotator) Rotate() error {
	if r.maxBackups == 0 {
		if err := os.Remove(r.basePath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove log file: %w", err)
		}
		return nil
	}

	oldest := fmt.Sprintf("%s.%d", r.basePath, r.maxBackups)
	if _, err := os.Stat(oldest); err == nil {
		if err := os.Remove(oldest); err != nil {
			return fmt.Errorf("failed to delete oldest backup: %w", err)
		}
	}

	for i := r.maxBackups - 1; i >= 1; i-- {
		from := fmt.Sprintf("%s.%d", r.basePath, i)
		to := fmt.Sprintf("%s.%d", r.basePath, i+1)
		if _, err := os.Stat(from); err == nil {
			if err := os.Rename(from, to); err != nil {
				return fmt.Errorf("failed to shift backup %s: %w", from, err)
			}
		}
	}

	if _, err := os.Stat(r.basePath); err == nil {
		if err := os.Rename(r.basePath, r.basePath+".1"); err != nil {
			return fmt.Errorf("failed to archive current log: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("failed to stat log file: %w", err)
	}
	return nil
}
