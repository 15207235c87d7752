package logging

import (
	"bufio"
	"fmt"
	"os"
	"sync"
	"time"
)

const (
	fileBufferSize = 64 * 1024
	flushInterval  = 5 * time.Second
)

// FileWriter is a buffered, size-rotated log file sink. Writes are
// thread-safe; the buffer is flushed every flushInterval and on Close.
type FileWriter struct {
	path    string
	file    *os.File
	buffer  *bufio.Writer
	rotator *Rotator
	written int64

	mu     sync.Mutex
	timer  *time.Timer
	closed bool
}

// NewFileWriter opens (or creates) the log file in append mode.
func NewFileWriter(path string, maxSizeMB, maxBackups int) (*FileWriter, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", path, err)
	}

	size := int64(0)
	if info, err := file.Stat(); err == nil {
		size = info.Size()
	}

	fw := &FileWriter{
		path:    path,
		file:    file,
		buffer:  bufio.NewWriterSize(file, fileBufferSize),
		rotator: NewRotator(path, maxSizeMB, maxBackups),
		written: size,
	}
	fw.timer = time.AfterFunc(flushInterval, fw.periodicFlush)
	return fw, nil
}

// Write appends to the buffer, rotating first when the file is over the limit.
func (fw *FileWriter) Write(p []byte) (int, error) {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if fw.closed {
		return 0, fmt.Errorf("file writer is closed")
	}

	if fw.rotator.ShouldRotate(fw.written + int64(len(p))) {
		if err := fw.rotate(); err != nil {
			// Rotation failure is not fatal; keep appending to the current file
			fmt.Fprintf(os.Stderr, "log rotation failed: %v\n", err)
		}
	}

	n, err := fw.buffer.Write(p)
	fw.written += int64(n)
	return n, err
}

// Flush forces buffered data to disk
func (fw *FileWriter) Flush() error {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	if fw.closed {
		return nil
	}
	return fw.buffer.Flush()
}

// Close flushes and closes the underlying file
func (fw *FileWriter) Close() error {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	if fw.closed {
		return nil
	}
	fw.closed = true
	fw.timer.Stop()
	flushErr := fw.buffer.Flush()
	closeErr := fw.file.Close()
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}

func (fw *FileWriter) periodicFlush() {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	if fw.closed {
		return
	}
	fw.buffer.Flush()
	fw.timer.Reset(flushInterval)
}

// rotate flushes, closes and renames the current file, then reopens a fresh one.
// Caller holds fw.mu.
func (fw *FileWriter) rotate() error {
	fw.buffer.Flush()
	fw.file.Close()

	if err := fw.rotator.Rotate(); err != nil {
		// Reopen the original file so logging continues either way
		file, openErr := os.OpenFile(fw.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if openErr != nil {
			return openErr
		}
		fw.file = file
		fw.buffer = bufio.NewWriterSize(file, fileBufferSize)
		return err
	}

	file, err := os.OpenFile(fw.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to reopen log file after rotation: %w", err)
	}
	fw.file = file
	fw.buffer = bufio.NewWriterSize(file, fileBufferSize)
	fw.written = 0
	return nil
}
