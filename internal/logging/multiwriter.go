package logging

import (
	"bytes"
	"io"
)

// MultiWriter routes formatted log lines between console and debug file.
// Without a file, everything goes to console. With a file, the full stream
// goes to the file and only WARN/ERROR lines are duplicated to console,
// keeping server output quiet while debug logging is on.
type MultiWriter struct {
	console io.Writer
	file    io.Writer
}

// NewMultiWriter creates the router. file may be nil.
func NewMultiWriter(console, file io.Writer) *MultiWriter {
	return &MultiWriter{console: console, file: file}
}

// Write implements io.Writer
func (m *MultiWriter) Write(p []byte) (int, error) {
	if m.file == nil {
		return m.console.Write(p)
	}

	n, err := m.file.Write(p)
	if level := lineLevel(p); level == "WARN" || level == "ERROR" {
		if cn, cerr := m.console.Write(p); err == nil {
			n, err = cn, cerr
		}
	}
	return n, err
}

// lineLevel extracts the level token from a formatted line:
// [timestamp] LEVEL [component] ...
func lineLevel(p []byte) string {
	end := bytes.Index(p, []byte("] "))
	if end < 0 {
		return ""
	}
	rest := p[end+2:]
	if sp := bytes.IndexByte(rest, ' '); sp > 0 {
		return string(rest[:sp])
	}
	return ""
}
