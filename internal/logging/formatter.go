package logging

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// SourceLocation captures the source code location of a log call
type SourceLocation struct {
	File     string
	Line     int
	Function string
}

// Entry is a single structured log record
type Entry struct {
	Timestamp time.Time
	Level     Level
	Component string
	Source    SourceLocation
	Message   string
	Fields    map[string]interface{}
}

// Formatter renders entries as single text lines:
// [YYYY-MM-DD HH:MM:SS] LEVEL [component] file.go:line function message key=value
type Formatter struct{}

// NewFormatter creates a formatter
func NewFormatter() *Formatter {
	return &Formatter{}
}

// Format renders one entry, always newline-terminated
func (f *Formatter) Format(e Entry) string {
	var sb strings.Builder

	sb.WriteString("[")
	sb.WriteString(e.Timestamp.Format("2006-01-02 15:04:05"))
	sb.WriteString("] ")
	sb.WriteString(e.Level.String())
	sb.WriteString(" [")
	sb.WriteString(e.Component)
	sb.WriteString("] ")

	fmt.Fprintf(&sb, "%s:%d %s ", e.Source.File, e.Source.Line, e.Source.Function)

	sb.WriteString(sanitize(e.Message))

	// Deterministic field order keeps log lines diffable
	if len(e.Fields) > 0 {
		keys := make([]string, 0, len(e.Fields))
		for k := range e.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&sb, " %s=%v", k, e.Fields[k])
		}
	}

	sb.WriteString("\n")
	return sb.String()
}

// sanitize replaces control characters (except \n and \t) with spaces so a
// crafted message cannot forge extra log lines.
func sanitize(msg string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if r < 0x20 {
			return ' '
		}
		return r
	}, msg)
}
