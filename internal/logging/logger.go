package logging

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"time"
)

// Level represents log severity
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

var levelNames = [...]string{"DEBUG", "INFO", "WARN", "ERROR"}

func (l Level) String() string {
	if l < DEBUG || l > ERROR {
		return "UNKNOWN"
	}
	return levelNames[l]
}

// ParseLevel converts a string to a Level, defaulting to INFO
func ParseLevel(s string) Level {
	switch strings.ToLower(s) {
	case "debug":
		return DEBUG
	case "info":
		return INFO
	case "warn":
		return WARN
	case "error":
		return ERROR
	default:
		return INFO
	}
}

// Logger provides leveled, structured logging for a named component.
// Context fields added via WithContext/WithFields are carried into every
// entry a derived logger emits.
type Logger struct {
	level     Level
	component string
	output    io.Writer
	fields    map[string]interface{}
	formatter *Formatter
}

// NewLogger creates a logger for a component. A nil output writes to stdout.
func NewLogger(component string, level Level, output io.Writer) *Logger {
	if output == nil {
		output = os.Stdout
	}
	return &Logger{
		level:     level,
		component: component,
		output:    output,
		formatter: NewFormatter(),
	}
}

// Debug logs a debug message
func (l *Logger) Debug(format string, args ...interface{}) { l.emit(DEBUG, format, args...) }

// Info logs an info message
func (l *Logger) Info(format string, args ...interface{}) { l.emit(INFO, format, args...) }

// Warn logs a warning message
func (l *Logger) Warn(format string, args ...interface{}) { l.emit(WARN, format, args...) }

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) { l.emit(ERROR, format, args...) }

// WithContext returns a derived logger carrying one extra context field
func (l *Logger) WithContext(key string, value interface{}) *Logger {
	return l.WithFields(map[string]interface{}{key: value})
}

// WithFields returns a derived logger carrying extra context fields
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	merged := make(map[string]interface{}, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	clone := *l
	clone.fields = merged
	return &clone
}

func (l *Logger) emit(level Level, format string, args ...interface{}) {
	if level < l.level {
		return
	}

	entry := Entry{
		Timestamp: time.Now(),
		Level:     level,
		Component: l.component,
		Source:    callerLocation(3),
		Message:   fmt.Sprintf(format, args...),
		Fields:    l.fields,
	}
	l.output.Write([]byte(l.formatter.Format(entry)))
}

// callerLocation resolves file, line and function of the log call site.
// skip counts frames between the caller of Debug/Info/... and runtime.Caller.
func callerLocation(skip int) SourceLocation {
	pc, file, line, ok := runtime.Caller(skip)
	if !ok {
		return SourceLocation{File: "unknown"}
	}
	loc := SourceLocation{
		File: shortPath(file),
		Line: line,
	}
	if fn := runtime.FuncForPC(pc); fn != nil {
		loc.Function = shortPath(fn.Name())
	}
	return loc
}

func shortPath(path string) string {
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[i+1:]
	}
	return path
}
