// Package rag implements the retrieval pipeline: chapter chunking and
// indexing into the vector store, spoiler-bounded similarity search, and
// prompt assembly for the generation step.
package rag

import (
	"strings"
	"unicode/utf8"
)

// DefaultMaxChunkChars bounds chunk size so each segment stays well inside
// embedding model input limits while keeping whole paragraphs together.
const DefaultMaxChunkChars = 1500

// Chunk splits chapter text into segments of at most maxChars characters.
// Paragraphs (blank-line separated) are accumulated greedily; a paragraph
// that alone exceeds the limit is re-split on single line boundaries. The
// output is deterministic and contains no empty or whitespace-only chunks.
func Chunk(text string, maxChars int) []string {
	if maxChars <= 0 {
		maxChars = DefaultMaxChunkChars
	}
	paragraphs := splitParagraphs(text)
	if len(paragraphs) == 0 {
		return nil
	}

	var chunks []string
	var buf strings.Builder
	flush := func() {
		if s := strings.TrimSpace(buf.String()); s != "" {
			chunks = append(chunks, s)
		}
		buf.Reset()
	}

	for _, para := range paragraphs {
		if len(para) > maxChars {
			flush()
			chunks = append(chunks, splitOversized(para, maxChars)...)
			continue
		}
		join := para
		if buf.Len() > 0 {
			join = "\n\n" + para
		}
		if buf.Len()+len(join) > maxChars {
			flush()
			join = para
		}
		buf.WriteString(join)
	}
	flush()
	return chunks
}

// runeBoundary returns the largest byte offset <= max that does not split a
// UTF-8 sequence.
func runeBoundary(s string, max int) int {
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	if cut == 0 {
		return max
	}
	return cut
}

func splitParagraphs(text string) []string {
	var paragraphs []string
	for _, p := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n") {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			paragraphs = append(paragraphs, trimmed)
		}
	}
	return paragraphs
}

// splitOversized re-splits a paragraph on line boundaries with the same
// greedy rule. A single line longer than maxChars is hard-cut, which only
// happens on degenerate input with no breaks at all.
func splitOversized(para string, maxChars int) []string {
	var chunks []string
	var buf strings.Builder
	flush := func() {
		if s := strings.TrimSpace(buf.String()); s != "" {
			chunks = append(chunks, s)
		}
		buf.Reset()
	}

	for _, line := range strings.Split(para, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		for len(line) > maxChars {
			flush()
			cut := runeBoundary(line, maxChars)
			chunks = append(chunks, line[:cut])
			line = strings.TrimSpace(line[cut:])
		}
		if line == "" {
			continue
		}
		join := line
		if buf.Len() > 0 {
			join = "\n" + line
		}
		if buf.Len()+len(join) > maxChars {
			flush()
			join = line
		}
		buf.WriteString(join)
	}
	flush()
	return chunks
}
