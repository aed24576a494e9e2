// Package chunker splits extracted text into overlapping windows sized
// for the embedding model.
package chunker

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// separators, in preference order, used to snap a window boundary to a
// natural break: paragraph, line, sentence, word.
var separators = []string{"\n\n", "\n", ". ", " "}

// Span is one chunk of a document. Ordinal is the zero-based position
// of the chunk within the whole document.
type Span struct {
	Ordinal int
	Text    string
}

// Chunker produces deterministic overlapping chunks. Sizes are measured
// in runes so multi-byte sequences are never split.
type Chunker struct {
	size    int
	overlap int
}

// New builds a Chunker. Overlap must be non-negative and smaller than size.
func New(size, overlap int) (*Chunker, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("chunk overlap must be in [0,%d), got %d", size, overlap)
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

// Chunk splits text into spans. The same input always yields the same
// spans. Whitespace-only windows are dropped; the final chunk may be
// shorter than the configured size.
func (c *Chunker) Chunk(text string) []Span {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	var spans []Span
	start := 0
	for start < len(runes) {
		end := start + c.size
		if end >= len(runes) {
			end = len(runes)
		} else {
			end = c.snap(runes, start, end)
		}

		if chunk := strings.TrimSpace(string(runes[start:end])); chunk != "" {
			spans = append(spans, Span{Ordinal: len(spans), Text: chunk})
		}

		if end == len(runes) {
			break
		}
		next := end - c.overlap
		if next <= start {
			next = start + 1
		}
		start = next
	}
	return spans
}

// snap pulls the window end back to the latest separator in the second
// half of the window. Never snapping into the first half keeps chunks
// from degenerating when separators cluster early.
func (c *Chunker) snap(runes []rune, start, end int) int {
	floor := start + c.size/2
	window := string(runes[floor:end])
	for _, sep := range separators {
		if idx := strings.LastIndex(window, sep); idx >= 0 {
			return floor + utf8.RuneCountInString(window[:idx+len(sep)])
		}
	}
	return end
}

// Size returns the configured chunk size in runes.
func (c *Chunker) Size() int { return c.size }

// Overlap returns the configured overlap in runes.
func (c *Chunker) Overlap() int { return c.overlap }
