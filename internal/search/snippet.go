package search

import (
	"strings"
	"unicode"
)

const ellipsis = "…"

// Snippet extracts a window of at most maxLen runes around the first
// query term found in text. Pure post-processing: scores and ordering
// are unaffected.
func Snippet(text, query string, maxLen int) string {
	text = strings.TrimSpace(text)
	runes := []rune(text)
	if len(runes) <= maxLen {
		return text
	}

	center := firstTermIndex(runes, query)

	start := center - maxLen/2
	if start < 0 {
		start = 0
	}
	end := start + maxLen
	if end > len(runes) {
		end = len(runes)
		start = end - maxLen
	}

	// Snap to word boundaries inside the window.
	for start > 0 && start < len(runes) && !unicode.IsSpace(runes[start-1]) {
		start++
	}
	for end > start && end < len(runes) && !unicode.IsSpace(runes[end]) {
		end--
	}

	snippet := strings.TrimSpace(string(runes[start:end]))
	if start > 0 {
		snippet = ellipsis + snippet
	}
	if end < len(runes) {
		snippet += ellipsis
	}
	return snippet
}

// firstTermIndex finds the rune offset of the earliest query term in
// text, case-insensitive. Falls back to 0 when no term occurs.
func firstTermIndex(runes []rune, query string) int {
	lower := strings.ToLower(string(runes))
	best := -1
	for _, term := range strings.Fields(strings.ToLower(query)) {
		if idx := strings.Index(lower, term); idx >= 0 && (best == -1 || idx < best) {
			best = idx
		}
	}
	if best < 0 {
		return 0
	}
	// Byte offset to rune offset.
	return len([]rune(lower[:best]))
}
