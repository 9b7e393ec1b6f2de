// Package match implements keyword matching and snippet extraction over
// page text. It is pure: no I/O, no state beyond configuration.
package match

import (
	"strings"
	"unicode/utf8"
)

// DefaultWindow is the number of characters kept on each side of the first
// keyword occurrence when building a snippet.
const DefaultWindow = 100

// Matcher decides whether a page matches a keyword and extracts a bounded
// snippet around the first occurrence.
type Matcher struct {
	window int
}

// New constructs a Matcher with the given per-side window size. Values
// below 1 fall back to DefaultWindow.
func New(window int) *Matcher {
	if window < 1 {
		window = DefaultWindow
	}
	return &Matcher{window: window}
}

// Match reports whether text contains keyword (case-insensitive). On a
// match it returns a snippet spanning up to window characters on each side
// of the first occurrence, clipped at the text boundaries. Multiple
// occurrences still yield a single snippet for the first one.
//
// Empty or whitespace-only text never matches. An empty keyword never
// matches either; callers are expected to reject it as invalid input
// before reaching this point.
func (m *Matcher) Match(text, keyword string) (string, bool) {
	if keyword == "" || strings.TrimSpace(text) == "" {
		return "", false
	}
	lowerText := strings.ToLower(text)
	lowerKeyword := strings.ToLower(keyword)
	idx := strings.Index(lowerText, lowerKeyword)
	if idx < 0 {
		return "", false
	}
	// ToLower can shift byte offsets for a handful of characters; clamp
	// back onto a rune boundary in the original text before slicing.
	if idx > len(text) {
		idx = len(text)
	}
	for idx > 0 && !utf8.RuneStart(text[idx]) {
		idx--
	}

	endIdx := min(idx+len(keyword), len(text))
	for endIdx < len(text) && !utf8.RuneStart(text[endIdx]) {
		endIdx++
	}

	start := backwardRunes(text, idx, m.window)
	end := forwardRunes(text, endIdx, m.window)
	return text[start:end], true
}

// backwardRunes walks n runes backwards from byte offset idx and returns
// the resulting byte offset.
func backwardRunes(s string, idx, n int) int {
	for i := 0; i < n && idx > 0; i++ {
		_, size := utf8.DecodeLastRuneInString(s[:idx])
		idx -= size
	}
	return idx
}

// forwardRunes walks n runes forward from byte offset idx.
func forwardRunes(s string, idx, n int) int {
	for i := 0; i < n && idx < len(s); i++ {
		_, size := utf8.DecodeRuneInString(s[idx:])
		idx += size
	}
	return idx
}
