package llm

import (
	"fmt"
	"regexp"
	"strings"
)

// tokenPattern matches a placeholder minted by protect, and also lets
// validate find which tokens survived a round trip through an engine.
var tokenPattern = regexp.MustCompile(`\{\{SBY_TOKEN_[0-9a-f]{6}\}\}`)

var (
	fencedCodePattern = regexp.MustCompile("(?s)```.*?```")
	inlineCodePattern = regexp.MustCompile("`[^`\n]+`")
	bareURLPattern     = regexp.MustCompile(`https?://[^\s)\]}>"']+`)
)

// protectionOrder controls the sequence placeholders are substituted in:
// fenced code first (so inline-code/URL patterns inside a fence are
// never matched twice), then inline code, then bare URLs.
var protectionOrder = []*regexp.Regexp{fencedCodePattern, inlineCodePattern, bareURLPattern}

// table is the side table mapping each minted placeholder back to the
// literal text it stands in for.
type table struct {
	entries map[string]string
}

func newTable() *table {
	return &table{entries: make(map[string]string)}
}

// protect replaces every code fence, inline code span, and bare URL in
// text with a placeholder token, returning the protected text and the
// side table needed to reverse it.
func protect(text string) (string, *table) {
	t := newTable()
	counter := 0

	for _, pattern := range protectionOrder {
		text = pattern.ReplaceAllStringFunc(text, func(match string) string {
			token := fmt.Sprintf("{{SBY_TOKEN_%06x}}", counter)
			counter++
			t.entries[token] = match
			return token
		})
	}
	return text, t
}

// restore substitutes every placeholder token in text back to its
// original literal value.
func restore(text string, t *table) string {
	for token, original := range t.entries {
		text = strings.ReplaceAll(text, token, original)
	}
	return text
}

// validate reports whether every token in expected appears, unchanged,
// in text — the round-trip guarantee the gateway must enforce before
// accepting an engine's response for one chunk.
func validate(text string, expected []string) bool {
	for _, token := range expected {
		if !strings.Contains(text, token) {
			return false
		}
	}
	return true
}

// tokensIn returns every placeholder token literally present in text, in
// the order they appear — used by rewriteChunk to check that a rewritten
// chunk kept every placeholder.
func tokensIn(text string) []string {
	return tokenPattern.FindAllString(text, -1)
}
