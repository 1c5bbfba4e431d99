package book

import (
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/sitebookify/sitebookify/manifest"
	"github.com/sitebookify/sitebookify/toc"
)

// location is where one manifest page id ended up: which chapter, and
// the in-chapter anchor id to jump to.
type location struct {
	chapterID string
	pageID    string
}

// rewriteMarkdownLinksAndImages walks body line by line, leaving fenced
// code blocks untouched, and rewrites every inline link/image
// destination: same-book page links become anchors or cross-chapter
// links, and images are downloaded locally via assets.
func rewriteMarkdownLinksAndImages(body, pageURL, chapterID string, locations map[string]location, dirIndex bool, assets *assetDownloader) (string, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return "", err
	}
	baseForJoin := base
	if dirIndex {
		baseForJoin = withTrailingSlash(base)
	}

	var out strings.Builder
	inFence := false
	var fenceMarker string

	for _, line := range splitKeepEOL(body) {
		if !inFence {
			if marker, ok := fenceStartMarker(line); ok {
				inFence = true
				fenceMarker = marker
				out.WriteString(line)
				continue
			}
			rewritten, err := rewriteInlineMarkdown(line, baseForJoin, chapterID, locations, assets)
			if err != nil {
				return "", err
			}
			out.WriteString(rewritten)
			continue
		}

		out.WriteString(line)
		if fenceEndMarker(line, fenceMarker) {
			inFence = false
		}
	}
	return out.String(), nil
}

func rewriteInlineMarkdown(input string, baseURL *url.URL, chapterID string, locations map[string]location, assets *assetDownloader) (string, error) {
	var out strings.Builder
	i := 0
	for i < len(input) {
		rest := input[i:]

		if strings.HasPrefix(rest, "`") {
			if n := consumeCodeSpan(rest); n > 0 {
				out.WriteString(rest[:n])
				i += n
				continue
			}
		}

		if strings.HasPrefix(rest, "![") {
			if n, rewritten, ok := tryRewriteLinkLike(rest, true, baseURL, chapterID, locations, assets); ok {
				out.WriteString(rewritten)
				i += n
				continue
			}
		}

		if strings.HasPrefix(rest, "[") {
			if n, rewritten, ok := tryRewriteLinkLike(rest, false, baseURL, chapterID, locations, assets); ok {
				out.WriteString(rewritten)
				i += n
				continue
			}
		}

		r, size := utf8.DecodeRuneInString(rest)
		out.WriteRune(r)
		i += size
	}
	return out.String(), nil
}

func consumeCodeSpan(input string) int {
	markerLen := 0
	for markerLen < len(input) && input[markerLen] == '`' {
		markerLen++
	}
	if markerLen == 0 {
		return 0
	}
	marker := strings.Repeat("`", markerLen)
	after := input[markerLen:]
	close := strings.Index(after, marker)
	if close < 0 {
		return 0
	}
	return markerLen + close + markerLen
}

// tryRewriteLinkLike scans a `[...](...)`  or `![...](...)` starting at
// input[0], honoring nested brackets/parens and backslash escapes, and
// rewrites the destination if one is found. ok is false if input[0:]
// isn't a well-formed link/image.
func tryRewriteLinkLike(input string, isImage bool, baseURL *url.URL, chapterID string, locations map[string]location, assets *assetDownloader) (int, string, bool) {
	i := 1
	if isImage {
		i = 2
	}
	depth := 1

	for i < len(input) {
		r, size := utf8.DecodeRuneInString(input[i:])
		if r == '\\' {
			i += size
			if i < len(input) {
				_, size2 := utf8.DecodeRuneInString(input[i:])
				i += size2
			}
			continue
		}
		if r == '[' {
			depth++
		} else if r == ']' {
			depth--
			if depth == 0 {
				break
			}
		}
		i += size
	}
	if depth != 0 {
		return 0, "", false
	}
	closeBracket := i
	after := input[closeBracket+1:]
	afterIdx := 0
	for afterIdx < len(after) {
		r, size := utf8.DecodeRuneInString(after[afterIdx:])
		if !isSpace(r) {
			break
		}
		afterIdx += size
	}
	if !strings.HasPrefix(after[afterIdx:], "(") {
		return 0, "", false
	}

	parenOpen := closeBracket + 1 + afterIdx
	j := parenOpen + 1
	pdepth := 1
	for j < len(input) {
		r, size := utf8.DecodeRuneInString(input[j:])
		if r == '\\' {
			j += size
			if j < len(input) {
				_, size2 := utf8.DecodeRuneInString(input[j:])
				j += size2
			}
			continue
		}
		if r == '(' {
			pdepth++
		} else if r == ')' {
			pdepth--
			if pdepth == 0 {
				break
			}
		}
		j += size
	}
	if pdepth != 0 {
		return 0, "", false
	}
	parenClose := j

	dest := input[parenOpen+1 : parenClose]
	rewrittenDest := rewriteLinkDestination(dest, isImage, baseURL, chapterID, locations, assets)

	var rewritten strings.Builder
	rewritten.WriteString(input[:parenOpen+1])
	rewritten.WriteString(rewrittenDest)
	rewritten.WriteString(")")
	return parenClose + 1, rewritten.String(), true
}

func rewriteLinkDestination(dest string, isImage bool, baseURL *url.URL, chapterID string, locations map[string]location, assets *assetDownloader) string {
	i := 0
	for i < len(dest) {
		r, size := utf8.DecodeRuneInString(dest[i:])
		if !isSpace(r) {
			break
		}
		i += size
	}

	var coreStart, coreEnd int
	if strings.HasPrefix(dest[i:], "<") {
		coreStart = i + 1
		relEnd := strings.Index(dest[coreStart:], ">")
		if relEnd < 0 {
			return dest
		}
		coreEnd = coreStart + relEnd
	} else {
		end := i
		for end < len(dest) {
			r, size := utf8.DecodeRuneInString(dest[end:])
			if isSpace(r) {
				break
			}
			end += size
		}
		coreStart, coreEnd = i, end
	}

	core := dest[coreStart:coreEnd]
	var rewritten string
	if isImage {
		resolved := resolveURLForOutput(baseURL, core)
		if resolved == nil {
			rewritten = core
		} else if assets == nil {
			rewritten = resolved.String()
		} else {
			local, err := assets.DownloadImage(resolved.String())
			if err != nil {
				rewritten = resolved.String()
			} else {
				rewritten = local
			}
		}
	} else {
		rewritten = rewritePageLink(baseURL, core, chapterID, locations)
	}

	if rewritten == core {
		return dest
	}
	return dest[:coreStart] + rewritten + dest[coreEnd:]
}

func rewritePageLink(baseURL *url.URL, raw, chapterID string, locations map[string]location) string {
	if raw == "" || strings.HasPrefix(raw, "#") {
		return raw
	}
	if strings.HasPrefix(raw, "mailto:") || strings.HasPrefix(raw, "javascript:") {
		return raw
	}

	resolved := resolveURLForOutput(baseURL, raw)
	if resolved == nil {
		return raw
	}
	canonical := canonicalizeURLForLookup(resolved)
	if loc, ok := locations[canonical]; ok {
		if loc.chapterID == chapterID {
			return "#" + loc.pageID
		}
		return loc.chapterID + ".md#" + loc.pageID
	}
	return resolved.String()
}

func resolveURLForOutput(baseURL *url.URL, raw string) *url.URL {
	if u, err := url.Parse(raw); err == nil && u.IsAbs() {
		return u
	}
	if strings.HasPrefix(raw, "//") {
		u, err := url.Parse(baseURL.Scheme + ":" + raw)
		if err != nil {
			return nil
		}
		return u
	}
	u, err := baseURL.Parse(raw)
	if err != nil {
		return nil
	}
	return u
}

func canonicalizeURLForLookup(u *url.URL) string {
	canonical := *u
	canonical.Fragment = ""
	canonical.RawQuery = ""
	path := canonical.Path
	for len(path) > 1 && strings.HasSuffix(path, "/") {
		path = path[:len(path)-1]
	}
	canonical.Path = path
	return canonical.String()
}

func withTrailingSlash(u *url.URL) *url.URL {
	out := *u
	if !strings.HasSuffix(out.Path, "/") {
		out.Path += "/"
	}
	return &out
}

func fenceStartMarker(line string) (string, bool) {
	trimmed := strings.TrimLeft(line, " \t")
	if strings.HasPrefix(trimmed, "```") {
		n := 0
		for n < len(trimmed) && trimmed[n] == '`' {
			n++
		}
		return trimmed[:n], true
	}
	if strings.HasPrefix(trimmed, "~~~") {
		n := 0
		for n < len(trimmed) && trimmed[n] == '~' {
			n++
		}
		return trimmed[:n], true
	}
	return "", false
}

func fenceEndMarker(line, marker string) bool {
	return strings.HasPrefix(strings.TrimLeft(line, " \t"), marker)
}

func splitKeepEOL(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, s[start:i+1])
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r'
}

// buildURLToLocation indexes every chapter's sources by the manifest
// page's canonical URL so link rewriting can find where each page ended
// up.
func buildURLToLocation(chapters []toc.Chapter, byID map[string]manifest.Record) map[string]location {
	out := make(map[string]location)
	for _, ch := range chapters {
		for _, id := range ch.Sources {
			rec, ok := byID[id]
			if !ok {
				continue
			}
			u, err := url.Parse(rec.URL)
			if err != nil {
				continue
			}
			out[canonicalizeURLForLookup(u)] = location{chapterID: ch.ID, pageID: id}
		}
	}
	return out
}

// computeDirIndexIDs returns the set of page ids that are directory
// index pages (i.e. some other page's path is nested under theirs),
// so relative links on that page resolve against a trailing-slash base.
func computeDirIndexIDs(records []manifest.Record) map[string]bool {
	ids := make(map[string]bool)
	for _, r := range records {
		prefix := strings.TrimRight(r.Path, "/") + "/"
		if r.Path == "/" {
			prefix = "/"
		}
		for _, other := range records {
			if other.Path != r.Path && strings.HasPrefix(other.Path, prefix) {
				ids[r.ID] = true
				break
			}
		}
	}
	return ids
}
