package extract

import (
	"regexp"
	"strings"
)

// boilerplateHeadingTitles matches heading text that, when followed by a
// short run of single-line entries, is almost certainly mdBook's
// generated keyboard-shortcut help panel rather than article content —
// the canonical boilerplate example spec.md names by name.
var boilerplateHeadingTitles = regexp.MustCompile(`(?i)^#+\s*(keyboard shortcuts?|navigation)\s*$`)

// shortcutEntryPattern matches a single keyboard-shortcut list entry,
// e.g. "- `←, p` : Navigate to the previous page" or "`→` Next chapter".
var shortcutEntryPattern = regexp.MustCompile("(?i)`[^`]{1,12}`.{0,60}(page|chapter|search|sidebar|navigate)")

// stripKnownBoilerplateSections removes fixed, documented boilerplate
// blocks from converted Markdown. It is intentionally conservative: a
// heading only triggers removal when enough of the lines under it look
// like shortcut entries, so ordinary headings that happen to be titled
// "Navigation" are left alone.
func stripKnownBoilerplateSections(markdown string) string {
	lines := strings.Split(markdown, "\n")
	var out []string

	i := 0
	for i < len(lines) {
		line := lines[i]
		if boilerplateHeadingTitles.MatchString(line) {
			end := i + 1
			matches := 0
			lookahead := min(len(lines), i+1+20)
			for j := i + 1; j < lookahead; j++ {
				if isHeadingLine(lines[j]) {
					break
				}
				if shortcutEntryPattern.MatchString(lines[j]) {
					matches++
					end = j + 1
				} else if strings.TrimSpace(lines[j]) != "" {
					break
				} else {
					end = j + 1
				}
			}
			if matches >= 2 {
				i = end
				continue
			}
		}
		out = append(out, line)
		i++
	}

	return strings.Join(out, "\n")
}

func isHeadingLine(line string) bool {
	return strings.HasPrefix(strings.TrimSpace(line), "#")
}
