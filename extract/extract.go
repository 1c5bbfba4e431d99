// Package extract turns a raw crawled HTML page into clean article text.
// It tries, in order: CSS selector overrides supplied by the caller,
// semantic landmarks (<main>/<article>) with text density scoring, and a
// whole-body text fallback. This mirrors a readability-style pipeline:
// strip boilerplate (nav, footer, script, style), score remaining
// subtrees by text-to-markup ratio and link density, and keep the best.
package extract

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Result is the outcome of extracting one page.
type Result struct {
	Title string
	Text  string // plain text, whitespace-collapsed
	HTML  string // serialized HTML of the retained subtree(s)
	Hash  string // sha256 of Text, hex-encoded; used to dedupe identical pages
}

// Options controls extraction behaviour.
type Options struct {
	// Selectors, when non-empty, are tried before the landmark/density
	// pipeline. Each is a simple CSS selector (see css.go); the text of
	// every node any selector matches is combined, and the pipeline runs
	// only when no selector yields content.
	Selectors []string
	// MinTextLen discards candidate subtrees shorter than this many
	// characters. Zero uses a sane default.
	MinTextLen int
}

const defaultMinTextLen = 120

// Extract parses rawHTML and returns the best-effort article content.
// A non-empty title is used as given; when title is empty the
// document's <title> is used instead. pageURL is only used in error
// messages.
func Extract(rawHTML, pageURL, title string, opts Options) (*Result, error) {
	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return nil, fmt.Errorf("extract: parse %s: %w", pageURL, err)
	}

	minLen := opts.MinTextLen
	if minLen <= 0 {
		minLen = defaultMinTextLen
	}

	if title == "" {
		title = docTitle(doc)
	}

	if len(opts.Selectors) > 0 {
		if res, err := extractCSS(doc, opts.Selectors, title, minLen); err == nil {
			return res, nil
		}
	}

	return extractDensity(doc, title, minLen)
}

// CleanText collapses whitespace in s the same way extraction does,
// so callers comparing extracted text against other sources (e.g. LLM
// rewrite output) compare on equal footing.
func CleanText(s string) string {
	fields := strings.Fields(s)
	return strings.Join(fields, " ")
}

// hashText returns the hex sha256 digest of s.
func hashText(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// docTitle returns the document's <title> text, or "" if absent.
func docTitle(doc *html.Node) string {
	var title string
	var walk func(*html.Node) bool
	walk = func(n *html.Node) bool {
		if n.Type == html.ElementNode && n.DataAtom == atom.Title {
			title = strings.TrimSpace(collectText(n))
			return true
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if walk(c) {
				return true
			}
		}
		return false
	}
	walk(doc)
	return title
}

// boilerplateHints are substring-matched against an element's id
// and class attributes (lowercased) to recognize navigation, footers,
// sidebars and ad slots regardless of the specific markup framework.
var boilerplateHints = []string{
	"nav", "navbar", "menu", "footer", "header", "sidebar", "aside",
	"breadcrumb", "pagination", "pager", "comment", "advert", "sponsor",
	"cookie", "banner", "popup", "modal", "social", "share", "related",
	"newsletter", "subscribe", "toolbar", "masthead",
}

// isBoilerplate reports whether n is (or is almost certainly) a
// non-content region: <nav>/<footer>/<header>/<aside>, hidden elements,
// or elements whose id/class match a boilerplate hint.
func isBoilerplate(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	switch n.DataAtom {
	case atom.Nav, atom.Footer, atom.Header, atom.Aside, atom.Script, atom.Style, atom.Noscript, atom.Form, atom.Iframe:
		return true
	}
	for _, attr := range n.Attr {
		if attr.Key == "hidden" {
			return true
		}
		if attr.Key == "aria-hidden" && attr.Val == "true" {
			return true
		}
		if attr.Key == "style" && strings.Contains(strings.ReplaceAll(attr.Val, " ", ""), "display:none") {
			return true
		}
		if attr.Key != "id" && attr.Key != "class" {
			continue
		}
		val := strings.ToLower(attr.Val)
		for _, hint := range boilerplateHints {
			if strings.Contains(val, hint) {
				return true
			}
		}
	}
	return false
}

// isContentTag reports whether a is a tag that commonly wraps article
// body content, used to prune the density scan to plausible containers.
func isContentTag(a atom.Atom) bool {
	switch a {
	case atom.Div, atom.Section, atom.Main, atom.Article, atom.Td, atom.Li:
		return true
	default:
		return false
	}
}

// collectText returns the visible text under n, skipping script/style
// and boilerplate subtrees, with runs of whitespace collapsed to a
// single space and block-level elements separated by newlines.
func collectText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Script, atom.Style, atom.Noscript:
				return
			}
			if isBoilerplate(n) {
				return
			}
		}
		if n.Type == html.TextNode {
			text := strings.Join(strings.Fields(n.Data), " ")
			if text != "" {
				if sb.Len() > 0 {
					last := sb.String()[sb.Len()-1]
					if last != ' ' && last != '\n' {
						sb.WriteByte(' ')
					}
				}
				sb.WriteString(text)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && isBlockTag(n.DataAtom) {
			sb.WriteString("\n")
		}
	}
	walk(n)
	return strings.TrimSpace(sb.String())
}

func isBlockTag(a atom.Atom) bool {
	switch a {
	case atom.P, atom.Div, atom.Section, atom.Article, atom.Li, atom.Tr,
		atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6, atom.Br, atom.Blockquote:
		return true
	default:
		return false
	}
}

// renderNode serializes n back to HTML. Rendering errors are treated as
// empty output since callers only use this for the retained HTML field.
func renderNode(n *html.Node) string {
	var sb strings.Builder
	if err := html.Render(&sb, n); err != nil {
		return ""
	}
	return sb.String()
}
