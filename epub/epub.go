// Package epub packages a rendered mdBook source tree into a valid
// EPUB 3 file (C8): one XHTML document per chapter, assets copied
// under OEBPS/assets, and a nav/ncx/opf triad describing the spine in
// SUMMARY.md order.
package epub

import (
	"archive/zip"
	"bytes"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// CreateOptions configures Create.
type CreateOptions struct {
	BookDir string // mdBook root containing src/SUMMARY.md
	OutPath string
	Force   bool
	Lang    string // BCP-47 language tag; "und" if unknown
}

type chapterSpec struct {
	stem  string
	title string
	md    string
}

type assetSpec struct {
	relPath string
	absPath string
}

var markdownRenderer = goldmark.New(goldmark.WithExtensions(extension.GFM, extension.Footnote))

// Create builds an EPUB 3 file from a rendered mdBook tree at
// opts.BookDir. Each SUMMARY.md chapter becomes one XHTML document
// (the spec's resolved Open Question: chapter granularity, not
// per-source-page granularity). It refuses to overwrite an existing
// output file unless opts.Force is set.
func Create(opts CreateOptions) error {
	info, err := os.Stat(opts.BookDir)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("epub: book directory not found: %s", opts.BookDir)
	}
	if _, err := os.Stat(opts.OutPath); err == nil && !opts.Force {
		return fmt.Errorf("epub: output already exists: %s", opts.OutPath)
	}
	if dir := filepath.Dir(opts.OutPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("epub: create output dir: %w", err)
		}
	}

	title := "Book"
	if t, ok := readBookTitle(opts.BookDir); ok {
		title = t
	}
	lang := strings.TrimSpace(opts.Lang)
	if lang == "" {
		lang = "und"
	}

	srcDir := filepath.Join(opts.BookDir, "src")
	summaryMD, err := os.ReadFile(filepath.Join(srcDir, "SUMMARY.md"))
	if err != nil {
		return fmt.Errorf("epub: read SUMMARY.md: %w", err)
	}
	chapterRelPaths := parseSummaryChapterPaths(string(summaryMD))
	if len(chapterRelPaths) == 0 {
		return fmt.Errorf("epub: no chapter links found in SUMMARY.md")
	}

	chapters := make([]chapterSpec, 0, len(chapterRelPaths))
	for _, rel := range chapterRelPaths {
		mdPath := filepath.Join(srcDir, rel)
		data, err := os.ReadFile(mdPath)
		if err != nil {
			return fmt.Errorf("epub: read chapter %s: %w", mdPath, err)
		}
		stem := strings.TrimSuffix(filepath.Base(mdPath), filepath.Ext(mdPath))
		chTitle := extractFirstHeading(string(data))
		if chTitle == "" {
			chTitle = stem
		}
		chapters = append(chapters, chapterSpec{stem: stem, title: chTitle, md: string(data)})
	}

	assetsDir := filepath.Join(srcDir, "assets")
	var assets []assetSpec
	if info, err := os.Stat(assetsDir); err == nil && info.IsDir() {
		files, err := listFilesRecursivelySorted(assetsDir)
		if err != nil {
			return fmt.Errorf("epub: list assets: %w", err)
		}
		for _, f := range files {
			rel, err := filepath.Rel(assetsDir, f)
			if err != nil {
				return fmt.Errorf("epub: asset rel path: %w", err)
			}
			assets = append(assets, assetSpec{relPath: filepath.ToSlash(rel), absPath: f})
		}
	}

	id := uuid.New()
	modified := currentTimeRFC3339()

	flags := os.O_WRONLY | os.O_CREATE
	if opts.Force {
		flags |= os.O_TRUNC
	} else {
		flags |= os.O_EXCL
	}
	outFile, err := os.OpenFile(opts.OutPath, flags, 0o644)
	if err != nil {
		return fmt.Errorf("epub: open output: %w", err)
	}
	defer outFile.Close()

	zw := zip.NewWriter(outFile)

	if err := writeStoredEntry(zw, "mimetype", []byte("application/epub+zip")); err != nil {
		return err
	}
	if err := writeDeflatedEntry(zw, "META-INF/container.xml", []byte(renderContainerXML())); err != nil {
		return err
	}
	if err := writeDeflatedEntry(zw, "OEBPS/content.opf", []byte(renderContentOPF(title, lang, id, modified, chapters, assets))); err != nil {
		return err
	}
	if err := writeDeflatedEntry(zw, "OEBPS/nav.xhtml", []byte(renderNavXHTML(title, lang, chapters))); err != nil {
		return err
	}
	if err := writeDeflatedEntry(zw, "OEBPS/toc.ncx", []byte(renderTocNCX(title, id, chapters))); err != nil {
		return err
	}
	if err := writeDeflatedEntry(zw, "OEBPS/style.css", []byte(defaultStyleCSS)); err != nil {
		return err
	}

	stems := make([]string, len(chapters))
	for i, c := range chapters {
		stems[i] = c.stem
	}
	for _, ch := range chapters {
		html, err := markdownToHTMLFragment(ch.md)
		if err != nil {
			return fmt.Errorf("epub: render chapter %s: %w", ch.stem, err)
		}
		html = rewriteHTMLForEPUB(html, stems)
		html = ensureXHTMLVoidTags(html)
		xhtml := wrapXHTMLDocument(ch.title, lang, html)
		if err := writeDeflatedEntry(zw, "OEBPS/"+ch.stem+".xhtml", []byte(xhtml)); err != nil {
			return err
		}
	}

	for _, asset := range assets {
		data, err := os.ReadFile(asset.absPath)
		if err != nil {
			return fmt.Errorf("epub: read asset %s: %w", asset.absPath, err)
		}
		if err := writeDeflatedEntry(zw, "OEBPS/assets/"+asset.relPath, data); err != nil {
			return err
		}
	}

	return zw.Close()
}

// currentTimeRFC3339 is a seam so tests can avoid depending on wall-clock
// time; it reads the real clock unless a test replaces it.
var currentTimeRFC3339 = func() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05Z")
}

func writeStoredEntry(zw *zip.Writer, name string, data []byte) error {
	w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Store})
	if err != nil {
		return fmt.Errorf("epub: start entry %s: %w", name, err)
	}
	_, err = w.Write(data)
	return err
}

func writeDeflatedEntry(zw *zip.Writer, name string, data []byte) error {
	w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate})
	if err != nil {
		return fmt.Errorf("epub: start entry %s: %w", name, err)
	}
	_, err = w.Write(data)
	return err
}

func markdownToHTMLFragment(md string) (string, error) {
	var buf bytes.Buffer
	if err := markdownRenderer.Convert([]byte(md), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

var (
	srcAssetPattern  = regexp.MustCompile(`(src=["'])\.\./assets/`)
	hrefAssetPattern = regexp.MustCompile(`(href=["'])\.\./assets/`)
)

func rewriteHTMLForEPUB(html string, chapterStems []string) string {
	out := srcAssetPattern.ReplaceAllString(html, "${1}assets/")
	out = hrefAssetPattern.ReplaceAllString(out, "${1}assets/")

	for _, stem := range chapterStems {
		md := stem + ".md"
		xhtml := stem + ".xhtml"
		for _, quote := range []string{`"`, "'"} {
			for _, prefix := range []string{"chapters/", "./chapters/", "", "./"} {
				out = strings.ReplaceAll(out, "href="+quote+prefix+md, "href="+quote+xhtml)
			}
		}
	}
	return out
}

var voidTags = map[string]bool{
	"area": true, "base": true, "br": true, "col": true, "embed": true,
	"hr": true, "img": true, "input": true, "link": true, "meta": true,
	"param": true, "source": true, "track": true, "wbr": true,
}

// ensureXHTMLVoidTags self-closes void elements (<img ...> -> <img ... />)
// so the goldmark HTML5 output is well-formed XHTML.
func ensureXHTMLVoidTags(html string) string {
	var out strings.Builder
	cursor := 0
	for {
		lt := strings.IndexByte(html[cursor:], '<')
		if lt < 0 {
			out.WriteString(html[cursor:])
			break
		}
		lt += cursor
		out.WriteString(html[cursor:lt])

		gt := findTagEnd(html, lt)
		if gt < 0 {
			out.WriteString(html[lt:])
			break
		}
		rawTag := html[lt : gt+1]

		if gt > lt && (html[lt+1] == '!' || html[lt+1] == '?' || html[lt+1] == '/') {
			out.WriteString(rawTag)
			cursor = gt + 1
			continue
		}

		nameStart := lt + 1
		nameEnd := nameStart
		for nameEnd < gt && isASCIIAlpha(html[nameEnd]) {
			nameEnd++
		}
		if nameEnd == nameStart {
			out.WriteString(rawTag)
			cursor = gt + 1
			continue
		}

		tagName := strings.ToLower(html[nameStart:nameEnd])
		if !voidTags[tagName] {
			out.WriteString(rawTag)
			cursor = gt + 1
			continue
		}

		tagWithoutGT := html[lt:gt]
		if strings.HasSuffix(strings.TrimRight(tagWithoutGT, " \t"), "/") {
			out.WriteString(rawTag)
		} else {
			out.WriteString(tagWithoutGT)
			out.WriteString(" />")
		}
		cursor = gt + 1
	}
	return out.String()
}

func findTagEnd(html string, lt int) int {
	var inQuote byte
	i := lt + 1
	for i < len(html) {
		b := html[i]
		if inQuote != 0 {
			if b == inQuote {
				inQuote = 0
			}
			i++
			continue
		}
		if b == '"' || b == '\'' {
			inQuote = b
			i++
			continue
		}
		if b == '>' {
			return i
		}
		i++
	}
	return -1
}

func isASCIIAlpha(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

func extractFirstHeading(md string) string {
	for _, line := range strings.Split(md, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || !strings.HasPrefix(trimmed, "#") {
			continue
		}
		title := strings.TrimSpace(strings.TrimLeft(trimmed, "#"))
		if title != "" {
			return title
		}
	}
	return ""
}

func listFilesRecursivelySorted(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

func readBookTitle(bookDir string) (string, bool) {
	data, err := os.ReadFile(filepath.Join(bookDir, "book.toml"))
	if err != nil {
		return "", false
	}
	m := regexp.MustCompile(`(?m)^\s*title\s*=\s*"([^"]*)"`).FindStringSubmatch(string(data))
	if m == nil {
		return "", false
	}
	return m[1], true
}

// parseSummaryChapterPaths reuses the same link-target parsing bundle
// uses on SUMMARY.md, kept local to avoid an import just for one regex.
func parseSummaryChapterPaths(summaryMD string) []string {
	var paths []string
	linkPattern := regexp.MustCompile(`\]\(([^)]+)\)`)
	for _, line := range strings.Split(summaryMD, "\n") {
		m := linkPattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		target := m[1]
		p := target
		if i := strings.Index(target, "#"); i >= 0 {
			p = target[:i]
		}
		p = strings.TrimSpace(p)
		if strings.HasPrefix(p, "http://") || strings.HasPrefix(p, "https://") {
			continue
		}
		if !strings.HasSuffix(p, ".md") {
			continue
		}
		paths = append(paths, p)
	}
	return paths
}

func mediaTypeForAsset(relPath string) string {
	switch strings.ToLower(strings.TrimPrefix(path.Ext(relPath), ".")) {
	case "png":
		return "image/png"
	case "jpg", "jpeg":
		return "image/jpeg"
	case "gif":
		return "image/gif"
	case "svg":
		return "image/svg+xml"
	case "webp":
		return "image/webp"
	case "avif":
		return "image/avif"
	default:
		return "application/octet-stream"
	}
}

// GuessLangTag maps a free-form user-supplied language name to a
// BCP-47 tag for EPUB metadata, defaulting to "und" (undetermined)
// when nothing recognizable is found.
func GuessLangTag(userLanguage string) string {
	raw := strings.TrimSpace(userLanguage)
	if raw == "" {
		return "und"
	}

	looksLikeTag := strings.ContainsRune(raw, '-') && isPlausibleBCP47(raw)
	if looksLikeTag {
		return strings.ReplaceAll(raw, "_", "-")
	}

	lower := strings.ToLower(raw)
	switch {
	case strings.Contains(raw, "日本") || strings.Contains(lower, "japanese") || lower == "ja":
		return "ja"
	case strings.Contains(lower, "english") || lower == "en":
		return "en"
	default:
		return "und"
	}
}

func isPlausibleBCP47(raw string) bool {
	if len(raw) > 35 {
		return false
	}
	hasAlpha := false
	for _, r := range raw {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
			hasAlpha = true
		case r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return false
		}
	}
	return hasAlpha
}

func xmlEscape(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	s = strings.ReplaceAll(s, `"`, "&quot;")
	s = strings.ReplaceAll(s, "'", "&apos;")
	return s
}
