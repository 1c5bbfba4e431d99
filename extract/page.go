package extract

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"gopkg.in/yaml.v3"

	"github.com/sitebookify/sitebookify/urlnorm"
)

// Page is one extracted, content-addressed page: the unit written to
// extracted/pages/<id>.md as YAML front matter plus a Markdown body.
type Page struct {
	ID          string `yaml:"id"`
	URL         string `yaml:"url"`
	RetrievedAt string `yaml:"retrieved_at"`
	RawHTMLPath string `yaml:"raw_html_path"`
	Title       string `yaml:"title"`
	Body        string `yaml:"-"`
}

var markdownConverter = converter.NewConverter(
	converter.WithPlugins(
		base.NewBasePlugin(),
		commonmark.NewCommonmarkPlugin(),
		table.NewTablePlugin(),
	),
)

// ExtractPage runs the full extraction pipeline for one crawled page:
// readability-style content extraction, HTML-to-Markdown conversion,
// and known-boilerplate stripping. canonicalURL determines the page's
// stable id.
func ExtractPage(rawHTML, canonicalURL, retrievedAt, rawHTMLPath string, opts Options) (*Page, error) {
	res, err := Extract(rawHTML, canonicalURL, "", opts)
	if err != nil {
		return nil, fmt.Errorf("extract: %s: %w", canonicalURL, err)
	}

	title := res.Title
	if title == "" {
		title = canonicalURL
	}

	var bodyMD string
	if strings.TrimSpace(res.HTML) != "" {
		converted, err := markdownConverter.ConvertString(res.HTML)
		if err != nil {
			return nil, fmt.Errorf("extract: html to markdown: %s: %w", canonicalURL, err)
		}
		bodyMD = converted
	}

	bodyMD = strings.TrimSpace(bodyMD)
	if !strings.HasPrefix(bodyMD, "#") {
		bodyMD = "# " + title + "\n\n" + bodyMD
	}
	bodyMD = stripKnownBoilerplateSections(bodyMD)
	bodyMD = strings.TrimSpace(bodyMD)
	if !strings.HasPrefix(bodyMD, "#") {
		bodyMD = "# " + title + "\n\n" + bodyMD
	}

	return &Page{
		ID:          urlnorm.PageID(canonicalURL),
		URL:         canonicalURL,
		RetrievedAt: retrievedAt,
		RawHTMLPath: rawHTMLPath,
		Title:       title,
		Body:        bodyMD + "\n",
	}, nil
}

// WritePage writes p to <pagesDir>/<id>.md as YAML front matter followed
// by the Markdown body. It refuses to overwrite an existing file
// (extracted pages are write-once snapshots).
func WritePage(pagesDir string, p *Page) (string, error) {
	if err := os.MkdirAll(pagesDir, 0o755); err != nil {
		return "", fmt.Errorf("extract: create pages dir: %w", err)
	}

	front, err := yaml.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("extract: marshal front matter: %w", err)
	}

	content := "---\n" + string(front) + "---\n\n" + p.Body

	outPath := filepath.Join(pagesDir, p.ID+".md")
	f, err := os.OpenFile(outPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("extract: page already exists (snapshot write-once): %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(content); err != nil {
		return "", fmt.Errorf("extract: write page: %w", err)
	}
	return outPath, nil
}

// ReadPage parses a previously written extracted page file back into a
// Page.
func ReadPage(path string) (*Page, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("extract: read page: %w", err)
	}

	s := string(data)
	if !strings.HasPrefix(s, "---\n") {
		return nil, fmt.Errorf("extract: %s: missing front matter", path)
	}
	rest := s[len("---\n"):]
	idx := strings.Index(rest, "\n---\n")
	if idx < 0 {
		return nil, fmt.Errorf("extract: %s: unterminated front matter", path)
	}

	var p Page
	if err := yaml.Unmarshal([]byte(rest[:idx]), &p); err != nil {
		return nil, fmt.Errorf("extract: %s: parse front matter: %w", path, err)
	}
	p.Body = strings.TrimPrefix(rest[idx+len("\n---\n"):], "\n")
	return &p, nil
}
