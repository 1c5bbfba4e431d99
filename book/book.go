// Package book renders the mdBook source tree (C6): one chapter per
// TOC entry, internal links rewritten to stay inside the book, images
// downloaded into src/assets, and an optional LLM rewrite pass per
// chapter body.
package book

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/sitebookify/sitebookify/llm"
	"github.com/sitebookify/sitebookify/manifest"
	"github.com/sitebookify/sitebookify/toc"
)

// Init scaffolds an empty mdBook tree at outDir: book.toml, src/SUMMARY.md,
// and a single placeholder chapter, the same skeleton `mdbook init` itself
// produces. It refuses to overwrite an existing book.toml.
func Init(outDir, title string) error {
	if err := os.MkdirAll(filepath.Join(outDir, "src", "chapters"), 0o755); err != nil {
		return fmt.Errorf("book: create dirs: %w", err)
	}

	bookToml := filepath.Join(outDir, "book.toml")
	f, err := os.OpenFile(bookToml, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("book: book.toml already exists: %w", err)
	}
	fmt.Fprintf(f, "[book]\ntitle = %q\n", title)
	f.Close()

	summary := filepath.Join(outDir, "src", "SUMMARY.md")
	if err := os.WriteFile(summary, []byte("# Summary\n\n- [Chapter 1](chapters/ch01.md)\n"), 0o644); err != nil {
		return fmt.Errorf("book: write SUMMARY.md: %w", err)
	}

	ch01 := filepath.Join(outDir, "src", "chapters", "ch01.md")
	placeholder := "# Chapter 1\n\n## Sources\n"
	if err := os.WriteFile(ch01, []byte(placeholder), 0o644); err != nil {
		return fmt.Errorf("book: write placeholder chapter: %w", err)
	}
	return nil
}

// RenderOptions configures Render.
type RenderOptions struct {
	OutDir     string // book root; src/chapters and src/assets are created under it
	Engine     llm.Engine
	Prompt     string
	Language   string
	Tone       string
	HTTPClient *http.Client
	// Concurrency bounds how many chapters render at once. Default 4.
	Concurrency int
}

// Render writes book/src/SUMMARY.md and one book/src/chapters/<id>.md
// per TOC chapter, rewriting internal links/images and, when engine is
// non-nil and not the identity noop, running each chapter body through
// the LLM rewrite gateway (C9).
func Render(ctx context.Context, t *toc.TOC, records []manifest.Record, opts RenderOptions) error {
	chapters := toc.AllChapters(t)
	byID := manifest.ByID(records)

	chaptersDir := filepath.Join(opts.OutDir, "src", "chapters")
	assetsDir := filepath.Join(opts.OutDir, "src", "assets")
	if err := os.MkdirAll(chaptersDir, 0o755); err != nil {
		return fmt.Errorf("book: create chapters dir: %w", err)
	}

	assets, err := newAssetDownloader(assetsDir, opts.HTTPClient)
	if err != nil {
		return err
	}

	if err := os.WriteFile(filepath.Join(opts.OutDir, "src", "SUMMARY.md"), []byte(renderSummaryMD(t)), 0o644); err != nil {
		return fmt.Errorf("book: write SUMMARY.md: %w", err)
	}

	if len(chapters) == 0 {
		return nil
	}

	dirIndexIDs := computeDirIndexIDs(records)
	urlToLocation := buildURLToLocation(chapters, byID)

	var gw *llm.Gateway
	if opts.Engine != nil {
		if _, ok := opts.Engine.(llm.NoopEngine); !ok {
			gw = llm.NewGateway(opts.Engine)
		}
	}

	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}

	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(concurrency)

	for _, ch := range chapters {
		ch := ch
		group.Go(func() error {
			md, err := renderChapterMD(gctx, ch, byID, urlToLocation, dirIndexIDs, assets, gw, opts.Prompt, opts.Language, opts.Tone)
			if err != nil {
				return fmt.Errorf("book: render chapter %s: %w", ch.ID, err)
			}
			return os.WriteFile(filepath.Join(chaptersDir, ch.ID+".md"), []byte(md), 0o644)
		})
	}
	return group.Wait()
}

func renderChapterMD(ctx context.Context, ch toc.Chapter, byID map[string]manifest.Record, urlToLocation map[string]location, dirIndexIDs map[string]bool, assets *assetDownloader, gw *llm.Gateway, prompt, language, tone string) (string, error) {
	var md strings.Builder
	fmt.Fprintf(&md, "# %s\n\n", ch.Title)

	for _, id := range ch.Sources {
		fmt.Fprintf(&md, "<a id=\"%s\"></a>\n", id)
	}
	md.WriteString("\n")

	var sourceMaterial strings.Builder
	for _, id := range ch.Sources {
		rec, ok := byID[id]
		if !ok {
			return "", fmt.Errorf("source id not found in manifest: %s", id)
		}
		page, err := readExtractedBody(rec)
		if err != nil {
			return "", err
		}
		body := stripLeadingH1(page)
		rewritten, err := rewriteMarkdownLinksAndImages(body, rec.URL, ch.ID, urlToLocation, dirIndexIDs[rec.ID], assets)
		if err != nil {
			return "", fmt.Errorf("rewrite links/images for %s: %w", rec.URL, err)
		}

		if sourceMaterial.Len() > 0 {
			sourceMaterial.WriteString("\n\n")
		}
		fmt.Fprintf(&sourceMaterial, "## %s\n\n", rec.Title)
		sourceMaterial.WriteString(strings.TrimSpace(rewritten))
		sourceMaterial.WriteString("\n")
	}

	chapterBody := strings.TrimRight(sourceMaterial.String(), "\n")
	if gw != nil && chapterBody != "" {
		out, err := gw.Rewrite(ctx, chapterBody, prompt, language, tone)
		if err != nil {
			return "", fmt.Errorf("llm rewrite chapter %s: %w", ch.ID, err)
		}
		chapterBody = out
	}

	if strings.TrimSpace(chapterBody) != "" {
		md.WriteString(strings.TrimRight(chapterBody, "\n"))
		md.WriteString("\n\n")
	}

	md.WriteString("## Sources\n")
	for _, id := range ch.Sources {
		rec := byID[id]
		fmt.Fprintf(&md, "- %s\n", rec.URL)
	}
	return md.String(), nil
}

func readExtractedBody(rec manifest.Record) (string, error) {
	data, err := os.ReadFile(rec.ExtractedMD)
	if err != nil {
		return "", fmt.Errorf("read extracted page %s: %w", rec.ExtractedMD, err)
	}
	return stripFrontMatter(string(data)), nil
}

func stripFrontMatter(contents string) string {
	if !strings.HasPrefix(contents, "---\n") {
		return contents
	}
	rest := contents[len("---\n"):]
	idx := strings.Index(rest, "\n---\n")
	if idx < 0 {
		return contents
	}
	return strings.TrimPrefix(rest[idx+len("\n---\n"):], "\n")
}

func stripLeadingH1(body string) string {
	body = strings.TrimLeft(body, "\n")
	nl := strings.IndexByte(body, '\n')
	var first string
	if nl < 0 {
		first = body
	} else {
		first = body[:nl]
	}
	if !strings.HasPrefix(first, "# ") {
		return body
	}
	offset := len(first) + 1
	if offset >= len(body) {
		return ""
	}
	return body[offset:]
}

func renderSummaryMD(t *toc.TOC) string {
	var md strings.Builder
	md.WriteString("# Summary\n\n")
	for _, part := range t.Parts {
		fmt.Fprintf(&md, "- %s\n", part.Title)
		for _, ch := range part.Chapters {
			fmt.Fprintf(&md, "  - [%s](chapters/%s.md)\n", ch.Title, ch.ID)
		}
	}
	return md.String()
}
