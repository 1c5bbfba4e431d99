package book

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sitebookify/sitebookify/manifest"
	"github.com/sitebookify/sitebookify/toc"
)

func writeExtractedPage(t *testing.T, dir, id, url, title, body string) string {
	t.Helper()
	path := filepath.Join(dir, id+".md")
	content := "---\nid: " + id + "\nurl: " + url + "\n---\n\n" + body + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestRender_WritesSummaryAndChapterFiles(t *testing.T) {
	pagesDir := t.TempDir()
	p1 := writeExtractedPage(t, pagesDir, "p_1", "https://example.com/docs/intro", "Intro", "# Intro\n\nHello there.")
	p2 := writeExtractedPage(t, pagesDir, "p_2", "https://example.com/docs/advanced", "Advanced", "# Advanced\n\nMore detail.")

	records := []manifest.Record{
		{ID: "p_1", URL: "https://example.com/docs/intro", Title: "Intro", Path: "/docs/intro", ExtractedMD: p1},
		{ID: "p_2", URL: "https://example.com/docs/advanced", Title: "Advanced", Path: "/docs/advanced", ExtractedMD: p2},
	}
	tocDoc := &toc.TOC{BookTitle: "My Book", Parts: []toc.Part{{Title: "Docs", Chapters: []toc.Chapter{
		{ID: "ch01", Title: "Getting Started", Sources: []string{"p_1", "p_2"}},
	}}}}

	outDir := t.TempDir()
	err := Render(context.Background(), tocDoc, records, RenderOptions{OutDir: outDir})
	require.NoError(t, err)

	summary, err := os.ReadFile(filepath.Join(outDir, "src", "SUMMARY.md"))
	require.NoError(t, err)
	require.Contains(t, string(summary), "ch01.md")

	chapter, err := os.ReadFile(filepath.Join(outDir, "src", "chapters", "ch01.md"))
	require.NoError(t, err)
	require.Contains(t, string(chapter), "Hello there.")
	require.Contains(t, string(chapter), "More detail.")
	require.Contains(t, string(chapter), "## Sources")
	require.Contains(t, string(chapter), "https://example.com/docs/intro")
}

func TestRender_RewritesCrossChapterLink(t *testing.T) {
	pagesDir := t.TempDir()
	p1 := writeExtractedPage(t, pagesDir, "p_1", "https://example.com/a", "A", "# A\n\nSee [B](https://example.com/b).")
	p2 := writeExtractedPage(t, pagesDir, "p_2", "https://example.com/b", "B", "# B\n\nBody.")

	records := []manifest.Record{
		{ID: "p_1", URL: "https://example.com/a", Title: "A", Path: "/a", ExtractedMD: p1},
		{ID: "p_2", URL: "https://example.com/b", Title: "B", Path: "/b", ExtractedMD: p2},
	}
	tocDoc := &toc.TOC{BookTitle: "Book", Parts: []toc.Part{
		{Title: "Part A", Chapters: []toc.Chapter{{ID: "ch01", Title: "A", Sources: []string{"p_1"}}}},
		{Title: "Part B", Chapters: []toc.Chapter{{ID: "ch02", Title: "B", Sources: []string{"p_2"}}}},
	}}

	outDir := t.TempDir()
	require.NoError(t, Render(context.Background(), tocDoc, records, RenderOptions{OutDir: outDir}))

	ch01, err := os.ReadFile(filepath.Join(outDir, "src", "chapters", "ch01.md"))
	require.NoError(t, err)
	require.Contains(t, string(ch01), "ch02.md#p_2")
}

func TestDownloadImage_CachesAndWritesOnce(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte("fake-png-bytes"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	d, err := newAssetDownloader(dir, srv.Client())
	require.NoError(t, err)

	local1, err := d.DownloadImage(srv.URL + "/logo.png")
	require.NoError(t, err)
	local2, err := d.DownloadImage(srv.URL + "/logo.png")
	require.NoError(t, err)
	require.Equal(t, local1, local2)
	require.True(t, len(local1) > 0)
	require.Equal(t, int32(1), hits.Load(), "second call must be served from the cache")
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestInit_CreatesSkeleton(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Init(dir, "My Book"))

	_, err := os.Stat(filepath.Join(dir, "book.toml"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "src", "SUMMARY.md"))
	require.NoError(t, err)
}
