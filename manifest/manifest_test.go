package manifest

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sitebookify/sitebookify/extract"
)

func writeTestPage(t *testing.T, dir string, id, url, title string) {
	t.Helper()
	_, err := extract.WritePage(dir, &extract.Page{
		ID:          id,
		URL:         url,
		RetrievedAt: "2026-01-01T00:00:00Z",
		RawHTMLPath: "raw/html/example.com/index.html",
		Title:       title,
		Body:        "# " + title + "\n\nbody text\n",
	})
	require.NoError(t, err)
}

func TestBuild_SortedByID(t *testing.T) {
	dir := t.TempDir()
	writeTestPage(t, dir, "p_b", "https://example.com/b", "B")
	writeTestPage(t, dir, "p_a", "https://example.com/a", "A")

	records, err := Build(dir)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, "p_a", records[0].ID)
	require.Equal(t, "p_b", records[1].ID)
}

func TestWrite_RefusesOverwrite(t *testing.T) {
	dir := t.TempDir()
	writeTestPage(t, dir, "p_a", "https://example.com/a", "A")
	records, err := Build(dir)
	require.NoError(t, err)

	out := filepath.Join(t.TempDir(), "manifest.jsonl")
	require.NoError(t, Write(out, records))
	require.Error(t, Write(out, records))
}

func TestWriteRead_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	writeTestPage(t, dir, "p_a", "https://example.com/a", "A")
	records, err := Build(dir)
	require.NoError(t, err)

	out := filepath.Join(t.TempDir(), "manifest.jsonl")
	require.NoError(t, Write(out, records))

	got, err := Read(out)
	require.NoError(t, err)
	require.Equal(t, records, got)
}
