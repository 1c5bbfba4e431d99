package bundle

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func setupBook(t *testing.T) string {
	t.Helper()
	bookDir := t.TempDir()
	srcDir := filepath.Join(bookDir, "src")
	chaptersDir := filepath.Join(srcDir, "chapters")
	require.NoError(t, os.MkdirAll(chaptersDir, 0o755))

	require.NoError(t, os.WriteFile(filepath.Join(bookDir, "book.toml"), []byte("[book]\ntitle = \"My Book\"\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "SUMMARY.md"), []byte(
		"# Summary\n\n- Part One\n  - [Chapter 1](chapters/ch01.md)\n  - [Chapter 2](chapters/ch02.md)\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(chaptersDir, "ch01.md"), []byte(
		"# Chapter 1\n\n<a id=\"p_1\"></a>\nSee [chapter two](ch02.md#p_2) and ![img](../assets/img_x.png).\n\n## Sources\n- https://example.com/a\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(chaptersDir, "ch02.md"), []byte(
		"# Chapter 2\n\n<a id=\"p_2\"></a>\nBody two.\n\n## Sources\n- https://example.com/b\n"), 0o644))

	assetsDir := filepath.Join(srcDir, "assets")
	require.NoError(t, os.MkdirAll(assetsDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(assetsDir, "img_x.png"), []byte("fake-bytes"), 0o644))

	return bookDir
}

func TestBundle_ConcatenatesChaptersInSummaryOrder(t *testing.T) {
	bookDir := setupBook(t)
	outPath := filepath.Join(t.TempDir(), "book.md")

	require.NoError(t, Bundle(Options{BookDir: bookDir, OutPath: outPath}))

	data, err := os.ReadFile(outPath)
	require.NoError(t, err)
	content := string(data)
	require.Contains(t, content, "# My Book")
	require.Contains(t, content, "Chapter 1")
	require.Contains(t, content, "Chapter 2")
	require.Less(t, indexOf(content, "Chapter 1"), indexOf(content, "Chapter 2"))
}

func TestBundle_RewritesCrossChapterLinkToLocalAnchor(t *testing.T) {
	bookDir := setupBook(t)
	outPath := filepath.Join(t.TempDir(), "book.md")

	require.NoError(t, Bundle(Options{BookDir: bookDir, OutPath: outPath}))

	data, err := os.ReadFile(outPath)
	require.NoError(t, err)
	require.Contains(t, string(data), "(#p_2)")
	require.NotContains(t, string(data), "ch02.md#p_2")
}

func TestBundle_CopiesAssetsAndRewritesPath(t *testing.T) {
	bookDir := setupBook(t)
	outDir := t.TempDir()
	outPath := filepath.Join(outDir, "book.md")

	require.NoError(t, Bundle(Options{BookDir: bookDir, OutPath: outPath}))

	_, err := os.Stat(filepath.Join(outDir, "assets", "img_x.png"))
	require.NoError(t, err)

	data, err := os.ReadFile(outPath)
	require.NoError(t, err)
	require.Contains(t, string(data), "assets/img_x.png")
	require.NotContains(t, string(data), "../assets/")
}

func TestBundle_RefusesOverwriteWithoutForce(t *testing.T) {
	bookDir := setupBook(t)
	outPath := filepath.Join(t.TempDir(), "book.md")

	require.NoError(t, Bundle(Options{BookDir: bookDir, OutPath: outPath}))
	require.Error(t, Bundle(Options{BookDir: bookDir, OutPath: outPath}))
	require.NoError(t, Bundle(Options{BookDir: bookDir, OutPath: outPath, Force: true}))
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}
