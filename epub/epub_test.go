package epub

import (
	"archive/zip"
	"io"
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
		"# Summary\n\n- [Chapter 1](chapters/ch01.md)\n- [Chapter 2](chapters/ch02.md)\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(chaptersDir, "ch01.md"), []byte(
		"# Chapter 1\n\nSee [chapter two](ch02.md#p_2) and ![img](../assets/img_x.png).\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(chaptersDir, "ch02.md"), []byte(
		"# Chapter 2\n\nBody two.\n"), 0o644))

	assetsDir := filepath.Join(srcDir, "assets")
	require.NoError(t, os.MkdirAll(assetsDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(assetsDir, "img_x.png"), []byte("fake-bytes"), 0o644))

	return bookDir
}

func readZipEntry(t *testing.T, zr *zip.Reader, name string) string {
	t.Helper()
	for _, f := range zr.File {
		if f.Name == name {
			r, err := f.Open()
			require.NoError(t, err)
			defer r.Close()
			data, err := io.ReadAll(r)
			require.NoError(t, err)
			return string(data)
		}
	}
	t.Fatalf("zip entry not found: %s", name)
	return ""
}

func TestCreate_ProducesValidZipWithRequiredEntries(t *testing.T) {
	bookDir := setupBook(t)
	outPath := filepath.Join(t.TempDir(), "book.epub")

	require.NoError(t, Create(CreateOptions{BookDir: bookDir, OutPath: outPath, Lang: "en"}))

	zr, err := zip.OpenReader(outPath)
	require.NoError(t, err)
	defer zr.Close()

	require.Equal(t, "mimetype", zr.File[0].Name)
	require.Equal(t, zip.Store, zr.File[0].Method)

	names := make(map[string]bool)
	for _, f := range zr.File {
		names[f.Name] = true
	}
	for _, want := range []string{
		"mimetype", "META-INF/container.xml", "OEBPS/content.opf",
		"OEBPS/nav.xhtml", "OEBPS/toc.ncx", "OEBPS/style.css",
		"OEBPS/ch01.xhtml", "OEBPS/ch02.xhtml", "OEBPS/assets/img_x.png",
	} {
		require.True(t, names[want], "missing entry %s", want)
	}
}

func TestCreate_RewritesChapterAndAssetLinks(t *testing.T) {
	bookDir := setupBook(t)
	outPath := filepath.Join(t.TempDir(), "book.epub")
	require.NoError(t, Create(CreateOptions{BookDir: bookDir, OutPath: outPath, Lang: "en"}))

	zr, err := zip.OpenReader(outPath)
	require.NoError(t, err)
	defer zr.Close()

	ch01 := readZipEntry(t, &zr.Reader, "OEBPS/ch01.xhtml")
	require.Contains(t, ch01, "ch02.xhtml")
	require.Contains(t, ch01, "assets/img_x.png")
	require.NotContains(t, ch01, "../assets/")
}

func TestCreate_RefusesOverwriteWithoutForce(t *testing.T) {
	bookDir := setupBook(t)
	outPath := filepath.Join(t.TempDir(), "book.epub")
	require.NoError(t, Create(CreateOptions{BookDir: bookDir, OutPath: outPath}))
	require.Error(t, Create(CreateOptions{BookDir: bookDir, OutPath: outPath}))
	require.NoError(t, Create(CreateOptions{BookDir: bookDir, OutPath: outPath, Force: true}))
}

func TestEnsureXHTMLVoidTags_SelfClosesVoidElements(t *testing.T) {
	out := ensureXHTMLVoidTags(`<p>日本語のテスト</p><img src="x.png">`)
	require.Contains(t, out, "日本語のテスト")
	require.Contains(t, out, `<img src="x.png" />`)
}

func TestGuessLangTag(t *testing.T) {
	require.Equal(t, "und", GuessLangTag(""))
	require.Equal(t, "en", GuessLangTag("english"))
	require.Equal(t, "ja", GuessLangTag("japanese"))
	require.Equal(t, "en-US", GuessLangTag("en-US"))
}
