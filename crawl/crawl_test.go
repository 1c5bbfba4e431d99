package crawl

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func fourPageSite() *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/docs/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><body><a href="/docs/intro">intro</a></body></html>`))
	})
	mux.HandleFunc("/docs/intro", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><body>
			<a href="/docs/advanced?x=1">advanced</a>
			<a href="/docs/advanced#section">advanced again</a>
		</body></html>`))
	})
	mux.HandleFunc("/docs/advanced", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><body><a href="/docs/faq">faq</a></body></html>`))
	})
	mux.HandleFunc("/docs/faq", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><body>no more links</body></html>`))
	})
	return httptest.NewServer(mux)
}

// allowAny is a URLValidator that accepts any URL, standing in for
// horosafe.ValidateURL in tests that crawl an httptest server (always
// bound to loopback, which the real validator rejects as SSRF).
func allowAny(string) error { return nil }

func TestRun_FourPageSite(t *testing.T) {
	srv := fourPageSite()
	defer srv.Close()

	outDir := filepath.Join(t.TempDir(), "raw")
	res, err := Run(context.Background(), Options{
		StartURL:     srv.URL + "/docs/",
		MaxPages:     10,
		MaxDepth:     5,
		Concurrency:  2,
		DelayMS:      0,
		OutDir:       outDir,
		URLValidator: allowAny,
	})
	require.NoError(t, err)

	htmlFetches := 0
	for _, f := range res.Fetches {
		if f.RawHTMLPath != "" {
			htmlFetches++
			require.FileExists(t, f.RawHTMLPath)
		}
	}
	require.Equal(t, 4, htmlFetches, "expected exactly 4 distinct pages fetched")

	_, err = os.Stat(filepath.Join(outDir, "crawl.jsonl"))
	require.NoError(t, err)
}

func TestRun_SnapshotWriteOnce(t *testing.T) {
	srv := fourPageSite()
	defer srv.Close()

	outDir := filepath.Join(t.TempDir(), "raw")
	_, err := Run(context.Background(), Options{
		StartURL:     srv.URL + "/docs/",
		MaxPages:     10,
		MaxDepth:     5,
		OutDir:       outDir,
		URLValidator: allowAny,
	})
	require.NoError(t, err)

	_, err = Run(context.Background(), Options{
		StartURL:     srv.URL + "/docs/",
		MaxPages:     10,
		MaxDepth:     5,
		OutDir:       outDir,
		URLValidator: allowAny,
	})
	require.Error(t, err, "rerunning into the same raw dir must fail")
}

func TestRun_RejectsLoopbackStartURLByDefault(t *testing.T) {
	outDir := filepath.Join(t.TempDir(), "raw")
	_, err := Run(context.Background(), Options{
		StartURL: "http://127.0.0.1:1/docs/",
		MaxPages: 10,
		MaxDepth: 5,
		OutDir:   outDir,
	})
	require.Error(t, err, "default URLValidator must reject loopback targets")
}
