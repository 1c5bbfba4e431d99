package book

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// assetDownloader fetches images referenced from extracted pages into
// book/src/assets, deduplicating by the image's canonical URL and
// naming files by content-URL hash so repeated renders are stable.
type assetDownloader struct {
	client    *http.Client
	assetsDir string
	mu        sync.Mutex
	cache     map[string]string
}

func newAssetDownloader(assetsDir string, client *http.Client) (*assetDownloader, error) {
	if err := os.MkdirAll(assetsDir, 0o755); err != nil {
		return nil, fmt.Errorf("book: create assets dir: %w", err)
	}
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &assetDownloader{client: client, assetsDir: assetsDir, cache: make(map[string]string)}, nil
}

// DownloadImage fetches rawURL (if not already cached) into assetsDir
// and returns the chapter-relative path ("../assets/<name>") to use in
// rewritten Markdown. A download failure is returned to the caller,
// which falls back to the original URL rather than failing the whole
// chapter.
func (d *assetDownloader) DownloadImage(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("book: parse asset url: %w", err)
	}
	key := normalizeAssetURLKey(u)

	d.mu.Lock()
	if cached, ok := d.cache[key]; ok {
		d.mu.Unlock()
		return cached, nil
	}
	d.mu.Unlock()

	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("book: unsupported asset url scheme: %s", u.Scheme)
	}

	hash := sha256Hex(key)
	ext := imageExtensionFromPath(u.Path)

	if ext != "" {
		fileName := fmt.Sprintf("img_%s.%s", hash, ext)
		local := "../assets/" + fileName
		destPath := filepath.Join(d.assetsDir, fileName)
		if _, err := os.Stat(destPath); err == nil {
			d.remember(key, local)
			return local, nil
		}
		if err := d.downloadTo(u, destPath); err != nil {
			return "", fmt.Errorf("book: download image %s: %w", u, err)
		}
		d.remember(key, local)
		return local, nil
	}

	resp, err := d.client.Get(u.String())
	if err != nil {
		return "", fmt.Errorf("book: GET %s: %w", u, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("book: asset download failed (%d)", resp.StatusCode)
	}

	ext = imageExtensionFromContentType(resp.Header.Get("Content-Type"))
	if ext == "" {
		ext = "bin"
	}
	fileName := fmt.Sprintf("img_%s.%s", hash, ext)
	local := "../assets/" + fileName
	destPath := filepath.Join(d.assetsDir, fileName)
	if _, err := os.Stat(destPath); err == nil {
		d.remember(key, local)
		return local, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return "", fmt.Errorf("book: read asset body: %w", err)
	}
	if err := writeFileIfMissing(destPath, body); err != nil {
		return "", err
	}
	d.remember(key, local)
	return local, nil
}

func (d *assetDownloader) downloadTo(u *url.URL, destPath string) error {
	resp, err := d.client.Get(u.String())
	if err != nil {
		return fmt.Errorf("GET %s: %w", u, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("asset download failed (%d)", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return fmt.Errorf("read asset body: %w", err)
	}
	if len(body) == 0 {
		return fmt.Errorf("asset download returned empty body")
	}
	return writeFileIfMissing(destPath, body)
}

func (d *assetDownloader) remember(key, local string) {
	d.mu.Lock()
	d.cache[key] = local
	d.mu.Unlock()
}

func normalizeAssetURLKey(u *url.URL) string {
	normalized := *u
	normalized.Fragment = ""
	return normalized.String()
}

func sha256Hex(input string) string {
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}

func imageExtensionFromPath(p string) string {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(p), "."))
	switch ext {
	case "png", "jpg", "gif", "svg", "webp", "avif", "bmp":
		return ext
	case "jpeg":
		return "jpg"
	default:
		return ""
	}
}

func imageExtensionFromContentType(contentType string) string {
	mime := strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	switch mime {
	case "image/png":
		return "png"
	case "image/jpeg":
		return "jpg"
	case "image/gif":
		return "gif"
	case "image/svg+xml":
		return "svg"
	case "image/webp":
		return "webp"
	case "image/avif":
		return "avif"
	case "image/bmp":
		return "bmp"
	default:
		return ""
	}
}

func writeFileIfMissing(destPath string, data []byte) error {
	if _, err := os.Stat(destPath); err == nil {
		return nil
	}
	if dir := filepath.Dir(destPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("book: create asset dir: %w", err)
		}
	}
	f, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil
		}
		return fmt.Errorf("book: write asset: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("book: write asset: %w", err)
	}
	return nil
}
