// Package crawl implements the bounded-BFS same-origin crawler (C2): a
// work queue seeded at the start URL, a fixed number of workers, a
// per-host delay between completed fetches, and a write-once snapshot of
// every fetch to raw/crawl.jsonl plus raw/html/<host>/<path>/index.html.
package crawl

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"golang.org/x/net/html"
	netatom "golang.org/x/net/html/atom"

	"github.com/sitebookify/sitebookify/horosafe"
	"github.com/sitebookify/sitebookify/urlnorm"
)

// RawFetch is one row of raw/crawl.jsonl: the outcome of one HTTP
// attempt against one canonical URL.
type RawFetch struct {
	URL           string `json:"url"`
	NormalizedURL string `json:"normalized_url"`
	Depth         int    `json:"depth"`
	Status        int    `json:"status"`
	ContentType   string `json:"content_type,omitempty"`
	RetrievedAt   string `json:"retrieved_at"`
	RawHTMLPath   string `json:"raw_html_path,omitempty"`
}

// Options configures one crawl run.
type Options struct {
	StartURL    string
	MaxPages    int
	MaxDepth    int
	Concurrency int
	DelayMS     int
	// OutDir is the raw/ directory; it must not already exist.
	OutDir string
	Logger *slog.Logger
	// URLValidator gates every URL before colly is asked to visit it.
	// Defaults to horosafe.ValidateURL. Tests against an httptest server
	// (which always listens on loopback) must override this, matching
	// hazyhaar-chrc/veille's WithURLValidator escape hatch.
	URLValidator func(string) error
}

// Result summarizes a completed crawl.
type Result struct {
	Fetches      []RawFetch
	VisitedCount int
}

const defaultUserAgent = "sitebookify-crawler/1"

type queueItem struct {
	url   string
	depth int
}

// crawler holds the mutable, per-run state the colly callbacks close
// over. It is process-local and scoped to a single Run call, matching
// the "visited set and queue are owned values of the crawler" design
// note.
type crawler struct {
	mu         sync.Mutex
	visited    map[string]bool
	discovered []queueItem
	fetches    []RawFetch

	start    string
	maxPages int
	maxDepth int
	htmlDir  string
	logFile  io.Writer
	logger   *slog.Logger
}

// Run executes the bounded BFS crawl described by opts, writing
// raw/crawl.jsonl and raw/html/** under opts.OutDir.
func Run(ctx context.Context, opts Options) (*Result, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	validate := opts.URLValidator
	if validate == nil {
		validate = horosafe.ValidateURL
	}

	start, err := urlnorm.Canonicalize(opts.StartURL)
	if err != nil {
		return nil, fmt.Errorf("crawl: start url: %w", err)
	}
	if err := validate(start); err != nil {
		return nil, fmt.Errorf("crawl: start url: %w", err)
	}

	htmlDir := filepath.Join(opts.OutDir, "html")
	if err := os.MkdirAll(htmlDir, 0o755); err != nil {
		return nil, fmt.Errorf("crawl: create raw dir: %w", err)
	}

	logPath := filepath.Join(opts.OutDir, "crawl.jsonl")
	logFile, err := os.OpenFile(logPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("crawl: crawl.jsonl already exists (snapshot write-once): %w", err)
	}
	defer logFile.Close()

	cr := &crawler{
		visited:  map[string]bool{start: true},
		start:    start,
		maxPages: opts.MaxPages,
		maxDepth: opts.MaxDepth,
		htmlDir:  htmlDir,
		logFile:  logFile,
		logger:   logger,
	}

	c := colly.NewCollector(
		colly.UserAgent(defaultUserAgent),
		colly.Async(true),
	)
	c.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: opts.Concurrency,
		Delay:       time.Duration(opts.DelayMS) * time.Millisecond,
	})
	c.OnResponse(cr.onResponse)
	c.OnError(cr.onError)

	queue := []queueItem{{url: start, depth: 0}}

	for len(queue) > 0 {
		select {
		case <-ctx.Done():
			return cr.result(), ctx.Err()
		default:
		}

		cr.mu.Lock()
		cr.discovered = nil
		cr.mu.Unlock()

		for _, item := range queue {
			if cr.budgetExhausted() {
				break
			}
			if err := validate(item.url); err != nil {
				logger.Warn("crawl: skipping unsafe url", "url", item.url, "error", err)
				continue
			}
			reqCtx := colly.NewContext()
			reqCtx.Put("depth", item.depth)
			if err := c.Request("GET", item.url, nil, reqCtx, nil); err != nil {
				logger.Warn("crawl: request enqueue failed", "url", item.url, "error", err)
			}
		}
		c.Wait()

		if cr.budgetExhausted() {
			break
		}

		cr.mu.Lock()
		queue = cr.discovered
		cr.mu.Unlock()
	}

	return cr.result(), nil
}

func (cr *crawler) result() *Result {
	cr.mu.Lock()
	defer cr.mu.Unlock()
	return &Result{Fetches: append([]RawFetch{}, cr.fetches...), VisitedCount: len(cr.visited)}
}

func (cr *crawler) budgetExhausted() bool {
	if cr.maxPages <= 0 {
		return false
	}
	cr.mu.Lock()
	defer cr.mu.Unlock()
	return len(cr.fetches) >= cr.maxPages
}

func (cr *crawler) onResponse(r *colly.Response) {
	depth := depthOf(r.Ctx)
	contentType := r.Headers.Get("Content-Type")
	fetch := cr.snapshot(r.Request.URL.String(), depth, r.StatusCode, contentType, r.Body)

	cr.mu.Lock()
	cr.fetches = append(cr.fetches, fetch)
	cr.mu.Unlock()
	cr.logFetch(fetch)

	if fetch.RawHTMLPath == "" {
		return
	}
	if depth+1 > cr.maxDepth {
		return
	}

	links := extractLinks(fetch.NormalizedURL, r.Body)
	cr.mu.Lock()
	for _, link := range links {
		if cr.maxPages > 0 && len(cr.visited) >= cr.maxPages {
			break
		}
		if !urlnorm.InScope(cr.start, link) || cr.visited[link] {
			continue
		}
		cr.visited[link] = true
		cr.discovered = append(cr.discovered, queueItem{url: link, depth: depth + 1})
	}
	cr.mu.Unlock()
}

func (cr *crawler) onError(r *colly.Response, reqErr error) {
	depth := depthOf(r.Ctx)
	status := 0
	if r != nil {
		status = r.StatusCode
	}
	fetch := RawFetch{
		URL:           r.Request.URL.String(),
		NormalizedURL: mustCanonical(r.Request.URL.String()),
		Depth:         depth,
		Status:        status,
		RetrievedAt:   time.Now().UTC().Format(time.RFC3339),
	}
	cr.mu.Lock()
	cr.fetches = append(cr.fetches, fetch)
	cr.mu.Unlock()
	cr.logFetch(fetch)
	cr.logger.Warn("crawl: fetch failed", "url", fetch.URL, "error", reqErr)
}

// snapshot builds the RawFetch row for one response and, if the body is
// HTML within limits, writes it to raw/html/... write-once.
func (cr *crawler) snapshot(requestURL string, depth, status int, contentType string, body []byte) RawFetch {
	normalized := mustCanonical(requestURL)
	fetch := RawFetch{
		URL:           requestURL,
		NormalizedURL: normalized,
		Depth:         depth,
		Status:        status,
		ContentType:   contentType,
		RetrievedAt:   time.Now().UTC().Format(time.RFC3339),
	}

	if status < 200 || status >= 300 || !strings.HasPrefix(strings.ToLower(contentType), "text/html") {
		return fetch
	}

	path, err := writeHTMLSnapshot(normalized, body, cr.htmlDir)
	if err != nil {
		cr.logger.Warn("crawl: failed to write html snapshot", "url", normalized, "error", err)
		return fetch
	}
	fetch.RawHTMLPath = path
	return fetch
}

func (cr *crawler) logFetch(fetch RawFetch) {
	data, err := json.Marshal(fetch)
	if err != nil {
		cr.logger.Warn("crawl: failed to marshal fetch log row", "error", err)
		return
	}
	data = append(data, '\n')
	cr.mu.Lock()
	defer cr.mu.Unlock()
	if _, err := cr.logFile.Write(data); err != nil {
		cr.logger.Warn("crawl: failed to write fetch log row", "error", err)
	}
}

func depthOf(ctx *colly.Context) int {
	if ctx == nil {
		return 0
	}
	if v := ctx.GetAny("depth"); v != nil {
		return v.(int)
	}
	return 0
}

func mustCanonical(raw string) string {
	n, err := urlnorm.Canonicalize(raw)
	if err != nil {
		return raw
	}
	return n
}

// writeHTMLSnapshot writes body to raw/html/<host>/<path>/index.html,
// failing if the file already exists (write-once snapshot discipline).
func writeHTMLSnapshot(normalizedURL string, body []byte, htmlDir string) (string, error) {
	host, err := urlnorm.FilesystemHost(normalizedURL)
	if err != nil {
		return "", err
	}
	p, err := urlnorm.Path(normalizedURL)
	if err != nil {
		return "", err
	}

	dir := filepath.Join(htmlDir, host, filepath.FromSlash(strings.TrimPrefix(p, "/")))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	outPath := filepath.Join(dir, "index.html")
	f, err := os.OpenFile(outPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("snapshot already exists: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(body); err != nil {
		return "", err
	}
	return outPath, nil
}

// extractLinks parses body as HTML and returns every canonicalized
// <a href> target resolved against pageURL.
func extractLinks(pageURL string, body []byte) []string {
	doc, err := html.Parse(strings.NewReader(string(body)))
	if err != nil {
		return nil
	}
	var links []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == netatom.A {
			for _, attr := range n.Attr {
				if attr.Key != "href" {
					continue
				}
				resolved, err := urlnorm.Resolve(pageURL, attr.Val)
				if err == nil {
					links = append(links, resolved)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return links
}
