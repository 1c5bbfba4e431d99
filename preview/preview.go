// Package preview implements the Preview(url) RPC (C13): a
// non-authoritative structural estimate of a site, obtained by probing
// for a sitemap first and falling back to a bounded 1-hop link crawl.
// It is pure fetch-and-parse — no LLM call, no crawl workspace written.
package preview

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/sitebookify/sitebookify/extract"
	"github.com/sitebookify/sitebookify/horosafe"
	"github.com/sitebookify/sitebookify/urlnorm"
)

const (
	maxBodyBytes       int64 = 2 << 20
	maxSitemapLocs           = 20000
	maxSampleURLs            = 20
	maxLinksPerPage          = 200
	maxLinkCrawlDepth        = 2
	maxLinkCrawlPages        = 200
	defaultTokenPerCharIn    = 0.25
	defaultTokenPerCharOut   = 0.125
)

// Source names where the page list came from.
type Source string

const (
	SourceSitemap      Source = "sitemap"
	SourceSitemapIndex Source = "sitemap_index"
	SourceLinks        Source = "links"
)

// Chapter is a rough chapter grouping estimate (by first path segment,
// the grouping toc.Init uses for its parts; Init further splits each
// segment into one chapter per second path segment, so it can produce
// more chapters than the preview counts).
type Chapter struct {
	Title string `json:"title"`
	Pages int    `json:"pages"`
}

// Result is the full, non-authoritative estimate returned to callers.
type Result struct {
	Source             Source    `json:"source"`
	EstimatedPages     int       `json:"estimated_pages"`
	EstimatedChapters  int       `json:"estimated_chapters"`
	Chapters           []Chapter `json:"chapters"`
	SampleURLs         []string  `json:"sample_urls"`
	Notes              []string  `json:"notes"`
	TotalCharacters    uint64    `json:"total_characters"`
	EstInputTokensMin  uint64    `json:"estimated_input_tokens_min"`
	EstInputTokensMax  uint64    `json:"estimated_input_tokens_max"`
	EstOutputTokensMin uint64    `json:"estimated_output_tokens_min"`
	EstOutputTokensMax uint64    `json:"estimated_output_tokens_max"`
	PricingModel       string    `json:"pricing_model"`
}

// Preview estimates the size and structure of a site rooted at
// startURL without crawling it for real: sitemap.xml first (urlset or
// sitemapindex), else a bounded-depth, bounded-page link crawl from
// the start page.
func Preview(ctx context.Context, startURL string) (*Result, error) {
	u, err := url.Parse(startURL)
	if err != nil {
		return nil, fmt.Errorf("preview: invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("preview: url scheme must be http/https")
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("preview: url must include host")
	}
	if err := horosafe.ValidateURL(startURL); err != nil {
		return nil, fmt.Errorf("preview: %w", err)
	}

	client := &http.Client{Timeout: 10 * time.Second}

	res, err := previewFromSitemap(ctx, client, u)
	if err != nil || res == nil {
		res, err = previewFromLinks(ctx, client, u)
		if err != nil {
			return nil, fmt.Errorf("preview: %w", err)
		}
	}

	enrichWithEstimates(ctx, client, res)
	return res, nil
}

func previewFromSitemap(ctx context.Context, client *http.Client, start *url.URL) (*Result, error) {
	sitemapURL := withPath(start, "/sitemap.xml")
	body, err := fetchText(ctx, client, sitemapURL)
	if err != nil || body == "" {
		return nil, err
	}

	lower := strings.ToLower(body)
	switch {
	case strings.Contains(lower, "<sitemapindex"):
		return previewFromSitemapIndex(ctx, client, start, body)
	case strings.Contains(lower, "<urlset"):
		return previewFromURLSet(start, body, SourceSitemap)
	default:
		return nil, nil
	}
}

type sitemapURLSet struct {
	URLs []struct {
		Loc string `xml:"loc"`
	} `xml:"url"`
}

type sitemapIndex struct {
	Sitemaps []struct {
		Loc string `xml:"loc"`
	} `xml:"sitemap"`
}

func previewFromURLSet(start *url.URL, body string, source Source) (*Result, error) {
	var set sitemapURLSet
	if err := xml.Unmarshal([]byte(body), &set); err != nil {
		return nil, fmt.Errorf("parse sitemap urlset: %w", err)
	}
	var urls []string
	for _, u := range set.URLs {
		if urlnorm.InScope(start.String(), u.Loc) {
			urls = append(urls, u.Loc)
		}
		if len(urls) >= maxSitemapLocs {
			break
		}
	}
	return buildResult(source, urls), nil
}

func previewFromSitemapIndex(ctx context.Context, client *http.Client, start *url.URL, body string) (*Result, error) {
	var idx sitemapIndex
	if err := xml.Unmarshal([]byte(body), &idx); err != nil {
		return nil, fmt.Errorf("parse sitemap index: %w", err)
	}

	var urls []string
	const maxSubSitemaps = 5
	for i, sm := range idx.Sitemaps {
		if i >= maxSubSitemaps {
			break
		}
		sub, err := fetchText(ctx, client, sm.Loc)
		if err != nil || sub == "" {
			continue
		}
		var set sitemapURLSet
		if err := xml.Unmarshal([]byte(sub), &set); err != nil {
			continue
		}
		for _, u := range set.URLs {
			if urlnorm.InScope(start.String(), u.Loc) {
				urls = append(urls, u.Loc)
			}
		}
		if len(urls) >= maxSitemapLocs {
			break
		}
	}
	if len(urls) == 0 {
		return nil, nil
	}
	return buildResult(SourceSitemapIndex, urls), nil
}

// previewFromLinks performs a bounded BFS over same-origin links
// starting at start, up to maxLinkCrawlDepth hops and maxLinkCrawlPages
// pages — the fallback used whenever no usable sitemap is found.
func previewFromLinks(ctx context.Context, client *http.Client, start *url.URL) (*Result, error) {
	visited := map[string]bool{}
	type item struct {
		url   string
		depth int
	}
	startCanon, err := urlnorm.Canonicalize(start.String())
	if err != nil {
		return nil, fmt.Errorf("canonicalize start url: %w", err)
	}
	queue := []item{{url: startCanon, depth: 0}}
	visited[startCanon] = true
	var found []string

	for len(queue) > 0 && len(found) < maxLinkCrawlPages {
		cur := queue[0]
		queue = queue[1:]
		found = append(found, cur.url)

		if cur.depth >= maxLinkCrawlDepth {
			continue
		}
		body, err := fetchText(ctx, client, cur.url)
		if err != nil || body == "" {
			continue
		}
		links := extractLinks(cur.url, body)
		if len(links) > maxLinksPerPage {
			links = links[:maxLinksPerPage]
		}
		for _, l := range links {
			canon, err := urlnorm.Canonicalize(l)
			if err != nil || !urlnorm.InScope(startCanon, canon) || visited[canon] {
				continue
			}
			visited[canon] = true
			queue = append(queue, item{url: canon, depth: cur.depth + 1})
			if len(visited) >= maxLinkCrawlPages {
				break
			}
		}
	}
	return buildResult(SourceLinks, found), nil
}

func buildResult(source Source, urls []string) *Result {
	chapters := groupByFirstPathSegment(urls)
	sample := urls
	if len(sample) > maxSampleURLs {
		sample = sample[:maxSampleURLs]
	}
	return &Result{
		Source:            source,
		EstimatedPages:    len(urls),
		EstimatedChapters: len(chapters),
		Chapters:          chapters,
		SampleURLs:        sample,
		Notes:             nil,
	}
}

// groupByFirstPathSegment mirrors toc.Init's part grouping (first path
// segment); it does not split a segment into chapters the way Init does.
func groupByFirstPathSegment(urls []string) []Chapter {
	order := []string{}
	counts := map[string]int{}
	for _, raw := range urls {
		p, err := urlnorm.Path(raw)
		if err != nil {
			continue
		}
		seg := firstSegment(p)
		if _, ok := counts[seg]; !ok {
			order = append(order, seg)
		}
		counts[seg]++
	}
	chapters := make([]Chapter, 0, len(order))
	for _, seg := range order {
		title := seg
		if title == "" {
			title = "Home"
		}
		chapters = append(chapters, Chapter{Title: title, Pages: counts[seg]})
	}
	sort.SliceStable(chapters, func(i, j int) bool { return chapters[i].Pages > chapters[j].Pages })
	return chapters
}

func firstSegment(path string) string {
	trimmed := strings.TrimPrefix(path, "/")
	if trimmed == "" {
		return ""
	}
	if i := strings.IndexByte(trimmed, '/'); i >= 0 {
		return trimmed[:i]
	}
	return trimmed
}

// enrichWithEstimates samples up to maxSampleURLs pages, extracts
// readable text from each, and turns the aggregate character count
// into an input/output token range plus a pricing model label read
// from environment configuration (SITEBOOKIFY_PRICING_MODEL, falling
// back to SITEBOOKIFY_OPENAI_MODEL, then a fixed default).
func enrichWithEstimates(ctx context.Context, client *http.Client, res *Result) {
	res.PricingModel = pricingModel()

	tokenPerCharIn := envFloat("SITEBOOKIFY_PRICING_TOKEN_PER_CHAR_INPUT", defaultTokenPerCharIn)
	tokenPerCharOut := envFloat("SITEBOOKIFY_PRICING_TOKEN_PER_CHAR_OUTPUT", defaultTokenPerCharOut)

	var totalChars uint64
	failed := 0
	for _, sampleURL := range res.SampleURLs {
		body, err := fetchText(ctx, client, sampleURL)
		if err != nil || body == "" {
			failed++
			continue
		}
		r, err := extract.Extract(body, sampleURL, "", extract.Options{})
		if err != nil {
			failed++
			continue
		}
		totalChars += uint64(len(r.Text))
	}
	if failed > 0 {
		res.Notes = append(res.Notes, fmt.Sprintf("character estimate: failed to sample %d pages", failed))
	}

	res.TotalCharacters = totalChars
	scale := float64(res.EstimatedPages)
	if len(res.SampleURLs) > 0 {
		scale = scale / float64(len(res.SampleURLs))
	}
	projectedChars := float64(totalChars) * scale

	minRatio, maxRatio := 0.85, 1.15
	inputTokens := projectedChars * tokenPerCharIn
	outputTokens := projectedChars * tokenPerCharOut
	res.EstInputTokensMin = uint64(inputTokens * minRatio)
	res.EstInputTokensMax = uint64(inputTokens * maxRatio)
	res.EstOutputTokensMin = uint64(outputTokens * minRatio)
	res.EstOutputTokensMax = uint64(outputTokens * maxRatio)
}

func pricingModel() string {
	for _, key := range []string{"SITEBOOKIFY_PRICING_MODEL", "SITEBOOKIFY_OPENAI_MODEL"} {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			return v
		}
	}
	return "gpt-5.2"
}

func envFloat(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		return def
	}
	return f
}

func withPath(u *url.URL, path string) string {
	cp := *u
	cp.Path = path
	cp.RawQuery = ""
	cp.Fragment = ""
	return cp.String()
}

func fetchText(ctx context.Context, client *http.Client, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", nil
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", nil
	}
	data, err := horosafe.LimitedReadAll(resp.Body, maxBodyBytes)
	if err != nil {
		return "", nil
	}
	return string(data), nil
}

// extractLinks parses body as HTML and returns every <a href> target
// resolved against pageURL, mirroring crawl's own (unexported) link
// extraction since preview has no crawl workspace to share it through.
func extractLinks(pageURL, body string) []string {
	doc, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return nil
	}
	var links []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.A {
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
