// Package urlnorm implements canonical URL normalization and same-origin
// scope checks, the foundation every other sitebookify stage builds page
// identity on: a page's id is a pure function of its canonical URL.
package urlnorm

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
)

// ErrUnsupportedScheme is returned for any URL whose scheme is not http
// or https.
var ErrUnsupportedScheme = errors.New("urlnorm: unsupported scheme")

// Canonicalize returns the canonical form of rawURL: lowercase scheme and
// host, fragment and query stripped, path dot-segments collapsed, and
// any trailing slash removed unless the path is the bare root "/".
func Canonicalize(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("urlnorm: parse %q: %w", rawURL, err)
	}
	return canonicalizeParsed(u)
}

// Resolve canonicalizes ref as resolved against the canonical URL base
// (e.g. a relative link found on a fetched page).
func Resolve(base, ref string) (string, error) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("urlnorm: parse base %q: %w", base, err)
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("urlnorm: parse ref %q: %w", ref, err)
	}
	resolved := baseURL.ResolveReference(refURL)
	return canonicalizeParsed(resolved)
}

func canonicalizeParsed(u *url.URL) (string, error) {
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", fmt.Errorf("urlnorm: %q: %w", u.Scheme, ErrUnsupportedScheme)
	}

	host := strings.ToLower(u.Host)
	p := u.EscapedPath()
	if p == "" {
		p = "/"
	} else {
		p = path.Clean(p)
		if !strings.HasPrefix(p, "/") {
			p = "/" + p
		}
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimSuffix(p, "/")
	}

	out := url.URL{Scheme: scheme, Host: host, Path: p}
	return out.String(), nil
}

// InScope reports whether candidate is same-origin with and at or below
// start's canonical path. Both arguments must already be canonical (as
// returned by Canonicalize); callers typically canonicalize once on
// crawl start and reuse that value for every InScope check.
func InScope(start, candidate string) bool {
	su, err := url.Parse(start)
	if err != nil {
		return false
	}
	cu, err := url.Parse(candidate)
	if err != nil {
		return false
	}
	if !strings.EqualFold(su.Scheme, cu.Scheme) || !strings.EqualFold(su.Host, cu.Host) {
		return false
	}

	startPath := su.Path
	if startPath == "" {
		startPath = "/"
	}
	candPath := cu.Path
	if candPath == "" {
		candPath = "/"
	}

	if candPath == startPath {
		return true
	}
	prefix := startPath
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return strings.HasPrefix(candPath, prefix)
}

// PageID returns the content-addressed page identifier for a canonical
// URL: "p_" followed by the hex sha256 digest of normalizedURL.
func PageID(normalizedURL string) string {
	sum := sha256.Sum256([]byte(normalizedURL))
	return "p_" + hex.EncodeToString(sum[:])
}

// FilesystemHost returns the host[:port] component of a canonical URL in
// its filesystem-safe form (":" replaced with "_"), used to lay out
// raw/html/<host_or_host_port>/... paths.
func FilesystemHost(normalizedURL string) (string, error) {
	u, err := url.Parse(normalizedURL)
	if err != nil {
		return "", fmt.Errorf("urlnorm: parse %q: %w", normalizedURL, err)
	}
	return strings.ReplaceAll(u.Host, ":", "_"), nil
}

// Path returns the path component of a canonical URL.
func Path(normalizedURL string) (string, error) {
	u, err := url.Parse(normalizedURL)
	if err != nil {
		return "", fmt.Errorf("urlnorm: parse %q: %w", normalizedURL, err)
	}
	if u.Path == "" {
		return "/", nil
	}
	return u.Path, nil
}
