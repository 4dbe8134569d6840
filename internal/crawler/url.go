package crawler

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// NormalizeURL standardizes a URL to avoid duplicates.
// It lowercases the scheme and host, removes default ports, sorts query parameters
// and drops tracking parameters, the fragment and any trailing slash.
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("parse url: %q is not absolute", rawURL)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	if u.Scheme == "http" && strings.HasSuffix(u.Host, ":80") {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" && strings.HasSuffix(u.Host, ":443") {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	u.Fragment = ""
	u.RawFragment = ""

	q := u.Query()
	for key := range q {
		if strings.HasPrefix(strings.ToLower(key), "utm_") {
			q.Del(key)
		}
	}
	u.RawQuery = q.Encode()

	u.Path = strings.TrimRight(u.Path, "/")
	u.RawPath = ""

	return u.String(), nil
}

// Resolve makes href absolute against base and normalizes the result.
// Non-http(s) links such as mailto: and javascript: are rejected.
func Resolve(base, href string) (string, error) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return "", fmt.Errorf("resolve %q: empty or fragment-only link", href)
	}
	b, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base: %w", err)
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", fmt.Errorf("parse href: %w", err)
	}
	abs := b.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return "", fmt.Errorf("resolve %q: unsupported scheme %q", href, abs.Scheme)
	}
	return NormalizeURL(abs.String())
}

// URLFilter decides whether a normalized URL belongs to the crawl.
type URLFilter struct {
	hosts    map[string]struct{}
	excludes []string
}

// NewURLFilter builds a filter. An empty host list allows every host.
// Exclude patterns are doublestar globs matched against the URL path without its leading slash.
func NewURLFilter(allowedHosts, excludePatterns []string) (*URLFilter, error) {
	f := &URLFilter{hosts: make(map[string]struct{}, len(allowedHosts))}
	for _, h := range allowedHosts {
		h = strings.ToLower(strings.TrimSpace(h))
		if h != "" {
			f.hosts[h] = struct{}{}
		}
	}
	for _, p := range excludePatterns {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid exclude pattern %q", p)
		}
		f.excludes = append(f.excludes, p)
	}
	return f, nil
}

// Allow reports whether the URL passes the host allowlist and no exclude pattern matches.
func (f *URLFilter) Allow(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	if len(f.hosts) > 0 {
		if _, ok := f.hosts[strings.ToLower(u.Hostname())]; !ok {
			return false
		}
	}
	path := strings.TrimPrefix(u.Path, "/")
	for _, p := range f.excludes {
		if ok, _ := doublestar.Match(p, path); ok {
			return false
		}
	}
	return true
}
