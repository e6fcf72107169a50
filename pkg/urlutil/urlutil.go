// Package urlutil provides URL resolution helpers for manifest rewriting.
package urlutil

import (
	"net/url"
	"strings"
)

// Resolve resolves a potentially relative media reference against the URL of
// the manifest it appeared in, per RFC 3986:
//   - absolute references (with a scheme) are returned unchanged
//   - rooted references (/path) resolve against the base origin
//   - anything else resolves relative to the base path
//
// Malformed input degrades to returning the reference unchanged, so a broken
// line never aborts the rewrite of the rest of the manifest.
func Resolve(reference, base string) string {
	if IsAbsolute(reference) {
		return reference
	}

	baseURL, err := url.Parse(base)
	if err != nil || !baseURL.IsAbs() {
		return reference
	}

	ref, err := url.Parse(reference)
	if err != nil {
		return reference
	}

	return baseURL.ResolveReference(ref).String()
}

// IsAbsolute reports whether the reference carries an explicit http(s) scheme.
func IsAbsolute(reference string) bool {
	return strings.HasPrefix(reference, "http://") || strings.HasPrefix(reference, "https://")
}

// Origin extracts scheme://host from a URL, or "" if it cannot be parsed.
func Origin(urlStr string) string {
	parsed, err := url.Parse(urlStr)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return ""
	}
	return parsed.Scheme + "://" + parsed.Host
}

// PathWithoutQuery strips the query string from a URL. Extension checks need
// this so ".m3u8?token=x" still counts as a manifest path.
func PathWithoutQuery(urlStr string) string {
	if idx := strings.Index(urlStr, "?"); idx >= 0 {
		return urlStr[:idx]
	}
	return urlStr
}
