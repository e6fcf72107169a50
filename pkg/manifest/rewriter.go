// Package manifest implements streaming HLS playlist rewriting.
//
// A LineTransform consumes a playlist body as arbitrary byte chunks and
// rewrites every media reference into a proxy-routed URL, leaving protocol
// tags untouched. It never buffers more than one incomplete line, so large
// media playlists stream through with constant memory.
package manifest

import (
	"io"
	"net/url"
	"regexp"
	"strings"

	"kumo-stream-go/pkg/urlutil"
)

// StaticExtensions lists file types that are relayed without rewriting.
// Segments and companion assets referenced by playlists fall in here;
// .m3u8 is deliberately absent since nested playlists must be rewritten.
var StaticExtensions = []string{
	".ts",
	".png",
	".jpg",
	".webp",
	".ico",
	".html",
	".js",
	".css",
	".txt",
}

// IsStaticURL reports whether the target ends in a known static extension.
func IsStaticURL(urlStr string) bool {
	for _, ext := range StaticExtensions {
		if strings.HasSuffix(urlStr, ext) {
			return true
		}
	}
	return false
}

// IsManifestURL reports whether the target path (query ignored) names an HLS
// playlist.
func IsManifestURL(urlStr string) bool {
	return strings.HasSuffix(urlutil.PathWithoutQuery(urlStr), ".m3u8")
}

var uriAttrRe = regexp.MustCompile(`URI="([^"]+)"`)

// LineTransform rewrites one playlist body. It holds the carry-over buffer
// for incomplete trailing lines between chunks, so a fresh instance is
// required per manifest.
type LineTransform struct {
	w           io.Writer
	manifestURL string
	referer     string
	proxyPath   string
	buf         string
}

// NewLineTransform returns a transform writing rewritten lines to w.
// manifestURL is the absolute URL of the playlist being rewritten; referer,
// when non-empty, is carried into every rewritten child URL so nested
// fetches keep the spoofed identity. proxyPath is the local proxy endpoint,
// e.g. "/proxy".
func NewLineTransform(w io.Writer, manifestURL, referer, proxyPath string) *LineTransform {
	return &LineTransform{
		w:           w,
		manifestURL: manifestURL,
		referer:     referer,
		proxyPath:   proxyPath,
	}
}

// Write consumes the next chunk of the playlist body. Chunks need not align
// on line boundaries.
func (t *LineTransform) Write(p []byte) (int, error) {
	data := t.buf + string(p)
	lines := splitLines(data)
	t.buf = lines[len(lines)-1]

	for _, line := range lines[:len(lines)-1] {
		if _, err := io.WriteString(t.w, t.processLine(line)+"\n"); err != nil {
			return 0, err
		}
	}
	return len(p), nil
}

// Flush processes any carried-over final line that arrived without a
// trailing terminator. Must be called once at end of stream.
func (t *LineTransform) Flush() error {
	if t.buf == "" {
		return nil
	}
	line := t.buf
	t.buf = ""
	_, err := io.WriteString(t.w, t.processLine(line))
	return err
}

// splitLines splits on \r?\n, keeping the (possibly empty) trailing fragment
// as the last element.
func splitLines(data string) []string {
	lines := strings.Split(data, "\n")
	for i := 0; i < len(lines)-1; i++ {
		lines[i] = strings.TrimSuffix(lines[i], "\r")
	}
	return lines
}

// processLine classifies and rewrites a single logical line. Classification
// is stateless: tags carrying URI="..." attributes get every quoted value
// replaced, other tags and comments pass through byte-identical, and bare
// references are proxied when they look like media URLs.
func (t *LineTransform) processLine(line string) string {
	trimmed := strings.TrimSpace(line)

	// URI attributes appear in tags like #EXT-X-MEDIA, #EXT-X-KEY and
	// #EXT-X-I-FRAME-STREAM-INF; a line may carry more than one.
	if strings.Contains(line, `URI="`) {
		return uriAttrRe.ReplaceAllStringFunc(line, func(match string) string {
			uri := match[len(`URI="`) : len(match)-1]
			return `URI="` + t.proxyURL(uri) + `"`
		})
	}

	if strings.HasPrefix(trimmed, "#") {
		return line
	}

	if trimmed == "" {
		return line
	}

	// Bare reference: proxy anything that names a playlist, a segment, a
	// known static asset, or is already absolute. Unknown lines pass
	// through rather than risk corrupting the manifest.
	if strings.HasSuffix(trimmed, ".m3u8") ||
		IsStaticURL(trimmed) ||
		strings.HasPrefix(trimmed, "http") {
		return t.proxyURL(trimmed)
	}

	return line
}

// proxyURL resolves a reference against the manifest URL and routes it
// through the proxy endpoint.
func (t *LineTransform) proxyURL(reference string) string {
	absolute := urlutil.Resolve(reference, t.manifestURL)
	proxied := t.proxyPath + "?url=" + url.QueryEscape(absolute)
	if t.referer != "" {
		proxied += "&referer=" + url.QueryEscape(t.referer)
	}
	return proxied
}
