// Package proxy implements the streaming proxy endpoint.
//
// The endpoint fetches an upstream resource under a spoofed first-party
// identity and relays it to the caller. Playlists are rewritten in flight so
// every nested reference routes back through this same endpoint; everything
// else streams through untouched.
package proxy

import (
	"encoding/json"
	"io"
	"net/http"

	"kumo-stream-go/pkg/logging"
	"kumo-stream-go/pkg/manifest"
	"kumo-stream-go/pkg/urlutil"
)

// Path is the local route the relay is mounted on. Rewritten manifest URLs
// reference it, so it is fixed rather than configurable.
const Path = "/proxy"

// Doer abstracts the outbound HTTP client.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Relay is the request-scoped, stateless proxy handler. One upstream fetch
// and one relay stream per inbound request; no state is shared between
// requests.
type Relay struct {
	client    Doer
	userAgent string
	log       *logging.Logger
}

// NewRelay creates the proxy handler.
func NewRelay(client Doer, userAgent string, log *logging.Logger) *Relay {
	return &Relay{
		client:    client,
		userAgent: userAgent,
		log:       log.WithComponent("proxy"),
	}
}

// ServeHTTP handles GET /proxy?url=<target>&referer=<optional>.
func (p *Relay) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	target := r.URL.Query().Get("url")
	refererOverride := r.URL.Query().Get("referer")

	if target == "" {
		writeJSONError(w, http.StatusBadRequest, "url is required")
		return
	}

	resp, err := p.fetch(r, target, refererOverride)
	if err != nil {
		// Upstream detail stays in the logs; the caller gets a generic
		// body so upstream infrastructure is not exposed.
		p.log.Error("upstream fetch failed", "url", target, "error", err)
		writeJSONError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		p.log.Error("upstream returned error status",
			"url", target,
			"status", resp.StatusCode,
			"status_text", http.StatusText(resp.StatusCode),
		)
		writeJSONError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	// Rewrite only playlists; segments, images, subtitles and the rest of
	// the static set take the pass-through fast path.
	rewriting := !manifest.IsStaticURL(target) && manifest.IsManifestURL(target)

	p.relayHeaders(w, resp, rewriting)
	w.WriteHeader(resp.StatusCode)

	if !rewriting {
		if _, err := io.Copy(w, resp.Body); err != nil {
			p.log.Debug("relay interrupted", "url", target, "error", err)
		}
		return
	}

	// The rewrite carries only the caller-supplied referer into child
	// URLs; a derived referer is re-derivable from each child's origin.
	tr := manifest.NewLineTransform(w, target, refererOverride, Path)
	if _, err := io.Copy(tr, resp.Body); err != nil {
		p.log.Debug("manifest relay interrupted", "url", target, "error", err)
		return
	}
	if err := tr.Flush(); err != nil {
		p.log.Debug("manifest flush failed", "url", target, "error", err)
	}
}

// fetch issues the upstream request under a spoofed browser identity. Many
// media hosts reject requests whose Referer does not match their own domain,
// so the referer falls back to the target's own origin when the caller did
// not supply one.
func (p *Relay) fetch(r *http.Request, target, refererOverride string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}

	origin := urlutil.Origin(target)
	referer := refererOverride
	if referer == "" && origin != "" {
		referer = origin + "/"
	}

	req.Header.Set("Accept", "*/*")
	req.Header.Set("User-Agent", p.userAgent)
	if referer != "" {
		req.Header.Set("Referer", referer)
	}
	if origin != "" {
		req.Header.Set("Origin", origin)
	}

	return p.client.Do(req)
}

// relayHeaders copies upstream response headers to the client, dropping
// Content-Length when the body is being rewritten (its length changes), and
// always applying permissive CORS for the same-origin player page.
func (p *Relay) relayHeaders(w http.ResponseWriter, resp *http.Response, rewriting bool) {
	for key, values := range resp.Header {
		if rewriting && http.CanonicalHeaderKey(key) == "Content-Length" {
			continue
		}
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}

	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "*")
	w.Header().Set("Access-Control-Allow-Methods", "*")
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
