package proxy

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kumo-stream-go/pkg/logging"
)

func newTestRelay() *Relay {
	log := logging.New("error", "text", io.Discard)
	return NewRelay(http.DefaultClient, "test-agent/1.0", log)
}

func doProxy(t *testing.T, target, referer string) *httptest.ResponseRecorder {
	t.Helper()
	q := url.Values{}
	if target != "" {
		q.Set("url", target)
	}
	if referer != "" {
		q.Set("referer", referer)
	}
	req := httptest.NewRequest(http.MethodGet, Path+"?"+q.Encode(), nil)
	rec := httptest.NewRecorder()
	newTestRelay().ServeHTTP(rec, req)
	return rec
}

func TestRelay_MissingURLParam(t *testing.T) {
	rec := doProxy(t, "", "")

	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "url is required", body["error"])
}

func TestRelay_UpstreamNotFoundReturnsGeneric500(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer upstream.Close()

	rec := doProxy(t, upstream.URL+"/missing.m3u8", "")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Internal Server Error", body["error"])
}

func TestRelay_UpstreamConnectionErrorReturnsGeneric500(t *testing.T) {
	rec := doProxy(t, "http://127.0.0.1:1/dead.m3u8", "")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "error")
}

func TestRelay_SpoofsIdentityHeaders(t *testing.T) {
	var gotUA, gotReferer, gotOrigin, gotAccept string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotReferer = r.Header.Get("Referer")
		gotOrigin = r.Header.Get("Origin")
		gotAccept = r.Header.Get("Accept")
		w.Write([]byte("ok"))
	}))
	defer upstream.Close()

	doProxy(t, upstream.URL+"/segment.ts", "")

	assert.Equal(t, "test-agent/1.0", gotUA)
	assert.Equal(t, upstream.URL+"/", gotReferer)
	assert.Equal(t, upstream.URL, gotOrigin)
	assert.Equal(t, "*/*", gotAccept)
}

func TestRelay_CallerRefererWins(t *testing.T) {
	var gotReferer string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotReferer = r.Header.Get("Referer")
		w.Write([]byte("ok"))
	}))
	defer upstream.Close()

	doProxy(t, upstream.URL+"/segment.ts", "https://watch.example.com/")

	assert.Equal(t, "https://watch.example.com/", gotReferer)
}

func TestRelay_StaticPassThroughKeepsContentLength(t *testing.T) {
	payload := strings.Repeat("x", 1024)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/MP2T")
		w.Header().Set("Cache-Control", "max-age=3600")
		w.Write([]byte(payload))
	}))
	defer upstream.Close()

	rec := doProxy(t, upstream.URL+"/segment.ts", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, payload, rec.Body.String())
	assert.Equal(t, "1024", rec.Header().Get("Content-Length"))
	assert.Equal(t, "max-age=3600", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRelay_ManifestRewrittenAndContentLengthDropped(t *testing.T) {
	body := "#EXTM3U\n#EXTINF:4.0,\nsegment1.ts\n"
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
		w.Write([]byte(body))
	}))
	defer upstream.Close()

	target := upstream.URL + "/hls/index.m3u8"
	rec := doProxy(t, target, "https://watch.example.com/")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Content-Length"))

	want := Path + "?url=" + url.QueryEscape(upstream.URL+"/hls/segment1.ts") +
		"&referer=" + url.QueryEscape("https://watch.example.com/")
	assert.Contains(t, rec.Body.String(), want)
	// Tags survive byte-identical.
	assert.True(t, strings.HasPrefix(rec.Body.String(), "#EXTM3U\n#EXTINF:4.0,\n"))
}

func TestRelay_ManifestWithQueryStringStillRewritten(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("seg.ts\n"))
	}))
	defer upstream.Close()

	rec := doProxy(t, upstream.URL+"/index.m3u8?token=abc", "")

	assert.Contains(t, rec.Body.String(), Path+"?url=")
}
