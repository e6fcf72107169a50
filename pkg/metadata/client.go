package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"kumo-stream-go/pkg/config"
	"kumo-stream-go/pkg/logging"
)

// ErrNoStream is returned when neither the requested category nor its
// fallback has a playable stream.
var ErrNoStream = errors.New("no streaming links found")

// The media host behind the catalog rejects requests without a matching
// Referer. These accompany every resolved stream.
const (
	streamReferer   = "https://megacloud.club/"
	streamUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"
)

// DefaultServer is the streaming server used when the caller does not pick
// one.
const DefaultServer = "hd-1"

// Doer executes HTTP requests.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client fetches and normalizes upstream catalog data.
type Client struct {
	baseURL string
	http    Doer
	timeout time.Duration
	log     *logging.Logger
}

// New creates a metadata client. A nil doer falls back to
// http.DefaultClient.
func New(cfg config.MetadataConfig, doer Doer, log *logging.Logger) *Client {
	if doer == nil {
		doer = http.DefaultClient
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    doer,
		timeout: cfg.Timeout,
		log:     log.WithComponent("metadata"),
	}
}

type envelope struct {
	Success bool            `json:"success"`
	Results json.RawMessage `json:"results"`
}

func (c *Client) fetch(ctx context.Context, path string) (json.RawMessage, error) {
	target := c.baseURL + path

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("fetching %s: unexpected status %d", path, resp.StatusCode)
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	if !env.Success {
		c.log.Warn("upstream reported failure", "path", path)
	}
	return env.Results, nil
}

// Search returns catalog entries matching the query.
func (c *Client) Search(ctx context.Context, query string, page int) ([]Title, error) {
	if page < 1 {
		page = 1
	}
	path := fmt.Sprintf("/api/search?keyword=%s&page=%d", url.QueryEscape(query), page)

	results, err := c.fetch(ctx, path)
	if err != nil {
		return nil, err
	}
	titles, err := titleList(results)
	if err != nil {
		return nil, fmt.Errorf("decoding search results: %w", err)
	}
	return titles, nil
}

// Episodes lists the episodes of a title.
func (c *Client) Episodes(ctx context.Context, titleID string) ([]Episode, error) {
	results, err := c.fetch(ctx, "/api/episodes/"+url.PathEscape(titleID))
	if err != nil {
		return nil, err
	}

	var raw struct {
		Episodes []rawEpisode `json:"episodes"`
	}
	if err := json.Unmarshal(results, &raw); err != nil {
		return nil, fmt.Errorf("decoding episodes: %w", err)
	}

	out := make([]Episode, 0, len(raw.Episodes))
	for _, e := range raw.Episodes {
		out = append(out, e.normalize())
	}
	return out, nil
}

// streamingLinks fetches one category's stream, trying the fallback endpoint
// when the primary fails.
func (c *Client) streamingLinks(ctx context.Context, episodeID, server string, cat Category) (*Stream, error) {
	if server == "" {
		server = DefaultServer
	}
	query := fmt.Sprintf("?id=%s&server=%s&type=%s",
		url.QueryEscape(episodeID), url.QueryEscape(server), cat)

	results, err := c.fetch(ctx, "/api/stream"+query)
	if err != nil {
		c.log.WithError(err).Warn("primary stream fetch failed, trying fallback",
			"episode_id", episodeID, "server", server)
		results, err = c.fetch(ctx, "/api/stream/fallback"+query)
		if err != nil {
			return nil, err
		}
	}

	var raw struct {
		StreamingLink json.RawMessage `json:"streamingLink"`
		Servers       []Server        `json:"servers"`
	}
	if err := json.Unmarshal(results, &raw); err != nil {
		return nil, fmt.Errorf("decoding stream response: %w", err)
	}
	if len(raw.StreamingLink) == 0 {
		return nil, ErrNoStream
	}

	link, ok := linkFromStreaming(raw.StreamingLink)
	if !ok {
		return nil, ErrNoStream
	}

	subs := make([]Subtitle, 0, len(link.Tracks))
	for _, t := range link.Tracks {
		subs = append(subs, Subtitle{URL: t.File, Label: t.Label, Kind: t.Kind})
	}

	return &Stream{
		Sources: []Source{{
			URL:     link.Link.File,
			IsM3U8:  link.Link.Type == "hls",
			Quality: "auto",
		}},
		Subtitles: subs,
		Intro:     link.Intro,
		Outro:     link.Outro,
		Servers:   raw.Servers,
		Referer:   streamReferer,
		UserAgent: streamUserAgent,
		Category:  cat,
	}, nil
}

// ResolveStream returns the stream for the requested category, falling back
// to the other category when the requested one has none. The returned
// Stream reports which category was actually served and whether a fallback
// happened, so callers can surface the switch instead of playing the wrong
// audio silently.
func (c *Client) ResolveStream(ctx context.Context, episodeID, server string, want Category) (*Stream, error) {
	stream, err := c.streamingLinks(ctx, episodeID, server, want)
	if err == nil {
		return stream, nil
	}

	c.log.WithError(err).Info("requested category unavailable, falling back",
		"episode_id", episodeID, "requested", string(want))

	stream, fbErr := c.streamingLinks(ctx, episodeID, server, want.Other())
	if fbErr != nil {
		return nil, fmt.Errorf("%w: %s unavailable (%v), %s unavailable (%v)",
			ErrNoStream, want, err, want.Other(), fbErr)
	}
	stream.FellBack = true
	return stream, nil
}
