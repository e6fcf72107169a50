// Package probe fetches and inspects HLS playlists, reporting variant levels
// and subtitle renditions without downloading any media.
package probe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/bluenviron/gohlslib/v2/pkg/playlist"

	"kumo-stream-go/pkg/logging"
	"kumo-stream-go/pkg/urlutil"
)

// Playlists larger than this are not manifests worth parsing.
const maxPlaylistBytes = 2 * 1024 * 1024

// ErrInvalidPlaylist marks content that is not a parseable HLS playlist, as
// opposed to transport failures reaching it.
var ErrInvalidPlaylist = errors.New("invalid playlist")

// Kind distinguishes the two playlist shapes.
type Kind string

const (
	KindMaster Kind = "master"
	KindMedia  Kind = "media"
)

// Level is one variant stream of a master playlist.
type Level struct {
	URI       string   `json:"uri"`
	Bandwidth int      `json:"bandwidth"`
	Width     int      `json:"width,omitempty"`
	Height    int      `json:"height,omitempty"`
	Codecs    []string `json:"codecs,omitempty"`
}

// SubtitleRendition is one subtitle track declared in a master playlist.
type SubtitleRendition struct {
	URI      string `json:"uri"`
	Name     string `json:"name"`
	Language string `json:"language,omitempty"`
	Default  bool   `json:"default"`
}

// Report is the result of probing one playlist.
type Report struct {
	Kind           Kind                `json:"kind"`
	Levels         []Level             `json:"levels,omitempty"`
	Subtitles      []SubtitleRendition `json:"subtitles,omitempty"`
	TargetDuration float64             `json:"targetDuration,omitempty"`
	SegmentCount   int                 `json:"segmentCount,omitempty"`
	Duration       float64             `json:"duration,omitempty"`
}

// Parse inspects raw playlist bytes. baseURL resolves relative URIs to
// absolute ones; pass "" to leave them as written.
func Parse(data []byte, baseURL string) (*Report, error) {
	pl, err := playlist.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPlaylist, err)
	}

	switch p := pl.(type) {
	case *playlist.Multivariant:
		return reportMaster(p, baseURL), nil
	case *playlist.Media:
		return reportMedia(p), nil
	default:
		return nil, fmt.Errorf("%w: unsupported playlist type %T", ErrInvalidPlaylist, pl)
	}
}

func reportMaster(mv *playlist.Multivariant, baseURL string) *Report {
	rep := &Report{Kind: KindMaster}

	for _, v := range mv.Variants {
		w, h := parseResolution(v.Resolution)
		rep.Levels = append(rep.Levels, Level{
			URI:       resolve(v.URI, baseURL),
			Bandwidth: v.Bandwidth,
			Width:     w,
			Height:    h,
			Codecs:    v.Codecs,
		})
	}
	// Highest quality first: height, then bandwidth as tiebreaker.
	sort.SliceStable(rep.Levels, func(i, j int) bool {
		if rep.Levels[i].Height != rep.Levels[j].Height {
			return rep.Levels[i].Height > rep.Levels[j].Height
		}
		return rep.Levels[i].Bandwidth > rep.Levels[j].Bandwidth
	})

	for _, r := range mv.Renditions {
		if r.Type != playlist.MultivariantRenditionTypeSubtitles {
			continue
		}
		uri := ""
		if r.URI != nil {
			uri = *r.URI
		}
		rep.Subtitles = append(rep.Subtitles, SubtitleRendition{
			URI:      resolve(uri, baseURL),
			Name:     r.Name,
			Language: r.Language,
			Default:  r.Default,
		})
	}
	return rep
}

func reportMedia(m *playlist.Media) *Report {
	rep := &Report{
		Kind:           KindMedia,
		TargetDuration: float64(m.TargetDuration),
		SegmentCount:   len(m.Segments),
	}
	for _, seg := range m.Segments {
		rep.Duration += seg.Duration.Seconds()
	}
	return rep
}

func parseResolution(res string) (width, height int) {
	parts := strings.SplitN(res, "x", 2)
	if len(parts) != 2 {
		return 0, 0
	}
	w, err1 := strconv.Atoi(parts[0])
	h, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil {
		return 0, 0
	}
	return w, h
}

func resolve(uri, baseURL string) string {
	if baseURL == "" {
		return uri
	}
	return urlutil.Resolve(uri, baseURL)
}

// Doer executes HTTP requests.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Prober fetches playlists over HTTP and parses them.
type Prober struct {
	client    Doer
	userAgent string
	log       *logging.Logger
}

// NewProber creates a Prober. A nil client falls back to
// http.DefaultClient.
func NewProber(client Doer, userAgent string, log *logging.Logger) *Prober {
	if client == nil {
		client = http.DefaultClient
	}
	return &Prober{
		client:    client,
		userAgent: userAgent,
		log:       log.WithComponent("probe"),
	}
}

// Probe fetches the playlist at target and reports its contents. referer is
// optional; when empty the target's own origin is presented, matching what
// the streaming proxy sends.
func (p *Prober) Probe(ctx context.Context, target, referer string) (*Report, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("building probe request: %w", err)
	}
	req.Header.Set("User-Agent", p.userAgent)
	req.Header.Set("Accept", "*/*")
	if referer == "" {
		if origin := urlutil.Origin(target); origin != "" {
			referer = origin + "/"
		}
	}
	if referer != "" {
		req.Header.Set("Referer", referer)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching playlist: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("fetching playlist: unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPlaylistBytes))
	if err != nil {
		return nil, fmt.Errorf("reading playlist: %w", err)
	}

	rep, err := Parse(data, target)
	if err != nil {
		return nil, err
	}

	p.log.Debug("probed playlist", "url", target, "kind", string(rep.Kind),
		"levels", len(rep.Levels), "segments", rep.SegmentCount)
	return rep, nil
}
