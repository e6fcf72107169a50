// Package metadata talks to the upstream catalog API and normalizes its
// loosely shaped JSON into stable types.
//
// The upstream is inconsistent at several boundaries: list endpoints return
// either {"data":[...]} or a bare array, streamingLink is an object or a
// one-element array, and numeric fields arrive as numbers or strings. All of
// that is absorbed here so callers never see the raw shapes.
package metadata

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// Category selects the audio track family of a stream.
type Category string

const (
	CategorySub Category = "sub"
	CategoryDub Category = "dub"
)

// ParseCategory maps arbitrary caller input onto a valid category,
// defaulting to sub.
func ParseCategory(s string) Category {
	if Category(strings.ToLower(s)) == CategoryDub {
		return CategoryDub
	}
	return CategorySub
}

// Other returns the opposite category.
func (c Category) Other() Category {
	if c == CategoryDub {
		return CategorySub
	}
	return CategoryDub
}

// Title is one catalog entry.
type Title struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Poster      string  `json:"poster"`
	Type        string  `json:"type"`
	Description string  `json:"description,omitempty"`
	Rating      float64 `json:"rating,omitempty"`
}

// Episode is one playable episode of a title.
type Episode struct {
	ID     string `json:"id"`
	Number int    `json:"number"`
	Name   string `json:"name"`
	Filler bool   `json:"filler"`
}

// Source is one playable stream URL.
type Source struct {
	URL     string `json:"url"`
	IsM3U8  bool   `json:"isM3U8"`
	Quality string `json:"quality"`
}

// Subtitle is one external subtitle track.
type Subtitle struct {
	URL   string `json:"url"`
	Label string `json:"label"`
	Kind  string `json:"kind"`
}

// Window is a time range in seconds, used for intro and outro markers.
type Window struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Contains reports whether position falls inside the window. Zero windows
// never match.
func (w Window) Contains(position float64) bool {
	return w.End > w.Start && position >= w.Start && position < w.End
}

// Server is one upstream streaming server option.
type Server struct {
	Name string `json:"serverName"`
	ID   int    `json:"serverId"`
}

// Stream is a fully resolved streaming response for one episode.
type Stream struct {
	Sources   []Source   `json:"sources"`
	Subtitles []Subtitle `json:"subtitles"`
	Intro     Window     `json:"intro"`
	Outro     Window     `json:"outro"`
	Servers   []Server   `json:"servers,omitempty"`

	// Referer and UserAgent must be presented to the media host when
	// fetching the sources.
	Referer   string `json:"referer"`
	UserAgent string `json:"userAgent"`

	// Category is the audio family actually served. FellBack is set when it
	// differs from the one requested because the requested one had no
	// stream.
	Category Category `json:"category"`
	FellBack bool     `json:"fellBack"`
}

// flexFloat decodes JSON numbers that may arrive quoted.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(data, `"`)
	if len(data) == 0 || string(data) == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		// Unparseable ratings are dropped, not fatal.
		*f = 0
		return nil
	}
	*f = flexFloat(v)
	return nil
}

// flexInt decodes JSON integers that may arrive quoted.
type flexInt int

func (f *flexInt) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(data, `"`)
	if len(data) == 0 || string(data) == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.Atoi(string(data))
	if err != nil {
		*f = 0
		return nil
	}
	*f = flexInt(v)
	return nil
}

type rawTitle struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Name        string    `json:"name"`
	Poster      string    `json:"poster"`
	Description string    `json:"description"`
	Type        string    `json:"type"`
	Rating      flexFloat `json:"rating"`
	TVInfo      struct {
		ShowType string    `json:"showType"`
		Rating   flexFloat `json:"rating"`
	} `json:"tvInfo"`
}

func (r rawTitle) normalize() Title {
	name := r.Title
	if name == "" {
		name = r.Name
	}
	typ := r.TVInfo.ShowType
	if typ == "" {
		typ = r.Type
	}
	if typ == "" {
		typ = "TV"
	}
	rating := float64(r.TVInfo.Rating)
	if rating == 0 {
		rating = float64(r.Rating)
	}
	return Title{
		ID:          r.ID,
		Name:        name,
		Poster:      r.Poster,
		Type:        typ,
		Description: r.Description,
		Rating:      rating,
	}
}

type rawEpisode struct {
	ID     string  `json:"id"`
	Number flexInt `json:"episode_no"`
	Title  string  `json:"title"`
	Filler bool    `json:"filler"`
}

func (r rawEpisode) normalize() Episode {
	return Episode{
		ID:     r.ID,
		Number: int(r.Number),
		Name:   r.Title,
		Filler: r.Filler,
	}
}

// titleList accepts both {"data":[...]} and a bare array.
func titleList(results json.RawMessage) ([]Title, error) {
	var raw []rawTitle
	if err := json.Unmarshal(results, &raw); err != nil {
		var wrapped struct {
			Data []rawTitle `json:"data"`
		}
		if err := json.Unmarshal(results, &wrapped); err != nil {
			return nil, err
		}
		raw = wrapped.Data
	}

	out := make([]Title, 0, len(raw))
	for _, t := range raw {
		out = append(out, t.normalize())
	}
	return out, nil
}

type rawLink struct {
	Link struct {
		File string `json:"file"`
		Type string `json:"type"`
	} `json:"link"`
	Tracks []struct {
		File  string `json:"file"`
		Label string `json:"label"`
		Kind  string `json:"kind"`
	} `json:"tracks"`
	Intro Window `json:"intro"`
	Outro Window `json:"outro"`
}

// linkFromStreaming accepts streamingLink as either an object or an array,
// taking the first element when it is an array.
func linkFromStreaming(raw json.RawMessage) (rawLink, bool) {
	var one rawLink
	if err := json.Unmarshal(raw, &one); err == nil && one.Link.File != "" {
		return one, true
	}
	var many []rawLink
	if err := json.Unmarshal(raw, &many); err == nil && len(many) > 0 && many[0].Link.File != "" {
		return many[0], true
	}
	return rawLink{}, false
}
