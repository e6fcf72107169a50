package metadata

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kumo-stream-go/pkg/config"
	"kumo-stream-go/pkg/logging"
)

func newTestClient(baseURL string) *Client {
	log := logging.New("error", "text", io.Discard)
	return New(config.MetadataConfig{BaseURL: baseURL}, http.DefaultClient, log)
}

func TestSearch_WrappedAndBareArrays(t *testing.T) {
	bodies := map[string]string{
		"wrapped": `{"success":true,"results":{"data":[
			{"id":"one-piece","title":"One Piece","poster":"p.jpg","tvInfo":{"showType":"TV","rating":"8.7"}}
		]}}`,
		"bare": `{"success":true,"results":[
			{"id":"one-piece","name":"One Piece","poster":"p.jpg","rating":8.7}
		]}`,
	}

	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/api/search", r.URL.Path)
				assert.Equal(t, "one piece", r.URL.Query().Get("keyword"))
				fmt.Fprint(w, body)
			}))
			defer srv.Close()

			titles, err := newTestClient(srv.URL).Search(context.Background(), "one piece", 1)
			require.NoError(t, err)
			require.Len(t, titles, 1)
			assert.Equal(t, "one-piece", titles[0].ID)
			assert.Equal(t, "One Piece", titles[0].Name)
			assert.Equal(t, "TV", titles[0].Type)
			assert.InDelta(t, 8.7, titles[0].Rating, 0.001)
		})
	}
}

func TestEpisodes_NormalizesQuotedNumbers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/episodes/one-piece", r.URL.Path)
		fmt.Fprint(w, `{"success":true,"results":{"episodes":[
			{"id":"ep-1","episode_no":"1","title":"Romance Dawn","filler":false},
			{"id":"ep-2","episode_no":2,"title":"The Great Swordsman","filler":true}
		]}}`)
	}))
	defer srv.Close()

	eps, err := newTestClient(srv.URL).Episodes(context.Background(), "one-piece")
	require.NoError(t, err)
	require.Len(t, eps, 2)
	assert.Equal(t, 1, eps[0].Number)
	assert.Equal(t, 2, eps[1].Number)
	assert.True(t, eps[1].Filler)
}

const streamObjectBody = `{"success":true,"results":{
	"streamingLink":{
		"link":{"file":"https://cdn.example.com/master.m3u8","type":"hls"},
		"tracks":[
			{"file":"https://cdn.example.com/eng.vtt","label":"English","kind":"captions"},
			{"file":"https://cdn.example.com/thumbs.vtt","label":"thumbnails","kind":"thumbnails"}
		],
		"intro":{"start":10,"end":95},
		"outro":{"start":1300,"end":1390}
	},
	"servers":[{"serverName":"hd-1","serverId":1}]
}}`

const streamArrayBody = `{"success":true,"results":{
	"streamingLink":[{
		"link":{"file":"https://cdn.example.com/master.m3u8","type":"hls"},
		"tracks":[]
	}]
}}`

func TestResolveStream_ObjectAndArrayShapes(t *testing.T) {
	for name, body := range map[string]string{"object": streamObjectBody, "array": streamArrayBody} {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/api/stream", r.URL.Path)
				fmt.Fprint(w, body)
			}))
			defer srv.Close()

			stream, err := newTestClient(srv.URL).ResolveStream(context.Background(), "ep-1", "", CategorySub)
			require.NoError(t, err)
			require.Len(t, stream.Sources, 1)
			assert.Equal(t, "https://cdn.example.com/master.m3u8", stream.Sources[0].URL)
			assert.True(t, stream.Sources[0].IsM3U8)
			assert.Equal(t, CategorySub, stream.Category)
			assert.False(t, stream.FellBack)
			assert.Equal(t, streamReferer, stream.Referer)
		})
	}
}

func TestResolveStream_ParsesMarkersAndTracks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, streamObjectBody)
	}))
	defer srv.Close()

	stream, err := newTestClient(srv.URL).ResolveStream(context.Background(), "ep-1", "hd-1", CategorySub)
	require.NoError(t, err)
	assert.Equal(t, Window{Start: 10, End: 95}, stream.Intro)
	assert.Equal(t, Window{Start: 1300, End: 1390}, stream.Outro)
	require.Len(t, stream.Subtitles, 2)
	assert.Equal(t, "English", stream.Subtitles[0].Label)
	require.Len(t, stream.Servers, 1)
}

func TestResolveStream_FallbackEndpointAfterPrimaryFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/stream" {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		assert.Equal(t, "/api/stream/fallback", r.URL.Path)
		fmt.Fprint(w, streamObjectBody)
	}))
	defer srv.Close()

	stream, err := newTestClient(srv.URL).ResolveStream(context.Background(), "ep-1", "", CategorySub)
	require.NoError(t, err)
	assert.False(t, stream.FellBack)
	assert.Equal(t, CategorySub, stream.Category)
}

func TestResolveStream_ExplicitCategoryFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("type") == "dub" {
			// No dub stream for this episode.
			fmt.Fprint(w, `{"success":true,"results":{"streamingLink":null}}`)
			return
		}
		fmt.Fprint(w, streamObjectBody)
	}))
	defer srv.Close()

	stream, err := newTestClient(srv.URL).ResolveStream(context.Background(), "ep-1", "", CategoryDub)
	require.NoError(t, err)
	assert.True(t, stream.FellBack)
	assert.Equal(t, CategorySub, stream.Category)
}

func TestResolveStream_NoStreamAnywhere(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"success":true,"results":{"streamingLink":null}}`)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).ResolveStream(context.Background(), "ep-1", "", CategorySub)
	require.ErrorIs(t, err, ErrNoStream)
}

func TestWindow_Contains(t *testing.T) {
	w := Window{Start: 10, End: 95}
	assert.True(t, w.Contains(10))
	assert.True(t, w.Contains(94.9))
	assert.False(t, w.Contains(95))
	assert.False(t, w.Contains(5))
	assert.False(t, Window{}.Contains(0))
}
