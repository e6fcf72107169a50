package probe

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kumo-stream-go/pkg/logging"
)

const masterPlaylist = `#EXTM3U
#EXT-X-MEDIA:TYPE=SUBTITLES,GROUP-ID="subs",NAME="English",LANGUAGE="en",DEFAULT=YES,AUTOSELECT=YES,URI="subs/eng/index.m3u8"
#EXT-X-STREAM-INF:BANDWIDTH=1200000,RESOLUTION=1280x720,SUBTITLES="subs"
720/index.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=2500000,RESOLUTION=1920x1080,CODECS="avc1.640028,mp4a.40.2",SUBTITLES="subs"
1080/index.m3u8
`

const mediaPlaylist = `#EXTM3U
#EXT-X-VERSION:3
#EXT-X-TARGETDURATION:4
#EXT-X-MEDIA-SEQUENCE:0
#EXTINF:4.000,
seg0.ts
#EXTINF:3.500,
seg1.ts
#EXT-X-ENDLIST
`

func TestParse_MasterPlaylist(t *testing.T) {
	rep, err := Parse([]byte(masterPlaylist), "https://cdn.example.com/hls/master.m3u8")
	require.NoError(t, err)

	assert.Equal(t, KindMaster, rep.Kind)
	require.Len(t, rep.Levels, 2)

	// Highest quality first regardless of manifest order.
	assert.Equal(t, 1080, rep.Levels[0].Height)
	assert.Equal(t, 2500000, rep.Levels[0].Bandwidth)
	assert.Equal(t, "https://cdn.example.com/hls/1080/index.m3u8", rep.Levels[0].URI)
	assert.Equal(t, 720, rep.Levels[1].Height)

	require.Len(t, rep.Subtitles, 1)
	assert.Equal(t, "English", rep.Subtitles[0].Name)
	assert.Equal(t, "en", rep.Subtitles[0].Language)
	assert.True(t, rep.Subtitles[0].Default)
	assert.Equal(t, "https://cdn.example.com/hls/subs/eng/index.m3u8", rep.Subtitles[0].URI)
}

func TestParse_MediaPlaylist(t *testing.T) {
	rep, err := Parse([]byte(mediaPlaylist), "")
	require.NoError(t, err)

	assert.Equal(t, KindMedia, rep.Kind)
	assert.Empty(t, rep.Levels)
	assert.Equal(t, 2, rep.SegmentCount)
	assert.Equal(t, 4.0, rep.TargetDuration)
	assert.InDelta(t, 7.5, rep.Duration, 0.001)
}

func TestParse_Garbage(t *testing.T) {
	_, err := Parse([]byte("not a playlist"), "")
	assert.Error(t, err)
}

func TestProber_FetchesWithSpoofedHeaders(t *testing.T) {
	var gotUA, gotReferer string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotReferer = r.Header.Get("Referer")
		io.WriteString(w, mediaPlaylist)
	}))
	defer srv.Close()

	p := NewProber(nil, "probe-agent/1.0", logging.New("error", "text", io.Discard))
	rep, err := p.Probe(context.Background(), srv.URL+"/hls/index.m3u8", "")
	require.NoError(t, err)

	assert.Equal(t, KindMedia, rep.Kind)
	assert.Equal(t, "probe-agent/1.0", gotUA)
	assert.Equal(t, srv.URL+"/", gotReferer)
}

func TestProber_CallerRefererWins(t *testing.T) {
	var gotReferer string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotReferer = r.Header.Get("Referer")
		io.WriteString(w, mediaPlaylist)
	}))
	defer srv.Close()

	p := NewProber(nil, "probe-agent/1.0", logging.New("error", "text", io.Discard))
	_, err := p.Probe(context.Background(), srv.URL+"/hls/index.m3u8", "https://watch.example.com/")
	require.NoError(t, err)
	assert.Equal(t, "https://watch.example.com/", gotReferer)
}

func TestProber_UpstreamFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	p := NewProber(nil, "probe-agent/1.0", logging.New("error", "text", io.Discard))
	_, err := p.Probe(context.Background(), srv.URL+"/missing.m3u8", "")
	assert.Error(t, err)
}
