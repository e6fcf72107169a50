package player

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kumo-stream-go/pkg/logging"
	"kumo-stream-go/pkg/probe"
)

const testMasterPlaylist = `#EXTM3U
#EXT-X-MEDIA:TYPE=SUBTITLES,GROUP-ID="subs",NAME="English",LANGUAGE="en",DEFAULT=YES,AUTOSELECT=YES,URI="subs/eng/index.m3u8"
#EXT-X-STREAM-INF:BANDWIDTH=2500000,RESOLUTION=1920x1080,SUBTITLES="subs"
1080/index.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=1200000,RESOLUTION=1280x720,SUBTITLES="subs"
720/index.m3u8
`

func newHLSEngineForTest(t *testing.T) (*HLSEngine, func(string)) {
	t.Helper()
	log := logging.New("error", "text", io.Discard)
	prober := probe.NewProber(nil, "test-agent/1.0", log)
	engine := NewHLSEngine(prober, "https://host.example.com/", log)
	t.Cleanup(engine.Destroy)
	return engine, engine.Load
}

func collectEvents(t *testing.T, engine *HLSEngine, n int) []Event {
	t.Helper()
	var events []Event
	for len(events) < n {
		select {
		case ev := <-engine.Events():
			events = append(events, ev)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out after %d of %d events", len(events), n)
		}
	}
	return events
}

func TestHLSEngine_MasterPlaylistEventSequence(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, testMasterPlaylist)
	}))
	defer srv.Close()

	engine, load := newHLSEngineForTest(t)
	load(srv.URL + "/hls/master.m3u8")

	events := collectEvents(t, engine, 3)
	assert.Equal(t, EventManifestReady, events[0].Type)

	require.Equal(t, EventLevelsChanged, events[1].Type)
	require.Len(t, events[1].Levels, 2)
	assert.Equal(t, 1080, events[1].Levels[0].Height)
	assert.Equal(t, 2500000, events[1].Levels[0].Bitrate)

	require.Equal(t, EventSubtitleTracksChanged, events[2].Type)
	require.Len(t, events[2].Tracks, 1)
	assert.Equal(t, "English", events[2].Tracks[0].Label)
	assert.Empty(t, events[2].Tracks[0].URL)
}

func TestHLSEngine_FetchFailureIsNetworkClass(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	engine, load := newHLSEngineForTest(t)
	load(srv.URL + "/hls/master.m3u8")

	events := collectEvents(t, engine, 1)
	require.Equal(t, EventError, events[0].Type)
	assert.Equal(t, ErrorClassNetwork, events[0].Class)
}

func TestHLSEngine_GarbageIsFatalClass(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "<html>definitely not a playlist</html>")
	}))
	defer srv.Close()

	engine, load := newHLSEngineForTest(t)
	load(srv.URL + "/hls/master.m3u8")

	events := collectEvents(t, engine, 1)
	require.Equal(t, EventError, events[0].Type)
	assert.Equal(t, ErrorClassFatal, events[0].Class)
}

func TestHLSEngine_StartLoadRetries(t *testing.T) {
	hits := make(chan struct{}, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits <- struct{}{}
		io.WriteString(w, testMasterPlaylist)
	}))
	defer srv.Close()

	engine, load := newHLSEngineForTest(t)
	load(srv.URL + "/hls/master.m3u8")
	<-hits

	engine.StartLoad()
	select {
	case <-hits:
	case <-time.After(2 * time.Second):
		t.Fatal("retry never reached upstream")
	}
}
