package player

import (
	"context"
	"errors"
	"sync"

	"kumo-stream-go/pkg/logging"
	"kumo-stream-go/pkg/probe"
)

// HLSEngine is a probe-backed Engine: it fetches and parses the source
// playlist to announce quality levels and subtitle renditions. Segment
// delivery stays with the media surface.
type HLSEngine struct {
	prober  *probe.Prober
	referer string
	log     *logging.Logger

	events chan Event

	mu            sync.Mutex
	sourceURL     string
	level         int
	subtitleTrack int
	destroyed     bool
	cancel        context.CancelFunc
}

// NewHLSEngine creates an engine probing through the given prober. referer
// is presented upstream on playlist fetches.
func NewHLSEngine(prober *probe.Prober, referer string, log *logging.Logger) *HLSEngine {
	return &HLSEngine{
		prober:        prober,
		referer:       referer,
		log:           log.WithComponent("hls-engine"),
		events:        make(chan Event, 8),
		level:         -1,
		subtitleTrack: -1,
	}
}

// Load starts fetching the playlist. Results arrive on Events.
func (e *HLSEngine) Load(sourceURL string) {
	ctx, cancel := context.WithCancel(context.Background())

	e.mu.Lock()
	e.sourceURL = sourceURL
	if e.cancel != nil {
		e.cancel()
	}
	e.cancel = cancel
	e.mu.Unlock()

	go e.load(ctx, sourceURL)
}

func (e *HLSEngine) load(ctx context.Context, sourceURL string) {
	rep, err := e.prober.Probe(ctx, sourceURL, e.referer)
	if err != nil {
		class := ErrorClassNetwork
		if errors.Is(err, probe.ErrInvalidPlaylist) {
			class = ErrorClassFatal
		}
		e.emit(Event{Type: EventError, Err: err, Class: class})
		return
	}

	e.emit(Event{Type: EventManifestReady})

	if rep.Kind == probe.KindMaster {
		levels := make([]Level, 0, len(rep.Levels))
		for i, l := range rep.Levels {
			levels = append(levels, Level{ID: i, Height: l.Height, Bitrate: l.Bandwidth})
		}
		e.emit(Event{Type: EventLevelsChanged, Levels: levels})

		if len(rep.Subtitles) > 0 {
			tracks := make([]Track, 0, len(rep.Subtitles))
			for _, sub := range rep.Subtitles {
				label := sub.Name
				if label == "" {
					label = sub.Language
				}
				tracks = append(tracks, Track{Label: label, Kind: "captions"})
			}
			e.emit(Event{Type: EventSubtitleTracksChanged, Tracks: tracks})
		}
	}
}

func (e *HLSEngine) emit(ev Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.destroyed {
		return
	}
	select {
	case e.events <- ev:
	default:
		e.log.Warn("event dropped, consumer too slow", "type", int(ev.Type))
	}
}

// Events returns the engine event stream. Closed by Destroy.
func (e *HLSEngine) Events() <-chan Event {
	return e.events
}

// StartLoad retries the playlist fetch after a network error.
func (e *HLSEngine) StartLoad() {
	e.mu.Lock()
	source := e.sourceURL
	destroyed := e.destroyed
	e.mu.Unlock()

	if destroyed || source == "" {
		return
	}
	e.Load(source)
}

// RecoverMedia is a no-op: there is no decode pipeline to reset here.
func (e *HLSEngine) RecoverMedia() {}

// SetLevel records the selected quality level.
func (e *HLSEngine) SetLevel(id int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.level = id
}

// SetSubtitleTrack records the selected internal track.
func (e *HLSEngine) SetSubtitleTrack(idx int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.subtitleTrack = idx
}

// Level returns the selected quality level, -1 for automatic.
func (e *HLSEngine) Level() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.level
}

// SubtitleTrack returns the selected internal track, -1 for off.
func (e *HLSEngine) SubtitleTrack() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.subtitleTrack
}

// Destroy cancels any in-flight load and closes the event stream.
func (e *HLSEngine) Destroy() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.destroyed {
		return
	}
	e.destroyed = true
	if e.cancel != nil {
		e.cancel()
	}
	close(e.events)
}

var _ Engine = (*HLSEngine)(nil)
