// Package player drives one playback attempt for one episode: it owns the
// session state machine, wires a streaming engine to a media surface, and
// persists watch progress.
package player

// Level is one selectable quality variant.
type Level struct {
	ID      int `json:"id"`
	Height  int `json:"height"`
	Bitrate int `json:"bitrate"`
}

// Track is one subtitle track. Engine-internal tracks carry an empty URL;
// external tracks point at a fetchable file.
type Track struct {
	URL   string `json:"url"`
	Label string `json:"label"`
	Kind  string `json:"kind"`
}

// EventType names the engine events the session reacts to.
type EventType int

const (
	// EventManifestReady fires once the source manifest has been loaded.
	EventManifestReady EventType = iota
	// EventLevelsChanged carries the current quality levels.
	EventLevelsChanged
	// EventSubtitleTracksChanged carries the engine-internal subtitle tracks.
	EventSubtitleTracksChanged
	// EventError carries a classified engine failure.
	EventError
)

// ErrorClass groups engine failures by the recovery they allow.
type ErrorClass int

const (
	// ErrorClassNetwork failures are retried by restarting the load.
	ErrorClassNetwork ErrorClass = iota
	// ErrorClassMedia failures are handed to the engine's media recovery.
	ErrorClassMedia
	// ErrorClassFatal failures end the session.
	ErrorClassFatal
)

// Event is one engine notification.
type Event struct {
	Type   EventType
	Levels []Level
	Tracks []Track
	Err    error
	Class  ErrorClass
}

// Engine abstracts the streaming implementation. Load is asynchronous;
// outcomes arrive on Events. Destroy releases the engine and closes the
// event channel.
type Engine interface {
	Load(sourceURL string)
	Events() <-chan Event
	// StartLoad restarts network loading after a network-class error.
	StartLoad()
	// RecoverMedia attempts decode recovery after a media-class error.
	RecoverMedia()
	// SetLevel selects a quality level by ID, -1 for automatic.
	SetLevel(id int)
	// SetSubtitleTrack selects an internal track by index, -1 for off.
	SetSubtitleTrack(idx int)
	Destroy()
}

// MediaEventType names the media surface events the session reacts to.
type MediaEventType int

const (
	MediaTimeUpdate MediaEventType = iota
	MediaLoadedMetadata
	MediaPlaying
	MediaPaused
	MediaWaiting
	MediaSeeked
	MediaEnded
)

// MediaEvent is one media surface notification. Position and Duration are
// seconds.
type MediaEvent struct {
	Type     MediaEventType
	Position float64
	Duration float64
}

// MediaSurface abstracts the playback output the session controls.
type MediaSurface interface {
	Play()
	Pause()
	Seek(position float64)
	SetVolume(v float64)
	SetRate(rate float64)
	SetFullscreen(on bool)
	Events() <-chan MediaEvent
}
