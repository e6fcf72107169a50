package player

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"kumo-stream-go/pkg/history"
	"kumo-stream-go/pkg/logging"
	"kumo-stream-go/pkg/metadata"
	"kumo-stream-go/pkg/proxy"
)

// State is the session lifecycle position.
type State int

const (
	StateUninitialized State = iota
	StateLoading
	StateReady
	StatePlaying
	StatePaused
	StateBuffering
	StateEnded
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateBuffering:
		return "buffering"
	case StateEnded:
		return "ended"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// ErrStreamFailed is the session error after an unrecoverable engine
// failure.
var ErrStreamFailed = errors.New("stream failed")

// ErrInvalidSpeed rejects playback rates outside the supported set.
var ErrInvalidSpeed = errors.New("unsupported playback speed")

// ErrUnknownLevel rejects quality selections that match no known level.
var ErrUnknownLevel = errors.New("unknown quality level")

// ErrUnknownTrack rejects subtitle selections outside the track list.
var ErrUnknownTrack = errors.New("unknown subtitle track")

// Speeds are the selectable playback rates.
var Speeds = []float64{0.5, 0.75, 1, 1.25, 1.5, 2}

// Feedback is the transient on-screen action indicator.
type Feedback struct {
	Kind  string
	Value string
}

// Config describes one playback attempt.
type Config struct {
	TitleID   string
	EpisodeID string
	SourceURL string
	// Referer is carried into the proxied source URL so segment fetches
	// present it upstream.
	Referer string
	// Subtitles are the external tracks supplied with the stream.
	Subtitles []Track
	Intro     metadata.Window
	Outro     metadata.Window
	// ProxyBase is the streaming proxy mount, absolute or relative.
	ProxyBase string
	AutoPlay  bool
	// NextEpisode runs when playback ends, loading the following episode.
	NextEpisode func()

	// ResumeThreshold is the minimum stored position worth resuming.
	ResumeThreshold float64
	// SaveInterval throttles progress writes.
	SaveInterval time.Duration
	// ControlsHideDelay hides controls after inactivity while playing.
	ControlsHideDelay time.Duration
	// FeedbackDuration clears the action indicator.
	FeedbackDuration time.Duration
	// SubtitleDebounce delays the default subtitle selection so late
	// track lists settle first.
	SubtitleDebounce time.Duration
	// SkipStep is the seek distance of the skip controls.
	SkipStep float64
}

func (c *Config) applyDefaults() {
	if c.ProxyBase == "" {
		c.ProxyBase = proxy.Path
	}
	if c.ResumeThreshold == 0 {
		c.ResumeThreshold = 10
	}
	if c.SaveInterval == 0 {
		c.SaveInterval = 10 * time.Second
	}
	if c.ControlsHideDelay == 0 {
		c.ControlsHideDelay = 3 * time.Second
	}
	if c.FeedbackDuration == 0 {
		c.FeedbackDuration = 800 * time.Millisecond
	}
	if c.SubtitleDebounce == 0 {
		c.SubtitleDebounce = 800 * time.Millisecond
	}
	if c.SkipStep == 0 {
		c.SkipStep = 10
	}
}

// Session owns one playback attempt. All engine and media events are
// consumed on a single goroutine; control methods are safe from any
// goroutine.
type Session struct {
	cfg    Config
	engine Engine
	media  MediaSurface
	store  history.Store
	log    *logging.Logger

	mu       sync.Mutex
	state    State
	err      error
	position float64
	duration float64
	resumed  bool
	lastSave time.Time

	levels       []Level
	currentLevel int

	internalTracks []Track
	tracks         []Track
	currentTrack   int
	trackChosen    bool

	volume     float64
	muted      bool
	preMute    float64
	speed      float64
	fullscreen bool

	controlsVisible bool
	feedback        Feedback

	introSkipped bool
	outroSkipped bool
	wasPlaying   bool

	controlsTimer *time.Timer
	feedbackTimer *time.Timer
	subtitleTimer *time.Timer

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// NewSession wires a session. store may be nil to disable persistence.
func NewSession(cfg Config, engine Engine, media MediaSurface, store history.Store, log *logging.Logger) *Session {
	cfg.applyDefaults()
	return &Session{
		cfg:             cfg,
		engine:          engine,
		media:           media,
		store:           store,
		log:             log.WithComponent("player").With("episode_id", cfg.EpisodeID),
		state:           StateUninitialized,
		currentLevel:    -1,
		currentTrack:    -1,
		volume:          1,
		speed:           1,
		controlsVisible: true,
		done:            make(chan struct{}),
	}
}

// PlaybackURL is the source handed to the engine: remote HLS URLs are routed
// through the streaming proxy with the stream's referer, everything else
// loads directly.
func (s *Session) PlaybackURL() string {
	src := s.cfg.SourceURL
	if !strings.Contains(src, "m3u8") || strings.Contains(src, "localhost") {
		return src
	}
	out := s.cfg.ProxyBase + "?url=" + url.QueryEscape(src)
	if s.cfg.Referer != "" {
		out += "&referer=" + url.QueryEscape(s.cfg.Referer)
	}
	return out
}

// Start begins loading and launches the event loop.
func (s *Session) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	s.cancel = cancel
	s.state = StateLoading
	s.tracks = FilterTracks(MergeTracks(s.cfg.Subtitles, nil))
	s.scheduleDefaultTrackLocked()
	s.mu.Unlock()

	go s.run(ctx)
	s.engine.Load(s.PlaybackURL())
}

func (s *Session) run(ctx context.Context) {
	defer close(s.done)

	engineEvents := s.engine.Events()
	mediaEvents := s.media.Events()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-engineEvents:
			if !ok {
				engineEvents = nil
				if mediaEvents == nil {
					return
				}
				continue
			}
			s.handleEngineEvent(ev)
		case ev, ok := <-mediaEvents:
			if !ok {
				mediaEvents = nil
				if engineEvents == nil {
					return
				}
				continue
			}
			s.handleMediaEvent(ev)
		}
	}
}

func (s *Session) handleEngineEvent(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch ev.Type {
	case EventManifestReady:
		if s.state == StateLoading {
			s.state = StateReady
		}
		s.resumeLocked()
		if s.cfg.AutoPlay {
			s.media.Play()
			s.state = StatePlaying
			s.wasPlaying = true
			s.restartControlsTimerLocked()
		}

	case EventLevelsChanged:
		levels := append([]Level(nil), ev.Levels...)
		sortLevels(levels)
		s.levels = levels

	case EventSubtitleTracksChanged:
		s.internalTracks = append([]Track(nil), ev.Tracks...)
		s.tracks = FilterTracks(MergeTracks(s.cfg.Subtitles, s.internalTracks))
		s.scheduleDefaultTrackLocked()

	case EventError:
		s.handleEngineErrorLocked(ev)
	}
}

func (s *Session) handleEngineErrorLocked(ev Event) {
	switch ev.Class {
	case ErrorClassNetwork:
		s.log.WithError(ev.Err).Warn("network error, restarting load")
		s.engine.StartLoad()
	case ErrorClassMedia:
		s.log.WithError(ev.Err).Warn("media error, attempting recovery")
		s.engine.RecoverMedia()
	default:
		s.log.WithError(ev.Err).Error("unrecoverable stream error")
		s.state = StateErrored
		s.err = ErrStreamFailed
		s.stopTimersLocked()
		s.engine.Destroy()
	}
}

// resumeLocked seeks to stored progress once per session, only when the
// stored record is for this very episode and far enough in to matter.
func (s *Session) resumeLocked() {
	if s.resumed {
		return
	}
	s.resumed = true

	if s.store == nil || s.cfg.TitleID == "" {
		return
	}
	progress, ok := s.store.Get(s.cfg.TitleID)
	if !ok || progress.EpisodeID != s.cfg.EpisodeID {
		return
	}
	if progress.Position <= s.cfg.ResumeThreshold {
		return
	}
	s.log.Info("resuming playback", "position", progress.Position)
	s.media.Seek(progress.Position)
	s.position = progress.Position
}

func (s *Session) handleMediaEvent(ev MediaEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch ev.Type {
	case MediaTimeUpdate:
		s.position = ev.Position
		if ev.Duration > 0 {
			s.duration = ev.Duration
		}
		s.saveProgressLocked(false)

	case MediaLoadedMetadata:
		if ev.Duration > 0 {
			s.duration = ev.Duration
		}

	case MediaPlaying:
		s.state = StatePlaying
		s.wasPlaying = true
		s.restartControlsTimerLocked()

	case MediaPaused:
		s.state = StatePaused
		s.wasPlaying = false
		s.controlsVisible = true

	case MediaWaiting:
		if s.state == StatePlaying || s.state == StateReady {
			s.state = StateBuffering
		}

	case MediaSeeked:
		if s.state == StateBuffering {
			if s.wasPlaying {
				s.state = StatePlaying
			} else {
				s.state = StatePaused
			}
		}

	case MediaEnded:
		s.state = StateEnded
		s.saveProgressLocked(true)
		if s.cfg.NextEpisode != nil {
			go s.cfg.NextEpisode()
		}
	}
}

// saveProgressLocked writes watch progress, at most once per SaveInterval
// unless forced.
func (s *Session) saveProgressLocked(force bool) {
	if s.store == nil || s.cfg.TitleID == "" || s.duration <= 0 {
		return
	}
	now := time.Now()
	if !force && !s.lastSave.IsZero() && now.Sub(s.lastSave) < s.cfg.SaveInterval {
		return
	}
	s.lastSave = now
	if err := s.store.Save(s.cfg.TitleID, s.cfg.EpisodeID, s.position, s.duration); err != nil {
		s.log.WithError(err).Warn("saving progress failed")
	}
}

// TogglePlay flips between playing and paused.
func (s *Session) TogglePlay() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StatePlaying {
		s.media.Pause()
		s.state = StatePaused
		s.wasPlaying = false
		s.showFeedbackLocked("pause", "")
		return
	}
	s.media.Play()
	s.state = StatePlaying
	s.wasPlaying = true
	s.restartControlsTimerLocked()
	s.showFeedbackLocked("play", "")
}

// SeekTo jumps to an absolute position, clamped to the known duration.
func (s *Session) SeekTo(position float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if position < 0 {
		position = 0
	}
	if s.duration > 0 && position > s.duration {
		position = s.duration
	}
	s.media.Seek(position)
	s.position = position
}

// SkipForward seeks ahead by the configured step.
func (s *Session) SkipForward() { s.skip(s.cfg.SkipStep, "forward") }

// SkipBack seeks back by the configured step.
func (s *Session) SkipBack() { s.skip(-s.cfg.SkipStep, "rewind") }

func (s *Session) skip(delta float64, kind string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	target := s.position + delta
	if target < 0 {
		target = 0
	}
	s.media.Seek(target)
	s.position = target
	s.showFeedbackLocked(kind, "")
}

// SetVolume sets the volume in [0, 1]. Raising it from zero unmutes.
func (s *Session) SetVolume(v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}

	kind := "volume-down"
	if v > s.volume {
		kind = "volume-up"
	}
	s.volume = v
	s.muted = v == 0
	s.media.SetVolume(v)
	s.showFeedbackLocked(kind, fmt.Sprintf("%d%%", int(v*100+0.5)))
}

// ToggleMute silences playback, remembering the volume to restore. Unmuting
// a session muted at zero volume restores full volume.
func (s *Session) ToggleMute() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.muted {
		v := s.preMute
		if v == 0 {
			v = 1
		}
		s.volume = v
		s.muted = false
		s.media.SetVolume(v)
		s.showFeedbackLocked("volume-up", fmt.Sprintf("%d%%", int(v*100+0.5)))
		return
	}
	s.preMute = s.volume
	s.muted = true
	s.media.SetVolume(0)
	s.showFeedbackLocked("volume-mute", "")
}

// SetSpeed selects a playback rate from the supported set.
func (s *Session) SetSpeed(rate float64) error {
	valid := false
	for _, sp := range Speeds {
		if sp == rate {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("%w: %v", ErrInvalidSpeed, rate)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.speed = rate
	s.media.SetRate(rate)
	return nil
}

// ToggleFullscreen flips fullscreen on the media surface.
func (s *Session) ToggleFullscreen() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fullscreen = !s.fullscreen
	s.media.SetFullscreen(s.fullscreen)
}

// SelectLevel picks a quality level by ID, -1 for automatic.
func (s *Session) SelectLevel(id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id != -1 {
		found := false
		for _, l := range s.levels {
			if l.ID == id {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("%w: %d", ErrUnknownLevel, id)
		}
	}
	s.currentLevel = id
	s.engine.SetLevel(id)
	return nil
}

// SelectTrack picks a subtitle track by index into Tracks, -1 for off.
// Internal tracks are switched on in the engine; external tracks switch the
// engine's own subtitles off.
func (s *Session) SelectTrack(idx int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selectTrackLocked(idx)
}

func (s *Session) selectTrackLocked(idx int) error {
	s.trackChosen = true
	if s.subtitleTimer != nil {
		s.subtitleTimer.Stop()
	}

	if idx == -1 {
		s.currentTrack = -1
		s.engine.SetSubtitleTrack(-1)
		return nil
	}
	if idx < 0 || idx >= len(s.tracks) {
		return fmt.Errorf("%w: %d", ErrUnknownTrack, idx)
	}

	track := s.tracks[idx]
	s.currentTrack = idx

	if track.URL != "" {
		s.engine.SetSubtitleTrack(-1)
		return nil
	}
	for i, internal := range s.internalTracks {
		if internal.Label == track.Label {
			s.engine.SetSubtitleTrack(i)
			return nil
		}
	}
	s.engine.SetSubtitleTrack(-1)
	return nil
}

// scheduleDefaultTrackLocked arms the debounce that applies the default
// subtitle once the track list has settled. A user choice cancels it.
func (s *Session) scheduleDefaultTrackLocked() {
	if s.trackChosen || len(s.tracks) == 0 {
		return
	}
	if s.subtitleTimer != nil {
		s.subtitleTimer.Stop()
	}
	s.subtitleTimer = time.AfterFunc(s.cfg.SubtitleDebounce, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.trackChosen {
			return
		}
		if idx := DefaultTrackIndex(s.tracks); idx != -1 {
			s.selectTrackLocked(idx)
		}
	})
}

// SkipIntro jumps past the intro window. Works once, and only while the
// position is inside the window.
func (s *Session) SkipIntro() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.introSkipped || !s.cfg.Intro.Contains(s.position) {
		return false
	}
	s.introSkipped = true
	s.media.Seek(s.cfg.Intro.End)
	s.position = s.cfg.Intro.End
	s.showFeedbackLocked("forward", "Skipped Intro")
	return true
}

// SkipOutro jumps past the outro window. Works once, and only while the
// position is inside the window.
func (s *Session) SkipOutro() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.outroSkipped || !s.cfg.Outro.Contains(s.position) {
		return false
	}
	s.outroSkipped = true
	s.media.Seek(s.cfg.Outro.End)
	s.position = s.cfg.Outro.End
	s.showFeedbackLocked("forward", "Skipped Outro")
	return true
}

// Touch marks user activity: controls come back and the hide timer restarts.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.controlsVisible = true
	s.restartControlsTimerLocked()
}

func (s *Session) restartControlsTimerLocked() {
	if s.controlsTimer != nil {
		s.controlsTimer.Stop()
	}
	s.controlsTimer = time.AfterFunc(s.cfg.ControlsHideDelay, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.state == StatePlaying {
			s.controlsVisible = false
		}
	})
}

func (s *Session) showFeedbackLocked(kind, value string) {
	s.feedback = Feedback{Kind: kind, Value: value}
	s.controlsVisible = true
	if s.feedbackTimer != nil {
		s.feedbackTimer.Stop()
	}
	s.feedbackTimer = time.AfterFunc(s.cfg.FeedbackDuration, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.feedback = Feedback{}
	})
}

func (s *Session) stopTimersLocked() {
	for _, t := range []*time.Timer{s.controlsTimer, s.feedbackTimer, s.subtitleTimer} {
		if t != nil {
			t.Stop()
		}
	}
}

// Close tears the session down: final progress write, timers stopped,
// engine destroyed, event loop drained.
func (s *Session) Close() {
	s.once.Do(func() {
		s.mu.Lock()
		s.saveProgressLocked(true)
		s.stopTimersLocked()
		cancel := s.cancel
		s.mu.Unlock()

		s.engine.Destroy()
		if cancel != nil {
			cancel()
			<-s.done
		}
	})
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the terminal error, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Position returns the last known playback position in seconds.
func (s *Session) Position() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.position
}

// Duration returns the media duration in seconds, 0 until known.
func (s *Session) Duration() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.duration
}

// Levels returns the quality levels, highest first.
func (s *Session) Levels() []Level {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Level(nil), s.levels...)
}

// CurrentLevel returns the selected level ID, -1 for automatic.
func (s *Session) CurrentLevel() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentLevel
}

// Tracks returns the merged, filtered subtitle tracks.
func (s *Session) Tracks() []Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Track(nil), s.tracks...)
}

// CurrentTrack returns the selected subtitle index, -1 for off.
func (s *Session) CurrentTrack() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentTrack
}

// Volume returns the current volume in [0, 1].
func (s *Session) Volume() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.volume
}

// Muted reports whether playback is muted.
func (s *Session) Muted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.muted
}

// Speed returns the current playback rate.
func (s *Session) Speed() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speed
}

// Fullscreen reports whether the surface is fullscreen.
func (s *Session) Fullscreen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fullscreen
}

// ControlsVisible reports whether the controls overlay is shown.
func (s *Session) ControlsVisible() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.controlsVisible
}

// LastFeedback returns the transient action indicator, zero when cleared.
func (s *Session) LastFeedback() Feedback {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.feedback
}

func sortLevels(levels []Level) {
	sort.SliceStable(levels, func(i, j int) bool {
		if levels[i].Height != levels[j].Height {
			return levels[i].Height > levels[j].Height
		}
		return levels[i].Bitrate > levels[j].Bitrate
	})
}
