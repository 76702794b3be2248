package player

import (
	"sync"
	"time"

	"github.com/criteo/vast-player/pkg/beacon"
	"github.com/criteo/vast-player/pkg/caption"
	"github.com/criteo/vast-player/pkg/log"
	"github.com/criteo/vast-player/pkg/measurement"
	"github.com/criteo/vast-player/pkg/metric"
	"github.com/criteo/vast-player/pkg/store"
	"github.com/criteo/vast-player/pkg/vast"
)

// Engine is the playback state machine. It owns all mutable playback state:
// external callers invoke its operations and observe it through the Listener,
// never through its fields. Transitions dispatch tracking beacons and
// measurement events as side effects; neither ever feeds back into control
// flow.
type Engine struct {
	doc      *vast.AdDocument
	media    Media
	beacons  *beacon.Dispatcher
	provider measurement.Provider
	adView   any
	listener Listener
	captions *caption.Track
	openURL  func(url string)
	log      log.Logger
	metrics  *metric.Metrics

	mu              sync.Mutex
	state           State
	err             error
	reached         [quartileCount]bool
	currentQuartile Quartile
	userPaused      bool
	resumePos       *time.Duration // consumed by the next user-initiated play
	startedOnce     bool
	looping         bool
	captionsEnabled bool
	mutedPref       bool
	lastCaption     string
	impressionsSent bool
	session         measurement.Session
	events          measurement.MediaEvents
	cancelTick      func()
}

// Config assembles an engine. Doc and Media are required.
type Config struct {
	Doc         *vast.AdDocument
	Media       Media
	Beacons     *beacon.Dispatcher
	Measurement measurement.Provider
	AdView      any
	Listener    Listener
	Captions    *caption.Track
	OpenURL     func(url string)
	Log         log.Logger
	Metrics     *metric.Metrics

	// Restored is the persisted state carried over from a previous engine
	// against the same identifier.
	Restored store.Record
}

// New creates an engine in the Loading state. Call Load to attach media.
func New(cfg Config) *Engine {
	if cfg.Log == nil {
		cfg.Log = log.NoLog
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metric.New()
	}
	if cfg.Beacons == nil {
		cfg.Beacons = beacon.New(beacon.Config{Log: cfg.Log, Metrics: cfg.Metrics})
	}
	if cfg.Measurement == nil {
		cfg.Measurement = measurement.NoopProvider{}
	}
	if cfg.Listener == nil {
		cfg.Listener = NopListener{}
	}

	e := &Engine{
		doc:             cfg.Doc,
		media:           cfg.Media,
		beacons:         cfg.Beacons,
		provider:        cfg.Measurement,
		adView:          cfg.AdView,
		listener:        cfg.Listener,
		captions:        cfg.Captions,
		openURL:         cfg.OpenURL,
		log:             cfg.Log,
		metrics:         cfg.Metrics,
		state:           StateLoading,
		currentQuartile: QuartileNone,
		userPaused:      cfg.Restored.UserPaused,
		captionsEnabled: cfg.Restored.ClosedCaptionsEnabled,
		mutedPref:       cfg.Restored.Muted,
	}
	e.events = noopEvents()

	if cfg.Restored.LastPosition > 0 {
		pos := time.Duration(cfg.Restored.LastPosition * float64(time.Second))
		e.resumePos = &pos
	}
	return e
}

func noopEvents() measurement.MediaEvents {
	s, _ := measurement.NoopProvider{}.NewSession(measurement.SessionConfig{})
	return s.Media()
}

// mediaEvents snapshots the active measurement media-events sink.
func (e *Engine) mediaEvents() measurement.MediaEvents {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.events
}

// State returns the current playback state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Err returns the media-layer failure after an Error transition.
func (e *Engine) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

// CurrentQuartile returns the last quartile reached, QuartileNone before start.
func (e *Engine) CurrentQuartile() Quartile {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentQuartile
}

// Load attaches a new local media source. Quartile tracking and the active
// media session reset; the user-pause flag deliberately survives so feed
// recreation never auto-plays content the user paused.
func (e *Engine) Load(localPath string) {
	e.mu.Lock()
	e.reached = [quartileCount]bool{}
	e.currentQuartile = QuartileNone
	e.looping = false
	e.impressionsSent = false
	e.err = nil
	cancel := e.cancelTick
	e.cancelTick = nil
	sess := e.session
	e.session = nil
	e.events = noopEvents()
	e.state = StateLoading
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if sess != nil {
		sess.Stop()
	}
	e.listener.OnStateChange(StateLoading)

	e.media.Load(localPath, e.onMediaReady)
}

func (e *Engine) onMediaReady(err error) {
	if err != nil {
		e.log.Error("media load failed", "error", err)
		e.metrics.PlaybackErrors.Inc()
		for _, u := range e.doc.ErrorURLs {
			e.beacons.Fire(u, "error")
		}
		e.mu.Lock()
		e.err = err
		e.state = StateError
		e.mu.Unlock()
		e.listener.OnStateChange(StateError)
		e.listener.OnError(err)
		return
	}

	e.startMeasurementSession()

	e.mu.Lock()
	if !e.impressionsSent {
		e.impressionsSent = true
		for _, u := range e.doc.ImpressionURLs {
			e.beacons.Fire(u, "impression")
		}
	}
	muted := e.mutedPref
	autoplay := !e.userPaused
	e.cancelTick = e.media.Observe(TickInterval, e.onTick)
	e.mu.Unlock()

	e.media.SetMuted(muted)

	if !autoplay {
		// Restores the user's prior intent: attach paused, no auto-play.
		e.setState(StatePaused)
		return
	}

	e.mu.Lock()
	first := !e.startedOnce
	e.startedOnce = true
	var pos *time.Duration
	if e.resumePos != nil {
		p := *e.resumePos
		pos = &p
		e.resumePos = nil
	}
	e.mu.Unlock()

	if pos != nil {
		e.resumeAt(*pos)
	} else {
		e.media.Play()
		e.setState(StatePlaying)
	}
	if !first {
		e.mediaEvents().Resume()
	}
}

func (e *Engine) startMeasurementSession() {
	cfg := measurement.SessionConfig{
		VendorKey:  e.doc.VerificationVendorKey,
		ScriptURL:  e.doc.VerificationScriptURL,
		Parameters: e.doc.VerificationParameters,
		AdView:     e.adView,
	}
	sess, err := e.provider.NewSession(cfg)
	if err != nil {
		e.log.Warn("measurement session unavailable", "error", err)
		return
	}

	e.mu.Lock()
	e.session = sess
	e.events = sess.Media()
	e.mu.Unlock()

	sess.Start()
	sess.AdLoaded()
	sess.Impression()
}

// AddObstruction registers a view overlapping the ad surface with the active
// measurement session. Repeatable; a no-op before attach.
func (e *Engine) AddObstruction(view any) {
	e.mu.Lock()
	sess := e.session
	e.mu.Unlock()
	if sess != nil {
		sess.AddObstruction(view)
	}
}

// Play transitions Paused to Playing. A user-initiated play clears the
// user-pause flag, seeks precisely to any saved position first and fires the
// resume beacon; a programmatic play fires only the measurement resume event.
// Neither fires anything on the very first play.
func (e *Engine) Play(source ActionSource) {
	e.mu.Lock()
	if source == SourceUser {
		e.userPaused = false
	}
	if e.state != StatePaused {
		e.mu.Unlock()
		return
	}
	first := !e.startedOnce
	e.startedOnce = true
	var pos *time.Duration
	if source == SourceUser && e.resumePos != nil {
		p := *e.resumePos
		pos = &p
		e.resumePos = nil
	}
	e.mu.Unlock()

	if pos != nil {
		e.resumeAt(*pos)
	} else {
		e.media.Play()
		e.setState(StatePlaying)
	}

	if first {
		return
	}
	e.mediaEvents().Resume()
	if source == SourceUser {
		e.beacons.Fire(e.doc.TrackingURL(vast.EventResume), vast.EventResume)
	}
}

// Pause transitions Playing to Paused, capturing the position for a later
// precise resume. Only a user-initiated pause sets the user-pause flag and
// fires the pause beacon.
func (e *Engine) Pause(source ActionSource) {
	e.mu.Lock()
	if e.state != StatePlaying {
		if source == SourceUser {
			e.userPaused = true
		}
		e.mu.Unlock()
		return
	}
	pos := e.media.CurrentTime()
	e.resumePos = &pos
	if source == SourceUser {
		e.userPaused = true
	}
	e.mu.Unlock()

	e.media.Pause()
	e.setState(StatePaused)
	e.mediaEvents().Pause()

	if source == SourceUser {
		e.beacons.Fire(e.doc.TrackingURL(vast.EventPause), vast.EventPause)
	}
}

// ToggleMute flips the mute state, remembers it for recreation, and fires the
// volume-change measurement event plus the mute/unmute beacon.
func (e *Engine) ToggleMute() {
	muted := !e.media.Muted()
	e.media.SetMuted(muted)

	e.mu.Lock()
	e.mutedPref = muted
	e.mu.Unlock()

	events := e.mediaEvents()
	if muted {
		events.VolumeChange(0)
		e.beacons.Fire(e.doc.TrackingURL(vast.EventMute), vast.EventMute)
	} else {
		events.VolumeChange(e.media.Volume())
		e.beacons.Fire(e.doc.TrackingURL(vast.EventUnmute), vast.EventUnmute)
	}
}

// HandleClick processes a tap on the ad surface: the measurement click event
// and every click-tracking beacon always fire; then the click-through opens,
// or, when the ad has none, the tap falls back to toggling play/pause.
func (e *Engine) HandleClick() {
	e.mediaEvents().Click()
	for _, u := range e.doc.ClickTrackingURLs {
		e.beacons.Fire(u, "clickTracking")
	}

	if u := e.doc.ResolvedClickThroughURL(); u != "" {
		if e.openURL != nil {
			e.openURL(u)
		}
		return
	}

	if e.State() == StatePlaying {
		e.Pause(SourceUser)
	} else {
		e.Play(SourceUser)
	}
}

// SetCaptionsEnabled toggles caption lookups on the playback tick.
func (e *Engine) SetCaptionsEnabled(enabled bool) {
	e.mu.Lock()
	e.captionsEnabled = enabled
	clear := !enabled && e.lastCaption != ""
	if clear {
		e.lastCaption = ""
	}
	e.mu.Unlock()
	if clear {
		e.listener.OnCaption("")
	}
}

// Snapshot captures the state to persist across engine teardowns.
func (e *Engine) Snapshot() store.Record {
	e.mu.Lock()
	defer e.mu.Unlock()
	return store.Record{
		LastPosition:          e.media.CurrentTime().Seconds(),
		UserPaused:            e.userPaused,
		ClosedCaptionsEnabled: e.captionsEnabled,
		Muted:                 e.media.Muted(),
	}
}

// Close releases everything the engine owns: the tick subscription, the
// measurement session and outstanding beacon tasks.
func (e *Engine) Close() {
	e.mu.Lock()
	cancel := e.cancelTick
	e.cancelTick = nil
	sess := e.session
	e.session = nil
	e.events = noopEvents()
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if sess != nil {
		sess.Stop()
	}
	e.beacons.CancelAll()
}

// onTick runs on every periodic time update. Quartile checks only run while
// Playing so a paused or loading player can never fire completion, and only
// when the duration is known.
func (e *Engine) onTick(position time.Duration) {
	e.mu.Lock()
	if e.state != StatePlaying {
		e.mu.Unlock()
		return
	}

	duration := e.media.Duration()
	var fired []Quartile
	loop := false
	if duration > 0 {
		progress := float64(position) / float64(duration)
		// Ascending order: a forward jump past several thresholds fires
		// each missed quartile exactly once, in the same tick.
		for q := QuartileStart; q <= QuartileComplete; q++ {
			if progress >= q.Threshold() && !e.reached[q] {
				e.reached[q] = true
				e.currentQuartile = q
				fired = append(fired, q)
			}
		}
		if progress >= 1.0 && !e.looping {
			e.looping = true
			loop = true
		}
	}

	captionText := e.lastCaption
	captionChanged := false
	if e.captionsEnabled && e.captions != nil {
		text, _ := e.captions.TextAt(position)
		if text != e.lastCaption {
			e.lastCaption = text
			captionText = text
			captionChanged = true
		}
	}
	e.mu.Unlock()

	for _, q := range fired {
		e.fireQuartile(q)
	}
	if captionChanged {
		e.listener.OnCaption(captionText)
	}
	if loop {
		e.restartFromZero()
	}
}

// fireQuartile notifies the listener, the measurement session and the beacon
// dispatcher. The beacon and measurement paths are independent: either can
// fire while the other has nothing to do.
func (e *Engine) fireQuartile(q Quartile) {
	e.metrics.QuartilesReached.WithLabelValues(q.EventName()).Inc()
	e.listener.OnQuartile(q)

	events := e.mediaEvents()
	switch q {
	case QuartileStart:
		volume := e.media.Volume()
		if e.media.Muted() {
			volume = 0
		}
		events.Start(e.media.Duration(), volume)
	case QuartileFirst:
		events.FirstQuartile()
	case QuartileMidpoint:
		events.Midpoint()
	case QuartileThird:
		events.ThirdQuartile()
	case QuartileComplete:
		events.Complete()
	}

	url := e.doc.TrackingURL(q.EventName())
	if url == "" {
		e.log.Debug("no tracking url for quartile", "quartile", q.EventName())
		return
	}
	e.beacons.Fire(url, q.EventName())
}

// restartFromZero implements the end-of-media loop: seek back to the start
// and resume immediately. Finished is only ever observed when the seek
// reports failure, and even then playback is re-attempted from wherever the
// seek landed.
func (e *Engine) restartFromZero() {
	e.media.Seek(0, 0, 0, func(ok bool) {
		if !ok {
			e.log.Warn("loop seek failed, resuming from current position")
			e.setState(StateFinished)
		}
		e.media.Play()
		e.setState(StatePlaying)
		e.mu.Lock()
		e.looping = false
		e.mu.Unlock()
	})
}

// resumeAt seeks precisely (zero tolerance) before starting playback, so a
// restored position lands on the exact frame. A failed seek still plays from
// the current position rather than stalling.
func (e *Engine) resumeAt(pos time.Duration) {
	e.media.Seek(pos, 0, 0, func(ok bool) {
		if !ok {
			e.log.Warn("precise seek failed, playing from current position", "target", pos)
		}
		e.media.Play()
		e.setState(StatePlaying)
	})
}

// SeekTo performs a coarse seek with default tolerance.
func (e *Engine) SeekTo(pos time.Duration) {
	e.media.Seek(pos, coarseTolerance, coarseTolerance, func(ok bool) {
		if !ok {
			e.log.Warn("seek failed", "target", pos)
		}
	})
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	if e.state == s {
		e.mu.Unlock()
		return
	}
	e.state = s
	e.mu.Unlock()
	e.listener.OnStateChange(s)
}
