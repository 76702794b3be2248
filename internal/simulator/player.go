// Package simulator provides a deterministic, clock-driven implementation of
// the media playback primitive. Tests and the headless CLI drive it by
// advancing simulated time; ticks, seek completions and the ready signal are
// delivered synchronously and in order, matching the contract the engine
// expects from a real player.
package simulator

import (
	"sync"
	"time"
)

// SeekRequest records one Seek call for assertions.
type SeekRequest struct {
	To              time.Duration
	ToleranceBefore time.Duration
	ToleranceAfter  time.Duration
}

// Player simulates a media player with a fixed-duration source.
type Player struct {
	mu       sync.Mutex
	path     string
	duration time.Duration
	pos      time.Duration
	playing  bool
	muted    bool
	volume   float64
	loaded   bool

	observer func(time.Duration)
	interval time.Duration

	loadErr  error
	failSeek bool
	seeks    []SeekRequest
}

// New creates a player whose loaded media will report the given duration.
func New(duration time.Duration) *Player {
	return &Player{duration: duration, volume: 1.0}
}

// SetLoadError makes the next Load report err.
func (p *Player) SetLoadError(err error) {
	p.mu.Lock()
	p.loadErr = err
	p.mu.Unlock()
}

// SetSeekFail makes subsequent seeks report failure without moving.
func (p *Player) SetSeekFail(fail bool) {
	p.mu.Lock()
	p.failSeek = fail
	p.mu.Unlock()
}

// Load attaches a media path and reports readiness synchronously.
func (p *Player) Load(path string, onReady func(error)) {
	p.mu.Lock()
	err := p.loadErr
	if err == nil {
		p.path = path
		p.loaded = true
		p.pos = 0
		p.playing = false
	}
	p.mu.Unlock()
	onReady(err)
}

// Play starts advancing the playhead on subsequent ticks.
func (p *Player) Play() {
	p.mu.Lock()
	p.playing = true
	p.mu.Unlock()
}

// Pause stops the playhead.
func (p *Player) Pause() {
	p.mu.Lock()
	p.playing = false
	p.mu.Unlock()
}

// Seek moves the playhead and invokes done synchronously.
func (p *Player) Seek(to, toleranceBefore, toleranceAfter time.Duration, done func(bool)) {
	p.mu.Lock()
	p.seeks = append(p.seeks, SeekRequest{to, toleranceBefore, toleranceAfter})
	fail := p.failSeek
	if !fail {
		if to < 0 {
			to = 0
		}
		if to > p.duration {
			to = p.duration
		}
		p.pos = to
	}
	p.mu.Unlock()
	if done != nil {
		done(!fail)
	}
}

// CurrentTime returns the playhead position.
func (p *Player) CurrentTime() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pos
}

// Duration returns the media duration.
func (p *Player) Duration() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.loaded {
		return 0
	}
	return p.duration
}

// SetMuted sets the mute flag.
func (p *Player) SetMuted(muted bool) {
	p.mu.Lock()
	p.muted = muted
	p.mu.Unlock()
}

// Muted returns the mute flag.
func (p *Player) Muted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.muted
}

// Volume returns the player volume.
func (p *Player) Volume() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.volume
}

// Observe installs the periodic time callback. Only one observer is active at
// a time, mirroring the engine's single subscription.
func (p *Player) Observe(interval time.Duration, fn func(time.Duration)) (cancel func()) {
	p.mu.Lock()
	p.observer = fn
	p.interval = interval
	p.mu.Unlock()
	return func() {
		p.mu.Lock()
		p.observer = nil
		p.mu.Unlock()
	}
}

// Advance moves simulated time forward, delivering one tick per observer
// interval. The playhead only moves while playing; ticks fire regardless,
// like a real periodic observer. Callbacks run without internal locks held,
// so observers may re-enter the player (seek, play, pause) freely.
func (p *Player) Advance(d time.Duration) {
	for elapsed := time.Duration(0); elapsed < d; {
		p.mu.Lock()
		step := p.interval
		if step <= 0 {
			step = 100 * time.Millisecond
		}
		if p.playing {
			p.pos += step
			if p.pos > p.duration {
				p.pos = p.duration
			}
		}
		fn := p.observer
		pos := p.pos
		p.mu.Unlock()

		if fn != nil {
			fn(pos)
		}
		elapsed += step
	}
}

// Playing reports whether the playhead is advancing.
func (p *Player) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

// Seeks returns every recorded seek request.
func (p *Player) Seeks() []SeekRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]SeekRequest(nil), p.seeks...)
}

// Path returns the last loaded media path.
func (p *Player) Path() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.path
}
