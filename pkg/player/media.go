package player

import "time"

// TickInterval is the periodic time-observer cadence the engine subscribes at.
const TickInterval = 100 * time.Millisecond

// coarseTolerance is the default seek slack. Precise seeks (restoring a saved
// position) pass zero tolerance so playback resumes on the exact frame.
const coarseTolerance = 500 * time.Millisecond

// Media is the external playback primitive the engine drives. Implementations
// deliver the ready callback, seek completions and periodic ticks on a single
// goroutine, in order.
type Media interface {
	// Load prepares a local media file and reports readiness exactly once.
	Load(path string, onReady func(error))

	Play()
	Pause()

	// Seek moves the playhead. done is always invoked with a success flag.
	Seek(to, toleranceBefore, toleranceAfter time.Duration, done func(ok bool))

	CurrentTime() time.Duration
	Duration() time.Duration

	SetMuted(muted bool)
	Muted() bool
	Volume() float64

	// Observe subscribes a periodic time callback; the returned func cancels
	// the subscription. Ticks are strictly ordered and monotonic per load.
	Observe(interval time.Duration, fn func(position time.Duration)) (cancel func())
}

// Listener receives engine notifications. One delegate, invoked synchronously
// on the goroutine that triggered the transition; implementations must not
// block.
type Listener interface {
	OnStateChange(s State)
	OnQuartile(q Quartile)
	OnCaption(text string)
	OnError(err error)
}

// NopListener implements Listener with no behavior, for embedding.
type NopListener struct{}

func (NopListener) OnStateChange(State) {}
func (NopListener) OnQuartile(Quartile) {}
func (NopListener) OnCaption(string) {}
func (NopListener) OnError(error) {}
