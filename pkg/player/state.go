package player

import "github.com/criteo/vast-player/pkg/vast"

// State of the playback engine.
type State int

const (
	StateLoading State = iota
	StatePlaying
	StatePaused
	StateFinished
	StateError
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateFinished:
		return "finished"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// ActionSource distinguishes user-initiated play/pause from programmatic
// commands issued by feed visibility logic. The two differ in beacon and
// resume-memory side effects.
type ActionSource int

const (
	SourceProgram ActionSource = iota
	SourceUser
)

// Quartile is one of the five playback-progress checkpoints.
type Quartile int

const (
	QuartileStart Quartile = iota
	QuartileFirst
	QuartileMidpoint
	QuartileThird
	QuartileComplete

	quartileCount = 5
)

// QuartileNone marks "no quartile reached yet".
const QuartileNone Quartile = -1

var quartileThresholds = [quartileCount]float64{0.0, 0.25, 0.5, 0.75, 1.0}

var quartileEvents = [quartileCount]string{
	vast.EventStart,
	vast.EventFirstQuartile,
	vast.EventMidpoint,
	vast.EventThirdQuartile,
	vast.EventComplete,
}

// Threshold returns the progress fraction at which the quartile fires.
func (q Quartile) Threshold() float64 {
	return quartileThresholds[q]
}

// EventName returns the VAST tracking event name for the quartile.
func (q Quartile) EventName() string {
	return quartileEvents[q]
}

func (q Quartile) String() string {
	if q == QuartileNone {
		return "none"
	}
	return q.EventName()
}
