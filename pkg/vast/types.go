package vast

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Standard VAST tracking event names. Quartile events fire in this order as
// playback progresses; the rest are interaction events.
const (
	EventStart         = "start"
	EventFirstQuartile = "firstQuartile"
	EventMidpoint      = "midpoint"
	EventThirdQuartile = "thirdQuartile"
	EventComplete      = "complete"
	EventMute          = "mute"
	EventUnmute        = "unmute"
	EventPause         = "pause"
	EventResume        = "resume"
)

// MediaRendition is one encoded variant of the ad creative.
type MediaRendition struct {
	URL        string
	Width      int
	Height     int
	MimeType   string
	CaptionURL string // per-rendition caption track, optional
}

// AspectRatio returns width/height. The second return is false when either
// dimension is missing; such renditions cannot be scored for viewport fit.
func (r MediaRendition) AspectRatio() (float64, bool) {
	if r.Width <= 0 || r.Height <= 0 {
		return 0, false
	}
	return float64(r.Width) / float64(r.Height), true
}

// IsMP4 reports whether the rendition is mp4-compatible.
func (r MediaRendition) IsMP4() bool {
	return strings.Contains(strings.ToLower(r.MimeType), "mp4")
}

// Pricing carries the ad's declared price, when present.
type Pricing struct {
	Model    string
	Currency string
	Value    decimal.Decimal
}

// AdDocument is the parsed, immutable ad model. A document without a playable
// media rendition is the parse-failure signal; Parse itself never errors.
type AdDocument struct {
	AdSystem   string
	AdTitle    string
	Duration   time.Duration
	SkipOffset string
	Pricing    *Pricing

	// Document order preserved; duplicates allowed, fired independently.
	MediaRenditions   []MediaRendition
	ImpressionURLs    []string
	ErrorURLs         []string
	ClickTrackingURLs []string

	// Event name to beacon URL, last occurrence wins.
	TrackingEvents map[string]string

	ClickThroughURL  string
	ClosedCaptionURL string // document-level fallback caption track

	// Viewability verification bootstrap data.
	VerificationVendorKey      string
	VerificationScriptURL      string
	VerificationParameters     string
	VerificationTrackingEvents map[string]string
}

// VideoURL returns the URL of the first mp4-compatible rendition, the
// historical primary. Empty when no such rendition exists.
func (d *AdDocument) VideoURL() string {
	for _, r := range d.MediaRenditions {
		if r.IsMP4() {
			return r.URL
		}
	}
	return ""
}

// HasPlayableMedia reports whether the document carries anything a player
// could load. False means the ad response is unusable.
func (d *AdDocument) HasPlayableMedia() bool {
	for _, r := range d.MediaRenditions {
		if r.URL != "" {
			return true
		}
	}
	return false
}

// TrackingURL looks up the beacon URL for an event name. Empty when absent.
func (d *AdDocument) TrackingURL(event string) string {
	return d.TrackingEvents[event]
}

// ResolvedClickThroughURL returns the click-through destination with the
// scheme defaulted to https when the document omitted it. Empty when the ad
// has no click-through at all.
func (d *AdDocument) ResolvedClickThroughURL() string {
	u := d.ClickThroughURL
	if u == "" {
		return ""
	}
	if !strings.Contains(u, "://") {
		return "https://" + u
	}
	return u
}
