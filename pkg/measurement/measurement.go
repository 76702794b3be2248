// Package measurement defines the contract to the external viewability
// verification SDK. The player depends only on these interfaces; the vendor
// adapter and the no-op stand-in are selected at construction time.
package measurement

import (
	"time"

	"github.com/criteo/vast-player/pkg/log"
)

// SessionConfig bootstraps a verification session from the parsed ad
// document's AdVerifications block.
type SessionConfig struct {
	VendorKey  string
	ScriptURL  string
	Parameters string
	AdView     any // opaque handle to the rendering surface
}

// MediaEvents is the playback-progress sub-interface of a session. Calls
// arrive in playback order from the engine's owning goroutine.
type MediaEvents interface {
	Start(duration time.Duration, volume float64)
	FirstQuartile()
	Midpoint()
	ThirdQuartile()
	Complete()
	Pause()
	Resume()
	VolumeChange(to float64)
	Click()
}

// Session is one viewability-measurement session, bound to a single ad view.
type Session interface {
	Start()
	AddObstruction(view any)
	AdLoaded()
	Impression()
	Media() MediaEvents
	Stop()
}

// Provider creates sessions. Exactly one provider is chosen when the player
// is constructed; call sites never type-check the implementation.
type Provider interface {
	NewSession(cfg SessionConfig) (Session, error)
}

// Config selects the provider implementation.
type Config struct {
	// Vendor is the embedder-supplied real SDK adapter. Nil selects the
	// no-op provider.
	Vendor Provider
	Log    log.Logger
}

// NewProvider returns the vendor provider when configured and the no-op
// provider otherwise. Call sequencing is identical either way.
func NewProvider(cfg Config) Provider {
	if cfg.Vendor != nil {
		return cfg.Vendor
	}
	if cfg.Log != nil {
		cfg.Log.Debug("measurement vendor not configured, using no-op sessions")
	}
	return NoopProvider{}
}

// NoopProvider creates sessions that accept every call and do nothing.
type NoopProvider struct{}

// NewSession returns a no-op session.
func (NoopProvider) NewSession(SessionConfig) (Session, error) {
	return &noopSession{}, nil
}

type noopSession struct{}

func (s *noopSession) Start() {}
func (s *noopSession) AddObstruction(any) {}
func (s *noopSession) AdLoaded() {}
func (s *noopSession) Impression() {}
func (s *noopSession) Stop() {}
func (s *noopSession) Media() MediaEvents { return noopMedia{} }

type noopMedia struct{}

func (noopMedia) Start(time.Duration, float64) {}
func (noopMedia) FirstQuartile() {}
func (noopMedia) Midpoint() {}
func (noopMedia) ThirdQuartile() {}
func (noopMedia) Complete() {}
func (noopMedia) Pause() {}
func (noopMedia) Resume() {}
func (noopMedia) VolumeChange(float64) {}
func (noopMedia) Click() {}
