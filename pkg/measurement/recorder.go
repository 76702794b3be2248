package measurement

import (
	"fmt"
	"sync"
	"time"
)

// Recorder is a Provider whose sessions capture every call in order. It
// stands in for the vendor SDK in tests so call sequencing can be asserted.
type Recorder struct {
	mu       sync.Mutex
	sessions []*RecordedSession
}

// NewSession creates a recording session.
func (r *Recorder) NewSession(cfg SessionConfig) (Session, error) {
	s := &RecordedSession{Config: cfg, rec: r}
	r.mu.Lock()
	r.sessions = append(r.sessions, s)
	r.mu.Unlock()
	return s, nil
}

// Sessions returns every session created so far.
func (r *Recorder) Sessions() []*RecordedSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*RecordedSession(nil), r.sessions...)
}

// RecordedSession captures session and media calls as formatted strings.
type RecordedSession struct {
	Config SessionConfig

	mu    sync.Mutex
	calls []string
	rec   *Recorder
}

// Calls returns the ordered call log.
func (s *RecordedSession) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *RecordedSession) record(call string) {
	s.mu.Lock()
	s.calls = append(s.calls, call)
	s.mu.Unlock()
}

func (s *RecordedSession) Start() { s.record("start") }
func (s *RecordedSession) AddObstruction(any) { s.record("addObstruction") }
func (s *RecordedSession) AdLoaded() { s.record("adLoaded") }
func (s *RecordedSession) Impression() { s.record("impression") }
func (s *RecordedSession) Stop() { s.record("stop") }
func (s *RecordedSession) Media() MediaEvents { return recordedMedia{s} }

type recordedMedia struct {
	s *RecordedSession
}

func (m recordedMedia) Start(d time.Duration, volume float64) {
	m.s.record(fmt.Sprintf("media.start(%s,%.2f)", d, volume))
}
func (m recordedMedia) FirstQuartile() { m.s.record("media.firstQuartile") }
func (m recordedMedia) Midpoint() { m.s.record("media.midpoint") }
func (m recordedMedia) ThirdQuartile() { m.s.record("media.thirdQuartile") }
func (m recordedMedia) Complete() { m.s.record("media.complete") }
func (m recordedMedia) Pause() { m.s.record("media.pause") }
func (m recordedMedia) Resume() { m.s.record("media.resume") }
func (m recordedMedia) VolumeChange(to float64) {
	m.s.record(fmt.Sprintf("media.volumeChange(%.2f)", to))
}
func (m recordedMedia) Click() { m.s.record("media.adUserInteraction") }
