// Package session assembles the full playback pipeline: fetch and parse the
// ad document, pick a rendition for the viewport, download the creative and
// its caption track, restore persisted per-ad state, and hand the result to a
// playback engine. One Session per ad placement.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/criteo/vast-player/pkg/beacon"
	"github.com/criteo/vast-player/pkg/caption"
	"github.com/criteo/vast-player/pkg/fetch"
	"github.com/criteo/vast-player/pkg/log"
	"github.com/criteo/vast-player/pkg/measurement"
	"github.com/criteo/vast-player/pkg/metric"
	"github.com/criteo/vast-player/pkg/player"
	"github.com/criteo/vast-player/pkg/store"
	"github.com/criteo/vast-player/pkg/vast"
)

// DefaultAspect is the viewport aspect renditions are scored against when the
// caller does not supply one.
const DefaultAspect = 16.0 / 9.0

// maxDocumentSize bounds the ad response read. Real VAST documents are a few
// KB; anything near this limit is hostile or broken.
const maxDocumentSize = 4 << 20

var (
	// ErrNoPlayableMedia reports an ad document without a usable rendition.
	ErrNoPlayableMedia = errors.New("session: ad document has no playable media")
)

// Config carries the orchestrator's collaborators. Fetcher, Store and Media
// are required.
type Config struct {
	// Client fetches the ad document itself; creative assets go through
	// Fetcher.
	Client  *http.Client
	Fetcher *fetch.Fetcher
	Store   store.Repository
	Media   player.Media

	Beacons     *beacon.Dispatcher
	Measurement measurement.Provider
	AdView      any
	Listener    player.Listener
	OpenURL     func(url string)

	// TargetAspect scores renditions; zero means DefaultAspect.
	TargetAspect float64

	Log     log.Logger
	Metrics *metric.Metrics
}

// Orchestrator builds playback sessions from ad tag URLs.
type Orchestrator struct {
	cfg Config
}

// New validates the configuration and returns an orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Fetcher == nil {
		return nil, errors.New("session: fetcher is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("session: store is required")
	}
	if cfg.Media == nil {
		return nil, errors.New("session: media is required")
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.TargetAspect <= 0 {
		cfg.TargetAspect = DefaultAspect
	}
	if cfg.Log == nil {
		cfg.Log = log.NoLog
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metric.New()
	}
	if cfg.Beacons == nil {
		cfg.Beacons = beacon.New(beacon.Config{Log: cfg.Log, Metrics: cfg.Metrics})
	}
	return &Orchestrator{cfg: cfg}, nil
}

// LoadDocument fetches and parses the ad document at tagURL. A response that
// parses to a document without playable media is an error at this layer, even
// though the parser itself never fails.
func (o *Orchestrator) LoadDocument(ctx context.Context, tagURL string) (*vast.AdDocument, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, tagURL, nil)
	if err != nil {
		return nil, fmt.Errorf("session: build ad request: %w", err)
	}
	resp, err := o.cfg.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("session: fetch ad document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("session: ad server returned %d for %s", resp.StatusCode, tagURL)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize))
	if err != nil {
		return nil, fmt.Errorf("session: read ad document: %w", err)
	}

	doc := vast.Parse(data)
	if !doc.HasPlayableMedia() {
		return nil, ErrNoPlayableMedia
	}
	o.cfg.Log.Debug("ad document loaded",
		"url", tagURL, "renditions", len(doc.MediaRenditions), "title", doc.AdTitle)
	return doc, nil
}

// SelectRendition picks the mp4 rendition whose aspect ratio is closest to
// targetAspect. Renditions without dimensions score as maximally distant, so
// they are chosen only when nothing dimensioned exists. Ties keep the first
// rendition in document order.
func SelectRendition(doc *vast.AdDocument, targetAspect float64) (vast.MediaRendition, bool) {
	if targetAspect <= 0 {
		targetAspect = DefaultAspect
	}

	var best vast.MediaRendition
	bestDist := math.Inf(1)
	found := false
	for _, r := range doc.MediaRenditions {
		if !r.IsMP4() || r.URL == "" {
			continue
		}
		dist := math.Inf(1)
		if aspect, ok := r.AspectRatio(); ok {
			dist = math.Abs(aspect - targetAspect)
		}
		// Strict less-than: equal distance keeps the earlier rendition. A
		// dimensionless rendition (dist +Inf) still registers as found.
		if !found || dist < bestDist {
			best = r
			bestDist = dist
			found = true
		}
	}
	return best, found
}

// ResolveCaptionURL returns the caption track for a chosen rendition: the
// rendition's own track wins over the document-level fallback.
func ResolveCaptionURL(doc *vast.AdDocument, r vast.MediaRendition) string {
	if r.CaptionURL != "" {
		return r.CaptionURL
	}
	return doc.ClosedCaptionURL
}

// Session is one live playback of one ad document.
type Session struct {
	// ID is unique per playback attempt; Identifier is the stable per-ad key
	// state persists under.
	ID         string
	Identifier string

	engine *player.Engine
	repo   store.Repository
	log    log.Logger
}

// Engine exposes the playback engine for controls and observation.
func (s *Session) Engine() *player.Engine {
	return s.engine
}

// Stop tears the session down, persisting the playback state under the ad
// identifier first so a later session against the same identifier restores
// the user's position and intent.
func (s *Session) Stop() error {
	snap := s.engine.Snapshot()
	err := s.repo.Put(s.Identifier, snap)
	if err != nil {
		s.log.Warn("persist playback state failed", "identifier", s.Identifier, "error", err)
	}
	s.engine.Close()
	return err
}

// Start runs the full pipeline for doc and attaches the media. The video
// download is mandatory; the caption download is best effort and its failure
// only logs. Both run concurrently. On a failed video download the document's
// error beacons fire and the single terminal error returns.
func (o *Orchestrator) Start(ctx context.Context, identifier string, doc *vast.AdDocument) (*Session, error) {
	rendition, ok := SelectRendition(doc, o.cfg.TargetAspect)
	if !ok {
		return nil, ErrNoPlayableMedia
	}

	var (
		videoPath string
		track     *caption.Track
	)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p, err := o.cfg.Fetcher.Fetch(ctx, rendition.URL)
		if err != nil {
			return fmt.Errorf("session: download creative: %w", err)
		}
		videoPath = p
		return nil
	})
	if captionURL := ResolveCaptionURL(doc, rendition); captionURL != "" {
		g.Go(func() error {
			p, err := o.cfg.Fetcher.Fetch(ctx, captionURL)
			if err != nil {
				o.cfg.Log.Warn("caption download failed", "url", captionURL, "error", err)
				return nil
			}
			contents, err := os.ReadFile(p)
			if err != nil {
				o.cfg.Log.Warn("caption read failed", "path", p, "error", err)
				return nil
			}
			track = caption.Parse(string(contents))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, u := range doc.ErrorURLs {
			o.cfg.Beacons.Fire(u, "error")
		}
		return nil, err
	}

	restored, found, err := o.cfg.Store.Get(identifier)
	if err != nil {
		o.cfg.Log.Warn("restore playback state failed", "identifier", identifier, "error", err)
		found = false
	}
	if !found {
		restored = store.DefaultRecord()
	}

	engine := player.New(player.Config{
		Doc:         doc,
		Media:       o.cfg.Media,
		Beacons:     o.cfg.Beacons,
		Measurement: o.cfg.Measurement,
		AdView:      o.cfg.AdView,
		Listener:    o.cfg.Listener,
		Captions:    track,
		OpenURL:     o.cfg.OpenURL,
		Log:         o.cfg.Log,
		Metrics:     o.cfg.Metrics,
		Restored:    restored,
	})
	engine.Load(videoPath)

	s := &Session{
		ID:         uuid.NewString(),
		Identifier: identifier,
		engine:     engine,
		repo:       o.cfg.Store,
		log:        o.cfg.Log,
	}
	o.cfg.Log.Info("playback session started",
		"session", s.ID, "identifier", identifier,
		"rendition", rendition.URL, "width", rendition.Width, "height", rendition.Height)
	return s, nil
}

// Run is the convenience path: load the document at tagURL and start a
// session for it.
func (o *Orchestrator) Run(ctx context.Context, identifier, tagURL string) (*Session, error) {
	doc, err := o.LoadDocument(ctx, tagURL)
	if err != nil {
		return nil, err
	}
	return o.Start(ctx, identifier, doc)
}
