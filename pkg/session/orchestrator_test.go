package session_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/criteo/vast-player/internal/simulator"
	"github.com/criteo/vast-player/pkg/fetch"
	"github.com/criteo/vast-player/pkg/player"
	"github.com/criteo/vast-player/pkg/session"
	"github.com/criteo/vast-player/pkg/store"
	"github.com/criteo/vast-player/pkg/vast"
)

func mp4(url string, w, h int) vast.MediaRendition {
	return vast.MediaRendition{URL: url, Width: w, Height: h, MimeType: "video/mp4"}
}

func TestSelectRendition(t *testing.T) {
	tests := []struct {
		name       string
		renditions []vast.MediaRendition
		aspect     float64
		wantURL    string
		wantFound  bool
	}{
		{
			name:      "empty document",
			wantFound: false,
		},
		{
			name: "skips non-mp4",
			renditions: []vast.MediaRendition{
				{URL: "https://cdn/a.webm", Width: 1920, Height: 1080, MimeType: "video/webm"},
				mp4("https://cdn/b.mp4", 640, 480),
			},
			wantURL:   "https://cdn/b.mp4",
			wantFound: true,
		},
		{
			name: "only non-mp4",
			renditions: []vast.MediaRendition{
				{URL: "https://cdn/a.webm", Width: 1920, Height: 1080, MimeType: "video/webm"},
			},
			wantFound: false,
		},
		{
			name: "closest aspect wins",
			renditions: []vast.MediaRendition{
				mp4("https://cdn/4x3.mp4", 640, 480),
				mp4("https://cdn/16x9.mp4", 1280, 720),
			},
			wantURL:   "https://cdn/16x9.mp4",
			wantFound: true,
		},
		{
			name: "equal aspect keeps document order",
			renditions: []vast.MediaRendition{
				mp4("https://cdn/small.mp4", 640, 360),
				mp4("https://cdn/large.mp4", 1280, 720),
			},
			wantURL:   "https://cdn/small.mp4",
			wantFound: true,
		},
		{
			name: "dimensionless loses to any dimensioned",
			renditions: []vast.MediaRendition{
				mp4("https://cdn/nodims.mp4", 0, 0),
				mp4("https://cdn/square.mp4", 480, 480),
			},
			wantURL:   "https://cdn/square.mp4",
			wantFound: true,
		},
		{
			name: "dimensionless chosen when nothing else exists",
			renditions: []vast.MediaRendition{
				mp4("https://cdn/nodims.mp4", 0, 0),
			},
			wantURL:   "https://cdn/nodims.mp4",
			wantFound: true,
		},
		{
			name: "custom target aspect",
			renditions: []vast.MediaRendition{
				mp4("https://cdn/wide.mp4", 1280, 720),
				mp4("https://cdn/portrait.mp4", 720, 1280),
			},
			aspect:    9.0 / 16.0,
			wantURL:   "https://cdn/portrait.mp4",
			wantFound: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := &vast.AdDocument{MediaRenditions: tt.renditions}
			got, found := session.SelectRendition(doc, tt.aspect)
			if found != tt.wantFound {
				t.Fatalf("found = %v, want %v", found, tt.wantFound)
			}
			if found && got.URL != tt.wantURL {
				t.Fatalf("URL = %q, want %q", got.URL, tt.wantURL)
			}
		})
	}
}

func TestResolveCaptionURL(t *testing.T) {
	doc := &vast.AdDocument{ClosedCaptionURL: "https://cdn/doc.vtt"}

	withOwn := vast.MediaRendition{CaptionURL: "https://cdn/rendition.vtt"}
	if got := session.ResolveCaptionURL(doc, withOwn); got != "https://cdn/rendition.vtt" {
		t.Fatalf("rendition caption should win, got %q", got)
	}
	if got := session.ResolveCaptionURL(doc, vast.MediaRendition{}); got != "https://cdn/doc.vtt" {
		t.Fatalf("document fallback expected, got %q", got)
	}
	if got := session.ResolveCaptionURL(&vast.AdDocument{}, vast.MediaRendition{}); got != "" {
		t.Fatalf("no caption expected, got %q", got)
	}
}

// adServer serves an ad tag, its creative assets and counts beacon hits.
type adServer struct {
	srv *httptest.Server

	mu      sync.Mutex
	beacons map[string]int
}

func newAdServer(t *testing.T) *adServer {
	t.Helper()
	a := &adServer{beacons: make(map[string]int)}
	mux := http.NewServeMux()
	mux.HandleFunc("/tag", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<VAST version="4.0"><Ad><InLine>
<Impression>%[1]s/b/impression</Impression>
<Error>%[1]s/b/error</Error>
<Creatives><Creative><Linear>
<TrackingEvents>
<Tracking event="start">%[1]s/b/start</Tracking>
<Tracking event="complete">%[1]s/b/complete</Tracking>
</TrackingEvents>
<MediaFiles>
<MediaFile type="video/mp4" width="640" height="360">%[1]s/creative.mp4</MediaFile>
<ClosedCaptionFiles><ClosedCaptionFile>%[1]s/captions.vtt</ClosedCaptionFile></ClosedCaptionFiles>
</MediaFiles>
</Linear></Creative></Creatives>
</InLine></Ad></VAST>`, a.srv.URL)
	})
	mux.HandleFunc("/creative.mp4", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/mp4")
		w.Write([]byte("not really mp4 bytes"))
	})
	mux.HandleFunc("/captions.vtt", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/vtt")
		w.Write([]byte("0:00:00.000 --> 0:00:05.000\nhello from vtt\n"))
	})
	mux.HandleFunc("/b/", func(w http.ResponseWriter, r *http.Request) {
		a.mu.Lock()
		a.beacons[r.URL.Path]++
		a.mu.Unlock()
	})
	a.srv = httptest.NewServer(mux)
	t.Cleanup(a.srv.Close)
	return a
}

func (a *adServer) beaconCount(path string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.beacons[path]
}

func newOrchestrator(t *testing.T, sim *simulator.Player, repo store.Repository) *session.Orchestrator {
	t.Helper()
	fetcher, err := fetch.New(fetch.Config{Dir: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	o, err := session.New(session.Config{
		Fetcher: fetcher,
		Store:   repo,
		Media:   sim,
	})
	if err != nil {
		t.Fatal(err)
	}
	return o
}

func TestOrchestrator_RunPlaysTheAd(t *testing.T) {
	require := require.New(t)

	ads := newAdServer(t)
	sim := simulator.New(10 * time.Second)
	repo := store.NewMemory()
	o := newOrchestrator(t, sim, repo)

	sess, err := o.Run(context.Background(), "placement-1", ads.srv.URL+"/tag")
	require.NoError(err)
	require.NotEmpty(sess.ID)
	require.Equal("placement-1", sess.Identifier)

	eng := sess.Engine()
	require.Equal(player.StatePlaying, eng.State())
	require.True(sim.Playing())
	require.NotEmpty(sim.Path())

	sim.Advance(time.Second)
	require.Equal(player.QuartileStart, eng.CurrentQuartile())

	require.NoError(sess.Stop())
}

func TestOrchestrator_StopPersistsState(t *testing.T) {
	require := require.New(t)

	ads := newAdServer(t)
	sim := simulator.New(10 * time.Second)
	repo := store.NewMemory()
	o := newOrchestrator(t, sim, repo)

	sess, err := o.Run(context.Background(), "placement-2", ads.srv.URL+"/tag")
	require.NoError(err)

	sim.Advance(2 * time.Second)
	sess.Engine().Pause(player.SourceUser)
	require.NoError(sess.Stop())

	rec, found, err := repo.Get("placement-2")
	require.NoError(err)
	require.True(found)
	require.True(rec.UserPaused)
	require.InDelta(2.0, rec.LastPosition, 0.15)

	// A later session against the same identifier attaches paused.
	sim2 := simulator.New(10 * time.Second)
	o2 := newOrchestrator(t, sim2, repo)
	sess2, err := o2.Run(context.Background(), "placement-2", ads.srv.URL+"/tag")
	require.NoError(err)
	require.Equal(player.StatePaused, sess2.Engine().State())
	require.False(sim2.Playing())
}

func TestOrchestrator_LoadDocumentErrors(t *testing.T) {
	require := require.New(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/missing":
			w.WriteHeader(http.StatusNotFound)
		case "/empty":
			fmt.Fprint(w, `<VAST version="4.0"></VAST>`)
		}
	}))
	defer srv.Close()

	sim := simulator.New(10 * time.Second)
	o := newOrchestrator(t, sim, store.NewMemory())

	_, err := o.LoadDocument(context.Background(), srv.URL+"/missing")
	require.Error(err)

	_, err = o.LoadDocument(context.Background(), srv.URL+"/empty")
	require.ErrorIs(err, session.ErrNoPlayableMedia)
}

func TestOrchestrator_VideoDownloadFailureFiresErrorBeacons(t *testing.T) {
	require := require.New(t)

	ads := newAdServer(t)
	doc := &vast.AdDocument{
		MediaRenditions: []vast.MediaRendition{
			mp4(ads.srv.URL+"/nonexistent.mp4", 640, 360),
		},
		ErrorURLs: []string{ads.srv.URL + "/b/error"},
	}

	sim := simulator.New(10 * time.Second)
	o := newOrchestrator(t, sim, store.NewMemory())

	_, err := o.Start(context.Background(), "placement-3", doc)
	require.Error(err)

	// The error beacon is fire-and-forget; poll briefly for delivery.
	deadline := time.Now().Add(2 * time.Second)
	for ads.beaconCount("/b/error") == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	require.Equal(1, ads.beaconCount("/b/error"))
}

func TestOrchestrator_CaptionFailureIsNotFatal(t *testing.T) {
	require := require.New(t)

	ads := newAdServer(t)
	doc := &vast.AdDocument{
		MediaRenditions: []vast.MediaRendition{
			{
				URL: ads.srv.URL + "/creative.mp4", Width: 640, Height: 360,
				MimeType: "video/mp4", CaptionURL: ads.srv.URL + "/nonexistent.vtt",
			},
		},
	}

	sim := simulator.New(10 * time.Second)
	o := newOrchestrator(t, sim, store.NewMemory())

	sess, err := o.Start(context.Background(), "placement-4", doc)
	require.NoError(err)
	require.Equal(player.StatePlaying, sess.Engine().State())
	sess.Stop()
}

func TestOrchestrator_ConfigValidation(t *testing.T) {
	fetcher, err := fetch.New(fetch.Config{Dir: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	sim := simulator.New(time.Second)
	repo := store.NewMemory()

	cases := map[string]session.Config{
		"missing fetcher": {Store: repo, Media: sim},
		"missing store":   {Fetcher: fetcher, Media: sim},
		"missing media":   {Fetcher: fetcher, Store: repo},
	}
	for name, cfg := range cases {
		if _, err := session.New(cfg); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}
