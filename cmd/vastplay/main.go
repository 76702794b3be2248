// vastplay runs the full ad playback pipeline headlessly against a simulated
// media clock: fetch the ad tag, download the creative, track quartiles, fire
// beacons. A small HTTP API exposes playback state, controls and metrics.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/criteo/vast-player/internal/simulator"
	"github.com/criteo/vast-player/pkg/beacon"
	"github.com/criteo/vast-player/pkg/fetch"
	"github.com/criteo/vast-player/pkg/log"
	"github.com/criteo/vast-player/pkg/measurement"
	"github.com/criteo/vast-player/pkg/metric"
	"github.com/criteo/vast-player/pkg/player"
	"github.com/criteo/vast-player/pkg/session"
	"github.com/criteo/vast-player/pkg/store"
	"github.com/criteo/vast-player/pkg/vast"
)

var (
	// Ad configuration flags
	tagURL    = flag.String("tag", "", "VAST ad tag URL or local XML file (required)")
	placement = flag.String("placement", "default", "Placement identifier; persisted state keys on it")
	aspect    = flag.Float64("aspect", session.DefaultAspect, "Viewport aspect ratio for rendition selection")

	// Simulated playback
	mediaDuration = flag.Duration("media-duration", 30*time.Second, "Simulated media duration")
	speed         = flag.Float64("speed", 1.0, "Playback clock multiplier")

	// Storage and serving
	dataDir  = flag.String("data-dir", "", "Persistent state directory (empty = in-memory)")
	cacheDir = flag.String("cache-dir", os.TempDir()+"/vastplay", "Creative cache directory")
	listen   = flag.String("listen", ":8080", "Debug/metrics HTTP listen address")

	// Logging
	logLevel = flag.String("log-level", "info", "Log level: debug, info, warn, error")
	env      = flag.String("env", "development", "Environment (development/production)")

	Version = "dev"
)

// logListener bridges engine notifications into the structured log.
type logListener struct {
	log log.Logger
}

func (l logListener) OnStateChange(s player.State) {
	l.log.Info("playback state", "state", s.String())
}

func (l logListener) OnQuartile(q player.Quartile) {
	l.log.Info("quartile reached", "quartile", q.String())
}

func (l logListener) OnCaption(text string) {
	if text != "" {
		l.log.Debug("caption", "text", text)
	}
}

func (l logListener) OnError(err error) {
	l.log.Error("playback error", "error", err)
}

func main() {
	flag.Parse()

	if *tagURL == "" {
		fmt.Println("Error: --tag is required")
		flag.Usage()
		os.Exit(1)
	}

	fmt.Printf("vastplay %s\n", Version)

	logger := log.NewWithLevel("vastplay", *logLevel)
	defer logger.Sync()

	registry := prometheus.NewRegistry()
	metrics := metric.NewWithRegistry(registry)

	repo, err := openStore(*dataDir)
	if err != nil {
		logger.Error("open state store failed", "error", err)
		os.Exit(1)
	}
	defer repo.Close()

	fetcher, err := fetch.New(fetch.Config{
		Dir:     *cacheDir,
		Log:     logger,
		Metrics: metrics,
	})
	if err != nil {
		logger.Error("create fetcher failed", "error", err)
		os.Exit(1)
	}

	beacons := beacon.New(beacon.Config{Log: logger, Metrics: metrics})
	sim := simulator.New(*mediaDuration)

	orch, err := session.New(session.Config{
		Fetcher:      fetcher,
		Store:        repo,
		Media:        sim,
		Beacons:      beacons,
		Measurement:  measurement.NoopProvider{},
		Listener:     logListener{log: logger},
		OpenURL:      func(u string) { logger.Info("click-through", "url", u) },
		TargetAspect: *aspect,
		Log:          logger,
		Metrics:      metrics,
	})
	if err != nil {
		logger.Error("create orchestrator failed", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sess, err := startSession(ctx, orch, *placement, *tagURL)
	if err != nil {
		logger.Error("start session failed", "tag", *tagURL, "error", err)
		os.Exit(1)
	}
	eng := sess.Engine()

	// Drive the simulated media clock in real time.
	go func() {
		ticker := time.NewTicker(player.TickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sim.Advance(time.Duration(float64(player.TickInterval) * *speed))
			}
		}
	}()

	srv := &http.Server{
		Addr:    *listen,
		Handler: setupRouter(sess, eng, sim, registry),
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server failed", "error", err)
			os.Exit(1)
		}
	}()
	logger.Info("vastplay started",
		"listen", *listen, "placement", *placement, "session", sess.ID)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown failed", "error", err)
	}

	// Persist playback state before the process exits.
	if err := sess.Stop(); err != nil {
		logger.Warn("session stop failed", "error", err)
	}
	beacons.Wait()
}

// startSession accepts either an ad tag URL or a path to a VAST XML file.
func startSession(ctx context.Context, orch *session.Orchestrator, placement, tag string) (*session.Session, error) {
	if strings.Contains(tag, "://") {
		return orch.Run(ctx, placement, tag)
	}
	data, err := os.ReadFile(tag)
	if err != nil {
		return nil, fmt.Errorf("read ad tag file: %w", err)
	}
	doc := vast.Parse(data)
	if !doc.HasPlayableMedia() {
		return nil, session.ErrNoPlayableMedia
	}
	return orch.Start(ctx, placement, doc)
}

func openStore(dir string) (store.Repository, error) {
	if dir == "" {
		return store.NewMemory(), nil
	}
	return store.NewBadger(dir)
}

func setupRouter(sess *session.Session, eng *player.Engine, sim *simulator.Player, registry *prometheus.Registry) *gin.Engine {
	if *env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()
	router.Use(cors.Default())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	router.GET("/state", func(c *gin.Context) {
		resp := gin.H{
			"session":   sess.ID,
			"placement": sess.Identifier,
			"state":     eng.State().String(),
			"quartile":  eng.CurrentQuartile().String(),
			"position":  sim.CurrentTime().Seconds(),
			"duration":  sim.Duration().Seconds(),
			"muted":     sim.Muted(),
		}
		if err := eng.Err(); err != nil {
			resp["error"] = err.Error()
		}
		c.JSON(http.StatusOK, resp)
	})

	// Playback controls, all acting as the user.
	router.POST("/play", func(c *gin.Context) {
		eng.Play(player.SourceUser)
		c.JSON(http.StatusOK, gin.H{"state": eng.State().String()})
	})
	router.POST("/pause", func(c *gin.Context) {
		eng.Pause(player.SourceUser)
		c.JSON(http.StatusOK, gin.H{"state": eng.State().String()})
	})
	router.POST("/mute", func(c *gin.Context) {
		eng.ToggleMute()
		c.JSON(http.StatusOK, gin.H{"muted": sim.Muted()})
	})
	router.POST("/click", func(c *gin.Context) {
		eng.HandleClick()
		c.JSON(http.StatusOK, gin.H{"state": eng.State().String()})
	})
	router.POST("/captions", func(c *gin.Context) {
		var body struct {
			Enabled bool `json:"enabled"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		eng.SetCaptionsEnabled(body.Enabled)
		c.JSON(http.StatusOK, gin.H{"captionsEnabled": body.Enabled})
	})

	return router
}
