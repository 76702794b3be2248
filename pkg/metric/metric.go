package metric

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all collectors for the player pipeline.
type Metrics struct {
	registry *prometheus.Registry

	// Beacon metrics
	BeaconsFired   *prometheus.CounterVec
	BeaconRetries  prometheus.Counter
	BeaconDuration prometheus.Histogram

	// Playback metrics
	QuartilesReached *prometheus.CounterVec
	PlaybackErrors   prometheus.Counter

	// Asset metrics
	CreativesDownloaded prometheus.Counter
	DownloadBytes       prometheus.Counter
	DownloadDuration    prometheus.Histogram
}

// New creates a metrics instance registered on its own registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.NewRegistry())
}

// NewWithRegistry creates a metrics instance on the given registry.
func NewWithRegistry(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		BeaconsFired: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vastplayer_beacons_fired_total",
			Help: "Total beacon requests by event type and outcome",
		}, []string{"event", "outcome"}),
		BeaconRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "vastplayer_beacon_retries_total",
			Help: "Total beacon retry attempts",
		}),
		BeaconDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "vastplayer_beacon_duration_seconds",
			Help:    "Time per beacon attempt",
			Buckets: prometheus.DefBuckets,
		}),

		QuartilesReached: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vastplayer_quartiles_reached_total",
			Help: "Total quartile milestones reached by event name",
		}, []string{"quartile"}),
		PlaybackErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "vastplayer_playback_errors_total",
			Help: "Total media-layer playback failures",
		}),

		CreativesDownloaded: factory.NewCounter(prometheus.CounterOpts{
			Name: "vastplayer_creatives_downloaded_total",
			Help: "Total creative assets downloaded",
		}),
		DownloadBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "vastplayer_download_bytes_total",
			Help: "Total bytes downloaded for creative assets",
		}),
		DownloadDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "vastplayer_download_duration_seconds",
			Help:    "Time to download one creative asset",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// Registry exposes the underlying registry for the metrics HTTP handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
