package provision

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// cacheLookups counts store lookups by result (hit, miss, error)
	cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tuziyo_model_cache_lookups_total",
		Help: "Model cache lookups by result",
	}, []string{"result"})

	// downloads counts model downloads by result
	downloads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tuziyo_model_downloads_total",
		Help: "Model downloads by result",
	}, []string{"result"})

	downloadedBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tuziyo_model_downloaded_bytes_total",
		Help: "Bytes of model data received from origins",
	})

	// sessionBuilds counts inference session constructions by backend and result
	sessionBuilds = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tuziyo_session_builds_total",
		Help: "Inference session constructions by backend and result",
	}, []string{"backend", "result"})

	sessionBuildDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tuziyo_session_build_duration_seconds",
		Help:    "Inference session construction time in seconds",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
	}, []string{"backend"})
)
