package inpaint

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	runs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tuziyo_inpaint_runs_total",
		Help: "Inpainting pipeline runs by result",
	}, []string{"result"})

	// stageDuration times preprocess, inference and postprocess separately
	stageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tuziyo_inpaint_stage_duration_seconds",
		Help:    "Inpainting stage duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~16s
	}, []string{"stage"})

	tilesProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tuziyo_inpaint_tiles_total",
		Help: "Tiles sent to the model by tiled runs",
	})
)
