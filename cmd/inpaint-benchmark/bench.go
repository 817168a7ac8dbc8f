package main

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"slices"
	"strings"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/tuziyo/tuziyo/discover"
	"github.com/tuziyo/tuziyo/editor"
	"github.com/tuziyo/tuziyo/inference"
	"github.com/tuziyo/tuziyo/inpaint"
)

type config struct {
	Backends   []discover.Backend
	Sizes      []image.Point
	Iterations int
	Warmup     int
	Tile       int
	Overlap    int
	Feather    int
}

type result struct {
	Backend    discover.Backend
	Size       image.Point
	Iterations int

	Avg time.Duration
	Min time.Duration
	Max time.Duration
	P95 time.Duration

	// Throughput in megapixels per second.
	Throughput float64
}

// sessionFunc builds a session for one backend.
type sessionFunc func(discover.Backend) (inference.Session, error)

// run measures the pipeline for every backend and image size. Backends that
// fail to build a session are reported and skipped.
func run(ctx context.Context, cfg config, newSession sessionFunc, warn func(string, ...any)) ([]result, error) {
	var results []result
	for _, b := range cfg.Backends {
		session, err := newSession(b)
		if err != nil {
			warn("skipping backend", "backend", b, "error", err)
			continue
		}

		for _, size := range cfg.Sizes {
			r, err := measure(ctx, session, cfg, size)
			if err != nil {
				session.Close()
				return nil, fmt.Errorf("%s %s: %w", b, sizeString(size), err)
			}
			r.Backend = session.Backend()
			results = append(results, r)
		}

		if err := session.Close(); err != nil {
			warn("closing session", "backend", b, "error", err)
		}
	}

	if len(results) == 0 {
		return nil, fmt.Errorf("no backend could run the model")
	}
	return results, nil
}

func measure(ctx context.Context, session inference.Session, cfg config, size image.Point) (result, error) {
	img, mask := syntheticInput(size)

	var opts []inpaint.Option
	if cfg.Tile > 0 {
		opts = append(opts, inpaint.WithTileSize(cfg.Tile, cfg.Overlap))
	}
	if cfg.Feather > 0 {
		opts = append(opts, inpaint.WithFeather(cfg.Feather))
	}
	p := inpaint.New(session, opts...)

	for range cfg.Warmup {
		if _, err := p.Run(ctx, img, mask); err != nil {
			return result{}, err
		}
	}

	samples := make([]float64, 0, cfg.Iterations)
	for range cfg.Iterations {
		start := time.Now()
		if _, err := p.Run(ctx, img, mask); err != nil {
			return result{}, err
		}
		samples = append(samples, float64(time.Since(start)))
	}

	return summarize(size, samples), nil
}

// summarize turns per-iteration nanosecond samples into a result.
func summarize(size image.Point, samples []float64) result {
	r := result{Size: size, Iterations: len(samples)}
	if len(samples) == 0 {
		return r
	}

	slices.Sort(samples)
	mean := stat.Mean(samples, nil)
	r.Avg = time.Duration(mean)
	r.Min = time.Duration(samples[0])
	r.Max = time.Duration(samples[len(samples)-1])
	r.P95 = time.Duration(stat.Quantile(0.95, stat.Empirical, samples, nil))
	if mean > 0 {
		r.Throughput = float64(size.X*size.Y) / 1e6 / (mean / float64(time.Second))
	}
	return r
}

// syntheticInput builds a gradient image and a mask covering its central
// quarter.
func syntheticInput(size image.Point) (*image.RGBA, *image.RGBA) {
	img := image.NewRGBA(image.Rectangle{Max: size})
	for y := range size.Y {
		for x := range size.X {
			img.SetRGBA(x, y, color.RGBA{uint8(x * 255 / max(size.X, 1)), uint8(y * 255 / max(size.Y, 1)), 128, 255})
		}
	}

	raw := image.NewRGBA(image.Rectangle{Max: size})
	hole := image.Rect(size.X/4, size.Y/4, size.X*3/4, size.Y*3/4)
	for y := hole.Min.Y; y < hole.Max.Y; y++ {
		for x := hole.Min.X; x < hole.Max.X; x++ {
			raw.SetRGBA(x, y, color.RGBA{255, 255, 255, 255})
		}
	}
	return img, editor.MaskFromImage(raw)
}

func parseSizes(s string) ([]image.Point, error) {
	var sizes []image.Point
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		var p image.Point
		if _, err := fmt.Sscanf(part, "%dx%d", &p.X, &p.Y); err != nil || p.X <= 0 || p.Y <= 0 {
			return nil, fmt.Errorf("invalid size %q, want WIDTHxHEIGHT", part)
		}
		sizes = append(sizes, p)
	}
	if len(sizes) == 0 {
		return nil, fmt.Errorf("no image sizes given")
	}
	return sizes, nil
}

func parseBackends(s string) []discover.Backend {
	var backends []discover.Backend
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(strings.ToLower(part)); part != "" {
			backends = append(backends, discover.Backend(part))
		}
	}
	return backends
}

func sizeString(p image.Point) string {
	return fmt.Sprintf("%dx%d", p.X, p.Y)
}
