// Command inpaint-benchmark measures inpainting latency per execution
// backend and image size.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/tuziyo/tuziyo/cache"
	"github.com/tuziyo/tuziyo/discover"
	"github.com/tuziyo/tuziyo/envconfig"
	"github.com/tuziyo/tuziyo/inference"
	"github.com/tuziyo/tuziyo/inference/onnx"
	"github.com/tuziyo/tuziyo/logutil"
	"github.com/tuziyo/tuziyo/provision"
	"github.com/tuziyo/tuziyo/registry"
)

type options struct {
	model      string
	backends   string
	sizes      string
	iterations int
	warmup     int
	tile       int
	overlap    int
	feather    int
	format     string
	output     string
}

func main() {
	var opts options
	flag.StringVar(&opts.model, "model", "", "ONNX model file (default: the cached inpainting model)")
	flag.StringVar(&opts.backends, "backend", "", "Comma separated backends (default: all detected)")
	flag.StringVar(&opts.sizes, "sizes", "512x512,1024x768", "Comma separated image sizes")
	flag.IntVar(&opts.iterations, "iterations", 20, "Timed runs per size")
	flag.IntVar(&opts.warmup, "warmup", 2, "Untimed runs per size")
	flag.IntVar(&opts.tile, "tile", 0, "Tile size (0 disables tiling)")
	flag.IntVar(&opts.overlap, "overlap", 32, "Tile overlap in pixels")
	flag.IntVar(&opts.feather, "feather", 0, "Feather radius")
	flag.StringVar(&opts.format, "format", "table", "Output format: table, markdown, csv")
	flag.StringVar(&opts.output, "output", "", "Write results to this file instead of stdout")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	logger := logutil.NewLogger(os.Stderr, envconfig.LogLevel())
	if err := benchmark(ctx, opts, logger); err != nil {
		fmt.Fprintf(os.Stderr, "inpaint-benchmark: %v\n", err)
		os.Exit(1)
	}
}

func benchmark(ctx context.Context, opts options, logger *slog.Logger) error {
	sizes, err := parseSizes(opts.sizes)
	if err != nil {
		return err
	}
	if opts.iterations <= 0 {
		return errors.New("-iterations must be positive")
	}

	backends := discover.Backends()
	if opts.backends != "" {
		backends = parseBackends(opts.backends)
	}

	model, err := loadModel(ctx, opts.model)
	if err != nil {
		return err
	}

	rt := onnx.New(onnx.OptionsFromEnvironment())
	defer func() {
		if err := onnx.Shutdown(); err != nil {
			logger.Warn("failed to shut down inference runtime", "error", err)
		}
	}()

	results, err := run(ctx, config{
		Backends:   backends,
		Sizes:      sizes,
		Iterations: opts.iterations,
		Warmup:     opts.warmup,
		Tile:       opts.tile,
		Overlap:    opts.overlap,
		Feather:    opts.feather,
	}, func(b discover.Backend) (inference.Session, error) {
		return rt.NewSession(model, b)
	}, logger.Warn)
	if err != nil {
		return err
	}

	var w io.Writer = os.Stdout
	if opts.output != "" {
		f, err := os.Create(opts.output)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}

	return report(w, opts.format, results)
}

func report(w io.Writer, format string, results []result) error {
	switch strings.ToLower(format) {
	case "csv":
		return writeCSV(w, results)
	case "markdown", "md":
		writeTable(w, results, true)
	case "table", "":
		writeTable(w, results, false)
	default:
		return fmt.Errorf("unknown format %q", format)
	}
	return nil
}

// loadModel reads path, or fetches the inpainting model through the cache
// when path is empty.
func loadModel(ctx context.Context, path string) ([]byte, error) {
	if path != "" {
		return os.ReadFile(path)
	}

	reg, err := registry.Load(envconfig.RegistryFile())
	if err != nil {
		return nil, err
	}

	store, err := cache.Open(envconfig.CacheKind(), envconfig.Models())
	if err != nil {
		return nil, err
	}
	defer store.Close()

	service := provision.New(reg, store, nil, provision.WithDownloadTimeout(envconfig.DownloadTimeout()))
	data, _, err := service.Fetch(ctx, registry.Inpainting, nil)
	return data, err
}
