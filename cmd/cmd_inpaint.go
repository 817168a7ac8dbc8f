// cmd_inpaint.go - inpaint command
// Main functions: InpaintHandler, runLocal, runRemote
package cmd

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tuziyo/tuziyo/api"
	"github.com/tuziyo/tuziyo/cache"
	"github.com/tuziyo/tuziyo/editor"
	"github.com/tuziyo/tuziyo/envconfig"
	"github.com/tuziyo/tuziyo/imageproc"
	"github.com/tuziyo/tuziyo/inference"
	"github.com/tuziyo/tuziyo/inference/onnx"
	"github.com/tuziyo/tuziyo/inpaint"
	"github.com/tuziyo/tuziyo/logutil"
	"github.com/tuziyo/tuziyo/provision"
	"github.com/tuziyo/tuziyo/registry"
)

// localRuntime builds the runtime for local runs and the function that
// tears it down.
var localRuntime = func() (inference.Runtime, func() error) {
	return onnx.New(onnx.OptionsFromEnvironment()), onnx.Shutdown
}

type inpaintOptions struct {
	Image   string
	Mask    string
	Output  string
	Model   string
	Feather int
	Tile    int
	Overlap int

	Strength float64
}

func (o inpaintOptions) pipeline() []inpaint.Option {
	var opts []inpaint.Option
	if o.Strength > 0 {
		opts = append(opts, inpaint.WithStrength(o.Strength))
	}
	if o.Feather > 0 {
		opts = append(opts, inpaint.WithFeather(o.Feather))
	}
	if o.Tile > 0 {
		opts = append(opts, inpaint.WithTileSize(o.Tile, o.Overlap))
	}
	return opts
}

// defaultOutput derives "<name>_inpainted.png" next to the input.
func defaultOutput(path string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "_inpainted.png"
}

// InpaintHandler fills the masked area of an image, locally or through the
// server with --remote.
func InpaintHandler(cmd *cobra.Command, args []string) error {
	var opts inpaintOptions
	var err error

	opts.Image = args[0]
	if opts.Mask, err = cmd.Flags().GetString("mask"); err != nil {
		return err
	}
	if opts.Output, err = cmd.Flags().GetString("output"); err != nil {
		return err
	}
	if opts.Output == "" {
		opts.Output = defaultOutput(opts.Image)
	}
	if opts.Model, err = cmd.Flags().GetString("model"); err != nil {
		return err
	}
	if opts.Feather, err = cmd.Flags().GetInt("feather"); err != nil {
		return err
	}
	if opts.Tile, err = cmd.Flags().GetInt("tile"); err != nil {
		return err
	}
	if opts.Overlap, err = cmd.Flags().GetInt("overlap"); err != nil {
		return err
	}
	if opts.Strength, err = cmd.Flags().GetFloat64("strength"); err != nil {
		return err
	}

	remote, err := cmd.Flags().GetBool("remote")
	if err != nil {
		return err
	}

	if remote {
		return runRemote(cmd, opts)
	}
	return runLocal(cmd, opts)
}

func runRemote(cmd *cobra.Command, opts inpaintOptions) error {
	if err := checkServerHeartbeat(cmd, nil); err != nil {
		return err
	}

	client, err := api.ClientFromEnvironment()
	if err != nil {
		return err
	}

	_, img, err := readImage(opts.Image)
	if err != nil {
		return err
	}
	_, mask, err := readImage(opts.Mask)
	if err != nil {
		return err
	}

	resp, err := client.Inpaint(cmd.Context(), &api.InpaintRequest{
		Model:       opts.Model,
		Image:       img,
		Mask:        mask,
		Feather:     opts.Feather,
		TileSize:    opts.Tile,
		TileOverlap: opts.Overlap,
		Strength:    opts.Strength,
	})
	if err != nil {
		return err
	}

	if err := writeImage(opts.Output, resp.Image); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%dx%d, %s, %s)\n", opts.Output, resp.Width, resp.Height, resp.Backend, resp.TotalDuration.Round(time.Millisecond))
	return nil
}

func runLocal(cmd *cobra.Command, opts inpaintOptions) error {
	logger := logutil.NewLogger(os.Stderr, envconfig.LogLevel())
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	img, _, err := readImage(opts.Image)
	if err != nil {
		return err
	}
	maskImg, _, err := readImage(opts.Mask)
	if err != nil {
		return err
	}
	if img.Bounds().Size() != maskImg.Bounds().Size() {
		return fmt.Errorf("%w: image %v, mask %v", imageproc.ErrSizeMismatch, img.Bounds().Size(), maskImg.Bounds().Size())
	}

	if n := int(envconfig.MaxImageSize()); n > 0 {
		img = imageproc.ResizeToFit(img, n, n)
		if size := img.Bounds().Size(); size != maskImg.Bounds().Size() {
			maskImg = imageproc.Resize(maskImg, size.X, size.Y)
		}
	}

	reg, err := registry.Load(envconfig.RegistryFile())
	if err != nil {
		return err
	}

	store, err := cache.Open(envconfig.CacheKind(), envconfig.Models())
	if err != nil {
		return err
	}
	defer store.Close()

	rt, shutdown := localRuntime()
	defer func() {
		if err := shutdown(); err != nil {
			logger.Warn("failed to shut down inference runtime", "error", err)
		}
	}()

	service := provision.New(reg, store, rt,
		provision.WithDownloadTimeout(envconfig.DownloadTimeout()),
		provision.WithLogger(logger),
	)

	t := registry.Inpainting
	if opts.Model != "" {
		t = registry.Type(opts.Model)
	}

	bar := newProgressBar(cmd.ErrOrStderr(), string(t))
	model, err := service.Resolve(ctx, t, func(p provision.Progress) {
		bar.Set(p.Status, p.Completed, p.Total, p.Percent)
	})
	bar.Stop()
	if err != nil {
		return err
	}
	defer model.Release()

	return inpaintLocal(ctx, cmd, model, img, maskImg, opts, logger)
}

func inpaintLocal(ctx context.Context, cmd *cobra.Command, model *provision.Resolved, img, maskImg *image.RGBA, opts inpaintOptions, logger *slog.Logger) error {
	start := time.Now()

	bar := newProgressBar(cmd.ErrOrStderr(), "")
	pipeline := append(opts.pipeline(),
		inpaint.WithLogger(logger),
		inpaint.WithProgress(func(pct int) {
			bar.Set("inpainting", 0, 0, pct)
		}),
	)

	out, err := inpaint.New(model.Session, pipeline...).Run(ctx, img, editor.MaskFromImage(maskImg))
	bar.Stop()
	if err != nil {
		return err
	}

	png, err := imageproc.PNG(out)
	if err != nil {
		return err
	}
	if err := writeImage(opts.Output, png); err != nil {
		return err
	}

	b := out.Bounds()
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%dx%d, %s, %s)\n", opts.Output, b.Dx(), b.Dy(), model.Backend, time.Since(start).Round(time.Millisecond))
	return nil
}

func newInpaintCmd() *cobra.Command {
	inpaintCmd := &cobra.Command{
		Use:   "inpaint IMAGE --mask MASK",
		Short: "Fill the masked area of an image",
		Long: `Fill the masked area of an image. Any non-black pixel of the mask marks
an area to fill. The model is downloaded on first use and kept in the cache.`,
		Args: cobra.ExactArgs(1),
		RunE: InpaintHandler,
	}

	inpaintCmd.Flags().String("mask", "", "Mask image, same size as IMAGE")
	inpaintCmd.Flags().StringP("output", "o", "", "Output PNG (default: IMAGE_inpainted.png)")
	inpaintCmd.Flags().String("model", "", "Model type (default: inpainting)")
	inpaintCmd.Flags().Int("feather", 0, "Blend the result through a mask blurred by this radius")
	inpaintCmd.Flags().Int("tile", 0, "Process images larger than this in tiles")
	inpaintCmd.Flags().Int("overlap", 32, "Tile overlap in pixels")
	inpaintCmd.Flags().Float64("strength", 1, "Mix the result with the original, from 0 to 1")
	inpaintCmd.Flags().Bool("remote", false, "Run on the server at TUZIYO_HOST")
	inpaintCmd.MarkFlagRequired("mask") //nolint:errcheck

	return inpaintCmd
}
