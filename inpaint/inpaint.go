// Package inpaint runs an inpainting session over an image and its mask.
//
// A Pipeline encodes both surfaces into tensors, binds them to the session's
// first two inputs in declaration order, runs the model and decodes the first
// output back into an image. Large images can be processed in overlapping
// tiles, and the result can be blended back over the original through a
// feathered mask.
package inpaint

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tuziyo/tuziyo/imageproc"
	"github.com/tuziyo/tuziyo/inference"
)

// Processing stages reported by ProcessingError.
const (
	StageValidate    = "validate"
	StagePreprocess  = "preprocess"
	StageInference   = "inference"
	StagePostprocess = "postprocess"
)

// ProcessingError reports a failed pipeline run and the stage it failed in.
type ProcessingError struct {
	Stage string
	Err   error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("inpaint %s: %v", e.Stage, e.Err)
}

func (e *ProcessingError) Unwrap() error {
	return e.Err
}

// ErrNoOutput is returned when the session result lacks its first output.
var ErrNoOutput = errors.New("session returned no output")

// Pipeline runs one session. It is not safe for concurrent use; callers
// serialize Run.
type Pipeline struct {
	session  inference.Session
	feather  int
	tile     int
	overlap  int
	strength float64
	progress func(int)
	logger   *slog.Logger
}

type Option func(*Pipeline)

// WithFeather composites the model output over the original image through
// the mask blurred with radius r. Zero keeps the raw model output.
func WithFeather(r int) Option {
	return func(p *Pipeline) { p.feather = max(r, 0) }
}

// WithTileSize processes images larger than size in size x size tiles that
// overlap by overlap pixels. Only tiles touching the mask run. Zero disables
// tiling.
func WithTileSize(size, overlap int) Option {
	return func(p *Pipeline) {
		p.tile = max(size, 0)
		p.overlap = min(max(overlap, 0), max(size/2-1, 0))
	}
}

// WithStrength mixes the result with the original image: 1 keeps the
// inpainted pixels, 0 the original ones.
func WithStrength(s float64) Option {
	return func(p *Pipeline) { p.strength = min(max(s, 0), 1) }
}

// WithProgress receives completion percentages: 30 once inputs are
// encoded, 70 once inference is done, 100 when the result is ready.
func WithProgress(fn func(int)) Option {
	return func(p *Pipeline) { p.progress = fn }
}

func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// New returns a Pipeline over session.
func New(session inference.Session, opts ...Option) *Pipeline {
	p := &Pipeline{
		session:  session,
		strength: 1,
		progress: func(int) {},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run inpaints the pixels of img that mask marks and returns a new image.
// img and mask are only read.
func (p *Pipeline) Run(ctx context.Context, img, mask *image.RGBA) (out *image.RGBA, err error) {
	start := time.Now()
	defer func() {
		result := "ok"
		switch {
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			result = "canceled"
		case err != nil:
			result = "error"
		}
		runs.WithLabelValues(result).Inc()
		p.logger.Debug("inpaint finished", "result", result, "duration", time.Since(start))
	}()

	if err := p.validate(img, mask); err != nil {
		return nil, &ProcessingError{Stage: StageValidate, Err: err}
	}

	size := img.Bounds().Size()
	if p.tile > 0 && (size.X > p.tile || size.Y > p.tile) {
		out, err = p.runTiled(ctx, img, mask)
	} else {
		out, err = p.runWhole(ctx, img, mask)
	}
	if err != nil {
		return nil, err
	}

	if p.strength < 1 {
		if out, err = imageproc.Blend(out, imageproc.Clone(img), p.strength); err != nil {
			return nil, &ProcessingError{Stage: StagePostprocess, Err: err}
		}
	}

	p.progress(100)
	return out, nil
}

func (p *Pipeline) validate(img, mask *image.RGBA) error {
	if img == nil || mask == nil {
		return errors.New("image and mask are required")
	}
	if img.Bounds().Empty() {
		return errors.New("empty image")
	}
	if img.Bounds().Size() != mask.Bounds().Size() {
		return fmt.Errorf("%w: image %v, mask %v", imageproc.ErrSizeMismatch, img.Bounds().Size(), mask.Bounds().Size())
	}
	if n := len(p.session.InputNames()); n < 2 {
		return fmt.Errorf("session declares %d inputs, need image and mask", n)
	}
	if len(p.session.OutputNames()) == 0 {
		return errors.New("session declares no outputs")
	}
	return nil
}

// stage times fn and records it under name.
func (p *Pipeline) stage(name string, fn func() error) error {
	start := time.Now()
	err := fn()
	d := time.Since(start)
	stageDuration.WithLabelValues(name).Observe(d.Seconds())
	p.logger.Debug("inpaint stage", "stage", name, "duration", d)
	if err != nil {
		var pe *ProcessingError
		if errors.As(err, &pe) {
			return err
		}
		return &ProcessingError{Stage: name, Err: err}
	}
	return nil
}

type encoded struct {
	image, mask *inference.Tensor
}

func encode(img, mask *image.RGBA) encoded {
	var e encoded
	var g errgroup.Group
	g.Go(func() error {
		e.image = imageproc.EncodeImage(img)
		return nil
	})
	g.Go(func() error {
		e.mask = imageproc.EncodeMask(mask)
		return nil
	})
	g.Wait()
	return e
}

func (p *Pipeline) runWhole(ctx context.Context, img, mask *image.RGBA) (*image.RGBA, error) {
	var in encoded
	if err := p.stage(StagePreprocess, func() error {
		in = encode(img, mask)
		return nil
	}); err != nil {
		return nil, err
	}
	p.progress(30)

	var raw *inference.Tensor
	if err := p.stage(StageInference, func() (err error) {
		raw, err = p.infer(ctx, in)
		return err
	}); err != nil {
		return nil, err
	}
	p.progress(70)

	var out *image.RGBA
	err := p.stage(StagePostprocess, func() (err error) {
		out, err = p.decode(raw, img.Bounds().Size())
		if err != nil || p.feather == 0 {
			return err
		}
		out, err = p.composite(img, out, in.mask)
		return err
	})
	return out, err
}

// infer runs the session on a separate goroutine so that a cancelled ctx
// returns immediately. The abandoned run finishes in the background and its
// result is dropped.
func (p *Pipeline) infer(ctx context.Context, in encoded) (*inference.Tensor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	inputs := p.session.InputNames()
	output := p.session.OutputNames()[0]
	feeds := map[string]*inference.Tensor{
		inputs[0]: in.image,
		inputs[1]: in.mask,
	}

	type result struct {
		out map[string]*inference.Tensor
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := p.session.Run(ctx, feeds)
		done <- result{out, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-done:
		if r.err != nil {
			return nil, r.err
		}
		t, ok := r.out[output]
		if !ok || t == nil {
			return nil, fmt.Errorf("%w %q", ErrNoOutput, output)
		}
		return t, nil
	}
}

func (p *Pipeline) decode(t *inference.Tensor, want image.Point) (*image.RGBA, error) {
	out, err := imageproc.DecodeImage(t)
	if err != nil {
		return nil, err
	}
	if got := out.Bounds().Size(); got != want {
		return nil, fmt.Errorf("%w: model returned %v for %v input", imageproc.ErrSizeMismatch, got, want)
	}
	return out, nil
}

func (p *Pipeline) composite(img, out *image.RGBA, mask *inference.Tensor) (*image.RGBA, error) {
	alpha, err := imageproc.MaskImage(mask)
	if err != nil {
		return nil, err
	}
	return imageproc.Composite(img, out, imageproc.Feather(alpha, p.feather))
}
