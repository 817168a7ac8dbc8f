package inpaint

import (
	"context"
	"image"
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/tuziyo/tuziyo/imageproc"
	"github.com/tuziyo/tuziyo/inference"
)

// tileStarts returns the offsets of tiles of length tile covering n with
// the given step. The last tile is aligned to the end.
func tileStarts(n, tile, step int) []int {
	if n <= tile {
		return []int{0}
	}

	var starts []int
	for s := 0; ; s += step {
		if s+tile >= n {
			return append(starts, n-tile)
		}
		starts = append(starts, s)
	}
}

// plan returns the tiles covering bounds that intersect focus.
func plan(bounds, focus image.Rectangle, tile, overlap int) []image.Rectangle {
	step := tile - overlap
	tw, th := min(tile, bounds.Dx()), min(tile, bounds.Dy())

	var rects []image.Rectangle
	for _, y := range tileStarts(bounds.Dy(), tile, step) {
		for _, x := range tileStarts(bounds.Dx(), tile, step) {
			r := image.Rect(x, y, x+tw, y+th)
			if r.Overlaps(focus) {
				rects = append(rects, r)
			}
		}
	}
	return rects
}

type tileWork struct {
	rect image.Rectangle
	in   encoded
	out  *inference.Tensor
}

func (p *Pipeline) runTiled(ctx context.Context, img, mask *image.RGBA) (*image.RGBA, error) {
	size := img.Bounds().Size()
	img = imageproc.ToRGBA(img)
	mask = imageproc.ToRGBA(mask)

	var (
		alpha *image.Gray
		work  []*tileWork
	)
	if err := p.stage(StagePreprocess, func() error {
		var err error
		alpha, err = imageproc.MaskImage(imageproc.EncodeMask(mask))
		if err != nil {
			return err
		}

		focus, ok := imageproc.BoundingBox(alpha)
		if !ok {
			return nil
		}

		for _, r := range plan(image.Rectangle{Max: size}, focus, p.tile, p.overlap) {
			work = append(work, &tileWork{rect: r})
		}

		var g errgroup.Group
		g.SetLimit(runtime.GOMAXPROCS(0))
		for _, w := range work {
			g.Go(func() error {
				w.in = encode(img.SubImage(w.rect).(*image.RGBA), mask.SubImage(w.rect).(*image.RGBA))
				return nil
			})
		}
		return g.Wait()
	}); err != nil {
		return nil, err
	}
	p.progress(30)
	p.logger.Debug("tiled inpaint", "size", size, "tile", p.tile, "overlap", p.overlap, "tiles", len(work))

	if err := p.stage(StageInference, func() error {
		for i, w := range work {
			out, err := p.infer(ctx, w.in)
			if err != nil {
				return err
			}
			w.out = out
			tilesProcessed.Inc()
			p.progress(30 + 40*(i+1)/len(work))
		}
		return nil
	}); err != nil {
		return nil, err
	}
	p.progress(70)

	var out *image.RGBA
	err := p.stage(StagePostprocess, func() error {
		var err error
		out, err = p.merge(img, work)
		if err != nil || p.feather == 0 || len(work) == 0 {
			return err
		}
		out, err = imageproc.Composite(img, out, imageproc.Feather(alpha, p.feather))
		return err
	})
	return out, err
}

// merge blends the tile outputs over a copy of img. Overlapping tiles are
// weighted with gradient maps; pixels whose weights are all zero, such as
// those on the image border, fall back to the plain average.
func (p *Pipeline) merge(img *image.RGBA, work []*tileWork) (*image.RGBA, error) {
	out := imageproc.Clone(img)
	if len(work) == 0 {
		return out, nil
	}

	w, h := out.Bounds().Dx(), out.Bounds().Dy()
	acc := make([]float64, 3*w*h)
	fallback := make([]float64, 3*w*h)
	weights := make([]float64, w*h)
	counts := make([]int, w*h)

	for _, t := range work {
		tile, err := p.decode(t.out, t.rect.Size())
		if err != nil {
			return nil, err
		}

		tw, th := t.rect.Dx(), t.rect.Dy()
		gradient := imageproc.GradientWeightMap(tw, th, p.overlap)
		for y := range th {
			for x := range tw {
				i := (t.rect.Min.Y+y)*w + t.rect.Min.X + x
				wt := float64(gradient[y*tw+x])
				src := tile.Pix[y*tile.Stride+4*x:]
				for c := range 3 {
					v := float64(src[c])
					acc[3*i+c] += v * wt
					fallback[3*i+c] += v
				}
				weights[i] += wt
				counts[i]++
			}
		}
	}

	for i, n := range counts {
		if n == 0 {
			continue
		}
		dst := out.Pix[(i/w)*out.Stride+4*(i%w):]
		for c := range 3 {
			var v float64
			if weights[i] > 0 {
				v = acc[3*i+c] / weights[i]
			} else {
				v = fallback[3*i+c] / float64(n)
			}
			dst[c] = uint8(math.Round(min(max(v, 0), 255)))
		}
		dst[3] = 255
	}
	return out, nil
}
