package imageproc

import (
	"image"
	"math"
)

// Feather box-blurs mask over a (2r+1)x(2r+1) window. Samples outside the
// image are excluded from both the sum and the count, so edges are not
// darkened. r <= 0 returns a copy.
func Feather(mask *image.Gray, r int) *image.Gray {
	b := mask.Bounds()
	w, h := b.Dx(), b.Dy()
	out := image.NewGray(image.Rect(0, 0, w, h))

	if r <= 0 {
		for y := range h {
			copy(out.Pix[y*out.Stride:y*out.Stride+w], mask.Pix[y*mask.Stride:y*mask.Stride+w])
		}
		return out
	}

	// summed-area table with a zero row and column in front
	sat := make([]uint64, (w+1)*(h+1))
	for y := range h {
		var row uint64
		for x := range w {
			row += uint64(mask.Pix[y*mask.Stride+x])
			sat[(y+1)*(w+1)+x+1] = sat[y*(w+1)+x+1] + row
		}
	}

	for y := range h {
		y0, y1 := max(y-r, 0), min(y+r+1, h)
		for x := range w {
			x0, x1 := max(x-r, 0), min(x+r+1, w)
			sum := sat[y1*(w+1)+x1] - sat[y0*(w+1)+x1] - sat[y1*(w+1)+x0] + sat[y0*(w+1)+x0]
			count := uint64((y1 - y0) * (x1 - x0))
			out.Pix[y*out.Stride+x] = uint8(math.Round(float64(sum) / float64(count)))
		}
	}

	return out
}

// GradientWeightMap returns row-major weights for a w x h tile: 1 in the
// interior, ramping linearly to 0 within overlap pixels of any edge.
func GradientWeightMap(w, h, overlap int) []float32 {
	weights := make([]float32, w*h)
	for y := range h {
		for x := range w {
			d := min(x, w-1-x, y, h-1-y)
			if d < overlap {
				weights[y*w+x] = float32(d) / float32(overlap)
			} else {
				weights[y*w+x] = 1
			}
		}
	}
	return weights
}

func mix(a, b uint8, wa float64) uint8 {
	v := float64(a)*wa + float64(b)*(1-wa)
	return uint8(math.Round(min(max(v, 0), 255)))
}

// Blend returns a*weight + b*(1-weight) per RGB channel with opaque alpha.
func Blend(a, b *image.RGBA, weight float64) (*image.RGBA, error) {
	if a.Bounds().Size() != b.Bounds().Size() {
		return nil, ErrSizeMismatch
	}

	w, h := a.Bounds().Dx(), a.Bounds().Dy()
	out := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		ra := a.Pix[y*a.Stride : y*a.Stride+4*w]
		rb := b.Pix[y*b.Stride : y*b.Stride+4*w]
		ro := out.Pix[y*out.Stride : y*out.Stride+4*w]
		for i := 0; i < len(ro); i += 4 {
			ro[i] = mix(ra[i], rb[i], weight)
			ro[i+1] = mix(ra[i+1], rb[i+1], weight)
			ro[i+2] = mix(ra[i+2], rb[i+2], weight)
			ro[i+3] = 255
		}
	}
	return out, nil
}

// Composite lays overlay over base through alpha: 255 takes overlay, 0
// keeps base. The result is opaque.
func Composite(base, overlay *image.RGBA, alpha *image.Gray) (*image.RGBA, error) {
	size := base.Bounds().Size()
	if overlay.Bounds().Size() != size || alpha.Bounds().Size() != size {
		return nil, ErrSizeMismatch
	}

	out := image.NewRGBA(image.Rect(0, 0, size.X, size.Y))
	for y := range size.Y {
		rb := base.Pix[y*base.Stride : y*base.Stride+4*size.X]
		ro := overlay.Pix[y*overlay.Stride : y*overlay.Stride+4*size.X]
		ra := alpha.Pix[y*alpha.Stride : y*alpha.Stride+size.X]
		dst := out.Pix[y*out.Stride : y*out.Stride+4*size.X]
		for x, a := range ra {
			i := 4 * x
			switch a {
			case 0:
				copy(dst[i:i+3], rb[i:i+3])
			case 255:
				copy(dst[i:i+3], ro[i:i+3])
			default:
				wa := float64(a) / 255
				dst[i] = mix(ro[i], rb[i], wa)
				dst[i+1] = mix(ro[i+1], rb[i+1], wa)
				dst[i+2] = mix(ro[i+2], rb[i+2], wa)
			}
			dst[i+3] = 255
		}
	}
	return out, nil
}
