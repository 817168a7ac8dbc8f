package imageproc

import (
	"errors"
	"image"
	"image/color"
	"math"

	"gonum.org/v1/gonum/stat"
)

// ErrSizeMismatch is returned when two surfaces that must share dimensions
// do not.
var ErrSizeMismatch = errors.New("image dimensions must match")

// LaplacianStats returns mean and variance of the absolute 4-neighbour
// Laplacian of the red channel over interior pixels. Images smaller than
// 3x3 have no interior and report zeros.
func LaplacianStats(img *image.RGBA) (mean, variance float64) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w < 3 || h < 3 {
		return 0, 0
	}

	red := func(x, y int) float64 {
		return float64(img.Pix[y*img.Stride+4*x])
	}

	values := make([]float64, 0, (w-2)*(h-2))
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			l := 4*red(x, y) - red(x, y-1) - red(x, y+1) - red(x-1, y) - red(x+1, y)
			values = append(values, math.Abs(l))
		}
	}

	if len(values) == 1 {
		return values[0], 0
	}
	return stat.MeanVariance(values, nil)
}

// Sharpness scores an image by its mean absolute Laplacian. Higher is
// sharper. It is a diagnostic and gates nothing.
func Sharpness(img *image.RGBA) float64 {
	mean, _ := LaplacianStats(img)
	return mean
}

// BoundingBox returns the smallest rectangle containing every pixel with
// nonzero combined R+G+B intensity. ok is false if no pixel qualifies.
func BoundingBox(img image.Image) (r image.Rectangle, ok bool) {
	b := img.Bounds()
	minX, minY := b.Max.X, b.Max.Y
	maxX, maxY := b.Min.X-1, b.Min.Y-1

	lit := func(x, y int) bool {
		switch img := img.(type) {
		case *image.RGBA:
			i := img.PixOffset(x, y)
			return img.Pix[i] != 0 || img.Pix[i+1] != 0 || img.Pix[i+2] != 0
		case *image.Gray:
			return img.Pix[img.PixOffset(x, y)] != 0
		default:
			c := color.RGBAModel.Convert(img.At(x, y)).(color.RGBA)
			return c.R != 0 || c.G != 0 || c.B != 0
		}
	}

	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if lit(x, y) {
				minX, maxX = min(minX, x), max(maxX, x)
				minY, maxY = min(minY, y), max(maxY, y)
			}
		}
	}

	if maxX < minX {
		return image.Rectangle{}, false
	}
	return image.Rect(minX, minY, maxX+1, maxY+1), true
}

// Difference returns the mean absolute RGB difference of a and b, scaled to
// [0, 1].
func Difference(a, b *image.RGBA) (float64, error) {
	if a.Bounds().Size() != b.Bounds().Size() {
		return 0, ErrSizeMismatch
	}

	w, h := a.Bounds().Dx(), a.Bounds().Dy()
	if w == 0 || h == 0 {
		return 0, nil
	}

	var total uint64
	for y := range h {
		ra := a.Pix[y*a.Stride : y*a.Stride+4*w]
		rb := b.Pix[y*b.Stride : y*b.Stride+4*w]
		for i := 0; i < len(ra); i += 4 {
			total += absDiff(ra[i], rb[i]) + absDiff(ra[i+1], rb[i+1]) + absDiff(ra[i+2], rb[i+2])
		}
	}

	return float64(total) / float64(w*h*3*255), nil
}

func absDiff(a, b uint8) uint64 {
	if a > b {
		return uint64(a - b)
	}
	return uint64(b - a)
}
