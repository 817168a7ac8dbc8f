package editor

import (
	"image"
	"image/color"
	"math"
)

// strokeColor is the premultiplied semi-transparent red laid down by the
// brush. Its red channel differs from the white background, which is what
// marks a pixel for inpainting.
var strokeColor = color.RGBA{R: 128, G: 0, B: 0, A: 128}

// antialiasWidth is the width in pixels of the soft brush edge.
const antialiasWidth = 0.7

type point struct {
	X, Y float64
}

// coverage returns the anti-aliased coverage of the pixel centered at px, py
// by a filled circle, from its signed distance.
func coverage(px, py, cx, cy, radius float64) float64 {
	sdf := math.Hypot(px-cx, py-cy) - radius
	switch {
	case sdf >= antialiasWidth:
		return 0
	case sdf <= -antialiasWidth:
		return 1
	}
	t := (sdf + antialiasWidth) / (2 * antialiasWidth)
	return 1 - t*t*(3-2*t)
}

// stamp paints one brush dab of diameter size centered at c.
func stamp(mask *image.RGBA, c point, size int) {
	radius := float64(size) / 2
	reach := radius + antialiasWidth

	area := image.Rect(
		int(math.Floor(c.X-reach)), int(math.Floor(c.Y-reach)),
		int(math.Ceil(c.X+reach))+1, int(math.Ceil(c.Y+reach))+1,
	).Intersect(mask.Bounds())

	for y := area.Min.Y; y < area.Max.Y; y++ {
		for x := area.Min.X; x < area.Max.X; x++ {
			cov := coverage(float64(x)+0.5, float64(y)+0.5, c.X, c.Y, radius)
			if cov == 0 {
				continue
			}
			i := mask.PixOffset(x, y)
			px := mask.Pix[i : i+4 : i+4]
			px[0] = lerp(px[0], strokeColor.R, cov)
			px[1] = lerp(px[1], strokeColor.G, cov)
			px[2] = lerp(px[2], strokeColor.B, cov)
			px[3] = lerp(px[3], strokeColor.A, cov)
		}
	}
}

func lerp(from, to uint8, t float64) uint8 {
	return uint8(math.Round(float64(from) + (float64(to)-float64(from))*t))
}

// interpolate returns the dab centers from a to b inclusive, spaced a
// quarter of the brush diameter apart so fast pointer motion leaves no gaps.
func interpolate(a, b point, size int) []point {
	dx, dy := b.X-a.X, b.Y-a.Y
	dist := math.Hypot(dx, dy)
	steps := max(1, int(math.Floor(dist/(float64(size)/4))))

	points := make([]point, 0, steps+1)
	for i := range steps + 1 {
		t := float64(i) / float64(steps)
		points = append(points, point{a.X + dx*t, a.Y + dy*t})
	}
	return points
}

// blankMask returns an untouched mask surface: opaque white.
func blankMask(r image.Rectangle) *image.RGBA {
	m := image.NewRGBA(r)
	for i := range m.Pix {
		m.Pix[i] = 255
	}
	return m
}

// MaskFromImage converts a mask in model convention, where any non-black
// pixel marks an area to fill, into an editor mask surface.
func MaskFromImage(img image.Image) *image.RGBA {
	b := img.Bounds()
	m := blankMask(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.RGBAModel.Convert(img.At(x, y)).(color.RGBA)
			if c.R != 0 || c.G != 0 || c.B != 0 {
				m.SetRGBA(x-b.Min.X, y-b.Min.Y, strokeColor)
			}
		}
	}
	return m
}
