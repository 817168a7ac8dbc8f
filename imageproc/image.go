package imageproc

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"io"

	_ "image/gif"
	_ "image/jpeg"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// ToRGBA returns img as an *image.RGBA whose bounds start at the origin.
// Already conforming images are returned as is.
func ToRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Rect.Min == (image.Point{}) {
		return rgba
	}

	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	return rgba
}

// Clone returns a copy of img with bounds starting at the origin.
func Clone(img *image.RGBA) *image.RGBA {
	return Crop(img, img.Bounds())
}

// Crop copies r out of img into a new image at the origin.
func Crop(img *image.RGBA, r image.Rectangle) *image.RGBA {
	r = r.Intersect(img.Bounds())
	out := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(out, out.Bounds(), img, r.Min, draw.Src)
	return out
}

// Decode reads a PNG, JPEG, GIF or WebP image.
func Decode(r io.Reader) (*image.RGBA, string, error) {
	img, format, err := image.Decode(r)
	if err != nil {
		return nil, "", fmt.Errorf("decode image: %w", err)
	}
	return ToRGBA(img), format, nil
}

// DecodeBytes is Decode on a byte slice.
func DecodeBytes(data []byte) (*image.RGBA, error) {
	img, _, err := Decode(bytes.NewReader(data))
	return img, err
}

// EncodePNG writes img as PNG, trading size for speed.
func EncodePNG(w io.Writer, img image.Image) error {
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	return enc.Encode(w, img)
}

// PNG returns img encoded as PNG.
func PNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := EncodePNG(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// FitSize returns the largest size with the aspect ratio of w x h that fits
// in maxW x maxH. Sizes that already fit are returned unchanged.
func FitSize(w, h, maxW, maxH int) (int, int) {
	if w <= maxW && h <= maxH {
		return w, h
	}
	ratio := min(float64(maxW)/float64(w), float64(maxH)/float64(h))
	return max(int(float64(w)*ratio), 1), max(int(float64(h)*ratio), 1)
}

// ResizeToFit downscales img, keeping its aspect ratio, so that it fits in
// maxW x maxH. Images that already fit are returned as is.
func ResizeToFit(img *image.RGBA, maxW, maxH int) *image.RGBA {
	b := img.Bounds()
	w, h := FitSize(b.Dx(), b.Dy(), maxW, maxH)
	if w == b.Dx() && h == b.Dy() {
		return img
	}

	return Resize(img, w, h)
}

// Resize scales img to exactly w x h.
func Resize(img *image.RGBA, w, h int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}
