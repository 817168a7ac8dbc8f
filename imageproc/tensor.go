// Package imageproc converts between pixel surfaces and model tensors and
// provides the pixel utilities the inpainting pipeline builds on.
//
// Images are planar uint8 tensors of shape [1, 3, H, W]; masks are [1, 1, H, W]
// with 255 marking pixels the model should fill.
package imageproc

import (
	"fmt"
	"image"

	"github.com/tuziyo/tuziyo/inference"
)

// EncodeImage transposes interleaved RGBA pixels to a planar [1, 3, H, W]
// tensor: every red value in raster order, then green, then blue. Alpha is
// dropped.
func EncodeImage(img *image.RGBA) *inference.Tensor {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	plane := w * h

	data := make([]uint8, 3*plane)
	for y := range h {
		row := img.Pix[y*img.Stride : y*img.Stride+4*w]
		for x := range w {
			i := y*w + x
			data[i] = row[4*x]
			data[plane+i] = row[4*x+1]
			data[2*plane+i] = row[4*x+2]
		}
	}

	return &inference.Tensor{Shape: []int64{1, 3, int64(h), int64(w)}, Data: data}
}

// EncodeMask returns a [1, 1, H, W] tensor that is 255 wherever the mask's
// red channel is not exactly 255 and 0 elsewhere. Untouched mask surfaces are
// opaque white, so only painted pixels are marked.
func EncodeMask(mask *image.RGBA) *inference.Tensor {
	b := mask.Bounds()
	w, h := b.Dx(), b.Dy()

	data := make([]uint8, w*h)
	for y := range h {
		row := mask.Pix[y*mask.Stride : y*mask.Stride+4*w]
		for x := range w {
			if row[4*x] != 255 {
				data[y*w+x] = 255
			}
		}
	}

	return &inference.Tensor{Shape: []int64{1, 1, int64(h), int64(w)}, Data: data}
}

// planes validates a [1, c, H, W] tensor and returns its height and width.
func planes(t *inference.Tensor, c int64) (int, int, error) {
	if t == nil {
		return 0, 0, fmt.Errorf("nil tensor")
	}
	if len(t.Shape) != 4 || t.Shape[0] != 1 || t.Shape[1] != c {
		return 0, 0, fmt.Errorf("unexpected tensor shape %v, want [1 %d H W]", t.Shape, c)
	}

	h, w := t.Shape[2], t.Shape[3]
	if h <= 0 || w <= 0 {
		return 0, 0, fmt.Errorf("unexpected tensor shape %v", t.Shape)
	}
	if int64(len(t.Data)) != c*h*w {
		return 0, 0, fmt.Errorf("tensor shape %v needs %d elements, got %d", t.Shape, c*h*w, len(t.Data))
	}
	return int(h), int(w), nil
}

// DecodeImage transposes a planar [1, 3, H, W] tensor back to RGBA with an
// opaque alpha channel.
func DecodeImage(t *inference.Tensor) (*image.RGBA, error) {
	h, w, err := planes(t, 3)
	if err != nil {
		return nil, err
	}

	plane := w * h
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := range plane {
		img.Pix[4*i] = t.Data[i]
		img.Pix[4*i+1] = t.Data[plane+i]
		img.Pix[4*i+2] = t.Data[2*plane+i]
		img.Pix[4*i+3] = 255
	}
	return img, nil
}

// MaskImage returns a [1, 1, H, W] tensor as a grayscale image.
func MaskImage(t *inference.Tensor) (*image.Gray, error) {
	h, w, err := planes(t, 1)
	if err != nil {
		return nil, err
	}

	img := image.NewGray(image.Rect(0, 0, w, h))
	copy(img.Pix, t.Data)
	return img, nil
}

// EstimateTensorBytes returns the size of a uint8 tensor with the given
// dimensions.
func EstimateTensorBytes(w, h, channels int) int64 {
	return int64(w) * int64(h) * int64(channels)
}
