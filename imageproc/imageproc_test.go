package imageproc

import (
	"bytes"
	"image"
	"image/color"
	"math/rand/v2"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/tuziyo/tuziyo/inference"
)

func randomImage(w, h int, seed uint64) *image.RGBA {
	r := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = uint8(r.IntN(256))
	}
	return img
}

func whiteMask(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	return img
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	for _, size := range []image.Point{{1, 1}, {3, 2}, {2, 3}, {17, 9}, {64, 64}} {
		img := randomImage(size.X, size.Y, uint64(size.X*1000+size.Y))

		tensor := EncodeImage(img)
		if diff := cmp.Diff([]int64{1, 3, int64(size.Y), int64(size.X)}, tensor.Shape); diff != "" {
			t.Fatalf("%v: shape mismatch (-want +got):\n%s", size, diff)
		}

		got, err := DecodeImage(tensor)
		if err != nil {
			t.Fatal(err)
		}
		if got.Bounds() != img.Bounds() {
			t.Fatalf("%v: bounds %v", size, got.Bounds())
		}

		for i := 0; i < len(img.Pix); i += 4 {
			want := [4]uint8{img.Pix[i], img.Pix[i+1], img.Pix[i+2], 255}
			have := [4]uint8{got.Pix[i], got.Pix[i+1], got.Pix[i+2], got.Pix[i+3]}
			if want != have {
				t.Fatalf("%v: pixel %d: want %v, got %v", size, i/4, want, have)
			}
		}
	}
}

func TestEncodeImagePlanarLayout(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	copy(img.Pix, []uint8{
		1, 2, 3, 99, 4, 5, 6, 99,
		7, 8, 9, 99, 10, 11, 12, 99,
	})

	want := []uint8{
		1, 4, 7, 10, // red
		2, 5, 8, 11, // green
		3, 6, 9, 12, // blue
	}
	if diff := cmp.Diff(want, EncodeImage(img).Data); diff != "" {
		t.Errorf("planar data mismatch (-want +got):\n%s", diff)
	}
}

func TestEncodeImageSubImage(t *testing.T) {
	img := randomImage(8, 8, 1)
	sub := img.SubImage(image.Rect(2, 3, 6, 5)).(*image.RGBA)

	got, err := DecodeImage(EncodeImage(sub))
	if err != nil {
		t.Fatal(err)
	}
	if got.Bounds() != image.Rect(0, 0, 4, 2) {
		t.Fatalf("unexpected bounds %v", got.Bounds())
	}
	for y := range 2 {
		for x := range 4 {
			w := img.RGBAAt(x+2, y+3)
			g := got.RGBAAt(x, y)
			if w.R != g.R || w.G != g.G || w.B != g.B {
				t.Fatalf("(%d,%d): want %v, got %v", x, y, w, g)
			}
		}
	}
}

func TestEncodeMaskUntouched(t *testing.T) {
	mask := randomImage(13, 7, 2)
	// red uniformly 255, other channels arbitrary
	for i := 0; i < len(mask.Pix); i += 4 {
		mask.Pix[i] = 255
	}

	tensor := EncodeMask(mask)
	if diff := cmp.Diff([]int64{1, 1, 7, 13}, tensor.Shape); diff != "" {
		t.Fatalf("shape mismatch (-want +got):\n%s", diff)
	}
	for i, v := range tensor.Data {
		if v != 0 {
			t.Fatalf("element %d: expected 0, got %d", i, v)
		}
	}
}

func TestEncodeMaskPolarity(t *testing.T) {
	mask := randomImage(16, 16, 3)
	for i := 0; i < len(mask.Pix); i += 8 {
		mask.Pix[i] = 255
	}

	tensor := EncodeMask(mask)
	painted := 0
	for i, v := range tensor.Data {
		red := mask.Pix[4*i]
		switch {
		case red != 255 && v != 255:
			t.Fatalf("pixel %d with red %d: expected 255, got %d", i, red, v)
		case red == 255 && v != 0:
			t.Fatalf("pixel %d with red 255: expected 0, got %d", i, v)
		}
		if v == 255 {
			painted++
		}
	}
	if painted == 0 {
		t.Fatal("expected painted pixels")
	}

	// a stroke of semi-transparent red over the white background
	stroke := whiteMask(4, 4)
	stroke.SetRGBA(1, 2, color.RGBA{128, 0, 0, 128})
	want := make([]uint8, 16)
	want[2*4+1] = 255
	if diff := cmp.Diff(want, EncodeMask(stroke).Data); diff != "" {
		t.Errorf("mask mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeImageErrors(t *testing.T) {
	cases := map[string]*inference.Tensor{
		"nil":           nil,
		"rank":          {Shape: []int64{3, 2, 2}, Data: make([]uint8, 12)},
		"batch":         {Shape: []int64{2, 3, 1, 1}, Data: make([]uint8, 6)},
		"channels":      {Shape: []int64{1, 4, 1, 1}, Data: make([]uint8, 4)},
		"short data":    {Shape: []int64{1, 3, 2, 2}, Data: make([]uint8, 11)},
		"zero height":   {Shape: []int64{1, 3, 0, 2}, Data: nil},
		"negative dims": {Shape: []int64{1, 3, -1, -2}, Data: make([]uint8, 6)},
	}

	for name, tensor := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := DecodeImage(tensor); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestMaskImage(t *testing.T) {
	mask := whiteMask(3, 2)
	mask.SetRGBA(2, 1, color.RGBA{128, 0, 0, 128})

	gray, err := MaskImage(EncodeMask(mask))
	if err != nil {
		t.Fatal(err)
	}
	if gray.GrayAt(2, 1).Y != 255 || gray.GrayAt(0, 0).Y != 0 {
		t.Errorf("unexpected mask image %v", gray.Pix)
	}

	if _, err := MaskImage(EncodeImage(mask)); err == nil {
		t.Error("expected error for three channel tensor")
	}
}

func TestBoundingBox(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		if r, ok := BoundingBox(image.NewRGBA(image.Rect(0, 0, 20, 20))); ok {
			t.Fatalf("expected no box, got %v", r)
		}
	})

	t.Run("single pixel", func(t *testing.T) {
		mask := image.NewRGBA(image.Rect(0, 0, 20, 20))
		mask.SetRGBA(5, 7, color.RGBA{0, 0, 1, 255})

		r, ok := BoundingBox(mask)
		if !ok {
			t.Fatal("expected a box")
		}
		if r != image.Rect(5, 7, 6, 8) || r.Dx() != 1 || r.Dy() != 1 {
			t.Errorf("expected 1x1 box at (5,7), got %v", r)
		}
	})

	t.Run("alpha only", func(t *testing.T) {
		mask := image.NewRGBA(image.Rect(0, 0, 4, 4))
		mask.Pix[3] = 255
		if _, ok := BoundingBox(mask); ok {
			t.Fatal("alpha must not count as intensity")
		}
	})

	t.Run("spread", func(t *testing.T) {
		mask := image.NewGray(image.Rect(0, 0, 30, 30))
		mask.SetGray(3, 20, color.Gray{Y: 255})
		mask.SetGray(25, 4, color.Gray{Y: 10})

		r, ok := BoundingBox(mask)
		if !ok || r != image.Rect(3, 4, 26, 21) {
			t.Errorf("unexpected box %v (%t)", r, ok)
		}
	})
}

func TestFeather(t *testing.T) {
	mask := image.NewGray(image.Rect(0, 0, 3, 3))
	mask.SetGray(1, 1, color.Gray{Y: 255})

	got := Feather(mask, 1)
	want := []uint8{
		64, 43, 64, // corners average 4 samples, edges 6
		43, 28, 43, // center averages 9
		64, 43, 64,
	}
	if diff := cmp.Diff(want, got.Pix); diff != "" {
		t.Errorf("feather mismatch (-want +got):\n%s", diff)
	}

	uniform := image.NewGray(image.Rect(0, 0, 9, 5))
	for i := range uniform.Pix {
		uniform.Pix[i] = 200
	}
	for i, v := range Feather(uniform, 3).Pix {
		if v != 200 {
			t.Fatalf("pixel %d: edges must not darken, got %d", i, v)
		}
	}

	if diff := cmp.Diff(mask.Pix, Feather(mask, 0).Pix); diff != "" {
		t.Errorf("radius 0 must copy (-want +got):\n%s", diff)
	}
}

func TestGradientWeightMap(t *testing.T) {
	got := GradientWeightMap(5, 5, 2)
	want := []float32{
		0, 0, 0, 0, 0,
		0, 0.5, 0.5, 0.5, 0,
		0, 0.5, 1, 0.5, 0,
		0, 0.5, 0.5, 0.5, 0,
		0, 0, 0, 0, 0,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("weights mismatch (-want +got):\n%s", diff)
	}

	for i, v := range GradientWeightMap(4, 3, 0) {
		if v != 1 {
			t.Fatalf("weight %d: expected 1 without overlap, got %v", i, v)
		}
	}
}

func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return img
}

func TestBlend(t *testing.T) {
	a := solid(2, 2, color.RGBA{200, 100, 0, 255})
	b := solid(2, 2, color.RGBA{0, 100, 200, 10})

	got, err := Blend(a, b, 0.25)
	if err != nil {
		t.Fatal(err)
	}
	if c := got.RGBAAt(1, 1); c != (color.RGBA{50, 100, 150, 255}) {
		t.Errorf("unexpected blend %v", c)
	}

	if _, err := Blend(a, solid(3, 2, color.RGBA{}), 0.5); err != ErrSizeMismatch {
		t.Errorf("expected ErrSizeMismatch, got %v", err)
	}
}

func TestComposite(t *testing.T) {
	base := solid(3, 1, color.RGBA{0, 0, 0, 255})
	overlay := solid(3, 1, color.RGBA{255, 255, 255, 255})
	alpha := image.NewGray(image.Rect(0, 0, 3, 1))
	copy(alpha.Pix, []uint8{0, 51, 255})

	got, err := Composite(base, overlay, alpha)
	if err != nil {
		t.Fatal(err)
	}
	want := []uint8{0, 0, 0, 255, 51, 51, 51, 255, 255, 255, 255, 255}
	if diff := cmp.Diff(want, got.Pix); diff != "" {
		t.Errorf("composite mismatch (-want +got):\n%s", diff)
	}
}

func TestDifference(t *testing.T) {
	a := solid(4, 4, color.RGBA{0, 0, 0, 255})
	b := solid(4, 4, color.RGBA{255, 255, 255, 255})

	cases := []struct {
		name string
		a, b *image.RGBA
		want float64
	}{
		{"identical", a, a, 0},
		{"opposite", a, b, 1},
		{"half", a, solid(4, 4, color.RGBA{255, 0, 0, 0}), 1.0 / 3},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Difference(tt.a, tt.b)
			if err != nil {
				t.Fatal(err)
			}
			if got < tt.want-1e-9 || got > tt.want+1e-9 {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}

	if _, err := Difference(a, solid(1, 1, color.RGBA{})); err != ErrSizeMismatch {
		t.Errorf("expected ErrSizeMismatch, got %v", err)
	}
}

func TestSharpness(t *testing.T) {
	if s := Sharpness(solid(10, 10, color.RGBA{90, 90, 90, 255})); s != 0 {
		t.Errorf("flat image: expected 0, got %v", s)
	}
	if s := Sharpness(solid(2, 2, color.RGBA{})); s != 0 {
		t.Errorf("no interior: expected 0, got %v", s)
	}

	checker := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for y := range 4 {
		for x := range 4 {
			if (x+y)%2 == 0 {
				checker.SetRGBA(x, y, color.RGBA{255, 0, 0, 255})
			}
		}
	}
	// every interior pixel differs from all four neighbours by 255
	mean, variance := LaplacianStats(checker)
	if mean != 4*255 || variance != 0 {
		t.Errorf("checkerboard: expected mean 1020 variance 0, got %v %v", mean, variance)
	}
	if Sharpness(checker) <= Sharpness(solid(4, 4, color.RGBA{})) {
		t.Error("checkerboard must be sharper than a flat image")
	}
}

func TestResizeToFit(t *testing.T) {
	img := randomImage(200, 100, 4)

	got := ResizeToFit(img, 50, 50)
	if got.Bounds() != image.Rect(0, 0, 50, 25) {
		t.Errorf("unexpected bounds %v", got.Bounds())
	}

	if ResizeToFit(img, 400, 400) != img {
		t.Error("images that fit must be returned unchanged")
	}

	w, h := FitSize(1000, 1, 10, 10)
	if w != 10 || h != 1 {
		t.Errorf("expected 10x1, got %dx%d", w, h)
	}
}

func TestPNGRoundTrip(t *testing.T) {
	img := randomImage(9, 4, 5)
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = 255
	}

	data, err := PNG(img)
	if err != nil {
		t.Fatal(err)
	}
	got, err := DecodeBytes(data)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got.Pix, img.Pix) {
		t.Error("png round trip changed pixels")
	}

	if _, err := DecodeBytes([]byte("not an image")); err == nil {
		t.Error("expected decode error")
	}
}

func TestToRGBA(t *testing.T) {
	gray := image.NewGray(image.Rect(2, 2, 4, 3))
	gray.SetGray(3, 2, color.Gray{Y: 77})

	got := ToRGBA(gray)
	if got.Bounds() != image.Rect(0, 0, 2, 1) {
		t.Fatalf("unexpected bounds %v", got.Bounds())
	}
	if c := got.RGBAAt(1, 0); c != (color.RGBA{77, 77, 77, 255}) {
		t.Errorf("unexpected pixel %v", c)
	}

	rgba := image.NewRGBA(image.Rect(0, 0, 1, 1))
	if ToRGBA(rgba) != rgba {
		t.Error("conforming images must be returned as is")
	}
}

func TestEstimateTensorBytes(t *testing.T) {
	if got := EstimateTensorBytes(512, 512, 3); got != 786432 {
		t.Errorf("unexpected estimate %d", got)
	}
}
