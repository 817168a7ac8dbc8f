package editor

import (
	"image"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestInterpolate(t *testing.T) {
	cases := []struct {
		name string
		a, b point
		size int
		want int
	}{
		{"same point", point{5, 5}, point{5, 5}, 40, 2},
		{"shorter than a step", point{0, 0}, point{3, 0}, 40, 2},
		{"quarter diameter steps", point{0, 0}, point{40, 0}, 8, 21},
		{"diagonal", point{0, 0}, point{30, 40}, 40, 6},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			got := interpolate(tt.a, tt.b, tt.size)
			if len(got) != tt.want {
				t.Fatalf("expected %d points, got %d", tt.want, len(got))
			}
			if got[0] != tt.a || got[len(got)-1] != tt.b {
				t.Errorf("endpoints %v %v, want %v %v", got[0], got[len(got)-1], tt.a, tt.b)
			}
		})
	}
}

func TestCoverage(t *testing.T) {
	if c := coverage(10, 10, 10, 10, 4); c != 1 {
		t.Errorf("center: expected 1, got %v", c)
	}
	if c := coverage(20, 10, 10, 10, 4); c != 0 {
		t.Errorf("outside: expected 0, got %v", c)
	}
	if c := coverage(14, 10, 10, 10, 4); c != 0.5 {
		t.Errorf("on the edge: expected 0.5, got %v", c)
	}
}

func TestStampPolarity(t *testing.T) {
	mask := blankMask(image.Rect(0, 0, 20, 20))
	stamp(mask, point{10, 10}, 8)

	if got := mask.RGBAAt(10, 10); got != strokeColor {
		t.Errorf("center: expected %v, got %v", strokeColor, got)
	}
	if got := mask.RGBAAt(0, 0); got.R != 255 {
		t.Errorf("far pixel must stay white, got %v", got)
	}

	// stamping twice does not darken further
	before := mask.RGBAAt(10, 10)
	stamp(mask, point{10, 10}, 8)
	if got := mask.RGBAAt(10, 10); got != before {
		t.Errorf("expected %v after restamp, got %v", before, got)
	}
}

func TestStrokeLeavesNoGaps(t *testing.T) {
	s := ready(t, &fakeProvider{}, opaque(64, 32, 9))
	if err := s.SetBrushSize(8); err != nil {
		t.Fatal(err)
	}
	if err := s.BeginStroke(10, 10); err != nil {
		t.Fatal(err)
	}
	if err := s.MoveStroke(50, 10); err != nil {
		t.Fatal(err)
	}
	s.EndStroke()

	// after the stroke ends moves paint nothing
	if err := s.MoveStroke(10, 28); err != nil {
		t.Fatal(err)
	}

	mask := s.Mask()
	for x := 10; x <= 50; x++ {
		if mask.RGBAAt(x, 10).R == 255 {
			t.Fatalf("gap at x=%d", x)
		}
	}

	r, ok := s.MaskBounds()
	if !ok {
		t.Fatal("expected painted pixels")
	}
	inner := image.Rect(10, 10, 51, 11)
	outer := image.Rect(4, 4, 57, 17)
	if !inner.In(r) || !r.In(outer) {
		t.Errorf("unexpected stroke bounds %v", r)
	}
	if diff := cmp.Diff(8, s.BrushSize()); diff != "" {
		t.Errorf("brush size mismatch (-want +got):\n%s", diff)
	}
}

func TestMaskFromImage(t *testing.T) {
	src := image.NewGray(image.Rect(3, 3, 6, 5))
	src.Pix[src.PixOffset(4, 4)] = 1

	m := MaskFromImage(src)
	if m.Bounds() != image.Rect(0, 0, 3, 2) {
		t.Fatalf("unexpected bounds %v", m.Bounds())
	}
	if m.RGBAAt(1, 1) != strokeColor {
		t.Errorf("expected stroke at (1,1), got %v", m.RGBAAt(1, 1))
	}
	if m.RGBAAt(0, 0).R != 255 {
		t.Errorf("expected background at (0,0), got %v", m.RGBAAt(0, 0))
	}
}
