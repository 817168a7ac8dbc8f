package editor

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"math/rand/v2"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/tuziyo/tuziyo/discover"
	"github.com/tuziyo/tuziyo/imageproc"
	"github.com/tuziyo/tuziyo/inference"
	"github.com/tuziyo/tuziyo/inference/inferencetest"
	"github.com/tuziyo/tuziyo/inpaint"
	"github.com/tuziyo/tuziyo/provision"
	"github.com/tuziyo/tuziyo/registry"
)

type fakeProvider struct {
	mu       sync.Mutex
	err      error
	block    chan struct{}
	session  func() *inferencetest.Session
	sessions []*inferencetest.Session
}

func (p *fakeProvider) Resolve(ctx context.Context, t registry.Type, fn provision.ProgressFunc) (*provision.Resolved, error) {
	if p.block != nil {
		select {
		case <-p.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if p.err != nil {
		return nil, p.err
	}
	if fn != nil {
		fn(provision.Progress{Status: provision.StatusCached, Total: 1, Completed: 1, Percent: 100})
	}

	newSession := inferencetest.Identity
	if p.session != nil {
		newSession = p.session
	}
	s := newSession()

	p.mu.Lock()
	p.sessions = append(p.sessions, s)
	p.mu.Unlock()

	d, _ := registry.Default().Lookup(t)
	return &provision.Resolved{Session: s, Backend: s.Backend(), Descriptor: d}, nil
}

func opaque(w, h int, seed uint64) *image.RGBA {
	r := rand.New(rand.NewPCG(seed, 11))
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = uint8(r.IntN(256))
		if i%4 == 3 {
			img.Pix[i] = 255
		}
	}
	return img
}

// invert returns a session whose output is 255-x of its image input.
func invert() *inferencetest.Session {
	s := inferencetest.Identity()
	s.Fn = func(_ context.Context, in map[string]*inference.Tensor) (map[string]*inference.Tensor, error) {
		src := in["image"]
		data := make([]uint8, len(src.Data))
		for i, v := range src.Data {
			data[i] = 255 - v
		}
		return map[string]*inference.Tensor{"result": {Shape: src.Shape, Data: data}}, nil
	}
	return s
}

func ready(t *testing.T, p Provider, img image.Image, opts ...Option) *Session {
	t.Helper()
	s := New(p, opts...)
	t.Cleanup(func() { s.Close() })
	if err := s.LoadModel(t.Context(), registry.Inpainting, nil); err != nil {
		t.Fatal(err)
	}
	if err := s.LoadImage(img); err != nil {
		t.Fatal(err)
	}
	if got := s.State(); got != Ready {
		t.Fatalf("expected ready, got %v", got)
	}
	return s
}

func TestEndToEndIdentity(t *testing.T) {
	img := opaque(64, 64, 1)
	s := ready(t, &fakeProvider{}, img)

	out, err := s.Inpaint(t.Context(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if out.Bounds() != image.Rect(0, 0, 64, 64) {
		t.Fatalf("unexpected bounds %v", out.Bounds())
	}
	if !bytes.Equal(out.Pix, img.Pix) {
		t.Error("identity model must return the input")
	}
	if n := len(s.History()); n != 2 {
		t.Errorf("expected result appended to history, got %d entries", n)
	}
	if s.Cursor() != 1 {
		t.Errorf("expected cursor 1, got %d", s.Cursor())
	}
}

func TestHistoryIsAppendOnly(t *testing.T) {
	img := opaque(16, 16, 2)
	s := ready(t, &fakeProvider{session: invert}, img)

	for range 2 {
		if _, err := s.Inpaint(t.Context(), nil); err != nil {
			t.Fatal(err)
		}
	}
	if len(s.History()) != 3 || s.Cursor() != 2 {
		t.Fatalf("expected 3 entries at cursor 2, got %d at %d", len(s.History()), s.Cursor())
	}
	before := s.History()

	if err := s.Navigate(0); err != nil {
		t.Fatal(err)
	}
	if len(s.History()) != 3 || s.Cursor() != 0 {
		t.Fatalf("navigation must not truncate: %d entries at %d", len(s.History()), s.Cursor())
	}
	if !bytes.Equal(s.Image().Pix, img.Pix) {
		t.Error("entry 0 must be the original upload")
	}

	out, err := s.Inpaint(t.Context(), nil)
	if err != nil {
		t.Fatal(err)
	}
	history := s.History()
	if len(history) != 4 || s.Cursor() != 3 {
		t.Fatalf("expected 4 entries at cursor 3, got %d at %d", len(history), s.Cursor())
	}
	for i := range 3 {
		if !bytes.Equal(history[i], before[i]) {
			t.Errorf("entry %d was rewritten", i)
		}
	}

	// the run after navigating started from the original, so inverting it
	// again gives the same pixels as entry 1
	entry1, err := imageproc.DecodeBytes(history[1])
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out.Pix, entry1.Pix) {
		t.Error("run after navigation must start from the displayed entry")
	}

	if err := s.Navigate(4); !errors.Is(err, ErrHistoryIndex) {
		t.Errorf("expected ErrHistoryIndex, got %v", err)
	}
	if err := s.Navigate(-1); !errors.Is(err, ErrHistoryIndex) {
		t.Errorf("expected ErrHistoryIndex, got %v", err)
	}
}

func TestStates(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		s := New(&fakeProvider{})
		if s.State() != Empty || s.Cursor() != -1 {
			t.Fatalf("unexpected new session: %v %d", s.State(), s.Cursor())
		}
		if err := s.LoadImage(opaque(4, 4, 1)); err != nil {
			t.Fatal(err)
		}
		if s.State() != Empty {
			t.Errorf("image without model: expected empty, got %v", s.State())
		}
		if _, err := s.Inpaint(t.Context(), nil); !errors.Is(err, ErrNoModel) {
			t.Errorf("expected ErrNoModel, got %v", err)
		}
	})

	t.Run("model without image", func(t *testing.T) {
		s := New(&fakeProvider{})
		if err := s.LoadModel(t.Context(), registry.Inpainting, nil); err != nil {
			t.Fatal(err)
		}
		if s.State() != Empty {
			t.Errorf("expected empty, got %v", s.State())
		}
		if s.Backend() != discover.CPU {
			t.Errorf("expected cpu backend, got %q", s.Backend())
		}
		if _, err := s.Inpaint(t.Context(), nil); !errors.Is(err, ErrNoImage) {
			t.Errorf("expected ErrNoImage, got %v", err)
		}
		if err := s.BeginStroke(1, 1); !errors.Is(err, ErrNoImage) {
			t.Errorf("expected ErrNoImage, got %v", err)
		}
	})

	t.Run("loading", func(t *testing.T) {
		p := &fakeProvider{block: make(chan struct{})}
		s := New(p)

		done := make(chan error, 1)
		go func() { done <- s.LoadModel(t.Context(), registry.Inpainting, nil) }()

		waitFor(t, func() bool { return s.State() == ModelLoading })
		if err := s.LoadModel(t.Context(), registry.Inpainting, nil); !errors.Is(err, ErrBusy) {
			t.Errorf("expected ErrBusy, got %v", err)
		}

		close(p.block)
		if err := <-done; err != nil {
			t.Fatal(err)
		}
		if s.State() != Empty {
			t.Errorf("expected empty until an image arrives, got %v", s.State())
		}
		if err := s.LoadImage(opaque(4, 4, 1)); err != nil {
			t.Fatal(err)
		}
		if s.State() != Ready {
			t.Errorf("expected ready, got %v", s.State())
		}
	})

	t.Run("load failure is terminal", func(t *testing.T) {
		loadErr := &provision.ModelLoadError{Type: registry.Inpainting}
		s := New(&fakeProvider{err: loadErr})

		if err := s.LoadModel(t.Context(), registry.Inpainting, nil); !errors.Is(err, loadErr) {
			t.Fatalf("expected load error, got %v", err)
		}
		if s.State() != ModelLoadFailed {
			t.Fatalf("expected model_load_failed, got %v", s.State())
		}
		if !errors.Is(s.Err(), loadErr) {
			t.Errorf("expected Err to report the load error, got %v", s.Err())
		}
		if err := s.LoadModel(t.Context(), registry.Inpainting, nil); !errors.Is(err, ErrModelLoadFailed) {
			t.Errorf("expected ErrModelLoadFailed, got %v", err)
		}
		if err := s.LoadImage(opaque(4, 4, 1)); !errors.Is(err, ErrModelLoadFailed) {
			t.Errorf("upload: expected ErrModelLoadFailed, got %v", err)
		}
		if _, err := s.Inpaint(t.Context(), nil); !errors.Is(err, ErrModelLoadFailed) {
			t.Errorf("expected ErrModelLoadFailed, got %v", err)
		}
	})

	t.Run("load failure disables editing", func(t *testing.T) {
		loadErr := &provision.DownloadError{URL: "http://origin/model.onnx", StatusCode: 500}
		s := New(&fakeProvider{err: loadErr})
		if err := s.LoadImage(opaque(8, 8, 1)); err != nil {
			t.Fatal(err)
		}
		if err := s.LoadModel(t.Context(), registry.Inpainting, nil); !errors.Is(err, loadErr) {
			t.Fatalf("expected download error, got %v", err)
		}
		if s.State() != ModelLoadFailed {
			t.Fatalf("expected model_load_failed, got %v", s.State())
		}

		cases := map[string]func() error{
			"upload":     func() error { return s.LoadImage(opaque(8, 8, 2)) },
			"stroke":     func() error { return s.BeginStroke(2, 2) },
			"move":       func() error { return s.MoveStroke(4, 4) },
			"clear mask": s.ClearMask,
			"apply mask": func() error { return s.ApplyMask(opaque(8, 8, 3)) },
		}
		for name, fn := range cases {
			if err := fn(); !errors.Is(err, ErrModelLoadFailed) {
				t.Errorf("%s: expected ErrModelLoadFailed, got %v", name, err)
			}
		}
		if _, ok := s.MaskBounds(); ok {
			t.Error("mask changed after the load failure")
		}
	})

	t.Run("cancelled load is not terminal", func(t *testing.T) {
		s := New(&fakeProvider{block: make(chan struct{})})
		ctx, cancel := context.WithCancel(t.Context())
		cancel()

		if err := s.LoadModel(ctx, registry.Inpainting, nil); !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
		if s.State() != Empty {
			t.Errorf("expected empty, got %v", s.State())
		}
	})

	t.Run("processing", func(t *testing.T) {
		release := make(chan struct{})
		blocking := func() *inferencetest.Session {
			session := inferencetest.Identity()
			session.Fn = func(_ context.Context, in map[string]*inference.Tensor) (map[string]*inference.Tensor, error) {
				<-release
				return map[string]*inference.Tensor{"result": in["image"]}, nil
			}
			return session
		}
		s := ready(t, &fakeProvider{session: blocking}, opaque(8, 8, 3))

		done := make(chan error, 1)
		go func() {
			_, err := s.Inpaint(t.Context(), nil)
			done <- err
		}()

		waitFor(t, func() bool { return s.State() == Processing })
		if _, err := s.Inpaint(t.Context(), nil); !errors.Is(err, ErrBusy) {
			t.Errorf("second run: expected ErrBusy, got %v", err)
		}
		if err := s.BeginStroke(1, 1); !errors.Is(err, ErrBusy) {
			t.Errorf("stroke: expected ErrBusy, got %v", err)
		}
		if err := s.LoadImage(opaque(8, 8, 4)); !errors.Is(err, ErrBusy) {
			t.Errorf("upload: expected ErrBusy, got %v", err)
		}

		close(release)
		if err := <-done; err != nil {
			t.Fatal(err)
		}
		if s.State() != Ready {
			t.Errorf("expected ready, got %v", s.State())
		}
	})
}

func TestInpaintFailureKeepsSurfaces(t *testing.T) {
	boom := errors.New("boom")
	failing := func() *inferencetest.Session {
		session := inferencetest.Identity()
		session.Fn = func(context.Context, map[string]*inference.Tensor) (map[string]*inference.Tensor, error) {
			return nil, boom
		}
		return session
	}

	img := opaque(12, 12, 5)
	s := ready(t, &fakeProvider{session: failing}, img)
	if err := s.BeginStroke(6, 6); err != nil {
		t.Fatal(err)
	}
	s.EndStroke()
	mask := s.Mask()

	_, err := s.Inpaint(t.Context(), nil)
	var pe *inpaint.ProcessingError
	if !errors.As(err, &pe) || !errors.Is(err, boom) {
		t.Fatalf("expected ProcessingError wrapping boom, got %v", err)
	}

	if s.State() != Ready {
		t.Errorf("expected ready after failure, got %v", s.State())
	}
	if !errors.Is(s.Err(), boom) {
		t.Errorf("expected Err to report the failure, got %v", s.Err())
	}
	if !bytes.Equal(s.Image().Pix, img.Pix) {
		t.Error("image changed after a failed run")
	}
	if !bytes.Equal(s.Mask().Pix, mask.Pix) {
		t.Error("mask changed after a failed run")
	}
	if len(s.History()) != 1 {
		t.Errorf("expected history untouched, got %d entries", len(s.History()))
	}
}

func TestInpaintClearsMask(t *testing.T) {
	s := ready(t, &fakeProvider{}, opaque(32, 32, 6))
	if err := s.BeginStroke(16, 16); err != nil {
		t.Fatal(err)
	}
	if _, ok := s.MaskBounds(); !ok {
		t.Fatal("expected painted pixels")
	}

	var progress []int
	if _, err := s.Inpaint(t.Context(), func(n int) { progress = append(progress, n) }); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]int{30, 70, 100}, progress); diff != "" {
		t.Errorf("progress mismatch (-want +got):\n%s", diff)
	}
	if r, ok := s.MaskBounds(); ok {
		t.Errorf("expected a clear mask, got bounds %v", r)
	}
}

func TestMaskEditing(t *testing.T) {
	s := ready(t, &fakeProvider{}, opaque(20, 20, 7))

	if err := s.SetBrushSize(0); !errors.Is(err, ErrBrushSize) {
		t.Errorf("expected ErrBrushSize, got %v", err)
	}

	// moving without a stroke paints nothing
	if err := s.MoveStroke(10, 10); err != nil {
		t.Fatal(err)
	}
	if _, ok := s.MaskBounds(); ok {
		t.Fatal("move without stroke painted")
	}

	ext := image.NewGray(image.Rect(0, 0, 20, 20))
	for y := 4; y < 9; y++ {
		for x := 2; x < 6; x++ {
			ext.SetGray(x, y, color.Gray{Y: 255})
		}
	}
	if err := s.ApplyMask(ext); err != nil {
		t.Fatal(err)
	}
	if r, ok := s.MaskBounds(); !ok || r != image.Rect(2, 4, 6, 9) {
		t.Errorf("unexpected bounds %v (%t)", r, ok)
	}

	if err := s.ApplyMask(image.NewGray(image.Rect(0, 0, 3, 3))); !errors.Is(err, imageproc.ErrSizeMismatch) {
		t.Errorf("expected ErrSizeMismatch, got %v", err)
	}

	if err := s.ClearMask(); err != nil {
		t.Fatal(err)
	}
	if _, ok := s.MaskBounds(); ok {
		t.Error("mask not cleared")
	}
	for i, v := range s.Mask().Pix {
		if v != 255 {
			t.Fatalf("byte %d: cleared mask must be opaque white, got %d", i, v)
		}
	}
}

func TestLoadImage(t *testing.T) {
	s := ready(t, &fakeProvider{}, opaque(10, 10, 8), WithMaxImageSize(50))
	if _, err := s.Inpaint(t.Context(), nil); err != nil {
		t.Fatal(err)
	}

	big := image.NewNRGBA(image.Rect(0, 0, 200, 100))
	if err := s.LoadImage(big); err != nil {
		t.Fatal(err)
	}
	if got := s.Image().Bounds(); got != image.Rect(0, 0, 50, 25) {
		t.Errorf("expected downscale to 50x25, got %v", got)
	}
	if s.Mask().Bounds() != s.Image().Bounds() || s.Result().Bounds() != s.Image().Bounds() {
		t.Error("surfaces must share dimensions")
	}
	if len(s.History()) != 1 || s.Cursor() != 0 {
		t.Errorf("new image must restart history, got %d at %d", len(s.History()), s.Cursor())
	}
	// transparent input becomes opaque
	if a := s.Image().RGBAAt(0, 0).A; a != 255 {
		t.Errorf("expected opaque base, got alpha %d", a)
	}

	if err := s.LoadImage(image.NewRGBA(image.Rectangle{})); !errors.Is(err, ErrNoImage) {
		t.Errorf("expected ErrNoImage, got %v", err)
	}
}

func TestModelRelease(t *testing.T) {
	p := &fakeProvider{}
	s := New(p)
	for range 2 {
		if err := s.LoadModel(t.Context(), registry.Inpainting, nil); err != nil {
			t.Fatal(err)
		}
	}
	if !p.sessions[0].Closed() || p.sessions[1].Closed() {
		t.Fatal("loading a model must release only the previous one")
	}

	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if !p.sessions[1].Closed() {
		t.Error("Close must release the model")
	}
	if err := s.LoadModel(t.Context(), registry.Inpainting, nil); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}
