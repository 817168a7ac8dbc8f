// Package editor implements an editing session: one image, the mask the
// user paints over it, the append-only history of results and the model
// session that produces them.
package editor

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"slices"
	"sync"

	"github.com/tuziyo/tuziyo/discover"
	"github.com/tuziyo/tuziyo/imageproc"
	"github.com/tuziyo/tuziyo/inpaint"
	"github.com/tuziyo/tuziyo/provision"
	"github.com/tuziyo/tuziyo/registry"
)

// State is the lifecycle state of a Session.
type State int

const (
	// Empty means nothing is in flight and the session lacks an image, a
	// model or both.
	Empty State = iota
	ModelLoading
	Ready
	Processing
	// ModelLoadFailed is terminal: the session cannot inpaint anymore.
	ModelLoadFailed
)

func (s State) String() string {
	switch s {
	case Empty:
		return "empty"
	case ModelLoading:
		return "model_loading"
	case Ready:
		return "ready"
	case Processing:
		return "processing"
	case ModelLoadFailed:
		return "model_load_failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

var (
	ErrBusy            = errors.New("editor: session is busy")
	ErrNoImage         = errors.New("editor: no image loaded")
	ErrNoModel         = errors.New("editor: no model loaded")
	ErrModelLoadFailed = errors.New("editor: model failed to load")
	ErrClosed          = errors.New("editor: session closed")
	ErrHistoryIndex    = errors.New("editor: history index out of range")
	ErrBrushSize       = errors.New("editor: brush size must be positive")
)

const DefaultBrushSize = 40

// Provider resolves a model type to a ready inference session.
type Provider interface {
	Resolve(ctx context.Context, t registry.Type, fn provision.ProgressFunc) (*provision.Resolved, error)
}

type Option func(*Session)

// WithPipeline passes options to every inpainting run.
func WithPipeline(opts ...inpaint.Option) Option {
	return func(s *Session) { s.pipeline = append(s.pipeline, opts...) }
}

// WithMaxImageSize downscales loaded images so neither side exceeds n.
// Zero keeps the original size.
func WithMaxImageSize(n int) Option {
	return func(s *Session) { s.maxSize = max(n, 0) }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// Session is safe for concurrent use. At most one model load and one
// inpainting run are in flight at a time.
type Session struct {
	provider Provider
	pipeline []inpaint.Option
	maxSize  int
	logger   *slog.Logger

	mu         sync.Mutex
	loading    bool
	processing bool
	failed     bool
	closed     bool
	err        error

	model *provision.Resolved
	base  *image.RGBA
	mask  *image.RGBA
	// result holds the most recent rendering: the model output after a run,
	// otherwise the displayed history entry.
	result *image.RGBA

	history [][]byte
	cursor  int

	brush    int
	stroking bool
	last     point
}

// New returns an empty session.
func New(p Provider, opts ...Option) *Session {
	s := &Session{
		provider: p,
		logger:   slog.Default(),
		brush:    DefaultBrushSize,
		cursor:   -1,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State reports the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state()
}

func (s *Session) state() State {
	switch {
	case s.processing:
		return Processing
	case s.failed:
		return ModelLoadFailed
	case s.loading:
		return ModelLoading
	case s.model != nil && s.base != nil:
		return Ready
	default:
		return Empty
	}
}

// Err returns the last model load or processing error, or nil after a
// successful run.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Backend reports the backend of the loaded model, or "" if none.
func (s *Session) Backend() discover.Backend {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.model == nil {
		return ""
	}
	return s.model.Backend
}

// Model returns the descriptor of the loaded model.
func (s *Session) Model() (registry.Descriptor, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.model == nil {
		return registry.Descriptor{}, false
	}
	return s.model.Descriptor, true
}

// LoadModel resolves t through the provider and replaces the current model.
// A failed load is terminal for the session; a cancelled one is not.
func (s *Session) LoadModel(ctx context.Context, t registry.Type, fn provision.ProgressFunc) error {
	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		return ErrClosed
	case s.failed:
		err := fmt.Errorf("%w: %w", ErrModelLoadFailed, s.err)
		s.mu.Unlock()
		return err
	case s.loading, s.processing:
		s.mu.Unlock()
		return ErrBusy
	}
	s.loading = true
	s.mu.Unlock()

	resolved, err := s.provider.Resolve(ctx, t, fn)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.loading = false

	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		s.failed = true
		s.err = err
		s.logger.Error("model load failed", "model", t, "error", err)
		return err
	}

	if s.closed {
		resolved.Release()
		return ErrClosed
	}

	if s.model != nil {
		if err := s.model.Release(); err != nil {
			s.logger.Warn("failed to release previous model", "error", err)
		}
	}
	s.model = resolved
	s.err = nil
	s.logger.Info("editor model loaded", "model", resolved.Descriptor.DisplayName(), "backend", resolved.Backend)
	return nil
}

// LoadImage replaces the image, clears the mask and restarts the history
// with the new image as its first entry.
func (s *Session) LoadImage(img image.Image) error {
	if img == nil || img.Bounds().Empty() {
		return ErrNoImage
	}

	base := imageproc.ToRGBA(img)
	if s.maxSize > 0 {
		base = imageproc.ResizeToFit(base, s.maxSize, s.maxSize)
	}
	base = imageproc.Clone(base)
	for i := 3; i < len(base.Pix); i += 4 {
		base.Pix[i] = 255
	}

	entry, err := imageproc.PNG(base)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.editable(); err != nil {
		return err
	}

	s.base = base
	s.mask = blankMask(base.Bounds())
	s.result = imageproc.Clone(base)
	s.history = [][]byte{entry}
	s.cursor = 0
	s.stroking = false
	s.err = nil

	s.logger.Debug("image loaded", "size", base.Bounds().Size(), "estimated_tensor_bytes",
		imageproc.EstimateTensorBytes(base.Bounds().Dx(), base.Bounds().Dy(), 4))
	return nil
}

// editable fails if the surfaces cannot change right now.
func (s *Session) editable() error {
	switch {
	case s.closed:
		return ErrClosed
	case s.processing:
		return ErrBusy
	case s.failed:
		return fmt.Errorf("%w: %w", ErrModelLoadFailed, s.err)
	}
	return nil
}

// canvas is editable plus a loaded image.
func (s *Session) canvas() error {
	if err := s.editable(); err != nil {
		return err
	}
	if s.base == nil {
		return ErrNoImage
	}
	return nil
}

// SetBrushSize sets the brush diameter in pixels.
func (s *Session) SetBrushSize(n int) error {
	if n <= 0 {
		return ErrBrushSize
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.brush = n
	return nil
}

// BrushSize returns the brush diameter in pixels.
func (s *Session) BrushSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.brush
}

// BeginStroke starts a stroke and paints a dab at x, y.
func (s *Session) BeginStroke(x, y float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.canvas(); err != nil {
		return err
	}

	s.stroking = true
	s.last = point{x, y}
	stamp(s.mask, s.last, s.brush)
	return nil
}

// MoveStroke paints from the last point to x, y. Without an active stroke
// it does nothing.
func (s *Session) MoveStroke(x, y float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.canvas(); err != nil {
		return err
	}
	if !s.stroking {
		return nil
	}

	to := point{x, y}
	for _, p := range interpolate(s.last, to, s.brush) {
		stamp(s.mask, p, s.brush)
	}
	s.last = to
	return nil
}

// EndStroke ends the active stroke, if any.
func (s *Session) EndStroke() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stroking = false
}

// ClearMask erases every stroke.
func (s *Session) ClearMask() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.canvas(); err != nil {
		return err
	}
	s.mask = blankMask(s.base.Bounds())
	s.stroking = false
	return nil
}

// ApplyMask replaces the mask with m, where any non-black pixel marks an
// area to fill. m must match the image size.
func (s *Session) ApplyMask(m image.Image) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.canvas(); err != nil {
		return err
	}
	if m.Bounds().Size() != s.base.Bounds().Size() {
		return fmt.Errorf("%w: image %v, mask %v", imageproc.ErrSizeMismatch, s.base.Bounds().Size(), m.Bounds().Size())
	}
	s.mask = MaskFromImage(m)
	s.stroking = false
	return nil
}

// Inpaint fills the masked area of the current image. On success the result
// becomes the current image, is appended to the history and the mask is
// cleared. On failure image, mask and history are left as they were.
func (s *Session) Inpaint(ctx context.Context, fn func(int)) (*image.RGBA, error) {
	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		return nil, ErrClosed
	case s.processing || s.loading:
		s.mu.Unlock()
		return nil, ErrBusy
	case s.failed:
		err := fmt.Errorf("%w: %w", ErrModelLoadFailed, s.err)
		s.mu.Unlock()
		return nil, err
	case s.model == nil:
		s.mu.Unlock()
		return nil, ErrNoModel
	case s.base == nil:
		s.mu.Unlock()
		return nil, ErrNoImage
	}

	s.processing = true
	s.stroking = false
	model, base, mask := s.model, s.base, s.mask
	opts := slices.Clone(s.pipeline)
	s.mu.Unlock()

	if fn != nil {
		opts = append(opts, inpaint.WithProgress(fn))
	}
	opts = append(opts, inpaint.WithLogger(s.logger))

	// base and mask are not mutated while processing is set
	out, err := inpaint.New(model.Session, opts...).Run(ctx, base, mask)

	var entry []byte
	if err == nil {
		entry, err = imageproc.PNG(out)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.processing = false

	if s.closed {
		s.releaseModel()
		return nil, ErrClosed
	}

	if err != nil {
		s.err = err
		s.logger.Warn("inpainting failed", "error", err)
		return nil, err
	}

	s.history = append(s.history, entry)
	s.cursor = len(s.history) - 1
	s.base = out
	s.result = imageproc.Clone(out)
	s.mask = blankMask(out.Bounds())
	s.err = nil

	s.logger.Debug("inpainting done", "history", len(s.history), "sharpness", imageproc.Sharpness(out))
	return imageproc.Clone(out), nil
}

// History returns the PNG encoded entries, oldest first. Entry 0 is the
// image as loaded. The entries must not be modified.
func (s *Session) History() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.history)
}

// Cursor returns the index of the displayed history entry, or -1 without
// an image.
func (s *Session) Cursor() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// Navigate displays history entry i. The history is not truncated; the
// next successful run appends after the last entry.
func (s *Session) Navigate(i int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.canvas(); err != nil {
		return err
	}
	if i < 0 || i >= len(s.history) {
		return fmt.Errorf("%w: %d of %d", ErrHistoryIndex, i, len(s.history))
	}

	img, err := imageproc.DecodeBytes(s.history[i])
	if err != nil {
		return err
	}

	s.base = img
	s.result = imageproc.Clone(img)
	s.mask = blankMask(img.Bounds())
	s.cursor = i
	s.stroking = false
	return nil
}

func cloneOrNil(img *image.RGBA) *image.RGBA {
	if img == nil {
		return nil
	}
	return imageproc.Clone(img)
}

// Image returns a copy of the current image, or nil.
func (s *Session) Image() *image.RGBA {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneOrNil(s.base)
}

// Mask returns a copy of the mask surface, or nil.
func (s *Session) Mask() *image.RGBA {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneOrNil(s.mask)
}

// Result returns a copy of the latest rendering, or nil.
func (s *Session) Result() *image.RGBA {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneOrNil(s.result)
}

// MaskBounds returns the smallest rectangle holding every painted pixel.
func (s *Session) MaskBounds() (image.Rectangle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mask == nil {
		return image.Rectangle{}, false
	}

	painted, err := imageproc.MaskImage(imageproc.EncodeMask(s.mask))
	if err != nil {
		return image.Rectangle{}, false
	}
	return imageproc.BoundingBox(painted)
}

// Close releases the model. A running inpainting finishes first and its
// result is dropped.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.processing {
		return nil
	}
	return s.releaseModel()
}

func (s *Session) releaseModel() error {
	if s.model == nil {
		return nil
	}
	err := s.model.Release()
	s.model = nil
	return err
}
