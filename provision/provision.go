// Package provision turns a model type into a ready inference session.
//
// Resolving a model looks up its bytes in the local store, downloads them
// from the registry URL on a miss (reporting progress), persists the download
// and builds a session on the first backend that accepts the model.
package provision

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/tuziyo/tuziyo/cache"
	"github.com/tuziyo/tuziyo/discover"
	"github.com/tuziyo/tuziyo/huggingface"
	"github.com/tuziyo/tuziyo/inference"
	"github.com/tuziyo/tuziyo/logutil"
	"github.com/tuziyo/tuziyo/registry"
	"github.com/tuziyo/tuziyo/version"
)

// Progress is one download notification.
type Progress struct {
	Status    string `json:"status"`
	Total     int64  `json:"total,omitempty"`
	Completed int64  `json:"completed,omitempty"`

	// Percent is floor(Completed*100/Total), or -1 when the origin did not
	// announce a size.
	Percent int `json:"percent"`
}

const (
	StatusCached      = "cached"
	StatusDownloading = "downloading"
	StatusSuccess     = "success"
)

// ProgressFunc receives progress notifications. It is called from the
// goroutine performing the download.
type ProgressFunc func(Progress)

func percent(completed, total int64) int {
	if total <= 0 {
		return -1
	}
	return int(min(completed*100/total, 100))
}

const chunkSize = 32 * 1024

// Service resolves model types to sessions.
type Service struct {
	registry *registry.Registry
	store    cache.Store
	runtime  inference.Runtime

	client   *http.Client
	backends func() []discover.Backend
	timeout  time.Duration
	logger   *slog.Logger

	group   singleflight.Group
	mu      sync.Mutex
	flights map[string]*flight
}

// flight is a shared download and the number of callers waiting on it. The
// download runs detached from any single caller and is canceled once the
// last waiter leaves.
type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

// Option configures a Service.
type Option func(*Service)

// WithHTTPClient sets the client used for downloads.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Service) { s.client = c }
}

// WithBackends sets the probe producing the ordered backend list.
func WithBackends(fn func() []discover.Backend) Option {
	return func(s *Service) { s.backends = fn }
}

// WithDownloadTimeout bounds a single download. Zero means no deadline.
func WithDownloadTimeout(d time.Duration) Option {
	return func(s *Service) { s.timeout = d }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// New returns a Service. The store may be nil, in which case every lookup
// misses and nothing is persisted.
func New(reg *registry.Registry, store cache.Store, rt inference.Runtime, opts ...Option) *Service {
	s := &Service{
		registry: reg,
		store:    store,
		runtime:  rt,
		client:   http.DefaultClient,
		backends: discover.Backends,
		logger:   slog.Default(),
		flights:  make(map[string]*flight),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Registry returns the registry the service resolves against.
func (s *Service) Registry() *registry.Registry {
	return s.registry
}

// Resolved is a session built for a model. The caller owns it and must call
// Release when done.
type Resolved struct {
	Session    inference.Session
	Backend    discover.Backend
	Descriptor registry.Descriptor
	FromCache  bool
	Size       int64

	once sync.Once
}

// Release closes the session. Further calls are no-ops.
func (r *Resolved) Release() error {
	var err error
	r.once.Do(func() {
		if r.Session != nil {
			err = r.Session.Close()
		}
	})
	return err
}

// Resolve fetches the model bytes for t and builds a session on the first
// backend that accepts them.
func (s *Service) Resolve(ctx context.Context, t registry.Type, fn ProgressFunc) (*Resolved, error) {
	d, err := s.registry.Lookup(t)
	if err != nil {
		return nil, err
	}

	data, fromCache, err := s.fetch(ctx, d, fn)
	if err != nil {
		return nil, err
	}

	session, err := s.load(ctx, d, data)
	if err != nil {
		return nil, err
	}

	s.logger.Info("model ready", "model", d.DisplayName(), "backend", session.Backend(), "cached", fromCache)
	return &Resolved{
		Session:    session,
		Backend:    session.Backend(),
		Descriptor: d,
		FromCache:  fromCache,
		Size:       int64(len(data)),
	}, nil
}

// Fetch returns the bytes of model t, from the store if possible, and
// reports whether they came from the store.
func (s *Service) Fetch(ctx context.Context, t registry.Type, fn ProgressFunc) ([]byte, bool, error) {
	d, err := s.registry.Lookup(t)
	if err != nil {
		return nil, false, err
	}
	return s.fetch(ctx, d, fn)
}

func (s *Service) fetch(ctx context.Context, d registry.Descriptor, fn ProgressFunc) ([]byte, bool, error) {
	if fn == nil {
		fn = func(Progress) {}
	}

	if data, ok := s.lookup(ctx, d); ok {
		n := int64(len(data))
		fn(Progress{Status: StatusCached, Total: n, Completed: n, Percent: 100})
		return data, true, nil
	}

	data, err := s.join(ctx, d, fn)
	if err != nil {
		return nil, false, err
	}
	return data, false, nil
}

// join waits for the shared download of d. Concurrent misses on the same key
// share one download; only the caller that started it sees intermediate
// progress, the others get a single success notification. A caller whose
// ctx ends stops waiting without aborting the download for the others.
func (s *Service) join(ctx context.Context, d registry.Descriptor, fn ProgressFunc) ([]byte, error) {
	var started bool
	var left atomic.Bool
	report := func(p Progress) {
		if !left.Load() {
			fn(p)
		}
	}

	s.mu.Lock()
	f, ok := s.flights[d.CacheKey]
	if !ok {
		fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		f = &flight{ctx: fctx, cancel: cancel}
		s.flights[d.CacheKey] = f
	}
	f.waiters++
	ch := s.group.DoChan(d.CacheKey, func() (any, error) {
		started = true
		return s.download(f.ctx, d, report)
	})
	s.mu.Unlock()
	defer s.leave(d.CacheKey, f)

	select {
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		data := r.Val.([]byte)
		if !started {
			n := int64(len(data))
			fn(Progress{Status: StatusSuccess, Total: n, Completed: n, Percent: 100})
		}
		return data, nil
	case <-ctx.Done():
		left.Store(true)
		return nil, &DownloadError{URL: d.URL, Err: ctx.Err()}
	}
}

// leave drops one waiter from f and cancels the download when none remain.
func (s *Service) leave(key string, f *flight) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f.waiters--
	if f.waiters > 0 {
		return
	}
	f.cancel()
	if s.flights[key] == f {
		delete(s.flights, key)
		s.group.Forget(key)
	}
}

// lookup reads d from the store. Store failures count as misses.
func (s *Service) lookup(ctx context.Context, d registry.Descriptor) ([]byte, bool) {
	if s.store == nil {
		return nil, false
	}

	data, err := s.store.Get(ctx, d.CacheKey)
	switch {
	case errors.Is(err, cache.ErrNotFound):
		cacheLookups.WithLabelValues("miss").Inc()
		return nil, false
	case err != nil:
		cacheLookups.WithLabelValues("error").Inc()
		s.logger.Warn("model cache unavailable, downloading", "key", d.CacheKey, "error", err)
		return nil, false
	}

	if d.Digest != "" && cache.Sum(data) != d.Digest {
		cacheLookups.WithLabelValues("error").Inc()
		s.logger.Warn("cached model does not match registry digest, downloading", "key", d.CacheKey)
		return nil, false
	}

	cacheLookups.WithLabelValues("hit").Inc()
	return data, true
}

func (s *Service) download(ctx context.Context, d registry.Descriptor, fn ProgressFunc) (data []byte, err error) {
	start := time.Now()
	defer func() {
		if err != nil {
			downloads.WithLabelValues("error").Inc()
			return
		}
		downloads.WithLabelValues("ok").Inc()
		s.logger.Info("downloaded model", "model", d.DisplayName(), "bytes", len(data), "duration", time.Since(start))
	}()

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	src, err := huggingface.ResolveURL(d.URL)
	if err != nil {
		return nil, &DownloadError{URL: d.URL, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return nil, &DownloadError{URL: d.URL, Err: err}
	}
	req.Header.Set("User-Agent", "tuziyo/"+version.Version)
	huggingface.Authorize(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &DownloadError{URL: d.URL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, &DownloadError{URL: d.URL, StatusCode: resp.StatusCode, Err: errors.New(http.StatusText(resp.StatusCode))}
	}

	total := resp.ContentLength
	var buf bytes.Buffer
	if total > 0 {
		buf.Grow(int(total))
	}

	chunk := make([]byte, chunkSize)
	for {
		n, rerr := resp.Body.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
			downloadedBytes.Add(float64(n))

			completed := int64(buf.Len())
			logutil.Trace(s.logger, "download progress", "key", d.CacheKey, "completed", completed, "total", total)
			fn(Progress{Status: StatusDownloading, Total: max(total, 0), Completed: completed, Percent: percent(completed, total)})
		}
		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			return nil, &DownloadError{URL: d.URL, Err: rerr}
		}
	}

	if total > 0 && int64(buf.Len()) != total {
		return nil, &DownloadError{URL: d.URL, Err: fmt.Errorf("received %d of %d bytes: %w", buf.Len(), total, io.ErrUnexpectedEOF)}
	}

	data = buf.Bytes()
	if d.Digest != "" && cache.Sum(data) != d.Digest {
		return nil, &DownloadError{URL: d.URL, Err: ErrDigestMismatch}
	}

	if s.store != nil {
		// best effort: the model is usable even when it cannot be kept
		if err := s.store.Put(context.WithoutCancel(ctx), d.CacheKey, data); err != nil {
			s.logger.Warn("failed to persist model", "key", d.CacheKey, "error", err)
		}
	}

	n := int64(len(data))
	fn(Progress{Status: StatusSuccess, Total: n, Completed: n, Percent: 100})
	return data, nil
}

// attemptOrder returns the probed backends with CPU guaranteed last.
func (s *Service) attemptOrder() []discover.Backend {
	backends := slices.DeleteFunc(slices.Clone(s.backends()), func(b discover.Backend) bool {
		return b == discover.CPU
	})
	return append(backends, discover.CPU)
}

func (s *Service) load(ctx context.Context, d registry.Descriptor, data []byte) (inference.Session, error) {
	var attempts []Attempt
	for _, b := range s.attemptOrder() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		start := time.Now()
		session, err := s.runtime.NewSession(data, b)
		sessionBuildDuration.WithLabelValues(string(b)).Observe(time.Since(start).Seconds())
		if err != nil {
			sessionBuilds.WithLabelValues(string(b), "error").Inc()
			s.logger.Warn("backend failed to load model, trying next", "model", d.DisplayName(), "backend", b, "error", err)
			attempts = append(attempts, Attempt{Backend: b, Err: err})
			continue
		}

		sessionBuilds.WithLabelValues(string(b), "ok").Inc()
		s.logger.Debug("built inference session", "backend", b, "inputs", session.InputNames(), "outputs", session.OutputNames(), "duration", time.Since(start))
		return session, nil
	}

	return nil, &ModelLoadError{Type: d.Type, Attempts: attempts}
}
