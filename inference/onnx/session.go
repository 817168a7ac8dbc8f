//go:build cgo

package onnx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/tuziyo/tuziyo/discover"
	"github.com/tuziyo/tuziyo/inference"
)

var (
	initOnce sync.Once
	initErr  error
)

func initialize(library string) error {
	initOnce.Do(func() {
		if library != "" {
			ort.SetSharedLibraryPath(library)
		}
		initErr = ort.InitializeEnvironment()
		if initErr == nil {
			slog.Debug("onnxruntime initialized", "library", library)
		}
	})
	return initErr
}

// Shutdown releases the onnxruntime environment. Sessions must be closed
// first.
func Shutdown() error {
	if !ort.IsInitialized() {
		return nil
	}
	return ort.DestroyEnvironment()
}

// Runtime builds onnxruntime sessions.
type Runtime struct {
	opts Options
}

var _ inference.Runtime = (*Runtime)(nil)

func New(opts Options) *Runtime {
	return &Runtime{opts: opts}
}

// NewSession builds a session on exactly one backend. Provider failures
// are returned, not silently replaced by CPU execution, so callers can try
// the next backend themselves.
func (r *Runtime) NewSession(model []byte, b discover.Backend) (inference.Session, error) {
	if err := initialize(r.opts.LibraryPath); err != nil {
		return nil, fmt.Errorf("onnx: initialize runtime: %w", err)
	}

	inputs, outputs, err := ort.GetInputOutputInfoWithONNXData(model)
	if err != nil {
		return nil, fmt.Errorf("onnx: read model signature: %w", err)
	}
	if len(outputs) == 0 {
		return nil, errors.New("onnx: model declares no outputs")
	}

	s := &session{backend: b}
	for _, in := range inputs {
		s.inputs = append(s.inputs, in.Name)
	}
	for _, out := range outputs {
		s.outputs = append(s.outputs, out.Name)
	}

	opts, err := r.sessionOptions(b)
	if err != nil {
		return nil, err
	}
	defer opts.Destroy()

	s.inner, err = ort.NewDynamicAdvancedSessionWithONNXData(model, s.inputs, s.outputs, opts)
	if err != nil {
		return nil, fmt.Errorf("onnx: create %s session: %w", b, err)
	}

	return s, nil
}

func (r *Runtime) sessionOptions(b discover.Backend) (*ort.SessionOptions, error) {
	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("onnx: session options: %w", err)
	}

	switch b {
	case discover.CUDA:
		err = func() error {
			cuda, err := ort.NewCUDAProviderOptions()
			if err != nil {
				return err
			}
			defer cuda.Destroy()

			if err := cuda.Update(map[string]string{"device_id": strconv.Itoa(r.opts.DeviceID)}); err != nil {
				return err
			}
			return opts.AppendExecutionProviderCUDA(cuda)
		}()
	case discover.CoreML:
		err = opts.AppendExecutionProviderCoreML(0)
	case discover.CPU:
		if r.opts.NumThreads > 0 {
			err = opts.SetIntraOpNumThreads(r.opts.NumThreads)
		}
	default:
		err = fmt.Errorf("unsupported backend %q", b)
	}

	if err != nil {
		opts.Destroy()
		return nil, fmt.Errorf("onnx: configure %s: %w", b, err)
	}
	return opts, nil
}

type session struct {
	mu      sync.Mutex
	inner   *ort.DynamicAdvancedSession
	inputs  []string
	outputs []string
	backend discover.Backend
}

func (s *session) InputNames() []string      { return slices.Clone(s.inputs) }
func (s *session) OutputNames() []string     { return slices.Clone(s.outputs) }
func (s *session) Backend() discover.Backend { return s.backend }

type runResult struct {
	err error
}

// Run executes the model on a separate goroutine and returns as soon as it
// finishes or ctx is done. A cancelled run keeps the session locked until the
// native call returns.
func (s *session) Run(ctx context.Context, inputs map[string]*inference.Tensor) (map[string]*inference.Tensor, error) {
	s.mu.Lock()
	if s.inner == nil {
		s.mu.Unlock()
		return nil, errors.New("onnx: session closed")
	}

	in := make([]ort.Value, 0, len(s.inputs))
	release := func(values []ort.Value) {
		for _, v := range values {
			if v != nil {
				v.Destroy()
			}
		}
	}

	for _, name := range s.inputs {
		t, ok := inputs[name]
		if !ok {
			release(in)
			s.mu.Unlock()
			return nil, fmt.Errorf("onnx: missing input %q", name)
		}
		v, err := ort.NewTensor(ort.NewShape(t.Shape...), t.Data)
		if err != nil {
			release(in)
			s.mu.Unlock()
			return nil, fmt.Errorf("onnx: input %q: %w", name, err)
		}
		in = append(in, v)
	}

	// nil outputs are allocated by onnxruntime
	out := make([]ort.Value, len(s.outputs))

	done := make(chan runResult, 1)
	go func() {
		done <- runResult{err: s.inner.Run(in, out)}
	}()

	select {
	case <-ctx.Done():
		go func() {
			<-done
			release(in)
			release(out)
			s.mu.Unlock()
		}()
		return nil, ctx.Err()
	case r := <-done:
		defer s.mu.Unlock()
		defer release(in)
		defer release(out)

		if r.err != nil {
			return nil, fmt.Errorf("onnx: run: %w", r.err)
		}

		result := make(map[string]*inference.Tensor, len(out))
		for i, v := range out {
			t, ok := v.(*ort.Tensor[uint8])
			if !ok {
				return nil, fmt.Errorf("onnx: output %q is %T, want uint8 tensor", s.outputs[i], v)
			}
			result[s.outputs[i]] = &inference.Tensor{
				Shape: slices.Clone([]int64(t.GetShape())),
				Data:  bytes.Clone(t.GetData()),
			}
		}
		return result, nil
	}
}

func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inner == nil {
		return nil
	}
	err := s.inner.Destroy()
	s.inner = nil
	return err
}
