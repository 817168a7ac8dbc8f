// Package inferencetest provides in-process sessions and runtimes for tests.
package inferencetest

import (
	"bytes"
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/tuziyo/tuziyo/discover"
	"github.com/tuziyo/tuziyo/inference"
)

// RunFunc computes outputs for a Session.
type RunFunc func(ctx context.Context, inputs map[string]*inference.Tensor) (map[string]*inference.Tensor, error)

// Session is a fake inpainting session with two inputs and one output.
// Without Fn it returns the first input unchanged.
type Session struct {
	Inputs  []string
	Outputs []string
	Fn      RunFunc
	On      discover.Backend

	calls  atomic.Int64
	closed atomic.Bool
}

// Identity returns a session echoing its image input.
func Identity() *Session {
	return &Session{
		Inputs:  []string{"image", "mask"},
		Outputs: []string{"result"},
		On:      discover.CPU,
	}
}

func (s *Session) InputNames() []string      { return slices.Clone(s.Inputs) }
func (s *Session) OutputNames() []string     { return slices.Clone(s.Outputs) }
func (s *Session) Backend() discover.Backend { return s.On }

// Calls returns the number of Run invocations.
func (s *Session) Calls() int64 { return s.calls.Load() }

// Closed reports whether Close was called.
func (s *Session) Closed() bool { return s.closed.Load() }

func (s *Session) Run(ctx context.Context, inputs map[string]*inference.Tensor) (map[string]*inference.Tensor, error) {
	s.calls.Add(1)
	if s.closed.Load() {
		return nil, fmt.Errorf("session closed")
	}
	if s.Fn != nil {
		return s.Fn(ctx, inputs)
	}

	in, ok := inputs[s.Inputs[0]]
	if !ok {
		return nil, fmt.Errorf("missing input %q", s.Inputs[0])
	}
	return map[string]*inference.Tensor{
		s.Outputs[0]: {Shape: slices.Clone(in.Shape), Data: bytes.Clone(in.Data)},
	}, nil
}

func (s *Session) Close() error {
	s.closed.Store(true)
	return nil
}

// Runtime builds identity sessions. Backends listed in Fail return their
// error instead.
type Runtime struct {
	Fail map[discover.Backend]error

	mu       sync.Mutex
	attempts []discover.Backend
	models   [][]byte
	sessions []*Session
}

func (r *Runtime) NewSession(model []byte, b discover.Backend) (inference.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.attempts = append(r.attempts, b)
	if err := r.Fail[b]; err != nil {
		return nil, err
	}

	s := Identity()
	s.On = b
	r.models = append(r.models, bytes.Clone(model))
	r.sessions = append(r.sessions, s)
	return s, nil
}

// Attempts returns the backends NewSession was called with, in order.
func (r *Runtime) Attempts() []discover.Backend {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.attempts)
}

// Sessions returns every session built so far.
func (r *Runtime) Sessions() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.sessions)
}

// Models returns the model bytes of every successful build.
func (r *Runtime) Models() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.models)
}
