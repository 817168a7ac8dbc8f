// Package server - editing session bookkeeping
// Contains: sessionManager, per-session model loading, session gauge
package server

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/tuziyo/tuziyo/editor"
	"github.com/tuziyo/tuziyo/registry"
)

var (
	ErrTooManySessions = errors.New("too many sessions")
	ErrSessionNotFound = errors.New("session not found")
)

var openSessions = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "tuziyo_editor_sessions",
	Help: "Open editing sessions",
})

type managedSession struct {
	id    string
	model registry.Type
	*editor.Session

	// cancel aborts the background model load; loaded is closed once
	// that load has returned
	cancel context.CancelFunc
	loaded chan struct{}
}

type sessionManager struct {
	ctx context.Context
	max int

	mu       sync.Mutex
	sessions map[string]*managedSession
}

// newSessionManager returns a manager holding at most max sessions; zero
// means no limit. Model loads are cancelled when ctx is done.
func newSessionManager(ctx context.Context, max int) *sessionManager {
	return &sessionManager{
		ctx:      ctx,
		max:      max,
		sessions: make(map[string]*managedSession),
	}
}

// create registers a new session and starts loading model t in the
// background.
func (m *sessionManager) create(p editor.Provider, t registry.Type, opts ...editor.Option) (*managedSession, error) {
	m.mu.Lock()
	if m.max > 0 && len(m.sessions) >= m.max {
		m.mu.Unlock()
		return nil, ErrTooManySessions
	}

	ctx, cancel := context.WithCancel(m.ctx)
	ms := &managedSession{
		id:      uuid.NewString(),
		model:   t,
		Session: editor.New(p, opts...),
		cancel:  cancel,
		loaded:  make(chan struct{}),
	}
	m.sessions[ms.id] = ms
	openSessions.Set(float64(len(m.sessions)))
	m.mu.Unlock()

	go func() {
		defer close(ms.loaded)
		if err := ms.LoadModel(ctx, t, nil); err != nil {
			slog.Debug("session model load ended", "session", ms.id, "model", t, "error", err)
		}
	}()

	return ms, nil
}

func (m *sessionManager) get(id string) (*managedSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ms, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return ms, nil
}

// remove closes the session and forgets it.
func (m *sessionManager) remove(id string) error {
	m.mu.Lock()
	ms, ok := m.sessions[id]
	delete(m.sessions, id)
	openSessions.Set(float64(len(m.sessions)))
	m.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}

	return ms.shutdown()
}

func (m *sessionManager) closeAll() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*managedSession)
	openSessions.Set(0)
	m.mu.Unlock()

	for id, ms := range sessions {
		if err := ms.shutdown(); err != nil {
			slog.Warn("failed to close session", "session", id, "error", err)
		}
	}
}

// shutdown aborts the model load, waits for it to return and closes the
// session, so a model resolved during teardown is still released.
func (ms *managedSession) shutdown() error {
	ms.cancel()
	<-ms.loaded
	return ms.Close()
}

func (m *sessionManager) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
