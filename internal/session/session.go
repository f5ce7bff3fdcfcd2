// Package session holds the provider session the whole process acts as. It
// is an explicit dependency handed to the API, never a package global.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/consultorio/agenda/internal/apperr"
	"github.com/consultorio/agenda/internal/calendar"
)

var ErrNoProvider = apperr.Validation("no_provider", "no provider configured for this agenda")

type Session struct {
	DoctorID   string    `json:"doctor_id"`
	DoctorName string    `json:"doctor_name"`
	LoadedAt   time.Time `json:"loaded_at"`
}

// Source yields the provider identity. Refresh calls it again.
type Source interface {
	Load(ctx context.Context) (Session, error)
}

// StaticSource serves a fixed provider, usually from configuration.
type StaticSource struct {
	DoctorID   string
	DoctorName string
}

func (s StaticSource) Load(context.Context) (Session, error) {
	if s.DoctorID == "" {
		return Session{}, ErrNoProvider
	}
	return Session{DoctorID: s.DoctorID, DoctorName: s.DoctorName}, nil
}

type Manager struct {
	source Source
	clock  calendar.Clock
	log    zerolog.Logger

	mu      sync.Mutex
	current *Session
}

func NewManager(source Source, clock calendar.Clock, log zerolog.Logger) *Manager {
	if clock == nil {
		clock = calendar.SystemClock(nil)
	}
	return &Manager{
		source: source,
		clock:  clock,
		log:    log.With().Str("component", "session").Logger(),
	}
}

// Current returns the cached session, loading it on first use.
func (m *Manager) Current(ctx context.Context) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil {
		return *m.current, nil
	}
	return m.loadLocked(ctx)
}

// Refresh reloads from the source. On failure the previous session is kept.
func (m *Manager) Refresh(ctx context.Context) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loadLocked(ctx)
}

// Invalidate drops the cached session; the next Current reloads it.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	m.current = nil
	m.mu.Unlock()
}

func (m *Manager) loadLocked(ctx context.Context) (Session, error) {
	s, err := m.source.Load(ctx)
	if err != nil {
		if !errors.Is(err, ErrNoProvider) {
			m.log.Error().Err(err).Msg("failed to load provider session")
		}
		return Session{}, err
	}
	s.LoadedAt = m.clock.Now()
	m.current = &s
	m.log.Info().Str("doctor_id", s.DoctorID).Msg("provider session loaded")
	return s, nil
}
