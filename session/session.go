// Package session manages renderer lifetime. At most one session is live per
// container, opening new one tears the previous one down first.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"lectern/config"
	"lectern/render"
)

// MinThemes is the number of themes every session must have registered.
const MinThemes = 3

// ErrNotEnoughThemes is returned when fewer than MinThemes themes are configured.
var ErrNotEnoughThemes = errors.New("not enough themes")

// Themes converts configured themes.
func Themes(cfg []config.ThemeConfig) []render.Theme {
	themes := make([]render.Theme, 0, len(cfg))
	for _, t := range cfg {
		themes = append(themes, render.Theme{Name: t.Name, Background: t.Background, Text: t.Text, Link: t.Link})
	}
	return themes
}

// Manager keeps per container registry of live sessions.
type Manager struct {
	engine render.Engine
	themes []render.Theme
	log    *zap.Logger

	mu   sync.Mutex
	live map[string]*Session
}

// NewManager returns manager creating renderers with engine.
func NewManager(engine render.Engine, themes []render.Theme, log *zap.Logger) (*Manager, error) {
	if len(themes) < MinThemes {
		return nil, fmt.Errorf("%w: have %d, need at least %d", ErrNotEnoughThemes, len(themes), MinThemes)
	}
	return &Manager{
		engine: engine,
		themes: themes,
		log:    log.Named("session"),
		live:   make(map[string]*Session),
	}, nil
}

// Open creates renderer for container and registers new session.
func (m *Manager) Open(ctx context.Context, c render.Container, src render.Source, opts render.Options, handler func(render.Event)) (*Session, error) {
	if stale, ok := m.Live(c.ID()); ok {
		m.log.Debug("Tearing down stale session", zap.String("container", c.ID()), zap.Stringer("session", stale.ID))
		stale.Close()
	}
	c.Clear()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r, err := m.engine.Create(ctx, c, src, opts)
	if err != nil {
		c.Clear()
		return nil, fmt.Errorf("unable to create renderer: %w", err)
	}
	for _, t := range m.themes {
		r.RegisterTheme(t)
	}
	if err := r.SelectTheme(opts.Theme); err != nil {
		r.Destroy()
		c.Clear()
		return nil, fmt.Errorf("unable to select theme: %w", err)
	}

	id, err := uuid.NewV7()
	if err != nil {
		r.Destroy()
		c.Clear()
		return nil, fmt.Errorf("unable to generate session id: %w", err)
	}

	s := &Session{
		ID:        id,
		Container: c,
		Renderer:  r,
		mgr:       m,
		log:       m.log.With(zap.Stringer("session", id)),
	}
	if handler != nil {
		s.unsubscribe = r.Subscribe(handler)
	}

	m.mu.Lock()
	other := m.live[c.ID()]
	m.live[c.ID()] = s
	m.mu.Unlock()

	if other != nil {
		// concurrent Open for the same container won the race to registry first
		other.Close()
	}
	s.log.Debug("Session opened", zap.String("container", c.ID()), zap.Int("pages", len(r.Spine())))
	return s, nil
}

// Live returns session currently registered for container.
func (m *Manager) Live(containerID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.live[containerID]
	return s, ok
}

// Len returns number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.live)
}

// CloseAll tears down every live session.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.live))
	for _, s := range m.live {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}

func (m *Manager) unregister(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.live[s.Container.ID()] == s {
		delete(m.live, s.Container.ID())
	}
}

// Session is a renderer bound to container.
type Session struct {
	ID        uuid.UUID
	Container render.Container
	Renderer  render.Renderer

	mgr         *Manager
	unsubscribe func()
	once        sync.Once
	log         *zap.Logger
}

// Close unsubscribes handlers, destroys renderer and clears container. Safe
// to call more than once.
func (s *Session) Close() {
	s.once.Do(func() {
		if s.unsubscribe != nil {
			s.unsubscribe()
		}
		s.Renderer.Destroy()
		s.mgr.unregister(s)
		// container may already host replacement session
		if _, ok := s.mgr.Live(s.Container.ID()); !ok {
			s.Container.Clear()
		}
		s.log.Debug("Session closed")
	})
}
