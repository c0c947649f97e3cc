// Package commands implements program subcommands.
package commands

import (
	"fmt"

	"go.uber.org/zap"

	"lectern/backend"
	"lectern/catalog"
	"lectern/render/epubview"
	"lectern/session"
	"lectern/source"
	"lectern/state"
)

// engine is a set of components shared by all views of a single catalog.
type engine struct {
	catalog  *catalog.Catalog
	merger   backend.Merger
	sources  *source.Resolver
	sessions *session.Manager
}

func newEngine(env *state.LocalEnv, path string, log *zap.Logger) (*engine, error) {
	cat, err := catalog.Load(path, log)
	if err != nil {
		return nil, err
	}
	merger, err := newMerger(env, cat, log)
	if err != nil {
		return nil, err
	}
	sessions, err := session.NewManager(epubview.New(env.Fetcher, log), session.Themes(env.Cfg.Engine.Themes), log)
	if err != nil {
		return nil, err
	}
	return &engine{
		catalog:  cat,
		merger:   merger,
		sources:  source.New(env.Cache, merger, &env.Cfg.Engine.Resolver, log),
		sessions: sessions,
	}, nil
}

// newMerger prefers remote merge service when one is configured.
func newMerger(env *state.LocalEnv, cat *catalog.Catalog, log *zap.Logger) (backend.Merger, error) {
	if len(env.Cfg.Backend.URL) > 0 {
		b, err := backend.NewHTTP(&env.Cfg.Backend, log)
		if err != nil {
			return nil, fmt.Errorf("unable to prepare merge service: %w", err)
		}
		return b, nil
	}
	return backend.NewLocal(env.Fetcher, &env.Cfg.Backend, cat, log), nil
}

// close releases engine components, background persistence is allowed to finish.
func (e *engine) close() {
	e.sessions.CloseAll()
	e.sources.Wait()
}
