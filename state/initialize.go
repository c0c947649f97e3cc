package state

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"lectern/fetch"
	"lectern/preload"
	"lectern/store"
)

// newLocalEnv creates a new LocalEnv instance with default values
func newLocalEnv() *LocalEnv {
	return &LocalEnv{start: time.Now()}
}

// Initialize creates services shared by all chapter views. Configuration and
// logger must be prepared already.
func (e *LocalEnv) Initialize() (err error) {
	if e.Cfg == nil || e.Log == nil {
		return errors.New("configuration and logging must be prepared first")
	}

	e.Fetcher = fetch.New(&http.Client{Timeout: e.Cfg.Engine.Cache.FetchTimeout}, e.Log)
	if e.Cache, err = preload.New(e.Fetcher, &e.Cfg.Engine.Cache, e.Log); err != nil {
		return fmt.Errorf("unable to create preload cache: %w", err)
	}
	if e.Store, err = store.Open(&e.Cfg.Storage, e.Log); err != nil {
		return fmt.Errorf("unable to open storage: %w", err)
	}
	return nil
}

// Shutdown releases services created by Initialize.
func (e *LocalEnv) Shutdown() error {
	if e.Store == nil {
		return nil
	}
	if err := e.Store.Close(); err != nil {
		return fmt.Errorf("unable to close storage: %w", err)
	}
	return nil
}
