// Package reader ties engine components into a chapter view: one mounted
// chapter bound to one container, initialized by a pipeline which degrades
// toward the raw source instead of failing.
package reader

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"lectern/annotate"
	"lectern/catalog"
	"lectern/config"
	"lectern/navigation"
	"lectern/preload"
	"lectern/progress"
	"lectern/readiness"
	"lectern/render"
	"lectern/session"
	"lectern/source"
	"lectern/store"
	"lectern/target"
	"lectern/viewport"
)

// Catalog is what view needs to know about chapters.
type Catalog interface {
	Chapter(id string) (catalog.Chapter, error)
	Next(id string) (catalog.Chapter, bool)
}

// Sources picks payload for chapter.
type Sources interface {
	Resolve(ctx context.Context, ch catalog.Chapter) (source.Resolved, error)
	Raw(ch catalog.Chapter) (source.Resolved, error)
}

// Store keeps reading positions and preferences.
type Store interface {
	target.Positions
	progress.Saver
	Preference(key string) (string, bool, error)
	SetPreference(key, value string) error
}

// Deps are collaborators shared between views.
type Deps struct {
	Catalog  Catalog
	Cache    preload.Service
	Sources  Sources
	Sessions *session.Manager
	Store    Store
	Popup    annotate.Popup
}

// View is a single chapter view. All methods are safe for concurrent use.
type View struct {
	container render.Container
	deps      Deps
	cfg       *config.EngineConfig
	gate      *viewport.Gate
	targets   *target.Resolver
	base      *zap.Logger
	log       *zap.Logger

	mu       sync.Mutex
	gen      uint64
	cancel   context.CancelFunc
	done     chan struct{}
	closed   bool
	state    State
	err      error
	chapter  catalog.Chapter
	theme    string
	fontSize int

	sess     *session.Session
	detector *readiness.Detector
	tracker  *progress.Tracker
	overlay  *annotate.Overlay
	nav      *navigation.Controller
}

// New returns view drawing into container. Theme and font size start from
// stored preferences.
func New(c render.Container, deps Deps, cfg *config.EngineConfig, log *zap.Logger) *View {
	base := log.With(zap.String("container", c.ID()))
	log = base.Named("reader")
	v := &View{
		container: c,
		deps:      deps,
		cfg:       cfg,
		gate:      viewport.New(&cfg.Viewport, cfg.Device, base),
		targets:   target.New(deps.Store, &cfg.Target, base),
		base:      base,
		log:       log,
		theme:     cfg.DefaultTheme,
		fontSize:  cfg.FontSize,
	}

	if name, ok, err := deps.Store.Preference(store.PrefTheme); err != nil {
		log.Warn("Unable to read theme preference", zap.Error(err))
	} else if _, known := cfg.Theme(name); ok && known {
		v.theme = name
	}
	if value, ok, err := deps.Store.Preference(store.PrefFontSize); err != nil {
		log.Warn("Unable to read font size preference", zap.Error(err))
	} else if ok {
		if size, err := strconv.Atoi(value); err == nil && validFontSize(size) {
			v.fontSize = size
		}
	}
	return v
}

// Open tears down whatever view shows now and starts initialization of
// chapter in background. Pipeline stops when ctx is done, view is reopened or
// closed. Use Wait or Ready to learn the outcome.
func (v *View) Open(ctx context.Context, chapterID string) error {
	ch, err := v.deps.Catalog.Chapter(chapterID)
	if err != nil {
		return err
	}

	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return errClosed
	}
	if v.cancel != nil {
		v.cancel()
	}
	v.gen++
	gen, prev := v.gen, v.done
	teardown := v.detachLocked()

	pctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	v.cancel, v.done = cancel, done
	v.chapter, v.err = ch, nil
	v.state = StateResolvingSource
	v.mu.Unlock()

	if err := teardown(); err != nil {
		v.log.Warn("Previous chapter teardown failed", zap.Error(err))
	}

	go func() {
		defer close(done)
		defer cancel()

		// previous pipeline must release container before this one touches it
		if prev != nil {
			select {
			case <-prev:
			case <-pctx.Done():
				return
			}
		}
		v.run(pctx, gen, ch)
	}()
	return nil
}

func (v *View) run(ctx context.Context, gen uint64, ch catalog.Chapter) {
	log := v.log.With(zap.String("chapter", ch.ID))
	start := time.Now()

	err := v.pipeline(ctx, gen, ch, log)
	switch {
	case err == nil:
		log.Info("Chapter ready", zap.Duration("elapsed", time.Since(start)))
	case ctx.Err() != nil:
		log.Debug("Initialization abandoned", zap.Error(err))
	default:
		v.fail(gen, err, log)
	}
}

func (v *View) pipeline(ctx context.Context, gen uint64, ch catalog.Chapter, log *zap.Logger) error {
	resolved, err := v.deps.Sources.Resolve(ctx, ch)
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		return &FatalError{State: StateResolvingSource, Message: ErrResolution.Error(), Err: fmt.Errorf("%w: %w", ErrResolution, err)}
	}
	log.Debug("Source resolved", zap.Stringer("tier", resolved.Tier))

	if !v.advance(gen, StateAwaitingViewport) {
		return context.Canceled
	}
	box, err := v.gate.Wait(ctx, v.container)
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		return &FatalError{State: StateAwaitingViewport, Message: "container failed to initialize, reload the page", Err: err}
	}

	if !v.advance(gen, StateCreatingSession) {
		return context.Canceled
	}
	sess, err := v.openSession(ctx, gen, ch, resolved, box, log)
	if err != nil {
		return err
	}

	v.mu.Lock()
	if gen != v.gen {
		v.mu.Unlock()
		// superseded while session was being created
		sess.Close()
		return context.Canceled
	}
	v.sess = sess
	v.detector = readiness.New(&v.cfg.Readiness, v.cfg.Device, sess.Renderer, v.container, v.base)
	v.tracker = progress.New(ch.ID, v.deps.Store, &v.cfg.Progress, v.base)
	v.overlay = annotate.New(ch.Annotations, v.theme, v.deps.Popup, v.base)
	v.nav = navigation.New(sess.Renderer, &v.cfg.Navigation, box, v.base)
	v.state = StateResolvingTarget
	detector := v.detector
	v.mu.Unlock()

	detector.Start()
	attempt, err := v.targets.Display(ctx, ch.ID, sess.Renderer)
	switch {
	case ctx.Err() != nil:
		return ctx.Err()
	case err != nil:
		// exhaustion is reported through readiness timeout only
		log.Warn("No display target could be shown", zap.Error(err))
	default:
		log.Debug("Display target resolved", zap.Stringer("attempt", attempt))
		detector.DisplayCompleted()
	}

	if !v.advance(gen, StateAwaitingRender) {
		return context.Canceled
	}
	if err := detector.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return err
		}
		if err := v.deps.Store.SetFailureMarker(ch.ID, true); err != nil {
			log.Warn("Unable to set failure marker", zap.Error(err))
		}
		return &FatalError{State: StateAwaitingRender, Message: err.Error(), Err: err}
	}

	v.mu.Lock()
	if gen != v.gen {
		v.mu.Unlock()
		return context.Canceled
	}
	v.state = StateReady
	tracker := v.tracker
	v.mu.Unlock()

	if err := v.deps.Store.SetFailureMarker(ch.ID, false); err != nil {
		log.Warn("Unable to clear failure marker", zap.Error(err))
	}
	if next, ok := v.deps.Catalog.Next(ch.ID); ok {
		v.deps.Cache.Warm(next.ID, next.Source)
	}
	tracker.Generate(sess.Renderer)
	return nil
}

// openSession creates renderer, payload which renderer rejects is replaced
// with raw source once.
func (v *View) openSession(ctx context.Context, gen uint64, ch catalog.Chapter, resolved source.Resolved, box render.Box, log *zap.Logger) (*session.Session, error) {
	v.mu.Lock()
	opts := render.Options{Width: box.Width, Height: box.Height, FontSize: v.fontSize, Theme: v.theme}
	v.mu.Unlock()

	handler := v.handler(gen)
	sess, err := v.deps.Sessions.Open(ctx, v.container, resolved.Source(), opts, handler)
	if err == nil {
		return sess, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if resolved.Tier == source.TierRaw {
		return nil, &FatalError{State: StateCreatingSession, Message: ErrResolution.Error(), Err: fmt.Errorf("%w: %w", ErrResolution, err)}
	}

	log.Warn("Renderer rejected source, falling back to raw", zap.Stringer("tier", resolved.Tier), zap.Error(err))
	raw, rerr := v.deps.Sources.Raw(ch)
	if rerr != nil {
		return nil, &FatalError{State: StateCreatingSession, Message: ErrResolution.Error(), Err: fmt.Errorf("%w: %w", ErrResolution, multierr.Append(err, rerr))}
	}
	sess, err = v.deps.Sessions.Open(ctx, v.container, raw.Source(), opts, handler)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &FatalError{State: StateCreatingSession, Message: ErrResolution.Error(), Err: fmt.Errorf("%w: %w", ErrResolution, err)}
	}
	return sess, nil
}

// handler routes renderer signals of generation gen, signals of superseded
// sessions are dropped.
func (v *View) handler(gen uint64) func(render.Event) {
	return func(ev render.Event) {
		v.mu.Lock()
		if gen != v.gen {
			v.mu.Unlock()
			return
		}
		detector, tracker, overlay := v.detector, v.tracker, v.overlay
		v.mu.Unlock()

		switch ev.Kind {
		case render.EventRendered:
			if overlay != nil && ev.Content != nil {
				overlay.Apply(ev.Content)
			}
			if detector != nil {
				detector.Rendered()
			}
		case render.EventRelocated:
			if tracker != nil {
				tracker.Relocated(ev.Cursor)
			}
		case render.EventClick:
			if overlay != nil {
				overlay.Click(ev)
			}
		}
	}
}

func (v *View) advance(gen uint64, s State) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if gen != v.gen {
		return false
	}
	v.log.Debug("State", zap.Stringer("from", v.state), zap.Stringer("to", s))
	v.state = s
	return true
}

func (v *View) fail(gen uint64, err error, log *zap.Logger) {
	v.mu.Lock()
	if gen != v.gen {
		v.mu.Unlock()
		return
	}
	v.state, v.err = StateError, err
	teardown := v.detachLocked()
	v.mu.Unlock()

	log.Error("Chapter failed", zap.Error(err))
	if err := teardown(); err != nil {
		log.Warn("Teardown failed", zap.Error(err))
	}
}

// detachLocked takes ownership of live components away from view and
// returns function destroying them. Must be called under lock, returned
// function must be called without it.
func (v *View) detachLocked() func() error {
	sess, detector, tracker, nav := v.sess, v.detector, v.tracker, v.nav
	v.sess, v.detector, v.tracker, v.overlay, v.nav = nil, nil, nil, nil, nil

	return func() (err error) {
		if detector != nil {
			detector.Stop()
		}
		if nav != nil {
			nav.Close()
		}
		if tracker != nil {
			err = multierr.Append(err, tracker.Close())
		}
		if sess != nil {
			sess.Close()
		}
		return err
	}
}

// State returns current pipeline state.
func (v *View) State() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// Ready reports whether content is visible.
func (v *View) Ready() bool {
	return v.State() == StateReady
}

// Err returns fatal error, if any. Use errors.As with *FatalError to get
// message for the reader.
func (v *View) Err() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.err
}

// Chapter returns chapter view was last opened with.
func (v *View) Chapter() catalog.Chapter {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.chapter
}

// Progress returns percentage read, ok is false until location index is ready.
func (v *View) Progress() (int, bool) {
	v.mu.Lock()
	tracker := v.tracker
	v.mu.Unlock()
	if tracker == nil {
		return 0, false
	}
	return tracker.Progress()
}

// Wait blocks until pipeline started by the last Open finishes and returns
// fatal error if initialization failed.
func (v *View) Wait(ctx context.Context) error {
	v.mu.Lock()
	done := v.done
	v.mu.Unlock()
	if done == nil {
		return ErrNotReady
	}
	select {
	case <-done:
		return v.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (v *View) live() (*session.Session, *navigation.Controller, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.state != StateReady || v.sess == nil {
		return nil, nil, ErrNotReady
	}
	return v.sess, v.nav, nil
}

// Next turns page forward, turned is false when call was swallowed by cooldown.
func (v *View) Next(ctx context.Context) (turned bool, err error) {
	_, nav, err := v.live()
	if err != nil {
		return false, err
	}
	return nav.Next(ctx)
}

// Prev turns page back, turned is false when call was swallowed by cooldown.
func (v *View) Prev(ctx context.Context) (turned bool, err error) {
	_, nav, err := v.live()
	if err != nil {
		return false, err
	}
	return nav.Prev(ctx)
}

// ResetPosition forgets stored position and shows first readable page.
func (v *View) ResetPosition(ctx context.Context) error {
	sess, _, err := v.live()
	if err != nil {
		return err
	}
	ch := v.Chapter()
	if err := v.deps.Store.ClearPosition(ch.ID); err != nil {
		return fmt.Errorf("unable to clear position: %w", err)
	}
	if err := v.deps.Store.SetFailureMarker(ch.ID, false); err != nil {
		return fmt.Errorf("unable to clear failure marker: %w", err)
	}
	page, err := target.FirstReadable(sess.Renderer.Spine())
	if err != nil {
		return err
	}
	return sess.Renderer.Display(ctx, render.Href(page.Href))
}

// SetTheme persists theme preference and applies it to live content.
func (v *View) SetTheme(name string) error {
	if _, ok := v.cfg.Theme(name); !ok {
		return fmt.Errorf("unknown theme %q", name)
	}
	if err := v.deps.Store.SetPreference(store.PrefTheme, name); err != nil {
		return fmt.Errorf("unable to save theme: %w", err)
	}

	v.mu.Lock()
	v.theme = name
	sess, overlay := v.sess, v.overlay
	v.mu.Unlock()

	if overlay != nil {
		overlay.SetTheme(name)
	}
	if sess != nil {
		return sess.Renderer.SelectTheme(name)
	}
	return nil
}

// SetFontSize persists font size preference (percent) and applies it to live content.
func (v *View) SetFontSize(percent int) error {
	if !validFontSize(percent) {
		return fmt.Errorf("font size %d%% is out of range", percent)
	}
	if err := v.deps.Store.SetPreference(store.PrefFontSize, strconv.Itoa(percent)); err != nil {
		return fmt.Errorf("unable to save font size: %w", err)
	}

	v.mu.Lock()
	v.fontSize = percent
	sess := v.sess
	v.mu.Unlock()

	if sess != nil {
		sess.Renderer.SetFontSize(percent)
	}
	return nil
}

// Theme returns active theme name.
func (v *View) Theme() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.theme
}

// FontSize returns active font size in percent.
func (v *View) FontSize() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.fontSize
}

// Resized is called on container size change, reports whether content was re-laid out.
func (v *View) Resized(width, height float64) bool {
	v.mu.Lock()
	nav := v.nav
	v.mu.Unlock()
	if nav == nil {
		return false
	}
	return nav.Resized(width, height)
}

// Close stops initialization, persists position and destroys session. View
// cannot be used afterwards.
func (v *View) Close() error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return nil
	}
	v.closed = true
	v.state = StateUninitialized
	v.gen++
	if v.cancel != nil {
		v.cancel()
	}
	done := v.done
	teardown := v.detachLocked()
	v.mu.Unlock()

	err := teardown()
	if done != nil {
		<-done
	}
	return err
}

func validFontSize(percent int) bool {
	return percent >= 50 && percent <= 300
}

// Message returns text to show the reader for fatal error err.
func Message(err error) string {
	var fe *FatalError
	if errors.As(err, &fe) {
		return fe.Message
	}
	return ""
}
