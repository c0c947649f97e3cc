// Package progress follows reading position of a live session: position is
// persisted with debounce, percentage is derived from location index once it
// is available.
package progress

import (
	"context"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"lectern/config"
	"lectern/render"
)

// Saver persists reading position.
type Saver interface {
	SavePosition(chapter, cursor string) error
}

// Tracker belongs to a single session.
type Tracker struct {
	chapter  string
	store    Saver
	debounce time.Duration
	chars    int
	log      *zap.Logger

	mu         sync.Mutex
	timer      *time.Timer
	pending    string
	hasPending bool
	last       string
	index      render.LocationIndex
	percent    int
	hasPercent bool
	closed     bool
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	listener   func(int)
}

// New returns tracker for chapter.
func New(chapter string, store Saver, cfg *config.ProgressConfig, log *zap.Logger) *Tracker {
	return &Tracker{
		chapter:  chapter,
		store:    store,
		debounce: cfg.Debounce,
		chars:    cfg.LocationChars,
		log:      log.Named("progress").With(zap.String("chapter", chapter)),
	}
}

// OnProgress registers function called with every new percentage.
func (t *Tracker) OnProgress(f func(percent int)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listener = f
}

// Relocated records new position. Position is persisted once no further
// relocation happened for debounce interval.
func (t *Tracker) Relocated(cursor string) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.last = cursor
	t.pending, t.hasPending = cursor, true
	if t.timer == nil {
		t.timer = time.AfterFunc(t.debounce, t.flush)
	} else {
		t.timer.Reset(t.debounce)
	}
	notify := t.updateLocked()
	t.mu.Unlock()

	notify()
}

// Generate builds location index in background. Readiness never depends on it.
func (t *Tracker) Generate(rd render.Renderer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || t.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()

		start := time.Now()
		index, err := rd.GenerateLocations(ctx, t.chars)
		if err != nil {
			if ctx.Err() == nil {
				t.log.Warn("Unable to generate locations", zap.Error(err))
			}
			return
		}
		t.log.Debug("Locations generated", zap.Int("locations", index.Len()), zap.Duration("elapsed", time.Since(start)))

		t.mu.Lock()
		if t.closed {
			t.mu.Unlock()
			return
		}
		t.index = index
		notify := t.updateLocked()
		t.mu.Unlock()

		notify()
	}()
}

// Progress returns percentage read, ok is false until it can be computed.
func (t *Tracker) Progress() (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.percent, t.hasPercent
}

// Close stops timers and background work and persists pending position.
func (t *Tracker) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	if t.timer != nil {
		t.timer.Stop()
	}
	if t.cancel != nil {
		t.cancel()
	}
	cursor, ok := t.pending, t.hasPending
	t.hasPending = false
	t.mu.Unlock()

	t.wg.Wait()
	if !ok {
		return nil
	}
	return t.save(cursor)
}

// flush runs on debounce timer. Close waits for flush already past the
// closed check.
func (t *Tracker) flush() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	cursor, ok := t.pending, t.hasPending
	t.hasPending = false
	t.wg.Add(1)
	defer t.wg.Done()
	t.mu.Unlock()

	if ok {
		if err := t.save(cursor); err != nil {
			t.log.Warn("Unable to persist position", zap.Error(err))
		}
	}
}

func (t *Tracker) save(cursor string) error {
	if err := t.store.SavePosition(t.chapter, cursor); err != nil {
		return err
	}
	t.log.Debug("Position persisted", zap.String("cursor", cursor))
	return nil
}

// updateLocked recomputes percentage, returned function notifies listener
// and must be called without lock.
func (t *Tracker) updateLocked() func() {
	if t.index == nil || len(t.last) == 0 {
		return func() {}
	}
	fraction, ok := t.index.Fraction(t.last)
	if !ok {
		return func() {}
	}
	t.percent, t.hasPercent = Percent(fraction), true

	listener, percent := t.listener, t.percent
	if listener == nil {
		return func() {}
	}
	return func() { listener(percent) }
}

// Percent converts fraction into rounded percentage clamped to [0, 100].
func Percent(fraction float64) int {
	if math.IsNaN(fraction) {
		return 0
	}
	return int(math.Round(min(max(fraction, 0), 1) * 100))
}
