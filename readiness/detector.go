// Package readiness decides when freshly displayed content is actually
// visible. Renderer signals alone are not trusted, content frame is inspected
// directly and layout is forced when it looks stuck.
package readiness

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"lectern/common"
	"lectern/config"
	"lectern/render"
)

// ErrRenderTimeout is fatal, content never became visible within budget.
var ErrRenderTimeout = errors.New("content did not render in time, reload the page")

// FrameSource is the part of renderer detector inspects and nudges.
type FrameSource interface {
	Frame() (render.Box, bool)
	Resize(width, height float64)
}

// Detector reports single outcome: ready (nil) or ErrRenderTimeout. Once
// outcome is known no timers are running and no new ones are created.
type Detector struct {
	softCheck time.Duration
	settle    time.Duration
	fatal     time.Duration
	frames    FrameSource
	container render.Container
	log       *zap.Logger

	mu          sync.Mutex
	timers      []*time.Timer
	done        bool
	relayoutOne bool
	resizeOne   bool
	started     time.Time
	result      chan error
}

// New returns detector for renderer drawing into container.
func New(cfg *config.ReadinessConfig, device common.DeviceClass, frames FrameSource, c render.Container, log *zap.Logger) *Detector {
	return &Detector{
		softCheck: cfg.SoftCheck,
		settle:    cfg.Settle,
		fatal:     cfg.FatalBudget(device),
		frames:    frames,
		container: c,
		log:       log.Named("readiness"),
		result:    make(chan error, 1),
	}
}

// Start arms soft check and fatal budget timers.
func (d *Detector) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.started = time.Now()
	d.afterLocked(d.softCheck, d.softInspect)
	d.afterLocked(d.fatal, func() {
		d.finish(ErrRenderTimeout, "fatal budget exhausted")
	})
}

// Rendered is called on renderer rendered signal.
func (d *Detector) Rendered() {
	d.finish(nil, "rendered signal")
}

// DisplayCompleted is called when Display returned, content may still be
// invisible. Frame is re-checked once layout had time to settle.
func (d *Detector) DisplayCompleted() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.afterLocked(d.settle, d.settleInspect)
}

// Done delivers outcome exactly once.
func (d *Detector) Done() <-chan error {
	return d.result
}

// Wait blocks until outcome is known or ctx is done.
func (d *Detector) Wait(ctx context.Context) error {
	select {
	case err := <-d.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop cancels all timers, detector will not report anything afterwards.
func (d *Detector) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.done = true
	d.stopLocked()
}

// Pending returns number of timers detector still owns.
func (d *Detector) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.timers)
}

func (d *Detector) softInspect() {
	if d.isDone() {
		return
	}
	if box, ok := d.frames.Frame(); ok && !box.Empty() {
		d.finish(nil, "soft check found frame")
		return
	}
	d.mu.Lock()
	force := !d.relayoutOne
	d.relayoutOne = true
	d.mu.Unlock()
	if force {
		d.log.Debug("No content frame at soft check, forcing layout")
		d.nudge()
	}
}

func (d *Detector) settleInspect() {
	if d.isDone() {
		return
	}
	if box, ok := d.frames.Frame(); ok && !box.Empty() {
		d.finish(nil, "frame present after display settled")
		return
	}
	d.mu.Lock()
	force := !d.resizeOne
	d.resizeOne = true
	d.mu.Unlock()
	if force {
		d.log.Debug("No content frame after display, forcing resize")
		d.nudge()
	}
}

func (d *Detector) nudge() {
	box := d.container.Box()
	d.frames.Resize(box.Width, box.Height)
}

func (d *Detector) finish(err error, reason string) {
	d.mu.Lock()
	if d.done {
		d.mu.Unlock()
		return
	}
	d.done = true
	d.stopLocked()
	elapsed := time.Since(d.started)
	d.mu.Unlock()

	if err != nil {
		d.log.Error("Content is not visible", zap.String("reason", reason), zap.Duration("elapsed", elapsed))
	} else {
		d.log.Debug("Content is visible", zap.String("reason", reason), zap.Duration("elapsed", elapsed))
	}
	d.result <- err
}

func (d *Detector) isDone() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.done
}

func (d *Detector) afterLocked(dur time.Duration, f func()) {
	if d.done {
		return
	}
	d.timers = append(d.timers, time.AfterFunc(dur, f))
}

func (d *Detector) stopLocked() {
	for _, t := range d.timers {
		t.Stop()
	}
	d.timers = nil
}
