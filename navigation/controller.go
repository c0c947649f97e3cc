// Package navigation throttles page turns and filters out resize jitter.
package navigation

import (
	"context"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"lectern/config"
	"lectern/render"
)

// Turner is the part of renderer navigation drives.
type Turner interface {
	Next(ctx context.Context) error
	Prev(ctx context.Context) error
	Resize(width, height float64)
}

// Controller belongs to a single session.
type Controller struct {
	rd        Turner
	cooldown  time.Duration
	tolerance float64
	log       *zap.Logger

	mu       sync.Mutex
	locked   bool
	timer    *time.Timer
	snapshot render.Box
	closed   bool
}

// New returns controller, initial is viewport size renderer was created with.
func New(rd Turner, cfg *config.NavigationConfig, initial render.Box, log *zap.Logger) *Controller {
	return &Controller{
		rd:        rd,
		cooldown:  cfg.Cooldown,
		tolerance: cfg.ResizeTolerance,
		snapshot:  initial,
		log:       log.Named("navigation"),
	}
}

// Next turns page forward. Calls arriving during cooldown after previous
// turn are dropped, turned is false then.
func (c *Controller) Next(ctx context.Context) (turned bool, err error) {
	if !c.acquire() {
		return false, nil
	}
	return true, c.rd.Next(ctx)
}

// Prev turns page back, same cooldown as Next applies.
func (c *Controller) Prev(ctx context.Context) (turned bool, err error) {
	if !c.acquire() {
		return false, nil
	}
	return true, c.rd.Prev(ctx)
}

func (c *Controller) acquire() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.locked {
		c.log.Debug("Page turn dropped")
		return false
	}
	c.locked = true
	c.timer = time.AfterFunc(c.cooldown, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.locked = false
	})
	return true
}

// Resized re-lays out content when viewport changed by more than tolerance
// in either dimension. Returns true when layout was requested.
func (c *Controller) Resized(width, height float64) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	if math.Abs(width-c.snapshot.Width) <= c.tolerance && math.Abs(height-c.snapshot.Height) <= c.tolerance {
		c.mu.Unlock()
		return false
	}
	c.snapshot = render.Box{Width: width, Height: height}
	c.mu.Unlock()

	c.log.Debug("Viewport resized", zap.Float64("width", width), zap.Float64("height", height))
	c.rd.Resize(width, height)
	return true
}

// Snapshot returns last applied viewport size.
func (c *Controller) Snapshot() render.Box {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot
}

// Close stops cooldown timer, controller ignores all calls afterwards.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.timer != nil {
		c.timer.Stop()
	}
}
