// Package viewport holds renderer creation back until the container has
// been laid out with usable dimensions.
package viewport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"lectern/common"
	"lectern/config"
	"lectern/poll"
	"lectern/render"
)

// ErrViewportTimeout means container never reached minimal size. It is fatal
// and not worth retrying.
var ErrViewportTimeout = errors.New("container failed to initialize")

// Gate polls container box once per frame.
type Gate struct {
	interval time.Duration
	limits   config.GateConfig
	log      *zap.Logger
}

// New creates gate with thresholds for the device class.
func New(cfg *config.ViewportConfig, device common.DeviceClass, log *zap.Logger) *Gate {
	return &Gate{
		interval: cfg.FrameInterval,
		limits:   cfg.Gate(device),
		log:      log.Named("viewport"),
	}
}

// Wait returns container box once it is at least minimal size.
func (g *Gate) Wait(ctx context.Context, c render.Container) (render.Box, error) {
	var box render.Box
	start := time.Now()
	err := poll.Until(ctx, g.interval, g.limits.Attempts, func() bool {
		box = c.Box()
		return box.Width >= g.limits.MinWidth && box.Height >= g.limits.MinHeight
	})
	switch {
	case err == nil:
		g.log.Debug("Container is ready",
			zap.String("container", c.ID()),
			zap.Float64("width", box.Width), zap.Float64("height", box.Height),
			zap.Duration("elapsed", time.Since(start)))
		return box, nil
	case errors.Is(err, poll.ErrExhausted):
		g.log.Error("Container never reached usable size",
			zap.String("container", c.ID()),
			zap.Float64("width", box.Width), zap.Float64("height", box.Height),
			zap.Int("attempts", g.limits.Attempts))
		return box, fmt.Errorf("%w: %.0fx%.0f after %d checks", ErrViewportTimeout, box.Width, box.Height, g.limits.Attempts)
	default:
		return box, err
	}
}
