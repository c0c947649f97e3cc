package viewport

import (
	"context"
	"errors"
	"sync"
	"testing"
	"testing/synctest"
	"time"

	"go.uber.org/zap/zaptest"

	"lectern/common"
	"lectern/config"
	"lectern/render"
)

type growingContainer struct {
	mu     sync.Mutex
	checks int
	// box returned on every check, last entry repeats
	boxes []render.Box
}

func (c *growingContainer) ID() string { return "view" }
func (c *growingContainer) Clear()     {}

func (c *growingContainer) Box() render.Box {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := min(c.checks, len(c.boxes)-1)
	c.checks++
	return c.boxes[i]
}

func testViewportConfig() *config.ViewportConfig {
	return &config.ViewportConfig{
		FrameInterval: 16 * time.Millisecond,
		Desktop:       config.GateConfig{MinWidth: 50, MinHeight: 50, Attempts: 50},
		Mobile:        config.GateConfig{MinWidth: 100, MinHeight: 100, Attempts: 80},
	}
}

func TestGate_Wait(t *testing.T) {
	tests := []struct {
		name       string
		device     common.DeviceClass
		boxes      []render.Box
		wantErr    error
		wantChecks int
	}{
		{
			name:       "desktop ready immediately",
			device:     common.DeviceClassDesktop,
			boxes:      []render.Box{{Width: 800, Height: 600}},
			wantChecks: 1,
		},
		{
			name:       "desktop grows after few frames",
			device:     common.DeviceClassDesktop,
			boxes:      []render.Box{{}, {}, {Width: 40, Height: 40}, {Width: 50, Height: 50}},
			wantChecks: 4,
		},
		{
			name:       "mobile needs larger box",
			device:     common.DeviceClassMobile,
			boxes:      []render.Box{{Width: 60, Height: 60}, {Width: 100, Height: 120}},
			wantChecks: 2,
		},
		{
			name:       "desktop never laid out",
			device:     common.DeviceClassDesktop,
			boxes:      []render.Box{{}},
			wantErr:    ErrViewportTimeout,
			wantChecks: 50,
		},
		{
			name:       "mobile too small",
			device:     common.DeviceClassMobile,
			boxes:      []render.Box{{Width: 99, Height: 400}},
			wantErr:    ErrViewportTimeout,
			wantChecks: 80,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			synctest.Test(t, func(t *testing.T) {
				c := &growingContainer{boxes: tt.boxes}
				g := New(testViewportConfig(), tt.device, zaptest.NewLogger(t))

				box, err := g.Wait(context.Background(), c)
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Wait() error = %v, want %v", err, tt.wantErr)
				}
				if c.checks != tt.wantChecks {
					t.Errorf("container checked %d times, want %d", c.checks, tt.wantChecks)
				}
				if tt.wantErr == nil && box != tt.boxes[len(tt.boxes)-1] {
					t.Errorf("Wait() box = %+v", box)
				}
			})
		})
	}
}

func TestGate_WaitCanceled(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		c := &growingContainer{boxes: []render.Box{{}}}
		g := New(testViewportConfig(), common.DeviceClassDesktop, zaptest.NewLogger(t))

		ctx, cancel := context.WithCancel(context.Background())
		time.AfterFunc(100*time.Millisecond, cancel)

		if _, err := g.Wait(ctx, c); !errors.Is(err, context.Canceled) {
			t.Fatalf("Wait() error = %v, want canceled", err)
		}
	})
}
