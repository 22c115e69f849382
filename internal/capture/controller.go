// Package capture runs the identity-code detection loop against a live
// frame stream. The image-processing side of detection is opaque to this
// engine: a FrameSource yields candidate payload bytes already extracted
// from frames, and the controller decides whether they decode.
package capture

import (
	"context"
	"sync"

	"github.com/linkup-app/linkup/internal/codec"
	"github.com/linkup-app/linkup/internal/device"
	"github.com/linkup-app/linkup/pkg/models"
	"github.com/rs/zerolog/log"
)

// FrameSource delivers candidate payloads from the camera's frame stream.
// The channel closes when the source ends.
type FrameSource interface {
	Frames() <-chan []byte
}

// Result delivers the first successfully decoded counterpart profile.
type Result func(models.CounterpartProfile)

// Controller owns the camera for the duration of one scan and surfaces at
// most one decoded profile before tearing itself down.
type Controller struct {
	registry *device.Registry
	onDecode Result

	mu      sync.Mutex
	current *run
}

// run is the state of one scan. Each Start creates a fresh run so a stale
// detection goroutine can never release a later run's lease.
type run struct {
	ctrl   *Controller
	lease  *device.Lease
	cancel context.CancelFunc
	once   sync.Once
}

// teardown stops the run exactly once, releasing the camera before the
// controller becomes restartable. onFirst fires only for the call that won.
func (r *run) teardown(onFirst func()) {
	r.once.Do(func() {
		if onFirst != nil {
			onFirst()
		}
		r.cancel()
		r.lease.Release()

		r.ctrl.mu.Lock()
		if r.ctrl.current == r {
			r.ctrl.current = nil
		}
		r.ctrl.mu.Unlock()
	})
}

// NewController creates a controller that reports decoded profiles through
// onDecode.
func NewController(registry *device.Registry, onDecode Result) *Controller {
	return &Controller{registry: registry, onDecode: onDecode}
}

// Start acquires the camera and begins the detection loop. Returns
// device.ErrUnavailable (wrapped) when the camera cannot be opened; the
// caller may retry. Starting while a scan is running returns device.ErrHeld.
func (c *Controller) Start(ctx context.Context, frames FrameSource) error {
	c.mu.Lock()
	if c.current != nil {
		c.mu.Unlock()
		return device.ErrHeld
	}
	c.mu.Unlock()

	lease, err := c.registry.Acquire(ctx, device.Camera)
	if err != nil {
		return err
	}

	loopCtx, cancel := context.WithCancel(ctx)
	r := &run{ctrl: c, lease: lease, cancel: cancel}

	c.mu.Lock()
	c.current = r
	c.mu.Unlock()

	go c.detectLoop(loopCtx, frames, r)
	return nil
}

// detectLoop consumes frames until the first valid decode or cancellation.
// Invalid payloads are skipped silently; they are not terminal.
func (c *Controller) detectLoop(ctx context.Context, frames FrameSource, r *run) {
	for {
		select {
		case <-ctx.Done():
			r.teardown(nil)
			return
		case frame, ok := <-frames.Frames():
			if !ok {
				r.teardown(nil)
				return
			}
			profile, err := codec.Decode(frame)
			if err != nil {
				log.Debug().Msg("Undecodable frame skipped")
				continue
			}
			// The decode races a concurrent Stop; only the winner emits,
			// and either way the camera is released exactly once.
			won := false
			r.teardown(func() { won = true })
			if won && c.onDecode != nil {
				log.Info().Str("counterpart", profile.Name).Msg("Identity code decoded")
				c.onDecode(profile)
			}
			return
		}
	}
}

// Stop halts the detection loop and releases the camera. Safe to call when
// not started and safe to call repeatedly.
func (c *Controller) Stop() {
	c.mu.Lock()
	r := c.current
	c.mu.Unlock()

	if r != nil {
		r.teardown(nil)
	}
}

// Active reports whether a detection loop is running.
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current != nil
}
