// Package app drives the window event loop: it advances the animation on a
// fixed clock, draws one frame per iteration and rebuilds the swapchain when
// the window or the presentation engine asks for it.
package app

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/hellhand/vkcircle/internal/animation"
	"github.com/hellhand/vkcircle/internal/metrics"
	"github.com/hellhand/vkcircle/internal/present"
)

// Window is the part of the platform window the loop needs.
type Window interface {
	ShouldClose() bool
	PollEvents()
	// WaitEvents blocks until at least one event arrives.
	WaitEvents()
	FramebufferSize() (width, height int)
	SetTitle(title string)
}

// Renderer draws frames and owns the swapchain.
type Renderer interface {
	DrawFrame(pc animation.PushConstants) (present.Status, error)
	Recreate(width, height uint32) error
	Extent() animation.Extent
	WaitIdle() error
}

// Options configures an Application. Zero values pick defaults.
type Options struct {
	Title   string
	Clock   *animation.Clock
	Metrics *metrics.Metrics
	Logger  zerolog.Logger
	// Now replaces time.Now, for tests.
	Now func() time.Time
}

// Application owns the simulation state and the loop around the renderer.
type Application struct {
	log      zerolog.Logger
	window   Window
	renderer Renderer
	state    *animation.State
	clock    *animation.Clock
	metrics  *metrics.Metrics
	now      func() time.Time
	title    string

	resizePending bool

	fpsFrames int
	fpsStart  time.Time
	fps       float64
}

// New returns an Application animating state inside window. The state is
// resized to the renderer's current extent.
func New(window Window, renderer Renderer, state *animation.State, opts Options) (*Application, error) {
	if opts.Clock == nil {
		opts.Clock = animation.NewClock(animation.DefaultStep, 0)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Metrics == nil {
		m, err := metrics.New(metrics.Meter())
		if err != nil {
			return nil, err
		}
		opts.Metrics = m
	}
	state.Resize(renderer.Extent())
	return &Application{
		log:      opts.Logger,
		window:   window,
		renderer: renderer,
		state:    state,
		clock:    opts.Clock,
		metrics:  opts.Metrics,
		now:      opts.Now,
		title:    opts.Title,
	}, nil
}

// State is the animation being drawn.
func (a *Application) State() *animation.State {
	return a.state
}

// FPS is the frame rate measured over the last full second.
func (a *Application) FPS() float64 {
	return a.fps
}

// HandleResize records that the framebuffer changed size. The swapchain is
// rebuilt at the start of the next frame, before any image is acquired.
func (a *Application) HandleResize(width, height int) {
	a.log.Debug().Int("width", width).Int("height", height).Msg("framebuffer resized")
	a.resizePending = true
}

// Run processes events and draws frames until the window is closed, then waits
// for the GPU to finish. Only fatal errors are returned.
func (a *Application) Run() error {
	for !a.window.ShouldClose() {
		a.window.PollEvents()
		if err := a.Frame(); err != nil {
			return err
		}
	}
	return a.renderer.WaitIdle()
}

// Frame runs one iteration of the loop. While the window is minimized it
// blocks on events instead of drawing.
func (a *Application) Frame() error {
	width, height := a.window.FramebufferSize()
	if width <= 0 || height <= 0 {
		a.resizePending = true
		a.window.WaitEvents()
		return nil
	}

	if a.resizePending {
		if err := a.recreate(width, height, metrics.ReasonResize); err != nil {
			return err
		}
		if a.resizePending {
			return nil
		}
	}

	steps := a.clock.Advance(a.now())
	for i := 0; i < steps; i++ {
		a.state.Tick(a.clock.Step())
	}

	start := a.now()
	status, err := a.renderer.DrawFrame(animation.PushConstants{MVP: a.state.MVP()})
	if err != nil {
		return fmt.Errorf("draw frame: %w", err)
	}
	if status != present.StatusOutOfDate {
		end := a.now()
		a.metrics.FrameRendered(end.Sub(start))
		a.countFrame(end)
	}

	if status.NeedsRecreate() {
		a.log.Debug().Stringer("status", status).Msg("swapchain needs rebuild")
		return a.recreate(width, height, recreateReason(status))
	}
	return nil
}

func recreateReason(status present.Status) string {
	if status == present.StatusSuboptimal {
		return metrics.ReasonSuboptimal
	}
	return metrics.ReasonOutOfDate
}

// recreate rebuilds the swapchain. An empty surface leaves the rebuild pending
// rather than failing.
func (a *Application) recreate(width, height int, reason string) error {
	err := a.renderer.Recreate(uint32(width), uint32(height))
	if errors.Is(err, present.ErrSurfaceEmpty) {
		a.resizePending = true
		return nil
	}
	if err != nil {
		return fmt.Errorf("recreate swapchain: %w", err)
	}
	a.resizePending = false
	extent := a.renderer.Extent()
	a.state.Resize(extent)
	a.metrics.SwapchainRecreated(reason)
	a.log.Debug().
		Str("reason", reason).
		Uint32("width", extent.Width).
		Uint32("height", extent.Height).
		Msg("swapchain recreated")
	return nil
}

func (a *Application) countFrame(now time.Time) {
	if a.fpsStart.IsZero() {
		a.fpsStart = now
	}
	a.fpsFrames++
	elapsed := now.Sub(a.fpsStart)
	if elapsed < time.Second {
		return
	}
	a.fps = float64(a.fpsFrames) / elapsed.Seconds()
	a.window.SetTitle(fmt.Sprintf("%s - FPS: %.1f", a.title, a.fps))
	a.fpsFrames = 0
	a.fpsStart = now
}
