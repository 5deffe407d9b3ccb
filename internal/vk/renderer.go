package vk

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/vulkan-go/vulkan"

	"github.com/hellhand/vkcircle/internal/animation"
	"github.com/hellhand/vkcircle/internal/geometry"
	"github.com/hellhand/vkcircle/internal/present"
)

// Config describes the renderer to build.
type Config struct {
	Device         DeviceConfig
	Shaders        ShaderCode
	Vertices       []geometry.Vertex
	Width, Height  uint32
	FramesInFlight int
	VSync          bool
	ClearColor     [4]float32
	FenceTimeout   time.Duration
}

// Renderer owns every GPU object and draws one frame at a time. It is not
// safe for concurrent use; all calls must come from the thread that created
// the window.
type Renderer struct {
	log zerolog.Logger
	cfg Config

	device    *Device
	swapchain *SwapchainManager
	pipeline  *PipelineManager
	vertices  *vertexBuffer
	sync      *frameSync
	frames    *FrameRenderer
}

// NewRenderer builds the device, swapchain, pipeline, vertex buffer and frame
// resources. Any failure tears down what was already built.
func NewRenderer(cfg Config, log zerolog.Logger) (r *Renderer, err error) {
	if cfg.FramesInFlight < 1 {
		cfg.FramesInFlight = DefaultFramesInFlight
	}
	r = &Renderer{log: log, cfg: cfg}
	defer func() {
		if err != nil {
			r.Destroy()
			r = nil
		}
	}()

	if r.device, err = NewDevice(cfg.Device, log); err != nil {
		return r, err
	}

	modes := DefaultPresentModes
	if cfg.VSync {
		modes = nil
	}
	r.swapchain = newSwapchainManager(deviceSwapchain{d: r.device}, modes, log)
	if err = r.swapchain.create(vulkan.Extent2D{Width: cfg.Width, Height: cfg.Height}, vulkan.Swapchain(vulkan.NullHandle)); err != nil {
		return r, fmt.Errorf("initial swapchain: %w", err)
	}

	r.pipeline = newPipelineManager(devicePipeline{d: r.device, shaders: cfg.Shaders})
	if _, err = r.pipeline.ensure(r.swapchain.Format()); err != nil {
		return r, err
	}
	if err = r.swapchain.attachFramebuffers(r.pipeline.renderPass); err != nil {
		return r, err
	}

	if r.vertices, err = newVertexBuffer(r.device, cfg.Vertices); err != nil {
		return r, err
	}

	if r.sync, err = newFrameSync(r.device, cfg.FramesInFlight, cfg.FenceTimeout); err != nil {
		return r, err
	}
	if err = r.sync.bind(r.swapchain, r.pipeline, r.vertices, cfg.ClearColor); err != nil {
		return r, err
	}
	r.frames = newFrameRenderer(r.sync, cfg.FramesInFlight)

	extent := r.swapchain.Extent()
	log.Info().
		Uint32("width", extent.Width).
		Uint32("height", extent.Height).
		Int("images", r.swapchain.ImageCount()).
		Int("framesInFlight", cfg.FramesInFlight).
		Msg("renderer ready")
	return r, nil
}

// DrawFrame renders and presents one frame. A status that needs a rebuild is
// not an error; the caller should call Recreate before the next frame.
func (r *Renderer) DrawFrame(pc animation.PushConstants) (present.Status, error) {
	return r.frames.Draw(pc)
}

// Recreate rebuilds the swapchain for a window of width x height pixels, and the
// pipeline too if the surface format changed. present.ErrSurfaceEmpty means
// the window has no area; the caller should retry once it does.
func (r *Renderer) Recreate(width, height uint32) error {
	formatChanged, err := r.swapchain.Recreate(vulkan.Extent2D{Width: width, Height: height})
	if err != nil {
		if errors.Is(err, present.ErrSurfaceEmpty) {
			r.log.Debug().Msg("surface empty, swapchain rebuild deferred")
		}
		return err
	}
	if formatChanged {
		if _, err := r.pipeline.ensure(r.swapchain.Format()); err != nil {
			return err
		}
		r.log.Debug().Int32("format", int32(r.pipeline.Format())).Msg("pipeline rebuilt for new surface format")
	}
	if err := r.swapchain.attachFramebuffers(r.pipeline.renderPass); err != nil {
		return err
	}
	return r.sync.bind(r.swapchain, r.pipeline, r.vertices, r.cfg.ClearColor)
}

// Extent is the size of the images being rendered, which may differ from the
// window size the swapchain was requested with.
func (r *Renderer) Extent() animation.Extent {
	e := r.swapchain.Extent()
	return animation.Extent{Width: e.Width, Height: e.Height}
}

// WaitIdle blocks until the GPU has finished all submitted frames.
func (r *Renderer) WaitIdle() error {
	if r.device == nil {
		return nil
	}
	return r.device.WaitIdle()
}

// Destroy waits for the device to go idle and releases every GPU object in
// reverse dependency order. It tolerates a partially built renderer and may
// be called more than once.
func (r *Renderer) Destroy() {
	if r.device == nil {
		return
	}
	if err := r.device.WaitIdle(); err != nil {
		r.log.Warn().Err(err).Msg("wait idle before teardown")
	}
	if r.sync != nil {
		r.sync.destroy()
		r.sync = nil
	}
	if r.vertices != nil {
		r.vertices.destroy()
		r.vertices = nil
	}
	if r.swapchain != nil {
		r.swapchain.destroy()
		r.swapchain = nil
	}
	if r.pipeline != nil {
		r.pipeline.destroy()
		r.pipeline = nil
	}
	r.device.Destroy()
	r.device = nil
}
