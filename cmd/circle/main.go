// Command circle opens a window and animates a filled circle bouncing off its
// edges, rendered with Vulkan.
package main

//go:generate glslc -fshader-stage=vert ../../shaders/vert.glsl -o ../../shaders/vert.spv
//go:generate glslc -fshader-stage=frag ../../shaders/frag.glsl -o ../../shaders/frag.spv

import (
	"fmt"
	"os"
	"runtime"

	mgl32 "github.com/go-gl/mathgl/mgl32"
	"github.com/rs/zerolog"
	flag "github.com/spf13/pflag"
	"github.com/vulkan-go/glfw/v3.3/glfw"
	"github.com/vulkan-go/vulkan"

	"github.com/hellhand/vkcircle/internal/animation"
	"github.com/hellhand/vkcircle/internal/app"
	"github.com/hellhand/vkcircle/internal/config"
	"github.com/hellhand/vkcircle/internal/geometry"
	"github.com/hellhand/vkcircle/internal/logging"
	"github.com/hellhand/vkcircle/internal/metrics"
	"github.com/hellhand/vkcircle/internal/vk"
)

func init() {
	// GLFW/Vulkan require the main thread.
	runtime.LockOSThread()
}

func main() {
	configPath := flag.StringP("config", "c", "", "path to a JSON config file (default ./"+config.DefaultFile+" if present)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	log := logging.New(os.Stderr, cfg.LogLevel)

	if err := run(cfg, log); err != nil {
		log.Error().Err(err).Msg("exiting")
		os.Exit(1)
	}
}

func run(cfg *config.Config, log zerolog.Logger) error {
	shaders, err := loadShaders(cfg.Shaders)
	if err != nil {
		return err
	}
	unit, err := geometry.BuildCircle(cfg.Circle.Segments)
	if err != nil {
		return err
	}

	if err := glfw.Init(); err != nil {
		return fmt.Errorf("init glfw: %w", err)
	}
	defer glfw.Terminate()
	if !glfw.VulkanSupported() {
		return fmt.Errorf("init glfw: vulkan loader not found")
	}

	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI)
	window, err := glfw.CreateWindow(cfg.Window.Width, cfg.Window.Height, cfg.Window.Title, nil, nil)
	if err != nil {
		return fmt.Errorf("create window: %w", err)
	}
	defer window.Destroy()

	// The surface must have a size before the first swapchain is built.
	width, height := window.GetFramebufferSize()
	for width <= 0 || height <= 0 {
		glfw.WaitEventsTimeout(0.01)
		width, height = window.GetFramebufferSize()
	}

	window.SetKeyCallback(func(w *glfw.Window, key glfw.Key, scancode int, action glfw.Action, mods glfw.ModifierKey) {
		if key == glfw.KeyEscape && action == glfw.Press {
			w.SetShouldClose(true)
		}
	})

	renderer, err := vk.NewRenderer(vk.Config{
		Device: vk.DeviceConfig{
			AppName:            cfg.Window.Title,
			Validation:         cfg.Render.Validation,
			ProcAddr:           glfw.GetVulkanGetInstanceProcAddress(),
			InstanceExtensions: window.GetRequiredInstanceExtensions(),
			CreateSurface: func(instance vulkan.Instance) (vulkan.Surface, error) {
				ptr, err := window.CreateWindowSurface(instance, nil)
				if err != nil {
					return vulkan.Surface(vulkan.NullHandle), err
				}
				return vulkan.SurfaceFromPointer(ptr), nil
			},
		},
		Shaders:        shaders,
		Vertices:       geometry.Scale(unit, cfg.Circle.Radius),
		Width:          uint32(width),
		Height:         uint32(height),
		FramesInFlight: cfg.Render.FramesInFlight,
		VSync:          cfg.Render.VSync,
		ClearColor:     cfg.Render.ClearColor,
		FenceTimeout:   cfg.Render.FenceTimeout,
	}, logging.Component(log, "vk"))
	if err != nil {
		return fmt.Errorf("init vulkan: %w", err)
	}
	defer renderer.Destroy()

	m, err := metrics.New(metrics.Meter())
	if err != nil {
		return err
	}

	state := animation.NewState(
		mgl32.Vec2(cfg.Circle.Position),
		mgl32.Vec2(cfg.Circle.Velocity),
		cfg.Circle.Radius,
		renderer.Extent(),
	)
	loop, err := app.New(glfwWindow{window}, renderer, state, app.Options{
		Title:   cfg.Window.Title,
		Clock:   animation.NewClock(cfg.Sim.Step, cfg.Sim.MaxSteps),
		Metrics: m,
		Logger:  logging.Component(log, "app"),
	})
	if err != nil {
		return err
	}

	window.SetFramebufferSizeCallback(func(w *glfw.Window, width int, height int) {
		loop.HandleResize(width, height)
	})

	log.Info().Msg("entering main loop")
	return loop.Run()
}

func loadShaders(cfg config.ShaderConfig) (vk.ShaderCode, error) {
	vert, frag, err := cfg.Read()
	if err != nil {
		return vk.ShaderCode{}, err
	}
	return vk.ShaderCode{Vertex: vert, Fragment: frag}, nil
}

// glfwWindow adapts a glfw window to the event loop.
type glfwWindow struct {
	w *glfw.Window
}

func (g glfwWindow) ShouldClose() bool { return g.w.ShouldClose() }
func (g glfwWindow) PollEvents()       { glfw.PollEvents() }
func (g glfwWindow) WaitEvents()       { glfw.WaitEvents() }
func (g glfwWindow) SetTitle(title string) {
	g.w.SetTitle(title)
}

func (g glfwWindow) FramebufferSize() (int, int) {
	return g.w.GetFramebufferSize()
}
