package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DefaultFile is read from the working directory when no path is given.
const DefaultFile = "circle.json"

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid config")

// WindowConfig holds the initial window settings.
type WindowConfig struct {
	Width  int    `json:"width" mapstructure:"width"`
	Height int    `json:"height" mapstructure:"height"`
	Title  string `json:"title" mapstructure:"title"`
}

// CircleConfig describes the shape and its starting motion, in pixels.
type CircleConfig struct {
	Segments int        `json:"segments" mapstructure:"segments"`
	Radius   float32    `json:"radius" mapstructure:"radius"`
	Position [2]float32 `json:"position" mapstructure:"position"`
	Velocity [2]float32 `json:"velocity" mapstructure:"velocity"`
}

// RenderConfig holds the Vulkan presentation settings.
type RenderConfig struct {
	FramesInFlight int           `json:"framesInFlight" mapstructure:"framesInFlight"`
	VSync          bool          `json:"vsync" mapstructure:"vsync"`
	Validation     bool          `json:"validation" mapstructure:"validation"`
	FenceTimeout   time.Duration `json:"fenceTimeout" mapstructure:"fenceTimeout"`
	ClearColor     [4]float32    `json:"clearColor" mapstructure:"clearColor"`
}

// ShaderConfig holds the SPIR-V blob paths.
type ShaderConfig struct {
	Vertex   string `json:"vertex" mapstructure:"vertex"`
	Fragment string `json:"fragment" mapstructure:"fragment"`
}

// Read loads both SPIR-V blobs. A missing blob usually means the shaders were
// never compiled, so the error says how to build them.
func (s ShaderConfig) Read() (vertex, fragment []byte, err error) {
	if vertex, err = readShader("vertex", s.Vertex); err != nil {
		return nil, nil, err
	}
	if fragment, err = readShader("fragment", s.Fragment); err != nil {
		return nil, nil, err
	}
	return vertex, fragment, nil
}

func readShader(stage, path string) ([]byte, error) {
	code, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read %s shader: %w (run `go generate ./cmd/circle` to compile shaders/*.glsl)", stage, err)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s shader: %w", stage, err)
	}
	return code, nil
}

// SimConfig controls the fixed-step simulation clock.
type SimConfig struct {
	Step     time.Duration `json:"step" mapstructure:"step"`
	MaxSteps int           `json:"maxSteps" mapstructure:"maxSteps"`
}

// Config is the full application configuration.
type Config struct {
	LogLevel string       `json:"logLevel" mapstructure:"logLevel"`
	Window   WindowConfig `json:"window" mapstructure:"window"`
	Circle   CircleConfig `json:"circle" mapstructure:"circle"`
	Render   RenderConfig `json:"render" mapstructure:"render"`
	Shaders  ShaderConfig `json:"shaders" mapstructure:"shaders"`
	Sim      SimConfig    `json:"sim" mapstructure:"sim"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logLevel", "info")

	v.SetDefault("window.width", 800)
	v.SetDefault("window.height", 600)
	v.SetDefault("window.title", "Vulkan Circle")

	v.SetDefault("circle.segments", 32)
	v.SetDefault("circle.radius", 20.0)
	v.SetDefault("circle.position", []float32{400, 300})
	v.SetDefault("circle.velocity", []float32{150, 120})

	v.SetDefault("render.framesInFlight", 2)
	v.SetDefault("render.vsync", false)
	v.SetDefault("render.validation", false)
	v.SetDefault("render.fenceTimeout", "5s")
	v.SetDefault("render.clearColor", []float32{0.05, 0.05, 0.08, 1})

	v.SetDefault("shaders.vertex", "shaders/vert.spv")
	v.SetDefault("shaders.fragment", "shaders/frag.spv")

	v.SetDefault("sim.step", "16.666666ms")
	v.SetDefault("sim.maxSteps", 5)
}

// Load builds the configuration from defaults, an optional JSON file and
// CIRCLE_* environment variables, in increasing priority. An empty path reads
// DefaultFile from the working directory if it exists. A file that was named
// explicitly must exist.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("circle")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		if _, err := os.Stat(DefaultFile); err == nil {
			path = DefaultFile
		}
	}
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("json")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the renderer cannot work with.
func (c *Config) Validate() error {
	switch {
	case c.Window.Width <= 0 || c.Window.Height <= 0:
		return fmt.Errorf("%w: window size %dx%d", ErrInvalid, c.Window.Width, c.Window.Height)
	case c.Circle.Segments < 3:
		return fmt.Errorf("%w: circle.segments %d, need at least 3", ErrInvalid, c.Circle.Segments)
	case c.Circle.Radius <= 0:
		return fmt.Errorf("%w: circle.radius %g must be positive", ErrInvalid, c.Circle.Radius)
	case c.Render.FramesInFlight < 1:
		return fmt.Errorf("%w: render.framesInFlight %d, need at least 1", ErrInvalid, c.Render.FramesInFlight)
	case c.Sim.Step <= 0:
		return fmt.Errorf("%w: sim.step %s must be positive", ErrInvalid, c.Sim.Step)
	case c.Sim.MaxSteps < 1:
		return fmt.Errorf("%w: sim.maxSteps %d, need at least 1", ErrInvalid, c.Sim.MaxSteps)
	}
	return nil
}
