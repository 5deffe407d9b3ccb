// Package animation holds the bouncing-circle simulation and the transform it
// hands to the renderer every frame.
package animation

import (
	"time"

	mgl32 "github.com/go-gl/mathgl/mgl32"
)

// Extent is the window size in pixels.
type Extent struct {
	Width  uint32
	Height uint32
}

// Empty reports whether the extent has no drawable area (minimized window).
func (e Extent) Empty() bool {
	return e.Width == 0 || e.Height == 0
}

// State is a circle moving in window pixel space (origin top left, y down)
// and reflecting off the window edges.
type State struct {
	Position mgl32.Vec2
	Velocity mgl32.Vec2 // pixels per second
	Radius   float32

	extent Extent
}

// NewState returns a state inside extent. The position is clamped into the
// bounds if it starts outside them. An empty extent leaves the position as
// given until the first Resize.
func NewState(pos, vel mgl32.Vec2, radius float32, extent Extent) *State {
	s := &State{
		Position: pos,
		Velocity: vel,
		Radius:   radius,
		extent:   extent,
	}
	s.clamp()
	return s
}

// Extent returns the bounds the circle is currently kept inside.
func (s *State) Extent() Extent {
	return s.extent
}

// Tick advances the simulation by dt and reflects off any edge that was
// crossed.
func (s *State) Tick(dt time.Duration) {
	secs := float32(dt.Seconds())
	s.Position = s.Position.Add(s.Velocity.Mul(secs))
	s.clamp()
}

// Resize moves the bounds to the new window size. The position is clamped,
// not rescaled, and the velocity is kept; the next Tick reflects it. Zero-area extents are ignored so a minimized window keeps the
// last usable bounds.
func (s *State) Resize(extent Extent) {
	if extent.Empty() {
		return
	}
	s.extent = extent
	clampAxis(&s.Position[0], s.Radius, float32(extent.Width))
	clampAxis(&s.Position[1], s.Radius, float32(extent.Height))
}

func (s *State) clamp() {
	if s.extent.Empty() {
		return
	}
	reflectAxis(&s.Position[0], &s.Velocity[0], s.Radius, float32(s.extent.Width))
	reflectAxis(&s.Position[1], &s.Velocity[1], s.Radius, float32(s.extent.Height))
}

// clampAxis pulls pos into [radius, limit-radius], or to the middle when the
// axis is narrower than the circle.
func clampAxis(pos *float32, radius, limit float32) {
	lo, hi := radius, limit-radius
	switch {
	case hi < lo:
		*pos = limit / 2
	case *pos < lo:
		*pos = lo
	case *pos > hi:
		*pos = hi
	}
}

// reflectAxis keeps pos within [radius, limit-radius]. Crossing the low bound
// forces the velocity positive, crossing the high bound forces it negative.
// An axis narrower than the circle pins it to the middle.
func reflectAxis(pos, vel *float32, radius, limit float32) {
	lo, hi := radius, limit-radius
	if hi < lo {
		*pos = limit / 2
		return
	}
	switch {
	case *pos < lo:
		*pos = lo
		if *vel < 0 {
			*vel = -*vel
		}
	case *pos > hi:
		*pos = hi
		if *vel > 0 {
			*vel = -*vel
		}
	}
}

// Projection maps window pixels to Vulkan normalized device coordinates:
// (0,0) lands on the top-left corner (-1,-1) and (width,height) on (1,1).
func (s *State) Projection() mgl32.Mat4 {
	if s.extent.Empty() {
		return mgl32.Ident4()
	}
	return mgl32.Ortho(0, float32(s.extent.Width), 0, float32(s.extent.Height), -1, 1)
}

// Model places the circle's local origin at Position.
func (s *State) Model() mgl32.Mat4 {
	return mgl32.Translate3D(s.Position.X(), s.Position.Y(), 0)
}

// MVP is the combined transform pushed to the vertex shader.
func (s *State) MVP() mgl32.Mat4 {
	return s.Projection().Mul4(s.Model())
}
