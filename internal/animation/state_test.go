package animation

import (
	"math/rand"
	"testing"

	mgl32 "github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var window = Extent{Width: 800, Height: 600}

func assertInBounds(t *testing.T, s *State) {
	t.Helper()
	e := s.Extent()
	assert.GreaterOrEqual(t, s.Position.X(), s.Radius)
	assert.LessOrEqual(t, s.Position.X(), float32(e.Width)-s.Radius)
	assert.GreaterOrEqual(t, s.Position.Y(), s.Radius)
	assert.LessOrEqual(t, s.Position.Y(), float32(e.Height)-s.Radius)
}

func TestTick_OneSecondWithoutBounce(t *testing.T) {
	s := NewState(mgl32.Vec2{400, 300}, mgl32.Vec2{150, 120}, 20, window)

	for i := 0; i < 60; i++ {
		s.Tick(DefaultStep)
	}

	// one step is 2.5px on x, rounding stays far below that
	assert.InDelta(t, 550, s.Position.X(), 0.05)
	assert.InDelta(t, 420, s.Position.Y(), 0.05)
	assert.Equal(t, mgl32.Vec2{150, 120}, s.Velocity)
}

func TestTick_ReflectsAtLowBound(t *testing.T) {
	s := NewState(mgl32.Vec2{20, 300}, mgl32.Vec2{-90, 0}, 20, window)

	s.Tick(DefaultStep)

	assert.Equal(t, float32(20), s.Position.X())
	assert.Equal(t, float32(90), s.Velocity.X())
}

func TestTick_ReflectsAtHighBound(t *testing.T) {
	s := NewState(mgl32.Vec2{400, 580}, mgl32.Vec2{0, 60}, 20, window)

	s.Tick(DefaultStep)

	assert.Equal(t, float32(580), s.Position.Y())
	assert.Equal(t, float32(-60), s.Velocity.Y())
}

func TestTick_MovesAwayAfterClamp(t *testing.T) {
	s := NewState(mgl32.Vec2{25, 575}, mgl32.Vec2{-600, 600}, 20, window)

	s.Tick(DefaultStep)
	require.Equal(t, mgl32.Vec2{20, 580}, s.Position)

	s.Tick(DefaultStep)
	assert.Greater(t, s.Position.X(), float32(20))
	assert.Less(t, s.Position.Y(), float32(580))
}

func TestTick_StaysInBounds(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for run := 0; run < 200; run++ {
		vel := mgl32.Vec2{
			(rng.Float32()*2 - 1) * 5000,
			(rng.Float32()*2 - 1) * 5000,
		}
		pos := mgl32.Vec2{rng.Float32() * 800, rng.Float32() * 600}
		s := NewState(pos, vel, 20, window)
		assertInBounds(t, s)

		ticks := rng.Intn(500)
		for i := 0; i < ticks; i++ {
			s.Tick(DefaultStep)
			assertInBounds(t, s)
		}
	}
}

func TestResize_ClampsWithoutRescale(t *testing.T) {
	s := NewState(mgl32.Vec2{700, 100}, mgl32.Vec2{10, 10}, 20, window)

	s.Resize(Extent{Width: 400, Height: 600})

	assert.Equal(t, Extent{Width: 400, Height: 600}, s.Extent())
	assert.Equal(t, mgl32.Vec2{380, 100}, s.Position)

	s.Resize(Extent{Width: 1600, Height: 1200})
	assert.Equal(t, mgl32.Vec2{380, 100}, s.Position)
}

func TestResize_KeepsVelocityUntilNextTick(t *testing.T) {
	s := NewState(mgl32.Vec2{700, 300}, mgl32.Vec2{10, 0}, 20, window)

	s.Resize(Extent{Width: 400, Height: 600})
	assert.Equal(t, mgl32.Vec2{380, 300}, s.Position)
	assert.Equal(t, mgl32.Vec2{10, 0}, s.Velocity)

	s.Tick(DefaultStep)
	assert.Equal(t, float32(380), s.Position.X())
	assert.Equal(t, float32(-10), s.Velocity.X())

	s.Tick(DefaultStep)
	assert.Less(t, s.Position.X(), float32(380))
}

func TestResize_IgnoresMinimized(t *testing.T) {
	s := NewState(mgl32.Vec2{400, 300}, mgl32.Vec2{}, 20, window)

	s.Resize(Extent{})

	assert.Equal(t, window, s.Extent())
	assert.Equal(t, mgl32.Vec2{400, 300}, s.Position)
}

func TestResize_NarrowerThanCircleCenters(t *testing.T) {
	s := NewState(mgl32.Vec2{400, 300}, mgl32.Vec2{50, 50}, 20, window)

	s.Resize(Extent{Width: 30, Height: 600})

	assert.Equal(t, float32(15), s.Position.X())
}

func TestMVP_MapsPixelsToNDC(t *testing.T) {
	s := NewState(mgl32.Vec2{400, 300}, mgl32.Vec2{}, 20, window)

	center := s.MVP().Mul4x1(mgl32.Vec4{0, 0, 0, 1})
	assert.InDelta(t, 0, center.X(), 1e-6)
	assert.InDelta(t, 0, center.Y(), 1e-6)
	assert.InDelta(t, 0, center.Z(), 1e-6)
	assert.InDelta(t, 1, center.W(), 1e-6)

	s = NewState(mgl32.Vec2{20, 20}, mgl32.Vec2{}, 20, window)
	topLeft := s.MVP().Mul4x1(mgl32.Vec4{-20, -20, 0, 1})
	assert.InDelta(t, -1, topLeft.X(), 1e-6)
	assert.InDelta(t, -1, topLeft.Y(), 1e-6)

	s = NewState(mgl32.Vec2{780, 580}, mgl32.Vec2{}, 20, window)
	bottomRight := s.MVP().Mul4x1(mgl32.Vec4{20, 20, 0, 1})
	assert.InDelta(t, 1, bottomRight.X(), 1e-6)
	assert.InDelta(t, 1, bottomRight.Y(), 1e-6)
}

func TestMVP_TranslationOnlyModel(t *testing.T) {
	s := NewState(mgl32.Vec2{123, 456}, mgl32.Vec2{}, 20, window)

	m := s.Model()
	assert.Equal(t, float32(123), m.At(0, 3))
	assert.Equal(t, float32(456), m.At(1, 3))
	assert.Equal(t, mgl32.Ident3(), m.Mat3())
}

func TestTick_ZeroDuration(t *testing.T) {
	s := NewState(mgl32.Vec2{400, 300}, mgl32.Vec2{150, 120}, 20, window)
	s.Tick(0)
	assert.Equal(t, mgl32.Vec2{400, 300}, s.Position)
}
