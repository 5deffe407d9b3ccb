package geometry

import (
	"encoding/binary"
	"math"
	"testing"

	mgl32 "github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildCircle_VertexCountAndRadius(t *testing.T) {
	for _, n := range []int{3, 4, 7, 32, 100, 1024} {
		verts, err := BuildCircle(n)
		require.NoError(t, err)
		require.Len(t, verts, n+2, "segments=%d", n)

		assert.Equal(t, mgl32.Vec2{}, verts[0].Pos)
		for i, v := range verts[1:] {
			assert.InDelta(t, 1.0, float64(v.Pos.Len()), 1e-5, "segments=%d vertex=%d", n, i+1)
		}
	}
}

func TestBuildCircle_ClosesFan(t *testing.T) {
	verts, err := BuildCircle(32)
	require.NoError(t, err)

	first := verts[1].Pos
	last := verts[len(verts)-1].Pos
	assert.True(t, first.ApproxEqualThreshold(last, 1e-5), "first=%v last=%v", first, last)
	assert.True(t, first.ApproxEqual(mgl32.Vec2{1, 0}))
}

func TestBuildCircle_EqualAngularSteps(t *testing.T) {
	const n = 12
	verts, err := BuildCircle(n)
	require.NoError(t, err)

	step := 2 * math.Pi / n
	for i := 1; i < len(verts); i++ {
		want := float64(i-1) * step
		assert.InDelta(t, math.Cos(want), float64(verts[i].Pos.X()), 1e-5)
		assert.InDelta(t, math.Sin(want), float64(verts[i].Pos.Y()), 1e-5)
	}
}

func TestBuildCircle_Deterministic(t *testing.T) {
	a, err := BuildCircle(32)
	require.NoError(t, err)
	b, err := BuildCircle(32)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestBuildCircle_RejectsDegenerate(t *testing.T) {
	for _, n := range []int{-1, 0, 1, 2} {
		verts, err := BuildCircle(n)
		assert.ErrorIs(t, err, ErrInvalidSegments)
		assert.Nil(t, verts)
	}
}

func TestScale(t *testing.T) {
	verts, err := BuildCircle(8)
	require.NoError(t, err)

	scaled := Scale(verts, 20)
	require.Len(t, scaled, len(verts))
	assert.Equal(t, mgl32.Vec2{}, scaled[0].Pos)
	for _, v := range scaled[1:] {
		assert.InDelta(t, 20.0, float64(v.Pos.Len()), 1e-3)
	}
	// source untouched
	assert.InDelta(t, 1.0, float64(verts[1].Pos.Len()), 1e-5)
}

func TestBytes_Layout(t *testing.T) {
	verts := []Vertex{{Pos: mgl32.Vec2{1.5, -2}}, {Pos: mgl32.Vec2{0.25, 8}}}
	buf := Bytes(verts)
	require.Len(t, buf, 2*int(VertexStride))
	assert.Equal(t, uint32(8), VertexStride)

	read := func(off int) float32 {
		return math.Float32frombits(binary.NativeEndian.Uint32(buf[off:]))
	}
	assert.Equal(t, float32(1.5), read(0))
	assert.Equal(t, float32(-2), read(4))
	assert.Equal(t, float32(0.25), read(8))
	assert.Equal(t, float32(8), read(12))

	assert.Nil(t, Bytes(nil))
}
