// Package geometry builds the vertex data drawn by the renderer.
package geometry

import (
	"errors"
	"fmt"
	"math"
	"unsafe"

	mgl32 "github.com/go-gl/mathgl/mgl32"
)

// MinSegments is the smallest fan that still encloses an area.
const MinSegments = 3

// ErrInvalidSegments is returned when a circle is requested with fewer than
// MinSegments perimeter segments.
var ErrInvalidSegments = errors.New("invalid segment count")

// Vertex is a single 2D position as laid out in the vertex buffer.
type Vertex struct {
	Pos mgl32.Vec2
}

// VertexStride is the size in bytes of one Vertex in the vertex buffer.
const VertexStride = uint32(unsafe.Sizeof(Vertex{}))

// BuildCircle returns a triangle fan approximating the unit disk: the center,
// then segments+1 perimeter points from angle 0 to 2π, the last one closing
// the fan onto the first.
func BuildCircle(segments int) ([]Vertex, error) {
	if segments < MinSegments {
		return nil, fmt.Errorf("build circle with %d segments: %w", segments, ErrInvalidSegments)
	}

	verts := make([]Vertex, 0, segments+2)
	verts = append(verts, Vertex{})
	step := 2 * math.Pi / float64(segments)
	for i := 0; i <= segments; i++ {
		angle := float64(i) * step
		verts = append(verts, Vertex{Pos: mgl32.Vec2{float32(math.Cos(angle)), float32(math.Sin(angle))}})
	}
	return verts, nil
}

// Scale returns a copy of verts with every position multiplied by r.
func Scale(verts []Vertex, r float32) []Vertex {
	out := make([]Vertex, len(verts))
	for i, v := range verts {
		out[i] = Vertex{Pos: v.Pos.Mul(r)}
	}
	return out
}

// Bytes returns the tightly packed vertex buffer contents for verts.
func Bytes(verts []Vertex) []byte {
	if len(verts) == 0 {
		return nil
	}
	size := len(verts) * int(VertexStride)
	out := make([]byte, size)
	copy(out, unsafe.Slice((*byte)(unsafe.Pointer(&verts[0])), size))
	return out
}
