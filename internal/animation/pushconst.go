package animation

import (
	"encoding/binary"
	"math"

	mgl32 "github.com/go-gl/mathgl/mgl32"
)

// PushConstantSize is the size of the vertex shader's push-constant block:
// one column-major mat4.
const PushConstantSize = 64

// PushConstants mirrors
//
//	layout(push_constant) uniform Push { mat4 mvp; };
type PushConstants struct {
	MVP mgl32.Mat4
}

// Bytes encodes the block as the shader reads it: 16 little-endian float32
// values, column by column.
func (p PushConstants) Bytes() []byte {
	out := make([]byte, PushConstantSize)
	for i, v := range p.MVP {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
	}
	return out
}
