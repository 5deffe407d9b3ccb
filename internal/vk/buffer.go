package vk

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/vulkan-go/vulkan"

	"github.com/hellhand/vkcircle/internal/geometry"
)

// vertexBuffer is a host-visible buffer holding the circle fan. It is written
// once at startup and never changes, so it needs no staging copy.
type vertexBuffer struct {
	device *Device
	buffer vulkan.Buffer
	memory vulkan.DeviceMemory
	count  uint32
}

func newVertexBuffer(d *Device, verts []geometry.Vertex) (*vertexBuffer, error) {
	if len(verts) == 0 {
		return nil, errors.New("create vertex buffer: no vertices")
	}
	data := geometry.Bytes(verts)
	size := vulkan.DeviceSize(len(data))

	vb := &vertexBuffer{device: d, count: uint32(len(verts))}
	buf, mem, err := d.createBuffer(size, vulkan.BufferUsageFlags(vulkan.BufferUsageVertexBufferBit), vulkan.MemoryPropertyHostVisibleBit|vulkan.MemoryPropertyHostCoherentBit)
	if err != nil {
		return nil, fmt.Errorf("create vertex buffer: %w", err)
	}
	vb.buffer = buf
	vb.memory = mem

	var mapped unsafe.Pointer
	if res := vulkan.MapMemory(d.device, mem, 0, size, 0, &mapped); res != vulkan.Success {
		vb.destroy()
		return nil, fmt.Errorf("map vertex buffer: %w", vulkan.Error(res))
	}
	copy(unsafe.Slice((*byte)(mapped), len(data)), data)
	vulkan.UnmapMemory(d.device, mem)
	return vb, nil
}

func (vb *vertexBuffer) destroy() {
	dev := vb.device.device
	if vb.buffer != vulkan.Buffer(vulkan.NullHandle) {
		vulkan.DestroyBuffer(dev, vb.buffer, nil)
		vb.buffer = vulkan.Buffer(vulkan.NullHandle)
	}
	if vb.memory != vulkan.DeviceMemory(vulkan.NullHandle) {
		vulkan.FreeMemory(dev, vb.memory, nil)
		vb.memory = vulkan.DeviceMemory(vulkan.NullHandle)
	}
}

func (d *Device) createBuffer(size vulkan.DeviceSize, usage vulkan.BufferUsageFlags, properties vulkan.MemoryPropertyFlagBits) (vulkan.Buffer, vulkan.DeviceMemory, error) {
	bufferInfo := vulkan.BufferCreateInfo{
		SType:       vulkan.StructureTypeBufferCreateInfo,
		Size:        size,
		Usage:       usage,
		SharingMode: vulkan.SharingModeExclusive,
	}
	var buffer vulkan.Buffer
	if res := vulkan.CreateBuffer(d.device, &bufferInfo, nil, &buffer); res != vulkan.Success {
		return vulkan.Buffer(vulkan.NullHandle), vulkan.DeviceMemory(vulkan.NullHandle), fmt.Errorf("create buffer: %w", vulkan.Error(res))
	}
	var memReq vulkan.MemoryRequirements
	vulkan.GetBufferMemoryRequirements(d.device, buffer, &memReq)
	memReq.Deref()

	memType, err := d.findMemoryType(memReq.MemoryTypeBits, properties)
	if err != nil {
		vulkan.DestroyBuffer(d.device, buffer, nil)
		return vulkan.Buffer(vulkan.NullHandle), vulkan.DeviceMemory(vulkan.NullHandle), err
	}
	allocInfo := vulkan.MemoryAllocateInfo{
		SType:           vulkan.StructureTypeMemoryAllocateInfo,
		AllocationSize:  memReq.Size,
		MemoryTypeIndex: memType,
	}
	var bufferMemory vulkan.DeviceMemory
	if res := vulkan.AllocateMemory(d.device, &allocInfo, nil, &bufferMemory); res != vulkan.Success {
		vulkan.DestroyBuffer(d.device, buffer, nil)
		return vulkan.Buffer(vulkan.NullHandle), vulkan.DeviceMemory(vulkan.NullHandle), fmt.Errorf("allocate buffer memory: %w", vulkan.Error(res))
	}
	if res := vulkan.BindBufferMemory(d.device, buffer, bufferMemory, 0); res != vulkan.Success {
		vulkan.FreeMemory(d.device, bufferMemory, nil)
		vulkan.DestroyBuffer(d.device, buffer, nil)
		return vulkan.Buffer(vulkan.NullHandle), vulkan.DeviceMemory(vulkan.NullHandle), fmt.Errorf("bind buffer memory: %w", vulkan.Error(res))
	}
	return buffer, bufferMemory, nil
}
