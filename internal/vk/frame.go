package vk

import (
	"github.com/hellhand/vkcircle/internal/animation"
	"github.com/hellhand/vkcircle/internal/present"
)

// DefaultFramesInFlight is how many frames the CPU may record ahead of the GPU.
const DefaultFramesInFlight = 2

// frameOps are the device operations one frame is made of. FrameRenderer
// decides their order; frameSync performs them against Vulkan.
type frameOps interface {
	// waitFence blocks until the slot's previous submission has completed.
	waitFence(slot int) error
	// acquire takes the next swapchain image, signaling the slot's
	// image-available semaphore.
	acquire(slot int) (image uint32, status present.Status, err error)
	// waitImage blocks until no other slot is still rendering into image.
	waitImage(slot int, image uint32) error
	// record rewrites the slot's command buffer to draw into image.
	record(slot int, image uint32, pc animation.PushConstants) error
	resetFence(slot int) error
	// submit queues the slot's command buffer, signaling the slot fence and
	// the render-finished semaphore of image.
	submit(slot int, image uint32) error
	present(slot int, image uint32) (present.Status, error)
}

// FrameRenderer runs the acquire → record → submit → present protocol over a
// fixed ring of frame slots.
type FrameRenderer struct {
	ops     frameOps
	states  []present.SlotState
	current int
}

func newFrameRenderer(ops frameOps, slots int) *FrameRenderer {
	if slots < 1 {
		slots = DefaultFramesInFlight
	}
	return &FrameRenderer{
		ops:    ops,
		states: make([]present.SlotState, slots),
	}
}

// Slot is the index the next frame will use.
func (f *FrameRenderer) Slot() int {
	return f.current
}

// Slots is the number of frames that may be in flight.
func (f *FrameRenderer) Slots() int {
	return len(f.states)
}

// State reports where slot is in the protocol. Each state is entered before
// the device calls of that phase run.
func (f *FrameRenderer) State(slot int) present.SlotState {
	return f.states[slot]
}

// Draw renders one frame with pc as the vertex push constants.
//
// An out-of-date acquire abandons the frame before anything is submitted; the
// slot fence stays signaled and the slot is reused next time. Once the
// command buffer is submitted the frame always advances to the next slot, and
// a present that reports out-of-date or suboptimal is returned as a status for
// the caller to act on.
func (f *FrameRenderer) Draw(pc animation.PushConstants) (present.Status, error) {
	slot := f.current

	if err := f.ops.waitFence(slot); err != nil {
		return present.StatusOK, err
	}

	f.states[slot] = present.SlotAcquiring
	image, acquired, err := f.ops.acquire(slot)
	if err != nil {
		f.states[slot] = present.SlotIdle
		return present.StatusOK, err
	}
	if acquired == present.StatusOutOfDate {
		f.states[slot] = present.SlotIdle
		return present.StatusOutOfDate, nil
	}
	if err := f.ops.waitImage(slot, image); err != nil {
		f.states[slot] = present.SlotIdle
		return present.StatusOK, err
	}

	f.states[slot] = present.SlotRecording
	if err := f.ops.record(slot, image, pc); err != nil {
		f.states[slot] = present.SlotIdle
		return present.StatusOK, err
	}

	f.states[slot] = present.SlotSubmitted
	if err := f.ops.resetFence(slot); err != nil {
		f.states[slot] = present.SlotIdle
		return present.StatusOK, err
	}
	if err := f.ops.submit(slot, image); err != nil {
		f.states[slot] = present.SlotIdle
		return present.StatusOK, err
	}
	f.current = (slot + 1) % len(f.states)

	f.states[slot] = present.SlotPresenting
	presented, err := f.ops.present(slot, image)
	f.states[slot] = present.SlotIdle
	if err != nil {
		return present.StatusOK, err
	}
	if presented == present.StatusOK {
		return acquired, nil
	}
	return presented, nil
}
