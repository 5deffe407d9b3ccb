package vk

import (
	"fmt"
	"time"
	"unsafe"

	"github.com/vulkan-go/vulkan"

	"github.com/hellhand/vkcircle/internal/animation"
	"github.com/hellhand/vkcircle/internal/present"
)

// DefaultFenceTimeout is how long a fence wait may take before the device is
// considered hung.
const DefaultFenceTimeout = 5 * time.Second

// frameSync owns the per-slot command buffers and synchronization objects and
// implements frameOps on top of them.
type frameSync struct {
	device     *Device
	swapchain  *SwapchainManager
	pipeline   *PipelineManager
	vertices   *vertexBuffer
	clearColor [4]float32
	timeout    time.Duration

	commandPool    vulkan.CommandPool
	commandBuffers []vulkan.CommandBuffer
	imageAvailable []vulkan.Semaphore
	inFlight       []vulkan.Fence
	// renderFinished is indexed by swapchain image: the presentation engine
	// holds it until that image is acquired again, which may be after the
	// slot has come round.
	renderFinished []vulkan.Semaphore
	// imagesInFlight remembers which slot fence last rendered each swapchain
	// image.
	imagesInFlight []vulkan.Fence
	images         []uint32
}

func newFrameSync(d *Device, slots int, timeout time.Duration) (s *frameSync, err error) {
	if timeout <= 0 {
		timeout = DefaultFenceTimeout
	}
	s = &frameSync{device: d, timeout: timeout}
	defer func() {
		if err != nil {
			s.destroy()
			s = nil
		}
	}()

	poolInfo := vulkan.CommandPoolCreateInfo{
		SType:            vulkan.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: d.queues.graphicsFamily,
		Flags:            vulkan.CommandPoolCreateFlags(vulkan.CommandPoolCreateResetCommandBufferBit),
	}
	var pool vulkan.CommandPool
	if res := vulkan.CreateCommandPool(d.device, &poolInfo, nil, &pool); res != vulkan.Success {
		return s, fmt.Errorf("create command pool: %w", vulkan.Error(res))
	}
	s.commandPool = pool

	allocInfo := vulkan.CommandBufferAllocateInfo{
		SType:              vulkan.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        s.commandPool,
		Level:              vulkan.CommandBufferLevelPrimary,
		CommandBufferCount: uint32(slots),
	}
	buffers := make([]vulkan.CommandBuffer, slots)
	if res := vulkan.AllocateCommandBuffers(d.device, &allocInfo, buffers); res != vulkan.Success {
		return s, fmt.Errorf("allocate command buffers: %w", vulkan.Error(res))
	}
	s.commandBuffers = buffers

	semInfo := vulkan.SemaphoreCreateInfo{
		SType: vulkan.StructureTypeSemaphoreCreateInfo,
	}
	// Fences start signaled so the first wait on each slot returns at once.
	fenceInfo := vulkan.FenceCreateInfo{
		SType: vulkan.StructureTypeFenceCreateInfo,
		Flags: vulkan.FenceCreateFlags(vulkan.FenceCreateSignaledBit),
	}
	for i := 0; i < slots; i++ {
		var available vulkan.Semaphore
		var fence vulkan.Fence
		if res := vulkan.CreateSemaphore(d.device, &semInfo, nil, &available); res != vulkan.Success {
			return s, fmt.Errorf("create imageAvailable semaphore %d: %w", i, vulkan.Error(res))
		}
		s.imageAvailable = append(s.imageAvailable, available)
		if res := vulkan.CreateFence(d.device, &fenceInfo, nil, &fence); res != vulkan.Success {
			return s, fmt.Errorf("create fence %d: %w", i, vulkan.Error(res))
		}
		s.inFlight = append(s.inFlight, fence)
	}
	return s, nil
}

// bind points the frame operations at the current swapchain generation and
// pipeline, and replaces the per-image semaphores. It must be called after
// every swapchain rebuild, with the device idle.
func (s *frameSync) bind(swapchain *SwapchainManager, pipeline *PipelineManager, vertices *vertexBuffer, clearColor [4]float32) error {
	s.swapchain = swapchain
	s.pipeline = pipeline
	s.vertices = vertices
	s.clearColor = clearColor
	s.imagesInFlight = make([]vulkan.Fence, swapchain.ImageCount())

	s.destroyRenderFinished()
	semInfo := vulkan.SemaphoreCreateInfo{
		SType: vulkan.StructureTypeSemaphoreCreateInfo,
	}
	for i := 0; i < swapchain.ImageCount(); i++ {
		var finished vulkan.Semaphore
		if res := vulkan.CreateSemaphore(s.device.device, &semInfo, nil, &finished); res != vulkan.Success {
			return fmt.Errorf("create renderFinished semaphore %d: %w", i, vulkan.Error(res))
		}
		s.renderFinished = append(s.renderFinished, finished)
	}
	return nil
}

func (s *frameSync) destroyRenderFinished() {
	for _, sem := range s.renderFinished {
		vulkan.DestroySemaphore(s.device.device, sem, nil)
	}
	s.renderFinished = nil
}

func (s *frameSync) waitFence(slot int) error {
	return s.wait(s.inFlight[slot], "wait for frame fence")
}

func (s *frameSync) wait(fence vulkan.Fence, op string) error {
	res := vulkan.WaitForFences(s.device.device, 1, []vulkan.Fence{fence}, vulkan.True, uint64(s.timeout.Nanoseconds()))
	switch res {
	case vulkan.Success:
		return nil
	case vulkan.Timeout:
		return &present.DeviceLostError{Op: op, Timeout: s.timeout}
	case vulkan.ErrorDeviceLost:
		return &present.DeviceLostError{Op: op}
	default:
		return fmt.Errorf("%s: %w", op, vulkan.Error(res))
	}
}

func (s *frameSync) acquire(slot int) (uint32, present.Status, error) {
	if !s.swapchain.Ready() {
		return 0, present.StatusOutOfDate, nil
	}
	var imageIndex uint32
	res := vulkan.AcquireNextImage(s.device.device, s.swapchain.current.handle, uint64(s.timeout.Nanoseconds()), s.imageAvailable[slot], vulkan.Fence(vulkan.NullHandle), &imageIndex)
	status, err := classifyAcquire(res, s.timeout)
	return imageIndex, status, err
}

// classifyAcquire treats an acquire that did not finish within timeout as a
// hung device.
func classifyAcquire(res vulkan.Result, timeout time.Duration) (present.Status, error) {
	const op = "acquire next image"
	switch res {
	case vulkan.Timeout, vulkan.NotReady:
		return present.StatusOK, &present.DeviceLostError{Op: op, Timeout: timeout}
	default:
		return classify(op, res)
	}
}

func (s *frameSync) waitImage(slot int, image uint32) error {
	if int(image) >= len(s.imagesInFlight) {
		return fmt.Errorf("acquired image %d out of range (%d images)", image, len(s.imagesInFlight))
	}
	prev := s.imagesInFlight[image]
	if prev != vulkan.Fence(vulkan.NullHandle) && prev != s.inFlight[slot] {
		if err := s.wait(prev, "wait for image fence"); err != nil {
			return err
		}
	}
	s.imagesInFlight[image] = s.inFlight[slot]
	return nil
}

func (s *frameSync) record(slot int, image uint32, pc animation.PushConstants) error {
	cb := s.commandBuffers[slot]
	res := s.swapchain.current
	extent := res.extent()

	if r := vulkan.ResetCommandBuffer(cb, 0); r != vulkan.Success {
		return fmt.Errorf("reset command buffer: %w", vulkan.Error(r))
	}
	beginInfo := vulkan.CommandBufferBeginInfo{
		SType: vulkan.StructureTypeCommandBufferBeginInfo,
		Flags: vulkan.CommandBufferUsageFlags(vulkan.CommandBufferUsageOneTimeSubmitBit),
	}
	if r := vulkan.BeginCommandBuffer(cb, &beginInfo); r != vulkan.Success {
		return fmt.Errorf("begin command buffer: %w", vulkan.Error(r))
	}

	clearValues := []vulkan.ClearValue{vulkan.NewClearValue(s.clearColor[:])}
	renderPassInfo := vulkan.RenderPassBeginInfo{
		SType:       vulkan.StructureTypeRenderPassBeginInfo,
		RenderPass:  s.pipeline.renderPass,
		Framebuffer: res.framebuffers[image],
		RenderArea: vulkan.Rect2D{
			Offset: vulkan.Offset2D{X: 0, Y: 0},
			Extent: extent,
		},
		ClearValueCount: uint32(len(clearValues)),
		PClearValues:    clearValues,
	}
	vulkan.CmdBeginRenderPass(cb, &renderPassInfo, vulkan.SubpassContentsInline)

	vulkan.CmdBindPipeline(cb, vulkan.PipelineBindPointGraphics, s.pipeline.pipeline)
	vulkan.CmdSetViewport(cb, 0, 1, []vulkan.Viewport{{
		X:        0,
		Y:        0,
		Width:    float32(extent.Width),
		Height:   float32(extent.Height),
		MinDepth: 0,
		MaxDepth: 1,
	}})
	vulkan.CmdSetScissor(cb, 0, 1, []vulkan.Rect2D{{
		Offset: vulkan.Offset2D{X: 0, Y: 0},
		Extent: extent,
	}})
	vulkan.CmdBindVertexBuffers(cb, 0, 1, []vulkan.Buffer{s.vertices.buffer}, []vulkan.DeviceSize{0})

	block := pc.Bytes()
	vulkan.CmdPushConstants(cb, s.pipeline.pipelineLayout, vulkan.ShaderStageFlags(vulkan.ShaderStageVertexBit), 0, uint32(len(block)), unsafe.Pointer(&block[0]))
	vulkan.CmdDraw(cb, s.vertices.count, 1, 0, 0)

	vulkan.CmdEndRenderPass(cb)
	if r := vulkan.EndCommandBuffer(cb); r != vulkan.Success {
		return fmt.Errorf("end command buffer: %w", vulkan.Error(r))
	}
	return nil
}

func (s *frameSync) resetFence(slot int) error {
	if res := vulkan.ResetFences(s.device.device, 1, []vulkan.Fence{s.inFlight[slot]}); res != vulkan.Success {
		return fmt.Errorf("reset fence: %w", vulkan.Error(res))
	}
	return nil
}

func (s *frameSync) submit(slot int, image uint32) error {
	waitStages := []vulkan.PipelineStageFlags{vulkan.PipelineStageFlags(vulkan.PipelineStageColorAttachmentOutputBit)}
	submitInfo := vulkan.SubmitInfo{
		SType:                vulkan.StructureTypeSubmitInfo,
		WaitSemaphoreCount:   1,
		PWaitSemaphores:      []vulkan.Semaphore{s.imageAvailable[slot]},
		PWaitDstStageMask:    waitStages,
		CommandBufferCount:   1,
		PCommandBuffers:      []vulkan.CommandBuffer{s.commandBuffers[slot]},
		SignalSemaphoreCount: 1,
		PSignalSemaphores:    []vulkan.Semaphore{s.renderFinished[image]},
	}
	res := vulkan.QueueSubmit(s.device.graphicsQueue, 1, []vulkan.SubmitInfo{submitInfo}, s.inFlight[slot])
	switch res {
	case vulkan.Success:
		return nil
	case vulkan.ErrorDeviceLost:
		return &present.DeviceLostError{Op: "queue submit"}
	default:
		return fmt.Errorf("queue submit: %w", vulkan.Error(res))
	}
}

func (s *frameSync) present(slot int, image uint32) (present.Status, error) {
	s.images = append(s.images[:0], image)
	presentInfo := vulkan.PresentInfo{
		SType:              vulkan.StructureTypePresentInfo,
		WaitSemaphoreCount: 1,
		PWaitSemaphores:    []vulkan.Semaphore{s.renderFinished[image]},
		SwapchainCount:     1,
		PSwapchains:        []vulkan.Swapchain{s.swapchain.current.handle},
		PImageIndices:      s.images,
	}
	return classify("queue present", vulkan.QueuePresent(s.device.presentQueue, &presentInfo))
}

// classify splits an acquire/present result into the recoverable statuses
// and fatal errors.
func classify(op string, res vulkan.Result) (present.Status, error) {
	switch res {
	case vulkan.Success:
		return present.StatusOK, nil
	case vulkan.Suboptimal:
		return present.StatusSuboptimal, nil
	case vulkan.ErrorOutOfDate:
		return present.StatusOutOfDate, nil
	case vulkan.ErrorDeviceLost:
		return present.StatusOK, &present.DeviceLostError{Op: op}
	default:
		return present.StatusOK, fmt.Errorf("%s: %w", op, vulkan.Error(res))
	}
}

// destroy releases everything in reverse creation order. The device must be
// idle.
func (s *frameSync) destroy() {
	dev := s.device.device
	for _, f := range s.inFlight {
		vulkan.DestroyFence(dev, f, nil)
	}
	s.inFlight = nil
	s.destroyRenderFinished()
	for _, sem := range s.imageAvailable {
		vulkan.DestroySemaphore(dev, sem, nil)
	}
	s.imageAvailable = nil
	s.imagesInFlight = nil
	if len(s.commandBuffers) > 0 {
		vulkan.FreeCommandBuffers(dev, s.commandPool, uint32(len(s.commandBuffers)), s.commandBuffers)
		s.commandBuffers = nil
	}
	if s.commandPool != vulkan.CommandPool(vulkan.NullHandle) {
		vulkan.DestroyCommandPool(dev, s.commandPool, nil)
		s.commandPool = vulkan.CommandPool(vulkan.NullHandle)
	}
}
