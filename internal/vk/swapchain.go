package vk

import (
	"fmt"
	"math"

	"github.com/rs/zerolog"
	"github.com/vulkan-go/vulkan"

	"github.com/hellhand/vkcircle/internal/present"
)

// preferredFormats is tried in order; the first surface format is the
// fallback when none match.
var preferredFormats = []struct {
	format     vulkan.Format
	colorSpace vulkan.ColorSpace
}{
	{vulkan.FormatB8g8r8a8Srgb, vulkan.ColorSpaceSrgbNonlinear},
	{vulkan.FormatB8g8r8a8Unorm, vulkan.ColorSpaceSrgbNonlinear},
}

// DefaultPresentModes prefers low latency; FIFO is the guaranteed fallback.
var DefaultPresentModes = []vulkan.PresentMode{vulkan.PresentModeMailbox, vulkan.PresentModeImmediate}

// swapchainConfig is the outcome of negotiating with the surface.
type swapchainConfig struct {
	imageCount  uint32
	format      vulkan.Format
	colorSpace  vulkan.ColorSpace
	presentMode vulkan.PresentMode
	width       uint32
	height      uint32
	transform   vulkan.SurfaceTransformFlagBits
}

func negotiateSwapchain(support swapchainSupport, desired vulkan.Extent2D, modes []vulkan.PresentMode) swapchainConfig {
	format, colorSpace := chooseSurfaceFormat(support.formats)
	extent := chooseExtent(support.capabilities, desired)
	return swapchainConfig{
		imageCount:  chooseImageCount(support.capabilities),
		format:      format,
		colorSpace:  colorSpace,
		presentMode: choosePresentMode(support.presentModes, modes),
		width:       extent.Width,
		height:      extent.Height,
		transform:   support.capabilities.CurrentTransform,
	}
}

func chooseImageCount(caps vulkan.SurfaceCapabilities) uint32 {
	count := caps.MinImageCount + 1
	if caps.MaxImageCount > 0 && count > caps.MaxImageCount {
		count = caps.MaxImageCount
	}
	return count
}

func chooseSurfaceFormat(available []vulkan.SurfaceFormat) (vulkan.Format, vulkan.ColorSpace) {
	// A lone UNDEFINED entry means the surface takes any format.
	if len(available) == 1 && available[0].Format == vulkan.FormatUndefined {
		return preferredFormats[0].format, preferredFormats[0].colorSpace
	}
	for _, want := range preferredFormats {
		for _, f := range available {
			if f.Format == want.format && f.ColorSpace == want.colorSpace {
				return f.Format, f.ColorSpace
			}
		}
	}
	return available[0].Format, available[0].ColorSpace
}

func choosePresentMode(available, preferred []vulkan.PresentMode) vulkan.PresentMode {
	for _, want := range preferred {
		for _, m := range available {
			if m == want {
				return m
			}
		}
	}
	return vulkan.PresentModeFifo
}

func chooseExtent(caps vulkan.SurfaceCapabilities, desired vulkan.Extent2D) vulkan.Extent2D {
	if caps.CurrentExtent.Width != math.MaxUint32 {
		return vulkan.Extent2D{Width: caps.CurrentExtent.Width, Height: caps.CurrentExtent.Height}
	}
	min := caps.MinImageExtent
	max := caps.MaxImageExtent
	return vulkan.Extent2D{
		Width:  uint32(clamp(uint64(desired.Width), uint64(min.Width), uint64(max.Width))),
		Height: uint32(clamp(uint64(desired.Height), uint64(min.Height), uint64(max.Height))),
	}
}

func clamp(val, min, max uint64) uint64 {
	if val < min {
		return min
	}
	if val > max {
		return max
	}
	return val
}

// swapchainResources is one generation of the swapchain. It is never resized
// in place; a rebuild creates a new generation and retires the old one.
type swapchainResources struct {
	handle       vulkan.Swapchain
	images       []vulkan.Image
	views        []vulkan.ImageView
	framebuffers []vulkan.Framebuffer
	config       swapchainConfig
}

func (r *swapchainResources) extent() vulkan.Extent2D {
	return vulkan.Extent2D{Width: r.config.width, Height: r.config.height}
}

// swapchainOps are the device calls a SwapchainManager makes. deviceSwapchain
// implements them against Vulkan.
type swapchainOps interface {
	waitIdle() error
	querySupport() swapchainSupport
	createSwapchain(cfg swapchainConfig, old vulkan.Swapchain) (vulkan.Swapchain, error)
	swapchainImages(handle vulkan.Swapchain) []vulkan.Image
	createView(image vulkan.Image, format vulkan.Format) (vulkan.ImageView, error)
	createFramebuffer(renderPass vulkan.RenderPass, view vulkan.ImageView, width, height uint32) (vulkan.Framebuffer, error)
	destroyFramebuffer(fb vulkan.Framebuffer)
	destroyView(view vulkan.ImageView)
	destroySwapchain(handle vulkan.Swapchain)
}

// SwapchainManager owns the presentable images and everything created per
// image.
type SwapchainManager struct {
	log          zerolog.Logger
	ops          swapchainOps
	presentModes []vulkan.PresentMode
	current      *swapchainResources
}

func newSwapchainManager(ops swapchainOps, presentModes []vulkan.PresentMode, log zerolog.Logger) *SwapchainManager {
	return &SwapchainManager{
		log:          log,
		ops:          ops,
		presentModes: presentModes,
	}
}

// Ready reports whether a usable swapchain exists.
func (m *SwapchainManager) Ready() bool {
	return m.current != nil
}

// Extent is the size of the current swapchain images.
func (m *SwapchainManager) Extent() vulkan.Extent2D {
	if m.current == nil {
		return vulkan.Extent2D{}
	}
	return m.current.extent()
}

// Format is the pixel format of the current swapchain images.
func (m *SwapchainManager) Format() vulkan.Format {
	if m.current == nil {
		return vulkan.FormatUndefined
	}
	return m.current.config.format
}

// ImageCount is the number of images the driver actually created.
func (m *SwapchainManager) ImageCount() int {
	if m.current == nil {
		return 0
	}
	return len(m.current.images)
}

// create builds a new generation. old, when not null, is handed to the driver
// so it can recycle presentation resources; the caller still destroys it.
func (m *SwapchainManager) create(desired vulkan.Extent2D, old vulkan.Swapchain) error {
	support := m.ops.querySupport()
	if len(support.formats) == 0 {
		return fmt.Errorf("surface reports no formats")
	}
	cfg := negotiateSwapchain(support, desired, m.presentModes)
	if cfg.width == 0 || cfg.height == 0 {
		return present.ErrSurfaceEmpty
	}

	handle, err := m.ops.createSwapchain(cfg, old)
	if err != nil {
		return err
	}
	res := &swapchainResources{config: cfg, handle: handle}
	res.images = m.ops.swapchainImages(handle)

	res.views = make([]vulkan.ImageView, 0, len(res.images))
	for i, img := range res.images {
		view, err := m.ops.createView(img, cfg.format)
		if err != nil {
			m.release(res)
			return fmt.Errorf("create image view %d: %w", i, err)
		}
		res.views = append(res.views, view)
	}

	m.current = res
	m.log.Debug().
		Uint32("width", cfg.width).
		Uint32("height", cfg.height).
		Int("images", len(res.images)).
		Int32("format", int32(cfg.format)).
		Int32("presentMode", int32(cfg.presentMode)).
		Msg("swapchain created")
	return nil
}

// attachFramebuffers creates one framebuffer per image view for renderPass.
func (m *SwapchainManager) attachFramebuffers(renderPass vulkan.RenderPass) error {
	res := m.current
	if res == nil {
		return present.ErrSurfaceEmpty
	}
	for _, fb := range res.framebuffers {
		m.ops.destroyFramebuffer(fb)
	}
	res.framebuffers = make([]vulkan.Framebuffer, 0, len(res.views))
	for i, view := range res.views {
		fb, err := m.ops.createFramebuffer(renderPass, view, res.config.width, res.config.height)
		if err != nil {
			return fmt.Errorf("create framebuffer %d: %w", i, err)
		}
		res.framebuffers = append(res.framebuffers, fb)
	}
	return nil
}

// Recreate retires the current generation and builds a new one for desired.
// It waits for the device to go idle first, so no in-flight frame can still
// reference the retired images. The caller must attach framebuffers again.
func (m *SwapchainManager) Recreate(desired vulkan.Extent2D) (formatChanged bool, err error) {
	if err := m.ops.waitIdle(); err != nil {
		return false, err
	}

	prevFormat := m.Format()
	old := m.current
	m.current = nil
	oldHandle := vulkan.Swapchain(vulkan.NullHandle)
	if old != nil {
		m.releaseImageResources(old)
		oldHandle = old.handle
	}

	err = m.create(desired, oldHandle)
	if old != nil {
		m.release(old)
	}
	if err != nil {
		return false, err
	}
	return prevFormat != m.current.config.format, nil
}

func (m *SwapchainManager) releaseImageResources(res *swapchainResources) {
	for _, fb := range res.framebuffers {
		m.ops.destroyFramebuffer(fb)
	}
	res.framebuffers = nil
	for _, view := range res.views {
		m.ops.destroyView(view)
	}
	res.views = nil
}

func (m *SwapchainManager) release(res *swapchainResources) {
	m.releaseImageResources(res)
	if res.handle != vulkan.Swapchain(vulkan.NullHandle) {
		m.ops.destroySwapchain(res.handle)
		res.handle = vulkan.Swapchain(vulkan.NullHandle)
	}
	res.images = nil
}

// destroy releases the current generation. The device must be idle.
func (m *SwapchainManager) destroy() {
	if m.current == nil {
		return
	}
	m.release(m.current)
	m.current = nil
}

// deviceSwapchain runs swapchainOps on a Device.
type deviceSwapchain struct {
	d *Device
}

func (s deviceSwapchain) waitIdle() error {
	return s.d.WaitIdle()
}

func (s deviceSwapchain) querySupport() swapchainSupport {
	return s.d.querySwapchainSupport(s.d.physicalDevice)
}

func (s deviceSwapchain) createSwapchain(cfg swapchainConfig, old vulkan.Swapchain) (vulkan.Swapchain, error) {
	d := s.d
	createInfo := vulkan.SwapchainCreateInfo{
		SType:            vulkan.StructureTypeSwapchainCreateInfo,
		Surface:          d.surface,
		MinImageCount:    cfg.imageCount,
		ImageFormat:      cfg.format,
		ImageColorSpace:  cfg.colorSpace,
		ImageExtent:      vulkan.Extent2D{Width: cfg.width, Height: cfg.height},
		ImageArrayLayers: 1,
		ImageUsage:       vulkan.ImageUsageFlags(vulkan.ImageUsageColorAttachmentBit),
		ImageSharingMode: vulkan.SharingModeExclusive,
		PreTransform:     cfg.transform,
		CompositeAlpha:   vulkan.CompositeAlphaOpaqueBit,
		PresentMode:      cfg.presentMode,
		Clipped:          vulkan.True,
		OldSwapchain:     old,
	}
	var handle vulkan.Swapchain
	if r := vulkan.CreateSwapchain(d.device, &createInfo, nil, &handle); r != vulkan.Success {
		return vulkan.Swapchain(vulkan.NullHandle), fmt.Errorf("create swapchain: %w", vulkan.Error(r))
	}
	return handle, nil
}

func (s deviceSwapchain) swapchainImages(handle vulkan.Swapchain) []vulkan.Image {
	var count uint32
	vulkan.GetSwapchainImages(s.d.device, handle, &count, nil)
	images := make([]vulkan.Image, count)
	vulkan.GetSwapchainImages(s.d.device, handle, &count, images)
	return images
}

func (s deviceSwapchain) createView(image vulkan.Image, format vulkan.Format) (vulkan.ImageView, error) {
	viewInfo := vulkan.ImageViewCreateInfo{
		SType:    vulkan.StructureTypeImageViewCreateInfo,
		Image:    image,
		ViewType: vulkan.ImageViewType2d,
		Format:   format,
		Components: vulkan.ComponentMapping{
			R: vulkan.ComponentSwizzleIdentity,
			G: vulkan.ComponentSwizzleIdentity,
			B: vulkan.ComponentSwizzleIdentity,
			A: vulkan.ComponentSwizzleIdentity,
		},
		SubresourceRange: vulkan.ImageSubresourceRange{
			AspectMask:     vulkan.ImageAspectFlags(vulkan.ImageAspectColorBit),
			BaseMipLevel:   0,
			LevelCount:     1,
			BaseArrayLayer: 0,
			LayerCount:     1,
		},
	}
	var view vulkan.ImageView
	if res := vulkan.CreateImageView(s.d.device, &viewInfo, nil, &view); res != vulkan.Success {
		return vulkan.ImageView(vulkan.NullHandle), fmt.Errorf("create image view: %w", vulkan.Error(res))
	}
	return view, nil
}

func (s deviceSwapchain) createFramebuffer(renderPass vulkan.RenderPass, view vulkan.ImageView, width, height uint32) (vulkan.Framebuffer, error) {
	createInfo := vulkan.FramebufferCreateInfo{
		SType:           vulkan.StructureTypeFramebufferCreateInfo,
		RenderPass:      renderPass,
		AttachmentCount: 1,
		PAttachments:    []vulkan.ImageView{view},
		Width:           width,
		Height:          height,
		Layers:          1,
	}
	var fb vulkan.Framebuffer
	if r := vulkan.CreateFramebuffer(s.d.device, &createInfo, nil, &fb); r != vulkan.Success {
		return vulkan.Framebuffer(vulkan.NullHandle), vulkan.Error(r)
	}
	return fb, nil
}

func (s deviceSwapchain) destroyFramebuffer(fb vulkan.Framebuffer) {
	vulkan.DestroyFramebuffer(s.d.device, fb, nil)
}

func (s deviceSwapchain) destroyView(view vulkan.ImageView) {
	vulkan.DestroyImageView(s.d.device, view, nil)
}

func (s deviceSwapchain) destroySwapchain(handle vulkan.Swapchain) {
	vulkan.DestroySwapchain(s.d.device, handle, nil)
}
