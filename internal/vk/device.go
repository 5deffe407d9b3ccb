// Package vk drives Vulkan for the circle renderer: device selection, the
// swapchain, the graphics pipeline, and the per-frame acquire/record/submit/
// present protocol.
package vk

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/rs/zerolog"
	"github.com/vulkan-go/vulkan"

	"github.com/hellhand/vkcircle/internal/present"
)

var (
	validationLayers = []string{"VK_LAYER_KHRONOS_validation"}
	deviceExtensions = []string{"VK_KHR_swapchain"}
)

// SurfaceFunc creates the window surface for instance. It is supplied by the
// windowing layer, which owns the native handles.
type SurfaceFunc func(instance vulkan.Instance) (vulkan.Surface, error)

// DeviceConfig is everything the device needs from the outside world.
type DeviceConfig struct {
	AppName            string
	Validation         bool
	ProcAddr           unsafe.Pointer
	InstanceExtensions []string
	CreateSurface      SurfaceFunc
}

type queueFamilyIndices struct {
	graphicsFamily uint32
	presentFamily  uint32
	hasGraphics    bool
	hasPresent     bool
}

func (q queueFamilyIndices) complete() bool {
	return q.hasGraphics && q.hasPresent
}

// Device owns the instance, the window surface, the selected physical device,
// the logical device and its queues.
type Device struct {
	log zerolog.Logger

	instance       vulkan.Instance
	debugCallback  vulkan.DebugReportCallback
	surface        vulkan.Surface
	physicalDevice vulkan.PhysicalDevice
	device         vulkan.Device
	graphicsQueue  vulkan.Queue
	presentQueue   vulkan.Queue
	queues         queueFamilyIndices
	validation     bool
}

// NewDevice brings up Vulkan up to a logical device. On failure everything
// created so far is released before returning.
func NewDevice(cfg DeviceConfig, log zerolog.Logger) (d *Device, err error) {
	d = &Device{
		log:        log,
		validation: cfg.Validation,
	}
	defer func() {
		if err != nil {
			d.Destroy()
			d = nil
		}
	}()

	vulkan.SetGetInstanceProcAddr(cfg.ProcAddr)
	if err := vulkan.Init(); err != nil {
		return d, fmt.Errorf("vulkan init: %w", err)
	}
	if err := d.createInstance(cfg); err != nil {
		return d, err
	}
	if err := vulkan.InitInstance(d.instance); err != nil {
		return d, fmt.Errorf("vkInitInstance: %w", err)
	}
	if err := d.setupDebugCallback(); err != nil {
		return d, err
	}
	if cfg.CreateSurface == nil {
		return d, &present.SurfaceCreationError{Err: errors.New("no surface factory configured")}
	}
	surface, err := cfg.CreateSurface(d.instance)
	if err != nil {
		return d, &present.SurfaceCreationError{Err: err}
	}
	d.surface = surface
	if err := d.pickPhysicalDevice(); err != nil {
		return d, err
	}
	if err := d.createLogicalDevice(); err != nil {
		return d, err
	}
	return d, nil
}

func (d *Device) createInstance(cfg DeviceConfig) error {
	if d.validation && !validationLayersSupported() {
		d.log.Warn().Msg("validation layers requested but not available, continuing without")
		d.validation = false
	}

	appInfo := vulkan.ApplicationInfo{
		SType:              vulkan.StructureTypeApplicationInfo,
		PApplicationName:   cfg.AppName,
		ApplicationVersion: vulkan.MakeVersion(0, 1, 0),
		PEngineName:        "No Engine",
		EngineVersion:      vulkan.MakeVersion(0, 1, 0),
		ApiVersion:         vulkan.MakeVersion(1, 1, 0),
	}

	extensions := append([]string(nil), cfg.InstanceExtensions...)
	if d.validation {
		extensions = append(extensions, "VK_EXT_debug_report")
	}

	createInfo := vulkan.InstanceCreateInfo{
		SType:                   vulkan.StructureTypeInstanceCreateInfo,
		PApplicationInfo:        &appInfo,
		EnabledExtensionCount:   uint32(len(extensions)),
		PpEnabledExtensionNames: extensions,
	}
	if d.validation {
		createInfo.EnabledLayerCount = uint32(len(validationLayers))
		createInfo.PpEnabledLayerNames = validationLayers
	}

	if res := vulkan.CreateInstance(&createInfo, nil, &d.instance); res != vulkan.Success {
		return fmt.Errorf("create instance: %w", vulkan.Error(res))
	}
	return nil
}

func validationLayersSupported() bool {
	var count uint32
	if vulkan.EnumerateInstanceLayerProperties(&count, nil) != vulkan.Success {
		return false
	}
	props := make([]vulkan.LayerProperties, count)
	if vulkan.EnumerateInstanceLayerProperties(&count, props) != vulkan.Success {
		return false
	}
	supported := make(map[string]bool)
	for i := range props {
		props[i].Deref()
		supported[vulkan.ToString(props[i].LayerName[:])] = true
	}
	for _, l := range validationLayers {
		if !supported[l] {
			return false
		}
	}
	return true
}

func (d *Device) setupDebugCallback() error {
	if !d.validation {
		return nil
	}
	createInfo := vulkan.DebugReportCallbackCreateInfo{
		SType: vulkan.StructureTypeDebugReportCallbackCreateInfo,
		Flags: vulkan.DebugReportFlags(
			vulkan.DebugReportErrorBit |
				vulkan.DebugReportWarningBit |
				vulkan.DebugReportPerformanceWarningBit),
		PfnCallback: func(flags vulkan.DebugReportFlags, objectType vulkan.DebugReportObjectType, object uint64, location uint, messageCode int32, layerPrefix string, message string, userData unsafe.Pointer) vulkan.Bool32 {
			ev := d.log.Warn()
			if flags&vulkan.DebugReportFlags(vulkan.DebugReportErrorBit) != 0 {
				ev = d.log.Error()
			}
			ev.Str("layer", layerPrefix).Int32("code", messageCode).Msg(message)
			return vulkan.False
		},
	}
	if res := vulkan.CreateDebugReportCallback(d.instance, &createInfo, nil, &d.debugCallback); res != vulkan.Success {
		return fmt.Errorf("create debug callback: %w", vulkan.Error(res))
	}
	return nil
}

func (d *Device) pickPhysicalDevice() error {
	var count uint32
	if res := vulkan.EnumeratePhysicalDevices(d.instance, &count, nil); res != vulkan.Success {
		return fmt.Errorf("enumerate physical devices: %w", vulkan.Error(res))
	}
	if count == 0 {
		return &present.NoSuitableDeviceError{}
	}
	devices := make([]vulkan.PhysicalDevice, count)
	if res := vulkan.EnumeratePhysicalDevices(d.instance, &count, devices); res != vulkan.Success {
		return fmt.Errorf("enumerate physical devices list: %w", vulkan.Error(res))
	}

	var selected vulkan.PhysicalDevice
	var selectedQueues queueFamilyIndices
	found := false
	bestScore := int32(-1)
	for _, dev := range devices {
		q := d.findQueueFamilies(dev)
		if !q.complete() {
			continue
		}
		if !deviceExtensionsSupported(dev) {
			continue
		}
		support := d.querySwapchainSupport(dev)
		if len(support.formats) == 0 || len(support.presentModes) == 0 {
			continue
		}
		score := deviceScore(dev)
		if score > bestScore {
			bestScore = score
			selected = dev
			selectedQueues = q
			found = true
		}
	}

	if !found {
		return &present.NoSuitableDeviceError{Considered: len(devices)}
	}

	d.physicalDevice = selected
	d.queues = selectedQueues

	var props vulkan.PhysicalDeviceProperties
	vulkan.GetPhysicalDeviceProperties(selected, &props)
	props.Deref()
	d.log.Info().
		Str("gpu", vulkan.ToString(props.DeviceName[:])).
		Uint32("graphicsFamily", selectedQueues.graphicsFamily).
		Uint32("presentFamily", selectedQueues.presentFamily).
		Msg("selected physical device")
	return nil
}

func deviceScore(device vulkan.PhysicalDevice) int32 {
	var props vulkan.PhysicalDeviceProperties
	vulkan.GetPhysicalDeviceProperties(device, &props)
	props.Deref()

	switch props.DeviceType {
	case vulkan.PhysicalDeviceTypeDiscreteGpu:
		return 1000
	case vulkan.PhysicalDeviceTypeIntegratedGpu:
		return 500
	default:
		return 100
	}
}

func deviceExtensionsSupported(device vulkan.PhysicalDevice) bool {
	var count uint32
	if res := vulkan.EnumerateDeviceExtensionProperties(device, "", &count, nil); res != vulkan.Success {
		return false
	}
	props := make([]vulkan.ExtensionProperties, count)
	if res := vulkan.EnumerateDeviceExtensionProperties(device, "", &count, props); res != vulkan.Success {
		return false
	}
	supported := make(map[string]bool)
	for i := range props {
		props[i].Deref()
		supported[vulkan.ToString(props[i].ExtensionName[:])] = true
	}
	for _, ext := range deviceExtensions {
		if !supported[ext] {
			return false
		}
	}
	return true
}

// queueFamilyCaps is what a queue family can do for the window surface.
type queueFamilyCaps struct {
	graphics bool
	present  bool
}

// findQueueFamilies looks for one family that can both draw and present to
// the surface. Devices without such a family are not used.
func (d *Device) findQueueFamilies(device vulkan.PhysicalDevice) queueFamilyIndices {
	var count uint32
	vulkan.GetPhysicalDeviceQueueFamilyProperties(device, &count, nil)
	props := make([]vulkan.QueueFamilyProperties, count)
	vulkan.GetPhysicalDeviceQueueFamilyProperties(device, &count, props)

	caps := make([]queueFamilyCaps, len(props))
	for i := range props {
		props[i].Deref()
		var supported vulkan.Bool32
		vulkan.GetPhysicalDeviceSurfaceSupport(device, uint32(i), d.surface, &supported)
		caps[i] = queueFamilyCaps{
			graphics: props[i].QueueFlags&vulkan.QueueFlags(vulkan.QueueGraphicsBit) != 0,
			present:  supported == vulkan.True,
		}
	}
	return pickQueueFamily(caps)
}

func pickQueueFamily(families []queueFamilyCaps) queueFamilyIndices {
	for i, f := range families {
		if f.graphics && f.present {
			return queueFamilyIndices{
				graphicsFamily: uint32(i),
				presentFamily:  uint32(i),
				hasGraphics:    true,
				hasPresent:     true,
			}
		}
	}
	return queueFamilyIndices{}
}

func (d *Device) createLogicalDevice() error {
	queueInfos := []vulkan.DeviceQueueCreateInfo{}
	uniqueFamilies := []uint32{d.queues.graphicsFamily}
	if d.queues.presentFamily != d.queues.graphicsFamily {
		uniqueFamilies = append(uniqueFamilies, d.queues.presentFamily)
	}
	for _, family := range uniqueFamilies {
		queueInfos = append(queueInfos, vulkan.DeviceQueueCreateInfo{
			SType:            vulkan.StructureTypeDeviceQueueCreateInfo,
			QueueFamilyIndex: family,
			QueueCount:       1,
			PQueuePriorities: []float32{1.0},
		})
	}

	createInfo := vulkan.DeviceCreateInfo{
		SType:                   vulkan.StructureTypeDeviceCreateInfo,
		PQueueCreateInfos:       queueInfos,
		QueueCreateInfoCount:    uint32(len(queueInfos)),
		PEnabledFeatures:        []vulkan.PhysicalDeviceFeatures{{}},
		PpEnabledExtensionNames: deviceExtensions,
		EnabledExtensionCount:   uint32(len(deviceExtensions)),
	}
	if d.validation {
		createInfo.EnabledLayerCount = uint32(len(validationLayers))
		createInfo.PpEnabledLayerNames = validationLayers
	}

	var device vulkan.Device
	if res := vulkan.CreateDevice(d.physicalDevice, &createInfo, nil, &device); res != vulkan.Success {
		return fmt.Errorf("create logical device: %w", vulkan.Error(res))
	}
	d.device = device

	vulkan.GetDeviceQueue(d.device, d.queues.graphicsFamily, 0, &d.graphicsQueue)
	vulkan.GetDeviceQueue(d.device, d.queues.presentFamily, 0, &d.presentQueue)
	return nil
}

type swapchainSupport struct {
	capabilities vulkan.SurfaceCapabilities
	formats      []vulkan.SurfaceFormat
	presentModes []vulkan.PresentMode
}

func (d *Device) querySwapchainSupport(device vulkan.PhysicalDevice) swapchainSupport {
	var details swapchainSupport
	vulkan.GetPhysicalDeviceSurfaceCapabilities(device, d.surface, &details.capabilities)
	details.capabilities.Deref()
	details.capabilities.CurrentExtent.Deref()
	details.capabilities.MinImageExtent.Deref()
	details.capabilities.MaxImageExtent.Deref()

	var formatCount uint32
	vulkan.GetPhysicalDeviceSurfaceFormats(device, d.surface, &formatCount, nil)
	if formatCount > 0 {
		details.formats = make([]vulkan.SurfaceFormat, formatCount)
		vulkan.GetPhysicalDeviceSurfaceFormats(device, d.surface, &formatCount, details.formats)
		for i := range details.formats {
			details.formats[i].Deref()
		}
	}

	var presentCount uint32
	vulkan.GetPhysicalDeviceSurfacePresentModes(device, d.surface, &presentCount, nil)
	if presentCount > 0 {
		details.presentModes = make([]vulkan.PresentMode, presentCount)
		vulkan.GetPhysicalDeviceSurfacePresentModes(device, d.surface, &presentCount, details.presentModes)
	}

	return details
}

func (d *Device) findMemoryType(typeFilter uint32, properties vulkan.MemoryPropertyFlagBits) (uint32, error) {
	var memProps vulkan.PhysicalDeviceMemoryProperties
	vulkan.GetPhysicalDeviceMemoryProperties(d.physicalDevice, &memProps)
	memProps.Deref()

	for i := uint32(0); i < memProps.MemoryTypeCount; i++ {
		memoryType := memProps.MemoryTypes[i]
		memoryType.Deref()
		if typeFilter&(1<<i) != 0 && memoryType.PropertyFlags&vulkan.MemoryPropertyFlags(properties) == vulkan.MemoryPropertyFlags(properties) {
			return i, nil
		}
	}
	return 0, fmt.Errorf("no memory type matches filter 0x%x with properties 0x%x", typeFilter, properties)
}

// WaitIdle blocks until the device has finished all submitted work.
func (d *Device) WaitIdle() error {
	if d.device == vulkan.Device(vulkan.NullHandle) {
		return nil
	}
	res := vulkan.DeviceWaitIdle(d.device)
	if res == vulkan.ErrorDeviceLost {
		return &present.DeviceLostError{Op: "wait idle"}
	}
	if res != vulkan.Success {
		return fmt.Errorf("device wait idle: %w", vulkan.Error(res))
	}
	return nil
}

// Destroy releases the device, the debug callback, the surface and the
// instance, in that order. Handles that were never created are skipped and
// every released handle is cleared, so calling Destroy twice is harmless.
func (d *Device) Destroy() {
	if d.device != vulkan.Device(vulkan.NullHandle) {
		vulkan.DestroyDevice(d.device, nil)
		d.device = vulkan.Device(vulkan.NullHandle)
	}
	if d.debugCallback != vulkan.DebugReportCallback(vulkan.NullHandle) {
		vulkan.DestroyDebugReportCallback(d.instance, d.debugCallback, nil)
		d.debugCallback = vulkan.DebugReportCallback(vulkan.NullHandle)
	}
	if d.surface != vulkan.Surface(vulkan.NullHandle) {
		vulkan.DestroySurface(d.instance, d.surface, nil)
		d.surface = vulkan.Surface(vulkan.NullHandle)
	}
	if d.instance != vulkan.Instance(vulkan.NullHandle) {
		vulkan.DestroyInstance(d.instance, nil)
		d.instance = vulkan.Instance(vulkan.NullHandle)
	}
}
