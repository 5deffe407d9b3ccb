package vk

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/vulkan-go/vulkan"

	"github.com/hellhand/vkcircle/internal/animation"
	"github.com/hellhand/vkcircle/internal/geometry"
	"github.com/hellhand/vkcircle/internal/present"
)

// ShaderCode holds the two precompiled SPIR-V stages.
type ShaderCode struct {
	Vertex   []byte
	Fragment []byte
}

// pipelineOps are the device calls a PipelineManager makes. devicePipeline
// implements them against Vulkan.
type pipelineOps interface {
	createRenderPass(format vulkan.Format) (vulkan.RenderPass, error)
	// createPipeline builds the layout and the pipeline for renderPass. On
	// error nothing is left allocated.
	createPipeline(renderPass vulkan.RenderPass) (vulkan.PipelineLayout, vulkan.Pipeline, error)
	destroyPipeline(pipeline vulkan.Pipeline)
	destroyPipelineLayout(layout vulkan.PipelineLayout)
	destroyRenderPass(renderPass vulkan.RenderPass)
}

// PipelineManager owns the render pass and the graphics pipeline. Both depend
// on the swapchain format and nothing else, so a resize that keeps the format
// reuses them.
type PipelineManager struct {
	ops pipelineOps

	format         vulkan.Format
	renderPass     vulkan.RenderPass
	pipelineLayout vulkan.PipelineLayout
	pipeline       vulkan.Pipeline
}

func newPipelineManager(ops pipelineOps) *PipelineManager {
	return &PipelineManager{ops: ops}
}

// Format is the color attachment format the pipeline was built for.
func (p *PipelineManager) Format() vulkan.Format {
	return p.format
}

// ensure builds the pipeline for format, reusing the current one when the
// format has not changed.
func (p *PipelineManager) ensure(format vulkan.Format) (rebuilt bool, err error) {
	if p.pipeline != vulkan.Pipeline(vulkan.NullHandle) && p.format == format {
		return false, nil
	}
	p.destroy()
	renderPass, err := p.ops.createRenderPass(format)
	if err != nil {
		return true, err
	}
	p.renderPass = renderPass
	layout, pipeline, err := p.ops.createPipeline(renderPass)
	if err != nil {
		return true, err
	}
	p.pipelineLayout = layout
	p.pipeline = pipeline
	p.format = format
	return true, nil
}

// destroy releases the pipeline, its layout and the render pass. The device
// must be idle.
func (p *PipelineManager) destroy() {
	if p.pipeline != vulkan.Pipeline(vulkan.NullHandle) {
		p.ops.destroyPipeline(p.pipeline)
		p.pipeline = vulkan.Pipeline(vulkan.NullHandle)
	}
	if p.pipelineLayout != vulkan.PipelineLayout(vulkan.NullHandle) {
		p.ops.destroyPipelineLayout(p.pipelineLayout)
		p.pipelineLayout = vulkan.PipelineLayout(vulkan.NullHandle)
	}
	if p.renderPass != vulkan.RenderPass(vulkan.NullHandle) {
		p.ops.destroyRenderPass(p.renderPass)
		p.renderPass = vulkan.RenderPass(vulkan.NullHandle)
	}
	p.format = vulkan.FormatUndefined
}

// devicePipeline runs pipelineOps on a Device with the given shaders.
type devicePipeline struct {
	d       *Device
	shaders ShaderCode
}

func (o devicePipeline) createRenderPass(format vulkan.Format) (vulkan.RenderPass, error) {
	colorAttachment := vulkan.AttachmentDescription{
		Format:         format,
		Samples:        vulkan.SampleCount1Bit,
		LoadOp:         vulkan.AttachmentLoadOpClear,
		StoreOp:        vulkan.AttachmentStoreOpStore,
		StencilLoadOp:  vulkan.AttachmentLoadOpDontCare,
		StencilStoreOp: vulkan.AttachmentStoreOpDontCare,
		InitialLayout:  vulkan.ImageLayoutUndefined,
		FinalLayout:    vulkan.ImageLayoutPresentSrc,
	}

	colorRef := vulkan.AttachmentReference{
		Attachment: 0,
		Layout:     vulkan.ImageLayoutColorAttachmentOptimal,
	}

	subpass := vulkan.SubpassDescription{
		PipelineBindPoint:    vulkan.PipelineBindPointGraphics,
		ColorAttachmentCount: 1,
		PColorAttachments:    []vulkan.AttachmentReference{colorRef},
	}

	// The image-available semaphore is waited on at color output, so the
	// layout transition has to happen there too.
	dependency := vulkan.SubpassDependency{
		SrcSubpass:    vulkan.SubpassExternal,
		DstSubpass:    0,
		SrcStageMask:  vulkan.PipelineStageFlags(vulkan.PipelineStageColorAttachmentOutputBit),
		SrcAccessMask: 0,
		DstStageMask:  vulkan.PipelineStageFlags(vulkan.PipelineStageColorAttachmentOutputBit),
		DstAccessMask: vulkan.AccessFlags(vulkan.AccessColorAttachmentWriteBit),
	}

	createInfo := vulkan.RenderPassCreateInfo{
		SType:           vulkan.StructureTypeRenderPassCreateInfo,
		AttachmentCount: 1,
		PAttachments:    []vulkan.AttachmentDescription{colorAttachment},
		SubpassCount:    1,
		PSubpasses:      []vulkan.SubpassDescription{subpass},
		DependencyCount: 1,
		PDependencies:   []vulkan.SubpassDependency{dependency},
	}

	var renderPass vulkan.RenderPass
	if res := vulkan.CreateRenderPass(o.d.device, &createInfo, nil, &renderPass); res != vulkan.Success {
		return vulkan.RenderPass(vulkan.NullHandle), fmt.Errorf("create render pass: %w", vulkan.Error(res))
	}
	return renderPass, nil
}

func (o devicePipeline) createPipeline(renderPass vulkan.RenderPass) (vulkan.PipelineLayout, vulkan.Pipeline, error) {
	dev := o.d.device
	nullLayout, nullPipeline := vulkan.PipelineLayout(vulkan.NullHandle), vulkan.Pipeline(vulkan.NullHandle)

	vertModule, err := o.createShaderModule("vertex", o.shaders.Vertex)
	if err != nil {
		return nullLayout, nullPipeline, err
	}
	defer vulkan.DestroyShaderModule(dev, vertModule, nil)
	fragModule, err := o.createShaderModule("fragment", o.shaders.Fragment)
	if err != nil {
		return nullLayout, nullPipeline, err
	}
	defer vulkan.DestroyShaderModule(dev, fragModule, nil)

	mainName := "main\x00"
	shaderStages := []vulkan.PipelineShaderStageCreateInfo{
		{
			SType:  vulkan.StructureTypePipelineShaderStageCreateInfo,
			Stage:  vulkan.ShaderStageVertexBit,
			Module: vertModule,
			PName:  mainName,
		},
		{
			SType:  vulkan.StructureTypePipelineShaderStageCreateInfo,
			Stage:  vulkan.ShaderStageFragmentBit,
			Module: fragModule,
			PName:  mainName,
		},
	}

	bindingDescription := vulkan.VertexInputBindingDescription{
		Binding:   0,
		Stride:    geometry.VertexStride,
		InputRate: vulkan.VertexInputRateVertex,
	}
	attributeDescriptions := []vulkan.VertexInputAttributeDescription{
		{Location: 0, Binding: 0, Format: vulkan.FormatR32g32Sfloat, Offset: uint32(unsafe.Offsetof(geometry.Vertex{}.Pos))},
	}

	vertexInput := vulkan.PipelineVertexInputStateCreateInfo{
		SType:                           vulkan.StructureTypePipelineVertexInputStateCreateInfo,
		VertexBindingDescriptionCount:   1,
		PVertexBindingDescriptions:      []vulkan.VertexInputBindingDescription{bindingDescription},
		VertexAttributeDescriptionCount: uint32(len(attributeDescriptions)),
		PVertexAttributeDescriptions:    attributeDescriptions,
	}

	inputAssembly := vulkan.PipelineInputAssemblyStateCreateInfo{
		SType:                  vulkan.StructureTypePipelineInputAssemblyStateCreateInfo,
		Topology:               vulkan.PrimitiveTopologyTriangleFan,
		PrimitiveRestartEnable: vulkan.False,
	}

	// Viewport and scissor are dynamic; only the counts are fixed here.
	viewportState := vulkan.PipelineViewportStateCreateInfo{
		SType:         vulkan.StructureTypePipelineViewportStateCreateInfo,
		ViewportCount: 1,
		ScissorCount:  1,
	}
	dynamicStates := []vulkan.DynamicState{
		vulkan.DynamicStateViewport,
		vulkan.DynamicStateScissor,
	}
	dynamicState := vulkan.PipelineDynamicStateCreateInfo{
		SType:             vulkan.StructureTypePipelineDynamicStateCreateInfo,
		DynamicStateCount: uint32(len(dynamicStates)),
		PDynamicStates:    dynamicStates,
	}

	rasterizer := vulkan.PipelineRasterizationStateCreateInfo{
		SType:                   vulkan.StructureTypePipelineRasterizationStateCreateInfo,
		DepthClampEnable:        vulkan.False,
		RasterizerDiscardEnable: vulkan.False,
		PolygonMode:             vulkan.PolygonModeFill,
		LineWidth:               1.0,
		CullMode:                vulkan.CullModeFlags(vulkan.CullModeNone),
		FrontFace:               vulkan.FrontFaceCounterClockwise,
		DepthBiasEnable:         vulkan.False,
	}

	multisampling := vulkan.PipelineMultisampleStateCreateInfo{
		SType:                vulkan.StructureTypePipelineMultisampleStateCreateInfo,
		RasterizationSamples: vulkan.SampleCount1Bit,
	}

	colorBlendAttachment := vulkan.PipelineColorBlendAttachmentState{
		ColorWriteMask: vulkan.ColorComponentFlags(vulkan.ColorComponentRBit | vulkan.ColorComponentGBit | vulkan.ColorComponentBBit | vulkan.ColorComponentABit),
		BlendEnable:    vulkan.False,
	}
	colorBlending := vulkan.PipelineColorBlendStateCreateInfo{
		SType:           vulkan.StructureTypePipelineColorBlendStateCreateInfo,
		AttachmentCount: 1,
		PAttachments:    []vulkan.PipelineColorBlendAttachmentState{colorBlendAttachment},
	}

	pushRange := vulkan.PushConstantRange{
		StageFlags: vulkan.ShaderStageFlags(vulkan.ShaderStageVertexBit),
		Offset:     0,
		Size:       animation.PushConstantSize,
	}
	pipelineLayoutInfo := vulkan.PipelineLayoutCreateInfo{
		SType:                  vulkan.StructureTypePipelineLayoutCreateInfo,
		PushConstantRangeCount: 1,
		PPushConstantRanges:    []vulkan.PushConstantRange{pushRange},
	}
	var layout vulkan.PipelineLayout
	if res := vulkan.CreatePipelineLayout(dev, &pipelineLayoutInfo, nil, &layout); res != vulkan.Success {
		return nullLayout, nullPipeline, fmt.Errorf("create pipeline layout: %w", vulkan.Error(res))
	}

	pipelineInfo := vulkan.GraphicsPipelineCreateInfo{
		SType:               vulkan.StructureTypeGraphicsPipelineCreateInfo,
		StageCount:          uint32(len(shaderStages)),
		PStages:             shaderStages,
		PVertexInputState:   &vertexInput,
		PInputAssemblyState: &inputAssembly,
		PViewportState:      &viewportState,
		PRasterizationState: &rasterizer,
		PMultisampleState:   &multisampling,
		PColorBlendState:    &colorBlending,
		PDynamicState:       &dynamicState,
		Layout:              layout,
		RenderPass:          renderPass,
		Subpass:             0,
	}

	pipelines := make([]vulkan.Pipeline, 1)
	if res := vulkan.CreateGraphicsPipelines(dev, vulkan.PipelineCache(vulkan.NullHandle), 1, []vulkan.GraphicsPipelineCreateInfo{pipelineInfo}, nil, pipelines); res != vulkan.Success {
		vulkan.DestroyPipelineLayout(dev, layout, nil)
		return nullLayout, nullPipeline, fmt.Errorf("create graphics pipeline: %w", vulkan.Error(res))
	}
	return layout, pipelines[0], nil
}

func (o devicePipeline) createShaderModule(stage string, code []byte) (vulkan.ShaderModule, error) {
	words, err := spirvWords(code)
	if err != nil {
		return vulkan.ShaderModule(vulkan.NullHandle), &present.ShaderModuleCreationError{Stage: stage, Err: err}
	}
	createInfo := vulkan.ShaderModuleCreateInfo{
		SType:    vulkan.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint(len(code)),
		PCode:    words,
	}
	var module vulkan.ShaderModule
	if res := vulkan.CreateShaderModule(o.d.device, &createInfo, nil, &module); res != vulkan.Success {
		return vulkan.ShaderModule(vulkan.NullHandle), &present.ShaderModuleCreationError{Stage: stage, Err: vulkan.Error(res)}
	}
	return module, nil
}

var errShaderSize = errors.New("SPIR-V blob size must be a non-zero multiple of 4")

// spirvWords reinterprets a SPIR-V blob as the uint32 words the driver
// expects. The bytes are copied so the result is correctly aligned.
func spirvWords(code []byte) ([]uint32, error) {
	if len(code) == 0 || len(code)%4 != 0 {
		return nil, errShaderSize
	}
	words := make([]uint32, len(code)/4)
	copy(unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), len(code)), code)
	return words, nil
}

func (o devicePipeline) destroyPipeline(pipeline vulkan.Pipeline) {
	vulkan.DestroyPipeline(o.d.device, pipeline, nil)
}

func (o devicePipeline) destroyPipelineLayout(layout vulkan.PipelineLayout) {
	vulkan.DestroyPipelineLayout(o.d.device, layout, nil)
}

func (o devicePipeline) destroyRenderPass(renderPass vulkan.RenderPass) {
	vulkan.DestroyRenderPass(o.d.device, renderPass, nil)
}
