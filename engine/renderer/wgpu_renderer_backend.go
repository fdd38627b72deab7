package renderer

import (
	_ "embed"
	"fmt"
	"runtime"
	"sync"

	"github.com/cogentcore/webgpu/wgpu"

	"github.com/abdes/oxygen/engine/renderer/staging"
	"github.com/abdes/oxygen/engine/view"
)

// drawListShaderSource is the WGSL for the default draw-list pipeline used by
// CommandRecorder.Draw. Its bind group layout mirrors the recorder's binding
// slots exactly.
//
//go:embed assets/draw_list.wgsl
var drawListShaderSource string

// Recorder bind group slots. The draw-list shader and the recorder must agree
// on these.
const (
	bindSlotViewConstants = 0
	bindSlotTransforms    = 1
	bindSlotObjects       = 2
	bindSlotDrawList      = 3
)

// wgpuUploadBuffer is the WGPU implementation of staging.UploadBuffer: a
// storage buffer shadowed by a CPU byte slice. Flush pushes the written range
// through the queue, which wgpu-native stages internally.
type wgpuUploadBuffer struct {
	backend *wgpuRendererBackendImpl
	buffer  *wgpu.Buffer
	shadow  []byte
}

var _ staging.UploadBuffer = &wgpuUploadBuffer{}

func (u *wgpuUploadBuffer) Bytes() []byte { return u.shadow }
func (u *wgpuUploadBuffer) Cap() int      { return len(u.shadow) }

func (u *wgpuUploadBuffer) Flush(offset, size int) {
	if size <= 0 {
		return
	}
	u.backend.queue.WriteBuffer(u.buffer, uint64(offset), u.shadow[offset:offset+size])
}

func (u *wgpuUploadBuffer) Release() {
	if u.buffer != nil {
		u.buffer.Release()
		u.buffer = nil
	}
	u.shadow = nil
}

// wgpuFramebuffer is the WGPU implementation of view.Framebuffer: the color
// view a render pass draws into plus the optional MSAA resolve target and
// depth view.
type wgpuFramebuffer struct {
	label   string
	color   *wgpu.TextureView
	resolve *wgpu.TextureView
	depth   *wgpu.TextureView
}

var _ view.Framebuffer = &wgpuFramebuffer{}

func (f *wgpuFramebuffer) Label() string { return f.label }

// wgpuSurfaceTarget is the stable handle returned by SurfaceTarget. It stands
// in for whatever swapchain image is current when a recorder binds it.
type wgpuSurfaceTarget struct {
	backend *wgpuRendererBackendImpl
}

func (t *wgpuSurfaceTarget) Label() string { return "surface" }

type wgpuRendererBackendImpl struct {
	mu     *sync.Mutex
	device *wgpu.Device
	queue  *wgpu.Queue

	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	surface  *wgpu.Surface

	surfaceFormat    *wgpu.TextureFormat
	msaaTextureView  *wgpu.TextureView
	depthTextureView *wgpu.TextureView

	presentMode wgpu.PresentMode // defaults to PresentModeImmediate (Uncapped)
	sampleCount MSAASampleCount  // MSAA sample count for view render passes

	// Structured-view registry emulating bindless SRV indices: each index
	// maps to a single-binding read-only storage bind group on a shared
	// layout.
	storageLayout *wgpu.BindGroupLayout
	nextViewIndex uint32
	views         map[uint32]*wgpu.BindGroup

	// Default draw-list pipeline, created lazily once the surface format is
	// known.
	drawPipeline *wgpu.RenderPipeline

	// Swapchain state for the current frame.
	frameSurface *wgpu.Texture
	frameView    *wgpu.TextureView
	frameFB      *wgpuFramebuffer
}

var _ RendererBackend = &wgpuRendererBackendImpl{}

func newWGPURendererBackend(surfaceDescriptor *wgpu.SurfaceDescriptor, forceFallbackAdapter bool, sampleCount MSAASampleCount) RendererBackend {
	runtime.LockOSThread()
	w := &wgpuRendererBackendImpl{
		mu:          &sync.Mutex{},
		instance:    wgpu.CreateInstance(nil),
		presentMode: wgpu.PresentModeImmediate,
		sampleCount: sampleCount,
		views:       make(map[uint32]*wgpu.BindGroup),
	}
	w.surface = w.instance.CreateSurface(surfaceDescriptor)

	a, err := w.instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		ForceFallbackAdapter: forceFallbackAdapter,
		CompatibleSurface:    w.surface,
	})
	if err != nil {
		panic(err)
	}
	w.adapter = a

	// Start from the WebGPU spec default limits and raise MaxBindGroups so
	// the recorder's four binding slots plus application groups fit.
	limits := wgpu.DefaultLimits()
	limits.MaxBindGroups = 8

	d, err := a.RequestDevice(&wgpu.DeviceDescriptor{
		Label: "Main Device",
		RequiredLimits: &wgpu.RequiredLimits{
			Limits: limits,
		},
	})
	if err != nil {
		panic(err)
	}
	w.device = d
	w.queue = d.GetQueue()

	layout, err := d.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label: "Structured View Layout",
		Entries: []wgpu.BindGroupLayoutEntry{
			{
				Binding:    0,
				Visibility: wgpu.ShaderStageVertex | wgpu.ShaderStageFragment,
				Buffer: wgpu.BufferBindingLayout{
					Type: wgpu.BufferBindingTypeReadOnlyStorage,
				},
			},
		},
	})
	if err != nil {
		panic(err)
	}
	w.storageLayout = layout

	return w
}

func (b *wgpuRendererBackendImpl) CreateUploadBuffer(label string, size int) (staging.UploadBuffer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	buf, err := b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: label,
		Size:  uint64(size),
		Usage: wgpu.BufferUsageStorage | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("upload buffer %q creation failed: %w", label, err)
	}
	return &wgpuUploadBuffer{
		backend: b,
		buffer:  buf,
		shadow:  make([]byte, size),
	}, nil
}

func (b *wgpuRendererBackendImpl) CreateStructuredView(buf staging.UploadBuffer, offset, size, stride int) (uint32, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ub, ok := buf.(*wgpuUploadBuffer)
	if !ok {
		return 0, fmt.Errorf("upload buffer was not created by this backend")
	}

	bindGroup, err := b.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:  "Structured View",
		Layout: b.storageLayout,
		Entries: []wgpu.BindGroupEntry{
			{
				Binding: 0,
				Buffer:  ub.buffer,
				Offset:  uint64(offset),
				Size:    uint64(size),
			},
		},
	})
	if err != nil {
		return 0, fmt.Errorf("structured view creation failed: %w", err)
	}

	b.nextViewIndex++
	b.views[b.nextViewIndex] = bindGroup
	return b.nextViewIndex, nil
}

func (b *wgpuRendererBackendImpl) ReleaseStructuredView(index uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if bg, ok := b.views[index]; ok {
		bg.Release()
		delete(b.views, index)
	}
}

func (b *wgpuRendererBackendImpl) ConfigureSurface(width, height int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	capabilities := b.surface.GetCapabilities(b.adapter)
	b.surfaceFormat = &capabilities.Formats[0]

	b.surface.Configure(b.adapter, b.device, &wgpu.SurfaceConfiguration{
		Usage:       wgpu.TextureUsageRenderAttachment,
		Format:      *b.surfaceFormat,
		Width:       uint32(width),
		Height:      uint32(height),
		PresentMode: b.presentMode,
		AlphaMode:   capabilities.AlphaModes[0],
	})

	count := uint32(b.sampleCount)
	if count > 1 {
		// The MSAA texture is what passes draw into; the resolved result is
		// written to the swapchain view as the ResolveTarget.
		msaaTexture, err := b.device.CreateTexture(&wgpu.TextureDescriptor{
			Label: "MSAA Texture",
			Size: wgpu.Extent3D{
				Width:              uint32(width),
				Height:             uint32(height),
				DepthOrArrayLayers: 1,
			},
			MipLevelCount: 1,
			SampleCount:   count,
			Dimension:     wgpu.TextureDimension2D,
			Format:        *b.surfaceFormat,
			Usage:         wgpu.TextureUsageRenderAttachment,
		})
		if err != nil {
			panic(err)
		}
		b.msaaTextureView, err = msaaTexture.CreateView(nil)
		if err != nil {
			panic(err)
		}
	} else {
		b.msaaTextureView = nil
	}

	// Depth texture sample count must match the color attachment.
	depthTexture, err := b.device.CreateTexture(&wgpu.TextureDescriptor{
		Label: "Depth Texture",
		Size: wgpu.Extent3D{
			Width:              uint32(width),
			Height:             uint32(height),
			DepthOrArrayLayers: 1,
		},
		MipLevelCount: 1,
		SampleCount:   count,
		Dimension:     wgpu.TextureDimension2D,
		Format:        wgpu.TextureFormatDepth24Plus,
		Usage:         wgpu.TextureUsageRenderAttachment,
	})
	if err != nil {
		panic(err)
	}
	b.depthTextureView, err = depthTexture.CreateView(nil)
	if err != nil {
		panic(err)
	}
}

func (b *wgpuRendererBackendImpl) SetPresentMode(mode PresentMode) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch mode {
	case PresentModeVSync:
		b.presentMode = wgpu.PresentModeFifo
	case PresentModeUncapped:
		fallthrough
	default:
		b.presentMode = wgpu.PresentModeImmediate
	}
}

func (b *wgpuRendererBackendImpl) SurfaceFramebuffer() (view.Framebuffer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.frameFB != nil {
		return b.frameFB, nil
	}

	surfaceTexture, err := b.surface.GetCurrentTexture()
	if err != nil {
		return nil, fmt.Errorf("swapchain acquire failed: %w", err)
	}
	swapView, err := surfaceTexture.CreateView(nil)
	if err != nil {
		surfaceTexture.Release()
		return nil, fmt.Errorf("swapchain view creation failed: %w", err)
	}

	fb := &wgpuFramebuffer{
		label: "surface",
		depth: b.depthTextureView,
	}
	// With MSAA the pass draws into the MSAA texture and resolves to the
	// swapchain view; without it the swapchain view is the color target.
	if b.msaaTextureView != nil {
		fb.color = b.msaaTextureView
		fb.resolve = swapView
	} else {
		fb.color = swapView
	}

	b.frameSurface = surfaceTexture
	b.frameView = swapView
	b.frameFB = fb
	return fb, nil
}

func (b *wgpuRendererBackendImpl) SurfaceTarget() view.Framebuffer {
	return &wgpuSurfaceTarget{backend: b}
}

// CreateOffscreenFramebuffer creates a color+depth render target that is not
// part of the swapchain, for offscreen and depth-only views.
//
// Parameters:
//   - label: debug label for the framebuffer textures
//   - width: target width in texels
//   - height: target height in texels
//
// Returns:
//   - view.Framebuffer: the offscreen framebuffer
//   - error: an error if texture creation fails
func (b *wgpuRendererBackendImpl) CreateOffscreenFramebuffer(label string, width, height int) (view.Framebuffer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.surfaceFormat == nil {
		return nil, fmt.Errorf("surface not configured")
	}

	colorTexture, err := b.device.CreateTexture(&wgpu.TextureDescriptor{
		Label: label + " Color",
		Size: wgpu.Extent3D{
			Width:              uint32(width),
			Height:             uint32(height),
			DepthOrArrayLayers: 1,
		},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     wgpu.TextureDimension2D,
		Format:        *b.surfaceFormat,
		Usage:         wgpu.TextureUsageRenderAttachment | wgpu.TextureUsageTextureBinding,
	})
	if err != nil {
		return nil, err
	}
	colorView, err := colorTexture.CreateView(nil)
	if err != nil {
		return nil, err
	}

	depthTexture, err := b.device.CreateTexture(&wgpu.TextureDescriptor{
		Label: label + " Depth",
		Size: wgpu.Extent3D{
			Width:              uint32(width),
			Height:             uint32(height),
			DepthOrArrayLayers: 1,
		},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     wgpu.TextureDimension2D,
		Format:        wgpu.TextureFormatDepth24Plus,
		Usage:         wgpu.TextureUsageRenderAttachment,
	})
	if err != nil {
		return nil, err
	}
	depthView, err := depthTexture.CreateView(nil)
	if err != nil {
		return nil, err
	}

	return &wgpuFramebuffer{label: label, color: colorView, depth: depthView}, nil
}

// ensureDrawPipeline compiles the default draw-list pipeline on first use.
// Caller must hold b.mu.
func (b *wgpuRendererBackendImpl) ensureDrawPipeline() (*wgpu.RenderPipeline, error) {
	if b.drawPipeline != nil {
		return b.drawPipeline, nil
	}
	if b.surfaceFormat == nil {
		return nil, fmt.Errorf("surface not configured")
	}

	module, err := b.device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label: "Draw List Shader",
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{
			Code: drawListShaderSource,
		},
	})
	if err != nil {
		return nil, err
	}

	// All four recorder slots share the single-binding storage layout.
	layout, err := b.device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		Label: "Draw List Pipeline Layout",
		BindGroupLayouts: []*wgpu.BindGroupLayout{
			b.storageLayout, b.storageLayout, b.storageLayout, b.storageLayout,
		},
	})
	if err != nil {
		return nil, err
	}

	created, err := b.device.CreateRenderPipeline(&wgpu.RenderPipelineDescriptor{
		Label:  "Draw List Render Pipeline",
		Layout: layout,
		Vertex: wgpu.VertexState{
			Module:     module,
			EntryPoint: "vs_main",
		},
		Fragment: &wgpu.FragmentState{
			Module:     module,
			EntryPoint: "fs_main",
			Targets: []wgpu.ColorTargetState{
				{
					Format:    *b.surfaceFormat,
					WriteMask: wgpu.ColorWriteMaskAll,
				},
			},
		},
		Primitive: wgpu.PrimitiveState{
			Topology: wgpu.PrimitiveTopologyTriangleList,
		},
		Multisample: wgpu.MultisampleState{
			Count: uint32(b.sampleCount),
			Mask:  0xFFFFFFFF,
		},
		DepthStencil: &wgpu.DepthStencilState{
			Format:            wgpu.TextureFormatDepth24Plus,
			DepthWriteEnabled: true,
			DepthCompare:      wgpu.CompareFunctionLess,
			StencilFront: wgpu.StencilFaceState{
				Compare: wgpu.CompareFunctionAlways,
			},
			StencilBack: wgpu.StencilFaceState{
				Compare: wgpu.CompareFunctionAlways,
			},
		},
	})
	if err != nil {
		return nil, err
	}
	b.drawPipeline = created
	return created, nil
}

func (b *wgpuRendererBackendImpl) AcquireCommandRecorder(label string) (CommandRecorder, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	encoder, err := b.device.CreateCommandEncoder(&wgpu.CommandEncoderDescriptor{
		Label: label,
	})
	if err != nil {
		return nil, fmt.Errorf("command encoder %q creation failed: %w", label, err)
	}
	return &wgpuCommandRecorder{backend: b, encoder: encoder, label: label}, nil
}

func (b *wgpuRendererBackendImpl) Present() {
	b.mu.Lock()
	defer b.mu.Unlock()

	// If no frame surface is held, nothing to present.
	if b.frameSurface == nil {
		return
	}

	b.surface.Present()

	if b.frameView != nil {
		b.frameView.Release()
		b.frameView = nil
	}
	b.frameSurface.Release()
	b.frameSurface = nil
	b.frameFB = nil
}

func (b *wgpuRendererBackendImpl) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for index, bg := range b.views {
		bg.Release()
		delete(b.views, index)
	}
	if b.drawPipeline != nil {
		b.drawPipeline.Release()
		b.drawPipeline = nil
	}
	if b.frameView != nil {
		b.frameView.Release()
		b.frameView = nil
	}
	if b.frameSurface != nil {
		b.frameSurface.Release()
		b.frameSurface = nil
	}
	if b.device != nil {
		b.device.Release()
		b.device = nil
	}
}

// wgpuCommandRecorder records one view's render pass. Single-use: BindOutput
// opens the pass, Finish submits and invalidates the recorder.
type wgpuCommandRecorder struct {
	backend *wgpuRendererBackendImpl
	encoder *wgpu.CommandEncoder
	pass    *wgpu.RenderPassEncoder
	label   string
	failed  error
}

var _ CommandRecorder = &wgpuCommandRecorder{}

func (r *wgpuCommandRecorder) BindOutput(fb view.Framebuffer) error {
	if _, ok := fb.(*wgpuSurfaceTarget); ok {
		resolved, err := r.backend.SurfaceFramebuffer()
		if err != nil {
			return err
		}
		fb = resolved
	}
	wfb, ok := fb.(*wgpuFramebuffer)
	if !ok {
		return fmt.Errorf("framebuffer %q was not created by this backend", fb.Label())
	}
	if r.pass != nil {
		return fmt.Errorf("recorder %q already has an output bound", r.label)
	}

	storeOp := wgpu.StoreOpStore
	if wfb.resolve != nil {
		storeOp = wgpu.StoreOpDiscard // MSAA data resolves; no need to store it
	}
	r.pass = r.encoder.BeginRenderPass(&wgpu.RenderPassDescriptor{
		Label: r.label,
		ColorAttachments: []wgpu.RenderPassColorAttachment{
			{
				View:          wfb.color,
				ResolveTarget: wfb.resolve,
				LoadOp:        wgpu.LoadOpClear,
				StoreOp:       storeOp,
				ClearValue: wgpu.Color{
					R: 0.1, G: 0.1, B: 0.1, A: 1.0,
				},
			},
		},
		DepthStencilAttachment: &wgpu.RenderPassDepthStencilAttachment{
			View:            wfb.depth,
			DepthLoadOp:     wgpu.LoadOpClear,
			DepthStoreOp:    wgpu.StoreOpDiscard,
			DepthClearValue: 1.0,
		},
	})
	return nil
}

func (r *wgpuCommandRecorder) SetViewport(vp view.Viewport) {
	if r.pass == nil {
		return
	}
	r.pass.SetViewport(vp.X, vp.Y, vp.Width, vp.Height, vp.MinDepth, vp.MaxDepth)
}

func (r *wgpuCommandRecorder) SetScissor(sc view.Scissor) {
	if r.pass == nil || sc.Width == 0 || sc.Height == 0 {
		return
	}
	r.pass.SetScissorRect(uint32(sc.X), uint32(sc.Y), sc.Width, sc.Height)
}

// setStructuredView binds a structured view's bind group at the given slot,
// skipping invalid bindings so empty frames record cleanly.
func (r *wgpuCommandRecorder) setStructuredView(slot uint32, b staging.Binding) {
	if r.pass == nil || !b.IsValid() {
		return
	}
	r.backend.mu.Lock()
	bg := r.backend.views[b.Index]
	r.backend.mu.Unlock()
	if bg == nil {
		r.failed = fmt.Errorf("binding %d has no live structured view", b.Index)
		return
	}
	r.pass.SetBindGroup(slot, bg, nil)
}

func (r *wgpuCommandRecorder) BindViewConstants(b staging.Binding) {
	r.setStructuredView(bindSlotViewConstants, b)
}

func (r *wgpuCommandRecorder) BindFrameTables(transforms, objects staging.Binding) {
	r.setStructuredView(bindSlotTransforms, transforms)
	r.setStructuredView(bindSlotObjects, objects)
}

func (r *wgpuCommandRecorder) BindDrawList(b staging.Binding) {
	r.setStructuredView(bindSlotDrawList, b)
}

func (r *wgpuCommandRecorder) Draw(count int) {
	if r.pass == nil || count <= 0 {
		return
	}

	r.backend.mu.Lock()
	pipeline, err := r.backend.ensureDrawPipeline()
	r.backend.mu.Unlock()
	if err != nil {
		r.failed = fmt.Errorf("draw-list pipeline: %w", err)
		return
	}

	r.pass.SetPipeline(pipeline)
	r.pass.Draw(3, uint32(count), 0, 0)
}

func (r *wgpuCommandRecorder) Finish() error {
	if r.encoder == nil {
		return fmt.Errorf("recorder %q already finished", r.label)
	}

	if r.pass != nil {
		r.pass.End()
		r.pass = nil
	}

	commandBuffer, err := r.encoder.Finish(nil)
	r.encoder.Release()
	r.encoder = nil
	if err != nil {
		return fmt.Errorf("recorder %q finish failed: %w", r.label, err)
	}

	r.backend.queue.Submit(commandBuffer)
	commandBuffer.Release()
	return r.failed
}
