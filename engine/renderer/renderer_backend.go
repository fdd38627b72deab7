package renderer

import (
	"github.com/abdes/oxygen/engine/renderer/staging"
	"github.com/abdes/oxygen/engine/view"
)

// RendererBackendType identifies the GPU backend implementation used by the Renderer.
type RendererBackendType int

const (
	// BackendTypeWGPU selects the WebGPU-based rendering backend.
	BackendTypeWGPU RendererBackendType = iota
)

// PresentMode controls how rendered frames are presented to the display surface.
type PresentMode int

const (
	// PresentModeVSync waits for the next vertical blank before presenting, capping frame rate
	// to the monitor's refresh rate. Eliminates tearing.
	PresentModeVSync PresentMode = iota

	// PresentModeUncapped presents frames immediately without waiting for vertical blank.
	// May cause screen tearing but provides the lowest latency.
	PresentModeUncapped
)

// MSAASampleCount controls the number of samples used for multisample anti-aliasing (MSAA).
// Only specific power-of-two values are valid for GPU hardware. WebGPU guarantees support for
// 1 (off) and 4; higher values (8, 16) are adapter-dependent and may not be available.
type MSAASampleCount uint32

const (
	// MSAAOff disables multisample anti-aliasing (sample count 1).
	MSAAOff MSAASampleCount = 1

	// MSAA4x enables 4× multisample anti-aliasing. This is the default.
	MSAA4x MSAASampleCount = 4

	// MSAA8x enables 8× multisample anti-aliasing. Adapter-dependent; not all hardware supports this.
	MSAA8x MSAASampleCount = 8

	// MSAA16x enables 16× multisample anti-aliasing. Adapter-dependent; not all hardware supports this.
	MSAA16x MSAASampleCount = 16
)

// CommandRecorder records the GPU commands for one view's render step. The
// renderer binds the frame-wide and per-view resources, hands the recorder to
// the view's render-graph task for draw recording, and finishes it once the
// task completes. Recorders are single-use.
type CommandRecorder interface {
	// BindOutput targets the recorder at the view's output framebuffer.
	// Must be called before any draw.
	BindOutput(fb view.Framebuffer) error

	// SetViewport sets the rasterizer viewport for subsequent draws.
	SetViewport(vp view.Viewport)

	// SetScissor sets the scissor rectangle for subsequent draws.
	SetScissor(sc view.Scissor)

	// BindViewConstants binds the per-view constants block (view/projection
	// matrices, camera position, jitter).
	BindViewConstants(b staging.Binding)

	// BindFrameTables binds the frame-wide transform and object tables
	// shared by every view.
	BindFrameTables(transforms, objects staging.Binding)

	// BindDrawList binds the view's sorted draw list.
	BindDrawList(b staging.Binding)

	// Draw records an instanced draw over the first count elements of the
	// bound draw list.
	Draw(count int)

	// Finish closes the recorder and submits its commands to the GPU queue.
	//
	// Returns:
	//   - error: an error if submission fails
	Finish() error
}

// RendererBackend is the device abstraction the renderer orchestrates. It
// carries the staging device contract (upload buffers and structured views)
// plus surface management and per-view command recording. The WGPU backend is
// the production implementation; tests substitute fakes.
type RendererBackend interface {
	staging.DeviceBuffers

	// ConfigureSurface (re)configures the presentation surface for the given
	// pixel size. Call on startup and whenever the window resizes.
	ConfigureSurface(width, height int)

	// SetPresentMode sets the surface present mode. Takes effect on the next
	// ConfigureSurface.
	SetPresentMode(mode PresentMode)

	// SurfaceFramebuffer returns the framebuffer for the current swapchain
	// image, acquiring it on first use within a frame.
	//
	// Returns:
	//   - view.Framebuffer: the swapchain framebuffer
	//   - error: an error if the swapchain image cannot be acquired
	SurfaceFramebuffer() (view.Framebuffer, error)

	// SurfaceTarget returns a stable framebuffer handle that always refers
	// to the current swapchain image, resolved when a recorder binds it.
	// Attach it to a view once; no per-frame re-acquisition is needed.
	//
	// Returns:
	//   - view.Framebuffer: the stable surface handle
	SurfaceTarget() view.Framebuffer

	// AcquireCommandRecorder creates a single-use recorder for one view's
	// render step.
	//
	// Parameters:
	//   - label: debug label for the command encoder (typically the view name)
	//
	// Returns:
	//   - CommandRecorder: the recorder
	//   - error: an error if the encoder cannot be created
	AcquireCommandRecorder(label string) (CommandRecorder, error)

	// Present presents the current swapchain image and releases it.
	Present()

	// Release frees all device resources owned by the backend.
	Release()
}
