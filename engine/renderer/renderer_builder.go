package renderer

import (
	"github.com/abdes/oxygen/engine/profiler"
)

// RendererBuilderOption is a functional option applied to a renderer during construction via NewRenderer.
type RendererBuilderOption func(*renderer)

// WithFramesInFlight sets how many frames the CPU may record ahead of the
// GPU. This sizes the upload ring partitions; the default is 2.
//
// Parameters:
//   - depth: the number of frames in flight (values below 1 are ignored)
//
// Returns:
//   - RendererBuilderOption: a function that applies the frame depth option to a renderer
func WithFramesInFlight(depth int) RendererBuilderOption {
	return func(r *renderer) {
		if depth >= 1 {
			r.framesInFlight = depth
		}
	}
}

// WithPrepWorkers sets the worker count used by the scene prep pipeline's
// parallel frame phase. Defaults to NumCPU-1.
//
// Parameters:
//   - n: the number of prep workers (values below 1 are ignored)
//
// Returns:
//   - RendererBuilderOption: a function that applies the prep worker option to a renderer
func WithPrepWorkers(n int) RendererBuilderOption {
	return func(r *renderer) {
		if n >= 1 {
			r.prepWorkers = n
		}
	}
}

// WithProfiler attaches a profiler that receives per-frame render statistics.
//
// Parameters:
//   - p: the profiler to attach
//
// Returns:
//   - RendererBuilderOption: a function that applies the profiler option to a renderer
func WithProfiler(p *profiler.Profiler) RendererBuilderOption {
	return func(r *renderer) {
		r.prof = p
	}
}

// WithBackend injects a pre-built backend instead of creating one from the
// window's surface. The window argument to NewRenderer may be nil when this
// option is used. Intended for tests and embedders with custom device setup.
//
// Parameters:
//   - backend: the backend to use
//
// Returns:
//   - RendererBuilderOption: a function that applies the backend option to a renderer
func WithBackend(backend RendererBackend) RendererBuilderOption {
	return func(r *renderer) {
		r.injectedBackend = backend
	}
}

// WithPresentMode sets the surface present mode which controls how frames are delivered to the display.
//
// Parameters:
//   - mode: the PresentMode to use (VSync or Uncapped)
//
// Returns:
//   - RendererBuilderOption: a function that applies the present mode option to a renderer
func WithPresentMode(mode PresentMode) RendererBuilderOption {
	return func(r *renderer) {
		r.pendingPresentMode = &mode
	}
}

// WithMSAA sets the multisample anti-aliasing sample count for the renderer.
// When not specified, the default is MSAA4x. Use MSAAOff to disable MSAA entirely.
// Higher values (MSAA8x, MSAA16x) are adapter-dependent and may not be supported
// by all hardware.
//
// Parameters:
//   - count: the MSAASampleCount to use (MSAAOff, MSAA4x, MSAA8x, or MSAA16x)
//
// Returns:
//   - RendererBuilderOption: a function that applies the MSAA option to a renderer
func WithMSAA(count MSAASampleCount) RendererBuilderOption {
	return func(r *renderer) {
		r.pendingMSAA = &count
	}
}

// WithForceSoftwareRenderer forces WGPU to use a CPU/software fallback adapter instead of
// hardware GPU acceleration. This requires a software Vulkan ICD to be installed on the system
// (e.g. SwiftShader or lavapipe). Useful for benchmarking CPU vs GPU rendering performance.
//
// Parameters:
//   - force: true to force the software fallback adapter, false to use hardware (default)
//
// Returns:
//   - RendererBuilderOption: a function that applies the force software renderer option to a renderer
func WithForceSoftwareRenderer(force bool) RendererBuilderOption {
	return func(r *renderer) {
		r.forceFallbackAdapter = force
	}
}
