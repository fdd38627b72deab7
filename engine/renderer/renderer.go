package renderer

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/abdes/oxygen/engine/graph"
	"github.com/abdes/oxygen/engine/profiler"
	"github.com/abdes/oxygen/engine/renderer/sceneprep"
	"github.com/abdes/oxygen/engine/renderer/staging"
	"github.com/abdes/oxygen/engine/view"
	"github.com/abdes/oxygen/engine/window"
)

// ReadyState tracks the render outcome of a registered view.
type ReadyState int

const (
	// ViewStatePending means the view has not produced a frame yet, most
	// commonly because its output framebuffer is not attached.
	ViewStatePending ReadyState = iota

	// ViewStateReady means the view's last render step completed.
	ViewStateReady

	// ViewStateFailed means the view's last render step returned an error.
	// Failures are isolated: other views render normally.
	ViewStateFailed
)

// pendingViewUpdate holds a configuration change requested while the view
// registry was frozen mid-frame; it is applied when the frame ends.
type pendingViewUpdate struct {
	id view.ID
	v  view.View
}

// viewRegistration pairs a registered view with its camera resolver, its
// render-graph factory, and the per-view upload resources the renderer owns
// on its behalf.
type viewRegistration struct {
	resolver  view.Resolver
	factory   RenderGraphFactory
	state     ReadyState
	constants staging.TransientStructuredBuffer
}

// renderer is the implementation of the Renderer interface.
type renderer struct {
	mu *sync.Mutex

	backendType RendererBackendType
	backend     RendererBackend

	coord staging.InlineTransfersCoordinator
	prep  sceneprep.Pipeline

	frames *view.FrameContext
	regs   map[view.ID]*viewRegistration

	frameActive     bool
	pendingRemovals []view.ID
	pendingUpdates  []pendingViewUpdate
	frameViews      int
	frameDraws      int

	prof *profiler.Profiler

	// Pre-creation config collected from builder options
	framesInFlight       int
	prepWorkers          int
	forceFallbackAdapter bool
	pendingPresentMode   *PresentMode
	pendingMSAA          *MSAASampleCount
	injectedBackend      RendererBackend
}

// Renderer orchestrates multi-view frame rendering. Applications register
// views (a camera resolver plus a render-graph factory per view) and call
// RenderFrame once per frame; the renderer prepares the frame-wide scene data
// once, then drives every registered view sequentially in registration
// order, isolating per-view failures.
//
// This is a high-level API designed to simplify rendering tasks into a streamlined and idiomatic flow.
// The Renderer owns the upload coordinator, the scene prep pipeline, and the view registry; the
// backend abstracts the GPU device so multiple backend API implementations can exist.
type Renderer interface {
	// RegisterView registers a render view. The resolver produces the
	// view's camera data each frame; the factory builds its render task.
	// Must not be called while a frame is rendering.
	//
	// Parameters:
	//   - name: human-readable purpose of the view (e.g. "main", "shadow-0")
	//   - v: the initial view configuration
	//   - resolver: produces the per-frame camera data (must not be nil)
	//   - factory: builds the per-frame render task (must not be nil)
	//
	// Returns:
	//   - view.ID: the stable identity of the new view
	RegisterView(name string, v view.View, resolver view.Resolver, factory RenderGraphFactory) view.ID

	// RebindView replaces the resolver and render-graph factory bound to an
	// existing view. The view keeps its ID, configuration, output and
	// per-view resources. Safe to call mid-frame; views not yet rendered
	// this frame pick up the new binding.
	//
	// Parameters:
	//   - id: the view to rebind
	//   - resolver: the replacement resolver (must not be nil)
	//   - factory: the replacement factory (must not be nil)
	//
	// Returns:
	//   - error: an error if the ID is not registered
	RebindView(id view.ID, resolver view.Resolver, factory RenderGraphFactory) error

	// UnregisterView removes a view and releases its per-view resources.
	// Safe to call from inside a render task: the current frame completes
	// normally and the view is gone the next frame. Unknown IDs are ignored.
	//
	// Parameters:
	//   - id: the view to remove
	UnregisterView(id view.ID)

	// UpdateView replaces a view's configuration. Safe to call mid-frame:
	// the change is deferred and takes effect on the next frame.
	//
	// Parameters:
	//   - id: the view to update
	//   - v: the new configuration
	//
	// Returns:
	//   - error: an error if the ID is not registered
	UpdateView(id view.ID, v view.View) error

	// SetViewOutput attaches the framebuffer a view renders into. Legal at
	// any time, including mid-frame; a view without an output is skipped
	// and stays pending.
	//
	// Parameters:
	//   - id: the view to attach the output to
	//   - fb: the output framebuffer
	//
	// Returns:
	//   - error: an error if the ID is not registered
	SetViewOutput(id view.ID, fb view.Framebuffer) error

	// IsViewReady reports whether the view's most recent render step
	// completed successfully.
	//
	// Parameters:
	//   - id: the view to query
	//
	// Returns:
	//   - bool: true if the view rendered its last frame
	IsViewReady(id view.ID) bool

	// ViewState returns the view's render outcome. Unknown IDs report
	// ViewStatePending.
	//
	// Parameters:
	//   - id: the view to query
	//
	// Returns:
	//   - ReadyState: the view's current state
	ViewState(id view.ID) ReadyState

	// RenderFrame renders one frame: scene prep runs once for the frame,
	// then every registered view renders sequentially in registration
	// order. A failing view is logged and marked failed without affecting
	// the others.
	//
	// Parameters:
	//   - ctx: frame context; cancellation aborts between phases
	//   - src: the frame's scene content (nil renders empty views)
	//
	// Returns:
	//   - error: an error only for frame-wide failures (canceled context,
	//     frame prep failure); per-view failures are isolated
	RenderFrame(ctx context.Context, src sceneprep.Source) error

	// Resize configures the underlying backend to handle a new surface size.
	// This should be called when re-sizing the window or when the surface size should change.
	//
	// Parameters:
	//   - width: the new width of the surface in pixels
	//   - height: the new height of the surface in pixels
	Resize(width, height int)

	// SetPresentMode sets the surface present mode which controls how frames are delivered to the display.
	// A call to Resize is required after changing this for the new mode to take effect.
	//
	// Parameters:
	//   - mode: the PresentMode to use (VSync or Uncapped)
	SetPresentMode(mode PresentMode)

	// Present presents the surface to the display and releases the swapchain texture.
	// Must be called once per frame after RenderFrame when a view targets the surface.
	Present()

	// Backend exposes the backend device contract for framebuffer and
	// resource creation outside the frame loop.
	//
	// Returns:
	//   - RendererBackend: the active backend
	Backend() RendererBackend

	// Release frees every view registration, the prep pipeline, and the
	// backend device resources.
	Release()
}

var _ Renderer = &renderer{}

// NewRenderer creates a new Renderer instance with the specified backend type and window.
// The window provides the platform-specific surface descriptor for backend creation; it may
// be nil when a backend is injected via WithBackend.
//
// Parameters:
//   - backendType: the type of rendering backend to use (e.g., WGPU)
//   - win: the window providing the presentation surface
//   - options: variadic list of RendererBuilderOption functions to configure the Renderer
//
// Returns:
//   - Renderer: a new instance of Renderer configured with the specified backend and options
func NewRenderer(backendType RendererBackendType, win window.Window, options ...RendererBuilderOption) Renderer {
	r := &renderer{
		mu:             &sync.Mutex{},
		backendType:    backendType,
		frames:         view.NewFrameContext(),
		regs:           make(map[view.ID]*viewRegistration),
		framesInFlight: staging.DefaultFramesInFlight,
	}

	// Apply options first so config flags (e.g. forceFallbackAdapter) are
	// available before the backend requests a GPU adapter.
	for _, opt := range options {
		opt(r)
	}

	if r.injectedBackend != nil {
		r.backend = r.injectedBackend
	} else {
		if win == nil {
			panic("renderer: NewRenderer requires a window when no backend is injected")
		}
		msaa := MSAA4x // default
		if r.pendingMSAA != nil {
			msaa = *r.pendingMSAA
		}
		switch backendType {
		case BackendTypeWGPU:
			fallthrough
		default:
			r.backend = newWGPURendererBackend(win.SurfaceDescriptor(), r.forceFallbackAdapter, msaa)
		}
		if r.pendingPresentMode != nil {
			r.backend.SetPresentMode(*r.pendingPresentMode)
		}
		r.backend.ConfigureSurface(win.Width(), win.Height())
	}

	r.coord = staging.NewInlineTransfersCoordinator(
		staging.WithFramesInFlight(r.framesInFlight))

	prepOpts := []sceneprep.PipelineBuilderOption{}
	if r.prepWorkers > 0 {
		prepOpts = append(prepOpts, sceneprep.WithPrepWorkers(r.prepWorkers))
	}
	prep, err := sceneprep.NewPipeline(r.backend, r.coord, prepOpts...)
	if err != nil {
		panic(fmt.Sprintf("renderer: scene prep pipeline creation failed: %v", err))
	}
	r.prep = prep
	return r
}

func (r *renderer) RegisterView(name string, v view.View, resolver view.Resolver, factory RenderGraphFactory) view.ID {
	if resolver == nil {
		panic("renderer: RegisterView requires a non-nil resolver")
	}
	if factory == nil {
		panic("renderer: RegisterView requires a non-nil factory")
	}

	id := r.frames.AddView(name, v, nil)
	r.mu.Lock()
	r.regs[id] = &viewRegistration{resolver: resolver, factory: factory}
	r.mu.Unlock()
	return id
}

func (r *renderer) RebindView(id view.ID, resolver view.Resolver, factory RenderGraphFactory) error {
	if resolver == nil {
		panic("renderer: RebindView requires a non-nil resolver")
	}
	if factory == nil {
		panic("renderer: RebindView requires a non-nil factory")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.regs[id]
	if !ok {
		return fmt.Errorf("renderer: cannot rebind unknown view %d", id)
	}
	reg.resolver = resolver
	reg.factory = factory
	return nil
}

func (r *renderer) UnregisterView(id view.ID) {
	r.mu.Lock()
	if _, ok := r.regs[id]; !ok {
		r.mu.Unlock()
		return
	}
	if r.frameActive {
		// The registry is frozen mid-frame; finish the frame first so a
		// view unregistering itself from its own render task still
		// completes, then drop it before the next frame.
		r.pendingRemovals = append(r.pendingRemovals, id)
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()
	r.removeViewNow(id)
}

// removeViewNow drops a view's registration and releases its resources.
// Must not run while the registry is frozen.
func (r *renderer) removeViewNow(id view.ID) {
	r.mu.Lock()
	reg := r.regs[id]
	delete(r.regs, id)
	r.mu.Unlock()
	if reg == nil {
		return
	}

	r.frames.RemoveView(id)
	r.prep.UnregisterView(id)
	if reg.constants != nil {
		reg.constants.Release()
	}
}

func (r *renderer) UpdateView(id view.ID, v view.View) error {
	r.mu.Lock()
	if _, ok := r.regs[id]; !ok {
		r.mu.Unlock()
		return fmt.Errorf("renderer: cannot update unknown view %d", id)
	}
	if r.frameActive {
		// The registry is frozen mid-frame; the change takes effect on the
		// next frame.
		r.pendingUpdates = append(r.pendingUpdates, pendingViewUpdate{id: id, v: v})
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()
	return r.frames.UpdateView(id, v)
}

func (r *renderer) SetViewOutput(id view.ID, fb view.Framebuffer) error {
	vc := r.frames.GetViewContext(id)
	if vc == nil {
		return fmt.Errorf("renderer: cannot set output on unknown view %d", id)
	}
	vc.SetOutput(fb)
	return nil
}

func (r *renderer) IsViewReady(id view.ID) bool {
	return r.ViewState(id) == ViewStateReady
}

func (r *renderer) ViewState(id view.ID) ReadyState {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.regs[id]
	if !ok {
		return ViewStatePending
	}
	return reg.state
}

func (r *renderer) RenderFrame(ctx context.Context, src sceneprep.Source) error {
	r.mu.Lock()
	if r.frameActive {
		r.mu.Unlock()
		panic("renderer: RenderFrame called while a frame is already rendering")
	}
	r.frameActive = true
	r.mu.Unlock()

	r.coord.BeginFrame()
	defer r.endFrame()

	frame, err := r.prep.PrepareFrame(ctx, src)
	if err != nil {
		return fmt.Errorf("renderer: frame prep failed: %w", err)
	}

	for _, vc := range r.frames.Snapshot() {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("renderer: frame canceled: %w", err)
		}
		r.renderView(ctx, vc, frame)
	}
	return nil
}

// endFrame closes the frame bracket: upload stats are collected, the view
// registry thaws, and removals queued during the frame are applied.
func (r *renderer) endFrame() {
	stats := r.coord.FinishFrame()
	r.frames.EndFrame()

	r.mu.Lock()
	removals := r.pendingRemovals
	r.pendingRemovals = nil
	updates := r.pendingUpdates
	r.pendingUpdates = nil
	views, draws := r.frameViews, r.frameDraws
	r.frameViews, r.frameDraws = 0, 0
	r.frameActive = false
	r.mu.Unlock()

	for _, u := range updates {
		if err := r.frames.UpdateView(u.id, u.v); err != nil {
			log.Printf("renderer: deferred view update failed: %v", err)
		}
	}
	for _, id := range removals {
		r.removeViewNow(id)
	}

	if r.prof != nil {
		r.prof.FrameCompleted(profiler.FrameStats{
			Views:        views,
			Draws:        draws,
			UploadWrites: stats.Writes,
			UploadBytes:  stats.Bytes,
		})
	}
}

// renderView runs one view's render step. Errors mark the view failed and
// are logged; they never propagate to the frame.
func (r *renderer) renderView(ctx context.Context, vc *view.Context, frame sceneprep.FrameData) {
	id := vc.ID()
	r.mu.Lock()
	reg := r.regs[id]
	var resolver view.Resolver
	var factory RenderGraphFactory
	if reg != nil {
		// Copy under the lock: RebindView may swap these mid-frame.
		resolver, factory = reg.resolver, reg.factory
	}
	r.mu.Unlock()
	if reg == nil {
		return
	}

	rv, err := resolver.Resolve(vc)
	if err != nil {
		r.failView(id, reg, fmt.Errorf("resolve: %w", err))
		return
	}

	prepared, err := r.prep.PrepareView(ctx, id, &rv)
	if err != nil {
		r.failView(id, reg, fmt.Errorf("view prep: %w", err))
		return
	}

	out := vc.Output()
	if out == nil {
		// Not an error: the output may simply not be attached yet.
		log.Printf("renderer: view %d (%s) has no output framebuffer, skipping", id, vc.Name())
		r.setState(id, reg, ViewStatePending)
		return
	}

	constants, err := r.uploadViewConstants(reg, &rv)
	if err != nil {
		r.failView(id, reg, fmt.Errorf("view constants: %w", err))
		return
	}

	rec, err := r.backend.AcquireCommandRecorder(vc.Name())
	if err != nil {
		r.failView(id, reg, fmt.Errorf("command recorder: %w", err))
		return
	}
	if err := rec.BindOutput(out); err != nil {
		r.failView(id, reg, fmt.Errorf("bind output %q: %w", out.Label(), err))
		return
	}

	cfg := vc.View()
	rec.SetViewport(cfg.Viewport)
	rec.SetScissor(cfg.Scissor)
	rec.BindViewConstants(constants)
	rec.BindFrameTables(frame.Transforms, frame.Objects)
	rec.BindDrawList(prepared.Draws)

	rc := &RenderContext{
		View:          vc,
		Resolved:      rv,
		Frame:         frame,
		Prepared:      prepared,
		ViewConstants: constants,
		Output:        out,
	}
	task := factory(id, rc, rec)
	if task == nil {
		task = graph.Noop()
	}

	taskErr := task.Await(ctx)
	finishErr := rec.Finish()
	switch {
	case taskErr != nil:
		r.failView(id, reg, fmt.Errorf("render task: %w", taskErr))
	case finishErr != nil:
		r.failView(id, reg, fmt.Errorf("submit: %w", finishErr))
	default:
		r.setState(id, reg, ViewStateReady)
		r.mu.Lock()
		r.frameViews++
		r.frameDraws += prepared.Count
		r.mu.Unlock()
	}
}

// uploadViewConstants writes the view's constants block for this frame and
// returns its binding. The per-view buffer is created lazily on first render.
func (r *renderer) uploadViewConstants(reg *viewRegistration, rv *view.ResolvedView) (staging.Binding, error) {
	if reg.constants == nil {
		buf, err := staging.NewTransientStructuredBuffer(r.backend, r.coord, GPUViewConstantsSize,
			staging.WithTransientLabel("view-constants"))
		if err != nil {
			return staging.Binding{Index: staging.InvalidBindingIndex}, err
		}
		reg.constants = buf
	}

	window := reg.constants.Allocate(1)
	gc := viewConstantsFrom(rv)
	gc.Marshal(window)
	reg.constants.Flush()
	return reg.constants.Binding(), nil
}

func (r *renderer) failView(id view.ID, reg *viewRegistration, err error) {
	log.Printf("renderer: view %d render failed: %v", id, err)
	r.setState(id, reg, ViewStateFailed)
}

func (r *renderer) setState(id view.ID, reg *viewRegistration, s ReadyState) {
	r.mu.Lock()
	reg.state = s
	r.mu.Unlock()
}

func (r *renderer) Resize(width, height int) {
	r.backend.ConfigureSurface(width, height)
}

func (r *renderer) SetPresentMode(mode PresentMode) {
	r.backend.SetPresentMode(mode)
}

func (r *renderer) Present() {
	r.backend.Present()
}

func (r *renderer) Backend() RendererBackend {
	return r.backend
}

func (r *renderer) Release() {
	r.mu.Lock()
	ids := make([]view.ID, 0, len(r.regs))
	for id := range r.regs {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	for _, id := range ids {
		r.removeViewNow(id)
	}

	r.prep.Release()
	r.backend.Release()
}
