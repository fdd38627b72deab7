package renderer

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abdes/oxygen/common"
	"github.com/abdes/oxygen/engine/graph"
	"github.com/abdes/oxygen/engine/renderer/sceneprep"
	"github.com/abdes/oxygen/engine/renderer/staging"
	"github.com/abdes/oxygen/engine/view"
)

// fakeBackend implements RendererBackend in memory, recording the order of
// acquired recorders so tests can assert on view execution.

type fakeUploadBuffer struct {
	data     []byte
	released bool
}

func (b *fakeUploadBuffer) Bytes() []byte          { return b.data }
func (b *fakeUploadBuffer) Cap() int               { return len(b.data) }
func (b *fakeUploadBuffer) Flush(offset, size int) {}
func (b *fakeUploadBuffer) Release()               { b.released = true }

type fakeFramebuffer struct{ label string }

func (f *fakeFramebuffer) Label() string { return f.label }

type fakeRecorder struct {
	label         string
	output        view.Framebuffer
	viewport      view.Viewport
	viewConstants staging.Binding
	transforms    staging.Binding
	objects       staging.Binding
	drawList      staging.Binding
	drawCount     int
	finished      bool
	finishErr     error
}

func (r *fakeRecorder) BindOutput(fb view.Framebuffer) error { r.output = fb; return nil }
func (r *fakeRecorder) SetViewport(vp view.Viewport)         { r.viewport = vp }
func (r *fakeRecorder) SetScissor(sc view.Scissor)           {}
func (r *fakeRecorder) BindViewConstants(b staging.Binding)  { r.viewConstants = b }
func (r *fakeRecorder) BindFrameTables(transforms, objects staging.Binding) {
	r.transforms = transforms
	r.objects = objects
}
func (r *fakeRecorder) BindDrawList(b staging.Binding) { r.drawList = b }
func (r *fakeRecorder) Draw(count int)                 { r.drawCount += count }
func (r *fakeRecorder) Finish() error                  { r.finished = true; return r.finishErr }

type fakeBackend struct {
	nextView  uint32
	liveViews map[uint32]bool
	recorders []*fakeRecorder
	released  bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{liveViews: make(map[uint32]bool)}
}

func (d *fakeBackend) CreateUploadBuffer(label string, size int) (staging.UploadBuffer, error) {
	return &fakeUploadBuffer{data: make([]byte, size)}, nil
}

func (d *fakeBackend) CreateStructuredView(buf staging.UploadBuffer, offset, size, stride int) (uint32, error) {
	d.nextView++
	d.liveViews[d.nextView] = true
	return d.nextView, nil
}

func (d *fakeBackend) ReleaseStructuredView(index uint32) {
	delete(d.liveViews, index)
}

func (d *fakeBackend) ConfigureSurface(width, height int) {}
func (d *fakeBackend) SetPresentMode(mode PresentMode)    {}

func (d *fakeBackend) SurfaceFramebuffer() (view.Framebuffer, error) {
	return &fakeFramebuffer{label: "surface"}, nil
}

func (d *fakeBackend) SurfaceTarget() view.Framebuffer {
	return &fakeFramebuffer{label: "surface"}
}

func (d *fakeBackend) AcquireCommandRecorder(label string) (CommandRecorder, error) {
	rec := &fakeRecorder{label: label}
	d.recorders = append(d.recorders, rec)
	return rec, nil
}

func (d *fakeBackend) Present() {}
func (d *fakeBackend) Release() { d.released = true }

// recorderLabels returns the labels of recorders acquired so far.
func (d *fakeBackend) recorderLabels() []string {
	out := make([]string, 0, len(d.recorders))
	for _, r := range d.recorders {
		out = append(out, r.label)
	}
	return out
}

type countingSource struct {
	calls int
	items []sceneprep.Renderable
}

func (s *countingSource) Renderables() []sceneprep.Renderable {
	s.calls++
	return s.items
}

type stubRenderable struct {
	material uint32
	mesh     sceneprep.MeshRef
}

func (r *stubRenderable) WorldMatrix() [16]float32 {
	return [16]float32{1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1}
}
func (r *stubRenderable) Bounds() common.Sphere   { return common.Sphere{Radius: 1} }
func (r *stubRenderable) Material() uint32        { return r.material }
func (r *stubRenderable) Mesh() sceneprep.MeshRef { return r.mesh }

// acceptAllResolver resolves with a zero frustum, which contains everything.
var acceptAllResolver = view.ResolverFunc(func(vc *view.Context) (view.ResolvedView, error) {
	return view.ResolvedView{}, nil
})

func noopFactory(id view.ID, rc *RenderContext, rec CommandRecorder) graph.Task {
	return graph.Noop()
}

func newTestRenderer(t *testing.T) (Renderer, *fakeBackend) {
	t.Helper()
	backend := newFakeBackend()
	r := NewRenderer(BackendTypeWGPU, nil,
		WithBackend(backend),
		WithFramesInFlight(2),
		WithPrepWorkers(1))
	return r, backend
}

func registerReadyView(t *testing.T, r Renderer, name string) view.ID {
	t.Helper()
	id := r.RegisterView(name, view.View{}, acceptAllResolver, noopFactory)
	require.NoError(t, r.SetViewOutput(id, &fakeFramebuffer{label: name + "-fb"}))
	return id
}

func TestRegisterViewValidatesArguments(t *testing.T) {
	r, _ := newTestRenderer(t)
	defer r.Release()

	assert.Panics(t, func() { r.RegisterView("bad", view.View{}, nil, noopFactory) })
	assert.Panics(t, func() { r.RegisterView("bad", view.View{}, acceptAllResolver, nil) })
}

func TestRenderFrameCollectsSceneOncePerFrame(t *testing.T) {
	r, _ := newTestRenderer(t)
	defer r.Release()

	registerReadyView(t, r, "main")
	registerReadyView(t, r, "shadow")
	registerReadyView(t, r, "reflection")

	src := &countingSource{items: []sceneprep.Renderable{&stubRenderable{}}}
	require.NoError(t, r.RenderFrame(context.Background(), src))
	assert.Equal(t, 1, src.calls, "scene content is collected once regardless of view count")

	require.NoError(t, r.RenderFrame(context.Background(), src))
	assert.Equal(t, 2, src.calls)
}

func TestRenderFrameDrivesViewsInRegistrationOrder(t *testing.T) {
	r, backend := newTestRenderer(t)
	defer r.Release()

	registerReadyView(t, r, "main")
	registerReadyView(t, r, "shadow")
	registerReadyView(t, r, "ui")

	require.NoError(t, r.RenderFrame(context.Background(), nil))
	assert.Equal(t, []string{"main", "shadow", "ui"}, backend.recorderLabels())
}

func TestRenderFrameBindsPerViewAndSharedResources(t *testing.T) {
	r, backend := newTestRenderer(t)
	defer r.Release()

	registerReadyView(t, r, "a")
	registerReadyView(t, r, "b")

	src := &countingSource{items: []sceneprep.Renderable{
		&stubRenderable{material: 1, mesh: 1},
		&stubRenderable{material: 2, mesh: 2},
	}}
	require.NoError(t, r.RenderFrame(context.Background(), src))
	require.Len(t, backend.recorders, 2)

	a, b := backend.recorders[0], backend.recorders[1]
	assert.True(t, a.finished)
	assert.True(t, b.finished)

	// Frame-wide tables are shared; constants and draw lists are per-view.
	assert.Equal(t, a.transforms, b.transforms)
	assert.Equal(t, a.objects, b.objects)
	assert.NotEqual(t, a.viewConstants.Index, b.viewConstants.Index)
	assert.NotEqual(t, a.drawList.Index, b.drawList.Index)
	assert.Equal(t, uint32(2), a.drawList.ElementCount)
}

func TestViewWithoutOutputIsSkippedAndPending(t *testing.T) {
	r, backend := newTestRenderer(t)
	defer r.Release()

	ready := registerReadyView(t, r, "ready")
	pending := r.RegisterView("pending", view.View{}, acceptAllResolver, noopFactory)

	require.NoError(t, r.RenderFrame(context.Background(), nil))
	assert.Equal(t, []string{"ready"}, backend.recorderLabels(),
		"a view without an output must not acquire a recorder")
	assert.True(t, r.IsViewReady(ready))
	assert.False(t, r.IsViewReady(pending))
	assert.Equal(t, ViewStatePending, r.ViewState(pending))

	// Attaching the output later makes the view render next frame.
	require.NoError(t, r.SetViewOutput(pending, &fakeFramebuffer{label: "late-fb"}))
	require.NoError(t, r.RenderFrame(context.Background(), nil))
	assert.True(t, r.IsViewReady(pending))
}

func TestViewFailuresAreIsolated(t *testing.T) {
	r, _ := newTestRenderer(t)
	defer r.Release()

	boom := errors.New("boom")
	failing := r.RegisterView("failing", view.View{}, acceptAllResolver,
		func(id view.ID, rc *RenderContext, rec CommandRecorder) graph.Task {
			return graph.TaskFunc(func(context.Context) error { return boom })
		})
	require.NoError(t, r.SetViewOutput(failing, &fakeFramebuffer{label: "failing-fb"}))
	healthy := registerReadyView(t, r, "healthy")

	require.NoError(t, r.RenderFrame(context.Background(), nil),
		"per-view failures must not fail the frame")
	assert.Equal(t, ViewStateFailed, r.ViewState(failing))
	assert.True(t, r.IsViewReady(healthy))
}

func TestResolverFailureMarksViewFailed(t *testing.T) {
	r, backend := newTestRenderer(t)
	defer r.Release()

	id := r.RegisterView("broken", view.View{},
		view.ResolverFunc(func(vc *view.Context) (view.ResolvedView, error) {
			return view.ResolvedView{}, fmt.Errorf("no camera attached")
		}), noopFactory)
	require.NoError(t, r.SetViewOutput(id, &fakeFramebuffer{label: "fb"}))

	require.NoError(t, r.RenderFrame(context.Background(), nil))
	assert.Equal(t, ViewStateFailed, r.ViewState(id))
	assert.Empty(t, backend.recorderLabels())
}

func TestSelfUnregisterMidFrameCompletesThenDisappears(t *testing.T) {
	r, backend := newTestRenderer(t)
	defer r.Release()

	var selfID view.ID
	selfID = r.RegisterView("transient", view.View{}, acceptAllResolver,
		func(id view.ID, rc *RenderContext, rec CommandRecorder) graph.Task {
			return graph.TaskFunc(func(context.Context) error {
				r.UnregisterView(selfID) // removing yourself mid-render is legal
				return nil
			})
		})
	require.NoError(t, r.SetViewOutput(selfID, &fakeFramebuffer{label: "fb"}))
	after := registerReadyView(t, r, "after")

	require.NoError(t, r.RenderFrame(context.Background(), nil))
	assert.Equal(t, []string{"transient", "after"}, backend.recorderLabels(),
		"the unregistering view still completes its frame")
	assert.True(t, r.IsViewReady(after))

	// Next frame the view is gone.
	require.NoError(t, r.RenderFrame(context.Background(), nil))
	assert.Equal(t, []string{"transient", "after", "after"}, backend.recorderLabels())
	assert.Equal(t, ViewStatePending, r.ViewState(selfID))
}

func TestUnregisterViewReleasesResources(t *testing.T) {
	r, backend := newTestRenderer(t)
	defer r.Release()

	id := registerReadyView(t, r, "main")
	require.NoError(t, r.RenderFrame(context.Background(), nil))
	require.NotEmpty(t, backend.liveViews)

	r.UnregisterView(id)
	r.UnregisterView(id) // double unregister is a no-op

	require.NoError(t, r.RenderFrame(context.Background(), nil))
	assert.Len(t, backend.recorderLabels(), 1, "unregistered views do not render")
}

func TestRebindViewReplacesBinding(t *testing.T) {
	r, _ := newTestRenderer(t)
	defer r.Release()

	id := registerReadyView(t, r, "main")
	require.NoError(t, r.RenderFrame(context.Background(), nil))
	require.True(t, r.IsViewReady(id))

	boom := errors.New("boom")
	require.NoError(t, r.RebindView(id, acceptAllResolver,
		func(vid view.ID, rc *RenderContext, rec CommandRecorder) graph.Task {
			return graph.TaskFunc(func(context.Context) error { return boom })
		}))

	require.NoError(t, r.RenderFrame(context.Background(), nil))
	assert.Equal(t, ViewStateFailed, r.ViewState(id))

	assert.Error(t, r.RebindView(view.ID(999), acceptAllResolver, noopFactory))
	assert.Panics(t, func() { r.RebindView(id, nil, noopFactory) })
}

func TestUpdateView(t *testing.T) {
	r, backend := newTestRenderer(t)
	defer r.Release()

	id := registerReadyView(t, r, "main")
	updated := view.View{Viewport: view.Viewport{Width: 640, Height: 480, MaxDepth: 1}}
	require.NoError(t, r.UpdateView(id, updated))
	assert.Error(t, r.UpdateView(view.ID(999), updated))

	require.NoError(t, r.RenderFrame(context.Background(), nil))
	require.Len(t, backend.recorders, 1)
	assert.Equal(t, updated.Viewport, backend.recorders[0].viewport)
}

func TestUpdateViewMidFrameIsDeferred(t *testing.T) {
	r, backend := newTestRenderer(t)
	defer r.Release()

	updated := view.View{Viewport: view.Viewport{Width: 99, Height: 99, MaxDepth: 1}}
	var id view.ID
	id = r.RegisterView("self-updating", view.View{}, acceptAllResolver,
		func(vid view.ID, rc *RenderContext, rec CommandRecorder) graph.Task {
			return graph.TaskFunc(func(context.Context) error {
				return r.UpdateView(id, updated)
			})
		})
	require.NoError(t, r.SetViewOutput(id, &fakeFramebuffer{label: "fb"}))

	require.NoError(t, r.RenderFrame(context.Background(), nil))
	require.Len(t, backend.recorders, 1)
	assert.Equal(t, view.Viewport{}, backend.recorders[0].viewport,
		"the mid-frame update must not affect the frame in flight")

	require.NoError(t, r.RenderFrame(context.Background(), nil))
	require.Len(t, backend.recorders, 2)
	assert.Equal(t, updated.Viewport, backend.recorders[1].viewport)
}

func TestRenderFrameHonorsCancellation(t *testing.T) {
	r, _ := newTestRenderer(t)
	defer r.Release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := r.RenderFrame(ctx, nil)
	assert.ErrorIs(t, err, context.Canceled)

	// The frame bracket closed cleanly; rendering can continue.
	registerReadyView(t, r, "main")
	assert.NoError(t, r.RenderFrame(context.Background(), nil))
}

func TestSetViewOutputOnUnknownView(t *testing.T) {
	r, _ := newTestRenderer(t)
	defer r.Release()
	assert.Error(t, r.SetViewOutput(view.ID(42), &fakeFramebuffer{}))
}
