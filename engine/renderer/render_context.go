package renderer

import (
	"github.com/abdes/oxygen/engine/graph"
	"github.com/abdes/oxygen/engine/renderer/sceneprep"
	"github.com/abdes/oxygen/engine/renderer/staging"
	"github.com/abdes/oxygen/engine/view"
)

// RenderContext is the per-view render input handed to a render-graph
// factory: the frozen registry entry, the resolved camera data, the
// frame-wide tables, the view's prepared draw list, and the bound constants
// block. It is valid only for the duration of the view's render step.
type RenderContext struct {
	// View is the frozen registry entry being rendered.
	View *view.Context

	// Resolved is the camera data produced by the view's resolver this frame.
	Resolved view.ResolvedView

	// Frame carries the frame-wide transform and object table bindings
	// shared by every view.
	Frame sceneprep.FrameData

	// Prepared carries the view's culled, sorted draw list.
	Prepared sceneprep.PreparedView

	// ViewConstants is the binding of this view's uploaded constants block.
	ViewConstants staging.Binding

	// Output is the framebuffer this view renders into.
	Output view.Framebuffer
}

// RenderGraphFactory builds the render task for one view each frame. The
// renderer binds the recorder's resources before calling the factory; the
// returned task records draws and is awaited inline. Returning nil is
// treated as a no-op task.
type RenderGraphFactory func(id view.ID, rc *RenderContext, rec CommandRecorder) graph.Task
