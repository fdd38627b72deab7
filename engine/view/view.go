// Package view defines the identity and configuration types for registered
// render views, and the per-frame registry (FrameContext) that owns them.
// A view pairs a camera with a render target; the renderer drives every
// registered view once per frame.
package view

import (
	"github.com/abdes/oxygen/common"
)

// ID is the stable identity of a registered render-target/camera pairing.
// IDs are allocated by the FrameContext on AddView and are never reused while
// the view remains registered. The zero value is never a valid ID.
type ID uint32

// InvalidID is the zero ID; no registered view ever carries it.
const InvalidID ID = 0

// Flags carries per-view behavior toggles.
type Flags uint32

const (
	// FlagNone is the default view behavior.
	FlagNone Flags = 0

	// FlagDepthOnly marks a view that renders depth with no color target
	// (e.g. shadow cascades).
	FlagDepthOnly Flags = 1 << iota

	// FlagOffscreen marks a view whose output is never presented directly;
	// its framebuffer is consumed by another view or by the application.
	FlagOffscreen
)

// Viewport describes the rectangle a view renders into, in pixels, plus its
// depth range.
type Viewport struct {
	X, Y          float32
	Width, Height float32
	MinDepth      float32
	MaxDepth      float32
}

// Scissor describes the pixel rectangle rendering is clipped to.
type Scissor struct {
	X, Y          int32
	Width, Height uint32
}

// View is the camera-independent configuration of a render view: where it
// draws and how, but not the camera math. Applications produce one per frame
// before the registry's mutation window closes.
type View struct {
	Viewport Viewport
	Scissor  Scissor
	// Jitter is the sub-pixel projection offset for temporal techniques,
	// in NDC units.
	Jitter [2]float32
	Flags  Flags
}

// ResolvedView is the complete per-view render input produced on demand each
// frame by the application-supplied Resolver. The renderer borrows it for the
// duration of that view's render step only; nothing retains it across frames.
type ResolvedView struct {
	// ViewMatrix transforms world space to view space (column-major).
	ViewMatrix [16]float32
	// ProjMatrix transforms view space to clip space (column-major).
	ProjMatrix [16]float32
	// ViewProj is the pre-multiplied Proj * View matrix.
	ViewProj [16]float32
	// Frustum holds the six culling planes extracted from ViewProj.
	Frustum common.Frustum
	// CameraPosition is the world-space eye position.
	CameraPosition [3]float32
	// Jitter is the sub-pixel offset baked into ProjMatrix, echoed here so
	// passes can un-jitter.
	Jitter [2]float32
	// Viewport is the pixel rectangle this view renders into.
	Viewport Viewport
}

// Framebuffer is the narrow handle for a view's output target. The renderer
// backend provides concrete implementations; this package only needs identity
// for logging and registry bookkeeping.
type Framebuffer interface {
	// Label returns a human-readable identifier for log output.
	Label() string
}

// Resolver produces the complete per-view render input from a registry entry.
// Implementations are supplied by the application (typically a camera) and are
// invoked once per frame per view.
type Resolver interface {
	// Resolve computes the view/projection matrices, frustum, and camera
	// position for the given registry entry.
	//
	// Parameters:
	//   - vc: the registry entry being rendered this frame
	//
	// Returns:
	//   - ResolvedView: the complete per-view render input
	//   - error: an error if the view cannot be resolved (marks the view failed)
	Resolve(vc *Context) (ResolvedView, error)
}

// ResolverFunc adapts a plain function to the Resolver interface.
type ResolverFunc func(vc *Context) (ResolvedView, error)

// Resolve calls f.
func (f ResolverFunc) Resolve(vc *Context) (ResolvedView, error) {
	return f(vc)
}

// Context is one entry of the view registry: the view configuration plus the
// metadata and output target the renderer wires during the frame. Entries are
// created via FrameContext.AddView and frozen at the frame-snapshot point;
// only the output framebuffer may be filled in afterwards, by the render step.
type Context struct {
	id     ID
	name   string
	view   View
	target any // surface or application-defined handle backing this view
	output Framebuffer
}

// ID returns the view's stable identity.
func (c *Context) ID() ID { return c.id }

// Name returns the human-readable purpose of the view (e.g. "main", "shadow").
func (c *Context) Name() string { return c.name }

// View returns the camera-independent view configuration.
func (c *Context) View() View { return c.view }

// SetView replaces the view configuration. Only legal before the frame
// snapshot; FrameContext.UpdateView enforces that.
func (c *Context) SetView(v View) { c.view = v }

// Target returns the surface or handle backing this view, if any.
func (c *Context) Target() any { return c.target }

// Output returns the framebuffer the view renders into, or nil if the render
// step has not provided one yet.
func (c *Context) Output() Framebuffer { return c.output }

// SetOutput records the framebuffer for this view. Unlike the rest of the
// entry this is legal mid-frame: the render step fills it in.
func (c *Context) SetOutput(fb Framebuffer) { c.output = fb }
