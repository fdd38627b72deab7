package view

import (
	"fmt"
	"sync"
)

// FrameContext is the per-frame view registry. The renderer owns one instance
// and cycles it every frame: applications add, update, and remove views during
// the mutation window, the renderer calls Snapshot at the start of its render
// phase to freeze the set, and EndFrame reopens the window once the frame is
// done.
//
// Mutating a frozen registry is a frame-lifecycle violation and panics;
// recording a view's output framebuffer is the one exception, since outputs
// are produced by the render step itself.
type FrameContext struct {
	mu     sync.Mutex
	nextID ID
	order  []ID
	views  map[ID]*Context
	frozen bool
}

// NewFrameContext creates an empty, unfrozen view registry.
//
// Returns:
//   - *FrameContext: the new registry
func NewFrameContext() *FrameContext {
	return &FrameContext{
		nextID: 1,
		views:  make(map[ID]*Context),
	}
}

// AddView registers a new view and allocates its ID. IDs are monotonically
// increasing and never reused, so a stale ID held by the application can
// never silently alias a newer view.
//
// Parameters:
//   - name: human-readable purpose of the view (e.g. "main", "shadow-0")
//   - v: the initial view configuration
//   - target: the surface or application-defined handle backing this view
//
// Returns:
//   - ID: the stable identity of the new view
func (fc *FrameContext) AddView(name string, v View, target any) ID {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	if fc.frozen {
		panic("view: AddView called while frame snapshot is frozen")
	}

	id := fc.nextID
	fc.nextID++
	fc.views[id] = &Context{
		id:     id,
		name:   name,
		view:   v,
		target: target,
	}
	fc.order = append(fc.order, id)
	return id
}

// UpdateView replaces the configuration of a registered view.
//
// Parameters:
//   - id: the view to update
//   - v: the new view configuration
//
// Returns:
//   - error: an error if the ID is not registered
func (fc *FrameContext) UpdateView(id ID, v View) error {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	if fc.frozen {
		panic("view: UpdateView called while frame snapshot is frozen")
	}

	vc, ok := fc.views[id]
	if !ok {
		return fmt.Errorf("view: cannot update unknown view %d", id)
	}
	vc.view = v
	return nil
}

// RemoveView unregisters a view. Removing an unknown ID is a no-op, so
// shutdown paths can remove unconditionally.
//
// Parameters:
//   - id: the view to remove
func (fc *FrameContext) RemoveView(id ID) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	if fc.frozen {
		panic("view: RemoveView called while frame snapshot is frozen")
	}

	if _, ok := fc.views[id]; !ok {
		return
	}
	delete(fc.views, id)
	for i, existing := range fc.order {
		if existing == id {
			fc.order = append(fc.order[:i], fc.order[i+1:]...)
			break
		}
	}
}

// GetViewContext looks up a registry entry by ID.
//
// Parameters:
//   - id: the view to look up
//
// Returns:
//   - *Context: the registry entry, or nil if the ID is not registered
func (fc *FrameContext) GetViewContext(id ID) *Context {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.views[id]
}

// Views returns the registry entries in registration order. The returned
// slice is a copy; callers may iterate it while the registry mutates.
//
// Returns:
//   - []*Context: registry entries, oldest registration first
func (fc *FrameContext) Views() []*Context {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	out := make([]*Context, 0, len(fc.order))
	for _, id := range fc.order {
		out = append(out, fc.views[id])
	}
	return out
}

// Snapshot freezes the registry for the current frame and returns the frozen
// entries in registration order. Until EndFrame, AddView/UpdateView/RemoveView
// panic; SetOutput on the entries stays legal.
//
// Returns:
//   - []*Context: the frozen entries, oldest registration first
func (fc *FrameContext) Snapshot() []*Context {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	if fc.frozen {
		panic("view: Snapshot called twice without EndFrame")
	}
	fc.frozen = true

	out := make([]*Context, 0, len(fc.order))
	for _, id := range fc.order {
		out = append(out, fc.views[id])
	}
	return out
}

// Frozen reports whether the registry is currently in a frame snapshot.
func (fc *FrameContext) Frozen() bool {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.frozen
}

// EndFrame reopens the mutation window after the frame's render phase. Safe
// to call when not frozen.
func (fc *FrameContext) EndFrame() {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.frozen = false
}
