// Package sceneprep turns application scene content into GPU-ready draw
// data each frame. It runs in two phases: a frame phase that collects every
// renderable once and uploads shared transform/object tables, and a per-view
// phase that culls, sorts, and uploads the draw list for one view.
package sceneprep

import (
	"github.com/abdes/oxygen/common"
)

// MeshRef identifies a mesh in the application's geometry registry. The
// pipeline treats it as opaque; it only flows into draw records and sort
// keys.
type MeshRef uint32

// Renderable is one drawable item of scene content. Implementations are
// supplied by the application; the pipeline reads them during the frame
// collect phase and never retains them past the frame.
type Renderable interface {
	// WorldMatrix returns the object-to-world transform (column-major).
	WorldMatrix() [16]float32

	// Bounds returns the world-space bounding sphere used for culling.
	Bounds() common.Sphere

	// Material returns the material index for shading and sort batching.
	Material() uint32

	// Mesh returns the geometry reference.
	Mesh() MeshRef
}

// Source provides the frame's scene content. The renderer passes one Source
// per frame; its Renderables are collected exactly once regardless of how
// many views render them.
type Source interface {
	// Renderables returns the items to consider this frame. Nil entries are
	// skipped.
	Renderables() []Renderable
}

// CollectedItem is one renderable after the frame collect phase, carrying
// the table indices assigned to it. TransformIndex is the item's row in the
// shared transform and object tables and is identical for every view this
// frame.
type CollectedItem struct {
	Renderable     Renderable
	TransformIndex uint32
	MaterialIndex  uint32
}

// DrawRecord is one visible draw after a view's cull phase. Records are
// sorted by SortKey before upload so draws batch by material, then mesh.
type DrawRecord struct {
	TransformIndex uint32
	MaterialIndex  uint32
	Mesh           MeshRef
	SortKey        uint64
}

// Sort key field widths. Material dominates so state changes batch, mesh
// comes next for instancing-friendly runs, and the transform index breaks
// ties deterministically.
const (
	sortKeyFieldMask     = 0xFFFFF // 20 bits each for mesh and transform
	sortKeyMeshShift     = 20
	sortKeyMaterialShift = 40
)

// makeSortKey packs material, mesh, and transform index into a single
// ascending sort key.
func makeSortKey(material uint32, mesh MeshRef, transformIndex uint32) uint64 {
	return uint64(material)<<sortKeyMaterialShift |
		(uint64(mesh)&sortKeyFieldMask)<<sortKeyMeshShift |
		uint64(transformIndex)&sortKeyFieldMask
}
