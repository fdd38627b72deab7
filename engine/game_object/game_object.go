package game_object

import (
	"sync"
	"sync/atomic"

	"github.com/abdes/oxygen/common"
	"github.com/abdes/oxygen/engine/renderer/sceneprep"
)

type gameObject struct {
	mu sync.Mutex

	id      uint64
	enabled atomic.Bool

	position      [3]float32
	rotation      [3]float32
	rotationSpeed [3]float32
	scale         [3]float32

	material     uint32
	mesh         sceneprep.MeshRef
	boundsRadius float32
}

// GameObject is a scene entity with a transform, a mesh reference and a
// material slot. It implements sceneprep.Renderable so scenes can hand their
// objects straight to the render pipeline; the world matrix and bounding
// sphere are derived from the current transform on demand.
type GameObject interface {
	sceneprep.Renderable

	// ID returns the object's unique identifier.
	//
	// Returns:
	//   - uint64: the object ID
	ID() uint64

	// Enabled returns whether this object is enabled for rendering.
	//
	// Returns:
	//   - bool: true if enabled
	Enabled() bool

	// Position returns the object's world-space position.
	//
	// Returns:
	//   - x, y, z: position components
	Position() (x, y, z float32)

	// Rotation returns the object's Euler rotation in radians.
	//
	// Returns:
	//   - rx, ry, rz: rotation angles
	Rotation() (rx, ry, rz float32)

	// RotationSpeed returns the object's rotation speed in radians per second.
	//
	// Returns:
	//   - rx, ry, rz: rotation speed values
	RotationSpeed() (rx, ry, rz float32)

	// Scale returns the object's per-axis scale factors.
	//
	// Returns:
	//   - sx, sy, sz: scale components
	Scale() (sx, sy, sz float32)

	// BoundsRadius returns the local-space bounding sphere radius.
	//
	// Returns:
	//   - float32: the radius before scaling
	BoundsRadius() float32

	// SetID sets the object's unique identifier. Called by the scene when the
	// object is added.
	//
	// Parameters:
	//   - id: the ID to assign
	SetID(id uint64)

	// SetEnabled sets whether the object is enabled for rendering.
	//
	// Parameters:
	//   - enabled: true to enable
	SetEnabled(enabled bool)

	// SetPosition sets the object's world-space position.
	//
	// Parameters:
	//   - x, y, z: new position components
	SetPosition(x, y, z float32)

	// SetRotation sets the object's Euler rotation in radians.
	//
	// Parameters:
	//   - rx, ry, rz: new rotation angles
	SetRotation(rx, ry, rz float32)

	// SetRotationSpeed sets the object's rotation speed in radians per second.
	//
	// Parameters:
	//   - rx, ry, rz: new rotation speed values
	SetRotationSpeed(rx, ry, rz float32)

	// SetScale sets the object's per-axis scale factors.
	//
	// Parameters:
	//   - sx, sy, sz: new scale factors
	SetScale(sx, sy, sz float32)

	// SetMaterial sets the object's material slot.
	//
	// Parameters:
	//   - material: the material index
	SetMaterial(material uint32)

	// SetMesh sets the object's mesh reference.
	//
	// Parameters:
	//   - mesh: the mesh reference
	SetMesh(mesh sceneprep.MeshRef)

	// SetBoundsRadius sets the local-space bounding sphere radius.
	//
	// Parameters:
	//   - radius: the radius before scaling
	SetBoundsRadius(radius float32)

	// Advance integrates the rotation speed over the given time step.
	//
	// Parameters:
	//   - deltaTime: elapsed time in seconds
	Advance(deltaTime float32)
}

var _ GameObject = &gameObject{}

// NewGameObject creates a new GameObject configured with the given options.
// Objects default to enabled, unit scale and a unit bounding radius.
//
// Parameters:
//   - options: functional options to configure the object
//
// Returns:
//   - GameObject: the newly created object
func NewGameObject(options ...GameObjectBuilderOption) GameObject {
	obj := &gameObject{
		scale:        [3]float32{1, 1, 1},
		boundsRadius: 1,
	}
	obj.enabled.Store(true)
	for _, option := range options {
		option(obj)
	}
	return obj
}

func (g *gameObject) ID() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.id
}

func (g *gameObject) Enabled() bool {
	return g.enabled.Load()
}

func (g *gameObject) Position() (x, y, z float32) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.position[0], g.position[1], g.position[2]
}

func (g *gameObject) Rotation() (rx, ry, rz float32) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rotation[0], g.rotation[1], g.rotation[2]
}

func (g *gameObject) RotationSpeed() (rx, ry, rz float32) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rotationSpeed[0], g.rotationSpeed[1], g.rotationSpeed[2]
}

func (g *gameObject) Scale() (sx, sy, sz float32) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.scale[0], g.scale[1], g.scale[2]
}

func (g *gameObject) Material() uint32 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.material
}

func (g *gameObject) Mesh() sceneprep.MeshRef {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.mesh
}

func (g *gameObject) BoundsRadius() float32 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.boundsRadius
}

// WorldMatrix composes the object's current world matrix from its
// position, rotation and scale.
//
// Returns:
//   - [16]float32: the world matrix (column-major)
func (g *gameObject) WorldMatrix() [16]float32 {
	g.mu.Lock()
	defer g.mu.Unlock()
	var m [16]float32
	common.BuildModelMatrix(m[:],
		g.position[0], g.position[1], g.position[2],
		g.rotation[0], g.rotation[1], g.rotation[2],
		g.scale[0], g.scale[1], g.scale[2],
	)
	return m
}

// Bounds returns the world-space bounding sphere: the local radius scaled by
// the largest scale axis, centered at the object's position.
//
// Returns:
//   - common.Sphere: the world-space bounding sphere
func (g *gameObject) Bounds() common.Sphere {
	g.mu.Lock()
	defer g.mu.Unlock()
	maxScale := g.scale[0]
	if g.scale[1] > maxScale {
		maxScale = g.scale[1]
	}
	if g.scale[2] > maxScale {
		maxScale = g.scale[2]
	}
	return common.Sphere{
		Center: g.position,
		Radius: g.boundsRadius * maxScale,
	}
}

func (g *gameObject) SetID(id uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.id = id
}

func (g *gameObject) SetEnabled(enabled bool) {
	g.enabled.Store(enabled)
}

func (g *gameObject) SetPosition(x, y, z float32) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.position = [3]float32{x, y, z}
}

func (g *gameObject) SetRotation(rx, ry, rz float32) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rotation = [3]float32{rx, ry, rz}
}

func (g *gameObject) SetRotationSpeed(rx, ry, rz float32) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rotationSpeed = [3]float32{rx, ry, rz}
}

func (g *gameObject) SetScale(sx, sy, sz float32) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.scale = [3]float32{sx, sy, sz}
}

func (g *gameObject) SetMaterial(material uint32) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.material = material
}

func (g *gameObject) SetMesh(mesh sceneprep.MeshRef) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.mesh = mesh
}

func (g *gameObject) SetBoundsRadius(radius float32) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.boundsRadius = radius
}

func (g *gameObject) Advance(deltaTime float32) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rotation[0] += g.rotationSpeed[0] * deltaTime
	g.rotation[1] += g.rotationSpeed[1] * deltaTime
	g.rotation[2] += g.rotationSpeed[2] * deltaTime
}
