package game_object

import (
	"github.com/abdes/oxygen/engine/renderer/sceneprep"
)

// GameObjectBuilderOption is a functional option for configuring a GameObject during construction.
type GameObjectBuilderOption func(*gameObject)

// WithID sets the ID of the GameObject.
//
// Parameters:
//   - id: unique identifier for the GameObject
//
// Returns:
//   - GameObjectBuilderOption: functional option to set the ID
func WithID(id uint64) GameObjectBuilderOption {
	return func(obj *gameObject) {
		obj.id = id
	}
}

// WithEnabled sets whether the GameObject is enabled for rendering.
//
// Parameters:
//   - enabled: true to render the object, false to skip it
//
// Returns:
//   - GameObjectBuilderOption: functional option to set the Enabled state
func WithEnabled(enabled bool) GameObjectBuilderOption {
	return func(obj *gameObject) {
		obj.enabled.Store(enabled)
	}
}

// WithPosition sets the initial position of the GameObject.
//
// Parameters:
//   - x: the x position
//   - y: the y position
//   - z: the z position
//
// Returns:
//   - GameObjectBuilderOption: functional option to set the position
func WithPosition(x, y, z float32) GameObjectBuilderOption {
	return func(obj *gameObject) {
		obj.position = [3]float32{x, y, z}
	}
}

// WithScale sets the initial scale of the GameObject.
//
// Parameters:
//   - sx: the x scale factor
//   - sy: the y scale factor
//   - sz: the z scale factor
//
// Returns:
//   - GameObjectBuilderOption: functional option to set the scale
func WithScale(sx, sy, sz float32) GameObjectBuilderOption {
	return func(obj *gameObject) {
		obj.scale = [3]float32{sx, sy, sz}
	}
}

// WithRotation sets the initial rotation of the GameObject in radians.
//
// Parameters:
//   - rx: the x rotation angle
//   - ry: the y rotation angle
//   - rz: the z rotation angle
//
// Returns:
//   - GameObjectBuilderOption: functional option to set the rotation
func WithRotation(rx, ry, rz float32) GameObjectBuilderOption {
	return func(obj *gameObject) {
		obj.rotation = [3]float32{rx, ry, rz}
	}
}

// WithRotationSpeed sets the rotation speed of the GameObject in radians per second.
//
// Parameters:
//   - rx: the x rotation speed
//   - ry: the y rotation speed
//   - rz: the z rotation speed
//
// Returns:
//   - GameObjectBuilderOption: functional option to set the rotation speed
func WithRotationSpeed(rx, ry, rz float32) GameObjectBuilderOption {
	return func(obj *gameObject) {
		obj.rotationSpeed = [3]float32{rx, ry, rz}
	}
}

// WithMaterial sets the material slot of the GameObject.
//
// Parameters:
//   - material: the material index
//
// Returns:
//   - GameObjectBuilderOption: functional option to set the material
func WithMaterial(material uint32) GameObjectBuilderOption {
	return func(obj *gameObject) {
		obj.material = material
	}
}

// WithMesh sets the mesh reference of the GameObject.
//
// Parameters:
//   - mesh: the mesh reference
//
// Returns:
//   - GameObjectBuilderOption: functional option to set the mesh
func WithMesh(mesh sceneprep.MeshRef) GameObjectBuilderOption {
	return func(obj *gameObject) {
		obj.mesh = mesh
	}
}

// WithBoundsRadius sets the local-space bounding sphere radius of the GameObject.
//
// Parameters:
//   - radius: the radius before scaling
//
// Returns:
//   - GameObjectBuilderOption: functional option to set the bounds radius
func WithBoundsRadius(radius float32) GameObjectBuilderOption {
	return func(obj *gameObject) {
		obj.boundsRadius = radius
	}
}
