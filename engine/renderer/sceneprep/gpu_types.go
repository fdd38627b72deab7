package sceneprep

import (
	"encoding/binary"
	"math"
	"unsafe"
)

// GPUTransform is the GPU-aligned representation of one row of the shared
// transform table. Matches a WGSL mat4x4<f32> array element exactly.
// Size: 64 bytes (std430 / WGSL aligned).
type GPUTransform struct {
	World [16]float32 // offset 0: object-to-world matrix (mat4x4<f32>)
}

// GPUTransformSize is the per-row stride of the transform table in bytes.
const GPUTransformSize = int(unsafe.Sizeof(GPUTransform{}))

// Size returns the size of the GPUTransform struct in bytes.
//
// Returns:
//   - int: the struct size in bytes (64)
func (g *GPUTransform) Size() int {
	return int(unsafe.Sizeof(*g))
}

// Marshal serializes the transform into dst, which must be at least Size()
// bytes long.
func (g *GPUTransform) Marshal(dst []byte) {
	for i := range 16 {
		binary.LittleEndian.PutUint32(dst[i*4:], math.Float32bits(g.World[i]))
	}
}

// GPUObjectData is the GPU-aligned representation of one row of the shared
// per-object table. Size: 16 bytes (std430 / WGSL aligned).
type GPUObjectData struct {
	MaterialIndex uint32    // offset  0: material table index
	Flags         uint32    // offset  4: per-object shading flags
	_pad          [2]uint32 // offset  8: padding to 16 bytes
}

// GPUObjectDataSize is the per-row stride of the object table in bytes.
const GPUObjectDataSize = int(unsafe.Sizeof(GPUObjectData{}))

// Size returns the size of the GPUObjectData struct in bytes.
//
// Returns:
//   - int: the struct size in bytes (16)
func (g *GPUObjectData) Size() int {
	return int(unsafe.Sizeof(*g))
}

// Marshal serializes the object row into dst, which must be at least Size()
// bytes long.
func (g *GPUObjectData) Marshal(dst []byte) {
	binary.LittleEndian.PutUint32(dst[0:], g.MaterialIndex)
	binary.LittleEndian.PutUint32(dst[4:], g.Flags)
	binary.LittleEndian.PutUint32(dst[8:], 0)  // _pad
	binary.LittleEndian.PutUint32(dst[12:], 0) // _pad
}

// GPUDrawRecord is the GPU-aligned representation of one element of a view's
// draw list. Size: 16 bytes (std430 / WGSL aligned).
type GPUDrawRecord struct {
	TransformIndex uint32 // offset  0: row in the shared transform table
	MaterialIndex  uint32 // offset  4: material table index
	MeshID         uint32 // offset  8: geometry reference
	_pad           uint32 // offset 12: padding to 16 bytes
}

// GPUDrawRecordSize is the per-element stride of a draw list in bytes.
const GPUDrawRecordSize = int(unsafe.Sizeof(GPUDrawRecord{}))

// Size returns the size of the GPUDrawRecord struct in bytes.
//
// Returns:
//   - int: the struct size in bytes (16)
func (g *GPUDrawRecord) Size() int {
	return int(unsafe.Sizeof(*g))
}

// Marshal serializes the draw record into dst, which must be at least Size()
// bytes long.
func (g *GPUDrawRecord) Marshal(dst []byte) {
	binary.LittleEndian.PutUint32(dst[0:], g.TransformIndex)
	binary.LittleEndian.PutUint32(dst[4:], g.MaterialIndex)
	binary.LittleEndian.PutUint32(dst[8:], g.MeshID)
	binary.LittleEndian.PutUint32(dst[12:], 0) // _pad
}
