package renderer

import (
	"encoding/binary"
	"math"
	"unsafe"

	"github.com/abdes/oxygen/engine/view"
)

// GPUViewConstants is the GPU-aligned representation of the per-view
// constants block. One block is uploaded per view per frame; the stride is
// padded to 256 bytes to satisfy dynamic-offset alignment on all adapters.
// Size: 256 bytes (std430 / WGSL aligned).
type GPUViewConstants struct {
	ViewProj       [16]float32 // offset   0: combined view-projection matrix (mat4x4<f32>)
	View           [16]float32 // offset  64: world-to-view matrix (mat4x4<f32>)
	Proj           [16]float32 // offset 128: view-to-clip matrix (mat4x4<f32>)
	CameraPosition [3]float32  // offset 192: world-space camera position (vec3<f32>)
	_pad0          float32     // offset 204: padding
	Jitter         [2]float32  // offset 208: sub-pixel projection offset (vec2<f32>)
	_pad1          [10]float32 // offset 216: padding to 256 bytes
}

// GPUViewConstantsSize is the padded per-view stride in bytes.
const GPUViewConstantsSize = int(unsafe.Sizeof(GPUViewConstants{}))

// Size returns the size of the GPUViewConstants struct in bytes.
//
// Returns:
//   - int: the struct size in bytes (256)
func (g *GPUViewConstants) Size() int {
	return int(unsafe.Sizeof(*g))
}

// Marshal serializes the constants block into dst, which must be at least
// Size() bytes long.
func (g *GPUViewConstants) Marshal(dst []byte) {
	for i := range 16 {
		binary.LittleEndian.PutUint32(dst[i*4:], math.Float32bits(g.ViewProj[i]))
		binary.LittleEndian.PutUint32(dst[64+i*4:], math.Float32bits(g.View[i]))
		binary.LittleEndian.PutUint32(dst[128+i*4:], math.Float32bits(g.Proj[i]))
	}
	for i := range 3 {
		binary.LittleEndian.PutUint32(dst[192+i*4:], math.Float32bits(g.CameraPosition[i]))
	}
	binary.LittleEndian.PutUint32(dst[204:], 0) // _pad0
	binary.LittleEndian.PutUint32(dst[208:], math.Float32bits(g.Jitter[0]))
	binary.LittleEndian.PutUint32(dst[212:], math.Float32bits(g.Jitter[1]))
	for i := range 10 {
		binary.LittleEndian.PutUint32(dst[216+i*4:], 0) // _pad1
	}
}

// viewConstantsFrom builds the constants block from a resolved view.
func viewConstantsFrom(rv *view.ResolvedView) GPUViewConstants {
	return GPUViewConstants{
		ViewProj:       rv.ViewProj,
		View:           rv.ViewMatrix,
		Proj:           rv.ProjMatrix,
		CameraPosition: rv.CameraPosition,
		Jitter:         rv.Jitter,
	}
}
