// Package staging implements frame-centric GPU upload machinery: a
// multi-buffered ring allocator for per-frame transient data, a coordinator
// that sequences frame lifecycles across upload providers, and a structured
// transient buffer that exposes its per-frame window through a bindless
// shader binding.
//
// All types in this package are single-goroutine per frame: the renderer
// drives them from the frame goroutine, and worker fan-out only ever touches
// disjoint byte ranges handed out by Allocate.
package staging

// Binding describes how a shader indexes a structured buffer window: the
// bindless descriptor index, the per-element stride in bytes, and the number
// of elements valid this frame.
type Binding struct {
	Index        uint32
	Stride       uint32
	ElementCount uint32
}

// IsValid reports whether the binding refers to a live descriptor.
func (b Binding) IsValid() bool {
	return b.Index != InvalidBindingIndex
}

// InvalidBindingIndex marks a binding with no backing descriptor. Shaders
// receiving it must not index the buffer.
const InvalidBindingIndex uint32 = 0xFFFFFFFF

// UploadBuffer is a persistently mapped, CPU-visible device buffer. Writers
// fill ranges of Bytes and call Flush to make them visible to the GPU queue.
type UploadBuffer interface {
	// Bytes returns the mapped CPU window of the whole buffer. The slice
	// stays valid until Release; writers must stay within ranges they were
	// handed by an allocator.
	Bytes() []byte

	// Cap returns the buffer capacity in bytes.
	Cap() int

	// Flush makes the byte range [offset, offset+size) visible to the GPU
	// queue. Flushing an empty range is a no-op.
	Flush(offset, size int)

	// Release destroys the device buffer. Bytes is invalid afterwards.
	Release()
}

// DeviceBuffers is the narrow device contract the staging machinery needs:
// creating mapped upload buffers and publishing structured (bindless SRV)
// views over ranges of them. The renderer backend implements it; tests use
// in-memory fakes.
type DeviceBuffers interface {
	// CreateUploadBuffer allocates a persistently mapped buffer of the given
	// size.
	//
	// Parameters:
	//   - label: debug label attached to the device object
	//   - size: capacity in bytes, must be > 0
	//
	// Returns:
	//   - UploadBuffer: the mapped buffer
	//   - error: an error if the device allocation fails
	CreateUploadBuffer(label string, size int) (UploadBuffer, error)

	// CreateStructuredView publishes a structured shader view over a byte
	// range of an upload buffer and returns its bindless descriptor index.
	//
	// Parameters:
	//   - buf: the upload buffer backing the view
	//   - offset: byte offset of the range within buf
	//   - size: byte length of the range
	//   - stride: per-element stride in bytes
	//
	// Returns:
	//   - uint32: the bindless descriptor index
	//   - error: an error if the descriptor allocation fails
	CreateStructuredView(buf UploadBuffer, offset, size, stride int) (uint32, error)

	// ReleaseStructuredView frees a descriptor previously returned by
	// CreateStructuredView. Releasing InvalidBindingIndex is a no-op.
	ReleaseStructuredView(index uint32)
}

// alignUp rounds n up to the next multiple of align. align must be a power
// of two.
func alignUp(n, align int) int {
	return (n + align - 1) &^ (align - 1)
}

// isPowerOfTwo reports whether n is a positive power of two.
func isPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}
