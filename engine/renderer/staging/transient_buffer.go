package staging

import (
	"fmt"
)

// TransientStructuredBuffer is a per-purpose, per-frame structured upload
// window. Each frame the owner allocates space for that frame's elements,
// fills the returned bytes, flushes, and hands the Binding to shaders. The
// backing storage is a private RingBuffer driven by the coordinator, so the
// data for in-flight frames is never overwritten.
type TransientStructuredBuffer interface {
	Provider

	// Allocate reserves space for count elements in the current frame's
	// partition and returns the mapped bytes to fill (count*stride long).
	// Allocating zero elements releases the current shader binding and
	// returns nil; rendering a frame with nothing to upload is benign.
	//
	// Parameters:
	//   - count: number of elements this frame
	//
	// Returns:
	//   - []byte: the mapped window to write, or nil when count is zero
	Allocate(count int) []byte

	// Binding returns the shader binding for the current frame's window,
	// creating or recreating the structured view as needed (first use, or
	// after the backing ring grew). Returns an invalid binding when nothing
	// is allocated this frame.
	//
	// Returns:
	//   - Binding: descriptor index, stride, and element count
	Binding() Binding

	// Flush makes the current frame's written elements visible to the GPU
	// queue and reports the upload to the coordinator.
	Flush()

	// ElementCount returns the number of elements allocated this frame.
	ElementCount() int

	// Release unregisters from the coordinator and destroys the backing
	// buffer and shader view.
	Release()
}

type transientStructuredBuffer struct {
	dev   DeviceBuffers
	coord InlineTransfersCoordinator
	ring  *RingBuffer
	label string

	stride    int
	alignment int
	ringOpts  transientRingOptions

	count    int
	alloc    Allocation
	hasAlloc bool

	bindingIndex uint32
	bindingGen   uint64
	bindingAlloc Allocation
	bindingOK    bool
}

var _ TransientStructuredBuffer = &transientStructuredBuffer{}

// TransientBufferBuilderOption configures a TransientStructuredBuffer during
// construction.
type TransientBufferBuilderOption func(*transientStructuredBuffer)

// WithTransientLabel sets the debug label attached to the backing buffer.
func WithTransientLabel(label string) TransientBufferBuilderOption {
	return func(t *transientStructuredBuffer) { t.label = label }
}

// WithTransientAlignment sets the allocation alignment of the backing ring.
// The element stride must be a multiple of it. Must be a power of two.
func WithTransientAlignment(align int) TransientBufferBuilderOption {
	return func(t *transientStructuredBuffer) {
		if !isPowerOfTwo(align) {
			panic(fmt.Sprintf("staging: transient buffer alignment %d is not a power of two", align))
		}
		t.alignment = align
	}
}

// transientRingOptions carries sizing options through to the backing ring.
type transientRingOptions struct {
	initialSize int
	maxSize     int
}

// WithTransientInitialSize sets the initial total size of the backing ring.
func WithTransientInitialSize(size int) TransientBufferBuilderOption {
	return func(t *transientStructuredBuffer) {
		if size > 0 {
			t.ringOpts.initialSize = size
		}
	}
}

// WithTransientMaxSize caps the growth of the backing ring.
func WithTransientMaxSize(size int) TransientBufferBuilderOption {
	return func(t *transientStructuredBuffer) {
		if size > 0 {
			t.ringOpts.maxSize = size
		}
	}
}

// NewTransientStructuredBuffer creates a transient structured buffer with a
// private backing ring sized to the coordinator's frame depth, and registers
// it with the coordinator.
//
// Parameters:
//   - dev: the device contract for buffers and structured views
//   - coord: the coordinator driving frame lifecycles
//   - stride: per-element size in bytes, must be > 0 and a multiple of the
//     alignment (default 16)
//   - options: optional configuration (label, sizes, alignment)
//
// Returns:
//   - TransientStructuredBuffer: the new buffer, already registered
//   - error: an error if the backing ring cannot be allocated
func NewTransientStructuredBuffer(dev DeviceBuffers, coord InlineTransfersCoordinator, stride int, options ...TransientBufferBuilderOption) (TransientStructuredBuffer, error) {
	if stride <= 0 {
		panic(fmt.Sprintf("staging: transient buffer stride %d must be positive", stride))
	}
	t := &transientStructuredBuffer{
		dev:          dev,
		coord:        coord,
		label:        "transient-structured",
		stride:       stride,
		alignment:    DefaultRingAlignment,
		bindingIndex: InvalidBindingIndex,
	}
	for _, opt := range options {
		opt(t)
	}
	if t.stride%t.alignment != 0 {
		panic(fmt.Sprintf("staging: transient buffer stride %d is not a multiple of alignment %d", t.stride, t.alignment))
	}

	ringOpts := []RingBufferBuilderOption{
		WithRingLabel(t.label),
		WithRingSlots(coord.FramesInFlight()),
		WithRingAlignment(t.alignment),
	}
	if t.ringOpts.initialSize > 0 {
		ringOpts = append(ringOpts, WithRingInitialSize(t.ringOpts.initialSize))
	}
	if t.ringOpts.maxSize > 0 {
		ringOpts = append(ringOpts, WithRingMaxSize(t.ringOpts.maxSize))
	}
	ring, err := NewRingBuffer(dev, ringOpts...)
	if err != nil {
		return nil, fmt.Errorf("staging: transient buffer %q: %w", t.label, err)
	}
	t.ring = ring
	coord.Register(t)
	return t, nil
}

// OnFrameStart resets the frame window: the new partition starts empty and
// the previous frame's binding no longer describes live data.
func (t *transientStructuredBuffer) OnFrameStart(slot int, fence uint64) {
	t.ring.OnFrameStart(slot, fence)
	t.count = 0
	t.hasAlloc = false
}

// RetireCompleted forwards retirement to the backing ring.
func (t *transientStructuredBuffer) RetireCompleted(fence uint64) {
	t.ring.RetireCompleted(fence)
}

func (t *transientStructuredBuffer) Allocate(count int) []byte {
	if count < 0 {
		panic(fmt.Sprintf("staging: transient buffer %q element count %d must not be negative", t.label, count))
	}
	if count == 0 {
		t.releaseBinding()
		t.count = 0
		t.hasAlloc = false
		return nil
	}

	t.alloc = t.ring.Allocate(count * t.stride)
	t.count = count
	t.hasAlloc = true
	return t.ring.Bytes(t.alloc)
}

func (t *transientStructuredBuffer) Binding() Binding {
	if !t.hasAlloc || t.count == 0 {
		return Binding{Index: InvalidBindingIndex, Stride: uint32(t.stride)}
	}

	stale := !t.bindingOK ||
		t.bindingGen != t.ring.Generation() ||
		t.bindingAlloc != t.alloc
	if stale {
		t.releaseBinding()
		index, err := t.dev.CreateStructuredView(
			t.ring.Buffer(), t.ring.AbsOffset(t.alloc), t.alloc.Length, t.stride)
		if err != nil {
			panic(fmt.Sprintf("staging: transient buffer %q structured view creation failed: %v", t.label, err))
		}
		t.bindingIndex = index
		t.bindingGen = t.ring.Generation()
		t.bindingAlloc = t.alloc
		t.bindingOK = true
	}

	return Binding{
		Index:        t.bindingIndex,
		Stride:       uint32(t.stride),
		ElementCount: uint32(t.count),
	}
}

func (t *transientStructuredBuffer) Flush() {
	if !t.hasAlloc {
		return
	}
	t.ring.Flush(t.alloc)
	t.coord.NotifyInlineWrite(t.alloc.Length)
}

func (t *transientStructuredBuffer) ElementCount() int { return t.count }

func (t *transientStructuredBuffer) Release() {
	t.coord.Unregister(t)
	t.releaseBinding()
	t.ring.Release()
}

func (t *transientStructuredBuffer) releaseBinding() {
	if t.bindingOK {
		t.dev.ReleaseStructuredView(t.bindingIndex)
		t.bindingIndex = InvalidBindingIndex
		t.bindingOK = false
	}
}
