package staging

import (
	"fmt"
)

// Allocation identifies a byte range handed out by a RingBuffer. Offsets are
// relative to the partition start, so allocations survive a buffer growth:
// the ring copies live partitions into the new buffer at the same relative
// offsets and callers re-derive absolute positions through Bytes/AbsOffset.
type Allocation struct {
	Partition int
	Offset    int
	Length    int
	Stamp     uint64
}

// Default sizing for ring buffers created without explicit options.
const (
	DefaultRingInitialSize = 256 * 1024
	DefaultRingMaxSize     = 64 * 1024 * 1024
	DefaultRingAlignment   = 16
)

// RingBuffer is an N-buffered bump allocator over one mapped upload buffer.
// The buffer is split into one partition per in-flight frame; each frame
// writes only into its own partition, and a partition is reset for reuse only
// once the fence that stamped its contents has retired.
//
// The ring grows transparently when a frame outgrows its partition: a larger
// buffer is allocated with slack, every partition's written bytes are copied
// at preserved relative offsets, and the generation counter advances so
// dependent shader views know to recreate themselves. Exceeding the
// configured maximum is treated as a fatal misconfiguration and panics.
//
// RingBuffer implements Provider and is normally driven by an
// InlineTransfersCoordinator.
type RingBuffer struct {
	dev   DeviceBuffers
	label string

	slots           int
	alignment       int
	maxSize         int
	initialSizeHint int

	buf      UploadBuffer
	partSize int

	heads  []int
	stamps []uint64

	retired     uint64
	active      int
	activeFence uint64
	frameOpen   bool
	generation  uint64
}

var _ Provider = &RingBuffer{}

// RingBufferBuilderOption configures a RingBuffer during construction.
type RingBufferBuilderOption func(*RingBuffer)

// WithRingLabel sets the debug label attached to the backing device buffer.
func WithRingLabel(label string) RingBufferBuilderOption {
	return func(r *RingBuffer) { r.label = label }
}

// WithRingSlots sets the number of partitions. This must match the
// coordinator's frames-in-flight depth. Values below 1 are ignored.
func WithRingSlots(slots int) RingBufferBuilderOption {
	return func(r *RingBuffer) {
		if slots >= 1 {
			r.slots = slots
		}
	}
}

// WithRingInitialSize sets the initial total buffer size in bytes, spread
// across all partitions.
func WithRingInitialSize(size int) RingBufferBuilderOption {
	return func(r *RingBuffer) {
		if size > 0 {
			r.initialSizeHint = size
		}
	}
}

// WithRingMaxSize caps the total buffer size growth may reach.
func WithRingMaxSize(size int) RingBufferBuilderOption {
	return func(r *RingBuffer) {
		if size > 0 {
			r.maxSize = size
		}
	}
}

// WithRingAlignment sets the allocation alignment. Must be a power of two;
// other values panic.
func WithRingAlignment(align int) RingBufferBuilderOption {
	return func(r *RingBuffer) {
		if !isPowerOfTwo(align) {
			panic(fmt.Sprintf("staging: ring alignment %d is not a power of two", align))
		}
		r.alignment = align
	}
}

// NewRingBuffer creates a ring buffer backed by a freshly allocated upload
// buffer.
//
// Parameters:
//   - dev: the device contract used to allocate the backing buffer
//   - options: optional configuration (label, slots, sizes, alignment)
//
// Returns:
//   - *RingBuffer: the new ring buffer
//   - error: an error if the device allocation fails
func NewRingBuffer(dev DeviceBuffers, options ...RingBufferBuilderOption) (*RingBuffer, error) {
	if dev == nil {
		panic("staging: NewRingBuffer requires a device")
	}
	r := &RingBuffer{
		dev:             dev,
		label:           "staging-ring",
		slots:           DefaultFramesInFlight,
		alignment:       DefaultRingAlignment,
		maxSize:         DefaultRingMaxSize,
		initialSizeHint: DefaultRingInitialSize,
	}
	for _, opt := range options {
		opt(r)
	}

	r.partSize = alignUp(r.initialSizeHint/r.slots, r.alignment)
	if r.partSize == 0 {
		r.partSize = r.alignment
	}
	if r.partSize*r.slots > r.maxSize {
		return nil, fmt.Errorf("staging: ring %q initial size %d exceeds maximum %d",
			r.label, r.partSize*r.slots, r.maxSize)
	}

	buf, err := dev.CreateUploadBuffer(r.label, r.partSize*r.slots)
	if err != nil {
		return nil, fmt.Errorf("staging: ring %q buffer allocation failed: %w", r.label, err)
	}
	r.buf = buf
	r.heads = make([]int, r.slots)
	r.stamps = make([]uint64, r.slots)
	return r, nil
}

// OnFrameStart resets the given partition for the new frame. Panics if the
// partition still holds unretired work, which means the caller is running
// more frames in flight than the ring has partitions.
func (r *RingBuffer) OnFrameStart(slot int, fence uint64) {
	if slot < 0 || slot >= r.slots {
		panic(fmt.Sprintf("staging: ring %q frame slot %d out of range [0,%d)", r.label, slot, r.slots))
	}
	if r.stamps[slot] != 0 && r.stamps[slot] > r.retired {
		panic(fmt.Sprintf("staging: ring %q partition %d reused while fence %d is still in flight (retired %d)",
			r.label, slot, r.stamps[slot], r.retired))
	}
	r.heads[slot] = 0
	r.stamps[slot] = fence
	r.active = slot
	r.activeFence = fence
	r.frameOpen = true
}

// RetireCompleted records that all work stamped <= fence has completed.
func (r *RingBuffer) RetireCompleted(fence uint64) {
	if fence > r.retired {
		r.retired = fence
	}
}

// Allocate reserves length bytes in the active partition and returns the
// allocation handle. The range is uninitialized; callers write it through
// Bytes. The ring grows transparently if the partition is full.
//
// Parameters:
//   - length: number of bytes to reserve, must be > 0
//
// Returns:
//   - Allocation: handle identifying the reserved range
func (r *RingBuffer) Allocate(length int) Allocation {
	if !r.frameOpen {
		panic(fmt.Sprintf("staging: ring %q Allocate called outside a frame", r.label))
	}
	if length <= 0 {
		panic(fmt.Sprintf("staging: ring %q allocation length %d must be positive", r.label, length))
	}

	aligned := alignUp(length, r.alignment)
	head := r.heads[r.active]
	if head+aligned > r.partSize {
		r.grow(head + aligned)
		head = r.heads[r.active]
	}

	alloc := Allocation{
		Partition: r.active,
		Offset:    head,
		Length:    length,
		Stamp:     r.activeFence,
	}
	r.heads[r.active] = head + aligned
	return alloc
}

// grow replaces the backing buffer with a larger one. neededPartSize is the
// minimum per-partition size the pending allocation requires; growth adds
// 50% slack on top so a frame that grows once tends not to grow again.
func (r *RingBuffer) grow(neededPartSize int) {
	newPartSize := alignUp(neededPartSize+neededPartSize/2, r.alignment)
	if smaller := r.partSize * 2; newPartSize < smaller {
		newPartSize = smaller
	}
	if newPartSize*r.slots > r.maxSize {
		newPartSize = (r.maxSize / r.slots) &^ (r.alignment - 1)
	}
	if newPartSize < neededPartSize {
		panic(fmt.Sprintf("staging: ring %q needs %d bytes per partition but maximum size %d allows only %d",
			r.label, neededPartSize, r.maxSize, newPartSize))
	}

	newBuf, err := r.dev.CreateUploadBuffer(r.label, newPartSize*r.slots)
	if err != nil {
		panic(fmt.Sprintf("staging: ring %q growth to %d bytes failed: %v", r.label, newPartSize*r.slots, err))
	}

	// Preserve every partition's written bytes at the same relative offsets
	// so outstanding allocations stay valid.
	oldBytes := r.buf.Bytes()
	newBytes := newBuf.Bytes()
	for slot := 0; slot < r.slots; slot++ {
		used := r.heads[slot]
		if used == 0 {
			continue
		}
		copy(newBytes[slot*newPartSize:slot*newPartSize+used],
			oldBytes[slot*r.partSize:slot*r.partSize+used])
	}

	r.buf.Release()
	r.buf = newBuf
	r.partSize = newPartSize
	r.generation++
}

// Bytes returns the mapped CPU window of an allocation. The slice is only
// valid until the next Allocate, since growth may remap the buffer.
func (r *RingBuffer) Bytes(alloc Allocation) []byte {
	abs := r.AbsOffset(alloc)
	return r.buf.Bytes()[abs : abs+alloc.Length]
}

// AbsOffset returns the allocation's absolute byte offset in the backing
// buffer under the current generation.
func (r *RingBuffer) AbsOffset(alloc Allocation) int {
	if alloc.Partition < 0 || alloc.Partition >= r.slots {
		panic(fmt.Sprintf("staging: ring %q allocation references partition %d of %d", r.label, alloc.Partition, r.slots))
	}
	return alloc.Partition*r.partSize + alloc.Offset
}

// Flush makes an allocation's bytes visible to the GPU queue.
func (r *RingBuffer) Flush(alloc Allocation) {
	r.buf.Flush(r.AbsOffset(alloc), alloc.Length)
}

// Buffer returns the backing upload buffer under the current generation.
func (r *RingBuffer) Buffer() UploadBuffer { return r.buf }

// Generation returns the growth generation counter. Dependent shader views
// cache it and recreate themselves when it advances.
func (r *RingBuffer) Generation() uint64 { return r.generation }

// SlotCapacity returns the per-partition capacity in bytes.
func (r *RingBuffer) SlotCapacity() int { return r.partSize }

// SlotUsed returns the bytes allocated in the active partition this frame.
func (r *RingBuffer) SlotUsed() int { return r.heads[r.active] }

// Release destroys the backing buffer. The ring is unusable afterwards.
func (r *RingBuffer) Release() {
	if r.buf != nil {
		r.buf.Release()
		r.buf = nil
	}
}
