package staging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRing(t *testing.T, dev *fakeDevice, opts ...RingBufferBuilderOption) *RingBuffer {
	t.Helper()
	ring, err := NewRingBuffer(dev, opts...)
	require.NoError(t, err)
	return ring
}

func TestRingAllocateBumpsWithAlignment(t *testing.T) {
	dev := newFakeDevice()
	ring := newTestRing(t, dev, WithRingSlots(2), WithRingInitialSize(256))
	ring.OnFrameStart(0, 1)

	a := ring.Allocate(10)
	b := ring.Allocate(10)
	assert.Equal(t, 0, a.Offset)
	assert.Equal(t, 16, b.Offset, "offsets advance by the aligned size")
	assert.Equal(t, 10, a.Length)
	assert.Equal(t, uint64(1), a.Stamp)
	assert.Equal(t, 0, a.Partition)
	assert.Equal(t, 32, ring.SlotUsed())
}

func TestRingPartitionsAreDisjoint(t *testing.T) {
	dev := newFakeDevice()
	ring := newTestRing(t, dev, WithRingSlots(2), WithRingInitialSize(256))

	ring.OnFrameStart(0, 1)
	a := ring.Allocate(16)
	copy(ring.Bytes(a), []byte("frame-one-bytes!"))

	ring.OnFrameStart(1, 2)
	b := ring.Allocate(16)
	copy(ring.Bytes(b), []byte("frame-two-bytes!"))

	// Writing frame two must not disturb frame one's partition.
	assert.Equal(t, []byte("frame-one-bytes!"), ring.Bytes(a))
	assert.NotEqual(t, ring.AbsOffset(a), ring.AbsOffset(b))
}

func TestRingFrameStartResetsPartition(t *testing.T) {
	dev := newFakeDevice()
	ring := newTestRing(t, dev, WithRingSlots(2), WithRingInitialSize(256))

	ring.OnFrameStart(0, 1)
	ring.Allocate(32)
	ring.OnFrameStart(1, 2)
	ring.RetireCompleted(1)
	ring.OnFrameStart(0, 3)
	assert.Zero(t, ring.SlotUsed())
}

func TestRingPanicsOnUnretiredPartitionReuse(t *testing.T) {
	dev := newFakeDevice()
	ring := newTestRing(t, dev, WithRingSlots(2))

	ring.OnFrameStart(0, 1)
	ring.OnFrameStart(1, 2)
	assert.Panics(t, func() { ring.OnFrameStart(0, 3) },
		"reusing a partition whose fence has not retired must panic")
}

func TestRingDrivenByCoordinatorNeverTripsReuseCheck(t *testing.T) {
	dev := newFakeDevice()
	ring := newTestRing(t, dev, WithRingSlots(2))
	coord := NewInlineTransfersCoordinator(WithFramesInFlight(2))
	coord.Register(ring)

	// The coordinator retires frame N-depth before reopening its slot, so
	// sustained rendering never panics.
	for i := 0; i < 10; i++ {
		coord.BeginFrame()
		ring.Allocate(64)
		coord.FinishFrame()
	}
}

func TestRingAllocateOutsideFramePanics(t *testing.T) {
	dev := newFakeDevice()
	ring := newTestRing(t, dev)
	assert.Panics(t, func() { ring.Allocate(16) })
}

func TestRingGrowthPreservesContentsAndBumpsGeneration(t *testing.T) {
	dev := newFakeDevice()
	ring := newTestRing(t, dev, WithRingSlots(2), WithRingInitialSize(64))
	require.Equal(t, 32, ring.SlotCapacity())

	ring.OnFrameStart(0, 1)
	a := ring.Allocate(16)
	copy(ring.Bytes(a), []byte("survives-growth!"))

	// Second allocation overflows the 32-byte partition and forces growth.
	b := ring.Allocate(32)
	assert.Equal(t, uint64(1), ring.Generation())
	assert.GreaterOrEqual(t, ring.SlotCapacity(), 48)

	// Relative offsets survive; contents were copied into the new buffer.
	assert.Equal(t, []byte("survives-growth!"), ring.Bytes(a))
	assert.Equal(t, 16, b.Offset)

	// The old device buffer was released.
	assert.Equal(t, 1, dev.liveBuffers())
}

func TestRingGrowthBeyondMaxPanics(t *testing.T) {
	dev := newFakeDevice()
	ring := newTestRing(t, dev, WithRingSlots(2), WithRingInitialSize(64), WithRingMaxSize(128))

	ring.OnFrameStart(0, 1)
	assert.Panics(t, func() { ring.Allocate(1024) })
}

func TestRingFlushForwardsAbsoluteRange(t *testing.T) {
	dev := newFakeDevice()
	ring := newTestRing(t, dev, WithRingSlots(2), WithRingInitialSize(256))

	ring.OnFrameStart(1, 1)
	a := ring.Allocate(20)
	ring.Flush(a)

	buf := dev.buffers[0]
	require.Len(t, buf.flushes, 1)
	assert.Equal(t, [2]int{ring.SlotCapacity(), 20}, buf.flushes[0])
}
