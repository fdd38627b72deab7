package staging

import (
	"log"
	"sync"
)

// Provider is a frame-scoped upload resource driven by the coordinator. The
// coordinator broadcasts frame lifecycle events to every registered provider
// in registration order.
type Provider interface {
	// OnFrameStart tells the provider which buffer slot the new frame writes
	// into and the fence value that will stamp this frame's work.
	OnFrameStart(slot int, fence uint64)

	// RetireCompleted tells the provider that all work stamped with fence
	// values <= fence has completed on the GPU timeline.
	RetireCompleted(fence uint64)
}

// FrameTransferStats summarizes the inline uploads of one finished frame.
type FrameTransferStats struct {
	Fence  uint64
	Slot   int
	Writes int
	Bytes  int
}

// InlineTransfersCoordinator owns the CPU-side frame fence and sequences the
// frame lifecycle of every registered upload Provider. One coordinator serves
// one renderer; BeginFrame/FinishFrame bracket each rendered frame.
//
// The fence is a monotonically increasing CPU counter: frame N is stamped
// with fence N, and with D frames in flight, opening frame N implies frame
// N-D has fully completed, so the coordinator retires fence N-D before
// handing out slot (N-1) mod D.
type InlineTransfersCoordinator interface {
	// Register adds a provider to the broadcast set. Providers receive
	// lifecycle events in registration order. If a frame is open, the
	// provider receives OnFrameStart for it immediately, so resources
	// created lazily mid-frame can allocate right away.
	Register(p Provider)

	// Unregister removes a provider from the broadcast set. Unknown
	// providers are ignored.
	Unregister(p Provider)

	// BeginFrame opens a new frame: advances the fence, retires the frame
	// that the in-flight depth guarantees complete, and broadcasts
	// OnFrameStart to every provider. Panics if a frame is already open.
	//
	// Returns:
	//   - int: the buffer slot this frame writes into
	//   - uint64: the fence value stamping this frame
	BeginFrame() (int, uint64)

	// FinishFrame closes the open frame and returns its transfer statistics.
	// Panics if no frame is open.
	//
	// Returns:
	//   - FrameTransferStats: write count and byte volume of the frame
	FinishFrame() FrameTransferStats

	// NotifyInlineWrite records that an inline upload of the given byte size
	// happened during the open frame. Writes outside an open frame are
	// counted against the next FinishFrame and logged, since they indicate a
	// caller uploading outside the frame bracket.
	NotifyInlineWrite(bytes int)

	// CurrentFence returns the fence value of the most recently opened
	// frame, or zero before the first frame.
	CurrentFence() uint64

	// FramesInFlight returns the coordinator's frame depth.
	FramesInFlight() int
}

type inlineTransfersCoordinator struct {
	mu        sync.Mutex
	depth     int
	fence     uint64
	frameOpen bool
	slot      int
	providers []Provider

	frameWrites int
	frameBytes  int
}

var _ InlineTransfersCoordinator = &inlineTransfersCoordinator{}

// CoordinatorBuilderOption configures an InlineTransfersCoordinator during
// construction.
type CoordinatorBuilderOption func(*inlineTransfersCoordinator)

// WithFramesInFlight sets the number of frames the CPU may record ahead of
// the GPU. Values below 1 are ignored.
func WithFramesInFlight(depth int) CoordinatorBuilderOption {
	return func(c *inlineTransfersCoordinator) {
		if depth >= 1 {
			c.depth = depth
		}
	}
}

// DefaultFramesInFlight is the frame depth used when no option overrides it.
const DefaultFramesInFlight = 2

// NewInlineTransfersCoordinator creates a coordinator with no registered
// providers.
//
// Parameters:
//   - options: optional configuration (frame depth)
//
// Returns:
//   - InlineTransfersCoordinator: the new coordinator
func NewInlineTransfersCoordinator(options ...CoordinatorBuilderOption) InlineTransfersCoordinator {
	c := &inlineTransfersCoordinator{
		depth: DefaultFramesInFlight,
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

func (c *inlineTransfersCoordinator) Register(p Provider) {
	c.mu.Lock()
	for _, existing := range c.providers {
		if existing == p {
			c.mu.Unlock()
			return
		}
	}
	c.providers = append(c.providers, p)
	open, slot, fence := c.frameOpen, c.slot, c.fence
	c.mu.Unlock()

	if open {
		p.OnFrameStart(slot, fence)
	}
}

func (c *inlineTransfersCoordinator) Unregister(p Provider) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, existing := range c.providers {
		if existing == p {
			c.providers = append(c.providers[:i], c.providers[i+1:]...)
			return
		}
	}
}

func (c *inlineTransfersCoordinator) BeginFrame() (int, uint64) {
	c.mu.Lock()
	if c.frameOpen {
		c.mu.Unlock()
		panic("staging: BeginFrame called while a frame is still open")
	}
	c.fence++
	c.frameOpen = true
	c.slot = int((c.fence - 1) % uint64(c.depth))

	var retired uint64
	if c.fence > uint64(c.depth) {
		retired = c.fence - uint64(c.depth)
	}
	slot, fence := c.slot, c.fence
	providers := make([]Provider, len(c.providers))
	copy(providers, c.providers)
	c.mu.Unlock()

	// Retire first so providers reclaim partitions before reusing them.
	for _, p := range providers {
		p.RetireCompleted(retired)
	}
	for _, p := range providers {
		p.OnFrameStart(slot, fence)
	}
	return slot, fence
}

func (c *inlineTransfersCoordinator) FinishFrame() FrameTransferStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.frameOpen {
		panic("staging: FinishFrame called with no open frame")
	}
	stats := FrameTransferStats{
		Fence:  c.fence,
		Slot:   c.slot,
		Writes: c.frameWrites,
		Bytes:  c.frameBytes,
	}
	c.frameOpen = false
	c.frameWrites = 0
	c.frameBytes = 0
	return stats
}

func (c *inlineTransfersCoordinator) NotifyInlineWrite(bytes int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.frameOpen {
		log.Printf("staging: inline write of %d bytes recorded outside an open frame", bytes)
	}
	c.frameWrites++
	c.frameBytes += bytes
}

func (c *inlineTransfersCoordinator) CurrentFence() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fence
}

func (c *inlineTransfersCoordinator) FramesInFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.depth
}
