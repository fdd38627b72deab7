package staging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBeginFrameAdvancesFenceAndCyclesSlots(t *testing.T) {
	coord := NewInlineTransfersCoordinator(WithFramesInFlight(3))

	for want := 1; want <= 7; want++ {
		slot, fence := coord.BeginFrame()
		assert.Equal(t, uint64(want), fence)
		assert.Equal(t, (want-1)%3, slot)
		coord.FinishFrame()
	}
	assert.Equal(t, uint64(7), coord.CurrentFence())
}

func TestBeginFrameBroadcastsInRegistrationOrder(t *testing.T) {
	coord := NewInlineTransfersCoordinator(WithFramesInFlight(2))
	var events []string
	a := &recorderProvider{name: "a", events: &events}
	b := &recorderProvider{name: "b", events: &events}
	coord.Register(a)
	coord.Register(b)

	coord.BeginFrame()
	// Frame 1, depth 2: nothing retired yet, retire fence is 0.
	require.Equal(t, []string{
		"a:retire(0)", "b:retire(0)",
		"a:start(0,1)", "b:start(0,1)",
	}, events)
	coord.FinishFrame()

	events = nil
	coord.BeginFrame()
	coord.FinishFrame()
	events = nil
	coord.BeginFrame()
	// Frame 3, depth 2: frame 1 is guaranteed complete.
	assert.Equal(t, []string{
		"a:retire(1)", "b:retire(1)",
		"a:start(0,3)", "b:start(0,3)",
	}, events)
	coord.FinishFrame()
}

func TestUnregisterStopsBroadcasts(t *testing.T) {
	coord := NewInlineTransfersCoordinator()
	var events []string
	p := &recorderProvider{name: "p", events: &events}
	coord.Register(p)
	coord.Register(p) // duplicate registration is a no-op
	coord.Unregister(p)

	coord.BeginFrame()
	coord.FinishFrame()
	assert.Empty(t, events)
}

func TestRegisterDuringOpenFrameSyncsProvider(t *testing.T) {
	coord := NewInlineTransfersCoordinator(WithFramesInFlight(2))
	var events []string

	coord.BeginFrame()
	p := &recorderProvider{name: "late", events: &events}
	coord.Register(p)
	assert.Equal(t, []string{"late:start(0,1)"}, events,
		"a provider registered mid-frame joins the open frame immediately")
	coord.FinishFrame()
}

func TestBeginFramePanicsWhileFrameOpen(t *testing.T) {
	coord := NewInlineTransfersCoordinator()
	coord.BeginFrame()
	assert.Panics(t, func() { coord.BeginFrame() })
}

func TestFinishFramePanicsWithoutOpenFrame(t *testing.T) {
	coord := NewInlineTransfersCoordinator()
	assert.Panics(t, func() { coord.FinishFrame() })
}

func TestInlineWriteStatsResetEachFrame(t *testing.T) {
	coord := NewInlineTransfersCoordinator()

	coord.BeginFrame()
	coord.NotifyInlineWrite(128)
	coord.NotifyInlineWrite(64)
	stats := coord.FinishFrame()
	assert.Equal(t, 2, stats.Writes)
	assert.Equal(t, 192, stats.Bytes)

	coord.BeginFrame()
	stats = coord.FinishFrame()
	assert.Zero(t, stats.Writes)
	assert.Zero(t, stats.Bytes)
}
