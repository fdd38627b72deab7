package sceneprep

// State holds the CPU-side scratch data the pipeline rebuilds every frame:
// the frame-wide collected item table plus per-view draw scratch. Backing
// slices are reused across frames so steady-state rendering does not
// allocate.
//
// Frame data and view data reset independently: ResetFrameData runs once at
// the top of the frame phase, ResetViewData once per view. Both are
// idempotent, so a frame with zero views or a view prepared twice leaves the
// state consistent.
type State struct {
	items []CollectedItem
	draws []DrawRecord
}

// NewState creates an empty prep state.
func NewState() *State {
	return &State{}
}

// ResetFrameData clears the collected item table while keeping its capacity.
func (s *State) ResetFrameData() {
	s.items = s.items[:0]
}

// ResetViewData clears the per-view draw scratch while keeping its capacity.
func (s *State) ResetViewData() {
	s.draws = s.draws[:0]
}

// Items returns the frame's collected items in collection order.
func (s *State) Items() []CollectedItem {
	return s.items
}

// Draws returns the current view's draw records.
func (s *State) Draws() []DrawRecord {
	return s.draws
}

// appendItem adds a collected item during the frame phase.
func (s *State) appendItem(item CollectedItem) {
	s.items = append(s.items, item)
}

// appendDraw adds a draw record during a view's cull phase.
func (s *State) appendDraw(d DrawRecord) {
	s.draws = append(s.draws, d)
}
