package segment

import "sync/atomic"

// Gate is the activation cell deciding whether captured frames are folded
// into segmentation. It is written by the hotkey controller or the command
// channel and read once per frame by the segmentation loop, so access is
// atomic. The gate is passed by reference to both sides; it is never
// package-level state.
type Gate struct {
	active atomic.Bool
}

// NewGate returns a gate in the given initial state.
func NewGate(active bool) *Gate {
	g := &Gate{}
	g.active.Store(active)
	return g
}

// Active reports the current activation state.
func (g *Gate) Active() bool { return g.active.Load() }

// Set stores the activation state.
func (g *Gate) Set(active bool) { g.active.Store(active) }

// Toggle flips the activation state and returns the new value.
func (g *Gate) Toggle() bool {
	for {
		old := g.active.Load()
		if g.active.CompareAndSwap(old, !old) {
			return !old
		}
	}
}
