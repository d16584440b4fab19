package hotkey

// Event is a chord transition produced by the tracker.
type Event int

const (
	// EventNone means the key change did not affect the chord.
	EventNone Event = iota

	// EventChordSatisfied fires on the press edge that completes the chord.
	EventChordSatisfied

	// EventChordBroken fires when a chord member is released while the
	// chord was satisfied.
	EventChordBroken
)

// Tracker maintains the set of currently pressed keys and detects chord
// edges. It is not safe for concurrent use; the key listener serialises
// press/release callbacks onto one goroutine.
type Tracker struct {
	chord     Chord
	pressed   map[Key]struct{}
	satisfied bool
}

// NewTracker returns a tracker for the given chord.
func NewTracker(chord Chord) *Tracker {
	return &Tracker{
		chord:   chord,
		pressed: make(map[Key]struct{}),
	}
}

// Press records a key-down and reports whether it completed the chord.
// Edge-triggered: holding the chord and pressing further keys, or key
// auto-repeat, does not refire.
func (t *Tracker) Press(k Key) Event {
	t.pressed[k] = struct{}{}
	if !t.satisfied && t.chord.SubsetOf(t.pressed) {
		t.satisfied = true
		return EventChordSatisfied
	}
	return EventNone
}

// Release records a key-up and reports whether it broke a satisfied chord.
// Releasing a key that is not a chord member never breaks the chord.
func (t *Tracker) Release(k Key) Event {
	delete(t.pressed, k)
	if t.satisfied && t.chord.Contains(k) {
		t.satisfied = false
		return EventChordBroken
	}
	if t.satisfied && !t.chord.SubsetOf(t.pressed) {
		t.satisfied = false
	}
	return EventNone
}

// Chord returns the chord being tracked.
func (t *Tracker) Chord() Chord { return t.chord }
