// Package gesture implements swipe-to-delete as a state machine over input
// deltas, independent of how the row is drawn.
package gesture

// State is the phase of a swipe.
type State int

const (
	Idle State = iota
	Dragging
	Committed
	Reset
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Dragging:
		return "dragging"
	case Committed:
		return "committed"
	case Reset:
		return "reset"
	}
	return "unknown"
}

const (
	// ActivationDistance is how far a horizontal move must go before the
	// swipe takes over from vertical scrolling.
	ActivationDistance = 10
	// CommitDistance is how far left a release must be to delete.
	CommitDistance = 100
)

// Swipe tracks one row's gesture. The zero value is idle with the default
// thresholds.
type Swipe struct {
	state  State
	offset int

	// Activation and Commit override the default thresholds when positive.
	Activation int
	Commit     int
}

func (s *Swipe) activation() int {
	if s.Activation > 0 {
		return s.Activation
	}
	return ActivationDistance
}

func (s *Swipe) commit() int {
	if s.Commit > 0 {
		return s.Commit
	}
	return CommitDistance
}

// State returns the current phase.
func (s *Swipe) State() State { return s.state }

// Offset is the leftward displacement to draw, zero or negative.
func (s *Swipe) Offset() int { return s.offset }

// Move feeds the cumulative displacement since the press. A move only
// starts dragging when it is mostly horizontal and longer than the
// activation distance; once dragging, only leftward displacement is kept.
func (s *Swipe) Move(dx, dy int) State {
	switch s.state {
	case Idle, Reset, Committed:
		if s.state != Idle {
			s.state, s.offset = Idle, 0
		}
		if abs(dx) > s.activation() && abs(dx) > abs(dy) {
			s.state = Dragging
			s.offset = min(dx, 0)
		}
	case Dragging:
		s.offset = min(dx, 0)
	}
	return s.state
}

// Release ends the gesture with the final displacement. A drag released
// beyond the commit distance to the left commits; anything else resets.
func (s *Swipe) Release(dx int) State {
	if s.state != Dragging {
		s.state, s.offset = Idle, 0
		return s.state
	}
	if dx < -s.commit() {
		s.state = Committed
	} else {
		s.state = Reset
	}
	s.offset = 0
	return s.state
}

// Cancel abandons a drag, for example when focus leaves the row.
func (s *Swipe) Cancel() State {
	if s.state == Dragging {
		s.state = Reset
	} else {
		s.state = Idle
	}
	s.offset = 0
	return s.state
}

// Settle returns a finished gesture to idle once the caller has acted on it.
func (s *Swipe) Settle() {
	s.state, s.offset = Idle, 0
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
