package gesture_test

import (
	"testing"

	"pgregory.net/rapid"

	"github.com/fakeyudi/pocketcode/internal/gesture"
)

func TestSwipeCommits(t *testing.T) {
	var s gesture.Swipe
	if st := s.Move(-5, 0); st != gesture.Idle {
		t.Fatalf("small move activated: %s", st)
	}
	if st := s.Move(-20, 3); st != gesture.Dragging {
		t.Fatalf("horizontal move did not activate: %s", st)
	}
	if s.Offset() != -20 {
		t.Errorf("Offset = %d, want -20", s.Offset())
	}
	if st := s.Release(-120); st != gesture.Committed {
		t.Errorf("Release(-120) = %s, want committed", st)
	}
	s.Settle()
	if s.State() != gesture.Idle {
		t.Errorf("Settle left state %s", s.State())
	}
}

func TestSwipeResetsShortRelease(t *testing.T) {
	var s gesture.Swipe
	s.Move(-50, 0)
	if st := s.Release(-100); st != gesture.Reset {
		t.Errorf("Release(-100) = %s, want reset", st)
	}
	if s.Offset() != 0 {
		t.Errorf("Offset after reset = %d", s.Offset())
	}
}

func TestSwipeIgnoresVertical(t *testing.T) {
	var s gesture.Swipe
	if st := s.Move(-30, 40); st != gesture.Idle {
		t.Errorf("mostly vertical move activated: %s", st)
	}
	if st := s.Release(-150); st != gesture.Idle {
		t.Errorf("release without drag = %s, want idle", st)
	}
}

func TestSwipeTracksOnlyLeftward(t *testing.T) {
	var s gesture.Swipe
	s.Move(-20, 0)
	s.Move(40, 0)
	if s.Offset() != 0 {
		t.Errorf("rightward drag offset = %d, want 0", s.Offset())
	}
	if st := s.Release(40); st != gesture.Reset {
		t.Errorf("rightward release = %s, want reset", st)
	}
}

func TestSwipeCancel(t *testing.T) {
	var s gesture.Swipe
	s.Move(-60, 0)
	if st := s.Cancel(); st != gesture.Reset {
		t.Errorf("Cancel while dragging = %s, want reset", st)
	}
	if st := s.Cancel(); st != gesture.Idle {
		t.Errorf("Cancel while reset = %s, want idle", st)
	}
}

func TestSwipeCustomThresholds(t *testing.T) {
	s := gesture.Swipe{Activation: 2, Commit: 6}
	s.Move(-3, 0)
	if st := s.Release(-7); st != gesture.Committed {
		t.Errorf("custom commit = %s", st)
	}
}

// Feature: pocketcode, Property 10: Swipes commit only on a long leftward drag
func TestSwipeProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		var s gesture.Swipe
		moves := rapid.SliceOfN(rapid.IntRange(-200, 200), 1, 10).Draw(t, "dx")
		dys := rapid.SliceOfN(rapid.IntRange(-50, 50), len(moves), len(moves)).Draw(t, "dy")

		activated := false
		for i, dx := range moves {
			if s.Move(dx, dys[i]) == gesture.Dragging {
				activated = true
			}
			if s.Offset() > 0 {
				t.Fatalf("positive offset %d", s.Offset())
			}
		}
		final := rapid.IntRange(-200, 200).Draw(t, "release")
		st := s.Release(final)

		switch {
		case !activated:
			if st != gesture.Idle {
				t.Fatalf("never dragged but ended %s", st)
			}
		case final < -gesture.CommitDistance:
			if st != gesture.Committed {
				t.Fatalf("release at %d ended %s, want committed", final, st)
			}
		default:
			if st != gesture.Reset {
				t.Fatalf("release at %d ended %s, want reset", final, st)
			}
		}
	})
}
