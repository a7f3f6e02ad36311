package envelope

import "testing"

func TestAttackIsMonotonicNonDecreasing(t *testing.T) {
	var s State
	s.Trigger(100, 50, 200, 10, 700)

	var prev int32 = -1
	for i := 0; i < 100; i++ {
		out, freed := s.Advance()
		if freed {
			t.Fatalf("voice freed during attack at sample %d", i)
		}
		if out < prev {
			t.Fatalf("attack decreased at sample %d: %d < %d", i, out, prev)
		}
		prev = out
	}
}

func TestDecayReachesSustain(t *testing.T) {
	var s State
	s.Trigger(10, 20, 200, 10, 512)
	for i := 0; i < 10; i++ {
		s.Advance()
	}
	// now decaying
	var last int32
	for i := 0; i < 25; i++ {
		last, _ = s.Advance()
	}
	if last != 512 {
		t.Fatalf("expected sustain level 512 after decay, got %d", last)
	}
}

func TestReleaseIsMonotonicNonIncreasing(t *testing.T) {
	var s State
	s.Trigger(10, 20, 100, 10, 512)
	for i := 0; i < 40; i++ {
		s.Advance()
	}
	s.Release(s.Output())

	var prev int32 = 1 << 30
	freedAt := -1
	for i := 0; i < 200; i++ {
		out, freed := s.Advance()
		if out > prev {
			t.Fatalf("release increased at sample %d: %d > %d", i, out, prev)
		}
		prev = out
		if freed {
			freedAt = i
			break
		}
	}
	if freedAt == -1 {
		t.Fatal("release never freed the voice")
	}
}

func TestForceReleaseSeamlessAtSteal(t *testing.T) {
	var s State
	s.Trigger(10, 20, 200, 96, 700)
	for i := 0; i < 5; i++ {
		s.Advance()
	}
	mid := s.Output()
	s.ForceRelease(mid)

	// The very first force-release sample must equal the gain at the
	// moment of steal (spec §8 property 7: no jump).
	first, _ := s.Advance()
	if first != mid {
		t.Fatalf("force-release start = %d, want %d (no jump)", first, mid)
	}
}

func TestForceReleaseFreesAfterDuration(t *testing.T) {
	var s State
	s.Trigger(1, 1, 1, 5, 700)
	s.ForceRelease(700)

	freedAt := -1
	for i := 0; i < 10; i++ {
		_, freed := s.Advance()
		if freed {
			freedAt = i
			break
		}
	}
	if freedAt != 5 {
		t.Fatalf("force release of duration 5 freed at sample %d, want 5", freedAt)
	}
}

func TestSustainHoldsIndefinitely(t *testing.T) {
	var s State
	s.Trigger(1, 1, 100, 10, 333)
	for i := 0; i < 5; i++ {
		s.Advance()
	}
	for i := 0; i < 1000; i++ {
		out, freed := s.Advance()
		if freed {
			t.Fatalf("sustain should never free the voice (sample %d)", i)
		}
		if out != 333 {
			t.Fatalf("sustain drifted at sample %d: %d != 333", i, out)
		}
	}
}
