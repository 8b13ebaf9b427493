package status

import "testing"

var all = []Status{
	InProgress, Aborting, Undoing, Redoing, AbortingUndo, AbortingRedo,
	Committed, RolledBack, Undone, Inconsistent,
}

func TestCharRoundTrip(t *testing.T) {
	seen := map[byte]bool{}
	for _, s := range all {
		c := s.Char()
		if seen[c] {
			t.Errorf("duplicate status char %q", string(c))
		}
		seen[c] = true

		back, err := FromChar(c)
		if err != nil {
			t.Fatalf("FromChar(%q) failed: %v", string(c), err)
		}
		if back != s {
			t.Errorf("FromChar(%q) = %v, want %v", string(c), back, s)
		}
	}
}

func TestFromChar_Unknown(t *testing.T) {
	if _, err := FromChar('z'); err == nil {
		t.Error("expected error for unknown status char")
	}
}

func TestTerminalAndTransient_Partition(t *testing.T) {
	for _, s := range all {
		terminal := s.Terminal()
		transient := s.Transient()
		if terminal && transient {
			t.Errorf("%v is both terminal and transient", s)
		}
		if s != InProgress && !terminal && !transient {
			t.Errorf("%v is neither terminal nor transient", s)
		}
	}
	if !Inconsistent.Terminal() {
		t.Error("Inconsistent must be terminal")
	}
	if InProgress.Terminal() || InProgress.Transient() {
		t.Error("InProgress must be neither terminal nor transient")
	}
}

func TestRollbackPlan(t *testing.T) {
	cases := []struct {
		cur       Status
		transient Status
		final     Status
	}{
		{InProgress, Aborting, RolledBack},
		{Aborting, Aborting, RolledBack},
		{Undoing, AbortingUndo, Committed},
		{AbortingUndo, AbortingUndo, Committed},
		{Redoing, AbortingRedo, Undone},
		{AbortingRedo, AbortingRedo, Undone},
	}
	for _, c := range cases {
		tr, fin, ok := RollbackPlan(c.cur)
		if !ok {
			t.Fatalf("RollbackPlan(%v) not ok", c.cur)
		}
		if tr != c.transient || fin != c.final {
			t.Errorf("RollbackPlan(%v) = (%v, %v), want (%v, %v)",
				c.cur, tr, fin, c.transient, c.final)
		}
	}

	for _, s := range []Status{Committed, RolledBack, Undone, Inconsistent} {
		if _, _, ok := RollbackPlan(s); ok {
			t.Errorf("RollbackPlan(%v) should not be ok", s)
		}
	}
}

func TestUndoRedoPlans(t *testing.T) {
	tr, fin, ok := UndoPlan(Committed)
	if !ok || tr != Undoing || fin != Undone {
		t.Errorf("UndoPlan(Committed) = (%v, %v, %v)", tr, fin, ok)
	}
	if _, _, ok := UndoPlan(InProgress); ok {
		t.Error("UndoPlan(InProgress) should not be ok")
	}

	tr, fin, ok = RedoPlan(Undone)
	if !ok || tr != Redoing || fin != Committed {
		t.Errorf("RedoPlan(Undone) = (%v, %v, %v)", tr, fin, ok)
	}
	if _, _, ok := RedoPlan(Committed); ok {
		t.Error("RedoPlan(Committed) should not be ok")
	}
}
