package nexsync

import "testing"

func TestSubmitEmptyMapIsNoOp(t *testing.T) {
	c := NewCoordinator()
	res, err := c.Submit(nil, ModeNormal)
	if err != nil {
		t.Fatalf("Submit(nil) err = %v, want nil", err)
	}
	if res.CommitID == "" {
		t.Error("CommitID is empty on trivial success")
	}
}

func TestSubmitForcedFiresListenerOnEqualValue(t *testing.T) {
	c := NewCoordinator()
	h := NewHook(c, 1.0)
	fired := 0
	h.AddListener(func() { fired++ })

	_, err := c.Submit(map[*Cell]any{h.cellRef(): 1.0}, ModeForced)
	if err != nil {
		t.Fatalf("Forced submit failed: %v", err)
	}
	if fired != 1 {
		t.Errorf("listener fired %d times under Forced with an equal value, want exactly 1", fired)
	}
}

func TestSubmitCheckOnlyNeverCommits(t *testing.T) {
	c := NewCoordinator()
	h := NewHook(c, 1)
	fired := false
	h.AddListener(func() { fired = true })

	_, err := c.Submit(map[*Cell]any{h.cellRef(): 2}, ModeCheckOnly)
	if err != nil {
		t.Fatalf("CheckOnly submit failed: %v", err)
	}
	if h.Value() != 1 {
		t.Errorf("Value() = %v after CheckOnly, want unchanged 1", h.Value())
	}
	if fired {
		t.Error("listener fired during CheckOnly, want no side effects")
	}
}

func TestSubmitCheckOnlyReportsValidationFailure(t *testing.T) {
	c := NewCoordinator()
	sel := NewSelectionComposite(c, []any{"a", "b"}, 0)

	_, err := c.Submit(map[*Cell]any{sel.IndexHook().cellRef(): 99}, ModeCheckOnly)
	if err == nil {
		t.Fatal("CheckOnly submit of an out-of-range index succeeded, want ValidationRejected")
	}
	if err.Kind != KindValidationRejected {
		t.Errorf("err.Kind = %v, want KindValidationRejected", err.Kind)
	}
}

func TestReentrantSameGoroutineDisjointCellsSucceeds(t *testing.T) {
	c := NewCoordinator()
	ha := NewHook(c, 1)
	hb := NewHook(c, 10)

	reached := false
	ha.AddListener(func() {
		ok, err := hb.Submit(20)
		if !ok || err != nil {
			t.Errorf("nested disjoint submit failed: ok=%v err=%v", ok, err)
		}
		reached = true
	})

	if _, err := ha.Submit(2); err != nil {
		t.Fatalf("outer submit failed: %v", err)
	}
	if !reached {
		t.Fatal("nested listener never ran")
	}
	if hb.Value() != 20 {
		t.Errorf("hb.Value() = %v, want 20", hb.Value())
	}
}

func TestReentrantSameGoroutineOverlappingCellFails(t *testing.T) {
	c := NewCoordinator()
	h := NewHook(c, 1)

	var nestedErr *EngineError
	h.AddListener(func() {
		_, nestedErr = h.Submit(3)
	})

	if _, err := h.Submit(2); err != nil {
		t.Fatalf("outer submit failed: %v", err)
	}
	if nestedErr == nil {
		t.Fatal("nested submit onto the same cell during its own notification succeeded, want KindReentrant")
	}
	if nestedErr.Kind != KindReentrant {
		t.Errorf("nestedErr.Kind = %v, want KindReentrant", nestedErr.Kind)
	}
}
