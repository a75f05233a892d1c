package nexsync

import "testing"

func TestJoinMakesHooksShareACell(t *testing.T) {
	c := NewCoordinator()
	a := NewHook(c, 1)
	b := NewHook(c, 1)

	if a.IsJoinedWith(b) {
		t.Fatal("fresh hooks report as already joined")
	}

	if err := a.Join(b); err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	if !a.IsJoinedWith(b) {
		t.Error("hooks not joined after Join")
	}
}

func TestJoinAdoptsCallerValueRegardlessOfDomainSize(t *testing.T) {
	c := NewCoordinator()
	a := NewHook(c, 1)
	b := NewHook(c, 2)
	// Give b's domain more members than a's. Per spec §4.5 step 3, join
	// always adopts a's value onto b's cell — domain size only decides
	// which Cell object survives for identity purposes, never which
	// value wins.
	b2 := NewHook(c, 2)
	if err := b.Join(b2); err != nil {
		t.Fatalf("setup join failed: %v", err)
	}

	if err := a.Join(b); err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	if a.Value() != 1 {
		t.Errorf("a.Value() = %v after join, want unchanged 1 (a's value must win regardless of domain size)", a.Value())
	}
	if b.Value() != 1 || b2.Value() != 1 {
		t.Errorf("joined domain values diverged from a's: b=%v b2=%v, want 1", b.Value(), b2.Value())
	}
}

func TestJoinPropagatesToAllMembers(t *testing.T) {
	c := NewCoordinator()
	a := NewHook(c, 1)
	b := NewHook(c, 1)
	if err := a.Join(b); err != nil {
		t.Fatalf("Join failed: %v", err)
	}

	fired := 0
	a.AddListener(func() { fired++ })
	b.AddListener(func() { fired++ })

	if _, err := a.Submit(9); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if a.Value() != 9 || b.Value() != 9 {
		t.Errorf("joined hooks diverged: a=%v b=%v", a.Value(), b.Value())
	}
	if fired != 2 {
		t.Errorf("listener fire count = %d, want 2 (both joined hooks' listeners)", fired)
	}
}

func TestJoinRejectedLeavesDomainsUnchanged(t *testing.T) {
	c := NewCoordinator()
	// Join always proposes a's value onto b's cell (spec §4.5 step 3).
	// b's validator blocks every change, so that submission — and
	// therefore the whole Join — must fail.
	a := NewHook(c, 5)
	b := NewHook(c, 10, WithValidator(func(v any) (bool, string) {
		return false, "b accepts no changes"
	}))

	err := a.Join(b)
	if err == nil {
		t.Fatal("Join adopting a value b's validator rejects succeeded, want KindFusionRejected")
	}
	if err.Kind != KindFusionRejected {
		t.Errorf("err.Kind = %v, want KindFusionRejected", err.Kind)
	}
	if a.IsJoinedWith(b) {
		t.Error("hooks report joined after a rejected Join")
	}
	if a.Value() != 5 || b.Value() != 10 {
		t.Errorf("values changed after a rejected Join: a=%v b=%v", a.Value(), b.Value())
	}
}

func TestIsolateSplitsHookIntoOwnDomain(t *testing.T) {
	c := NewCoordinator()
	a := NewHook(c, 1)
	b := NewHook(c, 1)
	if err := a.Join(b); err != nil {
		t.Fatalf("Join failed: %v", err)
	}

	if err := a.Isolate(); err != nil {
		t.Fatalf("Isolate failed: %v", err)
	}
	if a.IsJoinedWith(b) {
		t.Error("hooks still joined after Isolate")
	}

	if _, err := a.Submit(99); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if b.Value() != 1 {
		t.Errorf("b.Value() = %v after isolating and writing a, want unchanged 1", b.Value())
	}
}

func TestJoinAlreadySharedCellIsNoOp(t *testing.T) {
	c := NewCoordinator()
	a := NewHook(c, 1)
	if err := a.Join(a); err != nil {
		t.Fatalf("Join(self) failed: %v", err)
	}
}
