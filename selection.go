package nexsync

// SelectionComposite is a worked multi-hook example: a fixed list of
// items with one writable primary ("index") and one derived, read-only
// secondary ("value") kept in lockstep with it. The S3/S4 scenario tests
// use a separate dict/key/value composite (scenarios_test.go), not this
// type. It is a reference implementation of the Composite
// contract, not part of the core protocol — applications define their own
// composites the same way, by embedding *CompositeBase.
type SelectionComposite struct {
	*CompositeBase
	items []any
}

// NewSelectionComposite creates a composite over a fixed item list,
// selecting initialIndex (-1 for "no selection"). The item list itself is
// not reactive; swapping it out requires a new composite.
func NewSelectionComposite(coordinator *Coordinator, items []any, initialIndex int) *SelectionComposite {
	s := &SelectionComposite{
		CompositeBase: NewCompositeBase(coordinator),
		items:         items,
	}
	s.RegisterPrimary(s, "index", initialIndex)
	s.RegisterSecondary(s, "value", s.valueAt(initialIndex))
	return s
}

func (s *SelectionComposite) valueAt(index int) any {
	if index < 0 || index >= len(s.items) {
		return nil
	}
	return s.items[index]
}

// IndexHook returns the owned writable hook for "index".
func (s *SelectionComposite) IndexHook() *Hook { return s.PrimaryHook("index") }

// ValueHook returns the owned read-only hook for "value".
func (s *SelectionComposite) ValueHook() *Hook { return s.SecondaryHook("value") }

// Complete never extends a selection submission: "index" has no
// dependent primaries within this composite.
func (s *SelectionComposite) Complete(UpdateView) (map[string]any, error) {
	return nil, nil
}

// ComputeSecondary derives "value" from the submitted or current index.
func (s *SelectionComposite) ComputeSecondary(identifier string, primaries map[string]any) any {
	if identifier != "value" {
		return nil
	}
	index, _ := primaries["index"].(int)
	return s.valueAt(index)
}

// ValidatePrimary rejects an index outside [-1, len(items)).
func (s *SelectionComposite) ValidatePrimary(primaries map[string]any) (bool, string) {
	index, ok := primaries["index"].(int)
	if !ok {
		return false, "index must be an int"
	}
	if index < -1 || index >= len(s.items) {
		return false, "index out of range"
	}
	return true, ""
}

// ValidateAll has no cross-primary/secondary invariant beyond what
// ValidatePrimary already checked.
func (s *SelectionComposite) ValidateAll(map[string]any) (bool, string) {
	return true, ""
}

// AfterCommit is a no-op; selection has no external effects to schedule.
func (s *SelectionComposite) AfterCommit() {}
