package nexsync

import (
	"runtime/debug"
	"sort"

	"github.com/google/uuid"
)

// workingSet is the SubmissionEngine's map W from spec §4.6: the cells a
// submission will (tentatively) write, insertion-ordered so that every
// later phase walks them in a reproducible order instead of Go's
// randomized map iteration order.
type workingSet struct {
	order  []*Cell
	values map[*Cell]any
}

func newWorkingSet() *workingSet {
	return &workingSet{values: make(map[*Cell]any)}
}

func (w *workingSet) get(c *Cell) (any, bool) {
	v, ok := w.values[c]
	return v, ok
}

func (w *workingSet) set(c *Cell, v any) {
	if _, ok := w.values[c]; !ok {
		w.order = append(w.order, c)
	}
	w.values[c] = v
}

func (w *workingSet) len() int { return len(w.order) }

// runSubmission implements the six-phase protocol of spec §4.6. It runs
// entirely under the caller's reentrancy-guard frame (Coordinator.Submit
// holds it for the whole call).
func runSubmission(c *Coordinator, proposal map[*Cell]any, mode SubmissionMode) (*CommitResult, *EngineError) {
	commitID := uuid.NewString()

	// Phase 1: equality filter. Forced skips it entirely. Normal and
	// CheckOnly both drop proposals equal to the cell's current value —
	// per spec §4.6's mode table, CheckOnly's phase 1 is "filter", same
	// as Normal, since a CheckOnly report is only meaningful as a
	// prediction of what a real Normal submission would do. The dropped
	// set is still recorded (not simply discarded) so a CheckOnly result
	// can tell a caller which of its proposed values were already
	// current, without that bookkeeping changing phase 2-4 behavior.
	W := newWorkingSet()
	var droppedEqual []CellID
	for cell, val := range proposal {
		if mode == ModeForced {
			W.set(cell, val)
			continue
		}
		if cell.equals(val) {
			droppedEqual = append(droppedEqual, cell.ID())
			continue
		}
		W.set(cell, val)
	}
	if W.len() == 0 {
		return &CommitResult{CommitID: commitID, FilteredEqualIDs: droppedEqual}, nil
	}

	// Phase 2: iterative fixed-point value completion.
	seenComposite := make(map[Composite]struct{})
	var discoveryOrder []Composite
	rounds := 0
	for {
		touched := touchedComposites(W, seenComposite, &discoveryOrder)
		if len(touched) == 0 {
			break
		}
		sortComposites(touched)
		changed := false
		for _, comp := range touched {
			patch, perr := comp.Complete(buildUpdateView(comp, W))
			if perr != nil {
				return nil, validationRejectedComposite(comp, "", "Complete failed: "+perr.Error())
			}
			primaries := comp.PrimaryIdentifiers()
			for ident, val := range patch {
				if !containsIdentifier(primaries, ident) {
					return nil, completionExtendsUnknownCell(comp, ident)
				}
				cell := comp.PrimaryCell(ident)
				if existing, ok := W.get(cell); ok {
					if !cell.registry.Equals(existing, val) {
						return nil, completionConflict(comp, ident)
					}
					continue
				}
				W.set(cell, val)
				changed = true
			}
		}
		if !changed {
			break
		}
		rounds++
		if rounds > c.roundCap {
			return nil, completionDivergent(c.roundCap)
		}
	}

	// Phase 3: identity-based affected-component collection. Composite
	// identity is the Go interface value's own identity (pointer
	// equality for the pointer-receiver composites this package expects),
	// so plain map keys suffice without invoking any user-defined
	// equality along the commit path.
	touched := touchedComposites(W, seenComposite, &discoveryOrder)
	sortComposites(touched)

	// Phase 4: validation. Order is fixed for determinism: isolated hook
	// validators first (by cell insertion order, then hook sequence),
	// then each touched composite's ValidatePrimary, then ValidateAll —
	// both in composite-id order. The first failure found, in that walk
	// order, is returned.
	for _, cell := range W.order {
		proposedValue, _ := W.get(cell)
		hooks := sortedMembers(cell)
		for _, h := range hooks {
			if ok, reason := h.runValidator(proposedValue); !ok {
				return nil, validationRejectedHook(h, reason)
			}
		}
	}

	secondaryPatch := make(map[Composite]map[string]any, len(touched))
	for _, comp := range touched {
		primariesView := currentPrimaries(comp, W)
		if ok, reason := comp.ValidatePrimary(primariesView); !ok {
			return nil, validationRejectedComposite(comp, "", reason)
		}
	}
	for _, comp := range touched {
		primariesView := currentPrimaries(comp, W)
		all := make(map[string]any, len(primariesView)+len(comp.SecondaryIdentifiers()))
		for k, v := range primariesView {
			all[k] = v
		}
		patch := make(map[string]any, len(comp.SecondaryIdentifiers()))
		for _, ident := range comp.SecondaryIdentifiers() {
			val := comp.ComputeSecondary(ident, primariesView)
			patch[ident] = val
			all[ident] = val
		}
		secondaryPatch[comp] = patch
		if ok, reason := comp.ValidateAll(all); !ok {
			return nil, validationRejectedComposite(comp, "", reason)
		}
	}

	if mode == ModeCheckOnly {
		committed := make([]CellID, 0, W.len())
		for _, cell := range W.order {
			committed = append(committed, cell.ID())
		}
		return &CommitResult{CommitID: commitID, CommittedIDs: committed, FilteredEqualIDs: droppedEqual}, nil
	}

	// Phase 5: atomic bulk commit. Nothing here can fail — every check
	// that could reject the submission already ran in phase 4 — so there
	// is no partial-commit case to guard against.
	committed := make([]CellID, 0, W.len())
	for _, cell := range W.order {
		val, _ := W.get(cell)
		cell.setInternal(val)
		committed = append(committed, cell.ID())
	}

	secondaryChanged := make(map[*Cell]struct{})
	for _, comp := range touched {
		for ident, newVal := range secondaryPatch[comp] {
			cell := comp.SecondaryCell(ident)
			old := cell.Get()
			if cell.registry.Equals(old, newVal) {
				continue
			}
			cell.setInternal(newVal)
			secondaryChanged[cell] = struct{}{}
			committed = append(committed, cell.ID())
		}
	}

	// Phase 6: ordered post-commit notification. Every cell in W is
	// notified. Under Normal, phase 1 removed the caller's proposals that
	// equal their cell's current value, but cells added by phase-2
	// completion are not equality-filtered and are notified even when the
	// completed value equals the old one. Under Forced every listed cell
	// is notified even when its value happens to be equal, because
	// Forced's whole purpose is to make that observable. Secondary cells
	// are notified only when they actually
	// changed, since they are engine-computed rather than part of the
	// caller's explicit request.
	notifyCells := make([]*Cell, 0, len(W.order)+len(secondaryChanged))
	notifyCells = append(notifyCells, W.order...)
	for cell := range secondaryChanged {
		notifyCells = append(notifyCells, cell)
	}

	// (i) composite AfterCommit, in composite-id order.
	for _, comp := range touched {
		runGuarded(func() { comp.AfterCommit() }, func(r any, stack []byte) {
			c.recordDiagnostic(DiagnosticRecord{
				Kind:      DiagnosticListenerPanic,
				CommitID:  commitID,
				Detail:    "composite AfterCommit panicked",
				Recovered: r,
				Stack:     stack,
			})
		})
	}

	// (ii) hook reaction callbacks, cell order then hook sequence.
	for _, cell := range notifyCells {
		for _, h := range sortedMembers(cell) {
			hh := h
			runGuarded(func() {
				if ran, ok, reason := hh.runReaction(); ran && !ok {
					c.recordDiagnostic(DiagnosticRecord{
						Kind:     DiagnosticReactionFailed,
						CommitID: commitID,
						Detail:   reason,
					})
				}
			}, func(r any, stack []byte) {
				c.recordDiagnostic(DiagnosticRecord{
					Kind:      DiagnosticListenerPanic,
					CommitID:  commitID,
					Detail:    "hook reaction callback panicked",
					Recovered: r,
					Stack:     stack,
				})
			})
		}
	}

	// (iii) publisher dispatch, deduplicated by identity.
	if c.publisherSource != nil {
		dispatched := make(map[Publisher]struct{})
		info := CommitInfo{CommitID: commitID, CellIDs: committed}
		for _, cell := range notifyCells {
			for _, pub := range c.publisherSource.PublicationsFor(cell) {
				if _, ok := dispatched[pub]; ok {
					continue
				}
				dispatched[pub] = struct{}{}
				p := pub
				runGuarded(func() { c.publisherSource.Publish(p, info) }, func(r any, stack []byte) {
					c.recordDiagnostic(DiagnosticRecord{
						Kind:      DiagnosticPublishFailed,
						CommitID:  commitID,
						Detail:    "publisher dispatch panicked",
						Recovered: r,
						Stack:     stack,
					})
				})
			}
		}
	}

	// (iv) hook listeners, cell order, hook sequence, insertion order.
	for _, cell := range notifyCells {
		for _, h := range sortedMembers(cell) {
			for _, listener := range h.snapshotListeners() {
				l := listener
				runGuarded(func() { l() }, func(r any, stack []byte) {
					c.recordDiagnostic(DiagnosticRecord{
						Kind:      DiagnosticListenerPanic,
						CommitID:  commitID,
						Detail:    "hook listener panicked",
						Recovered: r,
						Stack:     stack,
					})
				})
			}
		}
	}

	return &CommitResult{CommitID: commitID, CommittedIDs: committed, FilteredEqualIDs: droppedEqual}, nil
}

// runGuarded runs fn, recovering any panic and handing it to onPanic
// instead of letting it cross the phase-6 notification loop. Spec §4.6
// requires that one listener's failure never prevents the rest from
// running.
func runGuarded(fn func(), onPanic func(recovered any, stack []byte)) {
	defer func() {
		if r := recover(); r != nil {
			onPanic(r, debug.Stack())
		}
	}()
	fn()
}

// touchedComposites returns every composite owning at least one hook on
// a cell in W, newly discovering any not already in seen, appended to
// *order in first-discovery order so repeated calls across rounds stay
// stable for cells already seen.
func touchedComposites(W *workingSet, seen map[Composite]struct{}, order *[]Composite) []Composite {
	for _, cell := range W.order {
		for h := range cell.Members() {
			b := h.Binding()
			if b == nil {
				continue
			}
			if _, ok := seen[b.Composite]; ok {
				continue
			}
			seen[b.Composite] = struct{}{}
			*order = append(*order, b.Composite)
		}
	}
	out := make([]Composite, len(*order))
	copy(out, *order)
	return out
}

func sortComposites(cs []Composite) {
	sort.Slice(cs, func(i, j int) bool { return cs[i].CompositeID() < cs[j].CompositeID() })
}

func sortedMembers(cell *Cell) []*Hook {
	var hooks []*Hook
	for h := range cell.Members() {
		hooks = append(hooks, h)
	}
	sort.Slice(hooks, func(i, j int) bool { return hooks[i].hookSeq() < hooks[j].hookSeq() })
	return hooks
}

func containsIdentifier(ids []string, target string) bool {
	for _, id := range ids {
		if id == target {
			return true
		}
	}
	return false
}

// buildUpdateView builds the UpdateView phase 2 hands to comp.Complete:
// Submitted holds the subset of comp's primaries already in W, Current
// holds every other primary at its live cell value.
func buildUpdateView(comp Composite, W *workingSet) UpdateView {
	view := UpdateView{
		Submitted: make(map[string]any),
		Current:   make(map[string]any),
	}
	for _, ident := range comp.PrimaryIdentifiers() {
		cell := comp.PrimaryCell(ident)
		if val, ok := W.get(cell); ok {
			view.Submitted[ident] = val
		} else {
			view.Current[ident] = cell.Get()
		}
	}
	return view
}

// currentPrimaries is buildUpdateView's All(): the primaries as they
// would be after commit, rebuilt for each composite in each of phase 4's
// two validation passes.
func currentPrimaries(comp Composite, W *workingSet) map[string]any {
	return buildUpdateView(comp, W).All()
}
