package nexsync

// FusionOps implements the dynamic disjoint-set operations over fusion
// domains described in spec §4.5: Join merges two hooks' domains into
// one shared Cell, and Isolate splits a hook back out into its own
// singleton domain. Both acquire the coordinator's lock for their full
// duration — the same lock Coordinator.Submit holds for an ordinary
// write — so the structural mutation of cell membership is never
// interleaved with a concurrent Submit, Join, or Isolate (spec §4.5
// steps 1-6, §5 "hook membership in cells is mutated only in fusion
// ops, also under the lock"). Both call runSubmission directly rather
// than going through Coordinator.Submit for their internal value-
// adoption submission, since the lock is already held for the cells
// involved and a second Coordinator.Submit call would see that set as
// already active and fail with KindReentrant.
//
// There is no separate union-find forest kept alongside the Cells: a
// Cell's identity already IS its domain (every hook sharing a Cell is,
// by construction, in the same domain), so "find" is just Hook.cellRef
// and "union" is redirecting member hooks onto one surviving Cell. The
// choice of which of the two Cell objects survives the merge is purely
// an identity/diagnostics concern (spec §9's fusion note): Join keeps
// whichever cell has more existing members (ties break toward a's
// cell) rather than always allocating a third cell, so a long-lived
// domain's Cell identity and CreationTime survive repeated joins
// against smaller, newer ones. This is independent of which hook's
// *value* wins the merge — spec §4.5 step 3 is explicit that c_a's
// value is always adopted onto c_b, regardless of domain size.
type FusionOps struct {
	coordinator *Coordinator
}

// Join merges a's and b's fusion domains. If they are already joined,
// Join is a no-op. Otherwise, under one continuous lock acquisition
// covering both of their cells:
//
//  1. a's current value is read;
//  2. if it already agrees with b's cell's value (per the coordinator's
//     EqualityRegistry), no value needs to change — members are simply
//     redirected, and no listener fires (join is equality-silent, like
//     every other no-op write);
//  3. otherwise a's value is proposed, via a Normal submission, onto
//     b's cell — so every owner of b's cell's members gets a chance to
//     validate the incoming value, exactly as spec §4.5 step 3
//     requires, independent of which domain has more members;
//  4. once that submission (if any) succeeds, the two cells now agree,
//     and every member hook of whichever cell is not being kept as the
//     surviving identity is redirected onto the survivor; the losing
//     cell is abandoned.
//
// A rejected submission leaves both domains exactly as they were: Join
// never partially merges.
func (f *FusionOps) Join(a, b *Hook) *EngineError {
	var release func()
	var ca, cb *Cell
	for {
		ca, cb = a.cellRef(), b.cellRef()
		if ca == cb {
			return nil
		}

		r, err := f.coordinator.lockCells(map[*Cell]struct{}{ca: {}, cb: {}})
		if err != nil {
			return err
		}
		// a or b may have been redirected to a different cell by a
		// concurrent Join/Isolate between the reads above and
		// acquiring the lock; if so this lock covers the wrong pair
		// and must be released and retried against the current one.
		if a.cellRef() == ca && b.cellRef() == cb {
			release = r
			break
		}
		r()
	}
	defer release()

	aValue := ca.Get()
	if !ca.registry.Equals(aValue, cb.Get()) {
		proposal := map[*Cell]any{cb: aValue}
		if _, err := runSubmission(f.coordinator, proposal, ModeNormal); err != nil {
			return fusionRejected(err)
		}
	}

	survivor, loser := ca, cb
	if loser.MemberCount() > survivor.MemberCount() {
		survivor, loser = loser, survivor
	}
	f.migrate(loser, survivor)
	return nil
}

// Isolate removes h from its current domain into a brand-new singleton
// Cell holding h's present value, under one continuous lock acquisition
// covering h's current cell. Every other member of h's old domain is
// unaffected. Isolating a hook that is already alone in its domain is a
// no-op; no value changes, so no listener fires.
func (f *FusionOps) Isolate(h *Hook) *EngineError {
	var release func()
	var old *Cell
	for {
		old = h.cellRef()
		r, err := f.coordinator.lockCells(map[*Cell]struct{}{old: {}})
		if err != nil {
			return err
		}
		// h may have been redirected by a concurrent Join/Isolate
		// between the read above and acquiring the lock.
		if h.cellRef() == old {
			release = r
			break
		}
		r()
	}
	defer release()

	if old.MemberCount() <= 1 {
		return nil
	}

	fresh := newCell(f.coordinator.equality, old.Get())
	f.coordinator.trackCell(fresh)

	old.removeHook(h)
	h.setCellRef(fresh)
	fresh.addHook(h)
	return nil
}

// IsJoinedWith reports whether a and b currently share a cell.
func (f *FusionOps) IsJoinedWith(a, b *Hook) bool {
	return a.cellRef() == b.cellRef()
}

// migrate redirects every live member of loser onto survivor and drops
// loser's membership set. loser itself is left to be garbage collected
// once its last weak reference goes stale. Called only while the
// coordinator lock is held for both cells.
func (f *FusionOps) migrate(loser, survivor *Cell) {
	for h := range loser.Members() {
		h.setCellRef(survivor)
		survivor.addHook(h)
		loser.removeHook(h)
	}
}
