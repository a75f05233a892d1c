package nexsync

import (
	"bytes"
	"runtime"
	"strconv"
	"sync"
)

// goroutineID extracts the numeric id Go's runtime assigns the calling
// goroutine by parsing the header line of its own stack trace. Go gives
// no public API for this — there is no goroutine-local storage in the
// language — so this is the conventional, if informal, way Go programs
// emulate "thread-local" state (the technique is old enough to predate
// most of the libraries in this module's dependency pack; nothing in
// the retrieved examples needed it because none of them implement a
// reentrant lock). It is used here for exactly one purpose: telling
// apart "the same goroutine re-entering the coordinator during phase 6"
// from "a different goroutine trying to commit concurrently".
func goroutineID() uint64 {
	buf := make([]byte, 64)
	n := runtime.Stack(buf, false)
	buf = buf[:n]

	const prefix = "goroutine "
	buf = bytes.TrimPrefix(buf, []byte(prefix))
	if i := bytes.IndexByte(buf, ' '); i >= 0 {
		buf = buf[:i]
	}
	id, err := strconv.ParseUint(string(buf), 10, 64)
	if err != nil {
		// Should be unreachable: runtime.Stack's header format is
		// stable across Go releases. Fail closed rather than silently
		// misattributing ownership.
		panic("nexsync: could not parse goroutine id: " + err.Error())
	}
	return id
}

// reentrancyGuard is the Coordinator's single reentrant lock: it
// serializes the entire submission pipeline across goroutines while
// allowing the SAME goroutine to re-enter for a disjoint cell set (used
// by phase-6 listeners that submit to an unrelated cell during their own
// commit's notification pass). A nested call whose cell set intersects
// any frame already active for this goroutine fails fast with
// KindReentrant instead of deadlocking or corrupting state.
type reentrancyGuard struct {
	mu    sync.Mutex
	cond  *sync.Cond
	owner uint64 // 0 means unheld
	// frames is a stack of the cell sets active for the current owner,
	// innermost last. The union of all frames is "the active set".
	frames []map[*Cell]struct{}
}

func newReentrancyGuard() *reentrancyGuard {
	g := &reentrancyGuard{}
	g.cond = sync.NewCond(&g.mu)
	return g
}

// enter blocks until it can either become the lock's sole owner or, if
// already owned by the calling goroutine, push a new disjoint frame.
// It returns a release function to call in a deferred, guaranteed-unwind
// region, and a *EngineError of KindReentrant if the cell set intersects
// an already-active frame for this goroutine (in which case no frame is
// pushed and release is nil).
func (g *reentrancyGuard) enter(cells map[*Cell]struct{}) (release func(), err *EngineError) {
	gid := goroutineID()

	g.mu.Lock()
	defer g.mu.Unlock()

	for {
		switch g.owner {
		case 0:
			g.owner = gid
			g.frames = append(g.frames, cells)
			return g.releaseFunc(), nil
		case gid:
			if g.intersectsLocked(cells) {
				return nil, reentrant()
			}
			g.frames = append(g.frames, cells)
			return g.releaseFunc(), nil
		default:
			g.cond.Wait()
		}
	}
}

func (g *reentrancyGuard) releaseFunc() func() {
	return func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		if len(g.frames) > 0 {
			g.frames = g.frames[:len(g.frames)-1]
		}
		if len(g.frames) == 0 {
			g.owner = 0
			g.cond.Broadcast()
		}
	}
}

func (g *reentrancyGuard) intersectsLocked(cells map[*Cell]struct{}) bool {
	for _, frame := range g.frames {
		for c := range cells {
			if _, ok := frame[c]; ok {
				return true
			}
		}
	}
	return false
}
