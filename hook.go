package nexsync

import (
	"reflect"
	"sync"
	"sync/atomic"
)

// Validator is the pure, deterministic, side-effect-free predicate a
// Hook may carry. It returns ok and, when ok is false, a human-readable
// reason surfaced in the resulting *EngineError.
type Validator func(newValue any) (bool, string)

// ReactionCallback is a hook-local post-commit action (spec §4.6 phase 6
// step ii). Its (ok, reason) return is advisory only: a false ok is
// recorded as a diagnostic, never rolled back and never surfaced as a
// submission failure, since phase 5 has already committed by the time
// reactions run.
type ReactionCallback func() (ok bool, reason string)

// hookCapability tags what a Hook may be used for. Floating/owned-
// read-only/owned-writable are capabilities, not a type hierarchy — spec
// §9 explicitly asks for a tagged record over deep inheritance.
type hookCapability int

const (
	capabilityFloating hookCapability = iota
	capabilityOwnedReadOnly
	capabilityOwnedWritable
)

// CompositeBinding records that a Hook is owned by a Composite under a
// given local identifier, per spec §3's "composite binding".
type CompositeBinding struct {
	Composite  Composite
	Identifier string
}

// listenerEntry pairs a registered callback with the pointer used to
// detect duplicate registrations. Go function values are not directly
// comparable; reflect.Value.Pointer(), the underlying code pointer, is
// the conventional best-effort stand-in. Function values that share code
// share that pointer: closures created from the same function literal,
// or method values of the same method on different receivers, count as
// the same listener. Closures from different literals never collide.
type listenerEntry struct {
	fn  func()
	ptr uintptr
}

var nextHookSeq atomic.Uint64

// Hook is a connection point with a typed slot: a reference to exactly
// one Cell at any moment, an ordered set of listeners, and the optional
// per-hook contracts spec §4.3 describes.
type Hook struct {
	coordinator *Coordinator
	seq         uint64

	mu         sync.RWMutex
	cell       *Cell
	listeners  []listenerEntry
	validator  Validator
	reaction   ReactionCallback
	binding    *CompositeBinding
	capability hookCapability
}

// hookSeq returns the hook's creation-order sequence number, used only to
// make the SubmissionEngine's iteration over a cell's member hooks
// deterministic (phase 4 isolated-validator order, phase 6 reaction and
// listener order) when more than one hook shares a cell.
func (h *Hook) hookSeq() uint64 { return h.seq }

// NewHook creates a floating Hook holding initialValue, registered with
// coordinator. opts configure the optional validator and reaction
// callback.
func NewHook(coordinator *Coordinator, initialValue any, opts ...HookOption) *Hook {
	h := &Hook{
		coordinator: coordinator,
		seq:         nextHookSeq.Add(1),
		cell:        newCell(coordinator.equality, initialValue),
		capability:  capabilityFloating,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.cell.addHook(h)
	coordinator.trackCell(h.cell)
	return h
}

// HookOption configures a Hook at construction.
type HookOption func(*Hook)

// WithValidator attaches an isolated validator to a Hook.
func WithValidator(v Validator) HookOption {
	return func(h *Hook) { h.validator = v }
}

// WithReactionCallback attaches a post-commit reaction callback to a Hook.
func WithReactionCallback(cb ReactionCallback) HookOption {
	return func(h *Hook) { h.reaction = cb }
}

// newOwnedHook creates a Hook bound to an existing cell under a
// composite's identifier. Used by composite registration (composite.go),
// never by user code directly.
func newOwnedHook(coordinator *Coordinator, cell *Cell, binding CompositeBinding, writable bool) *Hook {
	cap := capabilityOwnedReadOnly
	if writable {
		cap = capabilityOwnedWritable
	}
	h := &Hook{
		coordinator: coordinator,
		seq:         nextHookSeq.Add(1),
		cell:        cell,
		binding:     &binding,
		capability:  cap,
	}
	cell.addHook(h)
	coordinator.trackCell(cell)
	return h
}

// cellRef returns the hook's current cell reference.
func (h *Hook) cellRef() *Cell {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.cell
}

// setCellRef redirects the hook to a new cell. Engine-only: called by
// FusionOps during Join/Isolate while the coordinator lock is held.
func (h *Hook) setCellRef(c *Cell) {
	h.mu.Lock()
	h.cell = c
	h.mu.Unlock()
}

// Value returns the hook's cell's current value.
func (h *Hook) Value() any {
	return h.cellRef().Get()
}

// IsReadOnly reports whether this hook has no user-facing write path.
func (h *Hook) IsReadOnly() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.capability == capabilityOwnedReadOnly
}

// Binding returns the hook's composite binding, or nil if it is floating.
func (h *Hook) Binding() *CompositeBinding {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.binding
}

// Submit proposes newValue for this hook's cell via a Normal-mode
// submission. It fails with KindValidationRejected if the hook is
// read-only or any validator rejects the value, and with KindReentrant
// if the calling goroutine is already committing this cell.
func (h *Hook) Submit(newValue any) (bool, *EngineError) {
	if h.IsReadOnly() {
		return false, validationRejectedHook(h, "hook is read-only")
	}
	_, err := h.coordinator.Submit(map[*Cell]any{h.cellRef(): newValue}, ModeNormal)
	return err == nil, err
}

// Join fuses this hook's fusion domain with other's. See FusionOps.Join.
func (h *Hook) Join(other *Hook) *EngineError {
	return h.coordinator.fusion.Join(h, other)
}

// Isolate removes this hook into a fresh singleton cell. See FusionOps.Isolate.
func (h *Hook) Isolate() *EngineError {
	return h.coordinator.fusion.Isolate(h)
}

// IsJoinedWith reports whether h and other currently share a cell.
func (h *Hook) IsJoinedWith(other *Hook) bool {
	return h.cellRef() == other.cellRef()
}

// AddListener registers cb to run (with no arguments) after every commit
// that writes this hook's cell. Listeners are ordered by insertion;
// registering a function value with the same code pointer again is a
// no-op (see listenerEntry).
func (h *Hook) AddListener(cb func()) {
	if cb == nil {
		return
	}
	ptr := reflect.ValueOf(cb).Pointer()

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, e := range h.listeners {
		if e.ptr == ptr {
			return
		}
	}
	h.listeners = append(h.listeners, listenerEntry{fn: cb, ptr: ptr})
}

// RemoveListener unregisters cb. Removing a callback that was never
// added, or was already removed, is a silent no-op.
func (h *Hook) RemoveListener(cb func()) {
	if cb == nil {
		return
	}
	ptr := reflect.ValueOf(cb).Pointer()

	h.mu.Lock()
	defer h.mu.Unlock()
	for i, e := range h.listeners {
		if e.ptr == ptr {
			h.listeners = append(h.listeners[:i], h.listeners[i+1:]...)
			return
		}
	}
}

// snapshotListeners returns the hook's listeners in insertion order, for
// the SubmissionEngine's phase-6 notification pass.
func (h *Hook) snapshotListeners() []func() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]func(), len(h.listeners))
	for i, e := range h.listeners {
		out[i] = e.fn
	}
	return out
}

// runReaction invokes the hook's reaction callback, if any, and reports
// its (ok, reason) result. Engine-only.
func (h *Hook) runReaction() (ran bool, ok bool, reason string) {
	h.mu.RLock()
	cb := h.reaction
	h.mu.RUnlock()
	if cb == nil {
		return false, true, ""
	}
	ok, reason = cb()
	return true, ok, reason
}

// runValidator invokes the hook's isolated validator, if any.
func (h *Hook) runValidator(newValue any) (bool, string) {
	h.mu.RLock()
	v := h.validator
	h.mu.RUnlock()
	if v == nil {
		return true, ""
	}
	return v(newValue)
}
