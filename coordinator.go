package nexsync

import (
	"sync"
	"time"
	"weak"

	"github.com/google/uuid"
)

// SubmissionMode selects how the SubmissionEngine treats an equal-value
// proposal and whether it actually commits, per spec §4.4/§4.6.
type SubmissionMode string

const (
	// ModeNormal filters out proposals equal to a cell's current value
	// before running phases 2-6.
	ModeNormal SubmissionMode = "NormalSubmission"
	// ModeForced skips the equality filter: every listed cell commits
	// even if its proposed value is equal to its current one.
	ModeForced SubmissionMode = "ForcedSubmission"
	// ModeCheckOnly runs phases 1-4 (validation) but skips phase 5 and
	// the mutating parts of phase 6; the result reports success iff
	// validation would have passed.
	ModeCheckOnly SubmissionMode = "CheckOnly"
)

// CommitResult is returned by a successful Submit. CommitID correlates
// the commit across diagnostics and any panic records it produced; it
// plays no role in equality or identity.
type CommitResult struct {
	CommitID     string
	CommittedIDs []CellID
	// FilteredEqualIDs lists cells whose proposed value was already
	// current and so were dropped by phase 1's equality filter (Normal
	// and CheckOnly modes only; always empty for Forced). Recorded for
	// diagnostic fidelity even though it never changes the commit's
	// outcome.
	FilteredEqualIDs []CellID
}

// DiagnosticKind classifies a DiagnosticRecord.
type DiagnosticKind string

const (
	// DiagnosticListenerPanic records a panic from a phase-6 callback: a
	// composite's AfterCommit, a hook reaction callback, or a hook listener.
	DiagnosticListenerPanic DiagnosticKind = "ListenerPanic"
	// DiagnosticReactionFailed records a phase-6 reaction callback that
	// returned ok=false.
	DiagnosticReactionFailed DiagnosticKind = "ReactionFailed"
	// DiagnosticPublishFailed records a phase-6 publisher dispatch panic.
	DiagnosticPublishFailed DiagnosticKind = "PublishFailed"
)

// DiagnosticRecord is what the Coordinator keeps when something in
// phase 6's post-commit notification pass misbehaves. The commit that
// triggered it has already succeeded and is never rolled back; this is
// purely a diagnostic aid for the wrapper layer, the Go-idiomatic
// analogue of goli's bounded LogCapture message ring.
type DiagnosticRecord struct {
	Kind      DiagnosticKind
	CommitID  string
	Time      time.Time
	Detail    string
	Recovered any
	Stack     []byte
}

// Options configures a Coordinator at construction.
type Options struct {
	// RoundCap bounds phase 2's fixed-point iteration (spec §4.6).
	// Zero means the default of 64.
	RoundCap int
	// Tolerance seeds the EqualityRegistry's scalar tolerance.
	Tolerance float64
	// OnDiagnostic, if set, is called synchronously whenever phase 6
	// records a DiagnosticRecord, in addition to the bounded in-memory
	// ring kept on the Coordinator. It runs while the coordinator lock is
	// still held for the commit (the ring's own mutex is already released).
	OnDiagnostic func(DiagnosticRecord)
	// PublisherSource, if set, is consulted during phase 6 step (iii) to
	// dispatch publications for cells touched by a commit.
	PublisherSource PublisherSource
}

// Option mutates an Options value.
type Option func(*Options)

// WithRoundCap overrides the phase-2 fixed-point round cap.
func WithRoundCap(n int) Option { return func(o *Options) { o.RoundCap = n } }

// WithTolerance seeds the coordinator's EqualityRegistry tolerance.
func WithTolerance(t float64) Option { return func(o *Options) { o.Tolerance = t } }

// WithDiagnosticHandler installs a callback invoked whenever phase 6
// records a diagnostic (a listener panic, a failed reaction, or a
// publisher dispatch panic).
func WithDiagnosticHandler(fn func(DiagnosticRecord)) Option {
	return func(o *Options) { o.OnDiagnostic = fn }
}

// WithPublisherSource installs the collaborator phase 6 step (iii)
// consults to resolve and dispatch publications for committed cells.
func WithPublisherSource(ps PublisherSource) Option {
	return func(o *Options) { o.PublisherSource = ps }
}

const defaultRoundCap = 64
const maxDiagnosticRing = 64

// Coordinator is the global serializer for one synchronization engine
// instance: the single write entry point (Submit), the reentrancy guard,
// a weak registry of every live cell for diagnostics, and the
// EqualityRegistry all of its submissions consult.
type Coordinator struct {
	guard           *reentrancyGuard
	equality        *EqualityRegistry
	fusion          *FusionOps
	roundCap        int
	onDiagnostic    func(DiagnosticRecord)
	publisherSource PublisherSource

	cellsMu sync.Mutex
	cells   map[CellID]weak.Pointer[Cell]

	diagMu sync.Mutex
	diags  []DiagnosticRecord
}

// NewCoordinator creates a Coordinator with its own fresh
// EqualityRegistry; there is no option to supply a shared one. Use
// Coordinator.Equality() to register comparators after construction.
func NewCoordinator(opts ...Option) *Coordinator {
	o := Options{RoundCap: defaultRoundCap}
	for _, opt := range opts {
		opt(&o)
	}
	if o.RoundCap <= 0 {
		o.RoundCap = defaultRoundCap
	}

	c := &Coordinator{
		guard:           newReentrancyGuard(),
		equality:        NewEqualityRegistry(o.Tolerance),
		roundCap:        o.RoundCap,
		onDiagnostic:    o.OnDiagnostic,
		publisherSource: o.PublisherSource,
		cells:           make(map[CellID]weak.Pointer[Cell]),
	}
	c.fusion = &FusionOps{coordinator: c}
	return c
}

// Equality returns the coordinator's EqualityRegistry, for registering
// type-pair comparators.
func (c *Coordinator) Equality() *EqualityRegistry { return c.equality }

// Fusion returns the coordinator's FusionOps.
func (c *Coordinator) Fusion() *FusionOps { return c.fusion }

// trackCell registers a cell in the coordinator's weak diagnostic
// registry. Cells are never removed explicitly; stale entries are
// dropped lazily the next time diagnostics are read.
func (c *Coordinator) trackCell(cell *Cell) {
	c.cellsMu.Lock()
	defer c.cellsMu.Unlock()
	c.cells[cell.id] = weak.Make(cell)
}

// lockCells acquires the coordinator's reentrancy guard for exactly the
// given cell set, without running the SubmissionEngine. It is the same
// acquisition Submit uses, exposed so FusionOps can cover Join/Isolate's
// structural mutations (spec §4.5 steps 1-6) with the identical lock a
// Submit call would take, rather than duplicating the guard logic.
func (c *Coordinator) lockCells(cells map[*Cell]struct{}) (release func(), err *EngineError) {
	return c.guard.enter(cells)
}

// Submit is the single write entry point: it builds the reentrancy
// check against the calling goroutine's active cell set, then runs the
// SubmissionEngine's six phases under the coordinator's reentrant lock.
func (c *Coordinator) Submit(cellToValue map[*Cell]any, mode SubmissionMode) (*CommitResult, *EngineError) {
	if len(cellToValue) == 0 {
		return &CommitResult{CommitID: uuid.NewString()}, nil
	}

	cellSet := make(map[*Cell]struct{}, len(cellToValue))
	for cell := range cellToValue {
		cellSet[cell] = struct{}{}
	}

	release, reentrantErr := c.lockCells(cellSet)
	if reentrantErr != nil {
		return nil, reentrantErr
	}
	defer release()

	return runSubmission(c, cellToValue, mode)
}

// recordDiagnostic appends a bounded diagnostic record and invokes the
// configured handler, if any. Engine-only.
func (c *Coordinator) recordDiagnostic(rec DiagnosticRecord) {
	c.diagMu.Lock()
	c.diags = append(c.diags, rec)
	if len(c.diags) > maxDiagnosticRing {
		c.diags = c.diags[len(c.diags)-maxDiagnosticRing:]
	}
	c.diagMu.Unlock()

	if c.onDiagnostic != nil {
		c.onDiagnostic(rec)
	}
}

// Diagnostics returns the bounded ring of recent phase-6 diagnostic
// records, most recent last.
func (c *Coordinator) Diagnostics() []DiagnosticRecord {
	c.diagMu.Lock()
	defer c.diagMu.Unlock()
	out := make([]DiagnosticRecord, len(c.diags))
	copy(out, c.diags)
	return out
}
