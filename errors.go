package nexsync

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrorKind is the stable identifier attached to every error the engine
// returns across its boundary. Wrapper layers match on Kind rather than
// on error strings.
type ErrorKind string

const (
	// KindValidationRejected means a phase-4 check failed: an isolated
	// validator, a composite's ValidatePrimary, or its ValidateAll.
	KindValidationRejected ErrorKind = "ValidationRejected"
	// KindCompletionConflict means a composite's Complete proposed, during
	// phase 2, a value for a cell that is already in the working set with
	// a different value (submitted by the caller or added by a composite).
	KindCompletionConflict ErrorKind = "CompletionConflict"
	// KindCompletionDivergent means phase 2 exceeded the round cap.
	KindCompletionDivergent ErrorKind = "CompletionDivergent"
	// KindCompletionExtendsUnknownCell means a composite's Complete
	// returned an identifier that is not one of its own primaries.
	KindCompletionExtendsUnknownCell ErrorKind = "CompletionExtendsUnknownCell"
	// KindReentrant means a nested submission intersected the set of
	// cells the calling goroutine is already committing.
	KindReentrant ErrorKind = "Reentrant"
	// KindFusionRejected means the value-adoption submission inside
	// Join failed; the original error is wrapped and reachable via
	// errors.Unwrap / errors.As.
	KindFusionRejected ErrorKind = "FusionRejected"
	// KindTypeMismatch is reserved for wrapper layers: a hook received
	// a value its owning composite refused at the wrapper boundary.
	// The core never returns it itself; it is listed so it is never
	// confused with KindValidationRejected by callers inspecting Kind.
	KindTypeMismatch ErrorKind = "TypeMismatch"
)

// EngineError is the structured error returned by every core write
// entry point. It carries a stable Kind for programmatic matching and
// a human-readable Reason, plus optional identifying context (the
// composite or hook responsible, and the primary/secondary identifier
// involved, when applicable).
type EngineError struct {
	Kind      ErrorKind
	Reason    string
	Composite any    // the Composite instance that produced the failure, if any
	Hook      *Hook  // the Hook that produced the failure, if any
	Ident     string // the primary/secondary identifier involved, if any
	cause     error
}

func (e *EngineError) Error() string {
	switch {
	case e.Ident != "":
		return fmt.Sprintf("%s: %s (identifier %q)", e.Kind, e.Reason, e.Ident)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
	}
}

// Unwrap exposes the wrapped cause, if any, to errors.Is / errors.As.
func (e *EngineError) Unwrap() error { return e.cause }

// newError builds an EngineError with no wrapped cause.
func newError(kind ErrorKind, reason string) *EngineError {
	return &EngineError{Kind: kind, Reason: reason}
}

func validationRejectedHook(h *Hook, reason string) *EngineError {
	e := newError(KindValidationRejected, reason)
	e.Hook = h
	return e
}

func validationRejectedComposite(c any, ident, reason string) *EngineError {
	e := newError(KindValidationRejected, reason)
	e.Composite = c
	e.Ident = ident
	return e
}

func completionConflict(c any, ident string) *EngineError {
	e := newError(KindCompletionConflict, "completion proposed a value that conflicts with the one already proposed for the same cell")
	e.Composite = c
	e.Ident = ident
	// errors.WithStack (github.com/pkg/errors) attaches a stack trace to the
	// cause chain without changing Error()'s text or the Kind dispatch above.
	e.cause = errors.WithStack(errors.New(e.Reason))
	return e
}

func completionDivergent(rounds int) *EngineError {
	return newError(KindCompletionDivergent, fmt.Sprintf("value completion did not converge within %d rounds", rounds))
}

func completionExtendsUnknownCell(c any, ident string) *EngineError {
	e := newError(KindCompletionExtendsUnknownCell, "Complete returned an identifier outside the composite's own binding")
	e.Composite = c
	e.Ident = ident
	return e
}

func reentrant() *EngineError {
	return newError(KindReentrant, "submission intersects the active cell set of the current goroutine")
}

// fusionRejected wraps the error returned by the value-adoption submission
// that join performs, exactly as spec §7 requires: "the original error is
// wrapped". errors.Wrap (github.com/pkg/errors) is used rather than
// fmt.Errorf("%w") so the wrapped error carries a stack trace usable by
// diagnostic tooling further up the stack.
func fusionRejected(cause error) *EngineError {
	e := newError(KindFusionRejected, "join's value-adoption submission was rejected")
	e.cause = errors.Wrap(cause, "fusion rejected")
	return e
}
