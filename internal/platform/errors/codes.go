// Package errors provides structured, coded errors for the mission engine.
package errors

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Validation errors
	CodeDuplicateID       Code = "DUPLICATE_ID"
	CodeDuplicateLocalKey Code = "DUPLICATE_LOCAL_KEY"
	CodeOutOfRange        Code = "OUT_OF_RANGE"
	CodeInvalidColor      Code = "INVALID_COLOR"
	CodeMissingPrototype  Code = "MISSING_PROTOTYPE"
	CodeInvalidTrigger    Code = "INVALID_TRIGGER"
	CodeInvalidVersion    Code = "INVALID_VERSION"
	CodeInvalidArgument   Code = "INVALID_ARGUMENT"

	// Precondition errors
	CodeNodeNotOpenable        Code = "NODE_NOT_OPENABLE"
	CodeNodeNotFound           Code = "NODE_NOT_FOUND"
	CodeActionNotFound         Code = "ACTION_NOT_FOUND"
	CodeNodeNotReady           Code = "NODE_NOT_READY"
	CodeInsufficientResources  Code = "INSUFFICIENT_RESOURCES"
	CodeExecutionNotAbortable  Code = "EXECUTION_NOT_ABORTABLE"
	CodeSessionNotStarted      Code = "SESSION_NOT_STARTED"
	CodeSessionAlreadyTornDown Code = "SESSION_ALREADY_TORN_DOWN"

	// Stale session instance
	CodeOutdatedContext Code = "OUTDATED_CONTEXT"

	// Lookup errors
	CodeNotFound        Code = "NOT_FOUND"
	CodeAmbiguousTarget Code = "AMBIGUOUS_TARGET"
)

// Category groups codes by how callers are expected to react.
type Category string

const (
	// CategoryValidation errors must be fixed and resubmitted.
	CategoryValidation Category = "validation"
	// CategoryPrecondition errors reject a runtime request in the current state.
	CategoryPrecondition Category = "precondition"
	// CategoryOutdated errors mark work from a session instance that is no longer current.
	CategoryOutdated Category = "outdated"
	// CategoryNotFound errors report unregistered lookups.
	CategoryNotFound Category = "not_found"
	// CategoryInternal covers everything else.
	CategoryInternal Category = "internal"
)

// Category maps a code to its category.
func (c Code) Category() Category {
	switch c {
	case CodeDuplicateID,
		CodeDuplicateLocalKey,
		CodeOutOfRange,
		CodeInvalidColor,
		CodeMissingPrototype,
		CodeInvalidTrigger,
		CodeInvalidVersion,
		CodeInvalidArgument:
		return CategoryValidation

	case CodeNodeNotOpenable,
		CodeNodeNotFound,
		CodeActionNotFound,
		CodeNodeNotReady,
		CodeInsufficientResources,
		CodeExecutionNotAbortable,
		CodeSessionNotStarted,
		CodeSessionAlreadyTornDown:
		return CategoryPrecondition

	case CodeOutdatedContext:
		return CategoryOutdated

	case CodeNotFound,
		CodeAmbiguousTarget:
		return CategoryNotFound

	default:
		return CategoryInternal
	}
}
