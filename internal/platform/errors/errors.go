package errors

import (
	stderrors "errors"
	"log/slog"
	"sort"
)

// Error is the domain error type with structured metadata.
type Error struct {
	Code     Code              // Machine-readable error code
	Message  string            // Internal message (for logs/telemetry)
	Metadata map[string]string // Offending ids, e.g. node_id or effect_id
	Cause    error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error with the same code, so callers can test with
// errors.Is(err, &Error{Code: c}).
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// New creates a domain error with a code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithMetadata creates a domain error carrying the ids it concerns.
func WithMetadata(code Code, message string, metadata map[string]string) *Error {
	return &Error{Code: code, Message: message, Metadata: metadata}
}

// Wrap creates a domain error around an underlying cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// CodeOf returns the code of the first domain error in err's chain, or
// CodeUnknown when there is none.
func CodeOf(err error) Code {
	var domainErr *Error
	if stderrors.As(err, &domainErr) {
		return domainErr.Code
	}
	return CodeUnknown
}

// HasCode reports whether any error in err's chain (including joined errors)
// carries code.
func HasCode(err error, code Code) bool {
	return stderrors.Is(err, &Error{Code: code})
}

// IsCategory reports whether err's code belongs to category.
func IsCategory(err error, category Category) bool {
	return CodeOf(err).Category() == category
}

// IsOutdated reports whether err marks work from a session instance that is
// no longer current.
func IsOutdated(err error) bool {
	return HasCode(err, CodeOutdatedContext)
}

// Attr renders err as an "error" log group holding the full message plus
// the code and metadata of the first domain error in its chain.
func Attr(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	var domainErr *Error
	if !stderrors.As(err, &domainErr) {
		return slog.String("error", err.Error())
	}
	attrs := []any{
		slog.String("message", err.Error()),
		slog.String("code", string(domainErr.Code)),
	}
	keys := make([]string, 0, len(domainErr.Metadata))
	for k := range domainErr.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		attrs = append(attrs, slog.String(k, domainErr.Metadata[k]))
	}
	return slog.Group("error", attrs...)
}
