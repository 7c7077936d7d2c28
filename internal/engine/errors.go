package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/privlog/internal/ir"
)

// Error is a failure detected while creating, validating or delivering
// private events.
//
// Error codes:
//   - SignatureInvalid: a signature does not verify under its author
//   - MalformedEnvelope: content does not decode, or the type tag differs
//   - ApplicationRejected: the event's own validator returned Invalid
//   - UnresolvedDependency: a locally created event references absent events
//   - SerializationFailure: canonical encoding or hashing failed
//   - TransportUnavailable: no delivery channel could take the message
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// EventID identifies the affected entry, when known.
	EventID ir.EventID

	// Err is the underlying cause, if any.
	Err error
}

// ErrorCode categorizes engine errors.
type ErrorCode string

const (
	ErrCodeSignatureInvalid     ErrorCode = "SIGNATURE_INVALID"
	ErrCodeMalformedEnvelope    ErrorCode = "MALFORMED_ENVELOPE"
	ErrCodeApplicationRejected  ErrorCode = "APPLICATION_REJECTED"
	ErrCodeUnresolvedDependency ErrorCode = "UNRESOLVED_DEPENDENCY"
	ErrCodeSerializationFailure ErrorCode = "SERIALIZATION_FAILURE"
	ErrCodeTransportUnavailable ErrorCode = "TRANSPORT_UNAVAILABLE"
)

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.EventID != "" {
		msg = fmt.Sprintf("%s (event=%s)", msg, shortID(e.EventID))
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func newError(code ErrorCode, id ir.EventID, cause error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), EventID: id, Err: cause}
}

func hasCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// IsSignatureError reports whether err is a signature verification failure.
func IsSignatureError(err error) bool { return hasCode(err, ErrCodeSignatureInvalid) }

// IsMalformedError reports whether err is a decode or type tag failure.
func IsMalformedError(err error) bool { return hasCode(err, ErrCodeMalformedEnvelope) }

// IsRejectedError reports whether the application validator rejected an entry.
func IsRejectedError(err error) bool { return hasCode(err, ErrCodeApplicationRejected) }

// IsUnresolvedError reports whether a locally created event had missing
// dependencies.
func IsUnresolvedError(err error) bool { return hasCode(err, ErrCodeUnresolvedDependency) }

// IsSerializationError reports whether encoding or hashing failed.
func IsSerializationError(err error) bool { return hasCode(err, ErrCodeSerializationFailure) }

// IsTransportUnavailable reports whether no delivery channel was present.
func IsTransportUnavailable(err error) bool { return hasCode(err, ErrCodeTransportUnavailable) }

func shortID(id ir.EventID) string {
	if len(id) <= 12 {
		return string(id)
	}
	return string(id[:12])
}

// joinErrors wraps the aggregate of errs under op, or returns nil.
func joinErrors(op string, errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%s: %w", op, errors.Join(errs...))
}
