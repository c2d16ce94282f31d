// Package apierrors classifies the error kinds the store API can surface
// (spec.md §7) so the HTTP layer can map them to status codes without
// string-matching error messages.
package apierrors

import "fmt"

// Kind classifies an error returned by the storage/replication API.
type Kind string

const (
	NotFound                 Kind = "not_found"
	NotRunning               Kind = "not_running"
	InvalidKey               Kind = "invalid_key"
	InvalidPayload           Kind = "invalid_payload"
	InvalidKeys              Kind = "invalid_keys"
	InvalidPrefix            Kind = "invalid_prefix"
	InvalidSnapshot          Kind = "invalid_snapshot"
	InvalidChecksum          Kind = "invalid_checksum"
	InvalidReplicationRecord Kind = "invalid_replication_record"
	InvalidOffset            Kind = "invalid_offset"
)

// Error is a Kind-tagged error. Wrap() preserves the underlying cause for
// logging while Kind lets callers decide on an HTTP status.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether err (or any error it wraps) is an *Error of kind k.
func Is(err error, k Kind) bool {
	for err != nil {
		if asErr, ok := err.(*Error); ok && asErr.Kind == k {
			return true
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = unwrapper.Unwrap()
	}
	return false
}
