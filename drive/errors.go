package drive

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies a resolution failure. Callers use it to pick a response
// status and to decide whether a retry can help.
type Kind string

const (
	KindInvalidCredential Kind = "invalid_credential"
	KindRateLimited       Kind = "rate_limited"
	KindUnreachable       Kind = "unreachable"
	KindNotFound          Kind = "not_found"
	KindTimeout           Kind = "timeout"
)

// Error is a classified failure from the drive backend. RetryAfter is only
// set for rate-limited responses that carried a hint.
type Error struct {
	Kind       Kind
	Message    string
	RetryAfter time.Duration
	cause      error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("drive: %s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("drive: %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Retryable reports whether a later attempt could succeed. Invalid
// credentials and missing files never become valid by waiting.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindRateLimited, KindUnreachable, KindTimeout:
		return true
	}
	return false
}

func newError(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// KindOf extracts the classification from err, or "" when err is not a
// drive error.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}
