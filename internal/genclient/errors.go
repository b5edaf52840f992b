package genclient

import (
	"errors"
	"fmt"
)

// TransientError is a failure expected to resolve on retry: HTTP 5xx,
// network errors, and per-call timeouts. It is returned only after the retry
// budget is exhausted.
type TransientError struct {
	Attempts int
	Err      error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("service unavailable after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError is a 4xx response: retrying cannot fix it. Body holds the
// truncated response body for diagnosis.
type PermanentError struct {
	Status int
	Body   string
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("request rejected with status %d: %s", e.Status, e.Body)
}

// MalformedError is a 2xx response whose payload does not match the expected
// contract: missing image field or undecodable base64. Never retried.
type MalformedError struct {
	Reason string
}

func (e *MalformedError) Error() string {
	return "malformed response: " + e.Reason
}

// IsTransient reports whether err classifies as a transient service failure.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsPermanent reports whether err classifies as a permanent rejection.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// IsMalformed reports whether err classifies as a contract mismatch.
func IsMalformed(err error) bool {
	var me *MalformedError
	return errors.As(err, &me)
}
