package automation

import "supervibing/internal/apperr"

// newValidationErr is a small convenience wrapper used throughout this
// package for the common case of a Validation-kind error with no wrapped
// cause.
func newValidationErr(msg string) *apperr.Error {
	return apperr.New(apperr.KindValidation, msg)
}

// errQueueFull is returned by validateRequest when the queue depth counter
// has reached its cap. It is deliberately a distinct sentinel rather than a
// plain apperr.KindConflict: the HTTP status mapping for a full queue is 429
// Too Many Requests, not the 409 Conflict that every other Conflict-kind
// error maps to (see statusForError in server.go).
var errQueueFull = apperr.New(apperr.KindConflict, "automation queue is full")
