package chat

import "errors"

// Failure kinds returned by Directory, Log and Store implementations. Callers
// test for them with errors.Is; the wrapped message carries the detail.
var (
	ErrInvalidInput = errors.New("invalid input")
	ErrConflict     = errors.New("conflict")
	ErrNotFound     = errors.New("not found")
	ErrForbidden    = errors.New("forbidden")
	ErrUnavailable  = errors.New("store unavailable")
)
