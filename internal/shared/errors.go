package shared

import "errors"

var (
	// ErrNotFound indicates that a referenced page, grant, user or role does not exist.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates rejected input: blank or duplicate titles, cyclic
	// moves, malformed grant subjects. Checked before any write.
	ErrValidation = errors.New("validation failed")
	// ErrAccessDenied indicates a mutating permission operation by an
	// unauthorized requester.
	ErrAccessDenied = errors.New("access denied")
)
