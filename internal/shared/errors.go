package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrMissingToken occurs when a request carries no bearer token.
	ErrMissingToken = errors.New("missing bearer token")
	// ErrInvalidToken occurs when a token fails verification or carries no actor.
	ErrInvalidToken = errors.New("invalid or expired token")
)
