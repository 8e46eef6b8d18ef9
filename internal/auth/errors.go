package auth

import "errors"

var (
	ErrNotFound     = errors.New("auth: not found")
	ErrConflict     = errors.New("auth: already exists")
	ErrInvalidInput = errors.New("auth: invalid input")
	ErrUnauthorized = errors.New("auth: unauthorized")
	// ErrInvalidToken covers malformed, expired and wrongly-typed tokens.
	// Callers must not learn which check failed.
	ErrInvalidToken = errors.New("auth: invalid token")
)
