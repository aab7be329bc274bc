package auth

import "errors"

// Authentication failures. All of them map to 401.
var (
	ErrMissingCredential = errors.New("missing credential")
	ErrExpiredCredential = errors.New("expired credential")
	ErrInvalidCredential = errors.New("invalid credential")
)
