package auth

import "errors"

var (
	// ErrInvalidCredentials is deliberately generic: it never reveals whether
	// the email exists or which check failed.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrAccountLocked      = errors.New("auth: account locked")
	ErrAccountNotActive   = errors.New("auth: account not active")
	ErrAccountDeleted     = errors.New("auth: account deleted")

	ErrInvalidToken = errors.New("auth: invalid token")
	ErrTokenExpired = errors.New("auth: token expired")
	ErrTokenRevoked = errors.New("auth: token revoked")

	ErrNotFound      = errors.New("auth: not found")
	ErrAlreadyExists = errors.New("auth: already exists")
	ErrInvalidInput  = errors.New("auth: invalid input")
)
