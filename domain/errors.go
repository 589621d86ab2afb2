package domain

import (
	"errors"
	"fmt"
)

// Rejection kinds. Every error returned by a coordinator command wraps exactly
// one of these, so callers can branch with errors.Is.
var (
	ErrValidation        = errors.New("validation-error")
	ErrStateConflict     = errors.New("state-conflict")
	ErrAuthorization     = errors.New("authorization-error")
	ErrNotFound          = errors.New("not-found")
	ErrResourceExhausted = errors.New("resource-exhausted")
)

// ErrPersistence means the in-memory transition happened but the repository
// did not confirm the write. Clients should resync through the state queries.
var ErrPersistence = errors.New("persistence-error")

var (
	UnexpectedDatabaseError = errors.New("unexpected-database-error")
	ErrStaleWrite           = errors.New("stale-write")
)

var (
	UnexpectedTokenGenerationError   = errors.New("unexpected-token-generation-error")
	UnexpectedTokenVerificationError = errors.New("unexpected-token-verification-error")
	ErrInvalidSigningAlg             = errors.New("invalid-signing-alg")
	ErrExpiredToken                  = errors.New("expired-token")
	ErrInvalidTokenSignature         = errors.New("invalid-token-signature")
	ErrCorruptedToken                = errors.New("corrupted-token")
)

var UnexpectedPasswordHashError = errors.New("unexpected-password-hash-error")

func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func Conflict(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrStateConflict, fmt.Sprintf(format, args...))
}

func Forbidden(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrAuthorization, fmt.Sprintf(format, args...))
}

func NotFound(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

func Exhausted(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrResourceExhausted, fmt.Sprintf(format, args...))
}
