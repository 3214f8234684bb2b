package auth

import (
	"errors"
	"time"
)

var (
	ErrUnauthenticated = errors.New("invalid credentials")
	ErrInvalidToken    = errors.New("invalid token")
	ErrUntrustedIssuer = errors.New("untrusted token issuer")
	ErrInvalidAudience = errors.New("audience not allowed")
	ErrForbidden       = errors.New("forbidden")
	ErrUserNotFound    = errors.New("user not found")
	ErrDuplicateUser   = errors.New("user already exists")
	ErrInvalidInput    = errors.New("invalid input")
)

// SuspendedError is returned instead of ErrUnauthenticated when the account is barred at issue time.
type SuspendedError struct {
	Until  time.Time
	Reason string
}

func (e *SuspendedError) Error() string {
	return "account suspended until " + e.Until.UTC().Format(time.RFC3339)
}
