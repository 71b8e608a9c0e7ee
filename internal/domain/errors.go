package domain

import "errors"

// Domain errors
var (
	ErrNotFound   = errors.New("player not found")
	ErrConflict   = errors.New("username already exists")
	ErrValidation = errors.New("validation failed")

	// ErrRankIndexUnavailable marks any failure of the ranking cache. Request
	// paths absorb it and fall back to the durable store.
	ErrRankIndexUnavailable = errors.New("rank index unavailable")

	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrRateLimited        = errors.New("rate limit exceeded")
	ErrInvalidRequest     = errors.New("invalid request")
	ErrInternalError      = errors.New("internal server error")
)

// IsNotFoundError checks if an error is a not-found type error
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsRankIndexUnavailable reports whether err came from the ranking cache
func IsRankIndexUnavailable(err error) bool {
	return errors.Is(err, ErrRankIndexUnavailable)
}
