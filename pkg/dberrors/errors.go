package dberrors

import "errors"

var (
	ErrNotFound        = errors.New("sitekv: not found")
	ErrClosed          = errors.New("sitekv: closed")
	ErrInvalidArgument = errors.New("sitekv: invalid argument")

	// Validation failures, reported to callers as client errors.
	ErrInvalidTenant = errors.New("sitekv: invalid tenant")
	ErrInvalidKey    = errors.New("sitekv: invalid key")
	ErrValueTooLarge = errors.New("sitekv: value too large")

	ErrQuotaExceeded = errors.New("sitekv: quota exceeded")

	// ErrIO means an append or durable flush failed. The index is left as it
	// was before the attempt.
	ErrIO = errors.New("sitekv: io failure")

	// ErrCorrupted marks a log that cannot be trusted. It is fatal at startup.
	ErrCorrupted = errors.New("sitekv: corrupted log")
)

// IsClientError reports whether err was caused by the caller's input rather
// than by the store.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidTenant) ||
		errors.Is(err, ErrInvalidKey) ||
		errors.Is(err, ErrValueTooLarge) ||
		errors.Is(err, ErrQuotaExceeded) ||
		errors.Is(err, ErrInvalidArgument)
}
