package domain

import "errors"

// Error taxonomy shared by every layer. Wrap with fmt.Errorf("%w: ...").
var (
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("not found")
	ErrStateConflict     = errors.New("state conflict")
	ErrUnavailable       = errors.New("store unavailable")
	ErrInsufficientTrust = errors.New("insufficient trust")
	ErrVelocityExceeded  = errors.New("velocity limit exceeded")
)
