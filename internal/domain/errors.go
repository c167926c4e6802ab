package domain

import "errors"

// Sentinel errors for the domain layer. These provide consistent, checkable
// errors for common business logic failures.
var (
	ErrUserAlreadyExists = errors.New("user with this email already exists")
	ErrNotFound          = errors.New("requested resource not found")
	ErrForbidden         = errors.New("not a participant of this chat")
	ErrInvalidInput      = errors.New("invalid input")
)
