package auth_errors

import (
	"errors"
	"fmt"
)

// ErrAuthentication is the root of every handshake or bearer-token failure.
// Callers only need errors.Is(err, ErrAuthentication) to refuse a request.
var ErrAuthentication = errors.New("authentication failed")

var (
	// ErrMissingToken indicates no credential was presented at all.
	ErrMissingToken = fmt.Errorf("%w: missing token", ErrAuthentication)

	// ErrInvalidToken covers bad signatures, wrong algorithms and malformed
	// claims.
	ErrInvalidToken = fmt.Errorf("%w: invalid token", ErrAuthentication)

	ErrTokenExpired = fmt.Errorf("%w: token expired", ErrAuthentication)

	// ErrUnknownUser indicates a valid token whose subject no longer exists.
	ErrUnknownUser = fmt.Errorf("%w: user not found", ErrAuthentication)
)
