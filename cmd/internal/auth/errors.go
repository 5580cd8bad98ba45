package auth

import "errors"

var (
	// ErrAuthenticationRequired is returned when no bearer credential was presented.
	ErrAuthenticationRequired = errors.New("Authentication required")

	// ErrInvalidToken is returned when a credential fails signature, expiry, or claim validation.
	ErrInvalidToken = errors.New("Invalid token")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid auth config")
)
