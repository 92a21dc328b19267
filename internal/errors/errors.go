package errors

import (
	"errors"
	"fmt"
)

// Common error types for the API client
var (
	// Session errors
	ErrNoSession        = errors.New("no session")
	ErrSessionExpired   = errors.New("session expired")
	ErrNoRefreshToken   = errors.New("no refresh token")
	ErrMissingToken     = errors.New("refresh response has no token")
	ErrCorruptSession   = errors.New("stored session is corrupt")
	ErrInvalidTokenFile = errors.New("invalid token file")

	// Response errors
	ErrUnexpectedBinary = errors.New("unexpected binary response")
	ErrInvalidEnvelope  = errors.New("invalid response envelope")

	// Realtime errors
	ErrDisconnected = errors.New("disconnected")

	// General errors
	ErrInvalidRequest = errors.New("invalid request")
	ErrInvalidConfig  = errors.New("invalid configuration")
)

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}
