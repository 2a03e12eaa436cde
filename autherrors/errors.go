// Package autherrors defines the error values shared across the OAuth client
// packages, plus the numeric code mapping consumed by embedders.
package autherrors

import (
	"errors"
	"fmt"
)

// Common error values for the OAuth client
var (
	// Lookup errors
	ErrNotFound        = errors.New("not found")
	ErrSessionNotFound = errors.New("session not found")
	ErrTokenNotFound   = errors.New("token not found")

	// Flow errors
	ErrInvalidState        = errors.New("invalid state parameter")
	ErrAuthorizationDenied = errors.New("authorization denied by user")
	ErrCallbackTimeout     = errors.New("timeout waiting for authorization callback")

	// Token errors
	ErrTokenExpired   = errors.New("token expired")
	ErrNoRefreshToken = errors.New("no refresh token available")

	// Configuration errors
	ErrInvalidArgument = errors.New("invalid argument")

	// Storage errors
	ErrStorage = errors.New("storage failure")
)

// ServerError carries an OAuth 2.0 error response from the authorization
// server (RFC 6749 §5.2), e.g. "invalid_grant" with an optional description.
type ServerError struct {
	Code        string // the "error" field of the response
	Description string // the "error_description" field, may be empty
}

func (e *ServerError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("oauth server error: %s: %s", e.Code, e.Description)
	}
	return fmt.Sprintf("oauth server error: %s", e.Code)
}

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
