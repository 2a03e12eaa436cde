package autherrors

import "errors"

// Code is the numeric error code surfaced at the embedding boundary. Hosts
// that cannot consume Go errors (foreign-function callers, exit statuses)
// receive one of these instead of a raised error.
type Code int32

const (
	CodeOK              Code = 0
	CodeOutOfMemory     Code = 1
	CodeInvalidArgument Code = 2
	CodeNotFound        Code = 3
	CodeUnknown         Code = 99
)

// String returns the symbolic name of the code.
func (c Code) String() string {
	switch c {
	case CodeOK:
		return "ok"
	case CodeOutOfMemory:
		return "out_of_memory"
	case CodeInvalidArgument:
		return "invalid_argument"
	case CodeNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// CodeOf maps an error chain to its boundary code. A nil error maps to
// CodeOK; anything not otherwise classified maps to CodeUnknown.
func CodeOf(err error) Code {
	switch {
	case err == nil:
		return CodeOK
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrSessionNotFound),
		errors.Is(err, ErrTokenNotFound),
		errors.Is(err, ErrNoRefreshToken):
		return CodeNotFound
	case errors.Is(err, ErrInvalidArgument),
		errors.Is(err, ErrInvalidState):
		return CodeInvalidArgument
	default:
		return CodeUnknown
	}
}
