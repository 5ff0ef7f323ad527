// Package apperr holds the error categories every layer wraps its sentinels with.
// The HTTP edge maps categories to status codes; use-case instrumentation derives the outcome
// log level from them through Kind.
package apperr

import "errors"

var (
	ErrValidation     = errors.New("validation failed")
	ErrNotFound       = errors.New("not found")
	ErrAuthentication = errors.New("authentication failed")
	ErrUpstream       = errors.New("upstream failure")
)

// Kind reports which category err belongs to, or "internal" when none matches.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "validation_error"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrAuthentication):
		return "authentication_error"
	case errors.Is(err, ErrUpstream):
		return "upstream_error"
	default:
		return "internal"
	}
}
