// Package errors provides structured error handling for the auth core.
package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Identity errors
	CodeIdentityEmptyEmail   Code = "IDENTITY_EMPTY_EMAIL"
	CodeIdentityInvalidEmail Code = "IDENTITY_INVALID_EMAIL"

	// Magic link errors
	CodeMagicLinkInvalidPurpose Code = "MAGIC_LINK_INVALID_PURPOSE"

	// Rate limiting
	CodeRateLimited Code = "RATE_LIMITED"

	// Storage errors
	CodeNotFound Code = "NOT_FOUND"
	CodeConflict Code = "CONFLICT"
)

// HTTPStatus maps the error code to an HTTP status for the public surface.
//
// The mapping is deliberately coarse: callers get enough to act on while the
// specific constraint or field that failed stays server-side only.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeIdentityEmptyEmail, CodeIdentityInvalidEmail, CodeMagicLinkInvalidPurpose:
		return http.StatusUnprocessableEntity
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
