package server

import (
	"fmt"
	"net/http"
)

// OAuth 2.0 error codes (RFC 6749 section 5.2) plus the invalid_credentials
// code used by the magic link grant.
const (
	ErrorCodeInvalidRequest       = "invalid_request"
	ErrorCodeInvalidClient        = "invalid_client"
	ErrorCodeInvalidGrant         = "invalid_grant"
	ErrorCodeInvalidScope         = "invalid_scope"
	ErrorCodeUnauthorizedClient   = "unauthorized_client"
	ErrorCodeUnsupportedGrantType = "unsupported_grant_type"
	ErrorCodeServerError          = "server_error"

	// ErrorCodeUnsupportedResponseType is returned by the authorization
	// endpoint for any response_type other than "code" (RFC 6749
	// section 4.1.2.1).
	ErrorCodeUnsupportedResponseType = "unsupported_response_type"

	// ErrorCodeInvalidCredentials is returned when a magic link token is
	// missing, expired, consumed, or not attributable to a user. One code
	// for all of these keeps responses from leaking which check failed.
	ErrorCodeInvalidCredentials = "invalid_credentials"
)

// Error is an OAuth-shaped error carrying the wire error code, a
// human-readable description, and the HTTP status it maps to.
type Error struct {
	Code        string
	Description string
	Status      int
}

func (e *Error) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// NewError creates an OAuth error
func NewError(code, description string, status int) *Error {
	return &Error{Code: code, Description: description, Status: status}
}

// Singleton errors for the common failure modes. Returned by value so
// callers can match with errors.Is.
var (
	// ErrInvalidToken covers missing, expired, and already-consumed magic
	// link tokens. The description is deliberately uniform.
	ErrInvalidToken = NewError(ErrorCodeInvalidCredentials, "Invalid or expired token", http.StatusUnauthorized)

	// ErrUserNotFound is returned when a valid token points at a user that
	// no longer exists.
	ErrUserNotFound = NewError(ErrorCodeInvalidCredentials, "Invalid or expired token", http.StatusUnauthorized)

	// ErrInvalidGrant covers unknown, expired, and replayed authorization
	// codes and refresh tokens.
	ErrInvalidGrant = NewError(ErrorCodeInvalidGrant, "The provided grant is invalid or expired", http.StatusBadRequest)

	// ErrInvalidClient is returned when client authentication fails.
	ErrInvalidClient = NewError(ErrorCodeInvalidClient, "Client authentication failed", http.StatusUnauthorized)
)

func invalidRequest(description string) *Error {
	return NewError(ErrorCodeInvalidRequest, description, http.StatusBadRequest)
}

func invalidScope(description string) *Error {
	return NewError(ErrorCodeInvalidScope, description, http.StatusBadRequest)
}

func serverError(description string) *Error {
	return NewError(ErrorCodeServerError, description, http.StatusInternalServerError)
}
