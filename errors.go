package oauth

import (
	"net/http"

	"github.com/linklogin/magiclink-oauth/server"
)

// Error is an OAuth-shaped error carrying the wire error code, description,
// and HTTP status. It is defined by the server package; the alias lets
// embedding applications match errors without importing server directly.
type Error = server.Error

// OAuth error codes (RFC 6749 section 5.2).
const (
	ErrorCodeInvalidRequest       = server.ErrorCodeInvalidRequest
	ErrorCodeInvalidClient        = server.ErrorCodeInvalidClient
	ErrorCodeInvalidGrant         = server.ErrorCodeInvalidGrant
	ErrorCodeInvalidScope         = server.ErrorCodeInvalidScope
	ErrorCodeUnauthorizedClient   = server.ErrorCodeUnauthorizedClient
	ErrorCodeUnsupportedGrantType = server.ErrorCodeUnsupportedGrantType
	ErrorCodeServerError          = server.ErrorCodeServerError
	ErrorCodeInvalidCredentials   = server.ErrorCodeInvalidCredentials

	ErrorCodeUnsupportedResponseType = server.ErrorCodeUnsupportedResponseType

	// ErrorCodeRateLimitExceeded is returned with HTTP 429 when a caller
	// exceeds a rate limit. Not part of RFC 6749.
	ErrorCodeRateLimitExceeded = "rate_limit_exceeded"
)

// Error constructors for the common request-level failures.
var (
	ErrInvalidRequest = func(description string) *Error {
		return server.NewError(ErrorCodeInvalidRequest, description, http.StatusBadRequest)
	}

	ErrInvalidClient = func(description string) *Error {
		return server.NewError(ErrorCodeInvalidClient, description, http.StatusUnauthorized)
	}

	ErrInvalidGrant = func(description string) *Error {
		return server.NewError(ErrorCodeInvalidGrant, description, http.StatusBadRequest)
	}

	ErrServerError = func(description string) *Error {
		return server.NewError(ErrorCodeServerError, description, http.StatusInternalServerError)
	}
)
