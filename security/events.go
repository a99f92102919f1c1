package security

// Event type constants for security audit logging.
const (
	// Magic link lifecycle events

	// EventMagicLinkRequested is logged when a magic link is requested for an email address
	EventMagicLinkRequested = "magic_link_requested"

	// EventMagicLinkConsumed is logged when a magic link token is exchanged for tokens
	EventMagicLinkConsumed = "magic_link_consumed"

	// EventUserRegistered is logged when a new user account is created
	EventUserRegistered = "user_registered"

	// EventUserVerified is logged when a registration token is validated
	EventUserVerified = "user_verified"

	// EventTokenReissued is logged when an expired email token is replaced with a fresh one
	EventTokenReissued = "token_reissued"

	// OAuth token lifecycle events

	// EventTokenIssued is logged when a new access token is issued to a client
	EventTokenIssued = "token_issued"

	// EventTokenRefreshed is logged when an access token is refreshed using a refresh token
	EventTokenRefreshed = "token_refreshed"

	// EventTokenRevoked is logged when a token is revoked by the user or client
	EventTokenRevoked = "token_revoked"

	// EventReplayDetected is logged when a consumed authorization code or rotated
	// refresh token is presented again
	EventReplayDetected = "replay_detected"

	// Security violation events

	// EventAuthFailure is logged when authentication fails
	EventAuthFailure = "auth_failure"

	// EventRateLimitExceeded is logged when a rate limit is exceeded
	EventRateLimitExceeded = "rate_limit_exceeded"

	// EventPKCEValidationFailed is logged when PKCE code_verifier validation fails
	EventPKCEValidationFailed = "pkce_validation_failed"

	// EventInvalidRedirect is logged when an invalid redirect URI is used
	EventInvalidRedirect = "invalid_redirect"
)
