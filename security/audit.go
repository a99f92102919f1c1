// Package security provides the cross-cutting security features of the
// authorization server: audit logging with PII hashing, payload encryption,
// rate limiting, client IP extraction, and secure response headers.
package security

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"
)

// Auditor logs security events. User identifiers and email addresses are
// hashed before they reach the log stream.
type Auditor struct {
	logger  *slog.Logger
	enabled bool
}

// NewAuditor creates a new security auditor
func NewAuditor(logger *slog.Logger, enabled bool) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{
		logger:  logger,
		enabled: enabled,
	}
}

// Event represents a security audit event
type Event struct {
	Type      string
	UserID    string
	Email     string
	ClientID  string
	IPAddress string
	Details   map[string]any
	Timestamp time.Time
}

// LogEvent logs a security event with hashed PII
func (a *Auditor) LogEvent(event Event) {
	if !a.enabled {
		return
	}

	event.Timestamp = time.Now()

	attrs := []any{
		"event_type", event.Type,
		"user_id_hash", hashForLogging(event.UserID),
		"client_id", event.ClientID,
		"ip_address", event.IPAddress,
		"timestamp", event.Timestamp,
	}
	if event.Email != "" {
		attrs = append(attrs, "email_hash", hashForLogging(event.Email))
	}
	if len(event.Details) > 0 {
		attrs = append(attrs, "details", event.Details)
	}

	a.logger.Info("security_audit", attrs...)
}

// LogMagicLinkRequested logs a magic link request for an email address.
// Logged for known and unknown addresses alike, so log volume does not
// reveal which addresses are registered.
func (a *Auditor) LogMagicLinkRequested(email, ipAddress string, known bool) {
	a.LogEvent(Event{
		Type:      EventMagicLinkRequested,
		Email:     email,
		IPAddress: ipAddress,
		Details: map[string]any{
			"known_address": known,
		},
	})
}

// LogMagicLinkConsumed logs a successful magic link authentication.
func (a *Auditor) LogMagicLinkConsumed(userID, clientID, ipAddress string) {
	a.LogEvent(Event{
		Type:      EventMagicLinkConsumed,
		UserID:    userID,
		ClientID:  clientID,
		IPAddress: ipAddress,
	})
}

// LogUserRegistered logs a new user registration.
func (a *Auditor) LogUserRegistered(userID, email, ipAddress string) {
	a.LogEvent(Event{
		Type:      EventUserRegistered,
		UserID:    userID,
		Email:     email,
		IPAddress: ipAddress,
	})
}

// LogUserVerified logs a completed registration validation.
func (a *Auditor) LogUserVerified(userID, ipAddress string) {
	a.LogEvent(Event{
		Type:      EventUserVerified,
		UserID:    userID,
		IPAddress: ipAddress,
	})
}

// LogTokenIssued logs when an access token is issued
func (a *Auditor) LogTokenIssued(userID, clientID, ipAddress, grantType, scope string) {
	a.LogEvent(Event{
		Type:      EventTokenIssued,
		UserID:    userID,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"grant_type": grantType,
			"scope":      scope,
		},
	})
}

// LogTokenRefreshed logs a refresh token rotation.
func (a *Auditor) LogTokenRefreshed(userID, clientID, ipAddress string) {
	a.LogEvent(Event{
		Type:      EventTokenRefreshed,
		UserID:    userID,
		ClientID:  clientID,
		IPAddress: ipAddress,
	})
}

// LogTokenReissued logs a replacement magic link sent for an expired token.
func (a *Auditor) LogTokenReissued(userID, ipAddress, tokenType string) {
	a.LogEvent(Event{
		Type:      EventTokenReissued,
		UserID:    userID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"token_type": tokenType,
		},
	})
}

// LogTokenRevoked logs when a token is revoked
func (a *Auditor) LogTokenRevoked(userID, clientID, ipAddress, tokenType string) {
	a.LogEvent(Event{
		Type:      EventTokenRevoked,
		UserID:    userID,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"token_type": tokenType,
		},
	})
}

// LogReplayDetected logs presentation of an already-consumed authorization
// code or rotated refresh token. revokedCount is the number of outstanding
// tokens revoked in reaction.
func (a *Auditor) LogReplayDetected(userID, clientID, ipAddress, tokenType string, revokedCount int) {
	a.LogEvent(Event{
		Type:      EventReplayDetected,
		UserID:    userID,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"token_type":    tokenType,
			"revoked_count": revokedCount,
		},
	})
}

// LogPKCEFailure logs a failed code_verifier check.
func (a *Auditor) LogPKCEFailure(clientID, ipAddress, reason string) {
	a.LogEvent(Event{
		Type:      EventPKCEValidationFailed,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"reason": reason,
		},
	})
}

// LogAuthFailure logs an authentication failure
func (a *Auditor) LogAuthFailure(userID, clientID, ipAddress, reason string) {
	a.LogEvent(Event{
		Type:      EventAuthFailure,
		UserID:    userID,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"reason": reason,
		},
	})
}

// LogRateLimitExceeded logs a rate limit violation
func (a *Auditor) LogRateLimitExceeded(ipAddress, identifier string) {
	a.LogEvent(Event{
		Type:      EventRateLimitExceeded,
		UserID:    identifier,
		IPAddress: ipAddress,
	})
}

// hashForLogging creates a SHA256 hash of sensitive data for logging
func hashForLogging(sensitive string) string {
	if sensitive == "" {
		return "<empty>"
	}
	hash := sha256.Sum256([]byte(sensitive))
	return hex.EncodeToString(hash[:])[:16]
}
