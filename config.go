package oauth

import (
	"time"

	"github.com/linklogin/magiclink-oauth/server"
)

// Config holds the top-level configuration of the authorization server. The
// zero value works for local development against the in-memory store; set
// Server.Issuer and MailLinks for anything user-facing.
type Config struct {
	// Server configures the grant logic (TTLs, PKCE policy, issuer).
	Server *server.Config

	// EncryptionKey is the base64-encoded 32-byte AES key protecting
	// refresh token and authorization code wire payloads. Empty disables
	// encryption at rest on the wire (tokens are still random and opaque).
	EncryptionKey string

	// DisableAudit turns off structured security audit logging. Audit
	// events hash PII (user IDs, email addresses) before logging, so the
	// default is on.
	// Default: false (audit enabled)
	DisableAudit bool

	// RateLimit configures the per-IP limiter on the token endpoints.
	RateLimit RateLimitConfig

	// EmailRateLimit configures the per-address limiter on link requests.
	EmailRateLimit RateLimitConfig

	// LoginTokenTTL is how long magic link sign-in tokens stay valid.
	// Default: 15 minutes
	LoginTokenTTL time.Duration

	// RegistrationTokenTTL is how long registration tokens stay valid.
	// Default: 24 hours
	RegistrationTokenTTL time.Duration

	// MailLinks holds the public URLs embedded in outgoing mail.
	MailLinks MailLinksConfig
}

// RateLimitConfig configures one rate limiter. Zero values fall back to the
// defaults noted on each field.
type RateLimitConfig struct {
	// Disabled turns the limiter off entirely.
	Disabled bool

	// RequestsPerSecond is the sustained rate per key. Default: 10
	RequestsPerSecond int

	// Burst is the short-term burst per key. Default: 20
	Burst int
}

// MailLinksConfig holds the public URLs embedded in outgoing mail.
type MailLinksConfig struct {
	// LoginURL is the page that accepts magic link tokens.
	LoginURL string

	// VerifyURL is the page that accepts registration tokens.
	VerifyURL string
}

func (c RateLimitConfig) rate() int {
	if c.RequestsPerSecond <= 0 {
		return 10
	}
	return c.RequestsPerSecond
}

func (c RateLimitConfig) burst() int {
	if c.Burst <= 0 {
		return 20
	}
	return c.Burst
}
