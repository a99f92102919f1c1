package server

import (
	"log/slog"
)

// Config holds authorization server configuration
type Config struct {
	// Issuer is the server's issuer identifier (base URL)
	Issuer string

	// AuthorizationCodeTTL is how long authorization codes are valid
	AuthorizationCodeTTL int64 // seconds, default: 600 (10 minutes)

	// AccessTokenTTL is how long access tokens are valid
	AccessTokenTTL int64 // seconds, default: 3600 (1 hour)

	// RefreshTokenTTL is how long refresh tokens are valid
	RefreshTokenTTL int64 // seconds, default: 7776000 (90 days)

	// RequirePKCE enforces PKCE for confidential clients. Public clients must
	// always present a code_challenge regardless of this setting; disabling it
	// exists only for legacy confidential clients.
	// Default: true
	RequirePKCE bool // default: true

	// AllowPKCEPlain allows the 'plain' code_challenge_method.
	// The 'plain' method is deprecated in OAuth 2.1; when false only S256 is
	// accepted.
	// Default: false
	AllowPKCEPlain bool // default: false

	// TrustProxy enables trusting X-Forwarded-For and X-Real-IP headers.
	// Only enable behind a trusted reverse proxy.
	// Default: false
	TrustProxy bool // default: false

	// TrustedProxyCount is the number of trusted proxies in front of this
	// server, used with TrustProxy to extract the client IP.
	// Default: 1
	TrustedProxyCount int // default: 1

	// ClockSkewGracePeriod is the grace period for token expiration checks
	// (in seconds), absorbing time drift between systems.
	// Default: 5
	ClockSkewGracePeriod int64 // seconds, default: 5

	// MinStateLength is the minimum accepted length of the state parameter.
	// Short state values could be brute-forced via timing side channels.
	// Default: 8
	MinStateLength int // default: 8

	// AllowInsecureHTTP permits a non-localhost http:// issuer. Never enable
	// in production.
	// Default: false
	AllowInsecureHTTP bool // default: false

	// AllowedCustomSchemes is a list of allowed custom redirect URI scheme
	// patterns (regex) for native apps, e.g. "^com\\.example\\..*$".
	// Empty allows all RFC 3986 compliant schemes.
	AllowedCustomSchemes []string
}

// applySecureDefaults applies secure-by-default configuration values
// This follows the principle: secure by default, opt-in for less secure options
func applySecureDefaults(config *Config, logger *slog.Logger) *Config {
	applyTimeDefaults(config)
	applySecurityDefaults(config, logger)
	return config
}

// applyTimeDefaults sets default values for time-based configuration
func applyTimeDefaults(config *Config) {
	if config.AuthorizationCodeTTL == 0 {
		config.AuthorizationCodeTTL = 600 // 10 minutes
	}
	if config.AccessTokenTTL == 0 {
		config.AccessTokenTTL = 3600 // 1 hour
	}
	if config.RefreshTokenTTL == 0 {
		config.RefreshTokenTTL = 7776000 // 90 days
	}
	if config.TrustedProxyCount == 0 {
		config.TrustedProxyCount = 1
	}
	if config.ClockSkewGracePeriod == 0 {
		config.ClockSkewGracePeriod = 5
	}
	if config.MinStateLength == 0 {
		config.MinStateLength = 8
	}
}

// applySecurityDefaults sets secure defaults for security-related configuration.
// Heuristic: if all security bools are false the config is fresh and gets the
// secure defaults; otherwise the operator chose, and we warn about weak choices.
func applySecurityDefaults(config *Config, logger *slog.Logger) {
	isDefaultConfig := !config.RequirePKCE &&
		!config.AllowPKCEPlain &&
		!config.TrustProxy &&
		!config.AllowInsecureHTTP

	if isDefaultConfig {
		config.RequirePKCE = true
		config.AllowPKCEPlain = false
		config.TrustProxy = false
		return
	}

	logSecurityWarnings(config, logger)
}

// logSecurityWarnings logs warnings for insecure configuration settings
func logSecurityWarnings(config *Config, logger *slog.Logger) {
	if !config.RequirePKCE {
		logger.Warn("SECURITY WARNING: PKCE is DISABLED",
			"risk", "Authorization code interception attacks",
			"recommendation", "Set RequirePKCE=true for OAuth 2.1 compliance")
	}
	if config.AllowPKCEPlain {
		logger.Warn("SECURITY WARNING: Plain PKCE method is ALLOWED",
			"risk", "Weak code challenge protection",
			"recommendation", "Set AllowPKCEPlain=false to require S256")
	}
	if config.TrustProxy {
		logger.Warn("SECURITY NOTICE: Trusting proxy headers",
			"risk", "IP spoofing if proxy is not properly configured",
			"config", "TrustedProxyCount should match your proxy chain length")
	}
	if config.AllowInsecureHTTP {
		logger.Warn("SECURITY WARNING: Insecure HTTP issuer is ALLOWED",
			"risk", "Tokens and magic links exposed to interception",
			"recommendation", "Use HTTPS for all non-localhost deployments")
	}
}
