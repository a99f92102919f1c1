package server

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strings"

	"github.com/linklogin/magiclink-oauth/storage"
)

// Note: PKCE and URI validation constants are intentionally duplicated from
// the root package constants to avoid circular imports (root imports server).
// Keep these in sync with constants.go.

// PKCE validation constants (RFC 7636)
const (
	MinCodeVerifierLength = 43
	MaxCodeVerifierLength = 128
	PKCEMethodS256        = "S256"
	PKCEMethodPlain       = "plain"
)

// URI scheme constants
const (
	SchemeHTTP  = "http"
	SchemeHTTPS = "https"
)

var (
	// DangerousSchemes lists URI schemes that must never be allowed for security
	DangerousSchemes = []string{"javascript", "data", "file", "vbscript", "about"}

	// DefaultRFC3986SchemePattern is the default pattern for custom URI schemes
	DefaultRFC3986SchemePattern = []string{"^[a-z][a-z0-9+.-]*$"}
)

// validateHTTPSEnforcement ensures the server runs over HTTPS outside
// localhost development. OAuth over HTTP exposes tokens, codes, and magic
// links to interception.
func (s *Server) validateHTTPSEnforcement() error {
	if s.Config.Issuer == "" {
		return nil
	}

	issuerURL, err := url.Parse(s.Config.Issuer)
	if err != nil {
		return fmt.Errorf("invalid issuer URL: %w", err)
	}

	switch issuerURL.Scheme {
	case SchemeHTTPS:
		return nil
	case SchemeHTTP:
		hostname := issuerURL.Hostname()

		if isLocalhostHostname(hostname) {
			if !s.Config.AllowInsecureHTTP {
				s.Logger.Warn("Running over HTTP on localhost",
					"issuer", s.Config.Issuer,
					"recommendation", "Use HTTPS for production-like testing")
			}
			return nil
		}

		if !s.Config.AllowInsecureHTTP {
			return fmt.Errorf(
				"issuer must use HTTPS in production (got %s://%s); "+
					"set AllowInsecureHTTP=true only for development",
				issuerURL.Scheme, hostname)
		}

		s.Logger.Error("CRITICAL: serving OAuth over HTTP on a non-localhost host",
			"issuer", s.Config.Issuer,
			"risk", "All tokens and magic links exposed to interception")
		return nil
	default:
		return fmt.Errorf("invalid issuer URL scheme: %s (must be http or https)", issuerURL.Scheme)
	}
}

// isLocalhostHostname checks if a hostname refers to the local machine:
// the 127.0.0.0/8 range, ::1, localhost, and 0.0.0.0.
func isLocalhostHostname(hostname string) bool {
	if hostname == "localhost" || hostname == "0.0.0.0" {
		return true
	}

	// url.Hostname() may keep brackets on IPv6 literals; net.ParseIP does not
	// accept them.
	cleanHostname := hostname
	if len(hostname) > 2 && hostname[0] == '[' && hostname[len(hostname)-1] == ']' {
		cleanHostname = hostname[1 : len(hostname)-1]
	}

	if ip := net.ParseIP(cleanHostname); ip != nil {
		return ip.IsLoopback()
	}
	return false
}

// validateRedirectURI validates that a redirect URI is registered for the
// client (exact string match, no prefix or wildcard matching) and passes
// scheme-level security checks.
func (s *Server) validateRedirectURI(client *storage.Client, redirectURI string) error {
	found := false
	for _, uri := range client.RedirectURIs {
		if uri == redirectURI {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("redirect URI not registered for client")
	}

	return validateRedirectURISecurity(redirectURI, s.Config.Issuer, s.Config.AllowedCustomSchemes)
}

// validateStateParameter enforces presence and minimum entropy of the state
// parameter used for CSRF protection.
func (s *Server) validateStateParameter(state string) error {
	if state == "" {
		return fmt.Errorf("state parameter is required for CSRF protection")
	}
	if len(state) < s.Config.MinStateLength {
		return fmt.Errorf("state parameter must be at least %d characters", s.Config.MinStateLength)
	}
	return nil
}

// validatePKCE validates the PKCE code verifier against the challenge per RFC 7636
func (s *Server) validatePKCE(challenge, method, verifier string) error {
	if challenge == "" {
		// No PKCE bound to this grant
		return nil
	}

	if verifier == "" {
		return fmt.Errorf("code_verifier is required when code_challenge is present")
	}

	// RFC 7636: code_verifier must be 43-128 characters
	if len(verifier) < MinCodeVerifierLength {
		return fmt.Errorf("code_verifier must be at least %d characters (RFC 7636)", MinCodeVerifierLength)
	}
	if len(verifier) > MaxCodeVerifierLength {
		return fmt.Errorf("code_verifier must be at most %d characters (RFC 7636)", MaxCodeVerifierLength)
	}

	// RFC 7636 charset: [A-Z] / [a-z] / [0-9] / "-" / "." / "_" / "~".
	// Rejecting everything else also blocks control characters and null bytes.
	for _, ch := range verifier {
		isValid := (ch >= 'A' && ch <= 'Z') || (ch >= 'a' && ch <= 'z') || (ch >= '0' && ch <= '9') ||
			ch == '-' || ch == '.' || ch == '_' || ch == '~'
		if !isValid {
			return fmt.Errorf("code_verifier contains invalid characters (must be [A-Za-z0-9-._~])")
		}
	}

	var computedChallenge string

	switch method {
	case PKCEMethodS256:
		hash := sha256.Sum256([]byte(verifier))
		computedChallenge = base64.RawURLEncoding.EncodeToString(hash[:])

	case PKCEMethodPlain:
		if !s.Config.AllowPKCEPlain {
			return fmt.Errorf("'%s' code_challenge_method is not allowed (configure AllowPKCEPlain=true if needed for legacy clients)", PKCEMethodPlain)
		}
		computedChallenge = verifier
		s.Logger.Warn("Using insecure 'plain' PKCE method",
			"recommendation", "Upgrade client to use S256")

	default:
		return fmt.Errorf("unsupported code_challenge_method: %s", method)
	}

	// Constant-time comparison to prevent timing side channels
	if subtle.ConstantTimeCompare([]byte(computedChallenge), []byte(challenge)) != 1 {
		return fmt.Errorf("code_verifier does not match code_challenge")
	}

	return nil
}

// validatePKCEParams checks the challenge parameters of an authorization
// request before any code is issued. Public clients must always present a
// code_challenge; RequirePKCE extends the mandate to confidential clients,
// which can otherwise rely on their secret.
func (s *Server) validatePKCEParams(codeChallenge, codeChallengeMethod string, confidential bool) error {
	if codeChallenge == "" {
		if !confidential {
			return fmt.Errorf("code_challenge is required for public clients (RFC 7636)")
		}
		if s.Config.RequirePKCE {
			return fmt.Errorf("PKCE is required: code_challenge and code_challenge_method are mandatory (OAuth 2.1)")
		}
		return nil
	}

	if codeChallengeMethod == "" {
		return fmt.Errorf("code_challenge_method is required when code_challenge is provided")
	}
	if codeChallengeMethod == PKCEMethodPlain && !s.Config.AllowPKCEPlain {
		return fmt.Errorf("'plain' code_challenge_method is not allowed (only S256 is supported)")
	}
	if codeChallengeMethod != PKCEMethodS256 && codeChallengeMethod != PKCEMethodPlain {
		return fmt.Errorf("unsupported code_challenge_method: %s", codeChallengeMethod)
	}
	return nil
}

// validateCustomScheme validates a custom URI scheme against allowed patterns
func validateCustomScheme(scheme string, allowedSchemes []string) error {
	schemeLower := strings.ToLower(scheme)

	for _, dangerous := range DangerousSchemes {
		if schemeLower == dangerous {
			return fmt.Errorf("redirect_uri scheme '%s' is not allowed for security reasons", scheme)
		}
	}

	if len(allowedSchemes) == 0 {
		allowedSchemes = DefaultRFC3986SchemePattern
	}

	for _, pattern := range allowedSchemes {
		matched, err := regexp.MatchString(pattern, schemeLower)
		if err != nil {
			return fmt.Errorf("invalid scheme pattern '%s': %w", pattern, err)
		}
		if matched {
			return nil
		}
	}

	return fmt.Errorf("redirect_uri scheme '%s' does not match allowed patterns", scheme)
}

// isLoopbackAddress checks if a hostname is a loopback address
func isLoopbackAddress(hostname string) bool {
	hostname = strings.TrimSpace(strings.Trim(hostname, "[]"))

	switch hostname {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return strings.HasPrefix(hostname, "127.") || strings.HasPrefix(hostname, "localhost:")
}

// validateRedirectURISecurity performs scheme-level security validation on a
// redirect URI per OAuth 2.0 Security BCP.
func validateRedirectURISecurity(redirectURI, serverIssuer string, allowedCustomSchemes []string) error {
	parsed, err := url.Parse(redirectURI)
	if err != nil {
		return fmt.Errorf("invalid redirect_uri format: %w", err)
	}

	// Security BCP section 4.1.3: redirect_uri MUST NOT contain fragments
	if parsed.Fragment != "" {
		return fmt.Errorf("redirect_uri must not contain fragments")
	}

	scheme := strings.ToLower(parsed.Scheme)

	if scheme == SchemeHTTP || scheme == SchemeHTTPS {
		hostname := strings.ToLower(parsed.Hostname())

		// Loopback redirects stay http-capable for native app development.
		if !isLoopbackAddress(hostname) && scheme != SchemeHTTPS {
			if serverParsed, err := url.Parse(serverIssuer); err == nil && serverParsed.Scheme == SchemeHTTPS {
				return fmt.Errorf("redirect_uri must use HTTPS in production (got %s://)", scheme)
			}
		}
		return nil
	}

	// Custom scheme (native/mobile apps)
	return validateCustomScheme(scheme, allowedCustomSchemes)
}
