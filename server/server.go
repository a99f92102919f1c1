package server

import (
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/oauth2"

	"github.com/linklogin/magiclink-oauth/security"
	"github.com/linklogin/magiclink-oauth/storage"
)

// safeTruncate safely truncates a string to maxLen characters without
// panicking. Used when logging prefixes of secrets.
func safeTruncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}

// Server implements the grant logic of the authorization server: the magic
// link grant, the PKCE-protected authorization code flow, and refresh token
// rotation. It is transport-agnostic; the root package adapts it to HTTP.
type Server struct {
	store       storage.Store
	Encryptor   *security.Encryptor
	Auditor     *security.Auditor
	RateLimiter *security.RateLimiter // IP-based rate limiter
	Logger      *slog.Logger
	Config      *Config

	// Clock overrides the time source, for tests. nil means time.Now.
	Clock func() time.Time
}

// New creates a new authorization server
func New(store storage.Store, config *Config, logger *slog.Logger) (*Server, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if config == nil {
		config = &Config{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	config = applySecureDefaults(config, logger)

	srv := &Server{
		store:  store,
		Config: config,
		Logger: logger,
	}

	// OAuth 2.1 requires HTTPS for all non-localhost endpoints.
	if err := srv.validateHTTPSEnforcement(); err != nil {
		return nil, err
	}

	return srv, nil
}

// SetEncryptor sets the encryptor protecting refresh token and
// authorization code wire payloads.
func (s *Server) SetEncryptor(enc *security.Encryptor) {
	s.Encryptor = enc
}

// SetAuditor sets the security auditor
func (s *Server) SetAuditor(aud *security.Auditor) {
	s.Auditor = aud
}

// SetRateLimiter sets the IP-based rate limiter
func (s *Server) SetRateLimiter(rl *security.RateLimiter) {
	s.RateLimiter = rl
}

// Store exposes the underlying storage, for wiring by the interactor layer.
func (s *Server) Store() storage.Store {
	return s.store
}

func (s *Server) now() time.Time {
	if s.Clock != nil {
		return s.Clock()
	}
	return time.Now()
}

// generateRandomToken generates a cryptographically secure random token.
// This is an alias for oauth2.GenerateVerifier() which produces a URL-safe,
// base64-encoded random string suitable for token identifiers.
func generateRandomToken() string {
	return oauth2.GenerateVerifier()
}
