// Package oauth is a passwordless OAuth 2.1 authorization server library.
// It extends the standard authorization code and refresh token grants with a
// magic_link grant: users authenticate by clicking a single-use emailed
// link instead of presenting a password.
//
// The package wires the grant server, the account use cases (register,
// send link, validate, invalidate), storage, mail delivery, and the HTTP
// layer into one embeddable unit:
//
//	store := memory.New()
//	srv, err := oauth.New(store, sender, &oauth.Config{...}, logger)
//	handler := oauth.NewHandler(srv, logger)
//	handler.RegisterRoutes(mux)
package oauth

import (
	"fmt"
	"log/slog"

	"github.com/linklogin/magiclink-oauth/instrumentation"
	"github.com/linklogin/magiclink-oauth/interactor"
	"github.com/linklogin/magiclink-oauth/mail"
	"github.com/linklogin/magiclink-oauth/security"
	"github.com/linklogin/magiclink-oauth/server"
	"github.com/linklogin/magiclink-oauth/storage"
	"github.com/linklogin/magiclink-oauth/tokens"
)

// Server bundles the grant server and the account use cases behind one
// facade. Construct it with New and serve it with NewHandler.
type Server struct {
	grants     *server.Server
	interactor *interactor.Interactor
	store      storage.Store
	config     *Config
	logger     *slog.Logger

	// Instrumentation provides OpenTelemetry metrics and tracing.
	// Optional; set via SetInstrumentation before serving traffic.
	Instrumentation *instrumentation.Instrumentation

	auditor      *security.Auditor
	rateLimiter  *security.RateLimiter
	emailLimiter *security.RateLimiter
}

// New creates a Server from a storage backend and a mail sender.
func New(store storage.Store, sender mail.Sender, config *Config, logger *slog.Logger) (*Server, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if sender == nil {
		return nil, fmt.Errorf("mail sender is required")
	}
	if config == nil {
		config = &Config{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	grants, err := server.New(store, config.Server, logger)
	if err != nil {
		return nil, err
	}

	s := &Server{
		grants: grants,
		store:  store,
		config: config,
		logger: logger,
	}

	if config.EncryptionKey != "" {
		key, err := security.KeyFromBase64(config.EncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("invalid encryption key: %w", err)
		}
		enc, err := security.NewEncryptor(key)
		if err != nil {
			return nil, fmt.Errorf("failed to create encryptor: %w", err)
		}
		grants.SetEncryptor(enc)
	}

	s.auditor = security.NewAuditor(logger, !config.DisableAudit)
	grants.SetAuditor(s.auditor)

	if !config.RateLimit.Disabled {
		s.rateLimiter = security.NewRateLimiter(config.RateLimit.rate(), config.RateLimit.burst(), logger)
		grants.SetRateLimiter(s.rateLimiter)
	}
	if !config.EmailRateLimit.Disabled {
		s.emailLimiter = security.NewRateLimiter(config.EmailRateLimit.rate(), config.EmailRateLimit.burst(), logger)
	}

	factory := tokens.NewFactory(store, tokens.Config{
		LoginTokenTTL:        config.LoginTokenTTL,
		RegistrationTokenTTL: config.RegistrationTokenTTL,
	}, nil)

	s.interactor, err = interactor.New(interactor.Params{
		Store:   store,
		Server:  grants,
		Factory: factory,
		Sender:  sender,
		Links: mail.LinkBuilder{
			LoginURL:  config.MailLinks.LoginURL,
			VerifyURL: config.MailLinks.VerifyURL,
		},
		Auditor:      s.auditor,
		EmailLimiter: s.emailLimiter,
		Logger:       logger,
	})
	if err != nil {
		return nil, err
	}

	return s, nil
}

// instrumentable is implemented by storage backends that export size gauges.
type instrumentable interface {
	SetInstrumentation(inst *instrumentation.Instrumentation)
}

// SetInstrumentation wires OpenTelemetry instrumentation into the server
// and, when the storage backend supports it, registers its size gauges.
func (s *Server) SetInstrumentation(inst *instrumentation.Instrumentation) error {
	s.Instrumentation = inst
	if inst == nil {
		return nil
	}
	if im, ok := s.store.(instrumentable); ok {
		im.SetInstrumentation(inst)
	}
	return nil
}

// Grants exposes the underlying grant server for advanced wiring, e.g.
// overriding the clock in tests.
func (s *Server) Grants() *server.Server {
	return s.grants
}

// Interactor exposes the account use cases for callers that bypass HTTP.
func (s *Server) Interactor() *interactor.Interactor {
	return s.interactor
}

// Store exposes the storage backend.
func (s *Server) Store() storage.Store {
	return s.store
}

// Config returns the server configuration.
func (s *Server) Config() *Config {
	return s.config
}

// Close stops background goroutines (rate limiter cleanup). The storage
// backend is not closed; the caller owns it.
func (s *Server) Close() {
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}
	if s.emailLimiter != nil {
		s.emailLimiter.Stop()
	}
}
