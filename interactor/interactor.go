// Package interactor implements the application use cases on top of the
// grant server: registering users, sending magic links, validating
// registrations, authenticating tokens, and reissuing expired links. Every
// operation reports its outcome as a stable result code rather than leaking
// internal errors to callers.
package interactor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/linklogin/magiclink-oauth/mail"
	"github.com/linklogin/magiclink-oauth/security"
	"github.com/linklogin/magiclink-oauth/server"
	"github.com/linklogin/magiclink-oauth/storage"
	"github.com/linklogin/magiclink-oauth/tokens"
)

// Code is a stable machine-readable outcome of a use case.
type Code string

const (
	// CodeEmailRegistered: a new account was created and a verification
	// link was sent.
	CodeEmailRegistered Code = "EMAIL_REGISTERED"

	// CodeEmailInSystem: the address already belongs to an account.
	CodeEmailInSystem Code = "EMAIL_IN_SYSTEM"

	// CodeEmailSent: a magic link was sent, or the address is unknown and
	// the response is shaped as success to prevent enumeration.
	CodeEmailSent Code = "EMAIL_SENT"

	// CodeEmailSendFailed: the mail system rejected the delivery.
	CodeEmailSendFailed Code = "EMAIL_SEND_FAILED"

	// CodeTokenExpiredNewSent: the presented token had expired and a fresh
	// link was mailed as a replacement.
	CodeTokenExpiredNewSent Code = "TOKEN_EXPIRED_NEW_SENT"

	// CodeRegistrationValidated: the registration token was consumed and
	// the account marked verified.
	CodeRegistrationValidated Code = "REGISTRATION_VALIDATED"

	// CodeAuthenticated: a magic link token was exchanged for tokens.
	CodeAuthenticated Code = "AUTHENTICATED"

	// CodeTokenInvalidated: an outstanding link token was discarded.
	CodeTokenInvalidated Code = "TOKEN_INVALIDATED"

	// CodeInvalidToken: the token is unknown, consumed, or malformed.
	CodeInvalidToken Code = "INVALID_TOKEN"

	// CodeUserNotFound: the token is valid but its user no longer exists.
	CodeUserNotFound Code = "USER_NOT_FOUND"

	// CodeSystemError: an internal failure; the caller may retry.
	CodeSystemError Code = "SYSTEM_ERROR"

	// CodeRateLimited: the caller exceeded the request rate.
	CodeRateLimited Code = "RATE_LIMITED"
)

// Result is the outcome of a use case.
type Result struct {
	Code    Code
	Message string

	// Tokens carries the issued token pair for authentication outcomes.
	Tokens *server.TokenResponse
}

func result(code Code, message string) Result {
	return Result{Code: code, Message: message}
}

// Params bundles the collaborators of an Interactor.
type Params struct {
	Store        storage.Store
	Server       *server.Server
	Factory      *tokens.Factory
	Sender       mail.Sender
	Links        mail.LinkBuilder
	Auditor      *security.Auditor
	EmailLimiter *security.RateLimiter // per-address limiter for link requests
	Logger       *slog.Logger
	Clock        func() time.Time
}

// Interactor orchestrates the use cases.
type Interactor struct {
	store        storage.Store
	server       *server.Server
	factory      *tokens.Factory
	sender       mail.Sender
	links        mail.LinkBuilder
	auditor      *security.Auditor
	emailLimiter *security.RateLimiter
	logger       *slog.Logger
	clock        func() time.Time
}

// New creates an Interactor. Store, Server, Factory, and Sender are
// required; the rest default sensibly.
func New(p Params) (*Interactor, error) {
	if p.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if p.Server == nil {
		return nil, fmt.Errorf("server is required")
	}
	if p.Factory == nil {
		return nil, fmt.Errorf("token factory is required")
	}
	if p.Sender == nil {
		return nil, fmt.Errorf("mail sender is required")
	}
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	if p.Clock == nil {
		p.Clock = time.Now
	}
	return &Interactor{
		store:        p.Store,
		server:       p.Server,
		factory:      p.Factory,
		sender:       p.Sender,
		links:        p.Links,
		auditor:      p.Auditor,
		emailLimiter: p.EmailLimiter,
		logger:       p.Logger,
		clock:        p.Clock,
	}, nil
}

func (i *Interactor) now() time.Time {
	return i.clock()
}

// deliver sends the link email for a freshly minted token.
func (i *Interactor) deliver(ctx context.Context, email string, token *storage.EmailToken) error {
	d := mail.Delivery{
		Email:     email,
		Token:     token.Token,
		TokenType: token.TokenType,
		LinkURL:   i.links.Build(token),
		ExpiresAt: token.ExpiresAt,
	}
	return mail.DeliverLink(ctx, i.sender, d)
}
