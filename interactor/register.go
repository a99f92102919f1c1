package interactor

import (
	"context"
	"errors"
	"net/mail"
	"strings"

	"github.com/linklogin/magiclink-oauth/storage"
	"github.com/linklogin/magiclink-oauth/tokens"
)

// RegisterRequest carries the inputs of a registration.
type RegisterRequest struct {
	Email          string
	DisplayName    string
	AdditionalData map[string]any

	ClientID  string
	IPAddress string
	UserAgent string
}

// RegisterUser creates an account and mails a verification link. The user
// row, the registration token, and the delivery succeed or fail as one
// unit: a mail failure rolls the account back so the address can register
// again.
func (i *Interactor) RegisterUser(ctx context.Context, req RegisterRequest) Result {
	email, err := normalizeEmail(req.Email)
	if err != nil {
		return result(CodeInvalidToken, "A valid email address is required")
	}

	if i.emailLimiter != nil && !i.emailLimiter.Allow(email) {
		if i.auditor != nil {
			i.auditor.LogRateLimitExceeded(req.IPAddress, email)
		}
		return result(CodeRateLimited, "Too many requests for this address")
	}

	exists, err := i.store.EmailExists(ctx, email)
	if err != nil {
		i.logger.Error("Email existence check failed", "error", err)
		return result(CodeSystemError, "Registration is temporarily unavailable")
	}
	if exists {
		return result(CodeEmailInSystem, "This email address is already registered")
	}

	var user *storage.User
	txErr := i.store.WithinTransaction(ctx, func(ctx context.Context) error {
		now := i.now()
		user = &storage.User{
			Email:          email,
			DisplayName:    req.DisplayName,
			AdditionalData: req.AdditionalData,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := i.store.CreateUser(ctx, user); err != nil {
			return err
		}

		token, err := i.factory.IssueRegistrationToken(ctx, tokens.Request{
			UserID:    user.ID,
			ClientID:  req.ClientID,
			IPAddress: req.IPAddress,
			UserAgent: req.UserAgent,
		})
		if err != nil {
			return err
		}

		return i.deliver(ctx, email, token)
	})
	if txErr != nil {
		if errors.Is(txErr, storage.ErrDuplicate) {
			// Lost a race with a concurrent registration of the same address.
			return result(CodeEmailInSystem, "This email address is already registered")
		}
		i.logger.Error("Registration failed", "error", txErr)
		return result(CodeEmailSendFailed, "Could not send the verification email")
	}

	if i.auditor != nil {
		i.auditor.LogUserRegistered(user.ID, email, req.IPAddress)
	}
	i.logger.Info("User registered", "user_id", user.ID)

	return result(CodeEmailRegistered, "Check your email for a verification link")
}

// SendMagicLinkRequest carries the inputs of a magic link request. The PKCE
// fields bind the eventual grant to the requesting client session.
type SendMagicLinkRequest struct {
	Email string

	ClientID            string
	CodeChallenge       string
	CodeChallengeMethod string
	RedirectURI         string
	State               string

	IPAddress string
	UserAgent string
}

// SendMagicLink mails a sign-in link. The response is shaped identically
// for known and unknown addresses so the endpoint cannot be used to probe
// which emails are registered; only a rate limit or a delivery failure for
// a known address changes the outcome.
func (i *Interactor) SendMagicLink(ctx context.Context, req SendMagicLinkRequest) Result {
	email, err := normalizeEmail(req.Email)
	if err != nil {
		return result(CodeInvalidToken, "A valid email address is required")
	}

	if i.emailLimiter != nil && !i.emailLimiter.Allow(email) {
		if i.auditor != nil {
			i.auditor.LogRateLimitExceeded(req.IPAddress, email)
		}
		return result(CodeRateLimited, "Too many requests for this address")
	}

	user, err := i.store.FindUserByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			i.logger.Error("User lookup failed", "error", err)
			return result(CodeSystemError, "Sign-in is temporarily unavailable")
		}
		if i.auditor != nil {
			i.auditor.LogMagicLinkRequested(email, req.IPAddress, false)
		}
		// Unknown address: answer as if a link was sent.
		return result(CodeEmailSent, "If the address is registered, a sign-in link is on its way")
	}

	token, err := i.factory.IssueLoginToken(ctx, tokens.Request{
		UserID:              user.ID,
		ClientID:            req.ClientID,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
		RedirectURI:         req.RedirectURI,
		State:               req.State,
		IPAddress:           req.IPAddress,
		UserAgent:           req.UserAgent,
	})
	if err != nil {
		i.logger.Error("Login token issuance failed", "error", err)
		return result(CodeSystemError, "Sign-in is temporarily unavailable")
	}

	if err := i.deliver(ctx, email, token); err != nil {
		i.logger.Error("Magic link delivery failed", "error", err)
		return result(CodeEmailSendFailed, "Could not send the sign-in email")
	}

	if i.auditor != nil {
		i.auditor.LogMagicLinkRequested(email, req.IPAddress, true)
	}

	return result(CodeEmailSent, "If the address is registered, a sign-in link is on its way")
}

// normalizeEmail lowercases and trims an address and rejects ones that do
// not parse as a bare RFC 5322 address.
func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", errInvalidEmail
	}
	return email, nil
}

var errInvalidEmail = errors.New("invalid email address")
