// Package tokens mints the single-use email tokens behind magic links and
// registration verification links.
package tokens

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/linklogin/magiclink-oauth/storage"
)

const (
	// secretLength is the length in hex characters of a token secret
	// (16 random bytes).
	secretLength = 32

	// createRetries bounds retry attempts when a freshly minted secret
	// collides with a live row.
	createRetries = 3
)

// Defaults applied when a Config field is zero.
const (
	DefaultLoginTokenTTL        = 15 * time.Minute
	DefaultRegistrationTokenTTL = 24 * time.Hour
)

// Config holds the token lifetimes.
type Config struct {
	LoginTokenTTL        time.Duration
	RegistrationTokenTTL time.Duration
}

// Request carries the context a token is minted in. Everything except
// UserID is optional; OAuth fields are only present when the link was
// requested as part of an authorization flow.
type Request struct {
	UserID              string
	ClientID            string
	CodeChallenge       string
	CodeChallengeMethod string
	RedirectURI         string
	State               string
	IPAddress           string
	UserAgent           string
}

// Factory issues email tokens with fresh random secrets and configured
// lifetimes.
type Factory struct {
	repo storage.EmailTokenRepository
	cfg  Config
	now  func() time.Time
}

// NewFactory creates a token factory. now may be nil, in which case
// time.Now is used.
func NewFactory(repo storage.EmailTokenRepository, cfg Config, now func() time.Time) *Factory {
	if cfg.LoginTokenTTL <= 0 {
		cfg.LoginTokenTTL = DefaultLoginTokenTTL
	}
	if cfg.RegistrationTokenTTL <= 0 {
		cfg.RegistrationTokenTTL = DefaultRegistrationTokenTTL
	}
	if now == nil {
		now = time.Now
	}
	return &Factory{repo: repo, cfg: cfg, now: now}
}

// IssueLoginToken mints and persists a login (magic link) token.
func (f *Factory) IssueLoginToken(ctx context.Context, req Request) (*storage.EmailToken, error) {
	return f.issue(ctx, storage.EmailTokenLogin, f.cfg.LoginTokenTTL, req)
}

// IssueRegistrationToken mints and persists a registration verification token.
func (f *Factory) IssueRegistrationToken(ctx context.Context, req Request) (*storage.EmailToken, error) {
	return f.issue(ctx, storage.EmailTokenRegistration, f.cfg.RegistrationTokenTTL, req)
}

// Reissue mints a replacement for an expired token, carrying over its type
// and request context with a fresh secret and lifetime. The expired row is
// left for the cleanup sweep.
func (f *Factory) Reissue(ctx context.Context, expired *storage.EmailToken) (*storage.EmailToken, error) {
	if expired == nil {
		return nil, fmt.Errorf("expired token is required")
	}
	ttl := f.cfg.LoginTokenTTL
	if expired.TokenType == storage.EmailTokenRegistration {
		ttl = f.cfg.RegistrationTokenTTL
	}
	return f.issue(ctx, expired.TokenType, ttl, Request{
		UserID:              expired.UserID,
		ClientID:            expired.ClientID,
		CodeChallenge:       expired.CodeChallenge,
		CodeChallengeMethod: expired.CodeChallengeMethod,
		RedirectURI:         expired.RedirectURI,
		State:               expired.State,
		IPAddress:           expired.IPAddress,
		UserAgent:           expired.UserAgent,
	})
}

func (f *Factory) issue(ctx context.Context, tokenType storage.EmailTokenType, ttl time.Duration, req Request) (*storage.EmailToken, error) {
	if req.UserID == "" {
		return nil, fmt.Errorf("user id is required")
	}

	now := f.now()
	var lastErr error
	for attempt := 0; attempt < createRetries; attempt++ {
		token := &storage.EmailToken{
			ID:                  storage.RandomHex(40),
			Token:               storage.RandomHex(secretLength),
			TokenType:           tokenType,
			UserID:              req.UserID,
			ClientID:            req.ClientID,
			CodeChallenge:       req.CodeChallenge,
			CodeChallengeMethod: req.CodeChallengeMethod,
			RedirectURI:         req.RedirectURI,
			State:               req.State,
			IPAddress:           req.IPAddress,
			UserAgent:           req.UserAgent,
			ExpiresAt:           now.Add(ttl),
			CreatedAt:           now,
		}
		if err := f.repo.CreateEmailToken(ctx, token); err != nil {
			if errors.Is(err, storage.ErrDuplicate) {
				lastErr = err
				continue
			}
			return nil, err
		}
		return token, nil
	}
	return nil, fmt.Errorf("failed to mint a unique token secret: %w", lastErr)
}
