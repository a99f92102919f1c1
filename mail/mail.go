// Package mail delivers magic link and verification link emails. The server
// depends only on the Sender interface; deployments plug in SMTP or any
// provider-backed implementation.
package mail

import (
	"context"
	"log/slog"
	"net/url"
	"time"

	"github.com/linklogin/magiclink-oauth/storage"
)

// Delivery describes one outbound link email.
type Delivery struct {
	// Email is the recipient address.
	Email string

	// Token is the single-use secret embedded in the link.
	Token string

	// TokenType distinguishes login links from registration links.
	TokenType storage.EmailTokenType

	// LinkURL is the fully assembled URL the recipient clicks.
	LinkURL string

	// ExpiresAt is when the link stops working, for display in the email body.
	ExpiresAt time.Time
}

// Sender delivers link emails. Implementations must treat a nil error as a
// durable hand-off to the mail system; the caller reports delivery failures
// to the end user.
type Sender interface {
	SendMagicLink(ctx context.Context, d Delivery) error
	SendVerificationLink(ctx context.Context, d Delivery) error
}

// LinkBuilder assembles clickable link URLs from a base endpoint.
type LinkBuilder struct {
	// LoginURL is the endpoint that accepts magic link tokens, e.g.
	// "https://auth.example.com/magic".
	LoginURL string

	// VerifyURL is the endpoint that accepts registration tokens, e.g.
	// "https://auth.example.com/validate".
	VerifyURL string
}

// Build returns the link URL for a token, with the secret and any OAuth
// state carried as query parameters.
func (b LinkBuilder) Build(token *storage.EmailToken) string {
	base := b.LoginURL
	if token.TokenType == storage.EmailTokenRegistration {
		base = b.VerifyURL
	}

	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	q := u.Query()
	q.Set("token", token.Token)
	if token.State != "" {
		q.Set("state", token.State)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// LogSender writes deliveries to the structured log instead of sending
// email. For development and tests only.
type LogSender struct {
	Logger *slog.Logger
}

func (s LogSender) log(msg string, d Delivery) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info(msg,
		"email", d.Email,
		"link", d.LinkURL,
		"expires_at", d.ExpiresAt,
	)
}

func (s LogSender) SendMagicLink(_ context.Context, d Delivery) error {
	s.log("magic link (not sent, log sender)", d)
	return nil
}

func (s LogSender) SendVerificationLink(_ context.Context, d Delivery) error {
	s.log("verification link (not sent, log sender)", d)
	return nil
}

var _ Sender = LogSender{}
