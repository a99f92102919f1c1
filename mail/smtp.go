package mail

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/linklogin/magiclink-oauth/storage"
)

// SMTPConfig configures the SMTP sender.
type SMTPConfig struct {
	// Addr is the server address in host:port form, e.g. "smtp.example.com:587".
	Addr string

	// From is the envelope and header sender address.
	From string

	// Username and Password enable PLAIN authentication when non-empty.
	Username string
	Password string

	// Host overrides the auth host derived from Addr. Rarely needed.
	Host string
}

// SMTPSender delivers link emails over SMTP with STARTTLS as negotiated by
// net/smtp.
type SMTPSender struct {
	cfg SMTPConfig
}

// NewSMTPSender creates an SMTP-backed sender.
func NewSMTPSender(cfg SMTPConfig) (*SMTPSender, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("smtp address is required")
	}
	if cfg.From == "" {
		return nil, fmt.Errorf("smtp from address is required")
	}
	if cfg.Host == "" {
		host, _, ok := strings.Cut(cfg.Addr, ":")
		if !ok || host == "" {
			return nil, fmt.Errorf("smtp address must be host:port, got %q", cfg.Addr)
		}
		cfg.Host = host
	}
	return &SMTPSender{cfg: cfg}, nil
}

func (s *SMTPSender) SendMagicLink(ctx context.Context, d Delivery) error {
	return s.send(ctx, d, "Your sign-in link",
		"Click the link below to sign in. It can be used once and expires at %s.\r\n\r\n%s\r\n")
}

func (s *SMTPSender) SendVerificationLink(ctx context.Context, d Delivery) error {
	return s.send(ctx, d, "Confirm your registration",
		"Click the link below to confirm your registration. It expires at %s.\r\n\r\n%s\r\n")
}

func (s *SMTPSender) send(ctx context.Context, d Delivery, subject, bodyFormat string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d.Email == "" || d.LinkURL == "" {
		return fmt.Errorf("delivery requires recipient and link")
	}

	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", s.cfg.From)
	fmt.Fprintf(&msg, "To: %s\r\n", d.Email)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")
	fmt.Fprintf(&msg, bodyFormat, d.ExpiresAt.UTC().Format("2006-01-02 15:04 UTC"), d.LinkURL)

	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}

	if err := smtp.SendMail(s.cfg.Addr, auth, s.cfg.From, []string{d.Email}, []byte(msg.String())); err != nil {
		return fmt.Errorf("smtp delivery failed: %w", err)
	}
	return nil
}

var _ Sender = (*SMTPSender)(nil)

// DeliverLink routes a delivery by token type.
func DeliverLink(ctx context.Context, sender Sender, d Delivery) error {
	if d.TokenType == storage.EmailTokenRegistration {
		return sender.SendVerificationLink(ctx, d)
	}
	return sender.SendMagicLink(ctx, d)
}
