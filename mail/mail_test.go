package mail

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/linklogin/magiclink-oauth/storage"
)

func TestLinkBuilder(t *testing.T) {
	b := LinkBuilder{
		LoginURL:  "https://auth.example.com/magic",
		VerifyURL: "https://auth.example.com/validate",
	}

	login := &storage.EmailToken{
		Token:     "secret123",
		TokenType: storage.EmailTokenLogin,
		State:     "xyzstate",
	}
	link := b.Build(login)
	u, err := url.Parse(link)
	if err != nil {
		t.Fatalf("invalid link %q: %v", link, err)
	}
	if u.Path != "/magic" {
		t.Errorf("login link path = %q, want /magic", u.Path)
	}
	if got := u.Query().Get("token"); got != "secret123" {
		t.Errorf("token param = %q", got)
	}
	if got := u.Query().Get("state"); got != "xyzstate" {
		t.Errorf("state param = %q", got)
	}

	reg := &storage.EmailToken{
		Token:     "regsecret",
		TokenType: storage.EmailTokenRegistration,
	}
	link = b.Build(reg)
	u, err = url.Parse(link)
	if err != nil {
		t.Fatalf("invalid link %q: %v", link, err)
	}
	if u.Path != "/validate" {
		t.Errorf("registration link path = %q, want /validate", u.Path)
	}
	if u.Query().Has("state") {
		t.Error("state param should be absent when the token has no state")
	}
}

func TestLinkBuilderEscapesToken(t *testing.T) {
	b := LinkBuilder{LoginURL: "https://auth.example.com/magic"}

	token := &storage.EmailToken{Token: "a b&c", TokenType: storage.EmailTokenLogin}
	u, err := url.Parse(b.Build(token))
	if err != nil {
		t.Fatalf("invalid link: %v", err)
	}
	if got := u.Query().Get("token"); got != "a b&c" {
		t.Errorf("token roundtrip = %q, want %q", got, "a b&c")
	}
}

// routingSender records which method DeliverLink picked.
type routingSender struct {
	magic, verify int
}

func (s *routingSender) SendMagicLink(context.Context, Delivery) error {
	s.magic++
	return nil
}

func (s *routingSender) SendVerificationLink(context.Context, Delivery) error {
	s.verify++
	return nil
}

func TestDeliverLinkRouting(t *testing.T) {
	s := &routingSender{}
	ctx := context.Background()

	if err := DeliverLink(ctx, s, Delivery{TokenType: storage.EmailTokenLogin}); err != nil {
		t.Fatalf("DeliverLink(login): %v", err)
	}
	if err := DeliverLink(ctx, s, Delivery{TokenType: storage.EmailTokenRegistration}); err != nil {
		t.Fatalf("DeliverLink(registration): %v", err)
	}

	if s.magic != 1 || s.verify != 1 {
		t.Errorf("routing = (magic %d, verify %d), want (1, 1)", s.magic, s.verify)
	}
}

func TestNewSMTPSenderValidation(t *testing.T) {
	if _, err := NewSMTPSender(SMTPConfig{From: "a@b.c"}); err == nil {
		t.Error("missing Addr must be rejected")
	}
	if _, err := NewSMTPSender(SMTPConfig{Addr: "smtp.example.com:587"}); err == nil {
		t.Error("missing From must be rejected")
	}
	if _, err := NewSMTPSender(SMTPConfig{Addr: "no-port", From: "a@b.c"}); err == nil {
		t.Error("Addr without port must be rejected")
	}

	s, err := NewSMTPSender(SMTPConfig{Addr: "smtp.example.com:587", From: "a@b.c"})
	if err != nil {
		t.Fatalf("NewSMTPSender: %v", err)
	}
	if s.cfg.Host != "smtp.example.com" {
		t.Errorf("derived Host = %q", s.cfg.Host)
	}
}

func TestSMTPSenderRequiresRecipient(t *testing.T) {
	s, _ := NewSMTPSender(SMTPConfig{Addr: "smtp.example.com:587", From: "a@b.c"})

	err := s.SendMagicLink(context.Background(), Delivery{LinkURL: "https://x"})
	if err == nil {
		t.Error("missing recipient must be rejected before dialing")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = s.SendMagicLink(ctx, Delivery{
		Email:     "user@example.com",
		LinkURL:   "https://x",
		ExpiresAt: time.Now(),
	})
	if err == nil {
		t.Error("cancelled context must abort the send")
	}
}
