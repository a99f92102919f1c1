// Package testutil provides testing utilities, mock implementations, and
// test fixtures for the magiclink-oauth library.
package testutil

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/linklogin/magiclink-oauth/mail"
	"github.com/linklogin/magiclink-oauth/storage"
)

// MockTime provides a controllable time source for deterministic testing
type MockTime struct {
	now time.Time
}

// NewMockTime creates a new mock time provider
func NewMockTime(t time.Time) *MockTime {
	return &MockTime{now: t}
}

// Now returns the current mock time
func (m *MockTime) Now() time.Time {
	return m.now
}

// Advance moves the mock time forward by the given duration
func (m *MockTime) Advance(d time.Duration) {
	m.now = m.now.Add(d)
}

// Set sets the mock time to a specific value
func (m *MockTime) Set(t time.Time) {
	m.now = t
}

// MockSender is a mail.Sender that records deliveries instead of sending.
type MockSender struct {
	mu         sync.Mutex
	Deliveries []mail.Delivery

	// FailWith, when non-nil, is returned by every send.
	FailWith error
}

func (s *MockSender) SendMagicLink(ctx context.Context, d mail.Delivery) error {
	return s.record(d)
}

func (s *MockSender) SendVerificationLink(ctx context.Context, d mail.Delivery) error {
	return s.record(d)
}

func (s *MockSender) record(d mail.Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWith != nil {
		return s.FailWith
	}
	s.Deliveries = append(s.Deliveries, d)
	return nil
}

// Sent returns a copy of the recorded deliveries.
func (s *MockSender) Sent() []mail.Delivery {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]mail.Delivery, len(s.Deliveries))
	copy(out, s.Deliveries)
	return out
}

// Last returns the most recent delivery, failing the test if none exists.
func (s *MockSender) Last(t *testing.T) mail.Delivery {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.Deliveries) == 0 {
		t.Fatal("no mail deliveries recorded")
	}
	return s.Deliveries[len(s.Deliveries)-1]
}

// TestClient creates a public test OAuth client.
func TestClient() *storage.Client {
	return &storage.Client{
		ID:           "test-client-id",
		Name:         "Test Client",
		RedirectURIs: []string{"https://example.com/callback"},
		Confidential: false,
		CreatedAt:    time.Now(),
	}
}

// TestConfidentialClient creates a confidential test client whose secret is
// the given plaintext.
func TestConfidentialClient(t *testing.T, secret string) *storage.Client {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("failed to hash client secret: %v", err)
	}
	c := TestClient()
	c.ID = "test-confidential-client"
	c.SecretHash = string(hash)
	c.Confidential = true
	return c
}

// TestUser creates a verified test user.
func TestUser() *storage.User {
	now := time.Now()
	verified := now.Add(-time.Hour)
	return &storage.User{
		ID:          "test-user-123",
		Email:       "test@example.com",
		DisplayName: "Test User",
		VerifiedAt:  &verified,
		CreatedAt:   now.Add(-24 * time.Hour),
		UpdatedAt:   now,
	}
}

// TestEmailToken creates a login-type email token for the given user and
// client, valid for 15 minutes from now.
func TestEmailToken(userID, clientID string, now time.Time) *storage.EmailToken {
	return &storage.EmailToken{
		ID:        GenerateRandomString(16),
		Token:     GenerateRandomString(32),
		TokenType: storage.EmailTokenLogin,
		UserID:    userID,
		ClientID:  clientID,
		ExpiresAt: now.Add(15 * time.Minute),
		CreatedAt: now,
	}
}

// GenerateRandomString generates a random base64-encoded string
func GenerateRandomString(length int) string {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("failed to generate random string: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(b)[:length]
}

// GeneratePKCEPair generates a valid PKCE challenge and verifier pair for
// testing. Returns (challenge, verifier) where challenge is the S256 hash of
// the verifier.
func GeneratePKCEPair() (challenge, verifier string) {
	verifier = GenerateRandomString(50)
	hash := sha256.Sum256([]byte(verifier))
	challenge = base64.RawURLEncoding.EncodeToString(hash[:])
	return challenge, verifier
}

// AssertNoError fails the test if err is not nil
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil
func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error but got nil")
	}
}

// AssertEqual fails the test if got != want
func AssertEqual(t *testing.T, got, want interface{}) {
	t.Helper()
	if got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

// AssertTrue fails the test if condition is false
func AssertTrue(t *testing.T, condition bool, message string) {
	t.Helper()
	if !condition {
		t.Errorf("assertion failed: %s", message)
	}
}

// AssertFalse fails the test if condition is true
func AssertFalse(t *testing.T, condition bool, message string) {
	t.Helper()
	if condition {
		t.Errorf("assertion failed: %s", message)
	}
}
