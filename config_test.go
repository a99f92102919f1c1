package oauth

import (
	"testing"

	"github.com/linklogin/magiclink-oauth/internal/testutil"
	"github.com/linklogin/magiclink-oauth/storage/memory"
)

func TestRateLimitConfigDefaults(t *testing.T) {
	var zero RateLimitConfig
	if zero.rate() != 10 {
		t.Errorf("default rate = %d, want 10", zero.rate())
	}
	if zero.burst() != 20 {
		t.Errorf("default burst = %d, want 20", zero.burst())
	}

	custom := RateLimitConfig{RequestsPerSecond: 3, Burst: 5}
	if custom.rate() != 3 || custom.burst() != 5 {
		t.Errorf("custom limits = (%d, %d), want (3, 5)", custom.rate(), custom.burst())
	}
}

func TestNewValidation(t *testing.T) {
	store := memory.New()
	t.Cleanup(store.Stop)
	sender := &testutil.MockSender{}

	if _, err := New(nil, sender, nil, discardLogger()); err == nil {
		t.Error("nil store must be rejected")
	}
	if _, err := New(store, nil, nil, discardLogger()); err == nil {
		t.Error("nil sender must be rejected")
	}
	if _, err := New(store, sender, &Config{EncryptionKey: "not-base64!"}, discardLogger()); err == nil {
		t.Error("malformed encryption key must be rejected")
	}

	srv, err := New(store, sender, nil, discardLogger())
	if err != nil {
		t.Fatalf("New with defaults: %v", err)
	}
	defer srv.Close()

	if srv.Grants() == nil || srv.Interactor() == nil || srv.Store() == nil {
		t.Error("facade accessors must be wired")
	}
}

func TestNewWithEncryptionKey(t *testing.T) {
	store := memory.New()
	t.Cleanup(store.Stop)

	// base64 of 32 zero bytes
	key := "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA="
	srv, err := New(store, &testutil.MockSender{}, &Config{EncryptionKey: key}, discardLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer srv.Close()

	if srv.Grants().Encryptor == nil || !srv.Grants().Encryptor.IsEnabled() {
		t.Error("encryptor must be wired from the configured key")
	}
}
