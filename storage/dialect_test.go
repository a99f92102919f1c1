package storage

import (
	"testing"
	"time"
)

func TestPostgresDialect(t *testing.T) {
	d := PostgresDialect{}
	if got := d.BoolLiteral(true); got != "true" {
		t.Errorf("BoolLiteral(true) = %q", got)
	}
	if got := d.BoolLiteral(false); got != "false" {
		t.Errorf("BoolLiteral(false) = %q", got)
	}
	if got := d.TablePrefix(); got != "" {
		t.Errorf("TablePrefix() = %q, want empty", got)
	}
	if got := (PostgresDialect{Schema: "auth"}).TablePrefix(); got != "auth." {
		t.Errorf("TablePrefix() = %q, want auth.", got)
	}
	// UUID format: 36 chars with hyphens.
	if id := d.NewIdentifier(8); len(id) != 36 {
		t.Errorf("NewIdentifier length = %d, want 36", len(id))
	}
}

func TestMySQLDialect(t *testing.T) {
	d := MySQLDialect{}
	if got := d.BoolLiteral(true); got != "1" {
		t.Errorf("BoolLiteral(true) = %q", got)
	}
	if got := d.BoolLiteral(false); got != "0" {
		t.Errorf("BoolLiteral(false) = %q", got)
	}
	if id := d.NewIdentifier(40); len(id) != 40 {
		t.Errorf("NewIdentifier length = %d, want 40", len(id))
	}
}

func TestRandomHex(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		id := RandomHex(32)
		if len(id) != 32 {
			t.Fatalf("length = %d, want 32", len(id))
		}
		if seen[id] {
			t.Fatalf("duplicate identifier %q", id)
		}
		seen[id] = true
	}

	// Odd lengths round the byte count up and trim.
	if id := RandomHex(7); len(id) != 7 {
		t.Errorf("RandomHex(7) length = %d", len(id))
	}
	// Non-positive falls back to 32.
	if id := RandomHex(0); len(id) != 32 {
		t.Errorf("RandomHex(0) length = %d, want 32", len(id))
	}
}

func TestExpired(t *testing.T) {
	now := time.Now()

	live := &EmailToken{ExpiresAt: now.Add(time.Minute)}
	if Expired(live, now) {
		t.Error("future expiry should not be expired")
	}

	dead := &EmailToken{ExpiresAt: now.Add(-time.Minute)}
	if !Expired(dead, now) {
		t.Error("past expiry should be expired")
	}

	// Exactly at expiry counts as live (strictly-after comparison).
	edge := &EmailToken{ExpiresAt: now}
	if Expired(edge, now) {
		t.Error("expiry at now should not be expired")
	}

	// Zero expiry means no expiry.
	forever := &AccessToken{}
	if Expired(forever, now) {
		t.Error("zero expiry should never be expired")
	}
}
