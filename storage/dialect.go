package storage

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/google/uuid"
)

// Dialect captures the per-backend differences between the supported
// relational flavors: boolean literal representation, identifier generation
// strategy, and schema qualification of table names. It is injected at store
// construction instead of sniffing a driver name at every call site.
type Dialect interface {
	// BoolLiteral renders a boolean for use in SQL text.
	BoolLiteral(v bool) string

	// NewIdentifier generates a backend-appropriate opaque identifier.
	// n is the desired length in characters for hex-style dialects and is
	// ignored by dialects with fixed-format identifiers (UUID).
	NewIdentifier(n int) string

	// TablePrefix is the schema qualification prepended to table names,
	// including the trailing separator ("auth." or "").
	TablePrefix() string
}

// PostgresDialect uses true/false literals, UUIDv4 identifiers (to satisfy
// uuid-typed columns), and schema-qualified table names.
type PostgresDialect struct {
	Schema string // optional, e.g. "auth"
}

func (d PostgresDialect) BoolLiteral(v bool) string {
	if v {
		return "true"
	}
	return "false"
}

func (d PostgresDialect) NewIdentifier(int) string {
	return uuid.NewString()
}

func (d PostgresDialect) TablePrefix() string {
	if d.Schema == "" {
		return ""
	}
	return d.Schema + "."
}

// MySQLDialect uses 1/0 literals, random-hex identifiers, and bare table
// names.
type MySQLDialect struct{}

func (MySQLDialect) BoolLiteral(v bool) string {
	if v {
		return "1"
	}
	return "0"
}

func (MySQLDialect) NewIdentifier(n int) string {
	return RandomHex(n)
}

func (MySQLDialect) TablePrefix() string { return "" }

// RandomHex returns n hex characters from crypto/rand. n is rounded up to
// the next even value since each byte encodes to two characters.
func RandomHex(n int) string {
	if n <= 0 {
		n = 32
	}
	buf := make([]byte, (n+1)/2)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failure means the process cannot safely mint
		// credentials at all.
		panic("storage: crypto/rand unavailable: " + err.Error())
	}
	return hex.EncodeToString(buf)[:n]
}

var (
	_ Dialect = PostgresDialect{}
	_ Dialect = MySQLDialect{}
)
