package storage

import "time"

// EmailTokenType distinguishes the two single-use email credential kinds.
type EmailTokenType string

const (
	// EmailTokenRegistration proves ownership of an inbox during sign-up.
	EmailTokenRegistration EmailTokenType = "registration"

	// EmailTokenLogin is a magic-link credential for passwordless login.
	EmailTokenLogin EmailTokenType = "login"
)

// EmailToken is a single-use, time-bounded credential proving possession of
// an email inbox (registration) or continuing an in-progress passwordless
// login (magic link). The Token secret is generated at construction time and
// is unique across all live rows; consumption deletes the row so that a
// second consumption attempt observes not-found.
type EmailToken struct {
	ID        string
	Token     string // 32-hex-char random secret
	TokenType EmailTokenType
	UserID    string

	// Optional PKCE continuation fields, present when the magic link was
	// requested as part of an authorization-code flow.
	ClientID            string
	CodeChallenge       string
	CodeChallengeMethod string
	RedirectURI         string
	State               string

	// Request forensics, optional.
	IPAddress string
	UserAgent string

	ExpiresAt time.Time
	CreatedAt time.Time
}

// AccessToken is an issued OAuth2 bearer credential.
type AccessToken struct {
	ID        string // opaque, repository-generated identifier
	ClientID  string
	UserID    string
	Scopes    []string
	ExpiresAt time.Time
	Revoked   bool
	CreatedAt time.Time
}

// RefreshToken is bound to the access token it was issued alongside.
type RefreshToken struct {
	ID            string
	AccessTokenID string
	ClientID      string
	UserID        string
	ExpiresAt     time.Time
	Revoked       bool
	CreatedAt     time.Time
}

// AuthCode is a short-lived authorization code carrying the PKCE binding
// established at the authorization step. Revoked flips to true on first
// exchange and never back.
type AuthCode struct {
	ID                  string
	UserID              string
	ClientID            string
	Scopes              []string
	RedirectURI         string
	CodeChallenge       string
	CodeChallengeMethod string
	Revoked             bool
	ExpiresAt           time.Time
	CreatedAt           time.Time
}

// Client is a registered OAuth client. Confidential clients hold a bcrypt
// secret hash; public clients have none and must use PKCE.
type Client struct {
	ID           string
	Name         string
	SecretHash   string // bcrypt, empty for public clients
	RedirectURIs []string
	Confidential bool
	Scopes       []string // per-client scope allow-list; empty allows all
	CreatedAt    time.Time
	DeletedAt    *time.Time // soft delete
}

// Deleted reports whether the client has been soft-deleted.
func (c *Client) Deleted() bool { return c.DeletedAt != nil }

// Scope is an entry in the scope catalogue.
type Scope struct {
	ID          string
	Description string
}

// User is the resource owner authenticated by magic links.
type User struct {
	ID             string
	Email          string
	DisplayName    string
	AdditionalData map[string]any
	VerifiedAt     *time.Time // nil until registration is validated
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Verified reports whether the registration flow has completed.
func (u *User) Verified() bool { return u.VerifiedAt != nil }

// Identifiable is implemented by every persisted entity with an opaque
// identifier. Entities compose these small capabilities per kind instead of
// sharing a base type.
type Identifiable interface {
	Identifier() string
}

// ExpiringToken is implemented by credentials with an absolute expiry.
type ExpiringToken interface {
	ExpiryTime() time.Time
}

// ClientBoundToken is implemented by credentials issued to a client.
type ClientBoundToken interface {
	ClientIdentifier() string
}

// ScopedToken is implemented by credentials carrying a scope set.
type ScopedToken interface {
	ScopeIdentifiers() []string
}

func (t *EmailToken) Identifier() string   { return t.ID }
func (t *AccessToken) Identifier() string  { return t.ID }
func (t *RefreshToken) Identifier() string { return t.ID }
func (t *AuthCode) Identifier() string     { return t.ID }
func (c *Client) Identifier() string       { return c.ID }
func (u *User) Identifier() string         { return u.ID }

func (t *EmailToken) ExpiryTime() time.Time   { return t.ExpiresAt }
func (t *AccessToken) ExpiryTime() time.Time  { return t.ExpiresAt }
func (t *RefreshToken) ExpiryTime() time.Time { return t.ExpiresAt }
func (t *AuthCode) ExpiryTime() time.Time     { return t.ExpiresAt }

func (t *EmailToken) ClientIdentifier() string   { return t.ClientID }
func (t *AccessToken) ClientIdentifier() string  { return t.ClientID }
func (t *RefreshToken) ClientIdentifier() string { return t.ClientID }
func (t *AuthCode) ClientIdentifier() string     { return t.ClientID }

func (t *AccessToken) ScopeIdentifiers() []string { return t.Scopes }
func (t *AuthCode) ScopeIdentifiers() []string    { return t.Scopes }

// Expired reports whether tok's expiry is strictly in the past relative to
// now. Expiry within one logical operation must be evaluated against a
// single clock sample, so callers pass now rather than re-reading the clock.
func Expired(tok ExpiringToken, now time.Time) bool {
	exp := tok.ExpiryTime()
	return !exp.IsZero() && now.After(exp)
}
