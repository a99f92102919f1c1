// Package storage defines the entities and repository contracts for the
// magic-link and OAuth2 token lifecycle. It supports multiple backing stores
// (in-memory for development and testing, Postgres for production) behind
// dialect-parameterized interfaces.
package storage

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors returned by repositories. Lookups that routinely miss
// (every token validation) return ErrNotFound rather than raising; callers
// map it to the appropriate OAuth error vocabulary.
var (
	ErrNotFound = errors.New("not found")

	// ErrDuplicate indicates a uniqueness violation (token value, email).
	ErrDuplicate = errors.New("already exists")

	// ErrCodeConsumed indicates an authorization code was already exchanged.
	// Consume returns it together with the stored code so callers can react
	// to the replay (revoke outstanding tokens for the user+client pair).
	ErrCodeConsumed = errors.New("authorization code already consumed")

	// ErrRevoked indicates a refresh token was already rotated or revoked.
	// ConsumeRefreshToken returns it together with the stored token so the
	// caller can treat the presentation as a reuse attempt.
	ErrRevoked = errors.New("token revoked")
)

// EmailTokenRepository persists single-use email/magic-link tokens.
type EmailTokenRepository interface {
	// CreateEmailToken persists a new token. Returns ErrDuplicate if the
	// token value collides with a live row.
	CreateEmailToken(ctx context.Context, token *EmailToken) error

	// FindEmailToken looks a token up by its secret value. With checkExpiry
	// set, rows whose expiry is at or before now are treated as absent.
	FindEmailToken(ctx context.Context, token string, checkExpiry bool, now time.Time) (*EmailToken, error)

	// FindUnexpiredEmailToken is FindEmailToken with the expiry check forced on.
	FindUnexpiredEmailToken(ctx context.Context, token string, now time.Time) (*EmailToken, error)

	// DeleteEmailToken consumes a token by its secret value. The delete is a
	// single atomic statement keyed on the unique value: of two concurrent
	// consumption attempts exactly one observes true, the other false.
	DeleteEmailToken(ctx context.Context, token string) (bool, error)
}

// AccessTokenRepository persists issued access tokens with independent
// expiry and revocation checks.
type AccessTokenRepository interface {
	CreateAccessToken(ctx context.Context, token *AccessToken) error
	FindAccessToken(ctx context.Context, id string) (*AccessToken, error)

	// RevokeAccessToken marks the token revoked. Revocation is monotonic:
	// once revoked a token never becomes valid again. Revoking an unknown or
	// already-revoked token is not an error.
	RevokeAccessToken(ctx context.Context, id string) error

	// IsAccessTokenRevoked reports revocation status, returning true for
	// unknown identifiers: an id we cannot vouch for is treated as revoked.
	IsAccessTokenRevoked(ctx context.Context, id string) (bool, error)
}

// RefreshTokenRepository persists refresh tokens bound to the access token
// they were issued alongside.
type RefreshTokenRepository interface {
	CreateRefreshToken(ctx context.Context, token *RefreshToken) error
	FindRefreshToken(ctx context.Context, id string) (*RefreshToken, error)

	// ConsumeRefreshToken atomically revokes an unrevoked, unexpired refresh
	// token and returns it. Exactly one of two concurrent consumers
	// succeeds; the loser observes the token already revoked and gets
	// (token, ErrRevoked), which callers treat as a reuse attempt. Unknown
	// or expired tokens return (nil, ErrNotFound).
	ConsumeRefreshToken(ctx context.Context, id string, now time.Time) (*RefreshToken, error)

	RevokeRefreshToken(ctx context.Context, id string) error
	IsRefreshTokenRevoked(ctx context.Context, id string) (bool, error)
}

// AuthCodeRepository persists authorization codes.
type AuthCodeRepository interface {
	CreateAuthCode(ctx context.Context, code *AuthCode) error
	FindAuthCode(ctx context.Context, id string) (*AuthCode, error)

	// ConsumeAuthCode atomically marks an auth code revoked on first
	// exchange, before any token issuance, so a mid-issuance failure cannot
	// reopen the replay window. Returns the code on success. Returns
	// (code, ErrCodeConsumed) when the code was already exchanged; the
	// caller needs the stored identity to revoke outstanding tokens.
	// Expired or unknown codes return (nil, ErrNotFound).
	ConsumeAuthCode(ctx context.Context, id string, now time.Time) (*AuthCode, error)

	IsAuthCodeRevoked(ctx context.Context, id string) (bool, error)
}

// TokenRevocationRepository supports bulk revocation for replay reactions:
// when a consumed code or rotated refresh token is presented again, every
// outstanding token for that user+client pair is revoked.
type TokenRevocationRepository interface {
	RevokeAllForUserClient(ctx context.Context, userID, clientID string) (int, error)
}

// ClientRepository manages registered OAuth clients.
type ClientRepository interface {
	SaveClient(ctx context.Context, client *Client) error

	// FindClient returns a client by id, excluding soft-deleted rows.
	FindClient(ctx context.Context, id string) (*Client, error)

	// ValidateClientSecret checks a confidential client's secret in constant
	// time (bcrypt). Public clients reject any supplied secret.
	ValidateClientSecret(ctx context.Context, id, secret string) error

	DeleteClient(ctx context.Context, id string) error
}

// ScopeRepository holds the scope catalogue and per-client allow-lists.
type ScopeRepository interface {
	SaveScope(ctx context.Context, scope *Scope) error

	// FinalizeScopes narrows requested scopes to what the client may hold.
	// An empty request short-circuits to an empty grant. Scopes missing from
	// the catalogue, or outside a non-empty client allow-list, are rejected.
	FinalizeScopes(ctx context.Context, requested []string, client *Client) ([]string, error)
}

// UserRepository manages resource owners.
type UserRepository interface {
	CreateUser(ctx context.Context, user *User) error
	FindUser(ctx context.Context, id string) (*User, error)
	FindUserByEmail(ctx context.Context, email string) (*User, error)
	EmailExists(ctx context.Context, email string) (bool, error)

	// MarkUserVerified sets VerifiedAt exactly once. A second call for the
	// same user is a no-op returning false.
	MarkUserVerified(ctx context.Context, id string, at time.Time) (bool, error)
}

// TxRunner wraps a function in a storage transaction. Every repository call
// made through ctx inside fn joins the transaction; any error rolls back all
// of its effects atomically. Stores without native transactions emulate the
// same observable semantics.
type TxRunner interface {
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// Store aggregates every repository contract a complete backend implements.
type Store interface {
	EmailTokenRepository
	AccessTokenRepository
	RefreshTokenRepository
	AuthCodeRepository
	TokenRevocationRepository
	ClientRepository
	ScopeRepository
	UserRepository
	TxRunner
}
