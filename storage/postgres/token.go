package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/linklogin/magiclink-oauth/storage"
)

// ============================================================
// EmailTokenRepository
// ============================================================

const emailTokenColumns = "id, token, token_type, user_id, client_id, code_challenge, code_challenge_method, redirect_uri, state, ip_address, user_agent, expires_at, created_at"

// CreateEmailToken persists a new email token. A unique index on the token
// value turns collisions into ErrDuplicate.
func (s *Store) CreateEmailToken(ctx context.Context, token *storage.EmailToken) error {
	if token == nil || token.Token == "" {
		return fmt.Errorf("email token and secret are required")
	}
	if token.ID == "" {
		token.ID = s.dialect.NewIdentifier(40)
	}
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now()
	}

	sql := fmt.Sprintf(`INSERT INTO %s (%s)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		s.table("email_tokens"), emailTokenColumns)

	_, err := s.q(ctx).Exec(ctx, sql,
		token.ID, token.Token, string(token.TokenType), token.UserID,
		nullable(token.ClientID), nullable(token.CodeChallenge), nullable(token.CodeChallengeMethod),
		nullable(token.RedirectURI), nullable(token.State),
		nullable(token.IPAddress), nullable(token.UserAgent),
		token.ExpiresAt, token.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("email token: %w", storage.ErrDuplicate)
		}
		return fmt.Errorf("failed to create email token: %w", err)
	}
	return nil
}

// FindEmailToken looks a token up by its secret value.
func (s *Store) FindEmailToken(ctx context.Context, token string, checkExpiry bool, now time.Time) (*storage.EmailToken, error) {
	sql := fmt.Sprintf(`SELECT %s FROM %s WHERE token = $1`, emailTokenColumns, s.table("email_tokens"))
	args := []any{token}
	if checkExpiry {
		sql += " AND expires_at > $2"
		args = append(args, now)
	}

	var t storage.EmailToken
	var tokenType string
	var clientID, challenge, method, redirectURI, state, ip, ua *string
	err := s.q(ctx).QueryRow(ctx, sql, args...).Scan(
		&t.ID, &t.Token, &tokenType, &t.UserID,
		&clientID, &challenge, &method, &redirectURI, &state, &ip, &ua,
		&t.ExpiresAt, &t.CreatedAt)
	if err != nil {
		return nil, mapNotFound(err)
	}
	t.TokenType = storage.EmailTokenType(tokenType)
	t.ClientID = deref(clientID)
	t.CodeChallenge = deref(challenge)
	t.CodeChallengeMethod = deref(method)
	t.RedirectURI = deref(redirectURI)
	t.State = deref(state)
	t.IPAddress = deref(ip)
	t.UserAgent = deref(ua)
	return &t, nil
}

// FindUnexpiredEmailToken is FindEmailToken with the expiry check forced on.
func (s *Store) FindUnexpiredEmailToken(ctx context.Context, token string, now time.Time) (*storage.EmailToken, error) {
	return s.FindEmailToken(ctx, token, true, now)
}

// DeleteEmailToken consumes a token with a single DELETE keyed on the
// unique value. Of two concurrent consumers exactly one sees rows-affected
// of 1; the other observes 0 and reports false.
func (s *Store) DeleteEmailToken(ctx context.Context, token string) (bool, error) {
	sql := fmt.Sprintf(`DELETE FROM %s WHERE token = $1`, s.table("email_tokens"))
	tag, err := s.q(ctx).Exec(ctx, sql, token)
	if err != nil {
		return false, fmt.Errorf("failed to delete email token: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ============================================================
// AccessTokenRepository
// ============================================================

// CreateAccessToken persists an issued access token.
func (s *Store) CreateAccessToken(ctx context.Context, token *storage.AccessToken) error {
	if token == nil || token.ID == "" {
		return fmt.Errorf("access token and identifier are required")
	}
	scopes, err := json.Marshal(token.Scopes)
	if err != nil {
		return fmt.Errorf("failed to encode scopes: %w", err)
	}

	sql := fmt.Sprintf(`INSERT INTO %s (id, user_id, client_id, scopes, revoked, expires_at, created_at)
		VALUES ($1, $2, $3, $4, %s, $5, $6)`,
		s.table("oauth_access_tokens"), s.dialect.BoolLiteral(false))

	_, err = s.q(ctx).Exec(ctx, sql,
		token.ID, token.UserID, token.ClientID, scopes, token.ExpiresAt, token.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("access token: %w", storage.ErrDuplicate)
		}
		return fmt.Errorf("failed to create access token: %w", err)
	}
	return nil
}

// FindAccessToken retrieves an access token by identifier.
func (s *Store) FindAccessToken(ctx context.Context, id string) (*storage.AccessToken, error) {
	sql := fmt.Sprintf(`SELECT id, user_id, client_id, scopes, revoked, expires_at, created_at
		FROM %s WHERE id = $1`, s.table("oauth_access_tokens"))

	var t storage.AccessToken
	var scopes []byte
	err := s.q(ctx).QueryRow(ctx, sql, id).Scan(
		&t.ID, &t.UserID, &t.ClientID, &scopes, &t.Revoked, &t.ExpiresAt, &t.CreatedAt)
	if err != nil {
		return nil, mapNotFound(err)
	}
	if err := json.Unmarshal(scopes, &t.Scopes); err != nil {
		return nil, fmt.Errorf("failed to decode scopes: %w", err)
	}
	return &t, nil
}

// RevokeAccessToken marks the token revoked (monotonic, idempotent).
func (s *Store) RevokeAccessToken(ctx context.Context, id string) error {
	sql := fmt.Sprintf(`UPDATE %s SET revoked = %s WHERE id = $1`,
		s.table("oauth_access_tokens"), s.dialect.BoolLiteral(true))
	if _, err := s.q(ctx).Exec(ctx, sql, id); err != nil {
		return fmt.Errorf("failed to revoke access token: %w", err)
	}
	return nil
}

// IsAccessTokenRevoked reports revocation status, fail-closed for unknown ids.
func (s *Store) IsAccessTokenRevoked(ctx context.Context, id string) (bool, error) {
	sql := fmt.Sprintf(`SELECT revoked FROM %s WHERE id = $1`, s.table("oauth_access_tokens"))
	var revoked bool
	err := s.q(ctx).QueryRow(ctx, sql, id).Scan(&revoked)
	if err != nil {
		if mapNotFound(err) == storage.ErrNotFound {
			return true, nil
		}
		return true, fmt.Errorf("failed to check access token revocation: %w", err)
	}
	return revoked, nil
}

// ============================================================
// RefreshTokenRepository
// ============================================================

// CreateRefreshToken persists a refresh token. The access_token_id column
// carries a foreign key to the access token it was issued alongside.
func (s *Store) CreateRefreshToken(ctx context.Context, token *storage.RefreshToken) error {
	if token == nil || token.ID == "" {
		return fmt.Errorf("refresh token and identifier are required")
	}
	if token.AccessTokenID == "" {
		return fmt.Errorf("refresh token must reference an access token")
	}

	sql := fmt.Sprintf(`INSERT INTO %s (id, access_token_id, user_id, client_id, revoked, expires_at, created_at)
		VALUES ($1, $2, $3, $4, %s, $5, $6)`,
		s.table("oauth_refresh_tokens"), s.dialect.BoolLiteral(false))

	_, err := s.q(ctx).Exec(ctx, sql,
		token.ID, token.AccessTokenID, token.UserID, token.ClientID, token.ExpiresAt, token.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("refresh token: %w", storage.ErrDuplicate)
		}
		return fmt.Errorf("failed to create refresh token: %w", err)
	}
	return nil
}

// FindRefreshToken retrieves a refresh token by identifier.
func (s *Store) FindRefreshToken(ctx context.Context, id string) (*storage.RefreshToken, error) {
	sql := fmt.Sprintf(`SELECT id, access_token_id, user_id, client_id, revoked, expires_at, created_at
		FROM %s WHERE id = $1`, s.table("oauth_refresh_tokens"))

	var t storage.RefreshToken
	err := s.q(ctx).QueryRow(ctx, sql, id).Scan(
		&t.ID, &t.AccessTokenID, &t.UserID, &t.ClientID, &t.Revoked, &t.ExpiresAt, &t.CreatedAt)
	if err != nil {
		return nil, mapNotFound(err)
	}
	return &t, nil
}

// ConsumeRefreshToken atomically revokes an unrevoked, unexpired refresh
// token with a single UPDATE. A concurrent loser falls through to the
// diagnostic lookup and observes the token already revoked.
func (s *Store) ConsumeRefreshToken(ctx context.Context, id string, now time.Time) (*storage.RefreshToken, error) {
	sql := fmt.Sprintf(`UPDATE %s SET revoked = %s
		WHERE id = $1 AND revoked = %s AND expires_at > $2
		RETURNING id, access_token_id, user_id, client_id, expires_at, created_at`,
		s.table("oauth_refresh_tokens"), s.dialect.BoolLiteral(true), s.dialect.BoolLiteral(false))

	var t storage.RefreshToken
	err := s.q(ctx).QueryRow(ctx, sql, id, now).Scan(
		&t.ID, &t.AccessTokenID, &t.UserID, &t.ClientID, &t.ExpiresAt, &t.CreatedAt)
	if err == nil {
		t.Revoked = true
		return &t, nil
	}
	if mapNotFound(err) != storage.ErrNotFound {
		return nil, fmt.Errorf("failed to consume refresh token: %w", err)
	}

	// The single-statement consume missed: distinguish replay from absence.
	existing, findErr := s.FindRefreshToken(ctx, id)
	if findErr != nil {
		return nil, storage.ErrNotFound
	}
	if existing.Revoked {
		return existing, storage.ErrRevoked
	}
	return nil, storage.ErrNotFound
}

// RevokeRefreshToken marks the token revoked (monotonic, idempotent).
func (s *Store) RevokeRefreshToken(ctx context.Context, id string) error {
	sql := fmt.Sprintf(`UPDATE %s SET revoked = %s WHERE id = $1`,
		s.table("oauth_refresh_tokens"), s.dialect.BoolLiteral(true))
	if _, err := s.q(ctx).Exec(ctx, sql, id); err != nil {
		return fmt.Errorf("failed to revoke refresh token: %w", err)
	}
	return nil
}

// IsRefreshTokenRevoked reports revocation status, fail-closed for unknown ids.
func (s *Store) IsRefreshTokenRevoked(ctx context.Context, id string) (bool, error) {
	sql := fmt.Sprintf(`SELECT revoked FROM %s WHERE id = $1`, s.table("oauth_refresh_tokens"))
	var revoked bool
	err := s.q(ctx).QueryRow(ctx, sql, id).Scan(&revoked)
	if err != nil {
		if mapNotFound(err) == storage.ErrNotFound {
			return true, nil
		}
		return true, fmt.Errorf("failed to check refresh token revocation: %w", err)
	}
	return revoked, nil
}

// ============================================================
// AuthCodeRepository
// ============================================================

const authCodeColumns = "id, user_id, client_id, scopes, redirect_uri, code_challenge, code_challenge_method, revoked, expires_at, created_at"

// CreateAuthCode persists an authorization code.
func (s *Store) CreateAuthCode(ctx context.Context, code *storage.AuthCode) error {
	if code == nil || code.ID == "" {
		return fmt.Errorf("auth code and identifier are required")
	}
	scopes, err := json.Marshal(code.Scopes)
	if err != nil {
		return fmt.Errorf("failed to encode scopes: %w", err)
	}

	sql := fmt.Sprintf(`INSERT INTO %s (%s)
		VALUES ($1, $2, $3, $4, $5, $6, $7, %s, $8, $9)`,
		s.table("oauth_auth_codes"), authCodeColumns, s.dialect.BoolLiteral(false))

	_, err = s.q(ctx).Exec(ctx, sql,
		code.ID, code.UserID, code.ClientID, scopes,
		code.RedirectURI, nullable(code.CodeChallenge), nullable(code.CodeChallengeMethod),
		code.ExpiresAt, code.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("auth code: %w", storage.ErrDuplicate)
		}
		return fmt.Errorf("failed to create auth code: %w", err)
	}
	return nil
}

// FindAuthCode retrieves an authorization code by identifier.
func (s *Store) FindAuthCode(ctx context.Context, id string) (*storage.AuthCode, error) {
	sql := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, authCodeColumns, s.table("oauth_auth_codes"))

	var c storage.AuthCode
	var scopes []byte
	var challenge, method *string
	err := s.q(ctx).QueryRow(ctx, sql, id).Scan(
		&c.ID, &c.UserID, &c.ClientID, &scopes, &c.RedirectURI,
		&challenge, &method, &c.Revoked, &c.ExpiresAt, &c.CreatedAt)
	if err != nil {
		return nil, mapNotFound(err)
	}
	if err := json.Unmarshal(scopes, &c.Scopes); err != nil {
		return nil, fmt.Errorf("failed to decode scopes: %w", err)
	}
	c.CodeChallenge = deref(challenge)
	c.CodeChallengeMethod = deref(method)
	return &c, nil
}

// ConsumeAuthCode atomically marks a code revoked on first exchange with a
// single UPDATE, before any token issuance. An already-exchanged code is
// returned with ErrCodeConsumed so the caller can react to the replay.
func (s *Store) ConsumeAuthCode(ctx context.Context, id string, now time.Time) (*storage.AuthCode, error) {
	sql := fmt.Sprintf(`UPDATE %s SET revoked = %s
		WHERE id = $1 AND revoked = %s AND expires_at > $2
		RETURNING user_id, client_id, scopes, redirect_uri, code_challenge, code_challenge_method, expires_at, created_at`,
		s.table("oauth_auth_codes"), s.dialect.BoolLiteral(true), s.dialect.BoolLiteral(false))

	var c storage.AuthCode
	var scopes []byte
	var challenge, method *string
	err := s.q(ctx).QueryRow(ctx, sql, id, now).Scan(
		&c.UserID, &c.ClientID, &scopes, &c.RedirectURI,
		&challenge, &method, &c.ExpiresAt, &c.CreatedAt)
	if err == nil {
		c.ID = id
		c.Revoked = true
		c.CodeChallenge = deref(challenge)
		c.CodeChallengeMethod = deref(method)
		if err := json.Unmarshal(scopes, &c.Scopes); err != nil {
			return nil, fmt.Errorf("failed to decode scopes: %w", err)
		}
		return &c, nil
	}
	if mapNotFound(err) != storage.ErrNotFound {
		return nil, fmt.Errorf("failed to consume auth code: %w", err)
	}

	existing, findErr := s.FindAuthCode(ctx, id)
	if findErr != nil {
		return nil, storage.ErrNotFound
	}
	if existing.Revoked {
		return existing, storage.ErrCodeConsumed
	}
	return nil, storage.ErrNotFound
}

// IsAuthCodeRevoked reports revocation status, fail-closed for unknown ids.
func (s *Store) IsAuthCodeRevoked(ctx context.Context, id string) (bool, error) {
	sql := fmt.Sprintf(`SELECT revoked FROM %s WHERE id = $1`, s.table("oauth_auth_codes"))
	var revoked bool
	err := s.q(ctx).QueryRow(ctx, sql, id).Scan(&revoked)
	if err != nil {
		if mapNotFound(err) == storage.ErrNotFound {
			return true, nil
		}
		return true, fmt.Errorf("failed to check auth code revocation: %w", err)
	}
	return revoked, nil
}

// ============================================================
// TokenRevocationRepository
// ============================================================

// RevokeAllForUserClient revokes every access and refresh token issued to
// the user+client pair. Returns the number of tokens newly revoked.
func (s *Store) RevokeAllForUserClient(ctx context.Context, userID, clientID string) (int, error) {
	revoked := 0
	for _, table := range []string{"oauth_access_tokens", "oauth_refresh_tokens"} {
		sql := fmt.Sprintf(`UPDATE %s SET revoked = %s
			WHERE user_id = $1 AND client_id = $2 AND revoked = %s`,
			s.table(table), s.dialect.BoolLiteral(true), s.dialect.BoolLiteral(false))
		tag, err := s.q(ctx).Exec(ctx, sql, userID, clientID)
		if err != nil {
			return revoked, fmt.Errorf("failed to revoke tokens in %s: %w", table, err)
		}
		revoked += int(tag.RowsAffected())
	}
	return revoked, nil
}

// ============================================================
// Helpers
// ============================================================

// nullable maps an empty string to SQL NULL.
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
