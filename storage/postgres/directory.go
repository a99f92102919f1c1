package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/linklogin/magiclink-oauth/storage"
)

// ============================================================
// ClientRepository
// ============================================================

const clientColumns = "id, name, secret_hash, redirect_uris, confidential, scopes, created_at, deleted_at"

// SaveClient inserts or updates a registered client. Redirect URIs and the
// per-client scope allow-list are stored as JSON columns.
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) error {
	if client == nil || client.ID == "" {
		return fmt.Errorf("client and identifier are required")
	}
	redirectURIs, err := json.Marshal(client.RedirectURIs)
	if err != nil {
		return fmt.Errorf("failed to encode redirect URIs: %w", err)
	}
	scopes, err := json.Marshal(client.Scopes)
	if err != nil {
		return fmt.Errorf("failed to encode scopes: %w", err)
	}
	if client.CreatedAt.IsZero() {
		client.CreatedAt = time.Now()
	}

	sql := fmt.Sprintf(`INSERT INTO %s (%s)
		VALUES ($1, $2, $3, $4, %s, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			secret_hash = EXCLUDED.secret_hash,
			redirect_uris = EXCLUDED.redirect_uris,
			confidential = EXCLUDED.confidential,
			scopes = EXCLUDED.scopes,
			deleted_at = EXCLUDED.deleted_at`,
		s.table("oauth_clients"), clientColumns, s.dialect.BoolLiteral(client.Confidential))

	_, err = s.q(ctx).Exec(ctx, sql,
		client.ID, client.Name, nullable(client.SecretHash), redirectURIs,
		scopes, client.CreatedAt, client.DeletedAt)
	if err != nil {
		return fmt.Errorf("failed to save client: %w", err)
	}
	return nil
}

// FindClient returns a client by id, excluding soft-deleted rows.
func (s *Store) FindClient(ctx context.Context, id string) (*storage.Client, error) {
	sql := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1 AND deleted_at IS NULL`,
		clientColumns, s.table("oauth_clients"))

	var c storage.Client
	var secretHash *string
	var redirectURIs, scopes []byte
	err := s.q(ctx).QueryRow(ctx, sql, id).Scan(
		&c.ID, &c.Name, &secretHash, &redirectURIs, &c.Confidential,
		&scopes, &c.CreatedAt, &c.DeletedAt)
	if err != nil {
		return nil, mapNotFound(err)
	}
	c.SecretHash = deref(secretHash)
	if err := json.Unmarshal(redirectURIs, &c.RedirectURIs); err != nil {
		return nil, fmt.Errorf("failed to decode redirect URIs: %w", err)
	}
	if err := json.Unmarshal(scopes, &c.Scopes); err != nil {
		return nil, fmt.Errorf("failed to decode scopes: %w", err)
	}
	return &c, nil
}

// ValidateClientSecret checks a confidential client's secret against its
// bcrypt hash. Public clients reject any supplied secret.
func (s *Store) ValidateClientSecret(ctx context.Context, id, secret string) error {
	client, err := s.FindClient(ctx, id)
	if err != nil {
		return err
	}

	if !client.Confidential {
		if secret != "" {
			return fmt.Errorf("public client must not present a secret")
		}
		return nil
	}

	if client.SecretHash == "" {
		return fmt.Errorf("confidential client has no registered secret")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(client.SecretHash), []byte(secret)); err != nil {
		return fmt.Errorf("invalid client secret")
	}
	return nil
}

// DeleteClient soft-deletes a client. Existing tokens keep their rows; the
// client simply stops resolving.
func (s *Store) DeleteClient(ctx context.Context, id string) error {
	sql := fmt.Sprintf(`UPDATE %s SET deleted_at = $2 WHERE id = $1 AND deleted_at IS NULL`,
		s.table("oauth_clients"))
	if _, err := s.q(ctx).Exec(ctx, sql, id, time.Now()); err != nil {
		return fmt.Errorf("failed to delete client: %w", err)
	}
	return nil
}

// ============================================================
// ScopeRepository
// ============================================================

// SaveScope inserts or updates a scope catalogue entry.
func (s *Store) SaveScope(ctx context.Context, scope *storage.Scope) error {
	if scope == nil || scope.ID == "" {
		return fmt.Errorf("scope and identifier are required")
	}

	sql := fmt.Sprintf(`INSERT INTO %s (id, description)
		VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET description = EXCLUDED.description`,
		s.table("oauth_scopes"))

	if _, err := s.q(ctx).Exec(ctx, sql, scope.ID, scope.Description); err != nil {
		return fmt.Errorf("failed to save scope: %w", err)
	}
	return nil
}

// FinalizeScopes narrows requested scopes to what the client may hold. An
// empty request short-circuits to an empty grant; unknown or disallowed
// scopes are rejected without naming which check failed.
func (s *Store) FinalizeScopes(ctx context.Context, requested []string, client *storage.Client) ([]string, error) {
	if len(requested) == 0 {
		return []string{}, nil
	}
	if client == nil {
		return nil, fmt.Errorf("client is required to finalize scopes")
	}

	placeholders := make([]string, len(requested))
	args := make([]any, len(requested))
	for i, scope := range requested {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = scope
	}

	sql := fmt.Sprintf(`SELECT id FROM %s WHERE id IN (%s)`,
		s.table("oauth_scopes"), strings.Join(placeholders, ", "))

	rows, err := s.q(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to look up scopes: %w", err)
	}
	defer rows.Close()

	known := make(map[string]bool, len(requested))
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan scope: %w", err)
		}
		known[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read scopes: %w", err)
	}

	allowed := make(map[string]bool, len(client.Scopes))
	for _, scope := range client.Scopes {
		allowed[scope] = true
	}

	granted := make([]string, 0, len(requested))
	for _, scope := range requested {
		if !known[scope] {
			return nil, fmt.Errorf("scope %q is not recognized", scope)
		}
		if len(allowed) > 0 && !allowed[scope] {
			return nil, fmt.Errorf("scope %q is not available to this client", scope)
		}
		granted = append(granted, scope)
	}
	return granted, nil
}

// ============================================================
// UserRepository
// ============================================================

const userColumns = "id, email, display_name, additional_data, verified_at, created_at, updated_at"

// CreateUser persists a new user. Email uniqueness is enforced by a unique
// index on the lowercased email column.
func (s *Store) CreateUser(ctx context.Context, user *storage.User) error {
	if user == nil || user.Email == "" {
		return fmt.Errorf("user and email are required")
	}
	if user.ID == "" {
		user.ID = s.dialect.NewIdentifier(40)
	}
	now := time.Now()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	if user.UpdatedAt.IsZero() {
		user.UpdatedAt = now
	}

	additional, err := json.Marshal(user.AdditionalData)
	if err != nil {
		return fmt.Errorf("failed to encode additional data: %w", err)
	}

	sql := fmt.Sprintf(`INSERT INTO %s (%s)
		VALUES ($1, lower($2), $3, $4, $5, $6, $7)`,
		s.table("users"), userColumns)

	_, err = s.q(ctx).Exec(ctx, sql,
		user.ID, user.Email, nullable(user.DisplayName), additional,
		user.VerifiedAt, user.CreatedAt, user.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("user email: %w", storage.ErrDuplicate)
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// FindUser retrieves a user by identifier.
func (s *Store) FindUser(ctx context.Context, id string) (*storage.User, error) {
	sql := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, userColumns, s.table("users"))
	return s.scanUser(s.q(ctx).QueryRow(ctx, sql, id))
}

// FindUserByEmail retrieves a user by email, case-insensitively.
func (s *Store) FindUserByEmail(ctx context.Context, email string) (*storage.User, error) {
	sql := fmt.Sprintf(`SELECT %s FROM %s WHERE email = lower($1)`, userColumns, s.table("users"))
	return s.scanUser(s.q(ctx).QueryRow(ctx, sql, strings.TrimSpace(email)))
}

// EmailExists reports whether a user with the given email exists.
func (s *Store) EmailExists(ctx context.Context, email string) (bool, error) {
	sql := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE email = lower($1))`, s.table("users"))
	var exists bool
	if err := s.q(ctx).QueryRow(ctx, sql, strings.TrimSpace(email)).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check email existence: %w", err)
	}
	return exists, nil
}

// MarkUserVerified sets VerifiedAt exactly once. The WHERE clause on the
// NULL column makes the operation atomic under concurrent validation.
func (s *Store) MarkUserVerified(ctx context.Context, id string, at time.Time) (bool, error) {
	sql := fmt.Sprintf(`UPDATE %s SET verified_at = $2, updated_at = $2
		WHERE id = $1 AND verified_at IS NULL`, s.table("users"))
	tag, err := s.q(ctx).Exec(ctx, sql, id, at)
	if err != nil {
		return false, fmt.Errorf("failed to mark user verified: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanUser(row rowScanner) (*storage.User, error) {
	var u storage.User
	var displayName *string
	var additional []byte
	err := row.Scan(&u.ID, &u.Email, &displayName, &additional,
		&u.VerifiedAt, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, mapNotFound(err)
	}
	u.DisplayName = deref(displayName)
	if len(additional) > 0 {
		if err := json.Unmarshal(additional, &u.AdditionalData); err != nil {
			return nil, fmt.Errorf("failed to decode additional data: %w", err)
		}
	}
	return &u, nil
}
