package postgres

import (
	"context"
	"fmt"
	"strings"
)

// schemaStatements creates the tables the store expects. Statements are
// idempotent so Migrate can run at every startup.
func (s *Store) schemaStatements() []string {
	p := s.dialect.TablePrefix()
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %susers (
			id TEXT PRIMARY KEY,
			email TEXT NOT NULL UNIQUE,
			display_name TEXT,
			additional_data JSONB NOT NULL DEFAULT '{}',
			verified_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`, p),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %semail_tokens (
			id TEXT PRIMARY KEY,
			token TEXT NOT NULL UNIQUE,
			token_type TEXT NOT NULL,
			user_id TEXT NOT NULL,
			client_id TEXT,
			code_challenge TEXT,
			code_challenge_method TEXT,
			redirect_uri TEXT,
			state TEXT,
			ip_address TEXT,
			user_agent TEXT,
			expires_at TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`, p),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %soauth_clients (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			secret_hash TEXT,
			redirect_uris JSONB NOT NULL DEFAULT '[]',
			confidential BOOLEAN NOT NULL DEFAULT false,
			scopes JSONB NOT NULL DEFAULT '[]',
			created_at TIMESTAMPTZ NOT NULL,
			deleted_at TIMESTAMPTZ
		)`, p),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %soauth_scopes (
			id TEXT PRIMARY KEY,
			description TEXT NOT NULL DEFAULT ''
		)`, p),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %soauth_access_tokens (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			client_id TEXT NOT NULL,
			scopes JSONB NOT NULL DEFAULT '[]',
			revoked BOOLEAN NOT NULL DEFAULT false,
			expires_at TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`, p),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %soauth_refresh_tokens (
			id TEXT PRIMARY KEY,
			access_token_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			client_id TEXT NOT NULL,
			revoked BOOLEAN NOT NULL DEFAULT false,
			expires_at TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`, p),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %soauth_auth_codes (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			client_id TEXT NOT NULL,
			scopes JSONB NOT NULL DEFAULT '[]',
			redirect_uri TEXT NOT NULL,
			code_challenge TEXT,
			code_challenge_method TEXT,
			revoked BOOLEAN NOT NULL DEFAULT false,
			expires_at TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`, p),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_access_tokens_user_client
			ON %soauth_access_tokens (user_id, client_id)`, p),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_refresh_tokens_user_client
			ON %soauth_refresh_tokens (user_id, client_id)`, p),
	}
}

// Migrate creates the schema objects the store needs. Safe to call on every
// startup.
func (s *Store) Migrate(ctx context.Context) error {
	if p := strings.TrimSuffix(s.dialect.TablePrefix(), "."); p != "" {
		if _, err := s.pool.Exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", p)); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	for _, stmt := range s.schemaStatements() {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	s.logger.Info("Postgres schema ensured")
	return nil
}
