// Package memory provides an in-memory implementation of every storage
// contract. It is suitable for development, testing, and single-instance
// deployments.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/linklogin/magiclink-oauth/instrumentation"
	"github.com/linklogin/magiclink-oauth/storage"
)

// Store is an in-memory implementation of storage.Store. All maps are
// guarded by a single RWMutex, which also makes every consume operation
// atomic: check-and-delete happens under one critical section.
type Store struct {
	mu sync.RWMutex

	emailTokens   map[string]*storage.EmailToken // keyed by secret value
	accessTokens  map[string]*storage.AccessToken
	refreshTokens map[string]*storage.RefreshToken
	authCodes     map[string]*storage.AuthCode
	clients       map[string]*storage.Client
	scopes        map[string]*storage.Scope
	users         map[string]*storage.User
	usersByEmail  map[string]string // lowercased email -> user id

	dialect storage.Dialect

	// txMu serializes transactions; snapshot/restore emulates rollback.
	txMu sync.Mutex

	// Atomic counters for metrics (lock-free access during collection)
	emailTokensCount   atomic.Int64
	accessTokensCount  atomic.Int64
	refreshTokensCount atomic.Int64
	authCodesCount     atomic.Int64
	clientsCount       atomic.Int64

	instrumentation *instrumentation.Instrumentation

	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
	logger          *slog.Logger
}

// Compile-time interface check
var _ storage.Store = (*Store)(nil)

// New creates a new in-memory store with the default cleanup interval
// (1 minute) and hex identifiers.
func New() *Store {
	return NewWithOptions(storage.MySQLDialect{}, time.Minute)
}

// NewWithOptions creates a new in-memory store with a custom identifier
// dialect and cleanup interval. A non-positive interval falls back to the
// default of 1 minute.
func NewWithOptions(dialect storage.Dialect, cleanupInterval time.Duration) *Store {
	if dialect == nil {
		dialect = storage.MySQLDialect{}
	}
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}

	s := &Store{
		emailTokens:     make(map[string]*storage.EmailToken),
		accessTokens:    make(map[string]*storage.AccessToken),
		refreshTokens:   make(map[string]*storage.RefreshToken),
		authCodes:       make(map[string]*storage.AuthCode),
		clients:         make(map[string]*storage.Client),
		scopes:          make(map[string]*storage.Scope),
		users:           make(map[string]*storage.User),
		usersByEmail:    make(map[string]string),
		dialect:         dialect,
		cleanupInterval: cleanupInterval,
		stopCleanup:     make(chan struct{}),
		logger:          slog.Default(),
	}

	go s.cleanupLoop()

	return s
}

// SetLogger sets a custom logger
func (s *Store) SetLogger(logger *slog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = logger
}

// SetInstrumentation sets OpenTelemetry instrumentation for the store and
// registers size gauges backed by the atomic counters.
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.mu.Lock()
	s.instrumentation = inst
	s.emailTokensCount.Store(int64(len(s.emailTokens)))
	s.accessTokensCount.Store(int64(len(s.accessTokens)))
	s.refreshTokensCount.Store(int64(len(s.refreshTokens)))
	s.authCodesCount.Store(int64(len(s.authCodes)))
	s.clientsCount.Store(int64(len(s.clients)))
	s.mu.Unlock()

	if inst != nil {
		err := inst.RegisterStorageSizeCallbacks(
			func() int64 { return s.emailTokensCount.Load() },
			func() int64 { return s.accessTokensCount.Load() },
			func() int64 { return s.refreshTokensCount.Load() },
			func() int64 { return s.authCodesCount.Load() },
			func() int64 { return s.clientsCount.Load() },
		)
		if err != nil {
			s.logger.Warn("Failed to register storage size callbacks", "error", err)
		}
	}
}

// NewIdentifier generates a backend-appropriate opaque identifier.
func (s *Store) NewIdentifier(n int) string {
	return s.dialect.NewIdentifier(n)
}

// Stop gracefully stops the cleanup goroutine
func (s *Store) Stop() {
	s.stopOnce.Do(func() { close(s.stopCleanup) })
}

// ============================================================
// EmailTokenRepository
// ============================================================

// CreateEmailToken persists a new email token, enforcing secret uniqueness.
func (s *Store) CreateEmailToken(_ context.Context, token *storage.EmailToken) error {
	if token == nil || token.Token == "" {
		return fmt.Errorf("email token and secret are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.emailTokens[token.Token]; exists {
		return fmt.Errorf("email token %q: %w", safeTruncate(token.Token, 8), storage.ErrDuplicate)
	}
	if token.ID == "" {
		token.ID = s.dialect.NewIdentifier(40)
	}
	s.emailTokens[token.Token] = cloneEmailToken(token)
	s.emailTokensCount.Store(int64(len(s.emailTokens)))
	return nil
}

// FindEmailToken looks a token up by secret value.
func (s *Store) FindEmailToken(_ context.Context, token string, checkExpiry bool, now time.Time) (*storage.EmailToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.emailTokens[token]
	if !ok {
		return nil, storage.ErrNotFound
	}
	if checkExpiry && storage.Expired(t, now) {
		return nil, storage.ErrNotFound
	}
	return cloneEmailToken(t), nil
}

// FindUnexpiredEmailToken is FindEmailToken with the expiry check forced on.
func (s *Store) FindUnexpiredEmailToken(ctx context.Context, token string, now time.Time) (*storage.EmailToken, error) {
	return s.FindEmailToken(ctx, token, true, now)
}

// DeleteEmailToken consumes a token. Check-and-delete runs under one lock:
// of two concurrent consumers exactly one observes true.
func (s *Store) DeleteEmailToken(_ context.Context, token string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.emailTokens[token]; !ok {
		return false, nil
	}
	delete(s.emailTokens, token)
	s.emailTokensCount.Store(int64(len(s.emailTokens)))
	return true, nil
}

// ============================================================
// AccessTokenRepository
// ============================================================

// CreateAccessToken persists an issued access token.
func (s *Store) CreateAccessToken(_ context.Context, token *storage.AccessToken) error {
	if token == nil || token.ID == "" {
		return fmt.Errorf("access token and identifier are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.accessTokens[token.ID]; exists {
		return fmt.Errorf("access token %q: %w", safeTruncate(token.ID, 8), storage.ErrDuplicate)
	}
	s.accessTokens[token.ID] = cloneAccessToken(token)
	s.accessTokensCount.Store(int64(len(s.accessTokens)))
	return nil
}

// FindAccessToken retrieves an access token by identifier.
func (s *Store) FindAccessToken(_ context.Context, id string) (*storage.AccessToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.accessTokens[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cloneAccessToken(t), nil
}

// RevokeAccessToken marks the token revoked (monotonic, idempotent).
func (s *Store) RevokeAccessToken(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.accessTokens[id]; ok {
		t.Revoked = true
	}
	return nil
}

// IsAccessTokenRevoked reports revocation status, fail-closed for unknown ids.
func (s *Store) IsAccessTokenRevoked(_ context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.accessTokens[id]
	if !ok {
		return true, nil
	}
	return t.Revoked, nil
}

// ============================================================
// RefreshTokenRepository
// ============================================================

// CreateRefreshToken persists a refresh token bound to its access token.
func (s *Store) CreateRefreshToken(_ context.Context, token *storage.RefreshToken) error {
	if token == nil || token.ID == "" {
		return fmt.Errorf("refresh token and identifier are required")
	}
	if token.AccessTokenID == "" {
		return fmt.Errorf("refresh token must reference an access token")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.refreshTokens[token.ID]; exists {
		return fmt.Errorf("refresh token %q: %w", safeTruncate(token.ID, 8), storage.ErrDuplicate)
	}
	if _, ok := s.accessTokens[token.AccessTokenID]; !ok {
		return fmt.Errorf("access token %q: %w", safeTruncate(token.AccessTokenID, 8), storage.ErrNotFound)
	}
	s.refreshTokens[token.ID] = cloneRefreshToken(token)
	s.refreshTokensCount.Store(int64(len(s.refreshTokens)))
	return nil
}

// FindRefreshToken retrieves a refresh token by identifier.
func (s *Store) FindRefreshToken(_ context.Context, id string) (*storage.RefreshToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.refreshTokens[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cloneRefreshToken(t), nil
}

// ConsumeRefreshToken atomically revokes and returns an unrevoked,
// unexpired refresh token. A revoked token is returned with ErrRevoked so
// the caller can treat the presentation as reuse.
func (s *Store) ConsumeRefreshToken(_ context.Context, id string, now time.Time) (*storage.RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.refreshTokens[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	if t.Revoked {
		return cloneRefreshToken(t), storage.ErrRevoked
	}
	if storage.Expired(t, now) {
		return nil, storage.ErrNotFound
	}
	t.Revoked = true
	return cloneRefreshToken(t), nil
}

// RevokeRefreshToken marks the token revoked (monotonic, idempotent).
func (s *Store) RevokeRefreshToken(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.refreshTokens[id]; ok {
		t.Revoked = true
	}
	return nil
}

// IsRefreshTokenRevoked reports revocation status, fail-closed for unknown ids.
func (s *Store) IsRefreshTokenRevoked(_ context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.refreshTokens[id]
	if !ok {
		return true, nil
	}
	return t.Revoked, nil
}

// ============================================================
// AuthCodeRepository
// ============================================================

// CreateAuthCode persists an authorization code.
func (s *Store) CreateAuthCode(_ context.Context, code *storage.AuthCode) error {
	if code == nil || code.ID == "" {
		return fmt.Errorf("auth code and identifier are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.authCodes[code.ID]; exists {
		return fmt.Errorf("auth code %q: %w", safeTruncate(code.ID, 8), storage.ErrDuplicate)
	}
	s.authCodes[code.ID] = cloneAuthCode(code)
	s.authCodesCount.Store(int64(len(s.authCodes)))
	return nil
}

// FindAuthCode retrieves an authorization code by identifier.
func (s *Store) FindAuthCode(_ context.Context, id string) (*storage.AuthCode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.authCodes[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cloneAuthCode(c), nil
}

// ConsumeAuthCode atomically marks a code revoked on first exchange. An
// already-revoked code is returned with ErrCodeConsumed so the caller can
// react to the replay.
func (s *Store) ConsumeAuthCode(_ context.Context, id string, now time.Time) (*storage.AuthCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.authCodes[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	if c.Revoked {
		return cloneAuthCode(c), storage.ErrCodeConsumed
	}
	if storage.Expired(c, now) {
		return nil, storage.ErrNotFound
	}
	c.Revoked = true
	return cloneAuthCode(c), nil
}

// IsAuthCodeRevoked reports revocation status, fail-closed for unknown ids.
func (s *Store) IsAuthCodeRevoked(_ context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.authCodes[id]
	if !ok {
		return true, nil
	}
	return c.Revoked, nil
}

// ============================================================
// TokenRevocationRepository
// ============================================================

// RevokeAllForUserClient revokes every access and refresh token issued to
// the user+client pair. Returns the number of tokens newly revoked.
func (s *Store) RevokeAllForUserClient(_ context.Context, userID, clientID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	revoked := 0
	for _, t := range s.accessTokens {
		if t.UserID == userID && t.ClientID == clientID && !t.Revoked {
			t.Revoked = true
			revoked++
		}
	}
	for _, t := range s.refreshTokens {
		if t.UserID == userID && t.ClientID == clientID && !t.Revoked {
			t.Revoked = true
			revoked++
		}
	}
	return revoked, nil
}

// ============================================================
// ClientRepository
// ============================================================

// SaveClient inserts or replaces a client registration.
func (s *Store) SaveClient(_ context.Context, client *storage.Client) error {
	if client == nil || client.ID == "" {
		return fmt.Errorf("client and identifier are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.clients[client.ID] = cloneClient(client)
	s.clientsCount.Store(int64(len(s.clients)))
	return nil
}

// FindClient returns a client by id, excluding soft-deleted rows.
func (s *Store) FindClient(_ context.Context, id string) (*storage.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.clients[id]
	if !ok || c.Deleted() {
		return nil, storage.ErrNotFound
	}
	return cloneClient(c), nil
}

// ValidateClientSecret validates a confidential client's secret using
// bcrypt's constant-time comparison. Public clients reject any secret.
func (s *Store) ValidateClientSecret(ctx context.Context, id, secret string) error {
	client, err := s.FindClient(ctx, id)
	if err != nil {
		return fmt.Errorf("client %q: %w", id, err)
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
		return fmt.Errorf("invalid client credentials")
	}
	return nil
}

// DeleteClient soft-deletes a client.
func (s *Store) DeleteClient(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.clients[id]
	if !ok || c.Deleted() {
		return storage.ErrNotFound
	}
	now := time.Now()
	c.DeletedAt = &now
	return nil
}

// ============================================================
// ScopeRepository
// ============================================================

// SaveScope adds a scope to the catalogue.
func (s *Store) SaveScope(_ context.Context, scope *storage.Scope) error {
	if scope == nil || scope.ID == "" {
		return fmt.Errorf("scope and identifier are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.scopes[scope.ID] = &storage.Scope{ID: scope.ID, Description: scope.Description}
	return nil
}

// FinalizeScopes narrows requested scopes to what the client may hold.
func (s *Store) FinalizeScopes(_ context.Context, requested []string, client *storage.Client) ([]string, error) {
	if len(requested) == 0 {
		return []string{}, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	finalized := make([]string, 0, len(requested))
	for _, id := range requested {
		if _, ok := s.scopes[id]; !ok {
			return nil, fmt.Errorf("unknown scope %q", id)
		}
		if client != nil && len(client.Scopes) > 0 && !containsString(client.Scopes, id) {
			// Generic wording so callers cannot fingerprint the allow-list.
			return nil, fmt.Errorf("client is not authorized for one or more requested scopes")
		}
		finalized = append(finalized, id)
	}
	return finalized, nil
}

// ============================================================
// UserRepository
// ============================================================

// CreateUser persists a new user, enforcing email uniqueness.
func (s *Store) CreateUser(_ context.Context, user *storage.User) error {
	if user == nil || user.Email == "" {
		return fmt.Errorf("user and email are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	email := normalizeEmail(user.Email)
	if _, exists := s.usersByEmail[email]; exists {
		return fmt.Errorf("email %q: %w", email, storage.ErrDuplicate)
	}
	if user.ID == "" {
		user.ID = s.dialect.NewIdentifier(40)
	}
	if _, exists := s.users[user.ID]; exists {
		return fmt.Errorf("user %q: %w", user.ID, storage.ErrDuplicate)
	}
	s.users[user.ID] = cloneUser(user)
	s.usersByEmail[email] = user.ID
	return nil
}

// FindUser retrieves a user by id.
func (s *Store) FindUser(_ context.Context, id string) (*storage.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cloneUser(u), nil
}

// FindUserByEmail retrieves a user by email (case-insensitive).
func (s *Store) FindUserByEmail(_ context.Context, email string) (*storage.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.usersByEmail[normalizeEmail(email)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cloneUser(s.users[id]), nil
}

// EmailExists reports whether a user with the email exists.
func (s *Store) EmailExists(_ context.Context, email string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.usersByEmail[normalizeEmail(email)]
	return ok, nil
}

// MarkUserVerified sets VerifiedAt exactly once.
func (s *Store) MarkUserVerified(_ context.Context, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return false, storage.ErrNotFound
	}
	if u.VerifiedAt != nil {
		return false, nil
	}
	verifiedAt := at
	u.VerifiedAt = &verifiedAt
	u.UpdatedAt = at
	return true, nil
}

// ============================================================
// TxRunner
// ============================================================

// WithinTransaction emulates a storage transaction by snapshotting the
// store before fn runs and restoring the snapshot if fn fails. Transactions
// are serialized; individual repository calls inside fn still take the
// regular store lock. Rollback restores the whole-store snapshot, so writes
// made by concurrent non-transactional callers between snapshot and restore
// are discarded with it; isolation holds only against other transactions.
func (s *Store) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	snap := s.snapshot()
	if err := fn(ctx); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

type snapshot struct {
	emailTokens   map[string]*storage.EmailToken
	accessTokens  map[string]*storage.AccessToken
	refreshTokens map[string]*storage.RefreshToken
	authCodes     map[string]*storage.AuthCode
	clients       map[string]*storage.Client
	users         map[string]*storage.User
	usersByEmail  map[string]string
}

func (s *Store) snapshot() *snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := &snapshot{
		emailTokens:   make(map[string]*storage.EmailToken, len(s.emailTokens)),
		accessTokens:  make(map[string]*storage.AccessToken, len(s.accessTokens)),
		refreshTokens: make(map[string]*storage.RefreshToken, len(s.refreshTokens)),
		authCodes:     make(map[string]*storage.AuthCode, len(s.authCodes)),
		clients:       make(map[string]*storage.Client, len(s.clients)),
		users:         make(map[string]*storage.User, len(s.users)),
		usersByEmail:  make(map[string]string, len(s.usersByEmail)),
	}
	for k, v := range s.emailTokens {
		snap.emailTokens[k] = cloneEmailToken(v)
	}
	for k, v := range s.accessTokens {
		snap.accessTokens[k] = cloneAccessToken(v)
	}
	for k, v := range s.refreshTokens {
		snap.refreshTokens[k] = cloneRefreshToken(v)
	}
	for k, v := range s.authCodes {
		snap.authCodes[k] = cloneAuthCode(v)
	}
	for k, v := range s.clients {
		snap.clients[k] = cloneClient(v)
	}
	for k, v := range s.users {
		snap.users[k] = cloneUser(v)
	}
	for k, v := range s.usersByEmail {
		snap.usersByEmail[k] = v
	}
	return snap
}

func (s *Store) restore(snap *snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.emailTokens = snap.emailTokens
	s.accessTokens = snap.accessTokens
	s.refreshTokens = snap.refreshTokens
	s.authCodes = snap.authCodes
	s.clients = snap.clients
	s.users = snap.users
	s.usersByEmail = snap.usersByEmail

	s.emailTokensCount.Store(int64(len(s.emailTokens)))
	s.accessTokensCount.Store(int64(len(s.accessTokens)))
	s.refreshTokensCount.Store(int64(len(s.refreshTokens)))
	s.authCodesCount.Store(int64(len(s.authCodes)))
	s.clientsCount.Store(int64(len(s.clients)))
}

// ============================================================
// Cleanup
// ============================================================

func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanupExpired()
		case <-s.stopCleanup:
			return
		}
	}
}

// cleanupExpired removes expired email tokens and auth codes. OAuth bearer
// tokens are kept until revoked-and-expired so that late revocation checks
// keep answering consistently.
func (s *Store) cleanupExpired() {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	removedTokens := 0
	for k, t := range s.emailTokens {
		// Login tokens linger past expiry so the reissue flow can still
		// resolve their owner; only registration leftovers are swept after
		// a generous grace window.
		if t.TokenType == storage.EmailTokenRegistration && now.After(t.ExpiresAt.Add(24*time.Hour)) {
			delete(s.emailTokens, k)
			removedTokens++
		}
	}

	removedCodes := 0
	for k, c := range s.authCodes {
		if now.After(c.ExpiresAt.Add(time.Hour)) {
			delete(s.authCodes, k)
			removedCodes++
		}
	}

	s.emailTokensCount.Store(int64(len(s.emailTokens)))
	s.authCodesCount.Store(int64(len(s.authCodes)))

	if removedTokens > 0 || removedCodes > 0 {
		s.logger.Debug("Cleaned up expired entries",
			"email_tokens", removedTokens,
			"auth_codes", removedCodes)
	}
}

// ============================================================
// Helpers
// ============================================================

func cloneEmailToken(t *storage.EmailToken) *storage.EmailToken {
	c := *t
	return &c
}

func cloneAccessToken(t *storage.AccessToken) *storage.AccessToken {
	c := *t
	c.Scopes = append([]string(nil), t.Scopes...)
	return &c
}

func cloneRefreshToken(t *storage.RefreshToken) *storage.RefreshToken {
	c := *t
	return &c
}

func cloneAuthCode(t *storage.AuthCode) *storage.AuthCode {
	c := *t
	c.Scopes = append([]string(nil), t.Scopes...)
	return &c
}

func cloneClient(c *storage.Client) *storage.Client {
	cp := *c
	cp.RedirectURIs = append([]string(nil), c.RedirectURIs...)
	cp.Scopes = append([]string(nil), c.Scopes...)
	if c.DeletedAt != nil {
		at := *c.DeletedAt
		cp.DeletedAt = &at
	}
	return &cp
}

func cloneUser(u *storage.User) *storage.User {
	cp := *u
	if u.VerifiedAt != nil {
		at := *u.VerifiedAt
		cp.VerifiedAt = &at
	}
	if u.AdditionalData != nil {
		cp.AdditionalData = make(map[string]any, len(u.AdditionalData))
		for k, v := range u.AdditionalData {
			cp.AdditionalData[k] = v
		}
	}
	return &cp
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// safeTruncate safely truncates a string to maxLen characters for logging.
func safeTruncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
