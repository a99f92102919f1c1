package server

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/linklogin/magiclink-oauth/internal/testutil"
	"github.com/linklogin/magiclink-oauth/security"
	"github.com/linklogin/magiclink-oauth/storage"
	"github.com/linklogin/magiclink-oauth/storage/memory"
)

// newTestServer builds a server on an in-memory store with a controllable
// clock, seeded with a public client, a verified user, and two scopes.
func newTestServer(t *testing.T) (*Server, *memory.Store, *testutil.MockTime) {
	t.Helper()

	store := memory.New()
	t.Cleanup(store.Stop)

	srv, err := New(store, &Config{Issuer: "http://localhost:8080"}, discardLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	clock := testutil.NewMockTime(time.Date(2027, 1, 15, 9, 0, 0, 0, time.UTC))
	srv.Clock = clock.Now

	ctx := context.Background()
	if err := store.SaveClient(ctx, testutil.TestClient()); err != nil {
		t.Fatalf("seeding client: %v", err)
	}
	if err := store.CreateUser(ctx, testutil.TestUser()); err != nil {
		t.Fatalf("seeding user: %v", err)
	}
	for _, id := range []string{"read", "write"} {
		if err := store.SaveScope(ctx, &storage.Scope{ID: id}); err != nil {
			t.Fatalf("seeding scope %q: %v", id, err)
		}
	}

	return srv, store, clock
}

func authorizeRequest(userID string) (AuthorizeRequest, string) {
	challenge, verifier := testutil.GeneratePKCEPair()
	return AuthorizeRequest{
		ClientID:            "test-client-id",
		RedirectURI:         "https://example.com/callback",
		Scope:               "read write",
		State:               "state-of-sufficient-length",
		CodeChallenge:       challenge,
		CodeChallengeMethod: PKCEMethodS256,
		UserID:              userID,
	}, verifier
}

func TestAuthorizationCodeFlow(t *testing.T) {
	srv, _, _ := newTestServer(t)
	ctx := context.Background()

	req, verifier := authorizeRequest("test-user-123")
	code, err := srv.Authorize(ctx, req)
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if code == "" {
		t.Fatal("Authorize returned an empty code")
	}

	resp, err := srv.Token(ctx, TokenRequest{
		GrantType:    GrantTypeAuthorizationCode,
		ClientID:     "test-client-id",
		Code:         code,
		CodeVerifier: verifier,
		RedirectURI:  req.RedirectURI,
	})
	if err != nil {
		t.Fatalf("Token: %v", err)
	}

	if resp.TokenType != "Bearer" {
		t.Errorf("TokenType = %q", resp.TokenType)
	}
	if resp.AccessToken == "" || resp.RefreshToken == "" {
		t.Error("expected both access and refresh tokens")
	}
	if resp.Scope != "read write" {
		t.Errorf("Scope = %q, want %q", resp.Scope, "read write")
	}
	if resp.ExpiresIn != srv.Config.AccessTokenTTL {
		t.Errorf("ExpiresIn = %d, want %d", resp.ExpiresIn, srv.Config.AccessTokenTTL)
	}

	token, err := srv.ValidateAccessToken(ctx, resp.AccessToken)
	if err != nil {
		t.Fatalf("ValidateAccessToken: %v", err)
	}
	if token.UserID != "test-user-123" {
		t.Errorf("token UserID = %q", token.UserID)
	}
}

func TestAuthorizeValidation(t *testing.T) {
	srv, _, _ := newTestServer(t)
	ctx := context.Background()

	t.Run("requires authenticated user", func(t *testing.T) {
		req, _ := authorizeRequest("")
		if _, err := srv.Authorize(ctx, req); err == nil {
			t.Error("expected an error without a user")
		}
	})

	t.Run("requires state", func(t *testing.T) {
		req, _ := authorizeRequest("test-user-123")
		req.State = ""
		if _, err := srv.Authorize(ctx, req); err == nil {
			t.Error("expected an error without state")
		}
	})

	t.Run("requires PKCE", func(t *testing.T) {
		req, _ := authorizeRequest("test-user-123")
		req.CodeChallenge = ""
		req.CodeChallengeMethod = ""
		if _, err := srv.Authorize(ctx, req); err == nil {
			t.Error("expected an error without PKCE parameters")
		}
	})

	t.Run("unknown client", func(t *testing.T) {
		req, _ := authorizeRequest("test-user-123")
		req.ClientID = "no-such-client"
		_, err := srv.Authorize(ctx, req)
		if !errors.Is(err, ErrInvalidClient) {
			t.Errorf("expected ErrInvalidClient, got %v", err)
		}
	})

	t.Run("unregistered redirect", func(t *testing.T) {
		req, _ := authorizeRequest("test-user-123")
		req.RedirectURI = "https://evil.example.com/cb"
		if _, err := srv.Authorize(ctx, req); err == nil {
			t.Error("expected an error for an unregistered redirect URI")
		}
	})

	t.Run("unknown scope", func(t *testing.T) {
		req, _ := authorizeRequest("test-user-123")
		req.Scope = "admin"
		if _, err := srv.Authorize(ctx, req); err == nil {
			t.Error("expected an error for an uncatalogued scope")
		}
	})
}

func TestAuthorizePKCEByClientType(t *testing.T) {
	store := memory.New()
	t.Cleanup(store.Stop)

	// Disable the confidential-client PKCE mandate. TrustProxy keeps the
	// config from being treated as fresh and re-defaulted.
	srv, err := New(store, &Config{
		Issuer:      "http://localhost:8080",
		RequirePKCE: false,
		TrustProxy:  true,
	}, discardLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx := context.Background()
	if err := store.SaveClient(ctx, testutil.TestClient()); err != nil {
		t.Fatalf("seeding public client: %v", err)
	}
	if err := store.SaveClient(ctx, testutil.TestConfidentialClient(t, "hunter2-hunter2")); err != nil {
		t.Fatalf("seeding confidential client: %v", err)
	}
	if err := store.CreateUser(ctx, testutil.TestUser()); err != nil {
		t.Fatalf("seeding user: %v", err)
	}
	for _, id := range []string{"read", "write"} {
		if err := store.SaveScope(ctx, &storage.Scope{ID: id}); err != nil {
			t.Fatalf("seeding scope %q: %v", id, err)
		}
	}

	t.Run("public client must send a challenge", func(t *testing.T) {
		req, _ := authorizeRequest("test-user-123")
		req.CodeChallenge = ""
		req.CodeChallengeMethod = ""
		if _, err := srv.Authorize(ctx, req); err == nil {
			t.Error("public client got a code without a code_challenge")
		}
	})

	t.Run("confidential client may omit the challenge", func(t *testing.T) {
		req, _ := authorizeRequest("test-user-123")
		req.ClientID = "test-confidential-client"
		req.CodeChallenge = ""
		req.CodeChallengeMethod = ""
		code, err := srv.Authorize(ctx, req)
		if err != nil {
			t.Fatalf("Authorize: %v", err)
		}
		if code == "" {
			t.Fatal("Authorize returned an empty code")
		}
	})
}

func TestCodeReplayRevokesTokens(t *testing.T) {
	srv, store, _ := newTestServer(t)
	ctx := context.Background()

	req, verifier := authorizeRequest("test-user-123")
	code, err := srv.Authorize(ctx, req)
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}

	exchange := TokenRequest{
		GrantType:    GrantTypeAuthorizationCode,
		ClientID:     "test-client-id",
		Code:         code,
		CodeVerifier: verifier,
		RedirectURI:  req.RedirectURI,
	}

	resp, err := srv.Token(ctx, exchange)
	if err != nil {
		t.Fatalf("first exchange: %v", err)
	}

	_, err = srv.Token(ctx, exchange)
	if !errors.Is(err, ErrInvalidGrant) {
		t.Fatalf("replayed exchange: got %v, want ErrInvalidGrant", err)
	}

	// The replay must have revoked the tokens from the first exchange.
	revoked, err := store.IsAccessTokenRevoked(ctx, resp.AccessToken)
	if err != nil || !revoked {
		t.Errorf("access token revoked = %v (err %v), want true", revoked, err)
	}
	if _, err := srv.ValidateAccessToken(ctx, resp.AccessToken); err == nil {
		t.Error("access token must not validate after replay reaction")
	}
}

func TestCodeExchangeFailuresBurnTheCode(t *testing.T) {
	srv, _, _ := newTestServer(t)
	ctx := context.Background()

	req, verifier := authorizeRequest("test-user-123")
	code, err := srv.Authorize(ctx, req)
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}

	// Wrong verifier fails the exchange but still consumes the code.
	_, err = srv.Token(ctx, TokenRequest{
		GrantType:    GrantTypeAuthorizationCode,
		ClientID:     "test-client-id",
		Code:         code,
		CodeVerifier: "completely-wrong-but-valid-length-verifier-1",
		RedirectURI:  req.RedirectURI,
	})
	if !errors.Is(err, ErrInvalidGrant) {
		t.Fatalf("wrong verifier: got %v, want ErrInvalidGrant", err)
	}

	// A retry with the correct verifier must not succeed.
	_, err = srv.Token(ctx, TokenRequest{
		GrantType:    GrantTypeAuthorizationCode,
		ClientID:     "test-client-id",
		Code:         code,
		CodeVerifier: verifier,
		RedirectURI:  req.RedirectURI,
	})
	if !errors.Is(err, ErrInvalidGrant) {
		t.Errorf("retry after failed exchange: got %v, want ErrInvalidGrant", err)
	}
}

func TestCodeExchangeBindings(t *testing.T) {
	srv, store, clock := newTestServer(t)
	ctx := context.Background()

	other := testutil.TestClient()
	other.ID = "other-client"
	if err := store.SaveClient(ctx, other); err != nil {
		t.Fatalf("seeding second client: %v", err)
	}

	t.Run("redirect mismatch", func(t *testing.T) {
		req, verifier := authorizeRequest("test-user-123")
		code, err := srv.Authorize(ctx, req)
		if err != nil {
			t.Fatalf("Authorize: %v", err)
		}
		_, err = srv.Token(ctx, TokenRequest{
			GrantType:    GrantTypeAuthorizationCode,
			ClientID:     "test-client-id",
			Code:         code,
			CodeVerifier: verifier,
			RedirectURI:  "https://example.com/other",
		})
		if !errors.Is(err, ErrInvalidGrant) {
			t.Errorf("got %v, want ErrInvalidGrant", err)
		}
	})

	t.Run("client mismatch", func(t *testing.T) {
		req, verifier := authorizeRequest("test-user-123")
		code, err := srv.Authorize(ctx, req)
		if err != nil {
			t.Fatalf("Authorize: %v", err)
		}
		_, err = srv.Token(ctx, TokenRequest{
			GrantType:    GrantTypeAuthorizationCode,
			ClientID:     "other-client",
			Code:         code,
			CodeVerifier: verifier,
			RedirectURI:  req.RedirectURI,
		})
		if !errors.Is(err, ErrInvalidGrant) {
			t.Errorf("got %v, want ErrInvalidGrant", err)
		}
	})

	t.Run("expired code", func(t *testing.T) {
		req, verifier := authorizeRequest("test-user-123")
		code, err := srv.Authorize(ctx, req)
		if err != nil {
			t.Fatalf("Authorize: %v", err)
		}
		clock.Advance(11 * time.Minute)
		_, err = srv.Token(ctx, TokenRequest{
			GrantType:    GrantTypeAuthorizationCode,
			ClientID:     "test-client-id",
			Code:         code,
			CodeVerifier: verifier,
			RedirectURI:  req.RedirectURI,
		})
		if !errors.Is(err, ErrInvalidGrant) {
			t.Errorf("got %v, want ErrInvalidGrant", err)
		}
	})
}

func TestMagicLinkGrant(t *testing.T) {
	srv, store, clock := newTestServer(t)
	ctx := context.Background()

	token := testutil.TestEmailToken("test-user-123", "test-client-id", clock.Now())
	if err := store.CreateEmailToken(ctx, token); err != nil {
		t.Fatalf("seeding email token: %v", err)
	}

	req := TokenRequest{
		GrantType: GrantTypeMagicLink,
		ClientID:  "test-client-id",
		Token:     token.Token,
		Scope:     "read",
	}

	resp, err := srv.Token(ctx, req)
	if err != nil {
		t.Fatalf("magic link grant: %v", err)
	}
	if resp.AccessToken == "" || resp.RefreshToken == "" {
		t.Error("expected a full token pair")
	}
	if resp.Scope != "read" {
		t.Errorf("Scope = %q, want %q", resp.Scope, "read")
	}

	issued, err := srv.ValidateAccessToken(ctx, resp.AccessToken)
	if err != nil {
		t.Fatalf("ValidateAccessToken: %v", err)
	}
	if issued.UserID != "test-user-123" {
		t.Errorf("user resolved from token = %q, want test-user-123", issued.UserID)
	}

	// The link is single-use.
	_, err = srv.Token(ctx, req)
	if !errors.Is(err, ErrInvalidToken) {
		t.Errorf("second presentation: got %v, want ErrInvalidToken", err)
	}
}

func TestMagicLinkGrantRejections(t *testing.T) {
	srv, store, clock := newTestServer(t)
	ctx := context.Background()

	t.Run("missing token parameter", func(t *testing.T) {
		_, err := srv.Token(ctx, TokenRequest{GrantType: GrantTypeMagicLink, ClientID: "test-client-id"})
		if err == nil {
			t.Error("expected an error without a token")
		}
	})

	t.Run("registration token rejected", func(t *testing.T) {
		token := testutil.TestEmailToken("test-user-123", "test-client-id", clock.Now())
		token.TokenType = storage.EmailTokenRegistration
		if err := store.CreateEmailToken(ctx, token); err != nil {
			t.Fatal(err)
		}
		_, err := srv.Token(ctx, TokenRequest{GrantType: GrantTypeMagicLink, ClientID: "test-client-id", Token: token.Token})
		if !errors.Is(err, ErrInvalidToken) {
			t.Errorf("got %v, want ErrInvalidToken", err)
		}
	})

	t.Run("client-bound token rejected for other client", func(t *testing.T) {
		token := testutil.TestEmailToken("test-user-123", "some-other-client", clock.Now())
		if err := store.CreateEmailToken(ctx, token); err != nil {
			t.Fatal(err)
		}
		_, err := srv.Token(ctx, TokenRequest{GrantType: GrantTypeMagicLink, ClientID: "test-client-id", Token: token.Token})
		if !errors.Is(err, ErrInvalidToken) {
			t.Errorf("got %v, want ErrInvalidToken", err)
		}
	})

	t.Run("expired token rejected", func(t *testing.T) {
		token := testutil.TestEmailToken("test-user-123", "test-client-id", clock.Now().Add(-time.Hour))
		if err := store.CreateEmailToken(ctx, token); err != nil {
			t.Fatal(err)
		}
		_, err := srv.Token(ctx, TokenRequest{GrantType: GrantTypeMagicLink, ClientID: "test-client-id", Token: token.Token})
		if !errors.Is(err, ErrInvalidToken) {
			t.Errorf("got %v, want ErrInvalidToken", err)
		}
	})

	t.Run("token pointing at a deleted user", func(t *testing.T) {
		token := testutil.TestEmailToken("ghost-user", "test-client-id", clock.Now())
		if err := store.CreateEmailToken(ctx, token); err != nil {
			t.Fatal(err)
		}
		_, err := srv.Token(ctx, TokenRequest{GrantType: GrantTypeMagicLink, ClientID: "test-client-id", Token: token.Token})
		if !errors.Is(err, ErrUserNotFound) {
			t.Errorf("got %v, want ErrUserNotFound", err)
		}
	})
}

// grantPair runs a magic link grant and returns the issued response.
func grantPair(t *testing.T, srv *Server, store *memory.Store, scope string, now time.Time) *TokenResponse {
	t.Helper()
	ctx := context.Background()
	token := testutil.TestEmailToken("test-user-123", "test-client-id", now)
	if err := store.CreateEmailToken(ctx, token); err != nil {
		t.Fatalf("seeding email token: %v", err)
	}
	resp, err := srv.Token(ctx, TokenRequest{
		GrantType: GrantTypeMagicLink,
		ClientID:  "test-client-id",
		Token:     token.Token,
		Scope:     scope,
	})
	if err != nil {
		t.Fatalf("magic link grant: %v", err)
	}
	return resp
}

func TestRefreshRotation(t *testing.T) {
	srv, store, clock := newTestServer(t)
	ctx := context.Background()

	initial := grantPair(t, srv, store, "read write", clock.Now())

	refreshed, err := srv.Token(ctx, TokenRequest{
		GrantType:    GrantTypeRefreshToken,
		ClientID:     "test-client-id",
		RefreshToken: initial.RefreshToken,
	})
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}

	if refreshed.RefreshToken == initial.RefreshToken {
		t.Error("rotation must issue a fresh refresh token")
	}
	if refreshed.AccessToken == initial.AccessToken {
		t.Error("rotation must issue a fresh access token")
	}
	if refreshed.Scope != "read write" {
		t.Errorf("Scope = %q, want the original grant", refreshed.Scope)
	}

	// The prior access token is retired with the rotated refresh token.
	if _, err := srv.ValidateAccessToken(ctx, initial.AccessToken); err == nil {
		t.Error("prior access token must not validate after rotation")
	}

	// Presenting the rotated refresh token again is treated as theft: the
	// whole user+client token family is revoked.
	_, err = srv.Token(ctx, TokenRequest{
		GrantType:    GrantTypeRefreshToken,
		ClientID:     "test-client-id",
		RefreshToken: initial.RefreshToken,
	})
	if !errors.Is(err, ErrInvalidGrant) {
		t.Fatalf("rotated token reuse: got %v, want ErrInvalidGrant", err)
	}
	if _, err := srv.ValidateAccessToken(ctx, refreshed.AccessToken); err == nil {
		t.Error("replay reaction must revoke the replacement tokens too")
	}
}

func TestRefreshScopeNarrowing(t *testing.T) {
	srv, store, clock := newTestServer(t)
	ctx := context.Background()

	initial := grantPair(t, srv, store, "read write", clock.Now())

	narrowed, err := srv.Token(ctx, TokenRequest{
		GrantType:    GrantTypeRefreshToken,
		ClientID:     "test-client-id",
		RefreshToken: initial.RefreshToken,
		Scope:        "read",
	})
	if err != nil {
		t.Fatalf("narrowing refresh: %v", err)
	}
	if narrowed.Scope != "read" {
		t.Errorf("Scope = %q, want %q", narrowed.Scope, "read")
	}

	// Widening beyond the original grant is refused.
	_, err = srv.Token(ctx, TokenRequest{
		GrantType:    GrantTypeRefreshToken,
		ClientID:     "test-client-id",
		RefreshToken: narrowed.RefreshToken,
		Scope:        "read write admin",
	})
	var oerr *Error
	if !errors.As(err, &oerr) || oerr.Code != ErrorCodeInvalidScope {
		t.Errorf("widening refresh: got %v, want %s", err, ErrorCodeInvalidScope)
	}
}

func TestRefreshTokenExpiry(t *testing.T) {
	srv, store, clock := newTestServer(t)
	ctx := context.Background()

	initial := grantPair(t, srv, store, "", clock.Now())
	clock.Advance(time.Duration(srv.Config.RefreshTokenTTL+10) * time.Second)

	_, err := srv.Token(ctx, TokenRequest{
		GrantType:    GrantTypeRefreshToken,
		ClientID:     "test-client-id",
		RefreshToken: initial.RefreshToken,
	})
	if !errors.Is(err, ErrInvalidGrant) {
		t.Errorf("expired refresh token: got %v, want ErrInvalidGrant", err)
	}
}

func TestUnsupportedGrantType(t *testing.T) {
	srv, _, _ := newTestServer(t)

	_, err := srv.Token(context.Background(), TokenRequest{GrantType: "password", ClientID: "test-client-id"})
	var oerr *Error
	if !errors.As(err, &oerr) || oerr.Code != ErrorCodeUnsupportedGrantType {
		t.Errorf("got %v, want %s", err, ErrorCodeUnsupportedGrantType)
	}
}

func TestTokenEndpointRateLimit(t *testing.T) {
	srv, _, _ := newTestServer(t)
	srv.RateLimiter = security.NewRateLimiter(1, 1, discardLogger())
	t.Cleanup(srv.RateLimiter.Stop)

	req := TokenRequest{GrantType: "password", ClientID: "test-client-id", IPAddress: "203.0.113.9"}

	// First request passes the limiter (and fails later for its grant type).
	_, err := srv.Token(context.Background(), req)
	var oerr *Error
	if !errors.As(err, &oerr) || oerr.Code != ErrorCodeUnsupportedGrantType {
		t.Fatalf("first request: got %v", err)
	}

	// The burst is spent; the next request is throttled.
	_, err = srv.Token(context.Background(), req)
	if !errors.As(err, &oerr) || oerr.Status != 429 {
		t.Errorf("second request: got %v, want a 429 error", err)
	}
}

func TestValidateAccessTokenLifecycle(t *testing.T) {
	srv, store, clock := newTestServer(t)
	ctx := context.Background()

	resp := grantPair(t, srv, store, "", clock.Now())

	if _, err := srv.ValidateAccessToken(ctx, resp.AccessToken); err != nil {
		t.Fatalf("fresh token: %v", err)
	}

	t.Run("unknown token", func(t *testing.T) {
		if _, err := srv.ValidateAccessToken(ctx, "no-such-token"); !errors.Is(err, ErrInvalidGrant) {
			t.Errorf("got %v, want ErrInvalidGrant", err)
		}
	})

	t.Run("empty token", func(t *testing.T) {
		if _, err := srv.ValidateAccessToken(ctx, ""); !errors.Is(err, ErrInvalidGrant) {
			t.Errorf("got %v, want ErrInvalidGrant", err)
		}
	})

	t.Run("revoked token", func(t *testing.T) {
		if err := store.RevokeAccessToken(ctx, resp.AccessToken); err != nil {
			t.Fatal(err)
		}
		if _, err := srv.ValidateAccessToken(ctx, resp.AccessToken); !errors.Is(err, ErrInvalidGrant) {
			t.Errorf("got %v, want ErrInvalidGrant", err)
		}
	})

	t.Run("expired token", func(t *testing.T) {
		fresh := grantPair(t, srv, store, "", clock.Now())
		clock.Advance(time.Duration(srv.Config.AccessTokenTTL)*time.Second + 10*time.Second)
		if _, err := srv.ValidateAccessToken(ctx, fresh.AccessToken); !errors.Is(err, ErrInvalidGrant) {
			t.Errorf("got %v, want ErrInvalidGrant", err)
		}
	})
}

func TestRevocation(t *testing.T) {
	srv, store, clock := newTestServer(t)
	ctx := context.Background()

	t.Run("unknown token still succeeds", func(t *testing.T) {
		if err := srv.Revoke(ctx, "test-client-id", "", "no-such-token", "127.0.0.1"); err != nil {
			t.Errorf("Revoke of unknown token: %v", err)
		}
	})

	t.Run("refresh token revokes the pair", func(t *testing.T) {
		resp := grantPair(t, srv, store, "", clock.Now())
		if err := srv.Revoke(ctx, "test-client-id", "", resp.RefreshToken, "127.0.0.1"); err != nil {
			t.Fatalf("Revoke: %v", err)
		}
		if _, err := srv.ValidateAccessToken(ctx, resp.AccessToken); err == nil {
			t.Error("paired access token must be revoked too")
		}
		_, err := srv.Token(ctx, TokenRequest{
			GrantType:    GrantTypeRefreshToken,
			ClientID:     "test-client-id",
			RefreshToken: resp.RefreshToken,
		})
		if !errors.Is(err, ErrInvalidGrant) {
			t.Errorf("revoked refresh token: got %v, want ErrInvalidGrant", err)
		}
	})

	t.Run("access token", func(t *testing.T) {
		resp := grantPair(t, srv, store, "", clock.Now())
		if err := srv.Revoke(ctx, "test-client-id", "", resp.AccessToken, "127.0.0.1"); err != nil {
			t.Fatalf("Revoke: %v", err)
		}
		if _, err := srv.ValidateAccessToken(ctx, resp.AccessToken); err == nil {
			t.Error("revoked access token must not validate")
		}
	})

	t.Run("unauthenticated client rejected", func(t *testing.T) {
		err := srv.Revoke(ctx, "no-such-client", "", "whatever", "127.0.0.1")
		if !errors.Is(err, ErrInvalidClient) {
			t.Errorf("got %v, want ErrInvalidClient", err)
		}
	})
}

func TestClientAuthentication(t *testing.T) {
	srv, store, clock := newTestServer(t)
	ctx := context.Background()

	confidential := testutil.TestConfidentialClient(t, "s3cret")
	if err := store.SaveClient(ctx, confidential); err != nil {
		t.Fatal(err)
	}

	token := testutil.TestEmailToken("test-user-123", confidential.ID, clock.Now())
	if err := store.CreateEmailToken(ctx, token); err != nil {
		t.Fatal(err)
	}

	t.Run("wrong secret", func(t *testing.T) {
		_, err := srv.Token(ctx, TokenRequest{
			GrantType:    GrantTypeMagicLink,
			ClientID:     confidential.ID,
			ClientSecret: "wrong",
			Token:        token.Token,
		})
		if !errors.Is(err, ErrInvalidClient) {
			t.Errorf("got %v, want ErrInvalidClient", err)
		}
	})

	t.Run("correct secret", func(t *testing.T) {
		_, err := srv.Token(ctx, TokenRequest{
			GrantType:    GrantTypeMagicLink,
			ClientID:     confidential.ID,
			ClientSecret: "s3cret",
			Token:        token.Token,
		})
		if err != nil {
			t.Errorf("grant with correct secret: %v", err)
		}
	})
}

func TestWireTokenCodec(t *testing.T) {
	key := bytes.Repeat([]byte{0x42}, 32)
	enc, err := security.NewEncryptor(key)
	if err != nil {
		t.Fatalf("NewEncryptor: %v", err)
	}

	t.Run("with encryption", func(t *testing.T) {
		s := &Server{Encryptor: enc}
		wire, err := s.encodeWireToken(wireKindRefreshToken, "token-id-1")
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		if wire == "token-id-1" || wire == `{"k":"rt","id":"token-id-1"}` {
			t.Error("wire form must not expose the stored identifier")
		}
		id, err := s.decodeWireToken(wireKindRefreshToken, wire)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if id != "token-id-1" {
			t.Errorf("decoded id = %q", id)
		}

		// A refresh token envelope does not decode as an auth code.
		if _, err := s.decodeWireToken(wireKindAuthCode, wire); err == nil {
			t.Error("kind cross-check must fail")
		}

		// Tampering is detected.
		if _, err := s.decodeWireToken(wireKindRefreshToken, wire[:len(wire)-2]); err == nil {
			t.Error("tampered envelope must fail")
		}
	})

	t.Run("without encryption", func(t *testing.T) {
		s := &Server{}
		wire, err := s.encodeWireToken(wireKindAuthCode, "code-id-1")
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		id, err := s.decodeWireToken(wireKindAuthCode, wire)
		if err != nil || id != "code-id-1" {
			t.Errorf("roundtrip = (%q, %v)", id, err)
		}
		if _, err := s.decodeWireToken(wireKindAuthCode, "garbage"); err == nil {
			t.Error("non-envelope input must fail")
		}
	})
}
