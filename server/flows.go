package server

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/linklogin/magiclink-oauth/security"
	"github.com/linklogin/magiclink-oauth/storage"
)

// Token handles a token endpoint request, dispatching on grant type.
func (s *Server) Token(ctx context.Context, req TokenRequest) (*TokenResponse, error) {
	if s.RateLimiter != nil && req.IPAddress != "" && !s.RateLimiter.Allow(req.IPAddress) {
		if s.Auditor != nil {
			s.Auditor.LogRateLimitExceeded(req.IPAddress, req.ClientID)
		}
		return nil, NewError(ErrorCodeInvalidRequest, "Too many requests", 429)
	}

	switch req.GrantType {
	case GrantTypeMagicLink:
		return s.exchangeMagicLink(ctx, req)
	case GrantTypeAuthorizationCode:
		return s.exchangeAuthorizationCode(ctx, req)
	case GrantTypeRefreshToken:
		return s.refreshGrant(ctx, req)
	default:
		return nil, NewError(ErrorCodeUnsupportedGrantType,
			fmt.Sprintf("grant type %q is not supported", req.GrantType), 400)
	}
}

// Authorize validates an authorization request for an authenticated
// resource owner and issues an authorization code. The returned code is the
// encrypted wire form handed to the client via redirect.
func (s *Server) Authorize(ctx context.Context, req AuthorizeRequest) (string, error) {
	if req.UserID == "" {
		return "", invalidRequest("authorization requires an authenticated user")
	}

	if err := s.validateStateParameter(req.State); err != nil {
		s.auditAuthFailure("", req.ClientID, req.IPAddress, "missing_state_parameter")
		return "", invalidRequest(err.Error())
	}

	client, err := s.store.FindClient(ctx, req.ClientID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.Logger.Error("Client lookup failed", "error", err)
			return "", serverError("failed to look up client")
		}
		s.auditAuthFailure("", req.ClientID, req.IPAddress, "unknown_client")
		return "", ErrInvalidClient
	}

	if err := s.validatePKCEParams(req.CodeChallenge, req.CodeChallengeMethod, client.Confidential); err != nil {
		s.auditAuthFailure("", req.ClientID, req.IPAddress, "invalid_pkce_parameters")
		return "", invalidRequest(err.Error())
	}

	if err := s.validateRedirectURI(client, req.RedirectURI); err != nil {
		if s.Auditor != nil {
			s.Auditor.LogEvent(security.Event{
				Type:      security.EventInvalidRedirect,
				ClientID:  req.ClientID,
				IPAddress: req.IPAddress,
			})
		}
		return "", invalidRequest(err.Error())
	}

	scopes, err := s.store.FinalizeScopes(ctx, strings.Fields(req.Scope), client)
	if err != nil {
		return "", invalidScope(err.Error())
	}

	now := s.now()
	code := &storage.AuthCode{
		ID:                  generateRandomToken(),
		UserID:              req.UserID,
		ClientID:            client.ID,
		Scopes:              scopes,
		RedirectURI:         req.RedirectURI,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
		ExpiresAt:           now.Add(time.Duration(s.Config.AuthorizationCodeTTL) * time.Second),
		CreatedAt:           now,
	}
	if err := s.store.CreateAuthCode(ctx, code); err != nil {
		s.Logger.Error("Authorization code persistence failed", "error", err)
		return "", serverError("failed to issue authorization code")
	}

	wireCode, err := s.encodeWireToken(wireKindAuthCode, code.ID)
	if err != nil {
		s.Logger.Error("Authorization code encoding failed", "error", err)
		return "", serverError("failed to issue authorization code")
	}

	s.Logger.Info("Authorization code issued",
		"client_id", client.ID,
		"user_id", safeTruncate(req.UserID, 8),
		"pkce_method", req.CodeChallengeMethod)

	return wireCode, nil
}

// exchangeAuthorizationCode implements the authorization_code grant with
// PKCE verification and single-use enforcement.
func (s *Server) exchangeAuthorizationCode(ctx context.Context, req TokenRequest) (*TokenResponse, error) {
	if req.Code == "" {
		return nil, invalidRequest("code parameter is required")
	}

	client, err := s.authenticateClient(ctx, req.ClientID, req.ClientSecret, req.IPAddress)
	if err != nil {
		return nil, err
	}

	codeID, err := s.decodeWireToken(wireKindAuthCode, req.Code)
	if err != nil {
		s.auditAuthFailure("", req.ClientID, req.IPAddress, "malformed_authorization_code")
		return nil, ErrInvalidGrant
	}

	// Consume before verification: a code that fails PKCE or redirect
	// checks must still be burned.
	code, err := s.store.ConsumeAuthCode(ctx, codeID, s.now())
	if err != nil {
		if errors.Is(err, storage.ErrCodeConsumed) && code != nil {
			// Replay of an exchanged code signals interception: revoke
			// everything issued to this user+client pair (OAuth 2.1).
			revoked, revErr := s.store.RevokeAllForUserClient(ctx, code.UserID, code.ClientID)
			if revErr != nil {
				s.Logger.Error("Replay reaction failed", "error", revErr)
			}
			if s.Auditor != nil {
				s.Auditor.LogReplayDetected(code.UserID, code.ClientID, req.IPAddress, "authorization_code", revoked)
			}
			return nil, ErrInvalidGrant
		}
		if !errors.Is(err, storage.ErrNotFound) {
			s.Logger.Error("Authorization code consumption failed", "error", err)
			return nil, serverError("failed to consume authorization code")
		}
		s.auditAuthFailure("", req.ClientID, req.IPAddress, "unknown_or_expired_code")
		return nil, ErrInvalidGrant
	}

	if code.ClientID != client.ID {
		s.auditAuthFailure(code.UserID, req.ClientID, req.IPAddress, "code_client_mismatch")
		return nil, ErrInvalidGrant
	}

	// RFC 6749 section 4.1.3: redirect_uri must match the one bound at
	// authorization, exactly.
	if code.RedirectURI != "" && req.RedirectURI != code.RedirectURI {
		s.auditAuthFailure(code.UserID, req.ClientID, req.IPAddress, "redirect_uri_mismatch")
		return nil, ErrInvalidGrant
	}

	if err := s.validatePKCE(code.CodeChallenge, code.CodeChallengeMethod, req.CodeVerifier); err != nil {
		if s.Auditor != nil {
			s.Auditor.LogPKCEFailure(req.ClientID, req.IPAddress, err.Error())
		}
		return nil, ErrInvalidGrant
	}

	resp, err := s.issueTokens(ctx, code.UserID, client.ID, code.Scopes, GrantTypeAuthorizationCode, req.IPAddress)
	if err != nil {
		return nil, err
	}

	s.Logger.Info("Authorization code exchanged",
		"client_id", client.ID,
		"user_id", safeTruncate(code.UserID, 8))

	return resp, nil
}

// refreshGrant implements the refresh_token grant with mandatory rotation:
// the presented token is revoked and a fresh pair is issued. A rotated
// token presented again is treated as theft.
func (s *Server) refreshGrant(ctx context.Context, req TokenRequest) (*TokenResponse, error) {
	if req.RefreshToken == "" {
		return nil, invalidRequest("refresh_token parameter is required")
	}

	client, err := s.authenticateClient(ctx, req.ClientID, req.ClientSecret, req.IPAddress)
	if err != nil {
		return nil, err
	}

	tokenID, err := s.decodeWireToken(wireKindRefreshToken, req.RefreshToken)
	if err != nil {
		s.auditAuthFailure("", req.ClientID, req.IPAddress, "malformed_refresh_token")
		return nil, ErrInvalidGrant
	}

	token, err := s.store.ConsumeRefreshToken(ctx, tokenID, s.now())
	if err != nil {
		if errors.Is(err, storage.ErrRevoked) && token != nil {
			revoked, revErr := s.store.RevokeAllForUserClient(ctx, token.UserID, token.ClientID)
			if revErr != nil {
				s.Logger.Error("Replay reaction failed", "error", revErr)
			}
			if s.Auditor != nil {
				s.Auditor.LogReplayDetected(token.UserID, token.ClientID, req.IPAddress, "refresh_token", revoked)
			}
			return nil, ErrInvalidGrant
		}
		if !errors.Is(err, storage.ErrNotFound) {
			s.Logger.Error("Refresh token consumption failed", "error", err)
			return nil, serverError("failed to consume refresh token")
		}
		s.auditAuthFailure("", req.ClientID, req.IPAddress, "unknown_or_expired_refresh_token")
		return nil, ErrInvalidGrant
	}

	if token.ClientID != client.ID {
		s.auditAuthFailure(token.UserID, req.ClientID, req.IPAddress, "refresh_token_client_mismatch")
		return nil, ErrInvalidGrant
	}

	// The original scopes live on the paired access token.
	grantedScopes := []string{}
	if prior, err := s.store.FindAccessToken(ctx, token.AccessTokenID); err == nil {
		grantedScopes = prior.Scopes
	} else if !errors.Is(err, storage.ErrNotFound) {
		s.Logger.Error("Prior access token lookup failed", "error", err)
		return nil, serverError("failed to look up granted scopes")
	}

	scopes, err := narrowScopes(grantedScopes, req.Scope)
	if err != nil {
		return nil, invalidScope(err.Error())
	}

	// Retire the old access token alongside the rotated refresh token.
	if err := s.store.RevokeAccessToken(ctx, token.AccessTokenID); err != nil {
		s.Logger.Warn("Failed to revoke prior access token", "error", err)
	}

	resp, err := s.issueTokens(ctx, token.UserID, client.ID, scopes, GrantTypeRefreshToken, req.IPAddress)
	if err != nil {
		return nil, err
	}

	if s.Auditor != nil {
		s.Auditor.LogTokenRefreshed(token.UserID, client.ID, req.IPAddress)
	}

	return resp, nil
}

// narrowScopes applies RFC 6749 section 6: a refresh request may only keep
// or shrink the originally granted scope, never widen it.
func narrowScopes(granted []string, requested string) ([]string, error) {
	if requested == "" {
		return granted, nil
	}

	allowed := make(map[string]bool, len(granted))
	for _, scope := range granted {
		allowed[scope] = true
	}

	requestedScopes := strings.Fields(requested)
	narrowed := make([]string, 0, len(requestedScopes))
	for _, scope := range requestedScopes {
		if !allowed[scope] {
			return nil, fmt.Errorf("requested scope exceeds the original grant")
		}
		narrowed = append(narrowed, scope)
	}
	return narrowed, nil
}

// issueTokens mints and persists an access/refresh token pair and builds
// the token endpoint response.
func (s *Server) issueTokens(ctx context.Context, userID, clientID string, scopes []string, grantType, ipAddress string) (*TokenResponse, error) {
	now := s.now()

	access := &storage.AccessToken{
		ID:        generateRandomToken(),
		ClientID:  clientID,
		UserID:    userID,
		Scopes:    scopes,
		ExpiresAt: now.Add(time.Duration(s.Config.AccessTokenTTL) * time.Second),
		CreatedAt: now,
	}
	if err := s.store.CreateAccessToken(ctx, access); err != nil {
		s.Logger.Error("Access token persistence failed", "error", err)
		return nil, serverError("failed to issue tokens")
	}

	refresh := &storage.RefreshToken{
		ID:            generateRandomToken(),
		AccessTokenID: access.ID,
		ClientID:      clientID,
		UserID:        userID,
		ExpiresAt:     now.Add(time.Duration(s.Config.RefreshTokenTTL) * time.Second),
		CreatedAt:     now,
	}
	if err := s.store.CreateRefreshToken(ctx, refresh); err != nil {
		s.Logger.Error("Refresh token persistence failed", "error", err)
		return nil, serverError("failed to issue tokens")
	}

	wireRefresh, err := s.encodeWireToken(wireKindRefreshToken, refresh.ID)
	if err != nil {
		s.Logger.Error("Refresh token encoding failed", "error", err)
		return nil, serverError("failed to issue tokens")
	}

	if s.Auditor != nil {
		s.Auditor.LogTokenIssued(userID, clientID, ipAddress, grantType, strings.Join(scopes, " "))
	}

	return &TokenResponse{
		AccessToken:  access.ID,
		TokenType:    "Bearer",
		ExpiresIn:    s.Config.AccessTokenTTL,
		RefreshToken: wireRefresh,
		Scope:        strings.Join(scopes, " "),
	}, nil
}

// ValidateAccessToken checks an access token for existence, revocation, and
// expiry (with clock skew grace) and returns it.
func (s *Server) ValidateAccessToken(ctx context.Context, accessToken string) (*storage.AccessToken, error) {
	if accessToken == "" {
		return nil, ErrInvalidGrant
	}

	token, err := s.store.FindAccessToken(ctx, accessToken)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.Logger.Error("Access token lookup failed", "error", err)
			return nil, serverError("failed to look up token")
		}
		return nil, ErrInvalidGrant
	}

	revoked, err := s.store.IsAccessTokenRevoked(ctx, token.ID)
	if err != nil || revoked {
		return nil, ErrInvalidGrant
	}

	grace := time.Duration(s.Config.ClockSkewGracePeriod) * time.Second
	if security.IsTokenExpiredWithGracePeriod(token.ExpiresAt, s.now(), grace) {
		return nil, ErrInvalidGrant
	}

	return token, nil
}

// Revoke implements token revocation (RFC 7009). Per the RFC the endpoint
// answers success even for unknown tokens, so revocation leaks nothing
// about token validity.
func (s *Server) Revoke(ctx context.Context, clientID, clientSecret, tokenValue, ipAddress string) error {
	client, err := s.authenticateClient(ctx, clientID, clientSecret, ipAddress)
	if err != nil {
		return err
	}

	// Try the refresh token wire format first, then treat the value as a
	// bare access token identifier.
	if id, err := s.decodeWireToken(wireKindRefreshToken, tokenValue); err == nil {
		if token, err := s.store.FindRefreshToken(ctx, id); err == nil && token.ClientID == client.ID {
			if err := s.store.RevokeRefreshToken(ctx, id); err != nil {
				return serverError("failed to revoke token")
			}
			if err := s.store.RevokeAccessToken(ctx, token.AccessTokenID); err != nil {
				s.Logger.Warn("Failed to revoke paired access token", "error", err)
			}
			if s.Auditor != nil {
				s.Auditor.LogTokenRevoked(token.UserID, client.ID, ipAddress, "refresh_token")
			}
		}
		return nil
	}

	if token, err := s.store.FindAccessToken(ctx, tokenValue); err == nil && token.ClientID == client.ID {
		if err := s.store.RevokeAccessToken(ctx, token.ID); err != nil {
			return serverError("failed to revoke token")
		}
		if s.Auditor != nil {
			s.Auditor.LogTokenRevoked(token.UserID, client.ID, ipAddress, "access_token")
		}
	}
	return nil
}
