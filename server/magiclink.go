package server

import (
	"context"
	"errors"
	"strings"

	"github.com/linklogin/magiclink-oauth/storage"
)

// exchangeMagicLink implements the magic_link grant: a single-use email
// token is traded for an access/refresh token pair.
//
// The email token is consumed (deleted) before any tokens are issued, so
// two concurrent presentations of the same link cannot both succeed. The
// user is resolved from the token's own UserID, never from request
// parameters, so a token can only ever authenticate the account it was
// mailed to.
func (s *Server) exchangeMagicLink(ctx context.Context, req TokenRequest) (*TokenResponse, error) {
	if req.Token == "" {
		return nil, invalidRequest("token parameter is required")
	}

	client, err := s.authenticateClient(ctx, req.ClientID, req.ClientSecret, req.IPAddress)
	if err != nil {
		return nil, err
	}

	now := s.now()
	token, err := s.store.FindUnexpiredEmailToken(ctx, req.Token, now)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.Logger.Error("Email token lookup failed", "error", err)
			return nil, serverError("failed to look up token")
		}
		s.auditAuthFailure("", req.ClientID, req.IPAddress, "magic_link_token_invalid")
		return nil, ErrInvalidToken
	}

	if token.TokenType != storage.EmailTokenLogin {
		// Registration tokens go through the validation endpoint, not this grant.
		s.auditAuthFailure(token.UserID, req.ClientID, req.IPAddress, "magic_link_wrong_token_type")
		return nil, ErrInvalidToken
	}

	// A token minted for one client must not authenticate against another.
	if token.ClientID != "" && token.ClientID != client.ID {
		s.auditAuthFailure(token.UserID, req.ClientID, req.IPAddress, "magic_link_client_mismatch")
		return nil, ErrInvalidToken
	}

	user, err := s.store.FindUser(ctx, token.UserID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.Logger.Error("User lookup failed", "error", err)
			return nil, serverError("failed to look up user")
		}
		s.auditAuthFailure(token.UserID, req.ClientID, req.IPAddress, "magic_link_user_missing")
		return nil, ErrUserNotFound
	}

	scopes, err := s.store.FinalizeScopes(ctx, strings.Fields(req.Scope), client)
	if err != nil {
		return nil, invalidScope(err.Error())
	}

	// Consume before issuing. Exactly one of two racing presentations
	// observes the delete; the loser gets the uniform invalid-token error.
	consumed, err := s.store.DeleteEmailToken(ctx, token.Token)
	if err != nil {
		s.Logger.Error("Email token consumption failed", "error", err)
		return nil, serverError("failed to consume token")
	}
	if !consumed {
		s.auditAuthFailure(user.ID, req.ClientID, req.IPAddress, "magic_link_already_consumed")
		return nil, ErrInvalidToken
	}

	resp, err := s.issueTokens(ctx, user.ID, client.ID, scopes, GrantTypeMagicLink, req.IPAddress)
	if err != nil {
		return nil, err
	}

	if s.Auditor != nil {
		s.Auditor.LogMagicLinkConsumed(user.ID, client.ID, req.IPAddress)
	}
	s.Logger.Info("Magic link grant completed",
		"user_id", safeTruncate(user.ID, 8),
		"client_id", client.ID)

	return resp, nil
}
