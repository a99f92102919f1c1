package interactor

import (
	"context"
	"errors"

	"github.com/linklogin/magiclink-oauth/server"
)

// AuthenticateRequest carries the inputs of a magic link authentication.
type AuthenticateRequest struct {
	Token        string
	ClientID     string
	ClientSecret string
	Scope        string
	IPAddress    string
}

// AuthenticateToken exchanges a magic link token for an access/refresh
// token pair via the magic_link grant. The token is single use; a second
// presentation gets the same uniform invalid-token outcome as a token that
// never existed.
func (i *Interactor) AuthenticateToken(ctx context.Context, req AuthenticateRequest) Result {
	resp, err := i.server.Token(ctx, server.TokenRequest{
		GrantType:    server.GrantTypeMagicLink,
		Token:        req.Token,
		ClientID:     req.ClientID,
		ClientSecret: req.ClientSecret,
		Scope:        req.Scope,
		IPAddress:    req.IPAddress,
	})
	if err != nil {
		return i.mapGrantError(err)
	}

	return Result{
		Code:    CodeAuthenticated,
		Message: "Authenticated",
		Tokens:  resp,
	}
}

// InvalidateToken discards an outstanding link token so it can no longer be
// used. Unknown tokens report the uniform invalid-token outcome.
func (i *Interactor) InvalidateToken(ctx context.Context, token string) Result {
	if token == "" {
		return result(CodeInvalidToken, "Invalid or expired token")
	}

	deleted, err := i.store.DeleteEmailToken(ctx, token)
	if err != nil {
		i.logger.Error("Token invalidation failed", "error", err)
		return result(CodeSystemError, "Token invalidation is temporarily unavailable")
	}
	if !deleted {
		return result(CodeInvalidToken, "Invalid or expired token")
	}
	return result(CodeTokenInvalidated, "The token has been invalidated")
}

// mapGrantError translates grant server errors into result codes without
// exposing internal detail.
func (i *Interactor) mapGrantError(err error) Result {
	if errors.Is(err, server.ErrUserNotFound) {
		return result(CodeUserNotFound, "Invalid or expired token")
	}

	var oauthErr *server.Error
	if errors.As(err, &oauthErr) {
		switch oauthErr.Code {
		case server.ErrorCodeInvalidCredentials:
			return result(CodeInvalidToken, "Invalid or expired token")
		case server.ErrorCodeInvalidRequest, server.ErrorCodeInvalidClient,
			server.ErrorCodeInvalidScope, server.ErrorCodeInvalidGrant:
			return result(CodeInvalidToken, oauthErr.Description)
		}
	}

	i.logger.Error("Grant failed", "error", err)
	return result(CodeSystemError, "Authentication is temporarily unavailable")
}
