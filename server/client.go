package server

import (
	"context"
	"errors"

	"github.com/linklogin/magiclink-oauth/storage"
)

// authenticateClient resolves and authenticates the client of a token
// request. Confidential clients must present their secret; public clients
// must not present one. All failure modes collapse to ErrInvalidClient.
func (s *Server) authenticateClient(ctx context.Context, clientID, clientSecret, ipAddress string) (*storage.Client, error) {
	if clientID == "" {
		return nil, invalidRequest("client_id is required")
	}

	client, err := s.store.FindClient(ctx, clientID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.Logger.Error("Client lookup failed", "error", err)
			return nil, serverError("failed to look up client")
		}
		s.auditAuthFailure("", clientID, ipAddress, "unknown_client")
		return nil, ErrInvalidClient
	}

	if err := s.store.ValidateClientSecret(ctx, clientID, clientSecret); err != nil {
		s.auditAuthFailure("", clientID, ipAddress, "client_secret_mismatch")
		return nil, ErrInvalidClient
	}

	return client, nil
}

func (s *Server) auditAuthFailure(userID, clientID, ipAddress, reason string) {
	if s.Auditor != nil {
		s.Auditor.LogAuthFailure(userID, clientID, ipAddress, reason)
	}
}
