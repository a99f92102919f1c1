package server

import (
	"encoding/json"
	"fmt"
)

// Wire payload kinds. Refresh tokens and authorization codes leave the
// server as encrypted JSON envelopes around the stored identifier, so a
// database leak alone does not yield usable credentials and the two token
// kinds cannot be swapped for each other.
const (
	wireKindRefreshToken = "rt"
	wireKindAuthCode     = "ac"
)

type wirePayload struct {
	Kind string `json:"k"`
	ID   string `json:"id"`
}

// encodeWireToken wraps a stored identifier in an encrypted wire envelope.
// With encryption disabled the JSON passes through in the clear, which is
// acceptable only for development.
func (s *Server) encodeWireToken(kind, id string) (string, error) {
	raw, err := json.Marshal(wirePayload{Kind: kind, ID: id})
	if err != nil {
		return "", fmt.Errorf("failed to encode token payload: %w", err)
	}
	if s.Encryptor == nil {
		return string(raw), nil
	}
	encoded, err := s.Encryptor.Encrypt(string(raw))
	if err != nil {
		return "", fmt.Errorf("failed to protect token payload: %w", err)
	}
	return encoded, nil
}

// decodeWireToken unwraps a wire envelope and checks its kind. Any failure
// collapses to a single error so callers cannot distinguish tampering from
// a wrong token kind.
func (s *Server) decodeWireToken(kind, encoded string) (string, error) {
	raw := encoded
	if s.Encryptor != nil {
		decrypted, err := s.Encryptor.Decrypt(encoded)
		if err != nil {
			return "", fmt.Errorf("malformed token")
		}
		raw = decrypted
	}

	var payload wirePayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return "", fmt.Errorf("malformed token")
	}
	if payload.Kind != kind || payload.ID == "" {
		return "", fmt.Errorf("malformed token")
	}
	return payload.ID, nil
}
