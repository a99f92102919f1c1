package oauth

import "github.com/linklogin/magiclink-oauth/server"

// TokenResponse is the token endpoint response (RFC 6749 section 5.1).
type TokenResponse = server.TokenResponse

// ErrorResponse is the JSON error body written by all endpoints
// (RFC 6749 section 5.2).
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// ResultResponse is the JSON body of the account endpoints (register,
// magic-link, validate, invalidate). Code is a stable machine-readable
// outcome; Tokens is present only on authentication outcomes.
type ResultResponse struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Tokens  *TokenResponse `json:"tokens,omitempty"`
}

// AuthorizationServerMetadata is the RFC 8414 discovery document served at
// /.well-known/oauth-authorization-server.
type AuthorizationServerMetadata struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	RevocationEndpoint                string   `json:"revocation_endpoint,omitempty"`
	ScopesSupported                   []string `json:"scopes_supported,omitempty"`
	ResponseTypesSupported            []string `json:"response_types_supported"`
	GrantTypesSupported               []string `json:"grant_types_supported"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported"`
	CodeChallengeMethodsSupported     []string `json:"code_challenge_methods_supported"`
}
