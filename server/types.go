package server

// Grant type identifiers accepted by the token endpoint.
const (
	GrantTypeMagicLink         = "magic_link"
	GrantTypeAuthorizationCode = "authorization_code"
	GrantTypeRefreshToken      = "refresh_token"
)

// TokenResponse is the token endpoint response (RFC 6749 section 5.1).
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// TokenRequest carries the parsed parameters of a token endpoint request.
// Which fields matter depends on GrantType.
type TokenRequest struct {
	GrantType    string
	ClientID     string
	ClientSecret string

	// Token is the magic link token secret (magic_link grant).
	Token string

	// Code and CodeVerifier drive the authorization_code grant.
	Code         string
	CodeVerifier string
	RedirectURI  string

	// RefreshToken drives the refresh_token grant.
	RefreshToken string

	// Scope is the space-separated requested scope. On refresh it may only
	// narrow the original grant.
	Scope string

	// IPAddress is the caller's IP for audit logging and rate limiting.
	IPAddress string
}

// AuthorizeRequest carries the parameters of an authorization request for an
// already-authenticated resource owner.
type AuthorizeRequest struct {
	ClientID            string
	RedirectURI         string
	Scope               string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string

	// UserID is the authenticated resource owner granting access.
	UserID string

	IPAddress string
}
