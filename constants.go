package oauth

import "github.com/linklogin/magiclink-oauth/server"

// Grant type identifiers accepted by the token endpoint.
const (
	GrantTypeMagicLink         = server.GrantTypeMagicLink
	GrantTypeAuthorizationCode = server.GrantTypeAuthorizationCode
	GrantTypeRefreshToken      = server.GrantTypeRefreshToken
)

// PKCE code challenge methods (RFC 7636).
const (
	PKCEMethodS256  = server.PKCEMethodS256
	PKCEMethodPlain = server.PKCEMethodPlain
)

const tokenTypeBearer = "Bearer"
