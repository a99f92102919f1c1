// Package server implements the grant logic of the magic link authorization
// server: the magic_link grant, the PKCE-protected authorization_code flow,
// refresh token rotation, and token validation and revocation. It is
// transport-agnostic; the root package adapts it to HTTP.
package server
