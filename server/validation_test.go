package server

import (
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/linklogin/magiclink-oauth/internal/testutil"
	"github.com/linklogin/magiclink-oauth/storage"
	"github.com/linklogin/magiclink-oauth/storage/memory"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// bareServer builds a Server around an explicit config, bypassing the
// secure-default heuristics so individual knobs can be tested.
func bareServer(config *Config) *Server {
	if config.MinStateLength == 0 {
		config.MinStateLength = 8
	}
	return &Server{Config: config, Logger: discardLogger()}
}

func TestValidatePKCE(t *testing.T) {
	challenge, verifier := testutil.GeneratePKCEPair()

	tests := []struct {
		name       string
		challenge  string
		method     string
		verifier   string
		allowPlain bool
		wantErr    bool
	}{
		{name: "valid S256", challenge: challenge, method: PKCEMethodS256, verifier: verifier},
		{name: "no challenge skips verification", challenge: "", method: "", verifier: ""},
		{name: "wrong verifier", challenge: challenge, method: PKCEMethodS256, verifier: strings.Repeat("x", 50), wantErr: true},
		{name: "missing verifier", challenge: challenge, method: PKCEMethodS256, verifier: "", wantErr: true},
		{name: "verifier too short", challenge: challenge, method: PKCEMethodS256, verifier: strings.Repeat("a", 42), wantErr: true},
		{name: "verifier too long", challenge: challenge, method: PKCEMethodS256, verifier: strings.Repeat("a", 129), wantErr: true},
		{name: "verifier bad charset", challenge: challenge, method: PKCEMethodS256, verifier: strings.Repeat("a", 42) + "!", wantErr: true},
		{name: "plain disallowed by default", challenge: verifier, method: PKCEMethodPlain, verifier: verifier, wantErr: true},
		{name: "plain allowed when configured", challenge: verifier, method: PKCEMethodPlain, verifier: verifier, allowPlain: true},
		{name: "plain mismatch", challenge: strings.Repeat("b", 43), method: PKCEMethodPlain, verifier: verifier, allowPlain: true, wantErr: true},
		{name: "unsupported method", challenge: challenge, method: "S512", verifier: verifier, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := bareServer(&Config{AllowPKCEPlain: tt.allowPlain})
			err := s.validatePKCE(tt.challenge, tt.method, tt.verifier)
			if (err != nil) != tt.wantErr {
				t.Errorf("validatePKCE() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidatePKCEParams(t *testing.T) {
	challenge, _ := testutil.GeneratePKCEPair()

	tests := []struct {
		name         string
		required     bool
		allowPlain   bool
		confidential bool
		challenge    string
		method       string
		wantErr      bool
	}{
		{name: "S256 accepted", required: true, challenge: challenge, method: PKCEMethodS256},
		{name: "public client without challenge", required: false, wantErr: true},
		{name: "public client without challenge despite requirement", required: true, wantErr: true},
		{name: "confidential required but absent", required: true, confidential: true, wantErr: true},
		{name: "confidential optional and absent", required: false, confidential: true},
		{name: "confidential method absent", required: true, confidential: true, challenge: challenge, wantErr: true},
		{name: "challenge without method", required: false, challenge: challenge, wantErr: true},
		{name: "plain rejected by default", required: false, challenge: challenge, method: PKCEMethodPlain, wantErr: true},
		{name: "plain allowed when configured", required: false, allowPlain: true, challenge: challenge, method: PKCEMethodPlain},
		{name: "unknown method", required: false, challenge: challenge, method: "md5", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := bareServer(&Config{RequirePKCE: tt.required, AllowPKCEPlain: tt.allowPlain})
			err := s.validatePKCEParams(tt.challenge, tt.method, tt.confidential)
			if (err != nil) != tt.wantErr {
				t.Errorf("validatePKCEParams() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateStateParameter(t *testing.T) {
	s := bareServer(&Config{})

	if err := s.validateStateParameter(""); err == nil {
		t.Error("empty state must be rejected")
	}
	if err := s.validateStateParameter("short"); err == nil {
		t.Error("state below the minimum length must be rejected")
	}
	if err := s.validateStateParameter("long-enough-state"); err != nil {
		t.Errorf("valid state rejected: %v", err)
	}
}

func TestValidateRedirectURI(t *testing.T) {
	s := bareServer(&Config{Issuer: "https://auth.example.com"})
	client := &storage.Client{
		ID: "c1",
		RedirectURIs: []string{
			"https://app.example.com/cb",
			"http://127.0.0.1:8000/cb",
			"com.example.app://callback",
		},
	}

	tests := []struct {
		name    string
		uri     string
		wantErr bool
	}{
		{name: "registered https", uri: "https://app.example.com/cb"},
		{name: "registered loopback http", uri: "http://127.0.0.1:8000/cb"},
		{name: "registered custom scheme", uri: "com.example.app://callback"},
		{name: "unregistered", uri: "https://evil.example.com/cb", wantErr: true},
		{name: "prefix is not a match", uri: "https://app.example.com/cb/extra", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.validateRedirectURI(client, tt.uri)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateRedirectURI(%q) error = %v, wantErr %v", tt.uri, err, tt.wantErr)
			}
		})
	}
}

func TestValidateRedirectURISecurity(t *testing.T) {
	tests := []struct {
		name    string
		uri     string
		issuer  string
		wantErr bool
	}{
		{name: "https allowed", uri: "https://app.example.com/cb", issuer: "https://auth.example.com"},
		{name: "fragment rejected", uri: "https://app.example.com/cb#frag", issuer: "https://auth.example.com", wantErr: true},
		{name: "javascript scheme rejected", uri: "javascript:alert(1)", issuer: "https://auth.example.com", wantErr: true},
		{name: "data scheme rejected", uri: "data:text/html,x", issuer: "https://auth.example.com", wantErr: true},
		{name: "http non-loopback with https issuer", uri: "http://app.example.com/cb", issuer: "https://auth.example.com", wantErr: true},
		{name: "http loopback allowed", uri: "http://localhost:3000/cb", issuer: "https://auth.example.com"},
		{name: "custom scheme allowed", uri: "com.example.app://cb", issuer: "https://auth.example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateRedirectURISecurity(tt.uri, tt.issuer, nil)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateRedirectURISecurity(%q) error = %v, wantErr %v", tt.uri, err, tt.wantErr)
			}
		})
	}
}

func TestHTTPSEnforcement(t *testing.T) {
	store := memory.New()
	t.Cleanup(store.Stop)

	tests := []struct {
		name    string
		config  *Config
		wantErr bool
	}{
		{name: "https issuer", config: &Config{Issuer: "https://auth.example.com"}},
		{name: "http localhost", config: &Config{Issuer: "http://localhost:8080"}},
		{name: "http loopback ip", config: &Config{Issuer: "http://127.0.0.1:8080"}},
		{name: "http production host", config: &Config{Issuer: "http://auth.example.com"}, wantErr: true},
		{name: "http production host with override", config: &Config{Issuer: "http://auth.example.com", AllowInsecureHTTP: true}},
		{name: "unknown scheme", config: &Config{Issuer: "ftp://auth.example.com"}, wantErr: true},
		{name: "empty issuer", config: &Config{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(store, tt.config, discardLogger())
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSecureDefaults(t *testing.T) {
	store := memory.New()
	t.Cleanup(store.Stop)

	srv, err := New(store, &Config{Issuer: "http://localhost:8080"}, discardLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if !srv.Config.RequirePKCE {
		t.Error("fresh config must default to RequirePKCE")
	}
	if srv.Config.AllowPKCEPlain {
		t.Error("fresh config must not allow plain PKCE")
	}
	if srv.Config.AccessTokenTTL != 3600 {
		t.Errorf("AccessTokenTTL = %d, want 3600", srv.Config.AccessTokenTTL)
	}
	if srv.Config.MinStateLength != 8 {
		t.Errorf("MinStateLength = %d, want 8", srv.Config.MinStateLength)
	}
}

func TestNarrowScopes(t *testing.T) {
	granted := []string{"read", "write"}

	tests := []struct {
		name      string
		requested string
		want      []string
		wantErr   bool
	}{
		{name: "empty keeps original grant", requested: "", want: granted},
		{name: "subset", requested: "read", want: []string{"read"}},
		{name: "full set", requested: "write read", want: []string{"write", "read"}},
		{name: "widening rejected", requested: "read admin", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := narrowScopes(granted, tt.requested)
			if (err != nil) != tt.wantErr {
				t.Fatalf("narrowScopes() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if len(got) != len(tt.want) {
				t.Fatalf("narrowScopes() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("narrowScopes() = %v, want %v", got, tt.want)
				}
			}
		})
	}
}
