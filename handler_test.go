package oauth

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/linklogin/magiclink-oauth/interactor"
	"github.com/linklogin/magiclink-oauth/internal/testutil"
	"github.com/linklogin/magiclink-oauth/server"
	"github.com/linklogin/magiclink-oauth/storage/memory"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type httpFixture struct {
	handler *Handler
	server  *Server
	sender  *testutil.MockSender
	mux     *http.ServeMux
}

func newHTTPFixture(t *testing.T) *httpFixture {
	t.Helper()

	store := memory.New()
	t.Cleanup(store.Stop)

	sender := &testutil.MockSender{}
	srv, err := New(store, sender, &Config{
		Server: &server.Config{Issuer: "http://localhost:8080"},
		MailLinks: MailLinksConfig{
			LoginURL:  "http://localhost:8080/login",
			VerifyURL: "http://localhost:8080/verify",
		},
	}, discardLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(srv.Close)

	ctx := t.Context()
	if err := store.SaveClient(ctx, testutil.TestClient()); err != nil {
		t.Fatalf("seeding client: %v", err)
	}
	if err := store.CreateUser(ctx, testutil.TestUser()); err != nil {
		t.Fatalf("seeding user: %v", err)
	}

	h := NewHandler(srv, discardLogger())
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	return &httpFixture{handler: h, server: srv, sender: sender, mux: mux}
}

func (f *httpFixture) do(r *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	f.mux.ServeHTTP(w, r)
	return w
}

func (f *httpFixture) postForm(path string, form url.Values) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return f.do(r)
}

func (f *httpFixture) postJSON(path, body string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	return f.do(r)
}

func decodeResult(t *testing.T, w *httptest.ResponseRecorder) ResultResponse {
	t.Helper()
	var res ResultResponse
	if err := json.NewDecoder(w.Body).Decode(&res); err != nil {
		t.Fatalf("decoding result body: %v", err)
	}
	return res
}

func TestTokenEndpointMethodAndGrantChecks(t *testing.T) {
	f := newHTTPFixture(t)

	w := f.do(httptest.NewRequest(http.MethodGet, "/oauth/token", nil))
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /oauth/token = %d, want 405", w.Code)
	}

	w = f.postForm("/oauth/token", url.Values{
		"grant_type": {"password"},
		"client_id":  {"test-client-id"},
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("unsupported grant = %d, want 400", w.Code)
	}
	var errResp ErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&errResp); err != nil {
		t.Fatal(err)
	}
	if errResp.Error != ErrorCodeUnsupportedGrantType {
		t.Errorf("error = %q, want %q", errResp.Error, ErrorCodeUnsupportedGrantType)
	}
}

func TestMetadataDocument(t *testing.T) {
	f := newHTTPFixture(t)

	w := f.do(httptest.NewRequest(http.MethodGet, "/.well-known/oauth-authorization-server", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("metadata = %d, want 200", w.Code)
	}
	if cc := w.Header().Get("Cache-Control"); !strings.Contains(cc, "max-age") {
		t.Errorf("Cache-Control = %q, want a cacheable document", cc)
	}

	var meta AuthorizationServerMetadata
	if err := json.NewDecoder(w.Body).Decode(&meta); err != nil {
		t.Fatal(err)
	}
	if meta.Issuer != "http://localhost:8080" {
		t.Errorf("issuer = %q", meta.Issuer)
	}
	if meta.TokenEndpoint != "http://localhost:8080/oauth/token" {
		t.Errorf("token endpoint = %q", meta.TokenEndpoint)
	}

	grants := strings.Join(meta.GrantTypesSupported, " ")
	for _, g := range []string{GrantTypeMagicLink, GrantTypeAuthorizationCode, GrantTypeRefreshToken} {
		if !strings.Contains(grants, g) {
			t.Errorf("grant types %v missing %q", meta.GrantTypesSupported, g)
		}
	}
	if len(meta.CodeChallengeMethodsSupported) != 1 || meta.CodeChallengeMethodsSupported[0] != PKCEMethodS256 {
		t.Errorf("code challenge methods = %v, want [S256]", meta.CodeChallengeMethodsSupported)
	}
}

func TestRegistrationOverHTTP(t *testing.T) {
	f := newHTTPFixture(t)

	w := f.postJSON("/auth/register", `{"email":"alice@example.com","display_name":"Alice"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("register = %d (%s)", w.Code, w.Body.String())
	}
	res := decodeResult(t, w)
	if res.Code != string(interactor.CodeEmailRegistered) {
		t.Errorf("code = %q", res.Code)
	}

	d := f.sender.Last(t)
	if !strings.HasPrefix(d.LinkURL, "http://localhost:8080/verify") {
		t.Errorf("verification link = %q", d.LinkURL)
	}

	// Duplicate registration conflicts.
	w = f.postJSON("/auth/register", `{"email":"alice@example.com"}`)
	if w.Code != http.StatusConflict {
		t.Errorf("duplicate register = %d, want 409", w.Code)
	}

	// The mailed link validates via GET, the way mail clients open it.
	w = f.do(httptest.NewRequest(http.MethodGet, "/auth/validate?token="+url.QueryEscape(d.Token), nil))
	if w.Code != http.StatusOK {
		t.Fatalf("validate = %d (%s)", w.Code, w.Body.String())
	}
	if res := decodeResult(t, w); res.Code != string(interactor.CodeRegistrationValidated) {
		t.Errorf("code = %q", res.Code)
	}

	// Malformed JSON is rejected up front.
	w = f.postJSON("/auth/register", `{"email":`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("malformed body = %d, want 400", w.Code)
	}
}

func TestMagicLinkSignInOverHTTP(t *testing.T) {
	f := newHTTPFixture(t)

	// Request a link for the seeded user.
	w := f.postJSON("/auth/magic-link", `{"email":"test@example.com","client_id":"test-client-id"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("magic-link = %d (%s)", w.Code, w.Body.String())
	}
	known := decodeResult(t, w)

	// Unknown addresses answer identically.
	w = f.postJSON("/auth/magic-link", `{"email":"stranger@example.com"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("unknown address = %d", w.Code)
	}
	if unknown := decodeResult(t, w); unknown.Code != known.Code || unknown.Message != known.Message {
		t.Error("unknown-address response must be indistinguishable")
	}
	if len(f.sender.Sent()) != 1 {
		t.Errorf("deliveries = %d, want 1", len(f.sender.Sent()))
	}

	// Exchange the mailed token at the token endpoint.
	d := f.sender.Last(t)
	w = f.postForm("/oauth/token", url.Values{
		"grant_type": {GrantTypeMagicLink},
		"client_id":  {"test-client-id"},
		"token":      {d.Token},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("magic_link grant = %d (%s)", w.Code, w.Body.String())
	}
	if cc := w.Header().Get("Cache-Control"); cc != "no-store" {
		t.Errorf("Cache-Control = %q, want no-store", cc)
	}

	var tokens TokenResponse
	if err := json.NewDecoder(w.Body).Decode(&tokens); err != nil {
		t.Fatal(err)
	}
	if tokens.AccessToken == "" || tokens.RefreshToken == "" || tokens.TokenType != "Bearer" {
		t.Errorf("unexpected token response %+v", tokens)
	}

	// Refresh rotates the pair.
	w = f.postForm("/oauth/token", url.Values{
		"grant_type":    {GrantTypeRefreshToken},
		"client_id":     {"test-client-id"},
		"refresh_token": {tokens.RefreshToken},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("refresh = %d (%s)", w.Code, w.Body.String())
	}
	var rotated TokenResponse
	if err := json.NewDecoder(w.Body).Decode(&rotated); err != nil {
		t.Fatal(err)
	}
	if rotated.RefreshToken == tokens.RefreshToken {
		t.Error("refresh must rotate the refresh token")
	}

	// Revocation answers 200 regardless of token state (RFC 7009).
	w = f.postForm("/oauth/revoke", url.Values{
		"client_id": {"test-client-id"},
		"token":     {rotated.RefreshToken},
	})
	if w.Code != http.StatusOK {
		t.Errorf("revoke = %d, want 200", w.Code)
	}
	w = f.postForm("/oauth/revoke", url.Values{
		"client_id": {"test-client-id"},
		"token":     {"never-issued"},
	})
	if w.Code != http.StatusOK {
		t.Errorf("revoke of unknown token = %d, want 200", w.Code)
	}
}

func TestTokenEndpointBasicAuth(t *testing.T) {
	f := newHTTPFixture(t)
	ctx := t.Context()

	confidential := testutil.TestConfidentialClient(t, "s3cret")
	if err := f.server.Store().SaveClient(ctx, confidential); err != nil {
		t.Fatal(err)
	}
	token := testutil.TestEmailToken("test-user-123", confidential.ID, time.Now())
	if err := f.server.Store().CreateEmailToken(ctx, token); err != nil {
		t.Fatal(err)
	}

	// Basic auth overrides the (wrong) form credentials per RFC 6749 2.3.1.
	form := url.Values{
		"grant_type":    {GrantTypeMagicLink},
		"client_id":     {"wrong-client"},
		"client_secret": {"wrong-secret"},
		"token":         {token.Token},
	}
	r := httptest.NewRequest(http.MethodPost, "/oauth/token", strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	r.SetBasicAuth(confidential.ID, "s3cret")

	w := f.do(r)
	if w.Code != http.StatusOK {
		t.Errorf("grant with basic auth = %d (%s)", w.Code, w.Body.String())
	}
}

func TestAuthorizeEndpoint(t *testing.T) {
	f := newHTTPFixture(t)
	challenge, verifier := testutil.GeneratePKCEPair()

	authorizeParams := func() url.Values {
		return url.Values{
			"response_type":         {"code"},
			"client_id":             {"test-client-id"},
			"redirect_uri":          {"https://example.com/callback"},
			"state":                 {"state-of-sufficient-length"},
			"code_challenge":        {challenge},
			"code_challenge_method": {PKCEMethodS256},
		}
	}
	authorizeURL := "/oauth/authorize?" + authorizeParams().Encode()

	t.Run("unconfigured authenticator", func(t *testing.T) {
		w := f.do(httptest.NewRequest(http.MethodGet, authorizeURL, nil))
		if w.Code != http.StatusInternalServerError {
			t.Errorf("got %d, want 500", w.Code)
		}
	})

	t.Run("rejected user", func(t *testing.T) {
		f.handler.SetUserAuthenticator(func(r *http.Request) (string, error) {
			return "", errors.New("no session")
		})
		w := f.do(httptest.NewRequest(http.MethodGet, authorizeURL, nil))
		if w.Code != http.StatusUnauthorized {
			t.Errorf("got %d, want 401", w.Code)
		}
		if w.Header().Get("WWW-Authenticate") == "" {
			t.Error("401 must carry WWW-Authenticate")
		}
	})

	t.Run("missing response_type", func(t *testing.T) {
		f.handler.SetUserAuthenticator(func(r *http.Request) (string, error) {
			return "test-user-123", nil
		})
		params := authorizeParams()
		params.Del("response_type")
		w := f.do(httptest.NewRequest(http.MethodGet, "/oauth/authorize?"+params.Encode(), nil))
		if w.Code != http.StatusBadRequest {
			t.Fatalf("got %d, want 400", w.Code)
		}
		var errResp ErrorResponse
		if err := json.NewDecoder(w.Body).Decode(&errResp); err != nil {
			t.Fatal(err)
		}
		if errResp.Error != ErrorCodeInvalidRequest {
			t.Errorf("error = %q, want %q", errResp.Error, ErrorCodeInvalidRequest)
		}
	})

	t.Run("implicit flow rejected", func(t *testing.T) {
		f.handler.SetUserAuthenticator(func(r *http.Request) (string, error) {
			return "test-user-123", nil
		})
		params := authorizeParams()
		params.Set("response_type", "token")
		w := f.do(httptest.NewRequest(http.MethodGet, "/oauth/authorize?"+params.Encode(), nil))
		if w.Code != http.StatusBadRequest {
			t.Fatalf("got %d, want 400", w.Code)
		}
		var errResp ErrorResponse
		if err := json.NewDecoder(w.Body).Decode(&errResp); err != nil {
			t.Fatal(err)
		}
		if errResp.Error != ErrorCodeUnsupportedResponseType {
			t.Errorf("error = %q, want %q", errResp.Error, ErrorCodeUnsupportedResponseType)
		}
	})

	t.Run("authenticated user gets a code", func(t *testing.T) {
		f.handler.SetUserAuthenticator(func(r *http.Request) (string, error) {
			return "test-user-123", nil
		})
		w := f.do(httptest.NewRequest(http.MethodGet, authorizeURL, nil))
		if w.Code != http.StatusFound {
			t.Fatalf("got %d (%s), want 302", w.Code, w.Body.String())
		}

		loc, err := url.Parse(w.Header().Get("Location"))
		if err != nil {
			t.Fatal(err)
		}
		if loc.Host != "example.com" || loc.Path != "/callback" {
			t.Errorf("redirect target = %q", loc.String())
		}
		code := loc.Query().Get("code")
		if code == "" {
			t.Fatal("redirect is missing the authorization code")
		}
		if loc.Query().Get("state") != "state-of-sufficient-length" {
			t.Error("redirect must echo the state parameter")
		}

		// The code exchanges at the token endpoint.
		resp := f.postForm("/oauth/token", url.Values{
			"grant_type":    {GrantTypeAuthorizationCode},
			"client_id":     {"test-client-id"},
			"code":          {code},
			"code_verifier": {verifier},
			"redirect_uri":  {"https://example.com/callback"},
		})
		if resp.Code != http.StatusOK {
			t.Errorf("exchange = %d (%s)", resp.Code, resp.Body.String())
		}
	})
}

func TestInvalidateEndpoint(t *testing.T) {
	f := newHTTPFixture(t)

	f.postJSON("/auth/magic-link", `{"email":"test@example.com"}`)
	d := f.sender.Last(t)

	w := f.postForm("/auth/invalidate", url.Values{"token": {d.Token}})
	if w.Code != http.StatusOK {
		t.Fatalf("invalidate = %d (%s)", w.Code, w.Body.String())
	}
	if res := decodeResult(t, w); res.Code != string(interactor.CodeTokenInvalidated) {
		t.Errorf("code = %q", res.Code)
	}

	w = f.postForm("/auth/invalidate", url.Values{"token": {d.Token}})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("second invalidation = %d, want 401", w.Code)
	}
}

func TestStatusForCode(t *testing.T) {
	cases := map[interactor.Code]int{
		interactor.CodeEmailRegistered:       http.StatusCreated,
		interactor.CodeEmailInSystem:         http.StatusConflict,
		interactor.CodeEmailSent:             http.StatusOK,
		interactor.CodeRegistrationValidated: http.StatusOK,
		interactor.CodeAuthenticated:         http.StatusOK,
		interactor.CodeTokenInvalidated:      http.StatusOK,
		interactor.CodeTokenExpiredNewSent:   http.StatusOK,
		interactor.CodeInvalidToken:          http.StatusUnauthorized,
		interactor.CodeUserNotFound:          http.StatusUnauthorized,
		interactor.CodeRateLimited:           http.StatusTooManyRequests,
		interactor.CodeEmailSendFailed:       http.StatusBadGateway,
		interactor.CodeSystemError:           http.StatusInternalServerError,
	}
	for code, want := range cases {
		if got := statusForCode(code); got != want {
			t.Errorf("statusForCode(%s) = %d, want %d", code, got, want)
		}
	}
}

func TestRequestIDHeader(t *testing.T) {
	f := newHTTPFixture(t)

	w := f.do(httptest.NewRequest(http.MethodGet, "/.well-known/oauth-authorization-server", nil))
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("responses must carry a request id")
	}
}
