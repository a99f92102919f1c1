package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linklogin/magiclink-oauth/instrumentation"
	"github.com/linklogin/magiclink-oauth/interactor"
	"github.com/linklogin/magiclink-oauth/security"
	"github.com/linklogin/magiclink-oauth/server"
)

// UserAuthenticator resolves the authenticated resource owner of an
// authorization request. The embedding application decides how users prove
// their identity to the authorize endpoint (session cookie, bearer token);
// returning an empty user ID or an error yields 401.
type UserAuthenticator func(r *http.Request) (userID string, err error)

// Handler adapts the Server to HTTP.
type Handler struct {
	server *Server
	logger *slog.Logger
	tracer trace.Tracer

	userAuth UserAuthenticator
}

// NewHandler creates a new HTTP handler
func NewHandler(srv *Server, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}

	h := &Handler{
		server: srv,
		logger: logger,
	}

	if srv.Instrumentation != nil {
		h.tracer = srv.Instrumentation.Tracer("http")
	}

	return h
}

// SetUserAuthenticator installs the hook that authenticates resource owners
// at the authorize endpoint.
func (h *Handler) SetUserAuthenticator(fn UserAuthenticator) {
	h.userAuth = fn
}

// RegisterRoutes registers all endpoints on the mux. Every handler is
// wrapped in the request ID middleware.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	wrap := func(fn http.HandlerFunc) http.Handler {
		return security.RequestIDMiddleware(fn)
	}

	mux.Handle("/oauth/token", wrap(h.ServeToken))
	mux.Handle("/oauth/authorize", wrap(h.ServeAuthorize))
	mux.Handle("/oauth/revoke", wrap(h.ServeRevocation))
	mux.Handle("/auth/register", wrap(h.ServeRegister))
	mux.Handle("/auth/magic-link", wrap(h.ServeMagicLinkRequest))
	mux.Handle("/auth/validate", wrap(h.ServeValidate))
	mux.Handle("/auth/invalidate", wrap(h.ServeInvalidate))
	mux.Handle("/.well-known/oauth-authorization-server", wrap(h.ServeAuthorizationServerMetadata))
}

// ServeToken handles the OAuth token endpoint
func (h *Handler) ServeToken(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx := r.Context()

	var span trace.Span
	if h.tracer != nil {
		ctx, span = h.tracer.Start(ctx, "auth.http.token")
		defer span.End()
	}

	if r.Method != http.MethodPost {
		h.recordHTTPMetrics("token", r.Method, http.StatusMethodNotAllowed, startTime)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseForm(); err != nil {
		h.recordHTTPMetrics("token", http.MethodPost, http.StatusBadRequest, startTime)
		h.writeError(w, ErrorCodeInvalidRequest, "Failed to parse request", http.StatusBadRequest)
		return
	}

	req := server.TokenRequest{
		GrantType:    r.FormValue("grant_type"),
		ClientID:     r.FormValue("client_id"),
		ClientSecret: r.FormValue("client_secret"),
		Token:        r.FormValue("token"),
		Code:         r.FormValue("code"),
		CodeVerifier: r.FormValue("code_verifier"),
		RedirectURI:  r.FormValue("redirect_uri"),
		RefreshToken: r.FormValue("refresh_token"),
		Scope:        r.FormValue("scope"),
		IPAddress:    h.clientIP(r),
	}

	// Basic auth takes precedence over form credentials (RFC 6749 2.3.1).
	if user, pass, ok := r.BasicAuth(); ok {
		req.ClientID = user
		req.ClientSecret = pass
	}

	instrumentation.SetSpanAttributes(span,
		attribute.String(instrumentation.AttrGrantType, req.GrantType),
		attribute.String(instrumentation.AttrClientID, req.ClientID),
	)

	resp, err := h.server.grants.Token(ctx, req)
	if err != nil {
		status := h.writeOAuthError(w, err)
		h.recordHTTPMetrics("token", http.MethodPost, status, startTime)
		h.recordGrantFailed(req.GrantType, err)
		instrumentation.RecordError(span, err)
		return
	}

	h.recordHTTPMetrics("token", http.MethodPost, http.StatusOK, startTime)
	instrumentation.SetSpanSuccess(span)

	h.writeTokenResponse(w, resp)
}

// ServeAuthorize handles the authorization endpoint for an authenticated
// resource owner. On success the browser is redirected back to the client
// with code and state in the query string.
func (h *Handler) ServeAuthorize(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx := r.Context()

	var span trace.Span
	if h.tracer != nil {
		ctx, span = h.tracer.Start(ctx, "auth.http.authorize")
		defer span.End()
	}

	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		h.recordHTTPMetrics("authorize", r.Method, http.StatusMethodNotAllowed, startTime)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	clientIP := h.clientIP(r)
	if h.checkIPRateLimit(w, clientIP, "authorize") {
		h.recordHTTPMetrics("authorize", r.Method, http.StatusTooManyRequests, startTime)
		return
	}

	if h.userAuth == nil {
		h.logger.Error("Authorize endpoint called without a user authenticator")
		h.recordHTTPMetrics("authorize", r.Method, http.StatusInternalServerError, startTime)
		h.writeError(w, ErrorCodeServerError, "Authorization endpoint is not configured", http.StatusInternalServerError)
		return
	}

	userID, err := h.userAuth(r)
	if err != nil || userID == "" {
		h.recordHTTPMetrics("authorize", r.Method, http.StatusUnauthorized, startTime)
		h.writeError(w, ErrorCodeInvalidCredentials, "Authentication required", http.StatusUnauthorized)
		return
	}

	q := r.URL.Query()
	if r.Method == http.MethodPost {
		if err := r.ParseForm(); err != nil {
			h.recordHTTPMetrics("authorize", r.Method, http.StatusBadRequest, startTime)
			h.writeError(w, ErrorCodeInvalidRequest, "Failed to parse request", http.StatusBadRequest)
			return
		}
		q = r.Form
	}

	// RFC 6749 section 3.1.1: response_type is required, and this server only
	// issues authorization codes.
	switch responseType := q.Get("response_type"); responseType {
	case "code":
	case "":
		h.recordHTTPMetrics("authorize", r.Method, http.StatusBadRequest, startTime)
		h.writeError(w, ErrorCodeInvalidRequest, "response_type is required", http.StatusBadRequest)
		return
	default:
		h.recordHTTPMetrics("authorize", r.Method, http.StatusBadRequest, startTime)
		h.writeError(w, ErrorCodeUnsupportedResponseType,
			fmt.Sprintf("response type %q is not supported", responseType), http.StatusBadRequest)
		return
	}

	req := server.AuthorizeRequest{
		ClientID:            q.Get("client_id"),
		RedirectURI:         q.Get("redirect_uri"),
		Scope:               q.Get("scope"),
		State:               q.Get("state"),
		CodeChallenge:       q.Get("code_challenge"),
		CodeChallengeMethod: q.Get("code_challenge_method"),
		UserID:              userID,
		IPAddress:           clientIP,
	}

	instrumentation.SetSpanAttributes(span,
		attribute.String(instrumentation.AttrClientID, req.ClientID),
		attribute.String(instrumentation.AttrUserID, userID),
	)

	code, err := h.server.grants.Authorize(ctx, req)
	if err != nil {
		status := h.writeOAuthError(w, err)
		h.recordHTTPMetrics("authorize", r.Method, status, startTime)
		instrumentation.RecordError(span, err)
		return
	}

	// The redirect URI was validated against the client registration by
	// Authorize; attach code and state per RFC 6749 section 4.1.2.
	redirect, err := url.Parse(req.RedirectURI)
	if err != nil {
		h.recordHTTPMetrics("authorize", r.Method, http.StatusInternalServerError, startTime)
		h.writeError(w, ErrorCodeServerError, "Invalid redirect URI", http.StatusInternalServerError)
		return
	}
	query := redirect.Query()
	query.Set("code", code)
	query.Set("state", req.State)
	redirect.RawQuery = query.Encode()

	h.recordHTTPMetrics("authorize", r.Method, http.StatusFound, startTime)
	instrumentation.SetSpanSuccess(span)

	security.SetSecurityHeaders(w, h.issuer())
	http.Redirect(w, r, redirect.String(), http.StatusFound)
}

// ServeRevocation handles the RFC 7009 token revocation endpoint
func (h *Handler) ServeRevocation(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx := r.Context()

	var span trace.Span
	if h.tracer != nil {
		ctx, span = h.tracer.Start(ctx, "auth.http.revoke")
		defer span.End()
	}

	if r.Method != http.MethodPost {
		h.recordHTTPMetrics("revoke", r.Method, http.StatusMethodNotAllowed, startTime)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseForm(); err != nil {
		h.recordHTTPMetrics("revoke", http.MethodPost, http.StatusBadRequest, startTime)
		h.writeError(w, ErrorCodeInvalidRequest, "Failed to parse request", http.StatusBadRequest)
		return
	}

	token := r.FormValue("token")
	clientID := r.FormValue("client_id")
	clientSecret := r.FormValue("client_secret")
	if user, pass, ok := r.BasicAuth(); ok {
		clientID = user
		clientSecret = pass
	}

	if token == "" {
		h.recordHTTPMetrics("revoke", http.MethodPost, http.StatusBadRequest, startTime)
		h.writeError(w, ErrorCodeInvalidRequest, "token is required", http.StatusBadRequest)
		return
	}

	if err := h.server.grants.Revoke(ctx, clientID, clientSecret, token, h.clientIP(r)); err != nil {
		status := h.writeOAuthError(w, err)
		h.recordHTTPMetrics("revoke", http.MethodPost, status, startTime)
		instrumentation.RecordError(span, err)
		return
	}

	h.recordHTTPMetrics("revoke", http.MethodPost, http.StatusOK, startTime)
	instrumentation.SetSpanSuccess(span)

	// RFC 7009 section 2.2: respond 200 whether or not the token existed.
	security.SetSecurityHeaders(w, h.issuer())
	w.WriteHeader(http.StatusOK)
}

// registerRequest is the JSON body of POST /auth/register.
type registerRequest struct {
	Email          string         `json:"email"`
	DisplayName    string         `json:"display_name,omitempty"`
	ClientID       string         `json:"client_id,omitempty"`
	AdditionalData map[string]any `json:"additional_data,omitempty"`
}

// ServeRegister handles account registration. A verification link is mailed
// on success.
func (h *Handler) ServeRegister(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx := r.Context()

	var span trace.Span
	if h.tracer != nil {
		ctx, span = h.tracer.Start(ctx, "auth.http.register")
		defer span.End()
	}

	if r.Method != http.MethodPost {
		h.recordHTTPMetrics("register", r.Method, http.StatusMethodNotAllowed, startTime)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	clientIP := h.clientIP(r)
	if h.checkIPRateLimit(w, clientIP, "register") {
		h.recordHTTPMetrics("register", http.MethodPost, http.StatusTooManyRequests, startTime)
		return
	}

	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.recordHTTPMetrics("register", http.MethodPost, http.StatusBadRequest, startTime)
		h.writeError(w, ErrorCodeInvalidRequest, "Failed to parse request body", http.StatusBadRequest)
		return
	}

	res := h.server.interactor.RegisterUser(ctx, interactor.RegisterRequest{
		Email:          req.Email,
		DisplayName:    req.DisplayName,
		AdditionalData: req.AdditionalData,
		ClientID:       req.ClientID,
		IPAddress:      clientIP,
		UserAgent:      r.UserAgent(),
	})

	h.writeResult(w, "register", res, startTime, span)
}

// magicLinkRequest is the JSON body of POST /auth/magic-link. The PKCE
// fields bind the eventual grant to the requesting client session.
type magicLinkRequest struct {
	Email               string `json:"email"`
	ClientID            string `json:"client_id,omitempty"`
	CodeChallenge       string `json:"code_challenge,omitempty"`
	CodeChallengeMethod string `json:"code_challenge_method,omitempty"`
	RedirectURI         string `json:"redirect_uri,omitempty"`
	State               string `json:"state,omitempty"`
}

// ServeMagicLinkRequest handles sign-in link requests. The response is
// shaped identically for known and unknown addresses.
func (h *Handler) ServeMagicLinkRequest(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx := r.Context()

	var span trace.Span
	if h.tracer != nil {
		ctx, span = h.tracer.Start(ctx, "auth.http.magic_link_request")
		defer span.End()
	}

	if r.Method != http.MethodPost {
		h.recordHTTPMetrics("magic_link", r.Method, http.StatusMethodNotAllowed, startTime)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	clientIP := h.clientIP(r)
	if h.checkIPRateLimit(w, clientIP, "magic_link") {
		h.recordHTTPMetrics("magic_link", http.MethodPost, http.StatusTooManyRequests, startTime)
		return
	}

	var req magicLinkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.recordHTTPMetrics("magic_link", http.MethodPost, http.StatusBadRequest, startTime)
		h.writeError(w, ErrorCodeInvalidRequest, "Failed to parse request body", http.StatusBadRequest)
		return
	}

	res := h.server.interactor.SendMagicLink(ctx, interactor.SendMagicLinkRequest{
		Email:               req.Email,
		ClientID:            req.ClientID,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
		RedirectURI:         req.RedirectURI,
		State:               req.State,
		IPAddress:           clientIP,
		UserAgent:           r.UserAgent(),
	})

	h.writeResult(w, "magic_link", res, startTime, span)
}

// ServeValidate handles registration link validation. GET is accepted
// because mail clients open links with GET; POST works too.
func (h *Handler) ServeValidate(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx := r.Context()

	var span trace.Span
	if h.tracer != nil {
		ctx, span = h.tracer.Start(ctx, "auth.http.validate")
		defer span.End()
	}

	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		h.recordHTTPMetrics("validate", r.Method, http.StatusMethodNotAllowed, startTime)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	clientIP := h.clientIP(r)
	if h.checkIPRateLimit(w, clientIP, "validate") {
		h.recordHTTPMetrics("validate", r.Method, http.StatusTooManyRequests, startTime)
		return
	}

	token := r.URL.Query().Get("token")
	if r.Method == http.MethodPost {
		if err := r.ParseForm(); err != nil {
			h.recordHTTPMetrics("validate", r.Method, http.StatusBadRequest, startTime)
			h.writeError(w, ErrorCodeInvalidRequest, "Failed to parse request", http.StatusBadRequest)
			return
		}
		token = r.FormValue("token")
	}

	res := h.server.interactor.ValidateRegistration(ctx, token, clientIP)
	h.writeResult(w, "validate", res, startTime, span)
}

// ServeInvalidate discards an outstanding link token.
func (h *Handler) ServeInvalidate(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx := r.Context()

	var span trace.Span
	if h.tracer != nil {
		ctx, span = h.tracer.Start(ctx, "auth.http.invalidate")
		defer span.End()
	}

	if r.Method != http.MethodPost {
		h.recordHTTPMetrics("invalidate", r.Method, http.StatusMethodNotAllowed, startTime)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseForm(); err != nil {
		h.recordHTTPMetrics("invalidate", http.MethodPost, http.StatusBadRequest, startTime)
		h.writeError(w, ErrorCodeInvalidRequest, "Failed to parse request", http.StatusBadRequest)
		return
	}

	res := h.server.interactor.InvalidateToken(ctx, r.FormValue("token"))
	h.writeResult(w, "invalidate", res, startTime, span)
}

// ServeAuthorizationServerMetadata serves the RFC 8414 discovery document.
func (h *Handler) ServeAuthorizationServerMetadata(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	if r.Method != http.MethodGet {
		h.recordHTTPMetrics("metadata", r.Method, http.StatusMethodNotAllowed, startTime)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	issuer := h.issuer()
	metadata := AuthorizationServerMetadata{
		Issuer:                 issuer,
		AuthorizationEndpoint:  issuer + "/oauth/authorize",
		TokenEndpoint:          issuer + "/oauth/token",
		RevocationEndpoint:     issuer + "/oauth/revoke",
		ResponseTypesSupported: []string{"code"},
		GrantTypesSupported: []string{
			GrantTypeMagicLink,
			GrantTypeAuthorizationCode,
			GrantTypeRefreshToken,
		},
		TokenEndpointAuthMethodsSupported: []string{"client_secret_basic", "client_secret_post", "none"},
		CodeChallengeMethodsSupported:     h.codeChallengeMethods(),
	}

	security.SetSecurityHeaders(w, issuer)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	_ = json.NewEncoder(w).Encode(metadata)

	h.recordHTTPMetrics("metadata", http.MethodGet, http.StatusOK, startTime)
}

func (h *Handler) codeChallengeMethods() []string {
	methods := []string{PKCEMethodS256}
	if h.server.grants.Config.AllowPKCEPlain {
		methods = append(methods, PKCEMethodPlain)
	}
	return methods
}

func (h *Handler) issuer() string {
	return h.server.grants.Config.Issuer
}

func (h *Handler) clientIP(r *http.Request) string {
	cfg := h.server.grants.Config
	return security.GetClientIP(r, cfg.TrustProxy, cfg.TrustedProxyCount)
}

// checkIPRateLimit applies the per-IP limiter to non-token endpoints.
// Returns true if the request was rejected.
func (h *Handler) checkIPRateLimit(w http.ResponseWriter, clientIP, endpoint string) bool {
	rl := h.server.rateLimiter
	if rl == nil || rl.Allow(clientIP) {
		return false
	}

	h.logger.Warn("Rate limit exceeded", "ip", clientIP, "endpoint", endpoint)
	if h.server.auditor != nil {
		h.server.auditor.LogRateLimitExceeded(clientIP, "")
	}
	if h.server.Instrumentation != nil {
		h.server.Instrumentation.Metrics().RecordRateLimitExceeded(context.Background(), "ip")
	}
	h.writeError(w, ErrorCodeRateLimitExceeded, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests)
	return true
}

// writeResult writes an interactor outcome as JSON with the HTTP status the
// result code maps to.
func (h *Handler) writeResult(w http.ResponseWriter, endpoint string, res interactor.Result, startTime time.Time, span trace.Span) {
	status := statusForCode(res.Code)

	h.recordHTTPMetrics(endpoint, http.MethodPost, status, startTime)
	if status < http.StatusBadRequest {
		instrumentation.SetSpanSuccess(span)
	} else {
		instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrError, string(res.Code)))
	}

	security.SetSecurityHeaders(w, h.issuer())
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ResultResponse{
		Code:    string(res.Code),
		Message: res.Message,
		Tokens:  res.Tokens,
	})
}

// statusForCode maps interactor result codes to HTTP statuses.
func statusForCode(code interactor.Code) int {
	switch code {
	case interactor.CodeEmailRegistered:
		return http.StatusCreated
	case interactor.CodeEmailInSystem:
		return http.StatusConflict
	case interactor.CodeInvalidToken, interactor.CodeUserNotFound:
		return http.StatusUnauthorized
	case interactor.CodeRateLimited:
		return http.StatusTooManyRequests
	case interactor.CodeEmailSendFailed:
		return http.StatusBadGateway
	case interactor.CodeSystemError:
		return http.StatusInternalServerError
	default:
		return http.StatusOK
	}
}

func (h *Handler) writeTokenResponse(w http.ResponseWriter, resp *TokenResponse) {
	security.SetSecurityHeaders(w, h.issuer())
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	_ = json.NewEncoder(w).Encode(resp)
}

// writeOAuthError writes a grant error in RFC 6749 error format and returns
// the HTTP status used. Non-OAuth errors are masked as server_error so
// internals never leak to clients.
func (h *Handler) writeOAuthError(w http.ResponseWriter, err error) int {
	var oauthErr *Error
	if errors.As(err, &oauthErr) {
		h.writeError(w, oauthErr.Code, oauthErr.Description, oauthErr.Status)
		return oauthErr.Status
	}

	h.logger.Error("Unexpected grant error", "error", err)
	h.writeError(w, ErrorCodeServerError, "Internal server error", http.StatusInternalServerError)
	return http.StatusInternalServerError
}

func (h *Handler) writeError(w http.ResponseWriter, code, description string, status int) {
	security.SetSecurityHeaders(w, h.issuer())

	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", fmt.Sprintf("%s error=%q, error_description=%q", tokenTypeBearer, code, description))
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:            code,
		ErrorDescription: description,
	})
}

// recordHTTPMetrics records HTTP request metrics (total count and duration)
func (h *Handler) recordHTTPMetrics(endpoint, method string, status int, startTime time.Time) {
	if h.server.Instrumentation == nil {
		return
	}

	durationMs := time.Since(startTime).Seconds() * 1000
	h.server.Instrumentation.Metrics().RecordHTTPRequest(context.Background(), method, endpoint, status, durationMs)
}

// recordGrantFailed records a failed grant attempt by error code.
func (h *Handler) recordGrantFailed(grantType string, err error) {
	if h.server.Instrumentation == nil {
		return
	}

	code := ErrorCodeServerError
	var oauthErr *Error
	if errors.As(err, &oauthErr) {
		code = oauthErr.Code
	}
	h.server.Instrumentation.Metrics().RecordGrantFailed(context.Background(), grantType, code)
}
