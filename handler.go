package gatehouse

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/gatehouse/gatehouse/instrumentation"
	"github.com/gatehouse/gatehouse/security"
	"github.com/gatehouse/gatehouse/server"
)

// SessionAuthenticator resolves the authenticated user behind a
// browser request. The host application owns the login UI and session
// mechanism; the handler only needs the resulting user UUID.
type SessionAuthenticator interface {
	// UserUUID returns the signed-in user for the request, or false
	// when the request carries no valid session.
	UserUUID(r *http.Request) (string, bool)
}

// Handler exposes the authorization server over HTTP.
type Handler struct {
	server   *server.Server
	sessions SessionAuthenticator
	logger   *slog.Logger
	config   *Config

	rateLimiter *security.RateLimiter
	metrics     *instrumentation.Metrics
}

// NewHandler creates the HTTP adapter for srv.
func NewHandler(srv *server.Server, sessions SessionAuthenticator, config *Config, logger *slog.Logger) *Handler {
	if config == nil {
		config = &Config{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	config.applyDefaults(logger)

	h := &Handler{
		server:   srv,
		sessions: sessions,
		logger:   logger,
		config:   config,
	}
	if config.RateLimitPerSecond > 0 {
		h.rateLimiter = security.NewRateLimiter(config.RateLimitPerSecond, config.RateLimitBurst, 0, logger)
	}
	return h
}

// SetInstrumentation wires request metrics into the handler.
func (h *Handler) SetInstrumentation(inst *instrumentation.Instrumentation) {
	if inst != nil {
		h.metrics = inst.Metrics()
	}
}

// Close releases handler resources.
func (h *Handler) Close() {
	if h.rateLimiter != nil {
		h.rateLimiter.Stop()
	}
}

// Routes builds the route table.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /authorize", h.handleAuthorize)
	mux.HandleFunc("POST /token", h.handleToken)
	mux.HandleFunc("GET /userinfo", h.handleUserInfo)
	mux.HandleFunc("POST /revoke", h.handleRevoke)

	mux.HandleFunc("GET /api/login-method", h.handleLoginMethod)
	mux.HandleFunc("POST /api/user/consent", h.handleConsent)
	mux.HandleFunc("POST /api/user/logout-everywhere", h.handleLogoutEverywhere)

	h.registerAdminRoutes(mux)

	return mux
}

func (h *Handler) clientIP(r *http.Request) string {
	return security.ClientIP(r, h.config.TrustProxy, h.config.TrustedProxyCount)
}

// checkRateLimit applies per-IP rate limiting. Returns false when the
// request was rejected.
func (h *Handler) checkRateLimit(w http.ResponseWriter, r *http.Request) bool {
	if h.rateLimiter == nil {
		return true
	}
	ip := h.clientIP(r)
	if h.rateLimiter.Allow(ip) {
		return true
	}
	if h.metrics != nil {
		h.metrics.RecordRateLimitExceeded(r.Context(), "ip")
	}
	if h.server.Auditor != nil {
		h.server.Auditor.LogRateLimitExceeded(ip, "")
	}
	h.writeError(w, NewOAuthError(ErrorCodeRateLimitExceeded, "too many requests", http.StatusTooManyRequests))
	return false
}

// requireSession resolves the signed-in user or writes a 401.
func (h *Handler) requireSession(w http.ResponseWriter, r *http.Request) (string, bool) {
	if h.sessions == nil {
		h.writeError(w, NewOAuthError(ErrorCodeAccessDenied, "no session support configured", http.StatusUnauthorized))
		return "", false
	}
	uuid, ok := h.sessions.UserUUID(r)
	if !ok {
		h.writeError(w, NewOAuthError(ErrorCodeAccessDenied, "sign-in required", http.StatusUnauthorized))
		return "", false
	}
	return uuid, true
}

// handleAuthorize serves GET /authorize: validates the request for the
// signed-in user and redirects back to the client with a code.
func (h *Handler) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	security.SetSecurityHeaders(w, h.server.Config.Issuer)
	if !h.checkRateLimit(w, r) {
		return
	}
	userUUID, ok := h.requireSession(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	if rt := q.Get("response_type"); rt != "code" {
		h.writeError(w, NewOAuthError(ErrorCodeInvalidRequest,
			"response_type must be \"code\"", http.StatusBadRequest))
		return
	}

	req := &server.AuthorizeRequest{
		ClientID:            q.Get("client_id"),
		RedirectURI:         q.Get("redirect_uri"),
		Scopes:              splitScopes(q.Get("scope")),
		CodeChallenge:       q.Get("code_challenge"),
		CodeChallengeMethod: q.Get("code_challenge_method"),
		UserUUID:            userUUID,
		ClientIP:            h.clientIP(r),
	}

	code, err := h.server.Authorize(r.Context(), req)
	if err != nil {
		var consent *server.ConsentRequiredError
		if errors.As(err, &consent) {
			h.writeJSON(w, http.StatusForbidden, map[string]any{
				"error":          "consent_required",
				"missing_scopes": consent.Missing,
			})
			return
		}

		// Once the redirect URI is known to be registered, rejections go
		// back to the client as error parameters. Failures before that
		// binding must never redirect (open-redirect protection).
		var rejection *server.Rejection
		if errors.As(err, &rejection) && rejectionRedirects(rejection.Code) {
			h.redirectWithError(w, r, req.RedirectURI, rejection.Code, q.Get("state"))
			return
		}
		h.writeError(w, err)
		return
	}

	redirect, parseErr := url.Parse(req.RedirectURI)
	if parseErr != nil {
		h.writeError(w, NewOAuthError(ErrorCodeServerError, "invalid redirect target", http.StatusInternalServerError))
		return
	}
	params := redirect.Query()
	params.Set("code", code)
	if state := q.Get("state"); state != "" {
		params.Set("state", state)
	}
	redirect.RawQuery = params.Encode()

	http.Redirect(w, r, redirect.String(), http.StatusFound)
}

// handleToken serves POST /token. Client credentials are accepted in
// the form body or as HTTP Basic auth.
func (h *Handler) handleToken(w http.ResponseWriter, r *http.Request) {
	security.SetSecurityHeaders(w, h.server.Config.Issuer)
	if !h.checkRateLimit(w, r) {
		return
	}

	if err := r.ParseForm(); err != nil {
		h.writeError(w, NewOAuthError(ErrorCodeInvalidRequest, "malformed form body", http.StatusBadRequest))
		return
	}
	if gt := r.PostForm.Get("grant_type"); gt != "authorization_code" {
		h.writeError(w, NewOAuthError(ErrorCodeUnsupportedGrantType,
			"only authorization_code is supported", http.StatusBadRequest))
		return
	}

	clientID := r.PostForm.Get("client_id")
	clientSecret := r.PostForm.Get("client_secret")
	if basicID, basicSecret, ok := r.BasicAuth(); ok {
		clientID, clientSecret = basicID, basicSecret
	}

	token, err := h.server.Exchange(r.Context(), &server.ExchangeRequest{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Code:         r.PostForm.Get("code"),
		RedirectURI:  r.PostForm.Get("redirect_uri"),
		CodeVerifier: r.PostForm.Get("code_verifier"),
		ClientIP:     h.clientIP(r),
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, TokenResponse{
		AccessToken: token.AccessToken,
		TokenType:   token.TokenType,
		Scope:       strings.Join(token.Scopes, " "),
	})
}

// handleUserInfo serves GET /userinfo for a bearer token.
func (h *Handler) handleUserInfo(w http.ResponseWriter, r *http.Request) {
	security.SetSecurityHeaders(w, h.server.Config.Issuer)
	if !h.checkRateLimit(w, r) {
		return
	}

	raw, ok := h.bearerToken(w, r)
	if !ok {
		return
	}

	// Optional ?fields= narrows the response to the named scopes; the
	// grant filter inside UserInfo still applies either way.
	fields := splitScopes(r.URL.Query().Get("fields"))

	info, err := h.server.UserInfo(r.Context(), raw, fields...)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, UserInfoResponse{
		UUID:   info.UUID,
		Name:   info.Name,
		Email:  info.Email,
		Scopes: info.Scopes,
	})
}

// handleRevoke serves POST /revoke for a bearer of the token.
func (h *Handler) handleRevoke(w http.ResponseWriter, r *http.Request) {
	security.SetSecurityHeaders(w, h.server.Config.Issuer)
	if !h.checkRateLimit(w, r) {
		return
	}
	if err := r.ParseForm(); err != nil {
		h.writeError(w, NewOAuthError(ErrorCodeInvalidRequest, "malformed form body", http.StatusBadRequest))
		return
	}
	token := r.PostForm.Get("token")
	if token == "" {
		h.writeError(w, NewOAuthError(ErrorCodeInvalidRequest, "token is required", http.StatusBadRequest))
		return
	}
	if err := h.server.RevokeToken(r.Context(), token); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// handleLoginMethod serves GET /api/login-method?email=...
func (h *Handler) handleLoginMethod(w http.ResponseWriter, r *http.Request) {
	if !h.checkRateLimit(w, r) {
		return
	}
	email := strings.TrimSpace(r.URL.Query().Get("email"))
	if email == "" {
		h.writeError(w, NewOAuthError(ErrorCodeInvalidRequest, "email is required", http.StatusBadRequest))
		return
	}
	method, err := h.server.BestLoginMethod(r.Context(), email)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, LoginMethodResponse{Method: string(method)})
}

// handleConsent serves POST /api/user/consent: records the signed-in
// user's answer to a scope question.
func (h *Handler) handleConsent(w http.ResponseWriter, r *http.Request) {
	if !h.checkRateLimit(w, r) {
		return
	}
	userUUID, ok := h.requireSession(w, r)
	if !ok {
		return
	}

	var body struct {
		Scope  string `json:"scope"`
		Answer string `json:"answer"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, NewOAuthError(ErrorCodeInvalidRequest, "malformed JSON body", http.StatusBadRequest))
		return
	}

	if err := h.server.RecordConsent(r.Context(), userUUID, body.Scope, body.Answer); err != nil {
		h.writeAdminError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, AdminResponse{Success: true})
}

// handleLogoutEverywhere serves POST /api/user/logout-everywhere.
func (h *Handler) handleLogoutEverywhere(w http.ResponseWriter, r *http.Request) {
	if !h.checkRateLimit(w, r) {
		return
	}
	userUUID, ok := h.requireSession(w, r)
	if !ok {
		return
	}

	revoked, err := h.server.ForceLogout(r.Context(), userUUID, h.clientIP(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"revoked": revoked,
	})
}

// bearerToken extracts the Bearer token or writes a 401.
func (h *Handler) bearerToken(w http.ResponseWriter, r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) || len(auth) == len(prefix) {
		w.Header().Set("WWW-Authenticate", `Bearer realm="gatehouse"`)
		h.writeError(w, NewOAuthError(ErrorCodeInvalidToken, "bearer token required", http.StatusUnauthorized))
		return "", false
	}
	return auth[len(prefix):], true
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("Failed to encode response", "error", err)
	}
}

// writeError maps an error onto an OAuth error response.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var oauthErr *OAuthError
	if errors.As(err, &oauthErr) {
		h.writeJSON(w, oauthErr.Status, ErrorResponse{
			Error:            oauthErr.Code,
			ErrorDescription: oauthErr.Description,
		})
		return
	}

	var rejection *server.Rejection
	if errors.As(err, &rejection) {
		h.writeJSON(w, statusForCode(rejection.Code), ErrorResponse{
			Error:            rejection.Code,
			ErrorDescription: rejection.Description,
		})
		return
	}

	h.logger.Error("Internal error", "error", err)
	h.writeJSON(w, http.StatusInternalServerError, ErrorResponse{
		Error:            ErrorCodeServerError,
		ErrorDescription: "internal server error",
	})
}

// rejectionRedirects reports whether an authorization rejection occurs
// after the redirect URI has been matched against the client's
// registered list, and so may be delivered via redirect.
func rejectionRedirects(code string) bool {
	switch code {
	case ErrorCodeInvalidClient, ErrorCodeInvalidRedirectURI:
		return false
	}
	return true
}

// redirectWithError sends the user back to the client with an OAuth
// error code and the opaque state.
func (h *Handler) redirectWithError(w http.ResponseWriter, r *http.Request, redirectURI, code, state string) {
	redirect, err := url.Parse(redirectURI)
	if err != nil {
		h.writeError(w, NewOAuthError(ErrorCodeServerError, "invalid redirect target", http.StatusInternalServerError))
		return
	}
	params := redirect.Query()
	params.Set("error", code)
	if state != "" {
		params.Set("state", state)
	}
	redirect.RawQuery = params.Encode()
	http.Redirect(w, r, redirect.String(), http.StatusFound)
}

func splitScopes(scope string) []string {
	if strings.TrimSpace(scope) == "" {
		return nil
	}
	return strings.Fields(scope)
}
