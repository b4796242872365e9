package server

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/gatehouse/gatehouse/directory"
	"github.com/gatehouse/gatehouse/instrumentation"
	"github.com/gatehouse/gatehouse/security"
	"github.com/gatehouse/gatehouse/storage"
)

// AuthorizeRequest carries the parameters of an authorization request
// after the user has authenticated.
type AuthorizeRequest struct {
	ClientID            string
	RedirectURI         string
	Scopes              []string
	CodeChallenge       string
	CodeChallengeMethod string

	// UserUUID is the authenticated user granting access.
	UserUUID string

	ClientIP string
}

// ExchangeRequest carries the parameters of a token request.
type ExchangeRequest struct {
	ClientID     string
	ClientSecret string
	Code         string
	RedirectURI  string
	CodeVerifier string
	ClientIP     string
}

// Token is the result of a successful code exchange.
type Token struct {
	AccessToken string
	TokenType   string
	Scopes      []string
}

// UserInfo is the identity payload returned for a bearer token.
type UserInfo struct {
	UUID   string
	Name   string
	Email  string
	Scopes map[string]string
}

// ConsentRequiredError reports requested scopes the user has not yet
// answered. The HTTP layer turns it into a consent prompt rather than
// a protocol error.
type ConsentRequiredError struct {
	Missing []string
}

func (e *ConsentRequiredError) Error() string {
	return fmt.Sprintf("consent required for scopes: %s", strings.Join(e.Missing, ", "))
}

// Authorize validates an authorization request and issues a
// single-use code bound to the client, redirect URI, scope set, and
// user. The code is delivered to the client via redirect by the HTTP
// layer.
func (s *Server) Authorize(ctx context.Context, req *AuthorizeRequest) (string, error) {
	ctx, span := s.tracer.Start(ctx, "server.Authorize")
	defer span.End()
	instrumentation.AddFlowAttributes(span, req.ClientID, req.UserUUID, req.Scopes)

	client, err := s.clients.GetClient(ctx, req.ClientID)
	if err != nil {
		if errors.Is(err, storage.ErrClientNotFound) {
			return "", reject(ErrorCodeInvalidClient, "unknown client %q", safeTruncate(req.ClientID, 32))
		}
		return "", fmt.Errorf("loading client: %w", err)
	}

	// A mismatched redirect URI must never be redirected to; the error
	// surfaces directly to the user agent.
	if err := matchRedirectURI(client, req.RedirectURI); err != nil {
		return "", reject(ErrorCodeInvalidRedirectURI, "%v", err)
	}

	if err := s.validatePKCEParams(req.CodeChallenge, req.CodeChallengeMethod, client.Public); err != nil {
		return "", reject(ErrorCodeInvalidRequest, "%v", err)
	}
	if req.CodeChallenge != "" && req.CodeChallengeMethod == security.MethodPlain {
		s.Logger.Warn("Client used the plain PKCE method", "client_id", client.ClientID)
	}

	user, err := s.users.GetUser(ctx, req.UserUUID)
	if err != nil {
		return "", reject(ErrorCodeAccessDenied, "unknown user")
	}

	if err := s.checkScopeGrants(ctx, user, req.Scopes); err != nil {
		return "", err
	}

	method := req.CodeChallengeMethod
	if req.CodeChallenge != "" && method == "" {
		method = security.MethodPlain
	}

	now := time.Now()
	record := &storage.AuthorizationCode{
		ClientID:            client.ClientID,
		RedirectURI:         req.RedirectURI,
		Scopes:              append([]string(nil), req.Scopes...),
		UUID:                user.UUID,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: method,
		CreatedAt:           now,
		ExpiresAt:           now.Add(s.Config.CodeTTL),
	}

	code, err := s.mintCode(ctx, record)
	if err != nil {
		return "", err
	}

	s.audit().LogCodeIssued(user.UUID, client.ClientID, req.ClientIP, req.Scopes)
	if s.metrics != nil {
		s.metrics.RecordCodeIssued(ctx, client.ClientID)
	}
	s.Logger.Info("Issued authorization code",
		"client_id", client.ClientID,
		"code_prefix", safeTruncate(code, 8),
		"scopes", req.Scopes)

	return code, nil
}

// checkScopeGrants verifies every requested scope is defined and
// already answered by the user.
func (s *Server) checkScopeGrants(ctx context.Context, user *directory.User, scopes []string) error {
	var missing []string
	for _, name := range scopes {
		if _, err := s.scopes.GetScope(ctx, name); err != nil {
			if errors.Is(err, storage.ErrScopeNotFound) {
				return reject(ErrorCodeInvalidScope, "scope %q is not defined", name)
			}
			return fmt.Errorf("loading scope %q: %w", name, err)
		}
		if _, ok := user.ScopeAnswers[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return &ConsentRequiredError{Missing: missing}
	}
	return nil
}

// mintCode saves the code under a fresh random value, retrying a
// bounded number of times on the vanishingly unlikely collision.
func (s *Server) mintCode(ctx context.Context, record *storage.AuthorizationCode) (string, error) {
	for attempt := 0; attempt < s.Config.MintRetries; attempt++ {
		record.Code = generateRandomToken()
		err := s.credentials.SaveAuthorizationCode(ctx, record)
		if err == nil {
			return record.Code, nil
		}
		if !errors.Is(err, storage.ErrDuplicate) {
			return "", fmt.Errorf("saving authorization code: %w", err)
		}
	}
	return "", fmt.Errorf("could not mint a unique authorization code")
}

// Exchange authenticates the client and redeems an authorization code
// for an access token. Reuse of a spent code revokes every credential
// belonging to the code's user, since either the original exchange or
// this one was an attacker.
func (s *Server) Exchange(ctx context.Context, req *ExchangeRequest) (*Token, error) {
	ctx, span := s.tracer.Start(ctx, "server.Exchange")
	defer span.End()
	instrumentation.AddFlowAttributes(span, req.ClientID, "", nil)

	client, err := s.authenticateClient(ctx, req.ClientID, req.ClientSecret, req.ClientIP)
	if err != nil {
		s.recordExchange(ctx, req.ClientID, false)
		return nil, err
	}

	grant, err := s.credentials.ConsumeAuthorizationCode(ctx, req.Code, client.ClientID, req.RedirectURI, req.CodeVerifier)
	if err != nil {
		s.recordExchange(ctx, client.ClientID, false)
		return nil, s.rejectExchange(ctx, client, grant, req, err)
	}

	now := time.Now()
	token := &storage.AccessToken{
		ClientID: client.ClientID,
		Scopes:   grant.Scopes,
		UUID:     grant.UUID,
		IssuedAt: now,
	}
	for attempt := 0; ; attempt++ {
		token.Token = generateRandomToken()
		err := s.credentials.SaveAccessToken(ctx, token)
		if err == nil {
			break
		}
		if !errors.Is(err, storage.ErrDuplicate) || attempt+1 >= s.Config.MintRetries {
			return nil, fmt.Errorf("saving access token: %w", err)
		}
	}

	s.audit().LogTokenIssued(grant.UUID, client.ClientID, req.ClientIP, grant.Scopes)
	s.recordExchange(ctx, client.ClientID, true)
	s.Logger.Info("Exchanged authorization code",
		"client_id", client.ClientID,
		"token_prefix", safeTruncate(token.Token, 8),
		"scopes", grant.Scopes)

	return &Token{
		AccessToken: token.Token,
		TokenType:   "Bearer",
		Scopes:      append([]string(nil), grant.Scopes...),
	}, nil
}

// rejectExchange maps a failed code consumption onto a protocol error,
// handling the spent-code containment path.
func (s *Server) rejectExchange(ctx context.Context, client *storage.Client, grant *storage.Grant, req *ExchangeRequest, err error) error {
	switch {
	case errors.Is(err, storage.ErrCodeSpent):
		revoked := 0
		if grant != nil {
			var revokeErr error
			revoked, revokeErr = s.credentials.RevokeAllForUser(ctx, grant.UUID)
			if revokeErr != nil {
				s.Logger.Error("Failed to revoke credentials after code reuse",
					"client_id", client.ClientID, "error", revokeErr)
			}
			s.audit().LogCodeReuse(grant.UUID, client.ClientID, req.ClientIP, revoked)
		}
		if s.metrics != nil {
			s.metrics.RecordCodeReuse(ctx)
			s.metrics.RecordTokensRevoked(ctx, "code_reuse", revoked)
		}
		s.Logger.Warn("Authorization code reuse detected",
			"client_id", client.ClientID,
			"tokens_revoked", revoked)
		return reject(ErrorCodeInvalidGrant, "authorization code is invalid")

	case errors.Is(err, storage.ErrCodeExpired):
		return reject(ErrorCodeInvalidGrant, "authorization code has expired")

	case errors.Is(err, storage.ErrPKCEFailure):
		if s.metrics != nil {
			s.metrics.RecordPKCEFailure(ctx, "exchange")
		}
		s.audit().LogAuthFailure("", client.ClientID, req.ClientIP, "pkce verification failed")
		return reject(ErrorCodeInvalidGrant, "code_verifier is invalid")

	case errors.Is(err, storage.ErrCodeNotFound),
		errors.Is(err, storage.ErrClientMismatch),
		errors.Is(err, storage.ErrRedirectMismatch):
		return reject(ErrorCodeInvalidGrant, "authorization code is invalid")

	default:
		return fmt.Errorf("consuming authorization code: %w", err)
	}
}

func (s *Server) recordExchange(ctx context.Context, clientID string, success bool) {
	if s.metrics != nil {
		s.metrics.RecordCodeExchange(ctx, clientID, success)
	}
}

// UserInfo resolves a bearer token to the identity payload the client
// is entitled to: the subject, profile fields, and the user's answers
// for the scopes the token carries.
func (s *Server) UserInfo(ctx context.Context, rawToken string, fields ...string) (*UserInfo, error) {
	ctx, span := s.tracer.Start(ctx, "server.UserInfo")
	defer span.End()

	token, err := s.credentials.GetAccessToken(ctx, rawToken)
	if err != nil {
		if errors.Is(err, storage.ErrTokenNotFound) {
			return nil, reject(ErrorCodeInvalidToken, "access token is invalid")
		}
		return nil, fmt.Errorf("loading access token: %w", err)
	}

	// The deletion cascade is best-effort, so a token can outlive its
	// client. Such a token must stop validating.
	if _, err := s.clients.GetClient(ctx, token.ClientID); err != nil {
		if errors.Is(err, storage.ErrClientNotFound) {
			return nil, reject(ErrorCodeInvalidToken, "access token is invalid")
		}
		return nil, fmt.Errorf("loading client for token: %w", err)
	}

	user, err := s.users.GetUser(ctx, token.UUID)
	if err != nil {
		// The account disappeared after issuance; the token is dead.
		return nil, reject(ErrorCodeInvalidToken, "access token is invalid")
	}

	info := &UserInfo{
		UUID:   user.UUID,
		Name:   user.Name,
		Email:  user.Email,
		Scopes: make(map[string]string, len(token.Scopes)),
	}
	for _, name := range token.Scopes {
		// A requested field outside the token's granted set is silently
		// omitted, never an error: the grant is the enforcement boundary.
		if len(fields) > 0 && !slices.Contains(fields, name) {
			continue
		}
		if answer, ok := user.ScopeAnswers[name]; ok {
			info.Scopes[name] = answer
		}
	}
	return info, nil
}

// RecordConsent validates and stores a user's answer to a scope
// question. The answer is checked against the scope's validator before
// it is persisted.
func (s *Server) RecordConsent(ctx context.Context, userUUID, scopeName, answer string) error {
	scope, err := s.scopes.GetScope(ctx, scopeName)
	if err != nil {
		if errors.Is(err, storage.ErrScopeNotFound) {
			return reject(ErrorCodeInvalidScope, "scope %q is not defined", scopeName)
		}
		return fmt.Errorf("loading scope %q: %w", scopeName, err)
	}

	err = scope.Validator.Validate(answer)
	if s.metrics != nil {
		s.metrics.RecordConsentValidation(ctx, scopeName, err == nil)
	}
	if err != nil {
		return err
	}

	user, err := s.users.GetUser(ctx, userUUID)
	if err != nil {
		return err
	}
	if user.ScopeAnswers == nil {
		user.ScopeAnswers = make(map[string]string)
	}
	user.ScopeAnswers[scopeName] = answer
	return s.users.SaveUser(ctx, user)
}

// ForceLogout revokes every credential belonging to the user, across
// all clients. Returns the number of credentials invalidated.
func (s *Server) ForceLogout(ctx context.Context, userUUID, clientIP string) (int, error) {
	ctx, span := s.tracer.Start(ctx, "server.ForceLogout")
	defer span.End()

	if _, err := s.users.GetUser(ctx, userUUID); err != nil {
		return 0, err
	}

	revoked, err := s.credentials.RevokeAllForUser(ctx, userUUID)
	if err != nil {
		return 0, fmt.Errorf("revoking user credentials: %w", err)
	}

	s.audit().LogForcedLogout(userUUID, clientIP, revoked)
	if s.metrics != nil {
		s.metrics.RecordTokensRevoked(ctx, "forced_logout", revoked)
	}
	s.Logger.Info("Forced logout", "revoked", revoked)

	return revoked, nil
}

// RevokeToken revokes a single access token.
func (s *Server) RevokeToken(ctx context.Context, rawToken string) error {
	err := s.credentials.DeleteAccessToken(ctx, rawToken)
	if errors.Is(err, storage.ErrTokenNotFound) {
		// Revoking an unknown token is not an error (RFC 7009 semantics).
		return nil
	}
	if err == nil && s.metrics != nil {
		s.metrics.RecordTokensRevoked(ctx, "revocation", 1)
	}
	return err
}
