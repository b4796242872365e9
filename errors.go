package gatehouse

import (
	"fmt"
	"net/http"

	"github.com/gatehouse/gatehouse/server"
)

// OAuth error codes used in error responses. Aliased from the server
// package, which holds the canonical list.
const (
	ErrorCodeInvalidRequest       = server.ErrorCodeInvalidRequest
	ErrorCodeInvalidGrant         = server.ErrorCodeInvalidGrant
	ErrorCodeInvalidClient        = server.ErrorCodeInvalidClient
	ErrorCodeInvalidScope         = server.ErrorCodeInvalidScope
	ErrorCodeInvalidToken         = server.ErrorCodeInvalidToken
	ErrorCodeUnauthorizedClient   = server.ErrorCodeUnauthorizedClient
	ErrorCodeUnsupportedGrantType = server.ErrorCodeUnsupportedGrantType
	ErrorCodeAccessDenied         = server.ErrorCodeAccessDenied
	ErrorCodeServerError          = server.ErrorCodeServerError
	ErrorCodeInvalidRedirectURI   = server.ErrorCodeInvalidRedirectURI
	ErrorCodeRateLimitExceeded    = server.ErrorCodeRateLimitExceeded
)

// OAuthError is an OAuth 2.0 error response with its HTTP status.
type OAuthError struct {
	Code        string
	Description string
	Status      int
}

func (e *OAuthError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// NewOAuthError creates an OAuth error.
func NewOAuthError(code, description string, status int) *OAuthError {
	return &OAuthError{Code: code, Description: description, Status: status}
}

// statusForCode maps an OAuth error code to its HTTP status.
func statusForCode(code string) int {
	switch code {
	case ErrorCodeInvalidClient, ErrorCodeInvalidToken:
		return http.StatusUnauthorized
	case ErrorCodeAccessDenied:
		return http.StatusForbidden
	case ErrorCodeRateLimitExceeded:
		return http.StatusTooManyRequests
	case ErrorCodeServerError:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}
