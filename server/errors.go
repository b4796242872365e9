package server

import "fmt"

// OAuth error codes. Canonical list; the root package aliases these
// for its HTTP error responses.
const (
	ErrorCodeInvalidRequest       = "invalid_request"
	ErrorCodeInvalidGrant         = "invalid_grant"
	ErrorCodeInvalidClient        = "invalid_client"
	ErrorCodeInvalidScope         = "invalid_scope"
	ErrorCodeInvalidToken         = "invalid_token"
	ErrorCodeUnauthorizedClient   = "unauthorized_client"
	ErrorCodeUnsupportedGrantType = "unsupported_grant_type"
	ErrorCodeAccessDenied         = "access_denied"
	ErrorCodeServerError          = "server_error"
	ErrorCodeInvalidRedirectURI   = "invalid_redirect_uri"
	ErrorCodeRateLimitExceeded    = "rate_limit_exceeded"
)

// Rejection is a protocol-level refusal carrying an OAuth error code.
// The HTTP layer maps the code onto a status and response body.
type Rejection struct {
	Code        string
	Description string
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("%s: %s", r.Code, r.Description)
}

func reject(code, format string, args ...any) *Rejection {
	return &Rejection{Code: code, Description: fmt.Sprintf(format, args...)}
}
