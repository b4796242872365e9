package gatehouse

// TokenResponse is the body of a successful token request.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	Scope       string `json:"scope,omitempty"`
}

// ErrorResponse is an OAuth error response body.
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// AdminResponse is the envelope for admin API responses.
type AdminResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// UserInfoResponse is the body of a userinfo request.
type UserInfoResponse struct {
	UUID   string            `json:"uuid"`
	Name   string            `json:"name,omitempty"`
	Email  string            `json:"email,omitempty"`
	Scopes map[string]string `json:"scopes,omitempty"`
}

// ClientResponse is the admin-facing view of a client. The secret hash
// never leaves the server; the plaintext secret appears only in the
// response to the request that generated it.
type ClientResponse struct {
	UUID         string   `json:"uuid"`
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"client_secret,omitempty"`
	Name         string   `json:"name"`
	RedirectURIs []string `json:"redirect_uris"`
	Public       bool     `json:"public"`
}

// ScopeResponse is the admin-facing view of a scope definition.
type ScopeResponse struct {
	Name     string `json:"name"`
	Question string `json:"question"`
	Type     string `json:"type"`
	Icon     string `json:"icon,omitempty"`
}

// LoginMethodResponse is the body of a login-method lookup.
type LoginMethodResponse struct {
	Method string `json:"method"`
}
