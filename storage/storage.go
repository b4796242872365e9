// Package storage defines the persisted records and store interfaces for
// OAuth clients, admin-defined scopes, and issued credentials (authorization
// codes and access tokens). It supports multiple backend implementations;
// see storage/memory and storage/postgres.
package storage

import (
	"context"
	"time"
)

// Client is a registered OAuth client application.
type Client struct {
	// UUID is the internal identifier used by admin operations.
	UUID string

	// ClientID is the protocol-facing identifier sent by the client.
	ClientID string

	// ClientSecretHash is the bcrypt hash of the client secret.
	// Empty for public clients, which authenticate via PKCE instead.
	ClientSecretHash string

	// Name is the human-readable application name.
	Name string

	// RedirectURIs are the registered exact-match redirect URIs.
	RedirectURIs []string

	// Public marks clients without a confidential secret (native/mobile apps).
	Public bool

	CreatedAt time.Time
}

// Scope is an admin-defined permission scope. Its name is the protocol
// identifier used in the scope parameter; the question is shown to the user
// during consent and the answer is stored on the user record.
type Scope struct {
	Name      string
	Question  string
	Type      string // "text", "boolean", or "enum"
	Validator *Validator
	Icon      string
	CreatedAt time.Time
}

// AuthorizationCode is a short-lived, single-use credential bound to the
// client, redirect URI, scope set, and user that produced it.
type AuthorizationCode struct {
	Code                string
	ClientID            string
	RedirectURI         string
	Scopes              []string
	UUID                string // subject user
	CodeChallenge       string
	CodeChallengeMethod string // "plain" or "S256"
	CreatedAt           time.Time
	ExpiresAt           time.Time

	// Spent marks a consumed code. Spent records are kept as tombstones
	// until their TTL passes so that reuse attempts can be detected.
	Spent bool
}

// AccessToken is a long-lived bearer credential. Tokens carry no expiry;
// they are invalidated only by explicit revocation (client deletion, user
// force-logout).
type AccessToken struct {
	Token    string
	ClientID string
	Scopes   []string
	UUID     string // subject user
	IssuedAt time.Time
}

// Grant is the result of consuming an authorization code.
type Grant struct {
	UUID   string
	Scopes []string
}

// ClientStore manages OAuth client registrations.
// All methods accept context.Context for tracing and cancellation.
type ClientStore interface {
	// SaveClient inserts or updates a client keyed by UUID.
	// Returns ErrDuplicate if the ClientID is taken by a different client.
	SaveClient(ctx context.Context, client *Client) error

	// GetClient retrieves a client by its protocol ClientID.
	GetClient(ctx context.Context, clientID string) (*Client, error)

	// GetClientByUUID retrieves a client by its internal UUID.
	GetClientByUUID(ctx context.Context, uuid string) (*Client, error)

	// ListClients lists all registered clients (for admin purposes).
	ListClients(ctx context.Context) ([]*Client, error)

	// DeleteClient removes a client by UUID. Returns ErrClientNotFound if
	// absent; deleting twice yields ErrClientNotFound on the second call.
	DeleteClient(ctx context.Context, uuid string) error
}

// ScopeStore manages admin-defined scopes.
type ScopeStore interface {
	// CreateScope persists a new scope. Returns ErrScopeExists if the name
	// is already defined.
	CreateScope(ctx context.Context, scope *Scope) error

	// GetScope retrieves a scope by name.
	GetScope(ctx context.Context, name string) (*Scope, error)

	// ListScopes lists all defined scopes.
	ListScopes(ctx context.Context) ([]*Scope, error)

	// DeleteScope removes a scope definition. Consents already recorded for
	// the name remain valid; only future grants are blocked.
	DeleteScope(ctx context.Context, name string) error
}

// CredentialStore manages authorization codes and access tokens.
type CredentialStore interface {
	// SaveAuthorizationCode persists a freshly minted code.
	// Returns ErrDuplicate if the code value collides with an existing
	// record, so the caller can retry with a fresh random value.
	SaveAuthorizationCode(ctx context.Context, code *AuthorizationCode) error

	// ConsumeAuthorizationCode atomically validates and spends a code.
	// Validation order: ErrCodeNotFound, ErrCodeExpired (record deleted
	// regardless), ErrClientMismatch, ErrRedirectMismatch (byte-for-byte),
	// ErrPKCEFailure. On success the code is marked spent in the same
	// critical section; concurrent consumers of the same code see exactly
	// one success.
	//
	// A spent code returns ErrCodeSpent (which matches ErrCodeNotFound under
	// errors.Is) together with a non-nil Grant so the caller can revoke the
	// descendant tokens of the suspect exchange.
	ConsumeAuthorizationCode(ctx context.Context, code, clientID, redirectURI, codeVerifier string) (*Grant, error)

	// SaveAccessToken persists a freshly minted token.
	// Returns ErrDuplicate on a token value collision.
	SaveAccessToken(ctx context.Context, token *AccessToken) error

	// GetAccessToken retrieves a token record.
	GetAccessToken(ctx context.Context, token string) (*AccessToken, error)

	// DeleteAccessToken revokes a single token.
	DeleteAccessToken(ctx context.Context, token string) error

	// RevokeAllForClient deletes every code and token owned by a client.
	// Used by the client-deletion cascade. Returns the number of
	// credentials invalidated.
	RevokeAllForClient(ctx context.Context, clientID string) (int, error)

	// RevokeAllForUser deletes every code and token belonging to a user.
	// Used by user-initiated force-logout. Returns the number of
	// credentials invalidated.
	RevokeAllForUser(ctx context.Context, uuid string) (int, error)
}
