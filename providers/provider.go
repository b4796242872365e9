// Package providers implements the external identity providers users
// can sign in with. Each provider wraps an upstream OAuth flow and
// yields a normalized account identity.
package providers

import (
	"context"

	"golang.org/x/oauth2"

	"github.com/gatehouse/gatehouse/directory"
)

// Identity is the normalized result of an upstream sign-in.
type Identity struct {
	// ID is the provider-side account identifier.
	ID string

	Email         string
	EmailVerified bool
	Name          string
	Username      string
}

// Provider is an upstream identity provider in the login selector.
type Provider interface {
	// Method is the login method this provider serves.
	Method() directory.LoginMethod

	// AuthorizationURL builds the upstream URL to send the user to.
	AuthorizationURL(state string) string

	// Exchange redeems the upstream authorization code and fetches the
	// signed-in user's identity.
	Exchange(ctx context.Context, code string) (*Identity, error)
}

// exchangeToken is the shared upstream code exchange.
func exchangeToken(ctx context.Context, cfg *oauth2.Config, code string) (*oauth2.Token, error) {
	return cfg.Exchange(ctx, code)
}
