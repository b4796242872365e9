package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	oauthgoogle "golang.org/x/oauth2/google"

	"github.com/gatehouse/gatehouse/directory"
)

const googleUserinfoEndpoint = "https://www.googleapis.com/oauth2/v2/userinfo"

// Google signs users in through Google OAuth.
type Google struct {
	cfg     *oauth2.Config
	timeout time.Duration
}

var _ Provider = (*Google)(nil)

// NewGoogle creates a Google provider. redirectURL is this server's
// upstream callback.
func NewGoogle(clientID, clientSecret, redirectURL string) (*Google, error) {
	if clientID == "" || clientSecret == "" {
		return nil, fmt.Errorf("google client ID and secret are required")
	}
	return &Google{
		cfg: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       []string{"openid", "email", "profile"},
			Endpoint:     oauthgoogle.Endpoint,
		},
		timeout: 30 * time.Second,
	}, nil
}

func (g *Google) Method() directory.LoginMethod { return directory.MethodGoogle }

func (g *Google) AuthorizationURL(state string) string {
	return g.cfg.AuthCodeURL(state)
}

func (g *Google) Exchange(ctx context.Context, code string) (*Identity, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	token, err := exchangeToken(ctx, g.cfg, code)
	if err != nil {
		return nil, fmt.Errorf("exchanging google code: %w", err)
	}

	resp, err := g.cfg.Client(ctx, token).Get(googleUserinfoEndpoint)
	if err != nil {
		return nil, fmt.Errorf("fetching google userinfo: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("userinfo request failed with status %d", resp.StatusCode)
	}

	var info struct {
		ID            string `json:"id"`
		Email         string `json:"email"`
		VerifiedEmail bool   `json:"verified_email"`
		Name          string `json:"name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("decoding google userinfo: %w", err)
	}
	if info.Email == "" {
		return nil, fmt.Errorf("google account has no email address")
	}

	return &Identity{
		ID:            info.ID,
		Email:         info.Email,
		EmailVerified: info.VerifiedEmail,
		Name:          info.Name,
	}, nil
}
