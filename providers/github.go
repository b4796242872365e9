package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	oauthgithub "golang.org/x/oauth2/github"

	"github.com/gatehouse/gatehouse/directory"
)

const (
	githubUserEndpoint   = "https://api.github.com/user"
	githubEmailsEndpoint = "https://api.github.com/user/emails"
)

// GitHub signs users in through GitHub OAuth Apps.
type GitHub struct {
	cfg     *oauth2.Config
	timeout time.Duration
}

var _ Provider = (*GitHub)(nil)

// NewGitHub creates a GitHub provider. redirectURL is this server's
// upstream callback.
func NewGitHub(clientID, clientSecret, redirectURL string) (*GitHub, error) {
	if clientID == "" || clientSecret == "" {
		return nil, fmt.Errorf("github client ID and secret are required")
	}
	return &GitHub{
		cfg: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       []string{"user:email", "read:user"},
			Endpoint:     oauthgithub.Endpoint,
		},
		timeout: 30 * time.Second,
	}, nil
}

func (g *GitHub) Method() directory.LoginMethod { return directory.MethodGitHub }

func (g *GitHub) AuthorizationURL(state string) string {
	return g.cfg.AuthCodeURL(state)
}

func (g *GitHub) Exchange(ctx context.Context, code string) (*Identity, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	token, err := exchangeToken(ctx, g.cfg, code)
	if err != nil {
		return nil, fmt.Errorf("exchanging github code: %w", err)
	}
	client := g.cfg.Client(ctx, token)

	var user struct {
		ID    int64  `json:"id"`
		Login string `json:"login"`
		Name  string `json:"name"`
		Email string `json:"email"`
	}
	if err := getJSON(ctx, client, githubUserEndpoint, &user); err != nil {
		return nil, fmt.Errorf("fetching github user: %w", err)
	}

	identity := &Identity{
		ID:       fmt.Sprintf("%d", user.ID),
		Email:    user.Email,
		Name:     user.Name,
		Username: user.Login,
	}

	// The profile email can be absent or unverified; prefer the primary
	// verified address from the emails endpoint.
	var emails []struct {
		Email    string `json:"email"`
		Primary  bool   `json:"primary"`
		Verified bool   `json:"verified"`
	}
	if err := getJSON(ctx, client, githubEmailsEndpoint, &emails); err == nil {
		for _, e := range emails {
			if e.Primary && e.Verified {
				identity.Email = e.Email
				identity.EmailVerified = true
				break
			}
		}
	}

	if identity.Email == "" {
		return nil, fmt.Errorf("github account has no usable email address")
	}
	return identity, nil
}

func getJSON(ctx context.Context, client *http.Client, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("request to %s failed with status %d", url, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
