package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
)

const githubUserURL = "https://api.github.com/user"

// GitHubUser is the portion of the GitHub /user API response we care about.
type GitHubUser struct {
	ID        int64  `json:"id"`
	Login     string `json:"login"`
	Name      string `json:"name"`
	Email     string `json:"email"` // empty if hidden in GitHub settings
	AvatarURL string `json:"avatar_url"`

	// VerifiedEmail comes from /user/emails: the primary address when it is
	// verified, otherwise any verified one. Empty when GitHub has none.
	VerifiedEmail string `json:"-"`
}

type githubEmail struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

// GitHubConfig holds the OAuth app credentials.
type GitHubConfig struct {
	ClientID     string
	ClientSecret string
	CallbackURL  string
}

// GitHubProvider wraps golang.org/x/oauth2 for the GitHub Authorization Code
// flow. It is an alternative way in: the account it resolves goes through
// the same session issuance as a password login.
//
// The code-for-token exchange happens server-to-server with the client
// secret, so the GitHub access token never reaches the browser.
type GitHubProvider struct {
	config  *oauth2.Config
	userURL string
}

// NewGitHubProvider requests "read:user" and "user:email"; the email is what
// links a GitHub identity to an existing password account.
func NewGitHubProvider(cfg GitHubConfig) *GitHubProvider {
	return newGitHubProvider(cfg, github.Endpoint, githubUserURL)
}

func newGitHubProvider(cfg GitHubConfig, endpoint oauth2.Endpoint, userURL string) *GitHubProvider {
	return &GitHubProvider{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.CallbackURL,
			Scopes:       []string{"read:user", "user:email"},
			Endpoint:     endpoint,
		},
		userURL: userURL,
	}
}

// AuthURL returns the GitHub authorization URL. state is echoed back on the
// callback and must match the value stored in the state cookie.
func (p *GitHubProvider) AuthURL(state string) string {
	return p.config.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

// Exchange trades the authorization code for the caller's GitHub profile.
func (p *GitHubProvider) Exchange(ctx context.Context, code string) (*GitHubUser, error) {
	oauthToken, err := p.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("auth: exchanging OAuth code: %w", err)
	}

	// The returned client adds "Authorization: Bearer <token>" to every request.
	client := p.config.Client(ctx, oauthToken)

	var ghUser GitHubUser
	found, err := getJSON(ctx, client, p.userURL, &ghUser)
	if err != nil {
		return nil, fmt.Errorf("auth: calling GitHub /user API: %w", err)
	}
	if !found {
		return nil, fmt.Errorf("auth: GitHub /user API returned no profile")
	}
	if ghUser.ID == 0 || ghUser.Login == "" {
		return nil, fmt.Errorf("auth: GitHub returned an invalid user")
	}

	// Without the user:email grant this endpoint refuses; the profile is
	// still usable, it just cannot be linked to an account by email.
	var emails []githubEmail
	found, err = getJSON(ctx, client, p.userURL+"/emails", &emails)
	if err != nil {
		return nil, fmt.Errorf("auth: calling GitHub /user/emails API: %w", err)
	}
	if found {
		ghUser.VerifiedEmail = pickVerifiedEmail(emails)
	}

	return &ghUser, nil
}

// getJSON decodes a 200 response into v. Any other status reports found as
// false with no error.
func getJSON(ctx context.Context, client *http.Client, url string, v any) (found bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return false, fmt.Errorf("decoding %s: %w", url, err)
	}
	return true, nil
}

func pickVerifiedEmail(emails []githubEmail) string {
	fallback := ""
	for _, e := range emails {
		if !e.Verified {
			continue
		}
		if e.Primary {
			return e.Email
		}
		if fallback == "" {
			fallback = e.Email
		}
	}
	return fallback
}
