package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
	"golang.org/x/oauth2/google"
)

// ExternalIdentity is what a provider asserts about the user after a
// successful code exchange. Email is empty unless the provider marked it
// verified.
type ExternalIdentity struct {
	Provider    string
	ExternalUID string
	Email       string
	DisplayName string
	AvatarURL   string
}

// Provider is one OAuth 2.0 identity provider.
type Provider interface {
	Name() string
	AuthURL(state string) string
	Exchange(ctx context.Context, code string) (*ExternalIdentity, error)
}

// ProviderConfig holds the credentials registered with a provider.
// CallbackURL must match the provider's configured redirect URI exactly.
type ProviderConfig struct {
	ClientID     string
	ClientSecret string
	CallbackURL  string
}

// Enabled reports whether the provider has credentials configured.
func (c ProviderConfig) Enabled() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

// =========================================================================
// GITHUB
// =========================================================================

// gitHubUser is the portion of the GitHub /user API response we care about.
type gitHubUser struct {
	ID        int64  `json:"id"`
	Login     string `json:"login"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url"`
}

// gitHubEmail is one entry of GitHub's /user/emails response.
type gitHubEmail struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

// GitHubProvider wraps golang.org/x/oauth2 for the GitHub Authorization Code flow.
//
// OAUTH 2.0 AUTHORIZATION CODE FLOW:
// 1. Your server redirects the user to GitHub's authorization endpoint,
//    with your ClientID and the requested scopes.
// 2. The user approves (or denies) the authorization request on GitHub.
// 3. GitHub redirects back to your CallbackURL with a short-lived "code".
// 4. Your server exchanges the code for an access token (server-to-server call).
// 5. Your server uses the access token to call the GitHub API for user info.
type GitHubProvider struct {
	config  *oauth2.Config
	apiBase string
}

// NewGitHubProvider creates a GitHubProvider.
//
// Scopes we request:
//   - "read:user": access to the user's public profile (ID, login, avatar)
//   - "user:email": access to the user's email addresses, including hidden ones
func NewGitHubProvider(cfg ProviderConfig) *GitHubProvider {
	return &GitHubProvider{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.CallbackURL,
			Scopes:       []string{"read:user", "user:email"},
			Endpoint:     github.Endpoint,
		},
		apiBase: "https://api.github.com",
	}
}

func (p *GitHubProvider) Name() string { return "github" }

// AuthURL returns the URL to redirect the user to for authorization.
func (p *GitHubProvider) AuthURL(state string) string {
	return p.config.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

// Exchange trades the authorization code for the user's GitHub identity.
//
// GitHub's /user payload omits the email when the user hides it, so the
// primary verified address is read from /user/emails instead. Unverified
// addresses are never used.
func (p *GitHubProvider) Exchange(ctx context.Context, code string) (*ExternalIdentity, error) {
	oauthToken, err := p.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("auth: exchanging GitHub OAuth code: %w", err)
	}

	// oauth2.Config.Client returns an *http.Client that automatically adds
	// the "Authorization: Bearer <token>" header to every request.
	client := p.config.Client(ctx, oauthToken)

	var ghUser gitHubUser
	if err := getJSON(ctx, client, p.apiBase+"/user", &ghUser); err != nil {
		return nil, fmt.Errorf("auth: calling GitHub /user API: %w", err)
	}
	if ghUser.ID == 0 {
		return nil, fmt.Errorf("auth: GitHub returned an invalid user (ID = 0)")
	}

	var emails []gitHubEmail
	if err := getJSON(ctx, client, p.apiBase+"/user/emails", &emails); err != nil {
		return nil, fmt.Errorf("auth: calling GitHub /user/emails API: %w", err)
	}

	identity := &ExternalIdentity{
		Provider:    p.Name(),
		ExternalUID: strconv.FormatInt(ghUser.ID, 10),
		DisplayName: ghUser.Name,
		AvatarURL:   ghUser.AvatarURL,
	}
	if identity.DisplayName == "" {
		identity.DisplayName = ghUser.Login
	}
	for _, e := range emails {
		if e.Primary && e.Verified {
			identity.Email = e.Email
			break
		}
	}
	return identity, nil
}

// =========================================================================
// GOOGLE
// =========================================================================

// googleUser is the OpenID userinfo payload.
type googleUser struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	VerifiedEmail bool   `json:"verified_email"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

// GoogleProvider implements the Google Authorization Code flow.
type GoogleProvider struct {
	config      *oauth2.Config
	userInfoURL string
}

// NewGoogleProvider creates a GoogleProvider requesting the openid, email
// and profile scopes.
func NewGoogleProvider(cfg ProviderConfig) *GoogleProvider {
	return &GoogleProvider{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.CallbackURL,
			Scopes:       []string{"openid", "email", "profile"},
			Endpoint:     google.Endpoint,
		},
		userInfoURL: "https://www.googleapis.com/oauth2/v2/userinfo",
	}
}

func (p *GoogleProvider) Name() string { return "google" }

func (p *GoogleProvider) AuthURL(state string) string {
	return p.config.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

// Exchange trades the code for the user's Google identity. The email is
// dropped unless Google reports it verified.
func (p *GoogleProvider) Exchange(ctx context.Context, code string) (*ExternalIdentity, error) {
	oauthToken, err := p.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("auth: exchanging Google OAuth code: %w", err)
	}

	var gUser googleUser
	if err := getJSON(ctx, p.config.Client(ctx, oauthToken), p.userInfoURL, &gUser); err != nil {
		return nil, fmt.Errorf("auth: calling Google userinfo API: %w", err)
	}
	if gUser.ID == "" {
		return nil, fmt.Errorf("auth: Google returned an invalid user (empty ID)")
	}

	identity := &ExternalIdentity{
		Provider:    p.Name(),
		ExternalUID: gUser.ID,
		DisplayName: gUser.Name,
		AvatarURL:   gUser.Picture,
	}
	if gUser.VerifiedEmail {
		identity.Email = gUser.Email
	}
	return identity, nil
}

// getJSON performs an authenticated GET and decodes a 200 response into v.
func getJSON(ctx context.Context, client *http.Client, url string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}
