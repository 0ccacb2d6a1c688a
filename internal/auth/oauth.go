package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"

	"github.com/sakif/pskb/internal/apperror"
	"github.com/sakif/pskb/internal/model"
)

// DefaultAPIBase is the public GitHub REST endpoint.
const DefaultAPIBase = "https://api.github.com"

// requestTimeout bounds every call to GitHub, token exchange included.
const requestTimeout = 15 * time.Second

// githubUser is the portion of the /user response we read.
//
// GitHub API docs: https://docs.github.com/en/rest/users/users#get-the-authenticated-user
type githubUser struct {
	Login string `json:"login"`
	Name  string `json:"name"`  // empty when the user never set one
	Email string `json:"email"` // empty when hidden in GitHub settings
}

type githubEmail struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

// GitHubProvider wraps golang.org/x/oauth2 for the GitHub Authorization
// Code flow, plus the two profile endpoints.
//
// The code-for-token exchange happens server-to-server using the client
// secret. The access token never reaches the browser; it lives in the
// server-side session.
type GitHubProvider struct {
	config  *oauth2.Config
	apiBase string
	http    *http.Client
}

// NewGitHubProvider creates a GitHubProvider. An empty apiBase means
// DefaultAPIBase.
//
// callbackURL must match the "Authorization callback URL" of the OAuth App
// exactly, e.g. "http://localhost:8080/github/authorized".
//
// Scopes:
//   - "public_repo": commit articles as the user
//   - "user:email":  find the commit email when the profile hides it
func NewGitHubProvider(clientID, clientSecret, callbackURL, apiBase string) *GitHubProvider {
	if apiBase == "" {
		apiBase = DefaultAPIBase
	}
	return &GitHubProvider{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  callbackURL,
			Scopes:       []string{"public_repo", "user:email"},
			Endpoint:     github.Endpoint,
		},
		apiBase: strings.TrimRight(apiBase, "/"),
		http:    &http.Client{Timeout: requestTimeout},
	}
}

// withClient makes x/oauth2 use the provider's client instead of
// http.DefaultClient, which has no timeout.
func (p *GitHubProvider) withClient(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, p.http)
}

// AuthURL returns the GitHub authorization URL carrying state.
func (p *GitHubProvider) AuthURL(state string) string {
	return p.config.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

// Exchange trades an authorization code for an access token.
func (p *GitHubProvider) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	token, err := p.config.Exchange(p.withClient(ctx), code)
	if err != nil {
		return nil, apperror.Upstream("github token exchange", err.Error())
	}
	if token.AccessToken == "" {
		return nil, apperror.Upstream("github token exchange", "no access token in response")
	}
	return token, nil
}

// Profile fetches the user behind an access token.
//
// GitHub leaves "email" empty when the user hides it. In that case the
// primary verified address from /user/emails is used; if that call fails
// too the email stays empty and commits fall back to the noreply address.
func (p *GitHubProvider) Profile(ctx context.Context, accessToken string) (*model.User, error) {
	client := p.config.Client(p.withClient(ctx), &oauth2.Token{AccessToken: accessToken})
	client.Timeout = p.http.Timeout

	var gh githubUser
	if err := p.getJSON(ctx, client, "/user", &gh); err != nil {
		return nil, err
	}
	if gh.Login == "" {
		return nil, apperror.Upstream("github profile", "response has no login")
	}

	user := &model.User{Login: gh.Login, Name: gh.Name, Email: gh.Email}
	if user.Email == "" {
		var emails []githubEmail
		if err := p.getJSON(ctx, client, "/user/emails", &emails); err == nil {
			user.Email = primaryEmail(emails)
		}
	}
	return user, nil
}

func (p *GitHubProvider) getJSON(ctx context.Context, client *http.Client, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.apiBase+path, nil)
	if err != nil {
		return fmt.Errorf("auth: building %s request: %w", path, err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := client.Do(req)
	if err != nil {
		return apperror.Upstream("github "+path, err.Error())
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return apperror.Unauthenticated("github rejected the access token")
	case resp.StatusCode != http.StatusOK:
		return apperror.Upstream("github "+path, fmt.Sprintf("status %d", resp.StatusCode))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperror.Upstream("github "+path, "decoding response: "+err.Error())
	}
	return nil
}

func primaryEmail(emails []githubEmail) string {
	for _, e := range emails {
		if e.Primary && e.Verified {
			return e.Email
		}
	}
	return ""
}
