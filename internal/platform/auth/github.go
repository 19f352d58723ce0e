package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
)

const githubAPIURL = "https://api.github.com"

// OAuthIdentity is the verified identity returned by an OAuth provider.
type OAuthIdentity struct {
	Email      string
	Name       *string
	AvatarURL  *string
	ProviderID string
}

// GitHubVerifier exchanges GitHub OAuth authorization codes for an identity.
type GitHubVerifier struct {
	oauth      *oauth2.Config
	apiURL     string
	httpClient *http.Client
	logger     zerolog.Logger
}

func NewGitHubVerifier(clientID, clientSecret, redirectURI string, logger zerolog.Logger) *GitHubVerifier {
	endpoint := endpoints.GitHub
	// GitHub takes the client credentials in the form body.
	endpoint.AuthStyle = oauth2.AuthStyleInParams
	return &GitHubVerifier{
		oauth: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURI,
			Endpoint:     endpoint,
			Scopes:       []string{"read:user", "user:email"},
		},
		apiURL:     githubAPIURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger.With().Str("adapter", "github_oauth").Logger(),
	}
}

// AuthorizeURL is where the client sends the browser to start sign-in.
func (v *GitHubVerifier) AuthorizeURL(state string) string {
	return v.oauth.AuthCodeURL(state)
}

type githubUser struct {
	ID        int64  `json:"id"`
	Login     string `json:"login"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatar_url"`
}

type githubEmail struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

// VerifyCode exchanges code for an access token, then reads the profile and
// the primary verified email.
func (v *GitHubVerifier) VerifyCode(ctx context.Context, code string) (*OAuthIdentity, error) {
	if strings.TrimSpace(code) == "" {
		return nil, fmt.Errorf("oauth: missing code")
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, v.httpClient)

	tok, err := v.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, v.exchangeError(err)
	}
	client := v.oauth.Client(ctx, tok)
	client.Timeout = v.httpClient.Timeout

	var user githubUser
	if err := v.getJSON(ctx, client, "/user", &user); err != nil {
		return nil, err
	}

	email := user.Email
	if email == "" {
		var emails []githubEmail
		if err := v.getJSON(ctx, client, "/user/emails", &emails); err != nil {
			return nil, err
		}
		for _, e := range emails {
			if e.Primary && e.Verified {
				email = e.Email
				break
			}
		}
	}
	if email == "" {
		return nil, fmt.Errorf("oauth: no verified email on github account")
	}

	identity := &OAuthIdentity{
		Email:      strings.ToLower(email),
		ProviderID: strconv.FormatInt(user.ID, 10),
	}
	if user.Name != "" {
		identity.Name = &user.Name
	}
	if user.AvatarURL != "" {
		identity.AvatarURL = &user.AvatarURL
	}

	v.logger.Debug().Str("login", user.Login).Msg("github oauth success")
	return identity, nil
}

// exchangeError separates GitHub being unreachable from GitHub refusing the
// code. A refused code comes back as a 200 carrying an error field.
func (v *GitHubVerifier) exchangeError(err error) error {
	var urlErr *url.Error
	var re *oauth2.RetrieveError
	switch {
	case errors.As(err, &urlErr):
		v.logger.Error().Err(err).Msg("github token exchange failed")
		return fmt.Errorf("oauth: github unavailable")
	case errors.As(err, &re) && re.Response != nil && re.Response.StatusCode >= http.StatusInternalServerError:
		v.logger.Error().Int("status", re.Response.StatusCode).Msg("github token exchange failed")
		return fmt.Errorf("oauth: github unavailable")
	default:
		v.logger.Warn().Err(err).Msg("github rejected code")
		return fmt.Errorf("oauth: invalid or expired code")
	}
}

func (v *GitHubVerifier) getJSON(ctx context.Context, client *http.Client, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.apiURL+path, nil)
	if err != nil {
		return fmt.Errorf("create %s request: %w", path, err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := client.Do(req)
	if err != nil {
		v.logger.Error().Err(err).Str("path", path).Msg("github api call failed")
		return fmt.Errorf("oauth: failed to fetch user info")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		v.logger.Error().Int("status", resp.StatusCode).Str("path", path).Msg("github api call failed")
		return fmt.Errorf("oauth: failed to fetch user info")
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(out); err != nil {
		return fmt.Errorf("oauth: invalid user info response")
	}
	return nil
}
