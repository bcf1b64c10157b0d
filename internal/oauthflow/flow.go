package oauthflow

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	githubep "golang.org/x/oauth2/github"

	"skipper/assistant/internal/store"
	"skipper/assistant/internal/vault"
)

// Scopes requested from each provider. Slack uses user-token scopes so the
// focus session can act as the user.
var (
	githubScopes    = []string{"read:user", "repo"}
	slackUserScopes = []string{"users.profile:read", "users.profile:write", "dnd:write"}
)

// Flow drives the connect flows and lands exchanged tokens in the vault.
type Flow struct {
	states *StateStore
	vault  *vault.Vault
	logger *slog.Logger

	github oauth2.Config

	slackClientID     string
	slackClientSecret string
	slackRedirectURI  string

	httpClient *http.Client

	// Overridable endpoints for tests.
	slackAuthorizeURL string
	slackTokenURL     string
}

// FlowConfig holds the app credentials for both providers.
type FlowConfig struct {
	States *StateStore
	Vault  *vault.Vault
	Logger *slog.Logger

	GithubClientID     string
	GithubClientSecret string
	GithubRedirectURI  string

	SlackClientID     string
	SlackClientSecret string
	SlackRedirectURI  string
}

// NewFlow creates a Flow.
func NewFlow(cfg FlowConfig) *Flow {
	return &Flow{
		states: cfg.States,
		vault:  cfg.Vault,
		logger: cfg.Logger,
		github: oauth2.Config{
			ClientID:     cfg.GithubClientID,
			ClientSecret: cfg.GithubClientSecret,
			RedirectURL:  cfg.GithubRedirectURI,
			Scopes:       githubScopes,
			Endpoint:     githubep.Endpoint,
		},
		slackClientID:     cfg.SlackClientID,
		slackClientSecret: cfg.SlackClientSecret,
		slackRedirectURI:  cfg.SlackRedirectURI,
		httpClient:        &http.Client{Timeout: 15 * time.Second},
		slackAuthorizeURL: "https://slack.com/oauth/v2/authorize",
		slackTokenURL:     "https://slack.com/api/oauth.v2.access",
	}
}

// GitHubAuthorizeURL issues a state token and returns the provider authorize
// URL to redirect the user to.
func (f *Flow) GitHubAuthorizeURL(ctx context.Context, userID, label string) (string, error) {
	if label == "" {
		label = "default"
	}
	state, err := f.states.Issue(ctx, StatePayload{UserID: userID, Provider: "github", Label: label})
	if err != nil {
		return "", err
	}
	return f.github.AuthCodeURL(state), nil
}

// HandleGitHubCallback consumes the state, exchanges the code, and stores
// the token pair in the vault. Returns the user the token now belongs to.
func (f *Flow) HandleGitHubCallback(ctx context.Context, code, state string) (string, error) {
	payload, err := f.states.Consume(ctx, state)
	if err != nil {
		return "", err
	}
	if payload.Provider != "github" {
		return "", ErrBadState
	}

	tok, err := f.github.Exchange(ctx, code)
	if err != nil {
		return "", fmt.Errorf("github code exchange: %w", err)
	}
	var expires *time.Time
	if !tok.Expiry.IsZero() {
		exp := tok.Expiry
		expires = &exp
	}
	_, err = f.vault.Store(ctx, vault.StoreRequest{
		UserID:       payload.UserID,
		Provider:     "github",
		AccountLabel: payload.Label,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Scope:        strings.Join(githubScopes, " "),
		ExpiresAt:    expires,
		TokenType:    store.TokenTypeOAuth,
		AppConfigID:  payload.AppConfigID,
	})
	if err != nil {
		return "", err
	}
	f.logger.Info("github account connected", "user", payload.UserID, "label", payload.Label)
	return payload.UserID, nil
}

// SlackAuthorizeURL issues a state token and returns the v2 authorize URL
// requesting user-token scopes.
func (f *Flow) SlackAuthorizeURL(ctx context.Context, userID, label string) (string, error) {
	if label == "" {
		label = "default"
	}
	state, err := f.states.Issue(ctx, StatePayload{UserID: userID, Provider: "slack", Label: label})
	if err != nil {
		return "", err
	}
	q := url.Values{
		"client_id":    {f.slackClientID},
		"user_scope":   {strings.Join(slackUserScopes, ",")},
		"redirect_uri": {f.slackRedirectURI},
		"state":        {state},
	}
	return f.slackAuthorizeURL + "?" + q.Encode(), nil
}

// slackAccessResponse is the oauth.v2.access shape we care about: the
// authed_user block carries the user token.
type slackAccessResponse struct {
	OK         bool   `json:"ok"`
	Error      string `json:"error"`
	AuthedUser struct {
		ID          string `json:"id"`
		Scope       string `json:"scope"`
		AccessToken string `json:"access_token"`
	} `json:"authed_user"`
}

// HandleSlackCallback consumes the state, exchanges the code against
// oauth.v2.access, and stores the authed user's token in the vault.
func (f *Flow) HandleSlackCallback(ctx context.Context, code, state string) (string, error) {
	payload, err := f.states.Consume(ctx, state)
	if err != nil {
		return "", err
	}
	if payload.Provider != "slack" {
		return "", ErrBadState
	}

	form := url.Values{
		"code":          {code},
		"client_id":     {f.slackClientID},
		"client_secret": {f.slackClientSecret},
		"redirect_uri":  {f.slackRedirectURI},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.slackTokenURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("slack code exchange: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	var access slackAccessResponse
	if err := json.Unmarshal(body, &access); err != nil {
		return "", fmt.Errorf("decode slack access response: %w", err)
	}
	if !access.OK {
		return "", fmt.Errorf("slack code exchange rejected: %s", access.Error)
	}
	if access.AuthedUser.AccessToken == "" {
		return "", fmt.Errorf("slack access response carries no user token")
	}

	_, err = f.vault.Store(ctx, vault.StoreRequest{
		UserID:            payload.UserID,
		Provider:          "slack",
		AccountLabel:      payload.Label,
		AccessToken:       access.AuthedUser.AccessToken,
		Scope:             access.AuthedUser.Scope,
		ExternalAccountID: access.AuthedUser.ID,
		TokenType:         store.TokenTypeOAuth,
	})
	if err != nil {
		return "", err
	}
	f.logger.Info("slack account connected", "user", payload.UserID, "label", payload.Label)
	return payload.UserID, nil
}
