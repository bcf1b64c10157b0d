package vault

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// validatePAT checks a GitHub personal-access token against the user
// endpoint; anything but 200 rejects the insert.
func (v *Vault) validatePAT(ctx context.Context, token string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.githubAPIBase+"/user", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("validate pat: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("github rejected personal access token (status %d)", resp.StatusCode)
	}
	return nil
}

// revokeSlack calls auth.revoke with the user token. Best effort.
func (v *Vault) revokeSlack(ctx context.Context, token string) {
	form := url.Values{"token": {token}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		v.slackAPIBase+"/auth.revoke", strings.NewReader(form.Encode()))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := v.httpClient.Do(req)
	if err != nil {
		v.logger.Warn("slack auth.revoke failed", "error", err)
		return
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
}

// revokeGitHub deletes the OAuth app grant for the token. Best effort.
func (v *Vault) revokeGitHub(ctx context.Context, token, appConfigID string) {
	app := v.githubApp
	if appConfigID != "" && v.appCreds != nil {
		if perUser, err := v.appCreds(ctx, appConfigID); err == nil {
			app = *perUser
		}
	}
	if app.ClientID == "" {
		return
	}

	body, _ := json.Marshal(map[string]string{"access_token": token})
	url := fmt.Sprintf("%s/applications/%s/grant", v.githubAPIBase, app.ClientID)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, bytes.NewReader(body))
	if err != nil {
		return
	}
	req.SetBasicAuth(app.ClientID, app.ClientSecret)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := v.httpClient.Do(req)
	if err != nil {
		v.logger.Warn("github grant revocation failed", "error", err)
		return
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
}
