// Package vault stores, refreshes, and revokes per-user third-party tokens,
// encrypting them at rest through the envelope cipher.
//
// All token rows written here share a named singleton DEK
// ("oauth_tokens_dek_v1"); the vault bootstraps the DEK record on first
// write. Rotation adds a new record under a new key name.
package vault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	githubep "golang.org/x/oauth2/github"

	"skipper/assistant/internal/envelope"
	"skipper/assistant/internal/store"
)

// DEKName is the singleton DEK record shared by all token rows.
const DEKName = "oauth_tokens_dek_v1"

// ErrNoToken means no usable token exists for the requested key: the row is
// absent, or it expired and could not be refreshed.
var ErrNoToken = errors.New("vault: no usable token")

// GitHubApp holds OAuth app credentials for the refresh_token grant.
type GitHubApp struct {
	ClientID     string
	ClientSecret string
}

// AppCredentialsFunc resolves per-user GitHub app credentials by app config
// ID. Nil or ErrNotFound falls back to the global app.
type AppCredentialsFunc func(ctx context.Context, appConfigID string) (*GitHubApp, error)

// Vault wraps the envelope cipher and OAuth token storage.
type Vault struct {
	store       store.Store
	cipher      *envelope.Cipher
	kekProvider string // recorded on generated DEK rows
	githubApp   GitHubApp
	appCreds    AppCredentialsFunc
	logger      *slog.Logger

	httpClient *http.Client

	// Overridable endpoints for tests.
	githubAPIBase  string
	githubTokenURL string
	slackAPIBase   string

	// dekMu serializes first-write DEK bootstrap.
	dekMu sync.Mutex

	now func() time.Time
}

// Config holds the dependencies to build a Vault.
type Config struct {
	Store       store.Store
	Cipher      *envelope.Cipher
	KEKProvider string // "local", "gcp_kms", "aws_kms"
	GitHubApp   GitHubApp
	AppCreds    AppCredentialsFunc // optional
	Logger      *slog.Logger
}

// New creates a Vault.
func New(cfg Config) *Vault {
	return &Vault{
		store:          cfg.Store,
		cipher:         cfg.Cipher,
		kekProvider:    cfg.KEKProvider,
		githubApp:      cfg.GitHubApp,
		appCreds:       cfg.AppCreds,
		logger:         cfg.Logger,
		httpClient:     &http.Client{Timeout: 15 * time.Second},
		githubAPIBase:  "https://api.github.com",
		githubTokenURL: githubep.Endpoint.TokenURL,
		slackAPIBase:   "https://slack.com/api",
		now:            time.Now,
	}
}

// StoreRequest describes a token upsert. Upserts are keyed by
// (UserID, Provider, AccountLabel).
type StoreRequest struct {
	UserID       string
	Provider     string // "slack" or "github"
	AccountLabel string

	AccessToken  string
	RefreshToken string // optional
	Scope        string
	ExpiresAt    *time.Time

	ExternalAccountID string
	TokenType         string // store.TokenTypeOAuth or store.TokenTypePAT
	AppConfigID       string
}

// Store encrypts and upserts a token row. GitHub personal-access tokens
// (TokenTypePAT) are validated against the provider's user endpoint first
// and rejected on non-200.
func (v *Vault) Store(ctx context.Context, req StoreRequest) (*store.OAuthToken, error) {
	if req.TokenType == "" {
		req.TokenType = store.TokenTypeOAuth
	}
	if req.TokenType == store.TokenTypePAT {
		if err := v.validatePAT(ctx, req.AccessToken); err != nil {
			return nil, err
		}
		req.Scope = "pat"
		req.RefreshToken = ""
	}

	dek, err := v.dek(ctx)
	if err != nil {
		return nil, err
	}

	encAccess, err := v.cipher.Encrypt(ctx, req.AccessToken, dek.EncryptedDEK)
	if err != nil {
		return nil, fmt.Errorf("encrypt access token: %w", err)
	}
	var encRefresh string
	if req.RefreshToken != "" {
		encRefresh, err = v.cipher.Encrypt(ctx, req.RefreshToken, dek.EncryptedDEK)
		if err != nil {
			return nil, fmt.Errorf("encrypt refresh token: %w", err)
		}
	}

	tok := &store.OAuthToken{
		UserID:            req.UserID,
		Provider:          req.Provider,
		AccountLabel:      req.AccountLabel,
		ExternalAccountID: req.ExternalAccountID,
		TokenType:         req.TokenType,
		Scope:             req.Scope,
		ExpiresAt:         req.ExpiresAt,
		// Legacy non-null columns; never read for encrypted rows.
		AccessToken:           store.EncryptedSentinel,
		RefreshToken:          store.EncryptedSentinel,
		EncryptedAccessToken:  encAccess,
		EncryptedRefreshToken: encRefresh,
		EncryptionKeyID:       dek.ID,
		AppConfigID:           req.AppConfigID,
	}
	if err := v.store.PutOAuthToken(ctx, tok); err != nil {
		return nil, fmt.Errorf("persist token: %w", err)
	}
	return tok, nil
}

// AccessToken returns the decrypted access token. Rows predating encryption
// (no EncryptionKeyID) fall back to the legacy plaintext column.
func (v *Vault) AccessToken(ctx context.Context, tok *store.OAuthToken) (string, error) {
	return v.decrypt(ctx, tok, tok.EncryptedAccessToken, tok.AccessToken)
}

// RefreshTokenValue returns the decrypted refresh token, or "" when the row
// has none.
func (v *Vault) RefreshTokenValue(ctx context.Context, tok *store.OAuthToken) (string, error) {
	if tok.EncryptionKeyID != "" && tok.EncryptedRefreshToken == "" {
		return "", nil
	}
	return v.decrypt(ctx, tok, tok.EncryptedRefreshToken, tok.RefreshToken)
}

func (v *Vault) decrypt(ctx context.Context, tok *store.OAuthToken, ciphertext, legacy string) (string, error) {
	if tok.EncryptionKeyID == "" {
		// Row predates encryption.
		return legacy, nil
	}
	key, err := v.store.EncryptionKey(ctx, tok.EncryptionKeyID)
	if err != nil {
		return "", fmt.Errorf("load dek record %s: %w", tok.EncryptionKeyID, err)
	}
	return v.cipher.Decrypt(ctx, ciphertext, key.EncryptedDEK)
}

// RefreshGitHub performs an OAuth2 refresh_token grant and persists the new
// pair under the same (user, provider, label). When the row carries an
// AppConfigID the per-user app credentials are used instead of the global
// app.
func (v *Vault) RefreshGitHub(ctx context.Context, tok *store.OAuthToken) (*store.OAuthToken, error) {
	refresh, err := v.RefreshTokenValue(ctx, tok)
	if err != nil {
		return nil, err
	}
	if refresh == "" {
		return nil, fmt.Errorf("token %s/%s/%s has no refresh token",
			tok.UserID, tok.Provider, tok.AccountLabel)
	}

	app := v.githubApp
	if tok.AppConfigID != "" && v.appCreds != nil {
		perUser, err := v.appCreds(ctx, tok.AppConfigID)
		if err != nil {
			return nil, fmt.Errorf("resolve app credentials %s: %w", tok.AppConfigID, err)
		}
		app = *perUser
	}

	conf := &oauth2.Config{
		ClientID:     app.ClientID,
		ClientSecret: app.ClientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: v.githubTokenURL},
	}
	newTok, err := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refresh}).Token()
	if err != nil {
		return nil, fmt.Errorf("github refresh rejected: %w", err)
	}

	newRefresh := newTok.RefreshToken
	if newRefresh == "" {
		newRefresh = refresh
	}
	var expires *time.Time
	if !newTok.Expiry.IsZero() {
		exp := newTok.Expiry
		expires = &exp
	}

	return v.Store(ctx, StoreRequest{
		UserID:            tok.UserID,
		Provider:          tok.Provider,
		AccountLabel:      tok.AccountLabel,
		AccessToken:       newTok.AccessToken,
		RefreshToken:      newRefresh,
		Scope:             tok.Scope,
		ExpiresAt:         expires,
		ExternalAccountID: tok.ExternalAccountID,
		TokenType:         tok.TokenType,
		AppConfigID:       tok.AppConfigID,
	})
}

// Revoke attempts server-side revocation (transport failures are logged and
// ignored), then deletes the row.
func (v *Vault) Revoke(ctx context.Context, userID, provider, label string) error {
	tok, err := v.store.OAuthToken(ctx, userID, provider, label)
	if err != nil {
		return err
	}
	access, err := v.AccessToken(ctx, tok)
	if err != nil {
		// Undecryptable rows are still deleted; the provider-side grant
		// cannot be revoked without the plaintext.
		v.logger.Warn("revoke: cannot decrypt token for server-side revocation",
			"user", userID, "provider", provider, "error", err)
	} else {
		switch provider {
		case "slack":
			v.revokeSlack(ctx, access)
		case "github":
			v.revokeGitHub(ctx, access, tok.AppConfigID)
		}
	}
	return v.store.DeleteOAuthToken(ctx, userID, provider, label)
}

// ValidToken returns a currently-usable plaintext access token, refreshing
// expired OAuth tokens when possible. ErrNoToken means absent or refresh
// failed; other errors are store or cipher failures.
func (v *Vault) ValidToken(ctx context.Context, userID, provider, label string) (string, error) {
	tok, err := v.store.OAuthToken(ctx, userID, provider, label)
	if errors.Is(err, store.ErrNotFound) {
		return "", ErrNoToken
	}
	if err != nil {
		return "", err
	}

	if tok.TokenType == store.TokenTypeOAuth && tok.ExpiresAt != nil && !tok.ExpiresAt.After(v.now()) {
		if provider != "github" {
			return "", ErrNoToken
		}
		refreshed, err := v.RefreshGitHub(ctx, tok)
		if err != nil {
			v.logger.Warn("token refresh failed",
				"user", userID, "provider", provider, "label", label, "error", err)
			return "", ErrNoToken
		}
		tok = refreshed
	}

	return v.AccessToken(ctx, tok)
}

// dek returns the singleton DEK record, generating and persisting it on
// first use. A concurrent bootstrap race resolves by re-reading after a
// conflict.
func (v *Vault) dek(ctx context.Context) (*store.EncryptionKey, error) {
	key, err := v.store.EncryptionKeyByName(ctx, DEKName)
	if err == nil {
		return key, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	v.dekMu.Lock()
	defer v.dekMu.Unlock()
	if key, err := v.store.EncryptionKeyByName(ctx, DEKName); err == nil {
		return key, nil
	}

	encryptedDEK, err := v.cipher.GenerateDEK(ctx)
	if err != nil {
		return nil, err
	}
	key = &store.EncryptionKey{
		ID:           uuid.NewString(),
		KeyName:      DEKName,
		EncryptedDEK: encryptedDEK,
		KEKProvider:  v.kekProvider,
		IsActive:     true,
		CreatedAt:    v.now(),
	}
	if err := v.store.CreateEncryptionKey(ctx, key); err != nil {
		if errors.Is(err, store.ErrConflict) {
			// Another writer won the bootstrap.
			return v.store.EncryptionKeyByName(ctx, DEKName)
		}
		return nil, err
	}
	v.logger.Info("generated oauth token DEK", "key_name", DEKName, "kek_provider", v.kekProvider)
	return key, nil
}
