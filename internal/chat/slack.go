package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/slack-go/slack"

	"skipper/assistant/internal/store"
	"skipper/assistant/internal/vault"
)

// TokenSource resolves a user's Slack access token. Backed by the vault in
// production; returns vault.ErrNoToken when the user never connected Slack.
type TokenSource func(ctx context.Context, userID string) (string, error)

// VaultTokens adapts the vault's default Slack account into a TokenSource.
func VaultTokens(v *vault.Vault) TokenSource {
	return func(ctx context.Context, userID string) (string, error) {
		return v.ValidToken(ctx, userID, "slack", "default")
	}
}

// slackAPI is the slice of the slack-go client the provider uses.
type slackAPI interface {
	GetUserProfileContext(ctx context.Context, params *slack.GetUserProfileParameters) (*slack.UserProfile, error)
	SetUserCustomStatusContext(ctx context.Context, statusText, statusEmoji string, statusExpiration int64) error
	UnsetUserCustomStatusContext(ctx context.Context) error
	SetSnoozeContext(ctx context.Context, minutes int) (*slack.DNDStatus, error)
	EndSnoozeContext(ctx context.Context) (*slack.DNDStatus, error)
}

// SlackProvider implements Provider against the Slack Web API using each
// user's own token. A user with no stored token gets warn-and-skip on the
// mutating calls so focus sessions still work without a connected workspace.
type SlackProvider struct {
	tokens TokenSource
	logger *slog.Logger

	// newClient is swapped out by tests.
	newClient func(token string) slackAPI
}

// NewSlackProvider creates a SlackProvider.
func NewSlackProvider(tokens TokenSource, logger *slog.Logger) *SlackProvider {
	return &SlackProvider{
		tokens: tokens,
		logger: logger,
		newClient: func(token string) slackAPI {
			return slack.New(token)
		},
	}
}

func (p *SlackProvider) client(ctx context.Context, userID string) (slackAPI, error) {
	token, err := p.tokens(ctx, userID)
	if err != nil {
		return nil, err
	}
	return p.newClient(token), nil
}

func (p *SlackProvider) Profile(ctx context.Context, userID string) (*store.ChatStatus, error) {
	api, err := p.client(ctx, userID)
	if err != nil {
		return nil, err
	}
	profile, err := api.GetUserProfileContext(ctx, &slack.GetUserProfileParameters{})
	if err != nil {
		return nil, fmt.Errorf("slack profile: %w", err)
	}
	return &store.ChatStatus{Text: profile.StatusText, Emoji: profile.StatusEmoji}, nil
}

func (p *SlackProvider) SetProfile(ctx context.Context, userID, text, emoji string, expiration int64) error {
	api, err := p.client(ctx, userID)
	if err != nil {
		return p.skipIfNoToken(userID, "set status", err)
	}
	if text == "" && emoji == "" {
		if err := api.UnsetUserCustomStatusContext(ctx); err != nil {
			return fmt.Errorf("slack clear status: %w", err)
		}
		return nil
	}
	if err := api.SetUserCustomStatusContext(ctx, text, emoji, expiration); err != nil {
		return fmt.Errorf("slack set status: %w", err)
	}
	return nil
}

func (p *SlackProvider) SetDND(ctx context.Context, userID string, minutes int) error {
	api, err := p.client(ctx, userID)
	if err != nil {
		return p.skipIfNoToken(userID, "set dnd", err)
	}
	if _, err := api.SetSnoozeContext(ctx, minutes); err != nil {
		return fmt.Errorf("slack snooze: %w", err)
	}
	return nil
}

func (p *SlackProvider) EndDND(ctx context.Context, userID string) error {
	api, err := p.client(ctx, userID)
	if err != nil {
		return p.skipIfNoToken(userID, "end dnd", err)
	}
	if _, err := api.EndSnoozeContext(ctx); err != nil {
		// Ending a snooze that already lapsed is fine.
		if err.Error() == "snooze_not_active" {
			return nil
		}
		return fmt.Errorf("slack end snooze: %w", err)
	}
	return nil
}

// skipIfNoToken turns an absent-token error into a logged no-op so the state
// machine's side effects degrade instead of failing the operation.
func (p *SlackProvider) skipIfNoToken(userID, op string, err error) error {
	if errors.Is(err, vault.ErrNoToken) {
		p.logger.Warn("no slack token, skipping", "op", op, "user", userID)
		return nil
	}
	return err
}
