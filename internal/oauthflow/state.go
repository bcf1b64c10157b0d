// Package oauthflow runs the OAuth connect flows for Slack and GitHub:
// CSRF state issuance, authorize-URL construction, callback code exchange,
// and inbound Slack request verification.
package oauthflow

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"skipper/assistant/internal/store"
)

// stateTTL bounds how long a pending authorize redirect stays valid.
const stateTTL = 600 * time.Second

// ErrBadState means the callback's state token is unknown, expired, or
// already used.
var ErrBadState = errors.New("oauthflow: invalid or expired state")

// StatePayload is what a state token resolves back to at callback time.
type StatePayload struct {
	UserID      string    `json:"user_id"`
	Provider    string    `json:"provider"`
	Label       string    `json:"label"`
	AppConfigID string    `json:"app_config_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// StateStore issues and consumes one-shot CSRF state tokens.
type StateStore struct {
	kv  store.Store
	now func() time.Time
}

// NewStateStore creates a StateStore over the key-value surface.
func NewStateStore(kv store.Store) *StateStore {
	return &StateStore{kv: kv, now: time.Now}
}

// Issue mints an unguessable state token bound to the payload, valid for ten
// minutes.
func (s *StateStore) Issue(ctx context.Context, payload StatePayload) (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate state token: %w", err)
	}
	token := base64.RawURLEncoding.EncodeToString(buf)

	payload.CreatedAt = s.now().UTC()
	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	if err := s.kv.Set(ctx, "oauth_state:"+token, string(data), stateTTL); err != nil {
		return "", fmt.Errorf("persist state: %w", err)
	}
	return token, nil
}

// Consume resolves and invalidates a state token. Each token works exactly
// once; a replayed or expired token returns ErrBadState.
func (s *StateStore) Consume(ctx context.Context, token string) (*StatePayload, error) {
	data, err := s.kv.GetDel(ctx, "oauth_state:"+token)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrBadState
	}
	if err != nil {
		return nil, err
	}
	var payload StatePayload
	if err := json.Unmarshal([]byte(data), &payload); err != nil {
		return nil, fmt.Errorf("decode state payload: %w", err)
	}
	return &payload, nil
}
