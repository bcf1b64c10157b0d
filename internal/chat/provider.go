// Package chat abstracts the chat workspace a focus session manipulates:
// custom status and do-not-disturb. The focus state machine calls these as
// best-effort side effects after committing state.
package chat

import (
	"context"

	"skipper/assistant/internal/store"
)

// Provider is the chat-side surface of a focus session.
type Provider interface {
	// Profile returns the user's current custom status, for snapshotting
	// before a session overwrites it.
	Profile(ctx context.Context, userID string) (*store.ChatStatus, error)

	// SetProfile sets the custom status. Empty text and emoji clears it.
	// expiration is a unix timestamp after which the provider clears the
	// status itself; 0 means no expiry.
	SetProfile(ctx context.Context, userID, text, emoji string, expiration int64) error

	// SetDND snoozes notifications for the given number of minutes.
	SetDND(ctx context.Context, userID string, minutes int) error

	// EndDND ends the snooze. Ending when none is active is not an error.
	EndDND(ctx context.Context, userID string) error
}
