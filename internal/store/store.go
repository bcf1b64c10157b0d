// Package store defines the repository interface for the focus control plane
// and an in-memory implementation used by dev mode and tests.
//
// All entities are owned by one user; implementations must never return rows
// across users. The relational backing (and the Redis backing for the
// key-value methods) live behind this interface.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrConflict is returned on unique-constraint violations, e.g. a
	// duplicate deferred-job ID or a second active encryption key by name.
	ErrConflict = errors.New("store: conflict")
)

// Store is the persistence surface of the focus control plane.
type Store interface {
	// --- Focus records ---

	FocusRecord(ctx context.Context, userID string) (*FocusRecord, error)
	PutFocusRecord(ctx context.Context, rec *FocusRecord) error

	// ExpiredFocusRecords returns active records whose EndsAt has passed.
	// Used by the backup sweep.
	ExpiredFocusRecords(ctx context.Context, now time.Time) ([]*FocusRecord, error)

	// --- Focus settings ---

	FocusSettings(ctx context.Context, userID string) (*FocusSettings, error)
	PutFocusSettings(ctx context.Context, s *FocusSettings) error

	// --- OAuth tokens ---

	OAuthToken(ctx context.Context, userID, provider, label string) (*OAuthToken, error)
	PutOAuthToken(ctx context.Context, tok *OAuthToken) error
	DeleteOAuthToken(ctx context.Context, userID, provider, label string) error
	OAuthTokensByUser(ctx context.Context, userID string) ([]*OAuthToken, error)

	// --- Encryption keys (create-only) ---

	EncryptionKey(ctx context.Context, id string) (*EncryptionKey, error)

	// EncryptionKeyByName returns the active key with the given name.
	EncryptionKeyByName(ctx context.Context, keyName string) (*EncryptionKey, error)
	CreateEncryptionKey(ctx context.Context, key *EncryptionKey) error

	// --- Webhook subscriptions ---

	WebhookSubscriptions(ctx context.Context, userID string) ([]*WebhookSubscription, error)
	PutWebhookSubscription(ctx context.Context, sub *WebhookSubscription) error
	DeleteWebhookSubscription(ctx context.Context, userID, id string) error

	// --- Deferred jobs ---

	// CreateJob inserts a job; a duplicate ID returns ErrConflict.
	CreateJob(ctx context.Context, job *DeferredJob) error

	// DeleteJob removes a job, reporting whether it existed. The runner
	// deletes before running so a row fires at most once.
	DeleteJob(ctx context.Context, id string) (bool, error)

	DueJobs(ctx context.Context, now time.Time) ([]*DeferredJob, error)

	// --- Key-value with TTL (OAuth CSRF states, event dedup, job sidecars) ---

	// SetNX sets key to val with a TTL only if absent; reports whether it set.
	SetNX(ctx context.Context, key, val string, ttl time.Duration) (bool, error)

	Set(ctx context.Context, key, val string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)

	// GetDel atomically reads and removes a key (one-time consumption).
	GetDel(ctx context.Context, key string) (string, error)

	Del(ctx context.Context, key string) error
}
