// Package config provides assistant configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds assistant configuration. Values come from env vars or defaults.
type Config struct {
	// --- Server ---

	// ListenAddr is the HTTP listen address for the API server (env: LISTEN_ADDR).
	ListenAddr string

	// EmbedScheduler runs the job scheduler runner inside assistantd instead of
	// a separate focusworker process (env: EMBED_SCHEDULER). Default: true.
	// Split deployments set this false and run cmd/focusworker against the
	// shared store.
	EmbedScheduler bool

	// --- Encryption ---

	// KEKProvider selects the key-encryption-key backend: "local", "gcp_kms",
	// or "aws_kms" (env: ENCRYPTION_KEK_PROVIDER).
	KEKProvider string

	// KEKLocalKey is the hex-encoded 32-byte local KEK (env: ENCRYPTION_KEK_LOCAL_KEY).
	KEKLocalKey string

	// KEKLocalKeyFile is a path to a file holding the hex-encoded local KEK
	// (env: ENCRYPTION_KEK_LOCAL_KEY_FILE). Used when KEKLocalKey is empty.
	KEKLocalKeyFile string

	// GCPKMSKeyName is the full GCP KMS key resource name, e.g.
	// "projects/p/locations/l/keyRings/r/cryptoKeys/k" (env: ENCRYPTION_GCP_KMS_KEY_NAME).
	GCPKMSKeyName string

	// AWSKMSKeyID is the AWS KMS key ID or ARN (env: ENCRYPTION_AWS_KMS_KEY_ID).
	AWSKMSKeyID string

	// --- Slack ---

	// SlackSigningSecret verifies inbound Slack request signatures (env: SLACK_SIGNING_SECRET).
	SlackSigningSecret string

	// SlackClientID is the Slack OAuth app client ID (env: SLACK_CLIENT_ID).
	SlackClientID string

	// SlackClientSecret is the Slack OAuth app client secret (env: SLACK_CLIENT_SECRET).
	SlackClientSecret string

	// SlackOAuthRedirectURI is the registered Slack OAuth redirect URI
	// (env: SLACK_OAUTH_REDIRECT_URI).
	SlackOAuthRedirectURI string

	// --- GitHub ---

	// GithubClientID is the global GitHub OAuth app client ID, used when a
	// token row carries no per-user app config (env: GITHUB_CLIENT_ID).
	GithubClientID string

	// GithubClientSecret is the global GitHub OAuth app client secret
	// (env: GITHUB_CLIENT_SECRET).
	GithubClientSecret string

	// GithubOAuthRedirectURI is the registered GitHub OAuth redirect URI
	// (env: GITHUB_OAUTH_REDIRECT_URI).
	GithubOAuthRedirectURI string

	// --- Backing services ---

	// RedisURL names a shared store backing (env: REDIS_URL). This build
	// only carries the in-process memory store, so Validate rejects a set
	// value rather than silently falling back.
	RedisURL string

	// NatsURL enables cross-replica event fanout over NATS when set (env: NATS_URL).
	NatsURL string

	// NatsToken is the optional NATS auth token (env: NATS_TOKEN).
	NatsToken string

	// --- Scheduler ---

	// SchedulerPollInterval is how often the runner checks for due jobs
	// (env: SCHEDULER_POLL_INTERVAL). Default: 1s.
	SchedulerPollInterval time.Duration

	// --- Logging ---

	// LogLevel controls log verbosity: debug, info, warn, error (env: LOG_LEVEL).
	LogLevel string
}

// Parse reads configuration from environment variables.
func Parse() *Config {
	return &Config{
		// Server
		ListenAddr:     envOr("LISTEN_ADDR", ":8090"),
		EmbedScheduler: envBoolOr("EMBED_SCHEDULER", true),

		// Encryption
		KEKProvider:     envOr("ENCRYPTION_KEK_PROVIDER", "local"),
		KEKLocalKey:     os.Getenv("ENCRYPTION_KEK_LOCAL_KEY"),
		KEKLocalKeyFile: os.Getenv("ENCRYPTION_KEK_LOCAL_KEY_FILE"),
		GCPKMSKeyName:   os.Getenv("ENCRYPTION_GCP_KMS_KEY_NAME"),
		AWSKMSKeyID:     os.Getenv("ENCRYPTION_AWS_KMS_KEY_ID"),

		// Slack
		SlackSigningSecret:    os.Getenv("SLACK_SIGNING_SECRET"),
		SlackClientID:         os.Getenv("SLACK_CLIENT_ID"),
		SlackClientSecret:     os.Getenv("SLACK_CLIENT_SECRET"),
		SlackOAuthRedirectURI: os.Getenv("SLACK_OAUTH_REDIRECT_URI"),

		// GitHub
		GithubClientID:         os.Getenv("GITHUB_CLIENT_ID"),
		GithubClientSecret:     os.Getenv("GITHUB_CLIENT_SECRET"),
		GithubOAuthRedirectURI: os.Getenv("GITHUB_OAUTH_REDIRECT_URI"),

		// Backing services
		RedisURL:  os.Getenv("REDIS_URL"),
		NatsURL:   os.Getenv("NATS_URL"),
		NatsToken: os.Getenv("NATS_TOKEN"),

		// Scheduler
		SchedulerPollInterval: envDurationOr("SCHEDULER_POLL_INTERVAL", time.Second),

		// Logging
		LogLevel: envOr("LOG_LEVEL", "info"),
	}
}

// Validate rejects configurations this build cannot honor. A set REDIS_URL
// promises a shared store the binaries do not carry; proceeding anyway would
// leave a split deployment's scheduler state on separate in-process stores.
func (c *Config) Validate() error {
	if c.RedisURL != "" {
		return fmt.Errorf("REDIS_URL is set but this build only supports the in-process store; unset it and run with EMBED_SCHEDULER=true")
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBoolOr(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
