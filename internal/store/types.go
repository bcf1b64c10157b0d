package store

import "time"

// FocusState is the per-user focus mode state.
type FocusState string

const (
	StateOff           FocusState = "off"
	StateSimpleActive  FocusState = "simple_active"
	StatePomodoroWork  FocusState = "pomodoro_work"
	StatePomodoroBreak FocusState = "pomodoro_break"
)

// Active reports whether the state is any non-off session.
func (s FocusState) Active() bool { return s != StateOff && s != "" }

// Pomodoro reports whether the state is a pomodoro phase.
func (s FocusState) Pomodoro() bool {
	return s == StatePomodoroWork || s == StatePomodoroBreak
}

// ChatStatus is a snapshot of a chat-provider status.
type ChatStatus struct {
	Text  string `json:"text"`
	Emoji string `json:"emoji"`
}

// PomodoroContext holds the pomodoro-specific fields of a focus record.
type PomodoroContext struct {
	// SessionCount is the 1-indexed count of work phases started this session.
	SessionCount int

	// TotalSessions caps the session count; 0 means no cap. When the
	// TotalSessions-th work phase completes the session ends instead of
	// transitioning to break.
	TotalSessions int

	// WorkMinutes and BreakMinutes override the user defaults for this session.
	WorkMinutes  int
	BreakMinutes int
}

// FocusRecord is the per-user focus mode row. Created lazily on first
// operation; mutated only by the focus state machine.
type FocusRecord struct {
	UserID string
	State  FocusState

	// StartedAt and EndsAt are wall-clock timestamps; EndsAt is the phase
	// end, not the session end. Both nil when State is off; EndsAt nil for
	// an unbounded simple session.
	StartedAt *time.Time
	EndsAt    *time.Time

	// CustomMessage is optional auto-reply text for this session.
	CustomMessage string

	// SavedStatus snapshots the user's chat status at session entry and is
	// restored on exit. Nil means "clear on exit".
	SavedStatus *ChatStatus

	Pomodoro PomodoroContext
}

// FocusSettings holds per-user focus defaults, lazily created.
type FocusSettings struct {
	UserID string `json:"user_id"`

	DefaultMessage string `json:"default_message"`
	WorkMinutes    int    `json:"work_minutes"`
	BreakMinutes   int    `json:"break_minutes"`

	// Status overrides applied on entry to each session kind.
	SimpleStatus ChatStatus `json:"simple_status"`
	WorkStatus   ChatStatus `json:"work_status"`
	BreakStatus  ChatStatus `json:"break_status"`

	// BypassConfig is an opaque blob governing how bypass notifications
	// reach the user. Nil when unset.
	BypassConfig []byte `json:"bypass_config,omitempty"`
}

// DefaultFocusSettings returns the settings used when a user has none stored.
func DefaultFocusSettings(userID string) *FocusSettings {
	return &FocusSettings{
		UserID:       userID,
		WorkMinutes:  25,
		BreakMinutes: 5,
		SimpleStatus: ChatStatus{Text: "Focusing", Emoji: ":no_bell:"},
		WorkStatus:   ChatStatus{Text: "Pomodoro: work", Emoji: ":tomato:"},
		BreakStatus:  ChatStatus{Text: "Pomodoro: break", Emoji: ":coffee:"},
	}
}

// Token types for OAuthToken.TokenType.
const (
	TokenTypeOAuth = "oauth"
	TokenTypePAT   = "pat"
)

// EncryptedSentinel populates the legacy plaintext token columns. The
// columns are non-null in the original schema; nothing should read them
// for rows that carry an EncryptionKeyID.
const EncryptedSentinel = "encrypted"

// OAuthToken is a stored third-party credential, unique per
// (user, provider, account label).
type OAuthToken struct {
	UserID       string
	Provider     string // "slack" or "github"
	AccountLabel string

	ExternalAccountID string
	TokenType         string // TokenTypeOAuth or TokenTypePAT
	Scope             string
	ExpiresAt         *time.Time

	// Legacy plaintext columns. Rows written by the vault hold
	// EncryptedSentinel here; rows predating encryption hold the real token.
	AccessToken  string
	RefreshToken string

	EncryptedAccessToken  string
	EncryptedRefreshToken string
	EncryptionKeyID       string

	// AppConfigID, when set, selects per-user OAuth app credentials for
	// refresh instead of the global app.
	AppConfigID string
}

// EncryptionKey is a persisted DEK record. Create-only; rotation adds a new
// row and deactivates the old one.
type EncryptionKey struct {
	ID           string
	KeyName      string // e.g. "oauth_tokens_dek_v1"
	EncryptedDEK []byte // DEK ciphertext under the KEK
	KEKProvider  string // "local", "gcp_kms", "aws_kms"
	IsActive     bool
	CreatedAt    time.Time
}

// WebhookSubscription declares that certain event types should be POSTed to
// a user-configured URL.
type WebhookSubscription struct {
	ID         string   `json:"id"`
	UserID     string   `json:"user_id"`
	URL        string   `json:"url"`
	Enabled    bool     `json:"enabled"`
	EventTypes []string `json:"event_types"`
}

// Wants reports whether the subscription covers the given event type.
func (w *WebhookSubscription) Wants(eventType string) bool {
	for _, t := range w.EventTypes {
		if t == eventType {
			return true
		}
	}
	return false
}

// DeferredJob is the scheduler's persistent unit: fire Function(Argument)
// after FireAt, at least once.
type DeferredJob struct {
	ID       string
	FireAt   time.Time
	Function string
	Argument string
}
