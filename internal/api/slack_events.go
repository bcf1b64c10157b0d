package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"skipper/assistant/internal/chat"
	"skipper/assistant/internal/oauthflow"
)

// SlackEventsHandler receives Slack Events API deliveries: it verifies the
// request signature, answers URL verification challenges, and drops
// duplicate deliveries before acknowledging. Slack retries anything not
// acked within 3 seconds, so the handler does no slow work inline.
type SlackEventsHandler struct {
	verifier *oauthflow.SignatureVerifier
	dedup    *chat.Dedup
	logger   *slog.Logger
}

// NewSlackEventsHandler creates the handler.
func NewSlackEventsHandler(verifier *oauthflow.SignatureVerifier, dedup *chat.Dedup, logger *slog.Logger) *SlackEventsHandler {
	return &SlackEventsHandler{verifier: verifier, dedup: dedup, logger: logger}
}

type slackEventEnvelope struct {
	Type      string `json:"type"`
	Challenge string `json:"challenge"`
	EventID   string `json:"event_id"`
	Event     struct {
		Type string `json:"type"`
		User string `json:"user"`
	} `json:"event"`
}

func (h *SlackEventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}
	if !h.verifier.Verify(r, body) {
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	var env slackEventEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		http.Error(w, "malformed event", http.StatusBadRequest)
		return
	}

	if env.Type == "url_verification" {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"challenge": env.Challenge})
		return
	}

	if env.EventID != "" {
		seen, err := h.dedup.Seen(r.Context(), env.EventID)
		if err != nil {
			h.logger.Error("event dedup check failed", "event_id", env.EventID, "error", err)
		} else if seen {
			h.logger.Debug("dropping duplicate slack event", "event_id", env.EventID)
			w.WriteHeader(http.StatusOK)
			return
		}
	}

	h.logger.Debug("slack event received",
		"event_id", env.EventID, "type", env.Event.Type, "slack_user", env.Event.User)
	w.WriteHeader(http.StatusOK)
}
