// Package api exposes the focus control plane over HTTP: focus operations,
// the SSE event stream, webhook subscription management, token management,
// and the OAuth connect flows.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"skipper/assistant/internal/focus"
	"skipper/assistant/internal/notify"
	"skipper/assistant/internal/oauthflow"
	"skipper/assistant/internal/store"
	"skipper/assistant/internal/vault"
)

// userHeader names the authenticated user. Authentication itself happens in
// front of this service; an empty header is rejected.
const userHeader = "X-Assistant-User"

// Server holds the handler dependencies.
type Server struct {
	focus    *focus.Service
	notifier *notify.Notifier
	vault    *vault.Vault
	flow     *oauthflow.Flow
	store    store.Store
	logger   *slog.Logger
	version  string
}

// ServerConfig holds the dependencies to build a Server.
type ServerConfig struct {
	Focus    *focus.Service
	Notifier *notify.Notifier
	Vault    *vault.Vault
	Flow     *oauthflow.Flow
	Store    store.Store
	Logger   *slog.Logger
	Version  string
}

// NewServer creates a Server.
func NewServer(cfg ServerConfig) *Server {
	return &Server{
		focus:    cfg.Focus,
		notifier: cfg.Notifier,
		vault:    cfg.Vault,
		flow:     cfg.Flow,
		store:    cfg.Store,
		logger:   cfg.Logger,
		version:  cfg.Version,
	}
}

// RegisterRoutes attaches all handlers to the mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", s.handleHealthz)

	mux.HandleFunc("POST /v1/focus/enable", s.withUser(s.handleEnable))
	mux.HandleFunc("POST /v1/focus/disable", s.withUser(s.handleDisable))
	mux.HandleFunc("GET /v1/focus/status", s.withUser(s.handleStatus))
	mux.HandleFunc("POST /v1/focus/pomodoro/start", s.withUser(s.handlePomodoroStart))
	mux.HandleFunc("POST /v1/focus/pomodoro/skip", s.withUser(s.handlePomodoroSkip))
	mux.HandleFunc("GET /v1/focus/settings", s.withUser(s.handleSettingsGet))
	mux.HandleFunc("PUT /v1/focus/settings", s.withUser(s.handleSettingsPut))
	mux.Handle("GET /v1/focus/events", s.notifier.StreamHandler(userFrom))

	mux.HandleFunc("GET /v1/webhooks", s.withUser(s.handleWebhookList))
	mux.HandleFunc("POST /v1/webhooks", s.withUser(s.handleWebhookCreate))
	mux.HandleFunc("DELETE /v1/webhooks/{id}", s.withUser(s.handleWebhookDelete))

	mux.HandleFunc("GET /v1/tokens", s.withUser(s.handleTokenList))
	mux.HandleFunc("POST /v1/tokens", s.withUser(s.handleTokenStore))
	mux.HandleFunc("DELETE /v1/tokens/{provider}/{label}", s.withUser(s.handleTokenRevoke))

	mux.HandleFunc("GET /oauth/github/connect", s.withUser(s.handleGitHubConnect))
	mux.HandleFunc("GET /oauth/github/callback", s.handleGitHubCallback)
	mux.HandleFunc("GET /oauth/slack/connect", s.withUser(s.handleSlackConnect))
	mux.HandleFunc("GET /oauth/slack/callback", s.handleSlackCallback)
}

func userFrom(r *http.Request) (string, error) {
	userID := r.Header.Get(userHeader)
	if userID == "" {
		return "", errors.New("missing user header")
	}
	return userID, nil
}

// withUser resolves the user header and rejects anonymous requests.
func (s *Server) withUser(next func(http.ResponseWriter, *http.Request, string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := userFrom(r)
		if err != nil {
			s.writeError(w, http.StatusUnauthorized, "missing "+userHeader+" header")
			return
		}
		next(w, r, userID)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status":"ok","version":"%s"}`, s.version)
}

func (s *Server) handleEnable(w http.ResponseWriter, r *http.Request, userID string) {
	var req struct {
		DurationMinutes *int   `json:"duration_minutes"`
		Message         string `json:"message"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	sess, err := s.focus.Enable(r.Context(), userID, req.DurationMinutes, req.Message)
	if err != nil {
		s.writeFocusError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleDisable(w http.ResponseWriter, r *http.Request, userID string) {
	sess, err := s.focus.Disable(r.Context(), userID)
	if err != nil {
		s.writeFocusError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request, userID string) {
	sess, err := s.focus.Status(r.Context(), userID)
	if err != nil {
		s.writeFocusError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handlePomodoroStart(w http.ResponseWriter, r *http.Request, userID string) {
	var req struct {
		WorkMinutes   int    `json:"work_minutes"`
		BreakMinutes  int    `json:"break_minutes"`
		TotalSessions int    `json:"total_sessions"`
		Message       string `json:"message"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	sess, err := s.focus.StartPomodoro(r.Context(), userID, focus.PomodoroOptions{
		WorkMinutes:   req.WorkMinutes,
		BreakMinutes:  req.BreakMinutes,
		TotalSessions: req.TotalSessions,
		Message:       req.Message,
	})
	if err != nil {
		s.writeFocusError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handlePomodoroSkip(w http.ResponseWriter, r *http.Request, userID string) {
	sess, err := s.focus.SkipPhase(r.Context(), userID)
	if err != nil {
		s.writeFocusError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleSettingsGet(w http.ResponseWriter, r *http.Request, userID string) {
	settings, err := s.focus.Settings(r.Context(), userID)
	if err != nil {
		s.writeFocusError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, settings)
}

func (s *Server) handleSettingsPut(w http.ResponseWriter, r *http.Request, userID string) {
	var settings store.FocusSettings
	if !s.decode(w, r, &settings) {
		return
	}
	settings.UserID = userID
	if err := s.focus.UpdateSettings(r.Context(), &settings); err != nil {
		s.writeFocusError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, settings)
}

func (s *Server) handleWebhookList(w http.ResponseWriter, r *http.Request, userID string) {
	subs, err := s.store.WebhookSubscriptions(r.Context(), userID)
	if err != nil {
		s.writeFocusError(w, err)
		return
	}
	if subs == nil {
		subs = []*store.WebhookSubscription{}
	}
	s.writeJSON(w, http.StatusOK, subs)
}

func (s *Server) handleWebhookCreate(w http.ResponseWriter, r *http.Request, userID string) {
	var req struct {
		URL        string   `json:"url"`
		EventTypes []string `json:"event_types"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if req.URL == "" || len(req.EventTypes) == 0 {
		s.writeError(w, http.StatusBadRequest, "url and event_types are required")
		return
	}
	sub := &store.WebhookSubscription{
		ID:         uuid.NewString(),
		UserID:     userID,
		URL:        req.URL,
		Enabled:    true,
		EventTypes: req.EventTypes,
	}
	if err := s.store.PutWebhookSubscription(r.Context(), sub); err != nil {
		s.writeFocusError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, sub)
}

func (s *Server) handleWebhookDelete(w http.ResponseWriter, r *http.Request, userID string) {
	if err := s.store.DeleteWebhookSubscription(r.Context(), userID, r.PathValue("id")); err != nil {
		s.writeFocusError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// tokenView hides the encrypted columns from API responses.
type tokenView struct {
	Provider     string `json:"provider"`
	AccountLabel string `json:"account_label"`
	TokenType    string `json:"token_type"`
	Scope        string `json:"scope,omitempty"`
	ExpiresAt    any    `json:"expires_at,omitempty"`
}

func (s *Server) handleTokenList(w http.ResponseWriter, r *http.Request, userID string) {
	tokens, err := s.store.OAuthTokensByUser(r.Context(), userID)
	if err != nil {
		s.writeFocusError(w, err)
		return
	}
	views := make([]tokenView, 0, len(tokens))
	for _, tok := range tokens {
		v := tokenView{
			Provider:     tok.Provider,
			AccountLabel: tok.AccountLabel,
			TokenType:    tok.TokenType,
			Scope:        tok.Scope,
		}
		if tok.ExpiresAt != nil {
			v.ExpiresAt = tok.ExpiresAt
		}
		views = append(views, v)
	}
	s.writeJSON(w, http.StatusOK, views)
}

// handleTokenStore accepts a personal-access token the user pasted in.
// OAuth tokens only arrive through the callback flows.
func (s *Server) handleTokenStore(w http.ResponseWriter, r *http.Request, userID string) {
	var req struct {
		Provider     string `json:"provider"`
		AccountLabel string `json:"account_label"`
		AccessToken  string `json:"access_token"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if req.Provider != "github" {
		s.writeError(w, http.StatusBadRequest, "only github personal access tokens can be stored directly")
		return
	}
	if req.AccountLabel == "" {
		req.AccountLabel = "default"
	}
	tok, err := s.vault.Store(r.Context(), vault.StoreRequest{
		UserID:       userID,
		Provider:     req.Provider,
		AccountLabel: req.AccountLabel,
		AccessToken:  req.AccessToken,
		TokenType:    store.TokenTypePAT,
	})
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, http.StatusCreated, tokenView{
		Provider:     tok.Provider,
		AccountLabel: tok.AccountLabel,
		TokenType:    tok.TokenType,
		Scope:        tok.Scope,
	})
}

func (s *Server) handleTokenRevoke(w http.ResponseWriter, r *http.Request, userID string) {
	err := s.vault.Revoke(r.Context(), userID, r.PathValue("provider"), r.PathValue("label"))
	if err != nil {
		s.writeFocusError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGitHubConnect(w http.ResponseWriter, r *http.Request, userID string) {
	authURL, err := s.flow.GitHubAuthorizeURL(r.Context(), userID, r.URL.Query().Get("label"))
	if err != nil {
		s.writeFocusError(w, err)
		return
	}
	http.Redirect(w, r, authURL, http.StatusFound)
}

func (s *Server) handleGitHubCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if _, err := s.flow.HandleGitHubCallback(r.Context(), q.Get("code"), q.Get("state")); err != nil {
		s.writeCallbackError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "connected", "provider": "github"})
}

func (s *Server) handleSlackConnect(w http.ResponseWriter, r *http.Request, userID string) {
	authURL, err := s.flow.SlackAuthorizeURL(r.Context(), userID, r.URL.Query().Get("label"))
	if err != nil {
		s.writeFocusError(w, err)
		return
	}
	http.Redirect(w, r, authURL, http.StatusFound)
}

func (s *Server) handleSlackCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if _, err := s.flow.HandleSlackCallback(r.Context(), q.Get("code"), q.Get("state")); err != nil {
		s.writeCallbackError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "connected", "provider": "slack"})
}

func (s *Server) writeCallbackError(w http.ResponseWriter, err error) {
	if errors.Is(err, oauthflow.ErrBadState) {
		s.writeError(w, http.StatusBadRequest, "invalid or expired authorization state")
		return
	}
	s.logger.Error("oauth callback failed", "error", err)
	s.writeError(w, http.StatusBadGateway, "provider exchange failed")
}

// writeFocusError maps domain error kinds to HTTP statuses.
func (s *Server) writeFocusError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, focus.ErrValidation):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, focus.ErrNoSession):
		s.writeError(w, http.StatusConflict, "no active focus session")
	case errors.Is(err, focus.ErrSessionActive):
		s.writeError(w, http.StatusConflict, "a focus session is already active")
	case errors.Is(err, store.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "not found")
	default:
		s.logger.Error("request failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed JSON body")
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
