// Package focus implements the per-user focus mode state machine.
//
// Every operation follows the same shape: read the record, validate, mutate,
// commit, then run side effects (chat status, DND, events, timer jobs).
// Side-effect failures are logged and never abort; the committed record is
// the source of truth and timers or the sweep converge the rest.
package focus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"skipper/assistant/internal/chat"
	"skipper/assistant/internal/notify"
	"skipper/assistant/internal/store"
	"skipper/assistant/internal/vault"
)

// Validation bounds, in minutes.
const (
	maxSimpleMinutes = 480
	maxWorkMinutes   = 120
	maxBreakMinutes  = 60
	maxTotalSessions = 12

	// defaultDNDMinutes caps notifications for an unbounded simple session.
	defaultDNDMinutes = 480
)

var (
	// ErrValidation wraps bad input; the message names the offending field.
	ErrValidation = errors.New("invalid input")

	// ErrNoSession means the operation needs an active session and there is none.
	ErrNoSession = errors.New("no active focus session")

	// ErrSessionActive means a session is already running; disable it first.
	ErrSessionActive = errors.New("a focus session is already active")
)

// Jobs is the scheduler surface the state machine drives.
type Jobs interface {
	ScheduleFocusExpire(ctx context.Context, userID string, fireAt time.Time) (string, error)
	SchedulePomodoroTransition(ctx context.Context, userID string, fireAt time.Time) (string, error)
	CancelPomodoro(ctx context.Context, userID string) (bool, error)
}

// Publisher delivers focus lifecycle events.
type Publisher interface {
	Publish(ctx context.Context, userID, eventType string, data map[string]any) []notify.DeliveryResult
}

// Service is the focus mode state machine.
type Service struct {
	store    store.Store
	jobs     Jobs
	provider chat.Provider
	events   Publisher
	logger   *slog.Logger

	now func() time.Time

	mu    sync.Mutex
	users map[string]*sync.Mutex
}

// Config holds the dependencies to build a Service.
type Config struct {
	Store    store.Store
	Jobs     Jobs
	Provider chat.Provider
	Events   Publisher
	Logger   *slog.Logger
}

// New creates a Service.
func New(cfg Config) *Service {
	return &Service{
		store:    cfg.Store,
		jobs:     cfg.Jobs,
		provider: cfg.Provider,
		events:   cfg.Events,
		logger:   cfg.Logger,
		now:      time.Now,
		users:    make(map[string]*sync.Mutex),
	}
}

// lockUser serializes transitions per user: without it two racing operations
// could both read the same state and both commit.
func (s *Service) lockUser(userID string) func() {
	s.mu.Lock()
	l := s.users[userID]
	if l == nil {
		l = &sync.Mutex{}
		s.users[userID] = l
	}
	s.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// Session is the read model returned by operations.
type Session struct {
	State     store.FocusState `json:"state"`
	StartedAt *time.Time       `json:"started_at,omitempty"`
	EndsAt    *time.Time       `json:"ends_at,omitempty"`
	Message   string           `json:"message,omitempty"`
	Pomodoro  *PomodoroStatus  `json:"pomodoro,omitempty"`
}

// PomodoroStatus is the pomodoro slice of a Session.
type PomodoroStatus struct {
	SessionCount  int `json:"session_count"`
	TotalSessions int `json:"total_sessions,omitempty"`
	WorkMinutes   int `json:"work_minutes"`
	BreakMinutes  int `json:"break_minutes"`
}

func sessionFrom(rec *store.FocusRecord) *Session {
	s := &Session{
		State:     rec.State,
		StartedAt: rec.StartedAt,
		EndsAt:    rec.EndsAt,
		Message:   rec.CustomMessage,
	}
	if s.State == "" {
		s.State = store.StateOff
	}
	if rec.State.Pomodoro() {
		s.Pomodoro = &PomodoroStatus{
			SessionCount:  rec.Pomodoro.SessionCount,
			TotalSessions: rec.Pomodoro.TotalSessions,
			WorkMinutes:   rec.Pomodoro.WorkMinutes,
			BreakMinutes:  rec.Pomodoro.BreakMinutes,
		}
	}
	return s
}

// record loads the user's focus record, synthesizing an off record when none
// exists yet.
func (s *Service) record(ctx context.Context, userID string) (*store.FocusRecord, error) {
	rec, err := s.store.FocusRecord(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return &store.FocusRecord{UserID: userID, State: store.StateOff}, nil
	}
	return rec, err
}

func (s *Service) settings(ctx context.Context, userID string) (*store.FocusSettings, error) {
	st, err := s.store.FocusSettings(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return store.DefaultFocusSettings(userID), nil
	}
	return st, err
}

// Enable starts a simple focus session. A nil duration means the session
// runs until disabled.
func (s *Service) Enable(ctx context.Context, userID string, durationMinutes *int, message string) (*Session, error) {
	defer s.lockUser(userID)()
	rec, err := s.record(ctx, userID)
	if err != nil {
		return nil, err
	}
	if rec.State.Active() {
		return nil, ErrSessionActive
	}
	if durationMinutes != nil && (*durationMinutes < 1 || *durationMinutes > maxSimpleMinutes) {
		return nil, fmt.Errorf("%w: duration must be 1-%d minutes", ErrValidation, maxSimpleMinutes)
	}
	settings, err := s.settings(ctx, userID)
	if err != nil {
		return nil, err
	}
	if message == "" {
		message = settings.DefaultMessage
	}

	saved := s.snapshotStatus(ctx, userID)

	now := s.now()
	rec = &store.FocusRecord{
		UserID:        userID,
		State:         store.StateSimpleActive,
		StartedAt:     &now,
		CustomMessage: message,
		SavedStatus:   saved,
	}
	dndMinutes := defaultDNDMinutes
	if durationMinutes != nil {
		ends := now.Add(time.Duration(*durationMinutes) * time.Minute)
		rec.EndsAt = &ends
		dndMinutes = *durationMinutes
	}
	if err := s.store.PutFocusRecord(ctx, rec); err != nil {
		return nil, fmt.Errorf("commit focus record: %w", err)
	}

	s.applyStatus(ctx, userID, settings.SimpleStatus, rec.EndsAt)
	s.effect("set dnd", userID, s.provider.SetDND(ctx, userID, dndMinutes))
	data := map[string]any{"state": string(rec.State)}
	if durationMinutes != nil {
		data["duration_minutes"] = *durationMinutes
		data["ends_at"] = rec.EndsAt.UTC().Format(time.RFC3339)
	}
	s.events.Publish(ctx, userID, notify.EventFocusStarted, data)
	if rec.EndsAt != nil {
		if _, err := s.jobs.ScheduleFocusExpire(ctx, userID, *rec.EndsAt); err != nil {
			s.logger.Error("schedule focus expiry", "user", userID, "error", err)
		}
	}
	return sessionFrom(rec), nil
}

// PomodoroOptions configures StartPomodoro. Zero values fall back to the
// user's settings (work and break) or to no session cap (total).
type PomodoroOptions struct {
	WorkMinutes   int
	BreakMinutes  int
	TotalSessions int
	Message       string
}

// StartPomodoro begins a pomodoro session at work phase 1.
func (s *Service) StartPomodoro(ctx context.Context, userID string, opts PomodoroOptions) (*Session, error) {
	defer s.lockUser(userID)()
	rec, err := s.record(ctx, userID)
	if err != nil {
		return nil, err
	}
	if rec.State.Active() {
		return nil, ErrSessionActive
	}
	settings, err := s.settings(ctx, userID)
	if err != nil {
		return nil, err
	}
	if opts.WorkMinutes == 0 {
		opts.WorkMinutes = settings.WorkMinutes
	}
	if opts.BreakMinutes == 0 {
		opts.BreakMinutes = settings.BreakMinutes
	}
	if opts.WorkMinutes < 1 || opts.WorkMinutes > maxWorkMinutes {
		return nil, fmt.Errorf("%w: work duration must be 1-%d minutes", ErrValidation, maxWorkMinutes)
	}
	if opts.BreakMinutes < 1 || opts.BreakMinutes > maxBreakMinutes {
		return nil, fmt.Errorf("%w: break duration must be 1-%d minutes", ErrValidation, maxBreakMinutes)
	}
	if opts.TotalSessions < 0 || opts.TotalSessions > maxTotalSessions {
		return nil, fmt.Errorf("%w: total sessions must be 1-%d", ErrValidation, maxTotalSessions)
	}
	if opts.Message == "" {
		opts.Message = settings.DefaultMessage
	}

	saved := s.snapshotStatus(ctx, userID)

	now := s.now()
	ends := now.Add(time.Duration(opts.WorkMinutes) * time.Minute)
	rec = &store.FocusRecord{
		UserID:        userID,
		State:         store.StatePomodoroWork,
		StartedAt:     &now,
		EndsAt:        &ends,
		CustomMessage: opts.Message,
		SavedStatus:   saved,
		Pomodoro: store.PomodoroContext{
			SessionCount:  1,
			TotalSessions: opts.TotalSessions,
			WorkMinutes:   opts.WorkMinutes,
			BreakMinutes:  opts.BreakMinutes,
		},
	}
	if err := s.store.PutFocusRecord(ctx, rec); err != nil {
		return nil, fmt.Errorf("commit focus record: %w", err)
	}

	s.applyStatus(ctx, userID, settings.WorkStatus, rec.EndsAt)
	s.effect("set dnd", userID, s.provider.SetDND(ctx, userID, opts.WorkMinutes))
	s.events.Publish(ctx, userID, notify.EventWorkStarted, map[string]any{
		"session_count":  1,
		"total_sessions": opts.TotalSessions,
		"work_minutes":   opts.WorkMinutes,
		"ends_at":        ends.UTC().Format(time.RFC3339),
	})
	if _, err := s.jobs.SchedulePomodoroTransition(ctx, userID, ends); err != nil {
		s.logger.Error("schedule pomodoro transition", "user", userID, "error", err)
	}
	return sessionFrom(rec), nil
}

// SkipPhase ends the current pomodoro phase immediately and advances.
func (s *Service) SkipPhase(ctx context.Context, userID string) (*Session, error) {
	defer s.lockUser(userID)()
	rec, err := s.record(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !rec.State.Pomodoro() {
		return nil, ErrNoSession
	}
	// The pending timer job would double-fire the transition.
	if _, err := s.jobs.CancelPomodoro(ctx, userID); err != nil {
		return nil, fmt.Errorf("cancel pending transition: %w", err)
	}
	return s.advancePhase(ctx, rec)
}

// Disable ends the current session, whatever kind it is.
func (s *Service) Disable(ctx context.Context, userID string) (*Session, error) {
	defer s.lockUser(userID)()
	rec, err := s.record(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !rec.State.Active() {
		return nil, ErrNoSession
	}
	return s.turnOff(ctx, rec, notify.EventFocusEnded, "")
}

// Status returns the user's current session. Simple sessions past their end
// time are expired lazily here; pomodoro timestamps are advisory and left to
// the timer jobs and the sweep.
func (s *Service) Status(ctx context.Context, userID string) (*Session, error) {
	defer s.lockUser(userID)()
	rec, err := s.record(ctx, userID)
	if err != nil {
		return nil, err
	}
	if rec.State == store.StateSimpleActive && rec.EndsAt != nil && !rec.EndsAt.After(s.now()) {
		return s.turnOff(ctx, rec, notify.EventFocusEnded, "expired")
	}
	return sessionFrom(rec), nil
}

// Settings returns the user's focus defaults.
func (s *Service) Settings(ctx context.Context, userID string) (*store.FocusSettings, error) {
	return s.settings(ctx, userID)
}

// UpdateSettings validates and stores new focus defaults.
func (s *Service) UpdateSettings(ctx context.Context, settings *store.FocusSettings) error {
	if settings.WorkMinutes < 1 || settings.WorkMinutes > maxWorkMinutes {
		return fmt.Errorf("%w: work duration must be 1-%d minutes", ErrValidation, maxWorkMinutes)
	}
	if settings.BreakMinutes < 1 || settings.BreakMinutes > maxBreakMinutes {
		return fmt.Errorf("%w: break duration must be 1-%d minutes", ErrValidation, maxBreakMinutes)
	}
	return s.store.PutFocusSettings(ctx, settings)
}

// turnOff commits the off record, restores the user's chat state, and
// publishes eventType (with a reason when given).
func (s *Service) turnOff(ctx context.Context, rec *store.FocusRecord, eventType, reason string) (*Session, error) {
	userID := rec.UserID
	if rec.State.Pomodoro() {
		if _, err := s.jobs.CancelPomodoro(ctx, userID); err != nil {
			s.logger.Error("cancel pending transition", "user", userID, "error", err)
		}
	}
	saved := rec.SavedStatus

	off := &store.FocusRecord{UserID: userID, State: store.StateOff}
	if err := s.store.PutFocusRecord(ctx, off); err != nil {
		return nil, fmt.Errorf("commit focus record: %w", err)
	}

	if saved != nil {
		s.effect("restore status", userID, s.provider.SetProfile(ctx, userID, saved.Text, saved.Emoji, 0))
	} else {
		s.effect("clear status", userID, s.provider.SetProfile(ctx, userID, "", "", 0))
	}
	s.effect("end dnd", userID, s.provider.EndDND(ctx, userID))

	data := map[string]any{}
	if reason != "" {
		data["reason"] = reason
	}
	s.events.Publish(ctx, userID, eventType, data)
	return sessionFrom(off), nil
}

// advancePhase moves a pomodoro session to its next phase, ending it when
// the session cap is reached.
func (s *Service) advancePhase(ctx context.Context, rec *store.FocusRecord) (*Session, error) {
	userID := rec.UserID
	p := rec.Pomodoro

	// Cap check happens before the flip: completing the final work phase
	// ends the session.
	if rec.State == store.StatePomodoroWork && p.TotalSessions > 0 && p.SessionCount >= p.TotalSessions {
		return s.turnOff(ctx, rec, notify.EventPomodoroComplete, "")
	}

	settings, err := s.settings(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	var ends time.Time
	var eventType string
	var phaseStatus store.ChatStatus
	if rec.State == store.StatePomodoroWork {
		rec.State = store.StatePomodoroBreak
		ends = now.Add(time.Duration(p.BreakMinutes) * time.Minute)
		eventType = notify.EventBreakStarted
		phaseStatus = settings.BreakStatus
	} else {
		rec.State = store.StatePomodoroWork
		rec.Pomodoro.SessionCount++
		ends = now.Add(time.Duration(p.WorkMinutes) * time.Minute)
		eventType = notify.EventWorkStarted
		phaseStatus = settings.WorkStatus
	}
	rec.EndsAt = &ends
	if err := s.store.PutFocusRecord(ctx, rec); err != nil {
		return nil, fmt.Errorf("commit focus record: %w", err)
	}

	s.applyStatus(ctx, userID, phaseStatus, rec.EndsAt)
	if rec.State == store.StatePomodoroWork {
		s.effect("set dnd", userID, s.provider.SetDND(ctx, userID, p.WorkMinutes))
	}
	s.events.Publish(ctx, userID, eventType, map[string]any{
		"session_count":  rec.Pomodoro.SessionCount,
		"total_sessions": p.TotalSessions,
		"ends_at":        ends.UTC().Format(time.RFC3339),
	})
	if _, err := s.jobs.SchedulePomodoroTransition(ctx, userID, ends); err != nil {
		s.logger.Error("schedule pomodoro transition", "user", userID, "error", err)
	}
	return sessionFrom(rec), nil
}

// snapshotStatus reads the user's current chat status for restoration on
// exit. A failed read (including no connected workspace) snapshots nothing,
// which restores to a cleared status.
func (s *Service) snapshotStatus(ctx context.Context, userID string) *store.ChatStatus {
	saved, err := s.provider.Profile(ctx, userID)
	if err != nil {
		if !errors.Is(err, vault.ErrNoToken) {
			s.logger.Warn("snapshot chat status failed", "user", userID, "error", err)
		}
		return nil
	}
	if saved.Text == "" && saved.Emoji == "" {
		return nil
	}
	return saved
}

func (s *Service) applyStatus(ctx context.Context, userID string, status store.ChatStatus, endsAt *time.Time) {
	var expiration int64
	if endsAt != nil {
		expiration = endsAt.Unix()
	}
	s.effect("set status", userID, s.provider.SetProfile(ctx, userID, status.Text, status.Emoji, expiration))
}

// effect logs a failed best-effort side effect.
func (s *Service) effect(name, userID string, err error) {
	if err != nil {
		s.logger.Warn("side effect failed", "op", name, "user", userID, "error", err)
	}
}
