package focus

import (
	"context"
	"errors"
	"time"

	"skipper/assistant/internal/notify"
	"skipper/assistant/internal/store"
)

// transitionSkew absorbs scheduler poll drift when deciding whether a fired
// job still matches the committed phase end.
const transitionSkew = 2 * time.Second

// OnExpire is the focus_expire worker. It ends a simple session whose end
// time has passed. A job firing against an off record or a newer session
// self-cancels; at-least-once job delivery makes that path routine.
func (s *Service) OnExpire(ctx context.Context, userID string) error {
	defer s.lockUser(userID)()
	rec, err := s.store.FocusRecord(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if rec.State != store.StateSimpleActive {
		return nil
	}
	if rec.EndsAt == nil || rec.EndsAt.After(s.now().Add(transitionSkew)) {
		// A newer session superseded the one this job was scheduled for.
		return nil
	}
	_, err = s.turnOff(ctx, rec, notify.EventFocusEnded, "expired")
	return err
}

// OnTransition is the pomodoro_transition worker. It advances the phase when
// the committed end time has actually arrived; stale jobs no-op.
func (s *Service) OnTransition(ctx context.Context, userID string) error {
	defer s.lockUser(userID)()
	rec, err := s.store.FocusRecord(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if !rec.State.Pomodoro() {
		return nil
	}
	if rec.EndsAt != nil && rec.EndsAt.After(s.now().Add(transitionSkew)) {
		return nil
	}
	_, err = s.advancePhase(ctx, rec)
	return err
}
