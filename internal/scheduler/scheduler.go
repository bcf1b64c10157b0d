// Package scheduler persists deferred jobs and runs them at least once after
// their fire time. One replica polls; claiming is delete-then-run so a row
// fires at most once even if a future deployment adds a second poller.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"skipper/assistant/internal/store"
)

// Worker function names. A job row names the worker to run by one of these.
const (
	FuncFocusExpire        = "focus_expire"
	FuncPomodoroTransition = "pomodoro_transition"
)

// pomodoroSidecarTTL bounds how long a stale pomodoro job pointer can linger;
// no session outlives a day.
const pomodoroSidecarTTL = 24 * time.Hour

func pomodoroSidecarKey(userID string) string {
	return "pomodoro_job:" + userID
}

// Client enqueues and cancels deferred jobs.
type Client struct {
	store store.Store
}

// NewClient creates a scheduler client over the given store.
func NewClient(s store.Store) *Client {
	return &Client{store: s}
}

// Schedule inserts a job firing at fireAt. A fireAt in the past makes the job
// due on the next poll. Duplicate job IDs are an error.
func (c *Client) Schedule(ctx context.Context, jobID string, fireAt time.Time, fn, arg string) error {
	err := c.store.CreateJob(ctx, &store.DeferredJob{
		ID:       jobID,
		FireAt:   fireAt,
		Function: fn,
		Argument: arg,
	})
	if errors.Is(err, store.ErrConflict) {
		return fmt.Errorf("job %s already scheduled: %w", jobID, err)
	}
	return err
}

// Cancel removes a pending job, reporting whether it existed. A job already
// claimed by the runner is gone from the table and reports false.
func (c *Client) Cancel(ctx context.Context, jobID string) (bool, error) {
	return c.store.DeleteJob(ctx, jobID)
}

// ScheduleFocusExpire enqueues a focus-expiry job for the user. No sidecar
// pointer is kept; the expire worker re-checks the record before acting, so a
// job left behind by a superseded session is harmless.
func (c *Client) ScheduleFocusExpire(ctx context.Context, userID string, fireAt time.Time) (string, error) {
	jobID := fmt.Sprintf("focus_expire_%s_%s", userID, uuid.NewString())
	if err := c.Schedule(ctx, jobID, fireAt, FuncFocusExpire, userID); err != nil {
		return "", err
	}
	return jobID, nil
}

// SchedulePomodoroTransition enqueues a phase-transition job and records its
// ID in the user's sidecar pointer so SkipPhase and Disable can cancel it.
func (c *Client) SchedulePomodoroTransition(ctx context.Context, userID string, fireAt time.Time) (string, error) {
	jobID := fmt.Sprintf("pomodoro_transition_%s_%s", userID, uuid.NewString())
	if err := c.Schedule(ctx, jobID, fireAt, FuncPomodoroTransition, userID); err != nil {
		return "", err
	}
	if err := c.store.Set(ctx, pomodoroSidecarKey(userID), jobID, pomodoroSidecarTTL); err != nil {
		return "", fmt.Errorf("record pomodoro job pointer: %w", err)
	}
	return jobID, nil
}

// CancelPomodoro cancels the user's pending transition job, if any, and
// clears the sidecar pointer. Reports whether a job was actually removed.
func (c *Client) CancelPomodoro(ctx context.Context, userID string) (bool, error) {
	jobID, err := c.store.GetDel(ctx, pomodoroSidecarKey(userID))
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return c.store.DeleteJob(ctx, jobID)
}
