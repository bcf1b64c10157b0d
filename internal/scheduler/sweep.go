package scheduler

import (
	"context"
	"log/slog"
	"time"

	"skipper/assistant/internal/store"
)

// Sweeper is the backup path for focus sessions whose timer job was lost
// (scheduler downtime, crash between claim and run). It scans for active
// records past their end time and drives the same workers the timer jobs
// would have.
type Sweeper struct {
	store      store.Store
	expire     WorkerFunc // simple sessions past ends_at
	transition WorkerFunc // pomodoro phases past ends_at
	logger     *slog.Logger

	now func() time.Time
}

// NewSweeper creates a Sweeper. expire handles overdue simple sessions,
// transition handles overdue pomodoro phases.
func NewSweeper(s store.Store, expire, transition WorkerFunc, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		store:      s,
		expire:     expire,
		transition: transition,
		logger:     logger,
		now:        time.Now,
	}
}

// Sweep processes every overdue active focus record once, inline. Worker
// errors are logged and do not stop the scan.
func (s *Sweeper) Sweep(ctx context.Context) error {
	records, err := s.store.ExpiredFocusRecords(ctx, s.now())
	if err != nil {
		return err
	}
	for _, rec := range records {
		fn := s.expire
		if rec.State.Pomodoro() {
			fn = s.transition
		}
		if err := fn(ctx, rec.UserID); err != nil {
			s.logger.Error("sweep worker failed", "user", rec.UserID, "state", rec.State, "error", err)
		}
	}
	if len(records) > 0 {
		s.logger.Info("sweep processed overdue sessions", "count", len(records))
	}
	return nil
}

// Run sweeps at every quarter hour (:00, :15, :30, :45) until ctx is
// canceled.
func (s *Sweeper) Run(ctx context.Context) error {
	for {
		wait := nextQuarter(s.now()).Sub(s.now())
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		if err := s.Sweep(ctx); err != nil {
			s.logger.Error("sweep failed", "error", err)
		}
	}
}

// nextQuarter returns the first quarter-hour boundary strictly after t.
func nextQuarter(t time.Time) time.Time {
	aligned := t.Truncate(15 * time.Minute)
	if !aligned.After(t) {
		aligned = aligned.Add(15 * time.Minute)
	}
	return aligned
}
