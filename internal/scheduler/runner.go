package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"skipper/assistant/internal/store"
)

const (
	maxConcurrentJobs = 10
	jobDeadline       = 5 * time.Minute
)

// WorkerFunc executes one claimed job. The argument is the job row's opaque
// argument string (for focus workers, the user ID).
type WorkerFunc func(ctx context.Context, arg string) error

// Runner polls the job table and executes due jobs. Claiming deletes the row
// before running, so a crash between claim and completion loses the firing
// rather than doubling it; the quarter-hour sweep catches the fallout.
type Runner struct {
	store        store.Store
	logger       *slog.Logger
	pollInterval time.Duration
	workers      map[string]WorkerFunc
	sem          chan struct{}
	wg           sync.WaitGroup

	now func() time.Time
}

// NewRunner creates a Runner polling at the given interval.
func NewRunner(s store.Store, pollInterval time.Duration, logger *slog.Logger) *Runner {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &Runner{
		store:        s,
		logger:       logger,
		pollInterval: pollInterval,
		workers:      make(map[string]WorkerFunc),
		sem:          make(chan struct{}, maxConcurrentJobs),
		now:          time.Now,
	}
}

// Register binds a worker function name to its implementation. Must be called
// before Run; jobs naming an unregistered function are dropped with an error
// log.
func (r *Runner) Register(name string, fn WorkerFunc) {
	r.workers[name] = fn
}

// Run polls until ctx is canceled, then waits for in-flight jobs to finish.
func (r *Runner) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	r.logger.Info("scheduler runner started", "poll_interval", r.pollInterval)
	for {
		select {
		case <-ctx.Done():
			r.wg.Wait()
			return ctx.Err()
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}

// RunOnce claims and dispatches every currently-due job. Exported for tests
// and for the embedded-scheduler mode.
func (r *Runner) RunOnce(ctx context.Context) {
	jobs, err := r.store.DueJobs(ctx, r.now())
	if err != nil {
		r.logger.Error("poll due jobs", "error", err)
		return
	}
	for _, job := range jobs {
		claimed, err := r.store.DeleteJob(ctx, job.ID)
		if err != nil {
			r.logger.Error("claim job", "job_id", job.ID, "error", err)
			continue
		}
		if !claimed {
			// Someone else (a cancel, or another poller) got there first.
			continue
		}
		r.dispatch(ctx, job)
	}
}

func (r *Runner) dispatch(ctx context.Context, job *store.DeferredJob) {
	fn, ok := r.workers[job.Function]
	if !ok {
		r.logger.Error("no worker registered for job", "job_id", job.ID, "function", job.Function)
		return
	}

	r.sem <- struct{}{}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() { <-r.sem }()

		jobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), jobDeadline)
		defer cancel()

		start := time.Now()
		if err := fn(jobCtx, job.Argument); err != nil {
			r.logger.Error("job failed", "job_id", job.ID, "function", job.Function,
				"argument", job.Argument, "elapsed", time.Since(start), "error", err)
			return
		}
		r.logger.Debug("job completed", "job_id", job.ID, "function", job.Function,
			"elapsed", time.Since(start))
	}()
}

// Wait blocks until all in-flight jobs finish. Tests only; Run waits itself.
func (r *Runner) Wait() {
	r.wg.Wait()
}
