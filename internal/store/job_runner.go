package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// JobHandler executes a job's work. It receives the job's payload JSON and returns a result to
// store with the completed job, or an error to schedule a retry.
type JobHandler func(ctx context.Context, payload string) (string, error)

// JobRunner periodically claims due jobs and dispatches them to registered handlers. Claimed jobs
// run concurrently up to the runner's parallelism.
type JobRunner struct {
	repo           JobRepo
	handlers       map[string]JobHandler
	mu             sync.RWMutex
	pollInterval   time.Duration
	staleThreshold time.Duration
	claimLimit     int
	retryBase      time.Duration
}

// NewJobRunner creates a new JobRunner. parallel bounds how many jobs run at once.
func NewJobRunner(repo JobRepo, pollInterval time.Duration, parallel int) *JobRunner {
	if pollInterval <= 0 {
		pollInterval = 10 * time.Second
	}
	if parallel <= 0 {
		parallel = 1
	}
	return &JobRunner{
		repo:           repo,
		handlers:       make(map[string]JobHandler),
		pollInterval:   pollInterval,
		staleThreshold: 15 * time.Minute,
		claimLimit:     parallel,
		retryBase:      30 * time.Second,
	}
}

// SetRetryBase changes the delay before the first retry. Later retries double it.
func (r *JobRunner) SetRetryBase(d time.Duration) {
	r.retryBase = d
}

// RegisterHandler registers a handler for a given job kind.
func (r *JobRunner) RegisterHandler(kind string, handler JobHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[kind] = handler
	slog.Debug("JobRunner.RegisterHandler", "kind", kind)
}

// RecoverStaleJobs requeues jobs that were running when the process crashed.
// Should be called once at startup.
func (r *JobRunner) RecoverStaleJobs() error {
	n, err := r.repo.RequeueStaleRunningJobs(time.Now().Add(-r.staleThreshold))
	if err != nil {
		return err
	}
	if n > 0 {
		slog.Info("JobRunner.RecoverStaleJobs: requeued stale jobs", "count", n)
	}
	return nil
}

// Run starts the polling loop. It blocks until the context is cancelled.
func (r *JobRunner) Run(ctx context.Context) {
	slog.Info("JobRunner.Run: starting job runner", "pollInterval", r.pollInterval, "parallel", r.claimLimit)

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("JobRunner.Run: stopping")
			return
		case <-ticker.C:
			r.Poll(ctx)
		}
	}
}

// Poll claims the jobs due now, runs them and waits for them to finish. It returns the number of
// jobs claimed.
func (r *JobRunner) Poll(ctx context.Context) int {
	now := time.Now()
	jobs, err := r.repo.ClaimDueJobs(now, r.claimLimit)
	if err != nil {
		slog.Error("JobRunner.Poll: claim failed", "error", err)
		return 0
	}

	var g errgroup.Group
	for _, job := range jobs {
		g.Go(func() error {
			r.execute(ctx, job)
			return nil
		})
	}
	_ = g.Wait()
	return len(jobs)
}

func (r *JobRunner) execute(ctx context.Context, job Job) {
	r.mu.RLock()
	handler, ok := r.handlers[job.Kind]
	r.mu.RUnlock()

	if !ok {
		slog.Warn("JobRunner.execute: no handler for job kind", "kind", job.Kind, "id", job.ID)
		if _, err := r.repo.FailJob(job.ID, "no handler registered for kind: "+job.Kind, time.Now().Add(time.Minute)); err != nil {
			slog.Error("JobRunner.execute: fail job error", "id", job.ID, "error", err)
		}
		return
	}

	slog.Debug("JobRunner.execute: executing job", "id", job.ID, "kind", job.Kind, "attempt", job.Attempt)
	result, err := handler(ctx, job.PayloadJSON)
	if err != nil {
		// Exponential backoff: base, 2*base, 4*base, ...
		nextRun := time.Now().Add(r.retryBase * time.Duration(1<<job.Attempt))
		terminal, ferr := r.repo.FailJob(job.ID, err.Error(), nextRun)
		if ferr != nil {
			slog.Error("JobRunner.execute: fail job error", "id", job.ID, "error", ferr)
			return
		}
		if terminal {
			slog.Error("JobRunner.execute: job failed permanently", "id", job.ID, "kind", job.Kind, "attempts", job.Attempt+1, "error", err)
		} else {
			slog.Warn("JobRunner.execute: job failed, retry scheduled", "id", job.ID, "kind", job.Kind, "nextRun", nextRun, "error", err)
		}
		return
	}
	if err := r.repo.CompleteJob(job.ID, result); err != nil {
		slog.Error("JobRunner.execute: complete job error", "id", job.ID, "error", err)
		return
	}
	slog.Debug("JobRunner.execute: job completed", "id", job.ID, "kind", job.Kind, "result", result)
}
