// Package worker runs background jobs on a fixed interval.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/brokkr/internal/jobs"
	"github.com/dukerupert/brokkr/internal/telemetry"
)

// Config holds worker configuration
type Config struct {
	// WorkerID identifies this instance in logs.
	WorkerID string

	// PollInterval is how often every job is run.
	PollInterval time.Duration

	// MaxConcurrency caps jobs running at once. A tick that finds the
	// worker saturated skips the job until the next tick.
	MaxConcurrency int
}

// Worker runs a fixed set of jobs until its context is cancelled.
type Worker struct {
	config Config
	jobs   []jobs.Job
	logger *slog.Logger

	wg sync.WaitGroup
}

// NewWorker creates a new background job worker
func NewWorker(config Config, logger *slog.Logger, js ...jobs.Job) *Worker {
	if config.WorkerID == "" {
		config.WorkerID = fmt.Sprintf("worker-%s", uuid.New().String()[:8])
	}
	if config.PollInterval == 0 {
		config.PollInterval = time.Hour
	}
	if config.MaxConcurrency == 0 {
		config.MaxConcurrency = 2
	}

	return &Worker{
		config: config,
		jobs:   js,
		logger: logger.With("worker_id", config.WorkerID),
	}
}

// Start runs every job once, then again on each tick. It returns after
// ctx is cancelled and in-flight jobs have finished.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("worker starting",
		"poll_interval", w.config.PollInterval,
		"max_concurrency", w.config.MaxConcurrency,
		"jobs", len(w.jobs),
	)

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	sem := make(chan struct{}, w.config.MaxConcurrency)
	w.dispatch(ctx, sem)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("worker shutting down")
			w.wg.Wait()
			return ctx.Err()

		case <-ticker.C:
			w.dispatch(ctx, sem)
		}
	}
}

func (w *Worker) dispatch(ctx context.Context, sem chan struct{}) {
	for _, job := range w.jobs {
		select {
		case sem <- struct{}{}:
			w.wg.Add(1)
			go func() {
				defer w.wg.Done()
				defer func() { <-sem }()
				_ = w.process(ctx, job)
			}()
		default:
			w.logger.Debug("worker saturated, skipping job", "job_type", job.Type)
		}
	}
}

// RunOnce runs every job sequentially and returns the first failure.
func (w *Worker) RunOnce(ctx context.Context) error {
	for _, job := range w.jobs {
		if err := w.process(ctx, job); err != nil {
			return err
		}
	}
	return nil
}

// process runs a single job, recovering from panics so one bad job
// cannot take the server down.
func (w *Worker) process(ctx context.Context, job jobs.Job) (err error) {
	jobCtx := ctx
	if job.Timeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, job.Timeout)
		defer cancel()
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", job.Type, r)
		}

		result := "completed"
		if err != nil {
			result = "failed"
			w.logger.Error("job failed",
				"job_type", job.Type,
				"duration", time.Since(start),
				"error", err,
			)
			telemetry.CaptureError(err, map[string]any{"job_type": job.Type})
		} else {
			w.logger.Debug("job completed",
				"job_type", job.Type,
				"duration", time.Since(start),
			)
		}
		if telemetry.Business != nil {
			telemetry.Business.JobRuns.WithLabelValues(job.Type, result).Inc()
		}
	}()

	return job.Run(jobCtx)
}
