package watcher

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/citestack/citestack-worker/internal/config"
	"github.com/citestack/citestack-worker/internal/models"
)

// JobClaimer is the queue surface the watcher drains
type JobClaimer interface {
	ClaimDue(ctx context.Context, limit int) ([]models.Job, error)
	Complete(ctx context.Context, jobID string, result models.JSONB) error
	Fail(ctx context.Context, jobID, errMsg string) error
}

// ExtractRunner handles extract_url and extract_file jobs
type ExtractRunner interface {
	ProcessURL(ctx context.Context, job models.Job) (models.JSONB, error)
	ProcessFile(ctx context.Context, job models.Job) (models.JSONB, error)
}

// JobRunner handles a single job type end to end
type JobRunner interface {
	Process(ctx context.Context, job models.Job) (models.JSONB, error)
}

// Watcher polls the job queue and dispatches claimed jobs to their
// runners. The claim is a conditional update in the repository, so
// several watcher instances can share one queue safely.
type Watcher struct {
	cfg     *config.Config
	jobs    JobClaimer
	extract ExtractRunner
	enrich  JobRunner
	compare JobRunner
}

func New(
	cfg *config.Config,
	jobs JobClaimer,
	extract ExtractRunner,
	enrich JobRunner,
	compare JobRunner,
) *Watcher {
	return &Watcher{
		cfg:     cfg,
		jobs:    jobs,
		extract: extract,
		enrich:  enrich,
		compare: compare,
	}
}

// Start begins polling for due jobs until the context is cancelled
func (w *Watcher) Start(ctx context.Context) error {
	log.Println("Starting watcher for capture pipeline jobs...")

	// Drain anything left over from previous runs
	if err := w.RunOnce(ctx); err != nil {
		log.Printf("Warning: failed to process jobs on startup: %v", err)
	}

	ticker := time.NewTicker(time.Duration(w.cfg.PollInterval) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Watcher shutting down...")
			return ctx.Err()
		case <-ticker.C:
			if err := w.RunOnce(ctx); err != nil {
				log.Printf("Error processing jobs: %v", err)
			}
		}
	}
}

// RunOnce claims one batch of due jobs and runs them. A failing job
// never aborts the rest of the batch.
func (w *Watcher) RunOnce(ctx context.Context) error {
	jobs, err := w.jobs.ClaimDue(ctx, w.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("failed to claim jobs: %w", err)
	}
	if len(jobs) == 0 {
		return nil
	}

	log.Printf("Claimed %d job(s)", len(jobs))
	for _, job := range jobs {
		w.runJob(ctx, job)
	}
	return nil
}

// runJob dispatches one claimed job and records its terminal status.
// A panicking runner fails the job instead of taking the watcher down.
func (w *Watcher) runJob(ctx context.Context, job models.Job) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Job %s (%s) panicked: %v", job.ID, job.Type, r)
			if err := w.jobs.Fail(ctx, job.ID, fmt.Sprintf("panic: %v", r)); err != nil {
				log.Printf("Failed to mark job %s failed: %v", job.ID, err)
			}
		}
	}()

	log.Printf("Running job %s (%s) for user %s", job.ID, job.Type, job.UserID)

	var result models.JSONB
	var err error
	switch job.Type {
	case models.JobTypeExtractURL:
		result, err = w.extract.ProcessURL(ctx, job)
	case models.JobTypeExtractFile:
		result, err = w.extract.ProcessFile(ctx, job)
	case models.JobTypeEnrichItem:
		result, err = w.enrich.Process(ctx, job)
	case models.JobTypeCompareItems:
		result, err = w.compare.Process(ctx, job)
	default:
		err = fmt.Errorf("unknown job type %q", job.Type)
	}

	if err != nil {
		log.Printf("Job %s (%s) failed: %v", job.ID, job.Type, err)
		if failErr := w.jobs.Fail(ctx, job.ID, err.Error()); failErr != nil {
			log.Printf("Failed to mark job %s failed: %v", job.ID, failErr)
		}
		return
	}

	if completeErr := w.jobs.Complete(ctx, job.ID, result); completeErr != nil {
		log.Printf("Failed to mark job %s complete: %v", job.ID, completeErr)
		return
	}
	log.Printf("Job %s (%s) succeeded", job.ID, job.Type)
}
