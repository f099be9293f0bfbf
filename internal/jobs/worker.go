package jobs

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/yungbote/cradlesense-backend/internal/logger"
	"github.com/yungbote/cradlesense-backend/internal/types"
)

type WorkerOptions struct {
	PollInterval time.Duration
	Concurrency  int
}

// Worker polls the scheduler for claimable jobs and dispatches them to the
// registry. Each goroutine claims independently; the claim itself is the
// only coordination point, so workers across processes behave the same as
// workers within one.
type Worker struct {
	scheduler *Scheduler
	registry  *Registry
	log       *logger.Logger
	poll      time.Duration
	workers   int
	owner     string

	wg sync.WaitGroup
}

func NewWorker(scheduler *Scheduler, registry *Registry, baseLog *logger.Logger, opts WorkerOptions) *Worker {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 10 * time.Second
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 3
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return &Worker{
		scheduler: scheduler,
		registry:  registry,
		log:       baseLog.With("component", "Worker"),
		poll:      opts.PollInterval,
		workers:   opts.Concurrency,
		owner:     host,
	}
}

// Start launches the polling goroutines. They stop when ctx is cancelled;
// Stop waits for in-flight jobs to finish.
func (w *Worker) Start(ctx context.Context) {
	kinds := w.registry.Kinds()
	w.log.Info("Starting job workers", "concurrency", w.workers, "poll_interval", w.poll, "kinds", kinds)
	for i := 0; i < w.workers; i++ {
		w.wg.Add(1)
		go w.loop(ctx, i, kinds)
	}
}

func (w *Worker) Stop() {
	w.wg.Wait()
	w.log.Info("Job workers stopped")
}

func (w *Worker) loop(ctx context.Context, workerID int, kinds []string) {
	defer w.wg.Done()
	owner := fmt.Sprintf("%s-worker-%d", w.owner, workerID)
	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()
	for {
		// Drain eligible work before sleeping again.
		for {
			job, err := w.scheduler.Claim(ctx, owner, kinds)
			if err != nil {
				w.log.Error("Failed to claim job", "worker_id", workerID, "error", err)
				break
			}
			if job == nil {
				break
			}
			w.execute(ctx, workerID, job)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *Worker) execute(ctx context.Context, workerID int, job *types.Job) {
	handler, ok := w.registry.Get(job.Kind)
	if !ok {
		w.log.Error("No handler for claimed job kind", "kind", job.Kind, "job_id", job.ID)
		if err := w.scheduler.Fail(ctx, job.ID, fmt.Errorf("no handler registered for kind %q", job.Kind)); err != nil {
			w.log.Error("Failed to mark job failed", "job_id", job.ID, "error", err)
		}
		return
	}

	// Hand the handler a deadline slightly inside the lease so a slow run
	// gives up before another worker can reclaim the job.
	lease := w.scheduler.LeaseDuration()
	runCtx, cancel := context.WithTimeout(ctx, lease-lease/10)
	defer cancel()

	start := time.Now()
	w.log.Debug("Running job", "worker_id", workerID, "kind", job.Kind, "job_id", job.ID)

	err := w.run(runCtx, handler, job)
	if err != nil {
		w.log.Warn("Job failed", "kind", job.Kind, "job_id", job.ID, "duration", time.Since(start), "error", err)
		if ferr := w.scheduler.Fail(ctx, job.ID, err); ferr != nil {
			w.log.Error("Failed to mark job failed", "job_id", job.ID, "error", ferr)
		}
		return
	}
	w.log.Info("Job completed", "kind", job.Kind, "job_id", job.ID, "duration", time.Since(start))
	if cerr := w.scheduler.Complete(ctx, job.ID); cerr != nil {
		w.log.Error("Failed to mark job complete", "job_id", job.ID, "error", cerr)
	}
}

func (w *Worker) run(ctx context.Context, handler Handler, job *types.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job handler panicked: %v", r)
		}
	}()
	return handler.Run(ctx, job)
}
