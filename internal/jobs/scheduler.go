package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/cradlesense-backend/internal/logger"
	"github.com/yungbote/cradlesense-backend/internal/repos"
	"github.com/yungbote/cradlesense-backend/internal/types"
)

type SchedulerOptions struct {
	LeaseDuration time.Duration
	MaxConcurrent int
	// MaxConcurrentPerKind caps concurrently leased jobs for the listed
	// kinds; unlisted kinds are bounded only by MaxConcurrent.
	MaxConcurrentPerKind map[string]int
}

// Scheduler is the durable queue facade over the job table: persistence,
// immediate and delayed scheduling, recurring definitions, atomic claiming
// under a lease, and concurrency caps. It holds no in-memory job state, so
// any number of processes can share one store.
type Scheduler struct {
	db       *gorm.DB
	log      *logger.Logger
	repo     repos.JobRepo
	lease    time.Duration
	maxJobs  int
	kindCaps map[string]int
}

func NewScheduler(db *gorm.DB, baseLog *logger.Logger, repo repos.JobRepo, opts SchedulerOptions) *Scheduler {
	if opts.LeaseDuration <= 0 {
		opts.LeaseDuration = 5 * time.Minute
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 3
	}
	return &Scheduler{
		db:       db,
		log:      baseLog.With("component", "Scheduler"),
		repo:     repo,
		lease:    opts.LeaseDuration,
		maxJobs:  opts.MaxConcurrent,
		kindCaps: opts.MaxConcurrentPerKind,
	}
}

func (s *Scheduler) LeaseDuration() time.Duration { return s.lease }

// EnqueueNow persists a job eligible for claiming immediately.
func (s *Scheduler) EnqueueNow(ctx context.Context, kind string, entityID *uuid.UUID, payload any, priority int) (*types.Job, error) {
	return s.EnqueueAt(ctx, kind, entityID, payload, priority, time.Now())
}

// EnqueueAt persists a job that becomes eligible no earlier than at.
func (s *Scheduler) EnqueueAt(ctx context.Context, kind string, entityID *uuid.UUID, payload any, priority int, at time.Time) (*types.Job, error) {
	if kind == "" {
		return nil, fmt.Errorf("job kind is empty")
	}
	var raw datatypes.JSON
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode job payload: %w", err)
		}
		raw = datatypes.JSON(b)
	}
	job := &types.Job{
		Kind:        kind,
		EntityID:    entityID,
		Payload:     raw,
		Priority:    priority,
		Status:      types.JobStatusQueued,
		ScheduledAt: at,
	}
	created, err := s.repo.Create(ctx, nil, job)
	if err != nil {
		return nil, err
	}
	s.log.Debug("Enqueued job", "job_id", created.ID, "kind", kind, "scheduled_at", at, "priority", priority)
	return created, nil
}

// ScheduleRecurring persists or refreshes the recurring definition for kind.
// The job re-arms itself after each run by advancing scheduled_at.
func (s *Scheduler) ScheduleRecurring(ctx context.Context, kind string, every time.Duration) (*types.Job, error) {
	job, err := s.repo.UpsertRecurring(ctx, nil, kind, every)
	if err != nil {
		return nil, err
	}
	s.log.Info("Recurring job scheduled", "kind", kind, "every", every, "job_id", job.ID)
	return job, nil
}

// Claim atomically claims one eligible job among kinds for owner, honoring
// global and per-kind concurrency caps. Returns nil when nothing is
// claimable; losing a race with another worker also comes back nil.
func (s *Scheduler) Claim(ctx context.Context, owner string, kinds []string) (*types.Job, error) {
	return s.repo.ClaimNext(ctx, nil, owner, kinds, s.lease, s.maxJobs, s.kindCaps)
}

func (s *Scheduler) Complete(ctx context.Context, jobID uuid.UUID) error {
	return s.repo.Complete(ctx, nil, jobID)
}

func (s *Scheduler) Fail(ctx context.Context, jobID uuid.UUID, cause error) error {
	msg := "job failed"
	if cause != nil {
		msg = cause.Error()
	}
	return s.repo.Fail(ctx, nil, jobID, msg)
}

// CancelPending cancels still-queued jobs of kind for one entity; claimed
// jobs run to completion or lease expiry (best-effort cancellation).
func (s *Scheduler) CancelPending(ctx context.Context, kind string, entityID uuid.UUID) (int64, error) {
	n, err := s.repo.CancelPending(ctx, nil, kind, entityID)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.Info("Cancelled pending jobs", "kind", kind, "entity_id", entityID, "count", n)
	}
	return n, nil
}

func (s *Scheduler) Stats(ctx context.Context) (*types.JobStats, error) {
	return s.repo.Stats(ctx, nil)
}
