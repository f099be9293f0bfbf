package repos

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/cradlesense-backend/internal/logger"
	"github.com/yungbote/cradlesense-backend/internal/types"
)

type JobRepo interface {
	Create(ctx context.Context, tx *gorm.DB, job *types.Job) (*types.Job, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Job, error)

	// ClaimNext atomically claims one eligible job among kinds for owner.
	// Eligible means queued, or running with an expired lease, with
	// scheduled_at in the past; ordering is priority DESC then scheduled_at
	// ASC. Concurrency caps are enforced against live leases inside the same
	// transaction. Returns nil when nothing is claimable.
	ClaimNext(ctx context.Context, tx *gorm.DB, owner string, kinds []string, lease time.Duration, globalCap int, kindCaps map[string]int) (*types.Job, error)

	// Complete releases the lease. One-shot jobs become succeeded; recurring
	// jobs re-arm by advancing scheduled_at by their interval.
	Complete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error

	// Fail releases the lease and records the error. One-shot jobs become
	// failed and are not rescheduled; recurring jobs re-arm.
	Fail(ctx context.Context, tx *gorm.DB, id uuid.UUID, errMsg string) error

	// CancelPending marks still-queued jobs of kind for an entity as
	// canceled. Claimed jobs are untouched (best-effort cancellation).
	CancelPending(ctx context.Context, tx *gorm.DB, kind string, entityID uuid.UUID) (int64, error)

	// UpsertRecurring creates or refreshes the single recurring definition
	// for kind with the given interval.
	UpsertRecurring(ctx context.Context, tx *gorm.DB, kind string, every time.Duration) (*types.Job, error)

	Stats(ctx context.Context, tx *gorm.DB) (*types.JobStats, error)
}

type jobRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewJobRepo(db *gorm.DB, baseLog *logger.Logger) JobRepo {
	return &jobRepo{
		db:  db,
		log: baseLog.With("repo", "JobRepo"),
	}
}

func (r *jobRepo) Create(ctx context.Context, tx *gorm.DB, job *types.Job) (*types.Job, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if job == nil {
		return nil, errors.New("job is nil")
	}
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.Status == "" {
		job.Status = types.JobStatusQueued
	}
	if job.ScheduledAt.IsZero() {
		job.ScheduledAt = time.Now()
	}
	if err := transaction.WithContext(ctx).Create(job).Error; err != nil {
		return nil, err
	}
	return job, nil
}

func (r *jobRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Job, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var job types.Job
	err := transaction.WithContext(ctx).
		Where("id = ?", id).
		First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// acquireSchedulerLock writes the single scheduler_lock row inside the claim
// transaction. The row lock is held until commit, so concurrent claimers run
// one at a time and the cap counts below cannot see a stale lease total.
// An UPDATE rather than SELECT FOR UPDATE keeps the statement valid on both
// drivers.
func acquireSchedulerLock(txx *gorm.DB, now time.Time) error {
	res := txx.Model(&types.SchedulerLock{}).
		Where("id = ?", types.SchedulerLockID).
		Update("acquired_at", now)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return txx.Create(&types.SchedulerLock{ID: types.SchedulerLockID, AcquiredAt: now}).Error
	}
	return nil
}

// eligibleClause matches jobs that are claimable right now: queued, or
// running with a lease that has already expired.
func eligibleClause(q *gorm.DB, now time.Time) *gorm.DB {
	return q.Where(
		"(status = ? OR (status = ? AND (lease_expires_at IS NULL OR lease_expires_at <= ?)))",
		types.JobStatusQueued, types.JobStatusRunning, now,
	)
}

func (r *jobRepo) ClaimNext(ctx context.Context, tx *gorm.DB, owner string, kinds []string, lease time.Duration, globalCap int, kindCaps map[string]int) (*types.Job, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if owner == "" {
		return nil, errors.New("owner is empty")
	}
	if len(kinds) == 0 {
		return nil, nil
	}
	now := time.Now()
	var claimed *types.Job
	err := transaction.WithContext(ctx).Transaction(func(txx *gorm.DB) error {
		if err := acquireSchedulerLock(txx, now); err != nil {
			return err
		}
		if globalCap > 0 {
			var leased int64
			if err := txx.Model(&types.Job{}).
				Where("status = ? AND lease_expires_at > ?", types.JobStatusRunning, now).
				Count(&leased).Error; err != nil {
				return err
			}
			if leased >= int64(globalCap) {
				return nil
			}
		}

		allowed := make([]string, 0, len(kinds))
		for _, kind := range kinds {
			limit, capped := kindCaps[kind]
			if !capped || limit <= 0 {
				allowed = append(allowed, kind)
				continue
			}
			var leased int64
			if err := txx.Model(&types.Job{}).
				Where("kind = ? AND status = ? AND lease_expires_at > ?", kind, types.JobStatusRunning, now).
				Count(&leased).Error; err != nil {
				return err
			}
			if leased < int64(limit) {
				allowed = append(allowed, kind)
			}
		}
		if len(allowed) == 0 {
			return nil
		}

		var job types.Job
		q := txx.Where("kind IN ?", allowed).
			Where("scheduled_at <= ?", now)
		q = eligibleClause(q, now)
		qErr := q.Order("priority DESC").
			Order("scheduled_at ASC").
			First(&job).Error
		if errors.Is(qErr, gorm.ErrRecordNotFound) {
			return nil
		}
		if qErr != nil {
			return qErr
		}

		// Guarded update is the compare-and-set: if another worker claimed
		// the candidate between select and update, zero rows match and this
		// claim attempt comes back empty.
		guard := txx.Model(&types.Job{}).Where("id = ?", job.ID)
		guard = eligibleClause(guard, now)
		res := guard.Updates(map[string]interface{}{
			"status":           types.JobStatusRunning,
			"lease_owner":      owner,
			"lease_expires_at": now.Add(lease),
			"updated_at":       now,
		})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}

		expires := now.Add(lease)
		job.Status = types.JobStatusRunning
		job.LeaseOwner = owner
		job.LeaseExpiresAt = &expires
		job.UpdatedAt = now
		claimed = &job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (r *jobRepo) Complete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	return r.finish(ctx, tx, id, "")
}

func (r *jobRepo) Fail(ctx context.Context, tx *gorm.DB, id uuid.UUID, errMsg string) error {
	if errMsg == "" {
		errMsg = "job failed"
	}
	return r.finish(ctx, tx, id, errMsg)
}

func (r *jobRepo) finish(ctx context.Context, tx *gorm.DB, id uuid.UUID, errMsg string) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	now := time.Now()
	return transaction.WithContext(ctx).Transaction(func(txx *gorm.DB) error {
		var job types.Job
		qErr := txx.Where("id = ?", id).First(&job).Error
		if errors.Is(qErr, gorm.ErrRecordNotFound) {
			return nil
		}
		if qErr != nil {
			return qErr
		}

		updates := map[string]interface{}{
			"lease_owner":      "",
			"lease_expires_at": nil,
			"last_finished_at": now,
			"updated_at":       now,
		}
		if errMsg == "" {
			updates["last_error"] = ""
		} else {
			updates["fail_count"] = gorm.Expr("fail_count + 1")
			updates["last_error"] = errMsg
		}

		if recur := job.Recurrence(); recur > 0 {
			// Recurring jobs re-arm instead of terminating, advancing from
			// now so a slow run cannot produce an immediately-due repeat.
			updates["status"] = types.JobStatusQueued
			updates["scheduled_at"] = now.Add(recur)
		} else if errMsg == "" {
			updates["status"] = types.JobStatusSucceeded
		} else {
			updates["status"] = types.JobStatusFailed
		}

		return txx.Model(&types.Job{}).
			Where("id = ?", id).
			Updates(updates).Error
	})
}

func (r *jobRepo) CancelPending(ctx context.Context, tx *gorm.DB, kind string, entityID uuid.UUID) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if kind == "" || entityID == uuid.Nil {
		return 0, nil
	}
	res := transaction.WithContext(ctx).
		Model(&types.Job{}).
		Where("kind = ? AND entity_id = ? AND status = ?", kind, entityID, types.JobStatusQueued).
		Updates(map[string]interface{}{
			"status":     types.JobStatusCanceled,
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (r *jobRepo) UpsertRecurring(ctx context.Context, tx *gorm.DB, kind string, every time.Duration) (*types.Job, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if kind == "" {
		return nil, errors.New("kind is empty")
	}
	if every <= 0 {
		return nil, errors.New("recurrence interval must be > 0")
	}
	seconds := int64(every / time.Second)
	now := time.Now()
	var out *types.Job
	err := transaction.WithContext(ctx).Transaction(func(txx *gorm.DB) error {
		var job types.Job
		qErr := txx.Where("kind = ? AND recur_every_seconds IS NOT NULL", kind).First(&job).Error
		if qErr == nil {
			updates := map[string]interface{}{
				"recur_every_seconds": seconds,
				"updated_at":          now,
			}
			// A shortened interval takes effect now, not after the
			// previously armed run: pull scheduled_at in when it sits
			// further out than the new cadence.
			next := now.Add(every)
			if job.Status == types.JobStatusQueued && job.ScheduledAt.After(next) {
				updates["scheduled_at"] = next
				job.ScheduledAt = next
			}
			uErr := txx.Model(&types.Job{}).
				Where("id = ?", job.ID).
				Updates(updates).Error
			if uErr != nil {
				return uErr
			}
			job.RecurEvery = &seconds
			out = &job
			return nil
		}
		if !errors.Is(qErr, gorm.ErrRecordNotFound) {
			return qErr
		}
		job = types.Job{
			ID:          uuid.New(),
			Kind:        kind,
			Status:      types.JobStatusQueued,
			ScheduledAt: now,
			RecurEvery:  &seconds,
		}
		if cErr := txx.Create(&job).Error; cErr != nil {
			return cErr
		}
		out = &job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *jobRepo) Stats(ctx context.Context, tx *gorm.DB) (*types.JobStats, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	now := time.Now()
	stats := &types.JobStats{}
	model := func() *gorm.DB {
		return transaction.WithContext(ctx).Model(&types.Job{})
	}
	if err := model().Count(&stats.TotalJobs).Error; err != nil {
		return nil, err
	}
	if err := model().Where("status = ?", types.JobStatusQueued).Count(&stats.ScheduledJobs).Error; err != nil {
		return nil, err
	}
	if err := model().Where("status = ? AND lease_expires_at > ?", types.JobStatusRunning, now).Count(&stats.RunningJobs).Error; err != nil {
		return nil, err
	}
	if err := model().Where("status = ?", types.JobStatusFailed).Count(&stats.FailedJobs).Error; err != nil {
		return nil, err
	}
	return stats, nil
}
