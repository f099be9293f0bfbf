package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	JobKindAnalyzeAudio     = "analyze-audio"
	JobKindCleanupFailed    = "cleanup-failed"
	JobKindCleanupTempFiles = "cleanup-temp-files"
	JobKindHealthCheck      = "health-check"
)

const (
	JobStatusQueued    = "queued"
	JobStatusRunning   = "running"
	JobStatusSucceeded = "succeeded"
	JobStatusFailed    = "failed"
	JobStatusCanceled  = "canceled"
)

// Job is one unit of scheduled work. A running job is owned by exactly one
// worker through the lease fields; an expired lease makes the row claimable
// again, which is the sole re-delivery mechanism.
type Job struct {
	ID             uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	Kind           string         `gorm:"column:kind;not null;index" json:"kind"`
	EntityID       *uuid.UUID     `gorm:"type:uuid;column:entity_id;index" json:"entity_id,omitempty"`
	Payload        datatypes.JSON `gorm:"column:payload" json:"payload,omitempty"`
	Priority       int            `gorm:"column:priority;not null;default:0;index" json:"priority"`
	Status         string         `gorm:"column:status;not null;index" json:"status"`
	ScheduledAt    time.Time      `gorm:"column:scheduled_at;not null;index" json:"scheduled_at"`
	LeaseOwner     string         `gorm:"column:lease_owner" json:"lease_owner,omitempty"`
	LeaseExpiresAt *time.Time     `gorm:"column:lease_expires_at;index" json:"lease_expires_at,omitempty"`
	RecurEvery     *int64         `gorm:"column:recur_every_seconds" json:"recur_every_seconds,omitempty"`
	FailCount      int            `gorm:"column:fail_count;not null;default:0" json:"fail_count"`
	LastError      string         `gorm:"column:last_error" json:"last_error,omitempty"`
	LastFinishedAt *time.Time     `gorm:"column:last_finished_at" json:"last_finished_at,omitempty"`
	CreatedAt      time.Time      `gorm:"not null;index" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"not null" json:"updated_at"`
}

func (Job) TableName() string { return "job" }

// Recurrence returns the fixed re-arm interval, or zero for one-shot jobs.
func (j *Job) Recurrence() time.Duration {
	if j.RecurEvery == nil || *j.RecurEvery <= 0 {
		return 0
	}
	return time.Duration(*j.RecurEvery) * time.Second
}

const SchedulerLockID = 1

// SchedulerLock is a single-row table every claim transaction writes first.
// The row-level write lock serializes claim transactions across workers and
// processes, which keeps the concurrency-cap counts and the claim itself in
// one critical section.
type SchedulerLock struct {
	ID         int       `gorm:"primaryKey" json:"id"`
	AcquiredAt time.Time `gorm:"column:acquired_at" json:"acquired_at"`
}

func (SchedulerLock) TableName() string { return "scheduler_lock" }

// JobStats summarizes queue contents for the stats endpoint.
type JobStats struct {
	TotalJobs     int64 `json:"total_jobs"`
	ScheduledJobs int64 `json:"scheduled_jobs"`
	RunningJobs   int64 `json:"running_jobs"`
	FailedJobs    int64 `json:"failed_jobs"`
}
