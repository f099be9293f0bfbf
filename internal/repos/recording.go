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

type RecordingRepo interface {
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.AudioRecording, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
	// ClaimForProcessing moves a pending or retryable-failed recording into
	// processing. Returns false when the recording was no longer in a
	// claimable status, so a concurrent duplicate job backs off.
	ClaimForProcessing(ctx context.Context, tx *gorm.DB, id uuid.UUID) (bool, error)
	// RecentCompletedForBaby returns up to limit completed recordings for a
	// baby, newest first, excluding one recording id. Used to build the
	// prediction history window.
	RecentCompletedForBaby(ctx context.Context, tx *gorm.DB, babyID uuid.UUID, excludeID uuid.UUID, limit int) ([]*types.AudioRecording, error)
	// MarkCancelledExhausted moves failed recordings whose retry budget is
	// spent and whose last retry is older than before into cancelled state.
	// Returns the number of recordings swept.
	MarkCancelledExhausted(ctx context.Context, tx *gorm.DB, maxRetries int, before time.Time, note string) (int64, error)
}

type recordingRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewRecordingRepo(db *gorm.DB, baseLog *logger.Logger) RecordingRepo {
	return &recordingRepo{
		db:  db,
		log: baseLog.With("repo", "RecordingRepo"),
	}
}

func (r *recordingRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.AudioRecording, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var rec types.AudioRecording
	err := transaction.WithContext(ctx).
		Where("id = ?", id).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *recordingRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return transaction.WithContext(ctx).
		Model(&types.AudioRecording{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *recordingRepo) ClaimForProcessing(ctx context.Context, tx *gorm.DB, id uuid.UUID) (bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return false, nil
	}
	res := transaction.WithContext(ctx).
		Model(&types.AudioRecording{}).
		Where("id = ? AND status IN ?", id, []string{types.AnalysisStatusPending, types.AnalysisStatusFailed}).
		Updates(map[string]interface{}{
			"status":     types.AnalysisStatusProcessing,
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *recordingRepo) RecentCompletedForBaby(ctx context.Context, tx *gorm.DB, babyID uuid.UUID, excludeID uuid.UUID, limit int) ([]*types.AudioRecording, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.AudioRecording
	if babyID == uuid.Nil || limit <= 0 {
		return out, nil
	}
	q := transaction.WithContext(ctx).
		Where("baby_id = ? AND status = ?", babyID, types.AnalysisStatusCompleted)
	if excludeID != uuid.Nil {
		q = q.Where("id <> ?", excludeID)
	}
	err := q.Order("analyzed_at DESC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *recordingRepo) MarkCancelledExhausted(ctx context.Context, tx *gorm.DB, maxRetries int, before time.Time, note string) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	res := transaction.WithContext(ctx).
		Model(&types.AudioRecording{}).
		Where("status = ? AND retry_count >= ? AND last_retry_at IS NOT NULL AND last_retry_at < ?",
			types.AnalysisStatusFailed, maxRetries, before).
		Updates(map[string]interface{}{
			"status":     types.AnalysisStatusCancelled,
			"last_error": note,
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected > 0 {
		r.log.Info("Swept exhausted failed recordings", "count", res.RowsAffected)
	}
	return res.RowsAffected, nil
}
