package repos

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/cradlesense-backend/internal/logger"
	"github.com/yungbote/cradlesense-backend/internal/types"
)

type BabyRepo interface {
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Baby, error)
}

type babyRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewBabyRepo(db *gorm.DB, baseLog *logger.Logger) BabyRepo {
	return &babyRepo{
		db:  db,
		log: baseLog.With("repo", "BabyRepo"),
	}
}

func (r *babyRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Baby, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var baby types.Baby
	err := transaction.WithContext(ctx).
		Where("id = ?", id).
		First(&baby).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &baby, nil
}
