package types

import (
	"time"

	"github.com/google/uuid"
)

type Baby struct {
	ID        uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	UserID    uuid.UUID  `gorm:"type:uuid;not null;index" json:"user_id"`
	Name      string     `gorm:"column:name;not null" json:"name"`
	BirthDate *time.Time `gorm:"column:birth_date" json:"birth_date,omitempty"`
	CreatedAt time.Time  `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time  `gorm:"not null" json:"updated_at"`
}

func (Baby) TableName() string { return "baby" }
