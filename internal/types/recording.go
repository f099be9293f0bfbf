package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	AnalysisStatusPending    = "pending"
	AnalysisStatusProcessing = "processing"
	AnalysisStatusCompleted  = "completed"
	AnalysisStatusFailed     = "failed"
	AnalysisStatusCancelled  = "cancelled"
)

// AudioRecording tracks one uploaded cry recording through the analysis
// lifecycle. Result columns are populated only when Status is completed.
// RetryCount counts business-level analysis retries; it never exceeds the
// configured cap and is the single authoritative retry budget.
type AudioRecording struct {
	ID          uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	BabyID      uuid.UUID  `gorm:"type:uuid;not null;index" json:"baby_id"`
	UserID      uuid.UUID  `gorm:"type:uuid;not null;index" json:"user_id"`
	StorageKey  string     `gorm:"column:storage_key;not null" json:"storage_key"`
	RecordedAt  time.Time  `gorm:"column:recorded_at;not null;index" json:"recorded_at"`
	Status      string     `gorm:"column:status;not null;index" json:"status"`
	RetryCount  int        `gorm:"column:retry_count;not null;default:0" json:"retry_count"`
	LastRetryAt *time.Time `gorm:"column:last_retry_at" json:"last_retry_at,omitempty"`
	AnalyzedAt  *time.Time `gorm:"column:analyzed_at" json:"analyzed_at,omitempty"`
	LastError   string     `gorm:"column:last_error" json:"last_error,omitempty"`

	Prediction     string         `gorm:"column:prediction" json:"prediction,omitempty"`
	Confidence     float64        `gorm:"column:confidence" json:"confidence,omitempty"`
	AllPredictions datatypes.JSON `gorm:"column:all_predictions" json:"all_predictions,omitempty"`
	ModelVersion   string         `gorm:"column:model_version" json:"model_version,omitempty"`
	ProcessingTime float64        `gorm:"column:processing_time" json:"processing_time,omitempty"`

	CreatedAt time.Time `gorm:"not null;index" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (AudioRecording) TableName() string { return "audio_recording" }
