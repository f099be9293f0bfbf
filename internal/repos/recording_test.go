package repos

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/yungbote/cradlesense-backend/internal/logger"
	"github.com/yungbote/cradlesense-backend/internal/types"
)

func newTestRecordingRepo(t *testing.T) (RecordingRepo, *gorm.DB) {
	t.Helper()
	log, err := logger.New("production")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	dsn := filepath.Join(t.TempDir(), "recordings.db") + "?_busy_timeout=5000"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormlogger.Discard})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&types.AudioRecording{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewRecordingRepo(db, log), db
}

func seedRecordingWithStatus(t *testing.T, db *gorm.DB, status string) *types.AudioRecording {
	t.Helper()
	rec := &types.AudioRecording{
		ID:         uuid.New(),
		BabyID:     uuid.New(),
		UserID:     uuid.New(),
		StorageKey: "a.wav",
		RecordedAt: time.Now(),
		Status:     status,
	}
	if err := db.Create(rec).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}
	return rec
}

func TestClaimForProcessing(t *testing.T) {
	repo, db := newTestRecordingRepo(t)
	ctx := context.Background()

	pending := seedRecordingWithStatus(t, db, types.AnalysisStatusPending)
	ok, err := repo.ClaimForProcessing(ctx, nil, pending.ID)
	if err != nil || !ok {
		t.Fatalf("claim pending: ok=%v err=%v", ok, err)
	}
	var got types.AudioRecording
	if err := db.First(&got, "id = ?", pending.ID).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got.Status != types.AnalysisStatusProcessing {
		t.Fatalf("expected processing, got %s", got.Status)
	}

	// The duplicate claim loses: the row is no longer claimable.
	ok, err = repo.ClaimForProcessing(ctx, nil, pending.ID)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if ok {
		t.Fatalf("second claim must lose the compare-and-set")
	}

	failed := seedRecordingWithStatus(t, db, types.AnalysisStatusFailed)
	ok, err = repo.ClaimForProcessing(ctx, nil, failed.ID)
	if err != nil || !ok {
		t.Fatalf("claim retryable failed: ok=%v err=%v", ok, err)
	}

	for _, status := range []string{
		types.AnalysisStatusCompleted,
		types.AnalysisStatusCancelled,
	} {
		rec := seedRecordingWithStatus(t, db, status)
		ok, err = repo.ClaimForProcessing(ctx, nil, rec.ID)
		if err != nil {
			t.Fatalf("claim %s: %v", status, err)
		}
		if ok {
			t.Fatalf("settled status %s must not be claimable", status)
		}
	}
}
