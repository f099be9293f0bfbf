package jobs

import (
	"context"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/yungbote/cradlesense-backend/internal/logger"
	"github.com/yungbote/cradlesense-backend/internal/types"
)

type testHandler struct {
	kind string
	fn   func(ctx context.Context, job *types.Job) error
}

func (h *testHandler) Kind() string                                  { return h.kind }
func (h *testHandler) Run(ctx context.Context, job *types.Job) error { return h.fn(ctx, job) }

func waitForStatus(t *testing.T, db *gorm.DB, id interface{}, want string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		var job types.Job
		if err := db.First(&job, "id = ?", id).Error; err == nil && job.Status == want {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	var job types.Job
	db.First(&job, "id = ?", id)
	t.Fatalf("job never reached %s, last seen %s", want, job.Status)
}

func TestWorkerExecutesAndCompletesJob(t *testing.T) {
	s, db := newTestScheduler(t, SchedulerOptions{LeaseDuration: time.Minute})
	log, err := logger.New("production")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}

	ran := make(chan struct{}, 1)
	registry := NewRegistry()
	if err := registry.Register(&testHandler{
		kind: types.JobKindHealthCheck,
		fn: func(ctx context.Context, job *types.Job) error {
			ran <- struct{}{}
			return nil
		},
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	job, err := s.EnqueueNow(context.Background(), types.JobKindHealthCheck, nil, nil, 0)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := NewWorker(s, registry, log, WorkerOptions{PollInterval: 20 * time.Millisecond, Concurrency: 2})
	w.Start(ctx)

	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatalf("handler never ran")
	}
	waitForStatus(t, db, job.ID, types.JobStatusSucceeded)

	cancel()
	w.Stop()
}

func TestWorkerRecoversFromPanic(t *testing.T) {
	s, db := newTestScheduler(t, SchedulerOptions{LeaseDuration: time.Minute})
	log, err := logger.New("production")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}

	registry := NewRegistry()
	if err := registry.Register(&testHandler{
		kind: types.JobKindAnalyzeAudio,
		fn: func(ctx context.Context, job *types.Job) error {
			panic("boom")
		},
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	job, err := s.EnqueueNow(context.Background(), types.JobKindAnalyzeAudio, nil, nil, 0)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := NewWorker(s, registry, log, WorkerOptions{PollInterval: 20 * time.Millisecond, Concurrency: 1})
	w.Start(ctx)

	waitForStatus(t, db, job.ID, types.JobStatusFailed)
	cancel()
	w.Stop()

	var reloaded types.Job
	if err := db.First(&reloaded, "id = ?", job.ID).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.FailCount != 1 || reloaded.LastError == "" {
		t.Fatalf("panic not recorded as failure: %+v", reloaded)
	}
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	registry := NewRegistry()
	h := &testHandler{kind: types.JobKindHealthCheck, fn: func(ctx context.Context, job *types.Job) error { return nil }}
	if err := registry.Register(h); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := registry.Register(h); err == nil {
		t.Fatalf("expected duplicate registration rejected")
	}
	if kinds := registry.Kinds(); len(kinds) != 1 || kinds[0] != types.JobKindHealthCheck {
		t.Fatalf("unexpected kinds: %v", kinds)
	}
}
