package jobstore_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"reelsmith/internal/jobstore"
	"reelsmith/internal/testsupport"
)

func TestCreateAndGet(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	job, err := store.Create(ctx, jobstore.Job{ID: "job-1", Topic: "volcanoes", OutputDir: "/out", JobFile: "reel.toml"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if job.Status != jobstore.StatusInitialized || job.CreatedAt.IsZero() {
		t.Fatalf("unexpected job %+v", job)
	}
	if _, err := store.Create(ctx, jobstore.Job{ID: "job-1", Topic: "again", OutputDir: "/out"}); !errors.Is(err, jobstore.ErrJobExists) {
		t.Fatalf("expected ErrJobExists, got %v", err)
	}
	if _, err := store.Get(ctx, "nope"); !errors.Is(err, jobstore.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestTransitionsFollowStateMachine(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	testsupport.NewJob(t, store, "job-ok", "tides")
	testsupport.NewJob(t, store, "job-fail", "storms")

	if _, err := store.Transition(ctx, "job-ok", jobstore.StatusCompleted, jobstore.TransitionOptions{}); !errors.Is(err, jobstore.ErrInvalidTransition) {
		t.Fatalf("initialized -> completed should be rejected, got %v", err)
	}

	running, err := store.Transition(ctx, "job-ok", jobstore.StatusRunning, jobstore.TransitionOptions{})
	if err != nil || running.StartedAt == nil {
		t.Fatalf("-> running: %+v %v", running, err)
	}
	done, err := store.Transition(ctx, "job-ok", jobstore.StatusCompleted, jobstore.TransitionOptions{ContextJSON: `{"k":1}`})
	if err != nil || done.FinishedAt == nil || done.ContextJSON != `{"k":1}` {
		t.Fatalf("-> completed: %+v %v", done, err)
	}

	if _, err := store.Transition(ctx, "job-fail", jobstore.StatusRunning, jobstore.TransitionOptions{}); err != nil {
		t.Fatal(err)
	}
	failed, err := store.Transition(ctx, "job-fail", jobstore.StatusFailed, jobstore.TransitionOptions{FailedStep: "tts", ErrorMessage: "rate limited"})
	if err != nil || failed.FailedStep != "tts" || failed.ErrorMessage != "rate limited" {
		t.Fatalf("-> failed: %+v %v", failed, err)
	}
	for _, to := range []jobstore.Status{jobstore.StatusRunning, jobstore.StatusCompleted, jobstore.StatusInitialized} {
		if _, err := store.Transition(ctx, "job-fail", to, jobstore.TransitionOptions{}); !errors.Is(err, jobstore.ErrInvalidTransition) {
			t.Fatalf("failed is terminal; -> %s returned %v", to, err)
		}
	}
}

func TestListFiltersAndOrders(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		if _, err := store.Create(ctx, jobstore.Job{ID: id, Topic: id, OutputDir: "/o", CreatedAt: base.Add(time.Duration(i) * time.Hour)}); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := store.Transition(ctx, "b", jobstore.StatusRunning, jobstore.TransitionOptions{}); err != nil {
		t.Fatal(err)
	}

	all, err := store.List(ctx, jobstore.ListOptions{})
	if err != nil || len(all) != 3 || all[0].ID != "c" || all[2].ID != "a" {
		t.Fatalf("unexpected list %v %v", all, err)
	}
	running, err := store.List(ctx, jobstore.ListOptions{Statuses: []jobstore.Status{jobstore.StatusRunning}})
	if err != nil || len(running) != 1 || running[0].ID != "b" {
		t.Fatalf("unexpected filtered list %v %v", running, err)
	}
	limited, _ := store.List(ctx, jobstore.ListOptions{Limit: 2})
	if len(limited) != 2 {
		t.Fatalf("expected limit 2, got %d", len(limited))
	}
}

func TestStepRuns(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	testsupport.NewJob(t, store, "job", "topic")

	start := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	if err := store.RecordStepStart(ctx, jobstore.StepRun{JobID: "job", Phase: "assets", Step: "images", Index: 0, Mode: "parallel", RequestID: "r1", StartedAt: start}); err != nil {
		t.Fatal(err)
	}
	if err := store.RecordStepStart(ctx, jobstore.StepRun{JobID: "job", Phase: "assets", Step: "tts", Index: 1, Mode: "parallel", RequestID: "r2", StartedAt: start.Add(time.Millisecond)}); err != nil {
		t.Fatal(err)
	}
	if err := store.RecordStepFinish(ctx, jobstore.StepRun{RequestID: "r1", PatchKeys: []string{"images.output", "images.version_id"}, Duration: 1500 * time.Millisecond}); err != nil {
		t.Fatal(err)
	}
	if err := store.RecordStepFinish(ctx, jobstore.StepRun{RequestID: "r2", ErrorMessage: "boom"}); err != nil {
		t.Fatal(err)
	}
	if err := store.RecordStepFinish(ctx, jobstore.StepRun{RequestID: "missing"}); err == nil {
		t.Fatal("expected error for unknown request id")
	}

	runs, err := store.StepRuns(ctx, "job")
	if err != nil || len(runs) != 2 {
		t.Fatalf("StepRuns: %v %v", runs, err)
	}
	if runs[0].Status != jobstore.StepSucceeded || len(runs[0].PatchKeys) != 2 || runs[0].Duration != 1500*time.Millisecond {
		t.Fatalf("unexpected first run %+v", runs[0])
	}
	if runs[1].Status != jobstore.StepFailed || runs[1].ErrorMessage != "boom" || runs[1].FinishedAt == nil {
		t.Fatalf("unexpected second run %+v", runs[1])
	}

	removed, err := store.Remove(ctx, "job")
	if err != nil || !removed {
		t.Fatalf("Remove: %v %v", removed, err)
	}
	if runs, _ := store.StepRuns(ctx, "job"); len(runs) != 0 {
		t.Fatal("step runs should be removed with the job")
	}
}

func TestReopenKeepsHistory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "jobs.db")
	store, err := jobstore.OpenPath(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.Create(context.Background(), jobstore.Job{ID: "keep", Topic: "t", OutputDir: "/o"}); err != nil {
		t.Fatal(err)
	}
	_ = store.Close()

	reopened, err := jobstore.OpenPath(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	if _, err := reopened.Get(context.Background(), "keep"); err != nil {
		t.Fatalf("expected persisted job: %v", err)
	}
}

func TestOpenRejectsOtherSchemaVersion(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "jobs.db")
	raw, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("open raw db: %v", err)
	}
	if _, err := raw.Exec("PRAGMA user_version = 9"); err != nil {
		t.Fatalf("set user_version: %v", err)
	}
	if err := raw.Close(); err != nil {
		t.Fatalf("close raw db: %v", err)
	}

	if _, err := jobstore.OpenPath(dbPath); !errors.Is(err, jobstore.ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch, got %v", err)
	}
}
