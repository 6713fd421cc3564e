package job_test

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"reelsmith/internal/job"
	"reelsmith/internal/jobstore"
	"reelsmith/internal/notifications"
	"reelsmith/internal/pipeline"
	"reelsmith/internal/testsupport"
)

type recordingNotifier struct {
	mu       sync.Mutex
	events   []notifications.Event
	payloads []notifications.Payload
}

func (r *recordingNotifier) Publish(ctx context.Context, event notifications.Event, payload notifications.Payload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	r.payloads = append(r.payloads, payload)
	return nil
}

func setStep(name, key string, value any) pipeline.Step {
	return pipeline.NewStep(name, func(ctx context.Context, snap pipeline.Snapshot) (*pipeline.Patch, error) {
		return pipeline.NewPatch().Set(key, value), nil
	})
}

func failStep(name string, err error) pipeline.Step {
	return pipeline.NewStep(name, func(ctx context.Context, snap pipeline.Snapshot) (*pipeline.Patch, error) {
		return nil, err
	})
}

func TestDriverRunsStandardPlanToCompletion(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	notifier := &recordingNotifier{}

	script := pipeline.NewStep("script", func(ctx context.Context, snap pipeline.Snapshot) (*pipeline.Patch, error) {
		topic, _ := snap.String("topic")
		return pipeline.NewPatch().SetString("script.output", "about "+topic), nil
	})
	plan := job.StandardPlan(
		[]pipeline.Step{script},
		[]pipeline.Step{setStep("visuals", "visuals.output", "v.png"), setStep("narration", "narration.output", "n.wav")},
		[]pipeline.Step{setStep("edit", "edit.output", "final.mp4")},
		nil,
	)
	driver, err := job.NewDriver(plan, job.Options{Store: store, Notifier: notifier})
	if err != nil {
		t.Fatalf("NewDriver: %v", err)
	}

	result, err := driver.Run(context.Background(), job.Request{
		Topic:     "tides",
		OutputDir: t.TempDir(),
		JobID:     "job-ok",
		Seed:      map[string]any{"style": "calm", "job_id": "overridden"},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Status != jobstore.StatusCompleted {
		t.Fatalf("status = %s", result.Status)
	}

	snap := result.Context
	for _, key := range []string{"job_id", "topic", "output_dir", "started_at", "finished_at", "duration_ms", "style",
		"script.output", "visuals.output", "narration.output", "edit.output",
		"timing.setup_ms", "timing.assets_ms", "timing.assembly_ms"} {
		if !snap.Has(key) {
			t.Fatalf("missing context key %q in %v", key, snap.Keys())
		}
	}
	if snap.Has("timing.publish_ms") {
		t.Fatalf("skipped phase should not record timing")
	}
	if id, _ := snap.String("job_id"); id != "job-ok" {
		t.Fatalf("job_id = %q", id)
	}
	if got, _ := snap.String("script.output"); got != "about tides" {
		t.Fatalf("script.output = %q", got)
	}
	if last := result.Phases[len(result.Phases)-1]; last.Name != job.PhasePublish || !last.Skipped {
		t.Fatalf("expected skipped publish phase, got %+v", last)
	}

	stored, err := store.Get(context.Background(), "job-ok")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.Status != jobstore.StatusCompleted || stored.StartedAt == nil || stored.FinishedAt == nil || stored.ContextJSON == "" {
		t.Fatalf("unexpected stored job %+v", stored)
	}

	runs, err := store.StepRuns(context.Background(), "job-ok")
	if err != nil {
		t.Fatalf("StepRuns: %v", err)
	}
	if len(runs) != 4 {
		t.Fatalf("expected 4 step runs, got %d", len(runs))
	}
	phases := map[string]string{}
	for _, run := range runs {
		if run.Status != jobstore.StepSucceeded {
			t.Fatalf("step %s status %s", run.Step, run.Status)
		}
		phases[run.Step] = run.Phase
	}
	if phases["script"] != job.PhaseSetup || phases["visuals"] != job.PhaseAssets || phases["edit"] != job.PhaseAssembly {
		t.Fatalf("unexpected phase attribution %v", phases)
	}

	if len(notifier.events) != 2 || notifier.events[0] != notifications.EventJobStarted || notifier.events[1] != notifications.EventJobCompleted {
		t.Fatalf("unexpected notifications %v", notifier.events)
	}
}

func TestDriverRecordsParallelFailureAndStops(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	notifier := &recordingNotifier{}
	quota := errors.New("quota exceeded")

	assemblyRan := false
	plan := job.StandardPlan(
		[]pipeline.Step{setStep("script", "script.output", "s")},
		[]pipeline.Step{setStep("visuals", "visuals.output", "v.png"), failStep("narration", quota)},
		[]pipeline.Step{pipeline.NewStep("edit", func(context.Context, pipeline.Snapshot) (*pipeline.Patch, error) {
			assemblyRan = true
			return nil, nil
		})},
		nil,
	)
	driver, err := job.NewDriver(plan, job.Options{Store: store, Notifier: notifier})
	if err != nil {
		t.Fatalf("NewDriver: %v", err)
	}

	result, err := driver.Run(context.Background(), job.Request{Topic: "tides", OutputDir: t.TempDir(), JobID: "job-bad"})
	if !errors.Is(err, quota) {
		t.Fatalf("expected quota error, got %v", err)
	}
	stepErr, ok := pipeline.FailedStep(err)
	if !ok || stepErr.Step != "narration" {
		t.Fatalf("expected narration step error, got %v", err)
	}
	if assemblyRan {
		t.Fatalf("assembly must not run after a failed phase")
	}
	if result.Status != jobstore.StatusFailed || result.FailedStep != "narration" {
		t.Fatalf("unexpected result %+v", result)
	}
	if result.Context.Has("visuals.output") {
		t.Fatalf("sibling output must not merge when the group fails")
	}
	if !result.Context.Has("script.output") || !result.Context.Has("timing.assets_ms") {
		t.Fatalf("expected earlier results and phase timing, got %v", result.Context.Keys())
	}

	stored, err := store.Get(context.Background(), "job-bad")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.Status != jobstore.StatusFailed || stored.FailedStep != "narration" || stored.ErrorMessage == "" {
		t.Fatalf("unexpected stored job %+v", stored)
	}

	runs, err := store.StepRuns(context.Background(), "job-bad")
	if err != nil {
		t.Fatalf("StepRuns: %v", err)
	}
	var statuses []string
	for _, run := range runs {
		statuses = append(statuses, run.Step+"="+string(run.Status))
	}
	sort.Strings(statuses)
	want := []string{"narration=failed", "script=succeeded", "visuals=succeeded"}
	if len(statuses) != len(want) {
		t.Fatalf("step runs = %v", statuses)
	}
	for i := range want {
		if statuses[i] != want[i] {
			t.Fatalf("step runs = %v, want %v", statuses, want)
		}
	}

	last := notifier.payloads[len(notifier.payloads)-1]
	if notifier.events[len(notifier.events)-1] != notifications.EventJobFailed || last["step"] != "narration" || last["topic"] != "tides" {
		t.Fatalf("unexpected failure notification %v %v", notifier.events, last)
	}
}

func TestDriverRefusesToRerunFailedJob(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	plan := job.Plan{Phases: []job.Phase{{Name: "only", Mode: pipeline.ModeSequential, Steps: []pipeline.Step{failStep("boom", errors.New("boom"))}}}}
	driver, err := job.NewDriver(plan, job.Options{Store: store})
	if err != nil {
		t.Fatalf("NewDriver: %v", err)
	}

	req := job.Request{Topic: "tides", OutputDir: t.TempDir(), JobID: "job-once"}
	if _, err := driver.Run(context.Background(), req); err == nil {
		t.Fatalf("expected first run to fail")
	}
	if _, err := driver.Run(context.Background(), req); !errors.Is(err, job.ErrJobFailed) {
		t.Fatalf("expected ErrJobFailed on rerun, got %v", err)
	}
}

func TestDriverGeneratesJobIDAndRunsWithoutStore(t *testing.T) {
	plan := job.Plan{Phases: []job.Phase{{Name: "only", Mode: pipeline.ModeSequential, Steps: []pipeline.Step{setStep("a", "a", 1)}}}}
	driver, err := job.NewDriver(plan, job.Options{})
	if err != nil {
		t.Fatalf("NewDriver: %v", err)
	}
	result, err := driver.Run(context.Background(), job.Request{Topic: "tides", OutputDir: t.TempDir()})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.JobID) != 36 {
		t.Fatalf("expected generated uuid, got %q", result.JobID)
	}
	if id, _ := result.Context.String("job_id"); id != result.JobID {
		t.Fatalf("context job_id %q != %q", id, result.JobID)
	}
}

func TestDriverValidatesRequest(t *testing.T) {
	plan := job.Plan{Phases: []job.Phase{{Name: "only", Mode: pipeline.ModeSequential, Steps: []pipeline.Step{setStep("a", "a", 1)}}}}
	driver, err := job.NewDriver(plan, job.Options{})
	if err != nil {
		t.Fatalf("NewDriver: %v", err)
	}
	if _, err := driver.Run(context.Background(), job.Request{OutputDir: t.TempDir()}); err == nil {
		t.Fatalf("expected missing topic to fail")
	}
	if _, err := driver.Run(context.Background(), job.Request{Topic: "x"}); err == nil {
		t.Fatalf("expected missing output dir to fail")
	}
}

func TestPlanValidate(t *testing.T) {
	tests := []struct {
		name string
		plan job.Plan
	}{
		{"empty", job.Plan{}},
		{"no steps", job.Plan{Phases: []job.Phase{{Name: "a", Mode: pipeline.ModeSequential}}}},
		{"bad mode", job.Plan{Phases: []job.Phase{{Name: "a", Mode: "sideways", Steps: []pipeline.Step{setStep("x", "x", 1)}}}}},
		{"duplicate step", job.Plan{Phases: []job.Phase{
			{Name: "a", Mode: pipeline.ModeSequential, Steps: []pipeline.Step{setStep("x", "x", 1)}},
			{Name: "b", Mode: pipeline.ModeParallel, Steps: []pipeline.Step{setStep("x", "y", 1)}},
		}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.plan.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
	if err := job.StandardPlan([]pipeline.Step{setStep("x", "x", 1)}, []pipeline.Step{setStep("y", "y", 1)}, []pipeline.Step{setStep("z", "z", 1)}, nil).Validate(); err != nil {
		t.Fatalf("standard plan should validate: %v", err)
	}
}
