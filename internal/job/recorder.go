package job

import (
	"context"
	"log/slog"

	"reelsmith/internal/jobstore"
	"reelsmith/internal/logging"
	"reelsmith/internal/pipeline"
	"reelsmith/internal/services"
)

// stepRecorder persists executor step events as jobstore step runs.
type stepRecorder struct {
	store  *jobstore.Store
	logger *slog.Logger
}

func (r *stepRecorder) StepStarted(ctx context.Context, event pipeline.StepEvent) {
	jobID, ok := services.JobIDFromContext(ctx)
	if !ok {
		return
	}
	phase, _ := services.PhaseFromContext(ctx)
	err := r.store.RecordStepStart(context.WithoutCancel(ctx), jobstore.StepRun{
		JobID:     jobID,
		Phase:     phase,
		Step:      event.Step,
		Index:     event.Index,
		Mode:      string(event.Mode),
		RequestID: event.RequestID,
		StartedAt: event.StartedAt.UTC(),
	})
	if err != nil {
		logging.WithContext(ctx, r.logger).Warn("record step start failed", logging.Error(err))
	}
}

func (r *stepRecorder) StepFinished(ctx context.Context, event pipeline.StepEvent) {
	if _, ok := services.JobIDFromContext(ctx); !ok {
		return
	}
	finished := event.StartedAt.Add(event.Duration).UTC()
	run := jobstore.StepRun{
		RequestID:  event.RequestID,
		PatchKeys:  event.PatchKeys,
		FinishedAt: &finished,
		Duration:   event.Duration,
		Status:     jobstore.StepSucceeded,
	}
	if event.Err != nil {
		run.Status = jobstore.StepFailed
		run.ErrorMessage = event.Err.Error()
	}
	if err := r.store.RecordStepFinish(context.WithoutCancel(ctx), run); err != nil {
		logging.WithContext(ctx, r.logger).Warn("record step finish failed", logging.Error(err))
	}
}
