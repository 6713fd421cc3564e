package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"reelsmith/internal/jobstore"
	"reelsmith/internal/logging"
	"reelsmith/internal/notifications"
	"reelsmith/internal/pipeline"
	"reelsmith/internal/services"
)

// ErrJobFailed is returned when a failed job id is submitted again.
var ErrJobFailed = errors.New("job previously failed")

// Request describes one job run.
type Request struct {
	Topic     string
	OutputDir string
	// JobID is generated when empty.
	JobID   string
	JobFile string
	// Seed adds initial context values. The driver's own keys win.
	Seed map[string]any
}

// Result summarizes a finished run.
type Result struct {
	JobID      string
	Topic      string
	Status     jobstore.Status
	Context    pipeline.Snapshot
	FailedStep string
	Phases     []PhaseTiming
	Duration   time.Duration
}

// PhaseTiming records how long a phase ran. Skipped phases are marked.
type PhaseTiming struct {
	Name     string
	Duration time.Duration
	Skipped  bool
}

// Options wires a Driver's collaborators. Store and Notifier are optional.
type Options struct {
	Store    *jobstore.Store
	Notifier notifications.Service
	Logger   *slog.Logger
	Now      func() time.Time
}

// Driver runs plans as jobs.
type Driver struct {
	plan     Plan
	store    *jobstore.Store
	notifier notifications.Service
	logger   *slog.Logger
	now      func() time.Time
}

// NewDriver validates plan and returns a driver for it.
func NewDriver(plan Plan, opts Options) (*Driver, error) {
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	d := &Driver{
		plan:     plan,
		store:    opts.Store,
		notifier: opts.Notifier,
		logger:   opts.Logger,
		now:      opts.Now,
	}
	if d.logger == nil {
		d.logger = logging.NewNop()
	}
	if d.now == nil {
		d.now = time.Now
	}
	if d.notifier == nil {
		d.notifier = notifications.NewService(nil)
	}
	d.logger = logging.NewComponentLogger(d.logger, "job")
	return d, nil
}

// Run executes every phase of the plan. On failure the returned Result holds
// the context as it stood when the failing phase stopped, and the error
// carries the failing step (see pipeline.FailedStep).
func (d *Driver) Run(ctx context.Context, req Request) (Result, error) {
	req.Topic = strings.TrimSpace(req.Topic)
	if req.Topic == "" {
		return Result{}, services.Wrap(services.ErrValidation, "", "start job", "topic is required", nil)
	}
	if strings.TrimSpace(req.OutputDir) == "" {
		return Result{}, services.Wrap(services.ErrValidation, "", "start job", "output directory is required", nil)
	}
	outputDir, err := filepath.Abs(req.OutputDir)
	if err != nil {
		return Result{}, services.Wrap(services.ErrValidation, "", "start job", "invalid output directory", err)
	}
	jobID := strings.TrimSpace(req.JobID)
	if jobID == "" {
		jobID = uuid.NewString()
	}

	ctx = services.WithJobID(ctx, jobID)
	logger := logging.WithContext(ctx, d.logger)
	result := Result{JobID: jobID, Topic: req.Topic, Status: jobstore.StatusInitialized}

	if err := d.admit(ctx, jobID, req.Topic, outputDir, req.JobFile); err != nil {
		return result, err
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		startErr := services.Wrap(services.ErrConfiguration, "", "start job", "create output directory", err)
		d.fail(ctx, logger, &result, nil, "", startErr)
		return result, startErr
	}

	started := d.now()
	seed := maps.Clone(req.Seed)
	if seed == nil {
		seed = map[string]any{}
	}
	seed["job_id"] = jobID
	seed["topic"] = req.Topic
	seed["output_dir"] = outputDir
	seed["started_at"] = started.UTC().Format(time.RFC3339Nano)
	pctx := pipeline.NewContext(seed)

	if d.store != nil {
		if _, err := d.store.Transition(ctx, jobID, jobstore.StatusRunning, jobstore.TransitionOptions{At: started.UTC()}); err != nil {
			return result, fmt.Errorf("mark job running: %w", err)
		}
	}
	result.Status = jobstore.StatusRunning
	logger.Info("job started",
		logging.String(logging.FieldEventType, "job_start"),
		logging.String("topic", req.Topic),
		logging.String("output_dir", outputDir),
		logging.Int("phases", len(d.plan.Phases)),
		logging.Int("steps", d.plan.StepCount()),
	)
	d.publish(ctx, logger, notifications.EventJobStarted, notifications.Payload{
		"topic":  req.Topic,
		"job_id": jobID,
	})

	executor := d.executor()
	for _, phase := range d.plan.Phases {
		if len(phase.Steps) == 0 {
			logger.Info("phase skipped",
				logging.String(logging.FieldEventType, "phase_skipped"),
				logging.String(logging.FieldPhase, phase.Name),
			)
			result.Phases = append(result.Phases, PhaseTiming{Name: phase.Name, Skipped: true})
			continue
		}

		phaseCtx := services.WithPhase(ctx, phase.Name)
		phaseLogger := logging.WithContext(phaseCtx, d.logger)
		phaseLogger.Info("phase started",
			logging.String(logging.FieldEventType, "phase_start"),
			logging.String("mode", string(phase.Mode)),
			logging.Int("steps", len(phase.Steps)),
		)
		phaseStart := d.now()
		var runErr error
		if phase.Mode == pipeline.ModeParallel {
			pctx, runErr = executor.RunParallel(phaseCtx, phase.Steps, pctx)
		} else {
			pctx, runErr = executor.RunSequential(phaseCtx, phase.Steps, pctx)
		}
		elapsed := d.now().Sub(phaseStart)
		pctx.Apply(pipeline.NewPatch().SetInt("timing."+phase.Name+"_ms", elapsed.Milliseconds()))
		result.Phases = append(result.Phases, PhaseTiming{Name: phase.Name, Duration: elapsed})

		if runErr != nil {
			failedStep := ""
			if stepErr, ok := pipeline.FailedStep(runErr); ok {
				failedStep = stepErr.Step
			}
			err := fmt.Errorf("phase %s: %w", phase.Name, runErr)
			result.Duration = d.now().Sub(started)
			d.fail(phaseCtx, phaseLogger, &result, pctx, failedStep, err)
			return result, err
		}
		phaseLogger.Info("phase completed",
			logging.String(logging.FieldEventType, "phase_complete"),
			logging.Duration("duration", elapsed),
		)
	}

	finished := d.now()
	result.Duration = finished.Sub(started)
	pctx.Apply(pipeline.NewPatch().
		SetTime("finished_at", finished).
		SetInt("duration_ms", result.Duration.Milliseconds()))
	result.Context = pctx.Snapshot()

	if d.store != nil {
		_, err := d.store.Transition(context.WithoutCancel(ctx), jobID, jobstore.StatusCompleted, jobstore.TransitionOptions{
			ContextJSON: encodeContext(logger, result.Context),
			At:          finished.UTC(),
		})
		if err != nil {
			return result, fmt.Errorf("mark job completed: %w", err)
		}
	}
	result.Status = jobstore.StatusCompleted
	logger.Info("job completed",
		logging.String(logging.FieldEventType, "job_complete"),
		logging.Duration("duration", result.Duration),
		logging.Int("context_keys", result.Context.Len()),
	)
	d.publish(ctx, logger, notifications.EventJobCompleted, notifications.Payload{
		"topic":      req.Topic,
		"job_id":     jobID,
		"duration":   result.Duration,
		"output_dir": outputDir,
	})
	return result, nil
}

// admit records a new job, refusing ids that already ran.
func (d *Driver) admit(ctx context.Context, jobID, topic, outputDir, jobFile string) error {
	if d.store == nil {
		return nil
	}
	existing, err := d.store.Get(ctx, jobID)
	switch {
	case err == nil:
		if existing.Status == jobstore.StatusFailed {
			return fmt.Errorf("%s: %w; start a new job to retry", jobID, ErrJobFailed)
		}
		return fmt.Errorf("%s is %s: %w", jobID, existing.Status, jobstore.ErrJobExists)
	case !errors.Is(err, jobstore.ErrJobNotFound):
		return err
	}
	_, err = d.store.Create(ctx, jobstore.Job{
		ID:        jobID,
		Topic:     topic,
		OutputDir: outputDir,
		JobFile:   jobFile,
		CreatedAt: d.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("record job: %w", err)
	}
	return nil
}

func (d *Driver) fail(ctx context.Context, logger *slog.Logger, result *Result, pctx *pipeline.Context, failedStep string, runErr error) {
	result.Status = jobstore.StatusFailed
	result.FailedStep = failedStep
	if pctx != nil {
		result.Context = pctx.Snapshot()
	}

	logging.ErrorWithContext(logger, "job failed", "job_failure",
		logging.String("failed_step", failedStep),
		logging.String("error_kind", services.Kind(runErr)),
		logging.Error(runErr),
	)

	if d.store != nil {
		storeCtx := context.WithoutCancel(ctx)
		current, err := d.store.Get(storeCtx, result.JobID)
		if err == nil && current.Status == jobstore.StatusInitialized {
			_, err = d.store.Transition(storeCtx, result.JobID, jobstore.StatusRunning, jobstore.TransitionOptions{})
		}
		if err == nil {
			_, err = d.store.Transition(storeCtx, result.JobID, jobstore.StatusFailed, jobstore.TransitionOptions{
				FailedStep:   failedStep,
				ErrorMessage: runErr.Error(),
				ContextJSON:  encodeContext(logger, result.Context),
			})
		}
		if err != nil {
			logger.Warn("record job failure failed", logging.Error(err))
		}
	}

	d.publish(ctx, logger, notifications.EventJobFailed, notifications.Payload{
		"topic":  result.Topic,
		"job_id": result.JobID,
		"step":   failedStep,
		"error":  runErr,
	})
}

func (d *Driver) executor() *pipeline.Executor {
	opts := []pipeline.Option{pipeline.WithLogger(d.logger), pipeline.WithClock(d.now)}
	if d.store != nil {
		opts = append(opts, pipeline.WithObserver(&stepRecorder{store: d.store, logger: d.logger}))
	}
	return pipeline.NewExecutor(opts...)
}

func (d *Driver) publish(ctx context.Context, logger *slog.Logger, event notifications.Event, payload notifications.Payload) {
	if err := d.notifier.Publish(context.WithoutCancel(ctx), event, payload); err != nil {
		logger.Debug("job notification failed",
			logging.String("event", string(event)),
			logging.Error(err),
		)
	}
}

func encodeContext(logger *slog.Logger, snap pipeline.Snapshot) string {
	if snap.Len() == 0 {
		return ""
	}
	data, err := json.Marshal(snap.ToMap())
	if err != nil {
		logger.Debug("context not JSON encodable", logging.Error(err))
		return ""
	}
	return string(data)
}
