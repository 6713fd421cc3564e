package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"reelsmith/internal/logging"
	"reelsmith/internal/services"
)

// Mode names how a set of steps is composed.
type Mode string

const (
	ModeSequential Mode = "sequential"
	ModeParallel   Mode = "parallel"
)

// StepEvent describes one step execution for observers.
type StepEvent struct {
	Step      string
	Index     int
	Mode      Mode
	RequestID string
	StartedAt time.Time
	Duration  time.Duration
	PatchKeys []string
	Err       error
}

// Observer receives step lifecycle callbacks. Calls for parallel steps arrive
// concurrently.
type Observer interface {
	StepStarted(ctx context.Context, event StepEvent)
	StepFinished(ctx context.Context, event StepEvent)
}

// Executor runs step lists over a Context.
type Executor struct {
	logger    *slog.Logger
	observers []Observer
	now       func() time.Time
}

// Option customizes an Executor.
type Option func(*Executor)

// WithLogger routes executor logs to logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithObserver registers an Observer. Observers run in registration order.
func WithObserver(o Observer) Option {
	return func(e *Executor) {
		if o != nil {
			e.observers = append(e.observers, o)
		}
	}
}

// WithClock overrides the time source used for step timing.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) {
		if now != nil {
			e.now = now
		}
	}
}

// NewExecutor constructs an Executor.
func NewExecutor(opts ...Option) *Executor {
	e := &Executor{logger: logging.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = logging.NewComponentLogger(e.logger, "executor")
	return e
}

// RunSequential runs steps in order, merging each patch before the next step
// starts. On failure it stops, leaves the failing step's output unmerged, and
// returns pctx together with a *StepError.
func (e *Executor) RunSequential(ctx context.Context, steps []Step, pctx *Context) (*Context, error) {
	if pctx == nil {
		pctx = NewContext(nil)
	}
	for i, step := range steps {
		if err := ctx.Err(); err != nil {
			return pctx, &StepError{Step: stepName(step, i), Index: i, Err: err}
		}
		patch, err := e.runStep(ctx, step, i, ModeSequential, pctx.Snapshot())
		if err != nil {
			return pctx, err
		}
		pctx.Apply(patch)
	}
	return pctx, nil
}

// RunParallel starts every step against the same snapshot and waits for all of
// them. Failing steps do not cancel their siblings. If anything failed, no
// patch is merged and a *GroupError is returned; otherwise patches are merged
// in step-list order.
func (e *Executor) RunParallel(ctx context.Context, steps []Step, pctx *Context) (*Context, error) {
	if pctx == nil {
		pctx = NewContext(nil)
	}
	if len(steps) == 0 {
		return pctx, nil
	}

	snap := pctx.Snapshot()
	patches := make([]*Patch, len(steps))
	errs := make([]error, len(steps))

	var wg sync.WaitGroup
	for i, step := range steps {
		wg.Add(1)
		go func(idx int, s Step) {
			defer wg.Done()
			patches[idx], errs[idx] = e.runStep(ctx, s, idx, ModeParallel, snap)
		}(i, step)
	}
	wg.Wait()

	var group GroupError
	for _, err := range errs {
		if err == nil {
			continue
		}
		stepErr, ok := err.(*StepError)
		if !ok {
			stepErr = &StepError{Step: "unknown", Index: -1, Err: err}
		}
		group.Failures = append(group.Failures, stepErr)
	}
	if len(group.Failures) > 0 {
		return pctx, &group
	}

	owners := map[string]string{}
	merged := NewPatch()
	for i, patch := range patches {
		name := stepName(steps[i], i)
		for _, key := range patch.Keys() {
			if prev, dup := owners[key]; dup && prev != name {
				logging.WarnWithContext(e.logger, "parallel steps wrote the same key", "context_key_overlap",
					logging.String("key", key),
					logging.String("first_step", prev),
					logging.String("second_step", name),
					logging.String(logging.FieldErrorHint, "parallel steps should write disjoint keys"),
					logging.String(logging.FieldImpact, "the later step in list order wins"),
				)
			}
			owners[key] = name
		}
		merged.Merge(patch)
	}
	pctx.Apply(merged)
	return pctx, nil
}

func (e *Executor) runStep(ctx context.Context, step Step, index int, mode Mode, snap Snapshot) (patch *Patch, err error) {
	name := stepName(step, index)
	requestID := uuid.NewString()
	stepCtx := services.WithRequestID(services.WithStep(ctx, name), requestID)
	logger := logging.WithContext(stepCtx, e.logger)

	event := StepEvent{Step: name, Index: index, Mode: mode, RequestID: requestID, StartedAt: e.now()}
	logger.Info("step started",
		logging.String(logging.FieldEventType, "step_start"),
		logging.Int("index", index),
		logging.String("mode", string(mode)),
	)
	for _, o := range e.observers {
		o.StepStarted(stepCtx, event)
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Debug("step panic stack", logging.String("stack", string(debug.Stack())))
			patch = nil
			err = &panicError{value: r}
		}
		event.Duration = e.now().Sub(event.StartedAt)
		if err != nil {
			if _, wrapped := err.(*StepError); !wrapped {
				err = &StepError{Step: name, Index: index, Err: err}
			}
			event.Err = err
			logging.ErrorWithContext(logger, "step failed", "step_failure",
				logging.Int("index", index),
				logging.Duration("duration", event.Duration),
				logging.String("error_kind", services.Kind(err)),
				logging.Error(err),
			)
		} else {
			event.PatchKeys = patch.Keys()
			logger.Info("step completed",
				logging.String(logging.FieldEventType, "step_complete"),
				logging.Int("index", index),
				logging.Duration("duration", event.Duration),
				logging.Int("keys", patch.Len()),
			)
		}
		for _, o := range e.observers {
			o.StepFinished(stepCtx, event)
		}
	}()

	if step == nil {
		return nil, fmt.Errorf("step %d is nil", index)
	}
	return step.Run(stepCtx, snap)
}

func stepName(step Step, index int) string {
	if step != nil {
		if name := step.Name(); name != "" {
			return name
		}
	}
	return fmt.Sprintf("step-%d", index)
}
