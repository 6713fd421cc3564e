package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"reelsmith/internal/pipeline"
)

func setStep(name, key string, value any) pipeline.Step {
	return pipeline.NewStep(name, func(context.Context, pipeline.Snapshot) (*pipeline.Patch, error) {
		return pipeline.NewPatch().Set(key, value), nil
	})
}

func failStep(name string, err error) pipeline.Step {
	return pipeline.NewStep(name, func(context.Context, pipeline.Snapshot) (*pipeline.Patch, error) {
		return pipeline.NewPatch().Set(name+".partial", true), err
	})
}

type recordingObserver struct {
	mu       sync.Mutex
	started  []string
	finished []pipeline.StepEvent
}

func (r *recordingObserver) StepStarted(_ context.Context, e pipeline.StepEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, e.Step)
}

func (r *recordingObserver) StepFinished(_ context.Context, e pipeline.StepEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = append(r.finished, e)
}

func TestRunSequentialLaterStepsSeeEarlierOutput(t *testing.T) {
	exec := pipeline.NewExecutor()
	steps := []pipeline.Step{
		setStep("script", "script.path", "/out/script.txt"),
		pipeline.NewStep("narration", func(_ context.Context, snap pipeline.Snapshot) (*pipeline.Patch, error) {
			script, ok := snap.String("script.path")
			if !ok {
				return nil, errors.New("script missing")
			}
			return pipeline.NewPatch().SetString("narration.source", script), nil
		}),
	}
	out, err := exec.RunSequential(context.Background(), steps, pipeline.NewContext(map[string]any{"job_id": "j1"}))
	if err != nil {
		t.Fatalf("RunSequential returned error: %v", err)
	}
	snap := out.Snapshot()
	if got := snap.StringOr("narration.source", ""); got != "/out/script.txt" {
		t.Fatalf("expected narration to observe script output, got %q", got)
	}
	if snap.Len() != 3 {
		t.Fatalf("expected 3 keys, got %v", snap.Keys())
	}
}

func TestRunSequentialStopsAtFailure(t *testing.T) {
	boom := errors.New("boom")
	for k := 0; k < 4; k++ {
		t.Run(fmt.Sprintf("fail_at_%d", k), func(t *testing.T) {
			var ran []int
			steps := make([]pipeline.Step, 4)
			for i := range steps {
				idx := i
				steps[i] = pipeline.NewStep(fmt.Sprintf("s%d", i), func(context.Context, pipeline.Snapshot) (*pipeline.Patch, error) {
					ran = append(ran, idx)
					patch := pipeline.NewPatch().SetInt(fmt.Sprintf("k%d", idx), int64(idx))
					if idx == k {
						return patch, boom
					}
					return patch, nil
				})
			}

			out, err := pipeline.NewExecutor().RunSequential(context.Background(), steps, pipeline.NewContext(map[string]any{"seed": true}))
			var stepErr *pipeline.StepError
			if !errors.As(err, &stepErr) {
				t.Fatalf("expected StepError, got %v", err)
			}
			if stepErr.Step != fmt.Sprintf("s%d", k) || stepErr.Index != k || !errors.Is(err, boom) {
				t.Fatalf("unexpected attribution: %+v", stepErr)
			}
			wantMsg := fmt.Sprintf("error in step `s%d` (index %d): boom", k, k)
			if err.Error() != wantMsg {
				t.Fatalf("expected %q, got %q", wantMsg, err.Error())
			}
			if len(ran) != k+1 {
				t.Fatalf("expected steps 0..%d to run, ran %v", k, ran)
			}

			want := map[string]any{"seed": true}
			for i := 0; i < k; i++ {
				want[fmt.Sprintf("k%d", i)] = int64(i)
			}
			if got := out.Snapshot().ToMap(); !reflect.DeepEqual(got, want) {
				t.Fatalf("context mismatch:\n got %v\nwant %v", got, want)
			}
		})
	}
}

func TestRunParallelSharesSnapshot(t *testing.T) {
	var seen atomic.Int32
	observe := func(name string) pipeline.Step {
		return pipeline.NewStep(name, func(_ context.Context, snap pipeline.Snapshot) (*pipeline.Patch, error) {
			if snap.Len() != 1 {
				t.Errorf("%s observed sibling output: %v", name, snap.Keys())
			}
			seen.Add(1)
			return pipeline.NewPatch().SetString(name+".path", "/out/"+name), nil
		})
	}
	steps := []pipeline.Step{observe("visuals"), observe("narration"), observe("music")}
	out, err := pipeline.NewExecutor().RunParallel(context.Background(), steps, pipeline.NewContext(map[string]any{"job_id": "j"}))
	if err != nil {
		t.Fatalf("RunParallel returned error: %v", err)
	}
	if seen.Load() != 3 || out.Len() != 4 {
		t.Fatalf("expected 3 runs and 4 keys, got runs=%d keys=%d", seen.Load(), out.Len())
	}
}

func TestRunParallelMergeIsIndependentOfCompletionOrder(t *testing.T) {
	build := func(delays []time.Duration) []pipeline.Step {
		steps := make([]pipeline.Step, len(delays))
		for i, d := range delays {
			idx, delay := i, d
			steps[i] = pipeline.NewStep(fmt.Sprintf("asset%d", idx), func(context.Context, pipeline.Snapshot) (*pipeline.Patch, error) {
				time.Sleep(delay)
				return pipeline.NewPatch().SetInt(fmt.Sprintf("asset%d.size", idx), int64(idx*10)), nil
			})
		}
		return steps
	}
	orders := [][]time.Duration{
		{0, 5 * time.Millisecond, 10 * time.Millisecond},
		{10 * time.Millisecond, 5 * time.Millisecond, 0},
		{5 * time.Millisecond, 0, 10 * time.Millisecond},
	}
	var first map[string]any
	for _, delays := range orders {
		out, err := pipeline.NewExecutor().RunParallel(context.Background(), build(delays), pipeline.NewContext(nil))
		if err != nil {
			t.Fatalf("RunParallel returned error: %v", err)
		}
		got := out.Snapshot().ToMap()
		if first == nil {
			first = got
			continue
		}
		if !reflect.DeepEqual(first, got) {
			t.Fatalf("merge depended on completion order:\n%v\n%v", first, got)
		}
	}
}

func TestRunParallelOverlappingKeysUseListOrder(t *testing.T) {
	steps := []pipeline.Step{
		pipeline.NewStep("slow", func(context.Context, pipeline.Snapshot) (*pipeline.Patch, error) {
			time.Sleep(10 * time.Millisecond)
			return pipeline.NewPatch().SetString("winner", "slow"), nil
		}),
		setStep("fast", "winner", "fast"),
	}
	out, err := pipeline.NewExecutor().RunParallel(context.Background(), steps, nil)
	if err != nil {
		t.Fatalf("RunParallel returned error: %v", err)
	}
	if got := out.Snapshot().StringOr("winner", ""); got != "fast" {
		t.Fatalf("expected later list entry to win, got %q", got)
	}
}

func TestRunParallelFailureWaitsForSiblings(t *testing.T) {
	var finished atomic.Int32
	slow := func(name string) pipeline.Step {
		return pipeline.NewStep(name, func(ctx context.Context, _ pipeline.Snapshot) (*pipeline.Patch, error) {
			time.Sleep(20 * time.Millisecond)
			if ctx.Err() != nil {
				t.Errorf("%s was cancelled", name)
			}
			finished.Add(1)
			return pipeline.NewPatch().SetBool(name+".done", true), nil
		})
	}
	steps := []pipeline.Step{
		slow("images"),
		failStep("tts", errors.New("rate limited")),
		slow("music"),
		failStep("captions", errors.New("bad input")),
	}
	pctx := pipeline.NewContext(map[string]any{"job_id": "j"})
	out, err := pipeline.NewExecutor().RunParallel(context.Background(), steps, pctx)
	if err == nil {
		t.Fatal("expected error")
	}
	if finished.Load() != 2 {
		t.Fatalf("expected both siblings to finish, got %d", finished.Load())
	}

	var group *pipeline.GroupError
	if !errors.As(err, &group) || len(group.Failures) != 2 {
		t.Fatalf("expected GroupError with 2 failures, got %v", err)
	}
	if group.First().Step != "tts" {
		t.Fatalf("expected first failure tts, got %s", group.First().Step)
	}
	stepErr, ok := pipeline.FailedStep(err)
	if !ok || stepErr.Step != "tts" || stepErr.Index != 1 {
		t.Fatalf("FailedStep = %+v, %v", stepErr, ok)
	}
	if out.Len() != 1 {
		t.Fatalf("expected no patches merged on failure, got %v", out.Snapshot().Keys())
	}
}

func TestPanickingStepIsReported(t *testing.T) {
	steps := []pipeline.Step{pipeline.NewStep("explode", func(context.Context, pipeline.Snapshot) (*pipeline.Patch, error) {
		panic("kaboom")
	})}
	_, err := pipeline.NewExecutor().RunSequential(context.Background(), steps, nil)
	stepErr, ok := pipeline.FailedStep(err)
	if !ok || stepErr.Step != "explode" {
		t.Fatalf("expected panic attributed to explode, got %v", err)
	}
}

func TestObserverReceivesEvents(t *testing.T) {
	obs := &recordingObserver{}
	exec := pipeline.NewExecutor(pipeline.WithObserver(obs))
	steps := []pipeline.Step{setStep("a", "a", 1), failStep("b", errors.New("nope"))}
	_, _ = exec.RunSequential(context.Background(), steps, nil)

	if !reflect.DeepEqual(obs.started, []string{"a", "b"}) {
		t.Fatalf("unexpected started events: %v", obs.started)
	}
	if len(obs.finished) != 2 {
		t.Fatalf("expected 2 finished events, got %d", len(obs.finished))
	}
	if obs.finished[0].Err != nil || !reflect.DeepEqual(obs.finished[0].PatchKeys, []string{"a"}) {
		t.Fatalf("unexpected success event: %+v", obs.finished[0])
	}
	if obs.finished[1].Err == nil || obs.finished[1].RequestID == "" {
		t.Fatalf("unexpected failure event: %+v", obs.finished[1])
	}
}

func TestEmptyStepListsAreNoops(t *testing.T) {
	exec := pipeline.NewExecutor()
	pctx := pipeline.NewContext(map[string]any{"k": "v"})
	if out, err := exec.RunSequential(context.Background(), nil, pctx); err != nil || out.Len() != 1 {
		t.Fatalf("sequential: %v %d", err, out.Len())
	}
	if out, err := exec.RunParallel(context.Background(), nil, pctx); err != nil || out.Len() != 1 {
		t.Fatalf("parallel: %v %d", err, out.Len())
	}
}
