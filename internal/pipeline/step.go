package pipeline

import "context"

// Step is one named unit of pipeline work. Run reads snap and returns the keys
// it produced. Failures are returned, never written into the patch.
type Step interface {
	Name() string
	Run(ctx context.Context, snap Snapshot) (*Patch, error)
}

// StepFunc adapts a function to the Run half of Step.
type StepFunc func(ctx context.Context, snap Snapshot) (*Patch, error)

type funcStep struct {
	name string
	fn   StepFunc
}

// NewStep wraps fn as a Step called name.
func NewStep(name string, fn StepFunc) Step {
	return funcStep{name: name, fn: fn}
}

func (s funcStep) Name() string { return s.name }

func (s funcStep) Run(ctx context.Context, snap Snapshot) (*Patch, error) {
	return s.fn(ctx, snap)
}
